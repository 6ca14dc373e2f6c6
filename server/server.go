// Package server is a local stand-in for the content generation backend. It
// serves the same HTTP surface the client talks to, backed by any
// generator.Backend, so the studio can run end to end without the hosted
// service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"genai_studio/generator"
	"genai_studio/history"
	"genai_studio/logger"
)

// ImagesPerPage is how many placeholder URLs one images page carries.
const ImagesPerPage = 6

type Options struct {
	// Secret verifies bearer tokens. It must match the identity provider's.
	Secret string
	// Backend answers generate and regenerate calls. Defaults to the mock agent.
	Backend generator.Backend
	// Images pages through images. Defaults to deterministic placeholders.
	Images          generator.ImageSource
	RateLimit       int
	RateLimitWindow time.Duration
	CallTimeout     time.Duration
	Logger          *logger.Logger
}

type Server struct {
	secret  string
	backend generator.Backend
	images  generator.ImageSource
	store   *historyStore
	limit   int
	window  time.Duration
	timeout time.Duration
	log     *logger.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Secret == "" {
		return nil, errors.New("token secret required")
	}
	backend := opts.Backend
	if backend == nil {
		backend = generator.NewMockBackend()
	}
	images := opts.Images
	if images == nil {
		images = placeholderImages{}
	}
	limit, window := opts.RateLimit, opts.RateLimitWindow
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		secret:  opts.Secret,
		backend: backend,
		images:  images,
		store:   newStore(),
		limit:   limit,
		window:  window,
		timeout: timeout,
		log:     logger.OrNop(opts.Logger).Named("server"),
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(logMiddleware(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(rateLimit(s.limit, s.window))

		r.Post("/images", s.handleImages)
		r.Post("/regenerate", s.handleRegenerate)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/generate", s.handleGenerate)
			r.Get("/history", s.handleHistory)
			r.Delete("/history/{id}", s.handleHistoryDelete)
			r.Post("/knowledge/upload", s.handleUpload)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	var req generator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.backend.Generate(ctx, req)
	if err != nil {
		s.log.Warn("generate failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Generation failed: "+err.Error())
		return
	}
	if res.Topic == "" {
		res.Topic = req.Topic
	}
	if res.ContentType == "" {
		res.ContentType = req.ContentType
	}
	s.store.add(user.ID, history.Item{
		Topic:       res.Topic,
		ContentType: res.ContentType,
		Answer:      res.Answer,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}
	var body struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Topic) == "" {
		writeError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	urls, err := s.images.Images(ctx, body.Topic, page)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Image search failed: "+err.Error())
		return
	}
	if urls == nil {
		urls = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"images": urls})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req generator.RewriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SelectedText) == "" || strings.TrimSpace(req.Instruction) == "" {
		writeError(w, http.StatusBadRequest, "selected_text and instruction are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	text, err := s.backend.Rewrite(ctx, req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Regeneration failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"updated_text": text})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	writeJSON(w, http.StatusOK, s.store.list(user.ID, history.Limit))
}

func (s *Server) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	switch err := s.store.remove(user.ID, chi.URLParam(r, "id")); {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "History item not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "Not allowed to delete this item")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// placeholderImages returns stable picsum URLs so paging is reproducible.
type placeholderImages struct{}

func (placeholderImages) Images(_ context.Context, topic string, page int) ([]string, error) {
	seed := url.PathEscape(strings.Join(strings.Fields(strings.ToLower(topic)), "-"))
	urls := make([]string, 0, ImagesPerPage)
	for i := 0; i < ImagesPerPage; i++ {
		urls = append(urls, fmt.Sprintf("https://picsum.photos/seed/%s-%d-%d/800/600", seed, page, i))
	}
	return urls, nil
}
