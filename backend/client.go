// Package backend is the HTTP client for the content generation service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"genai_studio/generator"
	"genai_studio/history"
	"genai_studio/logger"
	"genai_studio/metrics"
)

// MaxUploadSize is the largest knowledge file the backend accepts.
const MaxUploadSize = 10 << 20

// UploadExtensions lists the accepted knowledge file extensions.
var UploadExtensions = []string{".pdf", ".txt", ".md"}

// TokenSource hands out a fresh credential per call. identity.Session satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Tokens     TokenSource
	Logger     *logger.Logger
}

// Client talks to the backend. It never caches tokens.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	log     *logger.Logger
}

var (
	_ generator.Backend     = (*Client)(nil)
	_ generator.ImageSource = (*Client)(nil)
	_ history.Fetcher       = (*Client)(nil)
)

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base url %q must be absolute", opts.BaseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: base,
		client:  client,
		tokens:  opts.Tokens,
		log:     logger.OrNop(opts.Logger).Named("backend"),
	}, nil
}

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

type call struct {
	endpoint    string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	auth        authMode
}

// do sends c and decodes a 2xx JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	token := ""
	if cl.auth != authNone && c.tokens != nil {
		t, err := c.tokens.Token(ctx)
		switch {
		case err == nil:
			token = t
		case cl.auth == authRequired:
			return err
		}
	} else if cl.auth == authRequired {
		return fmt.Errorf("%s: no token source configured", cl.endpoint)
	}

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, cl.body)
	if err != nil {
		return err
	}
	correlationID := uuid.NewString()
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log := c.log.With(zap.String("endpoint", cl.endpoint), zap.String("correlation_id", correlationID))
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordBackendCall(cl.endpoint, 0, time.Since(start).Seconds())
		log.Debug("request failed", zap.Error(err))
		return &TransportError{Endpoint: cl.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.RecordBackendCall(cl.endpoint, resp.StatusCode, time.Since(start).Seconds())
	log.Debug("request done",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		return &TransportError{Endpoint: cl.endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Endpoint: cl.endpoint, Status: resp.StatusCode, Detail: parseDetail(body)}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Endpoint: cl.endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// Generate posts a generation request. Sign-in is required.
func (c *Client) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	body, err := jsonBody(req)
	if err != nil {
		return generator.Result{}, err
	}
	var res generator.Result
	err = c.do(ctx, call{
		endpoint:    "generate",
		method:      http.MethodPost,
		path:        "/api/generate",
		body:        body,
		contentType: "application/json",
		auth:        authRequired,
	}, &res)
	if err != nil {
		return generator.Result{}, err
	}
	if res.Topic == "" {
		res.Topic = req.Topic
	}
	if res.ContentType == "" {
		res.ContentType = req.ContentType
	}
	return res, nil
}

// Images returns one page of image URLs for topic.
func (c *Client) Images(ctx context.Context, topic string, page int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	body, err := jsonBody(map[string]string{"topic": topic})
	if err != nil {
		return nil, err
	}
	var res struct {
		Images []string `json:"images"`
	}
	err = c.do(ctx, call{
		endpoint:    "images",
		method:      http.MethodPost,
		path:        "/api/images",
		query:       url.Values{"page": {strconv.Itoa(page)}},
		body:        body,
		contentType: "application/json",
		auth:        authOptional,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Images, nil
}

// Rewrite posts a regenerate request and returns the updated text.
func (c *Client) Rewrite(ctx context.Context, req generator.RewriteRequest) (string, error) {
	body, err := jsonBody(req)
	if err != nil {
		return "", err
	}
	var res struct {
		UpdatedText string `json:"updated_text"`
	}
	err = c.do(ctx, call{
		endpoint:    "regenerate",
		method:      http.MethodPost,
		path:        "/api/regenerate",
		body:        body,
		contentType: "application/json",
		auth:        authOptional,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.UpdatedText, nil
}

// History lists the signed-in user's past generations, newest first.
func (c *Client) History(ctx context.Context) ([]history.Item, error) {
	var items []history.Item
	err := c.do(ctx, call{
		endpoint: "history",
		method:   http.MethodGet,
		path:     "/api/history",
		auth:     authRequired,
	}, &items)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []history.Item{}
	}
	return items, nil
}

// DeleteHistory deletes one past generation.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("history id is required")
	}
	return c.do(ctx, call{
		endpoint: "history_delete",
		method:   http.MethodDelete,
		path:     "/api/history/" + url.PathEscape(id),
		auth:     authRequired,
	}, nil)
}

// UploadKnowledge sends a file for the knowledge base and returns the number
// of chunks the backend stored.
func (c *Client) UploadKnowledge(ctx context.Context, filename string, r io.Reader) (int, error) {
	if !allowedUpload(filename) {
		return 0, fmt.Errorf("%w: %s (allowed: %s)", ErrUnsupportedFile, filepath.Base(filename), strings.Join(UploadExtensions, ", "))
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return 0, err
	}
	if len(data) > MaxUploadSize {
		return 0, fmt.Errorf("%w: %s is larger than 10 MB", ErrUnsupportedFile, filepath.Base(filename))
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	var res struct {
		ChunksAdded int `json:"chunks_added"`
	}
	err = c.do(ctx, call{
		endpoint:    "knowledge_upload",
		method:      http.MethodPost,
		path:        "/api/knowledge/upload",
		body:        &body,
		contentType: writer.FormDataContentType(),
		auth:        authRequired,
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.ChunksAdded, nil
}

func allowedUpload(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range UploadExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
