package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"genai_studio/generator"
	"genai_studio/identity"
)

type countingTokens struct {
	mu  sync.Mutex
	n   int
	err error
}

func (c *countingTokens) Token(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.n++
	return fmt.Sprintf("tok-%d", c.n), nil
}

type seen struct {
	mu   sync.Mutex
	reqs []*http.Request
	body []string
}

func (s *seen) record(r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(b))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, r)
	s.body = append(s.body, string(b))
}

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) (*Client, *seen) {
	t.Helper()
	s := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", Tokens: tokens})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, s
}

func TestGenerateSendsFreshTokenPerRequest(t *testing.T) {
	tokens := &countingTokens{}
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"answer":"# Title\n\nBody text.","analytics":{"word_count":2,"reading_time":1,"readability_score":70,"sentiment":"neutral"}}`)
	}, tokens)

	req := generator.Request{Topic: "AI in healthcare", Tone: "professional", ContentType: "blog post"}
	for i := 0; i < 2; i++ {
		res, err := c.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if res.Answer != "# Title\n\nBody text." || res.Analytics.WordCount != 2 || res.Topic != "AI in healthcare" {
			t.Fatalf("res = %+v", res)
		}
	}

	if got := s.reqs[0].Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("first auth = %q", got)
	}
	if got := s.reqs[1].Header.Get("Authorization"); got != "Bearer tok-2" {
		t.Fatalf("second auth = %q", got)
	}
	a, b := s.reqs[0].Header.Get("X-Correlation-ID"), s.reqs[1].Header.Get("X-Correlation-ID")
	if a == "" || a == b {
		t.Fatalf("correlation ids %q %q", a, b)
	}
	if s.reqs[0].Method != http.MethodPost || s.reqs[0].URL.Path != "/api/generate" {
		t.Fatalf("request %s %s", s.reqs[0].Method, s.reqs[0].URL.Path)
	}
	var sent map[string]string
	if err := json.Unmarshal([]byte(s.body[0]), &sent); err != nil {
		t.Fatalf("body: %v", err)
	}
	if sent["topic"] != "AI in healthcare" || sent["tone"] != "professional" || sent["content_type"] != "blog post" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestGenerateRequiresSignIn(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, &countingTokens{err: identity.ErrNotSignedIn})
	if _, err := c.Generate(context.Background(), generator.Request{Topic: "x"}); !errors.Is(err, identity.ErrNotSignedIn) {
		t.Fatalf("err = %v", err)
	}
	if len(s.reqs) != 0 {
		t.Fatalf("request sent without a user")
	}
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model overloaded"}`)
	}, &countingTokens{})

	_, err := c.Generate(context.Background(), generator.Request{Topic: "x"})
	var api *APIError
	if !errors.As(err, &api) || api.Status != 500 || api.Detail != "model overloaded" {
		t.Fatalf("err = %#v", err)
	}
	if got := UserMessage(err); got != "model overloaded" {
		t.Fatalf("UserMessage = %q", got)
	}
}

func TestAPIErrorWithoutDetail(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "<html>bad gateway</html>")
	}, &countingTokens{})
	_, err := c.Rewrite(context.Background(), generator.RewriteRequest{SelectedText: "a", Instruction: "b"})
	var api *APIError
	if !errors.As(err, &api) || api.Detail != "" {
		t.Fatalf("err = %#v", err)
	}
	if got := UserMessage(err); !strings.Contains(got, "502") {
		t.Fatalf("UserMessage = %q", got)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()
	c, err := New(Options{BaseURL: base, Tokens: &countingTokens{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Images(context.Background(), "x", 1)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(UserMessage(err), "Could not reach") {
		t.Fatalf("UserMessage = %q", UserMessage(err))
	}
}

func TestImagesPagesAndOptionalAuth(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"images":["http://img/`+r.URL.Query().Get("page")+`"]}`)
	}, &countingTokens{err: identity.ErrNotSignedIn})

	got, err := c.Images(context.Background(), "cats", 2)
	if err != nil {
		t.Fatalf("Images: %v", err)
	}
	if len(got) != 1 || got[0] != "http://img/2" {
		t.Fatalf("images = %v", got)
	}
	if s.reqs[0].Header.Get("Authorization") != "" {
		t.Fatalf("unexpected auth header")
	}
	if !strings.Contains(s.body[0], `"topic":"cats"`) {
		t.Fatalf("body = %s", s.body[0])
	}
}

func TestRewriteBody(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"updated_text":"Funnier body."}`)
	}, &countingTokens{})
	got, err := c.Rewrite(context.Background(), generator.RewriteRequest{SelectedText: "Body text.", Instruction: "make funnier"})
	if err != nil || got != "Funnier body." {
		t.Fatalf("Rewrite = %q, %v", got, err)
	}
	if s.reqs[0].URL.Path != "/api/regenerate" || !strings.Contains(s.body[0], `"selected_text":"Body text."`) {
		t.Fatalf("request %s body %s", s.reqs[0].URL.Path, s.body[0])
	}
}

func TestHistoryAndDelete(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `[{"id":"a1","topic":"Go","content_type":"blog post","answer":"# Go","created_at":"2026-10-01T10:00:00Z"}]`)
			return
		}
		io.WriteString(w, `{"status":"success"}`)
	}, &countingTokens{})

	items, err := c.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a1" || items[0].CreatedAt.Year() != 2026 {
		t.Fatalf("items = %+v", items)
	}
	if err := c.DeleteHistory(context.Background(), "a/1"); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	if got := s.reqs[1].URL.EscapedPath(); got != "/api/history/a%2F1" {
		t.Fatalf("path = %q", got)
	}
}

func TestUploadKnowledge(t *testing.T) {
	c, s := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		b, _ := io.ReadAll(file)
		fmt.Fprintf(w, `{"chunks_added":%d,"name":%q}`, len(b), header.Filename)
	}, &countingTokens{})

	n, err := c.UploadKnowledge(context.Background(), "/tmp/notes.md", strings.NewReader("hello"))
	if err != nil || n != 5 {
		t.Fatalf("UploadKnowledge = %d, %v", n, err)
	}
	if !strings.HasPrefix(s.reqs[0].Header.Get("Content-Type"), "multipart/form-data") {
		t.Fatalf("content type = %q", s.reqs[0].Header.Get("Content-Type"))
	}

	if _, err := c.UploadKnowledge(context.Background(), "photo.png", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("png err = %v", err)
	}
	big := strings.NewReader(strings.Repeat("a", MaxUploadSize+1))
	if _, err := c.UploadKnowledge(context.Background(), "big.txt", big); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("big err = %v", err)
	}
	if len(s.reqs) != 1 {
		t.Fatalf("rejected files reached the server: %d requests", len(s.reqs))
	}
}

func TestNewRejectsRelativeURL(t *testing.T) {
	if _, err := New(Options{BaseURL: "/api"}); err == nil {
		t.Fatalf("relative url accepted")
	}
}
