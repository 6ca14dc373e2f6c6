package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"genai_studio/identity"
)

// ErrUnsupportedFile is returned before upload for files the backend rejects.
var ErrUnsupportedFile = errors.New("unsupported file")

// APIError is a non-2xx answer. Detail is the server's message when it sent one.
type APIError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Status, http.StatusText(e.Status))
}

// TransportError means the backend could not be reached or its answer read.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// parseDetail reads a {"detail": ...} body. Detail may be a string or any
// JSON value, which is then returned compacted.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(payload.Detail) == "null" {
		return ""
	}
	return string(payload.Detail)
}

// UserMessage turns err into text fit for a banner: the server's detail
// verbatim when present, a generic line otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var api *APIError
	if errors.As(err, &api) {
		if api.Detail != "" {
			return api.Detail
		}
		return fmt.Sprintf("The server could not complete the request (%d).", api.Status)
	}
	var te *TransportError
	if errors.As(err, &te) {
		return "Could not reach the server. Check your connection and try again."
	}
	if errors.Is(err, identity.ErrNotSignedIn) {
		return "Please sign in first."
	}
	if errors.Is(err, ErrUnsupportedFile) {
		return "Only .pdf, .txt and .md files up to 10 MB can be uploaded."
	}
	return err.Error()
}
