package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"genai_studio/backend"
)

// Knowledge files are split the way the hosted knowledge base splits them.
const (
	chunkSize    = 1000
	chunkOverlap = 200
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, backend.MaxUploadSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is larger than 10 MB")
			return
		}
		writeError(w, http.StatusBadRequest, "A file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, e := range backend.UploadExtensions {
		allowed = allowed || e == ext
	}
	if !allowed {
		writeError(w, http.StatusBadRequest, "Unsupported file type. Use PDF, TXT or MD.")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, backend.MaxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read file")
		return
	}
	if len(data) > backend.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File is larger than 10 MB")
		return
	}

	text := string(data)
	if ext != ".pdf" && !utf8.Valid(data) {
		writeError(w, http.StatusBadRequest, "Text files must be UTF-8")
		return
	}
	if ext == ".pdf" {
		text = string(bytes.ToValidUTF8(data, nil))
	}
	chunks := splitChunks(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		writeError(w, http.StatusBadRequest, "File is empty or text could not be extracted.")
		return
	}
	s.log.Info("knowledge stored",
		zap.String("user_id", user.ID),
		zap.String("filename", header.Filename),
		zap.Int("chunks", len(chunks)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"filename":     header.Filename,
		"chunks_added": len(chunks),
	})
}

// splitChunks packs whitespace-separated words into chunks of at most size
// runes. Each chunk after the first repeats up to overlap runes of trailing
// words from the one before. A word longer than size is cut.
func splitChunks(text string, size, overlap int) []string {
	var words []string
	for _, w := range strings.Fields(text) {
		for utf8.RuneCountInString(w) > size {
			rs := []rune(w)
			words = append(words, string(rs[:size]))
			w = string(rs[size:])
		}
		words = append(words, w)
	}

	var chunks []string
	var cur []string
	curLen := 0
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		sep := 0
		if len(cur) > 0 {
			sep = 1
		}
		if curLen+sep+n > size && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curLen = tail(cur, overlap, size-n-1)
			if len(cur) > 0 {
				sep = 1
			} else {
				sep = 0
			}
		}
		cur = append(cur, w)
		curLen += sep + n
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, " "))
	}
	return chunks
}

// tail returns the longest suffix of words whose joined length stays within
// both overlap and room.
func tail(words []string, overlap, room int) ([]string, int) {
	limit := overlap
	if room < limit {
		limit = room
	}
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(words[i])
		if start < len(words) {
			n++
		}
		if total+n > limit {
			break
		}
		total += n
		start = i
	}
	return append([]string(nil), words[start:]...), total
}
