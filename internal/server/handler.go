package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nekokan/musicwa/internal/document"
	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// maxBodyBytes bounds the size of a save request.
const maxBodyBytes = 8 << 20

// SaveRequest is the body of POST /api/save.
type SaveRequest struct {
	ID                  document.ID          `json:"id"`
	Content             json.RawMessage      `json:"content"`
	ExpectedFingerprint document.Fingerprint `json:"expectedFingerprint"`
}

// SaveResponse is the body of a successful save.
type SaveResponse struct {
	NewFingerprint document.Fingerprint `json:"newFingerprint"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch document.Code(err) {
	case document.CodeNotFound:
		return http.StatusNotFound
	case document.CodePathUnsafe, document.CodeInvalidDocument, document.CodeInvalidRequest:
		return http.StatusBadRequest
	case document.CodeConflict, document.CodeAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ETag formats a fingerprint as an HTTP entity tag.
func ETag(fp document.Fingerprint) string {
	return strconv.Quote(string(fp))
}

// ParseETag extracts the fingerprint from an entity tag.
func ParseETag(tag string) document.Fingerprint {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	if s, err := strconv.Unquote(tag); err == nil {
		return document.Fingerprint(s)
	}
	return document.Fingerprint(tag)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: encode response: %v", document.ErrIO, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		s.config.Logger.Printf("Error: %v", err)
	}
	data, _ := json.Marshal(ErrorResponse{Error: err.Error(), Code: document.Code(err)})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listing, err := s.api.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleListWithLabels(w http.ResponseWriter, r *http.Request) {
	listing, err := s.api.ListWithLabels(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := document.ID(r.PathValue("id"))
	rec, err := s.api.GetDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := jsonvalue.Pretty(rec.Content)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", document.ErrInvalidDocument, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", ETag(rec.Fingerprint))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := document.ID(r.PathValue("id"))
	expected := ParseETag(r.Header.Get("If-Match"))
	if err := s.api.DeleteDocument(r.Context(), id, expected); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: read body: %v", document.ErrInvalidRequest, err))
		return
	}

	var req SaveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed save request: %v", document.ErrInvalidRequest, err))
		return
	}
	if req.ID == "" {
		s.writeError(w, fmt.Errorf("%w: missing id", document.ErrInvalidRequest))
		return
	}
	if len(req.Content) == 0 {
		s.writeError(w, fmt.Errorf("%w: missing content", document.ErrInvalidRequest))
		return
	}

	fp, err := s.api.SaveRaw(r.Context(), req.ID, req.Content, req.ExpectedFingerprint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", ETag(fp))
	s.writeJSON(w, http.StatusOK, SaveResponse{NewFingerprint: fp})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: bad limit %q", document.ErrInvalidRequest, raw))
			return
		}
		limit = n
	}

	hits, err := s.api.Search(r.Context(), q, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status := map[string]any{
		"status":  "ok",
		"clients": s.hub.count(),
	}
	if !started.IsZero() {
		status["uptime"] = time.Since(started).Round(time.Second).String()
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>musicwa</title>
</head>
<body>
    <h1>musicwa document server</h1>
    <p>Listing: <a href="/api/list">/api/list</a></p>
    <p>Change feed: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}
