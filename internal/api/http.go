package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mnemo/internal/document"
	"github.com/kalambet/mnemo/internal/pipeline"
	"github.com/kalambet/mnemo/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Store    *storage.Store
	Pipeline *pipeline.Pipeline
	Token    string
}

// NewHandler returns the memory HTTP API. Every route except /health
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/remember", handleRemember(deps))
		r.Post("/write", handleWrite(deps))
		r.Get("/read", handleRead(deps))
		r.Get("/exists", handleExists(deps))
		r.Delete("/memory", handleDelete(deps))
		r.Get("/sections", handleSections(deps))
		r.Get("/changes/*", handleChanges(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/reindex", handleReindex(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// RememberRequest carries free text through the full assembly pipeline.
type RememberRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope,omitempty"`
}

func handleRemember(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RememberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		result, err := deps.Pipeline.Remember(r.Context(), req.Text, req.Scope)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		writeJSON(w, result)
	}
}

// WriteRequest is the direct-write variant: the caller supplies the full
// document instead of free text.
type WriteRequest struct {
	Filename   string   `json:"filename"`
	Title      string   `json:"title"`
	Date       string   `json:"date"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags,omitempty"`
	Author     string   `json:"author,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Content    string   `json:"content"`
}

func handleWrite(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req WriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		fm := document.Frontmatter{
			Title:      req.Title,
			Date:       req.Date,
			Categories: req.Categories,
			Tags:       req.Tags,
			Author:     req.Author,
			Summary:    req.Summary,
		}
		result, err := deps.Pipeline.Write(r.Context(), req.Filename, fm, req.Content)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		writeJSON(w, result)
	}
}

func handleRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		memory, err := deps.Store.GetMemory(filename)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read memory: %v", err)
			return
		}
		writeJSON(w, memory)
	}
}

func handleExists(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}
		section := r.URL.Query().Get("section")

		memory, err := deps.Store.GetMemory(filename)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, map[string]bool{"exists": false, "section_exists": false})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read memory: %v", err)
			return
		}

		sectionExists := false
		if section != "" {
			_, body, _ := document.Split(memory.Content)
			sectionExists = document.Parse(body).SectionExists(section)
		}
		writeJSON(w, map[string]bool{"exists": true, "section_exists": sectionExists})
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		err := deps.Store.DeleteMemory(filename)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete memory: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleSections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")

		sections, err := deps.Store.ListSections(scope)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sections: %v", err)
			return
		}
		if sections == nil {
			sections = []storage.Section{}
		}
		writeJSON(w, sections)
	}
}

func handleChanges(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "*")
		if filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		changes, err := deps.Store.ListChanges(filename, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list changes: %v", err)
			return
		}
		if changes == nil {
			changes = []storage.Change{}
		}
		writeJSON(w, changes)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get stats: %v", err)
			return
		}
		writeJSON(w, stats)
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Pipeline.Reindex(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reindex failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "reindexed"})
	}
}

// writePipelineError maps pipeline failures onto HTTP statuses: rejected
// requests are 400, classifier trouble is 502, storage trouble is 500.
func writePipelineError(w http.ResponseWriter, err error) {
	var validation *pipeline.ValidationError
	switch {
	case errors.As(err, &validation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validation.Reason)
	case errors.Is(err, pipeline.ErrClassification):
		httpError(w, http.StatusBadGateway, "classification_error", "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
