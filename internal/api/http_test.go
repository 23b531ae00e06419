package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/mnemo/internal/classifier"
	"github.com/kalambet/mnemo/internal/pipeline"
	"github.com/kalambet/mnemo/internal/storage"
)

const testToken = "test-token"

// stubCategorizer returns a fixed classification.
type stubCategorizer struct {
	result classifier.Classification
	err    error
}

func (s *stubCategorizer) Classify(_ context.Context, _, _ string) (classifier.Classification, error) {
	return s.result, s.err
}

func newTestDeps(t *testing.T, stub *stubCategorizer) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Store:    store,
		Pipeline: pipeline.New(store, stub, t.TempDir()),
		Token:    testToken,
	}
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuth_RejectsBadToken(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuth_RejectsMissingHeader(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

// An unset token must not degrade into an open server.
func TestAuth_EmptyTokenFailsClosed(t *testing.T) {
	deps := newTestDeps(t, &stubCategorizer{})
	deps.Token = ""
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestRemember_EndToEnd(t *testing.T) {
	stub := &stubCategorizer{result: classifier.Classification{
		Filename: "relationships/michael.md",
		Category: "relationships",
		Title:    "Michael",
		Summary:  "Coffee preference",
		Tags:     []string{"coffee"},
		Section:  "Personal Details",
	}}
	deps := newTestDeps(t, stub)
	h := NewHandler(deps)

	rr := doRequest(t, h, http.MethodPost, "/remember", `{"text":"Michael prefers filtered coffee"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var result pipeline.RememberResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Filename != "relationships/michael.md" || !result.Created {
		t.Errorf("result = %+v", result)
	}

	// The record is now readable over the API.
	rr = doRequest(t, h, http.MethodGet, "/read?filename=relationships%2Fmichael.md", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("read status = %d", rr.Code)
	}
	var memory storage.Memory
	if err := json.NewDecoder(rr.Body).Decode(&memory); err != nil {
		t.Fatalf("decoding memory: %v", err)
	}
	if !strings.Contains(memory.Content, "filtered coffee") {
		t.Errorf("memory content = %q", memory.Content)
	}
}

func TestRemember_ClassifierDown(t *testing.T) {
	stub := &stubCategorizer{err: &classifier.UnavailableError{Err: context.DeadlineExceeded}}
	h := NewHandler(newTestDeps(t, stub))

	rr := doRequest(t, h, http.MethodPost, "/remember", `{"text":"anything"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestWrite_ReturnsDiffOnUpdate(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	body := `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"## Identity\n\nQuiet optimist."}`
	rr := doRequest(t, h, http.MethodPost, "/write", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("first write status = %d, body = %s", rr.Code, rr.Body.String())
	}

	body = `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"## Identity\n\nLoud optimist."}`
	rr = doRequest(t, h, http.MethodPost, "/write", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("second write status = %d", rr.Code)
	}

	var result pipeline.WriteResult
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.Created || result.Diff == "" {
		t.Errorf("result = %+v, want update with diff", result)
	}
}

func TestWrite_ValidationError(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	rr := doRequest(t, h, http.MethodPost, "/write", `{"filename":"core/persona.md","content":"body"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestExists_SectionProbe(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	body := `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"## Identity\n\nQuiet optimist."}`
	if rr := doRequest(t, h, http.MethodPost, "/write", body); rr.Code != http.StatusOK {
		t.Fatalf("write status = %d", rr.Code)
	}

	rr := doRequest(t, h, http.MethodGet, "/exists?filename=core%2Fpersona.md&section=identity", "")
	var result map[string]bool
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !result["exists"] || !result["section_exists"] {
		t.Errorf("result = %v", result)
	}

	rr = doRequest(t, h, http.MethodGet, "/exists?filename=missing.md", "")
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result["exists"] {
		t.Errorf("missing file reported as existing")
	}
}

func TestChanges_WildcardFilename(t *testing.T) {
	deps := newTestDeps(t, &stubCategorizer{})
	h := NewHandler(deps)

	for _, content := range []string{"first", "second"} {
		body := `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"` + content + `"}`
		if rr := doRequest(t, h, http.MethodPost, "/write", body); rr.Code != http.StatusOK {
			t.Fatalf("write status = %d", rr.Code)
		}
	}

	rr := doRequest(t, h, http.MethodGet, "/changes/core/persona.md", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var changes []storage.Change
	if err := json.NewDecoder(rr.Body).Decode(&changes); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(changes) != 1 {
		t.Errorf("changes = %d, want 1", len(changes))
	}
}

func TestDelete_Memory(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	body := `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"body"}`
	if rr := doRequest(t, h, http.MethodPost, "/write", body); rr.Code != http.StatusOK {
		t.Fatalf("write status = %d", rr.Code)
	}

	if rr := doRequest(t, h, http.MethodDelete, "/memory?filename=core%2Fpersona.md", ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodDelete, "/memory?filename=core%2Fpersona.md", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestStats(t *testing.T) {
	h := NewHandler(newTestDeps(t, &stubCategorizer{}))

	body := `{"filename":"core/persona.md","title":"Persona","date":"2026-05-20","categories":["core"],"content":"body"}`
	if rr := doRequest(t, h, http.MethodPost, "/write", body); rr.Code != http.StatusOK {
		t.Fatalf("write status = %d", rr.Code)
	}

	rr := doRequest(t, h, http.MethodGet, "/stats", "")
	var stats storage.Stats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
