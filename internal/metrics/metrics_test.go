package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pdf/documents/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/pdf/documents/17", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/pdf/documents/18", nil))

	body := scrape(t, m)
	want := `lexai_http_requests_total{method="DELETE",route="/api/pdf/documents/",status="404"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("missing %q in:\n%s", want, body)
	}
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.RateLimited()
	m.DocumentIngested(12)
	m.ObserveGeneration("answer", 2*time.Second, nil)
	m.ObserveGeneration("answer", time.Second, errors.New("timeout"))

	body := scrape(t, m)
	for _, want := range []string{
		"lexai_rate_limited_total 1",
		"lexai_documents_ingested_total 1",
		"lexai_chunks_indexed_total 12",
		`lexai_generation_duration_seconds_count{operation="answer",outcome="ok"} 1`,
		`lexai_generation_duration_seconds_count{operation="answer",outcome="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RateLimited()
	m.DocumentIngested(3)
	m.ObserveGeneration("argument", time.Second, nil)
	called := false
	m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("nil middleware must pass through")
	}
}
