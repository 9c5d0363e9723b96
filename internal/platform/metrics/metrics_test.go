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

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_observers(t *testing.T) {
	m := New()
	m.ObservePoll(nil)
	m.ObservePoll(errors.New("timeout"))
	m.ObserveArtifactLoad(nil)
	m.ObserveArtifactLoad(errors.New("502"))
	m.ObserveArtifactLoad(errors.New("502"))
	m.ObserveRender(2 * time.Millisecond)

	out := scrape(t, m, func() {
		m.SetActiveSessions(3)
		m.SetActiveSources(2)
	})
	for _, want := range []string{
		"overlay_job_status_polls_total 2",
		"overlay_job_status_poll_errors_total 1",
		`overlay_artifact_loads_total{result="ok"} 1`,
		`overlay_artifact_loads_total{result="error"} 2`,
		"overlay_renders_total 1",
		"overlay_render_duration_seconds_count 1",
		"overlay_active_sessions 3",
		"overlay_active_sources 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.(http.Flusher).Flush()
	}))

	for _, p := range []string{"/ok", "/missing", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	out := scrape(t, m, nil)
	if !strings.Contains(out, "overlay_requests_total 3") || !strings.Contains(out, "overlay_errors_total 1") {
		t.Errorf("unexpected counters:\n%s", out)
	}
}
