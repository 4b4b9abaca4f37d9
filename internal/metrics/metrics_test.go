package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPromHandlerExposesRecordedSeries(t *testing.T) {
	p := NewProm("papercut")
	p.ObserveJob("completed", 12*time.Second)
	p.IncPollAttempt("pending")
	p.IncPollAttempt("error")
	p.IncPublication("proxy_fallback")
	p.ObserveRequest("POST", "/api/paper-cutting/generate", "200", 15*time.Second)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`papercut_jobs_total{state="completed"} 1`,
		`papercut_poll_attempts_total{outcome="error"} 1`,
		`papercut_publications_total{outcome="proxy_fallback"} 1`,
		`papercut_http_requests_total{method="POST",route="/api/paper-cutting/generate",status="200"} 1`,
		`papercut_job_duration_seconds_bucket{state="completed",le="20"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNewPromIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	_ = NewProm("a")
	_ = NewProm("a")
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.ObserveJob("failed", time.Second)
	r.IncPollAttempt("pending")
	r.IncPublication("published")
	r.ObserveRequest("GET", "/", "200", time.Millisecond)
}
