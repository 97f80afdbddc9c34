package observability_test

import (
	"OptionEscrow/internal/observability"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestReadiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after ready: got %d, want 200", rec.Code)
	}

	h.AddCheck("postgres", func() error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing check: got %d, want 503", rec.Code)
	}

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Checks["postgres"] != "connection refused" {
		t.Errorf("checks: got %v", body.Checks)
	}
}

func TestLiveness(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	// two registries must not collide
	m1 := observability.NewMetrics(prometheus.NewRegistry())
	m2 := observability.NewMetrics(prometheus.NewRegistry())

	m1.OpsApplied.WithLabelValues("settle").Inc()
	if got := testutil.ToFloat64(m1.OpsApplied.WithLabelValues("settle")); got != 1 {
		t.Errorf("m1: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m2.OpsApplied.WithLabelValues("settle")); got != 0 {
		t.Errorf("m2: got %v, want 0", got)
	}

	m1.SetChannelMetrics("persist", 5, 10)
	if got := testutil.ToFloat64(m1.ChannelUtilization.WithLabelValues("persist")); got != 0.5 {
		t.Errorf("utilization: got %v, want 0.5", got)
	}
}

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "registry", zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Uint64("trade_id", 3).Msg("settled")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "registry" || line["message"] != "settled" {
		t.Errorf("got %v", line)
	}
}

func TestParseLogLevel(t *testing.T) {
	if observability.ParseLogLevel("warn") != zerolog.WarnLevel {
		t.Error("warn")
	}
	if observability.ParseLogLevel("bogus") != zerolog.InfoLevel {
		t.Error("fallback should be info")
	}
}
