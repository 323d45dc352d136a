package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// --- Metrics ---

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("users", "200", "GET").Inc()
	m.RequestDuration.WithLabelValues("users").Observe(0.05)
	m.RetriesTotal.WithLabelValues("users").Inc()
	m.BackendHealthy.WithLabelValues("http://a:8080").Set(1)
	m.RingSize.WithLabelValues("users").Set(1024)
	m.RingMinHashesPerHost.WithLabelValues("users").Set(300)
	m.RingMaxHashesPerHost.WithLabelValues("users").Set(400)
	m.RingBuildsTotal.WithLabelValues("users").Inc()

	expected := `
# HELP keyroute_requests_total Total number of requests processed.
# TYPE keyroute_requests_total counter
keyroute_requests_total{method="GET",route="users",status="200"} 1
`
	if err := testutil.CollectAndCompare(m.RequestsTotal, strings.NewReader(expected)); err != nil {
		t.Fatalf("metrics mismatch: %v", err)
	}
}

func TestRingStatsWritesRouteGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	stats := m.RingStats("api")
	stats.Size.Set(6)
	stats.MinHashesPerHost.Set(3)
	stats.MaxHashesPerHost.Set(3)

	if got := testutil.ToFloat64(m.RingSize.WithLabelValues("api")); got != 6 {
		t.Fatalf("ring size gauge = %v, want 6", got)
	}
	if got := testutil.ToFloat64(m.RingMinHashesPerHost.WithLabelValues("api")); got != 3 {
		t.Fatalf("min hashes gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.RingMaxHashesPerHost.WithLabelValues("api")); got != 3 {
		t.Fatalf("max hashes gauge = %v, want 3", got)
	}
}

func TestMetricsHistogramObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestDuration.WithLabelValues("api").Observe(0.001)
	m.RequestDuration.WithLabelValues("api").Observe(0.05)
	m.RequestDuration.WithLabelValues("api").Observe(0.5)
	m.RequestDuration.WithLabelValues("api").Observe(2.0)

	var dm dto.Metric
	if err := m.RequestDuration.WithLabelValues("api").(prometheus.Metric).Write(&dm); err != nil {
		t.Fatal(err)
	}
	if got := dm.Histogram.GetSampleCount(); got != 4 {
		t.Fatalf("expected 4 observations, got %d", got)
	}
}

// --- Structured Logging ---

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("test message", "key", "value")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "test message" {
		t.Fatalf("expected msg 'test message', got %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Fatalf("expected key 'value', got %v", entry["key"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo, // unknown falls back to info
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	logger := slog.Default()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx); got != logger {
		t.Fatal("should retrieve same logger from context")
	}
}

func TestLoggerContextFallback(t *testing.T) {
	if got := LoggerFrom(context.Background()); got == nil {
		t.Fatal("should return default logger when none in context")
	}
}
