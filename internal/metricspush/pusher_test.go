package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/roteiro/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSource = Source{Service: "roteiro", Environment: "staging", Instance: "node-3"}

func TestNewPusherDisabledWhenMisconfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MetricsPushConfig
	}{
		{"no exporter", config.MetricsPushConfig{}},
		{"no endpoint", config.MetricsPushConfig{Exporter: ExporterRemoteWrite}},
		{"bad endpoint", config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "not a url"}},
		{"unknown exporter", config.MetricsPushConfig{Exporter: "statsd", Endpoint: "udp://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, NewPusher(config.Config{MetricsPush: tt.cfg}, zap.NewNop()))
		})
	}

	_, err := newPusher(config.MetricsPushConfig{Exporter: "statsd", Endpoint: "udp://x"}, testSource)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestSourceFromConfig(t *testing.T) {
	source := SourceFromConfig(config.Config{AppName: "roteiro", Environment: "production", SnowflakeNodeID: 12})

	assert.Equal(t, map[string]string{
		"job":         "roteiro_ledger_snapshot",
		"instance":    "node-12",
		"environment": "production",
	}, source.labels("ledger_snapshot"))
}

func newRemoteWrite(t *testing.T, endpoint, token string) *RemoteWritePusher {
	t.Helper()
	pusher, err := newPusher(config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: endpoint, AuthToken: token}, testSource)
	require.NoError(t, err)
	rw := pusher.(*RemoteWritePusher)
	rw.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return rw
}

func TestRemoteWriteLabelsLedgerSeries(t *testing.T) {
	var got prompb.WriteRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(decoded))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "roteiro_commissions_pending"}, []string{"instance"})
	pending.WithLabelValues("stale").Set(4)
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "roteiro_job_duration_seconds"})
	duration.Observe(1.5)
	registry.MustRegister(pending, duration)

	require.NoError(t, newRemoteWrite(t, srv.URL, "secret").Push(context.Background(), "ledger_snapshot", registry))

	assert.Equal(t, "Bearer secret", auth)
	byName := map[string]prompb.TimeSeries{}
	for _, series := range got.Timeseries {
		for _, label := range series.Labels {
			if label.Name == "__name__" {
				byName[label.Value] = series
			}
		}
	}
	require.Len(t, byName, 3)

	gauge := byName["roteiro_commissions_pending"]
	var labels []string
	for _, label := range gauge.Labels {
		labels = append(labels, label.Name+"="+label.Value)
	}
	assert.Equal(t, []string{
		"__name__=roteiro_commissions_pending",
		"environment=staging",
		"instance=node-3",
		"job=roteiro_ledger_snapshot",
	}, labels)
	require.Len(t, gauge.Samples, 1)
	assert.Equal(t, 4.0, gauge.Samples[0].Value)
	assert.Equal(t, int64(1700000000000), gauge.Samples[0].Timestamp)

	assert.Equal(t, 1.5, byName["roteiro_job_duration_seconds_sum"].Samples[0].Value)
	assert.Equal(t, 1.0, byName["roteiro_job_duration_seconds_count"].Samples[0].Value)
}

func TestRemoteWriteReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "roteiro_test_total"})
	counter.Inc()
	registry.MustRegister(counter)

	err := newRemoteWrite(t, srv.URL, "").Push(context.Background(), "reconcile_commissions", registry)
	assert.ErrorContains(t, err, "reconcile_commissions")
}

func TestPushgatewayGroupsByInstance(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "roteiro_unreconciled_transactions"})
	registry.MustRegister(gauge)

	pusher, err := newPusher(config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: srv.URL}, testSource)
	require.NoError(t, err)
	require.NoError(t, pusher.Push(context.Background(), "ledger_snapshot", registry))

	assert.True(t, strings.HasPrefix(path, "/metrics/job/roteiro_ledger_snapshot/"), path)
	assert.Contains(t, path, "/instance/node-3")
	assert.Contains(t, path, "/environment/staging")
}
