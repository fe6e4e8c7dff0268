package metricspush

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/roteiro/internal/config"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/protoadapt"
)

const (
	ExporterRemoteWrite = "prometheus_remote_write"
	ExporterPushgateway = "prometheus_pushgateway"

	pushTimeout = 5 * time.Second
)

var (
	ErrMissingEndpoint = errors.New("metrics_push_endpoint_required")
	ErrInvalidEndpoint = errors.New("metrics_push_endpoint_invalid")
	ErrUnknownExporter = errors.New("metrics_push_exporter_unknown")
)

// Pusher ships the gauges of one scheduler job to an external collector.
type Pusher interface {
	Push(ctx context.Context, job string, registry *prometheus.Registry) error
}

// Source identifies the roteiro instance every pushed series comes from.
// Instance is the snowflake node, which is unique per running process.
type Source struct {
	Service     string
	Environment string
	Instance    string
}

func SourceFromConfig(cfg config.Config) Source {
	return Source{
		Service:     strings.TrimSpace(cfg.AppName),
		Environment: strings.TrimSpace(cfg.Environment),
		Instance:    "node-" + strconv.FormatInt(cfg.SnowflakeNodeID, 10),
	}
}

func (s Source) labels(job string) map[string]string {
	out := map[string]string{"job": s.Service + "_" + job}
	if s.Instance != "" {
		out["instance"] = s.Instance
	}
	if s.Environment != "" {
		out["environment"] = s.Environment
	}
	return out
}

// NewPusher returns nil when pushing is off. A bad exporter setup only
// disables pushing; the gauges stay on /metrics.
func NewPusher(cfg config.Config, logger *zap.Logger) Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pusher, err := newPusher(cfg.MetricsPush, SourceFromConfig(cfg))
	if err != nil {
		logger.Named("metrics.push").Warn("ledger metrics push disabled",
			zap.String("exporter", cfg.MetricsPush.Exporter),
			zap.Error(err),
		)
		return nil
	}
	return pusher
}

func newPusher(cfg config.MetricsPushConfig, source Source) (Pusher, error) {
	if cfg.Exporter == "" {
		return nil, nil
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch cfg.Exporter {
	case ExporterRemoteWrite:
		return &RemoteWritePusher{
			endpoint:  cfg.Endpoint,
			authToken: strings.TrimSpace(cfg.AuthToken),
			source:    source,
			client:    &http.Client{Timeout: pushTimeout},
			now:       time.Now,
		}, nil
	case ExporterPushgateway:
		return &PushgatewayPusher{endpoint: cfg.Endpoint, source: source}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
}

// RemoteWritePusher sends one snappy-compressed prompb.WriteRequest per push.
type RemoteWritePusher struct {
	endpoint  string
	authToken string
	source    Source
	client    *http.Client
	now       func() time.Time
}

func (p *RemoteWritePusher) Push(ctx context.Context, job string, registry *prometheus.Registry) error {
	if registry == nil {
		return nil
	}
	families, err := registry.Gather()
	if err != nil {
		return err
	}
	series := toTimeSeries(families, p.source.labels(job), p.now().UnixMilli())
	if len(series) == 0 {
		return nil
	}

	payload, err := proto.Marshal(protoadapt.MessageV2Of(&prompb.WriteRequest{Timeseries: series}))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(snappy.Encode(nil, payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write rejected %d series for %s: %s", len(series), job, resp.Status)
	}
	return nil
}

// PushgatewayPusher replaces the job group on every push, so a gauge that
// drops to zero is not left stale at its previous value.
type PushgatewayPusher struct {
	endpoint string
	source   Source
}

func (p *PushgatewayPusher) Push(ctx context.Context, job string, registry *prometheus.Registry) error {
	if registry == nil {
		return nil
	}
	labels := p.source.labels(job)
	pusher := push.New(p.endpoint, labels["job"]).Gatherer(registry)
	for _, key := range []string{"instance", "environment"} {
		if value := labels[key]; value != "" {
			pusher = pusher.Grouping(key, value)
		}
	}
	return pusher.PushContext(ctx)
}

// toTimeSeries flattens counters and gauges into one series each and
// histograms into their _sum and _count series. Source labels win over
// metric labels of the same name.
func toTimeSeries(families []*dto.MetricFamily, source map[string]string, timestampMs int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, s := range samples(family, metric) {
				out = append(out, prompb.TimeSeries{
					Labels:  seriesLabels(s.name, metric.GetLabel(), source),
					Samples: []prompb.Sample{{Value: s.value, Timestamp: timestampMs}},
				})
			}
		}
	}
	return out
}

type sample struct {
	name  string
	value float64
}

func samples(family *dto.MetricFamily, metric *dto.Metric) []sample {
	name := family.GetName()
	switch family.GetType() {
	case dto.MetricType_COUNTER:
		if c := metric.GetCounter(); c != nil {
			return []sample{{name, c.GetValue()}}
		}
	case dto.MetricType_GAUGE:
		if g := metric.GetGauge(); g != nil {
			return []sample{{name, g.GetValue()}}
		}
	case dto.MetricType_HISTOGRAM:
		if h := metric.GetHistogram(); h != nil {
			return []sample{
				{name + "_sum", h.GetSampleSum()},
				{name + "_count", float64(h.GetSampleCount())},
			}
		}
	}
	return nil
}

func seriesLabels(name string, pairs []*dto.LabelPair, source map[string]string) []prompb.Label {
	merged := make(map[string]string, len(pairs)+len(source)+1)
	for _, pair := range pairs {
		merged[pair.GetName()] = pair.GetValue()
	}
	for key, value := range source {
		merged[key] = value
	}
	merged["__name__"] = name

	labels := make([]prompb.Label, 0, len(merged))
	for key, value := range merged {
		labels = append(labels, prompb.Label{Name: key, Value: value})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}
