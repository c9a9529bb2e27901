package connection

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// BaseURL adds an http scheme to bare host:port addresses.
func BaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

// Ping calls /healthz and returns the round-trip time.
func Ping(ctx context.Context, client *http.Client, addr string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BaseURL(addr)+"/healthz", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("healthz returned %s", resp.Status)
	}
	return time.Since(start), nil
}

// Sample is one value read from a metrics endpoint. Histograms and
// summaries yield a _count and a _sum sample per series.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// ScrapeMetrics reads /metrics and returns the samples of every family whose
// name starts with prefix, ordered by family name.
func ScrapeMetrics(ctx context.Context, client *http.Client, addr, prefix string) ([]Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, BaseURL(addr)+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics returned %s", resp.Status)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	names := make([]string, 0, len(families))
	for name := range families {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	var out []Sample
	for _, name := range names {
		out = append(out, familySamples(families[name])...)
	}
	return out, nil
}

func familySamples(mf *dto.MetricFamily) []Sample {
	name := mf.GetName()
	out := make([]Sample, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		labels := formatLabels(m.GetLabel())
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			out = append(out, Sample{Name: name, Labels: labels, Value: m.GetCounter().GetValue()})
		case dto.MetricType_GAUGE:
			out = append(out, Sample{Name: name, Labels: labels, Value: m.GetGauge().GetValue()})
		case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
			h := m.GetHistogram()
			out = append(out,
				Sample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
				Sample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()})
		case dto.MetricType_SUMMARY:
			s := m.GetSummary()
			out = append(out,
				Sample{Name: name + "_count", Labels: labels, Value: float64(s.GetSampleCount())},
				Sample{Name: name + "_sum", Labels: labels, Value: s.GetSampleSum()})
		default:
			out = append(out, Sample{Name: name, Labels: labels, Value: m.GetUntyped().GetValue()})
		}
	}
	return out
}

// formatLabels renders label pairs as name="value", comma separated.
func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, len(pairs))
	for i, lp := range pairs {
		parts[i] = fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
	}
	return strings.Join(parts, ",")
}
