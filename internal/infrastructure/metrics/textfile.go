// Package metrics writes cycle results in the Prometheus text exposition
// format for the node_exporter textfile collector.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"sourceMonitor/internal/core/domain"
)

const namespace = "source_monitor"

// TextfileWriter rewrites one .prom file after every cycle.
type TextfileWriter struct {
	path string
	mu   sync.Mutex
}

// NewTextfileWriter returns a writer for path, or nil when path is empty.
func NewTextfileWriter(path string) *TextfileWriter {
	if path == "" {
		return nil
	}
	return &TextfileWriter{path: path}
}

// ObserveCycle renders report and replaces the file atomically so the
// collector never reads a partial exposition.
func (w *TextfileWriter) ObserveCycle(report *domain.RunReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	for _, mf := range Families(report) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".source_monitor-*.prom")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close metrics: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod metrics: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return fmt.Errorf("replace metrics file: %w", err)
	}
	return nil
}

// Families converts a cycle report into metric families. Every check kind
// and status pair is emitted, zeros included, so series never disappear.
func Families(report *domain.RunReport) []*dto.MetricFamily {
	counts := make(map[domain.CheckKind]map[domain.Status]int, len(domain.CheckKinds))
	for _, o := range report.Outcomes {
		if counts[o.Kind] == nil {
			counts[o.Kind] = make(map[domain.Status]int)
		}
		counts[o.Kind][o.Status]++
	}

	checks := &dto.MetricFamily{
		Name: ptr(namespace + "_checks"),
		Help: ptr("Check outcomes of the last cycle by check kind and status."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, kind := range domain.CheckKinds {
		for _, status := range []domain.Status{domain.StatusOK, domain.StatusWarning, domain.StatusError} {
			checks.Metric = append(checks.Metric, &dto.Metric{
				Label: []*dto.LabelPair{
					{Name: ptr("check"), Value: ptr(string(kind))},
					{Name: ptr("status"), Value: ptr(string(status))},
				},
				Gauge: &dto.Gauge{Value: ptr(float64(counts[kind][status]))},
			})
		}
	}

	notified := 0.0
	if report.Notified {
		notified = 1
	}
	return []*dto.MetricFamily{
		checks,
		gauge("alerts_created", "Alerts created by the last cycle.", float64(len(report.Alerts))),
		gauge("cycle_duration_seconds", "Wall time of the last cycle.", report.Duration().Seconds()),
		gauge("last_run_timestamp_seconds", "Unix time the last cycle finished.", float64(report.FinishedAt.UnixNano())/1e9),
		gauge("notification_success", "1 if the last digest was delivered or nothing needed sending.", notified),
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(namespace + "_" + name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func ptr[T any](v T) *T { return &v }
