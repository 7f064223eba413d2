package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vaultwarden_backup"

// Metrics exposes the outcome of a run in the node_exporter textfile format
type Metrics struct {
	registry *prometheus.Registry

	success       prometheus.Gauge
	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
	duration      prometheus.Gauge
	artifactSize  prometheus.Gauge
	filesStaged   prometheus.Gauge
	filesSkipped  prometheus.Gauge
	bytesStaged   prometheus.Gauge
	stageDuration *prometheus.GaugeVec
	stageFailed   *prometheus.GaugeVec
}

// NewMetrics creates the gauges on a private registry
func NewMetrics() *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:     prometheus.NewRegistry(),
		success:      gauge("success", "1 if the last run produced an artifact, 0 otherwise."),
		lastRun:      gauge("last_run_timestamp_seconds", "Start time of the last run."),
		lastSuccess:  gauge("last_success_timestamp_seconds", "Finish time of the last successful run."),
		duration:     gauge("duration_seconds", "Wall time of the last run."),
		artifactSize: gauge("artifact_size_bytes", "Size of the last artifact."),
		filesStaged:  gauge("files_staged", "Files copied into the workspace by the last run."),
		filesSkipped: gauge("files_skipped", "Files skipped by exclusions or type in the last run."),
		bytesStaged:  gauge("staged_bytes", "Bytes copied into the workspace by the last run."),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each stage in the last run.",
		}, []string{"stage"}),
		stageFailed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stage_failed",
			Help:      "1 for the stage that aborted the last run.",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.success, m.lastRun, m.lastSuccess, m.duration, m.artifactSize,
		m.filesStaged, m.filesSkipped, m.bytesStaged, m.stageDuration, m.stageFailed,
	)
	return m
}

// Registry returns the registry holding the run gauges
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records a finished run
func (m *Metrics) Observe(report *Report) {
	if report == nil {
		return
	}

	m.lastRun.Set(float64(report.StartedAt.Unix()))
	m.duration.Set(report.FinishedAt.Sub(report.StartedAt).Seconds())
	m.filesStaged.Set(float64(report.FilesStaged))
	m.filesSkipped.Set(float64(report.FilesSkipped))
	m.bytesStaged.Set(float64(report.BytesStaged))
	m.artifactSize.Set(float64(report.ArtifactSize))

	for _, s := range report.Stages {
		m.stageDuration.WithLabelValues(s.Name).Set(s.Duration.Seconds())
	}

	if report.FailedStage != "" {
		m.success.Set(0)
		m.stageFailed.WithLabelValues(report.FailedStage).Set(1)
		return
	}
	m.success.Set(1)
	m.lastSuccess.Set(float64(report.FinishedAt.Unix()))
}

// WriteTextfile writes the gauges for the node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
