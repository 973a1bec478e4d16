// Package observability exposes Prometheus counters and OpenTelemetry spans
// for the delivery pipeline.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexus"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the pipeline counters. A nil *Metrics is valid and records
// nothing, so components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	keyRotations      prometheus.Counter
	keyFetchFailures  prometheus.Counter
	authExchanges     *prometheus.CounterVec
	downloads         *prometheus.CounterVec
	extractionBlocked prometheus.Counter
	filesWritten      prometheus.Counter
	objectBytes       prometheus.Counter
}

// NewMetrics registers all counters on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		keyRotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Number of envelope keys installed from the registry",
		}),
		keyFetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_fetch_failures_total",
			Help:      "Number of failed envelope key fetches",
		}),
		authExchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_exchanges_total",
			Help:      "Authorization code exchanges by result",
		}, []string{"result"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Component downloads by result",
		}, []string{"result"}),
		extractionBlocked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_blocked_total",
			Help:      "Archive entries skipped because they escape the destination",
		}),
		filesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_files_total",
			Help:      "Files written while extracting component archives",
		}),
		objectBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_bytes_total",
			Help:      "Bytes received from signed object URLs",
		}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) KeyRotated() {
	if m != nil {
		m.keyRotations.Inc()
	}
}

func (m *Metrics) KeyFetchFailed() {
	if m != nil {
		m.keyFetchFailures.Inc()
	}
}

func (m *Metrics) AuthExchange(ok bool) {
	if m != nil {
		m.authExchanges.WithLabelValues(result(ok)).Inc()
	}
}

func (m *Metrics) Download(ok bool) {
	if m != nil {
		m.downloads.WithLabelValues(result(ok)).Inc()
	}
}

// Extracted records one archive extraction.
func (m *Metrics) Extracted(written, blocked int) {
	if m == nil {
		return
	}
	m.filesWritten.Add(float64(written))
	m.extractionBlocked.Add(float64(blocked))
}

func (m *Metrics) ObjectReceived(n int) {
	if m != nil {
		m.objectBytes.Add(float64(n))
	}
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
