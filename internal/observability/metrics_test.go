package observability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.KeyRotated()
	m.KeyRotated()
	m.AuthExchange(true)
	m.AuthExchange(false)
	m.AuthExchange(false)
	m.Download(true)
	m.Extracted(3, 1)
	m.ObjectReceived(512)

	if got := testutil.ToFloat64(m.keyRotations); got != 2 {
		t.Errorf("key rotations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.authExchanges.WithLabelValues(ResultFailure)); got != 2 {
		t.Errorf("failed exchanges = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.downloads.WithLabelValues(ResultSuccess)); got != 1 {
		t.Errorf("successful downloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.filesWritten); got != 3 {
		t.Errorf("files written = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.extractionBlocked); got != 1 {
		t.Errorf("blocked entries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.objectBytes); got != 512 {
		t.Errorf("object bytes = %v, want 512", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.KeyRotated()
	m.KeyFetchFailed()
	m.AuthExchange(true)
	m.Download(false)
	m.Extracted(1, 1)
	m.ObjectReceived(1)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("WriteTextfile on nil metrics: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Download(true)

	path := filepath.Join(t.TempDir(), "nexus.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `nexus_downloads_total{result="success"} 1`) {
		t.Fatalf("textfile missing download counter:\n%s", data)
	}
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	if ctx == nil || span == nil {
		t.Fatal("expected no-op span")
	}
	EndSpan(span, errors.New("boom"))
}
