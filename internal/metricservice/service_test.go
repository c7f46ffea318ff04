package metricservice

import (
	"path/filepath"
	"testing"

	"github.com/memfault/bort/internal/configstore"
	"github.com/memfault/bort/internal/reporter"
	"github.com/memfault/bort/internal/storage"
)

type fakeBacking struct{ json string }

func (f *fakeBacking) GetConfig() (string, error)  { return f.json, nil }
func (f *fakeBacking) SetConfig(json string) error { f.json = json; return nil }

func newService(t *testing.T) (*Service, *storage.Repository) {
	t.Helper()
	repo, err := storage.NewRepository("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	cfg, err := configstore.Load(&fakeBacking{})
	if err != nil {
		t.Fatalf("configstore.Load() error = %v", err)
	}
	rp := reporter.New(repo)
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "metric_report.json")
	hdPath := filepath.Join(dir, "metric_report_hd.json")
	return New(repo, rp, cfg, reportPath, hdPath, nil), repo
}

func TestSimpleCounterReportScenario(t *testing.T) {
	svc, _ := newService(t)

	for _, ts := range []int64{100, 200, 300} {
		payload := []byte(`{"version":2,"timestampMs":` + itoa(ts) + `,"reportType":"heartbeat","eventName":"boot","aggregations":["SUM"],"dataType":"double","metricType":"counter","carryOver":false,"value":1}`)
		svc.AddValue(payload)
	}

	finish := []byte(`{"version":2,"timestampMs":400,"reportType":"heartbeat","startNextReport":false}`)
	report, err := svc.FinishReport(finish)
	if err != nil {
		t.Fatalf("FinishReport() error = %v", err)
	}
	if report == nil {
		t.Fatalf("expected a report")
	}
	if report.StartTimestampMs != 100 || report.EndTimestampMs != 400 {
		t.Errorf("window = [%d,%d], want [100,400]", report.StartTimestampMs, report.EndTimestampMs)
	}
	if len(report.Rollups) != 1 || report.Rollups[0].Name != "boot.sum" {
		t.Fatalf("rollups = %+v", report.Rollups)
	}
	if report.Rollups[0].Value.(float64) != 3 {
		t.Errorf("boot.sum = %v, want 3", report.Rollups[0].Value)
	}
}

func TestAddValueAcceptsArray(t *testing.T) {
	svc, repo := newService(t)

	payload := []byte(`[
		{"version":1,"timestampMs":10,"reportType":"r","eventName":"e1","aggregations":["SUM"],"value":1},
		{"version":1,"timestampMs":20,"reportType":"r","eventName":"e2","aggregations":["COUNT"],"value":"x"}
	]`)
	svc.AddValue(payload)

	count, err := repo.SampleCount("r")
	if err != nil {
		t.Fatalf("SampleCount() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestAddValueDropsMalformed(t *testing.T) {
	svc, repo := newService(t)
	svc.AddValue([]byte(`not json`))
	count, _ := repo.SampleCount("anything")
	if count != 0 {
		t.Fatalf("expected no samples stored for malformed input")
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
