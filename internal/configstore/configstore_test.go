package configstore

import "testing"

type fakeBacking struct {
	json string
}

func (f *fakeBacking) GetConfig() (string, error) { return f.json, nil }
func (f *fakeBacking) SetConfig(json string) error {
	f.json = json
	return nil
}

func TestLoadEmptyYieldsDefaults(t *testing.T) {
	s, err := Load(&fakeBacking{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := s.Get()
	if cfg.Capacity != DefaultCapacity || cfg.PeriodMs != DefaultPeriodMs {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestMalformedDocumentYieldsDefaults(t *testing.T) {
	s, err := Load(&fakeBacking{json: "{not json"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := s.Get()
	if cfg != defaults() {
		t.Fatalf("expected defaults for malformed doc, got %+v", cfg)
	}
}

func TestUpdateReparsesAndPersists(t *testing.T) {
	backing := &fakeBacking{}
	s, err := Load(backing)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	doc := `{"structured_log":{"rate_limiting_settings":{"default_capacity":50,"default_period_ms":10},"dump_period_ms":1000,"metric_report_enabled":true,"high_res_metrics_enabled":true}}`
	if err := s.Update(doc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	cfg := s.Get()
	if cfg.Capacity != 50 {
		t.Errorf("Capacity = %d, want 50", cfg.Capacity)
	}
	if cfg.PeriodMs != 10 {
		t.Errorf("PeriodMs = %d, want 10", cfg.PeriodMs)
	}
	if !cfg.HighResMetricsEnabled {
		t.Errorf("expected HighResMetricsEnabled = true")
	}
	if backing.json != doc {
		t.Errorf("backing not persisted: %s", backing.json)
	}
}

func TestUpdateOmittedBooleansPreserveDefaults(t *testing.T) {
	backing := &fakeBacking{}
	s, err := Load(backing)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	doc := `{"structured_log":{"rate_limiting_settings":{"default_capacity":50,"default_period_ms":10}}}`
	if err := s.Update(doc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	cfg := s.Get()
	if cfg.MetricReportEnabled != DefaultMetricReportEnabled {
		t.Errorf("MetricReportEnabled = %v, want default %v", cfg.MetricReportEnabled, DefaultMetricReportEnabled)
	}
	if cfg.HighResMetricsEnabled != DefaultHighResMetricsEnabled {
		t.Errorf("HighResMetricsEnabled = %v, want default %v", cfg.HighResMetricsEnabled, DefaultHighResMetricsEnabled)
	}
}
