package config

import "testing"

func TestLoadMainboardDefaults(t *testing.T) {
	cfg, err := Load("testdata/mainboard.ini")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	vMax, err := cfg.Float64("voltage", "v_max_mv")
	if err != nil {
		t.Fatalf("v_max_mv: %v", err)
	}
	if vMax != 4200 {
		t.Fatalf("expected 4200, got %v", vMax)
	}
	resolution := cfg.MustInt("timebase", "resolution_ms", 5)
	if resolution != 1 {
		t.Fatalf("expected 1, got %d", resolution)
	}
	missing := cfg.MustFloat64("voltage", "does_not_exist", 42)
	if missing != 42 {
		t.Fatalf("expected fallback 42, got %v", missing)
	}
}
