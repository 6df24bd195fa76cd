package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeStrategies(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderSortsByPriority(t *testing.T) {
	path := writeStrategies(t, `
strategies:
  second:
    enabled: true
    class_name: donchian_channel
    strategy_type: range
    priority: 20
    weight: 0.4
  first:
    enabled: true
    class_name: atr_exhaustion
    strategy_type: range
    priority: 10
    weight: 0.6
`)
	loader := NewLoader(zap.NewNop(), testStore(), path)
	loaded, err := loader.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d strategies, want 2", len(loaded))
	}
	if loaded[0].ID != "first" || loaded[1].ID != "second" {
		t.Errorf("order = %s,%s; want first,second", loaded[0].ID, loaded[1].ID)
	}
	if loaded[0].Strategy.Name() != "atr_exhaustion" {
		t.Errorf("instance = %s, want atr_exhaustion", loaded[0].Strategy.Name())
	}
}

func TestLoaderSkipsDisabled(t *testing.T) {
	path := writeStrategies(t, `
strategies:
  on:
    enabled: true
    class_name: bb_reversal
    strategy_type: range
    priority: 1
    weight: 1.0
  off:
    enabled: false
    class_name: adx_trend
    strategy_type: trend
    priority: 2
    weight: 0.5
`)
	loaded, err := NewLoader(zap.NewNop(), testStore(), path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0].ID != "on" {
		t.Errorf("loaded = %v, want only the enabled entry", loaded)
	}
}

func TestLoaderRejectsUnregisteredClass(t *testing.T) {
	path := writeStrategies(t, `
strategies:
  ghost:
    enabled: true
    class_name: does_not_exist
    strategy_type: range
    priority: 1
    weight: 1.0
`)
	if _, err := NewLoader(zap.NewNop(), testStore(), path).Load(); err == nil {
		t.Error("unregistered class should fail the load")
	}
}

func TestLoaderRejectsMissingFields(t *testing.T) {
	path := writeStrategies(t, `
strategies:
  broken:
    enabled: true
    priority: 1
    weight: 1.0
`)
	_, err := NewLoader(zap.NewNop(), testStore(), path).Load()
	if err == nil || !strings.Contains(err.Error(), "class_name") {
		t.Errorf("missing class_name should fail, got %v", err)
	}
}

func TestLoaderRejectsMissingFile(t *testing.T) {
	if _, err := NewLoader(zap.NewNop(), testStore(), "/nonexistent.yaml").Load(); err == nil {
		t.Error("missing file should fail the load")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should fail fast")
		}
	}()
	Register("bb_reversal", FamilyRange, newBBReversal)
}

func TestRegistryListsBuiltins(t *testing.T) {
	names := RegisteredNames()
	for _, want := range []string{
		"atr_exhaustion", "bb_reversal", "donchian_channel", "stochastic_reversal",
		"macd_ema_crossover", "adx_trend", "multi_timeframe", "mochipoy_alert",
		"fibonacci_retracement",
	} {
		if !IsRegistered(want) {
			t.Errorf("builtin %s not registered (have %v)", want, names)
		}
	}
}
