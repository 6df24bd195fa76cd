package selector_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/internal/selector"
)

var allNames = []string{
	"atr_exhaustion", "donchian_channel", "bb_reversal", "stochastic_reversal",
	"adx_trend", "macd_ema_crossover", "multi_timeframe", "mochipoy_alert",
}

func storeWith(t *testing.T, yaml string) *config.ThresholdStore {
	t.Helper()
	if yaml == "" {
		return config.NewThresholdStore(zap.NewNop(), "", "")
	}
	path := filepath.Join(t.TempDir(), "base.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.NewThresholdStore(zap.NewNop(), path, "")
}

func TestWeightsCoverEveryStrategy(t *testing.T) {
	sel := selector.New(zap.NewNop(), storeWith(t, ""), allNames)

	for _, r := range regime.All() {
		weights := sel.RegimeWeights(r)
		if len(weights) != len(allNames) {
			t.Errorf("regime %s: %d weights, want %d (explicit zeros required)",
				r, len(weights), len(allNames))
		}
		for _, name := range allNames {
			if _, ok := weights[name]; !ok {
				t.Errorf("regime %s: strategy %s missing from weights", r, name)
			}
		}
	}
}

func TestWeightSumsValid(t *testing.T) {
	sel := selector.New(zap.NewNop(), storeWith(t, ""), allNames)

	for _, r := range regime.All() {
		sum := 0.0
		for _, w := range sel.RegimeWeights(r) {
			sum += w
		}
		validOne := math.Abs(sum-1) <= 0.01
		validZero := math.Abs(sum) <= 0.01
		if !validOne && !validZero {
			t.Errorf("regime %s: weight sum %v is neither ~1 nor ~0", r, sum)
		}
		if r == regime.HighVolatility && !validZero {
			t.Errorf("high_volatility weight sum %v, want all zero", sum)
		}
	}
}

func TestConfiguredWeightsUsed(t *testing.T) {
	yaml := `
dynamic_strategy_selection:
  regime_strategy_mapping:
    tight_range:
      atr_exhaustion: 0.7
      donchian_channel: 0.3
`
	sel := selector.New(zap.NewNop(), storeWith(t, yaml), allNames)
	weights := sel.RegimeWeights(regime.TightRange)
	if weights["atr_exhaustion"] != 0.7 || weights["donchian_channel"] != 0.3 {
		t.Errorf("configured weights not applied: %v", weights)
	}
	if weights["adx_trend"] != 0 {
		t.Errorf("adx_trend = %v, want explicit 0", weights["adx_trend"])
	}
}

func TestInvalidConfiguredWeightsFallBack(t *testing.T) {
	yaml := `
dynamic_strategy_selection:
  regime_strategy_mapping:
    tight_range:
      atr_exhaustion: 0.7
      donchian_channel: 0.7
`
	sel := selector.New(zap.NewNop(), storeWith(t, yaml), allNames)
	weights := sel.RegimeWeights(regime.TightRange)
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1) > 0.01 {
		t.Errorf("invalid config should fall back to defaults, got sum %v", sum)
	}
	if weights["atr_exhaustion"] == 0.7 {
		t.Error("invalid configured weights were applied")
	}
}

func TestValidateWeights(t *testing.T) {
	cases := []struct {
		name    string
		weights map[string]float64
		want    bool
	}{
		{"sums to one", map[string]float64{"a": 0.6, "b": 0.4}, true},
		{"within tolerance", map[string]float64{"a": 0.6, "b": 0.405}, true},
		{"all zero", map[string]float64{"a": 0, "b": 0}, true},
		{"empty", map[string]float64{}, true},
		{"half", map[string]float64{"a": 0.5}, false},
		{"over", map[string]float64{"a": 0.8, "b": 0.4}, false},
	}
	for _, tc := range cases {
		if got := selector.ValidateWeights(tc.weights); got != tc.want {
			t.Errorf("%s: ValidateWeights = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPositionLimits(t *testing.T) {
	sel := selector.New(zap.NewNop(), storeWith(t, ""), allNames)

	if got := sel.PositionLimit(regime.HighVolatility); got != 0 {
		t.Errorf("high_volatility limit = %d, want 0", got)
	}
	if got := sel.PositionLimit(regime.TightRange); got < 6 {
		t.Errorf("tight_range limit = %d, want >= 6", got)
	}
	if trend := sel.PositionLimit(regime.Trending); trend <= 0 {
		t.Errorf("trending limit = %d, want small positive", trend)
	}
}

func TestPositionLimitFromStore(t *testing.T) {
	yaml := `
dynamic_strategy_selection:
  position_limits:
    trending: 2
`
	sel := selector.New(zap.NewNop(), storeWith(t, yaml), allNames)
	if got := sel.PositionLimit(regime.Trending); got != 2 {
		t.Errorf("trending limit = %d, want configured 2", got)
	}
}
