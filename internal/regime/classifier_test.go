package regime_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func emptyStore(t *testing.T) *config.ThresholdStore {
	t.Helper()
	return config.NewThresholdStore(zap.NewNop(), "", "")
}

// makeFrame builds a frame from close prices with constant indicator rows.
func makeFrame(closes []float64, atr, adx float64) *types.Frame {
	candles := make([]types.OHLCV, len(closes))
	now := time.Now()
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		candles[i] = types.OHLCV{
			Timestamp: now.Add(time.Duration(i-len(closes)) * time.Hour),
			Open:      d, High: d, Low: d, Close: d,
			Volume: decimal.NewFromInt(10),
		}
	}
	frame := types.NewFrame(candles)
	constant := func(v float64) []float64 {
		col := make([]float64, len(closes))
		for i := range col {
			col[i] = v
		}
		return col
	}
	frame.SetColumn("atr_14", constant(atr))
	frame.SetColumn("adx_14", constant(adx))
	return frame
}

func TestTightRangeClassification(t *testing.T) {
	// Last 20 closes pinned inside [9_990_000, 10_005_000], low ATR, ADX 10.
	closes := make([]float64, 20)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 9990000
		} else {
			closes[i] = 10005000
		}
	}
	frame := makeFrame(closes, 5000, 10)

	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	got, stats := c.ClassifyWithStats(frame)
	if got != regime.TightRange {
		t.Errorf("regime = %v, want tight_range (stats %+v)", got, stats)
	}
	if !got.IsRange() {
		t.Error("tight_range should report IsRange")
	}
}

func TestHighVolatilityShortCircuit(t *testing.T) {
	// atr/close = 300000/11450000 ≈ 0.026 > 0.018 dominates everything
	// else, even trend features.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10000000 + float64(i)*50000
	}
	frame := makeFrame(closes, 300000, 40)

	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	got := c.Classify(frame)
	if got != regime.HighVolatility {
		t.Errorf("regime = %v, want high_volatility", got)
	}
	if !got.IsHighRisk() {
		t.Error("high_volatility should report IsHighRisk")
	}
}

func TestTrendingClassification(t *testing.T) {
	// Steadily rising closes push the EMA slope past the threshold; ADX 30.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10000000 * (1 + 0.01*float64(i))
	}
	frame := makeFrame(closes, 50000, 30)

	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	if got := c.Classify(frame); got != regime.Trending {
		t.Errorf("regime = %v, want trending", got)
	}
}

func TestEmptyFrameDefaultsToNormalRange(t *testing.T) {
	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	if got := c.Classify(types.NewFrame(nil)); got != regime.NormalRange {
		t.Errorf("empty frame regime = %v, want normal_range", got)
	}
}

func TestMissingColumnsDefaultToNormalRange(t *testing.T) {
	closes := []float64{1, 2, 3}
	candles := make([]types.OHLCV, len(closes))
	for i, cl := range closes {
		candles[i] = types.OHLCV{Close: decimal.NewFromFloat(cl)}
	}
	frame := types.NewFrame(candles) // no atr_14/adx_14 columns

	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	if got := c.Classify(frame); got != regime.NormalRange {
		t.Errorf("missing columns regime = %v, want normal_range", got)
	}
}

func TestEMASlopeFallbackWithoutColumn(t *testing.T) {
	// No ema_20 column: the classifier recomputes the EMA from closes and
	// still detects the trend.
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 10000000 * (1 + 0.012*float64(i))
	}
	frame := makeFrame(closes, 50000, 30)
	delete(frame.Columns, "ema_20")

	c := regime.NewClassifier(zap.NewNop(), emptyStore(t))
	if got := c.Classify(frame); got != regime.Trending {
		t.Errorf("regime without ema_20 = %v, want trending", got)
	}
}

func TestFromString(t *testing.T) {
	if r, ok := regime.FromString("tight_range"); !ok || r != regime.TightRange {
		t.Errorf("FromString(tight_range) = %v,%v", r, ok)
	}
	if _, ok := regime.FromString("bogus"); ok {
		t.Error("FromString(bogus) should report false")
	}
}
