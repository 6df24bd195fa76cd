package cycle_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/cycle"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/internal/strategy"
	"github.com/hmuraoka/trading-core/pkg/types"
)

const fusionConfig = `
ml:
  strategy_integration:
    enabled: true
    min_ml_confidence: 0.6
    high_confidence_threshold: 0.8
    ml_weight: 0.3
    strategy_weight: 0.7
    agreement_bonus: 1.2
    disagreement_penalty: 0.5
    hold_conversion_threshold: 0.4
`

func fusionStore(t *testing.T, yaml string) *config.ThresholdStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return config.NewThresholdStore(zap.NewNop(), path, "")
}

func testSignal(action types.TradingAction, confidence float64) *strategy.Signal {
	return &strategy.Signal{
		StrategyName: "StrategyManager",
		Timestamp:    time.Now(),
		Action:       action,
		Confidence:   confidence,
		Strength:     confidence,
		CurrentPrice: decimal.NewFromInt(10000000),
	}
}

func TestAgreementBonus(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassBuy, Confidence: 0.9},
		testSignal(types.ActionBuy, 0.7), regime.NormalRange)

	// base = 0.7*0.7 + 0.9*0.3 = 0.76; adjusted = 0.76*1.2 = 0.912.
	if math.Abs(out.Confidence-0.912) > 1e-9 {
		t.Errorf("confidence = %v, want 0.912", out.Confidence)
	}
	if out.Action != types.ActionBuy {
		t.Errorf("action = %v, want unchanged buy", out.Action)
	}
	if out.Metadata["ml_adjusted"] != true || out.Metadata["is_agreement"] != true {
		t.Errorf("metadata = %v, want ml_adjusted and is_agreement", out.Metadata)
	}
}

func TestDisagreementDemotesToHold(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassSell, Confidence: 0.9},
		testSignal(types.ActionBuy, 0.5), regime.NormalRange)

	// base = 0.5*0.7 + 0.9*0.3 = 0.62; adjusted = 0.31 < 0.4 threshold.
	if out.Action != types.ActionHold {
		t.Errorf("action = %v, want hold conversion", out.Action)
	}
	if math.Abs(out.Confidence-0.31) > 1e-9 {
		t.Errorf("confidence = %v, want 0.31", out.Confidence)
	}
	if out.Metadata["adjustment_reason"] != "ml_disagreement_low_confidence" {
		t.Errorf("adjustment_reason = %v", out.Metadata["adjustment_reason"])
	}
	if out.Metadata["original_action"] != "buy" {
		t.Errorf("original_action = %v, want buy", out.Metadata["original_action"])
	}
}

func TestDisagreementAboveThresholdKeepsAction(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassSell, Confidence: 0.9},
		testSignal(types.ActionBuy, 0.9), regime.NormalRange)

	// base = 0.9*0.7 + 0.9*0.3 = 0.9; adjusted = 0.45 >= 0.4: stays buy.
	if out.Action != types.ActionBuy {
		t.Errorf("action = %v, want buy retained above conversion threshold", out.Action)
	}
	if math.Abs(out.Confidence-0.45) > 1e-9 {
		t.Errorf("confidence = %v, want 0.45", out.Confidence)
	}
}

func TestLowMLConfidencePassesThrough(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))
	in := testSignal(types.ActionSell, 0.55)

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassBuy, Confidence: 0.5}, in, regime.NormalRange)
	if out != in {
		t.Error("low ML confidence should pass the strategy signal through unchanged")
	}
}

func TestFusionDisabledPassesThrough(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, `
ml:
  strategy_integration:
    enabled: false
`))
	in := testSignal(types.ActionBuy, 0.7)
	if out := f.Fuse(types.MLPrediction{Prediction: types.MLClassBuy, Confidence: 0.95}, in, regime.NormalRange); out != in {
		t.Error("disabled fusion should pass the signal through")
	}
}

func TestHoldAgreesOnlyWithHold(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassHold, Confidence: 0.9},
		testSignal(types.ActionBuy, 0.9), regime.NormalRange)
	if out.Metadata["is_agreement"] == true {
		t.Error("ML hold vs strategy buy must not count as agreement")
	}

	out = f.Fuse(types.MLPrediction{Prediction: types.MLClassHold, Confidence: 0.9},
		testSignal(types.ActionHold, 0.6), regime.NormalRange)
	if out.Metadata["is_agreement"] != true {
		t.Error("ML hold vs strategy hold is strict agreement")
	}
}

func TestRegimeOverrideAndGlobalFallback(t *testing.T) {
	yaml := fusionConfig + `
  regime_ml_integration:
    enabled: true
    tight_range:
      ml_weight: 0.5
      strategy_weight: 0.5
`
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, yaml))
	ml := types.MLPrediction{Prediction: types.MLClassBuy, Confidence: 0.7}

	// Tight range uses the per-regime weights: 0.6*0.5 + 0.7*0.5 = 0.65.
	out := f.Fuse(ml, testSignal(types.ActionBuy, 0.6), regime.TightRange)
	if math.Abs(out.Confidence-0.65) > 1e-9 {
		t.Errorf("tight_range confidence = %v, want 0.65 via regime weights", out.Confidence)
	}
	if out.Metadata["regime_overridden"] != true {
		t.Error("tight_range fusion should mark the regime override")
	}

	// Trending has no override block: global weights apply.
	// 0.6*0.7 + 0.7*0.3 = 0.63.
	out = f.Fuse(ml, testSignal(types.ActionBuy, 0.6), regime.Trending)
	if math.Abs(out.Confidence-0.63) > 1e-9 {
		t.Errorf("trending confidence = %v, want 0.63 via global weights", out.Confidence)
	}
	if out.Metadata["regime_overridden"] == true {
		t.Error("trending fusion should not mark a regime override")
	}
}

func TestFusedSignalBounded(t *testing.T) {
	f := cycle.NewFuser(zap.NewNop(), fusionStore(t, fusionConfig))

	out := f.Fuse(types.MLPrediction{Prediction: types.MLClassBuy, Confidence: 1.0},
		testSignal(types.ActionBuy, 1.0), regime.NormalRange)
	if out.Confidence > 1 {
		t.Errorf("confidence %v exceeds 1", out.Confidence)
	}
}
