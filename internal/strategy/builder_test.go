package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/pkg/types"
)

func TestBuyRiskGeometry(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 50000})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionBuy,
		Confidence: 0.5,
		Strength:   0.5,
	}, 10000000, frame, nil)

	if !sig.StopLoss.LessThan(sig.CurrentPrice) {
		t.Errorf("buy: stop loss %s should be below price %s", sig.StopLoss, sig.CurrentPrice)
	}
	if !sig.TakeProfit.GreaterThan(sig.CurrentPrice) {
		t.Errorf("buy: take profit %s should be above price %s", sig.TakeProfit, sig.CurrentPrice)
	}
	// sl distance = atr * 1.5, tp distance = sl distance * 1.29.
	wantSL := decimal.NewFromFloat(10000000 - 75000)
	if !sig.StopLoss.Equal(wantSL) {
		t.Errorf("stop loss = %s, want %s", sig.StopLoss, wantSL)
	}
	wantTP := decimal.NewFromFloat(10000000 + 75000*1.29)
	if !sig.TakeProfit.Equal(wantTP) {
		t.Errorf("take profit = %s, want %s", sig.TakeProfit, wantTP)
	}
	if sig.RiskRatio <= 0 {
		t.Errorf("risk ratio = %v, want > 0", sig.RiskRatio)
	}
}

func TestSellRiskGeometry(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 50000})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionSell,
		Confidence: 0.5,
		Strength:   0.5,
	}, 10000000, frame, nil)

	if !sig.StopLoss.GreaterThan(sig.CurrentPrice) {
		t.Errorf("sell: stop loss %s should be above price %s", sig.StopLoss, sig.CurrentPrice)
	}
	if !sig.TakeProfit.LessThan(sig.CurrentPrice) {
		t.Errorf("sell: take profit %s should be below price %s", sig.TakeProfit, sig.CurrentPrice)
	}
}

func TestPositionSizing(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 50000})

	for _, confidence := range []float64{0.1, 0.5, 1.0} {
		sig := b.Build("test", "bb_reversal", Decision{
			Action:     types.ActionBuy,
			Confidence: confidence,
		}, 10000000, frame, nil)

		want := decimal.NewFromFloat(0.02 * confidence)
		if !sig.PositionSize.Equal(want) {
			t.Errorf("confidence %v: size = %s, want base*confidence %s",
				confidence, sig.PositionSize, want)
		}
		if sig.PositionSize.GreaterThan(decimal.NewFromFloat(0.02)) {
			t.Errorf("size %s exceeds base", sig.PositionSize)
		}
	}
}

func TestZeroATRProducesErrorHold(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 0})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionBuy,
		Confidence: 0.6,
	}, 10000000, frame, nil)

	if sig.Action != types.ActionHold {
		t.Errorf("action = %v, want hold on zero ATR", sig.Action)
	}
	if sig.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 on error hold", sig.Confidence)
	}
	if sig.Metadata["error"] == nil {
		t.Error("error hold should carry diagnostic metadata")
	}
	if sig.HasRiskAnnotation() {
		t.Error("error hold must not carry SL/TP")
	}
}

func TestHoldCarriesNoRiskFields(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 50000})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionHold,
		Confidence: 0.4,
		Strength:   0.2,
	}, 10000000, frame, nil)

	if sig.HasRiskAnnotation() || !sig.PositionSize.IsZero() {
		t.Error("hold should carry no SL/TP/size")
	}
	if sig.Confidence != 0.4 {
		t.Errorf("hold confidence = %v, want preserved 0.4", sig.Confidence)
	}
}

func TestPreferredTimeframeATR(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	main := frameWith(25, 10000000, map[string]float64{"atr_14": 100000})
	fifteen := frameWith(25, 10000000, map[string]float64{"atr_14": 20000})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionBuy,
		Confidence: 0.5,
	}, 10000000, main, map[types.Timeframe]*types.Frame{types.Timeframe15m: fifteen})

	// 15m ATR (20000) * 1.5 = 30000 stop distance.
	wantSL := decimal.NewFromFloat(10000000 - 30000)
	if !sig.StopLoss.Equal(wantSL) {
		t.Errorf("stop loss = %s, want %s from 15m ATR", sig.StopLoss, wantSL)
	}
}

func TestConfidenceClamped(t *testing.T) {
	b := NewSignalBuilder(zap.NewNop(), testStore())
	frame := frameWith(25, 10000000, map[string]float64{"atr_14": 50000})

	sig := b.Build("test", "bb_reversal", Decision{
		Action:     types.ActionBuy,
		Confidence: 1.7,
		Strength:   -0.2,
	}, 10000000, frame, nil)

	if sig.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", sig.Confidence)
	}
	if sig.Strength != 0 {
		t.Errorf("strength = %v, want clamped to 0", sig.Strength)
	}
}
