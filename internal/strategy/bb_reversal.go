package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("bb_reversal", FamilyRange, newBBReversal)
}

// bbReversal is a range-market mean-reversion strategy. The Bollinger
// position is the primary trigger: a touch of the upper band sells, a
// touch of the lower band buys. RSI acts as a confidence bonus (or a
// small penalty when it disagrees), not as a hard gate.
type bbReversal struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	bbWidthThreshold  float64
	adxRangeThreshold float64
	upperThreshold    float64
	lowerThreshold    float64
	rsiOverbought     float64
	rsiOversold       float64
	rsiMatchBonus     float64
	rsiExtremeBonus   float64
	rsiMismatchPen    float64
	minConfidence     float64
	holdConfidence    float64
}

func newBBReversal(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &bbReversal{
		Base: NewBase("bb_reversal", FamilyRange, logger,
			store.Int("strategies.bb_reversal.min_data_points", 20),
			store.Int("strategies.bb_reversal.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		bbWidthThreshold:  store.Float("strategies.bb_reversal.bb_width_threshold", 0.02),
		adxRangeThreshold: store.Float("strategies.bb_reversal.adx_range_threshold", 20),
		upperThreshold:    store.Float("strategies.bb_reversal.bb_upper_threshold", 0.70),
		lowerThreshold:    store.Float("strategies.bb_reversal.bb_lower_threshold", 0.30),
		rsiOverbought:     store.Float("strategies.bb_reversal.rsi_overbought", 65),
		rsiOversold:       store.Float("strategies.bb_reversal.rsi_oversold", 35),
		rsiMatchBonus:     store.Float("strategies.bb_reversal.rsi_match_bonus", 0.08),
		rsiExtremeBonus:   store.Float("strategies.bb_reversal.rsi_extreme_bonus", 0.05),
		rsiMismatchPen:    store.Float("strategies.bb_reversal.rsi_mismatch_penalty", 0.05),
		minConfidence:     store.Float("strategies.bb_reversal.min_confidence", 0.30),
		holdConfidence:    store.Float("strategies.bb_reversal.hold_confidence", 0.25),
	}
}

func (s *bbReversal) RequiredFeatures() []string {
	return []string{"close", "bb_position", "bb_upper", "bb_lower", "rsi_14", "adx_14", "atr_14"}
}

func (s *bbReversal) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()
	adx, _ := frame.Last("adx_14")
	if !s.isRangeMarket(frame, adx) {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("trend market (adx=%.1f)", adx)), nil
	}

	bbPosition, _ := frame.Last("bb_position")
	rsi, _ := frame.Last("rsi_14")

	var dec Decision
	switch {
	case bbPosition > s.upperThreshold:
		confidence := 0.30 + (bbPosition-s.upperThreshold)*1.5
		if rsi > s.rsiOverbought {
			confidence += s.rsiMatchBonus
			if rsi > 70 {
				confidence += s.rsiExtremeBonus
			}
		} else {
			confidence -= s.rsiMismatchPen
		}
		dec = Decision{
			Action:     types.ActionSell,
			Confidence: clampRange(confidence, s.minConfidence, 0.55),
			Strength:   clampRange((bbPosition-0.5)*2, 0, 1),
			Reason:     fmt.Sprintf("upper band touch (bb=%.2f rsi=%.1f)", bbPosition, rsi),
			Indicators: map[string]float64{"bb_position": bbPosition, "rsi_14": rsi, "adx_14": adx},
		}

	case bbPosition < s.lowerThreshold:
		confidence := 0.30 + (s.lowerThreshold-bbPosition)*1.5
		if rsi < s.rsiOversold {
			confidence += s.rsiMatchBonus
			if rsi < 30 {
				confidence += s.rsiExtremeBonus
			}
		} else {
			confidence -= s.rsiMismatchPen
		}
		dec = Decision{
			Action:     types.ActionBuy,
			Confidence: clampRange(confidence, s.minConfidence, 0.55),
			Strength:   clampRange((0.5-bbPosition)*2, 0, 1),
			Reason:     fmt.Sprintf("lower band touch (bb=%.2f rsi=%.1f)", bbPosition, rsi),
			Indicators: map[string]float64{"bb_position": bbPosition, "rsi_14": rsi, "adx_14": adx},
		}

	default:
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("mid-band (bb=%.2f)", bbPosition)), nil
	}

	return s.builder.Build(s.Name(), "bb_reversal", dec, currentPrice, frame, multiTF), nil
}

// isRangeMarket requires both a narrow band and a weak ADX.
func (s *bbReversal) isRangeMarket(frame *types.Frame, adx float64) bool {
	upper, _ := frame.Last("bb_upper")
	lower, _ := frame.Last("bb_lower")
	closePrice := frame.LastClose()
	if closePrice <= 0 {
		return false
	}
	bbWidth := (upper - lower) / closePrice
	return bbWidth < s.bbWidthThreshold && adx < s.adxRangeThreshold
}
