package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("atr_exhaustion", FamilyRange, newATRExhaustion)
}

// atrExhaustion is a range-market reversal strategy keyed on daily range
// consumption: when the current bar's high-low span has used up most of
// ATR14, the move is treated as exhausted and a reversal is expected.
// RSI picks the reversal direction; the Bollinger position adds a
// confidence bonus when it agrees.
type atrExhaustion struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	exhaustionThreshold     float64
	highExhaustionThreshold float64
	adxRangeThreshold       float64
	rsiUpper                float64
	rsiLower                float64
	baseConfidence          float64
	highConfidence          float64
	minConfidence           float64
	holdConfidence          float64
	bbPositionThreshold     float64
	bbPositionEnabled       bool
}

func newATRExhaustion(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &atrExhaustion{
		Base: NewBase("atr_exhaustion", FamilyRange, logger,
			store.Int("strategies.atr_exhaustion.min_data_points", 20),
			store.Int("strategies.atr_exhaustion.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		exhaustionThreshold:     store.Float("strategies.atr_exhaustion.exhaustion_threshold", 0.70),
		highExhaustionThreshold: store.Float("strategies.atr_exhaustion.high_exhaustion_threshold", 0.85),
		adxRangeThreshold:       store.Float("strategies.atr_exhaustion.adx_range_threshold", 25),
		rsiUpper:                store.Float("strategies.atr_exhaustion.rsi_upper", 60),
		rsiLower:                store.Float("strategies.atr_exhaustion.rsi_lower", 40),
		baseConfidence:          store.Float("strategies.atr_exhaustion.base_confidence", 0.40),
		highConfidence:          store.Float("strategies.atr_exhaustion.high_confidence", 0.60),
		minConfidence:           store.Float("strategies.atr_exhaustion.min_confidence", 0.35),
		holdConfidence:          store.Float("strategies.atr_exhaustion.hold_confidence", 0.20),
		bbPositionThreshold:     store.Float("strategies.atr_exhaustion.bb_position_threshold", 0.20),
		bbPositionEnabled:       store.Bool("strategies.atr_exhaustion.bb_position_enabled", true),
	}
}

func (s *atrExhaustion) RequiredFeatures() []string {
	return []string{"close", "high", "low", "atr_14", "adx_14", "rsi_14", "bb_position"}
}

func (s *atrExhaustion) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()

	atr, _ := frame.Last("atr_14")
	high, _ := frame.Last("high")
	low, _ := frame.Last("low")
	if atr <= 0 {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "atr unavailable"), nil
	}
	exhaustion := (high - low) / atr
	if exhaustion < s.exhaustionThreshold {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("range not exhausted (%.0f%%)", exhaustion*100)), nil
	}

	adx, _ := frame.Last("adx_14")
	if adx >= s.adxRangeThreshold {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("trend market (adx=%.1f)", adx)), nil
	}

	rsi, _ := frame.Last("rsi_14")
	var action types.TradingAction
	switch {
	case rsi >= s.rsiUpper:
		action = types.ActionSell
	case rsi <= s.rsiLower:
		action = types.ActionBuy
	default:
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("rsi neutral (%.1f)", rsi)), nil
	}

	confidence := s.baseConfidence
	if exhaustion >= s.highExhaustionThreshold {
		confidence = s.highConfidence
	}

	// Band-edge agreement raises confidence more than mere band proximity.
	bbPosition, _ := frame.Last("bb_position")
	if s.bbPositionEnabled {
		atLowerEdge := bbPosition <= s.bbPositionThreshold
		atUpperEdge := bbPosition >= 1-s.bbPositionThreshold
		if atLowerEdge || atUpperEdge {
			agrees := (action == types.ActionBuy && atLowerEdge) ||
				(action == types.ActionSell && atUpperEdge)
			if agrees {
				confidence = clampRange(confidence+0.10, 0, 0.80)
			} else {
				confidence = clampRange(confidence+0.05, 0, 0.75)
			}
		}
	}

	dec := Decision{
		Action:     action,
		Confidence: clampRange(confidence, s.minConfidence, 0.80),
		Strength:   clampRange(exhaustion, 0, 1),
		Reason:     fmt.Sprintf("atr exhaustion %.0f%% rsi=%.1f", exhaustion*100, rsi),
		Indicators: map[string]float64{
			"exhaustion_ratio": exhaustion,
			"rsi_14":           rsi,
			"adx_14":           adx,
			"bb_position":      bbPosition,
		},
	}
	return s.builder.Build(s.Name(), "atr_exhaustion", dec, currentPrice, frame, multiTF), nil
}
