package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("stochastic_reversal", FamilyRange, newStochasticReversal)
}

// stochasticReversal is a range-market momentum fade: an extreme %K/%D
// reading plus a crossover in the opposite direction, confirmed by RSI.
// All three conditions gate the signal (strict AND).
type stochasticReversal struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	overbought        float64
	oversold          float64
	rsiOverbought     float64
	rsiOversold       float64
	adxRangeThreshold float64
	minConfidence     float64
	holdConfidence    float64
}

func newStochasticReversal(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &stochasticReversal{
		Base: NewBase("stochastic_reversal", FamilyRange, logger,
			store.Int("strategies.stochastic_reversal.min_data_points", 20),
			store.Int("strategies.stochastic_reversal.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		overbought:        store.Float("strategies.stochastic_reversal.stoch_overbought", 80),
		oversold:          store.Float("strategies.stochastic_reversal.stoch_oversold", 20),
		rsiOverbought:     store.Float("strategies.stochastic_reversal.rsi_overbought", 65),
		rsiOversold:       store.Float("strategies.stochastic_reversal.rsi_oversold", 35),
		adxRangeThreshold: store.Float("strategies.stochastic_reversal.adx_range_threshold", 20),
		minConfidence:     store.Float("strategies.stochastic_reversal.min_confidence", 0.30),
		holdConfidence:    store.Float("strategies.stochastic_reversal.hold_confidence", 0.25),
	}
}

func (s *stochasticReversal) RequiredFeatures() []string {
	return []string{"close", "stoch_k", "stoch_d", "rsi_14", "adx_14", "atr_14"}
}

func (s *stochasticReversal) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()
	adx, _ := frame.Last("adx_14")
	if adx >= s.adxRangeThreshold {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("trend market (adx=%.1f)", adx)), nil
	}

	stochK, _ := frame.Last("stoch_k")
	stochD, _ := frame.Last("stoch_d")
	rsi, _ := frame.Last("rsi_14")
	cross := crossover(frame, "stoch_k", "stoch_d")

	indicators := map[string]float64{"stoch_k": stochK, "stoch_d": stochD, "rsi_14": rsi}

	var dec Decision
	switch {
	case stochK > s.overbought && stochD > s.overbought && cross == -1 && rsi > s.rsiOverbought:
		dec = Decision{
			Action:     types.ActionSell,
			Confidence: clampRange(s.minConfidence+(stochK-s.overbought)/100, s.minConfidence, 0.50),
			Strength:   clampRange((stochK-50)/50, 0, 1),
			Reason:     fmt.Sprintf("overbought bear cross (k=%.1f d=%.1f rsi=%.1f)", stochK, stochD, rsi),
			Indicators: indicators,
		}

	case stochK < s.oversold && stochD < s.oversold && cross == 1 && rsi < s.rsiOversold:
		dec = Decision{
			Action:     types.ActionBuy,
			Confidence: clampRange(s.minConfidence+(s.oversold-stochK)/100, s.minConfidence, 0.50),
			Strength:   clampRange((50-stochK)/50, 0, 1),
			Reason:     fmt.Sprintf("oversold golden cross (k=%.1f d=%.1f rsi=%.1f)", stochK, stochD, rsi),
			Indicators: indicators,
		}

	default:
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "no stochastic extreme"), nil
	}

	return s.builder.Build(s.Name(), "stochastic_reversal", dec, currentPrice, frame, multiTF), nil
}
