package strategy

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("adx_trend", FamilyTrend, newADXTrend)
}

// adxTrend trades with the trend when ADX confirms its strength and the
// +DI/-DI pair crosses over. A strong ADX with a fresh crossover enters
// with confidence scaled by trend strength; a weak-but-present trend with
// a wide DI gap enters at reduced conviction; everything else holds, with
// the hold confidence modulated by market uncertainty.
type adxTrend struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	strongTrendThreshold   float64
	weakTrendThreshold     float64
	diCrossoverThreshold   float64
	weakDIThreshold        float64
	weakSignalConfidence   float64
	minConfidence          float64
	holdConfidence         float64
	strongMin, strongMax   float64
	weakMin, weakMax       float64
	holdMin, holdMax       float64
}

func newADXTrend(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &adxTrend{
		Base: NewBase("adx_trend", FamilyTrend, logger,
			store.Int("strategies.adx_trend.min_data_points", 20),
			store.Int("strategies.adx_trend.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		strongTrendThreshold: store.Float("strategies.adx_trend.strong_trend_threshold", 25),
		weakTrendThreshold:   store.Float("strategies.adx_trend.weak_trend_threshold", 15),
		diCrossoverThreshold: store.Float("strategies.adx_trend.di_crossover_threshold", 0.5),
		weakDIThreshold:      store.Float("strategies.adx_trend.weak_di_threshold", 1.0),
		weakSignalConfidence: store.Float("strategies.adx_trend.di_weak_signal_confidence", 0.35),
		minConfidence:        store.Float("strategies.adx_trend.min_confidence", 0.30),
		holdConfidence:       store.Float("strategies.adx_trend.hold_confidence", 0.30),
		strongMin:            store.Float("dynamic_confidence.strategies.adx_trend.strong_min", 0.40),
		strongMax:            store.Float("dynamic_confidence.strategies.adx_trend.strong_max", 0.85),
		weakMin:              store.Float("dynamic_confidence.strategies.adx_trend.weak_min", 0.25),
		weakMax:              store.Float("dynamic_confidence.strategies.adx_trend.weak_max", 0.50),
		holdMin:              store.Float("dynamic_confidence.strategies.adx_trend.hold_min", 0.20),
		holdMax:              store.Float("dynamic_confidence.strategies.adx_trend.hold_max", 0.35),
	}
}

func (s *adxTrend) RequiredFeatures() []string {
	return []string{"close", "high", "low", "volume", "adx_14", "plus_di_14", "minus_di_14", "atr_14"}
}

func (s *adxTrend) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, "close", "adx_14", "plus_di_14", "minus_di_14") {
		return s.uncertainHold(frame, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()
	adx, _ := frame.Last("adx_14")
	plusDI, _ := frame.Last("plus_di_14")
	minusDI, _ := frame.Last("minus_di_14")

	prevPlusDI, ok1 := frame.At("plus_di_14", 1)
	prevMinusDI, ok2 := frame.At("minus_di_14", 1)
	if !ok1 || math.IsNaN(prevPlusDI) {
		prevPlusDI = plusDI
	}
	if !ok2 || math.IsNaN(prevMinusDI) {
		prevMinusDI = minusDI
	}

	diDiff := plusDI - minusDI
	prevDIDiff := prevPlusDI - prevMinusDI
	bullishCross := prevDIDiff <= 0 && diDiff > 0 && math.Abs(diDiff) >= s.diCrossoverThreshold
	bearishCross := prevDIDiff >= 0 && diDiff < 0 && math.Abs(diDiff) >= s.diCrossoverThreshold

	indicators := map[string]float64{
		"adx_14": adx, "plus_di_14": plusDI, "minus_di_14": minusDI, "di_diff": diDiff,
	}

	switch {
	case adx >= s.strongTrendThreshold && (bullishCross || bearishCross):
		action := types.ActionBuy
		if bearishCross {
			action = types.ActionSell
		}
		// Scale inside the strong window by how far ADX runs past the
		// threshold and how wide the DI gap is.
		adxBonus := math.Min((adx-s.strongTrendThreshold)/50, 0.25)
		diBonus := math.Min(math.Abs(diDiff)/40, 0.20)
		confidence := clampRange(s.strongMin+adxBonus+diBonus, s.strongMin, s.strongMax)
		dec := Decision{
			Action:     action,
			Confidence: confidence,
			Strength:   clampRange(adx/50, 0, 1),
			Reason:     fmt.Sprintf("strong trend di cross (adx=%.1f diff=%.1f)", adx, diDiff),
			Indicators: indicators,
		}
		return s.builder.Build(s.Name(), "adx_trend", dec, currentPrice, frame, multiTF), nil

	case adx >= s.weakTrendThreshold && math.Abs(diDiff) >= s.weakDIThreshold:
		action := types.ActionBuy
		if diDiff < 0 {
			action = types.ActionSell
		}
		diBonus := math.Min(math.Abs(diDiff)/60, 0.10)
		confidence := clampRange(s.weakSignalConfidence+diBonus, s.weakMin, s.weakMax)
		dec := Decision{
			Action:     action,
			Confidence: confidence,
			Strength:   clampRange(adx/50, 0, 1),
			Reason:     fmt.Sprintf("weak trend di dominance (adx=%.1f diff=%.1f)", adx, diDiff),
			Indicators: indicators,
		}
		return s.builder.Build(s.Name(), "adx_trend", dec, currentPrice, frame, multiTF), nil

	default:
		return s.uncertainHold(frame, fmt.Sprintf("no trend (adx=%.1f)", adx)), nil
	}
}

// uncertainHold emits a hold whose confidence reflects market uncertainty:
// murkier conditions push it toward the low end of the window.
func (s *adxTrend) uncertainHold(frame *types.Frame, reason string) *Signal {
	uncertainty := marketUncertainty(s.store, frame)
	confidence := clampRange(s.holdConfidence-uncertainty, s.holdMin, s.holdMax)
	return s.builder.Hold(s.Name(), frame.LastClose(), confidence, reason)
}
