package strategy

import (
	"math"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// marketUncertainty combines ATR-relative volatility, volume deviation
// from its 20-bar mean, and the last-bar return into a small factor used
// to modulate hold confidences. Bounded by the store's uncertainty_max.
// Fewer than two closes, a non-positive last close, or a missing ATR
// return the configured fallback; a missing volume column or a
// non-positive previous close drops only that term.
func marketUncertainty(store *config.ThresholdStore, frame *types.Frame) float64 {
	fallback := store.Float("dynamic_confidence.market_uncertainty.fallback", 0.02)

	closeSeries := frame.Series("close")
	if len(closeSeries) < 2 {
		return fallback
	}

	volatilityMax := store.Float("dynamic_confidence.market_uncertainty.volatility_factor_max", 0.05)
	volumeMax := store.Float("dynamic_confidence.market_uncertainty.volume_factor_max", 0.03)
	volumeMultiplier := store.Float("dynamic_confidence.market_uncertainty.volume_multiplier", 0.1)
	priceMax := store.Float("dynamic_confidence.market_uncertainty.price_factor_max", 0.02)
	uncertaintyMax := store.Float("dynamic_confidence.market_uncertainty.uncertainty_max", 0.10)

	currentClose := closeSeries[len(closeSeries)-1]
	if currentClose <= 0 {
		return fallback
	}

	atr, ok := frame.Last("atr_14")
	if !ok || math.IsNaN(atr) {
		return fallback
	}
	volatilityFactor := math.Min(volatilityMax, atr/currentClose)

	volumeFactor := 0.0
	if volumes := frame.TailSeries("volume", 20); len(volumes) > 0 {
		mean := 0.0
		for _, v := range volumes {
			mean += v
		}
		mean /= float64(len(volumes))
		if mean > 0 {
			ratio := volumes[len(volumes)-1] / mean
			volumeFactor = math.Min(volumeMax, math.Abs(ratio-1)*volumeMultiplier)
		}
	}

	prevClose := closeSeries[len(closeSeries)-2]
	priceFactor := 0.0
	if prevClose > 0 {
		priceFactor = math.Min(priceMax, math.Abs(currentClose/prevClose-1))
	}

	return math.Min(uncertaintyMax, volatilityFactor+volumeFactor+priceFactor)
}

// returnStd computes the standard deviation of simple returns over the
// trailing window; used by hold-confidence synthesis.
func returnStd(closes []float64) float64 {
	if len(closes) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
