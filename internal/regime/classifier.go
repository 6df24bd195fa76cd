package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// Classifier derives the current regime from an indicator frame.
// It never returns an error: any failure (missing columns, short frames,
// bad arithmetic) falls back to NormalRange with a warning, because a
// wrong-but-safe regime beats an aborted cycle.
type Classifier struct {
	logger *zap.Logger
	store  *config.ThresholdStore

	bbPeriod       int
	emaPeriod      int
	emaLookback    int
	priceRangeBars int
	donchianPeriod int
}

// NewClassifier builds a classifier with periods resolved from the store.
func NewClassifier(logger *zap.Logger, store *config.ThresholdStore) *Classifier {
	return &Classifier{
		logger:         logger.Named("regime-classifier"),
		store:          store,
		bbPeriod:       store.Int("market_regime.bb_period", 20),
		emaPeriod:      store.Int("market_regime.ema_period", 20),
		emaLookback:    store.Int("market_regime.ema_lookback", 5),
		priceRangeBars: store.Int("market_regime.price_range_lookback", 20),
		donchianPeriod: store.Int("market_regime.donchian_period", 20),
	}
}

// Stats carries the raw features behind a classification, exposed for
// diagnostics and the status endpoint.
type Stats struct {
	Regime        Type    `json:"regime"`
	BBWidth       float64 `json:"bbWidth"`
	DonchianWidth float64 `json:"donchianWidth"`
	PriceRange    float64 `json:"priceRange"`
	ADX           float64 `json:"adx"`
	EMASlope      float64 `json:"emaSlope"`
	ATRRatio      float64 `json:"atrRatio"`
}

// Classify returns the regime for the frame, checked in fixed priority:
// high volatility first (risk-off always wins), then tight range, then
// trending, then normal range, defaulting to normal range.
func (c *Classifier) Classify(frame *types.Frame) Type {
	regime, _ := c.classify(frame)
	return regime
}

// ClassifyWithStats returns the regime together with the features that
// produced it.
func (c *Classifier) ClassifyWithStats(frame *types.Frame) (Type, Stats) {
	return c.classify(frame)
}

func (c *Classifier) classify(frame *types.Frame) (Type, Stats) {
	stats := Stats{Regime: NormalRange}

	if frame.IsEmpty() {
		c.logger.Warn("Empty frame, defaulting to normal range")
		return NormalRange, stats
	}
	if missing := frame.MissingColumns([]string{"close", "high", "low", "atr_14", "adx_14"}); len(missing) > 0 {
		c.logger.Warn("Required columns missing, defaulting to normal range",
			zap.Strings("missing", missing))
		return NormalRange, stats
	}

	currentClose := frame.LastClose()
	if currentClose <= 0 || math.IsNaN(currentClose) {
		c.logger.Warn("Invalid last close, defaulting to normal range",
			zap.Float64("close", currentClose))
		return NormalRange, stats
	}

	bbWidth := c.bbWidth(frame)
	priceRange := c.priceRange(frame)
	emaSlope := c.emaSlope(frame)
	adx, _ := frame.Last("adx_14")
	atr, _ := frame.Last("atr_14")
	atrRatio := atr / currentClose

	stats = Stats{
		BBWidth:       bbWidth,
		DonchianWidth: c.donchianWidth(frame, currentClose),
		PriceRange:    priceRange,
		ADX:           adx,
		EMASlope:      emaSlope,
		ATRRatio:      atrRatio,
	}

	hvThreshold := c.store.Float("market_regime.high_volatility.atr_ratio_threshold", 0.018)
	trBBThreshold := c.store.Float("market_regime.tight_range.bb_width_threshold", 0.025)
	trPriceThreshold := c.store.Float("market_regime.tight_range.price_range_threshold", 0.015)
	trendADXThreshold := c.store.Float("market_regime.trending.adx_threshold", 20)
	trendEMAThreshold := c.store.Float("market_regime.trending.ema_slope_threshold", 0.007)
	nrBBThreshold := c.store.Float("market_regime.normal_range.bb_width_threshold", 0.05)
	nrADXThreshold := c.store.Float("market_regime.normal_range.adx_threshold", 20)

	switch {
	case atrRatio > hvThreshold:
		c.logger.Warn("High volatility detected",
			zap.Float64("atrRatio", atrRatio),
			zap.Float64("threshold", hvThreshold))
		stats.Regime = HighVolatility

	case bbWidth < trBBThreshold && priceRange < trPriceThreshold:
		c.logger.Info("Tight range detected",
			zap.Float64("bbWidth", bbWidth),
			zap.Float64("priceRange", priceRange))
		stats.Regime = TightRange

	case adx > trendADXThreshold && math.Abs(emaSlope) > trendEMAThreshold:
		c.logger.Info("Trend detected",
			zap.Float64("adx", adx),
			zap.Float64("emaSlope", emaSlope))
		stats.Regime = Trending

	case bbWidth < nrBBThreshold && adx < nrADXThreshold:
		stats.Regime = NormalRange

	default:
		stats.Regime = NormalRange
	}

	return stats.Regime, stats
}

// bbWidth computes the Bollinger width (upper-lower)/middle over the last
// bbPeriod closes. Insufficient data substitutes a midpoint fallback that
// sits between the tight-range and normal-range thresholds.
func (c *Classifier) bbWidth(frame *types.Frame) float64 {
	closes := frame.TailSeries("close", c.bbPeriod)
	if len(closes) < 2 {
		return c.store.Float("market_regime.bb_width_fallback", 0.04)
	}

	mean := 0.0
	for _, v := range closes {
		mean += v
	}
	mean /= float64(len(closes))

	variance := 0.0
	for _, v := range closes {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(closes) - 1)
	std := math.Sqrt(variance)

	if mean <= 0 || math.IsNaN(std) {
		return c.store.Float("market_regime.bb_width_fallback", 0.04)
	}

	upper := mean + 2*std
	lower := mean - 2*std
	return (upper - lower) / mean
}

// priceRange computes (max-min)/current over the trailing window.
func (c *Classifier) priceRange(frame *types.Frame) float64 {
	closes := frame.TailSeries("close", c.priceRangeBars)
	if len(closes) == 0 {
		return 0
	}
	lo, hi := closes[0], closes[0]
	for _, v := range closes[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	current := frame.LastClose()
	if current <= 0 {
		return 0
	}
	return (hi - lo) / current
}

// emaSlope computes the relative EMA change over the lookback window,
// recomputing the EMA from closes when the feature column is absent.
func (c *Classifier) emaSlope(frame *types.Frame) float64 {
	ema := frame.Series("ema_20")
	if len(ema) == 0 {
		ema = computeEMA(frame.Series("close"), c.emaPeriod)
	}
	if len(ema) < c.emaLookback+1 {
		return 0
	}
	current := ema[len(ema)-1]
	past := ema[len(ema)-1-c.emaLookback]
	if past <= 0 || math.IsNaN(past) || math.IsNaN(current) {
		return 0
	}
	return (current - past) / past
}

// donchianWidth computes the channel width relative to the current close,
// preferring precomputed channel columns.
func (c *Classifier) donchianWidth(frame *types.Frame, currentClose float64) float64 {
	var hi, lo float64
	if h, ok := frame.Last("donchian_high_20"); ok {
		l, _ := frame.Last("donchian_low_20")
		hi, lo = h, l
	} else {
		highs := frame.TailSeries("high", c.donchianPeriod)
		lows := frame.TailSeries("low", c.donchianPeriod)
		if len(highs) == 0 || len(lows) == 0 {
			return 0
		}
		hi, lo = highs[0], lows[0]
		for _, v := range highs[1:] {
			if v > hi {
				hi = v
			}
		}
		for _, v := range lows[1:] {
			if v < lo {
				lo = v
			}
		}
	}
	if currentClose <= 0 {
		return 0
	}
	return (hi - lo) / currentClose
}

// computeEMA returns the exponential moving average series for the input.
func computeEMA(values []float64, period int) []float64 {
	if len(values) == 0 || period <= 0 {
		return nil
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}
