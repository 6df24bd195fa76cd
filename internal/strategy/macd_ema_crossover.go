package strategy

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("macd_ema_crossover", FamilyTrend, newMACDEMACrossover)
}

// macdEMACrossover is a trend-following entry: a MACD/signal crossover in
// the direction of the EMA20-vs-EMA50 trend, confirmed by above-average
// volume. Confidence scales with MACD histogram strength and EMA
// divergence.
type macdEMACrossover struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	adxTrendThreshold    float64
	volumeRatioThreshold float64
	macdStrongThreshold  float64
	emaDivThreshold      float64
	minConfidence        float64
	holdConfidence       float64
}

func newMACDEMACrossover(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &macdEMACrossover{
		Base: NewBase("macd_ema_crossover", FamilyTrend, logger,
			store.Int("strategies.macd_ema_crossover.min_data_points", 20),
			store.Int("strategies.macd_ema_crossover.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		adxTrendThreshold:    store.Float("strategies.macd_ema_crossover.adx_trend_threshold", 25),
		volumeRatioThreshold: store.Float("strategies.macd_ema_crossover.volume_ratio_threshold", 1.1),
		macdStrongThreshold:  store.Float("strategies.macd_ema_crossover.macd_strong_threshold", 50000),
		emaDivThreshold:      store.Float("strategies.macd_ema_crossover.ema_divergence_threshold", 0.01),
		minConfidence:        store.Float("strategies.macd_ema_crossover.min_confidence", 0.35),
		holdConfidence:       store.Float("strategies.macd_ema_crossover.hold_confidence", 0.25),
	}
}

func (s *macdEMACrossover) RequiredFeatures() []string {
	return []string{"close", "macd", "macd_signal", "ema_20", "ema_50", "volume_ratio", "adx_14", "atr_14"}
}

func (s *macdEMACrossover) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()
	adx, _ := frame.Last("adx_14")
	if adx < s.adxTrendThreshold {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("range market (adx=%.1f)", adx)), nil
	}

	cross := crossover(frame, "macd", "macd_signal")
	ema20, _ := frame.Last("ema_20")
	ema50, _ := frame.Last("ema_50")
	volumeRatio, _ := frame.Last("volume_ratio")
	macd, _ := frame.Last("macd")
	macdSignal, _ := frame.Last("macd_signal")

	macdStrength := math.Min(math.Abs(macd-macdSignal)/s.macdStrongThreshold, 1.0)
	emaDivergence := 0.0
	if ema50 > 0 {
		emaDivergence = math.Min(math.Abs(ema20-ema50)/ema50/s.emaDivThreshold, 1.0)
	}

	indicators := map[string]float64{
		"macd": macd, "macd_signal": macdSignal,
		"ema_20": ema20, "ema_50": ema50, "volume_ratio": volumeRatio,
	}

	confidence := math.Min(s.minConfidence+macdStrength*0.15+emaDivergence*0.15, 0.65)

	var dec Decision
	switch {
	case cross == 1 && ema20 > ema50 && volumeRatio >= s.volumeRatioThreshold:
		dec = Decision{
			Action:     types.ActionBuy,
			Confidence: confidence,
			Strength:   macdStrength,
			Reason: fmt.Sprintf("golden cross in uptrend (strength=%.2f vol=%.2f)",
				macdStrength, volumeRatio),
			Indicators: indicators,
		}

	case cross == -1 && ema20 < ema50 && volumeRatio >= s.volumeRatioThreshold:
		dec = Decision{
			Action:     types.ActionSell,
			Confidence: confidence,
			Strength:   macdStrength,
			Reason: fmt.Sprintf("dead cross in downtrend (strength=%.2f vol=%.2f)",
				macdStrength, volumeRatio),
			Indicators: indicators,
		}

	default:
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "no confirmed crossover"), nil
	}

	return s.builder.Build(s.Name(), "macd_ema_crossover", dec, currentPrice, frame, multiTF), nil
}
