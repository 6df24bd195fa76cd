package strategy

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("fibonacci_retracement", FamilyRange, newFibonacciRetracement)
}

// fibLevels are the retracement ratios checked for proximity.
var fibLevels = []float64{0.382, 0.5, 0.618}

// fibonacciRetracement looks for reversals at retracement levels of the
// most recent swing. A price sitting on a level trades back toward the
// swing direction when candle shape and volume add enough confirmation.
type fibonacciRetracement struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	lookback        int
	proximityRatio  float64
	minSwingRatio   float64
	minScore        int
	baseConfidence  float64
	scoreBonus      float64
	holdConfidence  float64
	volumeThreshold float64
}

func newFibonacciRetracement(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &fibonacciRetracement{
		Base: NewBase("fibonacci_retracement", FamilyRange, logger,
			store.Int("strategies.fibonacci_retracement.min_data_points", 20),
			store.Int("strategies.fibonacci_retracement.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		lookback:        store.Int("strategies.fibonacci_retracement.lookback_periods", 30),
		proximityRatio:  store.Float("strategies.fibonacci_retracement.level_proximity_ratio", 0.005),
		minSwingRatio:   store.Float("strategies.fibonacci_retracement.min_swing_ratio", 0.01),
		minScore:        store.Int("strategies.fibonacci_retracement.min_confirmation_score", 2),
		baseConfidence:  store.Float("strategies.fibonacci_retracement.base_confidence", 0.35),
		scoreBonus:      store.Float("strategies.fibonacci_retracement.score_bonus", 0.07),
		holdConfidence:  store.Float("strategies.fibonacci_retracement.hold_confidence", 0.25),
		volumeThreshold: store.Float("strategies.fibonacci_retracement.volume_ratio_threshold", 1.2),
	}
}

func (s *fibonacciRetracement) RequiredFeatures() []string {
	return []string{"close", "open", "high", "low", "volume", "atr_14"}
}

func (s *fibonacciRetracement) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, "close", "high", "low", "atr_14") {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()

	swingHigh, swingLow, trend, valid := s.findSwing(frame)
	if !valid {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "no usable swing"), nil
	}

	level, onLevel := s.nearestLevel(swingHigh, swingLow, trend, currentPrice)
	if !onLevel {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "price between levels"), nil
	}

	score := s.candleScore(frame, trend) + s.volumeScore(frame)
	if score < s.minScore {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("weak confirmation at %.1f%% level (score=%d)", level*100, score)), nil
	}

	// Trade back in the swing direction: an uptrend retracement buys the
	// dip, a downtrend retracement sells the bounce.
	action := types.ActionBuy
	if trend < 0 {
		action = types.ActionSell
	}

	confidence := clampRange(s.baseConfidence+float64(score-s.minScore)*s.scoreBonus, s.baseConfidence, 0.65)
	dec := Decision{
		Action:     action,
		Confidence: confidence,
		Strength:   clampRange(float64(score)/4, 0, 1),
		Reason:     fmt.Sprintf("retracement hold at %.1f%% (score=%d)", level*100, score),
		Indicators: map[string]float64{
			"fib_level":  level,
			"swing_high": swingHigh,
			"swing_low":  swingLow,
		},
	}
	return s.builder.Build(s.Name(), "fibonacci_retracement", dec, currentPrice, frame, multiTF), nil
}

// findSwing locates the recent swing extremes and their order: the later
// extreme sets the swing direction. A swing narrower than minSwingRatio
// of price is noise.
func (s *fibonacciRetracement) findSwing(frame *types.Frame) (high, low float64, trend int, valid bool) {
	highs := frame.TailSeries("high", s.lookback)
	lows := frame.TailSeries("low", s.lookback)
	if len(highs) < 10 || len(lows) < 10 {
		return 0, 0, 0, false
	}

	highIdx, lowIdx := 0, 0
	high, low = highs[0], lows[0]
	for i, v := range highs {
		if v > high {
			high, highIdx = v, i
		}
	}
	for i, v := range lows {
		if v < low {
			low, lowIdx = v, i
		}
	}

	price := frame.LastClose()
	if price <= 0 || high-low < price*s.minSwingRatio {
		return 0, 0, 0, false
	}

	switch {
	case lowIdx > highIdx:
		trend = -1
	case highIdx > lowIdx:
		trend = 1
	default:
		return 0, 0, 0, false
	}
	return high, low, trend, true
}

// nearestLevel reports the retracement level the price currently sits on.
// Levels are measured from the swing extreme the market is pulling back
// from.
func (s *fibonacciRetracement) nearestLevel(swingHigh, swingLow float64, trend int, price float64) (float64, bool) {
	span := swingHigh - swingLow
	for _, ratio := range fibLevels {
		var levelPrice float64
		if trend > 0 {
			levelPrice = swingHigh - span*ratio
		} else {
			levelPrice = swingLow + span*ratio
		}
		if math.Abs(price-levelPrice) <= price*s.proximityRatio {
			return ratio, true
		}
	}
	return 0, false
}

// candleScore rewards a last candle whose body points back toward the
// swing direction.
func (s *fibonacciRetracement) candleScore(frame *types.Frame, trend int) int {
	open, ok := frame.Last("open")
	if !ok {
		return 0
	}
	closePrice := frame.LastClose()
	high, _ := frame.Last("high")
	low, _ := frame.Last("low")

	span := high - low
	if span <= 0 {
		return 0
	}
	body := closePrice - open

	score := 0
	if trend > 0 && body > 0 {
		score++
		if closePrice > low+span*0.6 {
			score++
		}
	} else if trend < 0 && body < 0 {
		score++
		if closePrice < high-span*0.6 {
			score++
		}
	}
	return score
}

// volumeScore rewards above-average participation in the reversal bar.
func (s *fibonacciRetracement) volumeScore(frame *types.Frame) int {
	volumes := frame.TailSeries("volume", 20)
	if len(volumes) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range volumes[:len(volumes)-1] {
		mean += v
	}
	mean /= float64(len(volumes) - 1)
	if mean > 0 && volumes[len(volumes)-1] >= mean*s.volumeThreshold {
		return 1
	}
	return 0
}
