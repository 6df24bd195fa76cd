// Package selector maps the classified market regime to per-strategy
// weights and per-regime position limits.
package selector

import (
	"math"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/regime"
)

// weightSumTolerance is the accepted drift around the two legal weight
// sums (1.0 for an active regime, 0.0 for a disabled one).
const weightSumTolerance = 0.01

// Selector resolves regime-dependent strategy weights. Every known
// strategy appears in the result, with an explicit zero for strategies a
// regime does not use, so the manager's weight update is unambiguous.
type Selector struct {
	logger *zap.Logger
	store  *config.ThresholdStore
	names  []string
}

// New creates a selector covering the given strategy names (the loaded
// set, in load order).
func New(logger *zap.Logger, store *config.ThresholdStore, names []string) *Selector {
	return &Selector{
		logger: logger.Named("strategy-selector"),
		store:  store,
		names:  append([]string(nil), names...),
	}
}

// Enabled reports whether dynamic selection is switched on.
func (s *Selector) Enabled() bool {
	return s.store.Bool("dynamic_strategy_selection.enabled", true)
}

// RegimeWeights returns the weight map for a regime. Store-configured
// mappings are validated (sum within tolerance of 1.0, or all-zero for a
// disabled regime); invalid mappings are logged and replaced by the
// built-in default for that regime.
func (s *Selector) RegimeWeights(r regime.Type) map[string]float64 {
	configured := s.store.FloatMap("dynamic_strategy_selection.regime_strategy_mapping." + string(r))
	defaults := s.defaultWeights(r)

	weights := defaults
	if configured != nil {
		if ValidateWeights(configured) {
			weights = configured
		} else {
			s.logger.Warn("Configured regime weights invalid, using defaults",
				zap.String("regime", string(r)),
				zap.Float64("sum", weightSum(configured)))
		}
	}

	full := make(map[string]float64, len(s.names))
	for _, name := range s.names {
		full[name] = 0
	}
	for name, w := range weights {
		if _, known := full[name]; known {
			full[name] = w
		} else {
			s.logger.Warn("Weight for unknown strategy dropped",
				zap.String("strategy", name), zap.String("regime", string(r)))
		}
	}

	if r.IsHighRisk() {
		s.logger.Warn("High volatility regime: all strategies disabled (wait mode)")
	}
	return full
}

// PositionLimit returns the maximum concurrent positions for a regime.
func (s *Selector) PositionLimit(r regime.Type) int {
	defaults := map[regime.Type]int{
		regime.TightRange:     6,
		regime.NormalRange:    5,
		regime.Trending:       3,
		regime.HighVolatility: 0,
	}
	limit := s.store.Int("dynamic_strategy_selection.position_limits."+string(r), defaults[r])
	if limit < 0 {
		limit = 0
	}
	return limit
}

// ValidateWeights accepts a mapping whose sum is within tolerance of 1.0,
// or within tolerance of 0.0 (all-zero means trading is disabled for the
// regime). An empty mapping is valid for the same reason.
func ValidateWeights(weights map[string]float64) bool {
	if len(weights) == 0 {
		return true
	}
	sum := weightSum(weights)
	return math.Abs(sum-1) <= weightSumTolerance || math.Abs(sum) <= weightSumTolerance
}

func weightSum(weights map[string]float64) float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	return sum
}

// defaultWeights is the built-in fallback per regime. Range regimes lean
// on the mean-reversion family; the trending regime leans on the trend
// family; high volatility zeroes everything.
func (s *Selector) defaultWeights(r regime.Type) map[string]float64 {
	switch r {
	case regime.TightRange:
		return map[string]float64{
			"atr_exhaustion":   0.45,
			"donchian_channel": 0.30,
			"bb_reversal":      0.25,
		}
	case regime.NormalRange:
		return map[string]float64{
			"atr_exhaustion":       0.35,
			"donchian_channel":     0.25,
			"bb_reversal":          0.15,
			"stochastic_reversal":  0.10,
			"adx_trend":            0.15,
		}
	case regime.Trending:
		return map[string]float64{
			"adx_trend":          0.35,
			"macd_ema_crossover": 0.25,
			"multi_timeframe":    0.15,
			"mochipoy_alert":     0.15,
			"atr_exhaustion":     0.10,
		}
	case regime.HighVolatility:
		return map[string]float64{}
	default:
		return map[string]float64{}
	}
}
