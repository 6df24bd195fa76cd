package cycle

import (
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/internal/strategy"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// Fuser combines the strategy signal with the ML prediction under
// regime-specific weights. It never propagates a failure: when fusion is
// disabled, when ML confidence is too low, or when anything goes wrong,
// the strategy signal passes through unchanged.
type Fuser struct {
	logger *zap.Logger
	store  *config.ThresholdStore
}

// NewFuser creates a fuser over the threshold store.
func NewFuser(logger *zap.Logger, store *config.ThresholdStore) *Fuser {
	return &Fuser{logger: logger.Named("signal-fusion"), store: store}
}

// fusionParams are the regime-resolved tuning knobs. Per-regime keys
// under ml.regime_ml_integration.<regime> take precedence; missing keys
// fall back to the global ml.strategy_integration values.
type fusionParams struct {
	minMLConfidence  float64
	highConfidence   float64
	mlWeight         float64
	strategyWeight   float64
	agreementBonus   float64
	disagreementPen  float64
	holdConversion   float64
	regimeOverridden bool
}

func (f *Fuser) params(r regime.Type) fusionParams {
	p := fusionParams{
		minMLConfidence: f.store.Float("ml.strategy_integration.min_ml_confidence", 0.6),
		highConfidence:  f.store.Float("ml.strategy_integration.high_confidence_threshold", 0.8),
		mlWeight:        f.store.Float("ml.strategy_integration.ml_weight", 0.3),
		strategyWeight:  f.store.Float("ml.strategy_integration.strategy_weight", 0.7),
		agreementBonus:  f.store.Float("ml.strategy_integration.agreement_bonus", 1.2),
		disagreementPen: f.store.Float("ml.strategy_integration.disagreement_penalty", 0.7),
		holdConversion:  f.store.Float("ml.strategy_integration.hold_conversion_threshold", 0.4),
	}

	if !f.store.Bool("ml.regime_ml_integration.enabled", false) {
		return p
	}
	base := "ml.regime_ml_integration." + string(r) + "."
	if v, ok := f.store.FloatOk(base + "min_ml_confidence"); ok {
		p.minMLConfidence = v
		p.regimeOverridden = true
	}
	if v, ok := f.store.FloatOk(base + "high_confidence_threshold"); ok {
		p.highConfidence = v
		p.regimeOverridden = true
	}
	if v, ok := f.store.FloatOk(base + "ml_weight"); ok {
		p.mlWeight = v
		p.regimeOverridden = true
	}
	if v, ok := f.store.FloatOk(base + "strategy_weight"); ok {
		p.strategyWeight = v
		p.regimeOverridden = true
	}
	if v, ok := f.store.FloatOk(base + "agreement_bonus"); ok {
		p.agreementBonus = v
		p.regimeOverridden = true
	}
	if v, ok := f.store.FloatOk(base + "disagreement_penalty"); ok {
		p.disagreementPen = v
		p.regimeOverridden = true
	}
	return p
}

// Fuse applies the ML adjustment to the strategy signal for the given
// regime and returns a new signal; the input is never mutated.
func (f *Fuser) Fuse(ml types.MLPrediction, sig *strategy.Signal, r regime.Type) *strategy.Signal {
	if !f.store.Bool("ml.strategy_integration.enabled", true) {
		f.logger.Debug("Fusion disabled, passing strategy signal through")
		return sig
	}

	p := f.params(r)

	if ml.Confidence < p.minMLConfidence {
		f.logger.Info("ML confidence below minimum, strategy signal only",
			zap.Float64("mlConfidence", ml.Confidence),
			zap.Float64("minimum", p.minMLConfidence))
		return sig
	}

	mlAction := ml.Action()
	// Strict equality: hold agrees only with hold.
	isAgreement := mlAction == sig.Action

	baseConfidence := sig.Confidence*p.strategyWeight + ml.Confidence*p.mlWeight
	adjusted := baseConfidence

	if ml.Confidence >= p.highConfidence {
		if isAgreement {
			adjusted = baseConfidence * p.agreementBonus
			if adjusted > 1 {
				adjusted = 1
			}
			f.logger.Info("ML agreement bonus applied",
				zap.String("regime", string(r)),
				zap.Float64("base", baseConfidence),
				zap.Float64("adjusted", adjusted))
		} else {
			adjusted = baseConfidence * p.disagreementPen
			f.logger.Warn("ML disagreement penalty applied",
				zap.String("regime", string(r)),
				zap.String("strategyAction", string(sig.Action)),
				zap.String("mlAction", string(mlAction)),
				zap.Float64("adjusted", adjusted))

			// Disagreement at rock-bottom confidence converts to hold.
			// The conversion threshold never applies on agreement.
			if adjusted < p.holdConversion {
				out := sig.Clone()
				out.Action = types.ActionHold
				out.Confidence = adjusted
				out.Strength = adjusted
				out.Reason = "ml disagreement at low confidence"
				out.Metadata = mergeMetadata(sig.Metadata, map[string]any{
					"ml_adjusted":       true,
					"original_action":   string(sig.Action),
					"ml_action":         string(mlAction),
					"adjustment_reason": "ml_disagreement_low_confidence",
					"ml_confidence":     ml.Confidence,
					"regime":            string(r),
				})
				return out
			}
		}
	}

	out := sig.Clone()
	out.Confidence = adjusted
	out.Strength = adjusted
	out.Metadata = mergeMetadata(sig.Metadata, map[string]any{
		"ml_adjusted":         true,
		"is_agreement":        isAgreement,
		"ml_action":           string(mlAction),
		"ml_confidence":       ml.Confidence,
		"original_confidence": sig.Confidence,
		"ml_weight":           p.mlWeight,
		"strategy_weight":     p.strategyWeight,
		"regime":              string(r),
		"regime_overridden":   p.regimeOverridden,
	})
	return out
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
