package strategy

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// Decision is the raw directional verdict a strategy hands to the builder
// before risk annotation.
type Decision struct {
	Action     types.TradingAction
	Confidence float64
	Strength   float64
	Reason     string
	Indicators map[string]float64
	Metadata   map[string]any
}

// SignalBuilder attaches stop-loss, take-profit, position size and risk
// ratio to directional decisions. ATR is the sizing unit: it is taken
// from the preferred timeframe frame when available, otherwise from the
// main frame. A zero or missing ATR produces an error-flagged HOLD rather
// than a directional signal with undefined risk geometry.
type SignalBuilder struct {
	logger *zap.Logger
	store  *config.ThresholdStore
	now    func() time.Time
}

// NewSignalBuilder creates a builder over the threshold store.
func NewSignalBuilder(logger *zap.Logger, store *config.ThresholdStore) *SignalBuilder {
	return &SignalBuilder{
		logger: logger.Named("signal-builder"),
		store:  store,
		now:    time.Now,
	}
}

// Build turns a decision into a fully risk-annotated signal. strategyID
// selects the per-strategy sl_multiplier from the store.
func (b *SignalBuilder) Build(strategyName, strategyID string, dec Decision, currentPrice float64,
	frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) *Signal {

	sig := &Signal{
		StrategyName: strategyName,
		Timestamp:    b.now(),
		Action:       dec.Action,
		Confidence:   clamp01(dec.Confidence),
		Strength:     clamp01(dec.Strength),
		CurrentPrice: decimal.NewFromFloat(currentPrice),
		Indicators:   dec.Indicators,
		Reason:       dec.Reason,
		Metadata:     dec.Metadata,
	}

	if !dec.Action.IsDirectional() {
		// Hold keeps confidence/strength but carries no risk fields.
		return sig
	}

	atr := b.pickATR(frame, multiTF)
	if atr <= 0 {
		b.logger.Warn("Zero or missing ATR, emitting error hold",
			zap.String("strategy", strategyName))
		return b.errorHold(strategyName, currentPrice, "atr_unavailable")
	}

	slMultiplier := b.store.Float("strategies."+strategyID+".sl_multiplier", 1.5)
	tpRatio := b.store.Float("position_management.take_profit.default_ratio", 1.29)
	baseSize := b.store.Float("position_management.base_position_size", 0.02)

	price := decimal.NewFromFloat(currentPrice)
	slDistance := decimal.NewFromFloat(atr * slMultiplier)
	tpDistance := decimal.NewFromFloat(atr * slMultiplier * tpRatio)

	if dec.Action == types.ActionBuy {
		sig.StopLoss = price.Sub(slDistance)
		sig.TakeProfit = price.Add(tpDistance)
	} else {
		sig.StopLoss = price.Add(slDistance)
		sig.TakeProfit = price.Sub(tpDistance)
	}
	sig.EntryPrice = price

	size := baseSize * sig.Confidence
	if size > baseSize {
		size = baseSize
	}
	if size < 0 {
		size = 0
	}
	sig.PositionSize = decimal.NewFromFloat(size)

	if currentPrice > 0 {
		sig.RiskRatio = price.Sub(sig.StopLoss).Abs().InexactFloat64() / currentPrice
	}

	return sig
}

// Hold builds a plain hold signal with no risk annotation.
func (b *SignalBuilder) Hold(strategyName string, currentPrice, confidence float64, reason string) *Signal {
	return &Signal{
		StrategyName: strategyName,
		Timestamp:    b.now(),
		Action:       types.ActionHold,
		Confidence:   clamp01(confidence),
		Strength:     0,
		CurrentPrice: decimal.NewFromFloat(currentPrice),
		Reason:       reason,
	}
}

func (b *SignalBuilder) errorHold(strategyName string, currentPrice float64, errTag string) *Signal {
	return &Signal{
		StrategyName: strategyName,
		Timestamp:    b.now(),
		Action:       types.ActionHold,
		Confidence:   0,
		Strength:     0,
		CurrentPrice: decimal.NewFromFloat(currentPrice),
		Reason:       "risk annotation failed",
		Metadata:     map[string]any{"error": errTag},
	}
}

// pickATR prefers the configured risk timeframe's ATR, falling back to
// the main frame.
func (b *SignalBuilder) pickATR(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) float64 {
	preferred := types.Timeframe(b.store.String("position_management.atr_timeframe", string(types.Timeframe15m)))
	if tf, ok := multiTF[preferred]; ok {
		if atr, ok := tf.Last("atr_14"); ok && atr > 0 {
			return atr
		}
	}
	atr, _ := frame.Last("atr_14")
	return atr
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
