package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("donchian_channel", FamilyRange, newDonchianChannel)
}

// donchianChannel trades reversals off the Donchian channel extremities.
// The channel position (0 = 20-bar low, 1 = 20-bar high) is the primary
// feature; RSI confirmation widens the confidence, and weak signals are
// emitted from the intermediate zones with lower conviction.
type donchianChannel struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	reversalThreshold  float64
	middleZoneMin      float64
	middleZoneMax      float64
	minConfidence      float64
	weakSignalConf     float64
	holdConfidence     float64
	rsiOverbought      float64
	rsiOversold        float64
	rsiConfirmBonus    float64
}

func newDonchianChannel(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &donchianChannel{
		Base: NewBase("donchian_channel", FamilyRange, logger,
			store.Int("strategies.donchian_channel.min_data_points", 20),
			store.Int("strategies.donchian_channel.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		reversalThreshold: store.Float("strategies.donchian_channel.reversal_threshold", 0.05),
		middleZoneMin:     store.Float("strategies.donchian_channel.middle_zone_min", 0.4),
		middleZoneMax:     store.Float("strategies.donchian_channel.middle_zone_max", 0.6),
		minConfidence:     store.Float("strategies.donchian_channel.min_confidence", 0.30),
		weakSignalConf:    store.Float("strategies.donchian_channel.weak_signal_confidence", 0.25),
		holdConfidence:    store.Float("strategies.donchian_channel.hold_confidence", 0.25),
		rsiOverbought:     store.Float("strategies.donchian_channel.rsi_overbought", 65),
		rsiOversold:       store.Float("strategies.donchian_channel.rsi_oversold", 35),
		rsiConfirmBonus:   store.Float("strategies.donchian_channel.rsi_confirmation_bonus", 0.08),
	}
}

func (s *donchianChannel) RequiredFeatures() []string {
	return []string{"close", "donchian_high_20", "donchian_low_20", "channel_position", "rsi_14", "atr_14"}
}

func (s *donchianChannel) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()
	position, _ := frame.Last("channel_position")
	rsi, _ := frame.Last("rsi_14")
	uncertainty := marketUncertainty(s.store, frame)

	inLowerZone := position < s.reversalThreshold
	inUpperZone := position > 1-s.reversalThreshold
	inWeakBuyZone := position >= 0.25 && position < s.middleZoneMin
	inWeakSellZone := position > s.middleZoneMax && position <= 0.75

	indicators := map[string]float64{"channel_position": position, "rsi_14": rsi}

	var dec Decision
	switch {
	case inLowerZone:
		confidence := s.minConfidence + (1-position)*0.3
		if rsi < s.rsiOversold {
			confidence += s.rsiConfirmBonus
		}
		dec = Decision{
			Action:     types.ActionBuy,
			Confidence: clampRange(confidence+uncertainty, s.minConfidence, 0.70),
			Strength:   clampRange(1-position*2, 0, 1),
			Reason:     fmt.Sprintf("channel low reversal (pos=%.2f rsi=%.1f)", position, rsi),
			Indicators: indicators,
			Metadata:   map[string]any{"signal_kind": "donchian_reversal"},
		}

	case inUpperZone:
		confidence := s.minConfidence + position*0.3
		if rsi > s.rsiOverbought {
			confidence += s.rsiConfirmBonus
		}
		dec = Decision{
			Action:     types.ActionSell,
			Confidence: clampRange(confidence+uncertainty, s.minConfidence, 0.70),
			Strength:   clampRange((position-0.5)*2, 0, 1),
			Reason:     fmt.Sprintf("channel high reversal (pos=%.2f rsi=%.1f)", position, rsi),
			Indicators: indicators,
			Metadata:   map[string]any{"signal_kind": "donchian_reversal"},
		}

	case inWeakBuyZone:
		confidence := s.weakSignalConf + (s.middleZoneMin-position)*0.2
		dec = Decision{
			Action:     types.ActionBuy,
			Confidence: clampRange(confidence, 0.15, 0.45),
			Strength:   clampRange(s.middleZoneMin-position, 0, 1),
			Reason:     fmt.Sprintf("weak lower zone (pos=%.2f)", position),
			Indicators: indicators,
			Metadata:   map[string]any{"signal_kind": "donchian_weak"},
		}

	case inWeakSellZone:
		confidence := s.weakSignalConf + (position-s.middleZoneMax)*0.2
		dec = Decision{
			Action:     types.ActionSell,
			Confidence: clampRange(confidence, 0.15, 0.45),
			Strength:   clampRange(position-s.middleZoneMax, 0, 1),
			Reason:     fmt.Sprintf("weak upper zone (pos=%.2f)", position),
			Indicators: indicators,
			Metadata:   map[string]any{"signal_kind": "donchian_weak"},
		}

	default:
		confidence := clampRange(s.holdConfidence+uncertainty, 0.1, 0.5)
		return s.builder.Hold(s.Name(), currentPrice, confidence,
			fmt.Sprintf("middle zone (pos=%.2f)", position)), nil
	}

	return s.builder.Build(s.Name(), "donchian_channel", dec, currentPrice, frame, multiTF), nil
}
