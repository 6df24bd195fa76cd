// Package strategy implements the trading strategies, their registry and
// loader, the multi-strategy manager, and risk annotation of signals.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmuraoka/trading-core/pkg/types"
)

// Signal is the standardized decision emitted by a strategy or by the
// manager's integration step. Zero-valued price fields mean "not set":
// only directional signals that passed risk annotation carry entry,
// stop-loss, take-profit and position size.
type Signal struct {
	StrategyName string              `json:"strategyName"`
	Timestamp    time.Time           `json:"timestamp"`
	Action       types.TradingAction `json:"action"`
	Confidence   float64             `json:"confidence"`
	Strength     float64             `json:"strength"`

	CurrentPrice decimal.Decimal `json:"currentPrice"`
	EntryPrice   decimal.Decimal `json:"entryPrice,omitempty"`
	StopLoss     decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit   decimal.Decimal `json:"takeProfit,omitempty"`

	PositionSize decimal.Decimal `json:"positionSize,omitempty"`
	RiskRatio    float64         `json:"riskRatio,omitempty"`

	Indicators map[string]float64 `json:"indicators,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
}

// IsEntry reports whether the signal opens a position.
func (s *Signal) IsEntry() bool {
	return s.Action == types.ActionBuy || s.Action == types.ActionSell
}

// IsHold reports whether the signal recommends staying flat.
func (s *Signal) IsHold() bool { return s.Action == types.ActionHold }

// HasRiskAnnotation reports whether stop-loss and take-profit are attached.
func (s *Signal) HasRiskAnnotation() bool {
	return !s.StopLoss.IsZero() && !s.TakeProfit.IsZero()
}

// EncodedValue returns the signed confidence encoding consumed by the ML
// feature pipeline: +confidence for buy, -confidence for sell, 0 for
// everything else.
func (s *Signal) EncodedValue() float64 {
	switch s.Action {
	case types.ActionBuy:
		return s.Confidence
	case types.ActionSell:
		return -s.Confidence
	default:
		return 0
	}
}

// Clone returns a shallow copy with independent metadata and indicator maps.
func (s *Signal) Clone() *Signal {
	out := *s
	if s.Indicators != nil {
		out.Indicators = make(map[string]float64, len(s.Indicators))
		for k, v := range s.Indicators {
			out.Indicators[k] = v
		}
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
