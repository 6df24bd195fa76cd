// Package types provides shared type definitions for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingAction is the directional decision carried by a signal.
type TradingAction string

const (
	ActionBuy   TradingAction = "buy"
	ActionSell  TradingAction = "sell"
	ActionHold  TradingAction = "hold"
	ActionClose TradingAction = "close"
)

// IsDirectional reports whether the action opens or flips exposure.
func (a TradingAction) IsDirectional() bool {
	return a == ActionBuy || a == ActionSell
}

// Timeframe represents trading timeframes.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Ticker is a best bid/ask snapshot.
type Ticker struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// Balance holds total and available funds for one currency.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// MLPrediction is the last-row output of the external model service.
// Prediction uses the three-class encoding 0=sell, 1=hold, 2=buy.
type MLPrediction struct {
	Prediction int     `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

const (
	MLClassSell = 0
	MLClassHold = 1
	MLClassBuy  = 2
)

// Action maps the three-class prediction integer to a trading action.
// Unknown classes map to hold.
func (p MLPrediction) Action() TradingAction {
	switch p.Prediction {
	case MLClassSell:
		return ActionSell
	case MLClassBuy:
		return ActionBuy
	default:
		return ActionHold
	}
}

// RiskDecision is the outcome of a risk evaluation.
type RiskDecision string

const (
	DecisionApproved RiskDecision = "approved"
	DecisionDenied   RiskDecision = "denied"
)

// TradeEvaluation is produced by the risk service and consumed, unmodified,
// by the execution pipeline. A denied evaluation carries at least one
// denial reason.
type TradeEvaluation struct {
	Decision      RiskDecision    `json:"decision"`
	Side          TradingAction   `json:"side"`
	PositionSize  decimal.Decimal `json:"positionSize"`
	StopLoss      decimal.Decimal `json:"stopLoss"`
	TakeProfit    decimal.Decimal `json:"takeProfit"`
	RiskScore     float64         `json:"riskScore"`
	DenialReasons []string        `json:"denialReasons,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

// Approved reports whether the evaluation cleared risk review.
func (e *TradeEvaluation) Approved() bool {
	return e != nil && e.Decision == DecisionApproved
}

// ExecutionResult is the structured record returned by the execution service.
type ExecutionResult struct {
	ID         string          `json:"id"`
	Success    bool            `json:"success"`
	Side       TradingAction   `json:"side"`
	FilledSize decimal.Decimal `json:"filledSize"`
	AvgPrice   decimal.Decimal `json:"avgPrice"`
	Error      string          `json:"error,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}
