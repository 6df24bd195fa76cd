package cycle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmuraoka/trading-core/internal/strategy"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// DataService supplies market data from the exchange.
type DataService interface {
	FetchMultiTimeframe(ctx context.Context, symbol string, limit int) (map[types.Timeframe][]types.OHLCV, error)
	FetchTicker(ctx context.Context, symbol string) (types.Ticker, error)
	FetchBalance(ctx context.Context) (map[string]types.Balance, error)
}

// FeatureService enriches raw candles with indicator columns. The
// strategies' RequiredFeatures enumerate what it must produce.
type FeatureService interface {
	GenerateFeatures(ctx context.Context, candles []types.OHLCV) (*types.Frame, error)
}

// MLService is the external model runner. Predict and PredictProba return
// one entry per frame row; the cycle consumes only the last.
type MLService interface {
	EnsureCorrectModel(nFeatures int) error
	Predict(ctx context.Context, frame *types.Frame) ([]int, error)
	PredictProba(ctx context.Context, frame *types.Frame) ([][]float64, error)
}

// RiskRequest is the input contract of the risk service.
type RiskRequest struct {
	MLPrediction   types.MLPrediction
	StrategySignal *strategy.Signal
	MarketData     *types.Frame
	CurrentBalance decimal.Decimal
	Bid            decimal.Decimal
	Ask            decimal.Decimal
	APILatency     time.Duration
	ReferenceTime  time.Time
}

// RiskService turns a fused signal plus market context into a trade
// evaluation. It is expected to deny rather than fail; errors here map to
// a denied evaluation locally.
type RiskService interface {
	EvaluateTradeOpportunity(ctx context.Context, req RiskRequest) (*types.TradeEvaluation, error)
}

// ExecutionService places approved evaluations and manages open-position
// stop conditions. CheckPositionLimits is the pre-execution limit hook.
type ExecutionService interface {
	ExecuteTrade(ctx context.Context, eval *types.TradeEvaluation) (*types.ExecutionResult, error)
	CheckStopConditions(ctx context.Context) (*types.ExecutionResult, error)
	CheckPositionLimits(eval *types.TradeEvaluation) error
	CurrentBalance(ctx context.Context) (decimal.Decimal, error)
}

// SafetyMonitor exposes last-line safety state for pre-execution checks.
// A nil monitor disables its checks.
type SafetyMonitor interface {
	CurrentVolatility(ctx context.Context) (float64, error)
	EmergencyActive(ctx context.Context) (bool, string)
}
