package cycle_test

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hmuraoka/trading-core/internal/cycle"
	"github.com/hmuraoka/trading-core/pkg/types"
)

type fakeData struct {
	candles  map[types.Timeframe][]types.OHLCV
	fetchErr error
	ticker   types.Ticker
	balance  decimal.Decimal
	tickErr  error
}

func (f *fakeData) FetchMultiTimeframe(ctx context.Context, symbol string, limit int) (map[types.Timeframe][]types.OHLCV, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.candles, nil
}

func (f *fakeData) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	if f.tickErr != nil {
		return types.Ticker{}, f.tickErr
	}
	return f.ticker, nil
}

func (f *fakeData) FetchBalance(ctx context.Context) (map[string]types.Balance, error) {
	return map[string]types.Balance{"JPY": {Total: f.balance, Available: f.balance}}, nil
}

// fakeFeatures turns candles into a frame and stamps the configured
// constant columns onto it.
type fakeFeatures struct {
	columns map[string]float64
	err     error
}

func (f *fakeFeatures) GenerateFeatures(ctx context.Context, candles []types.OHLCV) (*types.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	frame := types.NewFrame(candles)
	for name, v := range f.columns {
		col := make([]float64, frame.Len())
		for i := range col {
			col[i] = v
		}
		frame.SetColumn(name, col)
	}
	return frame, nil
}

type fakeML struct {
	prediction int
	proba      []float64
	err        error
}

func (f *fakeML) EnsureCorrectModel(nFeatures int) error { return f.err }

func (f *fakeML) Predict(ctx context.Context, frame *types.Frame) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []int{f.prediction}, nil
}

func (f *fakeML) PredictProba(ctx context.Context, frame *types.Frame) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return [][]float64{f.proba}, nil
}

// fakeRisk approves directional annotated signals, denies the rest.
type fakeRisk struct {
	evaluate func(req cycle.RiskRequest) (*types.TradeEvaluation, error)
	lastReq  *cycle.RiskRequest
}

func (f *fakeRisk) EvaluateTradeOpportunity(ctx context.Context, req cycle.RiskRequest) (*types.TradeEvaluation, error) {
	f.lastReq = &req
	if f.evaluate != nil {
		return f.evaluate(req)
	}
	sig := req.StrategySignal
	if sig == nil || !sig.IsEntry() {
		return &types.TradeEvaluation{
			Decision:      types.DecisionDenied,
			Side:          types.ActionHold,
			DenialReasons: []string{"no directional signal"},
		}, nil
	}
	return &types.TradeEvaluation{
		Decision:     types.DecisionApproved,
		Side:         sig.Action,
		PositionSize: sig.PositionSize,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		RiskScore:    1 - sig.Confidence,
	}, nil
}

type fakeExecution struct {
	balance    decimal.Decimal
	balanceErr error
	limitErr   error
	execErr    error
	executed   []*types.TradeEvaluation
	stopChecks int
}

func (f *fakeExecution) ExecuteTrade(ctx context.Context, eval *types.TradeEvaluation) (*types.ExecutionResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.executed = append(f.executed, eval)
	return &types.ExecutionResult{ID: "exec-1", Success: true, Side: eval.Side, ExecutedAt: time.Now()}, nil
}

func (f *fakeExecution) CheckStopConditions(ctx context.Context) (*types.ExecutionResult, error) {
	f.stopChecks++
	return nil, nil
}

func (f *fakeExecution) CheckPositionLimits(eval *types.TradeEvaluation) error {
	return f.limitErr
}

func (f *fakeExecution) CurrentBalance(ctx context.Context) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

type fakeSafety struct {
	volatility float64
	emergency  bool
	reason     string
}

func (f *fakeSafety) CurrentVolatility(ctx context.Context) (float64, error) {
	return f.volatility, nil
}

func (f *fakeSafety) EmergencyActive(ctx context.Context) (bool, string) {
	return f.emergency, f.reason
}

var errBoom = errors.New("boom")
