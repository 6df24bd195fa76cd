package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// testStore returns a store over no files: every lookup resolves to its
// call-site default.
func testStore() *config.ThresholdStore {
	return config.NewThresholdStore(zap.NewNop(), "", "")
}

// frameWith builds an n-row frame of constant closes with the given
// column values replicated on every row.
func frameWith(n int, closePrice float64, columns map[string]float64) *types.Frame {
	candles := make([]types.OHLCV, n)
	now := time.Now()
	for i := range candles {
		d := decimal.NewFromFloat(closePrice)
		candles[i] = types.OHLCV{
			Timestamp: now.Add(time.Duration(i-n) * time.Hour),
			Open:      d, High: d, Low: d, Close: d,
			Volume: decimal.NewFromInt(10),
		}
	}
	frame := types.NewFrame(candles)
	for name, v := range columns {
		col := make([]float64, n)
		for i := range col {
			col[i] = v
		}
		frame.SetColumn(name, col)
	}
	return frame
}

// stubStrategy emits a fixed decision; used to drive the manager.
type stubStrategy struct {
	*Base
	action     types.TradingAction
	confidence float64
	err        error
}

func newStub(name string, action types.TradingAction, confidence float64) *stubStrategy {
	return &stubStrategy{
		Base:       NewBase(name, FamilyRange, zap.NewNop(), 1, 100),
		action:     action,
		confidence: confidence,
	}
}

func (s *stubStrategy) RequiredFeatures() []string { return []string{"close"} }

func (s *stubStrategy) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Signal{
		StrategyName: s.Name(),
		Timestamp:    time.Now(),
		Action:       s.action,
		Confidence:   s.confidence,
		Strength:     s.confidence,
		CurrentPrice: decimal.NewFromFloat(frame.LastClose()),
		Reason:       fmt.Sprintf("stub %s", s.Name()),
	}, nil
}
