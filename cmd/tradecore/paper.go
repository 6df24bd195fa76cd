package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/cycle"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// newPaperServices builds the simulated collaborators for paper runs.
func newPaperServices(logger *zap.Logger, store *config.ThresholdStore) cycle.Services {
	return cycle.Services{
		Data:      &paperData{logger: logger.Named("paper-data"), store: store},
		Features:  &paperFeatures{},
		ML:        &paperML{},
		Risk:      &paperRisk{},
		Execution: &paperExecution{logger: logger.Named("paper-exec"), store: store},
	}
}

// paperData synthesizes a drifting sine-wave market around a base price.
type paperData struct {
	logger *zap.Logger
	store  *config.ThresholdStore
}

func (d *paperData) FetchMultiTimeframe(ctx context.Context, symbol string, limit int) (map[types.Timeframe][]types.OHLCV, error) {
	base := d.store.Float("paper.base_price", 10000000)
	out := make(map[types.Timeframe][]types.OHLCV, 2)
	for tf, step := range map[types.Timeframe]time.Duration{
		types.Timeframe15m: 15 * time.Minute,
		types.Timeframe4h:  4 * time.Hour,
	} {
		candles := make([]types.OHLCV, limit)
		now := time.Now().Truncate(step)
		for i := range candles {
			phase := float64(limit-i) * 0.12
			center := base * (1 + 0.004*math.Sin(phase))
			spread := base * 0.0015
			candles[i] = types.OHLCV{
				Timestamp: now.Add(-time.Duration(limit-i) * step),
				Open:      decimal.NewFromFloat(center - spread/2),
				High:      decimal.NewFromFloat(center + spread),
				Low:       decimal.NewFromFloat(center - spread),
				Close:     decimal.NewFromFloat(center + spread/2),
				Volume:    decimal.NewFromFloat(5 + 2*math.Sin(phase*1.7)),
			}
		}
		out[tf] = candles
	}
	return out, nil
}

func (d *paperData) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	base := decimal.NewFromFloat(d.store.Float("paper.base_price", 10000000))
	return types.Ticker{
		Bid: base.Mul(decimal.NewFromFloat(0.9995)),
		Ask: base.Mul(decimal.NewFromFloat(1.0005)),
	}, nil
}

func (d *paperData) FetchBalance(ctx context.Context) (map[string]types.Balance, error) {
	total := decimal.NewFromFloat(d.store.Float("paper.balance", 1000000))
	return map[string]types.Balance{
		"JPY": {Total: total, Available: total},
	}, nil
}

// paperFeatures appends naive indicator columns. These are placeholders
// good enough to drive the pipeline, not real technical analysis.
type paperFeatures struct{}

func (f *paperFeatures) GenerateFeatures(ctx context.Context, candles []types.OHLCV) (*types.Frame, error) {
	frame := types.NewFrame(candles)
	n := frame.Len()
	if n == 0 {
		return frame, nil
	}

	closes := frame.Series("close")
	highs := frame.Series("high")
	lows := frame.Series("low")

	ema20 := emaSeries(closes, 20)
	ema50 := emaSeries(closes, 50)
	frame.SetColumn("ema_20", ema20)
	frame.SetColumn("ema_50", ema50)
	frame.SetColumn("open", openSeries(candles))

	atr := make([]float64, n)
	rsi := make([]float64, n)
	adx := make([]float64, n)
	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	bbUpper := make([]float64, n)
	bbLower := make([]float64, n)
	bbPosition := make([]float64, n)
	donchianHigh := make([]float64, n)
	donchianLow := make([]float64, n)
	channelPosition := make([]float64, n)
	stochK := make([]float64, n)
	stochD := make([]float64, n)
	macd := make([]float64, n)
	macdSignal := make([]float64, n)
	volumeRatio := make([]float64, n)

	for i := 0; i < n; i++ {
		lo := i - 13
		if lo < 0 {
			lo = 0
		}
		trSum, hi20, lo20 := 0.0, highs[i], lows[i]
		for j := lo; j <= i; j++ {
			trSum += highs[j] - lows[j]
		}
		atr[i] = trSum / float64(i-lo+1)

		win := i - 19
		if win < 0 {
			win = 0
		}
		mean, minC, maxC := 0.0, closes[win], closes[win]
		for j := win; j <= i; j++ {
			mean += closes[j]
			if closes[j] < minC {
				minC = closes[j]
			}
			if closes[j] > maxC {
				maxC = closes[j]
			}
			if highs[j] > hi20 {
				hi20 = highs[j]
			}
			if lows[j] < lo20 {
				lo20 = lows[j]
			}
		}
		mean /= float64(i - win + 1)
		variance := 0.0
		for j := win; j <= i; j++ {
			d := closes[j] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / math.Max(float64(i-win), 1))

		bbUpper[i] = mean + 2*std
		bbLower[i] = mean - 2*std
		if bbUpper[i] > bbLower[i] {
			bbPosition[i] = (closes[i] - bbLower[i]) / (bbUpper[i] - bbLower[i])
		} else {
			bbPosition[i] = 0.5
		}

		donchianHigh[i] = hi20
		donchianLow[i] = lo20
		if hi20 > lo20 {
			channelPosition[i] = (closes[i] - lo20) / (hi20 - lo20)
		} else {
			channelPosition[i] = 0.5
		}

		if maxC > minC {
			stochK[i] = (closes[i] - minC) / (maxC - minC) * 100
			rsi[i] = stochK[i]
		} else {
			stochK[i] = 50
			rsi[i] = 50
		}
		stochD[i] = stochK[i]
		if i >= 2 {
			stochD[i] = (stochK[i] + stochK[i-1] + stochK[i-2]) / 3
		}

		macd[i] = ema20[i] - ema50[i]
		macdSignal[i] = macd[i]
		if i > 0 {
			macdSignal[i] = 0.8*macdSignal[i-1] + 0.2*macd[i]
		}

		adx[i] = 15
		plusDI[i] = 20
		minusDI[i] = 20
		volumeRatio[i] = 1.0
	}

	frame.SetColumn("atr_14", atr)
	frame.SetColumn("rsi_14", rsi)
	frame.SetColumn("adx_14", adx)
	frame.SetColumn("plus_di_14", plusDI)
	frame.SetColumn("minus_di_14", minusDI)
	frame.SetColumn("bb_upper", bbUpper)
	frame.SetColumn("bb_lower", bbLower)
	frame.SetColumn("bb_position", bbPosition)
	frame.SetColumn("donchian_high_20", donchianHigh)
	frame.SetColumn("donchian_low_20", donchianLow)
	frame.SetColumn("channel_position", channelPosition)
	frame.SetColumn("stoch_k", stochK)
	frame.SetColumn("stoch_d", stochD)
	frame.SetColumn("macd", macd)
	frame.SetColumn("macd_signal", macdSignal)
	frame.SetColumn("volume_ratio", volumeRatio)
	return frame, nil
}

func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

func openSeries(candles []types.OHLCV) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Open.InexactFloat64()
	}
	return out
}

// paperML always predicts hold with moderate confidence, so paper runs
// exercise the strategy-only fusion path.
type paperML struct{}

func (m *paperML) EnsureCorrectModel(nFeatures int) error { return nil }

func (m *paperML) Predict(ctx context.Context, frame *types.Frame) ([]int, error) {
	return []int{types.MLClassHold}, nil
}

func (m *paperML) PredictProba(ctx context.Context, frame *types.Frame) ([][]float64, error) {
	return [][]float64{{0.25, 0.5, 0.25}}, nil
}

// paperRisk approves directional signals that carry risk annotation.
type paperRisk struct{}

func (r *paperRisk) EvaluateTradeOpportunity(ctx context.Context, req cycle.RiskRequest) (*types.TradeEvaluation, error) {
	sig := req.StrategySignal
	if sig == nil || !sig.IsEntry() {
		return &types.TradeEvaluation{
			Decision:      types.DecisionDenied,
			Side:          types.ActionHold,
			DenialReasons: []string{"no directional signal"},
		}, nil
	}
	if !sig.HasRiskAnnotation() {
		return &types.TradeEvaluation{
			Decision:      types.DecisionDenied,
			Side:          sig.Action,
			DenialReasons: []string{"signal missing risk annotation"},
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

// paperExecution fills everything instantly and never holds positions.
type paperExecution struct {
	logger *zap.Logger
	store  *config.ThresholdStore
}

func (e *paperExecution) ExecuteTrade(ctx context.Context, eval *types.TradeEvaluation) (*types.ExecutionResult, error) {
	e.logger.Info("Paper fill",
		zap.String("side", string(eval.Side)),
		zap.String("size", eval.PositionSize.String()))
	return &types.ExecutionResult{
		ID:         uuid.NewString(),
		Success:    true,
		Side:       eval.Side,
		FilledSize: eval.PositionSize,
		ExecutedAt: time.Now(),
	}, nil
}

func (e *paperExecution) CheckStopConditions(ctx context.Context) (*types.ExecutionResult, error) {
	return nil, nil
}

func (e *paperExecution) CheckPositionLimits(eval *types.TradeEvaluation) error {
	maxSize := decimal.NewFromFloat(e.store.Float("position_management.base_position_size", 0.02))
	if eval.PositionSize.GreaterThan(maxSize) {
		return fmt.Errorf("position size %s exceeds limit %s", eval.PositionSize, maxSize)
	}
	return nil
}

func (e *paperExecution) CurrentBalance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromFloat(e.store.Float("paper.balance", 1000000)), nil
}
