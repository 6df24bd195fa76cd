package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("multi_timeframe", FamilyTrend, newMultiTimeframe)
}

// multiTimeframe combines a higher-timeframe trend read (EMA50 slope and
// price location, with an ATR floor filtering dead markets) with a
// short-horizon entry vote (EMA20 cross, RSI extreme, pullback check).
// Both layers must agree before it trades.
type multiTimeframe struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	trendLookback   int
	trendMinSlope   float64
	entryLookback   int
	rsiOverbought   float64
	rsiOversold     float64
	atrFloorRatio   float64
	agreeConfidence float64
	holdConfidence  float64
}

func newMultiTimeframe(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &multiTimeframe{
		Base: NewBase("multi_timeframe", FamilyTrend, logger,
			store.Int("strategies.multi_timeframe.min_data_points", 20),
			store.Int("strategies.multi_timeframe.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		trendLookback:   store.Int("strategies.multi_timeframe.trend_lookback", 16),
		trendMinSlope:   store.Float("strategies.multi_timeframe.trend_min_slope", 0.003),
		entryLookback:   store.Int("strategies.multi_timeframe.entry_lookback", 12),
		rsiOverbought:   store.Float("strategies.multi_timeframe.rsi_overbought", 70),
		rsiOversold:     store.Float("strategies.multi_timeframe.rsi_oversold", 30),
		atrFloorRatio:   store.Float("strategies.multi_timeframe.atr_floor_ratio", 0.005),
		agreeConfidence: store.Float("strategies.multi_timeframe.agree_confidence", 0.50),
		holdConfidence:  store.Float("strategies.multi_timeframe.hold_confidence", 0.25),
	}
}

func (s *multiTimeframe) RequiredFeatures() []string {
	return []string{"close", "high", "low", "ema_20", "ema_50", "rsi_14", "atr_14"}
}

func (s *multiTimeframe) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()

	trendFrame := frame
	if tf, ok := multiTF[types.Timeframe4h]; ok && !tf.IsEmpty() {
		trendFrame = tf
	}
	entryFrame := frame
	if tf, ok := multiTF[types.Timeframe15m]; ok && !tf.IsEmpty() {
		entryFrame = tf
	}

	trendVote := s.trendDirection(trendFrame)
	entryVote := s.entryDirection(entryFrame)

	if trendVote == 0 || entryVote == 0 || trendVote != entryVote {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("timeframes disagree (trend=%+d entry=%+d)", trendVote, entryVote)), nil
	}

	action := types.ActionBuy
	if trendVote < 0 {
		action = types.ActionSell
	}
	dec := Decision{
		Action:     action,
		Confidence: s.agreeConfidence,
		Strength:   0.6,
		Reason:     fmt.Sprintf("trend and entry agree (%+d)", trendVote),
		Metadata:   map[string]any{"trend_vote": trendVote, "entry_vote": entryVote},
	}
	return s.builder.Build(s.Name(), "multi_timeframe", dec, currentPrice, frame, multiTF), nil
}

// trendDirection reads the higher-timeframe trend: EMA50 slope past the
// minimum, price on the right side of EMA50, and enough volatility to
// mean anything.
func (s *multiTimeframe) trendDirection(frame *types.Frame) int {
	ema50, ok := frame.Last("ema_50")
	if !ok || frame.Len() < s.trendLookback+1 {
		return 0
	}
	pastEMA50, ok := frame.At("ema_50", s.trendLookback)
	if !ok || pastEMA50 <= 0 {
		return 0
	}
	price := frame.LastClose()
	atr, _ := frame.Last("atr_14")
	if price <= 0 || atr/price <= s.atrFloorRatio {
		return 0
	}

	slope := (ema50 - pastEMA50) / pastEMA50
	switch {
	case slope > s.trendMinSlope && price > ema50:
		return 1
	case slope < -s.trendMinSlope && price < ema50:
		return -1
	}
	return 0
}

// entryDirection takes a 2-of-3 vote across the EMA20 cross, an RSI
// extreme, and a pullback check against the recent range.
func (s *multiTimeframe) entryDirection(frame *types.Frame) int {
	emaCross := crossover(frame, "close", "ema_20")

	rsiVote := 0
	if rsi, ok := frame.Last("rsi_14"); ok {
		switch {
		case rsi <= s.rsiOversold:
			rsiVote = 1
		case rsi >= s.rsiOverbought:
			rsiVote = -1
		}
	}

	pullbackVote := 0
	highs := frame.TailSeries("high", s.entryLookback)
	lows := frame.TailSeries("low", s.entryLookback)
	price := frame.LastClose()
	if len(highs) > 0 && len(lows) > 0 {
		recentHigh, recentLow := highs[0], lows[0]
		for _, v := range highs[1:] {
			if v > recentHigh {
				recentHigh = v
			}
		}
		for _, v := range lows[1:] {
			if v < recentLow {
				recentLow = v
			}
		}
		if emaCross == 1 && price > recentLow*1.005 {
			pullbackVote = 1
		} else if emaCross == -1 && price < recentHigh*0.995 {
			pullbackVote = -1
		}
	}

	buyVotes, sellVotes := 0, 0
	for _, v := range []int{emaCross, rsiVote, pullbackVote} {
		switch v {
		case 1:
			buyVotes++
		case -1:
			sellVotes++
		}
	}
	switch {
	case buyVotes >= 2:
		return 1
	case sellVotes >= 2:
		return -1
	}
	return 0
}
