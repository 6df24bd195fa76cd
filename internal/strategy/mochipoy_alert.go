package strategy

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func init() {
	Register("mochipoy_alert", FamilyTrend, newMochipoyAlert)
}

// mochipoyAlert is a simple trend-following majority vote over three
// indicators: EMA20-vs-EMA50 trend direction, MACD zero-line momentum,
// and an RCI (rank correlation index) reversal read computed from recent
// closes. Two agreeing votes enter; three raise the conviction.
type mochipoyAlert struct {
	*Base
	store   *config.ThresholdStore
	builder *SignalBuilder

	rciPeriod      int
	rciOverbought  float64
	rciOversold    float64
	minConfidence  float64
	holdConfidence float64
}

func newMochipoyAlert(logger *zap.Logger, store *config.ThresholdStore) Strategy {
	return &mochipoyAlert{
		Base: NewBase("mochipoy_alert", FamilyTrend, logger,
			store.Int("strategies.mochipoy_alert.min_data_points", 20),
			store.Int("strategies.mochipoy_alert.max_signal_history", 1000)),
		store:   store,
		builder: NewSignalBuilder(logger, store),

		rciPeriod:      store.Int("strategies.mochipoy_alert.rci_period", 14),
		rciOverbought:  store.Float("strategies.mochipoy_alert.rci_overbought", 80),
		rciOversold:    store.Float("strategies.mochipoy_alert.rci_oversold", -80),
		minConfidence:  store.Float("strategies.mochipoy_alert.min_confidence", 0.4),
		holdConfidence: store.Float("strategies.mochipoy_alert.hold_confidence", 0.5),
	}
}

func (s *mochipoyAlert) RequiredFeatures() []string {
	return []string{"close", "ema_20", "ema_50", "macd", "atr_14"}
}

func (s *mochipoyAlert) Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	if !lastRowValid(frame, s.RequiredFeatures()...) {
		return s.builder.Hold(s.Name(), frame.LastClose(), s.holdConfidence, "invalid last row"), nil
	}

	currentPrice := frame.LastClose()

	emaVote := s.emaTrendVote(frame)
	macdVote := s.macdMomentumVote(frame)
	rci := rankCorrelationIndex(frame.TailSeries("close", s.rciPeriod))
	rciVote := 0
	switch {
	case rci >= s.rciOverbought:
		rciVote = -1
	case rci <= s.rciOversold:
		rciVote = 1
	}

	buyVotes, sellVotes := 0, 0
	for _, v := range []int{emaVote, macdVote, rciVote} {
		switch v {
		case 1:
			buyVotes++
		case -1:
			sellVotes++
		}
	}

	var action types.TradingAction
	var confidence float64
	switch {
	case buyVotes >= 2:
		action = types.ActionBuy
		confidence = 0.6 + float64(buyVotes-2)*0.2
	case sellVotes >= 2:
		action = types.ActionSell
		confidence = 0.6 + float64(sellVotes-2)*0.2
	default:
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence,
			fmt.Sprintf("no majority (ema=%+d macd=%+d rci=%+d)", emaVote, macdVote, rciVote)), nil
	}

	if confidence < s.minConfidence {
		return s.builder.Hold(s.Name(), currentPrice, s.holdConfidence, "confidence below minimum"), nil
	}

	dec := Decision{
		Action:     action,
		Confidence: confidence,
		Strength:   confidence,
		Reason: fmt.Sprintf("majority %s (buy=%d sell=%d rci=%.0f)",
			action, buyVotes, sellVotes, rci),
		Indicators: map[string]float64{"rci": rci},
		Metadata: map[string]any{
			"ema_vote":  emaVote,
			"macd_vote": macdVote,
			"rci_vote":  rciVote,
		},
	}
	return s.builder.Build(s.Name(), "mochipoy_alert", dec, currentPrice, frame, multiTF), nil
}

func (s *mochipoyAlert) emaTrendVote(frame *types.Frame) int {
	ema20, _ := frame.Last("ema_20")
	ema50, _ := frame.Last("ema_50")
	switch {
	case ema20 > ema50:
		return 1
	case ema20 < ema50:
		return -1
	}
	return 0
}

func (s *mochipoyAlert) macdMomentumVote(frame *types.Frame) int {
	macd, _ := frame.Last("macd")
	switch {
	case macd > 0:
		return 1
	case macd < 0:
		return -1
	}
	return 0
}

// rankCorrelationIndex computes the RCI over the window: the Spearman
// rank correlation between price rank (descending, ties share the
// minimum rank) and time rank (latest bar ranks first), scaled to
// [-100, 100]. A short window reads as neutral.
func rankCorrelationIndex(closes []float64) float64 {
	n := len(closes)
	if n < 2 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return closes[idx[a]] > closes[idx[b]] })

	priceRank := make([]float64, n)
	for pos, i := range idx {
		rank := pos + 1
		// Ties take the smallest rank in their run.
		for pos > 0 && closes[idx[pos-1]] == closes[i] {
			pos--
			rank = int(priceRank[idx[pos]])
		}
		priceRank[i] = float64(rank)
	}

	dSquaredSum := 0.0
	for i := 0; i < n; i++ {
		timeRank := float64(n - i)
		d := priceRank[i] - timeRank
		dSquaredSum += d * d
	}

	nf := float64(n)
	return (1 - (6*dSquaredSum)/(nf*(nf*nf-1))) * 100
}
