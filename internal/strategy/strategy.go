package strategy

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/pkg/types"
)

// Family tags a strategy with the market condition it is built for, so
// regime-driven selection can reason about whole families.
type Family string

const (
	FamilyRange Family = "range"
	FamilyTrend Family = "trend"
)

// Strategy is the contract every trading strategy implements. Analyze is
// the raw decision operation; callers go through GenerateSignal, which
// wraps it with input validation and history recording.
type Strategy interface {
	Name() string
	Family() Family
	Enabled() bool
	SetEnabled(enabled bool)
	RequiredFeatures() []string
	Analyze(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error)

	core() *Base
}

// Base carries the state shared by all strategies: identity, enablement,
// and a bounded signal history with a single writer (its own strategy).
type Base struct {
	name          string
	family        Family
	logger        *zap.Logger
	minDataPoints int
	maxHistory    int

	mu           sync.Mutex
	enabled      bool
	history      []*Signal
	lastSignal   *Signal
	totalSignals int
}

// NewBase constructs the shared strategy state. minDataPoints and
// maxHistory default to 20 and 1000 when non-positive.
func NewBase(name string, family Family, logger *zap.Logger, minDataPoints, maxHistory int) *Base {
	if minDataPoints <= 0 {
		minDataPoints = 20
	}
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Base{
		name:          name,
		family:        family,
		logger:        logger.Named(name),
		minDataPoints: minDataPoints,
		maxHistory:    maxHistory,
		enabled:       true,
	}
}

func (b *Base) Name() string   { return b.name }
func (b *Base) Family() Family { return b.family }
func (b *Base) core() *Base    { return b }

// Enabled reports whether the strategy participates in signal collection.
func (b *Base) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// SetEnabled toggles participation. Mutated only between cycles.
func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *Base) record(sig *Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, sig)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	b.lastSignal = sig
	b.totalSignals++
}

// LastSignal returns the most recent signal, or nil before the first one.
func (b *Base) LastSignal() *Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSignal
}

// SignalStats summarizes the bounded history.
type SignalStats struct {
	Total         int                         `json:"total"`
	ByAction      map[types.TradingAction]int `json:"byAction"`
	AvgConfidence float64                     `json:"avgConfidence"`
	LastSignalAt  time.Time                   `json:"lastSignalAt,omitempty"`
}

// Stats returns action counts and average confidence over the history.
func (b *Base) Stats() SignalStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := SignalStats{
		Total:    len(b.history),
		ByAction: make(map[types.TradingAction]int),
	}
	if len(b.history) == 0 {
		return stats
	}
	sum := 0.0
	for _, sig := range b.history {
		stats.ByAction[sig.Action]++
		sum += sig.Confidence
	}
	stats.AvgConfidence = sum / float64(len(b.history))
	stats.LastSignalAt = b.lastSignal.Timestamp
	return stats
}

// ResetHistory clears the bounded ring.
func (b *Base) ResetHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.lastSignal = nil
	b.totalSignals = 0
}

// GenerateSignal is the framed entry point for running a strategy: it
// validates the frame against the strategy's requirements, invokes
// Analyze, and appends the result to the strategy's history. Validation
// failures surface as strategy errors; they never reach Analyze.
func GenerateSignal(s Strategy, frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	base := s.core()

	if err := validateInput(s, frame, base.minDataPoints); err != nil {
		return nil, err
	}

	sig, err := s.Analyze(frame, multiTF)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", base.name, err)
	}

	base.record(sig)
	base.logger.Debug("Signal generated",
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence))
	return sig, nil
}

func validateInput(s Strategy, frame *types.Frame, minDataPoints int) error {
	if frame.IsEmpty() {
		return fmt.Errorf("strategy %s: empty frame", s.Name())
	}
	if missing := frame.MissingColumns(s.RequiredFeatures()); len(missing) > 0 {
		return fmt.Errorf("strategy %s: missing features %v", s.Name(), missing)
	}
	if frame.Len() < minDataPoints {
		return fmt.Errorf("strategy %s: insufficient data %d < %d", s.Name(), frame.Len(), minDataPoints)
	}
	return nil
}
