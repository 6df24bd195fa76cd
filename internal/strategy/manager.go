package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// ManagerName is the strategy name stamped on integrated signals.
const ManagerName = "StrategyManager"

// Manager runs every enabled strategy, resolves conflicting directional
// votes through weighted-confidence integration, and emits one signal.
type Manager struct {
	logger *zap.Logger
	store  *config.ThresholdStore
	now    func() time.Time

	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
	weights    map[string]float64

	totalDecisions  int
	signalConflicts int
	lastIntegrated  *Signal
}

// NewManager creates an empty manager; strategies come in via Register.
func NewManager(logger *zap.Logger, store *config.ThresholdStore) *Manager {
	return &Manager{
		logger:     logger.Named("strategy-manager"),
		store:      store,
		now:        time.Now,
		strategies: make(map[string]Strategy),
		weights:    make(map[string]float64),
	}
}

// Register adds a strategy with its initial weight. Weights outside [0,1]
// are rejected.
func (m *Manager) Register(s Strategy, weight float64) error {
	if weight < 0 || weight > 1 {
		return fmt.Errorf("strategy %s: weight %v out of [0,1]", s.Name(), weight)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.strategies[s.Name()]; !exists {
		m.order = append(m.order, s.Name())
	}
	m.strategies[s.Name()] = s
	m.weights[s.Name()] = weight
	m.logger.Info("Strategy registered",
		zap.String("strategy", s.Name()),
		zap.Float64("weight", weight))
	return nil
}

// UpdateWeights applies a weight map from the selector. Unknown names are
// logged and skipped, as are out-of-range weights; valid entries apply.
// Called by the orchestrator between cycles only.
func (m *Manager) UpdateWeights(weights map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, w := range weights {
		if _, ok := m.strategies[name]; !ok {
			m.logger.Warn("Weight update for unregistered strategy", zap.String("strategy", name))
			continue
		}
		if w < 0 || w > 1 {
			m.logger.Warn("Invalid weight ignored",
				zap.String("strategy", name), zap.Float64("weight", w))
			continue
		}
		m.weights[name] = w
	}
}

// Weights returns a copy of the live weight map.
func (m *Manager) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		out[k] = v
	}
	return out
}

// StrategyNames lists registered strategies in registration order.
func (m *Manager) StrategyNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// AnalyzeMarket collects a signal from every enabled strategy and
// integrates them into one. Strategies that fail are excluded; if every
// strategy fails the cycle-level strategy error is returned. With no
// enabled strategies (or all zero weights) the result is a synthesized
// hold.
func (m *Manager) AnalyzeMarket(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (*Signal, error) {
	signals, err := m.collectSignals(frame, multiTF)
	if err != nil {
		return nil, err
	}

	integrated := m.combine(signals, frame)

	m.mu.Lock()
	m.totalDecisions++
	m.lastIntegrated = integrated
	m.mu.Unlock()

	m.logger.Info("Integrated signal",
		zap.String("action", string(integrated.Action)),
		zap.Float64("confidence", integrated.Confidence))
	return integrated, nil
}

// IndividualSignal is the compact per-strategy record consumed by the ML
// feature pipeline.
type IndividualSignal struct {
	Action     types.TradingAction `json:"action"`
	Confidence float64             `json:"confidence"`
	Encoded    float64             `json:"encoded"`
}

// IndividualSignals runs every enabled strategy and returns the signed
// encoding of each decision. Errors degrade to an empty map; the ML step
// tolerates missing strategy features.
func (m *Manager) IndividualSignals(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) map[string]IndividualSignal {
	signals, err := m.collectSignals(frame, multiTF)
	if err != nil {
		m.logger.Error("Individual signal collection failed", zap.Error(err))
		return map[string]IndividualSignal{}
	}
	out := make(map[string]IndividualSignal, len(signals))
	for name, sig := range signals {
		out[name] = IndividualSignal{
			Action:     sig.Action,
			Confidence: sig.Confidence,
			Encoded:    sig.EncodedValue(),
		}
	}
	return out
}

func (m *Manager) collectSignals(frame *types.Frame, multiTF map[types.Timeframe]*types.Frame) (map[string]*Signal, error) {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	signals := make(map[string]*Signal)
	var failures []string

	for _, name := range names {
		m.mu.RLock()
		s := m.strategies[name]
		m.mu.RUnlock()

		if !s.Enabled() {
			continue
		}
		sig, err := GenerateSignal(s, frame, multiTF)
		if err != nil {
			m.logger.Error("Strategy failed, excluded from vote",
				zap.String("strategy", name), zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		signals[name] = sig
	}

	if len(signals) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all strategies failed: %s", strings.Join(failures, "; "))
	}
	return signals, nil
}

func (m *Manager) combine(signals map[string]*Signal, frame *types.Frame) *Signal {
	if len(signals) == 0 {
		return m.synthesizeHold(frame, "no enabled strategies")
	}

	groups := make(map[types.TradingAction][]voter)
	for name, sig := range signals {
		groups[sig.Action] = append(groups[sig.Action], voter{name: name, signal: sig})
	}
	for _, vs := range groups {
		sort.Slice(vs, func(i, j int) bool { return vs[i].name < vs[j].name })
	}

	conflict := len(groups) >= 2
	if conflict {
		m.mu.Lock()
		m.signalConflicts++
		m.mu.Unlock()
	}

	weights := m.Weights()

	actionConfidence := make(map[types.TradingAction]float64, len(groups))
	total := 0.0
	for action, vs := range groups {
		wc := weightedConfidence(vs, weights)
		actionConfidence[action] = wc
		total += wc
	}
	if total <= 0 {
		return m.synthesizeHold(frame, "all weighted confidences zero")
	}

	winner := m.pickWinner(actionConfidence, groups)

	voteCounts := make(map[string]int, len(groups))
	ratios := make(map[string]float64, len(groups))
	for action, vs := range groups {
		voteCounts[string(action)] = len(vs)
		ratios[string(action)] = actionConfidence[action] / total
	}

	resolution := "weighted_integration"
	if conflict {
		resolution = "all_votes_weighted_integration"
	}

	if winner == types.ActionHold {
		hold := m.synthesizeHold(frame, fmt.Sprintf("hold wins with ratio %.3f", ratios["hold"]))
		hold.Metadata = map[string]any{
			"vote_counts":       voteCounts,
			"action_ratios":     ratios,
			"resolution_method": resolution,
			"conflict":          conflict,
		}
		return hold
	}

	winners := groups[winner]
	best := winners[0]
	for _, v := range winners[1:] {
		if v.signal.Confidence > best.signal.Confidence {
			best = v
		}
	}

	contributing := make([]string, 0, len(winners))
	strengthSum := 0.0
	for _, v := range winners {
		contributing = append(contributing, v.name)
		strengthSum += v.signal.Strength
	}

	integrated := best.signal.Clone()
	integrated.StrategyName = ManagerName
	integrated.Timestamp = m.now()
	integrated.Confidence = actionConfidence[winner]
	integrated.Strength = strengthSum / float64(len(winners))
	integrated.Reason = fmt.Sprintf("integrated from %d strategies", len(winners))
	integrated.Metadata = map[string]any{
		"vote_counts":             voteCounts,
		"action_ratios":           ratios,
		"contributing_strategies": contributing,
		"resolution_method":       resolution,
		"conflict":                conflict,
	}
	return integrated
}

// pickWinner selects the action with maximum weighted confidence. An
// exact tie between directional actions goes to the one whose strongest
// individual voter is more confident; a residual tie falls back to a
// fixed action order for determinism.
func (m *Manager) pickWinner(actionConfidence map[types.TradingAction]float64, groups map[types.TradingAction][]voter) types.TradingAction {
	order := []types.TradingAction{types.ActionBuy, types.ActionSell, types.ActionClose, types.ActionHold}

	var best types.TradingAction
	bestScore := -1.0
	for _, action := range order {
		score, ok := actionConfidence[action]
		if !ok {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore = action, score
		case score == bestScore:
			if maxVoterConfidence(groups[action]) > maxVoterConfidence(groups[best]) {
				best = action
			}
		}
	}
	return best
}

func maxVoterConfidence(vs []voter) float64 {
	best := 0.0
	for _, v := range vs {
		if v.signal.Confidence > best {
			best = v.signal.Confidence
		}
	}
	return best
}

type voter struct {
	name   string
	signal *Signal
}

// weightedConfidence sums weight x confidence over the voters, clamped to
// [0,1] so integration composes with ML fusion.
func weightedConfidence(vs []voter, weights map[string]float64) float64 {
	total := 0.0
	for _, v := range vs {
		w, ok := weights[v.name]
		if !ok {
			w = 1.0
		}
		total += w * v.signal.Confidence
	}
	if total > 1 {
		return 1
	}
	if total < 0 {
		return 0
	}
	return total
}

// synthesizeHold emits the manager's own hold signal. Its confidence
// starts from a configured base and is modulated by recent volatility:
// choppier markets reduce hold confidence, quiet markets raise it
// slightly, clamped to [0.1, 0.8].
func (m *Manager) synthesizeHold(frame *types.Frame, reason string) *Signal {
	base := m.store.Float("ml.dynamic_confidence.base_hold", 0.3)
	highVol := m.store.Float("ml.dynamic_confidence.high_volatility_threshold", 0.02)
	lowVol := m.store.Float("ml.dynamic_confidence.low_volatility_threshold", 0.005)

	confidence := base
	closes := frame.TailSeries("close", 20)
	if len(closes) >= 3 {
		vol := returnStd(closes)
		switch {
		case vol > highVol:
			confidence = base * 0.8
		case vol < lowVol:
			confidence = base * 1.2
		}
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 0.8 {
		confidence = 0.8
	}

	return &Signal{
		StrategyName: ManagerName,
		Timestamp:    m.now(),
		Action:       types.ActionHold,
		Confidence:   confidence,
		Strength:     0,
		CurrentPrice: decimal.NewFromFloat(frame.LastClose()),
		Reason:       reason,
	}
}

// ManagerStats is the snapshot surfaced on the status endpoint.
type ManagerStats struct {
	TotalStrategies   int                `json:"totalStrategies"`
	EnabledStrategies int                `json:"enabledStrategies"`
	TotalDecisions    int                `json:"totalDecisions"`
	SignalConflicts   int                `json:"signalConflicts"`
	Weights           map[string]float64 `json:"weights"`
}

// Stats returns manager counters and the current weight map.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enabled := 0
	for _, s := range m.strategies {
		if s.Enabled() {
			enabled++
		}
	}
	weights := make(map[string]float64, len(m.weights))
	for k, v := range m.weights {
		weights[k] = v
	}
	return ManagerStats{
		TotalStrategies:   len(m.strategies),
		EnabledStrategies: enabled,
		TotalDecisions:    m.totalDecisions,
		SignalConflicts:   m.signalConflicts,
		Weights:           weights,
	}
}
