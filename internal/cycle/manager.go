package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/metrics"
	"github.com/hmuraoka/trading-core/internal/regime"
	"github.com/hmuraoka/trading-core/internal/selector"
	"github.com/hmuraoka/trading-core/internal/strategy"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// Services bundles the external collaborators injected into the manager.
// The manager holds handles, not ownership; collaborators outlive cycles.
type Services struct {
	Data      DataService
	Features  FeatureService
	ML        MLService
	Risk      RiskService
	Execution ExecutionService
	Safety    SafetyMonitor
}

// Manager drives one trading cycle at a time. Cycles never interleave:
// RunCycle holds an internal gate for its whole duration, and all
// per-cycle state is local to the call.
type Manager struct {
	logger     *zap.Logger
	store      *config.ThresholdStore
	services   Services
	classifier *regime.Classifier
	selector   *selector.Selector
	strategies *strategy.Manager
	fuser      *Fuser
	verifier   *Verifier
	metrics    *metrics.Metrics

	symbol        string
	mainTimeframe types.Timeframe
	fetchLimit    int

	runGate sync.Mutex

	mu            sync.RWMutex
	state         State
	lastRegime    regime.Type
	lastReport    *Report
	errorCounters map[ErrorClass]int
	listeners     []chan<- *Report
}

// NewManager wires the orchestrator. All collaborators are injected;
// nothing is constructed during a cycle.
func NewManager(logger *zap.Logger, store *config.ThresholdStore, services Services,
	classifier *regime.Classifier, sel *selector.Selector, strategies *strategy.Manager,
	m *metrics.Metrics) *Manager {

	return &Manager{
		logger:     logger.Named("trading-cycle"),
		store:      store,
		services:   services,
		classifier: classifier,
		selector:   sel,
		strategies: strategies,
		fuser:      NewFuser(logger, store),
		verifier: NewVerifier(logger, store,
			services.Execution, services.Risk, services.Data, services.Safety),
		metrics: m,

		symbol:        store.String("trading.symbol", "BTC/JPY"),
		mainTimeframe: types.Timeframe(store.String("trading.main_timeframe", string(types.Timeframe4h))),
		fetchLimit:    store.Int("trading.fetch_limit", 200),

		state:         StateIdle,
		lastRegime:    regime.NormalRange,
		errorCounters: make(map[ErrorClass]int),
	}
}

// Report is the outcome record of one cycle.
type Report struct {
	CycleID    string                `json:"cycleId"`
	StartedAt  time.Time             `json:"startedAt"`
	Duration   time.Duration         `json:"duration"`
	Regime     regime.Type           `json:"regime"`
	RegimeData regime.Stats          `json:"regimeData"`
	PositionLimit int                `json:"positionLimit"`
	Signal     *strategy.Signal      `json:"signal,omitempty"`
	ML         types.MLPrediction    `json:"ml"`
	MLUsed     bool                  `json:"mlUsed"`
	Evaluation *types.TradeEvaluation `json:"evaluation,omitempty"`
	Executed   bool                  `json:"executed"`
	Execution  *types.ExecutionResult `json:"execution,omitempty"`
	AbortReason string               `json:"abortReason,omitempty"`
	ErrorClass  ErrorClass           `json:"errorClass,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// tradingInfo is the balance/ticker snapshot used for risk evaluation.
type tradingInfo struct {
	balance decimal.Decimal
	bid     decimal.Decimal
	ask     decimal.Decimal
	latency time.Duration
}

// RunCycle executes one full cycle. Classified errors are absorbed per
// their policy and recorded in the report; only system-class failures
// return a non-nil error.
func (m *Manager) RunCycle(ctx context.Context) (*Report, error) {
	m.runGate.Lock()
	defer m.runGate.Unlock()

	report := &Report{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
		Regime:    regime.NormalRange,
	}
	m.logger.Info("Trading cycle started", zap.String("cycleId", report.CycleID))

	err := m.runPipeline(ctx, report)
	report.Duration = time.Since(report.StartedAt)

	outcome := "completed"
	if err != nil {
		class := ClassOf(err)
		report.ErrorClass = class
		report.Error = err.Error()
		outcome = "skipped"

		m.setState(StateRecovering)
		m.recordError(class)
		m.metrics.CycleErrors.WithLabelValues(string(class)).Inc()

		if class == ErrClassStrategy {
			// Every strategy failing is an escalation condition, not a
			// quiet skip.
			m.logger.Error("All strategies failed, cycle skipped",
				zap.String("cycleId", report.CycleID), zap.Error(err))
		} else {
			m.logger.Warn("Cycle skipped",
				zap.String("cycleId", report.CycleID),
				zap.String("class", string(class)), zap.Error(err))
		}

		if class == ErrClassSystem {
			m.finishCycle(report, outcome)
			return report, fmt.Errorf("trading cycle %s: %w", report.CycleID, err)
		}
	}

	m.finishCycle(report, outcome)
	return report, nil
}

func (m *Manager) finishCycle(report *Report, outcome string) {
	m.setState(StateIdle)
	m.metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	m.metrics.CycleDuration.Observe(report.Duration.Seconds())

	m.mu.Lock()
	m.lastReport = report
	listeners := append([]chan<- *Report(nil), m.listeners...)
	m.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- report:
		default:
		}
	}
}

func (m *Manager) runPipeline(ctx context.Context, report *Report) error {
	// Fetch.
	m.setState(StateFetching)
	marketData, err := m.services.Data.FetchMultiTimeframe(ctx, m.symbol, m.fetchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return newError(ErrClassConnection, StateFetching, err)
		}
		return newError(ErrClassData, StateFetching, err)
	}
	if len(marketData) == 0 {
		return newError(ErrClassData, StateFetching, fmt.Errorf("no market data for %s", m.symbol))
	}

	// Featurize. A timeframe that fails featurization degrades to an
	// empty frame instead of aborting the cycle.
	m.setState(StateFeaturizing)
	frames := make(map[types.Timeframe]*types.Frame, len(marketData))
	for tf, candles := range marketData {
		if len(candles) == 0 {
			m.logger.Warn("Empty candle set", zap.String("timeframe", string(tf)))
			frames[tf] = types.NewFrame(nil)
			continue
		}
		frame, err := m.services.Features.GenerateFeatures(ctx, candles)
		if err != nil {
			m.logger.Error("Feature generation failed, using empty frame",
				zap.String("timeframe", string(tf)), zap.Error(err))
			frames[tf] = types.NewFrame(nil)
			continue
		}
		frames[tf] = frame
	}
	mainFrame, ok := frames[m.mainTimeframe]
	if !ok || mainFrame.IsEmpty() {
		return newError(ErrClassValue, StateFeaturizing,
			fmt.Errorf("main timeframe %s missing or empty", m.mainTimeframe))
	}

	// Classify and cache the regime for fusion and the status surface.
	m.setState(StateClassifying)
	currentRegime, regimeStats := m.classifier.ClassifyWithStats(mainFrame)
	report.Regime = currentRegime
	report.RegimeData = regimeStats
	m.metrics.RegimeTotal.WithLabelValues(string(currentRegime)).Inc()
	m.mu.Lock()
	m.lastRegime = currentRegime
	m.mu.Unlock()

	// Apply regime weights before any strategy runs. High volatility
	// resolves to all zeros, which is wait mode.
	report.PositionLimit = m.selector.PositionLimit(currentRegime)
	if m.selector.Enabled() {
		m.strategies.UpdateWeights(m.selector.RegimeWeights(currentRegime))
	}

	// Strategy vote.
	m.setState(StateVoting)
	signal, err := m.strategies.AnalyzeMarket(mainFrame, frames)
	if err != nil {
		return newError(ErrClassStrategy, StateVoting, err)
	}
	report.Signal = signal
	m.metrics.SignalActions.WithLabelValues(string(signal.Action)).Inc()

	// Individual strategy encodings become extra feature columns so the
	// model can learn from strategy behavior.
	for name, individual := range m.strategies.IndividualSignals(mainFrame, frames) {
		mainFrame.SetColumn("strategy_signal_"+name, []float64{individual.Encoded})
	}

	// ML prediction.
	m.setState(StatePredicting)
	prediction, mlOK := m.predict(ctx, mainFrame)
	report.ML = prediction
	report.MLUsed = mlOK

	// Trading info with fallbacks from the store.
	info := m.fetchTradingInfo(ctx, mainFrame)

	// Fusion. Skipped entirely when the model was unusable.
	m.setState(StateFusing)
	fused := signal
	if mlOK {
		fused = m.fuser.Fuse(prediction, signal, currentRegime)
	}
	report.Signal = fused

	// Risk evaluation. A failing risk service denies locally rather than
	// erroring the cycle.
	m.setState(StateEvaluatingRisk)
	evaluation := m.evaluateRisk(ctx, prediction, fused, mainFrame, info)
	report.Evaluation = evaluation

	// Execute approved trades behind the pre-execution gate.
	if evaluation.Approved() {
		m.setState(StatePreExecCheck)
		verdict := m.verifier.Verify(ctx, evaluation, info.ask)
		if !verdict.Allowed {
			report.AbortReason = verdict.Reason
			m.metrics.PreExecAborts.Inc()
			m.logger.Warn("Pre-execution verification aborted trade",
				zap.String("cycleId", report.CycleID),
				zap.String("reason", verdict.Reason))
		} else {
			m.setState(StateExecuting)
			m.execute(ctx, evaluation, report)
		}
	} else if len(evaluation.DenialReasons) > 0 {
		m.logger.Info("Trade not approved",
			zap.String("side", string(evaluation.Side)),
			zap.Strings("reasons", evaluation.DenialReasons))
	}

	// Stop-condition processing for open positions runs every cycle.
	m.setState(StateStopCheck)
	if result, err := m.services.Execution.CheckStopConditions(ctx); err != nil {
		m.logger.Error("Stop condition check failed", zap.Error(err))
	} else if result != nil {
		m.logger.Info("Stop condition processed",
			zap.String("id", result.ID), zap.Bool("success", result.Success))
	}

	return nil
}

// predict runs the model on the augmented frame. Model trouble is
// recoverable: EnsureCorrectModel retries the right variant, and any
// remaining failure falls through to strategy-only with the configured
// fallback confidence.
func (m *Manager) predict(ctx context.Context, frame *types.Frame) (types.MLPrediction, bool) {
	fallback := types.MLPrediction{
		Prediction: types.MLClassHold,
		Confidence: m.store.Float("ml.prediction_fallback_confidence", 0.0),
	}

	if err := m.services.ML.EnsureCorrectModel(len(frame.ColumnNames())); err != nil {
		m.logger.Warn("Model selection failed, skipping ML fusion", zap.Error(err))
		return fallback, false
	}

	predictions, err := m.services.ML.Predict(ctx, frame)
	if err != nil || len(predictions) == 0 {
		m.logger.Warn("ML predict failed, skipping ML fusion", zap.Error(err))
		return fallback, false
	}
	probabilities, err := m.services.ML.PredictProba(ctx, frame)
	if err != nil || len(probabilities) == 0 {
		m.logger.Warn("ML probabilities failed, skipping ML fusion", zap.Error(err))
		return fallback, false
	}

	lastProba := probabilities[len(probabilities)-1]
	confidence := 0.0
	for _, p := range lastProba {
		if p > confidence {
			confidence = p
		}
	}

	prediction := types.MLPrediction{
		Prediction: predictions[len(predictions)-1],
		Confidence: confidence,
	}
	m.logger.Info("ML prediction",
		zap.Int("class", prediction.Prediction),
		zap.Float64("confidence", prediction.Confidence))
	return prediction, true
}

// fetchTradingInfo reads balance and ticker, measuring the ticker round
// trip as the API latency input to risk. Failures synthesize bid/ask from
// the last close with configured spread ratios and use the configured
// fallback balance.
func (m *Manager) fetchTradingInfo(ctx context.Context, mainFrame *types.Frame) tradingInfo {
	info := tradingInfo{}

	balances, err := m.services.Data.FetchBalance(ctx)
	if err == nil {
		currency := m.store.String("trading.balance_currency", "JPY")
		info.balance = balances[currency].Total
	}

	start := time.Now()
	ticker, tickerErr := m.services.Data.FetchTicker(ctx, m.symbol)
	info.latency = time.Since(start)

	if err != nil || tickerErr != nil || ticker.Bid.IsZero() {
		m.logger.Warn("Trading info unavailable, using fallbacks",
			zap.NamedError("balanceErr", err), zap.NamedError("tickerErr", tickerErr))
		return m.fallbackTradingInfo(mainFrame, info)
	}

	info.bid = ticker.Bid
	info.ask = ticker.Ask
	if info.balance.IsZero() {
		info.balance = decimal.NewFromFloat(m.store.Float("trading.fallback_balance", 500000))
	}
	return info
}

func (m *Manager) fallbackTradingInfo(mainFrame *types.Frame, info tradingInfo) tradingInfo {
	info.balance = decimal.NewFromFloat(m.store.Float("trading.fallback_balance", 500000))

	lastClose := mainFrame.LastClose()
	if lastClose > 0 {
		closeDec := decimal.NewFromFloat(lastClose)
		info.bid = closeDec.Mul(decimal.NewFromFloat(m.store.Float("trading.bid_spread_ratio", 0.999)))
		info.ask = closeDec.Mul(decimal.NewFromFloat(m.store.Float("trading.ask_spread_ratio", 1.001)))
	} else {
		info.bid = decimal.NewFromFloat(m.store.Float("trading.fallback_prices.bid", 9000000))
		info.ask = decimal.NewFromFloat(m.store.Float("trading.fallback_prices.ask", 9010000))
	}
	return info
}

// evaluateRisk calls the risk service, converting any failure into a
// denied evaluation so risk problems never abort the cycle.
func (m *Manager) evaluateRisk(ctx context.Context, prediction types.MLPrediction,
	signal *strategy.Signal, mainFrame *types.Frame, info tradingInfo) *types.TradeEvaluation {

	referenceTime := time.Now()
	if ts, ok := mainFrame.LastTimestamp(); ok {
		referenceTime = ts
	}

	evaluation, err := m.services.Risk.EvaluateTradeOpportunity(ctx, RiskRequest{
		MLPrediction:   prediction,
		StrategySignal: signal,
		MarketData:     mainFrame,
		CurrentBalance: info.balance,
		Bid:            info.bid,
		Ask:            info.ask,
		APILatency:     info.latency,
		ReferenceTime:  referenceTime,
	})
	if err != nil || evaluation == nil {
		m.logger.Error("Risk evaluation failed, denying", zap.Error(err))
		return &types.TradeEvaluation{
			Decision:      types.DecisionDenied,
			Side:          signal.Action,
			RiskScore:     1.0,
			DenialReasons: []string{fmt.Sprintf("risk evaluation error: %v", err)},
		}
	}
	if evaluation.Decision == types.DecisionDenied && len(evaluation.DenialReasons) == 0 {
		evaluation.DenialReasons = []string{"denied without stated reason"}
	}
	return evaluation
}

// execute submits the approved evaluation. Execution failures end the
// cycle gracefully; the next cycle starts clean.
func (m *Manager) execute(ctx context.Context, evaluation *types.TradeEvaluation, report *Report) {
	result, err := m.services.Execution.ExecuteTrade(ctx, evaluation)
	if err != nil {
		m.metrics.Executions.WithLabelValues("error").Inc()
		m.logger.Error("Trade execution failed",
			zap.String("cycleId", report.CycleID), zap.Error(err))
		return
	}
	report.Executed = true
	report.Execution = result

	label := "failure"
	if result != nil && result.Success {
		label = "success"
	}
	m.metrics.Executions.WithLabelValues(label).Inc()
	m.logger.Info("Trade executed",
		zap.String("cycleId", report.CycleID),
		zap.Bool("success", result != nil && result.Success))
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) recordError(class ErrorClass) {
	m.mu.Lock()
	m.errorCounters[class]++
	m.mu.Unlock()
}

// Status is the orchestrator snapshot served by the API.
type Status struct {
	State         State                  `json:"state"`
	Regime        regime.Type            `json:"regime"`
	LastReport    *Report                `json:"lastReport,omitempty"`
	ErrorCounters map[ErrorClass]int     `json:"errorCounters"`
	Strategies    strategy.ManagerStats  `json:"strategies"`
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[ErrorClass]int, len(m.errorCounters))
	for k, v := range m.errorCounters {
		counters[k] = v
	}
	return Status{
		State:         m.state,
		Regime:        m.lastRegime,
		LastReport:    m.lastReport,
		ErrorCounters: counters,
		Strategies:    m.strategies.Stats(),
	}
}

// Subscribe registers a non-blocking listener for cycle reports.
func (m *Manager) Subscribe(ch chan<- *Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, ch)
}
