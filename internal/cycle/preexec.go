package cycle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/pkg/types"
)

// Verifier is the final safety gate between an approved evaluation and
// order submission. Conditions can change between risk review and
// execution, so limits, balance, volatility, emergency state and
// subsystem health are all re-checked here. Any failure aborts this
// execution with a recorded reason; the cycle itself continues.
type Verifier struct {
	logger    *zap.Logger
	store     *config.ThresholdStore
	execution ExecutionService
	risk      RiskService
	data      DataService
	safety    SafetyMonitor
}

// NewVerifier wires the verifier to the subsystems it health-checks.
// safety may be nil, which disables the volatility and emergency checks.
func NewVerifier(logger *zap.Logger, store *config.ThresholdStore,
	execution ExecutionService, risk RiskService, data DataService, safety SafetyMonitor) *Verifier {
	return &Verifier{
		logger:    logger.Named("pre-exec-verifier"),
		store:     store,
		execution: execution,
		risk:      risk,
		data:      data,
		safety:    safety,
	}
}

// Verdict is the verification outcome.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Verify runs every pre-execution check against the approved evaluation.
// referencePrice is the ask used to estimate the order's notional.
func (v *Verifier) Verify(ctx context.Context, eval *types.TradeEvaluation, referencePrice decimal.Decimal) Verdict {
	if !eval.Side.IsDirectional() || !eval.PositionSize.IsPositive() {
		return Verdict{Reason: "hold signal or non-positive position size"}
	}

	if err := v.execution.CheckPositionLimits(eval); err != nil {
		return Verdict{Reason: fmt.Sprintf("position limit re-check failed: %v", err)}
	}

	if verdict := v.checkBalance(ctx, eval, referencePrice); !verdict.Allowed {
		return verdict
	}

	if v.safety != nil {
		maxVolatility := v.store.Float("trading.anomaly.max_volatility_for_trade", 0.05)
		if vol, err := v.safety.CurrentVolatility(ctx); err == nil && vol > maxVolatility {
			return Verdict{Reason: fmt.Sprintf("volatility spike %.1f%% exceeds %.1f%%",
				vol*100, maxVolatility*100)}
		}
		if active, reason := v.safety.EmergencyActive(ctx); active {
			return Verdict{Reason: fmt.Sprintf("emergency condition: %s", reason)}
		}
	}

	if v.execution == nil || v.risk == nil || v.data == nil {
		return Verdict{Reason: "required subsystem missing"}
	}

	v.logger.Debug("Pre-execution verification passed")
	return Verdict{Allowed: true, Reason: "all checks passed"}
}

// checkBalance re-reads the live balance and requires headroom over the
// estimated notional so an order cannot consume the whole account.
func (v *Verifier) checkBalance(ctx context.Context, eval *types.TradeEvaluation, referencePrice decimal.Decimal) Verdict {
	balance, err := v.execution.CurrentBalance(ctx)
	if err != nil {
		v.logger.Warn("Balance re-check unavailable, continuing", zap.Error(err))
		return Verdict{Allowed: true}
	}
	if !balance.IsPositive() {
		return Verdict{Reason: "insufficient balance: account empty"}
	}

	notional := eval.PositionSize.Mul(referencePrice)
	margin := decimal.NewFromFloat(v.store.Float("trading.balance_margin_ratio", 1.5))
	required := notional.Mul(margin)
	if balance.LessThan(required) {
		return Verdict{Reason: fmt.Sprintf(
			"insufficient balance: %s < required %s (%.1fx notional)",
			balance.StringFixed(0), required.StringFixed(0), margin.InexactFloat64())}
	}
	return Verdict{Allowed: true}
}
