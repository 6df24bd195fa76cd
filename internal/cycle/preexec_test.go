package cycle_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hmuraoka/trading-core/internal/config"
	"github.com/hmuraoka/trading-core/internal/cycle"
	"github.com/hmuraoka/trading-core/pkg/types"
)

func emptyStore() *config.ThresholdStore {
	return config.NewThresholdStore(zap.NewNop(), "", "")
}

func approvedEval(size float64) *types.TradeEvaluation {
	return &types.TradeEvaluation{
		Decision:     types.DecisionApproved,
		Side:         types.ActionBuy,
		PositionSize: decimal.NewFromFloat(size),
		StopLoss:     decimal.NewFromInt(9900000),
		TakeProfit:   decimal.NewFromInt(10100000),
	}
}

func newVerifier(exec *fakeExecution, safety cycle.SafetyMonitor) *cycle.Verifier {
	return cycle.NewVerifier(zap.NewNop(), emptyStore(), exec, &fakeRisk{}, &fakeData{}, safety)
}

func TestNonPositiveSizeAlwaysAborted(t *testing.T) {
	exec := &fakeExecution{balance: decimal.NewFromInt(100000000)}
	v := newVerifier(exec, nil)

	verdict := v.Verify(context.Background(), approvedEval(0), decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Error("zero position size must abort")
	}

	hold := approvedEval(0.01)
	hold.Side = types.ActionHold
	verdict = v.Verify(context.Background(), hold, decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Error("hold side must abort")
	}
}

func TestBalanceGuard(t *testing.T) {
	// Notional 1,700,000 at 1.5x requires 2,550,000; balance is 2,000,000.
	exec := &fakeExecution{balance: decimal.NewFromInt(2000000)}
	v := newVerifier(exec, nil)

	eval := approvedEval(0.17)
	verdict := v.Verify(context.Background(), eval, decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Fatal("insufficient balance must abort")
	}
	if !strings.Contains(verdict.Reason, "insufficient balance") {
		t.Errorf("reason = %q, want insufficient balance mention", verdict.Reason)
	}
	if len(exec.executed) != 0 {
		t.Error("no order may be sent on abort")
	}
}

func TestBalanceGuardPasses(t *testing.T) {
	exec := &fakeExecution{balance: decimal.NewFromInt(3000000)}
	v := newVerifier(exec, nil)

	verdict := v.Verify(context.Background(), approvedEval(0.17), decimal.NewFromInt(10000000))
	if !verdict.Allowed {
		t.Errorf("ample balance should pass, got %q", verdict.Reason)
	}
}

func TestPositionLimitHook(t *testing.T) {
	exec := &fakeExecution{balance: decimal.NewFromInt(100000000), limitErr: errBoom}
	v := newVerifier(exec, nil)

	verdict := v.Verify(context.Background(), approvedEval(0.01), decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Error("limit hook failure must abort")
	}
}

func TestVolatilitySpikeAborts(t *testing.T) {
	exec := &fakeExecution{balance: decimal.NewFromInt(100000000)}
	v := newVerifier(exec, &fakeSafety{volatility: 0.08})

	verdict := v.Verify(context.Background(), approvedEval(0.01), decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Error("volatility above max_volatility_for_trade must abort")
	}
}

func TestEmergencyAborts(t *testing.T) {
	exec := &fakeExecution{balance: decimal.NewFromInt(100000000)}
	v := newVerifier(exec, &fakeSafety{emergency: true, reason: "exchange halt"})

	verdict := v.Verify(context.Background(), approvedEval(0.01), decimal.NewFromInt(10000000))
	if verdict.Allowed {
		t.Error("emergency condition must abort")
	}
	if !strings.Contains(verdict.Reason, "exchange halt") {
		t.Errorf("reason = %q, want emergency detail", verdict.Reason)
	}
}

func TestBalanceReadFailureDoesNotAbort(t *testing.T) {
	// A failed balance re-read is logged, not treated as a denial.
	exec := &fakeExecution{balanceErr: errBoom}
	v := newVerifier(exec, nil)

	verdict := v.Verify(context.Background(), approvedEval(0.01), decimal.NewFromInt(10000000))
	if !verdict.Allowed {
		t.Errorf("balance read failure should not abort, got %q", verdict.Reason)
	}
}
