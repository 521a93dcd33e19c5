// Package status derives evaluation status from ledger snapshots. Everything
// here is a pure function of its inputs.
package status

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

const day = 24 * time.Hour

// Derive returns the status of ev at now.
//
// Ledger completion is authoritative. Otherwise a total-loss breach is checked
// before the profit target, so a snapshot meeting both resolves to failed.
func Derive(ev domain.Evaluation, now time.Time) domain.DerivedStatus {
	if ev.IsCompleted {
		if ev.IsPassed {
			return domain.StatusCompletedPassed
		}
		return domain.StatusCompletedFailed
	}
	// Without a positive initial balance the ratio is undefined.
	if !ev.InitialBalance.IsPositive() {
		return domain.StatusActive
	}

	pnlPct := ev.PnLPct()
	elapsed := now.Sub(ev.StartTime)

	if pnlPct.LessThanOrEqual(ev.Rules.MaxTotalLossPct.Neg()) {
		return domain.StatusFailed
	}
	minDays := time.Duration(ev.Rules.MinDaysRequired) * day
	if pnlPct.GreaterThanOrEqual(ev.Rules.TargetProfitPct) && elapsed >= minDays {
		return domain.StatusPassed
	}
	return domain.StatusActive
}

// Progress returns elapsed time as a percentage of the evaluation window,
// clamped to [0, 100]. Completed evaluations and empty windows report 100.
func Progress(ev domain.Evaluation, now time.Time) float64 {
	if ev.IsCompleted {
		return 100
	}
	total := ev.EndTime.Sub(ev.StartTime)
	if total <= 0 {
		return 100
	}
	pct := float64(now.Sub(ev.StartTime)) / float64(total) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Remaining returns the time left until ev ends, never negative.
func Remaining(ev domain.Evaluation, now time.Time) time.Duration {
	left := ev.EndTime.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// FormatRemaining renders d as "<days>d <hours>h", or "expired" once the
// window has closed.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	days := int(d / day)
	hours := int((d % day) / time.Hour)
	return fmt.Sprintf("%dd %dh", days, hours)
}

// Assess bundles the derived status with the figures shown alongside it.
func Assess(ev domain.Evaluation, now time.Time) domain.Assessment {
	st := Derive(ev, now)
	left := Remaining(ev, now)
	return domain.Assessment{
		Status:         st,
		Tentative:      st == domain.StatusPassed || st == domain.StatusFailed,
		TradingBlocked: BlocksTrading(st),
		PnL:            ev.PnL(),
		PnLPct:         ev.PnLPct().Round(4),
		ProgressPct:    Progress(ev, now),
		Remaining:      left,
		RemainingText:  FormatRemaining(left),
	}
}

// BlocksTrading reports whether a trading surface should stop accepting new
// orders for an evaluation in status s. Only ledger-settled evaluations are
// blocked; a client-computed failure is surfaced as a warning.
func BlocksTrading(s domain.DerivedStatus) bool {
	return s.Terminal()
}
