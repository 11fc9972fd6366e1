package insider

import (
	"math"
	"time"
)

// Policy holds the qualification and blacklisting thresholds. The shape of
// each rule is fixed; only the constants are tunable.
type Policy struct {
	QualifyMinWinRate    float64
	QualifyMinAvgProfit  float64
	QualifyMinTrades     int
	QualifyMinConfidence float64

	PromoteMinRecentActivity float64

	BlacklistMaxWinRate    float64
	BlacklistMaxConfidence float64
	BlacklistMinTrades     int
	BlacklistMaxAvgProfit  float64

	MaxPositionMultiplier float64
	MinCopyDelay          time.Duration
	CopyDelayRange        time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		QualifyMinWinRate:        0.70,
		QualifyMinAvgProfit:      0.40,
		QualifyMinTrades:         10,
		QualifyMinConfidence:     0.75,
		PromoteMinRecentActivity: 0.5,
		BlacklistMaxWinRate:      0.30,
		BlacklistMaxConfidence:   0.25,
		BlacklistMinTrades:       20,
		BlacklistMaxAvgProfit:    0.10,
		MaxPositionMultiplier:    2.0,
		MinCopyDelay:             5 * time.Second,
		CopyDelayRange:           25 * time.Second,
	}
}

// Qualifies requires all four thresholds.
func (p Policy) Qualifies(w *Wallet) bool {
	return w.WinRate >= p.QualifyMinWinRate &&
		w.AvgProfitPct >= p.QualifyMinAvgProfit &&
		w.TotalTrades >= p.QualifyMinTrades &&
		w.Confidence >= p.QualifyMinConfidence
}

// ShouldPromote moves a Monitoring wallet to Active.
func (p Policy) ShouldPromote(w *Wallet) bool {
	return p.Qualifies(w) && w.RecentActivityScore > p.PromoteMinRecentActivity
}

// ShouldBlacklist is satisfied by any one of the three rules.
func (p Policy) ShouldBlacklist(w *Wallet) bool {
	return w.WinRate < p.BlacklistMaxWinRate ||
		w.Confidence < p.BlacklistMaxConfidence ||
		(w.TotalTrades >= p.BlacklistMinTrades && w.AvgProfitPct < p.BlacklistMaxAvgProfit)
}

// PositionMultiplier is min(confidence*2, 2).
func (p Policy) PositionMultiplier(confidence float64) float64 {
	return math.Min(math.Max(confidence, 0)*2.0, p.MaxPositionMultiplier)
}

// CopyDelay is 5s + round((1-confidence)*25)s, so it stays within [5s, 30s].
func (p Policy) CopyDelay(confidence float64) time.Duration {
	c := math.Min(math.Max(confidence, 0), 1)
	steps := math.Round((1 - c) * p.CopyDelayRange.Seconds())
	return p.MinCopyDelay + time.Duration(steps)*time.Second
}

// NextStatus applies one reconciliation step. Blacklisting is sticky and
// wins over everything else; an expired cooldown drops back to Monitoring
// and is promoted again on a later cycle.
func (p Policy) NextStatus(w *Wallet, now time.Time) Status {
	if w.Status == StatusBlacklisted || p.ShouldBlacklist(w) {
		return StatusBlacklisted
	}
	switch w.Status {
	case StatusCooldown:
		if now.Before(w.CooldownUntil) {
			return StatusCooldown
		}
		return StatusMonitoring
	case StatusActive:
		if !p.Qualifies(w) {
			return StatusMonitoring
		}
		return StatusActive
	default:
		if p.ShouldPromote(w) {
			return StatusActive
		}
		return StatusMonitoring
	}
}

// InitialStatus is used for a wallet that has just qualified.
func (p Policy) InitialStatus(w *Wallet) Status {
	if p.ShouldPromote(w) {
		return StatusActive
	}
	return StatusMonitoring
}
