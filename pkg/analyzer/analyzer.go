package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
)

// TradeSource is the slice of the durable store the analyzer reads from.
type TradeSource interface {
	FetchWalletTradeHistory(ctx context.Context, addr solana.PublicKey) ([]db.Trade, error)
}

type Analyzer struct {
	src TradeSource
	now func() time.Time
}

func New(src TradeSource) *Analyzer {
	return &Analyzer{src: src, now: time.Now}
}

// Metrics are the performance figures derived from a wallet's trade history.
type Metrics struct {
	TotalTrades         int       `json:"total_trades"`
	Sells               int       `json:"sells"`
	RecentTrades        int       `json:"recent_trades"`
	ProfitableTrades    int       `json:"profitable_trades"`
	WinRate             float64   `json:"win_rate"`
	AvgProfitPct        float64   `json:"avg_profit_pct"`
	EarlyEntryScore     float64   `json:"early_entry_score"`
	RecentActivityScore float64   `json:"recent_activity_score"`
	Confidence          float64   `json:"confidence"`
	LastActivity        time.Time `json:"last_activity"`
}

// Confidence weights. They sum to 1.
const (
	weightWinRate = 0.45
	weightProfit  = 0.25
	weightVolume  = 0.10
	weightEarly   = 0.10
	weightRecent  = 0.10

	profitSaturation = 0.50 // avg profit at which the profit component maxes out
	volumeSaturation = 20
	recentWindow     = 7 * 24 * time.Hour
	recentTradeSat   = 10
	recencyHalfLife  = 72.0 // hours, e-folding time of the recency decay
)

// Evaluate loads a wallet's history and scores it.
func (a *Analyzer) Evaluate(ctx context.Context, addr solana.PublicKey) (Metrics, error) {
	trades, err := a.src.FetchWalletTradeHistory(ctx, addr)
	if err != nil {
		return Metrics{}, fmt.Errorf("evaluate %s: %w", insider.Abbrev(addr), err)
	}
	m := Compute(trades, a.now())
	log.Debug().Str("wallet", insider.Abbrev(addr)).Int("trades", m.TotalTrades).
		Float64("win_rate", m.WinRate).Float64("confidence", m.Confidence).Msg("📊 scored wallet")
	return m, nil
}

// Compute derives metrics from trades. Win rate and average profit are over
// realised sells; early entry is over buys with a known launch time.
func Compute(trades []db.Trade, now time.Time) Metrics {
	m := Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var winProfits, earlyScores []float64
	for _, t := range trades {
		if t.Timestamp.After(m.LastActivity) {
			m.LastActivity = t.Timestamp
		}
		if now.Sub(t.Timestamp) <= recentWindow {
			m.RecentTrades++
		}
		switch t.Side {
		case db.SideSell:
			m.Sells++
			if t.ProfitPct > 0 {
				m.ProfitableTrades++
				winProfits = append(winProfits, t.ProfitPct)
			}
		case db.SideBuy:
			if !t.TokenLaunchAt.IsZero() {
				earlyScores = append(earlyScores, entryScore(t.Timestamp.Sub(t.TokenLaunchAt)))
			}
		}
	}

	m.WinRate = safeRatio(m.ProfitableTrades, m.Sells)
	m.AvgProfitPct = avg(winProfits)
	m.EarlyEntryScore = avg(earlyScores)

	m.RecentActivityScore = recentActivity(m.RecentTrades, m.LastActivity, now)

	m.Confidence = clamp01(weightWinRate*m.WinRate +
		weightProfit*math.Min(m.AvgProfitPct/profitSaturation, 1) +
		weightVolume*math.Min(float64(m.TotalTrades)/volumeSaturation, 1) +
		weightEarly*m.EarlyEntryScore +
		weightRecent*m.RecentActivityScore)
	return m
}

func recentActivity(recent int, last, now time.Time) float64 {
	hoursSince := math.Max(now.Sub(last).Hours(), 0)
	return 0.5*math.Min(float64(recent)/recentTradeSat, 1) + 0.5*math.Exp(-hoursSince/recencyHalfLife)
}

// HasPerformance reports whether the history still holds realised sells to
// judge the wallet on. Retention empties the history of idle wallets.
func (m Metrics) HasPerformance() bool { return m.Sells > 0 }

// entryScore rates how soon after launch a buy landed.
func entryScore(sinceLaunch time.Duration) float64 {
	switch {
	case sinceLaunch <= 5*time.Minute:
		return 1.0
	case sinceLaunch <= 30*time.Minute:
		return 0.6
	case sinceLaunch <= 2*time.Hour:
		return 0.3
	default:
		return 0
	}
}

// Apply copies the metrics onto w, leaving identity and status alone.
func (m Metrics) Apply(w *insider.Wallet) {
	w.TotalTrades = m.TotalTrades
	w.ProfitableTrades = m.ProfitableTrades
	w.WinRate = m.WinRate
	w.AvgProfitPct = m.AvgProfitPct
	w.EarlyEntryScore = m.EarlyEntryScore
	w.RecentActivityScore = m.RecentActivityScore
	w.Confidence = m.Confidence
	if m.LastActivity.After(w.LastActivity) {
		w.LastActivity = m.LastActivity
	}
}

// Refresh keeps w's stored performance and only ages its activity score.
func (m Metrics) Refresh(w *insider.Wallet, now time.Time) {
	if m.LastActivity.After(w.LastActivity) {
		w.LastActivity = m.LastActivity
	}
	w.RecentActivityScore = recentActivity(m.RecentTrades, w.LastActivity, now)
}

// ClassifyDiscovery picks the heuristic credited with finding a wallet.
func ClassifyDiscovery(m Metrics) insider.DiscoveryMethod {
	if m.EarlyEntryScore >= 0.6 {
		return insider.DiscoveryEarlyEntry
	}
	return insider.DiscoveryHighProfit
}

func avg(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func safeRatio(n, t int) float64 {
	if t == 0 {
		return 0
	}
	return float64(n) / float64(t)
}

func clamp01(v float64) float64 { return math.Min(math.Max(v, 0), 1) }
