package db

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/insider-intel/pkg/insider"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one observed swap in trade_analysis.
type Trade struct {
	ID            int64            `json:"id"`
	Signature     string           `json:"signature"`
	Wallet        solana.PublicKey `json:"wallet"`
	Mint          solana.PublicKey `json:"mint"`
	Side          Side             `json:"side"`
	AmountSOL     float64          `json:"amount_sol"`
	ProfitPct     float64          `json:"profit_pct"`      // realised, sells only
	TokenLaunchAt time.Time        `json:"token_launch_at"` // zero when unknown
	Timestamp     time.Time        `json:"timestamp"`
}

type DiscoveryLogEntry struct {
	ID                int64                   `json:"id"`
	Wallet            solana.PublicKey        `json:"wallet"`
	Method            insider.DiscoveryMethod `json:"method"`
	InitialConfidence float64                 `json:"initial_confidence"`
	DiscoveredAt      time.Time               `json:"discovered_at"`
}

// CopyResult is the settled outcome of a copied trade.
type CopyResult struct {
	SignalID  string           `json:"signal_id"`
	Wallet    solana.PublicKey `json:"wallet"`
	Mint      solana.PublicKey `json:"mint"`
	ProfitPct float64          `json:"profit_pct"`
	SettledAt time.Time        `json:"settled_at"`
}

func (r CopyResult) Profitable() bool { return r.ProfitPct > 0 }
