package insider

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/insider-intel/pkg/mmapdb"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusMonitoring  Status = "monitoring"
	StatusBlacklisted Status = "blacklisted"
	StatusCooldown    Status = "cooldown"
)

// Flag maps a status onto the mapped-record bitset.
func (s Status) Flag() uint32 {
	switch s {
	case StatusActive:
		return mmapdb.FlagActive
	case StatusBlacklisted:
		return mmapdb.FlagBlacklisted
	case StatusCooldown:
		return mmapdb.FlagCooldown
	default:
		return mmapdb.FlagMonitoring
	}
}

// StatusFromFlags is the inverse of Status.Flag. Blacklisting wins over
// every other bit.
func StatusFromFlags(flags uint32) Status {
	switch {
	case flags&mmapdb.FlagBlacklisted != 0:
		return StatusBlacklisted
	case flags&mmapdb.FlagCooldown != 0:
		return StatusCooldown
	case flags&mmapdb.FlagActive != 0:
		return StatusActive
	default:
		return StatusMonitoring
	}
}

func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusBlacklisted, StatusCooldown:
		return Status(s)
	default:
		return StatusMonitoring
	}
}

// Wallet is the logical insider record. Durable storage owns it; the mapped
// table and the in-memory cache hold replicas.
type Wallet struct {
	Address             solana.PublicKey `json:"address"`
	Status              Status           `json:"status"`
	Confidence          float64          `json:"confidence"`
	WinRate             float64          `json:"win_rate"`
	AvgProfitPct        float64          `json:"avg_profit_pct"`
	TotalTrades         int              `json:"total_trades"`
	ProfitableTrades    int              `json:"profitable_trades"`
	EarlyEntryScore     float64          `json:"early_entry_score"`
	RecentActivityScore float64          `json:"recent_activity_score"`
	FirstDetected       time.Time        `json:"first_detected"`
	LastActivity        time.Time        `json:"last_activity"`
	CooldownUntil       time.Time        `json:"cooldown_until,omitempty"`
}

// Record flattens the wallet into its fixed-layout form.
func (w *Wallet) Record() mmapdb.WalletRecord {
	rec := mmapdb.WalletRecord{
		FullAddress:     w.Address,
		Confidence:      float32(w.Confidence),
		WinRate:         float32(w.WinRate),
		AvgProfit:       float32(w.AvgProfitPct),
		TotalTrades:     uint32(max(w.TotalTrades, 0)),
		Flags:           w.Status.Flag(),
		EarlyEntryScore: float32(w.EarlyEntryScore),
		RecentActivity:  float32(w.RecentActivityScore),
	}
	if !w.LastActivity.IsZero() {
		rec.LastActivity = uint32(w.LastActivity.Unix())
	}
	return rec
}

// FromRecord rebuilds the parts of a Wallet the mapped record carries.
// ProfitableTrades, FirstDetected and CooldownUntil are not persisted there.
func FromRecord(rec mmapdb.WalletRecord) Wallet {
	w := Wallet{
		Address:             solana.PublicKeyFromBytes(rec.FullAddress[:]),
		Status:              StatusFromFlags(rec.Flags),
		Confidence:          float64(rec.Confidence),
		WinRate:             float64(rec.WinRate),
		AvgProfitPct:        float64(rec.AvgProfit),
		TotalTrades:         int(rec.TotalTrades),
		EarlyEntryScore:     float64(rec.EarlyEntryScore),
		RecentActivityScore: float64(rec.RecentActivity),
	}
	if rec.LastActivity != 0 {
		w.LastActivity = time.Unix(int64(rec.LastActivity), 0).UTC()
	}
	return w
}

type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyNormal    Urgency = "normal"
	UrgencyLow       Urgency = "low"
)

// CopyDecision is computed per lookup and never persisted.
type CopyDecision struct {
	ShouldCopy   bool          `json:"should_copy"`
	Confidence   float64       `json:"confidence"`
	PositionSize float64       `json:"position_size"`
	Delay        time.Duration `json:"delay"`
	Urgency      Urgency       `json:"urgency"`
}

type DiscoveryMethod string

const (
	DiscoveryEarlyEntry   DiscoveryMethod = "early_entry"
	DiscoveryHighProfit   DiscoveryMethod = "high_profit"
	DiscoveryPatternMatch DiscoveryMethod = "pattern_match"
	DiscoveryManual       DiscoveryMethod = "manual"
)

// Abbrev shortens an address for logs.
func Abbrev(a solana.PublicKey) string {
	s := a.String()
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
