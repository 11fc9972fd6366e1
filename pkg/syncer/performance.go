package syncer

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/insider-intel/pkg/db"
)

// Performance tracks how copies of one wallet's trades have settled.
type Performance struct {
	Copied         int       `json:"copied"`
	Wins           int       `json:"wins"`
	LossStreak     int       `json:"loss_streak"`
	TotalProfitPct float64   `json:"total_profit_pct"`
	LastResult     time.Time `json:"last_result"`
}

func (p Performance) WinRate() float64 {
	if p.Copied == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.Copied)
}

type tracker struct {
	mu sync.Mutex
	m  map[solana.PublicKey]*Performance
}

func newTracker() *tracker {
	return &tracker{m: make(map[solana.PublicKey]*Performance)}
}

func (t *tracker) record(r db.CopyResult) Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[r.Wallet]
	if !ok {
		p = &Performance{}
		t.m[r.Wallet] = p
	}
	p.Copied++
	p.TotalProfitPct += r.ProfitPct
	p.LastResult = r.SettledAt
	if r.Profitable() {
		p.Wins++
		p.LossStreak = 0
	} else {
		p.LossStreak++
	}
	return *p
}

// resetStreak is called once a streak has been acted on.
func (t *tracker) resetStreak(addr solana.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.m[addr]; ok {
		p.LossStreak = 0
	}
}

func (t *tracker) get(addr solana.PublicKey) (Performance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[addr]
	if !ok {
		return Performance{}, false
	}
	return *p, true
}

func (t *tracker) forget(addr solana.PublicKey) {
	t.mu.Lock()
	delete(t.m, addr)
	t.mu.Unlock()
}
