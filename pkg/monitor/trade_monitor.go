package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/intel"
	"github.com/insider-intel/pkg/metrics"
	"github.com/insider-intel/pkg/syncer"
)

var ErrUnknownSignal = errors.New("unknown signal")

// unknownTokenAge is assumed when a mint's launch was never observed. It
// lands in the penalised band so unseen tokens are sized down.
const unknownTokenAge = 60.0

// signalTTL bounds how long an emitted signal waits for its settlement.
const signalTTL = 24 * time.Hour

type EventType string

const (
	EventSwap        EventType = "swap"
	EventTokenLaunch EventType = "token_launch"
)

// MarketEvent is what ingestion hands over for every swap or launch.
type MarketEvent struct {
	Type          EventType        `json:"type"`
	Signature     string           `json:"signature"`
	Wallet        solana.PublicKey `json:"wallet"`
	Mint          solana.PublicKey `json:"mint"`
	Side          db.Side          `json:"side"`
	AmountSOL     float64          `json:"amount_sol"`
	ProfitPct     float64          `json:"profit_pct"`
	TokenLaunchAt time.Time        `json:"token_launch_at"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Signal asks execution to mirror a trade.
type Signal struct {
	ID              string               `json:"id"`
	Wallet          solana.PublicKey     `json:"wallet"`
	Mint            solana.PublicKey     `json:"mint"`
	AmountSOL       float64              `json:"amount_sol"`
	TokenAgeMinutes float64              `json:"token_age_minutes"`
	Decision        insider.CopyDecision `json:"decision"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Enqueuer is the engine's fire-and-forget input.
type Enqueuer interface {
	Enqueue(u syncer.Update) bool
}

type pendingSignal struct {
	wallet  solana.PublicKey
	mint    solana.PublicKey
	created time.Time
}

// TradeMonitor turns market events into copy-trade signals and background
// updates. ProcessMarketEvent never blocks.
type TradeMonitor struct {
	cache   *intel.Cache
	engine  Enqueuer
	signals chan Signal

	pending sync.Map // signal id -> pendingSignal

	events  atomic.Uint64
	emitted atomic.Uint64
	dropped atomic.Uint64
}

func NewTradeMonitor(cache *intel.Cache, engine Enqueuer, buffer int) *TradeMonitor {
	return &TradeMonitor{
		cache:   cache,
		engine:  engine,
		signals: make(chan Signal, max(buffer, 1)),
	}
}

// Signals is the copy-trade signal stream.
func (m *TradeMonitor) Signals() <-chan Signal { return m.signals }

// ProcessMarketEvent decides on a copy for insider buys, emits the signal
// if there is one, and queues the event for the background engine.
func (m *TradeMonitor) ProcessMarketEvent(ev MarketEvent) *Signal {
	m.events.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if ev.Type == EventTokenLaunch {
		m.engine.Enqueue(syncer.TokenLaunched{Mint: ev.Mint, At: ev.Timestamp})
		return nil
	}

	var sig *Signal
	if ev.Side == db.SideBuy {
		sig = m.decide(ev)
	}

	m.engine.Enqueue(syncer.InsiderTrade{Trade: db.Trade{
		Signature:     ev.Signature,
		Wallet:        ev.Wallet,
		Mint:          ev.Mint,
		Side:          ev.Side,
		AmountSOL:     ev.AmountSOL,
		ProfitPct:     ev.ProfitPct,
		TokenLaunchAt: ev.TokenLaunchAt,
		Timestamp:     ev.Timestamp,
	}})
	return sig
}

func (m *TradeMonitor) decide(ev MarketEvent) *Signal {
	age := unknownTokenAge
	if !ev.TokenLaunchAt.IsZero() {
		age = max(ev.Timestamp.Sub(ev.TokenLaunchAt).Minutes(), 0)
	} else if a, ok := m.cache.TokenAgeMinutes(ev.Mint, ev.Timestamp); ok {
		age = a
	}

	d := m.cache.ShouldCopyTrade(ev.Wallet, age)
	if d == nil || !d.ShouldCopy {
		return nil
	}

	sig := Signal{
		ID:              uuid.NewString(),
		Wallet:          ev.Wallet,
		Mint:            ev.Mint,
		AmountSOL:       ev.AmountSOL * d.PositionSize,
		TokenAgeMinutes: age,
		Decision:        *d,
		CreatedAt:       time.Now(),
	}

	select {
	case m.signals <- sig:
	default:
		m.dropped.Add(1)
		metrics.SignalDrops.Inc()
		log.Warn().Str("wallet", insider.Abbrev(ev.Wallet)).Msg("⚠️ signal channel full, copy signal dropped")
		return nil
	}

	m.pending.Store(sig.ID, pendingSignal{wallet: ev.Wallet, mint: ev.Mint, created: sig.CreatedAt})
	m.emitted.Add(1)
	metrics.Signals.WithLabelValues(string(d.Urgency)).Inc()
	return &sig
}

// UpdateCopyPerformance feeds the settled result of a signal back to the
// engine's performance tracking.
func (m *TradeMonitor) UpdateCopyPerformance(signalID string, profitPct float64) error {
	v, ok := m.pending.LoadAndDelete(signalID)
	if !ok {
		return ErrUnknownSignal
	}
	p := v.(pendingSignal)
	m.engine.Enqueue(syncer.CopyTradeResult{Result: db.CopyResult{
		SignalID:  signalID,
		Wallet:    p.wallet,
		Mint:      p.mint,
		ProfitPct: profitPct,
		SettledAt: time.Now(),
	}})
	return nil
}

// Run expires signals that were never settled.
func (m *TradeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.PrunePending(time.Now().Add(-signalTTL)); n > 0 {
				log.Debug().Int("expired", n).Msg("unsettled signals expired")
			}
		}
	}
}

func (m *TradeMonitor) PrunePending(cutoff time.Time) int {
	n := 0
	m.pending.Range(func(k, v any) bool {
		if v.(pendingSignal).created.Before(cutoff) {
			m.pending.Delete(k)
			n++
		}
		return true
	})
	return n
}

type Stats struct {
	Events         uint64 `json:"events"`
	SignalsEmitted uint64 `json:"signals_emitted"`
	SignalsDropped uint64 `json:"signals_dropped"`
}

func (m *TradeMonitor) Stats() Stats {
	return Stats{
		Events:         m.events.Load(),
		SignalsEmitted: m.emitted.Load(),
		SignalsDropped: m.dropped.Load(),
	}
}
