package intel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gagliardetto/solana-go"

	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/mmapdb"
)

var ErrNotTracked = errors.New("wallet not tracked")

// Cache is the decision layer over a mapped table. The hot path reads the
// table only; the in-memory index carries the fields the record cannot
// (cooldown expiry, first detection) and serves the cold read helpers.
//
// Mutations are serialised by wmu and are expected to come from the
// background engine alone.
type Cache struct {
	table             *mmapdb.Table
	policy            insider.Policy
	minCopyConfidence float64

	index    sync.Map // solana.PublicKey -> *insider.Wallet, never mutated after Store
	launches sync.Map // solana.PublicKey -> int64 unix seconds

	wmu          sync.Mutex
	statusCounts [4]atomic.Int64
	launchCount  atomic.Int64
	lastUpdate   atomic.Int64

	decisions atomic.Uint64
	copies    atomic.Uint64
}

func New(table *mmapdb.Table, policy insider.Policy, minCopyConfidence float64) *Cache {
	return &Cache{table: table, policy: policy, minCopyConfidence: minCopyConfidence}
}

func (c *Cache) Table() *mmapdb.Table { return c.table }
func (c *Cache) Policy() insider.Policy { return c.policy }

// ---- hot path ----

// ShouldCopyTrade decides whether to mirror a trade by addr on a token that
// launched tokenAgeMinutes ago. It returns nil for unknown and blacklisted
// wallets. Cooldown and Monitoring wallets get a decision with ShouldCopy
// unset.
func (c *Cache) ShouldCopyTrade(addr solana.PublicKey, tokenAgeMinutes float64) *insider.CopyDecision {
	c.decisions.Add(1)
	rec, ok := c.table.LookupRecord(addr)
	if !ok {
		return nil
	}
	status := insider.StatusFromFlags(rec.Flags)
	if status == insider.StatusBlacklisted {
		return nil
	}

	conf := float64(rec.Confidence)
	boost := ageFactor(tokenAgeMinutes)
	score := conf * (0.8 + 0.2*float64(rec.EarlyEntryScore)) * boost
	urgency := urgencyFor(score)

	d := &insider.CopyDecision{
		Confidence:   conf,
		PositionSize: math.Min(c.policy.PositionMultiplier(conf)*boost, c.policy.MaxPositionMultiplier),
		Delay:        c.policy.CopyDelay(conf),
		Urgency:      urgency,
	}
	d.ShouldCopy = status == insider.StatusActive && conf >= c.minCopyConfidence && urgency != insider.UrgencyLow
	if d.ShouldCopy {
		c.copies.Add(1)
	}
	return d
}

// LookupConfidence is the bare confidence read.
func (c *Cache) LookupConfidence(addr solana.PublicKey) (float32, bool) {
	return c.table.LookupConfidence(addr)
}

// ageFactor favours fresh tokens and penalises old ones.
func ageFactor(minutes float64) float64 {
	switch {
	case minutes <= 5:
		return 1.2
	case minutes <= 30:
		return 1.0
	case minutes <= 120:
		return 0.8
	default:
		return 0.5
	}
}

func urgencyFor(score float64) insider.Urgency {
	switch {
	case score >= 0.9:
		return insider.UrgencyImmediate
	case score >= 0.75:
		return insider.UrgencyHigh
	case score >= 0.6:
		return insider.UrgencyNormal
	default:
		return insider.UrgencyLow
	}
}

// ---- read helpers ----

func (c *Cache) IsBlacklisted(addr solana.PublicKey) bool {
	rec, ok := c.table.LookupRecord(addr)
	return ok && rec.HasFlag(mmapdb.FlagBlacklisted)
}

// GetInsiderDetails prefers the indexed wallet and falls back to what the
// mapped record carries.
func (c *Cache) GetInsiderDetails(addr solana.PublicKey) (*insider.Wallet, bool) {
	if v, ok := c.index.Load(addr); ok {
		w := *v.(*insider.Wallet)
		return &w, true
	}
	rec, ok := c.table.LookupRecord(addr)
	if !ok {
		return nil, false
	}
	w := insider.FromRecord(rec)
	return &w, true
}

func (c *Cache) Contains(addr solana.PublicKey) bool {
	_, ok := c.index.Load(addr)
	return ok
}

// Insiders returns a snapshot of the index, highest confidence first.
func (c *Cache) Insiders() []insider.Wallet {
	var out []insider.Wallet
	c.index.Range(func(_, v any) bool {
		out = append(out, *v.(*insider.Wallet))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ---- writes ----

// AddInsider writes w into the mapped table and the index. A wallet that
// does not fit in the table is not indexed either.
func (c *Cache) AddInsider(w insider.Wallet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.addLocked(w)
}

func (c *Cache) addLocked(w insider.Wallet) error {
	if _, err := c.table.Insert(w.Record()); err != nil {
		return fmt.Errorf("cache %s: %w", insider.Abbrev(w.Address), err)
	}
	snap := w
	prev, loaded := c.index.Swap(w.Address, &snap)
	if loaded {
		c.statusCounts[statusSlot(prev.(*insider.Wallet).Status)].Add(-1)
	}
	c.statusCounts[statusSlot(w.Status)].Add(1)
	c.lastUpdate.Store(time.Now().Unix())
	return nil
}

// RemoveInsider drops addr from both the index and the mapped table.
func (c *Cache) RemoveInsider(addr solana.PublicKey) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.removeLocked(addr)
}

func (c *Cache) removeLocked(addr solana.PublicKey) error {
	prev, indexed := c.index.LoadAndDelete(addr)
	if indexed {
		c.statusCounts[statusSlot(prev.(*insider.Wallet).Status)].Add(-1)
	}
	removed, err := c.table.Remove(addr)
	if err != nil {
		return fmt.Errorf("evict %s: %w", insider.Abbrev(addr), err)
	}
	if !indexed && !removed {
		return fmt.Errorf("evict %s: %w", insider.Abbrev(addr), ErrNotTracked)
	}
	c.lastUpdate.Store(time.Now().Unix())
	return nil
}

// BatchUpdateInsiders applies every wallet and reports how many landed.
// Per-wallet failures are joined; one failure never stops the batch.
func (c *Cache) BatchUpdateInsiders(wallets []insider.Wallet) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var errs []error
	n := 0
	for _, w := range wallets {
		if err := c.addLocked(w); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// PruneTable tombstones mapped records that the index does not know, such
// as wallets deleted from durable storage while the process was down.
func (c *Cache) PruneTable() (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var stale []solana.PublicKey
	c.table.ForEach(func(rec mmapdb.WalletRecord) bool {
		addr := solana.PublicKey(rec.FullAddress)
		if _, ok := c.index.Load(addr); !ok {
			stale = append(stale, addr)
		}
		return true
	})
	var errs []error
	for _, addr := range stale {
		if _, err := c.table.Remove(addr); err != nil {
			errs = append(errs, err)
		}
	}
	return len(stale), errors.Join(errs...)
}

// ---- token launches ----

// RecordTokenLaunch keeps the first launch time seen for mint.
func (c *Cache) RecordTokenLaunch(mint solana.PublicKey, at time.Time) bool {
	_, loaded := c.launches.LoadOrStore(mint, at.Unix())
	if !loaded {
		c.launchCount.Add(1)
	}
	return !loaded
}

// CacheTokenLaunchTime overwrites the launch time, for authoritative sources.
func (c *Cache) CacheTokenLaunchTime(mint solana.PublicKey, at time.Time) {
	if _, loaded := c.launches.Swap(mint, at.Unix()); !loaded {
		c.launchCount.Add(1)
	}
}

func (c *Cache) GetTokenLaunchTime(mint solana.PublicKey) (time.Time, bool) {
	v, ok := c.launches.Load(mint)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(v.(int64), 0), true
}

// TokenAgeMinutes is the minutes since mint launched. ok is false when the
// launch was never observed.
func (c *Cache) TokenAgeMinutes(mint solana.PublicKey, now time.Time) (float64, bool) {
	at, ok := c.GetTokenLaunchTime(mint)
	if !ok {
		return 0, false
	}
	return math.Max(now.Sub(at).Minutes(), 0), true
}

// PruneTokenLaunches drops launches older than cutoff.
func (c *Cache) PruneTokenLaunches(cutoff time.Time) int {
	limit := cutoff.Unix()
	n := 0
	c.launches.Range(func(k, v any) bool {
		if v.(int64) < limit && c.launches.CompareAndDelete(k, v) {
			c.launchCount.Add(-1)
			n++
		}
		return true
	})
	return n
}

// ---- statistics ----

type Statistics struct {
	TotalInsiders int64     `json:"total_insiders"`
	Active        int64     `json:"active"`
	Monitoring    int64     `json:"monitoring"`
	Blacklisted   int64     `json:"blacklisted"`
	Cooldown      int64     `json:"cooldown"`
	TrackedTokens int64     `json:"tracked_tokens"`
	Decisions     uint64    `json:"decisions"`
	CopySignals   uint64    `json:"copy_signals"`
	HitRate       float64   `json:"hit_rate"`
	LoadFactor    float64   `json:"load_factor"`
	LastUpdate    time.Time `json:"last_update"`
	MemoryUsage   uint64    `json:"memory_usage"`
}

func (c *Cache) GetStatistics() Statistics {
	ts := c.table.Stats()
	s := Statistics{
		Active:        c.statusCounts[statusSlot(insider.StatusActive)].Load(),
		Monitoring:    c.statusCounts[statusSlot(insider.StatusMonitoring)].Load(),
		Blacklisted:   c.statusCounts[statusSlot(insider.StatusBlacklisted)].Load(),
		Cooldown:      c.statusCounts[statusSlot(insider.StatusCooldown)].Load(),
		TrackedTokens: c.launchCount.Load(),
		Decisions:     c.decisions.Load(),
		CopySignals:   c.copies.Load(),
		HitRate:       ts.HitRate,
		LoadFactor:    ts.LoadFactor,
	}
	s.TotalInsiders = s.Active + s.Monitoring + s.Blacklisted + s.Cooldown
	if lu := c.lastUpdate.Load(); lu > 0 {
		s.LastUpdate = time.Unix(lu, 0)
	}
	// approximate: mapped file plus one wallet snapshot and two map words per entry
	perEntry := uint64(unsafe.Sizeof(insider.Wallet{})) + 64
	s.MemoryUsage = ts.MemoryUsage + uint64(s.TotalInsiders)*perEntry + uint64(s.TrackedTokens)*64
	return s
}

func statusSlot(s insider.Status) int {
	switch s {
	case insider.StatusActive:
		return 0
	case insider.StatusBlacklisted:
		return 2
	case insider.StatusCooldown:
		return 3
	default:
		return 1
	}
}
