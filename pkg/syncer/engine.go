package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/insider-intel/pkg/analyzer"
	"github.com/insider-intel/pkg/config"
	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/intel"
	"github.com/insider-intel/pkg/metrics"
	"github.com/insider-intel/pkg/mmapdb"
)

// Store is the durable side the engine reconciles against.
type Store interface {
	analyzer.TradeSource
	FetchAllCandidateWallets(ctx context.Context, lookbackDays int) ([]solana.PublicKey, error)
	UpsertWallet(ctx context.Context, w *insider.Wallet) error
	DeleteWallet(ctx context.Context, addr solana.PublicKey) error
	AppendDiscoveryLog(ctx context.Context, addr solana.PublicKey, method insider.DiscoveryMethod, confidence float64, ts time.Time) error
	LoadInsiders(ctx context.Context) ([]insider.Wallet, error)
	RecordTrade(ctx context.Context, t db.Trade) error
	RecordCopyResult(ctx context.Context, r db.CopyResult) error
	DeleteTradesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	InactiveWallets(ctx context.Context, cutoff time.Time) ([]solana.PublicKey, error)
}

type Options struct {
	SyncInterval          time.Duration
	DiscoveryInterval     time.Duration
	CleanupSchedule       string
	LookbackDays          int
	TradeRetentionDays    int
	InactiveRetentionDays int
	TokenLaunchRetention  time.Duration
	QueueSize             int
	UpdateBatchSize       int
	SyncBatchSize         int
	DiscoveryBatchSize    int
	RescoreBackoff        time.Duration
	StoreTimeout          time.Duration
	CooldownPeriod        time.Duration
	CooldownLossStreak    int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SyncInterval:          cfg.SyncInterval,
		DiscoveryInterval:     cfg.DiscoveryInterval,
		CleanupSchedule:       cfg.CleanupSchedule,
		LookbackDays:          cfg.DiscoveryLookbackDays,
		TradeRetentionDays:    cfg.TradeRetentionDays,
		InactiveRetentionDays: cfg.InactiveRetentionDays,
		TokenLaunchRetention:  cfg.TokenLaunchRetention,
		QueueSize:             cfg.UpdateQueueSize,
		UpdateBatchSize:       cfg.UpdateBatchSize,
		SyncBatchSize:         cfg.SyncBatchSize,
		DiscoveryBatchSize:    cfg.DiscoveryBatchSize,
		RescoreBackoff:        cfg.RescoreBackoff,
		StoreTimeout:          cfg.StoreTimeout,
		CooldownPeriod:        cfg.CooldownPeriod,
		CooldownLossStreak:    cfg.CooldownLossStreak,
	}
}

// Engine keeps the cache in step with durable storage. It is the only
// writer of the cache and the mapped table.
type Engine struct {
	cache    *intel.Cache
	store    Store
	analyzer *analyzer.Analyzer
	policy   insider.Policy
	opts     Options
	now      func() time.Time

	updates chan Update
	stopped atomic.Bool

	// cycleMu serialises cycles and queue batches so a status set by one
	// is never overwritten by a stale snapshot from another.
	cycleMu sync.Mutex
	perf    *tracker

	// wallets scored recently that did not qualify; they are not scored
	// again until RescoreBackoff has passed
	seenMu sync.Mutex
	seen   map[solana.PublicKey]time.Time

	syncCycles      atomic.Uint64
	discoveryCycles atomic.Uint64
	cleanupCycles   atomic.Uint64
	processed       atomic.Uint64
	dropped         atomic.Uint64
	discovered      atomic.Uint64
	lastSync        atomic.Int64
	lastDiscovery   atomic.Int64
	lastCleanup     atomic.Int64
}

func New(cache *intel.Cache, store Store, opts Options) *Engine {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.UpdateBatchSize < 1 {
		opts.UpdateBatchSize = 1
	}
	if opts.SyncBatchSize < 1 {
		opts.SyncBatchSize = 1
	}
	if opts.RescoreBackoff <= 0 {
		opts.RescoreBackoff = opts.DiscoveryInterval
	}
	return &Engine{
		cache:    cache,
		store:    store,
		analyzer: analyzer.New(store),
		policy:   cache.Policy(),
		opts:     opts,
		now:      time.Now,
		updates:  make(chan Update, opts.QueueSize),
		perf:     newTracker(),
		seen:     make(map[solana.PublicKey]time.Time),
	}
}

// Enqueue hands an update to the engine without blocking. A full queue or a
// stopped engine drops the update; the caller is never told.
func (e *Engine) Enqueue(u Update) bool {
	if e.stopped.Load() {
		e.drop(u, "engine stopped")
		return false
	}
	select {
	case e.updates <- u:
		return true
	default:
		e.drop(u, "queue full")
		return false
	}
}

func (e *Engine) drop(u Update, reason string) {
	e.dropped.Add(1)
	metrics.QueueDrops.Inc()
	log.Warn().Str("kind", u.Kind()).Str("reason", reason).Msg("⚠️ background update dropped")
}

// Run warms the cache and then drives the timers and the queue until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopped.Store(true)

	if err := e.WarmUp(ctx); err != nil {
		log.Error().Err(err).Msg("cache warm-up failed, starting cold")
	}

	g, ctx := errgroup.WithContext(ctx)

	c := cron.New()
	if _, err := c.AddFunc(e.opts.CleanupSchedule, func() { e.RunCleanupCycle(ctx) }); err != nil {
		return fmt.Errorf("cleanup schedule %q: %w", e.opts.CleanupSchedule, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	g.Go(func() error { return e.tickLoop(ctx, e.opts.SyncInterval, e.RunSyncCycle) })
	g.Go(func() error { return e.tickLoop(ctx, e.opts.DiscoveryInterval, e.RunDiscoveryCycle) })
	g.Go(func() error { return e.drainLoop(ctx) })

	log.Info().
		Dur("sync", e.opts.SyncInterval).
		Dur("discovery", e.opts.DiscoveryInterval).
		Str("cleanup", e.opts.CleanupSchedule).
		Msg("🔄 background engine started")
	return g.Wait()
}

func (e *Engine) tickLoop(ctx context.Context, every time.Duration, cycle func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// cycles log and count their own failures
			_ = cycle(ctx)
		}
	}
}

func (e *Engine) drainLoop(ctx context.Context) error {
	batch := make([]Update, 0, e.opts.UpdateBatchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-e.updates:
			batch = append(batch[:0], u)
			batch = e.fill(batch)
			metrics.QueueDepth.Set(float64(len(e.updates)))
			e.ProcessBatch(ctx, batch)
		}
	}
}

// fill tops batch up with whatever is already queued, without waiting.
func (e *Engine) fill(batch []Update) []Update {
	for len(batch) < e.opts.UpdateBatchSize {
		select {
		case u := <-e.updates:
			batch = append(batch, u)
		default:
			return batch
		}
	}
	return batch
}

// DrainPending processes everything queued right now and returns the count.
func (e *Engine) DrainPending(ctx context.Context) int {
	n := 0
	for {
		batch := e.fill(make([]Update, 0, e.opts.UpdateBatchSize))
		if len(batch) == 0 {
			return n
		}
		e.ProcessBatch(ctx, batch)
		n += len(batch)
	}
}

// ProcessBatch dispatches a batch of updates. Forced cycles requested in the
// batch run once, after the rest of the batch.
func (e *Engine) ProcessBatch(ctx context.Context, batch []Update) {
	var wantSync, wantDiscovery bool

	e.cycleMu.Lock()
	for _, u := range batch {
		switch u := u.(type) {
		case InsiderTrade:
			e.handleTrade(ctx, u.Trade)
		case TokenLaunched:
			e.cache.RecordTokenLaunch(u.Mint, u.At)
		case CopyTradeResult:
			e.handleCopyResult(ctx, u.Result)
		case RefreshCache:
			wantSync = true
		case DiscoverInsiders:
			wantDiscovery = true
		}
		e.processed.Add(1)
		metrics.UpdatesProcessed.WithLabelValues(u.Kind()).Inc()
	}
	e.cycleMu.Unlock()

	if wantSync {
		_ = e.RunSyncCycle(ctx)
	}
	if wantDiscovery {
		_ = e.RunDiscoveryCycle(ctx)
	}
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

// ---- warm-up ----

// WarmUp loads every durable insider into the cache and drops mapped
// records that durable storage no longer knows.
func (e *Engine) WarmUp(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	wallets, err := e.store.LoadInsiders(sctx)
	cancel()
	if err != nil {
		return fmt.Errorf("load insiders: %w", err)
	}
	n, err := e.cache.BatchUpdateInsiders(wallets)
	if err != nil {
		e.noteTableErrors(err)
		log.Warn().Err(err).Int("cached", n).Int("total", len(wallets)).Msg("some insiders did not fit the table")
	}
	pruned, err := e.cache.PruneTable()
	if err != nil {
		log.Warn().Err(err).Msg("table prune incomplete")
	}
	log.Info().Int("insiders", n).Int("pruned", pruned).Msg("🔥 cache warmed")
	return nil
}

// ---- sync ----

// RunSyncCycle rescores every cached wallet from its trade history, applies
// status transitions and writes the results to storage and the cache.
func (e *Engine) RunSyncCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	wallets := e.cache.Insiders()
	now := e.now()

	var errs []error
	batch := make([]insider.Wallet, 0, e.opts.SyncBatchSize)
	updated, transitions := 0, 0
	for _, w := range wallets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		sctx, cancel := e.storeCtx(ctx)
		m, err := e.analyzer.Evaluate(sctx, w.Address)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("wallet", insider.Abbrev(w.Address)).Msg("sync: skipping wallet")
			errs = append(errs, err)
			continue
		}
		if m.HasPerformance() {
			m.Apply(&w)
		} else {
			m.Refresh(&w, now)
		}
		if next := e.policy.NextStatus(&w, now); next != w.Status {
			e.transition(&w, next)
			transitions++
		}
		batch = append(batch, w)
		if len(batch) >= e.opts.SyncBatchSize {
			n, err := e.persist(ctx, batch)
			updated += n
			errs = append(errs, err)
			batch = batch[:0]
		}
	}
	n, err := e.persist(ctx, batch)
	updated += n
	errs = append(errs, err)

	err = errors.Join(errs...)
	e.syncCycles.Add(1)
	e.lastSync.Store(time.Now().Unix())
	metrics.RecordCycle("sync", time.Since(start), err)
	log.Info().
		Int("wallets", len(wallets)).
		Int("updated", updated).
		Int("transitions", transitions).
		Dur("took", time.Since(start)).
		Msg("🔄 sync cycle complete")
	return err
}

// persist writes wallets to durable storage first; only those that landed
// there go to the cache.
func (e *Engine) persist(ctx context.Context, wallets []insider.Wallet) (int, error) {
	if len(wallets) == 0 {
		return 0, nil
	}
	var errs []error
	ok := make([]insider.Wallet, 0, len(wallets))
	for i := range wallets {
		sctx, cancel := e.storeCtx(ctx)
		err := e.store.UpsertWallet(sctx, &wallets[i])
		cancel()
		if err != nil {
			log.Error().Err(err).Str("wallet", insider.Abbrev(wallets[i].Address)).Msg("upsert failed")
			errs = append(errs, err)
			continue
		}
		ok = append(ok, wallets[i])
	}
	n, err := e.cache.BatchUpdateInsiders(ok)
	if err != nil {
		e.noteTableErrors(err)
		log.Warn().Err(err).Msg("cache update incomplete")
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}

func (e *Engine) transition(w *insider.Wallet, to insider.Status) {
	from := w.Status
	w.Status = to
	if from == insider.StatusCooldown {
		w.CooldownUntil = time.Time{}
	}
	metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()

	ev := log.Info()
	if to == insider.StatusBlacklisted {
		ev = log.Warn()
	}
	ev.Str("wallet", insider.Abbrev(w.Address)).
		Str("from", string(from)).
		Str("to", string(to)).
		Float64("win_rate", w.WinRate).
		Float64("confidence", w.Confidence).
		Msg("🔀 insider status changed")
}

func (e *Engine) noteTableErrors(err error) {
	if errors.Is(err, mmapdb.ErrTableFull) {
		metrics.TableFullErrors.Inc()
	}
}

// ---- discovery ----

// RunDiscoveryCycle scores untracked wallets active within the lookback
// window and starts tracking those that qualify.
func (e *Engine) RunDiscoveryCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	sctx, cancel := e.storeCtx(ctx)
	candidates, err := e.store.FetchAllCandidateWallets(sctx, e.opts.LookbackDays)
	cancel()
	if err != nil {
		err = fmt.Errorf("discovery candidates: %w", err)
		metrics.RecordCycle("discovery", time.Since(start), err)
		log.Error().Err(err).Msg("discovery cycle abandoned")
		return err
	}

	// recently rejected wallets do not count against the batch
	var errs []error
	found, scored := 0, 0
	for _, addr := range candidates {
		if e.opts.DiscoveryBatchSize > 0 && scored >= e.opts.DiscoveryBatchSize {
			break
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if e.cache.Contains(addr) || !e.shouldEvaluate(addr) {
			continue
		}
		scored++
		ok, err := e.discover(ctx, addr, "")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			found++
		} else {
			e.markSeen(addr)
		}
	}

	err = errors.Join(errs...)
	e.discoveryCycles.Add(1)
	e.lastDiscovery.Store(time.Now().Unix())
	metrics.RecordCycle("discovery", time.Since(start), err)
	log.Info().
		Int("candidates", len(candidates)).
		Int("scored", scored).
		Int("discovered", found).
		Dur("took", time.Since(start)).
		Msg("🔭 discovery cycle complete")
	return err
}

// discover scores addr and tracks it if it qualifies. An empty method lets
// the metrics decide how the wallet is credited.
func (e *Engine) discover(ctx context.Context, addr solana.PublicKey, method insider.DiscoveryMethod) (bool, error) {
	sctx, cancel := e.storeCtx(ctx)
	m, err := e.analyzer.Evaluate(sctx, addr)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("wallet", insider.Abbrev(addr)).Msg("discovery: skipping wallet")
		return false, err
	}

	now := e.now()
	w := insider.Wallet{Address: addr, FirstDetected: now}
	m.Apply(&w)
	if !e.policy.Qualifies(&w) {
		return false, nil
	}
	w.Status = e.policy.InitialStatus(&w)
	if method == "" {
		method = analyzer.ClassifyDiscovery(m)
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.store.UpsertWallet(sctx, &w)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("wallet", insider.Abbrev(addr)).Msg("discovery: persist failed")
		return false, err
	}

	var errs []error
	if err := e.cache.AddInsider(w); err != nil {
		e.noteTableErrors(err)
		log.Warn().Err(err).Str("wallet", insider.Abbrev(addr)).Msg("discovered insider not cached")
		errs = append(errs, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	err = e.store.AppendDiscoveryLog(sctx, addr, method, w.Confidence, now)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("wallet", insider.Abbrev(addr)).Msg("discovery log append failed")
		errs = append(errs, err)
	}

	e.discovered.Add(1)
	metrics.Discoveries.WithLabelValues(string(method)).Inc()
	log.Info().
		Str("wallet", insider.Abbrev(addr)).
		Str("method", string(method)).
		Str("status", string(w.Status)).
		Float64("confidence", w.Confidence).
		Float64("win_rate", w.WinRate).
		Int("trades", w.TotalTrades).
		Msg("🎯 new insider discovered")
	return true, errors.Join(errs...)
}

// ---- cleanup ----

// RunCleanupCycle enforces the retention windows on trade history, idle
// insiders and the token-launch map, then flushes the mapped table.
func (e *Engine) RunCleanupCycle(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	now := e.now()
	var errs []error

	sctx, cancel := e.storeCtx(ctx)
	trades, err := e.store.DeleteTradesBefore(sctx, now.AddDate(0, 0, -e.opts.TradeRetentionDays))
	cancel()
	if err != nil {
		errs = append(errs, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	idle, err := e.store.InactiveWallets(sctx, now.AddDate(0, 0, -e.opts.InactiveRetentionDays))
	cancel()
	if err != nil {
		errs = append(errs, fmt.Errorf("inactive wallets: %w", err))
	}
	evicted := 0
	for _, addr := range idle {
		sctx, cancel := e.storeCtx(ctx)
		err := e.store.DeleteWallet(sctx, addr)
		cancel()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.cache.RemoveInsider(addr); err != nil && !errors.Is(err, intel.ErrNotTracked) {
			errs = append(errs, err)
		}
		e.perf.forget(addr)
		evicted++
	}

	launches := e.cache.PruneTokenLaunches(now.Add(-e.opts.TokenLaunchRetention))
	e.pruneSeen(now)

	if err := e.cache.Table().Flush(); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	if err != nil {
		log.Error().Err(err).Msg("cleanup cycle had errors")
	}
	e.cleanupCycles.Add(1)
	e.lastCleanup.Store(time.Now().Unix())
	metrics.RecordCycle("cleanup", time.Since(start), err)
	log.Info().
		Int64("trades_deleted", trades).
		Int("insiders_evicted", evicted).
		Int("launches_pruned", launches).
		Msg("🧹 cleanup cycle complete")
	return err
}

// ---- queue handlers ----

func (e *Engine) handleTrade(ctx context.Context, t db.Trade) {
	if t.TokenLaunchAt.IsZero() {
		if at, ok := e.cache.GetTokenLaunchTime(t.Mint); ok {
			t.TokenLaunchAt = at
		}
	}
	sctx, cancel := e.storeCtx(ctx)
	err := e.store.RecordTrade(sctx, t)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("wallet", insider.Abbrev(t.Wallet)).Msg("trade not recorded")
		return
	}

	if e.cache.Contains(t.Wallet) {
		if w, ok := e.cache.GetInsiderDetails(t.Wallet); ok && t.Timestamp.After(w.LastActivity) {
			w.LastActivity = t.Timestamp
			if err := e.cache.AddInsider(*w); err != nil {
				e.noteTableErrors(err)
			}
		}
		return
	}

	if !e.shouldEvaluate(t.Wallet) {
		return
	}
	if ok, err := e.discover(ctx, t.Wallet, insider.DiscoveryPatternMatch); !ok && err == nil {
		e.markSeen(t.Wallet)
	}
}

func (e *Engine) handleCopyResult(ctx context.Context, r db.CopyResult) {
	if r.SettledAt.IsZero() {
		r.SettledAt = e.now()
	}
	sctx, cancel := e.storeCtx(ctx)
	err := e.store.RecordCopyResult(sctx, r)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("signal", r.SignalID).Msg("copy result not recorded")
	}

	outcome := "loss"
	if r.Profitable() {
		outcome = "win"
	}
	metrics.CopyResults.WithLabelValues(outcome).Inc()
	p := e.perf.record(r)

	if e.opts.CooldownLossStreak < 1 || p.LossStreak < e.opts.CooldownLossStreak {
		return
	}
	w, ok := e.cache.GetInsiderDetails(r.Wallet)
	if !ok || w.Status != insider.StatusActive {
		return
	}
	e.transition(w, insider.StatusCooldown)
	w.CooldownUntil = e.now().Add(e.opts.CooldownPeriod)
	if _, err := e.persist(ctx, []insider.Wallet{*w}); err != nil {
		log.Error().Err(err).Str("wallet", insider.Abbrev(r.Wallet)).Msg("cooldown not applied")
		return
	}
	e.perf.resetStreak(r.Wallet)
	log.Warn().
		Str("wallet", insider.Abbrev(r.Wallet)).
		Int("loss_streak", p.LossStreak).
		Time("until", w.CooldownUntil).
		Msg("🧊 insider in cooldown")
}

func (e *Engine) shouldEvaluate(addr solana.PublicKey) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	at, ok := e.seen[addr]
	return !ok || e.now().Sub(at) >= e.opts.RescoreBackoff
}

func (e *Engine) markSeen(addr solana.PublicKey) {
	e.seenMu.Lock()
	e.seen[addr] = e.now()
	e.seenMu.Unlock()
}

func (e *Engine) pruneSeen(now time.Time) {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	for addr, at := range e.seen {
		if now.Sub(at) >= e.opts.RescoreBackoff {
			delete(e.seen, addr)
		}
	}
}

// ---- introspection ----

func (e *Engine) Performance(addr solana.PublicKey) (Performance, bool) {
	return e.perf.get(addr)
}

type Stats struct {
	SyncCycles       uint64    `json:"sync_cycles"`
	DiscoveryCycles  uint64    `json:"discovery_cycles"`
	CleanupCycles    uint64    `json:"cleanup_cycles"`
	UpdatesProcessed uint64    `json:"updates_processed"`
	UpdatesDropped   uint64    `json:"updates_dropped"`
	Discovered       uint64    `json:"discovered"`
	QueueDepth       int       `json:"queue_depth"`
	LastSync         time.Time `json:"last_sync"`
	LastDiscovery    time.Time `json:"last_discovery"`
	LastCleanup      time.Time `json:"last_cleanup"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		SyncCycles:       e.syncCycles.Load(),
		DiscoveryCycles:  e.discoveryCycles.Load(),
		CleanupCycles:    e.cleanupCycles.Load(),
		UpdatesProcessed: e.processed.Load(),
		UpdatesDropped:   e.dropped.Load(),
		Discovered:       e.discovered.Load(),
		QueueDepth:       len(e.updates),
		LastSync:         unixTime(e.lastSync.Load()),
		LastDiscovery:    unixTime(e.lastDiscovery.Load()),
		LastCleanup:      unixTime(e.lastCleanup.Load()),
	}
}

func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}
