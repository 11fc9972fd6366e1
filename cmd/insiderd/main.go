package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/insider-intel/pkg/config"
	"github.com/insider-intel/pkg/dashboard"
	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/intel"
	"github.com/insider-intel/pkg/metrics"
	"github.com/insider-intel/pkg/mmapdb"
	"github.com/insider-intel/pkg/monitor"
	"github.com/insider-intel/pkg/syncer"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("🕵️ insider intelligence cache starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	metrics.Init()

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database init failed")
	}
	defer store.Close()

	tbl, err := mmapdb.OpenOrCreate(cfg.MmapPath, cfg.MmapCapacity, cfg.MmapProbeLimit)
	switch {
	case errors.Is(err, mmapdb.ErrLocked):
		log.Fatal().Err(err).Str("path", cfg.MmapPath).Msg("another process owns the mapped table")
	case errors.Is(err, mmapdb.ErrInvalidConfig), errors.Is(err, mmapdb.ErrCorrupt):
		log.Fatal().Err(err).Str("path", cfg.MmapPath).Msg("mapped table unusable, remove it to rebuild from the database")
	case err != nil:
		log.Fatal().Err(err).Msg("mapped table open failed")
	}
	metrics.RegisterTable(tbl.Stats)

	cache := intel.New(tbl, cfg.Policy(), cfg.MinCopyConfidence)
	engine := syncer.New(cache, store, syncer.OptionsFromConfig(cfg))
	mon := monitor.NewTradeMonitor(cache, engine, cfg.SignalBuffer)
	dash := dashboard.New(cache, engine, mon, store, cfg.DashboardPort)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return dash.Run(gctx) })
	g.Go(func() error { return consumeSignals(gctx, mon) })

	printSummary(cfg, cache, store)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("error")
	}
	log.Info().Msg("shutting down...")

	printSummary(cfg, cache, store)
	if err := tbl.Close(); err != nil {
		log.Error().Err(err).Msg("table close failed")
	}
	log.Info().Msg("goodbye 👋")
}

// consumeSignals stands in for execution; it logs every copy signal.
func consumeSignals(ctx context.Context, mon *monitor.TradeMonitor) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-mon.Signals():
			log.Info().
				Str("wallet", insider.Abbrev(sig.Wallet)).
				Str("mint", insider.Abbrev(sig.Mint)).
				Str("urgency", string(sig.Decision.Urgency)).
				Float64("amount_sol", sig.AmountSOL).
				Dur("delay", sig.Decision.Delay).
				Msg("🎯 copy signal")
		}
	}
}

func printSummary(cfg *config.Config, cache *intel.Cache, store *db.Store) {
	st := cache.GetStatistics()
	ts := cache.Table().Stats()
	counts, _ := store.GetStats()

	title := color.New(color.FgCyan, color.Bold)
	fmt.Println("\n" + strings.Repeat("═", 60))
	title.Println("  🕵️ INSIDER INTELLIGENCE CACHE - RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  Table:     %s (%d slots, probe %d)\n", cfg.MmapPath, ts.Capacity, cache.Table().ProbeLimit())
	fmt.Printf("  Database:  %s\n", cfg.DBPath)
	fmt.Printf("  Dashboard: http://localhost:%d\n", cfg.DashboardPort)
	fmt.Printf("  Sync:      every %s, discovery every %s, cleanup %q\n", cfg.SyncInterval, cfg.DiscoveryInterval, cfg.CleanupSchedule)

	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader([]string{"Status", "Wallets"})
	t.Append([]string{color.GreenString("active"), fmt.Sprint(st.Active)})
	t.Append([]string{color.BlueString("monitoring"), fmt.Sprint(st.Monitoring)})
	t.Append([]string{color.YellowString("cooldown"), fmt.Sprint(st.Cooldown)})
	t.Append([]string{color.RedString("blacklisted"), fmt.Sprint(st.Blacklisted)})
	t.SetFooter([]string{"total", fmt.Sprint(st.TotalInsiders)})
	t.Render()

	fmt.Printf("  Load %.1f%%, hit rate %.1f%%, %d tokens tracked\n", ts.LoadFactor*100, ts.HitRate*100, st.TrackedTokens)
	if counts != nil {
		fmt.Printf("  DB: %d wallets, %d trades, %d discoveries\n", counts["insider_wallets"], counts["trade_analysis"], counts["discovery_log"])
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
