package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/intel"
	"github.com/insider-intel/pkg/metrics"
	"github.com/insider-intel/pkg/monitor"
	"github.com/insider-intel/pkg/syncer"
)

type Dashboard struct {
	cache   *intel.Cache
	engine  *syncer.Engine
	monitor *monitor.TradeMonitor
	store   *db.Store
	port    int
}

func New(cache *intel.Cache, engine *syncer.Engine, mon *monitor.TradeMonitor, store *db.Store, port int) *Dashboard {
	return &Dashboard{cache: cache, engine: engine, monitor: mon, store: store, port: port}
}

func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/stats", cors(d.handleStats))
	mux.HandleFunc("/api/insiders", cors(d.handleInsiders))
	mux.HandleFunc("/api/insider/", cors(d.handleInsiderDetail))
	mux.HandleFunc("/api/discoveries", cors(d.handleDiscoveries))
	mux.HandleFunc("/api/events", cors(d.handleEvent))
	mux.HandleFunc("/api/copy-results", cors(d.handleCopyResult))
	mux.HandleFunc("/api/refresh", cors(d.handleRefresh))
	mux.Handle("/metrics", metrics.Handler())

	// Serve frontend
	mux.HandleFunc("/", d.serveFrontend)
	return mux
}

// maxBodyBytes caps POST bodies.
const maxBodyBytes = 1 << 20

// Run serves until ctx is cancelled. It returns only after in-flight
// requests have finished, so callers may release what handlers read.
func (d *Dashboard) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.port))
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("🌐 dashboard started")
	return serve(ctx, ln, d.Handler())
}

func serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("dashboard shutdown incomplete, closing connections")
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// readBody reads a capped request body, answering 400 itself on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", 400)
		return nil, false
	}
	return body, true
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, _ := d.store.GetStats()
	writeJSON(w, map[string]interface{}{
		"cache":   d.cache.GetStatistics(),
		"table":   d.cache.Table().Stats(),
		"engine":  d.engine.Stats(),
		"monitor": d.monitor.Stats(),
		"store":   stats,
	})
}

func (d *Dashboard) handleInsiders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	insiders := d.cache.Insiders()
	result := make([]insider.Wallet, 0, len(insiders))
	for _, in := range insiders {
		if status == "" || string(in.Status) == status {
			result = append(result, in)
		}
	}
	writeJSON(w, result)
}

func (d *Dashboard) handleInsiderDetail(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/insider/")
	addr, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		http.Error(w, "invalid address", 400)
		return
	}
	wallet, ok := d.cache.GetInsiderDetails(addr)
	if !ok {
		http.Error(w, "not found", 404)
		return
	}

	resp := map[string]interface{}{
		"wallet":      wallet,
		"blacklisted": d.cache.IsBlacklisted(addr),
	}
	if p, ok := d.engine.Performance(addr); ok {
		resp["copy_performance"] = p
		resp["copy_win_rate"] = p.WinRate()
	}
	writeJSON(w, resp)
}

func (d *Dashboard) handleDiscoveries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	entries, err := d.store.RecentDiscoveries(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, entries)
}

// handleEvent is the ingestion entry point for the standalone binary.
func (d *Dashboard) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST only", 405)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var ev monitor.MarketEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid json", 400)
		return
	}
	if ev.Type == "" {
		ev.Type = monitor.EventSwap
	}
	sig := d.monitor.ProcessMarketEvent(ev)
	writeJSON(w, map[string]interface{}{"status": "ok", "signal": sig})
}

func (d *Dashboard) handleCopyResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST only", 405)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		SignalID  string  `json:"signal_id"`
		ProfitPct float64 `json:"profit_pct"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.SignalID == "" {
		http.Error(w, "invalid json", 400)
		return
	}
	if err := d.monitor.UpdateCopyPerformance(req.SignalID, req.ProfitPct); err != nil {
		http.Error(w, err.Error(), 404)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "ok"})
}

func (d *Dashboard) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "POST only", 405)
		return
	}
	var u syncer.Update = syncer.RefreshCache{}
	if r.URL.Query().Get("discover") == "1" {
		u = syncer.DiscoverInsiders{}
	}
	writeJSON(w, map[string]interface{}{"queued": d.engine.Enqueue(u), "kind": u.Kind()})
}
