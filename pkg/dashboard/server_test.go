package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insider-intel/pkg/db"
	"github.com/insider-intel/pkg/insider"
	"github.com/insider-intel/pkg/intel"
	"github.com/insider-intel/pkg/mmapdb"
	"github.com/insider-intel/pkg/monitor"
	"github.com/insider-intel/pkg/syncer"
)

type fixture struct {
	srv    *httptest.Server
	cache  *intel.Cache
	store  *db.Store
	engine *syncer.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := db.NewStore(filepath.Join(dir, "intel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tbl, err := mmapdb.OpenOrCreate(filepath.Join(dir, "wallets.mmdb"), 1024, 8)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })

	cache := intel.New(tbl, insider.DefaultPolicy(), 0.75)
	engine := syncer.New(cache, store, syncer.Options{
		SyncInterval:      time.Minute,
		DiscoveryInterval: time.Minute,
		QueueSize:         16,
		UpdateBatchSize:   4,
		SyncBatchSize:     4,
		StoreTimeout:      time.Second,
	})
	mon := monitor.NewTradeMonitor(cache, engine, 8)

	srv := httptest.NewServer(New(cache, engine, mon, store, 0).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, cache: cache, store: store, engine: engine}
}

func (f *fixture) addInsider(t *testing.T, status insider.Status, confidence float64) solana.PublicKey {
	t.Helper()
	w := insider.Wallet{
		Address:         solana.NewWallet().PublicKey(),
		Status:          status,
		Confidence:      confidence,
		EarlyEntryScore: 1,
		LastActivity:    time.Now(),
	}
	require.NoError(t, f.cache.AddInsider(w))
	return w.Address
}

func (f *fixture) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == 200 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, out interface{}) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == 200 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.addInsider(t, insider.StatusActive, 0.9)

	var stats map[string]map[string]interface{}
	require.Equal(t, 200, f.get(t, "/api/stats", &stats))
	for _, k := range []string{"cache", "table", "engine", "monitor", "store"} {
		assert.Contains(t, stats, k)
	}
	assert.EqualValues(t, 1, stats["cache"]["active"])
	assert.EqualValues(t, 1024, stats["table"]["capacity"])
}

func TestInsidersFilter(t *testing.T) {
	f := newFixture(t)
	f.addInsider(t, insider.StatusActive, 0.9)
	f.addInsider(t, insider.StatusMonitoring, 0.7)
	f.addInsider(t, insider.StatusBlacklisted, 0.1)

	var all []insider.Wallet
	require.Equal(t, 200, f.get(t, "/api/insiders", &all))
	require.Len(t, all, 3)
	assert.Equal(t, insider.StatusActive, all[0].Status, "sorted by confidence")

	var active []insider.Wallet
	require.Equal(t, 200, f.get(t, "/api/insiders?status=active", &active))
	assert.Len(t, active, 1)
}

func TestInsiderDetail(t *testing.T) {
	f := newFixture(t)
	addr := f.addInsider(t, insider.StatusBlacklisted, 0.2)

	assert.Equal(t, 400, f.get(t, "/api/insider/not-an-address", nil))
	assert.Equal(t, 404, f.get(t, "/api/insider/"+solana.NewWallet().PublicKey().String(), nil))

	var resp map[string]interface{}
	require.Equal(t, 200, f.get(t, "/api/insider/"+addr.String(), &resp))
	assert.Equal(t, true, resp["blacklisted"])
	wallet := resp["wallet"].(map[string]interface{})
	assert.Equal(t, addr.String(), wallet["address"])
	assert.NotContains(t, resp, "copy_performance")
}

func TestDiscoveries(t *testing.T) {
	f := newFixture(t)
	addr := solana.NewWallet().PublicKey()
	require.NoError(t, f.store.AppendDiscoveryLog(context.Background(), addr, insider.DiscoveryEarlyEntry, 0.8, time.Now()))

	var entries []map[string]interface{}
	require.Equal(t, 200, f.get(t, "/api/discoveries?limit=10", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, addr.String(), entries[0]["wallet"])
}

func TestEventAndCopyResult(t *testing.T) {
	f := newFixture(t)
	wallet := f.addInsider(t, insider.StatusActive, 0.9)
	mint := solana.NewWallet().PublicKey()

	assert.Equal(t, 405, f.get(t, "/api/events", nil))
	assert.Equal(t, 400, f.post(t, "/api/events", "{", nil))

	body := fmt.Sprintf(`{"wallet":%q,"mint":%q,"side":"buy","amount_sol":1,"token_launch_at":%q}`,
		wallet, mint, time.Now().Add(-time.Minute).Format(time.RFC3339))
	var resp struct {
		Signal *monitor.Signal `json:"signal"`
	}
	require.Equal(t, 200, f.post(t, "/api/events", body, &resp))
	require.NotNil(t, resp.Signal)
	assert.Equal(t, wallet, resp.Signal.Wallet)
	assert.Equal(t, insider.UrgencyImmediate, resp.Signal.Decision.Urgency)
	assert.Equal(t, 1, f.engine.Stats().QueueDepth, "trade queued for the engine")

	assert.Equal(t, 404, f.post(t, "/api/copy-results", `{"signal_id":"nope","profit_pct":0.1}`, nil))
	assert.Equal(t, 400, f.post(t, "/api/copy-results", `{}`, nil))
	require.Equal(t, 200, f.post(t, "/api/copy-results", fmt.Sprintf(`{"signal_id":%q,"profit_pct":0.25}`, resp.Signal.ID), nil))
	assert.Equal(t, 2, f.engine.Stats().QueueDepth)
}

func TestRefreshQueuesUpdate(t *testing.T) {
	f := newFixture(t)

	var resp map[string]interface{}
	require.Equal(t, 200, f.post(t, "/api/refresh?discover=1", "", &resp))
	assert.Equal(t, true, resp["queued"])
	assert.Equal(t, "discover_insiders", resp["kind"])
}

func TestFrontendAndCORS(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Equal(t, 404, f.get(t, "/nope", nil))

	req, _ := http.NewRequest("OPTIONS", f.srv.URL+"/api/insiders", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOversizedBodyRejected(t *testing.T) {
	f := newFixture(t)
	// valid JSON padded one byte past the cap
	pad := func(js string) string { return js + strings.Repeat(" ", maxBodyBytes+1-len(js)) }

	assert.Equal(t, 400, f.post(t, "/api/events", pad(`{"type":"token_launch"}`), nil))
	assert.Equal(t, 400, f.post(t, "/api/copy-results", pad(`{"signal_id":"x"}`), nil))
	assert.Zero(t, f.engine.Stats().QueueDepth)

	assert.Equal(t, 200, f.post(t, "/api/events", `{"type":"token_launch"}`, nil))
	assert.Equal(t, 1, f.engine.Stats().QueueDepth)
}

func TestServeWaitsForInFlightRequests(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(200)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, h) }()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			status <- -1
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	<-entered
	cancel()
	select {
	case <-done:
		t.Fatal("serve returned while a handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, 200, <-status)
	assert.ErrorIs(t, <-done, context.Canceled)
}
