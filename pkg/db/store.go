package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/insider-intel/pkg/insider"
)

const schema = `
CREATE TABLE IF NOT EXISTS insider_wallets (
    address TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'monitoring',
    confidence REAL DEFAULT 0,
    win_rate REAL DEFAULT 0,
    avg_profit_pct REAL DEFAULT 0,
    total_trades INTEGER DEFAULT 0,
    profitable_trades INTEGER DEFAULT 0,
    early_entry_score REAL DEFAULT 0,
    recent_activity_score REAL DEFAULT 0,
    first_detected INTEGER NOT NULL,
    last_activity INTEGER DEFAULT 0,
    cooldown_until INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trade_analysis (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signature TEXT NOT NULL UNIQUE,
    wallet TEXT NOT NULL,
    mint TEXT NOT NULL,
    side TEXT NOT NULL,
    amount_sol REAL DEFAULT 0,
    profit_pct REAL DEFAULT 0,
    token_launch_at INTEGER DEFAULT 0,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS discovery_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet TEXT NOT NULL,
    method TEXT NOT NULL,
    initial_confidence REAL,
    discovered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS copy_trade_results (
    signal_id TEXT PRIMARY KEY,
    wallet TEXT NOT NULL,
    mint TEXT,
    profit_pct REAL,
    settled_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_wallet ON trade_analysis(wallet);
CREATE INDEX IF NOT EXISTS idx_trade_time ON trade_analysis(timestamp);
CREATE INDEX IF NOT EXISTS idx_insider_status ON insider_wallets(status);
CREATE INDEX IF NOT EXISTS idx_insider_activity ON insider_wallets(last_activity);
CREATE INDEX IF NOT EXISTS idx_discovery_time ON discovery_log(discovered_at);
CREATE INDEX IF NOT EXISTS idx_copy_wallet ON copy_trade_results(wallet);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Insider Wallets ----

const walletColumns = `address, status, confidence, win_rate, avg_profit_pct, total_trades, profitable_trades,
	early_entry_score, recent_activity_score, first_detected, last_activity, cooldown_until`

func (s *Store) UpsertWallet(ctx context.Context, w *insider.Wallet) error {
	first := w.FirstDetected
	if first.IsZero() {
		first = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insider_wallets (`+walletColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(address) DO UPDATE SET
			status=excluded.status, confidence=excluded.confidence, win_rate=excluded.win_rate,
			avg_profit_pct=excluded.avg_profit_pct, total_trades=excluded.total_trades,
			profitable_trades=excluded.profitable_trades, early_entry_score=excluded.early_entry_score,
			recent_activity_score=excluded.recent_activity_score,
			last_activity=MAX(insider_wallets.last_activity, excluded.last_activity),
			cooldown_until=excluded.cooldown_until`,
		w.Address.String(), string(w.Status), w.Confidence, w.WinRate, w.AvgProfitPct,
		w.TotalTrades, w.ProfitableTrades, w.EarlyEntryScore, w.RecentActivityScore,
		first.Unix(), unixOrZero(w.LastActivity), unixOrZero(w.CooldownUntil))
	if err != nil {
		return fmt.Errorf("upsert wallet %s: %w", insider.Abbrev(w.Address), err)
	}
	return nil
}

func (s *Store) DeleteWallet(ctx context.Context, addr solana.PublicKey) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM insider_wallets WHERE address=?", addr.String()); err != nil {
		return fmt.Errorf("delete wallet %s: %w", insider.Abbrev(addr), err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, addr solana.PublicKey) (*insider.Wallet, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+walletColumns+" FROM insider_wallets WHERE address=?", addr.String())
	w, err := scanWallet(row)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadInsiders returns every tracked wallet, blacklisted ones included.
func (s *Store) LoadInsiders(ctx context.Context) ([]insider.Wallet, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+walletColumns+" FROM insider_wallets ORDER BY confidence DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []insider.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			continue
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// InactiveWallets lists wallets whose last trade is older than cutoff.
func (s *Store) InactiveWallets(ctx context.Context, cutoff time.Time) ([]solana.PublicKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT address FROM insider_wallets WHERE last_activity < ?", cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAddresses(rows)
}

// ---- Trade Analysis ----

// RecordTrade is idempotent on the transaction signature. A trade without a
// signature gets a random one.
func (s *Store) RecordTrade(ctx context.Context, t Trade) error {
	if t.Signature == "" {
		t.Signature = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_analysis
		(signature, wallet, mint, side, amount_sol, profit_pct, token_launch_at, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.Signature, t.Wallet.String(), t.Mint.String(), string(t.Side), t.AmountSOL,
		t.ProfitPct, unixOrZero(t.TokenLaunchAt), t.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// FetchAllCandidateWallets returns wallets that traded within the lookback
// window and are not yet tracked, most active first.
func (s *Store) FetchAllCandidateWallets(ctx context.Context, lookbackDays int) ([]solana.PublicKey, error) {
	since := time.Now().AddDate(0, 0, -lookbackDays).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.wallet FROM trade_analysis t
		LEFT JOIN insider_wallets iw ON iw.address = t.wallet
		WHERE t.timestamp >= ? AND iw.address IS NULL
		GROUP BY t.wallet
		ORDER BY COUNT(*) DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer rows.Close()
	return scanAddresses(rows)
}

func (s *Store) FetchWalletTradeHistory(ctx context.Context, addr solana.PublicKey) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signature, wallet, mint, side, amount_sol, profit_pct, token_launch_at, timestamp
		FROM trade_analysis WHERE wallet=? ORDER BY timestamp ASC`, addr.String())
	if err != nil {
		return nil, fmt.Errorf("trade history %s: %w", insider.Abbrev(addr), err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var wallet, mint, side string
		var launch, ts int64
		if err := rows.Scan(&t.ID, &t.Signature, &wallet, &mint, &side, &t.AmountSOL, &t.ProfitPct, &launch, &ts); err != nil {
			continue
		}
		t.Wallet, _ = solana.PublicKeyFromBase58(wallet)
		t.Mint, _ = solana.PublicKeyFromBase58(mint)
		t.Side = Side(side)
		t.TokenLaunchAt = fromUnix(launch)
		t.Timestamp = fromUnix(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) DeleteTradesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM trade_analysis WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete old trades: %w", err)
	}
	return res.RowsAffected()
}

// ---- Discovery Log ----

func (s *Store) AppendDiscoveryLog(ctx context.Context, addr solana.PublicKey, method insider.DiscoveryMethod, confidence float64, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO discovery_log (wallet, method, initial_confidence, discovered_at) VALUES (?,?,?,?)",
		addr.String(), string(method), confidence, ts.Unix())
	if err != nil {
		return fmt.Errorf("append discovery log: %w", err)
	}
	return nil
}

func (s *Store) RecentDiscoveries(ctx context.Context, limit int) ([]DiscoveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, method, COALESCE(initial_confidence, 0), discovered_at
		FROM discovery_log ORDER BY discovered_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DiscoveryLogEntry
	for rows.Next() {
		var e DiscoveryLogEntry
		var wallet, method string
		var ts int64
		if err := rows.Scan(&e.ID, &wallet, &method, &e.InitialConfidence, &ts); err != nil {
			continue
		}
		e.Wallet, _ = solana.PublicKeyFromBase58(wallet)
		e.Method = insider.DiscoveryMethod(method)
		e.DiscoveredAt = fromUnix(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ---- Copy Trade Results ----

func (s *Store) RecordCopyResult(ctx context.Context, r CopyResult) error {
	if r.SettledAt.IsZero() {
		r.SettledAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO copy_trade_results (signal_id, wallet, mint, profit_pct, settled_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(signal_id) DO UPDATE SET profit_pct=excluded.profit_pct, settled_at=excluded.settled_at`,
		r.SignalID, r.Wallet.String(), r.Mint.String(), r.ProfitPct, r.SettledAt.Unix())
	if err != nil {
		return fmt.Errorf("record copy result: %w", err)
	}
	return nil
}

// ---- Stats ----

func (s *Store) GetStats() (map[string]int64, error) {
	stats := map[string]int64{}
	tables := []string{"insider_wallets", "trade_analysis", "discovery_log", "copy_trade_results"}

	for _, t := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err == nil {
			stats[t] = count
		}
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM insider_wallets GROUP BY status")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err == nil {
			stats["status_"+status] = n
		}
	}
	return stats, nil
}

// ---- helpers ----

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(row scanner) (insider.Wallet, error) {
	var w insider.Wallet
	var addr, status string
	var first, last, cooldown int64
	err := row.Scan(&addr, &status, &w.Confidence, &w.WinRate, &w.AvgProfitPct, &w.TotalTrades,
		&w.ProfitableTrades, &w.EarlyEntryScore, &w.RecentActivityScore, &first, &last, &cooldown)
	if err != nil {
		return w, err
	}
	w.Address, err = solana.PublicKeyFromBase58(addr)
	if err != nil {
		return w, fmt.Errorf("bad address %q: %w", addr, err)
	}
	w.Status = insider.ParseStatus(status)
	w.FirstDetected = fromUnix(first)
	w.LastActivity = fromUnix(last)
	w.CooldownUntil = fromUnix(cooldown)
	return w, nil
}

func scanAddresses(rows *sql.Rows) ([]solana.PublicKey, error) {
	var out []solana.PublicKey
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			continue
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
