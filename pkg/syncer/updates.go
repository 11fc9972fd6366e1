package syncer

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/insider-intel/pkg/db"
)

// Update is a message for the background engine. The set of variants is
// closed; see the types below.
type Update interface {
	Kind() string
	update()
}

// InsiderTrade is a swap observed for any wallet, tracked or not.
type InsiderTrade struct {
	Trade db.Trade
}

// TokenLaunched carries the first sighting of a mint.
type TokenLaunched struct {
	Mint solana.PublicKey
	At   time.Time
}

// CopyTradeResult is the settled outcome of a trade we mirrored.
type CopyTradeResult struct {
	Result db.CopyResult
}

// RefreshCache forces a sync cycle.
type RefreshCache struct{}

// DiscoverInsiders forces a discovery cycle.
type DiscoverInsiders struct{}

func (InsiderTrade) Kind() string     { return "insider_trade" }
func (TokenLaunched) Kind() string    { return "token_launched" }
func (CopyTradeResult) Kind() string  { return "copy_trade_result" }
func (RefreshCache) Kind() string     { return "refresh_cache" }
func (DiscoverInsiders) Kind() string { return "discover_insiders" }

func (InsiderTrade) update()     {}
func (TokenLaunched) update()    {}
func (CopyTradeResult) update()  {}
func (RefreshCache) update()     {}
func (DiscoverInsiders) update() {}
