package api

// Wire types for the read-only REST/WebSocket query surface (spec §6
// Outputs: "Applied operation stream", "Head state", "Block & chain
// parameters").
//
// Grounded on the teacher's pkg/api/types.go response-struct style
// (flat, json-tagged, one struct per endpoint shape), generalized from
// perpetual-futures market/position fields to the ledger's
// asset/account/order fields.

import "github.com/ledgerforge/chain/pkg/ops"

// AssetInfo mirrors the spec §3 Asset entity's externally relevant fields.
type AssetInfo struct {
	Symbol          string `json:"symbol"`
	Issuer          string `json:"issuer"`
	Precision       uint8  `json:"precision"`
	CurrentSupply   int64  `json:"currentSupply"`
	AccumulatedFees int64  `json:"accumulatedFees"`
	MarketFeeBp     int32  `json:"marketFeeBp"`
	IsMarketPegged  bool   `json:"isMarketPegged"`
}

// AccountInfo reports one account's public fields and statistics.
type AccountInfo struct {
	Name                 string `json:"name"`
	OwnerThreshold       uint32 `json:"ownerThreshold"`
	ActiveThreshold      uint32 `json:"activeThreshold"`
	MembershipExpiration int64  `json:"membershipExpiration"`
	TotalCoreInOrders    int64  `json:"totalCoreInOrders"`
	LifetimeFeesPaid     int64  `json:"lifetimeFeesPaid"`
	PendingFees          int64  `json:"pendingFees"`
}

// BalanceInfo is one (owner, asset) -> amount row.
type BalanceInfo struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// OrderInfo reports one resting limit order.
type OrderInfo struct {
	ID         string `json:"id"`
	Seller     string `json:"seller"`
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	PriceBase  int64  `json:"priceBase"`
	PriceQuote int64  `json:"priceQuote"`
	ForSale    int64  `json:"forSale"`
	Expiration int64  `json:"expiration"`
}

// OrderbookSnapshot splits AllForPair results into asks (selling base)
// and bids (selling quote).
type OrderbookSnapshot struct {
	Base string      `json:"base"`
	Quote string     `json:"quote"`
	Asks []OrderInfo `json:"asks"`
	Bids []OrderInfo `json:"bids"`
}

// ChainStatus reports the dynamic global property singleton, the
// spec §6 "Block & chain parameters" read-through surface.
type ChainStatus struct {
	HeadBlockNumber     uint64  `json:"headBlockNumber"`
	HeadBlockTimeUnix   int64   `json:"headBlockTimeUnix"`
	NextMaintenanceUnix int64   `json:"nextMaintenanceTimeUnix"`
	CurrentWitness      string  `json:"currentWitness"`
	ParticipationRate   int64   `json:"participationRatePerMyriad"`
	MempoolSize         int     `json:"mempoolSize"`
}

// SubmitTransactionRequest wraps a JSON-encoded ops.Transaction plus
// its signature set, the spec §6 "Transaction (pending)" shape.
type SubmitTransactionRequest struct {
	Operations []ops.Operation `json:"operations"`
	Expiration int64           `json:"expiration"`
	Signatures []string        `json:"signatures"` // hex-encoded, 65 bytes each
}

// SubmitTransactionResponse echoes the accepted transaction's digest.
type SubmitTransactionResponse struct {
	Status string `json:"status"`
	Digest string `json:"digest"`
}

// AppliedOp is one entry of the spec §6 "Applied operation stream"
// broadcast over the WebSocket "ops" channel.
type AppliedOp struct {
	BlockNumber uint64 `json:"blockNumber"`
	Type        string `json:"type"`
	FeePayer    string `json:"feePayer"`
}

// FillEvent is one synthetic fill_order record from the matching engine.
type FillEvent struct {
	BlockNumber uint64 `json:"blockNumber"`
	TakerOrder  string `json:"takerOrder"`
	MakerOrder  string `json:"makerOrder"`
	PriceBase   int64  `json:"priceBase"`
	PriceQuote  int64  `json:"priceQuote"`
	BaseFilled  int64  `json:"baseFilled"`
	QuoteFilled int64  `json:"quoteFilled"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}
