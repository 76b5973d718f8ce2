// Package entity defines the closed set of on-chain entity kinds (spec
// §3): Asset, Account, AccountStatistics, Balance, the four order
// kinds, vote-eligible candidates (Witness/Delegate/Worker), and the
// two singleton property objects. Each type implements
// store.Entity[T] (EntityID/Clone) so it can live in a generic
// store.Table.
//
// Grounded on the teacher's pkg/app/core.Market (field layout, bps
// parameters) and pkg/app/core/account.Account (balance/statistics
// split), generalized from one hardcoded perpetual market and one
// USDC-settled account model to the spec's multi-asset, multi-witness
// ledger.
package entity

import "github.com/ledgerforge/chain/pkg/types"

// Asset is the spec §3 Asset entity.
type Asset struct {
	ID        types.ID
	Symbol    string
	Issuer    types.ID // account
	Precision uint8

	// Dynamic data, mutated on every mint/burn/fee accrual.
	CurrentSupply   int64
	AccumulatedFees int64

	// MaxSupply is the genesis share ceiling this asset was issued
	// against (spec §8 reserve invariant: only the core asset carries
	// a nonzero value here, since only the core asset funds the
	// maintenance budget out of its reserve).
	MaxSupply int64

	// Fee schedule charged to the recipient of every fill in this
	// asset (spec §4.3 "market_fee_percent clamped to [min, max]").
	MarketFeeBp    int32 // bps of the receivable charged as a fee
	MinMarketFee   int64 // flat floor in asset units
	MaxMarketFee   int64 // 0 means unbounded

	// Market-pegged data; nil for non-MIA assets.
	Bitasset *BitassetData
}

// MarketFee computes the fee owed on a receivable of amount units of
// this asset, clamped to [MinMarketFee, MaxMarketFee] (0 = unbounded).
func (a *Asset) MarketFee(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	fee := types.MulDiv128(amount, int64(a.MarketFeeBp), 10000)
	if fee < a.MinMarketFee {
		fee = a.MinMarketFee
	}
	if a.MaxMarketFee > 0 && fee > a.MaxMarketFee {
		fee = a.MaxMarketFee
	}
	if fee > amount {
		fee = amount
	}
	return fee
}

// BitassetData is the market-pegged-asset extension of Asset (spec §3,
// §4.3, §4.4 "reset every market-pegged asset's force_settled_volume").
type BitassetData struct {
	BackingAsset types.ID

	Feeds             map[types.ID]PriceFeed // witness/committee feed-producer -> submission
	CurrentFeed       PriceFeed              // median of feeds within PriceFeedLifetime
	CurrentFeedTime   int64

	ForceSettledVolume int64 // reset to zero every maintenance interval
	Options            BitassetOptions
}

// PriceFeed is one producer's view of the market, per spec §6 "Price
// feed update".
type PriceFeed struct {
	SettlementPrice    types.Price // quote/base for redeeming 1 MIA
	MaintenanceCollateralRatio int32 // basis points, e.g. 17500 = 175%
	MaximumShortSqueezeRatio   int32

	// PublishedUnix is when the producer submitted this feed, used to
	// expire it out of the median once older than FeedLifetimeSec
	// (spec §6 "Price feed update").
	PublishedUnix int64
}

// CallLimit is the threshold for margin calls: a call order whose
// call_price is not below it is eligible. It is the settlement price
// scaled by the maintenance
// collateral ratio (spec §4.3 "call_price worse than ~call_limit").
func (f PriceFeed) CallLimit() types.Price {
	p := f.SettlementPrice
	scaledBase := types.MulDiv128(p.Base.Amount, int64(f.MaintenanceCollateralRatio), 10000)
	return types.Price{
		Base:  types.AssetAmount{Amount: scaledBase, AssetID: p.Base.AssetID},
		Quote: p.Quote,
	}
}

type BitassetOptions struct {
	FeedLifetimeSec         int64
	ForceSettlementDelaySec int64
	ForceSettlementOffsetBp int64 // basis points discount off feed price
	ForceSettlementMaxBp    int64 // max bps of supply settleable per period
	MinimumFeeds            uint32
}

func (a *Asset) EntityID() types.ID { return a.ID }

func (a *Asset) Clone() *Asset {
	cp := *a
	if a.Bitasset != nil {
		b := *a.Bitasset
		if a.Bitasset.Feeds != nil {
			b.Feeds = make(map[types.ID]PriceFeed, len(a.Bitasset.Feeds))
			for k, v := range a.Bitasset.Feeds {
				b.Feeds[k] = v
			}
		}
		cp.Bitasset = &b
	}
	return &cp
}

func (a *Asset) IsMarketPegged() bool { return a.Bitasset != nil }
