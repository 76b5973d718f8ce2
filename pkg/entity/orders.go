package entity

import "github.com/ledgerforge/chain/pkg/types"

// LimitOrder is the spec §3 limit order: sells ForSale of the price's
// base asset for the price's quote asset, at sell_price = base/quote.
//
// Grounded on the teacher's pkg/app/core/orderbook.Order (seller,
// price, qty, FIFO-at-price semantics), generalized from an
// integer-tick/lot single-market model to the spec's asset-pair price
// algebra so the same order type works across every trading pair.
type LimitOrder struct {
	ID         types.ID
	Seller     types.ID
	SellPrice  types.Price // Base = asset for sale, Quote = asset wanted
	ForSale    int64       // remaining amount of SellPrice.Base.AssetID
	Expiration int64       // unix seconds, 0 = no expiration
}

func (o *LimitOrder) EntityID() types.ID { return o.ID }
func (o *LimitOrder) Clone() *LimitOrder {
	cp := *o
	return &cp
}

// AssetPair returns (for-sale asset, wanted asset).
func (o *LimitOrder) AssetPair() (types.ID, types.ID) {
	return o.SellPrice.Base.AssetID, o.SellPrice.Quote.AssetID
}

// AmountForSale is the remaining sell-side AssetAmount.
func (o *LimitOrder) AmountForSale() types.AssetAmount {
	return types.AssetAmount{Amount: o.ForSale, AssetID: o.SellPrice.Base.AssetID}
}

// AmountToReceive is what ForSale converts to at SellPrice, i.e. the
// minimum the seller will accept (rounding toward zero, spec §4.3).
func (o *LimitOrder) AmountToReceive() types.AssetAmount {
	return o.SellPrice.Invert().Mul(o.AmountForSale())
}

// ShortOrder is the spec §3 short order: pledges ForSale units of the
// backing asset, offering to mint/sell the market-pegged asset at
// SellPrice, maintaining MaintenanceCollateralRatio.
type ShortOrder struct {
	ID                         types.ID
	Seller                     types.ID
	SellPrice                  types.Price // Base = MIA, Quote = backing asset
	ForSale                    int64       // backing-asset collateral pledged and available
	AvailableCollateral        int64
	MaintenanceCollateralRatio int32 // bps
}

func (o *ShortOrder) EntityID() types.ID { return o.ID }
func (o *ShortOrder) Clone() *ShortOrder {
	cp := *o
	return &cp
}

// CallOrder is the spec §3 margin position: Debt in the market-pegged
// asset M backed by Collateral in the backing asset.
type CallOrder struct {
	ID                         types.ID
	Borrower                   types.ID
	Debt                       int64 // amount of MIA owed
	DebtAsset                  types.ID
	Collateral                 int64 // amount of backing asset pledged
	CollateralAsset            types.ID
	MaintenanceCollateralRatio int32 // bps
}

func (o *CallOrder) EntityID() types.ID { return o.ID }
func (o *CallOrder) Clone() *CallOrder {
	cp := *o
	return &cp
}

// CallPrice is collateral/debt scaled down by the maintenance
// collateral ratio: the price at which this call's effective
// collateralization equals exactly 100% (spec §3 "derived call_price").
func (o *CallOrder) CallPrice() types.Price {
	scaledCollateral := types.MulDiv128(o.Collateral, 10000, int64(o.MaintenanceCollateralRatio))
	return types.Price{
		Base:  types.AssetAmount{Amount: o.Debt, AssetID: o.DebtAsset},
		Quote: types.AssetAmount{Amount: scaledCollateral, AssetID: o.CollateralAsset},
	}
}

// ForceSettlement is the spec §3 force-settlement order: Owner queues
// Balance of the market-pegged asset to redeem once SettleAt passes.
type ForceSettlement struct {
	ID       types.ID
	Owner    types.ID
	Asset    types.ID
	Balance  int64
	SettleAt int64 // unix seconds the order becomes eligible
}

func (o *ForceSettlement) EntityID() types.ID { return o.ID }
func (o *ForceSettlement) Clone() *ForceSettlement {
	cp := *o
	return &cp
}
