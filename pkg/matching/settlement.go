package matching

import (
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// GlobalSettlement forces every call order, limit order, short order,
// and balance of mia to convert to its backing asset at
// settlementPrice (debt/collateral orientation: Base = mia, Quote =
// backing), per spec §4.3 "Global settlement (black swan)". The
// caller (pkg/node's ApplyBlock, reacting to MatchMarginCalls's swan
// return) is responsible for invoking this exactly once per
// triggering event.
func GlobalSettlement(db *chain.Database, mia types.ID, settlementPrice types.Price) error {
	asset, ok := db.Assets.Get(mia)
	if !ok || !asset.IsMarketPegged() {
		return chainerr.Invariantf("matching.GlobalSettlement", mia, "not a market-pegged asset")
	}
	backing := asset.Bitasset.BackingAsset
	debtToCollateral := settlementPrice.Invert() // Base=backing, Quote=mia
	originalSupply := asset.CurrentSupply

	var gathered int64
	var totalSettled int64

	var callIDs []types.ID
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.DebtAsset == mia {
			callIDs = append(callIDs, c.ID)
		}
		return true
	})
	for _, id := range callIDs {
		call := db.CallOrders.MustGet(id)
		owed := debtToCollateral.Mul(types.AssetAmount{Amount: call.Debt, AssetID: mia}).Amount
		if owed > call.Collateral {
			owed = call.Collateral
		}
		// Debt is not added to totalSettled: the mia it minted is
		// counted where it is held, in the holder pass below.
		gathered += owed
		if err := db.AdjustBalance(call.Borrower, backing, call.Collateral-owed); err != nil {
			return err
		}
		if err := db.CallOrders.Remove(id); err != nil {
			return err
		}
	}

	// Cancel every resting order touching the affected asset on either side.
	var limitIDs []types.ID
	db.LimitOrders.All(func(o *entity.LimitOrder) bool {
		a, b := o.AssetPair()
		if a == mia || b == mia {
			limitIDs = append(limitIDs, o.ID)
		}
		return true
	})
	for _, id := range limitIDs {
		// A refunded mia escrow lands in the seller's balance and is
		// counted by the holder pass below.
		order := db.LimitOrders.MustGet(id)
		if err := db.LimitOrders.Remove(id); err != nil {
			return err
		}
		if err := db.AdjustBalance(order.Seller, order.SellPrice.Base.AssetID, order.ForSale); err != nil {
			return err
		}
	}
	var shortIDs []types.ID
	db.ShortOrders.All(func(o *entity.ShortOrder) bool {
		if o.SellPrice.Base.AssetID == mia {
			shortIDs = append(shortIDs, o.ID)
		}
		return true
	})
	for _, id := range shortIDs {
		order := db.ShortOrders.MustGet(id)
		if err := db.ShortOrders.Remove(id); err != nil {
			return err
		}
		if err := db.AdjustBalance(order.Seller, backing, order.AvailableCollateral); err != nil {
			return err
		}
	}

	// Burn every account's holdings of mia, crediting backing at settlementPrice.
	var holders []*entity.Balance
	db.Balances.All(func(b *entity.Balance) bool {
		if b.Asset == mia {
			holders = append(holders, b)
		}
		return true
	})
	for _, b := range holders {
		payout := debtToCollateral.Mul(types.AssetAmount{Amount: b.Amount, AssetID: mia}).Amount
		if payout > gathered {
			payout = gathered
		}
		gathered -= payout
		totalSettled += b.Amount
		if err := db.Balances.Remove(b.ID); err != nil {
			return err
		}
		if err := db.AdjustBalance(b.Owner, backing, payout); err != nil {
			return err
		}
	}

	totalSettled += asset.AccumulatedFees // accumulated fees in the settled asset are burned too, per spec
	if totalSettled != originalSupply {
		return chainerr.Invariantf("matching.GlobalSettlement", mia, "total_settled %d != original_supply %d", totalSettled, originalSupply)
	}

	if gathered > 0 {
		if err := db.Assets.Modify(backing, func(row **entity.Asset) {
			(*row).AccumulatedFees += gathered
		}); err != nil {
			return err
		}
	}

	return db.Assets.Modify(mia, func(row **entity.Asset) {
		(*row).CurrentSupply = 0
		(*row).AccumulatedFees = 0
	})
}
