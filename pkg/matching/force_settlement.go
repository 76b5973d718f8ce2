package matching

import (
	"sort"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// ProcessForceSettlements matches every force-settlement order on mia
// that is due by now against the lowest-call_price (best collateralized)
// call orders, at feed_price discounted by
// force_settlement_offset_percent, capped for the period at
// force_settlement_max_volume of the asset's current supply (spec
// §4.3 "Force settlement", consumed by pkg/maintenance at the same
// boundary that resets force_settled_volume, spec §4.4
// "Post-maintenance").
//
// This has no teacher analogue (the perpetuals-DEX teacher has no
// redeemable synthetic asset); grounded on the call-repayment
// machinery already built for MatchMarginCalls in this package, and
// on the spec text itself for the feed-discount and volume-cap rules.
func ProcessForceSettlements(db *chain.Database, mia types.ID, now int64) (int64, error) {
	asset := db.Assets.MustGet(mia)
	if !asset.IsMarketPegged() {
		return 0, nil
	}
	bd := asset.Bitasset
	if bd.CurrentFeedTime == 0 || now-bd.CurrentFeedTime > bd.Options.FeedLifetimeSec {
		return 0, nil // no valid feed: nothing to settle against
	}

	capVolume := types.MulDiv128(asset.CurrentSupply, bd.Options.ForceSettlementMaxBp, 10000)
	remaining := capVolume - bd.ForceSettledVolume
	if remaining <= 0 {
		return 0, nil
	}

	settlePrice := discountedSettlePrice(bd.CurrentFeed.SettlementPrice, bd.Options.ForceSettlementOffsetBp)

	var orders []*entity.ForceSettlement
	db.ForceSettlements.All(func(o *entity.ForceSettlement) bool {
		if o.Asset == mia && o.SettleAt <= now {
			orders = append(orders, o)
		}
		return true
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID.Less(orders[j].ID) })

	var settled int64
	for _, order := range orders {
		if remaining <= 0 {
			break
		}
		balance := order.Balance
		for balance > 0 && remaining > 0 {
			call, ok := bestCall(db, mia)
			if !ok {
				break
			}
			fillDebt := balance
			if fillDebt > remaining {
				fillDebt = remaining
			}
			if fillDebt > call.Debt {
				fillDebt = call.Debt
			}
			backingOwed := settlePrice.Mul(types.AssetAmount{Amount: fillDebt, AssetID: mia}).Amount
			if backingOwed > call.Collateral {
				backingOwed = call.Collateral
			}
			if err := db.AdjustBalance(order.Owner, settlePrice.Base.AssetID, backingOwed); err != nil {
				return settled, err
			}
			if err := applyCallRepayment(db, call.ID, fillDebt, backingOwed); err != nil {
				return settled, err
			}
			balance -= fillDebt
			remaining -= fillDebt
			settled += fillDebt
		}
		if balance == order.Balance {
			continue // no call orders available at all; leave the order queued
		}
		if balance == 0 {
			if err := db.ForceSettlements.Remove(order.ID); err != nil {
				return settled, err
			}
		} else {
			if err := db.ForceSettlements.Modify(order.ID, func(o **entity.ForceSettlement) {
				(*o).Balance = balance
			}); err != nil {
				return settled, err
			}
		}
	}

	if settled > 0 {
		if err := db.Assets.Modify(mia, func(a **entity.Asset) {
			(*a).Bitasset.ForceSettledVolume += settled
		}); err != nil {
			return settled, err
		}
	}
	return settled, nil
}

// discountedSettlePrice converts a feed's mia/backing settlement price
// into a backing-per-mia price reduced by offsetBp basis points (spec
// §4.3 "feed_price * (1 - force_settlement_offset)").
func discountedSettlePrice(feedPrice types.Price, offsetBp int64) types.Price {
	backingPerMia := feedPrice.Invert() // Base=backing, Quote=mia
	discountedBase := types.MulDiv128(backingPerMia.Base.Amount, 10000-offsetBp, 10000)
	return types.Price{
		Base:  types.AssetAmount{Amount: discountedBase, AssetID: backingPerMia.Base.AssetID},
		Quote: backingPerMia.Quote,
	}
}

// bestCall returns the call order on mia with the lowest (safest)
// call_price, ties broken by lowest identity, the counterparty force
// settlement prefers (spec §4.3 "Force settlement ... lowest-priced
// call orders").
func bestCall(db *chain.Database, mia types.ID) (*entity.CallOrder, bool) {
	var best *entity.CallOrder
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.DebtAsset != mia {
			return true
		}
		cp := c.CallPrice()
		if best == nil || cp.LessThan(best.CallPrice()) || (cp.Equal(best.CallPrice()) && c.ID.Less(best.ID)) {
			best = c
		}
		return true
	})
	if best == nil {
		return nil, false
	}
	return best, true
}
