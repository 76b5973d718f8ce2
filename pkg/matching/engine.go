// Package matching implements the market engine (spec §4.3): limit
// order crossing, short-order-to-call-order fills, margin-call
// matching against a price feed, global settlement ("black swan"),
// and force settlement.
//
// Grounded on the teacher's pkg/app/core/market.Market (MatchOrders
// loop structure: pop best bid/ask, compute fill, apply, repeat until
// no cross), generalized from the teacher's single fixed-tick perp
// market to the spec's exact-rational multi-asset-pair algebra, and
// extended with the margin-call/black-swan passes the teacher's
// perpetual-futures domain has no analogue for (grounded instead on
// the spec text itself and original_source/ for the settlement
// arithmetic).
package matching

import (
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/market"
	"github.com/ledgerforge/chain/pkg/types"
)

// Fill records one synthetic fill_order event, the "applied operation
// stream" output of spec §6 for matched trades.
type Fill struct {
	TakerOrder types.ID
	MakerOrder types.ID
	Price      types.Price
	BaseFilled int64
	QuoteFilled int64
}

// MaxMatchIterations bounds the per-call matching loop so a pathological
// book cannot stall block application; each iteration strictly reduces
// total resting volume so this is never reached in practice.
const MaxMatchIterations = 100000

// MatchLimitOrders greedily crosses the best ask and best bid on
// (base, quote) until no cross remains, applying fees and crediting
// both sellers, per spec §4.3's limit-vs-limit fill formula.
func MatchLimitOrders(db *chain.Database, base, quote types.ID, now int64) ([]Fill, error) {
	var fills []Fill
	for i := 0; i < MaxMatchIterations; i++ {
		ask, bid, ok := market.Crossable(db, base, quote, now)
		if !ok {
			return fills, nil
		}
		fill, err := matchPair(db, ask, bid)
		if err != nil {
			return fills, err
		}
		fills = append(fills, fill)
	}
	return fills, chainerr.Invariantf("matching.MatchLimitOrders", base, "matching loop exceeded %d iterations", MaxMatchIterations)
}

// matchPair fills one crossing pair of ask (sells base for quote) and
// bid (sells quote for base) at the earlier order's price, per spec
// §4.3: "c_receives = u_for_sale, u_receives = u_for_sale*match_price"
// (and the symmetric case).
func matchPair(db *chain.Database, ask, bid *entity.LimitOrder) (Fill, error) {
	base := ask.SellPrice.Base.AssetID
	quote := ask.SellPrice.Quote.AssetID

	var matchPrice types.Price
	if ask.ID.Less(bid.ID) {
		matchPrice = ask.SellPrice
	} else {
		matchPrice = bid.SellPrice.Invert()
	}

	askForSale := ask.ForSale
	bidForSaleInBase := matchPrice.Mul(types.AssetAmount{Amount: bid.ForSale, AssetID: quote}).Amount

	var askPays, bidPays, askReceives, bidReceives int64
	if askForSale <= bidForSaleInBase {
		askPays = askForSale
		askReceives = matchPrice.Invert().Mul(types.AssetAmount{Amount: askForSale, AssetID: base}).Amount
		bidReceives = askForSale
		bidPays = askReceives
	} else {
		bidPays = bid.ForSale
		bidReceives = matchPrice.Mul(types.AssetAmount{Amount: bid.ForSale, AssetID: quote}).Amount
		askReceives = bid.ForSale
		askPays = bidReceives
	}

	if err := creditWithFee(db, ask.Seller, quote, askReceives); err != nil {
		return Fill{}, err
	}
	if err := creditWithFee(db, bid.Seller, base, bidReceives); err != nil {
		return Fill{}, err
	}

	if err := settleFill(db, ask.ID, ask.SellPrice, askPays); err != nil {
		return Fill{}, err
	}
	if err := settleFill(db, bid.ID, bid.SellPrice, bidPays); err != nil {
		return Fill{}, err
	}

	return Fill{TakerOrder: laterOf(ask.ID, bid.ID), MakerOrder: earlierOf(ask.ID, bid.ID), Price: matchPrice, BaseFilled: askPays, QuoteFilled: bidPays}, nil
}

func earlierOf(a, b types.ID) types.ID {
	if a.Less(b) {
		return a
	}
	return b
}
func laterOf(a, b types.ID) types.ID {
	if a.Less(b) {
		return b
	}
	return a
}

// creditWithFee charges asset's market fee on gross and credits the
// net to owner, accumulating the fee on the asset (spec §4.3 "Fees").
func creditWithFee(db *chain.Database, owner, asset types.ID, gross int64) error {
	if gross <= 0 {
		return nil
	}
	a, ok := db.Assets.Get(asset)
	if !ok {
		return chainerr.Invariantf("matching.creditWithFee", asset, "unknown asset")
	}
	fee := a.MarketFee(gross)
	net := gross - fee
	if fee > 0 {
		if err := db.Assets.Modify(asset, func(row **entity.Asset) {
			(*row).AccumulatedFees += fee
		}); err != nil {
			return err
		}
	}
	return db.AdjustBalance(owner, asset, net)
}

// settleFill reduces a limit order by filled units, removing it if
// exhausted or if the residual receivable rounds to zero (spec §4.3
// "Order closure rules" — the no-stuck-dust rule).
func settleFill(db *chain.Database, id types.ID, sellPrice types.Price, filled int64) error {
	order, ok := db.LimitOrders.Get(id)
	if !ok {
		return chainerr.Invariantf("matching.settleFill", id, "order vanished mid-match")
	}
	remaining := order.ForSale - filled
	if remaining < 0 {
		return chainerr.Invariantf("matching.settleFill", id, "fill %d exceeds remaining %d", filled, order.ForSale)
	}
	if remaining == 0 {
		return db.LimitOrders.Remove(id)
	}
	residualQuote := sellPrice.Invert().Mul(types.AssetAmount{Amount: remaining, AssetID: sellPrice.Base.AssetID})
	if residualQuote.Amount == 0 {
		if err := db.LimitOrders.Remove(id); err != nil {
			return err
		}
		return db.AdjustBalance(order.Seller, sellPrice.Base.AssetID, remaining)
	}
	return db.LimitOrders.Modify(id, func(o **entity.LimitOrder) {
		(*o).ForSale = remaining
	})
}

// MatchMarginCalls matches under-collateralized call orders on mia
// against the best resting limit offers selling mia for its backing
// asset, one call at a time, worst call_price first (spec §4.3
// "Margin calls"). It stops, and reports a black-swan trigger, the
// moment a call cannot fully repay its debt at the crossing price.
//
// Only resting limit orders are matched against calls; the short order
// book is not consulted here.
func MatchMarginCalls(db *chain.Database, mia types.ID, now int64) (swan bool, settlementPrice types.Price, err error) {
	asset := db.Assets.MustGet(mia)
	if !asset.IsMarketPegged() {
		return false, types.Price{}, nil
	}
	bd := asset.Bitasset
	if bd.CurrentFeedTime == 0 || now-bd.CurrentFeedTime > bd.Options.FeedLifetimeSec {
		return false, types.Price{}, nil // no valid feed, no margin calls possible
	}
	callLimit := bd.CurrentFeed.CallLimit()
	backing := bd.BackingAsset

	for i := 0; i < MaxMatchIterations; i++ {
		call, ok := worstCall(db, mia, callLimit)
		if !ok {
			return false, types.Price{}, nil
		}
		offer, ok := market.BestOffer(db, mia, backing, now)
		if !ok {
			return false, types.Price{}, nil // nothing left to cover the call with
		}

		fillDebt := call.Debt
		offerInMia := offer.ForSale
		if offerInMia < fillDebt {
			fillDebt = offerInMia
		}
		collateralOwed := offer.SellPrice.Invert().Mul(types.AssetAmount{Amount: fillDebt, AssetID: mia}).Amount

		if types.MulDiv128(call.Debt, collateralOwed, fillDebt) > call.Collateral && fillDebt == call.Debt {
			// Full repayment of the call's remaining debt at this price
			// would demand more collateral than it has pledged: black swan.
			return true, types.Price{Base: types.AssetAmount{Amount: call.Debt, AssetID: mia}, Quote: types.AssetAmount{Amount: call.Collateral, AssetID: backing}}, nil
		}
		if collateralOwed > call.Collateral {
			collateralOwed = call.Collateral
		}

		if err := creditWithFee(db, offer.Seller, backing, collateralOwed); err != nil {
			return false, types.Price{}, err
		}
		if err := settleFill(db, offer.ID, offer.SellPrice, fillDebt); err != nil {
			return false, types.Price{}, err
		}
		if err := applyCallRepayment(db, call.ID, fillDebt, collateralOwed); err != nil {
			return false, types.Price{}, err
		}
	}
	return false, types.Price{}, chainerr.Invariantf("matching.MatchMarginCalls", mia, "margin call loop exceeded %d iterations", MaxMatchIterations)
}

// worstCall returns the call order on mia whose call_price is at or
// past callLimit (i.e. not LessThan it), preferring the worst
// (highest call_price, ties by id), per spec §4.3.
func worstCall(db *chain.Database, mia types.ID, callLimit types.Price) (*entity.CallOrder, bool) {
	var worst *entity.CallOrder
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.DebtAsset != mia {
			return true
		}
		cp := c.CallPrice()
		if cp.LessThan(callLimit) {
			return true // adequately collateralized
		}
		if worst == nil || worst.CallPrice().LessThan(cp) || (worst.CallPrice().Equal(cp) && worst.ID.Less(c.ID)) {
			worst = c
		}
		return true
	})
	if worst == nil {
		return nil, false
	}
	return worst, true
}

// applyCallRepayment reduces a call order's debt and collateral
// proportionally to a partial fill, freeing surplus collateral to the
// borrower once debt reaches zero (spec §4.3 "Call-order fills").
func applyCallRepayment(db *chain.Database, id types.ID, debtPaid, collateralUsed int64) error {
	call, ok := db.CallOrders.Get(id)
	if !ok {
		return chainerr.Invariantf("matching.applyCallRepayment", id, "call order vanished mid-match")
	}
	remainingDebt := call.Debt - debtPaid
	remainingCollateral := call.Collateral - collateralUsed
	if remainingDebt < 0 || remainingCollateral < 0 {
		return chainerr.Invariantf("matching.applyCallRepayment", id, "repayment exceeds call order balance")
	}
	if _, ok := db.Assets.Get(call.DebtAsset); !ok {
		return chainerr.Invariantf("matching.applyCallRepayment", call.DebtAsset, "unknown debt asset")
	}
	if err := db.Assets.Modify(call.DebtAsset, func(row **entity.Asset) {
		(*row).CurrentSupply -= debtPaid
	}); err != nil {
		return err
	}
	if remainingDebt == 0 {
		if err := db.CallOrders.Remove(id); err != nil {
			return err
		}
		if remainingCollateral > 0 {
			return db.AdjustBalance(call.Borrower, call.CollateralAsset, remainingCollateral)
		}
		return nil
	}
	return db.CallOrders.Modify(id, func(c **entity.CallOrder) {
		(*c).Debt = remainingDebt
		(*c).Collateral = remainingCollateral
	})
}
