// Package market places, cancels, and queries limit orders against a
// chain.Database, and locates the crossable pair of best orders for
// the matching engine.
//
// Grounded on the teacher's pkg/app/core/orderbook.OrderBook
// (addBid/addAsk/Cancel/bestBid/bestAsk), replaced here by a
// linear scan over store.Table rather than a heap-per-pair: the spec
// requires only a bounded, deterministic per-block scan (no online
// per-tick latency budget), so a second bespoke index structure per
// asset pair would add complexity the workload never exercises (see
// DESIGN.md).
package market

import (
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// Place creates a limit order selling sellPrice.Base.AssetID, debiting
// the seller's balance for the full for-sale amount up front (spec §3
// "a limit order escrows its for-sale amount for its lifetime").
func Place(db *chain.Database, seller types.ID, sellPrice types.Price, forSale int64, expiration int64) (*entity.LimitOrder, error) {
	if err := sellPrice.Validate(); err != nil {
		return nil, chainerr.Validationf("market.Place", sellPrice, "%v", err)
	}
	if forSale <= 0 {
		return nil, chainerr.Validationf("market.Place", forSale, "for-sale amount must be positive")
	}
	asset := sellPrice.Base.AssetID
	if err := db.AdjustBalance(seller, asset, -forSale); err != nil {
		return nil, chainerr.Preconditionf("market.Place", seller, "%v", err)
	}
	order, err := db.LimitOrders.Create(func(id types.ID) *entity.LimitOrder {
		return &entity.LimitOrder{ID: id, Seller: seller, SellPrice: sellPrice, ForSale: forSale, Expiration: expiration}
	})
	if err != nil {
		// Roll the escrow back; the caller's own savepoint undo also
		// covers this, but a failed Create should not appear to have
		// moved funds to a no-op.
		_ = db.AdjustBalance(seller, asset, forSale)
		return nil, err
	}
	return order, nil
}

// Cancel removes a limit order and refunds its remaining escrow to
// owner. Fails if id is unknown or not owned by owner (spec §4.2
// limit_order_cancel).
func Cancel(db *chain.Database, id types.ID, owner types.ID) error {
	order, ok := db.LimitOrders.Get(id)
	if !ok {
		return chainerr.Preconditionf("market.Cancel", id, "no such limit order")
	}
	if order.Seller != owner {
		return chainerr.Authorizationf("market.Cancel", id, "order %s is not owned by %s", id, owner)
	}
	if err := db.LimitOrders.Remove(id); err != nil {
		return err
	}
	return db.AdjustBalance(owner, order.SellPrice.Base.AssetID, order.ForSale)
}

// Reduce shrinks a limit order's remaining for-sale amount by filled
// (a partial or full fill), removing the order entirely once exhausted.
// It does not touch balances: the matching engine settles both legs of
// a fill directly.
func Reduce(db *chain.Database, id types.ID, filled int64) error {
	order, ok := db.LimitOrders.Get(id)
	if !ok {
		return chainerr.Invariantf("market.Reduce", id, "order vanished mid-match")
	}
	if filled > order.ForSale {
		return chainerr.Invariantf("market.Reduce", id, "fill %d exceeds remaining %d", filled, order.ForSale)
	}
	if filled == order.ForSale {
		return db.LimitOrders.Remove(id)
	}
	return db.LimitOrders.Modify(id, func(o **entity.LimitOrder) {
		(*o).ForSale -= filled
	})
}

// BestOffer scans every limit order selling sellAsset for wantAsset
// and returns the one with the lowest SellPrice (cheapest for a buyer
// of sellAsset), ties broken by lowest identity (spec §4.1
// determinism requirement). Expired orders (Expiration != 0 and <=
// asOf) are skipped; callers that want expiry reaping should go
// through the maintenance pass instead.
func BestOffer(db *chain.Database, sellAsset, wantAsset types.ID, asOf int64) (*entity.LimitOrder, bool) {
	var best *entity.LimitOrder
	db.LimitOrders.All(func(o *entity.LimitOrder) bool {
		if o.SellPrice.Base.AssetID != sellAsset || o.SellPrice.Quote.AssetID != wantAsset {
			return true
		}
		if o.Expiration != 0 && o.Expiration <= asOf {
			return true
		}
		if best == nil || o.SellPrice.LessThan(best.SellPrice) || (o.SellPrice.Equal(best.SellPrice) && o.ID.Less(best.ID)) {
			best = o
		}
		return true
	})
	if best == nil {
		return nil, false
	}
	return best, true
}

// Crossable reports whether the best ask (selling base for quote) and
// best bid (selling quote for base) currently cross, i.e. the ask's
// price is no greater than the bid price inverted, per spec §4.3
// "two orders cross when the asking price is at most the bidding
// price". Returns both orders when they do.
func Crossable(db *chain.Database, base, quote types.ID, asOf int64) (ask, bid *entity.LimitOrder, ok bool) {
	ask, okAsk := BestOffer(db, base, quote, asOf)
	bid, okBid := BestOffer(db, quote, base, asOf)
	if !okAsk || !okBid {
		return nil, nil, false
	}
	// ask sells base at ask.SellPrice (base/quote); bid sells quote at
	// bid.SellPrice (quote/base). They cross when ask.SellPrice <=
	// Invert(bid.SellPrice), i.e. ask asks for no more quote per base
	// than the bid is willing to give.
	if ask.SellPrice.LessThan(bid.SellPrice.Invert()) || ask.SellPrice.Equal(bid.SellPrice.Invert()) {
		return ask, bid, true
	}
	return nil, nil, false
}

// AllForPair calls fn for every resting limit order on either side of
// (base, quote), used by snapshot queries (spec §7 read-only surface).
func AllForPair(db *chain.Database, base, quote types.ID, fn func(*entity.LimitOrder)) {
	db.LimitOrders.All(func(o *entity.LimitOrder) bool {
		a, b := o.AssetPair()
		if (a == base && b == quote) || (a == quote && b == base) {
			fn(o)
		}
		return true
	})
}
