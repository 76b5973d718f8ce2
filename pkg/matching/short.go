package matching

import (
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/market"
	"github.com/ledgerforge/chain/pkg/types"
)

// MatchShortOrders crosses resting short orders on (mia, backing)
// against limit bids for mia (orders selling backing for mia), each
// fill producing or growing the short seller's call order (spec §4.3
// "Short-order fills produce or grow a call order").
func MatchShortOrders(db *chain.Database, mia, backing types.ID, now int64) ([]Fill, error) {
	var fills []Fill
	for i := 0; i < MaxMatchIterations; i++ {
		short, ok := bestShort(db, mia, backing)
		if !ok {
			return fills, nil
		}
		bid, ok := market.BestOffer(db, backing, mia, now) // sells backing for mia
		if !ok {
			return fills, nil
		}
		bidAsShortSidePrice := bid.SellPrice.Invert() // Base=mia, Quote=backing, comparable to short.SellPrice
		if !(short.SellPrice.LessThan(bidAsShortSidePrice) || short.SellPrice.Equal(bidAsShortSidePrice)) {
			return fills, nil // no cross
		}

		matchPrice := short.SellPrice
		maxMiaFromShort := matchPrice.Mul(types.AssetAmount{Amount: short.AvailableCollateral, AssetID: backing}).Amount
		maxMiaFromBid := bidAsShortSidePrice.Mul(types.AssetAmount{Amount: bid.ForSale, AssetID: backing}).Amount

		fillMia := maxMiaFromShort
		if maxMiaFromBid < fillMia {
			fillMia = maxMiaFromBid
		}
		if fillMia <= 0 {
			return fills, chainerr.Invariantf("matching.MatchShortOrders", mia, "short match produced non-positive fill")
		}
		collateralPortion := matchPrice.Invert().Mul(types.AssetAmount{Amount: fillMia, AssetID: mia}).Amount

		if err := settleFill(db, bid.ID, bid.SellPrice, collateralPortion); err != nil {
			return fills, err
		}
		if err := creditWithFee(db, bid.Seller, mia, fillMia); err != nil {
			return fills, err
		}
		if err := reduceShort(db, short.ID, collateralPortion); err != nil {
			return fills, err
		}
		if err := growCallOrder(db, short.Seller, mia, backing, fillMia, 2*collateralPortion, short.MaintenanceCollateralRatio); err != nil {
			return fills, err
		}
		if err := db.Assets.Modify(mia, func(a **entity.Asset) { (*a).CurrentSupply += fillMia }); err != nil {
			return fills, err
		}

		fills = append(fills, Fill{TakerOrder: bid.ID, MakerOrder: short.ID, Price: matchPrice, BaseFilled: fillMia, QuoteFilled: collateralPortion})
	}
	return fills, chainerr.Invariantf("matching.MatchShortOrders", mia, "short matching loop exceeded %d iterations", MaxMatchIterations)
}

func bestShort(db *chain.Database, mia, backing types.ID) (*entity.ShortOrder, bool) {
	var best *entity.ShortOrder
	db.ShortOrders.All(func(o *entity.ShortOrder) bool {
		if o.SellPrice.Base.AssetID != mia || o.SellPrice.Quote.AssetID != backing {
			return true
		}
		if best == nil || o.SellPrice.LessThan(best.SellPrice) || (o.SellPrice.Equal(best.SellPrice) && o.ID.Less(best.ID)) {
			best = o
		}
		return true
	})
	return best, best != nil
}

// reduceShort consumes collateralUsed of a short order's available
// collateral, removing the order once that is exhausted. ForSale and
// AvailableCollateral shrink together, so an exhausted order has no
// remainder and nothing is refunded.
func reduceShort(db *chain.Database, id types.ID, collateralUsed int64) error {
	order, ok := db.ShortOrders.Get(id)
	if !ok {
		return chainerr.Invariantf("matching.reduceShort", id, "short order vanished mid-match")
	}
	if collateralUsed > order.AvailableCollateral {
		return chainerr.Invariantf("matching.reduceShort", id, "fill %d exceeds available collateral %d", collateralUsed, order.AvailableCollateral)
	}
	if collateralUsed == order.AvailableCollateral {
		return db.ShortOrders.Remove(id)
	}
	return db.ShortOrders.Modify(id, func(o **entity.ShortOrder) {
		(*o).AvailableCollateral -= collateralUsed
		(*o).ForSale -= collateralUsed
	})
}

// growCallOrder creates the borrower's call order on first fill or
// adds to an existing one, matching spec §3 "derived call_price" and
// §4.3 "the minted market-pegged asset's supply increases ... and the
// borrower's debt grows."
func growCallOrder(db *chain.Database, borrower, debtAsset, collateralAsset types.ID, debtDelta, collateralDelta int64, mcr int32) error {
	var existing *entity.CallOrder
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.Borrower == borrower && c.DebtAsset == debtAsset {
			existing = c
			return false
		}
		return true
	})
	if existing == nil {
		_, err := db.CallOrders.Create(func(id types.ID) *entity.CallOrder {
			return &entity.CallOrder{
				ID: id, Borrower: borrower, Debt: debtDelta, DebtAsset: debtAsset,
				Collateral: collateralDelta, CollateralAsset: collateralAsset,
				MaintenanceCollateralRatio: mcr,
			}
		})
		return err
	}
	return db.CallOrders.Modify(existing.ID, func(c **entity.CallOrder) {
		(*c).Debt += debtDelta
		(*c).Collateral += collateralDelta
	})
}
