package ops

import (
	"sort"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/market"
	"github.com/ledgerforge/chain/pkg/types"
)

// evalAssetCreate registers a new asset, optionally as a market-pegged
// asset backed by another asset (spec §3 Asset, §4.3 "Market-pegged
// assets").
func evalAssetCreate(db *chain.Database, op *AssetCreateOp) error {
	if op.Symbol == "" {
		return chainerr.Validationf("ops.evalAssetCreate", op, "symbol must not be empty")
	}
	if _, ok := db.Accounts.Get(op.Issuer); !ok {
		return chainerr.Preconditionf("ops.evalAssetCreate", op.Issuer, "unknown issuer")
	}
	if op.Bitasset != nil {
		if _, ok := db.Assets.Get(op.Bitasset.BackingAsset); !ok {
			return chainerr.Preconditionf("ops.evalAssetCreate", op.Bitasset.BackingAsset, "unknown backing asset")
		}
	}
	_, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		a := &entity.Asset{
			ID: id, Symbol: op.Symbol, Issuer: op.Issuer, Precision: op.Precision,
			MarketFeeBp: op.MarketFeeBp, MinMarketFee: op.MinMarketFee, MaxMarketFee: op.MaxMarketFee,
		}
		if op.Bitasset != nil {
			bd := *op.Bitasset
			bd.Feeds = map[types.ID]entity.PriceFeed{}
			a.Bitasset = &bd
		}
		return a
	})
	return err
}

// evalAssetPublishFeed records one producer's price feed and
// recomputes the asset's current feed as the median of unexpired
// submissions (spec §6 "Price feed update", §4.3 CallLimit input).
func evalAssetPublishFeed(db *chain.Database, op *AssetPublishFeedOp) error {
	asset, ok := db.Assets.Get(op.Asset)
	if !ok {
		return chainerr.Preconditionf("ops.evalAssetPublishFeed", op.Asset, "unknown asset")
	}
	if !asset.IsMarketPegged() {
		return chainerr.Validationf("ops.evalAssetPublishFeed", op.Asset, "asset is not market-pegged")
	}
	if _, ok := db.Accounts.Get(op.Producer); !ok {
		return chainerr.Preconditionf("ops.evalAssetPublishFeed", op.Producer, "unknown feed producer")
	}
	return db.Assets.Modify(op.Asset, func(a **entity.Asset) {
		bd := (*a).Bitasset
		if bd.Feeds == nil {
			bd.Feeds = map[types.ID]entity.PriceFeed{}
		}
		feed := op.Feed
		feed.PublishedUnix = op.NowUnix
		bd.Feeds[op.Producer] = feed
		median, ok := medianFeed(bd.Feeds, op.NowUnix, bd.Options.FeedLifetimeSec, bd.Options.MinimumFeeds)
		if ok {
			bd.CurrentFeed = median
			bd.CurrentFeedTime = op.NowUnix
		}
	})
}

// medianFeed picks the middle-by-price feed among producers, ignoring
// submissions older than lifetime seconds, once at least minimumFeeds
// remain live (spec §4.3 "requires a minimum number of live feeds",
// §6 "current_feed is the median of producer-submitted feeds within
// price_feed_lifetime").
func medianFeed(feeds map[types.ID]entity.PriceFeed, now, lifetime int64, minimumFeeds uint32) (entity.PriceFeed, bool) {
	live := make([]entity.PriceFeed, 0, len(feeds))
	for _, f := range feeds {
		if now-f.PublishedUnix > lifetime {
			continue
		}
		live = append(live, f)
	}
	if uint32(len(live)) < minimumFeeds {
		return entity.PriceFeed{}, false
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].SettlementPrice.LessThan(live[j].SettlementPrice)
	})
	return live[len(live)/2], true
}

// evalLimitOrderCreate places a resting limit order (spec §4.2
// limit_order_create).
func evalLimitOrderCreate(db *chain.Database, op *LimitOrderCreateOp) error {
	if _, ok := db.Accounts.Get(op.Seller); !ok {
		return chainerr.Preconditionf("ops.evalLimitOrderCreate", op.Seller, "unknown seller")
	}
	if _, ok := db.Assets.Get(op.SellPrice.Base.AssetID); !ok {
		return chainerr.Preconditionf("ops.evalLimitOrderCreate", op.SellPrice.Base.AssetID, "unknown asset")
	}
	if _, ok := db.Assets.Get(op.SellPrice.Quote.AssetID); !ok {
		return chainerr.Preconditionf("ops.evalLimitOrderCreate", op.SellPrice.Quote.AssetID, "unknown asset")
	}
	_, err := market.Place(db, op.Seller, op.SellPrice, op.ForSale, op.Expiration)
	return err
}

// evalLimitOrderCancel cancels a resting limit order owned by its
// seller (spec §4.2 limit_order_cancel).
func evalLimitOrderCancel(db *chain.Database, op *LimitOrderCancelOp) error {
	return market.Cancel(db, op.Order, op.Owner)
}

// evalShortOrderCreate places a resting short order pledging backing
// collateral, matched later by matching.MatchShortOrders (spec §3
// short order, §4.3 "Short-order fills").
func evalShortOrderCreate(db *chain.Database, op *ShortOrderCreateOp) error {
	if _, ok := db.Accounts.Get(op.Seller); !ok {
		return chainerr.Preconditionf("ops.evalShortOrderCreate", op.Seller, "unknown seller")
	}
	mia, ok := db.Assets.Get(op.SellPrice.Base.AssetID)
	if !ok || !mia.IsMarketPegged() {
		return chainerr.Validationf("ops.evalShortOrderCreate", op.SellPrice.Base.AssetID, "sell asset must be market-pegged")
	}
	if op.SellPrice.Quote.AssetID != mia.Bitasset.BackingAsset {
		return chainerr.Validationf("ops.evalShortOrderCreate", op.SellPrice, "price quote asset must match backing asset")
	}
	if op.ForSale <= 0 {
		return chainerr.Validationf("ops.evalShortOrderCreate", op.ForSale, "pledged collateral must be positive")
	}
	if err := db.AdjustBalance(op.Seller, op.SellPrice.Quote.AssetID, -op.ForSale); err != nil {
		return chainerr.Preconditionf("ops.evalShortOrderCreate", op.Seller, "%v", err)
	}
	_, err := db.ShortOrders.Create(func(id types.ID) *entity.ShortOrder {
		return &entity.ShortOrder{
			ID: id, Seller: op.Seller, SellPrice: op.SellPrice,
			ForSale: op.ForSale, AvailableCollateral: op.ForSale,
			MaintenanceCollateralRatio: op.MaintenanceCollateralRatio,
		}
	})
	return err
}

// evalCallOrderUpdate lets a borrower add collateral, withdraw excess
// collateral, or repay debt directly on their call order (spec §3 call
// order, §4.3 "derived call_price").
func evalCallOrderUpdate(db *chain.Database, op *CallOrderUpdateOp) error {
	var existing *entity.CallOrder
	db.CallOrders.All(func(c *entity.CallOrder) bool {
		if c.Borrower == op.Borrower && c.DebtAsset == op.DebtAsset {
			existing = c
			return false
		}
		return true
	})
	if existing == nil {
		if op.DeltaDebt < 0 || op.DeltaCollateral < 0 {
			return chainerr.Preconditionf("ops.evalCallOrderUpdate", op.Borrower, "no existing call order to repay or withdraw from")
		}
		if err := db.AdjustBalance(op.Borrower, op.CollateralAsset, -op.DeltaCollateral); err != nil {
			return chainerr.Preconditionf("ops.evalCallOrderUpdate", op.Borrower, "%v", err)
		}
		if err := db.AdjustBalance(op.Borrower, op.DebtAsset, op.DeltaDebt); err != nil {
			return chainerr.Preconditionf("ops.evalCallOrderUpdate", op.Borrower, "%v", err)
		}
		if err := db.Assets.Modify(op.DebtAsset, func(a **entity.Asset) { (*a).CurrentSupply += op.DeltaDebt }); err != nil {
			return err
		}
		_, err := db.CallOrders.Create(func(id types.ID) *entity.CallOrder {
			return &entity.CallOrder{
				ID: id, Borrower: op.Borrower, Debt: op.DeltaDebt, DebtAsset: op.DebtAsset,
				Collateral: op.DeltaCollateral, CollateralAsset: op.CollateralAsset,
				MaintenanceCollateralRatio: op.MaintenanceCollateralRatio,
			}
		})
		return err
	}

	newDebt := existing.Debt + op.DeltaDebt
	newCollateral := existing.Collateral + op.DeltaCollateral
	if newDebt < 0 || newCollateral < 0 {
		return chainerr.Validationf("ops.evalCallOrderUpdate", op.Borrower, "update would leave negative debt or collateral")
	}
	if op.DeltaDebt > 0 {
		if err := db.AdjustBalance(op.Borrower, op.DebtAsset, op.DeltaDebt); err != nil {
			return err
		}
	} else if op.DeltaDebt < 0 {
		if err := db.AdjustBalance(op.Borrower, op.DebtAsset, op.DeltaDebt); err != nil {
			return chainerr.Preconditionf("ops.evalCallOrderUpdate", op.Borrower, "%v", err)
		}
	}
	if op.DeltaCollateral > 0 {
		if err := db.AdjustBalance(op.Borrower, op.CollateralAsset, -op.DeltaCollateral); err != nil {
			return chainerr.Preconditionf("ops.evalCallOrderUpdate", op.Borrower, "%v", err)
		}
	} else if op.DeltaCollateral < 0 {
		if err := db.AdjustBalance(op.Borrower, op.CollateralAsset, -op.DeltaCollateral); err != nil {
			return err
		}
	}
	if err := db.Assets.Modify(op.DebtAsset, func(a **entity.Asset) { (*a).CurrentSupply += op.DeltaDebt }); err != nil {
		return err
	}
	if newDebt == 0 {
		if err := db.CallOrders.Remove(existing.ID); err != nil {
			return err
		}
		if newCollateral > 0 {
			return db.AdjustBalance(op.Borrower, op.CollateralAsset, newCollateral)
		}
		return nil
	}
	return db.CallOrders.Modify(existing.ID, func(c **entity.CallOrder) {
		(*c).Debt = newDebt
		(*c).Collateral = newCollateral
	})
}

// evalForceSettlementCreate queues owner's market-pegged balance for
// redemption at the feed price after the settlement delay (spec §4.3
// "Force settlement").
func evalForceSettlementCreate(db *chain.Database, op *ForceSettlementCreateOp) error {
	asset, ok := db.Assets.Get(op.Asset)
	if !ok || !asset.IsMarketPegged() {
		return chainerr.Validationf("ops.evalForceSettlementCreate", op.Asset, "asset is not market-pegged")
	}
	if op.Balance <= 0 {
		return chainerr.Validationf("ops.evalForceSettlementCreate", op.Balance, "balance must be positive")
	}
	if err := db.AdjustBalance(op.Owner, op.Asset, -op.Balance); err != nil {
		return chainerr.Preconditionf("ops.evalForceSettlementCreate", op.Owner, "%v", err)
	}
	settleAt := op.NowUnix + asset.Bitasset.Options.ForceSettlementDelaySec
	_, err := db.ForceSettlements.Create(func(id types.ID) *entity.ForceSettlement {
		return &entity.ForceSettlement{ID: id, Owner: op.Owner, Asset: op.Asset, Balance: op.Balance, SettleAt: settleAt}
	})
	return err
}
