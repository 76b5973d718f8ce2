package matching

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/market"
	"github.com/ledgerforge/chain/pkg/types"
)

func newTestDB(t *testing.T) *chain.Database {
	t.Helper()
	return chain.New(nil)
}

func mustAccount(t *testing.T, db *chain.Database, name string) types.ID {
	t.Helper()
	a, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: name}
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a.ID
}

func mustAsset(t *testing.T, db *chain.Database, symbol string, issuer types.ID) types.ID {
	t.Helper()
	a, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: symbol, Issuer: issuer, Precision: 5}
	})
	if err != nil {
		t.Fatalf("create asset %s: %v", symbol, err)
	}
	return a.ID
}

// TestMatchLimitOrders_FullCross is spec §8 scenario 3: a 1000 CORE /
// 1000 USD ask crossing an equal-and-opposite bid fully fills both
// orders at 1/1 and leaves supply untouched.
func TestMatchLimitOrders_FullCross(t *testing.T) {
	db := newTestDB(t)
	issuer := mustAccount(t, db, "issuer")
	core := mustAsset(t, db, "CORE", issuer)
	usd := mustAsset(t, db, "USD", issuer)
	a := mustAccount(t, db, "alice")
	b := mustAccount(t, db, "bob")

	if err := db.AdjustBalance(a, core, 1000); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if err := db.AdjustBalance(b, usd, 1000); err != nil {
		t.Fatalf("seed bob: %v", err)
	}

	if _, err := market.Place(db, a, types.Price{
		Base:  types.AssetAmount{Amount: 1000, AssetID: core},
		Quote: types.AssetAmount{Amount: 1000, AssetID: usd},
	}, 1000, 0); err != nil {
		t.Fatalf("place ask: %v", err)
	}
	if _, err := market.Place(db, b, types.Price{
		Base:  types.AssetAmount{Amount: 1000, AssetID: usd},
		Quote: types.AssetAmount{Amount: 1000, AssetID: core},
	}, 1000, 0); err != nil {
		t.Fatalf("place bid: %v", err)
	}

	fills, err := MatchLimitOrders(db, core, usd, 0)
	if err != nil {
		t.Fatalf("MatchLimitOrders: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected exactly one fill, got %d", len(fills))
	}
	if db.LimitOrders.Len() != 0 {
		t.Fatalf("expected both orders removed, %d remain", db.LimitOrders.Len())
	}
	if got := db.BalanceOf(a, usd); got != 1000 {
		t.Errorf("alice usd balance = %d, want 1000 (no fee configured)", got)
	}
	if got := db.BalanceOf(b, core); got != 1000 {
		t.Errorf("bob core balance = %d, want 1000", got)
	}
	coreAsset := db.Assets.MustGet(core)
	usdAsset := db.Assets.MustGet(usd)
	if coreAsset.CurrentSupply != 0 || usdAsset.CurrentSupply != 0 {
		t.Errorf("matching must not mint or burn: core supply %d, usd supply %d", coreAsset.CurrentSupply, usdAsset.CurrentSupply)
	}
}

// TestSettleFill_NoStuckDust is the spec §8 boundary behavior: a
// residual receivable that rounds to zero is refunded and the order
// removed rather than left resting forever.
func TestSettleFill_NoStuckDust(t *testing.T) {
	db := newTestDB(t)
	issuer := mustAccount(t, db, "issuer")
	core := mustAsset(t, db, "CORE", issuer)
	usd := mustAsset(t, db, "USD", issuer)
	seller := mustAccount(t, db, "seller")
	if err := db.AdjustBalance(seller, core, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	order, err := market.Place(db, seller, types.Price{
		Base:  types.AssetAmount{Amount: 10, AssetID: core},
		Quote: types.AssetAmount{Amount: 1, AssetID: usd},
	}, 10, 0)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// Fill 9 of the 10: the remaining 1 CORE at price 10 CORE/1 USD
	// rounds its receivable quote to zero and must be swept, not left
	// resting as unreachable dust.
	if err := settleFill(db, order.ID, order.SellPrice, 9); err != nil {
		t.Fatalf("settleFill: %v", err)
	}
	if _, ok := db.LimitOrders.Get(order.ID); ok {
		t.Fatalf("dust order should have been removed")
	}
	if got := db.BalanceOf(seller, core); got != 1 {
		t.Errorf("seller should be refunded the 1 CORE residual, got %d", got)
	}
}

func seedMarginCallFixture(t *testing.T) (db *chain.Database, mia, backing, borrower types.ID) {
	t.Helper()
	db = newTestDB(t)
	issuer := mustAccount(t, db, "issuer")
	backing = mustAsset(t, db, "CORE", issuer)
	borrower = mustAccount(t, db, "borrower")
	miaID, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{
			ID: id, Symbol: "USD", Issuer: issuer, Precision: 2,
			Bitasset: &entity.BitassetData{
				BackingAsset: backing,
				Options:      entity.BitassetOptions{FeedLifetimeSec: 86400, MinimumFeeds: 1},
			},
		}
	})
	if err != nil {
		t.Fatalf("create mia: %v", err)
	}
	mia = miaID.ID
	if _, err := db.CallOrders.Create(func(id types.ID) *entity.CallOrder {
		return &entity.CallOrder{
			ID: id, Borrower: borrower, Debt: 3000, DebtAsset: mia,
			Collateral: 1000000, CollateralAsset: backing, MaintenanceCollateralRatio: 17500,
		}
	}); err != nil {
		t.Fatalf("create call: %v", err)
	}
	return db, mia, backing, borrower
}

func publishFeed(t *testing.T, db *chain.Database, mia types.ID, base, quote int64, mcr int32, now int64) {
	t.Helper()
	if err := db.Assets.Modify(mia, func(a **entity.Asset) {
		bd := (*a).Bitasset
		bd.CurrentFeed = entity.PriceFeed{
			SettlementPrice: types.Price{
				Base:  types.AssetAmount{Amount: base, AssetID: mia},
				Quote: types.AssetAmount{Amount: quote, AssetID: (*a).Bitasset.BackingAsset},
			},
			MaintenanceCollateralRatio: mcr,
		}
		bd.CurrentFeedTime = now
	}); err != nil {
		t.Fatalf("publish feed: %v", err)
	}
}

// TestMatchMarginCalls_ClosesWithoutSwan is spec §8 scenario 4: a
// crossing ask at 499 CORE/USD fully closes a 3000 USD / 1,000,000
// CORE call order with freed collateral returned to the borrower.
func TestMatchMarginCalls_ClosesWithoutSwan(t *testing.T) {
	db, mia, backing, borrower := seedMarginCallFixture(t)
	publishFeed(t, db, mia, 1, 500, 17500, 100)

	asker := mustAccount(t, db, "asker")
	if err := db.AdjustBalance(asker, mia, 3000); err != nil {
		t.Fatalf("seed asker: %v", err)
	}
	if _, err := market.Place(db, asker, types.Price{
		Base:  types.AssetAmount{Amount: 3000, AssetID: mia},
		Quote: types.AssetAmount{Amount: 3000 * 499, AssetID: backing},
	}, 3000, 0); err != nil {
		t.Fatalf("place ask: %v", err)
	}

	swan, _, err := MatchMarginCalls(db, mia, 200)
	if err != nil {
		t.Fatalf("MatchMarginCalls: %v", err)
	}
	if swan {
		t.Fatalf("expected no black swan")
	}
	var remaining int
	db.CallOrders.All(func(c *entity.CallOrder) bool { remaining++; return true })
	if remaining != 0 {
		t.Fatalf("expected the call order fully closed, %d remain", remaining)
	}
	if got := db.BalanceOf(borrower, backing); got <= 0 {
		t.Errorf("expected freed collateral credited to borrower, got %d", got)
	}
}

// TestMatchMarginCalls_BlackSwan is spec §8 scenario 5: a crossing
// ask at 0.6 CORE/USD cannot be fully repaid from 1500 CORE of
// collateral against 3000 USD debt, so the call order triggers a
// black swan and GlobalSettlement exactly balances total_settled
// against the pre-settlement supply.
func TestMatchMarginCalls_BlackSwan(t *testing.T) {
	db := newTestDB(t)
	issuer := mustAccount(t, db, "issuer")
	backing := mustAsset(t, db, "CORE", issuer)
	borrower := mustAccount(t, db, "borrower")
	miaRow, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{
			ID: id, Symbol: "USD", Issuer: issuer, Precision: 2, CurrentSupply: 3000,
			Bitasset: &entity.BitassetData{
				BackingAsset: backing,
				Options:      entity.BitassetOptions{FeedLifetimeSec: 86400, MinimumFeeds: 1},
			},
		}
	})
	if err != nil {
		t.Fatalf("create mia: %v", err)
	}
	mia := miaRow.ID
	if _, err := db.CallOrders.Create(func(id types.ID) *entity.CallOrder {
		return &entity.CallOrder{
			ID: id, Borrower: borrower, Debt: 3000, DebtAsset: mia,
			Collateral: 1500, CollateralAsset: backing, MaintenanceCollateralRatio: 17500,
		}
	}); err != nil {
		t.Fatalf("create call: %v", err)
	}
	publishFeed(t, db, mia, 1, 2, 17500, 100) // settlement price 1 USD / 2 CORE, call_limit well below the crossing ask

	asker := mustAccount(t, db, "asker")
	if err := db.AdjustBalance(asker, mia, 3000); err != nil {
		t.Fatalf("seed asker: %v", err)
	}
	// Ask sells 3000 USD for 1800 CORE: 0.6 CORE/USD, which would
	// require 1800 CORE of collateral against only 1500 pledged.
	if _, err := market.Place(db, asker, types.Price{
		Base:  types.AssetAmount{Amount: 3000, AssetID: mia},
		Quote: types.AssetAmount{Amount: 1800, AssetID: backing},
	}, 3000, 0); err != nil {
		t.Fatalf("place ask: %v", err)
	}

	swan, settlementPrice, err := MatchMarginCalls(db, mia, 200)
	if err != nil {
		t.Fatalf("MatchMarginCalls: %v", err)
	}
	if !swan {
		t.Fatalf("expected a black swan trigger")
	}

	holder := mustAccount(t, db, "holder")
	if err := db.AdjustBalance(holder, mia, 3000); err != nil {
		t.Fatalf("seed holder: %v", err)
	}
	if err := db.Assets.Modify(mia, func(a **entity.Asset) { (*a).CurrentSupply += 3000 }); err != nil {
		t.Fatalf("count holder's mia in supply: %v", err)
	}

	if err := GlobalSettlement(db, mia, settlementPrice); err != nil {
		t.Fatalf("GlobalSettlement: %v", err)
	}

	settled := db.Assets.MustGet(mia)
	if settled.CurrentSupply != 0 {
		t.Errorf("mia supply after settlement = %d, want 0", settled.CurrentSupply)
	}
	var openOrders int
	db.LimitOrders.All(func(*entity.LimitOrder) bool { openOrders++; return true })
	if openOrders != 0 {
		t.Errorf("expected every resting order on the settled asset cancelled, %d remain", openOrders)
	}
	if got := db.BalanceOf(holder, mia); got != 0 {
		t.Errorf("holder's mia balance should be burned, got %d", got)
	}
}
