package matching

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// TestProcessForceSettlements_FillsAgainstBestCall exercises spec §4.3
// "Force settlement": a queued settlement due at `now` fills against
// the resting call order at feed_price discounted by
// force_settlement_offset_percent, crediting the settler in backing
// and reducing the call's debt and collateral.
func TestProcessForceSettlements_FillsAgainstBestCall(t *testing.T) {
	db, mia, backing, borrower := seedMarginCallFixture(t)
	_ = borrower

	if err := db.Assets.Modify(mia, func(a **entity.Asset) {
		bd := (*a).Bitasset
		bd.CurrentFeed = entity.PriceFeed{
			SettlementPrice: types.Price{
				Base:  types.AssetAmount{Amount: 1, AssetID: mia},
				Quote: types.AssetAmount{Amount: 500, AssetID: backing},
			},
		}
		bd.CurrentFeedTime = 100
		bd.Options.ForceSettlementOffsetBp = 500 // 5% discount
		bd.Options.ForceSettlementMaxBp = 10000  // uncapped for this test
	}); err != nil {
		t.Fatalf("seed feed: %v", err)
	}
	if err := db.Assets.Modify(mia, func(a **entity.Asset) { (*a).CurrentSupply = 3000 }); err != nil {
		t.Fatalf("seed supply: %v", err)
	}

	settler, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "settler"}
	})
	if err != nil {
		t.Fatalf("create settler: %v", err)
	}
	if err := db.AdjustBalance(settler.ID, mia, 1000); err != nil {
		t.Fatalf("seed settler balance: %v", err)
	}
	if _, err := db.ForceSettlements.Create(func(id types.ID) *entity.ForceSettlement {
		return &entity.ForceSettlement{ID: id, Owner: settler.ID, Asset: mia, Balance: 1000, SettleAt: 150}
	}); err != nil {
		t.Fatalf("create force settlement: %v", err)
	}

	settled, err := ProcessForceSettlements(db, mia, 200)
	if err != nil {
		t.Fatalf("ProcessForceSettlements: %v", err)
	}
	if settled != 1000 {
		t.Fatalf("expected 1000 settled, got %d", settled)
	}
	if db.ForceSettlements.Len() != 0 {
		t.Fatalf("expected the queued order removed once fully settled, %d remain", db.ForceSettlements.Len())
	}
	// feed_price/(mia) discounted by 5%: 500 * 0.95 = 475 backing per mia.
	if got := db.BalanceOf(settler.ID, backing); got != 1000*475 {
		t.Errorf("settler backing balance = %d, want %d", got, 1000*475)
	}
	var call *entity.CallOrder
	db.CallOrders.All(func(c *entity.CallOrder) bool { call = c; return true })
	if call == nil {
		t.Fatalf("expected the call order to still exist")
	}
	if call.Debt != 2000 {
		t.Errorf("call debt after settlement = %d, want 2000", call.Debt)
	}

	asset := db.Assets.MustGet(mia)
	if asset.Bitasset.ForceSettledVolume != 1000 {
		t.Errorf("force_settled_volume = %d, want 1000", asset.Bitasset.ForceSettledVolume)
	}
}

// TestProcessForceSettlements_CapsPerPeriod checks that no more than
// force_settlement_max_volume of supply settles in one pass (spec
// §4.3 "capped per-asset per-maintenance-period").
func TestProcessForceSettlements_CapsPerPeriod(t *testing.T) {
	db, mia, backing, _ := seedMarginCallFixture(t)
	if err := db.Assets.Modify(mia, func(a **entity.Asset) {
		bd := (*a).Bitasset
		bd.CurrentFeed = entity.PriceFeed{
			SettlementPrice: types.Price{
				Base:  types.AssetAmount{Amount: 1, AssetID: mia},
				Quote: types.AssetAmount{Amount: 500, AssetID: backing},
			},
		}
		bd.CurrentFeedTime = 100
		bd.Options.ForceSettlementMaxBp = 1000 // 10% of current supply
		(*a).CurrentSupply = 3000
	}); err != nil {
		t.Fatalf("seed feed: %v", err)
	}

	settler, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "settler"}
	})
	if err != nil {
		t.Fatalf("create settler: %v", err)
	}
	if err := db.AdjustBalance(settler.ID, mia, 1000); err != nil {
		t.Fatalf("seed settler balance: %v", err)
	}
	if _, err := db.ForceSettlements.Create(func(id types.ID) *entity.ForceSettlement {
		return &entity.ForceSettlement{ID: id, Owner: settler.ID, Asset: mia, Balance: 1000, SettleAt: 150}
	}); err != nil {
		t.Fatalf("create force settlement: %v", err)
	}

	settled, err := ProcessForceSettlements(db, mia, 200)
	if err != nil {
		t.Fatalf("ProcessForceSettlements: %v", err)
	}
	// 10% of 3000 == 300, well below the queued 1000.
	if settled != 300 {
		t.Fatalf("expected settlement capped at 300, got %d", settled)
	}
	if db.ForceSettlements.Len() != 1 {
		t.Fatalf("expected the partially-filled order to remain queued")
	}
}
