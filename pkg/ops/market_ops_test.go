package ops

import (
	"testing"

	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

func seedFeedFixture(t *testing.T, minimumFeeds uint32, lifetime int64) (*chain.Database, types.ID, types.ID) {
	t.Helper()
	db := chain.New(nil)
	backing, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "CORE", Precision: 5}
	})
	if err != nil {
		t.Fatalf("create backing asset: %v", err)
	}
	mia, err := db.Assets.Create(func(id types.ID) *entity.Asset {
		return &entity.Asset{ID: id, Symbol: "USD", Precision: 4, Bitasset: &entity.BitassetData{
			BackingAsset: backing.ID,
			Feeds:        map[types.ID]entity.PriceFeed{},
			Options:      entity.BitassetOptions{FeedLifetimeSec: lifetime, MinimumFeeds: minimumFeeds},
		}}
	})
	if err != nil {
		t.Fatalf("create mia asset: %v", err)
	}
	producer, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "producer"}
	})
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	return db, mia.ID, producer.ID
}

func priceAt(base int64) types.Price {
	return types.Price{Base: types.AssetAmount{Amount: base, AssetID: types.ID{}}, Quote: types.AssetAmount{Amount: 1, AssetID: types.ID{}}}
}

// TestEvalAssetPublishFeed_ExpiresStaleSubmissions exercises spec §6
// "current_feed is the median of producer-submitted feeds within
// price_feed_lifetime": a submission published well before now drops
// out of the median once it is older than the feed lifetime, even
// though it is still present in the feeds map.
func TestEvalAssetPublishFeed_ExpiresStaleSubmissions(t *testing.T) {
	db, mia, producer := seedFeedFixture(t, 1, 100)

	op := &AssetPublishFeedOp{
		Asset: mia, Producer: producer,
		Feed:    entity.PriceFeed{SettlementPrice: priceAt(10)},
		NowUnix: 1000,
	}
	if err := evalAssetPublishFeed(db, op); err != nil {
		t.Fatalf("publish feed at t=1000: %v", err)
	}
	got := db.Assets.MustGet(mia)
	if got.Bitasset.CurrentFeed.SettlementPrice.Base.Amount != 10 {
		t.Fatalf("current feed price = %d, want 10", got.Bitasset.CurrentFeed.SettlementPrice.Base.Amount)
	}

	// Nobody re-publishes: at t=1101, more than the lifetime (100s)
	// after the only submission's timestamp, the stale entry must
	// expire and the minimum-feeds floor must fail the median rather
	// than reusing the expired price.
	if err := db.Assets.Modify(mia, func(a **entity.Asset) {
		(*a).Bitasset.Feeds[producer] = entity.PriceFeed{SettlementPrice: priceAt(10), PublishedUnix: 1000}
		(*a).Bitasset.CurrentFeed = entity.PriceFeed{}
		(*a).Bitasset.CurrentFeedTime = 0
	}); err != nil {
		t.Fatalf("reset current feed: %v", err)
	}
	median, ok := medianFeed(db.Assets.MustGet(mia).Bitasset.Feeds, 1101, 100, 1)
	if ok {
		t.Fatalf("expected medianFeed to reject an expired-only feed set, got %v", median)
	}
}

// TestEvalAssetPublishFeed_ExpiredProducerNotCounted checks the median
// is taken only over submissions still within the feed lifetime: an
// expired producer does not count toward MinimumFeeds.
func TestEvalAssetPublishFeed_ExpiredProducerNotCounted(t *testing.T) {
	db, mia, producer := seedFeedFixture(t, 2, 100)

	producer2, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{ID: id, Name: "producer2"}
	})
	if err != nil {
		t.Fatalf("create producer2: %v", err)
	}

	if err := evalAssetPublishFeed(db, &AssetPublishFeedOp{
		Asset: mia, Producer: producer, Feed: entity.PriceFeed{SettlementPrice: priceAt(10)}, NowUnix: 0,
	}); err != nil {
		t.Fatalf("publish producer feed: %v", err)
	}
	// producer's feed, published at t=0, has expired by t=500 (lifetime 100).
	if err := evalAssetPublishFeed(db, &AssetPublishFeedOp{
		Asset: mia, Producer: producer2.ID, Feed: entity.PriceFeed{SettlementPrice: priceAt(20)}, NowUnix: 500,
	}); err != nil {
		t.Fatalf("publish producer2 feed: %v", err)
	}

	got := db.Assets.MustGet(mia)
	if got.Bitasset.CurrentFeedTime != 0 {
		t.Errorf("current feed time = %d, want unchanged at 0: only one live producer remains, below MinimumFeeds=2", got.Bitasset.CurrentFeedTime)
	}
}
