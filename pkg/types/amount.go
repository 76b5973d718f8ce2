package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// MaxShareSupply bounds every checked arithmetic result on the native
// asset, per spec §4.2.
const MaxShareSupply int64 = 1_000_000_000_000 // 10^12

// Share is a signed 64-bit share-type amount (spec §4.2: "Share
// amounts are signed 64-bit integers").
type Share = int64

// AssetAmount pairs an integer amount with the asset it is denominated in.
type AssetAmount struct {
	Amount  Share
	AssetID ID
}

func NewAssetAmount(amount Share, asset ID) AssetAmount {
	return AssetAmount{Amount: amount, AssetID: asset}
}

func (a AssetAmount) IsZero() bool { return a.Amount == 0 }

func (a AssetAmount) Negative() bool { return a.Amount < 0 }

// requireSameAsset is the guard every two-operand arithmetic op needs;
// mixing assets is a programmer error, not a recoverable condition.
func requireSameAsset(a, b AssetAmount) {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("asset mismatch: %s vs %s", a.AssetID, b.AssetID))
	}
}

// Add returns a+b, checked against MaxShareSupply and int64 overflow.
func (a AssetAmount) Add(b AssetAmount) (AssetAmount, error) {
	requireSameAsset(a, b)
	sum := scaledAdd(int64(a.Amount), int64(b.Amount))
	if err := checkRange(sum); err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{Amount: sum, AssetID: a.AssetID}, nil
}

// Sub returns a-b, checked.
func (a AssetAmount) Sub(b AssetAmount) (AssetAmount, error) {
	requireSameAsset(a, b)
	diff := scaledAdd(int64(a.Amount), -int64(b.Amount))
	if err := checkRange(diff); err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{Amount: diff, AssetID: a.AssetID}, nil
}

func checkRange(v int64) error {
	if v > MaxShareSupply || v < -MaxShareSupply {
		return fmt.Errorf("amount %d exceeds max share supply %d", v, MaxShareSupply)
	}
	return nil
}

// scaledAdd performs a 128-bit-safe signed addition via uint256,
// matching spec §4.2's "128-bit intermediates are required for fee,
// budget, and vote-weight scaling; all final values are clamped into
// 64 bits only after the scaling." Overflow of the int64 cast panics
// on a genuinely corrupt chain state (an Invariant-kind condition,
// not a user-triggerable Precondition).
func scaledAdd(a, b int64) int64 {
	var ua, ub uint256.Int
	negA, negB := a < 0, b < 0
	ua.SetUint64(absU64(a))
	ub.SetUint64(absU64(b))

	if negA == negB {
		var sum uint256.Int
		sum.Add(&ua, &ub)
		v := int64FromUint256(&sum, negA)
		return v
	}
	// Opposite signs: subtract the smaller magnitude from the larger.
	if ua.Cmp(&ub) >= 0 {
		var diff uint256.Int
		diff.Sub(&ua, &ub)
		return int64FromUint256(&diff, negA)
	}
	var diff uint256.Int
	diff.Sub(&ub, &ua)
	return int64FromUint256(&diff, negB)
}

func absU64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func int64FromUint256(v *uint256.Int, negative bool) int64 {
	if !v.IsUint64() {
		panic(fmt.Sprintf("share arithmetic overflowed 64 bits: %s", v.String()))
	}
	u := v.Uint64()
	if negative {
		return -int64(u)
	}
	return int64(u)
}

// MulDiv128 computes floor-toward-zero(a*b/d) using 256-bit
// intermediates, used for fee splits, budget scaling, and
// vote-weight scaling where a*b alone can exceed 64 bits (§4.2).
func MulDiv128(a, b, d int64) int64 {
	if d == 0 {
		panic("MulDiv128: division by zero")
	}
	neg := (a < 0) != (b < 0) != (d < 0)
	var ua, ub, ud, prod, quot uint256.Int
	ua.SetUint64(absU64(a))
	ub.SetUint64(absU64(b))
	ud.SetUint64(absU64(d))
	prod.Mul(&ua, &ub)
	quot.Div(&prod, &ud)
	return int64FromUint256(&quot, neg)
}
