package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Price is the exact rational base/quote, where base and quote are
// asset amounts in two distinct assets (spec §4.2).
type Price struct {
	Base  AssetAmount
	Quote AssetAmount
}

// Validate rejects zero denominators and asset-id inversions (base
// and quote denominated in the same asset).
func (p Price) Validate() error {
	if p.Base.Amount <= 0 || p.Quote.Amount <= 0 {
		return fmt.Errorf("price must have positive base and quote amounts")
	}
	if p.Base.AssetID == p.Quote.AssetID {
		return fmt.Errorf("price base and quote must be different assets")
	}
	return nil
}

// Invert returns quote/base, used when walking a book from the other side.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

// Mul multiplies an amount of the quote's asset by this price to get
// an amount in the base asset (a * price), rounding toward zero, per
// spec §4.2. amt must be denominated in p.Quote.AssetID.
func (p Price) Mul(amt AssetAmount) AssetAmount {
	if amt.AssetID != p.Quote.AssetID {
		panic("price.Mul: amount not denominated in quote asset")
	}
	result := MulDiv128(amt.Amount, p.Base.Amount, p.Quote.Amount)
	return AssetAmount{Amount: result, AssetID: p.Base.AssetID}
}

// LessThan compares two prices over a common pair by cross-multiplying
// numerators, avoiding floating point. Both prices must share the same
// (base asset, quote asset) orientation. The cross products routinely
// exceed 64 bits at max share supply, so the comparison is done on the
// 256-bit intermediates directly rather than clamping back into int64.
func (p Price) LessThan(o Price) bool {
	if p.Base.AssetID != o.Base.AssetID || p.Quote.AssetID != o.Quote.AssetID {
		panic("price.LessThan: mismatched asset pair")
	}
	// p.Base/p.Quote < o.Base/o.Quote  <=>  p.Base*o.Quote < o.Base*p.Quote
	var lhs, rhs uint256.Int
	lhs.Mul(uint256.NewInt(absU64(p.Base.Amount)), uint256.NewInt(absU64(o.Quote.Amount)))
	rhs.Mul(uint256.NewInt(absU64(o.Base.Amount)), uint256.NewInt(absU64(p.Quote.Amount)))
	return lhs.Lt(&rhs)
}

func (p Price) Equal(o Price) bool {
	return p.Base == o.Base && p.Quote == o.Quote
}

// ToReal renders the price as a float64 base-per-quote ratio, for
// display/logging only — never for matching decisions.
func (p Price) ToReal() float64 {
	return float64(p.Base.Amount) / float64(p.Quote.Amount)
}
