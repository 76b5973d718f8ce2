// Package ops defines the closed set of operation tags an evaluated
// block or transaction may carry (spec §6 Inputs, §9 "Runtime-polymorphic
// operations ... tagged variants with exhaustive dispatch; the operation
// tag set is closed and known at compile time").
//
// Grounded on the teacher's pkg/app/core/transaction.SignedTransaction
// (one envelope struct with a Type discriminant and one populated
// payload pointer per type, JSON-tagged for wire/storage use),
// generalized from the teacher's two tx kinds (order, cancel) to the
// spec's full operation set.
package ops

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// Type discriminates the closed operation tag set.
type Type uint8

const (
	AccountCreate Type = iota
	AccountUpdate
	AccountUpgrade
	Transfer
	AssetCreate
	AssetPublishFeed
	LimitOrderCreate
	LimitOrderCancel
	ShortOrderCreate
	CallOrderUpdate
	ForceSettlementCreate
	WitnessCreate
	CommitteeMemberCreate
	WorkerCreate
)

func (t Type) String() string {
	names := [...]string{
		"account_create", "account_update", "account_upgrade", "transfer",
		"asset_create", "asset_publish_feed", "limit_order_create",
		"limit_order_cancel", "short_order_create", "call_order_update",
		"force_settlement_create", "witness_create", "committee_member_create",
		"worker_create",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown_op"
}

// Operation is the envelope for exactly one populated payload matching
// Type, plus the flat per-operation fee the original charges every
// operation (spec §4.4 pass 2 consumes accrued "pending_fees" — this
// is where they accrue from).
type Operation struct {
	Type     Type   `json:"type"`
	FeePayer types.ID `json:"fee_payer"`
	Fee      int64  `json:"fee"`

	AccountCreateOp          *AccountCreateOp          `json:"account_create,omitempty"`
	AccountUpdateOp          *AccountUpdateOp          `json:"account_update,omitempty"`
	AccountUpgradeOp         *AccountUpgradeOp         `json:"account_upgrade,omitempty"`
	TransferOp               *TransferOp               `json:"transfer,omitempty"`
	AssetCreateOp            *AssetCreateOp            `json:"asset_create,omitempty"`
	AssetPublishFeedOp       *AssetPublishFeedOp       `json:"asset_publish_feed,omitempty"`
	LimitOrderCreateOp       *LimitOrderCreateOp       `json:"limit_order_create,omitempty"`
	LimitOrderCancelOp       *LimitOrderCancelOp       `json:"limit_order_cancel,omitempty"`
	ShortOrderCreateOp       *ShortOrderCreateOp       `json:"short_order_create,omitempty"`
	CallOrderUpdateOp        *CallOrderUpdateOp        `json:"call_order_update,omitempty"`
	ForceSettlementCreateOp  *ForceSettlementCreateOp  `json:"force_settlement_create,omitempty"`
	WitnessCreateOp          *WitnessCreateOp          `json:"witness_create,omitempty"`
	CommitteeMemberCreateOp  *CommitteeMemberCreateOp  `json:"committee_member_create,omitempty"`
	WorkerCreateOp           *WorkerCreateOp           `json:"worker_create,omitempty"`
}

// Payload types, one per operation tag (spec §6 Inputs).

type AccountCreateOp struct {
	Name                       string
	Owner                      entity.Authority
	Active                     entity.Authority
	Registrar                  types.ID
	Referrer                   types.ID
	ReferrerRewardsPercent     int32
	NumWitness                 uint16
	NumCommittee               uint16
}

type AccountUpdateOp struct {
	Account       types.ID
	NewOwner      *entity.Authority
	NewActive     *entity.Authority
	NumWitness    *uint16
	NumCommittee  *uint16
	VotingAccount *types.ID
	VoteIDs       []uint32 // replaces the account's whole vote set when non-nil
}

// AccountUpgradeOp sets lifetime or annual membership (SPEC_FULL.md
// supplemented feature, grounded on original_source's account_upgrade
// operation).
type AccountUpgradeOp struct {
	Account         types.ID
	UpgradeToLifetime bool
	ExpirationUnix  int64 // used when not upgrading to lifetime
}

type TransferOp struct {
	From   types.ID
	To     types.ID
	Asset  types.ID
	Amount int64
}

type AssetCreateOp struct {
	Symbol       string
	Issuer       types.ID
	Precision    uint8
	MarketFeeBp  int32
	MinMarketFee int64
	MaxMarketFee int64
	Bitasset     *entity.BitassetData // nil for a plain asset
}

type AssetPublishFeedOp struct {
	Asset    types.ID
	Producer types.ID
	Feed     entity.PriceFeed
	NowUnix  int64
}

type LimitOrderCreateOp struct {
	Seller     types.ID
	SellPrice  types.Price
	ForSale    int64
	Expiration int64
}

type LimitOrderCancelOp struct {
	Order types.ID
	Owner types.ID
}

type ShortOrderCreateOp struct {
	Seller                     types.ID
	SellPrice                  types.Price // Base = MIA, Quote = backing
	ForSale                    int64       // backing collateral pledged
	MaintenanceCollateralRatio int32
}

type CallOrderUpdateOp struct {
	Borrower                   types.ID
	DebtAsset                  types.ID
	CollateralAsset            types.ID
	DeltaDebt                  int64 // positive borrows more, negative repays
	DeltaCollateral            int64 // positive adds collateral, negative withdraws
	MaintenanceCollateralRatio int32
}

type ForceSettlementCreateOp struct {
	Owner   types.ID
	Asset   types.ID
	Balance int64
	NowUnix int64
}

type WitnessCreateOp struct {
	WitnessAccount types.ID
	SigningKey     string
	URL            string
}

type CommitteeMemberCreateOp struct {
	DelegateAccount types.ID
	URL             string
}

type WorkerCreateOp struct {
	WorkerAccount    types.ID
	DailyPay         int64
	PayType          entity.WorkerPayType
	VestingPeriodSec int64
	WorkBegin        int64
	WorkEnd          int64
	Name             string
}

// Transaction bundles operations that apply atomically (spec §6
// "Transaction (pending)"): either every operation succeeds or none
// take effect, since the caller evaluates them under one savepoint.
type Transaction struct {
	Operations []Operation
	Expiration int64 // unix seconds; core rejects if <= block time
	Signatures [][]byte
}

// Digest returns a stable identity for duplicate-transaction rejection
// within the expiration window (spec §6).
func (tx *Transaction) Digest() ([32]byte, error) {
	raw, err := json.Marshal(tx.Operations)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ops: digest marshal: %w", err)
	}
	return sha256Of(raw), nil
}

// validate checks an operation envelope's structural well-formedness
// before evaluation (spec §7 "Validation: malformed operation").
func (op Operation) validate() error {
	count := 0
	check := func(present bool) {
		if present {
			count++
		}
	}
	check(op.AccountCreateOp != nil)
	check(op.AccountUpdateOp != nil)
	check(op.AccountUpgradeOp != nil)
	check(op.TransferOp != nil)
	check(op.AssetCreateOp != nil)
	check(op.AssetPublishFeedOp != nil)
	check(op.LimitOrderCreateOp != nil)
	check(op.LimitOrderCancelOp != nil)
	check(op.ShortOrderCreateOp != nil)
	check(op.CallOrderUpdateOp != nil)
	check(op.ForceSettlementCreateOp != nil)
	check(op.WitnessCreateOp != nil)
	check(op.CommitteeMemberCreateOp != nil)
	check(op.WorkerCreateOp != nil)
	if count != 1 {
		return chainerr.Validationf("ops.validate", op.Type, "operation must carry exactly one payload, got %d", count)
	}
	if op.Fee < 0 {
		return chainerr.Validationf("ops.validate", op.Type, "fee must be non-negative")
	}
	return nil
}
