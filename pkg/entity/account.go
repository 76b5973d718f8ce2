package entity

import "github.com/ledgerforge/chain/pkg/types"

// Authority is a threshold-weighted set of public keys and/or other
// accounts, depth <= 2 (spec §3 Account, §7 Authorization). Keys and
// AccountIDs entries are mutually independent; their weights sum
// against Threshold.
type Authority struct {
	Threshold  uint32
	Keys       map[string]uint32   // hex-encoded pubkey/address -> weight
	AccountIDs map[types.ID]uint32 // delegated account -> weight (depth 1)
}

func (a Authority) clone() Authority {
	cp := Authority{Threshold: a.Threshold}
	if a.Keys != nil {
		cp.Keys = make(map[string]uint32, len(a.Keys))
		for k, v := range a.Keys {
			cp.Keys[k] = v
		}
	}
	if a.AccountIDs != nil {
		cp.AccountIDs = make(map[types.ID]uint32, len(a.AccountIDs))
		for k, v := range a.AccountIDs {
			cp.AccountIDs[k] = v
		}
	}
	return cp
}

// Account is the spec §3 Account entity.
type Account struct {
	ID   types.ID
	Name string

	Owner  Authority
	Active Authority

	VoteIDs             map[uint32]struct{} // witness/delegate/worker vote slots
	NumWitness          uint16              // preferred active-witness-set size; the maintenance tally halves it
	NumCommittee        uint16
	VotingAccount       types.ID // zero ID means "vote with own opinion"

	Referrer          types.ID
	Registrar         types.ID
	LifetimeReferrer  types.ID
	NetworkFeePercent        int32 // bps of network cut, copied from the global param at create time; used by maintenance fee payout
	LifetimeReferrerFeePercent int32
	ReferrerRewardsPercent     int32

	MembershipExpiration int64 // unix seconds; 0 = never a paid member; max-int64 = lifetime
}

func (a *Account) EntityID() types.ID { return a.ID }

func (a *Account) Clone() *Account {
	cp := *a
	cp.Owner = a.Owner.clone()
	cp.Active = a.Active.clone()
	if a.VoteIDs != nil {
		cp.VoteIDs = make(map[uint32]struct{}, len(a.VoteIDs))
		for k := range a.VoteIDs {
			cp.VoteIDs[k] = struct{}{}
		}
	}
	return &cp
}

// IsLifetimeMember reports membership per spec §4.4 pass 2 ("account is
// a member").
func (a *Account) IsLifetimeMember(nowUnix int64) bool {
	return a.MembershipExpiration == LifetimeExpiration || a.MembershipExpiration > nowUnix
}

// LifetimeExpiration marks a never-expiring (lifetime) membership.
const LifetimeExpiration int64 = 1<<63 - 1

// AccountStatistics is the 1:1 spec §3 statistics object.
type AccountStatistics struct {
	ID      types.ID
	Account types.ID

	TotalCoreInOrders  int64
	LifetimeFeesPaid   int64
	PendingFees        int64
	PendingVestedFees  int64
	CashbackBalance    types.ID // zero ID = no vesting balance yet
}

func (s *AccountStatistics) EntityID() types.ID { return s.ID }
func (s *AccountStatistics) Clone() *AccountStatistics {
	cp := *s
	return &cp
}

// Balance is the spec §3 (owner, asset) -> amount entity. Zero
// balances may be elided (spec invariant) — callers should Remove a
// Balance row once it reaches zero rather than keep a zero-value row.
type Balance struct {
	ID     types.ID
	Owner  types.ID
	Asset  types.ID
	Amount int64
}

func (b *Balance) EntityID() types.ID { return b.ID }
func (b *Balance) Clone() *Balance {
	cp := *b
	return &cp
}

// VestingBalance models the cashback-vesting sub-object referenced
// from AccountStatistics.CashbackBalance (SPEC_FULL.md supplemented
// feature, grounded on the original's vesting_balance_object).
type VestingBalance struct {
	ID      types.ID
	Owner   types.ID
	Asset   types.ID
	Balance int64 // total deposited, vests linearly over Period
	Matured int64 // already-withdrawable portion as of LastUpdate
	Period  int64 // vesting period in seconds
	LastUpdate int64
}

func (v *VestingBalance) EntityID() types.ID { return v.ID }
func (v *VestingBalance) Clone() *VestingBalance {
	cp := *v
	return &cp
}

// Deposit adds amount to the vesting balance, first updating Matured
// for elapsed time (linear vesting), matching the original's
// cashback semantics.
func (v *VestingBalance) Deposit(now, amount int64) {
	v.vestTo(now)
	v.Balance += amount
}

func (v *VestingBalance) vestTo(now int64) {
	if v.Period <= 0 || now <= v.LastUpdate {
		v.LastUpdate = now
		return
	}
	elapsed := now - v.LastUpdate
	unmatured := v.Balance - v.Matured
	if unmatured > 0 {
		vested := types.MulDiv128(unmatured, elapsed, v.Period)
		if vested > unmatured {
			vested = unmatured
		}
		v.Matured += vested
	}
	v.LastUpdate = now
}

// Withdrawable returns the portion of the balance available to
// withdraw as of now.
func (v *VestingBalance) Withdrawable(now int64) int64 {
	v.vestTo(now)
	return v.Matured
}
