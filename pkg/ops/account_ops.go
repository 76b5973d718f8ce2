package ops

import (
	"github.com/ledgerforge/chain/pkg/authority"
	"github.com/ledgerforge/chain/pkg/chain"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// evalAccountCreate creates an account and its 1:1 statistics row
// (spec §3 Account, §4.4 pass 2's referrer/registrar/lifetime-referrer
// fee-share inputs), grounded on the original's account_create_evaluator.
func evalAccountCreate(db *chain.Database, op *AccountCreateOp) error {
	gp := db.GlobalProperty()
	if err := authority.ValidateAuthority(op.Owner, gp.Parameters.MaxAuthorityMembership); err != nil {
		return err
	}
	if err := authority.ValidateAuthority(op.Active, gp.Parameters.MaxAuthorityMembership); err != nil {
		return err
	}
	if op.Name == "" {
		return chainerr.Validationf("ops.evalAccountCreate", op, "account name must not be empty")
	}

	lifetimeReferrer := op.Referrer
	if op.Referrer != (types.ID{}) {
		referrer, ok := db.Accounts.Get(op.Referrer)
		if !ok {
			return chainerr.Preconditionf("ops.evalAccountCreate", op.Referrer, "unknown referrer")
		}
		if referrer.MembershipExpiration != entity.LifetimeExpiration {
			lifetimeReferrer = referrer.LifetimeReferrer
		}
	}

	account, err := db.Accounts.Create(func(id types.ID) *entity.Account {
		return &entity.Account{
			ID:                         id,
			Name:                       op.Name,
			Owner:                      op.Owner,
			Active:                     op.Active,
			NumWitness:                 op.NumWitness,
			NumCommittee:               op.NumCommittee,
			Registrar:                  op.Registrar,
			Referrer:                   op.Referrer,
			LifetimeReferrer:           lifetimeReferrer,
			NetworkFeePercent:          gp.Parameters.NetworkPercentOfFee,
			LifetimeReferrerFeePercent: gp.Parameters.LifetimeReferrerPercentOfFee,
			ReferrerRewardsPercent:     op.ReferrerRewardsPercent,
		}
	})
	if err != nil {
		return err
	}
	_, err = db.AccountStats.Create(func(id types.ID) *entity.AccountStatistics {
		return &entity.AccountStatistics{ID: id, Account: account.ID}
	})
	return err
}

// evalAccountUpdate mutates an existing account's authorities, vote
// preferences, or delegated voting account (spec §3 Account, §4.4 pass
// 1 "Resolve opinions from voting_account if set, else from the
// account itself").
func evalAccountUpdate(db *chain.Database, op *AccountUpdateOp) error {
	if _, ok := db.Accounts.Get(op.Account); !ok {
		return chainerr.Preconditionf("ops.evalAccountUpdate", op.Account, "unknown account")
	}
	gp := db.GlobalProperty()
	if op.NewOwner != nil {
		if err := authority.ValidateAuthority(*op.NewOwner, gp.Parameters.MaxAuthorityMembership); err != nil {
			return err
		}
	}
	if op.NewActive != nil {
		if err := authority.ValidateAuthority(*op.NewActive, gp.Parameters.MaxAuthorityMembership); err != nil {
			return err
		}
	}
	return db.Accounts.Modify(op.Account, func(a **entity.Account) {
		acc := *a
		if op.NewOwner != nil {
			acc.Owner = *op.NewOwner
		}
		if op.NewActive != nil {
			acc.Active = *op.NewActive
		}
		if op.NumWitness != nil {
			acc.NumWitness = *op.NumWitness
		}
		if op.NumCommittee != nil {
			acc.NumCommittee = *op.NumCommittee
		}
		if op.VotingAccount != nil {
			acc.VotingAccount = *op.VotingAccount
		}
		if op.VoteIDs != nil {
			ids := make(map[uint32]struct{}, len(op.VoteIDs))
			for _, v := range op.VoteIDs {
				ids[v] = struct{}{}
			}
			acc.VoteIDs = ids
		}
	})
}

// evalAccountUpgrade sets lifetime or timed membership expiration
// (SPEC_FULL.md supplemented feature), which gates bulk-fee-discount
// eligibility in maintenance pass 2.
func evalAccountUpgrade(db *chain.Database, op *AccountUpgradeOp) error {
	if _, ok := db.Accounts.Get(op.Account); !ok {
		return chainerr.Preconditionf("ops.evalAccountUpgrade", op.Account, "unknown account")
	}
	expiration := op.ExpirationUnix
	if op.UpgradeToLifetime {
		expiration = entity.LifetimeExpiration
	}
	return db.Accounts.Modify(op.Account, func(a **entity.Account) {
		(*a).MembershipExpiration = expiration
	})
}

// evalTransfer moves amount of asset from From to To, the evaluator
// requiring From's active authority be satisfied by the transaction's
// signatures (enforced by the caller before Evaluate, per spec §7
// Authorization).
func evalTransfer(db *chain.Database, op *TransferOp) error {
	if op.Amount <= 0 {
		return chainerr.Validationf("ops.evalTransfer", op, "transfer amount must be positive")
	}
	if _, ok := db.Accounts.Get(op.From); !ok {
		return chainerr.Preconditionf("ops.evalTransfer", op.From, "unknown sender")
	}
	if _, ok := db.Accounts.Get(op.To); !ok {
		return chainerr.Preconditionf("ops.evalTransfer", op.To, "unknown recipient")
	}
	if err := db.AdjustBalance(op.From, op.Asset, -op.Amount); err != nil {
		return chainerr.Preconditionf("ops.evalTransfer", op.From, "%v", err)
	}
	return db.AdjustBalance(op.To, op.Asset, op.Amount)
}
