// Package authority evaluates threshold-weighted signing authorities
// (spec §3 "Authority") against a set of recovered signer addresses,
// and verifies the ECDSA signatures that produce that set.
//
// Grounded on the teacher's pkg/crypto.Signer/RecoverAddress
// (secp256k1, go-ethereum-compatible recovery) for the signature half,
// generalized on the authority side from a single signer-per-tx model
// to the spec's weighted M-of-N with up to one level of account
// delegation.
package authority

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ledgerforge/chain/pkg/chainerr"
	"github.com/ledgerforge/chain/pkg/crypto"
	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/types"
)

// MaxDelegationDepth caps how many levels of account-authority
// delegation get expanded (spec §3: "authorities nest at most two
// levels deep").
const MaxDelegationDepth = 2

// AccountResolver looks up an account's Owner/Active authority by id,
// the hook Satisfied uses to expand AccountIDs weights without pulling
// in a full chain.Database dependency (avoids an import cycle with
// pkg/chain).
type AccountResolver func(id types.ID) (*entity.Account, bool)

// RecoverSigners recovers the secp256k1 address for every signature
// against digest via crypto.RecoverAddress, skipping (not failing on)
// any that fail to recover, extending the teacher's single-signer
// Ecrecover to a multi-signature transaction envelope.
func RecoverSigners(digest [32]byte, signatures [][]byte) []common.Address {
	var out []common.Address
	for _, sig := range signatures {
		addr, err := crypto.RecoverAddress(digest[:], sig)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// Satisfied reports whether the given recovered addresses meet auth's
// threshold, recursively expanding nested account authorities up to
// MaxDelegationDepth (spec §3: "an AccountID member is satisfied if
// that account's active authority is itself satisfied by the same
// signature set").
func Satisfied(auth entity.Authority, signers map[common.Address]struct{}, resolve AccountResolver) bool {
	return satisfiedAt(auth, signers, resolve, 0)
}

func satisfiedAt(auth entity.Authority, signers map[common.Address]struct{}, resolve AccountResolver, depth int) bool {
	var total uint32
	for keyHex, weight := range auth.Keys {
		addr := common.HexToAddress(keyHex)
		if _, ok := signers[addr]; ok {
			total += weight
		}
	}
	if depth < MaxDelegationDepth {
		for accID, weight := range auth.AccountIDs {
			acc, ok := resolve(accID)
			if !ok {
				continue
			}
			if satisfiedAt(acc.Active, signers, resolve, depth+1) {
				total += weight
			}
		}
	}
	return total >= auth.Threshold
}

// VerifyTransaction recovers every signature against digest and
// requires both Owner-or-Active authority checks the caller asks for
// to be satisfied, returning a chainerr.Authorization error naming the
// account on failure (spec §4.2 "Authorization: the signing set did
// not satisfy the required authority").
func VerifyTransaction(digest [32]byte, signatures [][]byte, required []RequiredAuth, resolve AccountResolver) error {
	recovered := RecoverSigners(digest, signatures)
	if len(recovered) == 0 {
		return chainerr.Authorizationf("authority.VerifyTransaction", nil, "no recoverable signatures")
	}
	set := make(map[common.Address]struct{}, len(recovered))
	for _, a := range recovered {
		set[a] = struct{}{}
	}
	for _, req := range required {
		acc, ok := resolve(req.Account)
		if !ok {
			return chainerr.Validationf("authority.VerifyTransaction", req.Account, "unknown account %s", req.Account)
		}
		auth := acc.Active
		if req.Owner {
			auth = acc.Owner
		}
		if !satisfiedAt(auth, set, resolve, 0) {
			return chainerr.Authorizationf("authority.VerifyTransaction", req.Account, "account %s: signing set does not satisfy required %s authority", req.Account, authKind(req.Owner))
		}
	}
	return nil
}

func authKind(owner bool) string {
	if owner {
		return "owner"
	}
	return "active"
}

// RequiredAuth names one authority an operation's evaluator demands be
// satisfied, e.g. {Account: seller, Owner: false} for a transfer's
// from-account active authority.
type RequiredAuth struct {
	Account types.ID
	Owner   bool
}

// Digest hashes op payload bytes with Keccak256, the teacher's
// SignMessage preimage, so evaluators and signers agree on what bytes
// get signed.
func Digest(payload []byte) [32]byte {
	return ethcrypto.Keccak256Hash(payload)
}

// ValidateAuthority checks an authority's own well-formedness: nonzero
// threshold reachable by its listed weights, and membership count
// within the chain parameter cap (spec §3 "Validation: threshold
// exceeds the sum of member weights").
func ValidateAuthority(auth entity.Authority, maxMembers uint16) error {
	if auth.Threshold == 0 {
		return chainerr.Validationf("authority.ValidateAuthority", auth, "threshold must be positive")
	}
	members := uint16(len(auth.Keys) + len(auth.AccountIDs))
	if members > maxMembers {
		return chainerr.Validationf("authority.ValidateAuthority", auth, "authority has %d members, exceeds maximum %d", members, maxMembers)
	}
	var total uint32
	for _, w := range auth.Keys {
		total += w
	}
	for _, w := range auth.AccountIDs {
		total += w
	}
	if total < auth.Threshold {
		return chainerr.Validationf("authority.ValidateAuthority", auth, "threshold %d exceeds total member weight %d", auth.Threshold, total)
	}
	return nil
}
