package sale

import (
	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
)

// SaftAction discriminates what a platform attestation authorizes.
type SaftAction uint8

const (
	ActionInvest SaftAction = iota + 1
	ActionWithdrawExcess
	ActionClaim
	ActionTransfer
)

func (a SaftAction) String() string {
	switch a {
	case ActionInvest:
		return "invest"
	case ActionWithdrawExcess:
		return "withdraw_excess"
	case ActionClaim:
		return "claim"
	case ActionTransfer:
		return "transfer"
	}
	return "unknown"
}

// SaftAttestation carries the platform's off-chain-computed, per-investor
// SAFT parameters: the allowed investment ceiling and token allocation
// rate, bound to one investor, one sale instance, one network and one
// action. Attestations carry no nonce; replay protection is the sale's
// per-investor used-signature set.
type SaftAttestation struct {
	Investor            crypto.PublicKey `json:"investor"`
	SaleID              string           `json:"sale_id"`
	ChainID             string           `json:"chain_id"`
	InvestmentCeiling   *uint256.Int     `json:"investment_ceiling"`
	TokenAllocationRate uint64           `json:"token_allocation_rate"`
	Action              SaftAction       `json:"action"`
	Signature           crypto.Signature `json:"signature"`
}

// Digest reconstructs the canonical byte encoding of the attested
// parameters and hashes it. The platform signer signs exactly this
// digest; any field change invalidates the signature.
func (a *SaftAttestation) Digest() crypto.Hash {
	ceiling := a.InvestmentCeiling.Bytes32()

	var rate [8]byte
	for i := 0; i < 8; i++ {
		rate[i] = byte(a.TokenAllocationRate >> (56 - 8*i))
	}

	return crypto.Sum256(
		[]byte("legion-saft-v1"),
		a.Investor.Bytes(),
		[]byte(a.SaleID),
		[]byte(a.ChainID),
		ceiling[:],
		rate[:],
		[]byte{byte(a.Action)},
	)
}

// SignSaft produces a platform attestation over the given parameters.
// Used by the off-chain backend and by tests; the engine only verifies.
func SignSaft(signerKey crypto.PrivateKey, att SaftAttestation) (*SaftAttestation, error) {
	digest := att.Digest()
	sig, err := crypto.Sign(signerKey, digest.Bytes())
	if err != nil {
		return nil, err
	}
	att.Signature = sig
	return &att, nil
}

// verifyAttestation checks an attestation against this sale's identity
// and the configured platform signer, then reserves its digest in the
// replay set. Callers must hold the engine lock; effects are applied only
// after all guards pass.
func (s *Sale) verifyAttestation(investor crypto.PublicKey, att *SaftAttestation, action SaftAction) (crypto.Hash, error) {
	if att == nil {
		return crypto.Hash{}, authzErrf("missing attestation")
	}
	if !att.Investor.Equal(investor) {
		return crypto.Hash{}, authzErrf("attestation bound to a different investor")
	}
	if att.SaleID != s.cfg.SaleID {
		return crypto.Hash{}, authzErrf("attestation bound to a different sale")
	}
	if att.ChainID != s.cfg.ChainID {
		return crypto.Hash{}, authzErrf("attestation bound to a different network")
	}
	if att.Action != action {
		return crypto.Hash{}, authzErrf("attestation authorizes %s, not %s", att.Action, action)
	}

	digest := att.Digest()
	if !att.Signature.Verify(s.cfg.PlatformSigner, digest.Bytes()) {
		return crypto.Hash{}, authzErrf("signature does not recover to the platform signer")
	}
	if s.arena.signatureUsed(investor, digest) {
		return crypto.Hash{}, authzErrf("attestation already used")
	}
	return digest, nil
}
