package sale

import (
	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/fee"
)

// RateDenominator is the denominator for token allocation rates: a rate
// of 500 allocates 5% of invested capital, token-denominated.
const RateDenominator = fee.BpsDenominator

// Variant is the small behavior set that distinguishes the fixed-price,
// sealed-bid and pre-liquid sales sharing this engine. A variant is
// selected at construction and never changes.
type Variant interface {
	// Name identifies the variant in status reports and events.
	Name() string

	// ValidateInvest checks the position's cumulative invested capital
	// that an investment would produce against the attested ceiling.
	ValidateInvest(cumulative *uint256.Int, att *SaftAttestation) error

	// Claimable computes the token amount owed to a position when
	// claiming by attestation. Variants that settle exclusively through
	// a published distribution root reject attestation claims.
	Claimable(pos *Position) (*uint256.Int, error)

	// AcceptsSealedBids reports whether investments carry encrypted bid
	// quantities.
	AcceptsSealedBids() bool
}

// FixedPrice is the standard sale: investments are bounded by the
// attested ceiling and claims convert invested capital at the attested
// allocation rate.
type FixedPrice struct{}

func (FixedPrice) Name() string { return "fixed_price" }

func (FixedPrice) ValidateInvest(cumulative *uint256.Int, att *SaftAttestation) error {
	if cumulative.Gt(att.InvestmentCeiling) {
		return amountErrf("invested %s exceeds attested ceiling %s", cumulative, att.InvestmentCeiling)
	}
	return nil
}

func (FixedPrice) Claimable(pos *Position) (*uint256.Int, error) {
	return rateAllocation(pos), nil
}

func (FixedPrice) AcceptsSealedBids() bool { return false }

// SealedBidAuction hides desired quantities until the platform reveals
// the decryption key; final allocations only ever arrive through the
// published results root, so attestation claims are rejected.
type SealedBidAuction struct{}

func (SealedBidAuction) Name() string { return "sealed_bid_auction" }

func (SealedBidAuction) ValidateInvest(cumulative *uint256.Int, att *SaftAttestation) error {
	if cumulative.Gt(att.InvestmentCeiling) {
		return amountErrf("invested %s exceeds attested ceiling %s", cumulative, att.InvestmentCeiling)
	}
	return nil
}

func (SealedBidAuction) Claimable(*Position) (*uint256.Int, error) {
	return nil, authzErrf("auction allocations settle via the published results root")
}

func (SealedBidAuction) AcceptsSealedBids() bool { return true }

// PreLiquid is the SAFT-completion sale: the attested ceiling is the
// exact agreed amount, and an investment must complete it in full.
type PreLiquid struct{}

func (PreLiquid) Name() string { return "pre_liquid" }

func (PreLiquid) ValidateInvest(cumulative *uint256.Int, att *SaftAttestation) error {
	if !cumulative.Eq(att.InvestmentCeiling) {
		return amountErrf("invested %s must exactly equal the attested amount %s", cumulative, att.InvestmentCeiling)
	}
	return nil
}

func (PreLiquid) Claimable(pos *Position) (*uint256.Int, error) {
	return rateAllocation(pos), nil
}

func (PreLiquid) AcceptsSealedBids() bool { return false }

func rateAllocation(pos *Position) *uint256.Int {
	v := new(uint256.Int).Mul(pos.InvestedCapital, uint256.NewInt(pos.TokenAllocationRate))
	return v.Div(v, uint256.NewInt(RateDenominator))
}
