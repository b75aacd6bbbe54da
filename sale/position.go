package sale

import (
	"encoding/hex"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/vesting"
)

// PositionID is the synthetic identifier positions are addressed by.
// Indirection through an id (rather than the holder's address) is what
// makes position transfer possible.
type PositionID uint64

// Position is one investor's mutable record in the sale ledger. Created
// lazily on first investment and never deleted, even at zero balance:
// the replay and settlement history it carries must outlive the funds.
type Position struct {
	ID       PositionID       `json:"id"`
	Investor crypto.PublicKey `json:"investor"`

	InvestedCapital *uint256.Int `json:"invested_capital"`

	HasSettled       bool `json:"has_settled"`
	HasClaimedExcess bool `json:"has_claimed_excess"`
	HasRefunded      bool `json:"has_refunded"`

	// SAFT parameters last attested by the platform, re-validated on
	// every mutating call that carries an attestation.
	InvestmentCeiling   *uint256.Int `json:"investment_ceiling"`
	TokenAllocationRate uint64       `json:"token_allocation_rate"`

	// Vesting is the investor's release schedule, created at claim time.
	// Exclusively referenced by this position.
	Vesting *vesting.Schedule `json:"-"`
}

func (p *Position) clone() *Position {
	out := *p
	out.InvestedCapital = p.InvestedCapital.Clone()
	out.InvestmentCeiling = p.InvestmentCeiling.Clone()
	return &out
}

// positionArena stores positions by id with an investor index, plus the
// per-investor set of consumed attestation digests.
type positionArena struct {
	nextID     PositionID
	positions  map[PositionID]*Position
	byInvestor map[string]PositionID

	// usedSignatures is keyed by investor hex + attestation digest hex,
	// bounding growth to one entry per accepted attestation.
	usedSignatures map[string]struct{}
}

func newPositionArena() *positionArena {
	return &positionArena{
		nextID:         1,
		positions:      make(map[PositionID]*Position),
		byInvestor:     make(map[string]PositionID),
		usedSignatures: make(map[string]struct{}),
	}
}

func (a *positionArena) get(investor crypto.PublicKey) (*Position, bool) {
	id, ok := a.byInvestor[investor.String()]
	if !ok {
		return nil, false
	}
	return a.positions[id], true
}

func (a *positionArena) getOrCreate(investor crypto.PublicKey) *Position {
	if pos, ok := a.get(investor); ok {
		return pos
	}

	pos := &Position{
		ID:                a.nextID,
		Investor:          investor,
		InvestedCapital:   uint256.NewInt(0),
		InvestmentCeiling: uint256.NewInt(0),
	}
	a.nextID++
	a.positions[pos.ID] = pos
	a.byInvestor[investor.String()] = pos.ID
	return pos
}

// all returns every position, for conservation checks and snapshots.
func (a *positionArena) all() []*Position {
	out := make([]*Position, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, pos)
	}
	return out
}

func signatureKey(investor crypto.PublicKey, digest crypto.Hash) string {
	return investor.String() + "|" + hex.EncodeToString(digest.Bytes())
}

func (a *positionArena) signatureUsed(investor crypto.PublicKey, digest crypto.Hash) bool {
	_, ok := a.usedSignatures[signatureKey(investor, digest)]
	return ok
}

func (a *positionArena) markSignatureUsed(investor crypto.PublicKey, digest crypto.Hash) {
	a.usedSignatures[signatureKey(investor, digest)] = struct{}{}
}

// reindex moves a position to a new holder, re-pointing the investor
// index. The position record itself is kept, preserving its history.
func (a *positionArena) reindex(pos *Position, newHolder crypto.PublicKey) {
	delete(a.byInvestor, pos.Investor.String())
	pos.Investor = newHolder
	a.byInvestor[newHolder.String()] = pos.ID
}
