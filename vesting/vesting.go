// Package vesting provides the per-investor token release schedules the
// sale engine materializes at claim time. A schedule holds the investor's
// vested allocation under its own custody identity and releases it to the
// beneficiary either continuously (linear) or in discrete steps (epoch).
//
// Schedules are independently lifecycled: the sale engine creates one per
// investor through the Factory capability, funds it once, and may forward
// release calls on the investor's behalf. A schedule is never shared or
// reused across positions.
package vesting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/token"
)

var (
	// ErrNotFunded is returned when release is attempted before the sale
	// has transferred the allocation in.
	ErrNotFunded = errors.New("schedule not funded")

	// ErrNothingReleasable is returned when no vested amount is currently
	// available to release.
	ErrNothingReleasable = errors.New("nothing releasable")
)

// Params fixes a schedule's shape at creation. EpochLength and EpochCount
// are zero for linear vesting; both must be set for epoch vesting.
type Params struct {
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Cliff       time.Duration `json:"cliff"`
	EpochLength time.Duration `json:"epoch_length,omitempty"`
	EpochCount  uint64        `json:"epoch_count,omitempty"`
}

// IsEpoch reports whether the params describe step-wise vesting.
func (p Params) IsEpoch() bool {
	return p.EpochCount > 0
}

// Validate rejects shapes the release arithmetic cannot handle.
func (p Params) Validate() error {
	if p.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	if p.Cliff < 0 || p.Cliff > p.Duration {
		return errors.New("cliff must lie within the vesting duration")
	}
	if p.IsEpoch() && p.EpochLength <= 0 {
		return errors.New("epoch length must be positive")
	}
	return nil
}

// Schedule is one investor's release schedule. The distributed token sits
// under the schedule's custody identity until released.
type Schedule struct {
	beneficiary crypto.PublicKey
	custody     crypto.PublicKey
	params      Params
	tok         token.Token

	mu               sync.Mutex
	total            *uint256.Int
	released         *uint256.Int
	lastClaimedEpoch uint64
}

// Beneficiary returns the investor the schedule releases to.
func (s *Schedule) Beneficiary() crypto.PublicKey {
	return s.beneficiary
}

// Custody returns the schedule's own holding identity. The sale engine
// transfers the claimed allocation to this identity when funding.
func (s *Schedule) Custody() crypto.PublicKey {
	return s.custody
}

// Params returns the schedule's immutable shape.
func (s *Schedule) Params() Params {
	return s.params
}

// Fund records the allocation; the sale engine moves the tokens to the
// schedule's custody identity within the same settlement operation.
// Called exactly once per schedule.
func (s *Schedule) Fund(total *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.total.IsZero() {
		return errors.New("schedule already funded")
	}
	if total.IsZero() {
		return errors.New("cannot fund with zero allocation")
	}
	s.total = total.Clone()
	return nil
}

// Total returns the funded allocation.
func (s *Schedule) Total() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.Clone()
}

// Released returns the amount already paid out.
func (s *Schedule) Released() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released.Clone()
}

// Releasable returns the amount that could be released at the given time.
// Nothing is releasable before the cliff elapses, regardless of elapsed
// epochs or proportion.
func (s *Schedule) Releasable(now time.Time) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releasableLocked(now)
}

// Release transfers the currently releasable amount to the beneficiary.
func (s *Schedule) Release(now time.Time) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.total.IsZero() {
		return nil, ErrNotFunded
	}

	amount := s.releasableLocked(now)
	if amount.IsZero() {
		return nil, ErrNothingReleasable
	}

	// Effects before the external transfer, undone on failure so the
	// releasable amount survives a transient token error.
	prevReleased := s.released
	prevEpoch := s.lastClaimedEpoch
	s.released = new(uint256.Int).Add(s.released, amount)
	if s.params.IsEpoch() {
		s.lastClaimedEpoch = s.vestedEpochs(now)
	}

	if err := s.tok.Transfer(s.custody, s.beneficiary, amount); err != nil {
		s.released = prevReleased
		s.lastClaimedEpoch = prevEpoch
		return nil, fmt.Errorf("release transfer: %w", err)
	}
	return amount, nil
}

func (s *Schedule) releasableLocked(now time.Time) *uint256.Int {
	if s.total.IsZero() || now.Before(s.params.Start.Add(s.params.Cliff)) {
		return uint256.NewInt(0)
	}

	var vested *uint256.Int
	if s.params.IsEpoch() {
		vested = s.vestedEpochAmount(now)
	} else {
		vested = s.vestedLinearAmount(now)
	}

	if vested.Lt(s.released) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(vested, s.released)
}

// vestedLinearAmount vests proportionally between start and start+duration.
func (s *Schedule) vestedLinearAmount(now time.Time) *uint256.Int {
	elapsed := now.Sub(s.params.Start)
	if elapsed >= s.params.Duration {
		return s.total.Clone()
	}

	v := new(uint256.Int).Mul(s.total, uint256.NewInt(uint64(elapsed)))
	return v.Div(v, uint256.NewInt(uint64(s.params.Duration)))
}

// vestedEpochAmount vests total/epochCount per completed epoch.
func (s *Schedule) vestedEpochAmount(now time.Time) *uint256.Int {
	epochs := s.vestedEpochs(now)
	if epochs >= s.params.EpochCount {
		return s.total.Clone()
	}

	v := new(uint256.Int).Mul(s.total, uint256.NewInt(epochs))
	return v.Div(v, uint256.NewInt(s.params.EpochCount))
}

// vestedEpochs counts fully completed epochs, capped at EpochCount.
func (s *Schedule) vestedEpochs(now time.Time) uint64 {
	elapsed := now.Sub(s.params.Start)
	if elapsed < 0 {
		return 0
	}
	epochs := uint64(elapsed / s.params.EpochLength)
	if epochs > s.params.EpochCount {
		epochs = s.params.EpochCount
	}
	return epochs
}

// Factory creates fresh schedule instances. The sale engine requests one
// per claiming investor; the returned schedule is exclusively referenced
// by that investor's position.
type Factory interface {
	Create(beneficiary crypto.PublicKey, params Params) (*Schedule, error)
}

// LocalFactory creates schedules custodied on the given token, each with
// a freshly generated holding identity.
type LocalFactory struct {
	Token token.Token
}

// Create builds an unfunded schedule for the beneficiary.
func (f *LocalFactory) Create(beneficiary crypto.PublicKey, params Params) (*Schedule, error) {
	if beneficiary.IsZero() {
		return nil, errors.New("zero beneficiary")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	custody, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate custody identity: %w", err)
	}

	return &Schedule{
		beneficiary: beneficiary,
		custody:     custody,
		params:      params,
		tok:         f.Token,
		total:       uint256.NewInt(0),
		released:    uint256.NewInt(0),
	}, nil
}
