// Package sale implements the Legion sale settlement engine: the
// investor position ledger, the phase state machine, attestation and
// distribution verification, fee handling, the vesting hand-off and the
// sealed-bid custody of the auction variant.
//
// Every public operation runs to completion as one atomic unit under the
// engine lock. Internal counters and flags are updated before any token
// transfer is issued; a failed transfer unwinds the operation's effects
// so no partial state is ever observable.
package sale

import (
	"crypto/ecdh"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/atomic"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/fee"
	"github.com/Legion-Team/legion-go/merkle"
	"github.com/Legion-Team/legion-go/token"
	"github.com/Legion-Team/legion-go/vesting"
	"sync"
	"time"
)

// Deps are the external collaborators a sale instance needs. The engine
// verifies the off-chain backend's outputs but never computes them.
type Deps struct {
	// Clock is the shared time source; defaults to SystemClock.
	Clock Clock

	// Capital is the custody token investors pay in.
	Capital token.Token

	// VestingFactory materializes per-investor release schedules.
	VestingFactory vesting.Factory

	// Self is the sale instance's custody identity on the tokens.
	Self crypto.PublicKey
}

// Sale is one sale instance. Construct with New; initialization happens
// exactly once and the configuration is immutable afterwards except for
// the registry-synced platform addresses.
type Sale struct {
	mu      sync.Mutex
	cfg     Config
	variant Variant
	clock   Clock
	self    crypto.PublicKey

	capital   token.Token
	saleToken token.Token

	vestingFactory vesting.Factory

	paused atomic.Bool

	status Status
	arena  *positionArena

	sealedBids []PlacedBid
	bidKey     *ecdh.PrivateKey

	events []Event
	seq    uint64
}

// New initializes a sale instance with an immutable configuration.
func New(cfg Config, variant Variant, deps Deps) (*Sale, error) {
	if variant == nil {
		return nil, configErrf("variant is required")
	}
	if err := cfg.Validate(variant.AcceptsSealedBids()); err != nil {
		return nil, err
	}
	if deps.Capital == nil {
		return nil, configErrf("capital token is required")
	}
	if deps.VestingFactory == nil {
		return nil, configErrf("vesting factory is required")
	}
	if deps.Self.IsZero() {
		return nil, configErrf("sale custody identity is zero")
	}

	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}

	return &Sale{
		cfg:            cfg,
		variant:        variant,
		clock:          clock,
		self:           deps.Self,
		capital:        deps.Capital,
		vestingFactory: deps.VestingFactory,
		status:         newStatus(clock.Now(), &cfg),
		arena:          newPositionArena(),
	}, nil
}

// Config returns the sale configuration.
func (s *Sale) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Status returns a copy of the aggregate sale status.
func (s *Sale) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.clone()
}

// Phase derives the current lifecycle phase.
func (s *Sale) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.phaseAt(s.clock.Now())
}

// Variant returns the variant name selected at construction.
func (s *Sale) Variant() string {
	return s.variant.Name()
}

// Self returns the instance's custody identity.
func (s *Sale) Self() crypto.PublicKey {
	return s.self
}

// InvestorPositionDetails returns a copy of an investor's position.
func (s *Sale) InvestorPositionDetails(investor crypto.PublicKey) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.arena.get(investor)
	if !ok {
		return nil, amountErrf("no position for investor %s", investor)
	}
	return pos.clone(), nil
}

// SumPositions returns the sum of invested capital over all positions.
// Conservation: this always equals Status().TotalCapitalInvested.
func (s *Sale) SumPositions() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := uint256.NewInt(0)
	for _, pos := range s.arena.all() {
		sum.Add(sum, pos.InvestedCapital)
	}
	return sum
}

// requireUnpaused gates state-mutating entry points while paused.
// EmergencyWithdraw is the one exception and never calls this.
func (s *Sale) requireUnpaused() error {
	if s.paused.Load() {
		return phaseErrf("sale is paused")
	}
	return nil
}

// Invest records an investment under a valid platform attestation and
// pulls the capital into custody.
func (s *Sale) Invest(investor crypto.PublicKey, amount *uint256.Int, att *SaftAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if s.status.endedAt(now) {
		return phaseErrf("sale has ended")
	}
	if amount == nil || amount.IsZero() {
		return amountErrf("investment amount is zero")
	}
	if !new(uint256.Int).Mod(amount, s.cfg.MinimumInvestment).IsZero() {
		return amountErrf("amount %s is not a multiple of the minimum unit %s", amount, s.cfg.MinimumInvestment)
	}

	pos := s.arena.getOrCreate(investor)
	if pos.HasRefunded {
		return phaseErrf("investor already refunded")
	}

	digest, err := s.verifyAttestation(investor, att, ActionInvest)
	if err != nil {
		return err
	}

	cumulative := new(uint256.Int).Add(pos.InvestedCapital, amount)
	if err := s.variant.ValidateInvest(cumulative, att); err != nil {
		return err
	}

	// Effects before the capital pull
	prevInvested := pos.InvestedCapital
	prevTotal := s.status.TotalCapitalInvested
	pos.InvestedCapital = cumulative
	pos.InvestmentCeiling = att.InvestmentCeiling.Clone()
	pos.TokenAllocationRate = att.TokenAllocationRate
	s.arena.markSignatureUsed(investor, digest)
	s.status.TotalCapitalInvested = new(uint256.Int).Add(prevTotal, amount)

	if err := s.capital.Transfer(investor, s.self, amount); err != nil {
		pos.InvestedCapital = prevInvested
		s.status.TotalCapitalInvested = prevTotal
		delete(s.arena.usedSignatures, signatureKey(investor, digest))
		return fmt.Errorf("capital transfer: %w", err)
	}

	s.emit(now, EventCapitalInvested, map[string]string{
		"investor": investor.String(),
		"amount":   amount.String(),
	})
	return nil
}

// PlacedBid is a sealed bid held in custody alongside its investment.
type PlacedBid struct {
	Investor crypto.PublicKey  `json:"investor"`
	Bid      *crypto.SealedBid `json:"bid"`
	Time     time.Time         `json:"time"`
}

// PlaceSealedBid invests capital and stores the encrypted bid quantity.
// Only the sealed-bid variant accepts it.
func (s *Sale) PlaceSealedBid(investor crypto.PublicKey, amount *uint256.Int, bid *crypto.SealedBid, att *SaftAttestation) error {
	if !s.variant.AcceptsSealedBids() {
		return phaseErrf("%s sales do not accept sealed bids", s.variant.Name())
	}
	if bid == nil {
		return amountErrf("missing sealed bid")
	}

	if err := s.Invest(investor, amount, att); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	s.sealedBids = append(s.sealedBids, PlacedBid{Investor: investor, Bid: bid, Time: now})
	s.emit(now, EventSealedBidPlaced, map[string]string{
		"investor": investor.String(),
	})
	return nil
}

// SealedBids returns all bids held in custody.
func (s *Sale) SealedBids() []PlacedBid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlacedBid, len(s.sealedBids))
	copy(out, s.sealedBids)
	return out
}

// PublishBidDecryptionKey reveals the auction private key once the
// refund window has closed. From this point any party can open any bid
// and audit the off-chain settlement.
func (s *Sale) PublishBidDecryptionKey(caller crypto.PublicKey, key *ecdh.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if !s.variant.AcceptsSealedBids() {
		return phaseErrf("%s sales have no bid key", s.variant.Name())
	}
	if !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("only the platform publishes the bid key")
	}
	if !s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window still open")
	}
	if s.bidKey != nil {
		return phaseErrf("bid key already published")
	}
	if key == nil || !key.PublicKey().Equal(s.cfg.AuctionPubKey) {
		return authzErrf("key does not match the auction public key")
	}

	s.bidKey = key
	s.emit(now, EventBidKeyPublished, nil)
	return nil
}

// BidDecryptionKey returns the revealed auction key, or nil before
// publication.
func (s *Sale) BidDecryptionKey() *ecdh.PrivateKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bidKey
}

// VerifySealedBid opens a custodied bid against the published key pair,
// returning the revealed quantity. Callable by anyone for public audit.
func (s *Sale) VerifySealedBid(idx int) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bidKey == nil {
		return nil, phaseErrf("bid key not yet published")
	}
	if idx < 0 || idx >= len(s.sealedBids) {
		return nil, amountErrf("no bid at index %d", idx)
	}
	qty, err := crypto.VerifySealedBid(s.cfg.AuctionPubKey, s.bidKey, s.sealedBids[idx].Bid)
	if err != nil {
		return nil, authzErrf("bid verification failed: %v", err)
	}
	return qty, nil
}

// Refund returns an investor's full position while the refund window is
// open, zeroing the position and flagging it refunded.
func (s *Sale) Refund(investor crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window has closed")
	}

	pos, ok := s.arena.get(investor)
	if !ok {
		return amountErrf("no position for investor %s", investor)
	}
	if pos.HasRefunded {
		return phaseErrf("investor already refunded")
	}
	if pos.InvestedCapital.IsZero() {
		return amountErrf("nothing to refund")
	}

	amount := pos.InvestedCapital
	prevTotal := s.status.TotalCapitalInvested
	pos.InvestedCapital = uint256.NewInt(0)
	pos.HasRefunded = true
	s.status.TotalCapitalInvested = new(uint256.Int).Sub(prevTotal, amount)

	if err := s.capital.Transfer(s.self, investor, amount); err != nil {
		pos.InvestedCapital = amount
		pos.HasRefunded = false
		s.status.TotalCapitalInvested = prevTotal
		return fmt.Errorf("refund transfer: %w", err)
	}

	s.emit(now, EventCapitalRefunded, map[string]string{
		"investor": investor.String(),
		"amount":   amount.String(),
	})
	return nil
}

// EndSale closes the open period early. Either the project or the
// platform may call it; the refund and lockup boundaries are re-anchored
// to the actual end.
func (s *Sale) EndSale(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !caller.Equal(s.cfg.ProjectAdmin) && !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("only the project or the platform may end the sale")
	}
	if s.status.endedAt(now) {
		return phaseErrf("sale already ended")
	}

	s.status.Ended = true
	s.status.EndTime = now
	s.status.RefundEndTime = now.Add(s.cfg.RefundPeriod)
	s.status.LockupEndTime = s.status.RefundEndTime.Add(s.cfg.LockupPeriod)

	s.emit(now, EventSaleEnded, nil)
	return nil
}

// PublishCapitalRaised records the total capital the project accepted.
// Platform only; single write.
func (s *Sale) PublishCapitalRaised(caller crypto.PublicKey, raised *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if err := s.requireSettlementPhase(caller, now); err != nil {
		return err
	}
	if s.status.RaisedPublished {
		return phaseErrf("capital raised already published")
	}
	if raised == nil || raised.IsZero() {
		return amountErrf("raised amount is zero")
	}
	if raised.Gt(s.status.TotalCapitalInvested) {
		return amountErrf("raised %s exceeds invested %s", raised, s.status.TotalCapitalInvested)
	}

	s.status.TotalCapitalRaised = raised.Clone()
	s.status.RaisedPublished = true

	s.emit(now, EventCapitalRaisedPublished, map[string]string{
		"raised": raised.String(),
	})
	return nil
}

// PublishSaleResults records the distribution root and total token
// allocation computed off-chain. Platform only; single write.
func (s *Sale) PublishSaleResults(caller crypto.PublicKey, claimRoot crypto.Hash, tokensAllocated *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if err := s.requireSettlementPhase(caller, now); err != nil {
		return err
	}
	if s.status.ResultsPublished {
		return phaseErrf("results already published")
	}
	if tokensAllocated == nil || tokensAllocated.IsZero() {
		return amountErrf("token allocation is zero")
	}
	if claimRoot == (crypto.Hash{}) {
		return amountErrf("claim root is zero")
	}

	s.status.ClaimRoot = claimRoot
	s.status.TotalTokensAllocated = tokensAllocated.Clone()
	s.status.ResultsPublished = true

	s.emit(now, EventSaleResultsPublished, map[string]string{
		"tokens_allocated": tokensAllocated.String(),
	})
	return nil
}

// SetAcceptedCapital records the root committing to the per-investor
// accepted-capital set; the remainder of each position becomes
// investor-claimable excess. Platform only; single write.
func (s *Sale) SetAcceptedCapital(caller crypto.PublicKey, root crypto.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if err := s.requireSettlementPhase(caller, now); err != nil {
		return err
	}
	if s.status.HasAcceptedRoot {
		return phaseErrf("accepted capital already set")
	}
	if root == (crypto.Hash{}) {
		return amountErrf("accepted capital root is zero")
	}

	s.status.AcceptedCapitalRoot = root
	s.status.HasAcceptedRoot = true

	s.emit(now, EventAcceptedCapitalSet, nil)
	return nil
}

// requireSettlementPhase bundles the guards shared by the post-refund
// platform publications.
func (s *Sale) requireSettlementPhase(caller crypto.PublicKey, now time.Time) error {
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("platform only")
	}
	if !s.status.endedAt(now) {
		return phaseErrf("sale has not ended")
	}
	if !s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window still open")
	}
	return nil
}

// WithdrawRaisedCapital pays the published raise to the project, minus
// the platform and referrer fees. Project only; single withdrawal.
func (s *Sale) WithdrawRaisedCapital(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !caller.Equal(s.cfg.ProjectAdmin) {
		return accessErrf("only the project withdraws raised capital")
	}
	if !s.status.endedAt(now) {
		return phaseErrf("sale has not ended")
	}
	if !s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window still open")
	}
	if s.status.CapitalWithdrawn {
		return phaseErrf("raised capital already withdrawn")
	}
	if !s.status.RaisedPublished || s.status.TotalCapitalRaised.IsZero() {
		return phaseErrf("capital raised not yet published")
	}

	split, err := fee.Apply(s.status.TotalCapitalRaised, s.cfg.PlatformFeeCapitalBps, s.cfg.ReferrerFeeCapitalBps)
	if err != nil {
		return amountErrf("fee computation: %v", err)
	}

	prevWithdrawn := s.status.TotalCapitalWithdrawn
	s.status.CapitalWithdrawn = true
	s.status.TotalCapitalWithdrawn = new(uint256.Int).Add(prevWithdrawn, s.status.TotalCapitalRaised)

	if err := s.payoutSplit(split, s.cfg.ProjectAdmin); err != nil {
		s.status.CapitalWithdrawn = false
		s.status.TotalCapitalWithdrawn = prevWithdrawn
		return err
	}

	s.emit(now, EventRaisedCapitalWithdrawn, map[string]string{
		"net":          split.Net.String(),
		"platform_fee": split.PlatformFee.String(),
		"referrer_fee": split.ReferrerFee.String(),
	})
	return nil
}

// payoutSplit transfers a fee split from custody: net to the receiver,
// fees to their configured receivers. Zero fees are skipped entirely.
func (s *Sale) payoutSplit(split fee.Split, netReceiver crypto.PublicKey) error {
	if err := s.capital.Transfer(s.self, netReceiver, split.Net); err != nil {
		return fmt.Errorf("net transfer: %w", err)
	}
	if !split.PlatformFee.IsZero() {
		if err := s.capital.Transfer(s.self, s.cfg.PlatformFeeReceiver, split.PlatformFee); err != nil {
			return fmt.Errorf("platform fee transfer: %w", err)
		}
	}
	if !split.ReferrerFee.IsZero() {
		if err := s.capital.Transfer(s.self, s.cfg.ReferrerFeeReceiver, split.ReferrerFee); err != nil {
			return fmt.Errorf("referrer fee transfer: %w", err)
		}
	}
	return nil
}

// SupplyTokens pulls the project's token allocation plus token-side fees
// into custody and forwards the fees. Once supplied, cancellation is no
// longer reachable through the normal path.
func (s *Sale) SupplyTokens(caller crypto.PublicKey, saleToken token.Token, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !caller.Equal(s.cfg.ProjectAdmin) {
		return accessErrf("only the project supplies tokens")
	}
	if !s.status.ResultsPublished {
		return phaseErrf("results not yet published")
	}
	if s.status.TokensSupplied {
		return phaseErrf("tokens already supplied")
	}
	if saleToken == nil {
		return amountErrf("sale token is nil")
	}

	platformFee := tokenCut(s.status.TotalTokensAllocated, s.cfg.PlatformFeeTokensBps)
	referrerFee := tokenCut(s.status.TotalTokensAllocated, s.cfg.ReferrerFeeTokensBps)
	expected := new(uint256.Int).Add(s.status.TotalTokensAllocated, platformFee)
	expected.Add(expected, referrerFee)

	if amount == nil || !amount.Eq(expected) {
		return amountErrf("supplied %s does not match allocation plus fees %s", amount, expected)
	}

	if err := saleToken.Transfer(caller, s.self, amount); err != nil {
		return fmt.Errorf("token supply transfer: %w", err)
	}

	s.saleToken = saleToken
	s.status.TokensSupplied = true

	// Forward the token-side fees immediately. A failed leg unwinds the
	// supply entirely so the project can retry.
	if err := s.forwardTokenFees(saleToken, platformFee, referrerFee); err != nil {
		s.saleToken = nil
		s.status.TokensSupplied = false
		if rbErr := saleToken.Transfer(s.self, caller, amount); rbErr != nil {
			return fmt.Errorf("%v; returning supplied tokens also failed: %v", err, rbErr)
		}
		return err
	}

	s.emit(now, EventTokensSupplied, map[string]string{
		"amount":       amount.String(),
		"platform_fee": platformFee.String(),
		"referrer_fee": referrerFee.String(),
	})
	return nil
}

// forwardTokenFees pays the token-side fee receivers from custody. If
// the second leg fails, the first is pulled back so either both fees are
// paid or neither is.
func (s *Sale) forwardTokenFees(saleToken token.Token, platformFee, referrerFee *uint256.Int) error {
	if !platformFee.IsZero() {
		if err := saleToken.Transfer(s.self, s.cfg.PlatformFeeReceiver, platformFee); err != nil {
			return fmt.Errorf("platform token fee transfer: %w", err)
		}
	}
	if !referrerFee.IsZero() {
		if err := saleToken.Transfer(s.self, s.cfg.ReferrerFeeReceiver, referrerFee); err != nil {
			if !platformFee.IsZero() {
				if rbErr := saleToken.Transfer(s.cfg.PlatformFeeReceiver, s.self, platformFee); rbErr != nil {
					return fmt.Errorf("referrer token fee transfer: %v; unwinding platform fee also failed: %v", err, rbErr)
				}
			}
			return fmt.Errorf("referrer token fee transfer: %w", err)
		}
	}
	return nil
}

func tokenCut(amount *uint256.Int, bps uint64) *uint256.Int {
	v := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return v.Div(v, uint256.NewInt(fee.BpsDenominator))
}

// ClaimTokenAllocation settles an investor's claim proven against the
// published distribution root and hands the allocation to a freshly
// created vesting schedule.
func (s *Sale) ClaimTokenAllocation(investor crypto.PublicKey, amount *uint256.Int, proof merkle.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.claimGuards(investor, now); err != nil {
		return err
	}

	leaf := merkle.Leaf(investor, amount)
	if !merkle.VerifyProof(leaf, proof, s.status.ClaimRoot) {
		return authzErrf("claim proof fails against the published root")
	}

	return s.settleClaim(investor, amount, now)
}

// ClaimTokenAllocationWithSaft settles a claim authorized by a platform
// attestation rather than a distribution proof; the claimable amount is
// the variant's conversion of the position.
func (s *Sale) ClaimTokenAllocationWithSaft(investor crypto.PublicKey, att *SaftAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.claimGuards(investor, now); err != nil {
		return err
	}

	digest, err := s.verifyAttestation(investor, att, ActionClaim)
	if err != nil {
		return err
	}

	pos, _ := s.arena.get(investor)
	amount, err := s.variant.Claimable(pos)
	if err != nil {
		return err
	}

	s.arena.markSignatureUsed(investor, digest)
	if err := s.settleClaim(investor, amount, now); err != nil {
		delete(s.arena.usedSignatures, signatureKey(investor, digest))
		return err
	}
	return nil
}

func (s *Sale) claimGuards(investor crypto.PublicKey, now time.Time) error {
	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !s.status.ResultsPublished {
		return phaseErrf("results not yet published")
	}
	if !s.status.TokensSupplied || s.saleToken == nil {
		return phaseErrf("tokens not yet supplied")
	}
	if now.Before(s.status.LockupEndTime) {
		return phaseErrf("lockup period not over")
	}

	pos, ok := s.arena.get(investor)
	if !ok {
		return amountErrf("no position for investor %s", investor)
	}
	if pos.HasSettled {
		return phaseErrf("position already settled")
	}
	return nil
}

// settleClaim flips the settlement flag, materializes the vesting
// schedule and moves the full claimable allocation into it.
func (s *Sale) settleClaim(investor crypto.PublicKey, amount *uint256.Int, now time.Time) error {
	if amount == nil || amount.IsZero() {
		return amountErrf("claimable amount is zero")
	}

	pos, _ := s.arena.get(investor)

	params := s.cfg.Vesting
	if params.Start.IsZero() {
		params.Start = s.status.LockupEndTime
	}

	sched, err := s.vestingFactory.Create(investor, params)
	if err != nil {
		return fmt.Errorf("create vesting schedule: %w", err)
	}

	pos.HasSettled = true
	pos.Vesting = sched

	// Fund the books before the transfer; a failed leg abandons the
	// schedule and leaves the position claimable.
	if err := sched.Fund(amount); err != nil {
		pos.HasSettled = false
		pos.Vesting = nil
		return fmt.Errorf("fund vesting schedule: %w", err)
	}
	if err := s.saleToken.Transfer(s.self, sched.Custody(), amount); err != nil {
		pos.HasSettled = false
		pos.Vesting = nil
		return fmt.Errorf("vesting transfer: %w", err)
	}

	s.emit(now, EventAllocationClaimed, map[string]string{
		"investor": investor.String(),
		"amount":   amount.String(),
		"vesting":  sched.Custody().String(),
	})
	return nil
}

// ReleaseVestedTokens forwards a release call to the investor's vesting
// schedule.
func (s *Sale) ReleaseVestedTokens(investor crypto.PublicKey) (*uint256.Int, error) {
	s.mu.Lock()
	pos, ok := s.arena.get(investor)
	if !ok || pos.Vesting == nil {
		s.mu.Unlock()
		return nil, phaseErrf("no vesting schedule for investor %s", investor)
	}
	sched := pos.Vesting
	now := s.clock.Now()
	s.mu.Unlock()

	// The schedule is independently lifecycled and serializes itself.
	released, err := sched.Release(now)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.emit(now, EventVestedTokensReleased, map[string]string{
		"investor": investor.String(),
		"amount":   released.String(),
	})
	s.mu.Unlock()
	return released, nil
}

// WithdrawExcessInvestedCapital returns the portion of an investor's
// capital the project did not keep, proven against the accepted-capital
// root.
func (s *Sale) WithdrawExcessInvestedCapital(investor crypto.PublicKey, accepted *uint256.Int, proof merkle.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.excessGuards(investor, now); err != nil {
		return err
	}

	leaf := merkle.Leaf(investor, accepted)
	if !merkle.VerifyProof(leaf, proof, s.status.AcceptedCapitalRoot) {
		return authzErrf("accepted-capital proof fails against the published root")
	}

	return s.settleExcess(investor, accepted, now)
}

// WithdrawExcessInvestedCapitalWithSaft is the attestation-authorized
// excess withdrawal: the attested ceiling field carries the accepted
// amount.
func (s *Sale) WithdrawExcessInvestedCapitalWithSaft(investor crypto.PublicKey, att *SaftAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.excessGuards(investor, now); err != nil {
		return err
	}

	digest, err := s.verifyAttestation(investor, att, ActionWithdrawExcess)
	if err != nil {
		return err
	}

	s.arena.markSignatureUsed(investor, digest)
	if err := s.settleExcess(investor, att.InvestmentCeiling, now); err != nil {
		delete(s.arena.usedSignatures, signatureKey(investor, digest))
		return err
	}
	return nil
}

func (s *Sale) excessGuards(investor crypto.PublicKey, now time.Time) error {
	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window still open")
	}

	pos, ok := s.arena.get(investor)
	if !ok {
		return amountErrf("no position for investor %s", investor)
	}
	if pos.HasRefunded {
		return phaseErrf("investor already refunded")
	}
	if pos.HasClaimedExcess {
		return phaseErrf("excess already claimed")
	}
	return nil
}

func (s *Sale) settleExcess(investor crypto.PublicKey, accepted *uint256.Int, now time.Time) error {
	pos, _ := s.arena.get(investor)

	if accepted.Gt(pos.InvestedCapital) {
		return amountErrf("accepted %s exceeds invested %s", accepted, pos.InvestedCapital)
	}
	excess := new(uint256.Int).Sub(pos.InvestedCapital, accepted)
	if excess.IsZero() {
		return amountErrf("no excess capital to withdraw")
	}

	prevInvested := pos.InvestedCapital
	prevTotal := s.status.TotalCapitalInvested
	pos.InvestedCapital = accepted.Clone()
	pos.HasClaimedExcess = true
	s.status.TotalCapitalInvested = new(uint256.Int).Sub(prevTotal, excess)

	if err := s.capital.Transfer(s.self, investor, excess); err != nil {
		pos.InvestedCapital = prevInvested
		pos.HasClaimedExcess = false
		s.status.TotalCapitalInvested = prevTotal
		return fmt.Errorf("excess transfer: %w", err)
	}

	s.emit(now, EventExcessWithdrawn, map[string]string{
		"investor": investor.String(),
		"amount":   excess.String(),
	})
	return nil
}

// CancelSale is the project's orderly cancellation, reachable any time
// before results are irreversibly published. If raised capital was
// already withdrawn, the project returns it atomically here.
func (s *Sale) CancelSale(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale already canceled")
	}
	if !caller.Equal(s.cfg.ProjectAdmin) {
		return accessErrf("only the project cancels the sale")
	}
	if s.status.ResultsPublished {
		return phaseErrf("results already published")
	}
	if s.status.TokensSupplied {
		return phaseErrf("tokens already supplied")
	}

	// The capital return is a precondition of cancellation: it is pulled
	// first so isCanceled is never observable without the funds back.
	if s.status.CapitalWithdrawn {
		returned := s.status.TotalCapitalWithdrawn
		if err := s.capital.Transfer(s.cfg.ProjectAdmin, s.self, returned); err != nil {
			return fmt.Errorf("withdrawn capital return: %w", err)
		}
		s.status.TotalCapitalWithdrawn = uint256.NewInt(0)
		s.status.CapitalWithdrawn = false
	}

	s.status.Canceled = true

	s.emit(now, EventSaleCanceled, nil)
	return nil
}

// CancelExpiredSale is the trust-minimized escape hatch: once the lockup
// boundary passes without the project supplying tokens, anyone may tip
// the sale into the canceled state so investors can recover capital.
func (s *Sale) CancelExpiredSale(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale already canceled")
	}
	if s.status.TokensSupplied {
		return phaseErrf("tokens already supplied")
	}
	if now.Before(s.status.LockupEndTime) {
		return phaseErrf("lockup boundary not reached")
	}
	if s.status.CapitalWithdrawn {
		return phaseErrf("raised capital already withdrawn; the project must cancel and return it")
	}

	s.status.Canceled = true
	s.status.ExpiredCanceled = true

	s.emit(now, EventExpiredSaleCanceled, map[string]string{
		"caller": caller.String(),
	})
	return nil
}

// WithdrawInvestedCapitalIfCanceled pays out an investor's full
// remaining position after cancellation and zeroes it.
func (s *Sale) WithdrawInvestedCapitalIfCanceled(investor crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if !s.status.Canceled {
		return phaseErrf("sale is not canceled")
	}

	pos, ok := s.arena.get(investor)
	if !ok {
		return amountErrf("no position for investor %s", investor)
	}
	if pos.InvestedCapital.IsZero() {
		return amountErrf("nothing to withdraw")
	}

	amount := pos.InvestedCapital
	prevTotal := s.status.TotalCapitalInvested
	pos.InvestedCapital = uint256.NewInt(0)
	s.status.TotalCapitalInvested = new(uint256.Int).Sub(prevTotal, amount)

	if err := s.capital.Transfer(s.self, investor, amount); err != nil {
		pos.InvestedCapital = amount
		s.status.TotalCapitalInvested = prevTotal
		return fmt.Errorf("cancellation payout: %w", err)
	}

	s.emit(now, EventCanceledCapitalClaimed, map[string]string{
		"investor": investor.String(),
		"amount":   amount.String(),
	})
	return nil
}

// TransferPosition moves a position to a new holder, or merges it into
// the recipient's existing position. Gated to the window between the
// refund close and settlement; requires the platform bouncer or a
// platform transfer attestation for the source investor.
func (s *Sale) TransferPosition(caller, from, to crypto.PublicKey, att *SaftAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if s.status.Canceled {
		return phaseErrf("sale is canceled")
	}
	if !s.status.refundWindowClosedAt(now) {
		return phaseErrf("refund window still open")
	}

	src, ok := s.arena.get(from)
	if !ok {
		return amountErrf("no position for investor %s", from)
	}
	if src.HasSettled {
		return phaseErrf("position already settled")
	}
	if to.IsZero() {
		return amountErrf("recipient is zero")
	}

	switch {
	case caller.Equal(s.cfg.PlatformBouncer):
		// platform-authorized transfer
	case caller.Equal(from):
		digest, err := s.verifyAttestation(from, att, ActionTransfer)
		if err != nil {
			return err
		}
		s.arena.markSignatureUsed(from, digest)
	default:
		return accessErrf("transfer requires the platform or the position holder with an attestation")
	}

	if dst, ok := s.arena.get(to); ok {
		if dst.HasSettled {
			return phaseErrf("recipient position already settled")
		}
		// Merge: sum invested capital and cached attestation parameters
		// into the recipient, retiring the source id's index entry.
		dst.InvestedCapital = new(uint256.Int).Add(dst.InvestedCapital, src.InvestedCapital)
		dst.InvestmentCeiling = new(uint256.Int).Add(dst.InvestmentCeiling, src.InvestmentCeiling)
		if src.TokenAllocationRate > dst.TokenAllocationRate {
			dst.TokenAllocationRate = src.TokenAllocationRate
		}
		src.InvestedCapital = uint256.NewInt(0)
		delete(s.arena.byInvestor, from.String())
	} else {
		s.arena.reindex(src, to)
	}

	s.emit(now, EventPositionTransferred, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
	return nil
}

// EmergencyWithdraw moves any token out of custody to an arbitrary
// receiver, regardless of pause state or phase. Platform only; the
// designed-in last resort, audited purely through its event.
func (s *Sale) EmergencyWithdraw(caller crypto.PublicKey, tok token.Token, receiver crypto.PublicKey, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("platform only")
	}
	if tok == nil || receiver.IsZero() || amount == nil || amount.IsZero() {
		return amountErrf("invalid emergency withdrawal parameters")
	}

	if err := tok.Transfer(s.self, receiver, amount); err != nil {
		return fmt.Errorf("emergency transfer: %w", err)
	}

	s.emit(now, EventEmergencyWithdrawal, map[string]string{
		"receiver": receiver.String(),
		"amount":   amount.String(),
	})
	return nil
}

// AddressLookup resolves platform-controlled addresses by symbolic name.
// Implemented by the registry client.
type AddressLookup interface {
	Resolve(name string) (crypto.PublicKey, error)
}

// Symbolic names the engine syncs from the address registry.
const (
	RegistryBouncer     = "legion_bouncer"
	RegistrySigner      = "legion_signer"
	RegistryFeeReceiver = "legion_fee_receiver"
)

// SyncLegionAddresses copies the current platform bouncer, signer and
// fee receiver from the registry into the sale's own configuration.
// No implicit registry state is ever read mid-operation.
func (s *Sale) SyncLegionAddresses(caller crypto.PublicKey, lookup AddressLookup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	if err := s.requireUnpaused(); err != nil {
		return err
	}
	if !caller.Equal(s.cfg.ProjectAdmin) && !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("only the project or the platform syncs addresses")
	}

	bouncer, err := lookup.Resolve(RegistryBouncer)
	if err != nil {
		return fmt.Errorf("resolve bouncer: %w", err)
	}
	signer, err := lookup.Resolve(RegistrySigner)
	if err != nil {
		return fmt.Errorf("resolve signer: %w", err)
	}
	feeReceiver, err := lookup.Resolve(RegistryFeeReceiver)
	if err != nil {
		return fmt.Errorf("resolve fee receiver: %w", err)
	}
	if bouncer.IsZero() || signer.IsZero() || feeReceiver.IsZero() {
		return configErrf("registry returned a zero address")
	}

	s.cfg.PlatformBouncer = bouncer
	s.cfg.PlatformSigner = signer
	s.cfg.PlatformFeeReceiver = feeReceiver

	s.emit(now, EventAddressesSynced, map[string]string{
		"bouncer":      bouncer.String(),
		"signer":       signer.String(),
		"fee_receiver": feeReceiver.String(),
	})
	return nil
}

// Pause trips the circuit breaker, gating every mutating entry point
// except EmergencyWithdraw. Platform only.
func (s *Sale) Pause(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("platform only")
	}
	if s.paused.Swap(true) {
		return phaseErrf("already paused")
	}
	s.emit(s.clock.Now(), EventSalePaused, nil)
	return nil
}

// Unpause lifts the circuit breaker. Platform only.
func (s *Sale) Unpause(caller crypto.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !caller.Equal(s.cfg.PlatformBouncer) {
		return accessErrf("platform only")
	}
	if !s.paused.Swap(false) {
		return phaseErrf("not paused")
	}
	s.emit(s.clock.Now(), EventSaleUnpaused, nil)
	return nil
}
