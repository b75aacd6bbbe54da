package testutil

import (
	"crypto/rand"
	"time"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/merkle"
	"github.com/Legion-Team/legion-go/sale"
	"github.com/Legion-Team/legion-go/token"
	"github.com/Legion-Team/legion-go/vesting"
)

// =====================================
// Clock
// =====================================

// ManualClock is a hand-advanced time source for deterministic phase
// transitions in tests.
type ManualClock struct {
	now time.Time
}

// NewManualClock starts a manual clock at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set jumps the clock to the given instant.
func (c *ManualClock) Set(t time.Time) {
	c.now = t
}

// =====================================
// Crypto Generators
// =====================================

// GenerateRandomBytes generates a slice of random bytes with the specified length
func GenerateRandomBytes(length int) ([]byte, error) {
	bytes := make([]byte, length)
	_, err := rand.Read(bytes)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// GenerateTestKeyPair generates a test key pair for testing
func GenerateTestKeyPair() (crypto.PublicKey, crypto.PrivateKey, error) {
	return crypto.GenerateKeyPair()
}

// GenerateTestPublicKeys generates a slice of public keys for testing
func GenerateTestPublicKeys(count int) ([]crypto.PublicKey, error) {
	keys := make([]crypto.PublicKey, count)
	for i := 0; i < count; i++ {
		pubKey, _, err := GenerateTestKeyPair()
		if err != nil {
			return nil, err
		}
		keys[i] = pubKey
	}
	return keys, nil
}

// =====================================
// Configuration Generators
// =====================================

// TestConfigOption is a function that modifies a sale.Config
type TestConfigOption func(*sale.Config)

// WithOpenPeriod sets the open period
func WithOpenPeriod(d time.Duration) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.OpenPeriod = d
	}
}

// WithRefundPeriod sets the refund window length
func WithRefundPeriod(d time.Duration) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.RefundPeriod = d
	}
}

// WithLockupPeriod sets the lockup period
func WithLockupPeriod(d time.Duration) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.LockupPeriod = d
	}
}

// WithCapitalFees sets the capital-side platform and referrer fee rates
func WithCapitalFees(platformBps, referrerBps uint64) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.PlatformFeeCapitalBps = platformBps
		cfg.ReferrerFeeCapitalBps = referrerBps
	}
}

// WithTokenFees sets the token-side platform and referrer fee rates
func WithTokenFees(platformBps, referrerBps uint64) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.PlatformFeeTokensBps = platformBps
		cfg.ReferrerFeeTokensBps = referrerBps
	}
}

// WithMinimumInvestment sets the investment unit amount
func WithMinimumInvestment(amount uint64) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.MinimumInvestment = uint256.NewInt(amount)
	}
}

// WithVesting sets the vesting parameters
func WithVesting(params vesting.Params) TestConfigOption {
	return func(cfg *sale.Config) {
		cfg.Vesting = params
	}
}

// TestParties holds the generated platform and project identities of a
// test configuration alongside their signing keys.
type TestParties struct {
	ProjectAdmin    crypto.PublicKey
	ProjectAdminKey crypto.PrivateKey

	PlatformBouncer    crypto.PublicKey
	PlatformBouncerKey crypto.PrivateKey

	PlatformSigner    crypto.PublicKey
	PlatformSignerKey crypto.PrivateKey

	PlatformFeeReceiver crypto.PublicKey
	ReferrerFeeReceiver crypto.PublicKey
}

// GenerateTestParties generates fresh identities for every sale party.
func GenerateTestParties() *TestParties {
	p := &TestParties{}
	p.ProjectAdmin, p.ProjectAdminKey, _ = crypto.GenerateKeyPair()
	p.PlatformBouncer, p.PlatformBouncerKey, _ = crypto.GenerateKeyPair()
	p.PlatformSigner, p.PlatformSignerKey, _ = crypto.GenerateKeyPair()
	p.PlatformFeeReceiver, _, _ = crypto.GenerateKeyPair()
	p.ReferrerFeeReceiver, _, _ = crypto.GenerateKeyPair()
	return p
}

// NewTestConfig creates a sale configuration with default values that
// can be customized using options.
func NewTestConfig(parties *TestParties, options ...TestConfigOption) sale.Config {
	cfg := sale.Config{
		SaleID:  "test-sale",
		ChainID: "test-chain",

		OpenPeriod:   time.Hour,
		RefundPeriod: time.Hour,
		LockupPeriod: time.Hour,

		PlatformFeeCapitalBps: 250,
		ReferrerFeeCapitalBps: 100,
		PlatformFeeTokensBps:  250,
		ReferrerFeeTokensBps:  100,

		MinimumInvestment: uint256.NewInt(100),

		ProjectAdmin:        parties.ProjectAdmin,
		PlatformBouncer:     parties.PlatformBouncer,
		PlatformSigner:      parties.PlatformSigner,
		PlatformFeeReceiver: parties.PlatformFeeReceiver,
		ReferrerFeeReceiver: parties.ReferrerFeeReceiver,

		Vesting: vesting.Params{
			Duration: 4 * time.Hour,
		},
	}

	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// =====================================
// Attestation Generators
// =====================================

// AttestationOption is a function that modifies a SaftAttestation before
// it is signed.
type AttestationOption func(*sale.SaftAttestation)

// WithCeiling sets the attested investment ceiling
func WithCeiling(amount uint64) AttestationOption {
	return func(att *sale.SaftAttestation) {
		att.InvestmentCeiling = uint256.NewInt(amount)
	}
}

// WithAllocationRate sets the attested token allocation rate
func WithAllocationRate(rate uint64) AttestationOption {
	return func(att *sale.SaftAttestation) {
		att.TokenAllocationRate = rate
	}
}

// SignTestAttestation builds and signs an attestation for an investor
// against the given configuration.
func SignTestAttestation(signerKey crypto.PrivateKey, cfg sale.Config, investor crypto.PublicKey, action sale.SaftAction, options ...AttestationOption) *sale.SaftAttestation {
	att := sale.SaftAttestation{
		Investor:            investor,
		SaleID:              cfg.SaleID,
		ChainID:             cfg.ChainID,
		InvestmentCeiling:   uint256.NewInt(1_000_000),
		TokenAllocationRate: 5000,
		Action:              action,
	}
	for _, option := range options {
		option(&att)
	}
	signed, err := sale.SignSaft(signerKey, att)
	if err != nil {
		panic(err)
	}
	return signed
}

// =====================================
// Token Helpers
// =====================================

// NewFundedLedger creates an in-memory token ledger with each holder
// minted the given balance.
func NewFundedLedger(symbol string, balance uint64, holders ...crypto.PublicKey) *token.Ledger {
	ledger := token.NewLedger(symbol)
	for _, h := range holders {
		if err := ledger.Mint(h, uint256.NewInt(balance)); err != nil {
			panic(err)
		}
	}
	return ledger
}

// =====================================
// Distribution Helpers
// =====================================

// Allocation is one investor's share in a test distribution.
type Allocation struct {
	Investor crypto.PublicKey
	Amount   *uint256.Int
}

// BuildTestDistribution mirrors the off-chain backend: it builds the
// merkle tree over the allocations and returns the root with a proof
// per investor, keyed by investor identity.
func BuildTestDistribution(allocs []Allocation) (crypto.Hash, map[string]merkle.Proof) {
	entries := make([]merkle.Entry, len(allocs))
	for i, a := range allocs {
		entries[i] = merkle.Entry{Investor: a.Investor, Amount: a.Amount}
	}
	tree := merkle.BuildTree(entries)

	proofs := make(map[string]merkle.Proof, len(allocs))
	for i, a := range allocs {
		proofs[a.Investor.String()] = tree.ProofFor(i)
	}
	return tree.Root(), proofs
}
