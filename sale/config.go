package sale

import (
	"crypto/ecdh"
	"time"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/fee"
	"github.com/Legion-Team/legion-go/vesting"
)

// Config is the immutable sale configuration, written once at
// initialization. The only fields that change afterwards are the
// platform-controlled addresses refreshed by SyncLegionAddresses.
type Config struct {
	// SaleID uniquely identifies this sale instance. It is bound into
	// every attestation digest so attestations cannot travel across
	// instances.
	SaleID string `json:"sale_id"`

	// ChainID identifies the network; bound into attestation digests.
	ChainID string `json:"chain_id"`

	// Phase durations. The open period starts at initialization; the
	// refund window opens when the sale ends; the lockup runs from the
	// refund window's close.
	OpenPeriod   time.Duration `json:"open_period"`
	RefundPeriod time.Duration `json:"refund_period"`
	LockupPeriod time.Duration `json:"lockup_period"`

	// Fee rates in basis points, on capital raised and on tokens sold.
	PlatformFeeCapitalBps uint64 `json:"platform_fee_capital_bps"`
	ReferrerFeeCapitalBps uint64 `json:"referrer_fee_capital_bps"`
	PlatformFeeTokensBps  uint64 `json:"platform_fee_tokens_bps"`
	ReferrerFeeTokensBps  uint64 `json:"referrer_fee_tokens_bps"`

	// MinimumInvestment is the smallest investable unit; every invested
	// amount must be a non-zero multiple of it.
	MinimumInvestment *uint256.Int `json:"minimum_investment"`

	// Party identities.
	ProjectAdmin        crypto.PublicKey `json:"project_admin"`
	PlatformBouncer     crypto.PublicKey `json:"platform_bouncer"`
	PlatformSigner      crypto.PublicKey `json:"platform_signer"`
	PlatformFeeReceiver crypto.PublicKey `json:"platform_fee_receiver"`
	ReferrerFeeReceiver crypto.PublicKey `json:"referrer_fee_receiver"`

	// Vesting is the release shape handed to the vesting factory at
	// claim time. A zero Start resolves to the lockup end.
	Vesting vesting.Params `json:"vesting"`

	// AuctionPubKey is the key sealed bids are encrypted under.
	// Required for the sealed-bid variant, nil otherwise.
	AuctionPubKey *ecdh.PublicKey `json:"-"`
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate(acceptsSealedBids bool) error {
	if c.SaleID == "" {
		return configErrf("sale id is empty")
	}
	if c.ChainID == "" {
		return configErrf("chain id is empty")
	}
	if c.OpenPeriod <= 0 || c.RefundPeriod <= 0 || c.LockupPeriod < 0 {
		return configErrf("period lengths out of range")
	}
	if c.MinimumInvestment == nil || c.MinimumInvestment.IsZero() {
		return configErrf("minimum investment must be non-zero")
	}
	if c.PlatformFeeCapitalBps+c.ReferrerFeeCapitalBps > fee.BpsDenominator {
		return configErrf("capital fee rates exceed %d bps", fee.BpsDenominator)
	}
	if c.PlatformFeeTokensBps+c.ReferrerFeeTokensBps > fee.BpsDenominator {
		return configErrf("token fee rates exceed %d bps", fee.BpsDenominator)
	}
	for name, key := range map[string]crypto.PublicKey{
		"project admin":         c.ProjectAdmin,
		"platform bouncer":      c.PlatformBouncer,
		"platform signer":       c.PlatformSigner,
		"platform fee receiver": c.PlatformFeeReceiver,
		"referrer fee receiver": c.ReferrerFeeReceiver,
	} {
		if key.IsZero() {
			return configErrf("%s address is zero", name)
		}
	}
	if err := c.Vesting.Validate(); err != nil {
		return configErrf("vesting: %v", err)
	}
	if acceptsSealedBids && c.AuctionPubKey == nil {
		return configErrf("sealed-bid variant requires an auction public key")
	}
	return nil
}
