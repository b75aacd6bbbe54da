package sale

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Legion-Team/legion-go/crypto"
)

func newAuctionHarness(t *testing.T) (*saleHarness, *ecdh.PrivateKey) {
	t.Helper()

	auctionKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	h := newHarness(t, SealedBidAuction{}, func(cfg *Config) {
		cfg.AuctionPubKey = auctionKey.PublicKey()
	})
	return h, auctionKey
}

func (h *saleHarness) placeBid(t *testing.T, i int, amount, ceiling, quantity uint64) {
	t.Helper()

	bid, _, err := crypto.SealBid(h.cfg.AuctionPubKey, uint256.NewInt(quantity))
	require.NoError(t, err)

	att := h.att(h.investors[i], ActionInvest, ceiling, 0)
	require.NoError(t, h.s.PlaceSealedBid(h.investors[i], uint256.NewInt(amount), bid, att))
}

func TestAuctionRequiresConfiguredKey(t *testing.T) {
	_, err := New(Config{}, SealedBidAuction{}, Deps{})
	require.ErrorIs(t, err, ErrConfig)
}

func TestPlaceSealedBid(t *testing.T) {
	h, _ := newAuctionHarness(t)

	h.placeBid(t, 0, 10_000, 50_000, 777)

	bids := h.s.SealedBids()
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Investor.Equal(h.investors[0]))

	// The capital moved with the bid
	assert.Equal(t, uint64(10_000), h.s.Status().TotalCapitalInvested.Uint64())

	// The ciphertext reveals nothing before the key is published
	_, err := h.s.VerifySealedBid(0)
	require.ErrorIs(t, err, ErrPhase)
}

func TestPlaceSealedBidRejectedOnOtherVariants(t *testing.T) {
	h := newHarness(t, FixedPrice{})

	bid := &crypto.SealedBid{}
	att := h.att(h.investors[0], ActionInvest, 50_000, 5000)
	err := h.s.PlaceSealedBid(h.investors[0], uint256.NewInt(10_000), bid, att)
	require.ErrorIs(t, err, ErrPhase)
}

func TestPublishBidDecryptionKey(t *testing.T) {
	h, auctionKey := newAuctionHarness(t)
	h.placeBid(t, 0, 10_000, 50_000, 777)
	h.placeBid(t, 1, 20_000, 50_000, 1234)

	// Not while refunds are still possible
	err := h.s.PublishBidDecryptionKey(h.bouncer, auctionKey)
	require.ErrorIs(t, err, ErrPhase)

	h.pastRefundWindow()

	// Platform only, and the key must match the configured public key
	err = h.s.PublishBidDecryptionKey(h.project, auctionKey)
	require.ErrorIs(t, err, ErrAccess)

	wrongKey, err2 := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err2)
	err = h.s.PublishBidDecryptionKey(h.bouncer, wrongKey)
	require.ErrorIs(t, err, ErrAuthorization)

	require.NoError(t, h.s.PublishBidDecryptionKey(h.bouncer, auctionKey))
	err = h.s.PublishBidDecryptionKey(h.bouncer, auctionKey)
	require.ErrorIs(t, err, ErrPhase)

	// Every custodied bid is now publicly auditable
	qty, err := h.s.VerifySealedBid(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), qty.Uint64())

	qty, err = h.s.VerifySealedBid(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), qty.Uint64())

	_, err = h.s.VerifySealedBid(2)
	require.ErrorIs(t, err, ErrAmount)
}

func TestAuctionClaimsSettleViaResultsRoot(t *testing.T) {
	h, auctionKey := newAuctionHarness(t)
	alice := h.investors[0]
	h.placeBid(t, 0, 10_000, 50_000, 777)
	h.pastRefundWindow()

	require.NoError(t, h.s.PublishBidDecryptionKey(h.bouncer, auctionKey))

	claimRoot, proofs := buildDistribution(t, alloc(alice, 777))
	require.NoError(t, h.s.PublishSaleResults(h.bouncer, claimRoot, uint256.NewInt(777)))
	require.NoError(t, h.s.SupplyTokens(h.project, h.saleTok, uint256.NewInt(803)))
	h.clock.advance(h.cfg.LockupPeriod)

	// Attestation claims never settle an auction
	att := h.att(alice, ActionClaim, 50_000, 5000)
	err := h.s.ClaimTokenAllocationWithSaft(alice, att)
	require.ErrorIs(t, err, ErrAuthorization)

	require.NoError(t, h.s.ClaimTokenAllocation(alice, uint256.NewInt(777), proofs[0]))

	pos, err := h.s.InvestorPositionDetails(alice)
	require.NoError(t, err)
	assert.True(t, pos.HasSettled)
	assert.Equal(t, uint64(777), pos.Vesting.Total().Uint64())
}
