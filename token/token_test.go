package token

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Legion-Team/legion-go/crypto"
)

func newHolder(t *testing.T) crypto.PublicKey {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pub
}

func TestLedger_MintAndTransfer(t *testing.T) {
	ledger := NewLedger("USDC")
	alice := newHolder(t)
	bob := newHolder(t)

	require.NoError(t, ledger.Mint(alice, uint256.NewInt(1_000)))
	require.NoError(t, ledger.Transfer(alice, bob, uint256.NewInt(400)))

	assert.Equal(t, uint256.NewInt(600), ledger.BalanceOf(alice))
	assert.Equal(t, uint256.NewInt(400), ledger.BalanceOf(bob))
	assert.Equal(t, uint256.NewInt(1_000), ledger.TotalSupply())
}

func TestLedger_TransferGuards(t *testing.T) {
	ledger := NewLedger("USDC")
	alice := newHolder(t)
	bob := newHolder(t)

	require.NoError(t, ledger.Mint(alice, uint256.NewInt(100)))

	err := ledger.Transfer(alice, bob, uint256.NewInt(101))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint256.NewInt(100), ledger.BalanceOf(alice))

	err = ledger.Transfer(crypto.PublicKey{}, bob, uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrZeroIdentity)
}

func TestLedger_ZeroTransferIsNoop(t *testing.T) {
	ledger := NewLedger("USDC")
	alice := newHolder(t)
	bob := newHolder(t)

	require.NoError(t, ledger.Transfer(alice, bob, uint256.NewInt(0)))
	assert.True(t, ledger.BalanceOf(bob).IsZero())
}

func TestLedger_Conservation(t *testing.T) {
	ledger := NewLedger("USDC")
	holders := make([]crypto.PublicKey, 5)
	for i := range holders {
		holders[i] = newHolder(t)
		require.NoError(t, ledger.Mint(holders[i], uint256.NewInt(uint64(100*(i+1)))))
	}

	require.NoError(t, ledger.Transfer(holders[0], holders[4], uint256.NewInt(50)))
	require.NoError(t, ledger.Transfer(holders[3], holders[1], uint256.NewInt(399)))

	sum := uint256.NewInt(0)
	for _, h := range holders {
		sum.Add(sum, ledger.BalanceOf(h))
	}
	assert.Equal(t, ledger.TotalSupply(), sum)
}
