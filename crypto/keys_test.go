package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("invest 1000 units")
	sig, err := Sign(priv, msg)
	require.NoError(t, err)

	assert.True(t, sig.Verify(pub, msg))
	assert.False(t, sig.Verify(pub, []byte("invest 1001 units")))

	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, sig.Verify(otherPub, msg))
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	parsed, err := NewPublicKeyFromString(pub.String())
	require.NoError(t, err)
	assert.True(t, pub.Equal(parsed))

	derived, err := priv.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(derived))

	assert.False(t, pub.IsZero())
	assert.True(t, PublicKey{}.IsZero())
}

func TestSignRejectsShortKey(t *testing.T) {
	_, err := Sign(PrivateKey([]byte("short")), []byte("msg"))
	assert.Error(t, err)
}

func TestSum256Deterministic(t *testing.T) {
	a := Sum256([]byte("legion"), []byte("sale"))
	b := Sum256([]byte("legion"), []byte("sale"))
	c := Sum256([]byte("legionsale"))

	assert.Equal(t, a, b)
	// Concatenation boundary does not matter for the digest itself
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, Sum256([]byte("legion")))
}

func TestVerifySealedBidKeyMismatch(t *testing.T) {
	privKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)

	sealed, _, err := SealBid(privKey.PublicKey(), uint256.NewInt(42))
	require.NoError(t, err)

	qty, err := VerifySealedBid(privKey.PublicKey(), privKey, sealed)
	require.NoError(t, err)
	assert.True(t, qty.Eq(uint256.NewInt(42)))

	_, err = VerifySealedBid(privKey.PublicKey(), otherKey, sealed)
	assert.Error(t, err)
}
