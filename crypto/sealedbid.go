package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// SealedBid is an ECIES-encrypted bid quantity for the auction sale
// variant. The capital amount travels in the clear (custody must be
// verifiable at bid time); only the desired token quantity is sealed.
//
// Wire format: ephemeral pubkey (65 bytes) || nonce (12 bytes) ||
// ciphertext+tag.
type SealedBid struct {
	EphemeralPubKey []byte `json:"ephemeral_pub_key"` // P-256 uncompressed public key
	Nonce           []byte `json:"nonce"`             // AES-GCM nonce
	Ciphertext      []byte `json:"ciphertext"`        // Encrypted quantity+salt with auth tag
}

const (
	sealedPubKeyLen  = 65
	sealedNonceLen   = 12
	sealedPayloadLen = 64 // 32-byte quantity || 32-byte salt
)

// SealBid encrypts a bid quantity to the platform's auction public key.
// A fresh 32-byte salt is mixed into the plaintext so two bids for the
// same quantity never produce correlatable ciphertexts. The salt is
// returned so the bidder can keep it for their own records.
func SealBid(platformPubKey *ecdh.PublicKey, quantity *uint256.Int) (*SealedBid, [32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, salt, fmt.Errorf("generate salt: %w", err)
	}

	qty := quantity.Bytes32()
	plaintext := make([]byte, 0, sealedPayloadLen)
	plaintext = append(plaintext, qty[:]...)
	plaintext = append(plaintext, salt[:]...)

	// Generate ephemeral key pair
	ephemeralPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, salt, fmt.Errorf("generate ephemeral key: %w", err)
	}

	// Derive shared secret
	sharedSecret, err := ephemeralPriv.ECDH(platformPubKey)
	if err != nil {
		return nil, salt, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := newBidCipher(sharedSecret)
	if err != nil {
		return nil, salt, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, salt, fmt.Errorf("generate nonce: %w", err)
	}

	// Additional data binds the ciphertext to the ephemeral key
	ciphertext := gcm.Seal(nil, nonce, plaintext, ephemeralPriv.PublicKey().Bytes())

	return &SealedBid{
		EphemeralPubKey: ephemeralPriv.PublicKey().Bytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, salt, nil
}

// OpenBid decrypts a sealed bid with the platform's auction private key,
// returning the bid quantity and the bidder's salt. Once the platform
// publishes the key after the refund window closes, any party can open
// any bid and audit the off-chain settlement.
func OpenBid(platformPrivKey *ecdh.PrivateKey, bid *SealedBid) (*uint256.Int, [32]byte, error) {
	var salt [32]byte

	ephemeralPub, err := ecdh.P256().NewPublicKey(bid.EphemeralPubKey)
	if err != nil {
		return nil, salt, fmt.Errorf("parse ephemeral key: %w", err)
	}

	sharedSecret, err := platformPrivKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, salt, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := newBidCipher(sharedSecret)
	if err != nil {
		return nil, salt, err
	}

	if len(bid.Nonce) != gcm.NonceSize() {
		return nil, salt, errors.New("invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, bid.Nonce, bid.Ciphertext, bid.EphemeralPubKey)
	if err != nil {
		return nil, salt, fmt.Errorf("decrypt: %w", err)
	}

	if len(plaintext) != sealedPayloadLen {
		return nil, salt, errors.New("invalid bid payload length")
	}

	quantity := new(uint256.Int).SetBytes(plaintext[:32])
	copy(salt[:], plaintext[32:])
	return quantity, salt, nil
}

// VerifySealedBid checks that the published private key matches the
// public key bids were sealed under and that the bid opens cleanly.
// Returns the revealed quantity on success.
func VerifySealedBid(platformPubKey *ecdh.PublicKey, platformPrivKey *ecdh.PrivateKey, bid *SealedBid) (*uint256.Int, error) {
	if !platformPrivKey.PublicKey().Equal(platformPubKey) {
		return nil, errors.New("decryption key does not match auction public key")
	}
	quantity, _, err := OpenBid(platformPrivKey, bid)
	return quantity, err
}

// Bytes serializes a sealed bid for custody storage.
func (b *SealedBid) Bytes() []byte {
	result := make([]byte, 0, len(b.EphemeralPubKey)+len(b.Nonce)+len(b.Ciphertext))
	result = append(result, b.EphemeralPubKey...)
	result = append(result, b.Nonce...)
	result = append(result, b.Ciphertext...)
	return result
}

// ParseSealedBid deserializes a sealed bid.
func ParseSealedBid(data []byte) (*SealedBid, error) {
	minLen := sealedPubKeyLen + sealedNonceLen + 16 // 16 is minimum ciphertext (just auth tag)
	if len(data) < minLen {
		return nil, errors.New("sealed bid too short")
	}

	return &SealedBid{
		EphemeralPubKey: data[:sealedPubKeyLen],
		Nonce:           data[sealedPubKeyLen : sealedPubKeyLen+sealedNonceLen],
		Ciphertext:      data[sealedPubKeyLen+sealedNonceLen:],
	}, nil
}

func newBidCipher(sharedSecret []byte) (cipher.AEAD, error) {
	aesKey := deriveBidKey(sharedSecret)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

func deriveBidKey(sharedSecret []byte) []byte {
	// Key derivation using SHA3-256 with a domain separator
	key := make([]byte, 32)
	h := sha3.New256()
	h.Write([]byte("legion-sealed-bid-v1"))
	h.Write(sharedSecret)
	return h.Sum(key[:0])
}
