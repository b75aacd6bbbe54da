package crypto

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte sha3-256 digest.
type Hash [32]byte

// Sum256 hashes the concatenation of the given byte slices with sha3-256.
func Sum256(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// NewHashFromString parses a hex-encoded digest.
func NewHashFromString(data string) (Hash, error) {
	raw, err := hex.DecodeString(data)
	if err != nil {
		return Hash{}, err
	}
	if len(raw) != len(Hash{}) {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", len(Hash{}), len(raw))
	}
	var out Hash
	copy(out[:], raw)
	return out, nil
}

// Bytes returns the digest as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex representation.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON encodes the digest as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string digest.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewHashFromString(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
