// Package wire provides the signed JSON envelope used on every
// authenticated HTTP surface: sale operations, registry updates and the
// off-chain backend's publications all travel as Signed[T].
package wire

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/Legion-Team/legion-go/crypto"
)

// Signed provides authentication for API messages.
// Security: Uses Ed25519 signatures. Assumes private keys are secure.
// Note: Signature covers serialized object + public key to prevent substitution.
type Signed[T any] struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Signature crypto.Signature `json:"signature"`
	Object    *T               `json:"object"`
}

// NewSigned creates a signed message.
func NewSigned[T any](privkey crypto.PrivateKey, obj *T) (*Signed[T], error) {
	pubkey, err := privkey.PublicKey()
	if err != nil {
		return nil, err
	}

	serialized, err := Serialize(obj)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(privkey, append(serialized, pubkey...))
	if err != nil {
		return nil, err
	}

	return &Signed[T]{
		PublicKey: pubkey,
		Signature: signature,
		Object:    obj,
	}, nil
}

// UnsafeObject returns the object without signature verification.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the object and signer's
// public key.
func (s *Signed[T]) Recover() (*T, crypto.PublicKey, error) {
	if s.Object == nil {
		return nil, nil, errors.New("empty object")
	}

	serialized, err := Serialize(s.Object)
	if err != nil {
		return nil, nil, err
	}

	if !s.Signature.Verify(s.PublicKey, append(serialized, s.PublicKey...)) {
		return nil, nil, errors.New("signature not valid")
	}

	return s.Object, s.PublicKey, nil
}

// Serialize serializes a message to JSON bytes.
func Serialize[T any](msg *T) ([]byte, error) {
	return json.Marshal(msg)
}

// Unmarshal deserializes a message from JSON bytes.
func Unmarshal[T any](data []byte) (*T, error) {
	var msg T
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// Decode deserializes a message from a JSON reader.
func Decode[T any](reader io.Reader) (*T, error) {
	var msg T
	err := json.NewDecoder(reader).Decode(&msg)
	return &msg, err
}
