// Package common provides shared utilities for the Legion CLI commands.
//
// This package contains helper functions used across the standalone
// service binaries (saled, registry) to reduce code duplication:
//
//   - Key loading and generation for Ed25519 signing keys and the ECDH
//     auction key
//   - Sale configuration loading from JSON files
//   - Structured logger setup
package common

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/sale"
)

// NewLogger builds the structured logger the binaries share. Debug
// verbosity is opt-in.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex
// string, or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadOrGenerateAuctionKey loads an ECDH P-256 private key from a hex
// string, or generates a new key if hexKey is empty. Sealed bids are
// encrypted to this key's public half.
func LoadOrGenerateAuctionKey(hexKey string) (*ecdh.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return ecdh.P256().NewPrivateKey(keyBytes)
	}
	return ecdh.P256().GenerateKey(rand.Reader)
}

// LoadSaleConfig reads a sale configuration from a JSON file. The
// auction key is carried separately and attached by the caller.
func LoadSaleConfig(path string) (*sale.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sale config: %w", err)
	}
	var cfg sale.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding sale config: %w", err)
	}
	return &cfg, nil
}

// VariantByName maps a configuration string onto a sale variant.
func VariantByName(name string) (sale.Variant, error) {
	switch name {
	case "fixed_price":
		return sale.FixedPrice{}, nil
	case "sealed_bid_auction":
		return sale.SealedBidAuction{}, nil
	case "pre_liquid":
		return sale.PreLiquid{}, nil
	}
	return nil, fmt.Errorf("unknown sale variant %q", name)
}
