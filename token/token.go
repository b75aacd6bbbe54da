// Package token defines the transfer capability the sale engine uses to
// custody investor capital and distribute sale tokens. The engine only
// ever moves balances between identities; issuance and external transfer
// plumbing live with the token itself.
package token

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Legion-Team/legion-go/crypto"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrZeroIdentity is returned when a transfer names an unset party.
	ErrZeroIdentity = errors.New("zero identity")
)

// Token is the transfer capability consumed by the sale engine. The sale
// holds custody under its own instance identity; every operation that
// moves funds goes through exactly one Transfer per leg.
type Token interface {
	// Transfer moves amount from one holder to another. It either fully
	// applies or returns an error with no effect.
	Transfer(from, to crypto.PublicKey, amount *uint256.Int) error

	// BalanceOf returns the holder's current balance.
	BalanceOf(holder crypto.PublicKey) *uint256.Int
}

// Ledger is an in-memory Token with issuance, used by tests and the demo
// service. Conservation holds: the sum of balances equals total supply.
type Ledger struct {
	symbol string

	mu          sync.Mutex
	balances    map[string]*uint256.Int
	totalSupply *uint256.Int
}

// NewLedger creates an empty in-memory token ledger.
func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:      symbol,
		balances:    make(map[string]*uint256.Int),
		totalSupply: uint256.NewInt(0),
	}
}

// Symbol returns the token's display symbol.
func (l *Ledger) Symbol() string {
	return l.symbol
}

// Mint issues amount to the holder, growing total supply.
func (l *Ledger) Mint(holder crypto.PublicKey, amount *uint256.Int) error {
	if holder.IsZero() {
		return ErrZeroIdentity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(holder, amount)
	l.totalSupply = new(uint256.Int).Add(l.totalSupply, amount)
	return nil
}

// Transfer moves amount between holders; no-op transfers of zero succeed.
func (l *Ledger) Transfer(from, to crypto.PublicKey, amount *uint256.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroIdentity
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balanceLocked(from)
	if balance.Lt(amount) {
		return ErrInsufficientBalance
	}

	l.balances[from.String()] = new(uint256.Int).Sub(balance, amount)
	l.credit(to, amount)
	return nil
}

// BalanceOf returns the holder's balance; unknown holders have zero.
func (l *Ledger) BalanceOf(holder crypto.PublicKey) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(holder).Clone()
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply.Clone()
}

func (l *Ledger) balanceLocked(holder crypto.PublicKey) *uint256.Int {
	if b, ok := l.balances[holder.String()]; ok {
		return b
	}
	return uint256.NewInt(0)
}

func (l *Ledger) credit(holder crypto.PublicKey, amount *uint256.Int) {
	l.balances[holder.String()] = new(uint256.Int).Add(l.balanceLocked(holder), amount)
}
