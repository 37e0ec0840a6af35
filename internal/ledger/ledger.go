// Package ledger implements an in-process token custody book: the host
// ledger collaborator the pool transfers against (spec.md §6 TokenLedger).
// A production deployment wires the pool to whatever settlement layer holds
// real balances; this package is the reference implementation used by tests
// and the standalone daemon.
package ledger

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInvalidArgument     = errors.New("ledger: invalid argument")
)

type accountKey struct {
	Asset string
	Who   string
}

// Book is a mutex-guarded map of (asset, identity) to balance, mirroring the
// teacher's Account.BalanceNHB / BalanceZNHB pattern generalized to an
// arbitrary asset symbol.
type Book struct {
	mu       sync.Mutex
	balances map[accountKey]*big.Int
}

// New returns an empty Book.
func New() *Book {
	return &Book{balances: make(map[accountKey]*big.Int)}
}

func (b *Book) balanceOf(key accountKey) *big.Int {
	bal, ok := b.balances[key]
	if !ok {
		return big.NewInt(0)
	}
	return bal
}

// Credit increases who's balance of asset by amount, for seeding test
// fixtures and for external deposits outside the pool's own transfers.
func (b *Book) Credit(asset, who string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := accountKey{Asset: asset, Who: who}
	b.balances[key] = new(big.Int).Add(b.balanceOf(key), amount)
	return nil
}

// Transfer moves amount of asset from from to to. It implements
// pool.TokenLedger: a non-nil error leaves both balances unchanged.
func (b *Book) Transfer(asset, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fromKey := accountKey{Asset: asset, Who: from}
	toKey := accountKey{Asset: asset, Who: to}

	fromBalance := b.balanceOf(fromKey)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	b.balances[fromKey] = new(big.Int).Sub(fromBalance, amount)
	b.balances[toKey] = new(big.Int).Add(b.balanceOf(toKey), amount)
	return nil
}

// Balance returns who's current balance of asset. It implements
// pool.TokenLedger.
func (b *Book) Balance(asset, who string) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceOf(accountKey{Asset: asset, Who: who})), nil
}
