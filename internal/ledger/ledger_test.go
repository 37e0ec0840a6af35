package ledger

import (
	"errors"
	"math/big"
	"testing"
)

func TestCreditThenBalanceRoundTrips(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	bal, err := book.Balance("USDX", "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("balance = %s, want 1000", bal)
	}
}

func TestCreditRejectsNegativeAmount(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(-1)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestTransferMovesBalanceBetweenAccounts(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := book.Transfer("USDX", "alice", "bob", big.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	aliceBal, _ := book.Balance("USDX", "alice")
	bobBal, _ := book.Balance("USDX", "bob")
	if aliceBal.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance = %s, want 600", aliceBal)
	}
	if bobBal.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("bob balance = %s, want 400", bobBal)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := book.Transfer("USDX", "alice", "bob", big.NewInt(200)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// A failed transfer must leave both balances untouched.
	aliceBal, _ := book.Balance("USDX", "alice")
	if aliceBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice balance = %s, want unchanged 100", aliceBal)
	}
}

func TestTransferRejectsZeroOrNilAmount(t *testing.T) {
	book := New()
	if err := book.Transfer("USDX", "alice", "bob", big.NewInt(0)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if err := book.Transfer("USDX", "alice", "bob", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil amount, got %v", err)
	}
}

func TestBalancesAreIsolatedPerAsset(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(500)); err != nil {
		t.Fatalf("credit USDX: %v", err)
	}
	if err := book.Credit("COLL", "alice", big.NewInt(300)); err != nil {
		t.Fatalf("credit COLL: %v", err)
	}
	usdxBal, _ := book.Balance("USDX", "alice")
	collBal, _ := book.Balance("COLL", "alice")
	if usdxBal.Cmp(big.NewInt(500)) != 0 || collBal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("cross-asset contamination: USDX=%s COLL=%s", usdxBal, collBal)
	}
}

func TestBalanceOfUnknownAccountIsZero(t *testing.T) {
	book := New()
	bal, err := book.Balance("USDX", "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", bal)
	}
}

func TestBalanceReturnsDefensiveCopy(t *testing.T) {
	book := New()
	if err := book.Credit("USDX", "alice", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	bal, err := book.Balance("USDX", "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	bal.Add(bal, big.NewInt(1_000_000))

	again, err := book.Balance("USDX", "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if again.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("mutating the returned balance leaked into the book: %s", again)
	}
}
