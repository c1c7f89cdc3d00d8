// Package ledger owns credit account balances. Every balance mutation
// in the system flows through it: CheckAndDeduct for spends, Credit for
// refunds and compensation. The guarantee is a serializable
// read-modify-write per account: under concurrent callers the balance
// never goes below zero and no update is lost.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/store"
)

// Ledger performs atomic balance operations against the store.
type Ledger struct {
	store  *store.Store
	logger *log.Logger
}

// New creates a ledger over the given store.
func New(st *store.Store, logger *log.Logger) *Ledger {
	return &Ledger{store: st, logger: logger}
}

// CheckAndDeduct atomically verifies and deducts amount from the
// account. Returns the new balance, or InsufficientCreditsError with
// the required and available amounts, in which case nothing was
// mutated. The deduction runs in its own IMMEDIATE transaction.
func (l *Ledger) CheckAndDeduct(ctx context.Context, accountID string, amount int64) (int64, error) {
	var newBalance int64
	err := l.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		balance, err := l.DeductConn(conn, accountID, amount)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DeductConn performs the check-and-deduct on a caller-held connection
// so the deduction can share a transaction with message persistence.
// The guarded UPDATE is the single serialization point: it only applies
// while balance >= amount, so concurrent spenders cannot overdraw.
func (l *Ledger) DeductConn(conn *sqlite.Conn, accountID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: negative deduction %d for %s", amount, accountID)
	}

	err := sqlitex.Execute(conn,
		`UPDATE accounts SET balance = balance - ? WHERE id = ? AND balance >= ?`,
		&sqlitex.ExecOptions{Args: []any{amount, accountID, amount}})
	if err != nil {
		return 0, &fault.TransactionError{Op: "ledger.deduct", Err: err}
	}

	if conn.Changes() == 0 {
		available, err := l.balanceConn(conn, accountID)
		if err != nil {
			return 0, err
		}
		return 0, &fault.InsufficientCreditsError{
			AccountID: accountID,
			Required:  amount,
			Available: available,
		}
	}

	newBalance, err := l.balanceConn(conn, accountID)
	if err != nil {
		return 0, err
	}
	l.logger.Printf("%s INFO ledger: deducted account=%s amount=%d balance=%d",
		time.Now().UTC().Format(time.RFC3339), accountID, amount, newBalance)
	return newBalance, nil
}

// Credit adds amount to the account balance. Used by the refund path
// and by compensation when a post-deduction step fails outside the
// shared transaction.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("ledger: negative credit %d for %s", amount, accountID)
	}

	var newBalance int64
	err := l.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE accounts SET balance = balance + ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{amount, accountID}})
		if err != nil {
			return &fault.TransactionError{Op: "ledger.credit", Err: err}
		}
		if conn.Changes() == 0 {
			return &fault.UserNotFoundError{UserID: accountID}
		}
		balance, err := l.balanceConn(conn, accountID)
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Balance reads the current balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	conn, err := l.store.Take(ctx)
	if err != nil {
		return 0, &fault.TransactionError{Op: "ledger.balance", Err: err}
	}
	defer l.store.Put(conn)
	return l.balanceConn(conn, accountID)
}

func (l *Ledger) balanceConn(conn *sqlite.Conn, accountID string) (int64, error) {
	found := false
	var balance int64
	err := sqlitex.Execute(conn,
		`SELECT balance FROM accounts WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{accountID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				balance = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, &fault.TransactionError{Op: "ledger.balance", Err: err}
	}
	if !found {
		return 0, &fault.UserNotFoundError{UserID: accountID}
	}
	return balance, nil
}
