// Package ledger applies deposits, withdrawals and transfers to account
// balances and keeps the append-only record of every movement.
package ledger

import (
	"context"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/shopspring/decimal"
)

// Accounts is the authoritative balance store. Balances change only through
// ApplyDelta.
type Accounts interface {
	Get(ctx context.Context, id int64) (domain.Account, error)
	// Lock takes exclusive locks on the given accounts in ascending id order
	// and keeps them until the unit of work ends. Ids that do not exist are
	// absent from the result.
	Lock(ctx context.Context, ids ...int64) (map[int64]domain.Account, error)
	// ApplyDelta adds delta to the balance, failing with
	// domain.ErrInsufficientFunds when the result would be negative.
	ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal) (domain.Account, error)
	Create(ctx context.Context, account *domain.Account) error
	Delete(ctx context.Context, id int64) error
}

// Records is the append-only transaction log.
type Records interface {
	Append(ctx context.Context, record *domain.Transaction) error
	AppendTransfer(ctx context.Context, effect *domain.TransferEffect) error
	Get(ctx context.Context, id int64) (domain.Transaction, error)
	// ListByAccount returns the account's records newest first.
	ListByAccount(ctx context.Context, accountId int64, filter domain.StatementFilter) ([]domain.Transaction, error)
}

type UnitOfWork interface {
	Accounts() Accounts
	Records() Records
}

// Store opens units of work. WithinTx commits when fn returns nil and rolls
// back every change otherwise, including when ctx is done before commit.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
	WithinReadTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}
