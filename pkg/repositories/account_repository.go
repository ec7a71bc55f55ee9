package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const accountColumns = "id, number, branch, user_id, balance::text, created_at"

type AccountRepository struct {
	tx pgx.Tx
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		account   domain.Account
		balance   string
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&account.Id, &account.Number, &account.Branch, &account.UserId, &balance, &createdAt); err != nil {
		return account, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return account, fmt.Errorf("decoding balance of account %d: %w", account.Id, err)
	}
	account.Balance = b
	account.CreatedAt = createdAt.Time
	return account, nil
}

func (r *AccountRepository) Get(ctx context.Context, id int64) (domain.Account, error) {
	row := r.tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1;", id)
	account, err := scanAccount(row)

	if errors.Is(err, pgx.ErrNoRows) {
		return account, fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	if err != nil {
		return account, err
	}

	return account, nil
}

// Lock row-locks the accounts ordered by id so two transfers touching the
// same pair of accounts always wait on each other in the same order.
func (r *AccountRepository) Lock(ctx context.Context, ids ...int64) (map[int64]domain.Account, error) {
	rows, err := r.tx.Query(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE;", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[int64]domain.Account, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		locked[account.Id] = account
	}
	return locked, rows.Err()
}

// ApplyDelta changes the balance in one conditional statement, so the
// non-negative check and the write cannot be split by another transaction.
func (r *AccountRepository) ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal) (domain.Account, error) {
	row := r.tx.QueryRow(ctx,
		"UPDATE accounts SET balance = balance + $2::numeric WHERE id = $1 AND balance + $2::numeric >= 0 RETURNING "+accountColumns+";",
		id, delta.String(),
	)
	account, err := scanAccount(row)
	if err == nil {
		return account, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case checkViolation:
			return account, fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, id)
		case numericOutOfRange:
			return account, fmt.Errorf("%w: account %d", domain.ErrBalanceLimit, id)
		}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return account, err
	}

	var exists bool
	if err := r.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1);", id).Scan(&exists); err != nil {
		return account, err
	}
	if !exists {
		return account, fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	return account, fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, id)
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	row := r.tx.QueryRow(ctx,
		"INSERT INTO accounts (number, branch, user_id) VALUES ($1, $2, $3) RETURNING "+accountColumns+";",
		account.Number, account.Branch, account.UserId,
	)
	created, err := scanAccount(row)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case foreignKeyViolation:
			return fmt.Errorf("%w: user %d", domain.ErrUserNotFound, account.UserId)
		case uniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccountNumber, account.Number)
		}
	}
	if err != nil {
		return err
	}

	*account = created
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, "DELETE FROM accounts WHERE id = $1;", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	return nil
}
