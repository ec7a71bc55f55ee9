package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const transactionColumns = "id, kind, amount::text, description, account_id, account_number, counterpart_account_id, created_at"

type TransactionRepository struct {
	tx pgx.Tx
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t           domain.Transaction
		kind        string
		amount      string
		counterpart pgtype.Int8
		createdAt   pgtype.Timestamptz
	)
	if err := row.Scan(&t.Id, &kind, &amount, &t.Description, &t.AccountId, &t.AccountNumber, &counterpart, &createdAt); err != nil {
		return t, err
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return t, fmt.Errorf("decoding amount of transaction %d: %w", t.Id, err)
	}
	t.Kind = domain.RecordKind(kind)
	t.Amount = a
	if counterpart.Valid {
		id := counterpart.Int64
		t.CounterpartAccountId = &id
	}
	t.CreatedAt = createdAt.Time
	return t, nil
}

func counterpartParam(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}

func (r *TransactionRepository) Append(ctx context.Context, rec *domain.Transaction) error {
	var createdAt pgtype.Timestamptz
	err := r.tx.QueryRow(ctx,
		`INSERT INTO transactions (kind, amount, description, account_id, account_number, counterpart_account_id)
		 VALUES ($1, $2::numeric, $3, $4, $5, $6) RETURNING id, created_at;`,
		string(rec.Kind), rec.Amount.String(), rec.Description, rec.AccountId, rec.AccountNumber, counterpartParam(rec.CounterpartAccountId),
	).Scan(&rec.Id, &createdAt)
	if err != nil {
		return err
	}
	rec.CreatedAt = createdAt.Time
	return nil
}

// AppendTransfer writes both sides of a transfer with one INSERT.
func (r *TransactionRepository) AppendTransfer(ctx context.Context, effect *domain.TransferEffect) error {
	d, c := &effect.Debit, &effect.Credit
	rows, err := r.tx.Query(ctx,
		`INSERT INTO transactions (kind, amount, description, account_id, account_number, counterpart_account_id)
		 VALUES ($1, $2::numeric, $3, $4, $5, $6), ($7, $8::numeric, $9, $10, $11, $12)
		 RETURNING id, kind, created_at;`,
		string(d.Kind), d.Amount.String(), d.Description, d.AccountId, d.AccountNumber, counterpartParam(d.CounterpartAccountId),
		string(c.Kind), c.Amount.String(), c.Description, c.AccountId, c.AccountNumber, counterpartParam(c.CounterpartAccountId),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		var (
			id        int64
			kind      string
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &kind, &createdAt); err != nil {
			return err
		}
		target := c
		if domain.RecordKind(kind) == d.Kind {
			target = d
		}
		target.Id, target.CreatedAt = id, createdAt.Time
		inserted++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if inserted != 2 {
		return fmt.Errorf("transfer insert returned %d rows, expected 2", inserted)
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	row := r.tx.QueryRow(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = $1;", id)
	t, err := scanTransaction(row)

	if errors.Is(err, pgx.ErrNoRows) {
		return t, fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, id)
	}
	return t, err
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountId int64, filter domain.StatementFilter) ([]domain.Transaction, error) {
	var kind pgtype.Text
	if filter.Kind != nil {
		kind = pgtype.Text{String: string(*filter.Kind), Valid: true}
	}
	from := pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()}
	to := pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()}

	rows, err := r.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE account_id = $1
		   AND ($2::text IS NULL OR kind = $2)
		   AND ($3::timestamptz IS NULL OR created_at >= $3)
		   AND ($4::timestamptz IS NULL OR created_at < $4)
		 ORDER BY created_at DESC, id DESC;`,
		accountId, kind, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statement := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		statement = append(statement, t)
	}
	return statement, rows.Err()
}
