package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func (p *Processor) Transaction(ctx context.Context, id int64) (domain.Transaction, error) {
	var tx domain.Transaction
	err := p.store.WithinReadTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		tx, err = uow.Records().Get(ctx, id)
		return err
	})
	return tx, err
}

// Statement lists the account's records newest first. Reads never take
// account locks.
func (p *Processor) Statement(ctx context.Context, accountId int64, filter domain.StatementFilter) ([]domain.Transaction, error) {
	ctx, span := p.tracer.Start(ctx, "ledger.Statement", trace.WithAttributes(attribute.Int64("account.id", accountId)))
	defer span.End()

	var records []domain.Transaction
	err := p.store.WithinReadTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := uow.Accounts().Get(ctx, accountId); err != nil {
			return err
		}
		var err error
		records, err = uow.Records().ListByAccount(ctx, accountId, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("statement.size", len(records)))
	return records, nil
}

func (p *Processor) Account(ctx context.Context, id int64) (domain.Account, error) {
	var account domain.Account
	err := p.store.WithinReadTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		var err error
		account, err = uow.Accounts().Get(ctx, id)
		return err
	})
	return account, err
}

// OpenAccount creates an account with zero balance for an existing user.
func (p *Processor) OpenAccount(ctx context.Context, userId int64, number, branch string) (domain.Account, error) {
	number, branch = strings.TrimSpace(number), strings.TrimSpace(branch)
	if number == "" || branch == "" {
		return domain.Account{}, domain.ErrInvalidAccountDetails
	}

	account := domain.Account{Number: number, Branch: branch, UserId: userId, Balance: decimal.Zero}
	err := p.store.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Accounts().Create(ctx, &account)
	})
	if err != nil {
		return domain.Account{}, err
	}
	p.logger.Info("account opened", zap.Int64("account_id", account.Id), zap.String("number", account.Number))
	return account, nil
}

// CloseAccount deletes the account if its balance is exactly zero. The
// account is locked so no movement can land between the check and the
// delete.
func (p *Processor) CloseAccount(ctx context.Context, id int64) error {
	err := p.store.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		locked, err := uow.Accounts().Lock(ctx, id)
		if err != nil {
			return err
		}
		account, ok := locked[id]
		if !ok {
			return fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
		}
		if !account.Balance.IsZero() {
			return fmt.Errorf("%w: balance %s", domain.ErrAccountHasBalance, account.Balance.StringFixed(domain.MoneyScale))
		}
		return uow.Accounts().Delete(ctx, id)
	})
	if err != nil {
		p.logger.Warn("account close refused", zap.Int64("account_id", id), zap.Error(err))
		return err
	}
	p.logger.Info("account closed", zap.Int64("account_id", id))
	return nil
}
