package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/andrenbrandao/bancodigital-ledger/pkg/ledger"

// Processor is the only writer of balances and transaction records.
type Processor struct {
	store     Store
	logger    *zap.Logger
	tracer    trace.Tracer
	processed metric.Int64Counter
}

func NewProcessor(store Store, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	processed, err := otel.Meter(instrumentationName).Int64Counter(
		"ledger.transactions.processed",
		metric.WithDescription("Transaction requests handled by the processor, by kind and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	return &Processor{
		store:     store,
		logger:    logger.Named("ledger"),
		tracer:    otel.Tracer(instrumentationName),
		processed: processed,
	}, nil
}

// Process validates req, applies its balance changes and appends its
// records in a single unit of work. For transfers the returned record is
// the outgoing one.
func (p *Processor) Process(ctx context.Context, req domain.TransactionRequest) (domain.Transaction, error) {
	ctx, span := p.tracer.Start(ctx, "ledger.Process", trace.WithAttributes(
		attribute.String("transaction.kind", string(req.Kind)),
		attribute.Int64("account.source", req.SourceAccountId),
	))
	defer span.End()

	result, err := p.process(ctx, req)
	p.record(ctx, req, err)

	switch {
	case err == nil:
		span.SetAttributes(attribute.Int64("transaction.id", result.Id))
		p.logger.Info("transaction processed",
			zap.Int64("transaction_id", result.Id),
			zap.String("kind", string(req.Kind)),
			zap.Int64("account_id", req.SourceAccountId),
			zap.Stringer("amount", req.Amount),
		)
	case domain.IsRejection(err):
		span.SetStatus(codes.Error, "rejected")
		p.logger.Warn("transaction rejected",
			zap.String("kind", string(req.Kind)),
			zap.Int64("account_id", req.SourceAccountId),
			zap.Stringer("amount", req.Amount),
			zap.Error(err),
		)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		p.logger.Error("transaction commit failed",
			zap.String("kind", string(req.Kind)),
			zap.Int64("account_id", req.SourceAccountId),
			zap.Error(err),
		)
	}
	return result, err
}

func (p *Processor) process(ctx context.Context, req domain.TransactionRequest) (domain.Transaction, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return domain.Transaction{}, err
	}
	if !req.Kind.Valid() {
		return domain.Transaction{}, fmt.Errorf("%w: %q", domain.ErrUnknownTransactionKind, req.Kind)
	}

	var result domain.Transaction
	err := p.store.WithinTx(ctx, func(ctx context.Context, uow UnitOfWork) error {
		locked, err := uow.Accounts().Lock(ctx, lockSet(req)...)
		if err != nil {
			return err
		}
		source, destination, err := validate(req, locked)
		if err != nil {
			return err
		}
		result, err = apply(ctx, uow, req, source, destination)
		return err
	})
	if err != nil {
		if domain.IsRejection(err) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, domain.NewCommitError(err)
	}
	return result, nil
}

// lockSet lists every account the request may touch. The store sorts them
// before locking.
func lockSet(req domain.TransactionRequest) []int64 {
	ids := []int64{req.SourceAccountId}
	if req.Kind == domain.RequestTransfer && req.DestinationAccountId != nil && *req.DestinationAccountId != req.SourceAccountId {
		ids = append(ids, *req.DestinationAccountId)
	}
	return ids
}

// validate runs the business rules against the locked snapshot. The first
// failing rule wins.
func validate(req domain.TransactionRequest, locked map[int64]domain.Account) (source, destination domain.Account, err error) {
	source, ok := locked[req.SourceAccountId]
	if !ok {
		return source, destination, fmt.Errorf("%w: source account %d", domain.ErrAccountNotFound, req.SourceAccountId)
	}

	if req.Kind == domain.RequestWithdrawal || req.Kind == domain.RequestTransfer {
		if source.Balance.LessThan(req.Amount) {
			return source, destination, fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds, source.Balance.StringFixed(domain.MoneyScale), req.Amount.StringFixed(domain.MoneyScale))
		}
	}

	if req.Kind != domain.RequestTransfer {
		return source, destination, nil
	}
	if req.DestinationAccountId == nil {
		return source, destination, domain.ErrMissingDestination
	}
	destination, ok = locked[*req.DestinationAccountId]
	if !ok {
		return source, destination, fmt.Errorf("%w: destination account %d", domain.ErrAccountNotFound, *req.DestinationAccountId)
	}
	if source.Id == destination.Id {
		return source, destination, domain.ErrSameAccountTransfer
	}
	return source, destination, nil
}

func apply(ctx context.Context, uow UnitOfWork, req domain.TransactionRequest, source, destination domain.Account) (domain.Transaction, error) {
	switch req.Kind {
	case domain.RequestDeposit:
		if _, err := uow.Accounts().ApplyDelta(ctx, source.Id, req.Amount); err != nil {
			return domain.Transaction{}, err
		}
		rec := domain.Transaction{
			Kind:          domain.KindDeposit,
			Amount:        req.Amount,
			Description:   req.Description,
			AccountId:     source.Id,
			AccountNumber: source.Number,
		}
		if err := uow.Records().Append(ctx, &rec); err != nil {
			return domain.Transaction{}, err
		}
		return rec, nil

	case domain.RequestWithdrawal:
		if _, err := uow.Accounts().ApplyDelta(ctx, source.Id, req.Amount.Neg()); err != nil {
			return domain.Transaction{}, err
		}
		rec := domain.Transaction{
			Kind:          domain.KindWithdrawal,
			Amount:        req.Amount,
			Description:   req.Description,
			AccountId:     source.Id,
			AccountNumber: source.Number,
		}
		if err := uow.Records().Append(ctx, &rec); err != nil {
			return domain.Transaction{}, err
		}
		return rec, nil

	case domain.RequestTransfer:
		if _, err := uow.Accounts().ApplyDelta(ctx, source.Id, req.Amount.Neg()); err != nil {
			return domain.Transaction{}, err
		}
		if _, err := uow.Accounts().ApplyDelta(ctx, destination.Id, req.Amount); err != nil {
			return domain.Transaction{}, err
		}
		effect := domain.NewTransferEffect(source, destination, req.Amount, req.Description)
		if err := uow.Records().AppendTransfer(ctx, &effect); err != nil {
			return domain.Transaction{}, err
		}
		return effect.Debit, nil
	}
	return domain.Transaction{}, fmt.Errorf("%w: %q", domain.ErrUnknownTransactionKind, req.Kind)
}

func (p *Processor) record(ctx context.Context, req domain.TransactionRequest, err error) {
	outcome := "committed"
	switch {
	case errors.Is(err, domain.ErrCommitFailure):
		outcome = "failed"
	case err != nil:
		outcome = "rejected"
	}
	p.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("outcome", outcome),
	))
}
