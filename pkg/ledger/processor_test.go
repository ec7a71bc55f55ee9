package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/ledger"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(id int64) *int64 {
	return &id
}

// setup seeds one account per balance, numbered 1000N.
func setup(t *testing.T, balances ...string) (*ledger.Processor, *memstore.Store, []domain.Account) {
	t.Helper()
	store := memstore.New()
	store.AddUser(domain.User{Id: 1, Name: "ana"})

	accounts := make([]domain.Account, 0, len(balances))
	for i, b := range balances {
		accounts = append(accounts, store.SeedAccount(domain.Account{
			Number:  fmt.Sprintf("1000%d", i+1),
			Branch:  "0001",
			UserId:  1,
			Balance: dec(b),
		}))
	}

	p, err := ledger.NewProcessor(store, zap.NewNop())
	require.NoError(t, err)
	return p, store, accounts
}

func balance(t *testing.T, p *ledger.Processor, id int64) decimal.Decimal {
	t.Helper()
	a, err := p.Account(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func assertBalance(t *testing.T, p *ledger.Processor, id int64, want string) {
	t.Helper()
	got := balance(t, p, id)
	assert.True(t, got.Equal(dec(want)), "account %d balance=%s want=%s", id, got, want)
}

func statement(t *testing.T, p *ledger.Processor, id int64) []domain.Transaction {
	t.Helper()
	records, err := p.Statement(context.Background(), id, domain.StatementFilter{})
	require.NoError(t, err)
	return records
}

func TestDeposit(t *testing.T) {
	p, _, acc := setup(t, "0.00")
	a := acc[0]

	tx, err := p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestDeposit, Amount: dec("25.50"), SourceAccountId: a.Id, Description: "salary",
	})
	require.NoError(t, err)

	assert.NotZero(t, tx.Id)
	assert.False(t, tx.CreatedAt.IsZero())
	assert.Equal(t, domain.KindDeposit, tx.Kind)
	assert.Equal(t, a.Number, tx.AccountNumber)
	assert.Equal(t, "salary", tx.Description)
	assert.Nil(t, tx.CounterpartAccountId)
	assertBalance(t, p, a.Id, "25.50")
}

func TestWithdrawal(t *testing.T) {
	p, _, acc := setup(t, "100.00")
	a := acc[0]

	tx, err := p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestWithdrawal, Amount: dec("30.00"), SourceAccountId: a.Id,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.KindWithdrawal, tx.Kind)
	assertBalance(t, p, a.Id, "70.00")

	t.Run("the whole balance can be withdrawn", func(t *testing.T) {
		_, err := p.Process(context.Background(), domain.TransactionRequest{
			Kind: domain.RequestWithdrawal, Amount: dec("70.00"), SourceAccountId: a.Id,
		})
		require.NoError(t, err)
		assertBalance(t, p, a.Id, "0.00")
	})
}

func TestWithdrawalOverBalanceLeavesAccountUntouched(t *testing.T) {
	p, _, acc := setup(t, "100.00")
	a := acc[0]

	_, err := p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestWithdrawal, Amount: dec("150.00"), SourceAccountId: a.Id,
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assertBalance(t, p, a.Id, "100.00")
	assert.Empty(t, statement(t, p, a.Id))
}

func TestTransfer(t *testing.T) {
	p, _, acc := setup(t, "100.00", "0.00")
	a, b := acc[0], acc[1]

	tx, err := p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestTransfer, Amount: dec("40.00"), SourceAccountId: a.Id,
		DestinationAccountId: ptr(b.Id), Description: "rent",
	})
	require.NoError(t, err)

	assertBalance(t, p, a.Id, "60.00")
	assertBalance(t, p, b.Id, "40.00")

	assert.Equal(t, domain.KindTransferOut, tx.Kind)
	assert.Equal(t, a.Id, tx.AccountId)
	require.NotNil(t, tx.CounterpartAccountId)
	assert.Equal(t, b.Id, *tx.CounterpartAccountId)

	out := statement(t, p, a.Id)
	in := statement(t, p, b.Id)
	require.Len(t, out, 1)
	require.Len(t, in, 1)

	assert.Equal(t, tx, out[0])
	assert.Equal(t, domain.KindTransferIn, in[0].Kind)
	assert.True(t, in[0].Amount.Equal(out[0].Amount))
	require.NotNil(t, in[0].CounterpartAccountId)
	assert.Equal(t, a.Id, *in[0].CounterpartAccountId)
	assert.Equal(t, "transfer received from account "+a.Number, in[0].Description)
}

func TestTransferToSameAccount(t *testing.T) {
	p, _, acc := setup(t, "100.00")
	a := acc[0]

	_, err := p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestTransfer, Amount: dec("10.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(a.Id),
	})
	assert.ErrorIs(t, err, domain.ErrSameAccountTransfer)
	assertBalance(t, p, a.Id, "100.00")
	assert.Empty(t, statement(t, p, a.Id))
}

func TestValidationOrder(t *testing.T) {
	p, _, acc := setup(t, "100.00", "0.00")
	a, b := acc[0], acc[1]
	const missing = int64(999)

	tests := []struct {
		name string
		req  domain.TransactionRequest
		want error
	}{
		{
			name: "zero amount before missing account",
			req:  domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("0"), SourceAccountId: missing},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			req:  domain.TransactionRequest{Kind: domain.RequestWithdrawal, Amount: dec("-5.00"), SourceAccountId: a.Id},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "sub-cent amount",
			req:  domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("0.001"), SourceAccountId: a.Id},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "unknown kind",
			req:  domain.TransactionRequest{Kind: "REFUND", Amount: dec("1.00"), SourceAccountId: a.Id},
			want: domain.ErrUnknownTransactionKind,
		},
		{
			name: "missing source",
			req:  domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("1.00"), SourceAccountId: missing},
			want: domain.ErrAccountNotFound,
		},
		{
			name: "insufficient funds before missing destination",
			req:  domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("500.00"), SourceAccountId: a.Id},
			want: domain.ErrInsufficientFunds,
		},
		{
			name: "insufficient funds before same account",
			req:  domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("500.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(a.Id)},
			want: domain.ErrInsufficientFunds,
		},
		{
			name: "missing destination id",
			req:  domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("1.00"), SourceAccountId: a.Id},
			want: domain.ErrMissingDestination,
		},
		{
			name: "destination does not exist",
			req:  domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("1.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(missing)},
			want: domain.ErrAccountNotFound,
		},
		{
			name: "empty account withdrawing",
			req:  domain.TransactionRequest{Kind: domain.RequestWithdrawal, Amount: dec("0.01"), SourceAccountId: b.Id},
			want: domain.ErrInsufficientFunds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, domain.ErrCommitFailure)
		})
	}

	assertBalance(t, p, a.Id, "100.00")
	assertBalance(t, p, b.Id, "0.00")
	assert.Empty(t, statement(t, p, a.Id))
	assert.Empty(t, statement(t, p, b.Id))
}

func TestTransferConservesMoney(t *testing.T) {
	p, _, acc := setup(t, "321.45", "78.90")
	a, b := acc[0], acc[1]
	before := balance(t, p, a.Id).Add(balance(t, p, b.Id))

	for _, amt := range []string{"0.01", "12.34", "100.00", "0.99"} {
		_, err := p.Process(context.Background(), domain.TransactionRequest{
			Kind: domain.RequestTransfer, Amount: dec(amt), SourceAccountId: a.Id, DestinationAccountId: ptr(b.Id),
		})
		require.NoError(t, err)
		_, err = p.Process(context.Background(), domain.TransactionRequest{
			Kind: domain.RequestTransfer, Amount: dec("0.10"), SourceAccountId: b.Id, DestinationAccountId: ptr(a.Id),
		})
		require.NoError(t, err)
	}

	after := balance(t, p, a.Id).Add(balance(t, p, b.Id))
	assert.True(t, before.Equal(after), "before=%s after=%s", before, after)
	assertBalance(t, p, a.Id, "208.51")
	assertBalance(t, p, b.Id, "191.84")
}

func TestStatementIsNewestFirstAndStable(t *testing.T) {
	p, _, acc := setup(t, "0.00")
	a := acc[0]

	for _, amt := range []string{"10.00", "20.00", "30.00"} {
		_, err := p.Process(context.Background(), domain.TransactionRequest{
			Kind: domain.RequestDeposit, Amount: dec(amt), SourceAccountId: a.Id,
		})
		require.NoError(t, err)
	}

	first := statement(t, p, a.Id)
	second := statement(t, p, a.Id)
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.True(t, first[0].Amount.Equal(dec("30.00")))
	assert.True(t, first[2].Amount.Equal(dec("10.00")))
}

func TestStatementFilterByKind(t *testing.T) {
	p, _, acc := setup(t, "100.00", "0.00")
	a, b := acc[0], acc[1]
	ctx := context.Background()

	_, err := p.Process(ctx, domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("5.00"), SourceAccountId: a.Id})
	require.NoError(t, err)
	_, err = p.Process(ctx, domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("5.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(b.Id)})
	require.NoError(t, err)

	kind := domain.KindTransferOut
	records, err := p.Statement(ctx, a.Id, domain.StatementFilter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.KindTransferOut, records[0].Kind)
}

func TestStatementOfUnknownAccount(t *testing.T) {
	p, _, _ := setup(t)
	_, err := p.Statement(context.Background(), 42, domain.StatementFilter{})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestTransactionLookup(t *testing.T) {
	p, _, acc := setup(t, "0.00")
	tx, err := p.Process(context.Background(), domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("1.00"), SourceAccountId: acc[0].Id})
	require.NoError(t, err)

	got, err := p.Transaction(context.Background(), tx.Id)
	require.NoError(t, err)
	assert.Equal(t, tx, got)

	_, err = p.Transaction(context.Background(), tx.Id+100)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	p, _, acc := setup(t, "500.00")
	a := acc[0]

	const attempts = 100
	var (
		wg           sync.WaitGroup
		successes    atomic.Int64
		insufficient atomic.Int64
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), domain.TransactionRequest{
				Kind: domain.RequestWithdrawal, Amount: dec("10.00"), SourceAccountId: a.Id,
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), successes.Load())
	assert.Equal(t, int64(50), insufficient.Load())
	assertBalance(t, p, a.Id, "0.00")
	assert.Len(t, statement(t, p, a.Id), 50)
}

func TestConcurrentOpposingTransfersDoNotDeadlock(t *testing.T) {
	p, _, acc := setup(t, "1000.00", "1000.00")
	a, b := acc[0], acc[1]

	const n = 200
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), domain.TransactionRequest{
				Kind: domain.RequestTransfer, Amount: dec("1.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(b.Id),
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := p.Process(context.Background(), domain.TransactionRequest{
				Kind: domain.RequestTransfer, Amount: dec("1.00"), SourceAccountId: b.Id, DestinationAccountId: ptr(a.Id),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertBalance(t, p, a.Id, "1000.00")
	assertBalance(t, p, b.Id, "1000.00")
	assert.Len(t, statement(t, p, a.Id), 2*n)
	assert.Len(t, statement(t, p, b.Id), 2*n)
}

// failingStore wraps a store so every record write inside a read-write unit
// of work runs hook first.
type failingStore struct {
	ledger.Store
	hook func(ctx context.Context) error
}

func (s failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, uow ledger.UnitOfWork) error {
		return fn(ctx, failingUnit{UnitOfWork: uow, hook: s.hook})
	})
}

type failingUnit struct {
	ledger.UnitOfWork
	hook func(ctx context.Context) error
}

func (u failingUnit) Records() ledger.Records {
	return failingRecords{Records: u.UnitOfWork.Records(), hook: u.hook}
}

type failingRecords struct {
	ledger.Records
	hook func(ctx context.Context) error
}

func (r failingRecords) Append(ctx context.Context, rec *domain.Transaction) error {
	if err := r.hook(ctx); err != nil {
		return err
	}
	return r.Records.Append(ctx, rec)
}

func (r failingRecords) AppendTransfer(ctx context.Context, effect *domain.TransferEffect) error {
	if err := r.hook(ctx); err != nil {
		return err
	}
	return r.Records.AppendTransfer(ctx, effect)
}

func TestRecordWriteFailureRollsBackBalances(t *testing.T) {
	_, store, acc := setup(t, "100.00", "0.00")
	a, b := acc[0], acc[1]

	diskFull := errors.New("disk full")
	p, err := ledger.NewProcessor(failingStore{Store: store, hook: func(context.Context) error { return diskFull }}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Process(context.Background(), domain.TransactionRequest{
		Kind: domain.RequestTransfer, Amount: dec("40.00"), SourceAccountId: a.Id, DestinationAccountId: ptr(b.Id),
	})
	assert.ErrorIs(t, err, domain.ErrCommitFailure)
	assert.ErrorIs(t, err, diskFull)

	var commitErr *domain.CommitError
	assert.ErrorAs(t, err, &commitErr)

	assertBalance(t, p, a.Id, "100.00")
	assertBalance(t, p, b.Id, "0.00")
	assert.Empty(t, statement(t, p, a.Id))
	assert.Empty(t, statement(t, p, b.Id))
}

func TestCancellationBeforeCommitRollsBack(t *testing.T) {
	_, store, acc := setup(t, "100.00")
	a := acc[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p, err := ledger.NewProcessor(failingStore{Store: store, hook: func(context.Context) error {
		cancel()
		return nil
	}}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Process(ctx, domain.TransactionRequest{
		Kind: domain.RequestWithdrawal, Amount: dec("40.00"), SourceAccountId: a.Id,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrCommitFailure)

	assertBalance(t, p, a.Id, "100.00")
	assert.Empty(t, statement(t, p, a.Id))
}

func TestOpenAndCloseAccount(t *testing.T) {
	p, _, acc := setup(t, "0.00")
	ctx := context.Background()

	opened, err := p.OpenAccount(ctx, 1, "20001", "0003")
	require.NoError(t, err)
	assert.NotZero(t, opened.Id)
	assert.True(t, opened.Balance.IsZero())

	_, err = p.OpenAccount(ctx, 1, "20001", "0003")
	assert.ErrorIs(t, err, domain.ErrDuplicateAccountNumber)

	_, err = p.OpenAccount(ctx, 77, "20002", "0003")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = p.OpenAccount(ctx, 1, " ", "0003")
	assert.ErrorIs(t, err, domain.ErrInvalidAccountDetails)

	_, err = p.Process(ctx, domain.TransactionRequest{Kind: domain.RequestTransfer, Amount: dec("1.00"), SourceAccountId: acc[0].Id, DestinationAccountId: ptr(opened.Id)})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = p.Process(ctx, domain.TransactionRequest{Kind: domain.RequestDeposit, Amount: dec("3.00"), SourceAccountId: opened.Id})
	require.NoError(t, err)
	assert.ErrorIs(t, p.CloseAccount(ctx, opened.Id), domain.ErrAccountHasBalance)

	_, err = p.Process(ctx, domain.TransactionRequest{Kind: domain.RequestWithdrawal, Amount: dec("3.00"), SourceAccountId: opened.Id})
	require.NoError(t, err)
	require.NoError(t, p.CloseAccount(ctx, opened.Id))

	_, err = p.Account(ctx, opened.Id)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.ErrorIs(t, p.CloseAccount(ctx, opened.Id), domain.ErrAccountNotFound)
}
