// Package memstore keeps accounts and transaction records in process
// memory. It serializes work on the same account with per-account locks and
// applies a unit of work's changes only when it commits.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

type entry struct {
	lock    sync.Mutex
	account domain.Account
	deleted bool
}

type Store struct {
	mu            sync.RWMutex
	users         map[int64]domain.User
	accounts      map[int64]*entry
	records       []domain.Transaction
	reserved      map[string]bool // numbers staged by open units of work
	nextAccountId int64
	nextRecordId  int64
	now           func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[int64]domain.User),
		accounts: make(map[int64]*entry),
		reserved: make(map[string]bool),
		now:      time.Now,
	}
}

// SetClock replaces the record timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Id] = u
}

// SeedAccount inserts an account with the given balance directly, outside
// the transaction log. Meant for fixtures.
func (s *Store) SeedAccount(a domain.Account) domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Id == 0 {
		s.nextAccountId++
		a.Id = s.nextAccountId
	} else if a.Id > s.nextAccountId {
		s.nextAccountId = a.Id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.accounts[a.Id] = &entry{account: a}
	return a
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) WithinReadTx(ctx context.Context, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uow := &unitOfWork{
		store:    s,
		readOnly: readOnly,
		held:     make(map[int64]*entry),
		balances: make(map[int64]decimal.Decimal),
		deleted:  make(map[int64]bool),
	}
	defer uow.release()

	if err := fn(ctx, uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unit of work abandoned before commit: %w", err)
	}
	uow.commit()
	return nil
}

func (s *Store) lookup(id int64) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[id]
	return e, ok
}

type unitOfWork struct {
	store    *Store
	readOnly bool

	held     map[int64]*entry
	balances map[int64]decimal.Decimal
	created  []domain.Account
	deleted  map[int64]bool
	records  []domain.Transaction
}

func (u *unitOfWork) Accounts() ledger.Accounts { return (*accounts)(u) }
func (u *unitOfWork) Records() ledger.Records   { return (*records)(u) }

func (u *unitOfWork) release() {
	for id, e := range u.held {
		e.lock.Unlock()
		delete(u.held, id)
	}
	if len(u.created) == 0 {
		return
	}
	u.store.mu.Lock()
	for _, a := range u.created {
		delete(u.store.reserved, a.Number)
	}
	u.store.mu.Unlock()
}

func (u *unitOfWork) commit() {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, balance := range u.balances {
		if e, ok := s.accounts[id]; ok {
			e.account.Balance = balance
		}
	}
	for _, a := range u.created {
		s.accounts[a.Id] = &entry{account: a}
	}
	for id := range u.deleted {
		if e, ok := s.accounts[id]; ok {
			e.deleted = true
			delete(s.accounts, id)
		}
	}
	s.records = append(s.records, u.records...)
}

// current returns the account as this unit of work sees it, staged balance
// included.
func (u *unitOfWork) current(id int64) (domain.Account, bool) {
	if u.deleted[id] {
		return domain.Account{}, false
	}
	e, ok := u.store.lookup(id)
	if !ok {
		return domain.Account{}, false
	}
	u.store.mu.RLock()
	account, gone := e.account, e.deleted
	u.store.mu.RUnlock()
	if gone {
		return domain.Account{}, false
	}
	if b, ok := u.balances[id]; ok {
		account.Balance = b
	}
	return account, true
}

func (u *unitOfWork) lock(ctx context.Context, id int64) error {
	if _, ok := u.held[id]; ok {
		return nil
	}
	e, ok := u.store.lookup(id)
	if !ok {
		return nil
	}
	if u.readOnly {
		return fmt.Errorf("account %d cannot be locked in a read-only unit of work", id)
	}
	e.lock.Lock()
	u.held[id] = e
	return ctx.Err()
}

type accounts unitOfWork

func (a *accounts) uow() *unitOfWork { return (*unitOfWork)(a) }

func (a *accounts) Get(_ context.Context, id int64) (domain.Account, error) {
	account, ok := a.uow().current(id)
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	return account, nil
}

func (a *accounts) Lock(ctx context.Context, ids ...int64) (map[int64]domain.Account, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	out := make(map[int64]domain.Account, len(sorted))
	for _, id := range sorted {
		if err := a.uow().lock(ctx, id); err != nil {
			return nil, err
		}
		if account, ok := a.uow().current(id); ok {
			out[id] = account
		}
	}
	return out, nil
}

func (a *accounts) ApplyDelta(ctx context.Context, id int64, delta decimal.Decimal) (domain.Account, error) {
	u := a.uow()
	if u.readOnly {
		return domain.Account{}, fmt.Errorf("balance of account %d cannot change in a read-only unit of work", id)
	}
	if err := u.lock(ctx, id); err != nil {
		return domain.Account{}, err
	}
	account, ok := u.current(id)
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrInsufficientFunds, id)
	}
	if next.GreaterThan(domain.MaxAmount) {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrBalanceLimit, id)
	}
	u.balances[id] = next
	account.Balance = next
	return account, nil
}

func (a *accounts) Create(_ context.Context, account *domain.Account) error {
	u := a.uow()
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[account.UserId]; !ok {
		return fmt.Errorf("%w: user %d", domain.ErrUserNotFound, account.UserId)
	}
	for _, e := range s.accounts {
		if e.account.Number == account.Number {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccountNumber, account.Number)
		}
	}
	if s.reserved[account.Number] {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateAccountNumber, account.Number)
	}
	s.reserved[account.Number] = true
	s.nextAccountId++
	account.Id = s.nextAccountId
	account.Balance = decimal.Zero
	account.CreatedAt = s.now()
	u.created = append(u.created, *account)
	return nil
}

func (a *accounts) Delete(ctx context.Context, id int64) error {
	u := a.uow()
	if err := u.lock(ctx, id); err != nil {
		return err
	}
	if _, ok := u.current(id); !ok {
		return fmt.Errorf("%w: account %d", domain.ErrAccountNotFound, id)
	}
	u.deleted[id] = true
	return nil
}

type records unitOfWork

func (r *records) uow() *unitOfWork { return (*unitOfWork)(r) }

func (r *records) stage(rec *domain.Transaction) {
	s := r.uow().store
	s.mu.Lock()
	s.nextRecordId++
	rec.Id = s.nextRecordId
	rec.CreatedAt = s.now()
	s.mu.Unlock()
	r.uow().records = append(r.uow().records, *rec)
}

func (r *records) Append(_ context.Context, rec *domain.Transaction) error {
	if r.uow().readOnly {
		return fmt.Errorf("records cannot be appended in a read-only unit of work")
	}
	r.stage(rec)
	return nil
}

func (r *records) AppendTransfer(_ context.Context, effect *domain.TransferEffect) error {
	if r.uow().readOnly {
		return fmt.Errorf("records cannot be appended in a read-only unit of work")
	}
	r.stage(&effect.Debit)
	r.stage(&effect.Credit)
	return nil
}

func (r *records) Get(_ context.Context, id int64) (domain.Transaction, error) {
	s := r.uow().store
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.Id == id {
			return rec, nil
		}
	}
	return domain.Transaction{}, fmt.Errorf("%w: %d", domain.ErrTransactionNotFound, id)
}

func (r *records) ListByAccount(_ context.Context, accountId int64, filter domain.StatementFilter) ([]domain.Transaction, error) {
	s := r.uow().store
	s.mu.RLock()
	out := make([]domain.Transaction, 0)
	for _, rec := range s.records {
		if rec.AccountId == accountId && filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Id > out[j].Id
	})
	return out, nil
}
