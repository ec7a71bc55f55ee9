package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RequestKind string

const (
	RequestDeposit    RequestKind = "DEPOSIT"
	RequestWithdrawal RequestKind = "WITHDRAWAL"
	RequestTransfer   RequestKind = "TRANSFER"
)

func (k RequestKind) Valid() bool {
	switch k {
	case RequestDeposit, RequestWithdrawal, RequestTransfer:
		return true
	}
	return false
}

type RecordKind string

const (
	KindDeposit     RecordKind = "DEPOSIT"
	KindWithdrawal  RecordKind = "WITHDRAWAL"
	KindTransferOut RecordKind = "TRANSFER_OUT"
	KindTransferIn  RecordKind = "TRANSFER_IN"
)

func ParseRecordKind(s string) (RecordKind, error) {
	switch k := RecordKind(s); k {
	case KindDeposit, KindWithdrawal, KindTransferOut, KindTransferIn:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransactionKind, s)
}

type User struct {
	Id   int64  `json:"id"`
	Name string `json:"name"`
}

type Account struct {
	Id        int64           `json:"id"`
	Number    string          `json:"number"`
	Branch    string          `json:"branch"`
	UserId    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is an immutable record of one balance movement on AccountId.
// CounterpartAccountId is set only for the two records of a transfer.
type Transaction struct {
	Id                   int64           `json:"id"`
	Kind                 RecordKind      `json:"kind"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	AccountId            int64           `json:"account_id"`
	AccountNumber        string          `json:"account_number"`
	CounterpartAccountId *int64          `json:"counterpart_account_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type TransactionRequest struct {
	Kind                 RequestKind     `json:"kind"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	SourceAccountId      int64           `json:"account_id"`
	DestinationAccountId *int64          `json:"destination_account_id,omitempty"`
}

// TransferEffect holds both sides of a transfer so they are persisted by a
// single write.
type TransferEffect struct {
	Debit  Transaction
	Credit Transaction
}

func NewTransferEffect(source, destination Account, amount decimal.Decimal, description string) TransferEffect {
	sourceId, destinationId := source.Id, destination.Id
	return TransferEffect{
		Debit: Transaction{
			Kind:                 KindTransferOut,
			Amount:               amount,
			Description:          description,
			AccountId:            source.Id,
			AccountNumber:        source.Number,
			CounterpartAccountId: &destinationId,
		},
		Credit: Transaction{
			Kind:                 KindTransferIn,
			Amount:               amount,
			Description:          "transfer received from account " + source.Number,
			AccountId:            destination.Id,
			AccountNumber:        destination.Number,
			CounterpartAccountId: &sourceId,
		},
	}
}

// StatementFilter narrows a statement. Zero values match everything; From
// is inclusive and To is exclusive.
type StatementFilter struct {
	Kind *RecordKind
	From time.Time
	To   time.Time
}

func (f StatementFilter) Matches(t Transaction) bool {
	if f.Kind != nil && t.Kind != *f.Kind {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
