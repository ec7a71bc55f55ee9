package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount          = errors.New("amount must be a positive value with at most two decimal places")
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("account does not have enough balance for this debit amount")
	ErrMissingDestination     = errors.New("transfer requires a destination account")
	ErrSameAccountTransfer    = errors.New("source and destination accounts must be different")
	ErrUnknownTransactionKind = errors.New("unknown bank transaction type")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrDuplicateAccountNumber = errors.New("account number already registered")
	ErrAccountHasBalance      = errors.New("account with non-zero balance cannot be closed")
	ErrInvalidAccountDetails  = errors.New("account number and branch are required")
	ErrBalanceLimit           = errors.New("balance would exceed the largest amount an account can hold")
	ErrCommitFailure          = errors.New("could not commit transaction")
)

// CommitError reports a storage failure after validation passed. Nothing
// from the failed unit of work was kept.
type CommitError struct {
	Err error
}

func NewCommitError(err error) *CommitError {
	return &CommitError{Err: err}
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCommitFailure, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func (e *CommitError) Is(target error) bool {
	return target == ErrCommitFailure
}

// IsRejection reports whether err is a business rule rejection that the
// caller can act on, as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrAccountNotFound,
		ErrInsufficientFunds,
		ErrMissingDestination,
		ErrSameAccountTransfer,
		ErrUnknownTransactionKind,
		ErrTransactionNotFound,
		ErrUserNotFound,
		ErrDuplicateAccountNumber,
		ErrAccountHasBalance,
		ErrInvalidAccountDetails,
		ErrBalanceLimit,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
