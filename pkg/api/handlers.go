// Package api exposes the ledger over HTTP with JSON bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"go.uber.org/zap"
)

type Ledger interface {
	Process(ctx context.Context, req domain.TransactionRequest) (domain.Transaction, error)
	Transaction(ctx context.Context, id int64) (domain.Transaction, error)
	Statement(ctx context.Context, accountId int64, filter domain.StatementFilter) ([]domain.Transaction, error)
	Account(ctx context.Context, id int64) (domain.Account, error)
	OpenAccount(ctx context.Context, userId int64, number, branch string) (domain.Account, error)
	CloseAccount(ctx context.Context, id int64) error
}

type handlers struct {
	ledger Ledger
	logger *zap.Logger
}

// NewHandler registers every route on a fresh mux.
func NewHandler(l Ledger, logger *zap.Logger) http.Handler {
	h := &handlers{ledger: l, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "Server is running!\n")
	})
	mux.HandleFunc("POST /transactions", h.createTransaction)
	mux.HandleFunc("GET /transactions/{id}", h.getTransaction)
	mux.HandleFunc("POST /accounts", h.openAccount)
	mux.HandleFunc("GET /accounts/{id}", h.getAccount)
	mux.HandleFunc("DELETE /accounts/{id}", h.closeAccount)
	mux.HandleFunc("GET /accounts/{id}/statement", h.statement)

	return withRequestLogging(mux, logger)
}

type transactionRequest struct {
	Kind                 domain.RequestKind `json:"kind"`
	Amount               json.RawMessage    `json:"amount"`
	Description          string             `json:"description"`
	AccountId            int64              `json:"account_id"`
	DestinationAccountId *int64             `json:"destination_account_id"`
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, err := parseAmountField(body.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.ledger.Process(r.Context(), domain.TransactionRequest{
		Kind:                 body.Kind,
		Amount:               amount,
		Description:          body.Description,
		SourceAccountId:      body.AccountId,
		DestinationAccountId: body.DestinationAccountId,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (h *handlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	tx, err := h.ledger.Transaction(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

type statementResponse struct {
	AccountId    int64                 `json:"account_id"`
	GeneratedAt  time.Time             `json:"generated_at"`
	Transactions []transactionResponse `json:"transactions"`
}

func (h *handlers) statement(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	filter, err := parseStatementFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.ledger.Statement(r.Context(), id, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newTransactionResponse(rec))
	}
	writeJSON(w, http.StatusOK, statementResponse{AccountId: id, GeneratedAt: time.Now().UTC(), Transactions: out})
}

type openAccountRequest struct {
	UserId int64  `json:"user_id"`
	Number string `json:"number"`
	Branch string `json:"branch"`
}

func (h *handlers) openAccount(w http.ResponseWriter, r *http.Request) {
	var body openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	account, err := h.ledger.OpenAccount(r.Context(), body.UserId, body.Number, body.Branch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.Account(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *handlers) closeAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathId(w, r)
	if !ok {
		return
	}
	if err := h.ledger.CloseAccount(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseStatementFilter(r *http.Request) (domain.StatementFilter, error) {
	var filter domain.StatementFilter
	q := r.URL.Query()
	if k := q.Get("kind"); k != "" {
		kind, err := domain.ParseRecordKind(k)
		if err != nil {
			return filter, err
		}
		filter.Kind = &kind
	}
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
		}
		*dst = t
	}
	return filter, nil
}

// statusFor maps ledger errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrUnknownTransactionKind),
		errors.Is(err, domain.ErrMissingDestination),
		errors.Is(err, domain.ErrInvalidAccountDetails):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateAccountNumber):
		return http.StatusConflict
	case domain.IsRejection(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeError(w, status, msg)
}
