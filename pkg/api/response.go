package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/shopspring/decimal"
)

// money renders amounts with the fixed currency scale, so 100 is "100.00".
func money(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyScale)
}

type accountResponse struct {
	Id        int64     `json:"id"`
	Number    string    `json:"number"`
	Branch    string    `json:"branch"`
	UserId    int64     `json:"user_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		Id:        a.Id,
		Number:    a.Number,
		Branch:    a.Branch,
		UserId:    a.UserId,
		Balance:   money(a.Balance),
		CreatedAt: a.CreatedAt,
	}
}

type transactionResponse struct {
	Id                   int64             `json:"id"`
	Kind                 domain.RecordKind `json:"kind"`
	Amount               string            `json:"amount"`
	Description          string            `json:"description"`
	AccountId            int64             `json:"account_id"`
	AccountNumber        string            `json:"account_number"`
	CounterpartAccountId *int64            `json:"counterpart_account_id,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

func newTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		Id:                   t.Id,
		Kind:                 t.Kind,
		Amount:               money(t.Amount),
		Description:          t.Description,
		AccountId:            t.AccountId,
		AccountNumber:        t.AccountNumber,
		CounterpartAccountId: t.CounterpartAccountId,
		CreatedAt:            t.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{msg})
}

// parseAmountField accepts "10.50" or 10.50. Numbers are read as text so no
// binary floating point is involved.
func parseAmountField(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, fmt.Errorf("%w: amount is required", domain.ErrInvalidAmount)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, raw)
		}
		return domain.ParseAmount(s)
	}
	return domain.ParseAmount(string(raw))
}
