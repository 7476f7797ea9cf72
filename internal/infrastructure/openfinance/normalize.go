package openfinance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	of "ofbconnect/internal/domain/openfinance"
)

// Schema versions spoken by supported banks.
const (
	SchemaV1 = "v1"
	SchemaV2 = "v2"
)

type meta struct {
	TotalRecords int `json:"totalRecords"`
	TotalPages   int `json:"totalPages"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  meta            `json:"meta"`
	Links struct {
		Self string `json:"self"`
		Next string `json:"next"`
	} `json:"links"`
}

// normalizer maps one schema version's payloads to the internal records.
type normalizer interface {
	accounts(data json.RawMessage) ([]of.BankAccount, error)
	balance(data json.RawMessage) (*of.Balance, error)
	transactions(data json.RawMessage) ([]of.BankTransaction, error)
}

func normalizerFor(version string) (normalizer, error) {
	switch strings.ToLower(version) {
	case SchemaV1, "":
		return v1Normalizer{}, nil
	case SchemaV2:
		return v2Normalizer{}, nil
	}
	return nil, fmt.Errorf("unsupported schema version %q", version)
}

type v1Account struct {
	AccountID   string `json:"accountId"`
	BrandName   string `json:"brandName"`
	CompanyCnpj string `json:"companyCnpj"`
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	Number      string `json:"number"`
	CheckDigit  string `json:"checkDigit"`
	BranchCode  string `json:"branchCode"`
	Currency    string `json:"currency"`
}

type v1Balance struct {
	AvailableAmount             decimal.Decimal `json:"availableAmount"`
	AvailableAmountCurrency     string          `json:"availableAmountCurrency"`
	BlockedAmount               decimal.Decimal `json:"blockedAmount"`
	AutomaticallyInvestedAmount decimal.Decimal `json:"automaticallyInvestedAmount"`
	UpdateDateTime              string          `json:"updateDateTime"`
}

type v1Transaction struct {
	TransactionID       string          `json:"transactionId"`
	CreditDebitType     string          `json:"creditDebitType"`
	TransactionName     string          `json:"transactionName"`
	TransactionCategory string          `json:"transactionCategory"`
	Type                string          `json:"type"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	BookingDate         string          `json:"bookingDate"`
	ReferenceNumber     string          `json:"referenceNumber"`
}

type v1Normalizer struct{}

func (v1Normalizer) accounts(data json.RawMessage) ([]of.BankAccount, error) {
	var raw []v1Account
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode v1 accounts: %w", err)
	}
	out := make([]of.BankAccount, 0, len(raw))
	for _, a := range raw {
		out = append(out, of.BankAccount{
			ExternalID:  a.AccountID,
			Type:        a.Type,
			Subtype:     a.Subtype,
			Currency:    a.Currency,
			BrandName:   a.BrandName,
			CompanyCNPJ: a.CompanyCnpj,
			Number:      a.Number,
			CheckDigit:  a.CheckDigit,
			BranchCode:  a.BranchCode,
		})
	}
	return out, nil
}

func (v1Normalizer) balance(data json.RawMessage) (*of.Balance, error) {
	var raw v1Balance
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode v1 balance: %w", err)
	}
	return &of.Balance{
		Available:             raw.AvailableAmount,
		Blocked:               raw.BlockedAmount,
		AutomaticallyInvested: raw.AutomaticallyInvestedAmount,
		Currency:              defaultCurrency(raw.AvailableAmountCurrency),
		UpdatedAt:             parseTimestamp(raw.UpdateDateTime),
	}, nil
}

func (v1Normalizer) transactions(data json.RawMessage) ([]of.BankTransaction, error) {
	var raw []v1Transaction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode v1 transactions: %w", err)
	}
	out := make([]of.BankTransaction, 0, len(raw))
	for _, t := range raw {
		booked, err := parseDate(t.BookingDate)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.TransactionID, err)
		}
		description := t.TransactionName
		if description == "" {
			description = t.ReferenceNumber
		}
		out = append(out, of.BankTransaction{
			ExternalID:      t.TransactionID,
			BookingDate:     booked,
			Amount:          t.Amount,
			Currency:        defaultCurrency(t.Currency),
			CreditDebit:     t.CreditDebitType,
			Description:     description,
			Type:            t.Type,
			Category:        t.TransactionCategory,
			ReferenceNumber: t.ReferenceNumber,
		})
	}
	return out, nil
}

type v2Amount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type v2Account struct {
	AccountID   string `json:"accountId"`
	BrandName   string `json:"brandName"`
	CompanyCnpj string `json:"companyCnpj"`
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	CompeCode   string `json:"compeCode"`
	BranchCode  string `json:"branchCode"`
	Number      string `json:"number"`
	CheckDigit  string `json:"checkDigit"`
}

type v2Balance struct {
	AvailableAmount             v2Amount `json:"availableAmount"`
	BlockedAmount               v2Amount `json:"blockedAmount"`
	AutomaticallyInvestedAmount v2Amount `json:"automaticallyInvestedAmount"`
	UpdateDateTime              string   `json:"updateDateTime"`
}

type v2Transaction struct {
	TransactionID       string   `json:"transactionId"`
	CreditDebitType     string   `json:"creditDebitType"`
	TransactionName     string   `json:"transactionName"`
	TransactionCategory string   `json:"transactionCategory"`
	Type                string   `json:"type"`
	TransactionAmount   v2Amount `json:"transactionAmount"`
	TransactionDate     string   `json:"transactionDate"`
	ReferenceNumber     string   `json:"referenceNumber"`
}

type v2Normalizer struct{}

func (v2Normalizer) accounts(data json.RawMessage) ([]of.BankAccount, error) {
	var raw []v2Account
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode v2 accounts: %w", err)
	}
	out := make([]of.BankAccount, 0, len(raw))
	for _, a := range raw {
		out = append(out, of.BankAccount{
			ExternalID:  a.AccountID,
			Type:        a.Type,
			Subtype:     a.Subtype,
			Currency:    "BRL",
			BrandName:   a.BrandName,
			CompanyCNPJ: a.CompanyCnpj,
			Number:      a.Number,
			CheckDigit:  a.CheckDigit,
			BranchCode:  a.BranchCode,
		})
	}
	return out, nil
}

func (v2Normalizer) balance(data json.RawMessage) (*of.Balance, error) {
	// v2 returns a list with one entry per account.
	var list []v2Balance
	if err := json.Unmarshal(data, &list); err != nil {
		var single v2Balance
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("decode v2 balance: %w", err)
		}
		list = []v2Balance{single}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("decode v2 balance: empty data")
	}
	raw := list[0]
	return &of.Balance{
		Available:             raw.AvailableAmount.Amount,
		Blocked:               raw.BlockedAmount.Amount,
		AutomaticallyInvested: raw.AutomaticallyInvestedAmount.Amount,
		Currency:              defaultCurrency(raw.AvailableAmount.Currency),
		UpdatedAt:             parseTimestamp(raw.UpdateDateTime),
	}, nil
}

func (v2Normalizer) transactions(data json.RawMessage) ([]of.BankTransaction, error) {
	var raw []v2Transaction
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode v2 transactions: %w", err)
	}
	out := make([]of.BankTransaction, 0, len(raw))
	for _, t := range raw {
		booked, err := parseDate(t.TransactionDate)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.TransactionID, err)
		}
		out = append(out, of.BankTransaction{
			ExternalID:      t.TransactionID,
			BookingDate:     booked,
			Amount:          t.TransactionAmount.Amount,
			Currency:        defaultCurrency(t.TransactionAmount.Currency),
			CreditDebit:     t.CreditDebitType,
			Description:     t.TransactionName,
			Type:            t.Type,
			Category:        t.TransactionCategory,
			ReferenceNumber: t.ReferenceNumber,
		})
	}
	return out, nil
}

func defaultCurrency(c string) string {
	if c == "" {
		return "BRL"
	}
	return c
}

// parseDate accepts a plain date or a full timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
