package openfinance

import (
	"strings"

	"ofbconnect/internal/domain/connection"
)

// Local transaction types.
const (
	TypeDespesa       = "DESPESA"
	TypeReceita       = "RECEITA"
	TypeTransferencia = "TRANSFERENCIA"
	TypeInvestimento  = "INVESTIMENTO"
	TypeOutros        = "OUTROS"
)

var transactionTypes = map[string]string{
	"PURCHASE":   TypeDespesa,
	"CREDIT":     TypeReceita,
	"TRANSFER":   TypeTransferencia,
	"INVESTMENT": TypeInvestimento,
}

// LocalType maps a bank transaction type to the local type.
func LocalType(bankType string) string {
	if t, ok := transactionTypes[strings.ToUpper(bankType)]; ok {
		return t
	}
	return TypeOutros
}

// toImported converts bt into the row stored for acct. Debits get a negative amount.
func toImported(bt BankTransaction, conn *connection.Connection, acct *connection.Account) *ImportedTransaction {
	amount := bt.Amount.Abs()
	if strings.EqualFold(bt.CreditDebit, Debito) {
		amount = amount.Neg()
	}
	currency := bt.Currency
	if currency == "" {
		currency = acct.Currency
	}
	return &ImportedTransaction{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		AccountID:    acct.ID,
		ExternalID:   bt.ExternalID,
		BookingDate:  bt.BookingDate,
		Amount:       amount,
		Currency:     currency,
		Description:  strings.TrimSpace(bt.Description),
		Type:         LocalType(bt.Type),
		Tags:         tagsFor(bt),
		Notes:        notesFor(bt),
	}
}

func tagsFor(bt BankTransaction) []string {
	var tags []string
	if bt.Type != "" {
		tags = append(tags, bt.Type)
	}
	if bt.Category != "" {
		tags = append(tags, bt.Category)
	}
	return tags
}

func notesFor(bt BankTransaction) string {
	var parts []string
	if bt.ReferenceNumber != "" {
		parts = append(parts, "Ref: "+bt.ReferenceNumber)
	}
	if bt.Type != "" {
		parts = append(parts, "Type: "+bt.Type)
	}
	return strings.Join(parts, " | ")
}

func toAccount(ba BankAccount, connectionID string) *connection.Account {
	number := ba.Number
	if ba.CheckDigit != "" {
		number += "-" + ba.CheckDigit
	}
	return &connection.Account{
		ConnectionID: connectionID,
		ExternalID:   ba.ExternalID,
		Type:         ba.Type,
		Subtype:      ba.Subtype,
		Currency:     ba.Currency,
		BrandName:    ba.BrandName,
		CompanyCNPJ:  ba.CompanyCNPJ,
		MaskedNumber: mask(number),
		MaskedAgency: mask(ba.BranchCode),
	}
}

// mask keeps the last four characters of s visible.
func mask(s string) string {
	const visible = 4
	if len(s) <= visible {
		return s
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
