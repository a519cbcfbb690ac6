// internal/ledger/transaction.go

// Package ledger pulls bank transactions from the ledger API and appends unseen ones to a log sheet.
package ledger

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// LogHeaders is the log sheet header, in column order.
var LogHeaders = []string{
	"Date", "Amount", "Currency", "Account", "Bank Code", "Sender Name", "Transaction Type",
	"Message", "Variable Symbol", "Parsed Keys", "Keys Count", "Transaction ID",
}

const (
	colTransactionID = "Transaction ID"
	dateLayout       = "2006-01-02"
	keyLength        = 8
)

type Transaction struct {
	ID             string
	Date           time.Time
	Amount         decimal.Decimal
	Currency       string
	AccountNumber  string
	BankCode       string
	SenderName     string
	Type           string
	Message        string
	VariableSymbol string

	ParsedKeys []string
	KeyCount   int
}

// ParseNote extracts reference codes from a payment note: everything except digits and
// whitespace is dropped, the rest is split on whitespace and 8-digit tokens are kept.
func ParseNote(note string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case unicode.IsSpace(r):
			return ' '
		}
		return -1
	}, note)

	keys := []string{}
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) == keyLength {
			keys = append(keys, tok)
		}
	}
	return keys
}

// applyKeys fills ParsedKeys from the note when the variable symbol matches referenceKey.
// An empty referenceKey matches every transaction.
func (t *Transaction) applyKeys(referenceKey string) {
	t.ParsedKeys = []string{}
	ref := strings.TrimSpace(referenceKey)
	if ref == "" || strings.TrimSpace(t.VariableSymbol) == ref {
		t.ParsedKeys = ParseNote(t.Message)
	}
	t.KeyCount = len(t.ParsedKeys)
}

// LogRow renders the transaction in LogHeaders order.
func (t Transaction) LogRow() []string {
	date := ""
	if !t.Date.IsZero() {
		date = t.Date.Format(dateLayout)
	}
	return []string{
		date,
		t.Amount.StringFixed(2),
		t.Currency,
		t.AccountNumber,
		t.BankCode,
		t.SenderName,
		t.Type,
		t.Message,
		t.VariableSymbol,
		strings.Join(t.ParsedKeys, ", "),
		strconv.Itoa(t.KeyCount),
		t.ID,
	}
}
