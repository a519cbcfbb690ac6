// internal/payment/spd.go
package payment

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	apperrors "mailmerge-workers/internal/common/errors"
)

const (
	spdHeader    = "SPD*1.0"
	spdDelimiter = "*"
)

// Payload describes one short payment descriptor. Account fields are domestic; the
// identifier in ACC is always derived through BuildIBAN.
type Payload struct {
	Country        string
	AccountNumber  string
	AccountPrefix  string
	BankCode       string
	Amount         string
	Currency       string
	VariableSymbol string
	Message        string
}

// Build renders SPD*1.0*ACC:<iban>*AM:<amount>*CC:<currency>[*VS:<vs>][*MSG:<msg>].
func (p Payload) Build() (string, error) {
	iban, err := BuildIBAN(p.Country, p.AccountNumber, p.BankCode, p.AccountPrefix)
	if err != nil {
		return "", err
	}

	amount, err := ParseAmount(p.Amount)
	if err != nil {
		return "", err
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		return "", apperrors.NewInvalidInputError("currency", "currency is empty")
	}

	fields := []string{
		spdHeader,
		"ACC:" + iban.String(),
		"AM:" + amount.StringFixed(2),
		"CC:" + currency,
	}
	if vs := digitsOnly(p.VariableSymbol); vs != "" {
		fields = append(fields, "VS:"+vs)
	}
	if msg := sanitizeField(p.Message); msg != "" {
		fields = append(fields, "MSG:"+msg)
	}

	return strings.Join(fields, spdDelimiter), nil
}

// ParseAmount accepts "1234.5", "1 234,50", "1,234.50", "1.234,50 Kč" and similar spreadsheet
// renderings. With both separators present the last one is the decimal mark; a separator that
// repeats is grouping; a single comma is a decimal comma.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		case unicode.IsSpace(r), unicode.IsLetter(r), r == '\'', unicode.Is(unicode.Sc, r):
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		if strings.TrimSpace(raw) == "" {
			return decimal.Zero, apperrors.NewInvalidInputError("amount", "amount is empty")
		}
		return decimal.Zero, apperrors.NewInvalidInputError("amount", raw)
	}

	lastComma, lastDot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperrors.NewInvalidInputError("amount", raw)
	}
	if d.IsNegative() {
		return decimal.Zero, apperrors.NewInvalidInputError("amount", "amount is negative")
	}
	return d, nil
}

// sanitizeField drops the delimiter so free text cannot open a new field.
func sanitizeField(s string) string {
	s = strings.ReplaceAll(s, spdDelimiter, "")
	return strings.TrimSpace(s)
}
