// internal/payment/iban.go

// Package payment builds checksum-protected account identifiers (IBAN) and the
// short payment descriptor carried by payment QR codes.
package payment

import (
	"strings"

	apperrors "mailmerge-workers/internal/common/errors"
)

const (
	DefaultCountryCode = "CZ"

	accountWidth  = 10
	prefixWidth   = 6
	bankCodeWidth = 4
	groupSize     = 4
)

// IBAN is a compact identifier: country code, two check digits, BBAN.
type IBAN string

// String returns the compact form used inside payment payloads.
func (i IBAN) String() string {
	return string(i)
}

// Formatted groups the identifier in blocks of four separated by single spaces.
func (i IBAN) Formatted() string {
	s := string(i)
	var b strings.Builder
	for idx := 0; idx < len(s); idx += groupSize {
		if idx > 0 {
			b.WriteByte(' ')
		}
		end := idx + groupSize
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[idx:end])
	}
	return b.String()
}

// Country returns the two-letter country prefix.
func (i IBAN) Country() string {
	if len(i) < 2 {
		return ""
	}
	return string(i[:2])
}

// CheckDigits returns the two check digits.
func (i IBAN) CheckDigits() string {
	if len(i) < 4 {
		return ""
	}
	return string(i[2:4])
}

// BuildIBAN assembles an identifier from a domestic account. Non-digit characters are
// stripped from every part. An account written as "prefix-number" is split when prefix
// is empty. An empty prefix means all zeroes.
func BuildIBAN(country, account, bankCode, prefix string) (IBAN, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		country = DefaultCountryCode
	}
	if len(country) != 2 || !isUpperLetters(country) {
		return "", apperrors.NewInvalidInputError("country", country)
	}

	if strings.TrimSpace(prefix) == "" {
		if p, n, ok := strings.Cut(account, "-"); ok {
			prefix, account = p, n
		}
	}

	acct := digitsOnly(account)
	bank := digitsOnly(bankCode)
	pre := digitsOnly(prefix)

	if acct == "" {
		return "", apperrors.NewInvalidInputError("account", "account number is empty")
	}
	if bank == "" {
		return "", apperrors.NewInvalidInputError("bankCode", "bank code is empty")
	}
	if len(acct) > accountWidth {
		return "", apperrors.NewInvalidInputError("account", "account number longer than 10 digits")
	}
	if len(bank) > bankCodeWidth {
		return "", apperrors.NewInvalidInputError("bankCode", "bank code longer than 4 digits")
	}
	if len(pre) > prefixWidth {
		return "", apperrors.NewInvalidInputError("prefix", "prefix longer than 6 digits")
	}

	bban := leftPad(bank, bankCodeWidth) + leftPad(pre, prefixWidth) + leftPad(acct, accountWidth)
	check := 98 - mod97(bban+lettersToDigits(country)+"00")

	return IBAN(country + twoDigits(check) + bban), nil
}

// ValidateIBAN runs the ISO 7064 mod-97 check on a compact or space-grouped identifier.
func ValidateIBAN(value string) error {
	s := strings.ToUpper(strings.ReplaceAll(value, " ", ""))
	if len(s) < 5 {
		return apperrors.NewInvalidInputError("iban", "identifier too short")
	}
	if !isUpperLetters(s[:2]) {
		return apperrors.NewInvalidInputError("iban", "identifier must start with a country code")
	}

	var probe strings.Builder
	for _, r := range s[4:] + s[:4] {
		switch {
		case r >= '0' && r <= '9':
			probe.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			probe.WriteString(lettersToDigits(string(r)))
		default:
			return apperrors.NewInvalidInputError("iban", "unexpected character "+string(r))
		}
	}
	if mod97(probe.String()) != 1 {
		return apperrors.NewInvalidInputError("iban", "checksum mismatch")
	}
	return nil
}

// mod97 reduces a decimal string digit by digit; the probe does not fit in a uint64.
func mod97(digits string) int {
	r := 0
	for _, d := range digits {
		r = (r*10 + int(d-'0')) % 97
	}
	return r
}

func lettersToDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		n := int(r-'A') + 10
		b.WriteByte(byte('0' + n/10))
		b.WriteByte(byte('0' + n%10))
	}
	return b.String()
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func isUpperLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
