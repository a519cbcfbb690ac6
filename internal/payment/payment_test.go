package payment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mailmerge-workers/internal/common/errors"
)

// ==========================
// IBAN
// ==========================

func TestBuildIBAN_KnownVectors(t *testing.T) {
	tests := []struct {
		name      string
		account   string
		bankCode  string
		prefix    string
		formatted string
	}{
		{
			name:      "prefixed account",
			account:   "2000145399",
			bankCode:  "0800",
			prefix:    "19",
			formatted: "CZ65 0800 0000 1920 0014 5399",
		},
		{
			name:      "prefix embedded in account",
			account:   "19-2000145399",
			bankCode:  "0800",
			formatted: "CZ65 0800 0000 1920 0014 5399",
		},
		{
			name:      "short account padded",
			account:   "123456789",
			bankCode:  "0800",
			prefix:    "19",
			formatted: "CZ61 0800 0000 1901 2345 6789",
		},
		{
			name:      "no prefix",
			account:   "1234",
			bankCode:  "100",
			formatted: "CZ54 0100 0000 0000 0000 1234",
		},
		{
			name:      "non-digits stripped",
			account:   " 2000 145 399 ",
			bankCode:  "0800/",
			prefix:    "0019",
			formatted: "CZ65 0800 0000 1920 0014 5399",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iban, err := BuildIBAN("CZ", tt.account, tt.bankCode, tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.formatted, iban.Formatted())
			assert.Len(t, iban.String(), 24)
			assert.Equal(t, "CZ", iban.Country())
			assert.NoError(t, ValidateIBAN(iban.String()))
		})
	}
}

func TestBuildIBAN_AlwaysPassesMod97(t *testing.T) {
	for i := 0; i < 500; i++ {
		account := fmt.Sprintf("%d", 1000+i*7919)
		bank := fmt.Sprintf("%04d", (i*37)%10000)
		prefix := fmt.Sprintf("%d", i%1000)

		iban, err := BuildIBAN("CZ", account, bank, prefix)
		require.NoError(t, err)
		require.NoError(t, ValidateIBAN(iban.Formatted()), "iban %s", iban)
	}
}

func TestBuildIBAN_DefaultCountry(t *testing.T) {
	iban, err := BuildIBAN("", "2000145399", "0800", "19")
	require.NoError(t, err)
	assert.Equal(t, IBAN("CZ6508000000192000145399"), iban)
	assert.Equal(t, "65", iban.CheckDigits())
}

func TestBuildIBAN_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		country  string
		account  string
		bankCode string
		prefix   string
	}{
		{"empty account", "CZ", "", "0800", ""},
		{"account without digits", "CZ", "abc", "0800", ""},
		{"empty bank code", "CZ", "123", "", ""},
		{"account too long", "CZ", "12345678901", "0800", ""},
		{"bank code too long", "CZ", "123", "08001", ""},
		{"prefix too long", "CZ", "123", "0800", "1234567"},
		{"bad country", "C1", "123", "0800", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildIBAN(tt.country, tt.account, tt.bankCode, tt.prefix)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		})
	}
}

func TestValidateIBAN(t *testing.T) {
	assert.NoError(t, ValidateIBAN("CZ65 0800 0000 1920 0014 5399"))
	assert.NoError(t, ValidateIBAN("GB82 WEST 1234 5698 7654 32"))
	assert.Error(t, ValidateIBAN("CZ66 0800 0000 1920 0014 5399"))
	assert.Error(t, ValidateIBAN("CZ"))
	assert.Error(t, ValidateIBAN("1234567890"))
	assert.Error(t, ValidateIBAN("CZ65-0800"))
}

// ==========================
// SPD payload
// ==========================

func TestPayload_Build(t *testing.T) {
	base := Payload{
		Country:       "CZ",
		AccountNumber: "2000145399",
		AccountPrefix: "19",
		BankCode:      "0800",
		Amount:        "1500",
		Currency:      "czk",
	}

	tests := []struct {
		name     string
		mutate   func(p *Payload)
		expected string
	}{
		{
			name:     "mandatory fields only",
			mutate:   func(p *Payload) {},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1500.00*CC:CZK",
		},
		{
			name: "with variable symbol and message",
			mutate: func(p *Payload) {
				p.VariableSymbol = "20240001"
				p.Message = "Tuition"
			},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1500.00*CC:CZK*VS:20240001*MSG:Tuition",
		},
		{
			name: "message without variable symbol",
			mutate: func(p *Payload) {
				p.Message = "Camp*fee"
			},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1500.00*CC:CZK*MSG:Campfee",
		},
		{
			name: "decimal comma amount rounded to two places",
			mutate: func(p *Payload) {
				p.Amount = "1 234,5"
			},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1234.50*CC:CZK",
		},
		{
			name: "spreadsheet formatted amount with grouping",
			mutate: func(p *Payload) {
				p.Amount = "1,500.00"
			},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1500.00*CC:CZK",
		},
		{
			name: "blank optional fields omitted",
			mutate: func(p *Payload) {
				p.VariableSymbol = "  "
				p.Message = " "
			},
			expected: "SPD*1.0*ACC:CZ6508000000192000145399*AM:1500.00*CC:CZK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			got, err := p.Build()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPayload_Build_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{"missing account", Payload{BankCode: "0800", Amount: "1", Currency: "CZK"}},
		{"missing amount", Payload{AccountNumber: "1", BankCode: "0800", Currency: "CZK"}},
		{"bad amount", Payload{AccountNumber: "1", BankCode: "0800", Amount: "ten", Currency: "CZK"}},
		{"negative amount", Payload{AccountNumber: "1", BankCode: "0800", Amount: "-5", Currency: "CZK"}},
		{"missing currency", Payload{AccountNumber: "1", BankCode: "0800", Amount: "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.payload.Build()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1500", "1500"},
		{"1234.5", "1234.5"},
		{"1 234,5", "1234.5"},
		{"1,234.50", "1234.5"},
		{"1.234,50", "1234.5"},
		{"1,234,567", "1234567"},
		{"1.234.567", "1234567"},
		{"1\u00a0500,00 Kč", "1500"},
		{"CZK 99.90", "99.9"},
		{"1'250.00", "1250"},
		{"0,5", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	for _, bad := range []string{"", "  ", "ten", "1.2.3,4,5", "-5", "12-3"} {
		_, err := ParseAmount(bad)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput), bad)
	}
}
