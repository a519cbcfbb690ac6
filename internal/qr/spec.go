// internal/qr/spec.go

// Package qr resolves payment QR definitions against recipient rows and renders them to images.
package qr

import (
	"strconv"
	"strings"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/sheets"
)

// DefaultSize is the pixel size used when a QR row leaves Size blank.
const DefaultSize = 200

// QR table header names.
const (
	ColTopic                = "EmailTopic"
	ColImageName            = "ImageName"
	ColAccountNumber        = "AccountNumber"
	ColBankCode             = "BankCode"
	ColCurrency             = "Currency"
	ColAmount               = "Amount"
	ColVariableSymbol       = "VariableSymbol"
	ColVariableSymbolColumn = "VariableSymbolColumn"
	ColMessage              = "Message"
	ColSize                 = "Size"
)

var requiredColumns = []string{
	ColTopic, ColImageName, ColAccountNumber, ColBankCode, ColCurrency, ColAmount,
	ColVariableSymbol, ColVariableSymbolColumn, ColMessage, ColSize,
}

// Spec is one QR row. At most one of VariableSymbol and VariableSymbolColumn is set.
type Spec struct {
	Topic                string
	ImageName            string
	AccountNumber        string
	BankCode             string
	Currency             string
	Amount               string
	VariableSymbol       string
	VariableSymbolColumn string
	Message              string
	Size                 int
	Row                  int
}

// Specs groups QR definitions by email topic, preserving sheet order.
type Specs map[string][]Spec

// ForTopic returns the specs registered under topic.
func (s Specs) ForTopic(topic string) []Spec {
	return s[strings.TrimSpace(topic)]
}

// Count returns the total number of specs.
func (s Specs) Count() int {
	n := 0
	for _, list := range s {
		n += len(list)
	}
	return n
}

// LoadSpecs validates every QR row. Any invalid row fails the whole load with CONFIGURATION_ERROR
// so a run never renders a partially valid QR table. A nil table yields no specs.
func LoadSpecs(table *sheets.Table, recipients *sheets.Table) (Specs, error) {
	specs := make(Specs)
	if table == nil {
		return specs, nil
	}
	if err := table.Require(requiredColumns...); err != nil {
		return nil, err
	}

	seen := make(map[string]int)
	for _, row := range table.Rows {
		spec := Spec{
			Topic:                strings.TrimSpace(table.Get(row, ColTopic)),
			ImageName:            strings.TrimSpace(table.Get(row, ColImageName)),
			AccountNumber:        strings.TrimSpace(table.Get(row, ColAccountNumber)),
			BankCode:             strings.TrimSpace(table.Get(row, ColBankCode)),
			Currency:             strings.TrimSpace(table.Get(row, ColCurrency)),
			Amount:               strings.TrimSpace(table.Get(row, ColAmount)),
			VariableSymbol:       strings.TrimSpace(table.Get(row, ColVariableSymbol)),
			VariableSymbolColumn: strings.TrimSpace(table.Get(row, ColVariableSymbolColumn)),
			Message:              strings.TrimSpace(table.Get(row, ColMessage)),
			Size:                 DefaultSize,
			Row:                  row.Number,
		}

		if spec.Topic == "" || spec.ImageName == "" {
			return nil, apperrors.NewConfigurationErrorf("QR row %d: %s and %s are required", row.Number, ColTopic, ColImageName)
		}
		if spec.VariableSymbol != "" && spec.VariableSymbolColumn != "" {
			return nil, apperrors.NewConfigurationErrorf("QR row %d: %s and %s are mutually exclusive", row.Number, ColVariableSymbol, ColVariableSymbolColumn)
		}
		if spec.VariableSymbolColumn != "" && (recipients == nil || !recipients.HasColumn(spec.VariableSymbolColumn)) {
			return nil, apperrors.NewConfigurationErrorf("QR row %d: recipient column %q does not exist", row.Number, spec.VariableSymbolColumn)
		}
		if raw := strings.TrimSpace(table.Get(row, ColSize)); raw != "" {
			size, err := strconv.Atoi(raw)
			if err != nil || size <= 0 {
				return nil, apperrors.NewConfigurationErrorf("QR row %d: invalid size %q", row.Number, raw)
			}
			spec.Size = size
		}

		key := spec.Topic + "\x00" + spec.ImageName
		if first, dup := seen[key]; dup {
			return nil, apperrors.NewConfigurationErrorf("QR row %d: image %q already defined for topic %q on row %d", row.Number, spec.ImageName, spec.Topic, first)
		}
		seen[key] = row.Number

		specs[spec.Topic] = append(specs[spec.Topic], spec)
	}
	return specs, nil
}
