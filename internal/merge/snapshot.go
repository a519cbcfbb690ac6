// internal/merge/snapshot.go
package merge

import (
	"context"
	"strings"
	"time"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/qr"
	"mailmerge-workers/internal/sheets"
)

// Settings names the sheets a run reads and the trigger values it reacts to.
type Settings struct {
	RulesSheet      string
	RecipientsSheet string
	QRSheet         string
	RecipientColumn string
	SendValue       string
	ResendValue     string
	// QRFirstRowOnly reads QR variable-symbol columns from the first data row instead of the
	// row being processed.
	QRFirstRowOnly bool

	From     string
	FromName string
	ReplyTo  string
}

// Snapshot is everything a run reads up front. It is not refreshed while the run writes
// status cells.
type Snapshot struct {
	RunID      string
	StartedAt  time.Time
	Recipients *sheets.Table
	Rules      []Rule
	QR         qr.Specs

	recipientIdx int
}

// LoadSnapshot reads and validates the rule, recipient and QR sheets. Every problem found here
// is a CONFIGURATION_ERROR and nothing has been sent or written yet.
func LoadSnapshot(ctx context.Context, store sheets.Store, s Settings, runID string, now time.Time, log logger.Logger) (*Snapshot, error) {
	recipients, err := readRequired(ctx, store, s.RecipientsSheet)
	if err != nil {
		return nil, err
	}
	recipientIdx, err := recipients.Column(s.RecipientColumn)
	if err != nil {
		return nil, apperrors.NewConfigurationErrorf("recipient column %q not in %s", s.RecipientColumn, recipients.Sheet)
	}

	ruleTable, err := readRequired(ctx, store, s.RulesSheet)
	if err != nil {
		return nil, err
	}
	rules, err := LoadRules(ruleTable, recipients)
	if err != nil {
		return nil, err
	}

	var qrTable *sheets.Table
	if strings.TrimSpace(s.QRSheet) != "" {
		qrTable, err = store.ReadTable(ctx, s.QRSheet)
		switch {
		case apperrors.IsNotFound(err):
			log.Info("no QR sheet, messages go out without QR codes", map[string]interface{}{"sheet": s.QRSheet})
			qrTable = nil
		case err != nil:
			return nil, err
		}
	}
	specs, err := qr.LoadSpecs(qrTable, recipients)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		RunID:        runID,
		StartedAt:    now,
		Recipients:   recipients,
		Rules:        rules,
		QR:           specs,
		recipientIdx: recipientIdx,
	}, nil
}

func readRequired(ctx context.Context, store sheets.Store, sheet string) (*sheets.Table, error) {
	table, err := store.ReadTable(ctx, sheet)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewConfigurationErrorf("sheet %q does not exist", sheet)
	}
	return table, err
}

// Recipient returns the trimmed recipient address of row.
func (s *Snapshot) Recipient(row sheets.Row) string {
	return strings.TrimSpace(s.Recipients.Value(row, s.recipientIdx))
}
