// internal/workers/ledger/ingest-transactions/models.go
package ingesttransactions

import (
	"context"
	"time"

	"mailmerge-workers/internal/common/validation"
	"mailmerge-workers/internal/ledger"
)

// Runner ingests ledger transactions. *app.App satisfies it.
type Runner interface {
	RunIngest(ctx context.Context) (*ledger.IngestReport, error)
	RunIngestPeriod(ctx context.Context, from, to time.Time) (*ledger.IngestReport, error)
}

const dateLayout = "2006-01-02"

// Input selects the fetch mode: both dates set means a period fetch, neither means the
// cursor endpoint.
type Input struct {
	From time.Time
	To   time.Time
}

func (i *Input) isPeriod() bool {
	return !i.From.IsZero()
}

type Output struct {
	RunID      string   `json:"ledgerRunId"`
	Fetched    int      `json:"ledgerFetched"`
	Appended   int      `json:"ledgerAppended"`
	Duplicates int      `json:"ledgerDuplicates"`
	Keys       []string `json:"ledgerKeys"`
}

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"from": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
		"to":   {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}
	},
	"dependencies": {
		"from": ["to"],
		"to": ["from"]
	}
}`)

// outputFromReport flattens the keys of every appended transaction, in ledger order.
func outputFromReport(r *ledger.IngestReport) *Output {
	keys := []string{}
	for _, tx := range r.Transactions {
		keys = append(keys, tx.ParsedKeys...)
	}
	return &Output{
		RunID:      r.RunID,
		Fetched:    r.Fetched,
		Appended:   r.Appended,
		Duplicates: r.Duplicates,
		Keys:       keys,
	}
}

func (o *Output) variables() map[string]interface{} {
	return map[string]interface{}{
		"ledgerRunId":      o.RunID,
		"ledgerFetched":    o.Fetched,
		"ledgerAppended":   o.Appended,
		"ledgerDuplicates": o.Duplicates,
		"ledgerKeys":       o.Keys,
	}
}
