// internal/ledger/ingestor.go
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/metrics"
	"mailmerge-workers/internal/sheets"
)

type IngestorConfig struct {
	LogSheet     string
	ReferenceKey string
}

// IngestReport summarises one ingestion run.
type IngestReport struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Fetched       int
	Appended      int
	Duplicates    int
	HeaderCreated bool
	// Transactions are the rows appended, in order.
	Transactions []Transaction
}

func (r *IngestReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer is told about every finished ingestion run.
type Observer interface {
	IngestCompleted(ctx context.Context, report *IngestReport)
}

type Ingestor struct {
	source    Source
	store     sheets.Store
	deduper   Deduper
	cfg       IngestorConfig
	log       logger.Logger
	observers []Observer
	now       func() time.Time
}

func NewIngestor(source Source, store sheets.Store, deduper Deduper, cfg IngestorConfig, log logger.Logger) *Ingestor {
	if deduper == nil {
		deduper = SheetDeduper{}
	}
	return &Ingestor{
		source:  source,
		store:   store,
		deduper: deduper,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

func (in *Ingestor) AddObserver(o Observer) {
	in.observers = append(in.observers, o)
}

// Run ingests everything since the server-side cursor.
func (in *Ingestor) Run(ctx context.Context) (*IngestReport, error) {
	return in.ingest(ctx, in.source.FetchSinceCursor)
}

// RunPeriod ingests a date range. Already logged transactions are skipped the same way.
func (in *Ingestor) RunPeriod(ctx context.Context, from, to time.Time) (*IngestReport, error) {
	return in.ingest(ctx, func(ctx context.Context) ([]Transaction, error) {
		return in.source.FetchPeriod(ctx, from, to)
	})
}

func (in *Ingestor) ingest(ctx context.Context, fetch func(context.Context) ([]Transaction, error)) (*IngestReport, error) {
	report := &IngestReport{RunID: uuid.NewString(), StartedAt: in.now()}
	log := in.log.With(map[string]interface{}{"runId": report.RunID, "sheet": in.cfg.LogSheet})

	// The header is settled before fetching: the cursor endpoint moves on every call.
	created, err := in.store.EnsureHeader(ctx, in.cfg.LogSheet, LogHeaders)
	if err != nil {
		return nil, err
	}
	report.HeaderCreated = created

	txs, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	report.Fetched = len(txs)
	for i := range txs {
		txs[i].applyKeys(in.cfg.ReferenceKey)
	}

	logged, err := in.store.ReadTable(ctx, in.cfg.LogSheet)
	if err != nil {
		return nil, err
	}
	fresh, err := in.deduper.Filter(ctx, logged, txs)
	if err != nil {
		return nil, err
	}
	report.Duplicates = len(txs) - len(fresh)

	if len(fresh) > 0 {
		rows := make([][]string, len(fresh))
		for i, tx := range fresh {
			rows[i] = tx.LogRow()
		}
		if err := in.store.AppendRows(ctx, in.cfg.LogSheet, rows); err != nil {
			log.Error("failed to append transactions", map[string]interface{}{"count": len(rows), "error": err.Error()})
			return nil, err
		}
		if err := in.deduper.Remember(ctx, fresh); err != nil {
			// Rows are already in the sheet; a later run may log them again.
			log.Warn("failed to remember ingested transactions", map[string]interface{}{"error": err.Error()})
		}
	}

	report.Appended = len(fresh)
	report.Transactions = fresh
	report.FinishedAt = in.now()

	metrics.LedgerTransactions.WithLabelValues("appended").Add(float64(report.Appended))
	metrics.LedgerTransactions.WithLabelValues("duplicate").Add(float64(report.Duplicates))

	log.Info("ledger ingestion finished", map[string]interface{}{
		"fetched":       report.Fetched,
		"appended":      report.Appended,
		"duplicates":    report.Duplicates,
		"headerCreated": report.HeaderCreated,
		"durationMs":    report.Duration().Milliseconds(),
	})
	for _, o := range in.observers {
		o.IngestCompleted(ctx, report)
	}
	return report, nil
}
