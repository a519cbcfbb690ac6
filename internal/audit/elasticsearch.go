// internal/audit/elasticsearch.go

// Package audit indexes merge outcomes and ledger runs into Elasticsearch.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/ledger"
	"mailmerge-workers/internal/merge"
)

// Document kinds stored in the audit index.
const (
	KindPair   = "pair"
	KindRun    = "run"
	KindIngest = "ingest"
)

// Document is one audit record. Fields unused by a kind stay empty.
type Document struct {
	Kind      string    `json:"kind"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"@timestamp"`

	Row           int    `json:"row,omitempty"`
	Topic         string `json:"topic,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	Status        string `json:"status,omitempty"`
	Stage         string `json:"stage,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	Message       string `json:"message,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	StatusWritten *bool  `json:"statusWritten,omitempty"`

	Sent       int   `json:"sent,omitempty"`
	Failed     int   `json:"failed,omitempty"`
	Skipped    int   `json:"skipped,omitempty"`
	Fetched    int   `json:"fetched,omitempty"`
	Appended   int   `json:"appended,omitempty"`
	Duplicates int   `json:"duplicates,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

// Indexer writes a merge run's pair outcomes and summary in one bulk request when the run ends.
// Indexing failures are logged; they never affect the run.
type Indexer struct {
	es     *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(es *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{es: es, index: index, logger: log}
}

func (x *Indexer) PairCompleted(context.Context, string, merge.PairResult) {}

func (x *Indexer) RunCompleted(ctx context.Context, report *merge.Report) {
	docs := make([]Document, 0, len(report.Results)+1)
	for _, r := range report.Results {
		written := r.StatusWritten
		docs = append(docs, Document{
			Kind:          KindPair,
			RunID:         report.RunID,
			Timestamp:     r.Outcome.At,
			Row:           r.Row,
			Topic:         r.Topic,
			Recipient:     r.Recipient,
			Status:        r.Outcome.Status,
			Stage:         string(r.Outcome.Stage),
			ErrorCode:     r.Outcome.Code,
			Message:       r.Outcome.Message,
			MessageID:     r.MessageID,
			StatusWritten: &written,
		})
	}
	docs = append(docs, Document{
		Kind:       KindRun,
		RunID:      report.RunID,
		Timestamp:  report.FinishedAt,
		Sent:       report.Sent,
		Failed:     report.Failed,
		Skipped:    report.Skipped,
		DurationMs: report.Duration().Milliseconds(),
	})

	if err := x.Bulk(ctx, docs); err != nil {
		x.logger.Warn("failed to index merge audit", map[string]interface{}{
			"runId": report.RunID,
			"error": err.Error(),
		})
	}
}

func (x *Indexer) IngestCompleted(ctx context.Context, report *ledger.IngestReport) {
	doc := Document{
		Kind:       KindIngest,
		RunID:      report.RunID,
		Timestamp:  report.FinishedAt,
		Fetched:    report.Fetched,
		Appended:   report.Appended,
		Duplicates: report.Duplicates,
		DurationMs: report.Duration().Milliseconds(),
	}
	if err := x.Bulk(ctx, []Document{doc}); err != nil {
		x.logger.Warn("failed to index ingest audit", map[string]interface{}{
			"runId": report.RunID,
			"error": err.Error(),
		})
	}
}

// Bulk indexes docs with the _bulk API.
func (x *Indexer) Bulk(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, d := range docs {
		body.WriteString(`{"index":{}}` + "\n")
		line, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encode audit document: %w", err)
		}
		body.Write(line)
		body.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Index: x.index,
		Body:  &body,
	}
	res, err := req.Do(ctx, x.es)
	if err != nil {
		return apperrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewExternalServiceError("elasticsearch", fmt.Errorf("bulk failed: %s", res.String()))
	}

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return apperrors.NewExternalServiceError("elasticsearch", fmt.Errorf("decode bulk response: %w", err))
	}
	if !out.Errors {
		return nil
	}

	failed := 0
	reason := ""
	for _, item := range out.Items {
		for _, result := range item {
			if result.Error != nil {
				failed++
				if reason == "" {
					reason = result.Error.Type + ": " + result.Error.Reason
				}
			}
		}
	}
	return apperrors.NewExternalServiceError("elasticsearch",
		fmt.Errorf("%d of %d documents rejected, first: %s", failed, len(docs), reason))
}
