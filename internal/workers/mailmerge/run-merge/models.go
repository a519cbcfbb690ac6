// internal/workers/mailmerge/run-merge/models.go
package runmerge

import (
	"context"

	"mailmerge-workers/internal/common/validation"
	"mailmerge-workers/internal/merge"
)

// Runner performs one merge pass. *app.App satisfies it.
type Runner interface {
	RunMerge(ctx context.Context) (*merge.Report, error)
}

type Input struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

type Output struct {
	RunID         string `json:"mergeRunId"`
	Sent          int    `json:"mergeSent"`
	Failed        int    `json:"mergeFailed"`
	Skipped       int    `json:"mergeSkipped"`
	WriteFailures int    `json:"mergeWriteFailures"`
	DurationMs    int64  `json:"mergeDurationMs"`
}

var inputSchema = validation.MustCompile(`{
	"type": "object",
	"properties": {
		"requestedBy": {"type": "string", "maxLength": 200}
	}
}`)

func outputFromReport(r *merge.Report) *Output {
	return &Output{
		RunID:         r.RunID,
		Sent:          r.Sent,
		Failed:        r.Failed,
		Skipped:       r.Skipped,
		WriteFailures: r.WriteFailures,
		DurationMs:    r.Duration().Milliseconds(),
	}
}

func (o *Output) variables() map[string]interface{} {
	return map[string]interface{}{
		"mergeRunId":         o.RunID,
		"mergeSent":          o.Sent,
		"mergeFailed":        o.Failed,
		"mergeSkipped":       o.Skipped,
		"mergeWriteFailures": o.WriteFailures,
		"mergeDurationMs":    o.DurationMs,
	}
}
