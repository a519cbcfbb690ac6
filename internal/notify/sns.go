// internal/notify/sns.go

// Package notify publishes run summaries to an SNS topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/ledger"
	"mailmerge-workers/internal/merge"
)

// maxFailuresListed bounds the failure list in a merge summary.
const maxFailuresListed = 20

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes one message per run that did something. Runs with nothing sent,
// failed or appended stay quiet.
type SNSNotifier struct {
	client   SNSService
	topicARN string
	logger   logger.Logger
}

func NewSNSNotifier(client SNSService, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, logger: log}
}

type failureSummary struct {
	Row     int    `json:"row"`
	Topic   string `json:"topic"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type mergeSummary struct {
	Kind          string           `json:"kind"`
	RunID         string           `json:"runId"`
	StartedAt     string           `json:"startedAt"`
	DurationMs    int64            `json:"durationMs"`
	Sent          int              `json:"sent"`
	Failed        int              `json:"failed"`
	Skipped       int              `json:"skipped"`
	WriteFailures int              `json:"writeFailures"`
	Failures      []failureSummary `json:"failures,omitempty"`
}

type ingestSummary struct {
	Kind       string `json:"kind"`
	RunID      string `json:"runId"`
	StartedAt  string `json:"startedAt"`
	DurationMs int64  `json:"durationMs"`
	Fetched    int    `json:"fetched"`
	Appended   int    `json:"appended"`
	Duplicates int    `json:"duplicates"`
}

func (n *SNSNotifier) PairCompleted(context.Context, string, merge.PairResult) {}

func (n *SNSNotifier) RunCompleted(ctx context.Context, report *merge.Report) {
	if report.Sent == 0 && report.Failed == 0 {
		return
	}

	summary := mergeSummary{
		Kind:          "merge",
		RunID:         report.RunID,
		StartedAt:     report.StartedAt.UTC().Format(time.RFC3339),
		DurationMs:    report.Duration().Milliseconds(),
		Sent:          report.Sent,
		Failed:        report.Failed,
		Skipped:       report.Skipped,
		WriteFailures: report.WriteFailures,
	}
	for _, r := range report.Results {
		if r.Outcome.Status != merge.StatusFailed {
			continue
		}
		if len(summary.Failures) == maxFailuresListed {
			break
		}
		summary.Failures = append(summary.Failures, failureSummary{
			Row:     r.Row,
			Topic:   r.Topic,
			Stage:   string(r.Outcome.Stage),
			Message: r.Outcome.Message,
		})
	}

	subject := fmt.Sprintf("Mail merge: %d sent, %d failed", report.Sent, report.Failed)
	n.publish(ctx, subject, report.Failed > 0, summary)
}

func (n *SNSNotifier) IngestCompleted(ctx context.Context, report *ledger.IngestReport) {
	if report.Appended == 0 {
		return
	}
	summary := ingestSummary{
		Kind:       "ingest",
		RunID:      report.RunID,
		StartedAt:  report.StartedAt.UTC().Format(time.RFC3339),
		DurationMs: report.Duration().Milliseconds(),
		Fetched:    report.Fetched,
		Appended:   report.Appended,
		Duplicates: report.Duplicates,
	}
	subject := fmt.Sprintf("Ledger: %d new transactions", report.Appended)
	n.publish(ctx, subject, false, summary)
}

// publish never fails the run; errors are logged.
func (n *SNSNotifier) publish(ctx context.Context, subject string, failed bool, body interface{}) {
	msg, err := json.Marshal(body)
	if err != nil {
		n.logger.Error("failed to encode notification", map[string]interface{}{"error": err.Error()})
		return
	}

	severity := "info"
	if failed {
		severity = "error"
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(msg)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {DataType: aws.String("String"), StringValue: aws.String(severity)},
		},
	})
	if err != nil {
		n.logger.Warn("failed to publish notification", map[string]interface{}{
			"topicArn": n.topicARN,
			"error":    err.Error(),
		})
		return
	}
	n.logger.Debug("notification published", map[string]interface{}{"subject": subject})
}
