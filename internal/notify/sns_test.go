package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/ledger"
	"mailmerge-workers/internal/merge"
)

// ==========================
// Mock Implementations
// ==========================

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.PublishFunc == nil {
		return &sns.PublishOutput{}, nil
	}
	return m.PublishFunc(ctx, params, optFns...)
}

const topicARN = "arn:aws:sns:eu-central-1:123456789012:mailmerge"

var started = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func failedResult(row int) merge.PairResult {
	return merge.PairResult{
		Row:   row,
		Topic: "invoice",
		Outcome: merge.Failed(merge.StageDispatch, "DISPATCH_FAILED",
			"DISPATCH_FAILED: Message dispatch failed", started),
	}
}

// ==========================
// Merge summaries
// ==========================

func TestSNSNotifier_RunCompleted(t *testing.T) {
	client := &MockSNSService{}
	n := NewSNSNotifier(client, topicARN, logger.NewTestLogger(t))

	report := &merge.Report{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Sent:       2,
		Failed:     1,
		Skipped:    4,
		Results: []merge.PairResult{
			{Row: 2, Topic: "invoice", Outcome: merge.Sent(started)},
			failedResult(3),
			{Row: 4, Topic: "reminder", Outcome: merge.Sent(started)},
		},
	}
	n.RunCompleted(context.Background(), report)

	require.Len(t, client.calls, 1)
	in := client.calls[0]
	assert.Equal(t, topicARN, *in.TopicArn)
	assert.Equal(t, "Mail merge: 2 sent, 1 failed", *in.Subject)
	assert.Equal(t, "error", *in.MessageAttributes["severity"].StringValue)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &body))
	assert.Equal(t, "merge", body["kind"])
	assert.Equal(t, "run-1", body["runId"])
	assert.Equal(t, float64(1500), body["durationMs"])
	assert.Equal(t, float64(4), body["skipped"])
	failures := body["failures"].([]interface{})
	require.Len(t, failures, 1)
	first := failures[0].(map[string]interface{})
	assert.Equal(t, float64(3), first["row"])
	assert.Equal(t, "dispatch", first["stage"])
}

func TestSNSNotifier_QuietRunsPublishNothing(t *testing.T) {
	client := &MockSNSService{}
	n := NewSNSNotifier(client, topicARN, logger.NewTestLogger(t))

	n.RunCompleted(context.Background(), &merge.Report{RunID: "idle", Skipped: 12})
	n.IngestCompleted(context.Background(), &ledger.IngestReport{RunID: "idle", Fetched: 3, Duplicates: 3})
	n.PairCompleted(context.Background(), "idle", failedResult(2))

	assert.Empty(t, client.calls)
}

func TestSNSNotifier_FailureListIsBounded(t *testing.T) {
	client := &MockSNSService{}
	n := NewSNSNotifier(client, topicARN, logger.NewTestLogger(t))

	report := &merge.Report{RunID: "big", StartedAt: started, FinishedAt: started}
	for i := 0; i < maxFailuresListed+5; i++ {
		report.Results = append(report.Results, failedResult(i+2))
		report.Failed++
	}
	n.RunCompleted(context.Background(), report)

	require.Len(t, client.calls, 1)
	var body mergeSummary
	require.NoError(t, json.Unmarshal([]byte(*client.calls[0].Message), &body))
	assert.Len(t, body.Failures, maxFailuresListed)
	assert.Equal(t, maxFailuresListed+5, body.Failed)
	assert.Equal(t, fmt.Sprintf("Mail merge: 0 sent, %d failed", maxFailuresListed+5), *client.calls[0].Subject)
}

func TestSNSNotifier_PublishErrorIsSwallowed(t *testing.T) {
	client := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("AuthorizationError")
		},
	}
	n := NewSNSNotifier(client, topicARN, logger.NewTestLogger(t))

	assert.NotPanics(t, func() {
		n.RunCompleted(context.Background(), &merge.Report{RunID: "r", Sent: 1})
	})
	assert.Len(t, client.calls, 1)
}

// ==========================
// Ingest summaries
// ==========================

func TestSNSNotifier_IngestCompleted(t *testing.T) {
	client := &MockSNSService{}
	n := NewSNSNotifier(client, topicARN, logger.NewTestLogger(t))

	n.IngestCompleted(context.Background(), &ledger.IngestReport{
		RunID:      "ingest-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Fetched:    5,
		Appended:   3,
		Duplicates: 2,
	})

	require.Len(t, client.calls, 1)
	assert.Equal(t, "Ledger: 3 new transactions", *client.calls[0].Subject)
	assert.Equal(t, "info", *client.calls[0].MessageAttributes["severity"].StringValue)

	var body ingestSummary
	require.NoError(t, json.Unmarshal([]byte(*client.calls[0].Message), &body))
	assert.Equal(t, "ingest", body.Kind)
	assert.Equal(t, 2, body.Duplicates)
	assert.Equal(t, "2026-03-01T09:00:00Z", body.StartedAt)
}
