// internal/workers/ledger/ingest-transactions/handler_test.go
package ingesttransactions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mailmerge-workers/internal/common/config"
	"mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/ledger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Runner Implementation
// ==========================

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunIngest(ctx context.Context) (*ledger.IngestReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.IngestReport), args.Error(1)
}

func (m *MockRunner) RunIngestPeriod(ctx context.Context, from, to time.Time) (*ledger.IngestReport, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.IngestReport), args.Error(1)
}

// ==========================
// Mock Job Helper
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	activatedJob := &pb.ActivatedJob{
		Key:                      key,
		Type:                     TaskType,
		ProcessInstanceKey:       key * 10,
		BpmnProcessId:            "payment-reconciliation",
		ProcessDefinitionVersion: 1,
		ProcessDefinitionKey:     1,
		ElementId:                "Activity_IngestTransactions",
		ElementInstanceKey:       1,
		CustomHeaders:            "{}",
		Worker:                   "test-worker",
		Retries:                  3,
		Variables:                string(variablesJSON),
	}

	return entities.Job{ActivatedJob: activatedJob}
}

// ==========================
// Test Helpers
// ==========================

func createValidConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       time.Minute,
		MaxPeriodDays: 31,
	}
}

func createTestHandler(t *testing.T, runner Runner) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOptions{
		CustomConfig: createValidConfig(),
		Logger:       logger.NewTestLogger(t),
		Runner:       runner,
	})
	require.NoError(t, err)
	return h
}

func day(s string) time.Time {
	d, _ := time.Parse(dateLayout, s)
	return d
}

func sampleReport() *ledger.IngestReport {
	return &ledger.IngestReport{
		RunID:      "ingest-1",
		Fetched:    3,
		Appended:   2,
		Duplicates: 1,
		Transactions: []ledger.Transaction{
			{ID: "10", ParsedKeys: []string{"20240001", "20240002"}},
			{ID: "11", ParsedKeys: []string{}},
		},
	}
}

// ==========================
// Handler Creation Tests
// ==========================

func TestHandler_NewHandler(t *testing.T) {
	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid configuration",
			opts: HandlerOptions{CustomConfig: createValidConfig(), Runner: &MockRunner{}},
		},
		{
			name:    "missing runner",
			opts:    HandlerOptions{CustomConfig: createValidConfig()},
			wantErr: true,
			errMsg:  "runner is required",
		},
		{
			name: "invalid period bound",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, Timeout: time.Minute},
				Runner:       &MockRunner{},
			},
			wantErr: true,
			errMsg:  "max_period_days must be positive",
		},
		{
			name: "invalid timeout",
			opts: HandlerOptions{
				CustomConfig: &Config{Enabled: true, MaxJobsActive: 1, MaxPeriodDays: 1},
				Runner:       &MockRunner{},
			},
			wantErr: true,
			errMsg:  "timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, err := NewHandler(tt.opts)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, handler)
				return
			}
			assert.NoError(t, err)
			require.NotNil(t, handler)
			assert.Equal(t, TaskType, handler.GetTaskType())
		})
	}
}

func TestHandler_ConfigFromAppConfig(t *testing.T) {
	appCfg := &config.Config{Workers: map[string]config.WorkerConfig{
		"ingest-transactions": {Enabled: true, MaxJobsActive: 3, Timeout: 45000},
	}}

	h, err := NewHandler(HandlerOptions{AppConfig: appCfg, Runner: &MockRunner{}, Logger: logger.NewNoOpLogger()})
	require.NoError(t, err)
	assert.True(t, h.IsEnabled())
	assert.Equal(t, 3, h.config.MaxJobsActive)
	assert.Equal(t, 45*time.Second, h.config.Timeout)
	assert.Equal(t, 366, h.config.MaxPeriodDays)
}

// ==========================
// Input Parsing Tests
// ==========================

func TestHandler_ParseInput(t *testing.T) {
	h := createTestHandler(t, &MockRunner{})

	tests := []struct {
		name       string
		variables  map[string]interface{}
		wantPeriod bool
		wantFrom   string
		wantTo     string
		wantErr    bool
		errField   string
	}{
		{
			name:      "cursor fetch",
			variables: map[string]interface{}{},
		},
		{
			name:       "period fetch",
			variables:  map[string]interface{}{"from": "2026-02-01", "to": "2026-02-28"},
			wantPeriod: true,
			wantFrom:   "2026-02-01",
			wantTo:     "2026-02-28",
		},
		{
			name:       "single day",
			variables:  map[string]interface{}{"from": "2026-02-01", "to": "2026-02-01"},
			wantPeriod: true,
			wantFrom:   "2026-02-01",
			wantTo:     "2026-02-01",
		},
		{
			name:      "from without to",
			variables: map[string]interface{}{"from": "2026-02-01"},
			wantErr:   true,
		},
		{
			name:      "to without from",
			variables: map[string]interface{}{"to": "2026-02-01"},
			wantErr:   true,
		},
		{
			name:      "wrong format",
			variables: map[string]interface{}{"from": "01.02.2026", "to": "2026-02-28"},
			wantErr:   true,
		},
		{
			name:      "impossible date",
			variables: map[string]interface{}{"from": "2026-02-30", "to": "2026-03-01"},
			wantErr:   true,
			errField:  "from",
		},
		{
			name:      "reversed range",
			variables: map[string]interface{}{"from": "2026-03-01", "to": "2026-02-01"},
			wantErr:   true,
			errField:  "to",
		},
		{
			name:      "range too long",
			variables: map[string]interface{}{"from": "2026-01-01", "to": "2026-03-01"},
			wantErr:   true,
			errField:  "to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := h.parseInput(createMockJob(1, tt.variables))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
				if tt.errField != "" {
					assert.Equal(t, tt.errField, errors.AsStandard(err).Metadata["field"])
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPeriod, input.isPeriod())
			if tt.wantPeriod {
				assert.Equal(t, day(tt.wantFrom), input.From)
				assert.Equal(t, day(tt.wantTo), input.To)
			}
		})
	}
}

// ==========================
// Execute Tests
// ==========================

func TestHandler_ExecuteCursor(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunIngest", mock.Anything).Return(sampleReport(), nil)

	h := createTestHandler(t, runner)
	output, err := h.Execute(context.Background(), &Input{})
	require.NoError(t, err)

	assert.Equal(t, "ingest-1", output.RunID)
	assert.Equal(t, 2, output.Appended)
	assert.Equal(t, 1, output.Duplicates)
	assert.Equal(t, []string{"20240001", "20240002"}, output.Keys)
	assert.Equal(t, 3, output.variables()["ledgerFetched"])
	runner.AssertExpectations(t)
	runner.AssertNotCalled(t, "RunIngestPeriod", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_ExecutePeriod(t *testing.T) {
	from, to := day("2026-02-01"), day("2026-02-28")
	runner := &MockRunner{}
	runner.On("RunIngestPeriod", mock.Anything, from, to).
		Return(&ledger.IngestReport{RunID: "ingest-2"}, nil)

	h := createTestHandler(t, runner)
	output, err := h.Execute(context.Background(), &Input{From: from, To: to})
	require.NoError(t, err)

	assert.Equal(t, "ingest-2", output.RunID)
	assert.NotNil(t, output.Keys, "an empty key list is still a list")
	assert.Empty(t, output.Keys)
	runner.AssertExpectations(t)
}

func TestHandler_ExecuteFailures(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    errors.ErrorCode
		wantRetries int
	}{
		{
			name:        "ledger unreachable",
			err:         errors.NewLedgerFetchFailedError(context.DeadlineExceeded),
			wantCode:    errors.ErrCodeLedgerFetchFailed,
			wantRetries: 3,
		},
		{
			name:     "placeholder token",
			err:      errors.NewConfigurationError("ledger token is not configured"),
			wantCode: errors.ErrCodeConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{}
			runner.On("RunIngest", mock.Anything).Return(nil, tt.err)

			h := createTestHandler(t, runner)
			output, err := h.Execute(context.Background(), &Input{})
			require.Error(t, err)
			assert.Nil(t, output)

			bpmn := errors.ConvertToBPMNError(errors.AsStandard(err))
			assert.Equal(t, string(tt.wantCode), bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
		})
	}
}
