// internal/workers/ledger/ingest-transactions/handler.go
package ingesttransactions

import (
	"context"
	"fmt"
	"time"

	"mailmerge-workers/internal/common/camunda"
	"mailmerge-workers/internal/common/config"
	"mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/metrics"
	"mailmerge-workers/internal/ledger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType   = "ledger.ingest-transactions"
	workerName = "ingest-transactions"
)

type Handler struct {
	config    *Config
	logger    logger.Logger
	camunda   *camunda.Client
	runner    Runner
	errors    *errors.ErrorHandler
	jobWorker *camunda.Worker
}

type HandlerOptions struct {
	AppConfig    *config.Config
	Camunda      *camunda.Client
	CustomConfig *Config
	Logger       logger.Logger
	Runner       Runner
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", workerName, err)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("invalid configuration for %s: runner is required", workerName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:  workerConfig,
		logger:  loggerInstance,
		camunda: opts.Camunda,
		runner:  opts.Runner,
		errors:  errors.NewErrorHandler(loggerInstance),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing ledger ingest request", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"worker":             TaskType,
	})

	if !h.config.Enabled {
		h.logger.Info("Worker disabled by configuration", map[string]interface{}{
			"worker": TaskType,
		})
		h.completeJob(ctx, client, job, map[string]interface{}{"ledgerDisabled": true})
		return
	}

	input, err := h.parseInput(job)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output.variables())
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	var (
		report *ledger.IngestReport
		err    error
	)
	if input.isPeriod() {
		report, err = h.runner.RunIngestPeriod(ctx, input.From, input.To)
	} else {
		report, err = h.runner.RunIngest(ctx)
	}
	if err != nil {
		return nil, err
	}
	return outputFromReport(report), nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidInputError("variables", err.Error())
	}

	result, err := inputSchema.ValidateValue(variables)
	if err != nil {
		return nil, errors.NewInternalError(err)
	}
	if !result.Valid {
		return nil, errors.NewInvalidInputError("variables", result.Error())
	}

	input := &Input{}
	from, _ := variables["from"].(string)
	to, _ := variables["to"].(string)
	if from == "" {
		return input, nil
	}

	if input.From, err = time.Parse(dateLayout, from); err != nil {
		return nil, errors.NewInvalidInputError("from", err.Error())
	}
	if input.To, err = time.Parse(dateLayout, to); err != nil {
		return nil, errors.NewInvalidInputError("to", err.Error())
	}
	if input.To.Before(input.From) {
		return nil, errors.NewInvalidInputError("to", fmt.Sprintf("%s is before %s", to, from))
	}
	if days := int(input.To.Sub(input.From).Hours() / 24); days > h.config.MaxPeriodDays {
		return nil, errors.NewInvalidInputError("to",
			fmt.Sprintf("period of %d days exceeds %d", days, h.config.MaxPeriodDays))
	}
	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, variables map[string]interface{}) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(variables)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}

	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}

	h.logger.Info("Completed ledger ingest job", map[string]interface{}{
		"jobKey":   job.GetKey(),
		"runId":    variables["ledgerRunId"],
		"appended": variables["ledgerAppended"],
		"worker":   TaskType,
	})
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.AsStandard(err).Code)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Register() error {
	if !h.config.Enabled {
		h.logger.Info("Worker is disabled, skipping registration", map[string]interface{}{
			"worker": TaskType,
		})
		return nil
	}

	h.jobWorker = h.camunda.StartWorker(h, camunda.WorkerOptions{
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       h.config.Timeout,
	}, h.logger)
	return nil
}

func (h *Handler) Close() {
	if h.jobWorker != nil {
		h.jobWorker.Stop()
		h.jobWorker = nil
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if workerCfg, exists := appConfig.Workers[workerName]; exists {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = config.GetDuration(workerCfg.Timeout)
		}
	}
	return cfg
}
