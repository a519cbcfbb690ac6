// internal/app/app.go

// Package app assembles stores, renderers, senders and observers from configuration and runs the
// merge and ingest pipelines. The worker manager and the CLI share it.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"mailmerge-workers/internal/audit"
	"mailmerge-workers/internal/common/aws"
	"mailmerge-workers/internal/common/config"
	"mailmerge-workers/internal/common/database"
	apperrors "mailmerge-workers/internal/common/errors"
	commonhttp "mailmerge-workers/internal/common/http"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/observability"
	"mailmerge-workers/internal/ledger"
	"mailmerge-workers/internal/mail"
	"mailmerge-workers/internal/merge"
	"mailmerge-workers/internal/notify"
	"mailmerge-workers/internal/qr"
	"mailmerge-workers/internal/sheets"
	"mailmerge-workers/internal/template"
)

// Pipelines recorded by observability.
const (
	PipelineMerge  = "merge"
	PipelineIngest = "ingest"
)

// SheetOpener returns a store for one run and a function releasing it.
type SheetOpener func(ctx context.Context, path string) (sheets.Store, func() error, error)

// App holds everything a run needs. Runs are serialised: merge and ingest may share a workbook.
type App struct {
	cfg *config.Config
	log logger.Logger
	obs *observability.Observability

	openSheets  SheetOpener
	templates   template.Store
	putTemplate func(context.Context, template.Template) error
	resolver    merge.ArtifactResolver
	sender      mail.Sender
	source      ledger.Source
	deduper     ledger.Deduper

	mergeObservers  []merge.Observer
	ingestObservers []ledger.Observer

	checks  map[string]func(context.Context) error
	closers []func() error

	runMu sync.Mutex
	clock func() time.Time
}

// Option overrides a component New would otherwise build from configuration.
type Option func(*App)

// WithSheets makes every run use store.
func WithSheets(store sheets.Store) Option {
	return func(a *App) {
		a.openSheets = func(context.Context, string) (sheets.Store, func() error, error) {
			return store, func() error { return nil }, nil
		}
	}
}

// WithTemplates replaces the template store. Seeding templates works when store also has Put.
func WithTemplates(store template.Store) Option {
	return func(a *App) {
		a.templates = store
		if w, ok := store.(templateWriter); ok {
			a.putTemplate = w.Put
		}
	}
}

type templateWriter interface {
	Put(ctx context.Context, tpl template.Template) error
}

func WithSender(sender mail.Sender) Option {
	return func(a *App) { a.sender = sender }
}

func WithRenderer(renderer qr.Renderer) Option {
	return func(a *App) { a.resolver = qr.NewResolver(renderer, a.cfg.QR.CountryCode, a.log) }
}

func WithLedgerSource(source ledger.Source) Option {
	return func(a *App) { a.source = source }
}

func WithObservability(obs *observability.Observability) Option {
	return func(a *App) { a.obs = obs }
}

func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.clock = clock }
}

// New connects the backends named in cfg. Components supplied through options are not built.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		log:    log,
		checks: map[string]func(context.Context) error{},
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	var (
		pg    *database.PostgresClient
		rdb   *database.RedisClient
		esCli *database.ElasticsearchClient
		err   error
	)

	needsPostgres := (a.openSheets == nil && cfg.Sheets.Backend == "postgres") ||
		(a.templates == nil && cfg.Templates.Source == "postgres")
	if needsPostgres {
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.checks["postgres"] = pg.Ping
	}

	if cfg.Database.Redis.Address != "" {
		rdb = database.NewRedis(cfg.Database.Redis)
		a.closers = append(a.closers, rdb.Close)
		a.checks["redis"] = rdb.Ping
	}

	if cfg.Audit.Enabled {
		esCli, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		a.checks["elasticsearch"] = esCli.Ping
	}

	if a.openSheets == nil {
		if err := a.buildSheets(ctx, pg); err != nil {
			return err
		}
	}
	if a.templates == nil {
		if err := a.buildTemplates(ctx, pg, rdb); err != nil {
			return err
		}
	}
	if a.resolver == nil {
		a.resolver = qr.NewResolver(a.buildRenderer(rdb), cfg.QR.CountryCode, a.log)
	}
	if a.sender == nil {
		if err := a.buildSender(ctx); err != nil {
			return err
		}
	}
	if a.source == nil {
		a.source = ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Token,
			commonhttp.NewClient(config.GetDuration(cfg.Ledger.Timeout)))
	}

	var seen redis.Cmdable
	if rdb != nil {
		seen = rdb.Client
	}
	a.deduper, err = ledger.NewDeduper(cfg.Ledger.Dedup, seen)
	if err != nil {
		return err
	}

	if esCli != nil {
		indexer := audit.NewIndexer(esCli.Client, cfg.Audit.Index, a.log)
		a.mergeObservers = append(a.mergeObservers, indexer)
		a.ingestObservers = append(a.ingestObservers, indexer)
	}
	if cfg.Notifications.SNS.Enabled {
		region := cfg.Notifications.SNS.Region
		if region == "" {
			region = cfg.Mail.Region
		}
		client, err := aws.NewSNSClient(ctx, region)
		if err != nil {
			return apperrors.NewConfigurationErrorf("sns client: %v", err)
		}
		notifier := notify.NewSNSNotifier(client, cfg.Notifications.SNS.TopicARN, a.log)
		a.mergeObservers = append(a.mergeObservers, notifier)
		a.ingestObservers = append(a.ingestObservers, notifier)
	}
	return nil
}

func (a *App) buildSheets(ctx context.Context, pg *database.PostgresClient) error {
	switch a.cfg.Sheets.Backend {
	case "postgres":
		store := sheets.NewPostgresStore(pg.DB)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.openSheets = func(context.Context, string) (sheets.Store, func() error, error) {
			return store, func() error { return nil }, nil
		}
	default:
		// The workbook is reopened per run so edits made between runs are picked up.
		a.openSheets = func(_ context.Context, path string) (sheets.Store, func() error, error) {
			store, err := sheets.OpenXLSX(path)
			if err != nil {
				return nil, nil, err
			}
			return store, store.Close, nil
		}
	}
	return nil
}

func (a *App) buildTemplates(ctx context.Context, pg *database.PostgresClient, rdb *database.RedisClient) error {
	var store template.Store
	switch a.cfg.Templates.Source {
	case "postgres":
		pgStore := template.NewPostgresStore(pg.DB)
		if err := pgStore.Migrate(ctx); err != nil {
			return err
		}
		store, a.putTemplate = pgStore, pgStore.Put
	default:
		fileStore, err := template.NewFileStore(a.cfg.Templates.Dir)
		if err != nil {
			return err
		}
		store, a.putTemplate = fileStore, fileStore.Put
	}

	if ttl := config.GetDuration(a.cfg.Templates.CacheTTL); ttl > 0 && rdb != nil {
		cached := template.NewCachedStore(store, rdb.Client, ttl, a.log)
		put := a.putTemplate
		a.putTemplate = func(ctx context.Context, tpl template.Template) error {
			if err := put(ctx, tpl); err != nil {
				return err
			}
			if err := cached.Invalidate(ctx, tpl.Topic); err != nil {
				a.log.Warn("template cache invalidation failed", map[string]interface{}{
					"topic": tpl.Topic,
					"error": err.Error(),
				})
			}
			return nil
		}
		store = cached
	}
	a.templates = store
	return nil
}

func (a *App) buildRenderer(rdb *database.RedisClient) qr.Renderer {
	var renderer qr.Renderer
	switch a.cfg.QR.Renderer {
	case "local":
		renderer = qr.NewLocalRenderer()
	default:
		renderer = qr.NewHTTPRenderer(a.cfg.QR.RendererURL, commonhttp.NewClient(config.GetDuration(a.cfg.QR.Timeout)))
	}
	if ttl := config.GetDuration(a.cfg.QR.CacheTTL); ttl > 0 && rdb != nil {
		renderer = qr.NewCachedRenderer(renderer, rdb.Client, ttl, a.log)
	}
	return renderer
}

func (a *App) buildSender(ctx context.Context) error {
	switch a.cfg.Mail.Provider {
	case "ses":
		client, err := aws.NewSESClient(ctx, a.cfg.Mail.Region)
		if err != nil {
			return apperrors.NewConfigurationErrorf("ses client: %v", err)
		}
		a.sender = mail.NewSESSender(client)
	case "smtp":
		smtp := a.cfg.Mail.SMTP
		if smtp.Password == config.PlaceholderSecret {
			return apperrors.NewConfigurationError("SMTP password is not configured")
		}
		a.sender = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			UseTLS:   smtp.UseTLS,
			Timeout:  config.GetDuration(smtp.Timeout),
		})
	default:
		a.sender = mail.NewLogSender(a.log)
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Ready pings every backend that was connected.
func (a *App) Ready(ctx context.Context) map[string]error {
	out := make(map[string]error, len(a.checks))
	for name, check := range a.checks {
		out[name] = check(ctx)
	}
	return out
}

func (a *App) settings() merge.Settings {
	cfg := a.cfg
	return merge.Settings{
		RulesSheet:      cfg.Sheets.RulesSheet,
		RecipientsSheet: cfg.Sheets.RecipientsSheet,
		QRSheet:         cfg.Sheets.QRSheet,
		RecipientColumn: cfg.Merge.RecipientColumn,
		SendValue:       cfg.Merge.SendValue,
		ResendValue:     cfg.Merge.ResendValue,
		QRFirstRowOnly:  cfg.Merge.QRFirstRowOnly,
		From:            cfg.Mail.From,
		FromName:        cfg.Mail.FromName,
		ReplyTo:         cfg.Mail.ReplyTo,
	}
}

// RunMerge performs one merge pass over the configured workbook.
func (a *App) RunMerge(ctx context.Context) (*merge.Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	started := a.clock()
	store, release, err := a.openSheets(ctx, a.cfg.Sheets.WorkbookPath)
	if err != nil {
		a.record(ctx, PipelineMerge, started, err)
		return nil, err
	}
	defer a.release(release)

	orch := merge.NewOrchestrator(merge.Dependencies{
		Store:     store,
		Templates: a.templates,
		Resolver:  a.resolver,
		Sender:    a.sender,
		Logger:    a.log,
		Observers: a.mergeObservers,
		Clock:     a.clock,
	}, a.settings())

	report, err := orch.Run(ctx)
	a.record(ctx, PipelineMerge, started, err)
	return report, err
}

// RunIngest ingests transactions since the ledger cursor.
func (a *App) RunIngest(ctx context.Context) (*ledger.IngestReport, error) {
	return a.ingest(ctx, func(in *ledger.Ingestor) (*ledger.IngestReport, error) {
		return in.Run(ctx)
	})
}

// RunIngestPeriod ingests a date range.
func (a *App) RunIngestPeriod(ctx context.Context, from, to time.Time) (*ledger.IngestReport, error) {
	return a.ingest(ctx, func(in *ledger.Ingestor) (*ledger.IngestReport, error) {
		return in.RunPeriod(ctx, from, to)
	})
}

func (a *App) ingest(ctx context.Context, run func(*ledger.Ingestor) (*ledger.IngestReport, error)) (*ledger.IngestReport, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	started := a.clock()
	store, release, err := a.openSheets(ctx, a.cfg.Sheets.LogWorkbookPath)
	if err != nil {
		a.record(ctx, PipelineIngest, started, err)
		return nil, err
	}
	defer a.release(release)

	in := ledger.NewIngestor(a.source, store, a.deduper, ledger.IngestorConfig{
		LogSheet:     a.cfg.Ledger.LogSheet,
		ReferenceKey: a.cfg.Ledger.ReferenceKey,
	}, a.log)
	for _, o := range a.ingestObservers {
		in.AddObserver(o)
	}

	report, err := run(in)
	a.record(ctx, PipelineIngest, started, err)
	return report, err
}

func (a *App) release(release func() error) {
	if err := release(); err != nil {
		a.log.Warn("failed to release sheet store", map[string]interface{}{"error": err.Error()})
	}
}

func (a *App) record(ctx context.Context, pipeline string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(apperrors.AsStandard(err).Code)
	}
	a.obs.RecordRun(ctx, pipeline, status, a.clock().Sub(started))
}

// Describe summarises the wiring for startup logs.
func (a *App) Describe() map[string]interface{} {
	return map[string]interface{}{
		"sheetsBackend":   a.cfg.Sheets.Backend,
		"templates":       a.cfg.Templates.Source,
		"mailProvider":    a.cfg.Mail.Provider,
		"qrRenderer":      a.cfg.QR.Renderer,
		"ledgerDedup":     a.cfg.Ledger.Dedup,
		"mergeObservers":  len(a.mergeObservers),
		"ingestObservers": len(a.ingestObservers),
		"backends":        len(a.checks),
	}
}
