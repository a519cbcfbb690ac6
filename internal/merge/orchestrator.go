// internal/merge/orchestrator.go
package merge

import (
	"context"
	"fmt"
	"html"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/metrics"
	"mailmerge-workers/internal/mail"
	"mailmerge-workers/internal/qr"
	"mailmerge-workers/internal/sheets"
	"mailmerge-workers/internal/template"
)

// Synthetic data keys available to every template.
const (
	KeyRecipient      = "recipient"
	KeyConditionValue = "conditionValue"
	KeySentValue      = "sentValue"
)

// ArtifactResolver renders the QR specs of a topic for one recipient row.
type ArtifactResolver interface {
	Resolve(ctx context.Context, spec qr.Spec, recipients *sheets.Table, row sheets.Row) (*qr.Artifact, error)
}

// Observer is told about every finished pair and every finished run.
type Observer interface {
	PairCompleted(ctx context.Context, runID string, result PairResult)
	RunCompleted(ctx context.Context, report *Report)
}

type Dependencies struct {
	Store     sheets.Store
	Templates template.Store
	Resolver  ArtifactResolver
	Sender    mail.Sender
	Logger    logger.Logger
	Observers []Observer
	Clock     func() time.Time
}

// PairResult is the outcome of one (row, rule) pair.
type PairResult struct {
	Row           int
	Topic         string
	Recipient     string
	Outcome       Outcome
	MessageID     string
	StatusWritten bool
}

type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Sent          int
	Failed        int
	Skipped       int
	WriteFailures int
	Results       []PairResult
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Orchestrator runs merges. One Run is one pass over every (row, rule) pair.
type Orchestrator struct {
	store     sheets.Store
	templates template.Store
	resolver  ArtifactResolver
	sender    mail.Sender
	logger    logger.Logger
	observers []Observer
	now       func() time.Time
	settings  Settings
}

func NewOrchestrator(deps Dependencies, settings Settings) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		store:     deps.Store,
		templates: deps.Templates,
		resolver:  deps.Resolver,
		sender:    deps.Sender,
		logger:    log,
		observers: deps.Observers,
		now:       clock,
		settings:  settings,
	}
}

// Run loads a snapshot and processes every pair. Only configuration and snapshot read errors
// are returned; pair failures end up in the report and in the status cells.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	log := o.logger.With(map[string]interface{}{"runId": runID})
	started := o.now()

	snap, err := LoadSnapshot(ctx, o.store, o.settings, runID, started, log)
	if err != nil {
		log.Error("merge run aborted before dispatch", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	// A started run finishes every pair so no status cell records a caller
	// cancellation as a dispatch failure.
	ctx = context.WithoutCancel(ctx)

	log.Info("merge run started", map[string]interface{}{
		"rules":      len(snap.Rules),
		"recipients": len(snap.Recipients.Rows),
		"qrSpecs":    snap.QR.Count(),
	})

	report := &Report{RunID: runID, StartedAt: started}
	templates := template.NewMemoStore(o.templates, log)

	for _, row := range snap.Recipients.Rows {
		for _, rule := range snap.Rules {
			if !o.shouldProcess(snap, rule, row) {
				report.Skipped++
				metrics.MergePairs.WithLabelValues(rule.Topic, StatusSkipped).Inc()
				continue
			}

			result := o.runPair(ctx, snap, templates, rule, row, log)
			result.StatusWritten = o.persist(ctx, rule, row, result.Outcome, log)

			switch result.Outcome.Status {
			case StatusSent:
				report.Sent++
			default:
				report.Failed++
			}
			if !result.StatusWritten {
				report.WriteFailures++
			}
			report.Results = append(report.Results, result)
			metrics.MergePairs.WithLabelValues(rule.Topic, result.Outcome.Status).Inc()

			for _, obs := range o.observers {
				obs.PairCompleted(ctx, runID, result)
			}
		}
	}

	report.FinishedAt = o.now()
	log.Info("merge run finished", map[string]interface{}{
		"sent":          report.Sent,
		"failed":        report.Failed,
		"skipped":       report.Skipped,
		"writeFailures": report.WriteFailures,
		"durationMs":    report.Duration().Milliseconds(),
	})
	for _, obs := range o.observers {
		obs.RunCompleted(ctx, report)
	}
	return report, nil
}

// shouldProcess: the send trigger with a blank status cell, or the resend trigger regardless
// of status. Triggers compare trimmed and case-insensitively.
func (o *Orchestrator) shouldProcess(snap *Snapshot, rule Rule, row sheets.Row) bool {
	condition := strings.TrimSpace(snap.Recipients.Value(row, rule.conditionIdx))
	status := strings.TrimSpace(snap.Recipients.Value(row, rule.statusIdx))

	if o.settings.ResendValue != "" && strings.EqualFold(condition, o.settings.ResendValue) {
		return true
	}
	return strings.EqualFold(condition, o.settings.SendValue) && status == ""
}

func (o *Orchestrator) persist(ctx context.Context, rule Rule, row sheets.Row, outcome Outcome, log logger.Logger) bool {
	if err := o.store.WriteCell(ctx, o.settings.RecipientsSheet, row.Number, rule.statusIdx, outcome.String()); err != nil {
		metrics.StatusWriteFailures.Inc()
		log.Error("status write failed", map[string]interface{}{
			"row":     row.Number,
			"topic":   rule.Topic,
			"outcome": outcome.String(),
			"error":   err.Error(),
		})
		return false
	}
	return true
}

// ==========================
// Per-pair pipeline
// ==========================

type qrEntry struct {
	spec     qr.Spec
	artifact *qr.Artifact
}

// pair carries the state of one (row, rule) through the stages.
type pair struct {
	snap      *Snapshot
	templates template.Store
	rule      Rule
	row       sheets.Row

	recipient string
	tpl       *template.Template
	data      map[string]string
	qr        []qrEntry
	filled    template.Template
	msg       *mail.Message
	messageID string
}

type stageFunc func(ctx context.Context, p *pair) error

func (o *Orchestrator) stages() []struct {
	name Stage
	run  stageFunc
} {
	return []struct {
		name Stage
		run  stageFunc
	}{
		{StageFetchTemplate, o.fetchTemplate},
		{StageMapData, o.mapData},
		{StageResolveQR, o.resolveQR},
		{StageFillTemplate, o.fillTemplate},
		{StageEmbedArtifacts, o.embedArtifacts},
		{StageDispatch, o.dispatch},
	}
}

func (o *Orchestrator) runPair(ctx context.Context, snap *Snapshot, templates template.Store, rule Rule, row sheets.Row, runLog logger.Logger) (result PairResult) {
	p := &pair{snap: snap, templates: templates, rule: rule, row: row, recipient: snap.Recipient(row)}
	log := runLog.With(map[string]interface{}{"row": row.Number, "topic": rule.Topic})

	result = PairResult{Row: row.Number, Topic: rule.Topic, Recipient: p.recipient}
	current := StageFetchTemplate

	fail := func(err error) {
		stdErr := apperrors.AsStandard(err)
		result.Outcome = Failed(current, string(stdErr.Code), stdErr.Error(), o.now())
		metrics.MergeStageFailures.WithLabelValues(string(current), string(stdErr.Code)).Inc()
		log.Warn("pair failed", map[string]interface{}{
			"stage":     string(current),
			"errorCode": string(stdErr.Code),
			"error":     stdErr.Error(),
		})
	}

	defer func() {
		if r := recover(); r != nil {
			fail(apperrors.NewInternalError(fmt.Errorf("panic: %v", r)))
		}
	}()

	for _, s := range o.stages() {
		current = s.name
		if err := s.run(ctx, p); err != nil {
			fail(err)
			return result
		}
	}

	result.MessageID = p.messageID
	result.Outcome = Sent(o.now())
	log.Info("message sent", map[string]interface{}{"recipient": p.recipient, "messageId": p.messageID})
	return result
}

func (o *Orchestrator) fetchTemplate(ctx context.Context, p *pair) error {
	tpl, err := p.templates.Get(ctx, p.rule.Topic)
	if err != nil {
		return err
	}
	p.tpl = tpl
	return nil
}

func (o *Orchestrator) mapData(_ context.Context, p *pair) error {
	if p.recipient == "" {
		return apperrors.NewInvalidInputError(o.settings.RecipientColumn, "recipient address is empty")
	}

	recipients := p.snap.Recipients
	data := recipients.Record(p.row)
	data[KeyRecipient] = p.recipient
	data[KeyConditionValue] = recipients.Value(p.row, p.rule.conditionIdx)
	data[KeySentValue] = recipients.Value(p.row, p.rule.statusIdx)
	p.data = data
	return nil
}

func (o *Orchestrator) resolveQR(ctx context.Context, p *pair) error {
	specs := p.snap.QR.ForTopic(p.rule.Topic)
	if len(specs) == 0 {
		return nil
	}

	source := p.row
	if o.settings.QRFirstRowOnly && len(p.snap.Recipients.Rows) > 0 {
		source = p.snap.Recipients.Rows[0]
	}

	for _, spec := range specs {
		artifact, err := o.resolver.Resolve(ctx, spec, p.snap.Recipients, source)
		if err != nil {
			return err
		}
		p.qr = append(p.qr, qrEntry{spec: spec, artifact: artifact})
		p.data[spec.ImageName] = Marker(spec.ImageName)
	}
	return nil
}

func (o *Orchestrator) fillTemplate(_ context.Context, p *pair) error {
	filled, err := template.Fill(*p.tpl, p.data)
	if err != nil {
		return err
	}
	p.filled = filled
	return nil
}

func (o *Orchestrator) embedArtifacts(_ context.Context, p *pair) error {
	msg := &mail.Message{
		From:     o.settings.From,
		FromName: o.settings.FromName,
		ReplyTo:  o.settings.ReplyTo,
		To:       p.recipient,
		Subject:  p.filled.Subject,
		Text:     p.filled.Text,
		HTML:     p.filled.HTML,
		Headers:  map[string]string{"X-Mailmerge-Topic": p.rule.Topic},
	}

	for _, e := range p.qr {
		marker := Marker(e.spec.ImageName)
		msg.Subject = strings.ReplaceAll(msg.Subject, marker, "")
		msg.Text = strings.ReplaceAll(msg.Text, marker, "")
		if e.artifact == nil {
			msg.HTML = strings.ReplaceAll(msg.HTML, marker, "")
			continue
		}

		msg.HTML = strings.ReplaceAll(msg.HTML, marker, ImageTag(e.artifact.Name))
		msg.Inline = append(msg.Inline, mail.Part{
			Filename:    e.artifact.Name + extensionFor(e.artifact.ContentType),
			ContentType: e.artifact.ContentType,
			ContentID:   e.artifact.Name,
			Data:        e.artifact.Data,
		})
	}

	for _, a := range p.filled.Attachments {
		msg.Attachments = append(msg.Attachments, mail.Part{Filename: a.Filename, ContentType: a.ContentType, Data: a.Data})
	}

	p.msg = msg
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, p *pair) error {
	id, err := o.sender.Send(ctx, p.msg)
	if err != nil {
		return err
	}
	p.messageID = id
	return nil
}

// Marker is the placeholder value injected for a QR image before the template is filled.
func Marker(imageName string) string {
	return "[[qr:" + imageName + "]]"
}

// ImageTag references an inline part by content ID.
func ImageTag(imageName string) string {
	escaped := html.EscapeString(imageName)
	return fmt.Sprintf(`<img src="cid:%s" alt="%s">`, escaped, escaped)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".png"
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	}
	return ".png"
}
