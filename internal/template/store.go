// internal/template/store.go
package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/common/validation"
)

// Store resolves a topic to its message template.
type Store interface {
	Get(ctx context.Context, topic string) (*Template, error)
}

const documentSchema = `{
	"type": "object",
	"required": ["topic", "subject"],
	"additionalProperties": false,
	"properties": {
		"topic":   {"type": "string", "minLength": 1},
		"subject": {"type": "string"},
		"text":    {"type": "string"},
		"html":    {"type": "string"},
		"attachments": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["path"],
				"properties": {
					"path":        {"type": "string", "minLength": 1},
					"filename":    {"type": "string"},
					"contentType": {"type": "string"}
				}
			}
		}
	}
}`

var templateSchema = validation.MustCompile(documentSchema)

type document struct {
	Topic       string `json:"topic"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
	HTML        string `json:"html"`
	Attachments []struct {
		Path        string `json:"path"`
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	} `json:"attachments,omitempty"`
}

// ==========================
// File store
// ==========================

// FileStore serves templates from *.json documents in one directory. Documents are
// validated and indexed by topic when the store is opened; attachment files are read on Get.
type FileStore struct {
	dir  string
	docs map[string]document
}

// NewFileStore loads and validates every template document in dir.
func NewFileStore(dir string) (*FileStore, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, apperrors.NewConfigurationErrorf("template dir %s: %v", dir, err)
	}
	sort.Strings(paths)

	store := &FileStore{dir: dir, docs: make(map[string]document, len(paths))}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, apperrors.NewConfigurationErrorf("read template %s: %v", p, err)
		}

		result, err := templateSchema.ValidateBytes(raw)
		if err != nil {
			return nil, apperrors.NewConfigurationErrorf("template %s: %v", filepath.Base(p), err)
		}
		if !result.Valid {
			return nil, apperrors.NewConfigurationErrorf("template %s: %s", filepath.Base(p), result.Error())
		}

		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, apperrors.NewConfigurationErrorf("decode template %s: %v", p, err)
		}
		if _, dup := store.docs[doc.Topic]; dup {
			return nil, apperrors.NewConfigurationErrorf("duplicate template topic %q in %s", doc.Topic, filepath.Base(p))
		}
		store.docs[doc.Topic] = doc
	}
	return store, nil
}

// Topics lists the loaded topics.
func (s *FileStore) Topics() []string {
	topics := make([]string, 0, len(s.docs))
	for t := range s.docs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (s *FileStore) Get(_ context.Context, topic string) (*Template, error) {
	doc, ok := s.docs[topic]
	if !ok {
		return nil, apperrors.NewTemplateNotFoundError(topic)
	}

	tpl := &Template{Topic: doc.Topic, Subject: doc.Subject, Text: doc.Text, HTML: doc.HTML}
	for _, a := range doc.Attachments {
		path := a.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(s.dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.NewTemplateInvalidError(topic, err)
		}
		name := a.Filename
		if name == "" {
			name = filepath.Base(path)
		}
		tpl.Attachments = append(tpl.Attachments, Attachment{
			Filename:    name,
			ContentType: contentTypeFor(name, a.ContentType),
			Data:        data,
		})
	}
	return tpl, nil
}

// Put writes tpl to <dir>/<topic>.json and indexes it. Attachments are not written.
func (s *FileStore) Put(_ context.Context, tpl Template) error {
	topic := strings.TrimSpace(tpl.Topic)
	if topic == "" || strings.ContainsAny(topic, `/\`) || topic == "." || topic == ".." {
		return apperrors.NewInvalidInputError("topic", tpl.Topic)
	}

	doc := document{Topic: topic, Subject: tpl.Subject, Text: tpl.Text, HTML: tpl.HTML}
	if existing, ok := s.docs[topic]; ok {
		doc.Attachments = existing.Attachments
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperrors.NewStorageError("create template dir", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, topic+".json"), raw, 0o644); err != nil {
		return apperrors.NewStorageError("write template", err)
	}
	s.docs[topic] = doc
	return nil
}

func contentTypeFor(name, declared string) string {
	if declared != "" {
		return declared
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ==========================
// Postgres store
// ==========================

const selectTemplateSQL = `SELECT subject, text_body, html_body FROM message_templates WHERE topic = $1`

const createTemplatesTableSQL = `CREATE TABLE IF NOT EXISTS message_templates (
	topic      TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	text_body  TEXT NOT NULL DEFAULT '',
	html_body  TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const upsertTemplateSQL = `INSERT INTO message_templates (topic, subject, text_body, html_body, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (topic) DO UPDATE SET subject = EXCLUDED.subject, text_body = EXCLUDED.text_body,
	html_body = EXCLUDED.html_body, updated_at = NOW()`

// PostgresStore reads templates from the message_templates table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTemplatesTableSQL); err != nil {
		return apperrors.NewStorageError("create message_templates", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, topic string) (*Template, error) {
	tpl := &Template{Topic: topic}
	err := s.db.QueryRowContext(ctx, selectTemplateSQL, topic).Scan(&tpl.Subject, &tpl.Text, &tpl.HTML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewTemplateNotFoundError(topic)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("select template", err)
	}
	return tpl, nil
}

// Put inserts or replaces a template.
func (s *PostgresStore) Put(ctx context.Context, tpl Template) error {
	if _, err := s.db.ExecContext(ctx, upsertTemplateSQL, tpl.Topic, tpl.Subject, tpl.Text, tpl.HTML); err != nil {
		return apperrors.NewStorageError("upsert template", err)
	}
	return nil
}

// ==========================
// Run-scoped memoization
// ==========================

// MemoStore remembers templates for the lifetime of one run so each topic is fetched once.
type MemoStore struct {
	next Store
	log  logger.Logger

	mu    sync.Mutex
	cache map[string]*Template
}

func NewMemoStore(next Store, log logger.Logger) *MemoStore {
	return &MemoStore{next: next, log: log, cache: make(map[string]*Template)}
}

func (s *MemoStore) Get(ctx context.Context, topic string) (*Template, error) {
	s.mu.Lock()
	tpl, ok := s.cache[topic]
	s.mu.Unlock()
	if ok {
		return tpl, nil
	}

	tpl, err := s.next.Get(ctx, topic)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[topic] = tpl
	s.mu.Unlock()
	s.log.Debug("template fetched", map[string]interface{}{"topic": topic})
	return tpl, nil
}
