// internal/template/engine.go

// Package template fills {{key}} placeholders in subject/text/html message templates
// and loads those templates from files, Postgres or a Redis cache.
package template

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "mailmerge-workers/internal/common/errors"
)

// Template is one message template. Attachments are copied onto every message sent from it
// and never go through placeholder substitution.
type Template struct {
	Topic       string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is a static file carried by a template.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type triplet struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

var placeholderPattern = regexp.MustCompile(`\{\{([^{}\s]+)\}\}`)

// Fill replaces every {{key}} in subject, text and html with data[key]. Missing keys become
// empty strings. Substitution happens on the JSON-encoded triplet, so every value is escaped
// with Escape before insertion and the result is decoded back.
func Fill(tpl Template, data map[string]string) (Template, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(triplet{Subject: tpl.Subject, Text: tpl.Text, HTML: tpl.HTML}); err != nil {
		return Template{}, apperrors.NewTemplateInvalidError(tpl.Topic, err)
	}

	filled := placeholderPattern.ReplaceAllStringFunc(buf.String(), func(match string) string {
		key := Unescape(match[2 : len(match)-2])
		return Escape(data[key])
	})

	var out triplet
	if err := json.Unmarshal([]byte(filled), &out); err != nil {
		return Template{}, apperrors.NewTemplateInvalidError(tpl.Topic, err)
	}

	return Template{
		Topic:       tpl.Topic,
		Subject:     out.Subject,
		Text:        out.Text,
		HTML:        out.HTML,
		Attachments: tpl.Attachments,
	}, nil
}

// Placeholders lists the distinct keys referenced by a template, in first-seen order.
func Placeholders(tpl Template) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, field := range []string{tpl.Subject, tpl.Text, tpl.HTML} {
		for _, m := range placeholderPattern.FindAllStringSubmatch(field, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			keys = append(keys, m[1])
		}
	}
	return keys
}

// Escape encodes s as the body of a JSON string literal: backslash, quote, slash and
// control characters are escaped.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '/':
			b.WriteString(`\/`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case utf8.RuneError:
			b.WriteString(`�`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteString(hex2(byte(r)))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Unescape reverses Escape. Input that is not a valid escaped body is returned unchanged.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

func hex2(b byte) string {
	h := strconv.FormatUint(uint64(b), 16)
	if len(h) == 1 {
		return "0" + h
	}
	return h
}
