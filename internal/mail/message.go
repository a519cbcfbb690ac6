// internal/mail/message.go

// Package mail builds MIME messages and hands them to a transport.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "mailmerge-workers/internal/common/errors"
)

// Sender delivers a message and returns the transport's message ID.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Part is a binary MIME part. Inline parts are referenced from HTML as cid:<ContentID>.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

type Message struct {
	From        string
	FromName    string
	To          string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Inline      []Part
	Attachments []Part
	Headers     map[string]string
}

// Validate checks the addresses a transport needs.
func (m *Message) Validate() error {
	if _, err := netmail.ParseAddress(m.From); err != nil {
		return apperrors.NewInvalidInputError("from", fmt.Sprintf("%q: %v", m.From, err))
	}
	if _, err := netmail.ParseAddress(m.To); err != nil {
		return apperrors.NewInvalidInputError("to", fmt.Sprintf("%q: %v", m.To, err))
	}
	if m.ReplyTo != "" {
		if _, err := netmail.ParseAddress(m.ReplyTo); err != nil {
			return apperrors.NewInvalidInputError("replyTo", fmt.Sprintf("%q: %v", m.ReplyTo, err))
		}
	}
	return nil
}

// Envelope returns the bare sender and recipient addresses.
func (m *Message) Envelope() (string, string) {
	from, _ := netmail.ParseAddress(m.From)
	to, _ := netmail.ParseAddress(m.To)
	if from == nil || to == nil {
		return m.From, m.To
	}
	return from.Address, to.Address
}

// Build renders m as an RFC 5322 message and returns it with its Message-ID.
//
// Layout: text and HTML go in multipart/alternative, inline parts wrap that in
// multipart/related, attachments wrap everything in multipart/mixed.
func Build(m *Message) ([]byte, string, error) {
	if err := m.Validate(); err != nil {
		return nil, "", err
	}
	fromAddr, toAddr := m.Envelope()

	body, err := bodyEntity(m)
	if err != nil {
		return nil, "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(fromAddr))

	var buf bytes.Buffer
	writeHeader(&buf, "From", (&netmail.Address{Name: m.FromName, Address: fromAddr}).String())
	writeHeader(&buf, "To", (&netmail.Address{Address: toAddr}).String())
	if m.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", m.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)
	writeHeader(&buf, "MIME-Version", "1.0")

	extra := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		writeHeader(&buf, textproto.CanonicalMIMEHeaderKey(k), mime.QEncoding.Encode("utf-8", m.Headers[k]))
	}

	body.writeTo(&buf)
	return buf.Bytes(), messageID, nil
}

type entity struct {
	header textproto.MIMEHeader
	body   []byte
}

func (e entity) writeTo(buf *bytes.Buffer) {
	keys := make([]string, 0, len(e.header))
	for k := range e.header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range e.header[k] {
			writeHeader(buf, k, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(e.body)
}

func bodyEntity(m *Message) (entity, error) {
	var alternatives []entity
	if m.Text != "" || m.HTML == "" {
		alternatives = append(alternatives, textEntity("text/plain", m.Text))
	}
	if m.HTML != "" {
		alternatives = append(alternatives, textEntity("text/html", m.HTML))
	}

	content := alternatives[0]
	if len(alternatives) > 1 {
		var err error
		if content, err = multipartEntity("alternative", alternatives); err != nil {
			return entity{}, err
		}
	}

	if len(m.Inline) > 0 {
		parts := []entity{content}
		for _, p := range m.Inline {
			parts = append(parts, binaryEntity(p, "inline"))
		}
		var err error
		if content, err = multipartEntity("related", parts); err != nil {
			return entity{}, err
		}
	}

	if len(m.Attachments) > 0 {
		parts := []entity{content}
		for _, p := range m.Attachments {
			parts = append(parts, binaryEntity(p, "attachment"))
		}
		var err error
		if content, err = multipartEntity("mixed", parts); err != nil {
			return entity{}, err
		}
	}
	return content, nil
}

func textEntity(contentType, s string) entity {
	var buf bytes.Buffer
	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(s))
	_ = qp.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType+"; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	return entity{header: h, body: buf.Bytes()}
}

func binaryEntity(p Part, disposition string) entity {
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "base64")
	if p.Filename != "" {
		h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": p.Filename}))
	} else {
		h.Set("Content-Disposition", disposition)
	}
	if p.ContentID != "" {
		h.Set("Content-ID", "<"+p.ContentID+">")
	}

	encoded := base64.StdEncoding.EncodeToString(p.Data)
	var buf bytes.Buffer
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return entity{header: h, body: buf.Bytes()}
}

func multipartEntity(subtype string, parts []entity) (entity, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		pw, err := w.CreatePart(p.header)
		if err != nil {
			return entity{}, apperrors.NewInternalError(err)
		}
		if _, err := pw.Write(p.body); err != nil {
			return entity{}, apperrors.NewInternalError(err)
		}
	}
	if err := w.Close(); err != nil {
		return entity{}, apperrors.NewInternalError(err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mime.FormatMediaType("multipart/"+subtype, map[string]string{"boundary": w.Boundary()}))
	return entity{header: h, body: buf.Bytes()}, nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
