// internal/mail/senders.go
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
)

// ==========================
// SES
// ==========================

// SESAPI is the part of the SES client used here.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESSender sends raw MIME through SES so inline images survive.
type SESSender struct {
	client SESAPI
}

func NewSESSender(client SESAPI) *SESSender {
	return &SESSender{client: client}
}

func (s *SESSender) Send(ctx context.Context, msg *Message) (string, error) {
	raw, messageID, err := Build(msg)
	if err != nil {
		return "", err
	}
	from, to := msg.Envelope()

	out, err := s.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		RawMessage:   &types.RawMessage{Data: raw},
		Source:       aws.String(from),
		Destinations: []string{to},
	})
	if err != nil {
		return "", apperrors.NewDispatchFailedError("ses", err)
	}
	if out != nil && out.MessageId != nil {
		return aws.ToString(out.MessageId), nil
	}
	return messageID, nil
}

// ==========================
// SMTP
// ==========================

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// SMTPSender delivers over SMTP, upgrading with STARTTLS when UseTLS is set.
type SMTPSender struct {
	config SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{config: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) (string, error) {
	raw, messageID, err := Build(msg)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewDispatchFailedError("smtp", err)
	}

	from, to := msg.Envelope()
	if err := s.deliver(ctx, from, to, raw); err != nil {
		return "", apperrors.NewDispatchFailedError("smtp", err)
	}
	return messageID, nil
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, raw []byte) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	dialer := net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("SMTP handshake: %w", err)
	}
	defer client.Close()

	if s.config.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}

// ==========================
// Log and memory senders
// ==========================

// LogSender builds the message and logs it instead of sending.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: log}
}

func (s *LogSender) Send(_ context.Context, msg *Message) (string, error) {
	raw, messageID, err := Build(msg)
	if err != nil {
		return "", err
	}
	s.logger.Info("message not sent (log provider)", map[string]interface{}{
		"to":        msg.To,
		"subject":   msg.Subject,
		"messageId": messageID,
		"bytes":     len(raw),
		"inline":    len(msg.Inline),
	})
	return messageID, nil
}

// MemorySender records messages. Err, when set, is returned for every send.
type MemorySender struct {
	mu   sync.Mutex
	sent []*Message
	Err  error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, msg *Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("<memory-%d@localhost>", len(s.sent)), nil
}

// Sent returns a copy of the recorded messages.
func (s *MemorySender) Sent() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.sent...)
}
