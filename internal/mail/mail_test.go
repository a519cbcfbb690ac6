package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	netmail "net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
)

// ==========================
// Test Helpers
// ==========================

func fullMessage() *Message {
	return &Message{
		From:     "billing@school.example",
		FromName: "School Billing",
		To:       "ann@example.com",
		ReplyTo:  "office@school.example",
		Subject:  "Faktura č. 1",
		Text:     "Hello Ann, please pay.",
		HTML:     `<p>Hello Ann</p><img src="cid:qr_pay" alt="qr_pay">`,
		Inline: []Part{
			{Filename: "qr_pay.png", ContentType: "image/png", ContentID: "qr_pay", Data: []byte("\x89PNG-fake")},
		},
		Attachments: []Part{
			{Filename: "terms.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		},
		Headers: map[string]string{"x-mailmerge-topic": "invoice"},
	}
}

func readPart(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func boundaryOf(t *testing.T, contentType, want string) string {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, want, mediaType)
	return params["boundary"]
}

// ==========================
// Build Tests
// ==========================

func TestBuild_Structure(t *testing.T) {
	raw, messageID, err := Build(fullMessage())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(messageID, "@school.example>"))

	parsed, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Faktura č. 1", subject)
	assert.Equal(t, messageID, parsed.Header.Get("Message-Id"))
	assert.Equal(t, `"School Billing" <billing@school.example>`, parsed.Header.Get("From"))
	assert.Equal(t, "office@school.example", parsed.Header.Get("Reply-To"))
	assert.Equal(t, "invoice", parsed.Header.Get("X-Mailmerge-Topic"))

	mixed := multipart.NewReader(parsed.Body, boundaryOf(t, parsed.Header.Get("Content-Type"), "multipart/mixed"))

	relatedPart, err := mixed.NextPart()
	require.NoError(t, err)
	related := multipart.NewReader(relatedPart, boundaryOf(t, relatedPart.Header.Get("Content-Type"), "multipart/related"))

	altPart, err := related.NextPart()
	require.NoError(t, err)
	alt := multipart.NewReader(altPart, boundaryOf(t, altPart.Header.Get("Content-Type"), "multipart/alternative"))

	textPart, err := alt.NextPart()
	require.NoError(t, err)
	assert.Contains(t, textPart.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, "Hello Ann, please pay.", string(readPart(t, textPart)))

	htmlPart, err := alt.NextPart()
	require.NoError(t, err)
	assert.Contains(t, htmlPart.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(readPart(t, htmlPart)), `src="cid:qr_pay"`)

	imagePart, err := related.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "<qr_pay>", imagePart.Header.Get("Content-Id"))
	assert.Equal(t, "image/png", imagePart.Header.Get("Content-Type"))
	assert.Contains(t, imagePart.Header.Get("Content-Disposition"), "inline")
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(readPart(t, imagePart)), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG-fake"), decoded)

	attachment, err := mixed.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "terms.pdf", attachment.FileName())
	assert.Contains(t, attachment.Header.Get("Content-Disposition"), "attachment")

	_, err = mixed.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestBuild_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		msg       *Message
		mediaType string
	}{
		{
			name:      "text only",
			msg:       &Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "hi"},
			mediaType: "text/plain",
		},
		{
			name:      "html only",
			msg:       &Message{From: "a@example.com", To: "b@example.com", Subject: "s", HTML: "<b>hi</b>"},
			mediaType: "text/html",
		},
		{
			name:      "text and html",
			msg:       &Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "hi", HTML: "<b>hi</b>"},
			mediaType: "multipart/alternative",
		},
		{
			name: "html with inline image",
			msg: &Message{From: "a@example.com", To: "b@example.com", Subject: "s", HTML: "<img src=\"cid:x\">",
				Inline: []Part{{ContentID: "x", Data: []byte{1, 2, 3}}}},
			mediaType: "multipart/related",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _, err := Build(tt.msg)
			require.NoError(t, err)
			parsed, err := netmail.ReadMessage(bytes.NewReader(raw))
			require.NoError(t, err)
			mediaType, _, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
			require.NoError(t, err)
			assert.Equal(t, tt.mediaType, mediaType)
		})
	}
}

func TestBuild_LongBinaryIsWrapped(t *testing.T) {
	raw, _, err := Build(&Message{
		From: "a@example.com", To: "b@example.com", Subject: "s", Text: "x",
		Attachments: []Part{{Filename: "blob.bin", Data: bytes.Repeat([]byte{0xAB}, 1000)}},
	})
	require.NoError(t, err)
	for _, line := range strings.Split(string(raw), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
	assert.Contains(t, string(raw), "application/octet-stream")
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		field string
	}{
		{name: "missing to", msg: Message{From: "a@example.com"}, field: "to"},
		{name: "bad from", msg: Message{From: "nobody", To: "b@example.com"}, field: "from"},
		{name: "bad reply-to", msg: Message{From: "a@example.com", To: "b@example.com", ReplyTo: "x@"}, field: "replyTo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	msg := Message{From: "School <a@example.com>", To: "Ann <b@example.com>"}
	require.NoError(t, msg.Validate())
	from, to := msg.Envelope()
	assert.Equal(t, "a@example.com", from)
	assert.Equal(t, "b@example.com", to)
}

// ==========================
// SES Sender Tests
// ==========================

type MockSES struct {
	mock.Mock
}

func (m *MockSES) SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendRawEmailOutput), args.Error(1)
}

func TestSESSender_Send(t *testing.T) {
	client := new(MockSES)
	client.On("SendRawEmail", mock.Anything, mock.MatchedBy(func(in *ses.SendRawEmailInput) bool {
		return aws.ToString(in.Source) == "billing@school.example" &&
			len(in.Destinations) == 1 && in.Destinations[0] == "ann@example.com" &&
			bytes.Contains(in.RawMessage.Data, []byte("Content-Id: <qr_pay>"))
	})).Return(&ses.SendRawEmailOutput{MessageId: aws.String("ses-123")}, nil).Once()

	id, err := NewSESSender(client).Send(context.Background(), fullMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-123", id)
	client.AssertExpectations(t)
}

func TestSESSender_Failure(t *testing.T) {
	client := new(MockSES)
	client.On("SendRawEmail", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	_, err := NewSESSender(client).Send(context.Background(), fullMessage())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
	assert.Contains(t, err.Error(), "throttled")
}

func TestSESSender_InvalidMessageNeverCallsSES(t *testing.T) {
	client := new(MockSES)
	_, err := NewSESSender(client).Send(context.Background(), &Message{From: "a@example.com", To: ""})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	client.AssertNotCalled(t, "SendRawEmail", mock.Anything, mock.Anything)
}

// ==========================
// SMTP Sender Tests
// ==========================

// startSMTPServer accepts one session and reports the DATA payload.
func startSMTPServer(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP test")

		var data string
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				_ = tp.PrintfLine("250-localhost")
				_ = tp.PrintfLine("250 8BITMIME")
			case strings.HasPrefix(cmd, "HELO"), strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				_ = tp.PrintfLine("250 OK")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				data = strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				received <- data
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port, received
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, received := startSMTPServer(t)

	sender := NewSMTPSender(SMTPConfig{Host: host, Port: port, Timeout: 2 * time.Second})
	id, err := sender.Send(context.Background(), fullMessage())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case data := <-received:
		assert.Contains(t, data, "Message-ID: "+id)
		assert.Contains(t, data, "multipart/mixed")
	case <-time.After(2 * time.Second):
		t.Fatal("SMTP server did not receive the message")
	}
}

func TestSMTPSender_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second})
	_, err = sender.Send(context.Background(), fullMessage())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: 1}).Send(ctx, fullMessage())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
}

// ==========================
// Log and Memory Sender Tests
// ==========================

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(logger.NewTestLogger(t)).Send(context.Background(), fullMessage())
	require.NoError(t, err)
	assert.Contains(t, id, "@school.example")
}

func TestMemorySender(t *testing.T) {
	sender := NewMemorySender()

	_, err := sender.Send(context.Background(), fullMessage())
	require.NoError(t, err)
	_, err = sender.Send(context.Background(), &Message{From: "a@example.com", To: "bad"})
	assert.Error(t, err)

	sender.Err = apperrors.NewDispatchFailedError("memory", errors.New("down"))
	_, err = sender.Send(context.Background(), fullMessage())
	assert.Error(t, err)

	require.Len(t, sender.Sent(), 1)
	assert.Equal(t, "ann@example.com", sender.Sent()[0].To)
}
