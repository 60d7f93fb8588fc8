package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNoRecipients is returned when a message has neither To nor Cc
// addresses.
var ErrNoRecipients = errors.New("message has no recipients")

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the envelope sender. It is also used as the From header
	// when a message carries no sender of its own.
	From string
}

// Enabled reports whether a relay is configured.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates an SMTPSender for the given relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

// Send renders msg as a plain text mail and hands it to the relay.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled() {
		return errors.New("smtp sender not configured")
	}
	to := msg.Addresses()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, to, s.render(msg)); err != nil {
		return fmt.Errorf("smtp send %q to %d recipients: %w", msg.Subject, len(to), err)
	}
	return nil
}

func (s *SMTPSender) render(msg Message) []byte {
	from := s.cfg.From
	if msg.From != nil && msg.From.Address != "" {
		from = msg.From.String()
	}
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + joinRecipients(msg.To) + "\r\n")
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + joinRecipients(msg.Cc) + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// WebhookSender posts messages as JSON to an HTTP endpoint.
type WebhookSender struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewWebhookSender creates a WebhookSender with a bounded client timeout.
func NewWebhookSender(url string, headers map[string]string) *WebhookSender {
	return &WebhookSender{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts msg. Any non-2xx response is an error.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reqtrack-Event", msg.Event)
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// DefaultSubjectPrefix is the NATS subject prefix for notifications.
const DefaultSubjectPrefix = "reqtrack.notifications"

// Publisher publishes raw payloads to a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSender publishes messages as JSON to <prefix>.<event>.
type NATSSender struct {
	pub    Publisher
	prefix string
}

// NewNATSSender creates a NATSSender. An empty prefix selects
// DefaultSubjectPrefix.
func NewNATSSender(pub Publisher, prefix string) *NATSSender {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSender{pub: pub, prefix: prefix}
}

// ConnectNATS dials a NATS server with reconnects enabled.
func ConnectNATS(url, clientName string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Subject returns the subject a message for event is published on.
func (s *NATSSender) Subject(event string) string {
	event = strings.ToLower(strings.TrimSpace(event))
	if event == "" {
		event = "unknown"
	}
	return s.prefix + "." + strings.NewReplacer(" ", "-", ".", "-").Replace(event)
}

func (s *NATSSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode nats payload: %w", err)
	}
	subject := s.Subject(msg.Event)
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// LogSender writes messages to a structured logger instead of delivering
// them. It is the fallback when no transport is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"event", msg.Event,
		"requestId", msg.RequestID,
		"to", joinRecipients(msg.To),
		"cc", joinRecipients(msg.Cc),
		"subject", msg.Subject)
	return nil
}

// MultiSender fans a message out to every sender. All senders are tried;
// their failures are joined.
type MultiSender []Sender

func (m MultiSender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
