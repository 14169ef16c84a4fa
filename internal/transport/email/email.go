package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"os"
	"strings"
	"time"

	kit "finwatch/internal/transport"
	logx "finwatch/pkg/logx"
)

// Config for the outbound email channel.
//
// Port 465 uses implicit TLS. Other ports negotiate STARTTLS when the server
// offers it (or always, when StartTLS is set). Auth is skipped when Username
// is empty, so localhost relays on port 25 work out of the box.
type Config struct {
	Host     string
	Port     int
	StartTLS bool
	Username string
	Password string

	From string
	// To are the default recipients for notifications without a target address.
	To []string

	Timeout time.Duration
}

type Sender struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("email smtp host is empty")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("email from address %q: %w", cfg.From, err)
	}
	for _, to := range cfg.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return nil, fmt.Errorf("email recipient %q: %w", to, err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{cfg: cfg, log: log}, nil
}

func (s *Sender) Channel() string { return "email" }

func (s *Sender) Start(ctx context.Context) error {
	s.log.Debug("email sender ready",
		logx.String("host", s.cfg.Host),
		logx.Int("port", s.cfg.Port),
		logx.Int("default_rcpts", len(s.cfg.To)),
	)
	return nil
}

func (s *Sender) Stop(ctx context.Context) error { return nil }

func (s *Sender) Send(ctx context.Context, n kit.Notification) error {
	rcpts := s.recipientsFor(n.Target)
	if len(rcpts) == 0 {
		return errors.New("email send: no recipients (set email.to or the notification target)")
	}
	subject := strings.TrimSpace(n.Subject)
	if subject == "" {
		subject = "finwatch notification"
	}
	msg := buildMessage(s.cfg.From, rcpts, subject, n.Text, time.Now())
	return s.deliver(ctx, rcpts, msg)
}

// recipientsFor resolves the target address list: an explicit target wins,
// the configured defaults otherwise. Target.Address may hold a
// comma-separated list.
func (s *Sender) recipientsFor(t kit.Target) []string {
	if strings.TrimSpace(t.Address) == "" {
		return s.cfg.To
	}
	parts := strings.Split(t.Address, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Sender) deliver(ctx context.Context, rcpts []string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	// Bound the whole conversation: ctx deadline if present, cfg.Timeout otherwise.
	deadline := time.Now().Add(s.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if s.cfg.Port == 465 {
		conn = tls.Client(conn, &tls.Config{ServerName: s.cfg.Host})
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if s.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok || s.cfg.StartTLS {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}

// buildMessage renders an RFC 5322 message with CRLF line endings.
// The smtp package handles dot-stuffing; we handle headers and encoding.
func buildMessage(from string, rcpts []string, subject, body string, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: ")
	b.WriteString(sanitizeHeader(from))
	b.WriteString("\r\n")
	b.WriteString("To: ")
	b.WriteString(sanitizeHeader(strings.Join(rcpts, ", ")))
	b.WriteString("\r\n")
	b.WriteString("Subject: ")
	b.WriteString(encodeSubject(subject))
	b.WriteString("\r\n")
	b.WriteString("Date: ")
	b.WriteString(now.Format(time.RFC1123Z))
	b.WriteString("\r\n")
	b.WriteString("Message-ID: ")
	b.WriteString(messageID(from, now))
	b.WriteString("\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")

	// Normalize body line endings to CRLF.
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so notification text can never inject headers.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// encodeSubject Q-encodes the subject when it contains non-ASCII runes.
func encodeSubject(s string) string {
	s = sanitizeHeader(s)
	ascii := true
	for _, r := range s {
		if r > 126 {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	return mime.QEncoding.Encode("utf-8", s)
}

func messageID(from string, now time.Time) string {
	domain := "finwatch.local"
	if i := strings.LastIndex(from, "@"); i >= 0 && i+1 < len(from) {
		domain = strings.TrimRight(from[i+1:], ">")
	}
	return fmt.Sprintf("<%d.%d@%s>", now.UnixNano(), os.Getpid(), domain)
}
