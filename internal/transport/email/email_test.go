package email

import (
	"strings"
	"testing"
	"time"

	kit "finwatch/internal/transport"
	logx "finwatch/pkg/logx"
)

func TestNewValidatesAddresses(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{Host: "smtp.example.com", From: "bot@example.com", To: []string{"ops@example.com"}}},
		{name: "missing host", cfg: Config{From: "bot@example.com"}, wantErr: true},
		{name: "bad from", cfg: Config{Host: "h", From: "not-an-address"}, wantErr: true},
		{name: "bad rcpt", cfg: Config{Host: "h", From: "bot@example.com", To: []string{"nope"}}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, logx.Nop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	msg := string(buildMessage("bot@example.com", []string{"a@example.com", "b@example.com"}, "daily digest", "line1\nline2", now))

	for _, want := range []string{
		"From: bot@example.com\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Subject: daily digest\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
		"line1\r\nline2\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
	if !strings.Contains(msg, "\r\n\r\n") {
		t.Fatalf("missing CRLF header/body separator:\n%s", msg)
	}
}

func TestBuildMessageStripsHeaderInjection(t *testing.T) {
	t.Parallel()
	msg := string(buildMessage("bot@example.com", []string{"a@example.com"}, "subj\r\nBcc: evil@example.com", "body", time.Now()))
	// The CRLF must be collapsed so Bcc never becomes its own header line.
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("injected header survived:\n%s", msg)
	}
	if !strings.Contains(msg, "Subject: subj  Bcc: evil@example.com\r\n") {
		t.Fatalf("subject not collapsed into a single header line:\n%s", msg)
	}
}

func TestEncodeSubject(t *testing.T) {
	t.Parallel()
	if got := encodeSubject("plain ascii"); got != "plain ascii" {
		t.Fatalf("encodeSubject(ascii) = %q", got)
	}
	got := encodeSubject("börse update")
	if !strings.HasPrefix(got, "=?utf-8?") {
		t.Fatalf("encodeSubject(non-ascii) = %q, want q-encoded", got)
	}
}

func TestRecipientsFor(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Host: "h", From: "bot@example.com", To: []string{"default@example.com"}}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if got := s.recipientsFor(kit.Target{}); len(got) != 1 || got[0] != "default@example.com" {
		t.Fatalf("default recipients = %v", got)
	}
	got := s.recipientsFor(kit.Target{Address: "x@example.com, y@example.com"})
	if len(got) != 2 || got[0] != "x@example.com" || got[1] != "y@example.com" {
		t.Fatalf("explicit recipients = %v", got)
	}
}
