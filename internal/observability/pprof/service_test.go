package pprof

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "finwatch/pkg/logx"
)

func waitForAddr(ctx context.Context, s *Service) (string, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr := s.Addr(); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestServeStatusAndReconfigure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	s.RegisterStatus("agents", func() any {
		return map[string]any{"running": 2}
	})
	s.Start(ctx)
	t.Cleanup(func() { s.Stop(context.Background()) })

	addr, err := waitForAddr(ctx, s)
	if err != nil {
		t.Fatalf("server did not bind: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/debug/agents")
	if err != nil {
		t.Fatalf("GET /debug/agents: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(string(body), `"running": 2`) {
		t.Errorf("body = %s, want running count", body)
	}

	resp, err = http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}

	// Disabling through Reconfigure must release the listener.
	s.Reconfigure(ctx, Config{Enabled: false})
	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() != "" {
		if time.Now().After(deadline) {
			t.Fatalf("listener still bound at %s after disable", s.Addr())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServeOnceRefusesInsecureBind(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	err := s.serveOnce(context.Background())
	if err == nil {
		t.Fatal("serveOnce = nil, want refusal on non-loopback bind without token")
	}
	if !strings.Contains(err.Error(), "insecure") {
		t.Errorf("error = %v, want insecure-bind refusal", err)
	}
}

func TestWithAuth(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	h := s.withAuth("sekret", ok)

	tests := []struct {
		name   string
		url    string
		bearer string
		want   int
	}{
		{"no credentials", "/debug/pprof/", "", http.StatusUnauthorized},
		{"query token", "/debug/pprof/?token=sekret", "", http.StatusOK},
		{"wrong query token", "/debug/pprof/?token=nope", "", http.StatusUnauthorized},
		{"bearer", "/debug/pprof/", "Bearer sekret", http.StatusOK},
		{"wrong bearer", "/debug/pprof/", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", tt.bearer)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// Empty token means no auth wrapper at all.
	open := s.withAuth("", ok)
	rec := httptest.NewRecorder()
	open(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("open status = %d, want 200", rec.Code)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", "/debug/pprof/"},
		{"/debug/pprof", "/debug/pprof/"},
		{"profiling", "/profiling/"},
		{" /p/ ", "/p/"},
	}
	for _, tt := range tests {
		if got := normalizePrefix(tt.in); got != tt.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.0.0.5:6060", false},
		{"no-port", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
