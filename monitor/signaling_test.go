package monitor

import (
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

// A fresh endpoint starts with no clients and a sane send buffer.
func TestNewSignaling(t *testing.T) {
	s := NewSignaling(nil, 0, zaptest.NewLogger(t))
	if s.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", s.ClientCount())
	}
	if s.sendBufferSize != 16 {
		t.Errorf("expected default send buffer 16, got %d", s.sendBufferSize)
	}

	s = NewSignaling(nil, 32, zaptest.NewLogger(t))
	if s.sendBufferSize != 32 {
		t.Errorf("expected send buffer 32, got %d", s.sendBufferSize)
	}
}

// The origin policy: empty list open, "*" wildcard open, otherwise exact
// match, missing origins always pass.
func TestCheckOrigin(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list any origin", nil, "http://anywhere.example", true},
		{"wildcard", []string{"*"}, "http://anywhere.example", true},
		{"exact match", []string{"http://cam.local"}, "http://cam.local", true},
		{"mismatch", []string{"http://cam.local"}, "http://evil.example", false},
		{"no origin header", []string{"http://cam.local"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := originChecker(tt.allowed, logger)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := check(req); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
