package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sipeed/agentclaw/internal/mailbus"
)

func TestHandleHealth(t *testing.T) {
	bus := mailbus.New()
	s := New("127.0.0.1:0", "", bus, func(context.Context) interface{} { return map[string]int{"ok": 1} })
	srv := httptest.NewServer(s.httpSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleStatusReturnsStatusFuncResult(t *testing.T) {
	bus := mailbus.New()
	s := New("127.0.0.1:0", "", bus, func(context.Context) interface{} {
		return map[string]interface{}{"agents": 3}
	})
	srv := httptest.NewServer(s.httpSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if body["agents"] != float64(3) {
		t.Errorf("expected status payload to reflect statusFn's result, got %v", body)
	}
}

func TestStatusRequiresAuthWhenAPIKeySet(t *testing.T) {
	bus := mailbus.New()
	s := New("127.0.0.1:0", "secret", bus, func(context.Context) interface{} { return nil })
	srv := httptest.NewServer(s.httpSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", resp.StatusCode)
	}
}
