package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/loom/internal/provider"
	"github.com/haasonsaas/loom/internal/session"
	"github.com/haasonsaas/loom/internal/storage"
	"github.com/haasonsaas/loom/internal/tools"
)

func testRegistry() *Registry {
	store := storage.NewMemoryStore()
	reg := tools.NewRegistry()
	return NewRegistry(func(conversationID string) *session.Agent {
		return session.New(session.Options{
			ConversationID: conversationID,
			Config:         session.Config{Model: "test-model"},
			Provider:       provider.NewScripted(provider.TextScript("ok")),
			Pipeline:       tools.NewPipeline(reg, nil, nil),
			Registry:       reg,
			Store:          store,
		})
	})
}

func TestRegistryReturnsSameAgent(t *testing.T) {
	r := testRegistry()
	a := r.Get("conv-1")
	if b := r.Get("conv-1"); b != a {
		t.Error("second Get returned a different agent")
	}
	if c := r.Get("conv-2"); c == a {
		t.Error("distinct conversations share an agent")
	}
	if err := r.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server := NewServer(Config{}, testRegistry(), nil, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}
