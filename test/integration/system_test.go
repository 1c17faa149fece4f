//go:build integration

package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Status string `json:"status"`
		Tabs   int    `json:"tabs"`
	}](t, resp)
	requireField(t, result.Status, "ok", "status")
	if result.Tabs == 0 {
		t.Fatal("expected at least one attached tab")
	}
}

func TestMetrics(t *testing.T) {
	resp := env.GET(t, "/metrics")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"netmon_event_log_size", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics missing %s", name)
		}
	}
}

func TestDocs(t *testing.T) {
	resp := env.GET(t, "/docs")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.GET(t, "/openapi.json")
	requireStatus(t, resp, http.StatusOK)
	doc := decodeJSON[struct {
		Paths map[string]any `json:"paths"`
	}](t, resp)
	if _, ok := doc.Paths["/api/v1/monitor/start"]; !ok {
		t.Fatal("openapi document missing /api/v1/monitor/start")
	}
}
