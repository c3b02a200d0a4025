package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOrdinalSuffix(t *testing.T) {
	cases := map[int]string{
		1: "st", 2: "nd", 3: "rd", 4: "th",
		11: "th", 12: "th", 13: "th",
		21: "st", 22: "nd", 23: "rd",
		111: "th", 121: "st",
	}
	for day, want := range cases {
		if got := ordinalSuffix(day); got != want {
			t.Errorf("ordinalSuffix(%d) = %q, want %q", day, got, want)
		}
	}
}

func TestCurrentTimeTool(t *testing.T) {
	tool := currentTimeTool()

	out, err := tool.Handler(context.Background(), json.RawMessage(`{}`), func(Progress) {})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !strings.Contains(out, "UTC") {
		t.Errorf("default output %q does not name UTC", out)
	}

	if _, err := tool.Handler(context.Background(), json.RawMessage(`{"timezone":"Not/AZone"}`), func(Progress) {}); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestFetchTool(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from the server"))
	}))
	defer ts.Close()

	tool := fetchTool(ts.Client())
	if tool.Kind != KindNetwork {
		t.Errorf("fetch tool kind = %q, want %q", tool.Kind, KindNetwork)
	}

	var progressed bool
	args, _ := json.Marshal(map[string]string{"url": ts.URL})
	out, err := tool.Handler(context.Background(), args, func(p Progress) {
		if p.Stage == "downloading" {
			progressed = true
		}
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out != "hello from the server" {
		t.Errorf("body = %q", out)
	}
	if !progressed {
		t.Error("no download progress reported")
	}
}

func TestFetchToolErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer ts.Close()

	tool := fetchTool(ts.Client())
	args, _ := json.Marshal(map[string]string{"url": ts.URL})
	if _, err := tool.Handler(context.Background(), args, func(Progress) {}); err == nil {
		t.Error("expected error for 404 response")
	}
}
