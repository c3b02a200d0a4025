package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/loom/internal/ratelimit"
)

func echoTool(name string) Tool {
	return Tool{
		Name: name,
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			return "echo:" + string(args), nil
		},
	}
}

func TestPipelineSequentialOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	for _, name := range []string{"alpha", "beta"} {
		name := name
		reg.Register(Tool{
			Name: name,
			Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
				order = append(order, "run:"+name)
				progress(Progress{Stage: "working", Message: name})
				return "done:" + name, nil
			},
		})
	}

	var events []Event
	p := NewPipeline(reg, nil, nil)
	results, err := p.Run(context.Background(), []Invocation{
		{ID: "c1", Name: "alpha", Args: json.RawMessage(`{}`)},
		{ID: "c2", Name: "beta", Args: json.RawMessage(`{}`)},
	}, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(results) != 2 || results[0].Result != "done:alpha" || results[1].Result != "done:beta" {
		t.Fatalf("results = %+v", results)
	}
	if len(order) != 2 || order[0] != "run:alpha" || order[1] != "run:beta" {
		t.Fatalf("execution order = %v", order)
	}

	// call, progress, result per invocation, strictly before the next one.
	wantKinds := []EventKind{EventCall, EventProgress, EventResult, EventCall, EventProgress, EventResult}
	if len(events) != len(wantKinds) {
		t.Fatalf("got %d events, want %d", len(events), len(wantKinds))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event %d kind = %s, want %s", i, events[i].Kind, k)
		}
	}
	if events[2].CallID != "c1" || events[5].CallID != "c2" {
		t.Errorf("result call ids = %s, %s", events[2].CallID, events[5].CallID)
	}
}

func TestPipelineUnknownTool(t *testing.T) {
	p := NewPipeline(NewRegistry(), nil, nil)
	results, err := p.Run(context.Background(), []Invocation{{ID: "c1", Name: "missing"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := `Error: Tool "missing" is not available.`
	if len(results) != 1 || results[0].Result != want {
		t.Fatalf("results = %+v, want %q", results, want)
	}
}

func TestPipelineHandlerErrorBecomesResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			return "", errors.New("upstream returned 503")
		},
	})
	p := NewPipeline(reg, nil, nil)
	results, err := p.Run(context.Background(), []Invocation{{ID: "c1", Name: "flaky"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Result != "Error: upstream returned 503" {
		t.Errorf("result = %q", results[0].Result)
	}
}

func TestPipelinePanicBecomesResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name: "explode",
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			panic("boom")
		},
	})
	p := NewPipeline(reg, nil, nil)
	results, err := p.Run(context.Background(), []Invocation{{ID: "c1", Name: "explode"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := `Error: tool "explode" panicked: boom`; results[0].Result != want {
		t.Errorf("result = %q, want %q", results[0].Result, want)
	}
}

func TestPipelineAbortStopsBatch(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ran := 0
	reg.Register(Tool{
		Name: "first",
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			ran++
			cancel() // abort arrives while the first tool is running
			return "partial", nil
		},
	})
	reg.Register(echoTool("second"))

	p := NewPipeline(reg, nil, nil)
	results, err := p.Run(ctx, []Invocation{
		{ID: "c1", Name: "first"},
		{ID: "c2", Name: "second"},
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if results != nil {
		t.Errorf("aborted run yielded results %+v", results)
	}
	if ran != 1 {
		t.Errorf("ran %d tools after abort, want 1", ran)
	}
}

func TestPipelineSpacingDelaysSameKind(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < 2; i++ {
		reg.Register(Tool{
			Name: fmt.Sprintf("fetch%d", i),
			Kind: "network",
			Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
				return "ok", nil
			},
		})
	}

	spacer := ratelimit.NewSpacer(ratelimit.Config{
		MinInterval: 40 * time.Millisecond,
		MaxWait:     time.Second,
		Enabled:     true,
	})
	p := NewPipeline(reg, spacer, nil)

	start := time.Now()
	_, err := p.Run(context.Background(), []Invocation{
		{ID: "c1", Name: "fetch0"},
		{ID: "c2", Name: "fetch1"},
	}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("second call of same kind not spaced: elapsed %v", elapsed)
	}
}

func TestPipelineSpacingInterruptibleByCancel(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Tool{
		Name: "fetch",
		Kind: "network",
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			return "ok", nil
		},
	})
	spacer := ratelimit.NewSpacer(ratelimit.Config{
		MinInterval: time.Hour,
		MaxWait:     time.Hour,
		Enabled:     true,
	})
	p := NewPipeline(reg, spacer, nil)

	// First call reserves the slot; second would wait an hour.
	if _, err := p.Run(context.Background(), []Invocation{{ID: "c1", Name: "fetch"}}, nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, []Invocation{{ID: "c2", Name: "fetch"}}, nil)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("spacing delay was not interrupted by cancellation")
	}
}
