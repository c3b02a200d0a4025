package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// KindNetwork groups tools whose calls are spaced by the limiter.
	KindNetwork = "network"

	fetchMaxBodyBytes = 1 << 20
	fetchTimeout      = 30 * time.Second
)

// RegisterBuiltins adds the built-in tool set to the registry.
func RegisterBuiltins(r *Registry) {
	r.Register(currentTimeTool())
	r.Register(fetchTool(&http.Client{Timeout: fetchTimeout}))
}

func currentTimeTool() Tool {
	return Tool{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a specific IANA timezone.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC."}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			var in struct {
				Timezone string `json:"timezone"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			loc := time.UTC
			if in.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(in.Timezone)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q", in.Timezone)
				}
			}
			return formatUserTime(time.Now().In(loc)), nil
		},
	}
}

// formatUserTime renders a time the way it reads in conversation, like
// "Friday, January 24th, 2025 - 14:30 UTC".
func formatUserTime(t time.Time) string {
	zone, _ := t.Zone()
	return fmt.Sprintf("%s, %s %d%s, %d - %02d:%02d %s",
		t.Weekday(), t.Month(), t.Day(), ordinalSuffix(t.Day()), t.Year(),
		t.Hour(), t.Minute(), zone)
}

// ordinalSuffix returns the English ordinal suffix for a day number.
// Examples: 1 -> "st", 2 -> "nd", 3 -> "rd", 4 -> "th", 11 -> "th"
func ordinalSuffix(day int) string {
	// 11-13 (and 111-113, ...) always use "th".
	if last := day % 100; last >= 11 && last <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

func fetchTool(client *http.Client) Tool {
	return Tool{
		Name:        "fetch",
		Description: "Fetches a URL over HTTP GET and returns the response body as text (truncated to 1 MiB).",
		Kind:        KindNetwork,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The http or https URL to fetch."}
			},
			"required": ["url"]
		}`),
		Handler: func(ctx context.Context, args json.RawMessage, progress ProgressFunc) (string, error) {
			var in struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if in.URL == "" {
				return "", errors.New("url is required")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
			if err != nil {
				return "", err
			}
			progress(Progress{Stage: "connecting", Message: in.URL})

			resp, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("fetch %s: status %s", in.URL, resp.Status)
			}

			var body []byte
			buf := make([]byte, 32*1024)
			for {
				n, err := resp.Body.Read(buf)
				body = append(body, buf[:n]...)
				progress(Progress{
					Stage:         "downloading",
					ReceivedBytes: int64(len(body)),
					TotalBytes:    resp.ContentLength,
				})
				if len(body) >= fetchMaxBodyBytes {
					body = body[:fetchMaxBodyBytes]
					break
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return "", err
				}
			}
			return string(body), nil
		},
	}
}
