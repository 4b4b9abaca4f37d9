package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"papercut/internal/domain"
	"papercut/internal/engine"
)

func main() {
	_ = godotenv.Load()

	var (
		urlFlag     string
		timeoutFlag time.Duration
	)
	flag.StringVar(&urlFlag, "url", "", "engine base URL (fallbacks to COMFYUI_URL)")
	flag.DurationVar(&timeoutFlag, "timeout", 3*time.Second, "request timeout")
	flag.Parse()

	baseURL := strings.TrimSpace(urlFlag)
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("COMFYUI_URL"))
	}
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8188"
	}

	os.Exit(run(context.Background(), os.Stdout, baseURL, timeoutFlag))
}

// run probes the engine and returns the process exit code.
func run(ctx context.Context, out io.Writer, baseURL string, timeout time.Duration) int {
	client := engine.NewClient(engine.Options{BaseURL: baseURL, StatsTimeout: timeout})
	fmt.Fprintf(out, "checking engine at %s\n", client.BaseURL())

	stats, err := client.SystemStats(ctx)
	if err != nil {
		var upstream *domain.UpstreamError
		switch {
		case errors.As(err, &upstream) && upstream.Status > 0:
			fmt.Fprintf(out, "engine responded with HTTP %d\n", upstream.Status)
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintf(out, "timed out after %s, the engine may be overloaded\n", timeout)
		default:
			fmt.Fprintf(out, "cannot reach engine: %v\n", err)
			fmt.Fprintln(out, "check that the engine is running and COMFYUI_URL in .env points at it")
		}
		return 1
	}

	fmt.Fprintln(out, "engine is healthy")
	if len(stats.System) > 0 {
		fmt.Fprintf(out, "system: %s\n", stats.System)
	}
	fmt.Fprintf(out, "devices: %d\n", len(stats.Devices))
	return 0
}
