package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"insight-gateway/internal/compute/rest"
	"insight-gateway/internal/insights"
	"insight-gateway/internal/shared/config"
	artifactmemory "insight-gateway/internal/shared/storage/artifact/memory"
)

type promptList []string

func (p *promptList) String() string { return strings.Join(*p, "; ") }

func (p *promptList) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	*p = append(*p, v)
	return nil
}

type slotReport struct {
	Prompt           string   `json:"prompt"`
	AnalysisID       string   `json:"analysisId,omitempty"`
	QueryType        string   `json:"queryType,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Insights         []string `json:"insights,omitempty"`
	HasVisualization bool     `json:"hasVisualization"`
	Error            string   `json:"error,omitempty"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		exitErr(fmt.Sprintf("load config: %v", err))
	}

	baseURL := flag.String("base-url", cfg.Compute.BaseURL, "Analysis service base URL")
	fileID := flag.String("file", "", "File id of the ingested dataset (required)")
	queryType := flag.String("query-type", "", "Query type hint forwarded to the service")
	model := flag.String("model", "", "Model override")
	interval := flag.Duration("poll-interval", time.Duration(cfg.Poll.Interval), "Delay between status polls")
	maxAttempts := flag.Int("max-attempts", cfg.Poll.MaxAttempts, "Status polls before giving up")
	slots := flag.Int("slots", cfg.Poll.SlotConcurrency, "Concurrent analyses")
	outPath := flag.String("out", "", "Path to write the JSON report (optional)")
	var prompts promptList
	flag.Var(&prompts, "prompt", "Analysis prompt; repeat the flag for multiple slots")
	flag.Parse()

	if strings.TrimSpace(*fileID) == "" {
		exitErr("-file is required")
	}
	if len(prompts) == 0 {
		exitErr("at least one -prompt is required")
	}
	for _, prompt := range prompts {
		if len(strings.TrimSpace(prompt)) < insights.MinPromptLength {
			exitErr(fmt.Sprintf("prompt %q is shorter than %d characters", prompt, insights.MinPromptLength))
		}
	}

	client := rest.New(rest.Config{BaseURL: *baseURL, Timeout: time.Duration(cfg.Compute.Timeout)})
	svc := &insights.Service{
		Client:          client,
		Registry:        insights.NewRegistry(),
		Jobs:            insights.NewJobTracker(),
		Visibility:      insights.NewVisibility(client, nil),
		Store:           artifactmemory.Unbounded(),
		Session:         artifactmemory.Unbounded(),
		Interval:        *interval,
		MaxAttempts:     *maxAttempts,
		SlotConcurrency: *slots,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := insights.SubmitInput{
		FileID:    *fileID,
		QueryType: *queryType,
		Model:     *model,
	}
	outcomes, err := svc.AnalyzeSlots(ctx, base, prompts)
	if err != nil {
		exitErr(fmt.Sprintf("analyze: %v", err))
	}

	reports := make([]slotReport, 0, len(outcomes))
	failures := 0
	for _, outcome := range outcomes {
		report := slotReport{Prompt: outcome.Prompt}
		if outcome.Err != nil {
			report.Error = outcome.Err.Error()
			failures++
		} else {
			report.AnalysisID = outcome.Record.AnalysisID
			report.QueryType = outcome.Record.QueryType
			report.Summary = outcome.Record.Summary
			report.Insights = outcome.Record.Insights
			report.HasVisualization = outcome.Record.HasVisualization
		}
		reports = append(reports, report)
	}

	raw, err := json.Marshal(reports)
	if err != nil {
		exitErr(fmt.Sprintf("encode report: %v", err))
	}
	pretty, err := prettyJSON(raw)
	if err != nil {
		exitErr(fmt.Sprintf("format report: %v", err))
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write report: %v", err))
		}
	}

	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	if len(pretty) == 0 || pretty[len(pretty)-1] != '\n' {
		_, _ = os.Stdout.Write([]byte("\n"))
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func prettyJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
