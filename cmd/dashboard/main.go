package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"turtle-monitor/internal/dashboard"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/schedule"
)

func main() {
	cfg := dashboard.DefaultConfig("http://localhost:8080")

	flag.StringVar(&cfg.BaseURL, "server", cfg.BaseURL, "monitor API base URL")
	flag.DurationVar(&cfg.Interval, "interval", cfg.Interval, "poll interval")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	flag.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "minimum time between changes of one field")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "reading age after which a sensor is shown offline (0 disables)")
	flag.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "consecutive failures before giving up (0 retries forever)")
	flag.DurationVar(&cfg.Backoff.Initial, "backoff", cfg.Backoff.Initial, "first reconnect delay")
	flag.DurationVar(&cfg.Backoff.Max, "backoff-max", cfg.Backoff.Max, "maximum reconnect delay")
	flag.Float64Var(&cfg.SanityBand.Min, "sanity-min", models.DefaultSanityBand.Min, "lowest plausible value")
	flag.Float64Var(&cfg.SanityBand.Max, "sanity-max", models.DefaultSanityBand.Max, "highest plausible value")
	logPath := flag.String("log", "dashboard.log", "log file (the terminal belongs to the UI)")
	flag.Parse()

	logFile, err := tea.LogToFile(*logPath, "dashboard")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log.Printf("Polling %s every %s\n", cfg.BaseURL, cfg.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := dashboard.NewClient(cfg, nil, schedule.Real{})
	p := tea.NewProgram(
		dashboard.NewModel(ctx, client),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
