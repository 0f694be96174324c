package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Maimoon-github/SEO-Agent/internal/audit"
	"github.com/Maimoon-github/SEO-Agent/internal/config"
	"github.com/Maimoon-github/SEO-Agent/internal/report"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to audit configuration file")
	seed := flag.String("seed", "", "Override the configured seed URL")
	output := flag.String("output", "", "Override the report output path")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *seed != "" {
		cfg.Crawl.Seed = *seed
	}
	if *output != "" {
		cfg.Report.OutputPath = *output
	}

	engine, err := audit.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, runErr := engine.Run(ctx)
	if rep != nil {
		if cfg.Report.OutputPath != "" {
			if err := report.WriteFile(cfg.Report.OutputPath, rep); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
				os.Exit(1)
			}
		} else if err := report.WriteJSON(os.Stdout, rep); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "audit stopped early: %v\n", runErr)
		os.Exit(1)
	}
}
