package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/logbook"
	"github.com/kingrea/buckling-automation/internal/logging"
	"github.com/kingrea/buckling-automation/internal/runs"
	"github.com/kingrea/buckling-automation/internal/tabular"
)

func main() {
	input := flag.String("input", "", "rows file to process (.tsv, .csv or .xlsx)")
	output := flag.String("output", "", "where to write results (.tsv, .csv or .xlsx)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	simulate := flag.Bool("simulate", false, "drive the built-in simulator instead of the desktop application")
	pollInterval := flag.Duration("poll", 0, "delay between output reads while a row settles (default from config)")
	settleTimeout := flag.Duration("settle-timeout", 0, "give up on a row after this long; 0 waits forever (default from config)")
	flag.Parse()

	if strings.TrimSpace(*input) == "" {
		die("--input is required")
	}
	if strings.TrimSpace(*output) == "" {
		die("--output is required")
	}
	if _, err := tabular.FormatFromPath(*output); err != nil {
		die("output: %v", err)
	}

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitBucklingDir(absoluteProject); err != nil {
		die("init .buckling: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	if *simulate {
		cfg.UseSimulator()
	}
	if err := applySettleFlags(cfg, explicitFlags(flag.CommandLine), *pollInterval, *settleTimeout); err != nil {
		die("%v", err)
	}

	rows, err := tabular.ReadRowsFile(*input)
	if err != nil {
		die("read rows: %v", err)
	}

	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		die("open history: %v", err)
	}
	defer store.Close()
	journal, err := logbook.New(cfg.JourneyLogPath())
	if err != nil {
		die("open journal: %v", err)
	}

	manager := runs.NewManager(
		runs.ConnectorFromConfig(cfg, logger.Component("driver")),
		runs.WithSettler(runs.SettlerFromConfig(cfg)),
		runs.WithHistory(store),
		runs.WithLogbook(journal),
		runs.WithLogger(logger.Component("runs")),
		runs.WithDriverName(cfg.Project.Surface.Driver),
	)

	// The first Ctrl-C stops at the next row boundary, the second cancels the
	// settle wait as well.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stop atomic.Bool
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		for range signals {
			if stop.Swap(true) {
				cancel()
				return
			}
			fmt.Println("Stopping after the current row (Ctrl-C again to abort)...")
		}
	}()

	started := time.Now()
	report, runErr := manager.Run(ctx, runs.Request{
		Rows:   rows,
		Source: "cli",
		Observer: automation.ObserverFuncs{
			OnStatus: func(message string) { fmt.Println(message) },
			OnResult: func(index int, row automation.InputRow, result automation.ResultRow) {
				fmt.Printf("  row %d: depth %s, surface weight %s -> %s\n", index+1, row.Depth, row.SurfaceWeight, result.Value)
			},
		},
		StopCheck: stop.Load,
	})

	if len(report.Results) > 0 {
		if err := tabular.WriteResultsFile(*output, rows, report.Results); err != nil {
			die("write results: %v", err)
		}
		fmt.Printf("Wrote %d results to %s\n", len(report.Results), *output)
	}
	fmt.Printf("Run %s %s in %s\n", report.RunID, report, time.Since(started).Round(time.Millisecond))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		die("run batch: %v", runErr)
	}
}

// explicitFlags names the flags given on the command line, so an explicit
// zero can be told apart from the default.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// applySettleFlags overrides the config's settle section with the flags that
// were set. An explicit --settle-timeout 0 restores the unbounded wait.
func applySettleFlags(cfg *config.Config, set map[string]bool, poll, timeout time.Duration) error {
	if set["poll"] {
		if poll <= 0 {
			return fmt.Errorf("--poll must be positive")
		}
		cfg.Project.Settle.PollInterval = poll
	}
	if set["settle-timeout"] {
		if timeout < 0 {
			return fmt.Errorf("--settle-timeout must not be negative")
		}
		cfg.Project.Settle.Timeout = timeout
	}
	return nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
