// cmd/buckling/main.go
//
// This is the entry point for the buckling automation TUI.
// When you run `buckling` from any directory, this is what executes.
//
// Flow:
// 1. Make sure .buckling/ exists and load its config
// 2. Open the logs and the run history
// 3. Start the HTTP bridge if it is enabled
// 4. Run the TUI until the user quits, then drain the bridge

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/buckling-automation/internal/bridge"
	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/logbook"
	"github.com/kingrea/buckling-automation/internal/logging"
	"github.com/kingrea/buckling-automation/internal/runs"
	"github.com/kingrea/buckling-automation/internal/tui"
)

const bridgeShutdownTimeout = 2 * time.Second

func main() {
	simulate := flag.Bool("simulate", false, "drive the built-in simulator instead of the desktop application")
	flag.Parse()

	// Get the current working directory - this is the "project" we're working in
	cwd, err := os.Getwd()
	if err != nil {
		die("Error getting working directory: %v", err)
	}
	if err := config.InitBucklingDir(cwd); err != nil {
		die("Error initializing .buckling directory: %v", err)
	}
	cfg, err := config.NewConfig(cwd)
	if err != nil {
		die("Error loading config: %v", err)
	}
	if *simulate {
		cfg.UseSimulator()
	}

	if err := run(cfg); err != nil {
		die("Error running TUI: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := logbook.New(cfg.JourneyLogPath())
	if err != nil {
		return err
	}

	manager := runs.NewManager(
		runs.ConnectorFromConfig(cfg, logger.Component("driver")),
		runs.WithSettler(runs.SettlerFromConfig(cfg)),
		runs.WithHistory(store),
		runs.WithLogbook(journal),
		runs.WithLogger(logger.Component("runs")),
		runs.WithDriverName(cfg.Project.Surface.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	server := bridge.NewServer(bridge.SettingsFromConfig(cfg), manager,
		bridge.WithLogger(logger.Component("bridge")))
	switch err := server.Start(gctx); {
	case errors.Is(err, bridge.ErrDisabled):
		server = nil
	case err != nil:
		// The TUI is still useful without the bridge.
		journal.Warn("Bridge unavailable: %v", err)
		server = nil
	default:
		journal.Info("Bridge listening on %s", server.BaseURL())
	}

	g.Go(func() error {
		defer cancel()
		// tea.NewProgram creates a new bubbletea application
		p := tea.NewProgram(
			tui.NewApp(cfg, manager, tui.WithLogbook(journal)),
			tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
			tea.WithContext(gctx),
		)
		// Run blocks until the user quits
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) && gctx.Err() != nil {
			return nil
		}
		return err
	})
	if server != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), bridgeShutdownTimeout)
			defer stop()
			return server.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
