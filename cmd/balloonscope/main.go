// Command balloonscope tracks balloon payloads in an interactive terminal UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/balloonscope/internal/bootstrap"
	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/balloonscope.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logs := logging.NewBuffer(1000)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{LogOutput: logs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Collector.Run(ctx)
	}()

	if cfg.Server.Enabled {
		server := app.StatusServer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, app.Addr()); err != nil {
				app.Log.Error(ctx, "status api failed", logging.Err(err))
			}
		}()
	}

	m := newModel(cfg.Name, app.Collector, logs)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	logs.OnWrite(func() { go p.Send(logMsg{}) })

	_, runErr := p.Run()

	// Finish the current tick and flush outputs before exiting
	cancel()
	wg.Wait()

	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}
