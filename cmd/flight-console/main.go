// Command flight-console shows tracked balloons in a tview console with a
// track list, telemetry panel and log pane.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/unklstewy/balloonscope/internal/bootstrap"
	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/balloonscope.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("flight-console version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logs := logging.NewBuffer(500)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{LogOutput: logs})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
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

	console := NewApp(cfg.Name, app.Collector, logs, cfg.Station)
	logs.OnWrite(console.QueueLogRefresh)

	runErr := console.Run(ctx)

	cancel()
	wg.Wait()

	if runErr != nil {
		log.Fatalf("Application error: %v", runErr)
	}
}
