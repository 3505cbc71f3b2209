// Command collector runs the poll loop without a terminal UI. It writes the
// configured outputs, serves the status API and logs a summary line per
// track whenever a track changes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/unklstewy/balloonscope/internal/bootstrap"
	"github.com/unklstewy/balloonscope/internal/collector"
	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/pkg/config"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

func main() {
	configPath := flag.String("config", "configs/balloonscope.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{LogOutput: os.Stdout})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer app.Close()

	app.Log.Info(ctx, "collector starting",
		logging.String("config", *configPath),
		logging.Int("callsigns", len(cfg.Callsigns)),
		logging.Duration("interval", cfg.Time.Interval()))

	var wg sync.WaitGroup
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

	wg.Add(1)
	go func() {
		defer wg.Done()
		report(ctx, app.Collector, app.Log)
	}()

	// Returns after the final tick has been written
	app.Collector.Run(ctx)
	wg.Wait()
}

// report logs a summary line for each track whose version changed.
func report(ctx context.Context, loop *collector.Collector, log logging.Logger) {
	versions := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-loop.Updates():
			for _, view := range changedTracks(snapshot, versions) {
				log.Info(ctx, view.Summary.String(),
					logging.String("callsign", view.Callsign),
					logging.String("phase", view.Phase().String()))
			}
		}
	}
}

// changedTracks returns the tracks whose version differs from versions and
// records the new versions.
func changedTracks(snapshot *tracking.Snapshot, versions map[string]uint64) []*tracking.TrackView {
	var changed []*tracking.TrackView
	for _, view := range snapshot.Tracks {
		if versions[view.Callsign] != view.Version {
			versions[view.Callsign] = view.Version
			changed = append(changed, view)
		}
	}
	return changed
}
