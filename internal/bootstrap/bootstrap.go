// Package bootstrap assembles the poll loop and its collaborators from a
// configuration. Every command shares it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/balloonscope/internal/api"
	"github.com/unklstewy/balloonscope/internal/collector"
	"github.com/unklstewy/balloonscope/internal/db"
	"github.com/unklstewy/balloonscope/internal/logging"
	"github.com/unklstewy/balloonscope/internal/observability"
	"github.com/unklstewy/balloonscope/internal/output"
	"github.com/unklstewy/balloonscope/pkg/config"
	"github.com/unklstewy/balloonscope/pkg/prediction"
	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// Options adjust how the application is assembled.
type Options struct {
	// LogOutput receives log lines in addition to the configured log file.
	// Terminal UIs pass a logging.Buffer here.
	LogOutput io.Writer

	// Events receives loop events
	Events collector.EventSink

	// Registerer for metrics; nil creates a private registry
	Registerer prometheus.Registerer
}

// App is an assembled poll loop with everything it owns.
type App struct {
	Config      *config.Config
	Log         logging.Logger
	Metrics     *observability.Collector
	Registry    *tracking.Registry
	Classifier  *tracking.Classifier
	Coordinator *tracking.Coordinator
	Client      *prediction.Client
	Collector   *collector.Collector
	DB          *db.DB

	sources []telemetry.Source
	closers []io.Closer
}

// Build validates cfg and assembles the application. It fails when the
// configuration is invalid or no source can be opened.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	log, err := app.buildLogger(opts.LogOutput)
	if err != nil {
		return nil, err
	}
	app.Log = log

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if app.Metrics, err = observability.NewCollector(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if cfg.Sources.Database || cfg.Output.Database {
		database, err := db.ReconnectWithRetry(ctx, cfg.Database, 3, time.Second, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = database
		app.closers = append(app.closers, database)
		if err := database.InitSchema(ctx); err != nil {
			return nil, err
		}
		log.Info(ctx, "database ready", logging.String("driver", database.Driver()))
	}

	profile := Profile(cfg.Prediction.Profile)
	app.Classifier = tracking.NewClassifier(PhaseConfig(cfg.Phase), profile)
	app.Registry = tracking.NewRegistry(tracking.RegistryConfig{
		Callsigns:     cfg.Callsigns,
		Start:         cfg.Time.Start.Time,
		End:           cfg.Time.End.Time,
		Retention:     cfg.Time.Retention(),
		TimeLagWindow: cfg.Time.TimeLagWindow(),
	})

	if cfg.Output.GeoJSON != "" {
		if n, err := Resume(app.Registry, cfg.Output.GeoJSON); err != nil {
			log.Warn(ctx, "could not resume from previous output", logging.String("path", cfg.Output.GeoJSON), logging.Err(err))
		} else if n > 0 {
			log.Info(ctx, "resumed from previous output", logging.String("path", cfg.Output.GeoJSON), logging.Int("packets", n))
		}
	}

	var client tracking.PredictionClient
	if cfg.Prediction.Enabled {
		app.Client = PredictionClient(cfg.Prediction)
		client = app.Client
		app.Coordinator = tracking.NewCoordinator(tracking.CoordinatorConfig{
			MinInterval:        time.Duration(cfg.Prediction.MinIntervalSeconds) * time.Second,
			DivergenceDistance: cfg.Prediction.DivergenceMeters,
			DefaultStart:       Start(cfg.Prediction.Start),
		}, app.Classifier)
	}

	sources, err := Sources(ctx, cfg, app.DB, log)
	if err != nil {
		return nil, err
	}
	app.sources = sources

	app.Collector, err = collector.New(collector.Config{
		Interval:          cfg.Time.Interval(),
		SourceTimeout:     cfg.Time.SourceTimeout(),
		PredictionTimeout: time.Duration(cfg.Prediction.TimeoutSeconds) * time.Second,
		StatsInterval:     5 * time.Minute,
	}, collector.Options{
		Sources:     sources,
		Registry:    app.Registry,
		Classifier:  app.Classifier,
		Coordinator: app.Coordinator,
		Client:      client,
		Writers:     Writers(cfg, app.DB),
		Metrics:     app.Metrics,
		Log:         log,
		Events:      opts.Events,
	})
	if err != nil {
		return nil, err
	}

	if link := AprsFiMapURL(cfg.Callsigns); link != "" {
		log.Info(ctx, "tracking on aprs.fi", logging.String("url", link))
	}

	ok = true
	return app, nil
}

func (a *App) buildLogger(extra io.Writer) (logging.Logger, error) {
	var writers []io.Writer
	if a.Config.Log.Path != "" {
		f, err := logging.OpenFile(a.Config.Log.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f)
		writers = append(writers, f)
	}
	if extra != nil {
		writers = append(writers, extra)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	return logging.New(logging.Config{
		Level:  a.Config.Log.Level,
		Format: a.Config.Log.Format,
		Output: io.MultiWriter(writers...),
	}), nil
}

// StatusServer creates the status API for the collector, with a database
// health check when a database is connected.
func (a *App) StatusServer() *api.Server {
	server := api.NewServer(a.Collector, a.Metrics.Handler(), a.Log)
	if a.DB != nil {
		database := a.DB
		server.AddCheck("database", func(ctx context.Context) bool {
			return db.HealthCheck(ctx, database)
		})
	}
	return server
}

// Addr returns the status API listen address.
func (a *App) Addr() string {
	return net.JoinHostPort(a.Config.Server.Host, a.Config.Server.Port)
}

// Close releases the sources, the database and the log file.
func (a *App) Close() error {
	var errs []error
	for _, s := range a.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	a.sources = nil
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Sources opens every configured source. A source that cannot be opened
// is logged and skipped; only an empty result is an error.
func Sources(ctx context.Context, cfg *config.Config, database *db.DB, log logging.Logger) ([]telemetry.Source, error) {
	var sources []telemetry.Source
	var errs []error
	add := func(s telemetry.Source, err error) {
		if err != nil {
			log.Warn(ctx, "source unavailable at startup", logging.Err(err))
			errs = append(errs, err)
			return
		}
		log.Info(ctx, "source configured", logging.String("source", s.Name()))
		sources = append(sources, s)
	}

	s := cfg.Sources
	if s.AprsFi.Enabled {
		add(telemetry.NewAprsFiSource(s.AprsFi.BaseURL, s.AprsFi.APIKey, cfg.Callsigns,
			time.Duration(s.AprsFi.MinIntervalSeconds)*time.Second))
	}
	if s.SondeHub.Enabled {
		add(telemetry.NewSondeHubSource(s.SondeHub.BaseURL, cfg.Callsigns, cfg.Time.Start.Time, cfg.Time.End.Time,
			time.Duration(s.SondeHub.MinIntervalSeconds)*time.Second))
	}
	for _, port := range s.Serial {
		add(telemetry.NewSerialSource(port.Port, telemetry.PortOptions{
			BaudRate: port.BaudRate,
			DataBits: port.DataBits,
			StopBits: port.StopBits,
			Parity:   port.Parity,
		}, cfg.Callsigns))
	}
	for _, text := range s.Text {
		add(telemetry.NewTextFileSource(text.Location, cfg.Callsigns))
	}
	for _, g := range s.GeoJSON {
		add(telemetry.NewGeoJSONSource(g.Path, cfg.Callsigns), nil)
	}
	if s.Database {
		if database == nil {
			errs = append(errs, errors.New("database source requires a database connection"))
		} else {
			add(db.NewPacketSource(db.NewPacketRepository(database), cfg.Callsigns, cfg.Time.Start.Time), nil)
		}
	}

	if len(sources) == 0 {
		return nil, errors.Join(append([]error{collector.ErrNoSources}, errs...)...)
	}
	return sources, nil
}

// Writers returns the configured snapshot outputs.
func Writers(cfg *config.Config, database *db.DB) []collector.Writer {
	var writers []collector.Writer
	if cfg.Output.GeoJSON != "" || cfg.Prediction.Output != "" {
		writers = append(writers, output.NewGeoJSONWriter(cfg.Output.GeoJSON, cfg.Prediction.Output))
	}
	if cfg.Output.Plot != "" {
		writers = append(writers, output.NewPlotWriter(cfg.Output.Plot))
	}
	if cfg.Output.Database && database != nil {
		writers = append(writers, db.NewWriter(database))
	}
	return writers
}

// Resume ingests the packets of a previous GeoJSON output file. A missing
// file is not an error.
func Resume(registry *tracking.Registry, path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	packets, err := telemetry.DecodeGeoJSON(data, time.Now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range packets {
		if outcome, err := registry.Ingest(p); err == nil && outcome == tracking.Inserted {
			n++
		}
	}
	return n, nil
}

// Profile converts the configured flight profile.
func Profile(p config.ProfileConfig) tracking.Profile {
	profile := tracking.Profile{
		AscentRate:          p.AscentRate,
		BurstAltitude:       p.BurstAltitude,
		SeaLevelDescentRate: p.SeaLevelDescentRate,
	}
	if p.Float != nil {
		profile.Float = &tracking.FloatStage{
			Altitude:    p.Float.Altitude,
			Duration:    time.Duration(p.Float.DurationMinutes * float64(time.Minute)),
			Uncertainty: p.Float.Uncertainty,
		}
	}
	return profile
}

// PhaseConfig converts the configured classifier thresholds.
func PhaseConfig(p config.PhaseConfig) tracking.PhaseConfig {
	return tracking.PhaseConfig{
		WindowSamples:       p.WindowSamples,
		VerticalRateEpsilon: p.VerticalRateEpsilon,
		FloatDuration:       time.Duration(p.FloatDurationMinutes * float64(time.Minute)),
		GroundAltitude:      p.GroundAltitude,
		GroundElevation:     p.GroundElevation,
		LandedSamples:       p.LandedSamples,
	}
}

// PredictionClient creates the Tawhiri client for the prediction settings.
func PredictionClient(p config.PredictionConfig) *prediction.Client {
	return prediction.NewClient(prediction.Config{
		BaseURL:         p.APIURL,
		Timeout:         time.Duration(p.TimeoutSeconds) * time.Second,
		RequestsPerHour: p.RequestsPerHour,
	})
}

// Start converts the configured launch point, or returns nil.
func Start(s *config.StartConfig) *tracking.Sample {
	if s == nil {
		return nil
	}
	return &tracking.Sample{
		Time:     s.Time.Time,
		Position: telemetry.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude},
		Altitude: s.Altitude,
	}
}

// AprsFiMapURL links to an aprs.fi map following the callsigns.
func AprsFiMapURL(callsigns []string) string {
	if len(callsigns) == 0 {
		return ""
	}
	parts := make([]string, len(callsigns))
	for i, c := range callsigns {
		parts[i] = "a/" + telemetry.NormalizeCallsign(c)
	}
	return "https://aprs.fi/#!call=" + url.QueryEscape(strings.Join(parts, ","))
}
