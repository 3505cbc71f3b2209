package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
// Files ending in .yaml or .yml are read as YAML, everything else as JSON.
type Config struct {
	// Name identifies this tracking session in logs and output files
	Name string `json:"name" yaml:"name"`

	// Callsigns to track; empty tracks every callsign the sources report
	Callsigns []string `json:"callsigns" yaml:"callsigns"`

	Time       TimeConfig       `json:"time" yaml:"time"`
	Sources    SourcesConfig    `json:"sources" yaml:"sources"`
	Prediction PredictionConfig `json:"prediction" yaml:"prediction"`
	Phase      PhaseConfig      `json:"phase" yaml:"phase"`
	Output     OutputConfig     `json:"output" yaml:"output"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Server     ServerConfig     `json:"server" yaml:"server"`

	// Station is the ground station for antenna look angles (optional)
	Station *StationConfig `json:"station,omitempty" yaml:"station,omitempty"`
}

// TimeConfig contains the poll loop timing and packet time window.
type TimeConfig struct {
	// Start and End bound accepted packet times (optional)
	Start LocalTime `json:"start,omitzero" yaml:"start,omitempty"`
	End   LocalTime `json:"end,omitzero" yaml:"end,omitempty"`

	// IntervalSeconds is the poll loop period (default: 10)
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`

	// SourceTimeoutSeconds bounds how long one source may block a tick
	// (default: 8)
	SourceTimeoutSeconds int `json:"source_timeout_seconds" yaml:"source_timeout_seconds"`

	// RetentionHours drops packets older than this; 0 keeps everything
	RetentionHours float64 `json:"retention_hours" yaml:"retention_hours"`

	// TimeLagWindowSeconds suppresses re-reports of an identical fix within
	// this window; 0 disables the check
	TimeLagWindowSeconds int `json:"time_lag_window_seconds" yaml:"time_lag_window_seconds"`
}

// SourcesConfig lists the packet sources.
type SourcesConfig struct {
	AprsFi   AprsFiConfig    `json:"aprs_fi" yaml:"aprs_fi"`
	SondeHub SondeHubConfig  `json:"sondehub" yaml:"sondehub"`
	Serial   []SerialConfig  `json:"serial" yaml:"serial"`
	Text     []TextConfig    `json:"text" yaml:"text"`
	GeoJSON  []GeoJSONConfig `json:"geojson" yaml:"geojson"`

	// Database reads packets back from the configured database
	Database bool `json:"database" yaml:"database"`
}

// AprsFiConfig contains aprs.fi API settings.
type AprsFiConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// APIKey is the aprs.fi API key (should be loaded from environment)
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL overrides the API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// MinIntervalSeconds is the minimum time between queries (default: 10)
	MinIntervalSeconds int `json:"min_interval_seconds" yaml:"min_interval_seconds"`
}

// SondeHubConfig contains SondeHub amateur telemetry API settings.
type SondeHubConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// BaseURL overrides the API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// MinIntervalSeconds is the minimum time between queries (default: 10)
	MinIntervalSeconds int `json:"min_interval_seconds" yaml:"min_interval_seconds"`
}

// SerialConfig describes a TNC on a serial port.
type SerialConfig struct {
	// Port is the device path, or "auto" for the first port found
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// TextConfig describes a text log of APRS frames, on disk or at a URL.
type TextConfig struct {
	Location string `json:"location" yaml:"location"`
}

// GeoJSONConfig describes a GeoJSON file of packet points.
type GeoJSONConfig struct {
	Path string `json:"path" yaml:"path"`
}

// PredictionConfig contains landing prediction settings.
type PredictionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// APIURL is the Tawhiri endpoint
	APIURL string `json:"api_url" yaml:"api_url"`

	// Start is used for tracks without altitude, and by the one-shot
	// predict command
	Start *StartConfig `json:"start,omitempty" yaml:"start,omitempty"`

	Profile ProfileConfig `json:"profile" yaml:"profile"`

	// MinIntervalSeconds is the minimum time between requests per callsign (default: 60)
	MinIntervalSeconds int `json:"min_interval_seconds" yaml:"min_interval_seconds"`

	// DivergenceMeters is how far a track must move before re-requesting (default: 500)
	DivergenceMeters float64 `json:"divergence_meters" yaml:"divergence_meters"`

	// TimeoutSeconds bounds one prediction request (default: 30)
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// RequestsPerHour limits the API call rate; 0 = unlimited
	RequestsPerHour int `json:"requests_per_hour" yaml:"requests_per_hour"`

	// Output is a GeoJSON file for predicted trajectories (optional)
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// StartConfig is a launch point.
type StartConfig struct {
	Latitude  float64   `json:"latitude" yaml:"latitude"`
	Longitude float64   `json:"longitude" yaml:"longitude"`
	Altitude  float64   `json:"altitude" yaml:"altitude"`
	Time      LocalTime `json:"time,omitzero" yaml:"time,omitempty"`
}

// StationConfig is a fixed receiving station.
type StationConfig struct {
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`

	// Elevation in meters above mean sea level
	Elevation float64 `json:"elevation" yaml:"elevation"`
}

// ProfileConfig is the expected flight profile.
type ProfileConfig struct {
	// AscentRate in m/s (default: 5.5)
	AscentRate float64 `json:"ascent_rate" yaml:"ascent_rate"`

	// BurstAltitude in meters (default: 28000)
	BurstAltitude float64 `json:"burst_altitude" yaml:"burst_altitude"`

	// SeaLevelDescentRate in m/s (default: 6.001, the free fall model at sea level)
	SeaLevelDescentRate float64 `json:"sea_level_descent_rate" yaml:"sea_level_descent_rate"`

	// Float is set for balloons expected to float
	Float *FloatConfig `json:"float,omitempty" yaml:"float,omitempty"`
}

// FloatConfig is the float stage of a profile.
type FloatConfig struct {
	Altitude        float64 `json:"altitude" yaml:"altitude"`
	DurationMinutes float64 `json:"duration_minutes" yaml:"duration_minutes"`
	Uncertainty     float64 `json:"uncertainty,omitempty" yaml:"uncertainty,omitempty"`
}

// PhaseConfig contains the flight phase classifier thresholds.
type PhaseConfig struct {
	WindowSamples        int     `json:"window_samples" yaml:"window_samples"`
	VerticalRateEpsilon  float64 `json:"vertical_rate_epsilon" yaml:"vertical_rate_epsilon"`
	FloatDurationMinutes float64 `json:"float_duration_minutes" yaml:"float_duration_minutes"`
	GroundAltitude       float64 `json:"ground_altitude" yaml:"ground_altitude"`
	GroundElevation      float64 `json:"ground_elevation,omitempty" yaml:"ground_elevation,omitempty"`
	LandedSamples        int     `json:"landed_samples" yaml:"landed_samples"`
}

// OutputConfig lists where snapshots are written.
type OutputConfig struct {
	// GeoJSON is the track output file (optional)
	GeoJSON string `json:"geojson,omitempty" yaml:"geojson,omitempty"`

	// Plot is an HTML altitude chart (optional)
	Plot string `json:"plot,omitempty" yaml:"plot,omitempty"`

	// Database writes packets and predictions to the configured database
	Database bool `json:"database" yaml:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (postgres, sqlite)
	Driver string `json:"driver" yaml:"driver"`

	// Host is the database server hostname
	Host string `json:"host" yaml:"host"`

	// Port is the database server port
	Port int `json:"port" yaml:"port"`

	// Database is the database name, or the file path for sqlite
	Database string `json:"database" yaml:"database"`

	// Username for database authentication
	Username string `json:"username" yaml:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password" yaml:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode" yaml:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Path is a log file; empty logs to stderr
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Level is debug, info, warn or error (default: info)
	Level string `json:"level" yaml:"level"`

	// Format is text or json (default: text)
	Format string `json:"format" yaml:"format"`
}

// ServerConfig contains the status API settings.
type ServerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Host is the server bind address (default: "127.0.0.1")
	Host string `json:"host" yaml:"host"`

	// Port is the HTTP server port (default: 8080)
	Port string `json:"port" yaml:"port"`
}

// Load reads configuration from a JSON or YAML file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset fields keep their defaults
	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// Save writes the configuration to a JSON or YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name: "balloonscope",
		Time: TimeConfig{
			IntervalSeconds:      10,
			SourceTimeoutSeconds: 8,
		},
		Sources: SourcesConfig{
			AprsFi:   AprsFiConfig{MinIntervalSeconds: 10},
			SondeHub: SondeHubConfig{MinIntervalSeconds: 10},
		},
		Prediction: PredictionConfig{
			APIURL: "https://api.v2.sondehub.org/tawhiri",
			Profile: ProfileConfig{
				AscentRate:          5.5,
				BurstAltitude:       28000,
				SeaLevelDescentRate: 6.001,
			},
			MinIntervalSeconds: 60,
			DivergenceMeters:   500,
			TimeoutSeconds:     30,
		},
		Phase: PhaseConfig{
			WindowSamples:        5,
			VerticalRateEpsilon:  0.5,
			FloatDurationMinutes: 10,
			GroundAltitude:       50,
			LandedSamples:        3,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Host:         "localhost",
			Port:         5432,
			Database:     "balloonscope.db",
			Username:     "balloonscope",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Time.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("time.interval_seconds must be positive, got %d", c.Time.IntervalSeconds))
	}
	if c.Time.SourceTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("time.source_timeout_seconds must be positive, got %d", c.Time.SourceTimeoutSeconds))
	}
	if !c.Time.Start.IsZero() && !c.Time.End.IsZero() && !c.Time.End.After(c.Time.Start.Time) {
		errs = append(errs, errors.New("time.end must be after time.start"))
	}
	if c.Time.RetentionHours < 0 {
		errs = append(errs, fmt.Errorf("time.retention_hours must not be negative, got %v", c.Time.RetentionHours))
	}

	if c.Sources.AprsFi.Enabled {
		if c.Sources.AprsFi.APIKey == "" {
			errs = append(errs, errors.New("sources.aprs_fi requires an api_key (or BALLOONSCOPE_APRSFI_API_KEY)"))
		}
		if len(c.Callsigns) == 0 {
			errs = append(errs, errors.New("sources.aprs_fi requires callsigns"))
		}
	}
	if c.Sources.SondeHub.Enabled && len(c.Callsigns) == 0 {
		errs = append(errs, errors.New("sources.sondehub requires callsigns"))
	}
	for i, s := range c.Sources.Serial {
		if s.Port == "" {
			errs = append(errs, fmt.Errorf("sources.serial[%d].port is required", i))
		}
	}
	for i, s := range c.Sources.Text {
		if s.Location == "" {
			errs = append(errs, fmt.Errorf("sources.text[%d].location is required", i))
		}
	}
	for i, s := range c.Sources.GeoJSON {
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("sources.geojson[%d].path is required", i))
		}
	}

	p := c.Prediction.Profile
	if p.AscentRate <= 0 {
		errs = append(errs, fmt.Errorf("prediction.profile.ascent_rate must be positive, got %v", p.AscentRate))
	}
	if p.BurstAltitude <= 0 {
		errs = append(errs, fmt.Errorf("prediction.profile.burst_altitude must be positive, got %v", p.BurstAltitude))
	}
	if p.SeaLevelDescentRate <= 0 {
		errs = append(errs, fmt.Errorf("prediction.profile.sea_level_descent_rate must be positive, got %v", p.SeaLevelDescentRate))
	}
	if p.Float != nil && p.Float.Altitude <= 0 {
		errs = append(errs, fmt.Errorf("prediction.profile.float.altitude must be positive, got %v", p.Float.Altitude))
	}
	if s := c.Prediction.Start; s != nil {
		if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
			errs = append(errs, fmt.Errorf("prediction.start (%v, %v) is out of range", s.Latitude, s.Longitude))
		}
	}
	if c.Prediction.Enabled && c.Prediction.APIURL == "" {
		errs = append(errs, errors.New("prediction.api_url is required"))
	}

	if s := c.Station; s != nil {
		if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
			errs = append(errs, fmt.Errorf("station (%v, %v) is out of range", s.Latitude, s.Longitude))
		}
	}

	if c.Phase.GroundAltitude < 0 {
		errs = append(errs, fmt.Errorf("phase.ground_altitude must not be negative, got %v", c.Phase.GroundAltitude))
	}

	if c.Sources.Database || c.Output.Database {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Interval returns the poll loop period.
func (t TimeConfig) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// SourceTimeout returns the per-tick source deadline.
func (t TimeConfig) SourceTimeout() time.Duration {
	return time.Duration(t.SourceTimeoutSeconds) * time.Second
}

// Retention returns the retention window; 0 keeps everything.
func (t TimeConfig) Retention() time.Duration {
	return time.Duration(t.RetentionHours * float64(time.Hour))
}

// TimeLagWindow returns the lagged duplicate window.
func (t TimeConfig) TimeLagWindow() time.Duration {
	return time.Duration(t.TimeLagWindowSeconds) * time.Second
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if apiKey := os.Getenv("BALLOONSCOPE_APRSFI_API_KEY"); apiKey != "" {
		c.Sources.AprsFi.APIKey = apiKey
	}
	if dbPassword := os.Getenv("BALLOONSCOPE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if level := os.Getenv("BALLOONSCOPE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if port := os.Getenv("BALLOONSCOPE_PORT"); port != "" {
		c.Server.Port = port
	}
}
