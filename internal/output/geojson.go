// Package output writes snapshots to files for mapping and plotting tools.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	geojson "github.com/paulmach/go.geojson"

	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// GeoJSONWriter rewrites a FeatureCollection with one Point feature per
// packet each time the snapshot changes. When PredictionPath is set, the
// attached predictions are written there as one LineString per track.
type GeoJSONWriter struct {
	Path           string
	PredictionPath string

	lastState map[string]uint64
}

// NewGeoJSONWriter creates a writer for the given files. Either path may be empty.
func NewGeoJSONWriter(path, predictionPath string) *GeoJSONWriter {
	return &GeoJSONWriter{Path: path, PredictionPath: predictionPath}
}

func (w *GeoJSONWriter) Name() string { return "geojson" }

// Write implements the snapshot writer contract.
func (w *GeoJSONWriter) Write(ctx context.Context, snapshot *tracking.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.changed(snapshot) {
		return nil
	}

	if w.Path != "" {
		data, err := TracksCollection(snapshot).MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode tracks: %w", err)
		}
		if err := writeFileAtomic(w.Path, data); err != nil {
			return err
		}
	}

	if w.PredictionPath != "" {
		data, err := PredictionCollection(snapshot).MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode predictions: %w", err)
		}
		if err := writeFileAtomic(w.PredictionPath, data); err != nil {
			return err
		}
	}
	return nil
}

// changed reports whether any track version differs from the last write.
func (w *GeoJSONWriter) changed(snapshot *tracking.Snapshot) bool {
	state := make(map[string]uint64, len(snapshot.Tracks))
	for _, view := range snapshot.Tracks {
		state[view.Callsign] = view.Version
	}
	same := w.lastState != nil && len(state) == len(w.lastState)
	if same {
		for callsign, version := range state {
			if w.lastState[callsign] != version {
				same = false
				break
			}
		}
	}
	w.lastState = state
	return !same
}

// TracksCollection converts every packet of the snapshot into a Point
// feature carrying the kinematics since the previous packet, followed by a
// LineString summary feature for each track with at least two packets.
func TracksCollection(snapshot *tracking.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, view := range snapshot.Tracks {
		for i, p := range view.Packets {
			point := []float64{p.Position.Longitude, p.Position.Latitude}
			if p.Altitude.Valid {
				point = append(point, p.Altitude.Meters)
			}
			f := geojson.NewPointFeature(point)
			f.SetProperty("callsign", p.Callsign)
			f.SetProperty("time", p.Time.UTC().Format(time.RFC3339Nano))
			f.SetProperty("source", p.Source)
			if p.Altitude.Valid {
				f.SetProperty("altitude", p.Altitude.Meters)
			}
			if p.Comment != "" {
				f.SetProperty("comment", p.Comment)
			}
			if p.Symbol != "" {
				f.SetProperty("symbol", p.Symbol)
			}
			if p.Raw != "" {
				f.SetProperty("raw", p.Raw)
			}
			if m, ok := view.MetricsBefore(i); ok {
				f.SetProperty("interval_seconds", m.Interval.Seconds())
				f.SetProperty("distance", m.Distance)
				f.SetProperty("ground_speed", m.GroundSpeed)
				f.SetProperty("bearing", m.Bearing)
				if m.HasAltitude {
					f.SetProperty("ascent", m.Ascent)
					f.SetProperty("ascent_rate", m.AscentRate)
				}
			}
			if i == len(view.Packets)-1 {
				f.SetProperty("phase", view.Phase().String())
			}
			fc.AddFeature(f)
		}
		if f := trackFeature(view); f != nil {
			fc.AddFeature(f)
		}
	}
	return fc
}

// trackFeature summarises a track as a LineString through its packets.
// It returns nil for tracks with fewer than two packets.
func trackFeature(view *tracking.TrackView) *geojson.Feature {
	if len(view.Packets) < 2 {
		return nil
	}
	line := make([][]float64, 0, len(view.Packets))
	for _, p := range view.Packets {
		point := []float64{p.Position.Longitude, p.Position.Latitude}
		if p.Altitude.Valid {
			point = append(point, p.Altitude.Meters)
		}
		line = append(line, point)
	}

	s := view.Summary
	f := geojson.NewLineStringFeature(line)
	f.SetProperty("callsign", view.Callsign)
	f.SetProperty("phase", view.Phase().String())
	f.SetProperty("packets", s.Packets)
	if s.HasAltitude {
		f.SetProperty("altitude", s.CurrentAltitude)
		f.SetProperty("max_altitude", s.MaxAltitude)
	}
	if s.Falling {
		f.SetProperty("seconds_to_ground", s.TimeToGround.Seconds())
	}
	return f
}

// PredictionCollection converts the attached predictions into LineString features.
func PredictionCollection(snapshot *tracking.Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, view := range snapshot.Tracks {
		if view.Prediction == nil {
			continue
		}
		fc.AddFeature(PredictionFeature(view.Callsign, view.Prediction))
	}
	return fc
}

// PredictionFeature converts one predicted trajectory into a LineString.
func PredictionFeature(callsign string, p *tracking.PredictedTrajectory) *geojson.Feature {
	line := make([][]float64, 0, len(p.Samples))
	for _, s := range p.Samples {
		line = append(line, []float64{s.Position.Longitude, s.Position.Latitude, s.Altitude})
	}
	f := geojson.NewLineStringFeature(line)
	f.SetProperty("callsign", callsign)
	f.SetProperty("request_id", p.RequestID)
	f.SetProperty("requested", p.Requested.UTC().Format(time.RFC3339))
	f.SetProperty("descent_only", p.DescentOnly)
	if landing, ok := p.Landing(); ok {
		f.SetProperty("landing_time", landing.Time.UTC().Format(time.RFC3339))
	}
	if burst, ok := p.Burst(); ok {
		f.SetProperty("burst_altitude", burst.Altitude)
	}
	return f
}

// WritePrediction writes a single predicted trajectory to path as a
// FeatureCollection holding one LineString.
func WritePrediction(path, callsign string, p *tracking.PredictedTrajectory) error {
	fc := geojson.NewFeatureCollection()
	fc.AddFeature(PredictionFeature(callsign, p))
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic replaces path through a temporary file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
