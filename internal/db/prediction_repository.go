package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
	"github.com/unklstewy/balloonscope/pkg/tracking"
)

// StoredPrediction is the latest prediction stored for a callsign.
type StoredPrediction struct {
	Callsign    string
	RequestID   string
	Requested   time.Time
	DescentOnly bool
	Landing     tracking.Sample
	Path        []tracking.Sample
}

// PredictionRepository stores the latest prediction per callsign.
type PredictionRepository struct {
	db *DB
}

// NewPredictionRepository creates a new prediction repository.
func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

type pathPoint struct {
	TimeMs    int64   `json:"t"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
}

// Save replaces the stored prediction for callsign.
func (r *PredictionRepository) Save(ctx context.Context, callsign string, p *tracking.PredictedTrajectory) error {
	landing, ok := p.Landing()
	if !ok {
		return fmt.Errorf("prediction %s has no samples", p.RequestID)
	}

	points := make([]pathPoint, len(p.Samples))
	for i, s := range p.Samples {
		points[i] = pathPoint{
			TimeMs:    s.Time.UnixMilli(),
			Latitude:  s.Position.Latitude,
			Longitude: s.Position.Longitude,
			Altitude:  s.Altitude,
		}
	}
	path, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("failed to encode path: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO predictions (callsign, request_id, requested_ms, descent_only, landing_latitude, landing_longitude, landing_ms, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (callsign) DO UPDATE SET
			request_id = excluded.request_id,
			requested_ms = excluded.requested_ms,
			descent_only = excluded.descent_only,
			landing_latitude = excluded.landing_latitude,
			landing_longitude = excluded.landing_longitude,
			landing_ms = excluded.landing_ms,
			path = excluded.path
	`),
		callsign,
		p.RequestID,
		p.Requested.UnixMilli(),
		p.DescentOnly,
		landing.Position.Latitude,
		landing.Position.Longitude,
		landing.Time.UnixMilli(),
		string(path),
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction for %s: %w", callsign, err)
	}
	return nil
}

// Latest returns the stored prediction for callsign, or nil if none exists.
func (r *PredictionRepository) Latest(ctx context.Context, callsign string) (*StoredPrediction, error) {
	var sp StoredPrediction
	var requestedMs, landingMs int64
	var path string

	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT callsign, request_id, requested_ms, descent_only, landing_latitude, landing_longitude, landing_ms, path
		FROM predictions WHERE callsign = ?
	`), telemetry.NormalizeCallsign(callsign)).Scan(
		&sp.Callsign,
		&sp.RequestID,
		&requestedMs,
		&sp.DescentOnly,
		&sp.Landing.Position.Latitude,
		&sp.Landing.Position.Longitude,
		&landingMs,
		&path,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction for %s: %w", callsign, err)
	}

	sp.Requested = time.UnixMilli(requestedMs).UTC()
	sp.Landing.Time = time.UnixMilli(landingMs).UTC()

	var points []pathPoint
	if err := json.Unmarshal([]byte(path), &points); err != nil {
		return nil, fmt.Errorf("failed to decode path for %s: %w", callsign, err)
	}
	sp.Path = make([]tracking.Sample, len(points))
	for i, pt := range points {
		sp.Path[i] = tracking.Sample{
			Time:     time.UnixMilli(pt.TimeMs).UTC(),
			Position: telemetry.Coordinate{Latitude: pt.Latitude, Longitude: pt.Longitude},
			Altitude: pt.Altitude,
		}
	}
	if n := len(sp.Path); n > 0 {
		sp.Landing.Altitude = sp.Path[n-1].Altitude
	}
	return &sp, nil
}
