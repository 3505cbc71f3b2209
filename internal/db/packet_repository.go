package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/balloonscope/pkg/telemetry"
)

// PacketRepository stores packets and reads them back.
type PacketRepository struct {
	db *DB
}

// NewPacketRepository creates a new packet repository.
func NewPacketRepository(db *DB) *PacketRepository {
	return &PacketRepository{db: db}
}

// Insert stores packets, ignoring any already present. It returns the number
// of new rows.
func (r *PacketRepository) Insert(ctx context.Context, packets []telemetry.Packet) (int, error) {
	if len(packets) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO packets (callsign, time_ms, latitude, longitude, altitude, comment, symbol, raw, source, received_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (callsign, time_ms) DO NOTHING
	`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range packets {
		var altitude sql.NullFloat64
		if p.Altitude.Valid {
			altitude = sql.NullFloat64{Float64: p.Altitude.Meters, Valid: true}
		}
		received := p.Received
		if received.IsZero() {
			received = p.ObservedAt()
		}

		res, err := stmt.ExecContext(ctx,
			p.Callsign,
			p.ObservedAt().UnixMilli(),
			p.Position.Latitude,
			p.Position.Longitude,
			altitude,
			p.Comment,
			p.Symbol,
			p.Raw,
			p.Source,
			received.UnixMilli(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert packet %s: %w", p, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit packets: %w", err)
	}
	return inserted, nil
}

// ReceivedSince returns packets received after since, oldest first,
// optionally restricted to callsigns.
func (r *PacketRepository) ReceivedSince(ctx context.Context, since time.Time, callsigns []string) ([]telemetry.Packet, error) {
	query := `
		SELECT callsign, time_ms, latitude, longitude, altitude, comment, symbol, raw, source, received_ms
		FROM packets
		WHERE received_ms > ?`
	args := []any{since.UnixMilli()}
	if len(callsigns) > 0 {
		query += ` AND callsign IN (?` + strings.Repeat(", ?", len(callsigns)-1) + `)`
		for _, c := range callsigns {
			args = append(args, telemetry.NormalizeCallsign(c))
		}
	}
	query += ` ORDER BY received_ms, time_ms`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}
	defer rows.Close()

	var packets []telemetry.Packet
	for rows.Next() {
		var p telemetry.Packet
		var timeMs, receivedMs int64
		var altitude sql.NullFloat64
		if err := rows.Scan(
			&p.Callsign,
			&timeMs,
			&p.Position.Latitude,
			&p.Position.Longitude,
			&altitude,
			&p.Comment,
			&p.Symbol,
			&p.Raw,
			&p.Source,
			&receivedMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan packet: %w", err)
		}
		p.Time = time.UnixMilli(timeMs).UTC()
		p.Received = time.UnixMilli(receivedMs).UTC()
		p.Resolution = time.Millisecond
		if altitude.Valid {
			p.Altitude = telemetry.Meters(altitude.Float64)
		}
		packets = append(packets, p)
	}
	return packets, rows.Err()
}

// CountByCallsign returns the number of stored packets per callsign.
func (r *PacketRepository) CountByCallsign(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT callsign, COUNT(*) FROM packets GROUP BY callsign`)
	if err != nil {
		return nil, fmt.Errorf("failed to count packets: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var callsign string
		var n int
		if err := rows.Scan(&callsign, &n); err != nil {
			return nil, err
		}
		counts[callsign] = n
	}
	return counts, rows.Err()
}

type packetReader interface {
	ReceivedSince(ctx context.Context, since time.Time, callsigns []string) ([]telemetry.Packet, error)
}

// PacketSource drains packets written to the database by other processes.
type PacketSource struct {
	repo      packetReader
	callsigns []string

	mu     sync.Mutex
	cursor time.Time
}

// NewPacketSource creates a source returning packets received after since.
func NewPacketSource(repo *PacketRepository, callsigns []string, since time.Time) *PacketSource {
	return &PacketSource{repo: repo, callsigns: callsigns, cursor: since}
}

func (s *PacketSource) Name() string { return "database" }

// Drain returns the packets received since the previous drain.
func (s *PacketSource) Drain(ctx context.Context) ([]telemetry.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var packets []telemetry.Packet
	err := WithRetry(ctx, func() error {
		var err error
		packets, err = s.repo.ReceivedSince(ctx, s.cursor, s.callsigns)
		return err
	}, writeRetries)
	if err != nil {
		return nil, &telemetry.SourceError{Source: s.Name(), Kind: telemetry.ReadFailure, Err: err}
	}
	for _, p := range packets {
		if p.Received.After(s.cursor) {
			s.cursor = p.Received
		}
	}
	return packets, nil
}

func (s *PacketSource) Close() error { return nil }
