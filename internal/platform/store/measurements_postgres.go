package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// pgPool is the subset of *pgxpool.Pool the measurement store needs.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS vitals_measurements (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT NOT NULL,
	device_id   TEXT NOT NULL,
	heart_rate  DOUBLE PRECISION NOT NULL,
	spo2        DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS vitals_measurements_user_ts ON vitals_measurements (user_id, ts DESC);`

	insertMeasurementSQL = `
INSERT INTO vitals_measurements (user_id, device_id, heart_rate, spo2, ts)
VALUES ($1, $2, $3, $4, $5)`

	// A NULL bound leaves that side of the window open; LIMIT NULL means no limit.
	selectMeasurementsSQL = `
SELECT device_id, heart_rate, spo2, ts
FROM vitals_measurements
WHERE user_id = $1
  AND ($2::timestamptz IS NULL OR ts >= $2)
  AND ($3::timestamptz IS NULL OR ts < $3)
ORDER BY ts DESC
LIMIT $4`
)

// PostgresMeasurementStore keeps the full reading history in Postgres.
type PostgresMeasurementStore struct {
	db     pgPool
	logger zerolog.Logger
}

func NewPostgresMeasurementStore(db pgPool, logger zerolog.Logger) (*PostgresMeasurementStore, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool cannot be nil")
	}
	return &PostgresMeasurementStore{
		db:     db,
		logger: logger.With().Str("component", "PostgresMeasurementStore").Logger(),
	}, nil
}

// EnsureSchema creates the measurements table and index if missing.
func (s *PostgresMeasurementStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create measurements schema: %w", err)
	}
	return nil
}

func (s *PostgresMeasurementStore) Record(ctx context.Context, event vitals.TelemetryEvent) error {
	_, err := s.db.Exec(ctx, insertMeasurementSQL,
		string(event.UserID), string(event.DeviceID), event.HeartRate, event.SpO2, event.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

func (s *PostgresMeasurementStore) Measurements(ctx context.Context, userID vitals.UserID, query vitals.MeasurementQuery) ([]vitals.TelemetryEvent, error) {
	var limit any
	if query.Limit > 0 {
		limit = query.Limit
	}
	rows, err := s.db.Query(ctx, selectMeasurementsSQL,
		string(userID), nullableTime(query.Start), nullableTime(query.End), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var events []vitals.TelemetryEvent
	for rows.Next() {
		var (
			deviceID      string
			heartRate, o2 float64
			ts            time.Time
		)
		if err := rows.Scan(&deviceID, &heartRate, &o2, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		events = append(events, vitals.TelemetryEvent{
			DeviceID:  vitals.DeviceID(deviceID),
			UserID:    userID,
			HeartRate: heartRate,
			SpO2:      o2,
			Timestamp: ts.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read measurements: %w", err)
	}
	return events, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
