package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// pgQuerier is the subset of *pgxpool.Pool the binding lookup needs.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema creates the device_bindings table. The pairing flow owns the rows;
// this service only reads them.
const Schema = `
CREATE TABLE IF NOT EXISTS device_bindings (
	device_id  TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	bound_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const lookupBindingSQL = `SELECT user_id FROM device_bindings WHERE device_id = $1`

// PostgresBinding implements vitals.DeviceBinding over a device_bindings table.
type PostgresBinding struct {
	db     pgQuerier
	logger zerolog.Logger
}

func NewPostgresBinding(db pgQuerier, logger zerolog.Logger) (*PostgresBinding, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool cannot be nil")
	}
	return &PostgresBinding{
		db:     db,
		logger: logger.With().Str("component", "PostgresBinding").Logger(),
	}, nil
}

func (b *PostgresBinding) Lookup(ctx context.Context, deviceID vitals.DeviceID) (vitals.UserID, error) {
	var userID string
	err := b.db.QueryRow(ctx, lookupBindingSQL, string(deviceID)).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", vitals.ErrDeviceNotBound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query binding for device %s: %w", deviceID, err)
	}
	if userID == "" {
		return "", vitals.ErrDeviceNotBound
	}
	return vitals.UserID(userID), nil
}
