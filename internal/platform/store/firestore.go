package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection    = "user-vitals"
	readingsCollection = "readings"
	latestDocument     = "latest"
	latestCollection   = "state"
)

// storedReading is the document written per reading.
type storedReading struct {
	DeviceID   string    `firestore:"device_id"`
	HeartRate  float64   `firestore:"heart_rate"`
	SpO2       float64   `firestore:"spo2"`
	Timestamp  time.Time `firestore:"timestamp"`
	RecordedAt time.Time `firestore:"recorded_at"`
}

// FirestoreStore implements vitals.LatestStore and vitals.MeasurementStore
// using Google Cloud Firestore. Readings live under
// user-vitals/{user}/readings/{uuid}; the newest is mirrored to
// user-vitals/{user}/state/latest.
type FirestoreStore struct {
	client *firestore.Client
	logger zerolog.Logger
}

// NewFirestoreStore is the constructor for the FirestoreStore.
func NewFirestoreStore(client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	return &FirestoreStore{
		client: client,
		logger: logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

// Record appends the reading and updates the latest document in one transaction.
func (s *FirestoreStore) Record(ctx context.Context, event vitals.TelemetryEvent) error {
	userDoc := s.client.Collection(usersCollection).Doc(string(event.UserID))
	doc := toStoredReading(event)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		latestRef := userDoc.Collection(latestCollection).Doc(latestDocument)
		snap, err := tx.Get(latestRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read latest reading: %w", err)
		}

		newer := true
		if err == nil {
			var current storedReading
			if err := snap.DataTo(&current); err == nil && current.Timestamp.After(doc.Timestamp) {
				newer = false
			}
		}

		if err := tx.Create(userDoc.Collection(readingsCollection).Doc(uuid.NewString()), doc); err != nil {
			return err
		}
		if newer {
			return tx.Set(latestRef, doc)
		}
		return nil
	})
}

func (s *FirestoreStore) Latest(ctx context.Context, userID vitals.UserID) (vitals.TelemetryEvent, error) {
	snap, err := s.client.Collection(usersCollection).Doc(string(userID)).
		Collection(latestCollection).Doc(latestDocument).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return vitals.TelemetryEvent{}, vitals.ErrNoReading
		}
		return vitals.TelemetryEvent{}, fmt.Errorf("failed to fetch latest reading: %w", err)
	}
	var doc storedReading
	if err := snap.DataTo(&doc); err != nil {
		return vitals.TelemetryEvent{}, fmt.Errorf("failed to decode latest reading: %w", err)
	}
	return doc.toEvent(userID), nil
}

// Measurements returns readings inside the window, newest first.
func (s *FirestoreStore) Measurements(ctx context.Context, userID vitals.UserID, query vitals.MeasurementQuery) ([]vitals.TelemetryEvent, error) {
	q := s.client.Collection(usersCollection).Doc(string(userID)).Collection(readingsCollection).Query
	if !query.Start.IsZero() {
		q = q.Where("timestamp", ">=", query.Start.UTC())
	}
	if !query.End.IsZero() {
		q = q.Where("timestamp", "<", query.End.UTC())
	}
	q = q.OrderBy("timestamp", firestore.Desc)
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	docSnaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}

	events := make([]vitals.TelemetryEvent, 0, len(docSnaps))
	for _, snap := range docSnaps {
		var doc storedReading
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Error().Err(err).Str("doc_id", snap.Ref.ID).Msg("Failed to decode stored reading, skipping")
			continue
		}
		events = append(events, doc.toEvent(userID))
	}
	return events, nil
}

func toStoredReading(event vitals.TelemetryEvent) storedReading {
	return storedReading{
		DeviceID:   string(event.DeviceID),
		HeartRate:  event.HeartRate,
		SpO2:       event.SpO2,
		Timestamp:  event.Timestamp.UTC(),
		RecordedAt: time.Now().UTC(),
	}
}

func (r storedReading) toEvent(userID vitals.UserID) vitals.TelemetryEvent {
	return vitals.TelemetryEvent{
		DeviceID:  vitals.DeviceID(r.DeviceID),
		UserID:    userID,
		HeartRate: r.HeartRate,
		SpO2:      r.SpO2,
		Timestamp: r.Timestamp,
	}
}
