// Package binding resolves which user owns a device.
package binding

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection holds one document per device, keyed by device id.
const DefaultCollection = "device-bindings"

// bindingDocument is the document stored per device.
type bindingDocument struct {
	UserID  string    `firestore:"user_id"`
	BoundAt time.Time `firestore:"bound_at"`
}

// FirestoreBinding implements vitals.DeviceBinding using Google Cloud Firestore.
type FirestoreBinding struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreBinding is the constructor for the FirestoreBinding.
func NewFirestoreBinding(client *firestore.Client, collection string, logger zerolog.Logger) (*FirestoreBinding, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreBinding{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreBinding").Logger(),
	}, nil
}

// Lookup fetches the binding document for deviceID.
func (b *FirestoreBinding) Lookup(ctx context.Context, deviceID vitals.DeviceID) (vitals.UserID, error) {
	snap, err := b.client.Collection(b.collection).Doc(string(deviceID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", vitals.ErrDeviceNotBound
		}
		return "", fmt.Errorf("failed to fetch binding for device %s: %w", deviceID, err)
	}

	var doc bindingDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to decode binding for device %s: %w", deviceID, err)
	}
	if doc.UserID == "" {
		return "", vitals.ErrDeviceNotBound
	}
	return vitals.UserID(doc.UserID), nil
}
