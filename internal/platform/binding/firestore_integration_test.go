//go:build integration

package binding_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/binding"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// Requires FIRESTORE_EMULATOR_HOST to point at a running emulator.
func TestFirestoreBinding_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	collection := "bindings-" + time.Now().Format("150405.000")
	_, err = client.Collection(collection).Doc("dev-1").Set(ctx, map[string]any{
		"user_id":  "user-1",
		"bound_at": time.Now(),
	})
	require.NoError(t, err)

	b, err := binding.NewFirestoreBinding(client, collection, zerolog.Nop())
	require.NoError(t, err)

	userID, err := b.Lookup(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, vitals.UserID("user-1"), userID)

	_, err = b.Lookup(ctx, "dev-unknown")
	assert.ErrorIs(t, err, vitals.ErrDeviceNotBound)
}
