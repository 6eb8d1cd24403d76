package pubsub_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ps "github.com/tinywideclouds/go-vitals-service/internal/platform/pubsub" // Aliased import
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const projectID = "test-project"

type pubsubFixture struct {
	srv    *pstest.Server
	client *pubsub.Client
}

// newPubsubFixture connects a real client to an in-memory pstest server.
func newPubsubFixture(t *testing.T) *pubsubFixture {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Created with context.Background() to avoid racing test cleanup.
	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &pubsubFixture{srv: srv, client: client}
}

func (f *pubsubFixture) createTopic(t *testing.T, ctx context.Context, topicID string) string {
	t.Helper()
	name := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := f.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	require.NoError(t, err)
	return name
}

func (f *pubsubFixture) createSubscription(t *testing.T, ctx context.Context, topicName, subID string) {
	t.Helper()
	_, err := f.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:  fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID),
		Topic: topicName,
	})
	require.NoError(t, err)
}

func TestProducer_Publish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	fx := newPubsubFixture(t)
	topicName := fx.createTopic(t, ctx, "telemetry")
	fx.createSubscription(t, ctx, topicName, "telemetry-sub")

	producer := ps.NewProducer(fx.client.Publisher("telemetry"))
	payload := []byte(`{"device_id":"dev-1","heart_rate":72,"spo2":98}`)

	// Act
	require.NoError(t, producer.Publish(ctx, payload))

	// Assert: the payload reaches subscribers unchanged.
	consumer, err := ps.NewConsumer(fx.client.Subscriber("telemetry-sub"), 1, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))
	t.Cleanup(func() { _ = consumer.Stop(context.Background()) })

	select {
	case msg := <-consumer.Messages():
		assert.Equal(t, payload, msg.Payload)
		msg.AckIfPresent()
	case <-ctx.Done():
		t.Fatal("Did not receive a message from the subscription")
	}
}
