package pubsub

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// SubscriptionConfig names the ingestion topic, its subscription and the
// dead letter topic messages move to after MaxDeliveryAttempts.
type SubscriptionConfig struct {
	ProjectID           string
	TopicID             string
	SubscriptionID      string
	DeadLetterTopicID   string
	AckDeadlineSeconds  int32
	MaxDeliveryAttempts int32
}

// EnsureSubscription returns the ingestion subscription, creating it with a
// dead letter policy when it does not exist yet. An existing subscription
// whose dead letter policy differs is updated to match.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, cfg SubscriptionConfig, logger zerolog.Logger) (*pubsubpb.Subscription, error) {
	if cfg.DeadLetterTopicID == "" {
		return nil, errors.New("a dead letter topic is required for the ingestion subscription")
	}
	if cfg.AckDeadlineSeconds == 0 {
		cfg.AckDeadlineSeconds = 10
	}
	if cfg.MaxDeliveryAttempts == 0 {
		cfg.MaxDeliveryAttempts = 5
	}

	topicPath := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.TopicID)
	subPath := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, cfg.SubscriptionID)
	policy := &pubsubpb.DeadLetterPolicy{
		DeadLetterTopic:     fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.DeadLetterTopicID),
		MaxDeliveryAttempts: cfg.MaxDeliveryAttempts,
	}

	sub, err := client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: subPath})
	if err == nil {
		if samePolicy(sub.GetDeadLetterPolicy(), policy) {
			return sub, nil
		}
		logger.Warn().Str("subscription", subPath).Str("dead_letter_topic", policy.DeadLetterTopic).
			Msg("Subscription dead letter policy differs, updating it...")
		sub.DeadLetterPolicy = policy
		updated, err := client.SubscriptionAdminClient.UpdateSubscription(ctx, &pubsubpb.UpdateSubscriptionRequest{
			Subscription: sub,
			UpdateMask:   &fieldmaskpb.FieldMask{Paths: []string{"dead_letter_policy"}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update dead letter policy of %s: %w", subPath, err)
		}
		return updated, nil
	}
	if status.Code(err) != codes.NotFound {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subPath, err)
	}

	logger.Info().Str("subscription", subPath).Msg("Subscription not found, creating it...")
	sub, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               subPath,
		Topic:              topicPath,
		AckDeadlineSeconds: cfg.AckDeadlineSeconds,
		DeadLetterPolicy:   policy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %s: %w", subPath, err)
	}
	return sub, nil
}

func samePolicy(got, want *pubsubpb.DeadLetterPolicy) bool {
	return got != nil &&
		got.GetDeadLetterTopic() == want.GetDeadLetterTopic() &&
		got.GetMaxDeliveryAttempts() == want.GetMaxDeliveryAttempts()
}
