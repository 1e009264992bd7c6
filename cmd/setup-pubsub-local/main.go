package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"mentorship/internal/config"
	"mentorship/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func main() {
	reset := flag.Bool("reset", false, "Delete every topic and subscription on the emulator first")
	flag.Parse()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Msgf("Error loading config: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	logger.Info().Msg("Starting Pub/Sub setup for the local emulator")

	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is not set")
	}
	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set; this tool only targets the emulator")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Pub/Sub client")
		}
	}()

	if *reset {
		if err := resetEmulator(ctx, client, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to reset emulator")
		}
	}
	if err := ensureEventResources(ctx, client, cfg.EventsTopic, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lifecycle event resources")
	}

	logger.Info().Str("topic", cfg.EventsTopic).Msg("Pub/Sub setup for the local emulator complete")
}

// resetEmulator deletes every subscription and topic. Never point it at a
// real project.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) error {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	logger.Info().Msg("Emulator reset")
	return nil
}

// ensureEventResources creates the lifecycle topic, its dead-letter topic and
// a pull subscription on each so events can be inspected locally.
func ensureEventResources(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) error {
	retention := 7 * 24 * time.Hour

	dlqTopic, err := ensureTopic(ctx, client, topicID+"-dlq", retention, logger)
	if err != nil {
		return err
	}
	mainTopic, err := ensureTopic(ctx, client, topicID, retention, logger)
	if err != nil {
		return err
	}

	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}
	if err := ensureSubscription(ctx, client, topicID+"-debug-sub", pubsub.SubscriptionConfig{
		Topic:       mainTopic,
		AckDeadline: 60 * time.Second,
		RetryPolicy: retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopic.String(),
			MaxDeliveryAttempts: 5,
		},
	}, logger); err != nil {
		return err
	}
	return ensureSubscription(ctx, client, topicID+"-dlq-sub", pubsub.SubscriptionConfig{
		Topic:       dlqTopic,
		AckDeadline: 60 * time.Second,
		RetryPolicy: retry,
	}, logger)
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string, retention time.Duration, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info().Str("topic", topicID).Msg("Topic already exists")
		return topic, nil
	}
	logger.Info().Str("topic", topicID).Dur("retention", retention).Msg("Creating topic")
	return client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, subID string, cfg pubsub.SubscriptionConfig, logger zerolog.Logger) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info().Str("subscription", subID).Msg("Creating subscription")
		_, err := client.CreateSubscription(ctx, subID, cfg)
		return err
	}

	existing, err := sub.Config(ctx)
	if err != nil {
		return err
	}
	if existing.AckDeadline == cfg.AckDeadline && retryEqual(existing.RetryPolicy, cfg.RetryPolicy) {
		logger.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}
	logger.Info().Str("subscription", subID).Msg("Updating subscription")
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		AckDeadline: cfg.AckDeadline,
		RetryPolicy: cfg.RetryPolicy,
	})
	return err
}

func retryEqual(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
