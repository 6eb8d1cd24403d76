package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/cmd"
	"github.com/tinywideclouds/go-vitals-service/internal/metrics"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/binding"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/loopback"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/mqtt"
	psub "github.com/tinywideclouds/go-vitals-service/internal/platform/pubsub"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/store"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

const (
	mqttDisconnectQuiesceMillis = 250
	httpIntakeBuffer            = 256
)

// clients holds every connection newProdDependencies opened, created lazily
// so only the selected backends are dialled.
type clients struct {
	cfg    *config.AppConfig
	logger zerolog.Logger

	firestore *firestore.Client
	pubsub    *pubsub.Client
	redis     *redis.Client
	postgres  *pgxpool.Pool
	closers   []func()
}

func (c *clients) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func (c *clients) firestoreClient(ctx context.Context) (*firestore.Client, error) {
	if c.firestore != nil {
		return c.firestore, nil
	}
	c.logger.Debug().Str("project_id", c.cfg.ProjectID).Msg("Connecting to Firestore")
	client, err := firestore.NewClient(ctx, c.cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}
	c.firestore = client
	c.closers = append(c.closers, func() { _ = client.Close() })
	return client, nil
}

func (c *clients) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	if c.pubsub != nil {
		return c.pubsub, nil
	}
	c.logger.Debug().Str("project_id", c.cfg.ProjectID).Msg("Connecting to PubSub")
	client, err := pubsub.NewClient(ctx, c.cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
	}
	c.pubsub = client
	c.closers = append(c.closers, func() { _ = client.Close() })
	return client, nil
}

func (c *clients) redisClient(ctx context.Context) (*redis.Client, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", c.cfg.Redis.Addr, err)
	}
	c.logger.Info().Str("addr", c.cfg.Redis.Addr).Msg("Connected to Redis")
	c.redis = rdb
	c.closers = append(c.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (c *clients) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.postgres != nil {
		return c.postgres, nil
	}
	pool, err := pgxpool.New(ctx, c.cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	c.logger.Info().Msg("Connected to Postgres")
	c.postgres = pool
	c.closers = append(c.closers, pool.Close)
	return pool, nil
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*vitals.ServiceDependencies, func(), error) {
	c := &clients{cfg: cfg, logger: logger}
	deps, err := buildProdDependencies(ctx, c)
	if err != nil {
		c.close()
		return nil, nil, err
	}
	return deps, c.close, nil
}

func buildProdDependencies(ctx context.Context, c *clients) (*vitals.ServiceDependencies, error) {
	cfg, logger := c.cfg, c.logger

	authenticator, err := cmd.NewAuthenticator(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	consumer, producer, err := newIngestion(ctx, c)
	if err != nil {
		return nil, err
	}

	deviceBinding, err := newDeviceBinding(ctx, c)
	if err != nil {
		return nil, err
	}

	latest, measurements, err := newStores(ctx, c)
	if err != nil {
		return nil, err
	}

	return &vitals.ServiceDependencies{
		IngestionConsumer: consumer,
		IngestionProducer: producer,
		Authenticator:     authenticator,
		DeviceBinding:     deviceBinding,
		Recorder:          recorderFor(latest, measurements),
		LatestStore:       latest,
		MeasurementStore:  measurements,
		Metrics:           metrics.Nop{},
	}, nil
}

// newIngestion creates the telemetry source and, where the source accepts
// publishes, the producer behind POST /api/telemetry. MQTT devices publish to
// the broker themselves, so the HTTP intake is disabled for that source.
func newIngestion(ctx context.Context, c *clients) (vitals.MessageConsumer, vitals.IngestionProducer, error) {
	cfg, logger := c.cfg, c.logger
	logger.Info().Str("source", cfg.Ingestion.Source).Msg("Initializing ingestion source...")

	switch cfg.Ingestion.Source {
	case config.SourceMQTT:
		mqttCfg := mqtt.Config{
			BrokerURL: cfg.Ingestion.MQTT.Broker,
			ClientID:  cfg.Ingestion.MQTT.ClientID,
			Topic:     cfg.Ingestion.MQTT.Topic,
			QoS:       cfg.Ingestion.MQTT.QoS,
			Username:  cfg.Ingestion.MQTT.Username,
			Password:  cfg.Ingestion.MQTT.Password,
		}
		client, err := mqtt.Connect(mqttCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, func() { client.Disconnect(mqttDisconnectQuiesceMillis) })
		consumer, err := mqtt.NewConsumer(client, mqttCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create mqtt consumer: %w", err)
		}
		return consumer, nil, nil

	case config.SourcePubsub:
		psClient, err := c.pubsubClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		sub, err := psub.EnsureSubscription(ctx, psClient, psub.SubscriptionConfig{
			ProjectID:         cfg.ProjectID,
			TopicID:           cfg.Ingestion.Pubsub.TopicID,
			SubscriptionID:    cfg.Ingestion.Pubsub.SubscriptionID,
			DeadLetterTopicID: cfg.Ingestion.Pubsub.DLQTopicID,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		consumer, err := psub.NewConsumer(psClient.Subscriber(sub.GetName()), 0, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pubsub consumer: %w", err)
		}
		logger.Debug().Str("topic", cfg.Ingestion.Pubsub.TopicID).Msg("Creating ingestion producer")
		publisher := psClient.Publisher(cfg.Ingestion.Pubsub.TopicID)
		c.closers = append(c.closers, publisher.Stop)
		return consumer, psub.NewProducer(publisher), nil

	case config.SourceHTTP:
		// POST /api/telemetry is the only source; it loops straight back
		// into the pipeline.
		source := loopback.NewSource(httpIntakeBuffer, logger)
		return source, source, nil

	default:
		return nil, nil, fmt.Errorf("invalid ingestion source: %s", cfg.Ingestion.Source)
	}
}

// newDeviceBinding creates the ownership lookup, optionally fronted by the
// Redis cache.
func newDeviceBinding(ctx context.Context, c *clients) (vitals.DeviceBinding, error) {
	cfg, logger := c.cfg, c.logger
	logger.Info().Str("type", cfg.Binding.Type).Msg("Initializing device binding...")

	var source vitals.DeviceBinding
	switch cfg.Binding.Type {
	case config.BackendFirestore:
		fsClient, err := c.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		source, err = binding.NewFirestoreBinding(fsClient, cfg.Binding.Collection, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore binding: %w", err)
		}
	case config.BackendPostgres:
		pool, err := c.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := pool.Exec(ctx, binding.Schema); err != nil {
			return nil, fmt.Errorf("failed to ensure device_bindings schema: %w", err)
		}
		source, err = binding.NewPostgresBinding(pool, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres binding: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid binding type: %s", cfg.Binding.Type)
	}

	if cfg.Binding.CacheTTL <= 0 {
		return source, nil
	}
	rdb, err := c.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	return binding.NewCachedBinding(source, rdb, cfg.Binding.CacheTTL, logger)
}

// newStores creates the optional query-surface stores. Either may be nil,
// in which case its endpoint answers 501.
func newStores(ctx context.Context, c *clients) (vitals.LatestStore, vitals.MeasurementStore, error) {
	cfg, logger := c.cfg, c.logger

	var fsStore *store.FirestoreStore
	firestoreStore := func() (*store.FirestoreStore, error) {
		if fsStore != nil {
			return fsStore, nil
		}
		fsClient, err := c.firestoreClient(ctx)
		if err != nil {
			return nil, err
		}
		fsStore, err = store.NewFirestoreStore(fsClient, logger)
		return fsStore, err
	}

	var latest vitals.LatestStore
	switch cfg.Recorder.Latest {
	case "":
	case config.BackendRedis:
		rdb, err := c.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		if latest, err = store.NewRedisLatestStore(rdb, 0, logger); err != nil {
			return nil, nil, err
		}
	case config.BackendFirestore:
		s, err := firestoreStore()
		if err != nil {
			return nil, nil, err
		}
		latest = s
	default:
		return nil, nil, fmt.Errorf("invalid recorder.latest: %s", cfg.Recorder.Latest)
	}

	var measurements vitals.MeasurementStore
	switch cfg.Recorder.Measurements {
	case "":
	case config.BackendPostgres:
		pool, err := c.postgresPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		pgStore, err := store.NewPostgresMeasurementStore(pool, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		measurements = pgStore
	case config.BackendFirestore:
		s, err := firestoreStore()
		if err != nil {
			return nil, nil, err
		}
		measurements = s
	default:
		return nil, nil, fmt.Errorf("invalid recorder.measurements: %s", cfg.Recorder.Measurements)
	}

	if latest == nil && measurements == nil {
		logger.Warn().Msg("No recorder configured, readings are delivered live only.")
	}
	return latest, measurements, nil
}

// recorderFor fans routed events out to the configured stores. A single
// Firestore store serving both roles is recorded once.
func recorderFor(latest vitals.LatestStore, measurements vitals.MeasurementStore) vitals.Recorder {
	var recorders []vitals.Recorder
	if latest != nil {
		recorders = append(recorders, latest)
	}
	if measurements != nil {
		recorders = append(recorders, measurements)
	}
	if len(recorders) == 0 {
		return nil
	}
	return store.NewMultiRecorder(recorders...)
}
