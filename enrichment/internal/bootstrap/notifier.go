package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/enrichment/internal/config"
	"github.com/jonesrussell/north-cloud/enrichment/internal/notifier"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/infrastructure/sse"
)

// SetupRedis connects when Redis is enabled; nil otherwise.
func SetupRedis(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	client, err := infraredis.NewClient(ctx, infraredis.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	log.Info("Redis connection established", infralogger.String("address", cfg.Redis.Address))
	return client, nil
}

// SetupBroker starts the local SSE broker.
func SetupBroker(ctx context.Context, cfg *config.Config, log infralogger.Logger) (sse.Broker, error) {
	broker := sse.NewBroker(log, sse.WithClientBufferSize(cfg.Notifier.SSEBufferSize))
	if err := broker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start sse broker: %w", err)
	}
	return broker, nil
}

// SetupNotifier decides where the runner sends events. With Redis, events go
// to the stream and a per-instance bridge relays them to the local broker,
// so observers on any instance see every run. Without Redis the runner
// publishes to the broker directly and the bridge is nil.
func SetupNotifier(
	cfg *config.Config,
	broker sse.Broker,
	client *redis.Client,
	instance string,
	log infralogger.Logger,
) (notifier.Notifier, *notifier.StreamBridge) {
	local := notifier.NewSSENotifier(broker)
	if client == nil {
		return local, nil
	}

	group := cfg.Notifier.StreamGroup + "-" + instance
	bridge := notifier.NewStreamBridge(client, cfg.Notifier.StreamName, group, instance, local, log)
	log.Info("Run events routed through Redis stream",
		infralogger.String("stream", cfg.Notifier.StreamName),
		infralogger.String("group", group),
	)
	return notifier.NewStreamNotifier(client, cfg.Notifier.StreamName, cfg.Notifier.StreamMaxLen), bridge
}
