package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"vnforms.dev/common"
	"vnforms.dev/crawler"
	"vnforms.dev/db/repository"
	"vnforms.dev/detector"
	"vnforms.dev/llm"
	"vnforms.dev/queue"
	redisqueue "vnforms.dev/queue/redis"
	"vnforms.dev/storage"
)

// newLogger builds the shared ContextLogger every subcommand logs through.
func newLogger(service string) *common.ContextLogger {
	cfg := common.DefaultLoggerConfig()
	cfg.Service = service
	cfg.Level = common.LogLevel(viper.GetString("log.level"))
	cfg.Format = viper.GetString("log.format")
	logger := common.NewLogger(cfg)
	return common.NewContextLogger(logger, map[string]interface{}{"service": service})
}

// newObjectStore connects to the configured S3-compatible endpoint.
func newObjectStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.NewStore(ctx, storage.Config{
		Endpoint:  viper.GetString("storage.endpoint"),
		Region:    viper.GetString("storage.region"),
		Bucket:    viper.GetString("storage.bucket"),
		AccessKey: viper.GetString("storage.access_key"),
		SecretKey: viper.GetString("storage.secret_key"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return store, nil
}

// newFormRepository connects to CouchDB; the same repository value
// satisfies both FormRepository and DedupRepository.
func newFormRepository(ctx context.Context) (*repository.CouchDBRepository, error) {
	repo, err := repository.NewCouchDBRepository(ctx, repository.Config{
		URL:      viper.GetString("couchdb.url"),
		Username: viper.GetString("couchdb.username"),
		Password: viper.GetString("couchdb.password"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect couchdb: %w", err)
	}
	return repo, nil
}

// newSessionRepository connects to the Redis instance backing filling
// sessions (a separate logical concern from the event-bus Redis backend,
// though they may point at the same server in a small deployment).
func newSessionRepository() (*repository.RedisSessionRepository, error) {
	repo, err := repository.NewRedisSessionRepository(viper.GetString("session.redis_url"), viper.GetString("session.key_prefix"))
	if err != nil {
		return nil, fmt.Errorf("connect session redis: %w", err)
	}
	return repo, nil
}

// eventPublisher is the narrow surface cli needs to hand an event to C3,
// satisfied by both queue backends.
type eventPublisher interface {
	Publish(ctx context.Context, event queue.StorageEvent) error
	Close() error
}

// newEventBus connects to whichever event-bus backend is configured.
// Redis is the default: it needs no separate broker process for the
// zero-to-aha path, while RabbitMQ is available for deployments that
// already run one.
func newEventBus(ctx context.Context) (eventPublisher, error) {
	switch strings.ToLower(viper.GetString("queue.backend")) {
	case "rabbitmq":
		bus, err := queue.NewRabbitMQEventBus(queue.RabbitConfig{
			URL:       viper.GetString("queue.rabbitmq_url"),
			QueueName: viper.GetString("queue.queue_name"),
		})
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		return bus, nil
	default:
		q, err := redisqueue.NewQueue(ctx, redisqueue.Config{
			RedisURL:  viper.GetString("queue.redis_url"),
			KeyPrefix: viper.GetString("queue.key_prefix"),
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis queue: %w", err)
		}
		return queue.NewRedisEventBus(q), nil
	}
}

// newCapability builds the C10 capability: a RemoteCapability backed by an
// OpenAI-compatible endpoint when one is configured, otherwise the pure
// rule-based fallback (spec.md §4.6: identical contract either way).
func newCapability(log *common.ContextLogger) llm.Capability {
	baseURL := viper.GetString("llm.base_url")
	apiKey := viper.GetString("llm.api_key")
	if baseURL == "" || apiKey == "" {
		return llm.NewFallbackCapability()
	}
	return llm.NewRemoteCapability(llm.Config{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   viper.GetString("llm.model"),
		Timeout: llm.DefaultTimeout,
	}, log)
}

// newDetector builds the C7 field-position detector.
func newDetector(log *common.ContextLogger) *detector.Detector {
	return detector.New(detector.Config{
		MinLabelConfidence: viper.GetFloat64("detector.min_label_confidence"),
	}, log)
}

// crawlSources parses CRAWL_SOURCES, a semicolon-separated list of
// "url|name|format" triples, into the crawler's source descriptors.
func crawlSources() []crawler.SourceDescriptor {
	raw := viper.GetString("crawl.sources")
	if raw == "" {
		return nil
	}

	var sources []crawler.SourceDescriptor
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			continue
		}
		sources = append(sources, crawler.SourceDescriptor{
			URL:    strings.TrimSpace(parts[0]),
			Name:   strings.TrimSpace(parts[1]),
			Format: strings.TrimSpace(parts[2]),
		})
	}
	return sources
}

func crawlInterval() time.Duration {
	interval := viper.GetDuration("crawl.interval")
	if interval <= 0 {
		return time.Hour
	}
	return interval
}
