// Package redis publishes script completion events over Redis pub/sub.
//
// Each event is published as JSON on a channel and, unless disabled, the
// latest outcome per computer is recorded in a hash so dashboards can read
// the current state without subscribing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/TheKidThatCodes/ccbridge/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "ccbridge:script_completed"

// DefaultStatusPrefix prefixes the per-computer status hash keys.
const DefaultStatusPrefix = "ccbridge:computer:"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default ccbridge:script_completed).
	Channel string
	// PerComputer appends ":<computer_id>" to the channel.
	PerComputer bool
	// StatusPrefix prefixes the status hash keys. "-" disables the hash.
	StatusPrefix string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes script completion events via Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter. The URL is required.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.StatusPrefix == "" {
		cfg.StatusPrefix = DefaultStatusPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// ChannelFor returns the channel an event is published on.
func (a *Adapter) ChannelFor(event *adapter.ScriptCompletedEvent) string {
	if a.config.PerComputer {
		return a.config.Channel + ":" + strconv.FormatInt(event.ComputerID, 10)
	}
	return a.config.Channel
}

// StatusKey returns the status hash key for a computer, or "" when the
// hash is disabled.
func (a *Adapter) StatusKey(computerID int64) string {
	if a.config.StatusPrefix == "-" {
		return ""
	}
	return a.config.StatusPrefix + strconv.FormatInt(computerID, 10)
}

// Publish publishes the event and updates the computer's status hash in
// one pipeline.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ScriptCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.ChannelFor(event)
	key := a.StatusKey(event.ComputerID)

	return adapter.Retry(ctx, "redis", a.config.Retries, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
			p.Publish(ctx, channel, body)
			if key != "" {
				p.HSet(ctx, key, map[string]any{
					"outcome":    event.Outcome,
					"script":     event.Script,
					"session_id": event.SessionID,
					"label":      event.Label,
					"updated_at": event.Timestamp,
				})
			}
			return nil
		})
		if errors.Is(err, goredis.ErrClosed) {
			return &adapter.Permanent{Err: err}
		}
		return err
	})
}

// Close releases the client connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
