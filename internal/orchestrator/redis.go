package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/logger"
)

// RedisSink publishes unit events to a redis channel for dashboards.
type RedisSink struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisSink(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisSink, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if log == nil {
		log = logger.Nop()
	}
	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = "geargraph.events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSink{
		log:     log.With("component", "redis_sink"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis sink not initialized")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}

func (s *RedisSink) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
