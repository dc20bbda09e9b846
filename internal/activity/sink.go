package activity

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/abhisek/dojo/internal/store"
)

// Sink is a delivery target for activities.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// StoreSink persists activities to the activity repository.
type StoreSink struct {
	repo store.ActivityRepo
}

// NewStoreSink creates a sink writing to repo.
func NewStoreSink(repo store.ActivityRepo) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, ev Event) error {
	if ev.DedupKey != "" {
		exists, err := s.repo.ActivityExists(ctx, ev.UserID, string(ev.Type), ev.DedupKey)
		if err != nil {
			return fmt.Errorf("check activity: %w", err)
		}
		if exists {
			return nil
		}
	}
	return s.repo.AppendActivity(ctx, &store.Activity{
		UserID:    ev.UserID,
		Type:      string(ev.Type),
		DedupKey:  ev.DedupKey,
		Data:      ev.Data,
		CreatedAt: ev.At,
	})
}

// Publisher is the subset of the Redis client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// RedisSink publishes activities as JSON on a Redis pub/sub channel.
type RedisSink struct {
	rdb     Publisher
	channel string
}

// NewRedisSink creates a sink publishing on channel.
func NewRedisSink(rdb Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = "dojo.activity"
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, raw).Err()
}
