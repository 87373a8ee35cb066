package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/storyflow-go/story"
)

const (
	defaultRedisTTL    = 7 * 24 * time.Hour
	defaultRedisPrefix = "storyflow"
)

// RedisSink stores each attempt as a JSON value under
// <prefix>:generation:<id>:attempt:<n>, plus a set of attempt numbers under
// <prefix>:generation:<id>:attempts. Both expire after the TTL.
type RedisSink struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithTTL sets record expiry. Default is 7 days; 0 disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "storyflow".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSink) { s.prefix = prefix }
}

// NewRedisSink creates a sink on an existing client.
//
// Example:
//
//	sink := tracking.NewRedisSink(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    tracking.WithTTL(24*time.Hour),
//	)
func NewRedisSink(client redis.UniversalClient, opts ...RedisOption) *RedisSink {
	s := &RedisSink{client: client, ttl: defaultRedisTTL, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRecord writes rec, replacing any record with the same key.
func (s *RedisSink) CreateRecord(ctx context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	return s.save(ctx, stamp(rec, time.Now()))
}

// UpdateRecord merges rec into the stored record, creating it if needed.
func (s *RedisSink) UpdateRecord(ctx context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	prev, err := s.Get(ctx, rec.GenerationID, rec.AttemptNumber)
	switch {
	case err == nil:
		rec = merge(prev, rec)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.save(ctx, stamp(rec, time.Now()))
}

// Get returns one attempt record.
func (s *RedisSink) Get(ctx context.Context, generationID string, attempt int) (story.TrackingRecord, error) {
	data, err := s.client.Get(ctx, s.attemptKey(generationID, attempt)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return story.TrackingRecord{}, ErrNotFound
		}
		return story.TrackingRecord{}, fmt.Errorf("redis get failed: %w", err)
	}
	var rec story.TrackingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return story.TrackingRecord{}, fmt.Errorf("failed to unmarshal tracking record: %w", err)
	}
	return rec, nil
}

// List returns every live record of a generation ordered by attempt number.
// Index entries whose record has expired are skipped.
func (s *RedisSink) List(ctx context.Context, generationID string) ([]story.TrackingRecord, error) {
	members, err := s.client.SMembers(ctx, s.indexKey(generationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	attempts := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		attempts = append(attempts, n)
	}
	sort.Ints(attempts)

	var out []story.TrackingRecord
	for _, n := range attempts {
		rec, err := s.Get(ctx, generationID, n)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *RedisSink) save(ctx context.Context, rec story.TrackingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking record: %w", err)
	}

	indexKey := s.indexKey(rec.GenerationID)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.attemptKey(rec.GenerationID, rec.AttemptNumber), data, s.ttl)
	pipe.SAdd(ctx, indexKey, strconv.Itoa(rec.AttemptNumber))
	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisSink) attemptKey(generationID string, attempt int) string {
	return fmt.Sprintf("%s:generation:%s:attempt:%d", s.prefix, generationID, attempt)
}

func (s *RedisSink) indexKey(generationID string) string {
	return fmt.Sprintf("%s:generation:%s:attempts", s.prefix, generationID)
}
