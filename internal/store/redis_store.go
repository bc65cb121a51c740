package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

const redisDeleteChunk = 512

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one key per address under a prefix. A Store call runs
// in a single MULTI/EXEC transaction.
type RedisStore struct {
	id     string
	client redis.UniversalClient
	prefix string
	codec  codec.Codec
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, c codec.Codec, logger *zap.Logger) (*RedisStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, fmt.Sprintf("%s/%d", addr, cfg.DB), cfg.KeyPrefix, c, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. name distinguishes the
// server in the store ID.
func NewRedisStoreWithClient(client redis.UniversalClient, name, prefix string, c codec.Codec, logger *zap.Logger) *RedisStore {
	if c == nil {
		c = codec.JSON()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		id:     fmt.Sprintf("redis:%s/%s", name, prefix),
		client: client,
		prefix: prefix,
		codec:  c,
		logger: logger,
	}
}

func (s *RedisStore) ID() string { return s.id }

func (s *RedisStore) key(a model.Address) string {
	return s.prefix + FormatAddr(a)
}

func (s *RedisStore) Store(ctx context.Context, entries []Entry) error {
	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		data, err := s.codec.Marshal(e.Payload)
		if err != nil {
			return storeerrors.InternalError("failed to encode payload", err).WithDetail("address", e.Addr)
		}
		encoded[i] = data
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range entries {
			pipe.Set(ctx, s.key(e.Addr), encoded[i], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %d records to Redis: %w", len(entries), err)
	}
	return nil
}

func (s *RedisStore) Restore(ctx context.Context, addr model.Address) (*model.Payload, error) {
	data, err := s.client.Get(ctx, s.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storeerrors.NotFound(s.id, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key(addr), err)
	}
	p, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, storeerrors.Malformed(s.id, addr, err)
	}
	return p, nil
}

func (s *RedisStore) ListAddresses(ctx context.Context) ([]model.Address, error) {
	var addrs []model.Address
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 1000).Iterator()
	for iter.Next(ctx) {
		name, ok := strings.CutPrefix(iter.Val(), s.prefix)
		if !ok {
			continue
		}
		if a, ok := ParseAddr(name); ok {
			addrs = append(addrs, a)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan Redis keys: %w", err)
	}
	// SCAN may return a key more than once.
	slices.Sort(addrs)
	return slices.Compact(addrs), nil
}

func (s *RedisStore) Delete(ctx context.Context, addrs []model.Address) error {
	for start := 0; start < len(addrs); start += redisDeleteChunk {
		chunk := addrs[start:min(start+redisDeleteChunk, len(addrs))]
		keys := make([]string, len(chunk))
		for i, a := range chunk {
			keys[i] = s.key(a)
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete Redis keys: %w", err)
		}
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
