package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

// RedisBackend implements core.SnapshotStore on Redis.
//
// Each snapshot is one JSON string at <prefix>:snapshot:<pcode>; the hash at
// <prefix>:snapshots maps pcode to the unix time of the last save.
type RedisBackend struct {
	client   *redis.Client
	prefix   string
	indexKey string
	ttl      time.Duration
	logger   *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend. A zero ttl keeps
// snapshots until deleted.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:   client,
		prefix:   prefix,
		indexKey: fmt.Sprintf("%s:snapshots", prefix),
		ttl:      ttl,
		logger:   logger,
	}
}

func (b *RedisBackend) snapshotKey(pcode string) string {
	return fmt.Sprintf("%s:snapshot:%s", b.prefix, pcode)
}

// Save replaces the snapshot for s.PCode
func (b *RedisBackend) Save(ctx context.Context, s core.Snapshot) error {
	if s.PCode == "" {
		return fmt.Errorf("snapshot without pcode: %w", core.ErrInvalidArgument)
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.snapshotKey(s.PCode), data, b.ttl)
		pipe.HSet(ctx, b.indexKey, s.PCode, time.Now().Unix())
		return nil
	})
	if err != nil {
		b.logger.Error("failed to save snapshot",
			zap.String("pcode", s.PCode),
			zap.Error(err))
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	b.logger.Debug("saved snapshot",
		zap.String("pcode", s.PCode),
		zap.Int("bids", len(s.Bids)),
		zap.Int("asks", len(s.Asks)),
		zap.Int("trades", len(s.Trades)))
	return nil
}

// Load returns the snapshot for pcode
func (b *RedisBackend) Load(ctx context.Context, pcode string) (core.Snapshot, error) {
	data, err := b.client.Get(ctx, b.snapshotKey(pcode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Snapshot{}, fmt.Errorf("pcode %s: %w", pcode, core.ErrSnapshotNotFound)
		}
		b.logger.Error("failed to load snapshot",
			zap.String("pcode", pcode),
			zap.Error(err))
		return core.Snapshot{}, err
	}

	s, err := core.UnmarshalSnapshot(data)
	if err != nil {
		b.logger.Error("failed to unmarshal snapshot",
			zap.String("pcode", pcode),
			zap.Error(err))
		return core.Snapshot{}, err
	}
	return s, nil
}

// Delete removes the snapshot for pcode
func (b *RedisBackend) Delete(ctx context.Context, pcode string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.snapshotKey(pcode))
		pipe.HDel(ctx, b.indexKey, pcode)
		return nil
	})
	return err
}

// SavedAt returns when the snapshot for pcode was last saved
func (b *RedisBackend) SavedAt(ctx context.Context, pcode string) (time.Time, error) {
	unix, err := b.client.HGet(ctx, b.indexKey, pcode).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, fmt.Errorf("pcode %s: %w", pcode, core.ErrSnapshotNotFound)
		}
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

var _ core.SnapshotStore = (*RedisBackend)(nil)
