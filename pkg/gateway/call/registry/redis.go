package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "reception"
	// defaultEntryTTL bounds how long a crashed node's calls stay listed.
	defaultEntryTTL = 4 * time.Hour
)

// Redis shares live calls across nodes. Entries live in a hash keyed by
// call id; a sorted set scores each id by expiry so entries left behind by
// a crashed node age out.
type Redis struct {
	client *redis.Client
	local  *Tracker
	prefix string
	ttl    time.Duration
	node   string
	logger *slog.Logger
	now    func() time.Time
}

var _ Registry = (*Redis)(nil)

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithEntryTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithNode stamps entries registered here with a node name.
func WithNode(node string) RedisOption {
	return func(r *Redis) { r.node = node }
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func withClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		local:  NewTracker(),
		prefix: defaultRedisPrefix,
		ttl:    defaultEntryTTL,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) entriesKey() string { return r.prefix + ":calls" }
func (r *Redis) expiryKey() string  { return r.prefix + ":calls:expiry" }

// Register records the call in Redis and tracks it locally. A Redis failure
// is returned, but the local entry is still tracked so drain and cancel keep
// working; callers may log and continue.
func (r *Redis) Register(ctx context.Context, e Entry, cancel func()) (func(), error) {
	if e.Node == "" {
		e.Node = r.node
	}
	release := r.local.add(e, cancel)
	unregister := func() {
		release()
		rctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := r.remove(rctx, e.CallID); err != nil {
			r.logger.Warn("registry remove failed", "call_id", e.CallID, "err", err)
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return unregister, fmt.Errorf("encode entry: %w", err)
	}
	expiry := r.now().Add(r.ttl).Unix()
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.entriesKey(), e.CallID, payload)
		p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(expiry), Member: e.CallID})
		return nil
	})
	if err != nil {
		return unregister, fmt.Errorf("register call %s: %w", e.CallID, err)
	}
	return unregister, nil
}

func (r *Redis) remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, r.entriesKey(), ids...)
		p.ZRem(ctx, r.expiryKey(), members...)
		return nil
	})
	return err
}

// prune drops entries whose expiry has passed.
func (r *Redis) prune(ctx context.Context) error {
	upTo := strconv.FormatInt(r.now().Unix(), 10)
	expired, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{Min: "-inf", Max: upTo}).Result()
	if err != nil {
		return fmt.Errorf("list expired calls: %w", err)
	}
	if err := r.remove(ctx, expired...); err != nil {
		return fmt.Errorf("prune expired calls: %w", err)
	}
	return nil
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	if err := r.prune(ctx); err != nil {
		return 0, err
	}
	n, err := r.client.HLen(ctx, r.entriesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return int(n), nil
}

func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	if err := r.prune(ctx); err != nil {
		return nil, err
	}
	raw, err := r.client.HGetAll(ctx, r.entriesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for id, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			r.logger.Warn("registry entry unreadable", "call_id", id, "err", err)
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// LocalCount is the number of calls running on this node.
func (r *Redis) LocalCount() int { return r.local.Len() }

func (r *Redis) CancelAll() int { return r.local.CancelAll() }

func (r *Redis) Wait(ctx context.Context) bool { return r.local.Wait(ctx) }

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.client.Close() }
