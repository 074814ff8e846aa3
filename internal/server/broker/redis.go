package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key 后缀
	countsKeySuffix    = ":counts"
	seqKeySuffix       = ":seq"
	instancesKeySuffix = ":instances"
	instanceKeyPrefix  = ":instance:"

	// DefaultPresenceTTL is how long an instance's names survive without a
	// heartbeat.
	DefaultPresenceTTL = 3 * HeartbeatInterval

	releaseTimeout = 5 * time.Second
)

// joinScript bumps the per-name connection counts, global and for this
// instance, and on the first connection appends the name to the roster with
// the next sequence number. It also renews the instance's deadline.
//
// KEYS: roster, counts, seq, instance counts, instances
// ARGV: name, deadline (unix ms), instance id
var joinScript = redis.NewScript(`
redis.call('ZADD', KEYS[5], ARGV[2], ARGV[3])
redis.call('HINCRBY', KEYS[4], ARGV[1], 1)
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
if n == 1 then
	local seq = redis.call('INCR', KEYS[3])
	redis.call('ZADD', KEYS[1], seq, ARGV[1])
end
return n
`)

// leaveScript undoes one join made by this instance and drops the name from
// the roster when its last connection anywhere leaves.
//
// KEYS: roster, counts, instance counts
// ARGV: name
var leaveScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 0 then
	return 0
end
if redis.call('HINCRBY', KEYS[3], ARGV[1], -1) <= 0 then
	redis.call('HDEL', KEYS[3], ARGV[1])
end
local n = redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('ZREM', KEYS[1], ARGV[1])
end
return n
`)

// reapScript removes the names held by instances whose deadline has passed
// and returns how many names left the roster.
//
// KEYS: roster, counts, instances
// ARGV: now (unix ms), instance key prefix
var reapScript = redis.NewScript(`
local dead = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
local removed = 0
for _, id in ipairs(dead) do
	local key = ARGV[2] .. id
	local entries = redis.call('HGETALL', key)
	for i = 1, #entries, 2 do
		local name = entries[i]
		local n = redis.call('HINCRBY', KEYS[2], name, -tonumber(entries[i + 1]))
		if n <= 0 then
			redis.call('HDEL', KEYS[2], name)
			if redis.call('ZREM', KEYS[1], name) == 1 then
				removed = removed + 1
			end
		end
	end
	redis.call('DEL', key)
	redis.call('ZREM', KEYS[3], id)
end
return removed
`)

// RedisOptions Redis broker 配置
type RedisOptions struct {
	Channel     string
	PresenceKey string
	// InstanceID names this server in the shared presence; random if empty.
	InstanceID string
	// PresenceTTL 心跳超时, at least DefaultPresenceTTL.
	PresenceTTL time.Duration
	Logger      *slog.Logger
}

// Redis shares frames over pub/sub and the roster in a sorted set, so
// several server instances behave as one room.
//
// Each instance also records its own joins and renews a deadline on every
// heartbeat. Names held by an instance that stopped heartbeating are reaped
// by the survivors.
type Redis struct {
	client       *redis.Client
	channel      string
	presenceKey  string
	countsKey    string
	seqKey       string
	instancesKey string
	instanceKey  string
	instanceID   string
	ttl          time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedis 创建 Redis broker. The broker does not own client.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.PresenceTTL < DefaultPresenceTTL {
		opts.PresenceTTL = DefaultPresenceTTL
	}
	return &Redis{
		client:       client,
		channel:      opts.Channel,
		presenceKey:  opts.PresenceKey,
		countsKey:    opts.PresenceKey + countsKeySuffix,
		seqKey:       opts.PresenceKey + seqKeySuffix,
		instancesKey: opts.PresenceKey + instancesKeySuffix,
		instanceKey:  opts.PresenceKey + instanceKeyPrefix + opts.InstanceID,
		instanceID:   opts.InstanceID,
		ttl:          opts.PresenceTTL,
		logger:       opts.Logger.With("component", "broker", "backend", "redis", "instance", opts.InstanceID),
		now:          time.Now,
	}
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Redis) deadline() string {
	return strconv.FormatInt(r.now().Add(r.ttl).UnixMilli(), 10)
}

func (r *Redis) Publish(ctx context.Context, frame string) error {
	if r.isClosed() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel)
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan string, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		defer r.logger.Debug("subscription ended", "channel", r.channel)

		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Redis) Join(ctx context.Context, name string) error {
	if r.isClosed() {
		return ErrClosed
	}
	keys := []string{r.presenceKey, r.countsKey, r.seqKey, r.instanceKey, r.instancesKey}
	if err := joinScript.Run(ctx, r.client, keys, name, r.deadline(), r.instanceID).Err(); err != nil {
		return fmt.Errorf("redis join %q: %w", name, err)
	}
	return nil
}

func (r *Redis) Leave(ctx context.Context, name string) error {
	if r.isClosed() {
		return ErrClosed
	}
	keys := []string{r.presenceKey, r.countsKey, r.instanceKey}
	if err := leaveScript.Run(ctx, r.client, keys, name).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis leave %q: %w", name, err)
	}
	return nil
}

func (r *Redis) Roster(ctx context.Context) ([]string, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	names, err := r.client.ZRange(ctx, r.presenceKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis roster: %w", err)
	}
	return names, nil
}

// Heartbeat renews this instance's deadline and reaps instances whose
// deadline has passed. changed reports whether the roster lost names.
func (r *Redis) Heartbeat(ctx context.Context) (changed bool, err error) {
	if r.isClosed() {
		return false, ErrClosed
	}
	err = r.client.ZAdd(ctx, r.instancesKey, redis.Z{
		Score:  float64(r.now().Add(r.ttl).UnixMilli()),
		Member: r.instanceID,
	}).Err()
	if err != nil {
		return false, fmt.Errorf("redis heartbeat: %w", err)
	}
	return r.reap(ctx)
}

func (r *Redis) reap(ctx context.Context) (bool, error) {
	keys := []string{r.presenceKey, r.countsKey, r.instancesKey}
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	removed, err := reapScript.Run(ctx, r.client, keys, now, r.presenceKey+instanceKeyPrefix).Int()
	if err != nil {
		return false, fmt.Errorf("redis reap: %w", err)
	}
	if removed > 0 {
		r.logger.Info("reaped stale presence", "removed", removed)
	}
	return removed > 0, nil
}

// Close stops all subscriptions and releases this instance's presence. The
// redis client stays open.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ps := range r.subs {
		// Already closed by its reader when the subscriber's ctx ended.
		_ = ps.Close()
	}
	r.subs = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	// Expire this instance now so the reap below drops its names.
	if err := r.client.ZAdd(ctx, r.instancesKey, redis.Z{Score: 0, Member: r.instanceID}).Err(); err != nil {
		r.logger.Warn("release presence failed", "error", err)
		return nil
	}
	if _, err := r.reap(ctx); err != nil {
		r.logger.Warn("release presence failed", "error", err)
	}
	return nil
}
