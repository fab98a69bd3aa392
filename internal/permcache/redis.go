package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores permission sets as JSON strings with native key expiry, so
// several processes can share one cache.
//
// Keys written through it are tracked in a sorted set scored by expiry, which
// lets InvalidateAll remove them without scanning the keyspace and lets Sweep
// drop members whose key already expired. Invalidations bump versions kept in
// Redis next to the entries; PutIfVersion refuses a write computed against an
// older version, whichever process invalidated.
type Redis struct {
	client     redis.UniversalClient
	namespace  string
	versionTTL time.Duration
	now        func() time.Time
}

// NewRedis wraps a go-redis client.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Redis{client: client, namespace: namespace, versionTTL: 2 * DefaultTTL, now: time.Now}
}

func (r *Redis) indexKey() string {
	return r.namespace + ":index"
}

func (r *Redis) generationKey() string {
	return r.namespace + ":generation"
}

// Entry keys look like <ns>:<event id>:<subject>, so a non-numeric second
// segment never collides with one.
func (r *Redis) versionKey(key string) string {
	return r.namespace + ":version:" + key
}

// putScript writes an entry only while the generation and the key version
// still match the token captured by Version.
//
// KEYS: entry, generation, version, index. ARGV: token, payload, ttl ms,
// expiry ms, now ms, index ttl ms.
var putScript = redis.NewScript(`
local token = (redis.call('GET', KEYS[2]) or '0') .. '.' .. (redis.call('GET', KEYS[3]) or '0')
if ARGV[1] ~= '' and token ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], KEYS[1])
redis.call('ZREMRANGEBYSCORE', KEYS[4], '-inf', '(' .. ARGV[5])
redis.call('PEXPIRE', KEYS[4], ARGV[6])
return 1
`)

// invalidateAllScript bumps the generation and removes every indexed entry in
// one step, so no write can land between the two.
//
// KEYS: index, generation.
var invalidateAllScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
local keys = redis.call('ZRANGE', KEYS[1], 0, -1)
for i = 1, #keys, 500 do
	redis.call('DEL', unpack(keys, i, math.min(i + 499, #keys)))
end
redis.call('DEL', KEYS[1])
return #keys
`)

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		// Undecodable payloads are a miss and get replaced on the next Put.
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return nil, false, fmt.Errorf("permcache: drop undecodable entry %s: %w", key, err)
		}
		return nil, false, nil
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, true, nil
}

// Put implements Cache. It writes unconditionally; the Manager uses
// PutIfVersion.
func (r *Redis) Put(ctx context.Context, key string, perms []string, ttl time.Duration) error {
	_, err := r.put(ctx, key, perms, ttl, "")
	return err
}

// Version implements Versioned.
func (r *Redis) Version(ctx context.Context, key string) (string, error) {
	vals, err := r.client.MGet(ctx, r.generationKey(), r.versionKey(key)).Result()
	if err != nil {
		return "", err
	}
	return versionPart(vals[0]) + "." + versionPart(vals[1]), nil
}

func versionPart(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "0"
}

// PutIfVersion implements Versioned.
func (r *Redis) PutIfVersion(ctx context.Context, key string, perms []string, ttl time.Duration, version string) (bool, error) {
	if version == "" {
		return false, errors.New("permcache: empty version")
	}
	return r.put(ctx, key, perms, ttl, version)
}

func (r *Redis) put(ctx context.Context, key string, perms []string, ttl time.Duration, version string) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return false, err
	}
	now := r.now()
	written, err := putScript.Run(ctx, r.client,
		[]string{key, r.generationKey(), r.versionKey(key), r.indexKey()},
		version, raw, ttl.Milliseconds(), now.Add(ttl).UnixMilli(), now.UnixMilli(), (ttl + time.Minute).Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Invalidate implements Cache. The key version moves with the delete so
// pending writes computed before it are refused.
func (r *Redis) Invalidate(ctx context.Context, key string) error {
	version := r.versionKey(key)
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, version)
	pipe.PExpire(ctx, version, r.versionTTL)
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, r.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateAll implements Cache.
func (r *Redis) InvalidateAll(ctx context.Context) error {
	return invalidateAllScript.Run(ctx, r.client, []string{r.indexKey(), r.generationKey()}).Err()
}

// Sweep drops index members whose entry has expired and reports how many
// were removed. The entries themselves expire in Redis.
func (r *Redis) Sweep(ctx context.Context) (int, error) {
	before := "(" + strconv.FormatInt(r.now().UnixMilli(), 10)
	removed, err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", before).Result()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}
