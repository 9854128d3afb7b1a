package results

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "xsim:results:pairs"

// RedisStore implements Store using Redis (sorted set by timestamp, value = JSON PairRecord).
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store that uses the given Redis client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, rec PairRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: score(rec.At), Member: string(raw)}).Err()
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// scoreRange converts the query window into ZRANGEBYSCORE bounds.
func scoreRange(q Query) (string, string) {
	lo, hi := "-inf", "+inf"
	if !q.From.IsZero() {
		lo = strconv.FormatFloat(score(q.From), 'f', -1, 64)
	}
	if !q.To.IsZero() {
		hi = strconv.FormatFloat(score(q.To), 'f', -1, 64)
	}
	return lo, hi
}

// decodeMembers parses sorted-set members, skipping anything unreadable.
func decodeMembers(vals []redis.Z) []PairRecord {
	out := make([]PairRecord, 0, len(vals))
	for _, z := range vals {
		mem, ok := z.Member.(string)
		if !ok {
			continue
		}
		var rec PairRecord
		if err := json.Unmarshal([]byte(mem), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Query implements Store by reading from the sorted set and aggregating in memory.
func (r *RedisStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	lo, hi := scoreRange(q)
	const batch = 10000
	var records []PairRecord
	for offset := int64(0); ; offset += batch {
		vals, err := r.client.ZRangeByScoreWithScores(ctx, r.key, &redis.ZRangeBy{
			Min: lo, Max: hi, Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, err
		}
		records = append(records, decodeMembers(vals)...)
		if len(vals) < batch {
			break
		}
	}
	return aggregate(records, q), nil
}

var _ Store = (*RedisStore)(nil)
