package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps due times in a sorted set, bodies in a hash and
// in-flight leases in a second sorted set.
type RedisQueue struct {
	rdb     *redis.Client
	prefix  string
	lease   time.Duration
	doneTTL time.Duration
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "tasks"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, lease: time.Minute, doneTTL: 7 * 24 * time.Hour}
}

func (q *RedisQueue) dueKey() string           { return q.prefix + ":due" }
func (q *RedisQueue) leaseKey() string         { return q.prefix + ":processing" }
func (q *RedisQueue) dataKey() string          { return q.prefix + ":data" }
func (q *RedisQueue) doneKey(id string) string { return q.prefix + ":done:" + id }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (q *RedisQueue) Schedule(ctx context.Context, t Task) error {
	done, err := q.rdb.Exists(ctx, q.doneKey(t.ID)).Result()
	if err != nil {
		return err
	}
	if done > 0 {
		return nil
	}

	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, q.dataKey(), t.ID, body)
		p.ZAddNX(ctx, q.dueKey(), redis.Z{Score: score(t.NotBefore), Member: t.ID})
		return nil
	})
	return err
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if err := q.requeueExpired(ctx, now); err != nil {
		return nil, err
	}

	ids, err := q.rdb.ZRangeByScore(ctx, q.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []Task
	for _, id := range ids {
		// ZREM decides which worker owns the task
		removed, err := q.rdb.ZRem(ctx, q.dueKey(), id).Result()
		if err != nil {
			return out, err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.ZAdd(ctx, q.leaseKey(), redis.Z{Score: score(now.Add(q.lease)), Member: id}).Err(); err != nil {
			return out, err
		}

		body, err := q.rdb.HGet(ctx, q.dataKey(), id).Bytes()
		if errors.Is(err, redis.Nil) {
			_ = q.rdb.ZRem(ctx, q.leaseKey(), id).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		var t Task
		if err := json.Unmarshal(body, &t); err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (q *RedisQueue) requeueExpired(ctx context.Context, now time.Time) error {
	expired, err := q.rdb.ZRangeByScore(ctx, q.leaseKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range expired {
		removed, err := q.rdb.ZRem(ctx, q.leaseKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.rdb.ZAdd(ctx, q.dueKey(), redis.Z{Score: score(now), Member: id}).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.leaseKey(), id)
		p.ZRem(ctx, q.dueKey(), id)
		p.HDel(ctx, q.dataKey(), id)
		p.Set(ctx, q.doneKey(id), "1", q.doneTTL)
		return nil
	})
	return err
}

func (q *RedisQueue) Retry(ctx context.Context, t Task, at time.Time) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.dataKey(), t.ID, body)
		p.ZRem(ctx, q.leaseKey(), t.ID)
		p.ZAdd(ctx, q.dueKey(), redis.Z{Score: score(at), Member: t.ID})
		return nil
	})
	return err
}
