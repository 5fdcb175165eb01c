package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"catalog-scraper/internal/domain/scrape"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "catalog:queue:"
	KeyDelayedSet = keyPrefix + "delayed"

	promoteBatch = 100
)

func LaneKey(lane scrape.TargetType) string {
	return keyPrefix + strings.ToLower(string(lane))
}

func ProcessingKey(lane scrape.TargetType) string {
	return LaneKey(lane) + ":processing"
}

// RedisQueue keeps one list per lane plus an in-flight list, following the
// reliable-queue pattern: BRPOPLPUSH on pop, LREM on ack.
type RedisQueue struct {
	rdb    *redis.Client
	logger *log.Logger
}

func NewRedisQueue(rdb *redis.Client, logger *log.Logger) (*RedisQueue, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisQueue{rdb: rdb, logger: logger}, nil
}

func (q *RedisQueue) Push(ctx context.Context, t Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	data, err := t.encode()
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, LaneKey(t.TargetType), data).Err(); err != nil {
		return fmt.Errorf("lpush task: %w", err)
	}
	return nil
}

func (q *RedisQueue) PushDelayed(ctx context.Context, t Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Push(ctx, t)
	}
	if err := t.validate(); err != nil {
		return err
	}
	data, err := t.encode()
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, KeyDelayedSet, redis.Z{Score: float64(due), Member: data}).Err(); err != nil {
		return fmt.Errorf("zadd delayed task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, lane scrape.TargetType, timeout time.Duration) (Task, error) {
	raw, err := q.rdb.BRPopLPush(ctx, LaneKey(lane), ProcessingKey(lane), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrNoTask
	}
	if err != nil {
		return Task{}, fmt.Errorf("brpoplpush task: %w", err)
	}
	t, err := decodeTask(raw)
	if err != nil {
		// a payload we cannot read would be re-delivered forever
		_ = q.rdb.LRem(ctx, ProcessingKey(lane), 1, raw).Err()
		return Task{}, err
	}
	return t, nil
}

func (q *RedisQueue) Ack(ctx context.Context, t Task) error {
	data, err := t.encode()
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, ProcessingKey(t.TargetType), 1, data).Err(); err != nil {
		return fmt.Errorf("lrem task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context, lane scrape.TargetType) (int64, error) {
	n, err := q.rdb.LLen(ctx, LaneKey(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen lane: %w", err)
	}
	return n, nil
}

// promoteScript moves one delayed member onto its lane. The LPUSH only runs
// when this caller's ZREM removed the member, so a task is never lost between
// the two and concurrent promoters never double-push.
// KEYS[1] = delayed set, KEYS[2] = lane list, ARGV[1] = task payload
// returns 1 when promoted, 0 when another promoter took it
var promoteScript = redis.NewScript(`
	local removed = redis.call('ZREM', KEYS[1], ARGV[1])
	if removed > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
		return 1
	end
	return 0
`)

// PromoteDue moves delayed tasks whose time has come onto their lanes.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, KeyDelayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore delayed: %w", err)
	}

	promoted := 0
	for _, m := range members {
		t, err := decodeTask(m)
		if err != nil {
			q.logger.Printf("[Queue] Drop unreadable delayed task err=%v", err)
			_ = q.rdb.ZRem(ctx, KeyDelayedSet, m).Err()
			continue
		}
		moved, err := promoteScript.Run(ctx, q.rdb, []string{KeyDelayedSet, LaneKey(t.TargetType)}, m).Int()
		if err != nil {
			return promoted, fmt.Errorf("promote delayed task: %w", err)
		}
		promoted += moved
	}
	return promoted, nil
}

// RunPromoter polls for due delayed tasks until ctx ends.
func (q *RedisQueue) RunPromoter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := q.PromoteDue(ctx, now); err != nil && ctx.Err() == nil {
				q.logger.Printf("[Queue] Promote delayed tasks failed err=%v", err)
			}
		}
	}
}

// RequeueInFlight returns tasks left in a lane's processing list by a previous
// process to the lane. Delivery is at-least-once; the job store's admission
// gate drops duplicates.
func (q *RedisQueue) RequeueInFlight(ctx context.Context, lane scrape.TargetType) (int, error) {
	n := 0
	for {
		_, err := q.rdb.RPopLPush(ctx, ProcessingKey(lane), LaneKey(lane)).Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeue in-flight: %w", err)
		}
		n++
	}
}
