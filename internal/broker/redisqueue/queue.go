package redisqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Job: отложенная задача. Key дедуплицирует: повторный Enqueue с тем же Key
// заменяет payload и время запуска.
type Job struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// Queue is a delayed-job queue on a sorted set of due times plus a hash of
// job bodies. Claiming removes the job atomically, so each enqueue is
// delivered to one worker; redelivery after a crash is the recovery sweep's job.
type Queue struct {
	c      redis.UniversalClient
	prefix string
}

func New(c redis.UniversalClient, prefix string) *Queue {
	return &Queue{c: c, prefix: prefix}
}

func (q *Queue) dueKey(queue string) string  { return q.prefix + queue + ":due" }
func (q *Queue) jobsKey(queue string) string { return q.prefix + queue + ":jobs" }

func (q *Queue) Enqueue(ctx context.Context, queue string, job Job, notBefore time.Time) error {
	if job.Key == "" {
		return errors.New("job key is required")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}

	pipe := q.c.TxPipeline()
	pipe.ZAdd(ctx, q.dueKey(queue), redis.Z{Score: float64(notBefore.UnixMilli()), Member: job.Key})
	pipe.HSet(ctx, q.jobsKey(queue), job.Key, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis enqueue")
	}
	return nil
}

// KEYS[1] due zset, KEYS[2] jobs hash; ARGV[1] now (ms), ARGV[2] limit.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local body = redis.call('HGET', KEYS[2], id)
  redis.call('HDEL', KEYS[2], id)
  if body then
    table.insert(out, body)
  end
end
return out
`)

// ClaimDue pops up to limit jobs whose due time is <= now.
func (q *Queue) ClaimDue(ctx context.Context, queue string, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := claimScript.Run(ctx, q.c,
		[]string{q.dueKey(queue), q.jobsKey(queue)},
		strconv.FormatInt(now.UnixMilli(), 10), limit,
	).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "redis claim due")
	}

	jobs := make([]Job, 0, len(res))
	for _, raw := range res {
		var j Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			// битую задачу не возвращаем в очередь
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Scheduled returns when the job with key is due, if it is pending.
func (q *Queue) Scheduled(ctx context.Context, queue, key string) (time.Time, bool, error) {
	score, err := q.c.ZScore(ctx, q.dueKey(queue), key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "redis zscore")
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

func (q *Queue) Len(ctx context.Context, queue string) (int64, error) {
	n, err := q.c.ZCard(ctx, q.dueKey(queue)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis zcard")
	}
	return n, nil
}
