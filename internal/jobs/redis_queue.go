package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultQueueName    = "submissions"
	defaultReadyTimeout = 500 * time.Millisecond
	minDequeueWait      = time.Second

	stateActive    = "active"
	stateDelayed   = "delayed"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// Queue accepts grading jobs.
type Queue interface {
	Ready(ctx context.Context) bool
	Enqueue(ctx context.Context, job GradeJob, opts EnqueueOptions) (string, error)
}

// Broker is the consuming side of the queue used by workers.
type Broker interface {
	Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) (FailOutcome, error)
	UpdateProgress(ctx context.Context, id string, percent int) error
	Heartbeat(ctx context.Context, id string) error
	ReclaimStalled(ctx context.Context, lease time.Duration) ([]Delivery, error)
}

// enqueueScript stores the job hash and pushes the id unless the id already exists.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'attempts', '0', 'max_attempts', ARGV[2], 'backoff_ms', ARGV[3], 'state', 'waiting', 'progress', '0', 'created_at', ARGV[4])
redis.call('LPUSH', KEYS[2], ARGV[5])
return 1
`)

// promoteScript moves delayed jobs whose retry time has come back to the wait list.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
  redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
end
return #ids
`)

// reclaimScript returns active jobs whose heartbeat is older than the lease to
// the wait list, or fails them when no attempts remain. It returns the ids of
// the failed jobs.
var reclaimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local exhausted = {}
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  if redis.call('EXISTS', key) == 0 then
    redis.call('LREM', KEYS[1], 0, id)
  else
    local beat = tonumber(redis.call('HGET', key, 'heartbeat_at'))
    if not beat then
      redis.call('HSET', key, 'heartbeat_at', ARGV[1])
    elseif now - beat > tonumber(ARGV[2]) then
      redis.call('LREM', KEYS[1], 0, id)
      local attempts = redis.call('HINCRBY', key, 'attempts', 1)
      local max = tonumber(redis.call('HGET', key, 'max_attempts')) or tonumber(ARGV[5])
      if attempts < max then
        redis.call('HSET', key, 'state', 'waiting', 'error', 'job stalled')
        redis.call('HDEL', key, 'heartbeat_at')
        redis.call('LPUSH', KEYS[2], id)
      else
        redis.call('HSET', key, 'state', 'failed', 'error', 'job stalled', 'finished_at', ARGV[1])
        redis.call('EXPIRE', key, ARGV[4])
        table.insert(exhausted, id)
      end
    end
  end
end
return exhausted
`)

// RedisQueueConfig configures the Redis-backed queue.
type RedisQueueConfig struct {
	Name         string
	ReadyTimeout time.Duration
	Logger       zerolog.Logger
}

// RedisQueue is a small reliable queue on Redis lists: wait -> active, with a
// delayed sorted set for retries and one hash per job.
type RedisQueue struct {
	client       *redis.Client
	prefix       string
	readyTimeout time.Duration
	tracer       trace.Tracer
	logger       zerolog.Logger
	now          func() time.Time
}

// NewRedisQueue builds a queue on the given client. A nil client yields a queue that is never ready.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	if cfg.Name == "" {
		cfg.Name = defaultQueueName
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	return &RedisQueue{
		client:       client,
		prefix:       "gema:queue:" + cfg.Name,
		readyTimeout: cfg.ReadyTimeout,
		tracer:       otel.Tracer("github.com/noah-isme/gema-grader/internal/jobs"),
		logger:       cfg.Logger.With().Str("component", "redis_queue").Logger(),
		now:          time.Now,
	}
}

func (q *RedisQueue) waitKey() string { return q.prefix + ":wait" }
func (q *RedisQueue) activeKey() string { return q.prefix + ":active" }
func (q *RedisQueue) delayedKey() string { return q.prefix + ":delayed" }
func (q *RedisQueue) jobKeyPrefix() string { return q.prefix + ":job:" }
func (q *RedisQueue) jobKey(id string) string { return q.jobKeyPrefix() + id }

// Ready reports whether the backend currently answers a ping.
func (q *RedisQueue) Ready(ctx context.Context) bool {
	if q == nil || q.client == nil {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, q.readyTimeout)
	defer cancel()

	if err := q.client.Ping(pingCtx).Err(); err != nil {
		q.logger.Warn().Err(err).Msg("job queue not ready")
		return false
	}
	return true
}

// Enqueue adds the job unless a job with the same id already exists, in which
// case the existing job is left untouched and its id returned.
func (q *RedisQueue) Enqueue(ctx context.Context, job GradeJob, opts EnqueueOptions) (string, error) {
	if q == nil || q.client == nil {
		return "", ErrQueueUnavailable
	}

	if opts.JobID == "" {
		opts.JobID = job.SubmissionID
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}

	ctx, span := q.tracer.Start(ctx, "jobs.enqueue", trace.WithAttributes(
		attribute.String("job.id", opts.JobID),
	))
	defer span.End()

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(opts.JobID), q.waitKey()},
		string(payload),
		opts.Attempts,
		opts.Backoff.Milliseconds(),
		q.now().UnixMilli(),
		opts.JobID,
	).Int()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", translateRedisError("enqueue job", err)
	}

	if created == 0 {
		q.logger.Debug().Str("job_id", opts.JobID).Msg("job already queued")
	}

	return opts.JobID, nil
}

// Dequeue promotes due retries, then blocks up to wait (at least one second)
// for a job. It returns nil without error when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if q == nil || q.client == nil {
		return nil, ErrQueueUnavailable
	}

	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	if wait < minDequeueWait {
		wait = minDequeueWait
	}

	id, err := q.client.BRPopLPush(ctx, q.waitKey(), q.activeKey(), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, translateRedisError("dequeue job", err)
	}

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, translateRedisError("load job", err)
	}
	if len(fields) == 0 {
		q.logger.Warn().Str("job_id", id).Msg("dropping job without data")
		q.client.LRem(ctx, q.activeKey(), 1, id)
		return nil, nil
	}

	var job GradeJob
	if err := json.Unmarshal([]byte(fields["payload"]), &job); err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("dropping job with malformed payload")
		if _, failErr := q.fail(ctx, id, fmt.Errorf("malformed payload: %w", err), true); failErr != nil {
			return nil, failErr
		}
		return nil, nil
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	maxAttempts, _ := strconv.Atoi(fields["max_attempts"])

	if err := q.client.HSet(ctx, q.jobKey(id), "state", stateActive, "heartbeat_at", q.now().UnixMilli()).Err(); err != nil {
		return nil, translateRedisError("mark job active", err)
	}

	return &Delivery{
		ID:          id,
		Job:         job,
		Attempt:     attempts + 1,
		MaxAttempts: maxAttempts,
	}, nil
}

func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.waitKey()},
		q.now().UnixMilli(),
		q.jobKeyPrefix(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return translateRedisError("promote delayed jobs", err)
	}
	return nil
}

// Complete marks the job finished and schedules its data for expiry.
func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.HSet(ctx, q.jobKey(id), "state", stateCompleted, "progress", 100, "finished_at", q.now().UnixMilli())
		pipe.Expire(ctx, q.jobKey(id), CompletedRetention)
		return nil
	})
	if err != nil {
		return translateRedisError("complete job", err)
	}
	return nil
}

// Fail records the failure and schedules a retry with exponential backoff
// while attempts remain. Permanent errors are never retried.
func (q *RedisQueue) Fail(ctx context.Context, id string, cause error) (FailOutcome, error) {
	return q.fail(ctx, id, cause, IsPermanent(cause))
}

func (q *RedisQueue) fail(ctx context.Context, id string, cause error, permanent bool) (FailOutcome, error) {
	key := q.jobKey(id)

	attempts, err := q.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return FailOutcome{}, translateRedisError("record job failure", err)
	}

	values, err := q.client.HMGet(ctx, key, "max_attempts", "backoff_ms").Result()
	if err != nil {
		return FailOutcome{}, translateRedisError("load job options", err)
	}
	maxAttempts := parseHashInt(values[0], DefaultAttempts)
	backoff := time.Duration(parseHashInt(values[1], int(DefaultBackoff.Milliseconds()))) * time.Millisecond

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	outcome := FailOutcome{Attempts: int(attempts)}
	if !permanent && int(attempts) < maxAttempts {
		outcome.Retrying = true
		outcome.Delay = ComputeBackoff(int(attempts)-1, backoff, 0)
		readyAt := q.now().Add(outcome.Delay).UnixMilli()

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.activeKey(), 1, id)
			pipe.HSet(ctx, key, "state", stateDelayed, "error", message)
			pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt), Member: id})
			return nil
		})
	} else {
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.activeKey(), 1, id)
			pipe.HSet(ctx, key, "state", stateFailed, "error", message, "finished_at", q.now().UnixMilli())
			pipe.Expire(ctx, key, FailedRetention)
			return nil
		})
	}
	if err != nil {
		return FailOutcome{}, translateRedisError("reschedule job", err)
	}

	return outcome, nil
}

// UpdateProgress stores the job's progress percentage and counts as a heartbeat.
func (q *RedisQueue) UpdateProgress(ctx context.Context, id string, percent int) error {
	if err := q.client.HSet(ctx, q.jobKey(id), "progress", percent, "heartbeat_at", q.now().UnixMilli()).Err(); err != nil {
		return translateRedisError("update job progress", err)
	}
	return nil
}

// Heartbeat tells ReclaimStalled that the job's worker is still alive.
func (q *RedisQueue) Heartbeat(ctx context.Context, id string) error {
	if err := q.client.HSet(ctx, q.jobKey(id), "heartbeat_at", q.now().UnixMilli()).Err(); err != nil {
		return translateRedisError("job heartbeat", err)
	}
	return nil
}

// ReclaimStalled recovers jobs left in the active list by a worker that died.
// Jobs with attempts left go back to the wait list; the others are failed and
// returned so the caller can settle their submissions.
func (q *RedisQueue) ReclaimStalled(ctx context.Context, lease time.Duration) ([]Delivery, error) {
	if q == nil || q.client == nil {
		return nil, ErrQueueUnavailable
	}

	ids, err := reclaimScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.waitKey()},
		q.now().UnixMilli(),
		lease.Milliseconds(),
		q.jobKeyPrefix(),
		int64(FailedRetention.Seconds()),
		DefaultAttempts,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, translateRedisError("reclaim stalled jobs", err)
	}

	exhausted := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		values, err := q.client.HMGet(ctx, q.jobKey(id), "payload", "attempts", "max_attempts").Result()
		if err != nil {
			return exhausted, translateRedisError("load stalled job", err)
		}

		payload, _ := values[0].(string)
		var job GradeJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.logger.Error().Err(err).Str("job_id", id).Msg("stalled job has malformed payload")
			continue
		}

		q.logger.Warn().Str("job_id", id).Msg("stalled job exhausted its attempts")
		exhausted = append(exhausted, Delivery{
			ID:          id,
			Job:         job,
			Attempt:     parseHashInt(values[1], 1),
			MaxAttempts: parseHashInt(values[2], DefaultAttempts),
		})
	}

	return exhausted, nil
}

func parseHashInt(value interface{}, fallback int) int {
	str, ok := value.(string)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(str)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func translateRedisError(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w", op, ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}
