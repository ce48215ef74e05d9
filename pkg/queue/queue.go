// Package queue implements C7: a Redis-backed reliable queue standing
// in for the message broker the teacher's stack never carried. It
// follows the reliable-queue idiom (LPUSH enqueue, BLMOVE into a
// processing list shared by all of the queue's consumers, a reaper that
// periodically returns whatever is still in that list) layered with cenkalti/backoff retry and a sony/gobreaker
// circuit breaker around the dispatch callback, grounded on the
// teacher's retry/circuit-breaker conventions
// (test/integration/notification/suite_test.go) and the pack's
// go-redis usage (open-policy-agent-eopa/pkg/builtins/redis.go).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
)

const (
	pendingKeyPrefix    = "executor-balancer:queue:pending:"
	processingKeyPrefix = "executor-balancer:queue:processing:"
)

// Metrics is the subset of pkg/metrics.Recorder the queue reports
// retry/terminal outcomes against.
type Metrics interface {
	ObserveQueueRetry(outcome string)
}

// Queue is C7: a durable work list of request IDs awaiting dispatch.
type Queue struct {
	redis             *redis.Client
	name              string
	visibilityTimeout time.Duration
	breaker           *gobreaker.CircuitBreaker
	log               *logrus.Logger
	metrics           Metrics
}

// Config tunes the queue's visibility timeout and circuit breaker.
type Config struct {
	Name              string
	VisibilityTimeout time.Duration
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		VisibilityTimeout:  40 * time.Second,
		BreakerMaxRequests: 2,
		BreakerInterval:    10 * time.Second,
		BreakerTimeout:     30 * time.Second,
	}
}

// New constructs a Queue named cfg.Name, backed by client. metrics may
// be nil, in which case retry/terminal outcomes simply aren't reported.
func New(client *redis.Client, cfg Config, log *logrus.Logger, metrics Metrics) *Queue {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "queue:" + cfg.Name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("queue circuit breaker state change")
		},
	})

	return &Queue{
		redis:             client,
		name:              cfg.Name,
		visibilityTimeout: cfg.VisibilityTimeout,
		breaker:           breaker,
		log:               log,
		metrics:           metrics,
	}
}

func (q *Queue) recordRetryOutcome(outcome string) {
	if q.metrics != nil {
		q.metrics.ObserveQueueRetry(outcome)
	}
}

func (q *Queue) pendingKey() string    { return pendingKeyPrefix + q.name }
func (q *Queue) processingKey() string { return processingKeyPrefix + q.name }

// Enqueue pushes requestID onto the pending list, consumed FIFO via
// BLMOVE (LPUSH + RPOP-from-the-right ordering).
func (q *Queue) Enqueue(ctx context.Context, requestID string) error {
	if err := q.redis.LPush(ctx, q.pendingKey(), requestID).Err(); err != nil {
		return apperrors.NewTransientError("enqueue", err)
	}
	return nil
}

// Dequeue blocks up to timeout for one item, atomically moving it into
// the processing list so a crashed consumer never silently drops work;
// the reaper goroutine is what gives it back to the pending list, on
// its next visibilityTimeout tick if it is still unacknowledged (see
// Reap).
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	requestID, err := q.redis.BLMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.NewTransientError("dequeue", err)
	}
	return requestID, nil
}

// Ack removes requestID from the processing list on successful commit.
func (q *Queue) Ack(ctx context.Context, requestID string) error {
	if err := q.redis.LRem(ctx, q.processingKey(), 1, requestID).Err(); err != nil {
		return apperrors.NewTransientError("ack", err)
	}
	return nil
}

// Nack returns requestID to the pending list immediately, used when the
// dispatch callback fails with a non-retryable error that should still
// be re-attempted by a later worker rather than reaped after a delay.
func (q *Queue) Nack(ctx context.Context, requestID string) error {
	pipe := q.redis.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, requestID)
	pipe.LPush(ctx, q.pendingKey(), requestID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.NewTransientError("nack", err)
	}
	return nil
}

// Reap runs until ctx is done, periodically moving any processing
// entries back onto pending — there is no per-item timestamp to check
// cheaply in a plain Redis list, so Reap conservatively requeues
// whatever is still sitting in processing every visibilityTimeout tick;
// paired with the idempotent compare-and-set in store.CommitAssignment,
// a request that was actually handled is a no-op requeue.
func (q *Queue) Reap(ctx context.Context) {
	ticker := time.NewTicker(q.visibilityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.reapOnce(ctx); err != nil {
				q.log.WithError(err).Warn("queue reaper tick failed")
			}
		}
	}
}

func (q *Queue) reapOnce(ctx context.Context) error {
	for {
		requestID, err := q.redis.RPopLPush(ctx, q.processingKey(), q.pendingKey()).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return apperrors.NewTransientError("reap", err)
		}
		q.log.WithField("request_id", requestID).Info("requeued stale processing entry")
	}
}

// RetryCallback is the work performed per dequeued item.
type RetryCallback func(ctx context.Context, requestID string) error

// Process pulls one item, runs cb through the retry/circuit-breaker
// stack, and Acks or Nacks depending on the outcome (spec.md §4.6,
// §7). A false return means nothing was available within timeout.
func (q *Queue) Process(ctx context.Context, timeout time.Duration, cb RetryCallback) (bool, error) {
	requestID, err := q.Dequeue(ctx, timeout)
	if err != nil {
		return false, err
	}
	if requestID == "" {
		return false, nil
	}

	err = q.runWithRetry(ctx, requestID, cb)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNoCandidates) {
			// Terminal outcome for this attempt: ack it so it is not
			// reaped back onto the pending list forever.
			q.recordRetryOutcome("acked_terminal")
			_ = q.Ack(ctx, requestID)
			return true, err
		}
		q.recordRetryOutcome("requeued")
		_ = q.Nack(ctx, requestID)
		return true, err
	}

	return true, q.Ack(ctx, requestID)
}

func (q *Queue) runWithRetry(ctx context.Context, requestID string, cb RetryCallback) error {
	op := func() error {
		var noCandidatesErr error
		_, breakerErr := q.breaker.Execute(func() (interface{}, error) {
			err := cb(ctx, requestID)
			if apperrors.IsType(err, apperrors.ErrorTypeNoCandidates) {
				// Starvation (no eligible candidate) is a legitimate
				// outcome, not an infrastructure fault — it must not
				// count toward the breaker's consecutive-failure trip.
				// Reported to the breaker as a success; the actual
				// error is carried out-of-band and surfaced below.
				noCandidatesErr = err
				return nil, nil
			}
			return nil, err
		})
		if noCandidatesErr != nil {
			return backoff.Permanent(noCandidatesErr)
		}
		if breakerErr != nil && !apperrors.Retryable(breakerErr) {
			return backoff.Permanent(breakerErr)
		}
		return breakerErr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		q.recordRetryOutcome("retried")
		q.log.WithError(err).WithField("request_id", requestID).WithField("backoff", wait).Warn("queue delivery retrying")
	})
}

// Depth reports the pending queue length, exposed as a gauge by
// pkg/metrics.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
