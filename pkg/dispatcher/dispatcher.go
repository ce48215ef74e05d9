// Package dispatcher implements C6, the orchestrator that ties C1–C5,
// the store, C7's queue and C8's broadcast hub together into the
// ten-step dispatch operation (spec.md §4.6).
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/broadcast"
	"github.com/Artem468/executor-balancer/pkg/loadbalancer"
	"github.com/Artem468/executor-balancer/pkg/scorer"
	"github.com/Artem468/executor-balancer/pkg/types"
)

var tracer = otel.Tracer("executor-balancer/dispatcher")

// Store is the subset of pkg/store's repository methods C6 needs.
type Store interface {
	GetRequest(ctx context.Context, id string) (*types.Request, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	CommitAssignment(ctx context.Context, requestID, userID string) (bool, error)
	MarkProcessed(ctx context.Context, requestID string, status types.Status) error
	InsertDispatchLog(ctx context.Context, log *types.DispatchLog) error
}

// DailyCounter is the subset of pkg/dailycounter.Cache C6 needs.
type DailyCounter interface {
	GetCounts(ctx context.Context, force bool) (map[string]int, error)
	Increment(userID string)
}

// Metrics is the subset of pkg/metrics.Recorder C6 reports against.
type Metrics interface {
	ObserveDispatchAttempt()
	ObserveDispatchWinner()
	ObserveDispatchNoCandidates()
	ObserveDispatchDuration(seconds float64)
}

// Dispatcher runs dispatch(request_id) (spec.md §4.6).
type Dispatcher struct {
	store            Store
	counters         DailyCounter
	hub              *broadcast.Hub
	policy           loadbalancer.Policy
	minScoreFraction float64
	log              *logrus.Logger
	metrics          Metrics
}

// New constructs a Dispatcher. policy defaults to
// loadbalancer.ScoreLoadPolicy{} when nil.
func New(store Store, counters DailyCounter, hub *broadcast.Hub, policy loadbalancer.Policy, minScoreFraction float64, log *logrus.Logger, metrics Metrics) *Dispatcher {
	if policy == nil {
		policy = loadbalancer.ScoreLoadPolicy{}
	}
	return &Dispatcher{
		store:            store,
		counters:         counters,
		hub:              hub,
		policy:           policy,
		minScoreFraction: minScoreFraction,
		log:              log,
		metrics:          metrics,
	}
}

// Dispatch runs the ten-step operation for requestID, returning the
// winning user id, or ("", nil) when the request does not exist. When
// no candidate exists it marks the request processed and returns a
// NoCandidates error, which C7 acks as a terminal outcome instead of
// retrying it.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) (string, error) {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.ObserveDispatchAttempt()
	}

	ctx, span := tracer.Start(ctx, "dispatch.request", trace.WithAttributes(
		attribute.String("request.id", requestID),
	))
	defer span.End()
	defer func() {
		if d.metrics != nil {
			d.metrics.ObserveDispatchDuration(time.Since(start).Seconds())
		}
	}()

	// Step 1: load the request.
	req, err := d.store.GetRequest(ctx, requestID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			span.AddEvent("request not found")
			return "", nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "load request failed")
		return "", err
	}

	// Idempotent guard: a redelivered task for an already-assigned
	// request is a no-op success (spec.md §5 "Cancellation & timeouts").
	if req.UserID != nil {
		span.AddEvent("already dispatched", trace.WithAttributes(attribute.String("winner", *req.UserID)))
		return *req.UserID, nil
	}

	// Step 2: today's counts via C5.
	counts, err := d.counters.GetCounts(ctx, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read daily counts failed")
		return "", err
	}

	// Step 3: enumerate users.
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list users failed")
		return "", err
	}

	// Step 4: build candidates.
	candidates := make([]loadbalancer.Candidate, 0, len(users))
	for _, user := range users {
		daily := counts[user.ID]
		if user.MaxDailyRequests != nil && daily >= *user.MaxDailyRequests {
			continue
		}

		result := scorer.Score(user.Params, req.Params)
		suitable := result.Suitable(d.minScoreFraction)

		candidates = append(candidates, loadbalancer.Candidate{
			UserID:     user.ID,
			TotalScore: result.TotalScore,
			MaxScore:   result.MaxScore,
			Daily:      daily,
			Quota:      user.MaxDailyRequests,
			IsFallback: !suitable,
		})
	}

	primary := 0
	fallback := 0
	for _, c := range candidates {
		if c.IsFallback {
			fallback++
		} else {
			primary++
		}
	}
	span.SetAttributes(
		attribute.Int("candidates.primary", primary),
		attribute.Int("candidates.fallback", fallback),
	)

	// Step 5/6: select the winner via the configured policy.
	winner, ok := d.policy.Select(candidates)
	if !ok {
		if d.metrics != nil {
			d.metrics.ObserveDispatchNoCandidates()
		}
		span.AddEvent("no candidates")
		if err := d.store.MarkProcessed(ctx, requestID, types.StatusProcessed); err != nil {
			d.log.WithError(err).WithField("request_id", requestID).Warn("failed to mark request processed after no-candidates outcome")
		}
		return "", apperrors.NewNoCandidatesError(requestID)
	}

	span.SetAttributes(attribute.String("winner", winner.UserID))

	// Step 7: commit (idempotent compare-and-set) and increment C5.
	committed, err := d.store.CommitAssignment(ctx, requestID, winner.UserID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return "", err
	}
	if !committed {
		// Another attempt won the race; treat as already dispatched.
		span.AddEvent("commit lost race, already dispatched")
		req, err = d.store.GetRequest(ctx, requestID)
		if err != nil {
			return "", err
		}
		if req.UserID != nil {
			return *req.UserID, nil
		}
		return "", apperrors.NewTransientError("commit", nil)
	}
	d.counters.Increment(winner.UserID)

	// Step 8: write the audit log. Detach from ctx's cancellation/deadline
	// so a near-expiry timeout (spec.md §5) can't abandon the write mid-
	// flight — the commit already happened, so a missing log is a
	// non-fatal inconsistency, not a reason to fail the dispatch, but it
	// must still be attempted on every exit path.
	logCtx := context.WithoutCancel(ctx)
	logErr := d.store.InsertDispatchLog(logCtx, &types.DispatchLog{
		RequestID:        req.ID,
		ParentID:         req.ParentID,
		TaskID:           uuid.NewString(),
		RequestCreatedAt: req.CreatedAt,
		RequestUpdatedAt: time.Now().UTC(),
	})
	if logErr != nil {
		d.log.WithError(logErr).WithField("request_id", requestID).Error("dispatch committed but audit log write failed")
		span.RecordError(logErr)
	}

	// Step 9: broadcast.
	if d.hub != nil {
		d.hub.Publish(broadcast.GroupDispatched, "request_dispatched", map[string]interface{}{
			"request_id": req.ID,
			"user":       winner.UserID,
			"timestamp":  time.Now().UTC(),
		})
	}

	if d.metrics != nil {
		d.metrics.ObserveDispatchWinner()
	}
	span.SetStatus(codes.Ok, "dispatched")

	// Step 10: return the winner.
	return winner.UserID, nil
}

