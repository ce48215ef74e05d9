// Package httpapi is A8: the chi-based HTTP surface wiring the
// out-of-core CRUD/trigger endpoints (spec.md §6) to C7's queue and
// C8's broadcast hub. It never runs C6 itself — handlers only persist,
// enqueue and publish, matching spec.md §1's "these only submit
// requests ... or subscribe to broadcast channels" boundary.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/internal/validation"
	"github.com/Artem468/executor-balancer/pkg/broadcast"
	"github.com/Artem468/executor-balancer/pkg/typeregistry"
	"github.com/Artem468/executor-balancer/pkg/types"
)

// Store is the subset of pkg/store's repository methods the HTTP
// surface needs; it never touches ListUsers/CommitAssignment, which
// belong to C6 alone.
type Store interface {
	CreateRequest(ctx context.Context, req *types.Request) error
	SummaryForRange(ctx context.Context, from, to time.Time) ([]types.DispatchLog, error)
	HealthCheck(ctx context.Context) error
}

// RegistrySnapshot is the subset of pkg/typeregistry.Cache the create
// path needs to cast incoming Condition values (spec.md §4.1).
type RegistrySnapshot interface {
	Get(ctx context.Context) (typeregistry.Snapshot, error)
}

// Queue is the subset of pkg/queue.Queue the HTTP surface needs to
// enqueue dispatch work (spec.md §6 "HTTP enqueue").
type Queue interface {
	Enqueue(ctx context.Context, requestID string) error
}

// Pinger checks a secondary dependency's liveness for GET /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds the HTTP surface's collaborators.
type API struct {
	store    Store
	registry RegistrySnapshot
	queue    Queue
	hub      *broadcast.Hub
	cache    Pinger
	log      *logrus.Logger
}

// New constructs an API. cache may be nil when no secondary cache
// dependency is wired (GET /healthz then only checks store).
func New(store Store, registry RegistrySnapshot, queue Queue, hub *broadcast.Hub, cache Pinger, log *logrus.Logger) *API {
	return &API{store: store, registry: registry, queue: queue, hub: hub, cache: cache, log: log}
}

// Router builds the chi.Router exposing spec.md §6's external surface.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.handleHealth)
	r.Post("/requests", a.handleCreateRequest)
	r.Post("/dispatch", a.handleDispatchTrigger)
	r.Get("/dispatch-logs/summary", a.handleSummary)
	r.Get("/ws/newRequest/", a.handleWSNewRequest)
	r.Get("/ws/dispatched/", a.handleWSDispatched)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.store.HealthCheck(ctx); err != nil {
		writeError(w, apperrors.NewTransientError("healthz store check", err))
		return
	}
	if a.cache != nil {
		if err := a.cache.Ping(ctx); err != nil {
			writeError(w, apperrors.NewTransientError("healthz cache check", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRequest stands in for the out-of-core CRUD surface: it
// persists a new Request, enqueues a dispatch task and publishes
// new_request to C8 (spec.md §6 "HTTP enqueue").
func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload validation.CreateRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.NewValidationError("malformed JSON body").WithDetails(err.Error()))
		return
	}
	if err := validation.Validate(payload); err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := a.registry.Get(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	conditions, err := typeregistry.CastRequestParams(rawConditions(payload.Params), snapshot)
	if err != nil {
		writeError(w, err)
		return
	}

	req := &types.Request{
		ID:       payload.ID,
		ParentID: payload.ParentID,
		UserID:   payload.UserID,
		Params:   conditions,
	}
	if err := a.store.CreateRequest(ctx, req); err != nil {
		writeError(w, err)
		return
	}

	if err := a.queue.Enqueue(ctx, req.ID); err != nil {
		a.log.WithError(err).WithField("request_id", req.ID).Warn("failed to enqueue dispatch task after create")
	}

	if a.hub != nil {
		a.hub.Publish(broadcast.GroupNewRequests, "new_request", map[string]interface{}{
			"id":        req.ID,
			"status":    req.Status,
			"timestamp": req.CreatedAt,
		})
	}

	writeJSON(w, http.StatusAccepted, req)
}

// handleDispatchTrigger is spec.md §6's optional direct path: enqueue a
// dispatch attempt for a Request that already exists (typically
// created moments earlier via handleCreateRequest or the external CRUD
// surface), returning the queued task's id.
func (a *API) handleDispatchTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload validation.DispatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.NewValidationError("malformed JSON body").WithDetails(err.Error()))
		return
	}
	if err := validation.Validate(payload); err != nil {
		writeError(w, err)
		return
	}

	if err := a.queue.Enqueue(ctx, payload.RequestID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": uuid.NewString()})
}

// handleSummary is the out-of-core "audit log read" aggregation
// (spec.md §6): DispatchLogs grouped by date(request_created_at)
// ascending, optionally bounded by start_date/end_date, with an
// optional jq filter applied to the JSON result before it is returned.
func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	from, to, err := parseDateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	logs, err := a.store.SummaryForRange(ctx, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	buckets := bucketByDate(logs)

	if filter := q.Get("jq"); filter != "" {
		filtered, err := applyJQ(filter, buckets)
		if err != nil {
			writeError(w, apperrors.NewValidationError("invalid jq filter").WithDetails(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, filtered)
		return
	}

	writeJSON(w, http.StatusOK, buckets)
}

func (a *API) handleWSNewRequest(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.ServeWS(broadcast.GroupNewRequests, w, r); err != nil {
		a.log.WithError(err).Warn("new_request websocket upgrade failed")
	}
}

func (a *API) handleWSDispatched(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.ServeWS(broadcast.GroupDispatched, w, r); err != nil {
		a.log.WithError(err).Warn("dispatched websocket upgrade failed")
	}
}

// dateBucket is one row of the summary aggregation: a day and how many
// dispatch logs (successful commits) fell on it.
type dateBucket struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func bucketByDate(logs []types.DispatchLog) []dateBucket {
	order := make([]string, 0)
	counts := make(map[string]int)
	for _, l := range logs {
		day := l.RequestCreatedAt.UTC().Format("2006-01-02")
		if _, seen := counts[day]; !seen {
			order = append(order, day)
		}
		counts[day]++
	}

	out := make([]dateBucket, 0, len(order))
	for _, day := range order {
		out = append(out, dateBucket{Date: day, Count: counts[day]})
	}
	return out
}

func parseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC()

	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t.AddDate(0, 0, 1)
	}
	return from, to, nil
}

// applyJQ runs filterExpr (itchyny/gojq) over value, returning every
// emitted result as a slice. A small operator-facing convenience layered on
// top of the fixed date-bucketed aggregation (spec.md §6), not a
// substitute for it.
func applyJQ(filterExpr string, value interface{}) (interface{}, error) {
	query, err := gojq.Parse(filterExpr)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	iter := query.Run(input)
	results := make([]interface{}, 0)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// rawConditions converts the already-validated ConditionIn map back
// into the raw {value, operator, height} shape typeregistry.Cast*
// expects, so the HTTP boundary doesn't duplicate C1's casting logic.
func rawConditions(params map[string]validation.ConditionIn) map[string]interface{} {
	raw := make(map[string]interface{}, len(params))
	for key, c := range params {
		entry := map[string]interface{}{
			"value":    c.Value,
			"operator": c.Operator,
		}
		if c.Height != nil {
			entry["height"] = *c.Height
		}
		raw[key] = entry
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrorTypeInternal, "internal error")
	}
	writeJSON(w, appErr.StatusCode, map[string]string{
		"error":   string(appErr.Type),
		"message": appErr.Message,
		"details": appErr.Details,
	})
}
