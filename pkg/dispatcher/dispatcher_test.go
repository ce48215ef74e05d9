package dispatcher

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/loadbalancer"
	"github.com/Artem468/executor-balancer/pkg/types"
)

func TestDispatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dispatcher Suite")
}

type fakeStore struct {
	requests  map[string]*types.Request
	users     []types.User
	logs      []*types.DispatchLog
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: map[string]*types.Request{}}
}

func (f *fakeStore) GetRequest(ctx context.Context, id string) (*types.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("request")
	}
	clone := *req
	return &clone, nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]types.User, error) {
	return f.users, nil
}

func (f *fakeStore) CommitAssignment(ctx context.Context, requestID, userID string) (bool, error) {
	if f.commitErr != nil {
		return false, f.commitErr
	}
	req := f.requests[requestID]
	if req.UserID != nil {
		return false, nil
	}
	req.UserID = &userID
	req.Status = types.StatusAccept
	req.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, requestID string, status types.Status) error {
	if req, ok := f.requests[requestID]; ok {
		req.Status = status
	}
	return nil
}

func (f *fakeStore) InsertDispatchLog(ctx context.Context, log *types.DispatchLog) error {
	f.logs = append(f.logs, log)
	return nil
}

type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) GetCounts(ctx context.Context, force bool) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeCounter) Increment(userID string) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[userID]++
}

func cond(value types.Value, op types.Operator, height float64) types.Condition {
	return types.Condition{Value: value, Operator: op, Height: height}
}

func quota(n int) *int { return &n }

var _ = Describe("Dispatcher", func() {
	var (
		store    *fakeStore
		counters *fakeCounter
		log      *logrus.Logger
	)

	BeforeEach(func() {
		store = newFakeStore()
		counters = &fakeCounter{counts: map[string]int{}}
		log = logrus.New()
		log.SetLevel(logrus.FatalLevel)
	})

	It("S1: selects the matching user over a non-matching one", func() {
		store.requests["req-1"] = &types.Request{
			ID:        "req-1",
			Params:    map[string]types.Condition{"region": cond(types.String("eu-west"), types.OpEQ, 1)},
			Status:    types.StatusAwait,
			CreatedAt: time.Now(),
		}
		store.users = []types.User{
			{ID: "u-exact", Params: map[string]types.Value{"region": types.String("eu-west")}},
			{ID: "u-other", Params: map[string]types.Value{"region": types.String("us-east")}},
		}

		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(Equal("u-exact"))
		Expect(store.logs).To(HaveLen(1))
		Expect(store.logs[0].RequestID).To(Equal("req-1"))
	})

	It("skips a user whose daily quota is already met", func() {
		store.requests["req-1"] = &types.Request{
			ID:     "req-1",
			Params: map[string]types.Condition{},
			Status: types.StatusAwait,
		}
		store.users = []types.User{
			{ID: "u-full", MaxDailyRequests: quota(1)},
			{ID: "u-open", MaxDailyRequests: quota(5)},
		}
		counters.counts = map[string]int{"u-full": 1}

		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(Equal("u-open"))
	})

	It("returns a NoCandidatesError and marks the request processed when nobody qualifies", func() {
		store.requests["req-1"] = &types.Request{ID: "req-1", Params: map[string]types.Condition{}, Status: types.StatusAwait}
		store.users = []types.User{
			{ID: "u-full", MaxDailyRequests: quota(1)},
		}
		counters.counts = map[string]int{"u-full": 1}

		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(winner).To(BeEmpty())
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeNoCandidates)).To(BeTrue())
		Expect(store.requests["req-1"].Status).To(Equal(types.StatusProcessed))
	})

	It("returns (\"\", nil) when the request does not exist (non-retryable)", func() {
		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "ghost")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(BeEmpty())
	})

	It("is idempotent: a redelivered task for an already-assigned request returns the existing winner", func() {
		existing := "u-already"
		store.requests["req-1"] = &types.Request{
			ID:     "req-1",
			UserID: &existing,
			Status: types.StatusAccept,
			Params: map[string]types.Condition{},
		}

		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(Equal("u-already"))
		Expect(store.logs).To(BeEmpty(), "an already-dispatched request must not write a second audit log")
	})

	It("breaks ties lexicographically by user id (spec tie-break rule)", func() {
		store.requests["req-1"] = &types.Request{ID: "req-1", Params: map[string]types.Condition{}, Status: types.StatusAwait}
		store.users = []types.User{
			{ID: "u-zed"},
			{ID: "u-alpha"},
		}

		d := New(store, counters, nil, nil, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(Equal("u-alpha"))
	})

	It("honors an injected ThresholdPolicy instead of the default", func() {
		store.requests["req-1"] = &types.Request{
			ID:     "req-1",
			Params: map[string]types.Condition{"region": cond(types.String("eu-west"), types.OpEQ, 1)},
			Status: types.StatusAwait,
		}
		store.users = []types.User{
			{ID: "u-a", Params: map[string]types.Value{"region": types.String("eu-west")}},
		}

		d := New(store, counters, nil, loadbalancer.ThresholdPolicy{}, 0.7, log, nil)
		winner, err := d.Dispatch(context.Background(), "req-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(winner).To(Equal("u-a"))
	})
})
