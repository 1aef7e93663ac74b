package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-reengagement-service/internal/scheduler"
	"github.com/tinywideclouds/go-reengagement-service/pkg/dispatch"
	"github.com/tinywideclouds/go-reengagement-service/pkg/subscriber"
)

// --- Mocks ---

type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertSubscription(ctx context.Context, name string, sub subscriber.Subscription) (subscriber.Subscriber, error) {
	args := m.Called(ctx, name, sub)
	return args.Get(0).(subscriber.Subscriber), args.Error(1)
}
func (m *MockStore) Touch(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) FindByName(ctx context.Context, name string) (subscriber.Subscriber, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(subscriber.Subscriber), args.Error(1)
}
func (m *MockStore) FindByID(ctx context.Context, id string) (subscriber.Subscriber, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(subscriber.Subscriber), args.Error(1)
}
func (m *MockStore) ListStale(ctx context.Context, threshold time.Duration) ([]subscriber.Subscriber, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).([]subscriber.Subscriber), args.Error(1)
}
func (m *MockStore) MarkDelivered(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockStore) Invalidate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockStore) ListAll(ctx context.Context) ([]subscriber.Subscriber, error) {
	args := m.Called(ctx)
	return args.Get(0).([]subscriber.Subscriber), args.Error(1)
}

// fakeDispatcher returns canned outcomes per subscriber name and records
// every send.
type fakeDispatcher struct {
	mu       sync.Mutex
	outcomes map[string]dispatch.Outcome
	sent     map[string]int
	block    chan struct{} // when set, Send waits here first
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		outcomes: make(map[string]dispatch.Outcome),
		sent:     make(map[string]int),
	}
}

func (d *fakeDispatcher) Send(_ context.Context, sub subscriber.Subscriber, _, _ string) dispatch.Outcome {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[sub.Name]++
	return d.outcomes[sub.Name]
}

func (d *fakeDispatcher) sendCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[name]
}

func (d *fakeDispatcher) totalSends() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.sent {
		total += n
	}
	return total
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func subscribed(id, name string) subscriber.Subscriber {
	return subscriber.Subscriber{
		ID:   id,
		Name: name,
		Subscription: &subscriber.Subscription{
			Endpoint: "https://push.example.com/" + name,
			Keys:     subscriber.Keys{P256dh: "BPub", Auth: "auth"},
		},
		Status: subscriber.StatusSubscribed,
	}
}

// --- Tests ---

func TestSweep_ReconcilesOutcomes(t *testing.T) {
	ctx := context.Background()
	threshold := time.Minute

	store := new(MockStore)
	dispatcher := newFakeDispatcher()

	alice := subscribed("id-alice", "alice")   // delivered
	carol := subscribed("id-carol", "carol")   // endpoint gone
	erin := subscribed("id-erin", "erin")      // auth rejected
	frank := subscribed("id-frank", "frank")   // transient failure
	bob := subscriber.Subscriber{ID: "id-bob", Name: "bob", Status: subscriber.StatusSubscribed} // no descriptor

	dispatcher.outcomes["alice"] = dispatch.Outcome{Result: dispatch.ResultDelivered, StatusCode: 201}
	dispatcher.outcomes["carol"] = dispatch.Outcome{Result: dispatch.ResultGone, StatusCode: 410}
	dispatcher.outcomes["erin"] = dispatch.Outcome{Result: dispatch.ResultAuthRejected, StatusCode: 403}
	dispatcher.outcomes["frank"] = dispatch.Outcome{Result: dispatch.ResultTransient, StatusCode: 500}

	store.On("ListStale", ctx, threshold).
		Return([]subscriber.Subscriber{alice, bob, carol, erin, frank}, nil).Once()
	store.On("MarkDelivered", ctx, "id-alice").Return(nil).Once()
	store.On("Invalidate", ctx, "id-carol").Return(nil).Once()

	sched := scheduler.New(store, dispatcher, scheduler.Config{
		InactivityThreshold: threshold,
		FanOut:              2,
	}, clockwork.NewFakeClock(), testLogger())

	summary, err := sched.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Scanned)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)

	// Exactly one dispatch per stale subscribed subscriber, none for bob.
	assert.Equal(t, 1, dispatcher.sendCount("alice"))
	assert.Equal(t, 1, dispatcher.sendCount("carol"))
	assert.Equal(t, 1, dispatcher.sendCount("erin"))
	assert.Equal(t, 1, dispatcher.sendCount("frank"))
	assert.Zero(t, dispatcher.sendCount("bob"))

	// AuthRejected and Transient must not have touched the store.
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Invalidate", ctx, "id-erin")
	store.AssertNotCalled(t, "Invalidate", ctx, "id-frank")
	store.AssertNotCalled(t, "MarkDelivered", ctx, "id-erin")
	store.AssertNotCalled(t, "MarkDelivered", ctx, "id-frank")
}

func TestSweep_StoreErrorAbortsCycle(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	dispatcher := newFakeDispatcher()

	store.On("ListStale", ctx, mock.Anything).
		Return([]subscriber.Subscriber(nil), assert.AnError).Once()

	sched := scheduler.New(store, dispatcher, scheduler.Config{}, clockwork.NewFakeClock(), testLogger())

	_, err := sched.Sweep(ctx)
	assert.Error(t, err)
	assert.Zero(t, dispatcher.totalSends())
}

func TestSweep_EmptyScanIsQuiet(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	dispatcher := newFakeDispatcher()

	store.On("ListStale", ctx, mock.Anything).
		Return([]subscriber.Subscriber{}, nil).Once()

	sched := scheduler.New(store, dispatcher, scheduler.Config{}, clockwork.NewFakeClock(), testLogger())

	summary, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Summary{}, summary)
}

func TestStart_SweepsOnTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	store := new(MockStore)
	dispatcher := newFakeDispatcher()

	alice := subscribed("id-alice", "alice")
	dispatcher.outcomes["alice"] = dispatch.Outcome{Result: dispatch.ResultDelivered, StatusCode: 201}

	sent := make(chan struct{}, 4)
	store.On("ListStale", mock.Anything, time.Minute).
		Return([]subscriber.Subscriber{alice}, nil)
	store.On("MarkDelivered", mock.Anything, "id-alice").
		Run(func(mock.Arguments) { sent <- struct{}{} }).
		Return(nil)

	sched := scheduler.New(store, dispatcher, scheduler.Config{
		ScanInterval:        time.Minute,
		InactivityThreshold: time.Minute,
	}, clock, testLogger())

	go sched.Start(ctx)
	// Wait for the loop to install its ticker before advancing time.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Minute)
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run after the first tick")
	}

	clock.Advance(time.Minute)
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run after the second tick")
	}

	sched.Stop()
	assert.GreaterOrEqual(t, dispatcher.sendCount("alice"), 2)
}

func TestStart_SkipsOverlappingTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	store := new(MockStore)
	dispatcher := newFakeDispatcher()
	dispatcher.block = make(chan struct{})

	alice := subscribed("id-alice", "alice")
	dispatcher.outcomes["alice"] = dispatch.Outcome{Result: dispatch.ResultDelivered, StatusCode: 201}

	started := make(chan struct{}, 4)
	store.On("ListStale", mock.Anything, time.Minute).
		Run(func(mock.Arguments) { started <- struct{}{} }).
		Return([]subscriber.Subscriber{alice}, nil)
	store.On("MarkDelivered", mock.Anything, "id-alice").Return(nil)

	sched := scheduler.New(store, dispatcher, scheduler.Config{
		ScanInterval:        time.Minute,
		InactivityThreshold: time.Minute,
		MaxConcurrentSweeps: 1,
	}, clock, testLogger())

	go sched.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// First tick starts a sweep that parks inside the dispatcher.
	clock.Advance(time.Minute)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep did not start")
	}

	// Second tick arrives while the sweep is parked; single-flight policy
	// must skip it without scanning again.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	select {
	case <-started:
		t.Fatal("overlapping tick started a second sweep")
	case <-time.After(100 * time.Millisecond):
	}

	close(dispatcher.block)
	sched.Stop()
	assert.Equal(t, 1, dispatcher.sendCount("alice"))
}
