package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/internal/cache"
	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/internal/metrics"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

var errBoom = &types.TransportError{Op: "test", Collection: "templates", Status: 503, Message: "unavailable"}

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// fakeAdapter is a scripted in-memory adapter. Setting one of the *Err fields
// makes the matching operation fail; ids come from nextIDs when set.
type fakeAdapter struct {
	mu       sync.Mutex
	entities []types.Entity
	nextIDs  []string
	seq      int

	listErr, createErr, updateErr, deleteErr error

	// gate, when set, blocks Create until it is closed.
	gate    chan struct{}
	started chan struct{}
}

func newFake(entities ...types.Entity) *fakeAdapter {
	return &fakeAdapter{entities: types.CloneEntities(entities)}
}

func entity(id, name string) types.Entity {
	return types.Entity{ID: id, Attributes: map[string]any{"name": name}, CreatedAt: fixedTime, UpdatedAt: fixedTime}
}

func (f *fakeAdapter) Collection() string { return "templates" }

func (f *fakeAdapter) List(context.Context) ([]types.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return types.CloneEntities(f.entities), nil
}

func (f *fakeAdapter) Create(_ context.Context, attrs map[string]any) (types.Entity, error) {
	if f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return types.Entity{}, f.createErr
	}
	var id string
	if len(f.nextIDs) > 0 {
		id, f.nextIDs = f.nextIDs[0], f.nextIDs[1:]
	} else {
		f.seq++
		id = fmt.Sprintf("e-%d", f.seq)
	}
	e := types.Entity{ID: id, Attributes: types.CloneAttributes(attrs), CreatedAt: fixedTime, UpdatedAt: fixedTime}
	f.entities = append(f.entities, e.Clone())
	return e, nil
}

func (f *fakeAdapter) Update(_ context.Context, id string, patch types.Patch) (types.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return types.Entity{}, f.updateErr
	}
	for i := range f.entities {
		if f.entities[i].ID == id {
			f.entities[i] = patch.Apply(f.entities[i])
			f.entities[i].UpdatedAt = fixedTime.Add(time.Hour)
			return f.entities[i].Clone(), nil
		}
	}
	return types.Entity{}, &types.NotFoundError{Collection: "templates", ID: id}
}

func (f *fakeAdapter) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.entities {
		if f.entities[i].ID == id {
			f.entities = append(f.entities[:i], f.entities[i+1:]...)
			return nil
		}
	}
	return &types.NotFoundError{Collection: "templates", ID: id}
}

// mockAdapter is a testify mock used to assert which calls reach the adapter.
type mockAdapter struct{ mock.Mock }

func (m *mockAdapter) Collection() string { return "templates" }

func (m *mockAdapter) List(ctx context.Context) ([]types.Entity, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Entity), args.Error(1)
}

func (m *mockAdapter) Create(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	args := m.Called(ctx, attrs)
	return args.Get(0).(types.Entity), args.Error(1)
}

func (m *mockAdapter) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(types.Entity), args.Error(1)
}

func (m *mockAdapter) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func refreshed(t *testing.T, a types.Adapter, opts ...Option) *Manager {
	t.Helper()
	m := New(a, opts...)
	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.State().Err)
	return m
}

func ids(entities []types.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func TestExampleScenario(t *testing.T) {
	for _, optimistic := range []bool{false, true} {
		t.Run(fmt.Sprintf("optimistic=%v", optimistic), func(t *testing.T) {
			ctx := context.Background()
			fake := newFake(entity("t-1", "Email Template"))
			fake.nextIDs = []string{"t-2"}
			m := refreshed(t, fake, WithOptimistic(optimistic))

			got, err := m.Add(ctx, map[string]any{"name": "SMS Template"})
			require.NoError(t, err)
			assert.Equal(t, "t-2", got.ID)
			assert.Equal(t, "SMS Template", got.Attributes["name"])

			entities := m.Entities()
			require.Equal(t, []string{"t-1", "t-2"}, ids(entities))
			assert.Equal(t, "Email Template", entities[0].Attributes["name"])
			assert.Equal(t, got, entities[1])

			require.NoError(t, m.Delete(ctx, "t-1"))
			assert.Equal(t, []string{"t-2"}, ids(m.Entities()))
		})
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	fake := newFake(entity("a", "A"), entity("b", "B"))
	m := refreshed(t, fake)
	first := m.Entities()
	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, first, m.Entities())
}

func TestRefresh_StaleOnFailure(t *testing.T) {
	fake := newFake(entity("a", "A"))
	m := refreshed(t, fake)
	before := m.Entities()

	fake.listErr = errBoom
	require.NoError(t, m.Refresh(context.Background()), "refresh failure is not returned")

	st := m.State()
	assert.Equal(t, before, st.Entities)
	assert.ErrorIs(t, st.Err, types.ErrTransport)
	assert.False(t, st.Loading)

	fake.listErr = nil
	require.NoError(t, m.Refresh(context.Background()))
	assert.NoError(t, m.State().Err, "successful refresh clears the error")
}

func TestRefresh_LoadingFlag(t *testing.T) {
	fake := newFake(entity("a", "A"))
	m := New(fake)

	var states []cache.State
	m.Subscribe(func(s cache.State) { states = append(states, s) })
	require.NoError(t, m.Refresh(context.Background()))

	require.NotEmpty(t, states)
	assert.True(t, states[0].Loading, "loading is raised before listing")
	assert.False(t, states[len(states)-1].Loading)
	assert.Len(t, states[len(states)-1].Entities, 1)
}

func TestRefresh_NoMixedSnapshots(t *testing.T) {
	fake := newFake(entity("a", "A"))
	m := New(fake)

	var states []cache.State
	m.Subscribe(func(s cache.State) { states = append(states, s) })

	fake.listErr = errBoom
	require.NoError(t, m.Refresh(context.Background()))
	fake.listErr = nil
	require.NoError(t, m.Refresh(context.Background()))

	// Each refresh raises loading once and settles once.
	require.Len(t, states, 4)
	for i, st := range states {
		if st.Loading {
			assert.NoError(t, st.Err, "state %d: loading with a settled error", i)
		}
	}
	assert.ErrorIs(t, states[1].Err, types.ErrTransport)
	assert.False(t, states[1].Loading)
	assert.Empty(t, states[1].Entities)

	assert.NoError(t, states[3].Err, "new entities arrive with the error cleared")
	assert.False(t, states[3].Loading)
	assert.Len(t, states[3].Entities, 1)
}

func TestUpdate_ReplacesExactlyOne(t *testing.T) {
	for _, optimistic := range []bool{false, true} {
		t.Run(fmt.Sprintf("optimistic=%v", optimistic), func(t *testing.T) {
			fake := newFake(entity("a", "A"), entity("b", "B"), entity("c", "C"))
			m := refreshed(t, fake, WithOptimistic(optimistic))
			before := m.Entities()

			got, err := m.Update(context.Background(), "b", types.Patch{"name": "B2", "color": "blue"})
			require.NoError(t, err)
			assert.Equal(t, "B2", got.Attributes["name"])

			after := m.Entities()
			require.Len(t, after, 3)
			assert.Equal(t, before[0], after[0])
			assert.Equal(t, got, after[1])
			assert.Equal(t, before[2], after[2])
		})
	}
}

func TestDelete_RemovesExactlyOne(t *testing.T) {
	fake := newFake(entity("a", "A"), entity("b", "B"), entity("c", "C"))
	m := refreshed(t, fake)
	require.NoError(t, m.Delete(context.Background(), "b"))
	assert.Equal(t, []string{"a", "c"}, ids(m.Entities()))
}

func TestAdd_ReflectsWithoutRefresh(t *testing.T) {
	m := New(newFake())
	got, err := m.Add(context.Background(), map[string]any{"name": "x"})
	require.NoError(t, err)
	cached, ok := m.Get(got.ID)
	require.True(t, ok)
	assert.Equal(t, got, cached)
}

func TestFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		arm  func(f *fakeAdapter)
		call func(m *Manager) error
		kind error
	}{
		{
			name: "add transport",
			arm:  func(f *fakeAdapter) { f.createErr = errBoom },
			call: func(m *Manager) error { _, err := m.Add(ctx, map[string]any{"name": "x"}); return err },
			kind: types.ErrTransport,
		},
		{
			name: "add validation",
			arm: func(f *fakeAdapter) {
				f.createErr = &types.ValidationError{Collection: "templates", Field: "name", Reason: "required"}
			},
			call: func(m *Manager) error { _, err := m.Add(ctx, map[string]any{}); return err },
			kind: types.ErrValidation,
		},
		{
			name: "update transport",
			arm:  func(f *fakeAdapter) { f.updateErr = errBoom },
			call: func(m *Manager) error { _, err := m.Update(ctx, "a", types.Patch{"name": "Z"}); return err },
			kind: types.ErrTransport,
		},
		{
			name: "update not found",
			arm:  func(f *fakeAdapter) {},
			call: func(m *Manager) error { _, err := m.Update(ctx, "missing", types.Patch{"name": "Z"}); return err },
			kind: types.ErrNotFound,
		},
		{
			name: "delete transport",
			arm:  func(f *fakeAdapter) { f.deleteErr = errBoom },
			call: func(m *Manager) error { return m.Delete(ctx, "b") },
			kind: types.ErrTransport,
		},
		{
			name: "delete not found",
			arm:  func(f *fakeAdapter) {},
			call: func(m *Manager) error { return m.Delete(ctx, "missing") },
			kind: types.ErrNotFound,
		},
	}
	for _, tt := range tests {
		for _, optimistic := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/optimistic=%v", tt.name, optimistic), func(t *testing.T) {
				fake := newFake(entity("a", "A"), entity("b", "B"), entity("c", "C"))
				m := refreshed(t, fake, WithOptimistic(optimistic))
				before := m.Entities()

				tt.arm(fake)
				err := tt.call(m)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.kind)
				assert.Equal(t, before, m.Entities())
			})
		}
	}
}

func TestFailurePropagatesUnmodified(t *testing.T) {
	fake := newFake()
	fake.createErr = errBoom
	m := New(fake)
	_, err := m.Add(context.Background(), map[string]any{"name": "x"})
	assert.Same(t, errBoom, err)
}

func TestVirtualEntityExclusion(t *testing.T) {
	ctx := context.Background()
	ma := &mockAdapter{}
	ma.On("List", mock.Anything).Return([]types.Entity{}, nil)
	m := refreshed(t, ma)

	_, err := m.Update(ctx, types.VirtualPrefix+"custom", types.Patch{"name": "x"})
	assert.ErrorIs(t, err, types.ErrVirtualEntity)
	assert.ErrorIs(t, m.Delete(ctx, types.VirtualPrefix+"custom"), types.ErrVirtualEntity)

	ma.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	ma.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	ma.AssertExpectations(t)
}

func TestPendingIDsNeverReachAdapter(t *testing.T) {
	ma := &mockAdapter{}
	m := New(ma)
	_, err := m.Update(context.Background(), types.PendingPrefix+"x", types.Patch{})
	assert.ErrorIs(t, err, types.ErrInvalidID)
	assert.ErrorIs(t, m.Delete(context.Background(), types.PendingPrefix+"x"), types.ErrInvalidID)
	ma.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	ma.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestAdd_PassesPayloadThrough(t *testing.T) {
	ma := &mockAdapter{}
	attrs := map[string]any{"name": "SMS Template"}
	created := entity("t-2", "SMS Template")
	ma.On("Create", mock.Anything, attrs).Return(created, nil).Once()

	m := New(ma)
	got, err := m.Add(context.Background(), attrs)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	ma.AssertExpectations(t)
}

func TestOptimistic_AddShowsPlaceholderThenRealEntity(t *testing.T) {
	fake := newFake(entity("a", "A"))
	fake.nextIDs = []string{"b"}
	fake.gate = make(chan struct{})
	fake.started = make(chan struct{})
	m := refreshed(t, fake, WithOptimistic(true), WithClock(func() time.Time { return fixedTime }))

	done := make(chan error, 1)
	go func() {
		_, err := m.Add(context.Background(), map[string]any{"name": "B"})
		done <- err
	}()

	<-fake.started
	pending := m.Entities()
	require.Len(t, pending, 2)
	assert.True(t, types.IsPendingID(pending[1].ID))
	assert.Equal(t, "B", pending[1].Attributes["name"])
	assert.Equal(t, fixedTime, pending[1].CreatedAt)

	close(fake.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b"}, ids(m.Entities()))
}

func TestOptimistic_UpdateAppliesLocallyFirst(t *testing.T) {
	fake := newFake(entity("a", "A"))
	m := refreshed(t, fake, WithOptimistic(true))

	var seen []string
	m.Subscribe(func(s cache.State) {
		if len(s.Entities) == 1 {
			seen = append(seen, s.Entities[0].String("name"))
		}
	})
	fake.updateErr = errBoom
	_, err := m.Update(context.Background(), "a", types.Patch{"name": "A2"})
	require.Error(t, err)

	assert.Equal(t, []string{"A2", "A"}, seen, "optimistic value then rollback")
	assert.Equal(t, "A", m.Entities()[0].String("name"))
}

func TestOptimistic_DeleteRollbackRestoresPosition(t *testing.T) {
	fake := newFake(entity("a", "A"), entity("b", "B"), entity("c", "C"))
	m := refreshed(t, fake, WithOptimistic(true))

	var sizes []int
	m.Subscribe(func(s cache.State) { sizes = append(sizes, len(s.Entities)) })
	fake.deleteErr = errBoom
	require.Error(t, m.Delete(context.Background(), "b"))

	assert.Equal(t, []int{2, 3}, sizes)
	assert.Equal(t, []string{"a", "b", "c"}, ids(m.Entities()))
}

func TestOptimistic_RollbackMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	fake := newFake(entity("a", "A"))
	m := refreshed(t, fake, WithOptimistic(true), WithMetrics(mt))

	fake.createErr = errBoom
	_, err := m.Add(context.Background(), map[string]any{"name": "x"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Rollbacks.WithLabelValues("templates", opCreate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Operations.WithLabelValues("templates", opCreate, metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Operations.WithLabelValues("templates", opList, metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.CacheSize.WithLabelValues("templates")))
}

func TestForget(t *testing.T) {
	m := refreshed(t, newFake(entity("a", "A"), entity("b", "B")))
	assert.True(t, m.Forget("a"))
	assert.False(t, m.Forget("a"))
	assert.Equal(t, []string{"b"}, ids(m.Entities()))
}

func TestGet(t *testing.T) {
	m := refreshed(t, newFake(entity("a", "A")))
	e, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", e.String("name"))

	_, ok = m.Get("zzz")
	assert.False(t, ok)

	e.Attributes["name"] = "mutated"
	again, _ := m.Get("a")
	assert.Equal(t, "A", again.String("name"), "callers cannot mutate the cache")
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	m := refreshed(t, newFake(entity("a", "A")))
	m.Close()
	m.Close()

	assert.ErrorIs(t, m.Refresh(ctx), ErrClosed)
	_, err := m.Add(ctx, map[string]any{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Update(ctx, "a", types.Patch{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Delete(ctx, "a"), ErrClosed)
	assert.Len(t, m.Entities(), 1, "cache stays readable")
}

func TestClose_InFlightDoesNotTouchCache(t *testing.T) {
	fake := newFake(entity("a", "A"))
	fake.gate = make(chan struct{})
	fake.started = make(chan struct{})
	m := refreshed(t, fake)

	done := make(chan error, 1)
	var got types.Entity
	go func() {
		var err error
		got, err = m.Add(context.Background(), map[string]any{"name": "late"})
		done <- err
	}()

	<-fake.started
	m.Close()
	close(fake.gate)

	require.NoError(t, <-done, "the caller still gets the adapter result")
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, []string{"a"}, ids(m.Entities()))
}

func TestConcurrentAdds(t *testing.T) {
	store, err := memory.New()
	require.NoError(t, err)
	defer store.Close()
	a, err := store.Collection("templates")
	require.NoError(t, err)
	m := New(a)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Add(context.Background(), map[string]any{"n": float64(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, m.Entities(), 20)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, m.Entities(), 20)
}

func TestErrorKindsAreDistinguishable(t *testing.T) {
	fake := newFake(entity("a", "A"))
	m := refreshed(t, fake)
	err := m.Delete(context.Background(), "missing")
	var nf *types.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "missing", nf.ID)
	assert.False(t, errors.Is(err, types.ErrTransport))
}
