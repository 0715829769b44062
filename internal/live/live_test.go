package live

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-registry/internal/model"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
)

// fakeRunner answers every query with the current rows, or err when set.
type fakeRunner struct {
	mu    sync.Mutex
	rows  []model.Row
	err   error
	calls int
	// gate, when set, is awaited by the call with that number.
	gate map[int]chan struct{}
}

func (f *fakeRunner) Query(ctx context.Context, query string, args ...interface{}) (*model.QueryResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	gate := f.gate[call]
	rows, err := f.rows, f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.QueryResult{Fields: []model.Field{{Name: "first_name"}}, Rows: rows}, nil
}

func (f *fakeRunner) set(rows []model.Row, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func names(n ...string) []model.Row {
	rows := make([]model.Row, len(n))
	for i, s := range n {
		rows[i] = model.Row{"first_name": s}
	}
	return rows
}

// waitFor reads ch until a result with status arrives.
func waitFor(t *testing.T, ch <-chan Result, status Status) Result {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case r, ok := <-ch:
			require.True(t, ok, "channel closed while waiting for %s", status)
			if r.Status == status {
				return r
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", status)
		}
	}
}

func TestParamsEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b []interface{}
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and empty", nil, []interface{}{}, true},
		{"equal", []interface{}{"%a%", int64(1)}, []interface{}{"%a%", int64(1)}, true},
		{"different value", []interface{}{"%a%"}, []interface{}{"%b%"}, false},
		{"different length", []interface{}{"a"}, []interface{}{"a", "b"}, false},
		{"different type", []interface{}{int64(1)}, []interface{}{1}, false},
		{"NaN equals NaN", []interface{}{math.NaN()}, []interface{}{math.NaN()}, true},
		{"zero and negative zero differ", []interface{}{0.0}, []interface{}{math.Copysign(0, -1)}, false},
		{"negative zeros match", []interface{}{math.Copysign(0, -1)}, []interface{}{math.Copysign(0, -1)}, true},
		{"NaN and number differ", []interface{}{math.NaN()}, []interface{}{1.5}, false},
		{"byte slices by content", []interface{}{[]byte("x")}, []interface{}{[]byte("x")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParamsEqual(tt.a, tt.b))
			assert.Equal(t, tt.want, ParamsEqual(tt.b, tt.a))
		})
	}
}

func TestQuery(t *testing.T) {
	assert.True(t, Query{}.Blank())
	assert.True(t, Query{SQL: " \n\t"}.Blank())
	assert.False(t, Query{SQL: "SELECT 1"}.Blank())

	q := Query{SQL: "SELECT * FROM patients WHERE city LIKE ?", Params: []interface{}{"%Pune%"}}
	assert.True(t, q.Same(Query{SQL: q.SQL, Params: []interface{}{"%Pune%"}}))
	assert.False(t, q.Same(Query{SQL: q.SQL, Params: []interface{}{"%Goa%"}}))
	assert.False(t, q.Same(Query{SQL: q.SQL + " ", Params: q.Params}))
}

func TestHub(t *testing.T) {
	ctx := context.Background()
	q := Query{SQL: "SELECT first_name FROM patients"}

	t.Run("subscribe runs the query", func(t *testing.T) {
		runner := &fakeRunner{rows: names("Asha")}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()

		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)
		assert.NotEmpty(t, sub.ID)
		assert.Equal(t, 1, hub.Len())

		r := waitFor(t, sub.C(), StatusSuccess)
		require.NotNil(t, r.Data)
		assert.Equal(t, names("Asha"), r.Data.Rows)
		assert.Equal(t, 1, r.Data.TotalCount)
	})

	t.Run("refresh re-runs with fresh data", func(t *testing.T) {
		runner := &fakeRunner{rows: names("Asha")}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()

		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)
		waitFor(t, sub.C(), StatusSuccess)

		runner.set(names("Asha", "Ravi"), nil)
		hub.Refresh(ctx)
		r := waitFor(t, sub.C(), StatusSuccess)
		assert.Len(t, r.Data.Rows, 2)
	})

	t.Run("change notifications trigger a refresh", func(t *testing.T) {
		broker := messaging.NewMemoryBroker(4)
		defer broker.Close()
		runner := &fakeRunner{rows: names("Asha")}
		hub := NewHub(runner, broker, nil, nil)
		require.NoError(t, hub.Start(ctx))
		defer hub.Close()

		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)
		waitFor(t, sub.C(), StatusSuccess)

		runner.set(names("Ravi"), nil)
		require.NoError(t, messaging.PublishChange(ctx, broker, messaging.ChangeEvent{Table: "patients", Operation: "insert"}))
		r := waitFor(t, sub.C(), StatusSuccess)
		assert.Equal(t, names("Ravi"), r.Data.Rows)
	})

	t.Run("failures are delivered as error results", func(t *testing.T) {
		failure := errors.New("no such table: patients")
		runner := &fakeRunner{err: failure}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()

		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)
		r := waitFor(t, sub.C(), StatusError)
		assert.Equal(t, failure.Error(), r.Error)
		assert.ErrorIs(t, r.Err(), failure)
		assert.Nil(t, r.Data)
	})

	t.Run("superseded runs are dropped", func(t *testing.T) {
		release := make(chan struct{})
		runner := &fakeRunner{rows: names("old"), gate: map[int]chan struct{}{1: release}}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()

		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)

		runner.set(names("new"), nil)
		hub.Refresh(ctx)
		r := waitFor(t, sub.C(), StatusSuccess)
		assert.Equal(t, names("new"), r.Data.Rows)

		close(release)
		select {
		case r := <-sub.C():
			t.Fatalf("stale result delivered: %+v", r.Data)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("close ends subscriptions", func(t *testing.T) {
		hub := NewHub(&fakeRunner{}, nil, nil, nil)
		sub, err := hub.Subscribe(ctx, q)
		require.NoError(t, err)

		hub.Close()
		assert.Eventually(t, func() bool {
			for {
				select {
				case _, ok := <-sub.C():
					if !ok {
						return true
					}
				default:
					return false
				}
			}
		}, time.Second, 5*time.Millisecond)
		assert.Zero(t, hub.Len())

		_, err = hub.Subscribe(ctx, q)
		assert.ErrorIs(t, err, ErrHubClosed)
	})

	t.Run("cancelled context unsubscribes", func(t *testing.T) {
		hub := NewHub(&fakeRunner{}, nil, nil, nil)
		defer hub.Close()

		subCtx, cancel := context.WithCancel(ctx)
		_, err := hub.Subscribe(subCtx, q)
		require.NoError(t, err)
		cancel()
		assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	})
}

func TestWatcher(t *testing.T) {
	ctx := context.Background()
	q := Query{SQL: "SELECT first_name FROM patients WHERE first_name LIKE ?", Params: []interface{}{"%a%"}}

	t.Run("starts idle", func(t *testing.T) {
		w := NewWatcher(ctx, NewHub(&fakeRunner{}, nil, nil, nil))
		defer w.Close()
		assert.Equal(t, StatusIdle, w.Result().Status)
		assert.Nil(t, w.Result().Data)
	})

	t.Run("loading then success", func(t *testing.T) {
		release := make(chan struct{})
		runner := &fakeRunner{rows: names("Asha"), gate: map[int]chan struct{}{1: release}}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		assert.Equal(t, StatusLoading, w.Result().Status)
		assert.Equal(t, StatusLoading, (<-w.Updates()).Status)

		close(release)
		r := waitFor(t, w.Updates(), StatusSuccess)
		assert.Equal(t, names("Asha"), r.Data.Rows)
		assert.Equal(t, q, w.Query())
	})

	t.Run("same query keeps the subscription", func(t *testing.T) {
		runner := &fakeRunner{rows: names("Asha")}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		waitFor(t, w.Updates(), StatusSuccess)
		w.Set(Query{SQL: q.SQL, Params: []interface{}{"%a%"}})
		assert.Equal(t, 1, runner.Calls())
		assert.Equal(t, 1, hub.Len())

		w.Set(Query{SQL: q.SQL, Params: []interface{}{"%r%"}})
		waitFor(t, w.Updates(), StatusSuccess)
		assert.Equal(t, 2, runner.Calls())
		assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("blank query goes idle and keeps data", func(t *testing.T) {
		hub := NewHub(&fakeRunner{rows: names("Asha")}, nil, nil, nil)
		defer hub.Close()
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		waitFor(t, w.Updates(), StatusSuccess)
		w.Set(Query{SQL: "  "})
		r := waitFor(t, w.Updates(), StatusIdle)
		require.NotNil(t, r.Data)
		assert.Equal(t, names("Asha"), r.Data.Rows)
		assert.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("failed re-run keeps the last rows", func(t *testing.T) {
		runner := &fakeRunner{rows: names("Asha")}
		hub := NewHub(runner, nil, nil, nil)
		defer hub.Close()
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		waitFor(t, w.Updates(), StatusSuccess)

		runner.set(nil, errors.New("database is locked"))
		hub.Refresh(ctx)
		r := waitFor(t, w.Updates(), StatusError)
		assert.Equal(t, "database is locked", r.Error)
		require.NotNil(t, r.Data)
		assert.Equal(t, names("Asha"), r.Data.Rows)
	})

	t.Run("subscribe failure is an error result", func(t *testing.T) {
		hub := NewHub(&fakeRunner{}, nil, nil, nil)
		hub.Close()
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		r := w.Result()
		assert.Equal(t, StatusError, r.Status)
		assert.ErrorIs(t, r.Err(), ErrHubClosed)
	})

	t.Run("done closes when the hub ends the subscription", func(t *testing.T) {
		hub := NewHub(&fakeRunner{rows: names("Asha")}, nil, nil, nil)
		w := NewWatcher(ctx, hub)
		defer w.Close()

		w.Set(q)
		waitFor(t, w.Updates(), StatusSuccess)
		hub.Close()

		select {
		case <-w.Done():
		case <-time.After(time.Second):
			t.Fatal("Done not closed after hub shutdown")
		}
	})

	t.Run("close does not signal done", func(t *testing.T) {
		hub := NewHub(&fakeRunner{rows: names("Asha")}, nil, nil, nil)
		defer hub.Close()
		w := NewWatcher(ctx, hub)

		w.Set(q)
		waitFor(t, w.Updates(), StatusSuccess)
		w.Close()

		select {
		case <-w.Done():
			t.Fatal("Done closed by Close")
		case <-time.After(50 * time.Millisecond):
		}
	})
}
