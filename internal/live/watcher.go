package live

import (
	"context"
	"sync"
)

// Watcher tracks the result of one query that the caller may replace at any
// time. It never reports failures out of band: they surface as StatusError.
type Watcher struct {
	ctx context.Context
	hub Subscriber

	mu      sync.Mutex
	query   Query
	set     bool
	sub     *Subscription
	gen     uint64
	result  Result
	updates chan Result
	done    chan struct{}
	ended   bool
}

func NewWatcher(ctx context.Context, hub Subscriber) *Watcher {
	return &Watcher{
		ctx:     ctx,
		hub:     hub,
		result:  Result{Status: StatusIdle},
		updates: make(chan Result, 1),
		done:    make(chan struct{}),
	}
}

// Set replaces the watched query. A blank statement goes idle; the same
// statement with equal parameters keeps the current subscription.
func (w *Watcher) Set(q Query) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if q.Blank() {
		w.unsubscribe()
		w.query = q
		w.set = true
		w.publish(Result{Status: StatusIdle, Data: w.result.Data})
		return
	}
	if w.set && w.sub != nil && w.query.Same(q) {
		return
	}

	w.unsubscribe()
	w.query = q
	w.set = true
	w.publish(Result{Status: StatusLoading, Data: w.result.Data})

	sub, err := w.hub.Subscribe(w.ctx, q)
	if err != nil {
		w.publish(Result{Status: StatusError, Data: w.result.Data, Error: err.Error(), err: err})
		return
	}
	w.sub = sub
	go w.follow(w.gen, sub)
}

// Query returns the statement currently being watched.
func (w *Watcher) Query() Query {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.query
}

// Result returns the latest snapshot.
func (w *Watcher) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Updates carries every new snapshot; an unread snapshot is replaced by a
// newer one.
func (w *Watcher) Updates() <-chan Result {
	return w.updates
}

// Done is closed when the hub ends the current subscription, e.g. on
// shutdown. It is not closed by Set or Close.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Close drops the current subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribe()
}

func (w *Watcher) follow(gen uint64, sub *Subscription) {
	for r := range sub.C() {
		w.mu.Lock()
		if gen != w.gen {
			w.mu.Unlock()
			return
		}
		if r.Status == StatusError {
			// failed re-runs keep the last good rows visible
			r.Data = w.result.Data
		}
		w.publish(r)
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen == w.gen && !w.ended {
		w.ended = true
		close(w.done)
	}
}

// unsubscribe must be called with mu held.
func (w *Watcher) unsubscribe() {
	w.gen++
	if w.sub != nil {
		w.sub.Close()
		w.sub = nil
	}
}

// publish must be called with mu held.
func (w *Watcher) publish(r Result) {
	w.result = r
	select {
	case <-w.updates:
	default:
	}
	w.updates <- r
}
