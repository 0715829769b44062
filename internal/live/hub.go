package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jwalitptl/patient-registry/pkg/logger"
	"github.com/jwalitptl/patient-registry/pkg/messaging"
	"github.com/jwalitptl/patient-registry/pkg/metrics"
)

// ErrHubClosed is returned by Subscribe after the hub has stopped.
var ErrHubClosed = errors.New("live hub closed")

// Subscriber opens live subscriptions. *Hub implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
}

// Hub owns all live subscriptions of a process. Every change notification on
// messaging.TopicPatientsChanged re-runs every subscription.
type Hub struct {
	runner  Runner
	broker  messaging.Broker
	log     *logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(runner Runner, broker messaging.Broker, log *logger.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		runner:  runner,
		broker:  broker,
		log:     log.With("live"),
		metrics: m,
		subs:    make(map[string]*Subscription),
	}
}

// Start listens for change notifications until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	changes, err := h.broker.Subscribe(ctx, messaging.TopicPatientsChanged)
	if err != nil {
		cancel()
		return err
	}
	h.mu.Lock()
	h.stop = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for payload := range changes {
			if ev, err := messaging.DecodeChange(payload); err == nil {
				h.log.Debug("change received", "table", ev.Table, "operation", ev.Operation, "source", ev.Source)
			}
			h.Refresh(ctx)
		}
	}()
	return nil
}

// Subscribe registers q and runs it once. Results arrive on the
// subscription's channel until Close is called or ctx is done.
func (h *Hub) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:     uuid.NewString(),
		Query:  q,
		hub:    h,
		ctx:    subCtx,
		cancel: cancel,
		ch:     make(chan Result, 1),
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.LiveSubscriptions.Inc()
	}

	go func() {
		<-subCtx.Done()
		h.remove(sub)
	}()

	h.run(sub)
	return sub, nil
}

// Refresh re-runs every open subscription.
func (h *Hub) Refresh(ctx context.Context) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if h.metrics != nil {
			h.metrics.LiveReruns.Inc()
		}
		h.run(s)
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close cancels every subscription and waits for the change listener.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	if h.stop != nil {
		h.stop()
	}
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	h.wg.Wait()
}

func (h *Hub) run(s *Subscription) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	seq := s.seq.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.runner.Query(s.ctx, s.Query.SQL, s.Query.Params...)
		if err != nil {
			if s.ctx.Err() == nil {
				h.log.Warn("live query failed", "subscription", s.ID, "error", err.Error())
			}
			s.deliver(seq, errorResult(err))
			return
		}
		s.deliver(seq, successResult(newData(res)))
	}()
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	delete(h.subs, s.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.LiveSubscriptions.Dec()
	}
	s.closeChannel()
}

// Subscription is one registered live query. C holds at most the latest
// result; a newer result replaces an unread one.
type Subscription struct {
	ID    string
	Query Query

	hub    *Hub
	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	mu   sync.Mutex
	ch   chan Result
	done bool
}

func (s *Subscription) C() <-chan Result {
	return s.ch
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
	s.hub.remove(s)
}

// deliver drops results from runs that a later run has superseded.
func (s *Subscription) deliver(seq uint64, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.ctx.Err() != nil || seq != s.seq.Load() {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- r
}

func (s *Subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
