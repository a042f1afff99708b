package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kapetan-io/dappq/internal/types"
	"github.com/kapetan-io/dappq/transport"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/random"
	"github.com/kapetan-io/tackle/set"
)

const (
	DefaultMaxWaitingRequests = 1_000
)

type CoordinatorConfig struct {
	// If defined, is the logger used by the coordinator
	Log *slog.Logger
	// Clock is the clock provider used to stamp admitted requests
	Clock *clock.Provider
	// MaxWaitingRequests is the number of calls which can wait for the request loop,
	// once reached further calls fail with transport.ErrRetryRequest until the loop catches up.
	MaxWaitingRequests int
	// NotifyBufferSize is the number of defer notifications buffered per subscriber
	NotifyBufferSize int
	// Metrics is where the coordinator records metrics, a new Metrics is created if nil
	Metrics *Metrics
}

// Coordinator owns the queue of incoming interaction requests and decides which one request
// is presented to the user. Every operation is processed by a single goroutine, which makes
// each call atomic with respect to every other call and totally orders all mutations. The
// queue, the published current request and the high priority screen marker are reachable
// only through the Coordinator API.
type Coordinator struct {
	requestCh  chan *Request
	shutdownCh chan *types.ShutdownRequest
	doneCh     chan struct{}
	wg         sync.WaitGroup
	conf       CoordinatorConfig
	log        *slog.Logger
	inShutdown atomic.Bool
	instanceID string

	current  *Watch[types.Record]
	cleared  *Notifier[struct{}]
	defers   *Notifier[string]
	buffered BufferedSlot
}

// CoordinatorState is owned by the request loop and MUST NOT be accessed outside of it
type CoordinatorState struct {
	Queue RequestQueue
	// Current is the published request, nil if nothing is published
	Current *types.Record
}

func SpawnCoordinator(conf CoordinatorConfig) *Coordinator {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())
	set.Default(&conf.MaxWaitingRequests, DefaultMaxWaitingRequests)
	set.Default(&conf.NotifyBufferSize, DefaultNotifyBufferSize)
	set.Default(&conf.Metrics, NewMetrics())

	c := &Coordinator{
		requestCh:  make(chan *Request, conf.MaxWaitingRequests),
		shutdownCh: make(chan *types.ShutdownRequest),
		doneCh:     make(chan struct{}),
		instanceID: random.Alpha("", 10),
		current:    NewWatch[types.Record](),
		cleared:    NewNotifier[struct{}](conf.NotifyBufferSize),
		defers:     NewNotifier[string](conf.NotifyBufferSize),
		conf:       conf,
	}
	c.log = conf.Log.With("code.namespace", "Coordinator", "instance-id", c.instanceID)

	c.log.LogAttrs(context.Background(), LevelDebugAll, "coordinator started")
	c.wg.Add(1)
	go c.requestLoop()
	return c
}

// Add admits a request. Internal requests are placed at the head of the queue,
// all others at the tail.
func (c *Coordinator) Add(ctx context.Context, rec types.Record) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodAdd,
		Request: &types.AddRequest{Record: rec},
	})
}

// AddPriorityRequest places the request at the head of the queue. If another request is
// currently published, a defer notification for that request is emitted and the published
// request does NOT change until the presentation layer calls RequestDeferred() or
// RequestHandled() for it.
func (c *Coordinator) AddPriorityRequest(ctx context.Context, rec types.Record) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodAddPriority,
		Request: &types.AddRequest{Record: rec, Priority: true},
	})
}

// RequestHandled removes the request from the queue
func (c *Coordinator) RequestHandled(ctx context.Context, id string) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodHandled,
		Request: id,
	})
}

// RequestDeferred un-publishes the request but leaves it in the queue so it
// can be presented again later.
func (c *Coordinator) RequestDeferred(ctx context.Context, id string) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodDeferred,
		Request: id,
	})
}

// PauseIncomingRequests places the high priority screen marker in front of all external
// requests. Internal requests already queued remain ahead of the marker.
func (c *Coordinator) PauseIncomingRequests(ctx context.Context) error {
	return c.queueRequest(ctx, &Request{Method: MethodPause})
}

func (c *Coordinator) ResumeIncomingRequests(ctx context.Context) error {
	return c.queueRequest(ctx, &Request{Method: MethodResume})
}

// RemoveAll removes every request from the queue. The high priority screen marker is
// left in place as its lifecycle belongs to the pause and resume caller.
func (c *Coordinator) RemoveAll(ctx context.Context) error {
	return c.queueRequest(ctx, &Request{Method: MethodRemoveAll})
}

// GetRequest looks up a queued request by id
func (c *Coordinator) GetRequest(ctx context.Context, req *types.LookupRequest) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodGet,
		Request: req,
	})
}

// AmountOfRequests returns the number of queued requests, the marker is not counted
func (c *Coordinator) AmountOfRequests(ctx context.Context) (int, error) {
	var count int
	err := c.queueRequest(ctx, &Request{
		Method:  MethodCount,
		Request: &count,
	})
	return count, err
}

// List returns a snapshot of the queued requests in presentation order
func (c *Coordinator) List(ctx context.Context, req *types.ListRequest) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodList,
		Request: req,
	})
}

func (c *Coordinator) Stats(ctx context.Context, stats *types.Stats) error {
	return c.queueRequest(ctx, &Request{
		Method:  MethodStats,
		Request: stats,
	})
}

// CurrentRequest returns the published request
func (c *Coordinator) CurrentRequest() (types.Record, bool) {
	return c.current.Load()
}

// CurrentRequests subscribes to published requests. The latest published request is
// delivered first if one exists.
func (c *Coordinator) CurrentRequests() (<-chan types.Record, func()) {
	return c.current.Subscribe()
}

// CurrentCleared subscribes to an event sent each time the published request is
// cleared and no other request took its place. CurrentRequests() never emits for
// a cleared request.
func (c *Coordinator) CurrentCleared() (<-chan struct{}, func()) {
	return c.cleared.Subscribe()
}

// DeferNotifications subscribes to the ids of requests the presentation layer
// should step away from.
func (c *Coordinator) DeferNotifications() (<-chan string, func()) {
	return c.defers.Subscribe()
}

func (c *Coordinator) SetBufferedRequest(rec types.Record) {
	c.buffered.Set(rec)
}

func (c *Coordinator) ConsumeBufferedRequest() (types.Record, bool) {
	return c.buffered.Consume()
}

func (c *Coordinator) Metrics() *Metrics {
	return c.conf.Metrics
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.inShutdown.Swap(true) {
		return nil
	}

	req := &types.ShutdownRequest{
		ReadyCh: make(chan struct{}),
		Context: ctx,
	}

	// Wait until c.requestLoop() shutdown is complete or until
	// our context is cancelled.
	select {
	case c.shutdownCh <- req:
		c.wg.Wait()
		return req.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) queueRequest(ctx context.Context, r *Request) error {
	if c.inShutdown.Load() {
		return ErrCoordinatorShutdown
	}

	r.ReadyCh = make(chan struct{})
	r.Context = ctx

	select {
	case c.requestCh <- r:
	case <-c.doneCh:
		return ErrCoordinatorShutdown
	case <-ctx.Done():
		return ctx.Err()
	default:
		return transport.NewRetryRequest(MsgTooManyWaiting, c.conf.MaxWaitingRequests)
	}

	select {
	case <-r.ReadyCh:
		return r.Err
	case <-c.doneCh:
		// The loop might have handled our request just before it exited
		select {
		case <-r.ReadyCh:
			return r.Err
		default:
			return ErrCoordinatorShutdown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -------------------------------------------------
// Main Loop and Handlers
// -------------------------------------------------

func (c *Coordinator) requestLoop() {
	defer func() {
		close(c.doneCh)
		c.wg.Done()
	}()
	var state CoordinatorState

	for {
		select {
		case req := <-c.requestCh:
			c.handleRequest(&state, req)
		case req := <-c.shutdownCh:
			c.handleShutdown(&state, req)
			return
		}
	}
}

func (c *Coordinator) handleRequest(state *CoordinatorState, req *Request) {
	c.conf.Metrics.requestsTotal.WithLabelValues(req.Method.String()).Inc()
	published := state.Current != nil

	switch req.Method {
	case MethodAdd, MethodAddPriority:
		c.handleAdd(state, req)
	case MethodHandled:
		c.handleHandled(state, req)
	case MethodDeferred:
		c.handleDeferred(state, req)
	case MethodPause:
		c.handlePause(state, req)
	case MethodResume:
		c.handleResume(state, req)
	case MethodRemoveAll:
		c.handleRemoveAll(state, req)
	case MethodGet, MethodCount, MethodList, MethodStats:
		c.handleRead(state, req)
	default:
		panic(fmt.Sprintf("undefined request method '%d'", req.Method))
	}

	if req.Method.isMutation() {
		if published && state.Current == nil {
			c.cleared.Publish(struct{}{})
		}
		c.conf.Metrics.observeQueue(&state.Queue)
		c.log.LogAttrs(req.Context, LevelDebugAll, "queue updated",
			slog.String("method", req.Method.String()),
			slog.Int("queued", state.Queue.CountRequestItems()),
			slog.Bool("paused", state.Queue.Contains(types.IsMarker)),
			slog.String("current", currentID(state)))
	}
	close(req.ReadyCh)
}

func (c *Coordinator) handleAdd(state *CoordinatorState, req *Request) {
	ar := req.Request.(*types.AddRequest)
	if ar.Record.ReceivedAt.IsZero() {
		ar.Record.ReceivedAt = c.conf.Clock.Now().UTC()
	}
	item := types.RequestItem{Record: ar.Record}
	c.conf.Metrics.observeAdmit(ar.Record.IsInternal, ar.Priority)

	if !ar.Priority {
		if ar.Record.IsInternal {
			state.Queue.PushFront(item)
		} else {
			state.Queue.PushBack(item)
		}
		c.recompute(req.Context, state)
		return
	}

	state.Queue.PushFront(item)

	// Never clobber a request the user is interacting with, ask the presentation layer
	// to step away instead. The priority request is published once the current
	// request is deferred or handled.
	if state.Current != nil && state.Current.ID != ar.Record.ID {
		c.notifyDefer(req.Context, state.Current.ID)
		return
	}

	if !state.Queue.Contains(types.IsMarker) {
		c.recompute(req.Context, state)
	}
}

func (c *Coordinator) handleHandled(state *CoordinatorState, req *Request) {
	id := req.Request.(string)

	if rec, ok := state.Queue.Find(id); ok {
		c.conf.Metrics.timeInQueue.Observe(c.conf.Clock.Now().UTC().Sub(rec.ReceivedAt).Seconds())
	}

	if state.Queue.RemoveWhere(types.IsRequest(id)) {
		c.conf.Metrics.handled.Inc()
	}
	c.clearCurrent(state, id)
	c.recompute(req.Context, state)
}

func (c *Coordinator) handleDeferred(state *CoordinatorState, req *Request) {
	id := req.Request.(string)
	c.conf.Metrics.deferred.Inc()

	c.clearCurrent(state, id)
	c.recompute(req.Context, state)
}

func (c *Coordinator) handlePause(state *CoordinatorState, _ *Request) {
	if state.Queue.Contains(types.IsMarker) {
		return
	}

	idx := state.Queue.IndexOfFirst(types.IsExternalRequest)
	if idx == -1 {
		state.Queue.PushFront(types.HighPriorityScreenMarker{})
		return
	}
	state.Queue.InsertAt(idx, types.HighPriorityScreenMarker{})
}

func (c *Coordinator) handleResume(state *CoordinatorState, req *Request) {
	if state.Queue.RemoveWhere(types.IsMarker) {
		c.recompute(req.Context, state)
	}
}

func (c *Coordinator) handleRemoveAll(state *CoordinatorState, _ *Request) {
	state.Queue.RemoveWhere(types.IsAnyRequest)
	if state.Current != nil {
		c.clearCurrent(state, state.Current.ID)
	}
}

func (c *Coordinator) handleRead(state *CoordinatorState, req *Request) {
	switch req.Method {
	case MethodGet:
		lr := req.Request.(*types.LookupRequest)
		lr.Record, lr.Found = state.Queue.Find(lr.ID)
		if !lr.Found {
			c.log.LogAttrs(req.Context, slog.LevelWarn, "request not found",
				slog.String("id", lr.ID))
		}
	case MethodCount:
		count := req.Request.(*int)
		*count = state.Queue.CountRequestItems()
	case MethodList:
		lr := req.Request.(*types.ListRequest)
		lr.Records = state.Queue.Records()
	case MethodStats:
		stats := req.Request.(*types.Stats)
		for _, item := range state.Queue.Items() {
			switch it := item.(type) {
			case types.RequestItem:
				stats.Total++
				if it.Record.IsInternal {
					stats.Internal++
				} else {
					stats.External++
				}
				stats.Queue = append(stats.Queue, it.Record.ID)
			case types.HighPriorityScreenMarker:
				stats.Paused = true
				stats.Queue = append(stats.Queue, types.MarkerID)
			default:
				panic(fmt.Sprintf("undefined queue item '%T'", item))
			}
		}
		stats.Current = currentID(state)
	default:
		panic(fmt.Sprintf("undefined request method '%d'", req.Method))
	}
}

func (c *Coordinator) handleShutdown(_ *CoordinatorState, req *types.ShutdownRequest) {
	// Fail any requests still waiting in the channel
EMPTY:
	for {
		select {
		case r := <-c.requestCh:
			r.Err = ErrCoordinatorShutdown
			close(r.ReadyCh)
		default:
			break EMPTY
		}
	}

	c.current.Close()
	c.cleared.Close()
	c.defers.Close()
	c.log.LogAttrs(req.Context, LevelDebugAll, "coordinator shutdown")
	close(req.ReadyCh)
}

// recompute publishes the head of the queue if it is a request which is not already
// published. A marker at the head means nothing new is published until resumed.
func (c *Coordinator) recompute(ctx context.Context, state *CoordinatorState) {
	item, ok := state.Queue.PeekFront()
	if !ok {
		return
	}

	switch it := item.(type) {
	case types.RequestItem:
		if state.Current != nil && state.Current.ID == it.Record.ID {
			return
		}
		rec := it.Record
		state.Current = &rec
		c.current.Publish(rec)
		c.conf.Metrics.published.Inc()
		c.log.LogAttrs(ctx, LevelDebug, "published current request",
			slog.String("id", rec.ID),
			slog.Bool("internal", rec.IsInternal))
	case types.HighPriorityScreenMarker:
	default:
		panic(fmt.Sprintf("undefined queue item '%T'", item))
	}
}

func (c *Coordinator) clearCurrent(state *CoordinatorState, id string) {
	if state.Current == nil || state.Current.ID != id {
		return
	}
	state.Current = nil
	c.current.Clear()
}

func (c *Coordinator) notifyDefer(ctx context.Context, id string) {
	c.conf.Metrics.deferNotify.Inc()
	if dropped := c.defers.Publish(id); dropped != 0 {
		c.conf.Metrics.deferDropped.Add(float64(dropped))
		c.log.LogAttrs(ctx, slog.LevelWarn, "defer notification dropped; subscriber is not keeping up",
			slog.String("id", id),
			slog.Int("dropped", dropped))
	}
	c.log.LogAttrs(ctx, LevelDebug, "defer requested",
		slog.String("id", id))
}

func currentID(state *CoordinatorState) string {
	if state.Current == nil {
		return ""
	}
	return state.Current.ID
}
