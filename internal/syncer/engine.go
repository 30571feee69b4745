package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"offlinepos/internal/domain"
	applog "offlinepos/internal/log"
	"offlinepos/internal/telemetry"
)

type State string

const (
	Idle    State = "idle"
	Syncing State = "syncing"
)

// PassResult summarizes one drain of the queue snapshot.
type PassResult struct {
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Deferred    int       `json:"deferred"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
}

// Clean reports whether every operation in the snapshot was applied.
func (r PassResult) Clean() bool { return r.Failed == 0 && r.Deferred == 0 && !r.Interrupted }

// Event is published on every state change.
type Event struct {
	State   State       `json:"state"`
	Online  bool        `json:"online"`
	Pending int         `json:"pending"`
	Result  *PassResult `json:"result,omitempty"`
	At      time.Time   `json:"at"`
}

// BackoffConfig shapes the wait between automatic passes after a pass that
// left work behind.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 2 * time.Second, Max: 5 * time.Minute, Multiplier: 2, Jitter: 0.2}
}

type Engine struct {
	remote Remote
	queue  Queue
	conn   Connectivity
	now    func() time.Time

	opTimeout  time.Duration
	watchEvery time.Duration

	running atomic.Bool
	trigger chan struct{}
	wake    chan struct{}

	mu        sync.Mutex
	bo        *backoff.ExponentialBackOff
	notBefore time.Time
	retry     bool
	last      *PassResult
	subs      map[chan Event]struct{}

	replayOK     metric.Int64Counter
	replayFailed metric.Int64Counter
}

func NewEngine(remote Remote, queue Queue, conn Connectivity, cfg BackoffConfig) *Engine {
	def := DefaultBackoff()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = max(def.Max, cfg.Initial)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Initial
	bo.MaxInterval = cfg.Max
	bo.Multiplier = cfg.Multiplier
	bo.RandomizationFactor = cfg.Jitter
	bo.Reset()

	return &Engine{
		remote:       remote,
		queue:        queue,
		conn:         conn,
		now:          time.Now,
		opTimeout:    DefaultOpTimeout,
		watchEvery:   100 * time.Millisecond,
		trigger:      make(chan struct{}, 1),
		wake:         make(chan struct{}, 1),
		bo:           bo,
		subs:         map[chan Event]struct{}{},
		replayOK:     telemetry.Counter(telemetry.ReplayOK),
		replayFailed: telemetry.Counter(telemetry.ReplayFailed),
	}
}

// DefaultOpTimeout bounds a single remote call.
const DefaultOpTimeout = 30 * time.Second

// SetOpTimeout sets the deadline for each remote call. Call it before Run.
func (e *Engine) SetOpTimeout(d time.Duration) {
	if d > 0 {
		e.opTimeout = d
	}
}

// Trigger asks for a pass soon. It never blocks; the request is dropped if
// one is already waiting.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) State() State {
	if e.running.Load() {
		return Syncing
	}
	return Idle
}

func (e *Engine) Pending(ctx context.Context) (int, error) { return e.queue.Count(ctx) }

// LastResult is the outcome of the most recent finished pass, or nil.
func (e *Engine) LastResult() *PassResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

// Subscribe returns a channel of engine events. Slow readers miss events
// instead of stalling the engine. Call cancel to stop receiving.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *Engine) publish(ctx context.Context, st State, res *PassResult) {
	pending, err := e.queue.Count(context.WithoutCancel(ctx))
	if err != nil {
		pending = -1
	}
	ev := Event{State: st, Online: e.online(), Pending: pending, Result: res, At: e.now().UTC()}
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) online() bool { return e.conn == nil || e.conn.Online() }

// SyncNow runs one pass right away, ignoring any backoff window.
func (e *Engine) SyncNow(ctx context.Context) (PassResult, error) {
	if !e.online() {
		return PassResult{}, ErrOffline
	}
	return e.pass(ctx)
}

// Run is the background worker. It starts a pass on every offline to online
// transition, on Trigger while online and once each backoff window ends.
// It returns when ctx is done.
func (e *Engine) Run(ctx context.Context, transitions <-chan bool) {
	var (
		timer *time.Timer
		retry <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	rearm := func() {
		if timer != nil {
			timer.Stop()
			timer, retry = nil, nil
		}
		at, ok := e.retryAt()
		if !ok {
			return
		}
		timer = time.NewTimer(max(time.Until(at), 0))
		retry = timer.C
	}

	e.auto(ctx)
	rearm()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if up {
				e.resetBackoff()
				e.auto(ctx)
			} else {
				e.publish(ctx, e.State(), nil)
			}
		case <-e.trigger:
			e.auto(ctx)
		case <-retry:
			retry = nil
			e.auto(ctx)
		case <-e.wake:
		}
		rearm()
	}
}

// auto runs a pass if the device is online and no backoff window is open.
func (e *Engine) auto(ctx context.Context) {
	if !e.online() {
		return
	}
	e.mu.Lock()
	wait := time.Now().Before(e.notBefore)
	e.mu.Unlock()
	if wait {
		return
	}
	if _, err := e.pass(ctx); err != nil && !errors.Is(err, ErrPassInProgress) && ctx.Err() == nil {
		applog.Error(nil, "sync.pass.fail", err, map[string]any{"component": "syncer"})
	}
}

func (e *Engine) resetBackoff() {
	e.mu.Lock()
	e.bo.Reset()
	e.notBefore = time.Time{}
	e.mu.Unlock()
}

// backoffLocked opens the next backoff window. e.mu must be held.
func (e *Engine) backoffLocked() {
	e.notBefore = time.Now().Add(e.bo.NextBackOff())
	e.retry = true
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) retryAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notBefore, e.retry
}

// settle updates the backoff window from a finished pass.
func (e *Engine) settle(res PassResult, pending int) {
	e.mu.Lock()
	e.last = &res
	switch {
	case res.Interrupted:
		e.retry = false
	case res.Clean():
		e.bo.Reset()
		e.notBefore = time.Time{}
		e.retry = false
	default:
		e.backoffLocked()
	}
	e.mu.Unlock()
	// Work queued while a clean pass was running gets its own pass.
	if res.Clean() && pending > 0 {
		e.Trigger()
	}
}

func (e *Engine) watchConnectivity(ctx context.Context, stop context.CancelFunc) {
	t := time.NewTicker(e.watchEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !e.online() {
				stop()
				return
			}
		}
	}
}

// pass replays a snapshot of the queue front to back. A failed operation
// stays queued with its retry count bumped and the pass moves on; later
// operations for the same record wait for the next pass so per-record
// order holds.
func (e *Engine) pass(ctx context.Context) (PassResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer e.running.Store(false)

	ctx, span := telemetry.Tracer().Start(ctx, "sync.pass")
	defer span.End()

	// Losing connectivity cancels the remote call in flight.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go e.watchConnectivity(ctx, stop)

	res := PassResult{Started: e.now().UTC()}
	e.publish(ctx, Syncing, nil)

	ops, err := e.queue.List(ctx)
	if err != nil && ctx.Err() != nil {
		res.Interrupted = true
		res.Finished = e.now().UTC()
		e.publish(context.WithoutCancel(ctx), Idle, &res)
		return res, nil
	}
	if err != nil {
		res.Finished = e.now().UTC()
		e.mu.Lock()
		e.backoffLocked()
		e.mu.Unlock()
		e.publish(ctx, Idle, &res)
		return res, domain.PersistenceError("sync.pass", err)
	}

	// Local bookkeeping must not be skipped by shutdown once a remote call
	// has returned.
	local := context.WithoutCancel(ctx)
	blocked := map[string]bool{}
	for _, op := range ops {
		if ctx.Err() != nil || !e.online() {
			res.Interrupted = true
			break
		}
		key := op.Key()
		if blocked[key] {
			res.Deferred++
			continue
		}
		res.Attempted++
		octx, cancel := context.WithTimeout(ctx, e.opTimeout)
		err := replay(octx, e.remote, op)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				break
			}
			res.Failed++
			blocked[key] = true
			e.replayFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("table", op.Table)))
			rerr := domain.RemoteSyncError("sync.replay", err)
			applog.Error(nil, "sync.replay.fail", rerr, map[string]any{
				"component": "syncer", "op_id": op.ID, "table": op.Table,
				"operation": string(op.Kind), "retry_count": op.RetryCount + 1,
			})
			if merr := e.queue.MarkFailed(local, op.ID, err, e.now()); merr != nil {
				applog.Error(nil, "sync.queue.mark_failed", merr, map[string]any{"component": "syncer", "op_id": op.ID})
			}
			continue
		}
		if err := e.queue.Remove(local, op.ID); err != nil {
			// The remote has the record; the entry replays again next pass
			// and the remote write is idempotent.
			res.Failed++
			blocked[key] = true
			applog.Error(nil, "sync.queue.remove", err, map[string]any{"component": "syncer", "op_id": op.ID})
			continue
		}
		res.Succeeded++
		e.replayOK.Add(ctx, 1, metric.WithAttributes(attribute.String("table", op.Table)))
	}

	res.Finished = e.now().UTC()
	span.SetAttributes(
		attribute.Int("sync.attempted", res.Attempted),
		attribute.Int("sync.succeeded", res.Succeeded),
		attribute.Int("sync.failed", res.Failed),
		attribute.Int("sync.deferred", res.Deferred),
	)
	pending, _ := e.queue.Count(local)
	e.running.Store(false)
	e.settle(res, pending)
	applog.Info(nil, "sync.pass.done", map[string]any{
		"component": "syncer", "attempted": res.Attempted, "succeeded": res.Succeeded,
		"failed": res.Failed, "deferred": res.Deferred, "interrupted": res.Interrupted, "pending": pending,
	})
	e.publish(local, Idle, &res)
	return res, nil
}
