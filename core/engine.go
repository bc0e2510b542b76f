package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EngineConfig is the subset of pkg/config.Config the send/retry engine
// consults directly.
type EngineConfig struct {
	RetryInterval         time.Duration
	MaxQueueSize          int // 0 disables load-shed, per spec.md §6
	ServiceCap            int
	PerSendDeadline       time.Duration
	PerRecordRetriesInner int
	WorkerThreads         int
	RemoveOnConfirmation  bool
	AdvanceOnEmptyLeaders bool
}

// Engine is the send/retry orchestrator of spec.md §4.5: it owns the
// transport pool, leader source, transaction store, confirmation watcher,
// metrics sink and a bounded worker pool for fan-out, and runs the
// background retry loop. Grounded on the teacher's worker-pool-plus-
// background-loop shape (core/txpool_addtx.go / core/network.go), replaced
// end to end with the submission/retry/eviction semantics above.
type Engine struct {
	transport *TransportPool
	leaders   LeaderSource
	store     *Store
	watcher   *Watcher
	metrics   *Metrics
	log       *logrus.Logger
	cfg       EngineConfig

	// bgCtx is the lifetime context for work Submit spawns fire-and-forget
	// (the confirmation watcher and the immediate fan-out send tasks). It is
	// deliberately NOT the caller's request context: net/http cancels
	// r.Context() the instant the handler returns, which is right after
	// Submit returns, and per spec.md §5 ("Cancellation: none externally")
	// that spawned work must outlive the request that triggered it. Each
	// task still bounds itself with PerSendDeadline / the watcher's poll
	// budget.
	bgCtx context.Context

	work chan func()
	wg   sync.WaitGroup

	stopOnce sync.Once
	stopping chan struct{}
}

// NewEngine constructs an Engine and starts its fixed-size worker pool. ctx
// is the background lifetime context used for Submit's spawned watcher and
// send tasks — typically the same long-lived context later passed to
// Run(ctx), never a per-request context. A nil ctx falls back to
// context.Background(). Callers must also start Run(ctx) to drive the
// background retry loop.
func NewEngine(ctx context.Context, transport *TransportPool, leaders LeaderSource, store *Store, watcher *Watcher, metrics *Metrics, log *logrus.Logger, cfg EngineConfig) *Engine {
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e := &Engine{
		transport: transport,
		leaders:   leaders,
		store:     store,
		watcher:   watcher,
		metrics:   metrics,
		log:       log,
		cfg:       cfg,
		bgCtx:     ctx,
		work:      make(chan func(), cfg.WorkerThreads*4),
		stopping:  make(chan struct{}),
	}
	for i := 0; i < cfg.WorkerThreads; i++ {
		e.wg.Add(1)
		go e.workerLoop()
	}
	return e
}

func (e *Engine) workerLoop() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.work:
			fn()
		case <-e.stopping:
			return
		}
	}
}

// spawn schedules fn on the engine's worker pool, falling back to a direct
// goroutine if the pool is saturated so that fan-out is never blocked by a
// full queue (spec.md §5: worker threads are not pinned to specific tasks).
func (e *Engine) spawn(fn func()) {
	select {
	case e.work <- fn:
	default:
		go fn()
	}
}

// Stop halts the worker pool. It does not stop Run's retry loop; cancel the
// context passed to Run for that.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopping) })
	e.wg.Wait()
}

// Submit implements spec.md §4.5 "Public operation: submit(record)". ctx
// governs only the synchronous portion of this call; the watcher and
// fan-out work it spawns run detached on e.bgCtx (see the Engine.bgCtx
// comment) so they are unaffected by the caller's context being cancelled
// the moment Submit returns.
func (e *Engine) Submit(ctx context.Context, rec *Record) (string, error) {
	sig := rec.Signature
	if sig == "" {
		return "", fmt.Errorf("submit: record has no signature")
	}

	// Step 1: idempotent duplicate handling.
	if e.store.Has(sig) {
		if e.metrics != nil {
			e.metrics.IncDuplicate()
		}
		return sig, nil
	}

	// Step 2: insert-if-absent; lose the race silently. Moved ahead of the
	// watcher spawn below so a losing submission never spawns a watcher of
	// its own — only the submission that actually wins residency does,
	// preserving the "one confirmation watcher per signature" property.
	if !e.store.InsertIfAbsent(rec) {
		if e.metrics != nil {
			e.metrics.IncDuplicate()
		}
		return sig, nil
	}
	if e.metrics != nil {
		e.metrics.SetStoreSize(e.store.Len())
	}

	// Step 3: fire-and-forget confirmation watcher, detached from ctx.
	if e.watcher != nil {
		e.spawn(func() {
			at, ok := e.watcher.AwaitConfirmation(e.bgCtx, sig, rec.APIKey)
			if ok && e.cfg.RemoveOnConfirmation {
				e.store.Remove(sig)
			}
			_ = at
		})
	}

	// Step 4: immediate fan-out across all current leaders, also detached
	// from ctx.
	e.fanOut(e.bgCtx, e.leaders.CurrentLeaders(e.bgCtx), rec.RoutePort, rec.WirePayload, rec.APIKey, false)

	// Step 5: return success.
	return sig, nil
}

// fanOut spawns one send task per leader in snapshot, targeting
// (leader.ip, routePort) with payload.
func (e *Engine) fanOut(ctx context.Context, snapshot []LeaderEntry, routePort uint16, payload []byte, apiKey string, retry bool) {
	for i, leader := range snapshot {
		if leader.IP == "" {
			continue
		}
		leaderIndex := strconv.Itoa(i)
		addr := fmt.Sprintf("%s:%d", leader.IP, routePort)
		e.spawn(func() {
			e.sendWithRetry(ctx, addr, leaderIndex, payload, apiKey, retry)
		})
	}
}

// sendWithRetry implements spec.md §4.5 "Send task": a bounded, strictly
// sequential inner retry loop bounded per attempt by per_send_deadline.
func (e *Engine) sendWithRetry(ctx context.Context, addr, leaderIndex string, payload []byte, apiKey string, retry bool) {
	n := e.cfg.PerRecordRetriesInner
	if n <= 0 {
		n = 1
	}
	handle := e.transport.ConnectionFor(addr)

	for attempt := 0; attempt < n; attempt++ {
		start := time.Now()
		result := handle.Send(ctx, payload, e.cfg.PerSendDeadline)
		switch result {
		case SendOK:
			if e.metrics != nil {
				e.metrics.ObserveReceivedByLeader(leaderIndex, apiKey, retry, time.Since(start).Seconds())
			}
			return
		case SendTimeout:
			if e.metrics != nil {
				e.metrics.IncSendTimeout(apiKey, retry)
			}
		case SendTransportErr:
			if e.metrics != nil {
				e.metrics.IncSendError(apiKey, retry, attempt == n-1)
			}
		}
	}
}

// Run drives the background retry loop of spec.md §4.5 until ctx is
// cancelled. It is meant to run for the life of the process on its own
// goroutine.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.retryPass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

type outboundItem struct {
	routePort uint16
	payload   []byte
	apiKey    string
}

func (e *Engine) retryPass(ctx context.Context) {
	// 1. Emit store-size gauge.
	if e.metrics != nil {
		e.metrics.SetStoreSize(e.store.Len())
	}

	// 2. Load-shed: discard the tail of the snapshot sorted by retry_count
	// ascending, i.e. the records retried the most. Must happen before the
	// collect-and-advance walk so a shed record is never also re-sent.
	snapshot := e.store.Snapshot()
	if e.cfg.MaxQueueSize > 0 && len(snapshot) > e.cfg.MaxQueueSize {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return snapshot[i].RetryCount < snapshot[j].RetryCount
		})
		shed := snapshot[e.cfg.MaxQueueSize:]
		snapshot = snapshot[:e.cfg.MaxQueueSize]

		sigs := make([]string, 0, len(shed))
		for _, rec := range shed {
			sigs = append(sigs, rec.Signature)
		}
		dropped := e.store.RemoveMany(sigs)
		if e.metrics != nil && dropped > 0 {
			e.metrics.AddRetryQueueDropped(dropped)
		}
	}

	// 3. Collect and advance. Whether retry_count advances on a pass with
	// no current leaders is Open Question 3 (see DESIGN.md): the
	// AdvanceOnEmptyLeaders flag, default true, matches the source's
	// literal behavior of advancing regardless.
	leaders := e.leaders.CurrentLeaders(ctx)
	advance := len(leaders) > 0 || e.cfg.AdvanceOnEmptyLeaders

	outbound := make([]outboundItem, 0, len(snapshot))
	var terminal []string
	for _, rec := range snapshot {
		outbound = append(outbound, outboundItem{
			routePort: rec.RoutePort,
			payload:   rec.WirePayload,
			apiKey:    rec.APIKey,
		})
		if rec.RetryCount >= rec.MaxRetries {
			terminal = append(terminal, rec.Signature)
		} else if advance {
			rec.RetryCount++
		}
	}

	// 4. Fan out across the current leader snapshot; empty means no sends
	// are issued this pass.
	if len(leaders) > 0 {
		for _, item := range outbound {
			e.fanOut(ctx, leaders, item.routePort, item.payload, item.apiKey, true)
		}
	}

	// 5. Evict terminals.
	if len(terminal) > 0 {
		removed := e.store.RemoveMany(terminal)
		if e.metrics != nil {
			for i := 0; i < removed; i++ {
				e.metrics.IncMaxRetries()
			}
		}
	}
}
