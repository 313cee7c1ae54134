package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"github.com/danstonedev/EMRsim-chat-sub004/core/utterances"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrEngineClosed     = errors.New("engine is closed")
	ErrAlreadyRunning   = errors.New("engine is already running")
	ErrNoNormalizer     = errors.New("no normalizer configured")
	ErrTeardownTimedOut = errors.New("timed out waiting for in-flight relays")
)

// Engine finalizes transcripts of a realtime session and relays each
// utterance to the backend at most once.
//
// All tracker state is owned by a single loop goroutine started by Run.
// Ingest, Handle, ForceFinalize and Snapshot only queue work for that loop.
type Engine struct {
	tracker    *utterances.Tracker
	dedup      *relay.Deduplicator
	normalizer realtime.Normalizer

	backend        relay.Backend
	relayOptions   []relay.Option
	trackerOptions []utterances.TrackerOption

	policy            TurnBoundaryPolicy
	idleFinalizeAfter time.Duration
	teardownTimeout   time.Duration
	queueCapacity     int

	player *eventPlayer
	emit   eventEmitter

	relays       sync.WaitGroup
	relayResults chan relayResult
	// abandoned is closed once the loop stops reading relayResults.
	abandoned chan struct{}
	// submitted holds the keys the loop has started a relay for.
	submitted map[string]struct{}

	runErr error

	now    func() time.Time
	logger *slog.Logger

	staleDeltas            metric.Int64Counter
	duplicateAuthoritative metric.Int64Counter
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		backend:         relay.DiscardBackend,
		policy:          TurnBoundaryFloorChange,
		teardownTimeout: defaultTeardownTimeout,
		queueCapacity:   defaultEventQueueCapacity,
		emit:            noopEventEmitter,
		abandoned:       make(chan struct{}),
		submitted:       map[string]struct{}{},
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.tracker = utterances.NewTracker(e.trackerOptions...)
	e.dedup = relay.NewDeduplicator(e.backend, append([]relay.Option{relay.WithLogger(e.logger)}, e.relayOptions...)...)
	e.player = newEventPlayer(e.queueCapacity)
	e.relayResults = make(chan relayResult, e.queueCapacity)

	var err error
	if e.staleDeltas, err = meter.Int64Counter("utterances.stale_deltas",
		metric.WithDescription("Deltas received after an utterance was finalized"),
	); err != nil {
		e.logger.Warn("failed to create stale delta counter", "error", err)
	}
	if e.duplicateAuthoritative, err = meter.Int64Counter("utterances.duplicate_authoritative",
		metric.WithDescription("Authoritative events received for an already finalized utterance"),
	); err != nil {
		e.logger.Warn("failed to create duplicate authoritative counter", "error", err)
	}

	return e
}

// Run starts the event loop and returns immediately. The loop runs until
// Close is called or ctx is cancelled; both end in teardown.
func (e *Engine) Run(ctx context.Context, opts ...RunOption) error {
	if !e.player.CanIngest() {
		return ErrEngineClosed
	}

	options := RunOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if !e.player.Start() {
		if !e.player.CanIngest() {
			return ErrEngineClosed
		}
		return ErrAlreadyRunning
	}
	e.emit = newCallbackEventEmitter(options)

	go e.loop(ctx)
	return nil
}

// Ingest queues a raw protocol message. It reports false once the engine
// stopped accepting input.
func (e *Engine) Ingest(raw []byte) bool {
	if e.normalizer == nil {
		e.logger.Error("cannot ingest protocol message", "error", ErrNoNormalizer)
		return false
	}
	return e.player.Ingest(eventQueueItem{raw: raw})
}

// Handle queues an already normalized inbound event. Events the engine emits
// itself are rejected.
func (e *Engine) Handle(event events.Event) bool {
	if event == nil {
		return false
	}
	if !event.Kind().Inbound() {
		e.logger.Warn("rejecting event that is not an engine input", "kind", event.Kind())
		return false
	}
	return e.player.Ingest(eventQueueItem{event: event})
}

// ForceFinalize asks the loop to force-finalize the open utterance with the
// given item id.
func (e *Engine) ForceFinalize(itemID string) bool {
	return e.player.Ingest(eventQueueItem{event: newForceFinalizeRequest(itemID, e.now())})
}

// Snapshot returns a deep copy of the tracked utterances. Once the engine has
// shut down the final state is returned directly.
func (e *Engine) Snapshot(ctx context.Context) (utterances.Snapshot, error) {
	select {
	case <-e.player.done:
		return e.tracker.Snapshot()
	default:
	}

	request := newSnapshotRequest(e.now())
	if !e.player.Ingest(eventQueueItem{event: request}) {
		select {
		case <-e.player.done:
			return e.tracker.Snapshot()
		default:
			return utterances.Snapshot{}, ErrEngineClosed
		}
	}

	select {
	case reply := <-request.reply:
		return reply.snapshot, reply.err
	case <-e.player.done:
		select {
		case reply := <-request.reply:
			return reply.snapshot, reply.err
		default:
			return e.tracker.Snapshot()
		}
	case <-ctx.Done():
		return utterances.Snapshot{}, ctx.Err()
	}
}

// Close stops accepting input, finalizes and relays everything still pending
// and waits for in-flight relays. It returns the teardown error, if any.
func (e *Engine) Close(ctx context.Context) error {
	e.player.Stop()
	if !e.player.started.Load() {
		return nil
	}

	select {
	case <-e.player.done:
		return e.runErr
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for teardown: %w", ctx.Err())
	}
}

// Done is closed once teardown finished.
func (e *Engine) Done() <-chan struct{} {
	return e.player.done
}

func (e *Engine) loop(ctx context.Context) {
	defer e.player.Finish()
	defer close(e.abandoned)

	var idle <-chan time.Time
	if e.idleFinalizeAfter > 0 {
		ticker := time.NewTicker(max(e.idleFinalizeAfter/4, time.Millisecond))
		defer ticker.Stop()
		idle = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.player.Stop()
			e.runErr = e.teardown(ctx)
			return
		case <-e.player.closeCh:
			e.runErr = e.teardown(ctx)
			return
		case item := <-e.player.queue:
			e.process(ctx, item)
		case result := <-e.relayResults:
			e.applyRelayResult(result)
		case <-idle:
			e.finalizeIdle(ctx)
		}
	}
}

func (e *Engine) process(ctx context.Context, item eventQueueItem) {
	if item.raw == nil {
		e.handleEvent(ctx, item.event, item.queuedAt)
		return
	}

	normalized := e.normalizer.Normalize(item.raw)
	for _, event := range normalized {
		e.handleEvent(ctx, event, item.queuedAt)
	}
}

func (e *Engine) teardown(runCtx context.Context) error {
	ctx, span := tracer.Start(context.WithoutCancel(runCtx), "teardown")
	defer span.End()

	e.player.Drain(func(item eventQueueItem) { e.process(ctx, item) })

	e.dedup.BeginTeardown()
	for _, u := range e.tracker.Open() {
		e.forceFinalize(u)
	}
	e.relayFallbacks(ctx)

	relaysDone := make(chan struct{})
	go func() {
		e.relays.Wait()
		close(relaysDone)
	}()

	timer := time.NewTimer(e.teardownTimeout)
	defer timer.Stop()

	for {
		select {
		case result := <-e.relayResults:
			e.applyRelayResult(result)
		case <-relaysDone:
			for {
				select {
				case result := <-e.relayResults:
					e.applyRelayResult(result)
				default:
					return nil
				}
			}
		case <-timer.C:
			err := fmt.Errorf("%w after %s (%d pending)", ErrTeardownTimedOut, e.teardownTimeout, e.dedup.InFlight())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Warn("teardown finished with relays still in flight", "error", err)
			return err
		}
	}
}

type snapshotReply struct {
	snapshot utterances.Snapshot
	err      error
}

const (
	kindForceFinalizeRequest events.Kind = "engine.force_finalize_requested"
	kindSnapshotRequest      events.Kind = "engine.snapshot_requested"
)

type forceFinalizeRequest struct {
	events.Base
	itemID string
}

func newForceFinalizeRequest(itemID string, at time.Time) forceFinalizeRequest {
	return forceFinalizeRequest{Base: events.NewBaseAt(kindForceFinalizeRequest, at), itemID: itemID}
}

type snapshotRequest struct {
	events.Base
	reply chan snapshotReply
}

func newSnapshotRequest(at time.Time) snapshotRequest {
	return snapshotRequest{Base: events.NewBaseAt(kindSnapshotRequest, at), reply: make(chan snapshotReply, 1)}
}
