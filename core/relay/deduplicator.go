package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

type Outcome string

const (
	// OutcomeRelayed means the backend accepted the payload.
	OutcomeRelayed Outcome = "relayed"
	// OutcomeEmpty means the text was empty and nothing was consumed.
	OutcomeEmpty Outcome = "empty"
	// OutcomeDuplicate means the item had already been relayed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInFlight means another relay of the item is still running.
	OutcomeInFlight Outcome = "in_flight"
	// OutcomeLost means delivery failed for good. The item is still recorded
	// as relayed.
	OutcomeLost Outcome = "lost"
)

// Resolved reports whether the item is now part of the relayed set.
func (o Outcome) Resolved() bool {
	return o == OutcomeRelayed || o == OutcomeDuplicate || o == OutcomeLost
}

type Result struct {
	Outcome  Outcome
	Attempts int
	Duration time.Duration
	Err      error
}

type Deduplicator struct {
	backend Backend

	mu       sync.Mutex
	relayed  map[string]struct{}
	inFlight map[string]struct{}

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(context.Context, time.Duration) error
	now            func() time.Time

	tearingDown atomic.Bool

	logger   *slog.Logger
	outcomes metric.Int64Counter
}

type Option func(*Deduplicator)

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(retries int) Option {
	return func(d *Deduplicator) {
		if retries >= 0 {
			d.maxRetries = retries
		}
	}
}

// WithBackoff sets the delay before the first retry and the cap for the
// doubling delays after it.
func WithBackoff(initial, max time.Duration) Option {
	return func(d *Deduplicator) {
		if initial > 0 {
			d.initialBackoff = initial
		}
		if max >= initial {
			d.maxBackoff = max
		}
	}
}

func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(d *Deduplicator) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Deduplicator) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDeduplicator(backend Backend, opts ...Option) *Deduplicator {
	if backend == nil {
		backend = DiscardBackend
	}

	d := &Deduplicator{
		backend:        backend,
		relayed:        map[string]struct{}{},
		inFlight:       map[string]struct{}{},
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		sleep:          sleepContext,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(d)
	}

	outcomes, err := meter.Int64Counter("relay.outcomes",
		metric.WithDescription("Relay attempts by outcome"),
	)
	if err != nil {
		d.logger.Warn("failed to create relay outcome counter", "error", err)
	}
	d.outcomes = outcomes

	return d
}

// RelayIfNew delivers the request to the backend unless the item was already
// relayed or is being relayed. It is safe for concurrent use.
func (d *Deduplicator) RelayIfNew(ctx context.Context, request Request) (result Result) {
	ctx, span := tracer.Start(ctx, "relay utterance")
	defer span.End()
	span.SetAttributes(
		attribute.String("utterance.item_id", request.ItemID),
		attribute.String("utterance.speaker", string(request.Speaker)),
		attribute.String("utterance.confidence", string(request.Confidence)),
	)
	defer func() {
		span.SetAttributes(
			attribute.String("relay.outcome", string(result.Outcome)),
			attribute.Int("relay.attempts", result.Attempts),
		)
		if d.outcomes != nil {
			d.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(result.Outcome))))
		}
	}()

	if strings.TrimSpace(request.Text) == "" {
		return Result{Outcome: OutcomeEmpty}
	}

	if outcome, reserved := d.reserve(request.ItemID); !reserved {
		return Result{Outcome: outcome}
	}

	start := d.now()
	attempts, err := d.deliver(ctx, newPayload(request))
	d.commit(request.ItemID)

	result = Result{Outcome: OutcomeRelayed, Attempts: attempts, Duration: d.now().Sub(start)}
	if err != nil {
		result.Outcome = OutcomeLost
		result.Err = fmt.Errorf("failed to relay utterance %s: %w", request.ItemID, err)
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
		d.logger.Warn("utterance relay lost",
			"item_id", request.ItemID,
			"speaker", request.Speaker,
			"attempts", attempts,
			"error", err,
		)
	}

	return result
}

// Relayed reports whether itemID is in the relayed set.
func (d *Deduplicator) Relayed(itemID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.relayed[itemID]
	return ok
}

// InFlight returns the number of relays currently running.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.inFlight)
}

// BeginTeardown stops retrying failed deliveries. Relays already waiting for
// a retry give up at their next failure.
func (d *Deduplicator) BeginTeardown() {
	d.tearingDown.Store(true)
}

func (d *Deduplicator) reserve(itemID string) (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.relayed[itemID]; ok {
		return OutcomeDuplicate, false
	}
	if _, ok := d.inFlight[itemID]; ok {
		return OutcomeInFlight, false
	}
	d.inFlight[itemID] = struct{}{}
	return "", true
}

func (d *Deduplicator) commit(itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.inFlight, itemID)
	d.relayed[itemID] = struct{}{}
}

func (d *Deduplicator) deliver(ctx context.Context, payload Payload) (attempts int, err error) {
	backoff := d.initialBackoff
	for {
		attempts++
		err = d.backend.Relay(ctx, payload)
		if err == nil {
			return attempts, nil
		}
		if !IsTransient(err) || attempts > d.maxRetries || d.tearingDown.Load() {
			return attempts, err
		}

		d.logger.Debug("retrying utterance relay",
			"item_id", payload.ItemID,
			"attempt", attempts,
			"backoff", backoff,
			"error", err,
		)
		if sleepErr := d.sleep(ctx, backoff); sleepErr != nil {
			return attempts, fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
		backoff = min(backoff*2, d.maxBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
