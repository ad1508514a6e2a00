// Package program composes validation, resolution, replay protection and the transition engine
// into the single ExecuteIntent entrypoint.
package program

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
	"github.com/R3DRVM/BlossomV2/pkg/engine"
	"github.com/R3DRVM/BlossomV2/pkg/intent"
	"github.com/R3DRVM/BlossomV2/pkg/observability"
	"github.com/R3DRVM/BlossomV2/pkg/replay"
	"github.com/R3DRVM/BlossomV2/pkg/resolver"
	"github.com/R3DRVM/BlossomV2/pkg/store"
)

// Program executes intents against externally owned state. It holds no state of its own between
// invocations; the store is the only persistence.
type Program struct {
	validator *intent.Validator
	resolver  *resolver.Resolver
	guard     *replay.Guard
	engine    *engine.Engine

	clock  func() time.Time
	obs    *observability.Provider
	logger *slog.Logger
}

type Option func(*Program)

// WithClock overrides the source of logical time used for expiry checks and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Program) { p.clock = clock }
}

// WithObservability attaches a telemetry provider.
func WithObservability(obs *observability.Provider) Option {
	return func(p *Program) { p.obs = obs }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Program) { p.logger = l }
}

// New builds a program over s. checker may be nil, in which case only structural, expiry and
// signature checks apply (amount must still be nonzero).
func New(s store.Store, checker intent.PolicyChecker, opts ...Option) *Program {
	p := &Program{
		validator: intent.NewValidator(checker),
		resolver:  resolver.New(s),
		guard:     replay.NewGuard(s),
		engine:    engine.New(s),
		clock:     time.Now,
		logger:    slog.Default().With("component", "program"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.obs == nil {
		p.obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return p
}

// ExecuteIntent is the program entrypoint. amount must equal the signed intent amount.
func (p *Program) ExecuteIntent(ctx context.Context, i contracts.Intent, amount uint64) error {
	_, err := p.execute(ctx, i, &amount)
	return err
}

// Execute runs one intent through Submitted → Validated → Resolved → Applied, returning the
// execution record on success. Any failure leaves the intent Rejected and state untouched.
func (p *Program) Execute(ctx context.Context, i contracts.Intent) (contracts.ExecutionRecord, error) {
	return p.execute(ctx, i, nil)
}

// execute runs the pipeline. amount, when set, is the entrypoint argument checked against the
// signed amount.
func (p *Program) execute(ctx context.Context, i contracts.Intent, amount *uint64) (rec contracts.ExecutionRecord, err error) {
	ctx, done := p.obs.TrackOperation(ctx, "blossom.execute_intent", observability.IntentAttributes(i)...)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(observability.SpanAttributes(i)...)
	defer func() {
		p.logOutcome(ctx, i, rec, err)
		done(err)
	}()

	now := p.clock()
	span.AddEvent(string(contracts.StateSubmitted))

	if amount != nil && *amount != i.Amount {
		return contracts.ExecutionRecord{}, contracts.ValidationError("amount argument %d does not match signed amount %d", *amount, i.Amount).WithIntent(i.ID)
	}

	validated, err := p.validator.Validate(i, now)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	span.AddEvent(string(contracts.StateValidated))

	resolved, err := p.resolver.Resolve(ctx, validated)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	span.AddEvent(string(contracts.StateResolved))

	if err := p.guard.Check(ctx, validated.ID); err != nil {
		return contracts.ExecutionRecord{}, err
	}

	// The commit is not abandoned once started.
	rec, err = p.engine.Apply(context.WithoutCancel(ctx), resolved, now)
	if err != nil {
		return contracts.ExecutionRecord{}, err
	}
	span.AddEvent(string(contracts.StateApplied))
	return rec, nil
}

// Outcome maps an Execute error to the terminal state it leaves the intent in.
func Outcome(err error) contracts.State {
	if err == nil {
		return contracts.StateApplied
	}
	return contracts.StateRejected
}

func (p *Program) logOutcome(ctx context.Context, i contracts.Intent, rec contracts.ExecutionRecord, err error) {
	if err == nil {
		p.logger.InfoContext(ctx, "intent applied",
			"intent_id", i.ID,
			"receipt_id", rec.ReceiptID,
			"actor", i.Actor,
			"recipient", i.Recipient,
			"amount", i.Amount,
		)
		return
	}
	var execErr *contracts.ExecutionError
	if errors.As(err, &execErr) {
		p.logger.InfoContext(ctx, "intent rejected",
			"intent_id", i.ID,
			"code", string(execErr.Code),
			"classification", execErr.Classification(),
			"reason", execErr.Reason,
		)
		return
	}
	p.logger.ErrorContext(ctx, "intent execution failed", "intent_id", i.ID, "error", err)
}
