package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/objectstore"
	"scribe/internal/refcache"
	"scribe/internal/services"
	"scribe/internal/tasks"
	"scribe/internal/workitem"
)

// Store is the slice of the coordination store executors and runners use.
type Store interface {
	coord.LockStore
	coord.AttemptStore
}

// EntityResolver looks up reference entities.
type EntityResolver interface {
	Lookup(ctx context.Context, collection, slug string) (refcache.Entity, error)
}

// ApprovalGate publishes a proposal and waits for its verdict.
type ApprovalGate interface {
	Request(ctx context.Context, p approval.Proposal) (approval.Verdict, bool, error)
}

// Backend commits an outcome to the content backend.
type Backend interface {
	Submit(ctx context.Context, endpoint string, sub cms.Submission) error
}

// RefreshRequester asks for an asynchronous reference cache refresh.
type RefreshRequester interface {
	Request()
}

// Deps wires an executor to its collaborators.
type Deps struct {
	Store      Store
	Objects    objectstore.Store
	References EntityResolver
	Enricher   tasks.Enricher
	Gate       ApprovalGate
	Backend    Backend
	Refresher  RefreshRequester
	Registry   *tasks.Registry
	Notifier   notifications.Service
	Logger     *slog.Logger
	// ChannelRef is the chat destination proposals are addressed to.
	ChannelRef string
	PresignTTL time.Duration
	NewTaskID  func() string
}

// Outcome summarizes one run.
type Outcome struct {
	State     State
	TaskID    string
	Decision  approval.Decision
	Entity    refcache.Entity
	Transited []State
}

// Executor drives the state machine for any kind registered in its registry.
type Executor struct {
	deps   Deps
	logger *slog.Logger
}

// New builds an executor.
func New(deps Deps) *Executor {
	if deps.NewTaskID == nil {
		deps.NewTaskID = uuid.NewString
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = time.Hour
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewNoop()
	}
	if deps.Registry == nil {
		deps.Registry = tasks.DefaultRegistry()
	}
	return &Executor{deps: deps, logger: logging.NewComponentLogger(deps.Logger, "executor")}
}

type run struct {
	item     workitem.Item
	strategy tasks.Strategy
	state    State
	outcome  Outcome
	input    tasks.Input
	result   tasks.Result
	logger   *slog.Logger
}

func (r *run) advance(e Event) error {
	next, err := Next(r.state, e)
	if err != nil {
		return err
	}
	r.logger.Debug("state transition",
		logging.String("from", r.state.String()),
		logging.String("event", e.String()),
		logging.String("to", next.String()),
	)
	r.state = next
	r.outcome.State = next
	r.outcome.Transited = append(r.outcome.Transited, next)
	return nil
}

// Run executes the state machine for item. A nil error with StateAborted
// means the reference did not resolve; any returned error is an
// attempt-counted failure for the caller's retry wrapper.
func (e *Executor) Run(ctx context.Context, item workitem.Item) (Outcome, error) {
	strategy, ok := e.deps.Registry.Get(item.Kind)
	if !ok {
		return Outcome{State: StateFailed}, services.Wrap(services.ErrConfiguration, "executor", "run", fmt.Sprintf("no strategy for kind %q", item.Kind), nil)
	}
	ctx = services.WithKind(services.WithObjectKey(ctx, item.Key), string(item.Kind))
	r := &run{
		item:     item,
		strategy: strategy,
		state:    StateFetching,
		outcome:  Outcome{State: StateFetching, Transited: []State{StateFetching}},
		logger:   logging.WithContext(ctx, e.logger),
	}

	for !r.state.Terminal() {
		event, err := e.step(ctx, r)
		if err != nil {
			_ = r.advance(EventFailed)
			r.logger.Warn("work item failed",
				logging.String(logging.FieldEventType, "item_failed"),
				logging.String("error_class", services.Class(err)),
				logging.Error(err),
			)
			return r.outcome, err
		}
		if err := r.advance(event); err != nil {
			return r.outcome, err
		}
	}
	return r.outcome, nil
}

func (e *Executor) step(ctx context.Context, r *run) (Event, error) {
	switch r.state {
	case StateFetching:
		return e.fetch(ctx, r)
	case StateEnriching:
		return e.enrich(ctx, r)
	case StateAwaitingApproval:
		return e.awaitApproval(ctx, r)
	case StateCommitting, StateDrafting:
		return e.commit(ctx, r)
	default:
		return EventFailed, fmt.Errorf("no action for state %s", r.state)
	}
}

// resolveCompanions looks up the extra entities a strategy names. stop is
// false when every required companion resolved.
func (e *Executor) resolveCompanions(ctx context.Context, r *run) (Event, bool, error) {
	resolver, ok := r.strategy.(tasks.CompanionResolver)
	if !ok {
		return 0, false, nil
	}
	for _, c := range resolver.Companions(r.item) {
		slug := r.item.Arg(c.Arg)
		if slug == "" {
			continue
		}
		entity, err := e.deps.References.Lookup(ctx, c.Collection, slug)
		switch {
		case err == nil:
			if r.input.Companions == nil {
				r.input.Companions = make(map[string]refcache.Entity)
			}
			r.input.Companions[c.Arg] = entity
		case refcache.IsMissing(err) && !c.Required:
			r.logger.Debug("optional reference not found", logging.String(c.Arg, slug))
		case refcache.IsMissing(err):
			logging.WarnWithContext(r.logger, "reference not found; leaving item for a later pass", "reference_missing",
				logging.String("entity", slug),
				logging.String("collection", c.Collection),
				logging.String(logging.FieldErrorHint, "check the filename's "+c.Arg+" slug or refresh the reference cache"),
			)
			return EventEntityMissing, true, nil
		default:
			return EventFailed, true, err
		}
	}
	return 0, false, nil
}

func (e *Executor) fetch(ctx context.Context, r *run) (Event, error) {
	r.input = tasks.Input{Item: r.item}
	entity, err := e.deps.References.Lookup(ctx, r.strategy.Collection(), r.item.Entity())
	switch {
	case err == nil:
		r.input.Entity = entity
		r.input.EntityFound = true
		r.outcome.Entity = entity
	case refcache.IsMissing(err) && r.strategy.AllowMissingEntity():
		r.logger.Info("reference not found; proceeding as a new entity",
			logging.String("entity", r.item.Entity()),
		)
	case refcache.IsMissing(err):
		logging.WarnWithContext(r.logger, "reference not found; leaving item for a later pass", "reference_missing",
			logging.String("entity", r.item.Entity()),
			logging.String("collection", r.strategy.Collection()),
			logging.String(logging.FieldErrorHint, "check the filename's entity slug or refresh the reference cache"),
		)
		return EventEntityMissing, nil
	default:
		return EventFailed, err
	}
	if ev, stop, err := e.resolveCompanions(ctx, r); stop {
		return ev, err
	}

	url, err := e.deps.Objects.PresignGet(ctx, r.item.Key, e.deps.PresignTTL)
	if err != nil {
		return EventFailed, err
	}
	r.input.ImageURL = url
	if r.strategy.NeedsImage() {
		data, err := e.deps.Objects.Get(ctx, r.item.Key)
		if err != nil {
			return EventFailed, err
		}
		r.input.Image = data
	}
	return EventEntityResolved, nil
}

func (e *Executor) enrich(ctx context.Context, r *run) (Event, error) {
	started := time.Now()
	result, err := r.strategy.Build(ctx, e.deps.Enricher, r.input)
	if err != nil {
		return EventFailed, err
	}
	r.result = result
	r.logger.Info("enrichment complete",
		logging.String(logging.FieldEventType, "enrichment_complete"),
		logging.Int("fields", len(result.Fields)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return EventEnriched, nil
}

func (e *Executor) awaitApproval(ctx context.Context, r *run) (Event, error) {
	taskID := e.deps.NewTaskID()
	r.outcome.TaskID = taskID
	r.logger = r.logger.With(logging.String(logging.FieldTaskID, taskID))

	embed := r.result.Embed
	proposal := approval.Proposal{
		TaskID:     taskID,
		ChannelRef: e.deps.ChannelRef,
		Kind:       string(r.item.Kind),
		ObjectKey:  r.item.Key,
		Embed:      &embed,
	}
	if att := r.result.Attachment; att != nil {
		proposal.Attachment = &approval.Attachment{Filename: att.Filename, ContentType: att.ContentType, Data: att.Data}
	}

	verdict, received, err := e.deps.Gate.Request(ctx, proposal)
	if err != nil {
		return EventFailed, err
	}
	decision := approval.Decide(verdict, received)
	r.outcome.Decision = decision
	r.logger.Info("approval decided",
		logging.Args(append(logging.DecisionAttrs("approval", decision.Outcome.String(), decision.Reason),
			logging.VoteAttrs(verdict.Approve, verdict.Reject, verdict.Retry, received)...)...)...,
	)

	switch decision.Outcome {
	case approval.OutcomeRetry:
		if err := e.deps.Store.ResetAttempts(ctx, r.item.Key); err != nil {
			return EventFailed, err
		}
		if err := e.deps.Store.ReleaseLock(ctx, r.item.Key); err != nil {
			return EventFailed, err
		}
		return EventVerdictRetry, nil
	case approval.OutcomeCommit:
		return EventVerdictCommit, nil
	default:
		return EventVerdictDraft, nil
	}
}

func (e *Executor) commit(ctx context.Context, r *run) (Event, error) {
	confirmed := r.state == StateCommitting
	err := e.deps.Backend.Submit(ctx, r.strategy.Endpoint(), cms.Submission{
		Fields:     r.result.Fields,
		Confirmed:  confirmed,
		Attachment: r.result.Attachment,
	})
	if err != nil {
		return EventFailed, err
	}

	key := r.item.Key
	if err := e.deps.Objects.Delete(ctx, key); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return EventFailed, err
	}
	if err := e.deps.Store.ReleaseLock(ctx, key); err != nil {
		return EventFailed, err
	}
	if err := e.deps.Store.ClearAttempts(ctx, key); err != nil {
		return EventFailed, err
	}
	if err := e.deps.Store.ClearAttempts(ctx, coord.MissingRefPrefix+key); err != nil {
		return EventFailed, err
	}
	if e.deps.Refresher != nil {
		e.deps.Refresher.Request()
	}

	r.logger.Info("outcome committed",
		logging.String(logging.FieldEventType, "outcome_committed"),
		logging.String("endpoint", r.strategy.Endpoint()),
		logging.Bool("confirmed", confirmed),
	)
	if err := e.deps.Notifier.NotifyCommitted(ctx, string(r.item.Kind), r.input.DisplayName(), confirmed); err != nil {
		r.logger.Debug("commit notification failed", logging.Error(err))
	}
	return EventCommitted, nil
}
