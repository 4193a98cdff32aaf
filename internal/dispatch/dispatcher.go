package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sysmate/internal/logging"
	"sysmate/internal/metrics"
	"sysmate/internal/model"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks sysmate/internal/dispatch Authorizer,Executor,ProcessTargets,Prober,Refresher,CommandRunner

// ProcessTargets answers whether an identity is currently tracked as Active.
type ProcessTargets interface {
	Active(id model.ProcessIdentity) bool
}

// Prober checks liveness against the OS, bypassing the registry.
type Prober interface {
	Alive(ctx context.Context, id model.ProcessIdentity) (bool, error)
}

// Refresher re-samples after a successful action.
type Refresher interface {
	RefreshProcess(ctx context.Context, id model.ProcessIdentity) error
	RefreshAll(ctx context.Context) error
}

// Options configures a Dispatcher. Authorizer and Executor are required.
type Options struct {
	Authorizer  Authorizer
	Executor    Executor
	Targets     ProcessTargets
	Prober      Prober
	Refresher   Refresher
	CleanRoots  []string
	AuthTimeout time.Duration
	Logger      logging.Logger
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Now         func() time.Time

	// History bounds the finished reports kept for Report and Wait.
	History int
}

// Report describes what happened to one action.
type Report struct {
	Action     PrivilegedAction
	State      State
	Output     string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome converts the report into the value broadcast to modules.
func (r Report) Outcome() model.ActionOutcome {
	out := model.ActionOutcome{
		ActionID:    r.Action.ID(),
		Kind:        string(r.Action.Kind()),
		Target:      r.Action.Target().String(),
		RequestedBy: r.Action.RequestedBy(),
		State:       string(r.State),
		Output:      r.Output,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	var de *DispatchError
	if errors.As(r.Err, &de) {
		out.ErrorKind = string(de.Kind)
		out.Reason = de.Reason
		if de.Cause != nil {
			if out.Reason != "" {
				out.Reason += ": "
			}
			out.Reason += de.Cause.Error()
		}
	}
	return out
}

type record struct {
	action PrivilegedAction
	state  State
	cancel context.CancelFunc
	report Report
	done   chan struct{}
}

// DefaultHistory is how many finished reports a Dispatcher keeps when
// Options.History is unset.
const DefaultHistory = 256

// Dispatcher moves privileged actions through authorization and execution.
// Every submitted id is remembered for the life of the dispatcher so an
// action can never run twice; full reports are kept only for the most
// recent finished actions.
type Dispatcher struct {
	opts   Options
	log    logging.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu       sync.Mutex
	seen     map[string]struct{}
	records  map[string]*record
	finished []string
}

// New validates options and returns a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Authorizer == nil {
		return nil, errors.New("dispatch: authorizer is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("dispatch: executor is required")
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		opts:    opts,
		log:     opts.Logger,
		tracer:  opts.Tracer,
		now:     opts.Now,
		seen:    make(map[string]struct{}),
		records: make(map[string]*record),
	}
	if d.opts.History <= 0 {
		d.opts.History = DefaultHistory
	}
	if d.log == nil {
		d.log = logging.Nop()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("sysmate/dispatch")
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Submit authorizes and executes action. The returned report is always
// filled in; err is a *DispatchError unless the action reached Executed.
//
// ctx bounds the Pending phase only. Once authorized the action runs under a
// context detached from ctx, so a caller deadline or disconnect cannot kill a
// half-done command; Cancel(id) still reaches it.
func (d *Dispatcher) Submit(ctx context.Context, action PrivilegedAction) (Report, error) {
	if action.ID() == "" {
		err := invalid("action was not built with NewAction")
		return Report{Action: action, Err: err}, err
	}

	if kindTargets[action.Kind()] == targetPath && !d.underCleanRoot(action.Target().Path) {
		err := invalid("%s is outside the allowed clean roots", action.Target().Path)
		err.ActionID = action.ID()
		return Report{Action: action, Err: err}, err
	}

	pctx, cancelPending := context.WithCancel(ctx)
	defer cancelPending()
	xctx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()
	rec, err := d.register(action, func() {
		cancelPending()
		cancelExec()
	})
	if err != nil {
		return Report{Action: action, Err: err}, err
	}

	pctx, span := d.tracer.Start(pctx, "dispatch."+string(action.Kind()), trace.WithAttributes(
		attribute.String("action.id", action.ID()),
		attribute.String("action.kind", string(action.Kind())),
		attribute.String("action.target", action.Target().String()),
		attribute.String("action.requested_by", action.RequestedBy()),
	))
	defer span.End()
	xctx = trace.ContextWithSpan(xctx, span)

	log := d.log.With(logging.String("action", action.ID()), logging.String("kind", string(action.Kind())))
	log.Info("action submitted", logging.String("target", action.Target().String()), logging.String("module", action.RequestedBy()))

	report := d.run(pctx, xctx, rec, log)

	span.SetAttributes(attribute.String("action.state", string(report.State)))
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, string(KindOf(report.Err)))
	}
	d.opts.Metrics.ActionFinished(string(action.Kind()), string(report.State))

	if report.State == StateExecuted {
		// A late Cancel must not stop the refresh of an action that ran.
		d.refresh(context.WithoutCancel(xctx), action, log)
	}
	d.prune()
	return report, report.Err
}

func (d *Dispatcher) register(action PrivilegedAction, cancel context.CancelFunc) (*record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[action.ID()]; ok {
		return nil, newError(ErrorAlreadySubmitted, action.ID(), "", nil)
	}
	rec := &record{
		action: action,
		state:  StatePending,
		cancel: cancel,
		done:   make(chan struct{}),
		report: Report{Action: action, State: StatePending, StartedAt: d.now()},
	}
	d.seen[action.ID()] = struct{}{}
	d.records[action.ID()] = rec
	return rec, nil
}

// run drives one action. pctx covers authorization, xctx covers execution.
func (d *Dispatcher) run(pctx, xctx context.Context, rec *record, log logging.Logger) Report {
	id := rec.action.ID()

	outcome, err := d.authorize(pctx, rec.action)
	switch {
	case pctx.Err() != nil:
		reason := "cancelled before authorization completed"
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			reason = "request deadline expired before authorization completed"
		}
		return d.finish(rec, StateCancelled, "", newError(ErrorCancelled, id, reason, nil), log)
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return d.finish(rec, StateDenied, "", newError(ErrorAuthorizationTimeout, id, fmt.Sprintf("no answer within %s", d.opts.AuthTimeout), nil), log)
	case err != nil:
		return d.finish(rec, StateDenied, "", newError(ErrorDenied, id, "authorization backend failed", err), log)
	case outcome.Verdict == TimedOut:
		return d.finish(rec, StateDenied, "", newError(ErrorAuthorizationTimeout, id, fmt.Sprintf("no answer within %s", d.opts.AuthTimeout), nil), log)
	case outcome.Verdict != Granted:
		return d.finish(rec, StateDenied, "", newError(ErrorDenied, id, outcome.Reason, nil), log)
	}

	if !d.transition(rec, StateAuthorized) {
		return d.finish(rec, StateCancelled, "", newError(ErrorCancelled, id, "cancelled before authorization completed", nil), log)
	}
	log.Debug("action authorized")

	if xctx.Err() != nil {
		return d.finish(rec, StateCancelled, "", newError(ErrorCancelled, id, "cancelled before execution", nil), log)
	}
	if err := d.validateTarget(xctx, rec.action); err != nil {
		if xctx.Err() != nil {
			return d.finish(rec, StateCancelled, "", newError(ErrorCancelled, id, "cancelled before execution", nil), log)
		}
		return d.finish(rec, StateFailed, "", err, log)
	}

	output, err := d.opts.Executor.Execute(xctx, rec.action)
	switch {
	case err == nil:
		return d.finish(rec, StateExecuted, output, nil, log)
	case errors.Is(err, ErrTargetGone):
		return d.finish(rec, StateFailed, output, newError(ErrorTargetVanished, id, "", err), log)
	case xctx.Err() != nil:
		return d.finish(rec, StateCancelled, output, newError(ErrorCancelled, id, "cancelled during execution", err), log)
	default:
		return d.finish(rec, StateFailed, output, newError(ErrorExecutionFailed, id, "", err), log)
	}
}

func (d *Dispatcher) authorize(ctx context.Context, action PrivilegedAction) (Outcome, error) {
	authCtx, cancel := context.WithTimeout(ctx, d.opts.AuthTimeout)
	defer cancel()
	outcome, err := d.opts.Authorizer.RequestAuthorization(authCtx, action)
	if err == nil && outcome.Verdict == 0 && authCtx.Err() != nil {
		err = authCtx.Err()
	}
	return outcome, err
}

// validateTarget re-checks the target immediately before execution, since
// the world may have changed during the authorization round trip.
func (d *Dispatcher) validateTarget(ctx context.Context, action PrivilegedAction) *DispatchError {
	id := action.ID()
	t := action.Target()
	switch kindTargets[action.Kind()] {
	case targetProcess:
		if d.opts.Targets != nil && !d.opts.Targets.Active(t.Process) {
			return newError(ErrorTargetVanished, id, t.Process.String()+" is not in the registry", nil)
		}
		if d.opts.Prober != nil {
			alive, err := d.opts.Prober.Alive(ctx, t.Process)
			if err != nil {
				return newError(ErrorExecutionFailed, id, "liveness probe failed", err)
			}
			if !alive {
				return newError(ErrorTargetVanished, id, t.Process.String()+" exited", nil)
			}
		}
	case targetPath:
		if !d.underCleanRoot(t.Path) {
			return newError(ErrorInvalid, id, t.Path+" is outside the allowed clean roots", nil)
		}
		if _, err := os.Lstat(t.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return newError(ErrorTargetVanished, id, t.Path+" no longer exists", nil)
			}
			return newError(ErrorExecutionFailed, id, "stat target", err)
		}
	}
	return nil
}

func (d *Dispatcher) underCleanRoot(path string) bool {
	for _, root := range d.opts.CleanRoots {
		root = filepath.Clean(root)
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		return true
	}
	return false
}

func (d *Dispatcher) transition(rec *record, next State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !rec.state.canMoveTo(next) {
		return false
	}
	rec.state = next
	rec.report.State = next
	return true
}

func (d *Dispatcher) finish(rec *record, state State, output string, err *DispatchError, log logging.Logger) Report {
	d.mu.Lock()
	if rec.state.Terminal() {
		// A concurrent Cancel already closed the record.
		report := rec.report
		d.mu.Unlock()
		return report
	}
	if !rec.state.canMoveTo(state) {
		state = StateCancelled
	}
	rec.state = state
	rec.report.State = state
	rec.report.Output = output
	rec.report.FinishedAt = d.now()
	if err != nil {
		rec.report.Err = err
	}
	report := rec.report
	close(rec.done)
	d.finished = append(d.finished, rec.action.ID())
	d.mu.Unlock()

	if err != nil {
		log.Warn("action finished", logging.String("state", string(state)), logging.Err(err))
	} else {
		log.Info("action finished", logging.String("state", string(state)))
	}
	return report
}

func (d *Dispatcher) refresh(ctx context.Context, action PrivilegedAction, log logging.Logger) {
	if d.opts.Refresher == nil {
		return
	}
	var err error
	switch kindTargets[action.Kind()] {
	case targetProcess:
		err = d.opts.Refresher.RefreshProcess(ctx, action.Target().Process)
	case targetService, targetPackage, targetNone:
		err = d.opts.Refresher.RefreshAll(ctx)
	}
	if err != nil {
		log.Warn("refresh after action failed", logging.Err(err))
	}
}

// prune drops the oldest finished reports beyond the history bound. Their
// ids stay in seen.
func (d *Dispatcher) prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	excess := len(d.finished) - d.opts.History
	if excess <= 0 {
		return
	}
	for _, id := range d.finished[:excess] {
		delete(d.records, id)
	}
	d.finished = append(d.finished[:0], d.finished[excess:]...)
}

// lookupLocked finds a record. d.mu must be held.
func (d *Dispatcher) lookupLocked(actionID string) (*record, error) {
	if rec, ok := d.records[actionID]; ok {
		return rec, nil
	}
	if _, ok := d.seen[actionID]; ok {
		return nil, fmt.Errorf("%w: %s (finished, report no longer kept)", ErrUnknownAction, actionID)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
}

// Cancel requests cancellation. A Pending action is cancelled before it
// reaches authorization; an Authorized action is cancelled only if the
// executor has not finished, otherwise it is reported as Executed.
func (d *Dispatcher) Cancel(actionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookupLocked(actionID)
	if err != nil {
		return err
	}
	if rec.state.Terminal() {
		return fmt.Errorf("action %s already %s", actionID, rec.state)
	}
	rec.cancel()
	return nil
}

// State reports the lifecycle position of a submitted action.
func (d *Dispatcher) State(actionID string) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookupLocked(actionID)
	if err != nil {
		return "", err
	}
	return rec.state, nil
}

// Report returns the latest report for an action.
func (d *Dispatcher) Report(actionID string) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, err := d.lookupLocked(actionID)
	if err != nil {
		return Report{}, err
	}
	return rec.report, nil
}

// Wait blocks until the action reaches a terminal state or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, actionID string) (Report, error) {
	d.mu.Lock()
	rec, err := d.lookupLocked(actionID)
	d.mu.Unlock()
	if err != nil {
		return Report{}, err
	}
	select {
	case <-rec.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return rec.report, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}
