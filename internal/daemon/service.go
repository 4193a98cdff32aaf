package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/registry"
	"sysmate/internal/rpc"
)

// watchModule is the bus identity of remote Watch streams.
const watchModule = "rpc-watch"

// Actions is the part of the dispatcher the service reads from.
type Actions interface {
	Cancel(actionID string) error
	State(actionID string) (dispatch.State, error)
	Report(actionID string) (dispatch.Report, error)
	Wait(ctx context.Context, actionID string) (dispatch.Report, error)
}

// service implements the Core gRPC service over the running core.
type service struct {
	reg     *registry.Registry
	actions Actions
	bus     *bus.Bus
	mods    *modules.Set
	log     logging.Logger
	version string

	// life bounds asynchronously submitted actions to the daemon's lifetime
	// rather than the request's.
	life context.Context
}

func (s *service) Ping(context.Context, *rpc.PingRequest) (*rpc.PingReply, error) {
	return &rpc.PingReply{Status: "pong", PID: os.Getpid(), Version: s.version}, nil
}

func (s *service) List(_ context.Context, req *rpc.ListRequest) (*rpc.ListReply, error) {
	key, err := modules.ParseSortKey(req.Sort)
	if err != nil {
		return nil, rpc.InvalidArgument(err)
	}
	views := s.reg.List(registry.ListFilter{
		ActiveOnly:   req.ActiveOnly,
		PIDs:         req.PIDs,
		Users:        req.Users,
		NameContains: req.NameContains,
	})
	modules.SortViews(views, key)
	if req.Limit > 0 && len(views) > req.Limit {
		views = views[:req.Limit]
	}
	return &rpc.ListReply{Meta: s.reg.Meta(), Processes: views}, nil
}

func (s *service) Get(_ context.Context, req *rpc.GetRequest) (*rpc.GetReply, error) {
	id, err := s.identity(req.Identity, req.PID)
	if err != nil {
		return nil, err
	}
	view, err := s.reg.Get(id)
	if err != nil {
		return nil, rpc.Status(fmt.Errorf("%s: %w", id, err))
	}
	return &rpc.GetReply{Process: view}, nil
}

// identity resolves either form of process reference.
func (s *service) identity(raw string, pid int32) (model.ProcessIdentity, error) {
	if raw != "" {
		id, err := model.ParseIdentity(raw)
		if err != nil {
			return model.ProcessIdentity{}, rpc.InvalidArgument(err)
		}
		return id, nil
	}
	if pid <= 0 {
		return model.ProcessIdentity{}, rpc.InvalidArgument(errors.New("identity or pid is required"))
	}
	id, err := s.mods.Tasks.Resolve(pid)
	if err != nil && !errors.Is(err, registry.ErrNotFound) && !errors.Is(err, modules.ErrNotReady) {
		return model.ProcessIdentity{}, rpc.InvalidArgument(err)
	}
	return id, rpc.Status(err)
}

func (s *service) System(context.Context, *rpc.SystemRequest) (*rpc.SystemReply, error) {
	return &rpc.SystemReply{Meta: s.reg.Meta()}, nil
}

func (s *service) Submit(ctx context.Context, req *rpc.SubmitRequest) (*rpc.SubmitReply, error) {
	kind, err := dispatch.ParseKind(req.Kind)
	if err != nil {
		return nil, rpc.InvalidArgument(err)
	}
	target := req.Target
	if req.PID != 0 && target.Process.IsZero() {
		if target.Process, err = s.identity("", req.PID); err != nil {
			return nil, err
		}
	}
	action, err := s.mods.Prepare(kind, target)
	if err != nil {
		return nil, rpc.Status(err)
	}
	log := s.log.With(logging.String("action", action.ID()), logging.String("kind", string(kind)))

	if req.Async {
		return s.submitAsync(ctx, action, log)
	}
	report, err := s.mods.Dispatch(ctx, action)
	if report.State == "" {
		return nil, rpc.Status(err)
	}
	return &rpc.SubmitReply{Outcome: report.Outcome()}, nil
}

// submitAsync starts action in the background and returns once the
// dispatcher has registered it, so a following Action or Cancel call can
// find it.
func (s *service) submitAsync(ctx context.Context, action dispatch.PrivilegedAction, log logging.Logger) (*rpc.SubmitReply, error) {
	rejected := make(chan error, 1)
	go func() {
		report, err := s.mods.Dispatch(s.life, action)
		if report.State == "" {
			rejected <- err
			return
		}
		if err != nil {
			log.Info("background action finished", logging.String("state", string(report.State)), logging.Err(err))
		}
	}()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if state, err := s.actions.State(action.ID()); err == nil {
			return &rpc.SubmitReply{Outcome: model.ActionOutcome{
				ActionID:    action.ID(),
				Kind:        string(action.Kind()),
				Target:      action.Target().String(),
				RequestedBy: action.RequestedBy(),
				State:       string(state),
				StartedAt:   action.CreatedAt(),
			}}, nil
		}
		select {
		case err := <-rejected:
			return nil, rpc.Status(err)
		case <-ctx.Done():
			return nil, rpc.Status(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *service) Cancel(_ context.Context, req *rpc.CancelRequest) (*rpc.CancelReply, error) {
	if err := s.actions.Cancel(req.ActionID); err != nil {
		if errors.Is(err, dispatch.ErrUnknownAction) {
			return nil, rpc.Status(err)
		}
		return nil, rpc.InvalidArgument(err)
	}
	return &rpc.CancelReply{}, nil
}

func (s *service) Action(ctx context.Context, req *rpc.ActionRequest) (*rpc.ActionReply, error) {
	var (
		report dispatch.Report
		err    error
	)
	if req.Wait {
		report, err = s.actions.Wait(ctx, req.ActionID)
	} else {
		report, err = s.actions.Report(req.ActionID)
	}
	if err != nil {
		return nil, rpc.Status(err)
	}
	if report.State == "" {
		// registered but not yet reported
		state, err := s.actions.State(req.ActionID)
		if err != nil {
			return nil, rpc.Status(err)
		}
		return &rpc.ActionReply{Outcome: model.ActionOutcome{ActionID: req.ActionID, State: string(state)}}, nil
	}
	return &rpc.ActionReply{Outcome: report.Outcome()}, nil
}

func (s *service) CleanScan(ctx context.Context, req *rpc.CleanScanRequest) (*rpc.CleanScanReply, error) {
	items, err := s.mods.Cleaner.Scan(ctx, req.Rescan)
	if err != nil {
		return nil, rpc.Status(err)
	}
	return &rpc.CleanScanReply{Items: items}, nil
}

func (s *service) Clean(ctx context.Context, req *rpc.CleanRequest) (*rpc.CleanReply, error) {
	cat, err := modules.ParseCategory(req.Category)
	if err != nil {
		return nil, rpc.InvalidArgument(err)
	}
	reports, err := s.mods.Cleaner.Clean(ctx, cat)
	outcomes := make([]model.ActionOutcome, 0, len(reports))
	for _, r := range reports {
		if r.State != "" {
			outcomes = append(outcomes, r.Outcome())
		}
	}
	if err != nil && len(outcomes) < len(reports) {
		return nil, rpc.Status(err)
	}
	return &rpc.CleanReply{Outcomes: outcomes}, nil
}

func (s *service) Services(ctx context.Context, req *rpc.ServicesRequest) (*rpc.ServicesReply, error) {
	units, err := s.mods.Services.List(ctx, req.Query, req.Refresh)
	if err != nil {
		return nil, rpc.Status(err)
	}
	return &rpc.ServicesReply{Units: units}, nil
}

func (s *service) ServiceLogs(ctx context.Context, req *rpc.ServiceLogsRequest) (*rpc.ServiceLogsReply, error) {
	text, err := s.mods.Services.Logs(ctx, req.Unit, req.Lines)
	if err != nil {
		return nil, rpc.Status(err)
	}
	return &rpc.ServiceLogsReply{Text: text}, nil
}

func (s *service) Packages(ctx context.Context, req *rpc.PackagesRequest) (*rpc.PackagesReply, error) {
	stats, err := s.mods.Packages.Stats(ctx)
	if err != nil {
		return nil, rpc.Status(err)
	}
	pkgs, err := s.mods.Packages.Upgradable(ctx, req.Refresh)
	if err != nil {
		return nil, rpc.Status(err)
	}
	return &rpc.PackagesReply{Stats: stats, Upgradable: pkgs}, nil
}

func (s *service) Search(ctx context.Context, req *rpc.SearchRequest) (*rpc.SearchReply, error) {
	pkgs, err := s.mods.Packages.Search(ctx, req.Query)
	if err != nil {
		return nil, rpc.Status(err)
	}
	return &rpc.SearchReply{Packages: pkgs}, nil
}

// Watch relays bus events to the client until it goes away. The stream
// opens with a Resync event: the client should read the registry and then
// apply the events that follow.
func (s *service) Watch(req *rpc.WatchRequest, out rpc.EventSender) error {
	sub, err := s.bus.Subscribe(watchModule, bus.Filter{Kinds: req.Kinds, NameContains: req.NameContains})
	if err != nil {
		return rpc.Status(err)
	}
	defer sub.Close()

	meta := s.reg.Meta()
	if err := out.Send(model.ChangeEvent{Kind: model.EventResync, Tick: meta.Tick, At: meta.At}); err != nil {
		return err
	}

	for ev, err := range sub.Events(out.Context()) {
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return rpc.Status(err)
		}
		if err := out.Send(ev); err != nil {
			return err
		}
	}
	return nil
}
