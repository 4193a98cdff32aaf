package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sysmate/internal/delta"
	"sysmate/internal/model"
	"sysmate/internal/registry"
	"sysmate/internal/sampler"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type step struct {
	snap sampler.Snapshot
	err  error
}

type scriptedSampler struct {
	mu    sync.Mutex
	steps []step
	calls int
	one   map[model.ProcessIdentity]model.ResourceSample
	log   *[]string
}

func (s *scriptedSampler) Sample(ctx context.Context) (sampler.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		*s.log = append(*s.log, "sample")
	}
	if s.calls >= len(s.steps) {
		last := s.steps[len(s.steps)-1]
		return last.snap, last.err
	}
	st := s.steps[s.calls]
	s.calls++
	return st.snap, st.err
}

func (s *scriptedSampler) SampleOne(_ context.Context, id model.ProcessIdentity) (model.ResourceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok := s.one[id]; ok {
		return rs, nil
	}
	return model.ResourceSample{}, sampler.ErrProcessGone
}

type recordingPublisher struct {
	mu     sync.Mutex
	ticks  []uint64
	events []model.ChangeEvent
	log    *[]string
}

func (p *recordingPublisher) Publish(tick uint64, events []model.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.log != nil {
		*p.log = append(*p.log, "publish")
	}
	p.ticks = append(p.ticks, tick)
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) kinds() []model.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

func snapshot(sec int, pids ...int32) sampler.Snapshot {
	at := t0.Add(time.Duration(sec) * time.Second)
	snap := sampler.Snapshot{At: at}
	for _, pid := range pids {
		snap.Processes = append(snap.Processes, model.ResourceSample{
			Identity: model.ProcessIdentity{PID: pid, StartTime: 1},
			Name:     "proc",
			At:       at,
			CPUTicks: uint64(sec * 10),
		})
	}
	return snap
}

func newTestMonitor(s Sampler, pub Publisher) (*Monitor, *registry.Registry) {
	reg, w := registry.New()
	engine := delta.New(delta.Options{MissingTicks: 2, GracePeriod: time.Minute})
	return New(s, engine, w, pub, Options{Interval: time.Hour, StaleAfter: 3}), reg
}

func TestTickPublishesRegistryThenBus(t *testing.T) {
	var order []string
	s := &scriptedSampler{steps: []step{{snap: snapshot(0, 10, 20)}, {snap: snapshot(1, 10)}}, log: &order}
	pub := &recordingPublisher{log: &order}
	m, reg := newTestMonitor(s, pub)

	ctx := context.Background()
	if err := m.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.tick(ctx); err != nil {
		t.Fatal(err)
	}

	if meta := reg.Meta(); meta.Tick != 2 || meta.Active != 2 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	want := []string{"sample", "publish", "sample", "publish"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v", order)
		}
	}
	got := pub.kinds()
	if len(got) != 3 || got[0] != model.EventAppeared || got[2] != model.EventUpdated {
		t.Fatalf("events = %v", got)
	}
}

func TestSamplingFailuresMarkStaleAndKeepViews(t *testing.T) {
	boom := errors.New("procfs unreadable")
	s := &scriptedSampler{steps: []step{
		{snap: snapshot(0, 10)},
		{err: sampler.ErrSampleTimeout},
		{err: boom},
		{err: boom},
		{snap: snapshot(4, 10)},
	}}
	m, reg := newTestMonitor(s, &recordingPublisher{})
	ctx := context.Background()

	_ = m.tick(ctx)
	for i := 1; i <= 3; i++ {
		if err := m.tick(ctx); err == nil {
			t.Fatalf("tick %d should fail", i)
		}
		meta := reg.Meta()
		if meta.Failures != i {
			t.Fatalf("failures = %d, want %d", meta.Failures, i)
		}
		if meta.Stale != (i >= 3) {
			t.Fatalf("after %d failures stale = %v", i, meta.Stale)
		}
		if len(reg.GetAll()) != 1 || meta.Tick != 1 {
			t.Fatalf("prior views not retained: %+v", meta)
		}
	}

	if err := m.tick(ctx); err != nil {
		t.Fatal(err)
	}
	if meta := reg.Meta(); meta.Stale || meta.Failures != 0 || meta.Tick != 2 {
		t.Fatalf("did not recover: %+v", meta)
	}
}

func TestRefreshProcessEndsVanishedTarget(t *testing.T) {
	s := &scriptedSampler{steps: []step{{snap: snapshot(0, 10, 20)}}}
	pub := &recordingPublisher{}
	m, reg := newTestMonitor(s, pub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	victim := model.ProcessIdentity{PID: 10, StartTime: 1}
	if err := m.RefreshProcess(ctx, victim); err != nil {
		t.Fatalf("RefreshProcess: %v", err)
	}
	view, err := reg.Get(victim)
	if err != nil {
		t.Fatal(err)
	}
	if view.State != model.Gone {
		t.Fatalf("expected gone, got %s", view.State)
	}
	if reg.Active(victim) {
		t.Fatal("vanished target still active")
	}
	kinds := pub.kinds()
	if kinds[len(kinds)-1] != model.EventEnded {
		t.Fatalf("expected trailing Ended, got %v", kinds)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := m.RefreshAll(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestRefreshProcessUpdatesLiveTarget(t *testing.T) {
	s := &scriptedSampler{steps: []step{{snap: snapshot(0, 10)}}}
	id := model.ProcessIdentity{PID: 10, StartTime: 1}
	s.one = map[model.ProcessIdentity]model.ResourceSample{
		id: {Identity: id, Name: "proc", At: t0.Add(time.Second), CPUTicks: 100, RSSBytes: 1 << 20},
	}
	m, reg := newTestMonitor(s, &recordingPublisher{})
	ctx := context.Background()
	_ = m.tick(ctx)

	if err := m.serve(refreshRequest{ctx: ctx, id: id}); err != nil {
		t.Fatal(err)
	}
	view, err := reg.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if view.RSSBytes != 1<<20 || view.CPUPercent != 100 {
		t.Fatalf("refresh not applied: %+v", view)
	}
}

func TestRefreshAllRunsExtraTick(t *testing.T) {
	s := &scriptedSampler{steps: []step{{snap: snapshot(0, 10)}, {snap: snapshot(1, 10, 11)}}}
	m, reg := newTestMonitor(s, &recordingPublisher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	if err := m.RefreshAll(ctx); err != nil {
		t.Fatal(err)
	}
	if meta := reg.Meta(); meta.Tick != 2 || meta.Active != 2 {
		t.Fatalf("unexpected meta after refresh: %+v", meta)
	}
}
