package delta

import (
	"errors"
	"testing"
	"time"

	"sysmate/internal/model"
	"sysmate/internal/sampler"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func id(pid int32, start int64) model.ProcessIdentity {
	return model.ProcessIdentity{PID: pid, StartTime: start}
}

func snapAt(sec int, samples ...model.ResourceSample) sampler.Snapshot {
	at := t0.Add(time.Duration(sec) * time.Second)
	for i := range samples {
		samples[i].At = at
	}
	return sampler.Snapshot{At: at, Processes: samples}
}

func proc(pid int32, start int64, cpu uint64) model.ResourceSample {
	return model.ResourceSample{Identity: id(pid, start), Name: "p", CPUTicks: cpu}
}

func kinds(events []model.ChangeEvent, target model.ProcessIdentity) []model.EventKind {
	var out []model.EventKind
	for _, ev := range events {
		if ev.Process.Identity == target {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func TestCPURateFromTwoTicks(t *testing.T) {
	e := New(Options{ClockTicks: 100})
	p := id(42, 1)

	st, events, _ := e.Reconcile(NewState(), snapAt(0, proc(42, 1, 1000)))
	if got := kinds(events, p); len(got) != 1 || got[0] != model.EventAppeared {
		t.Fatalf("tick A events = %v", got)
	}

	st, events, diags := e.Reconcile(st, snapAt(1, proc(42, 1, 1500)))
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	if got := kinds(events, p); len(got) != 1 || got[0] != model.EventUpdated {
		t.Fatalf("tick B events = %v, want only updated", got)
	}
	view, ok := st.View(p)
	if !ok {
		t.Fatal("view missing")
	}
	// 500 ticks/s at 100 Hz is five CPUs' worth.
	if view.CPUPercent != 500 {
		t.Fatalf("cpu%% = %v, want 500", view.CPUPercent)
	}
}

func TestRatesClampNegativeDeltas(t *testing.T) {
	e := New(Options{})
	s1 := proc(7, 1, 900)
	s1.DiskReadBytes, s1.NetTxBytes = 10_000, 500
	s2 := proc(7, 1, 100)
	s2.DiskReadBytes, s2.NetTxBytes = 20, 10

	st, _, _ := e.Reconcile(NewState(), snapAt(0, s1))
	st, _, _ = e.Reconcile(st, snapAt(2, s2))
	v, _ := st.View(id(7, 1))
	if v.CPUPercent != 0 || v.DiskReadBps != 0 || v.NetTxBps != 0 {
		t.Fatalf("expected clamped rates, got %+v", v)
	}
}

func TestEndedAfterTwoMissingTicks(t *testing.T) {
	e := New(Options{MissingTicks: 2, GracePeriod: time.Minute})
	p := id(100, 1)

	st, _, _ := e.Reconcile(NewState(), snapAt(0, proc(100, 1, 0)))

	st, events, _ := e.Reconcile(st, snapAt(1))
	if got := kinds(events, p); len(got) != 0 {
		t.Fatalf("tick 2 should emit nothing for p, got %v", got)
	}
	if v, _ := st.View(p); v.State != model.Active || v.MissingTicks != 1 {
		t.Fatalf("after tick 2 view = %+v", v)
	}

	st, events, _ = e.Reconcile(st, snapAt(2))
	if got := kinds(events, p); len(got) != 1 || got[0] != model.EventEnded {
		t.Fatalf("tick 3 events = %v, want ended", got)
	}
	v, _ := st.View(p)
	if v.State != model.Gone || !v.GoneAt.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("after tick 3 view = %+v", v)
	}

	_, events, _ = e.Reconcile(st, snapAt(3))
	if got := kinds(events, p); len(got) != 0 {
		t.Fatalf("ended must be emitted once, got %v", got)
	}
}

func TestReappearingBeforeThresholdResetsCounter(t *testing.T) {
	e := New(Options{MissingTicks: 2})
	p := id(9, 9)

	st, _, _ := e.Reconcile(NewState(), snapAt(0, proc(9, 9, 100)))
	st, _, _ = e.Reconcile(st, snapAt(1))
	st, events, _ := e.Reconcile(st, snapAt(2, proc(9, 9, 300)))
	if got := kinds(events, p); len(got) != 1 || got[0] != model.EventUpdated {
		t.Fatalf("events = %v", got)
	}
	v, _ := st.View(p)
	if v.MissingTicks != 0 || v.State != model.Active {
		t.Fatalf("view = %+v", v)
	}
	// 200 ticks over the 2s since the last observation.
	if v.CPUPercent != 100 {
		t.Fatalf("cpu%% = %v, want 100", v.CPUPercent)
	}
}

func TestPIDReuseIsTwoIdentities(t *testing.T) {
	e := New(Options{MissingTicks: 2, GracePeriod: time.Minute})
	first, second := id(100, 0), id(100, 5)

	st, _, _ := e.Reconcile(NewState(), snapAt(0, proc(100, 0, 50)))
	st, events, _ := e.Reconcile(st, snapAt(1, proc(100, 5, 10)))

	if got := kinds(events, first); len(got) != 1 || got[0] != model.EventEnded {
		t.Fatalf("first identity events = %v, want ended", got)
	}
	if got := kinds(events, second); len(got) != 1 || got[0] != model.EventAppeared {
		t.Fatalf("second identity events = %v, want appeared", got)
	}
	if st.Len() != 2 {
		t.Fatalf("state should hold both identities, got %d", st.Len())
	}
	v, _ := st.View(second)
	if v.CPUPercent != 0 {
		t.Fatalf("new identity must not inherit counters, cpu%% = %v", v.CPUPercent)
	}
}

func TestGoneViewsPurgedAfterGrace(t *testing.T) {
	e := New(Options{MissingTicks: 1, GracePeriod: 2 * time.Second})
	p := id(1, 1)

	st, _, _ := e.Reconcile(NewState(), snapAt(0, proc(1, 1, 0)))
	st, _, _ = e.Reconcile(st, snapAt(1))
	if v, ok := st.View(p); !ok || v.State != model.Gone {
		t.Fatalf("expected gone view, got %+v ok=%v", v, ok)
	}
	st, _, _ = e.Reconcile(st, snapAt(2))
	if _, ok := st.View(p); !ok {
		t.Fatal("gone view purged before grace period")
	}
	st, _, _ = e.Reconcile(st, snapAt(3))
	if _, ok := st.View(p); ok {
		t.Fatal("gone view should be purged after grace period")
	}
}

func TestDuplicateSamplesKeepFirst(t *testing.T) {
	e := New(Options{})
	a := proc(5, 5, 10)
	a.Name = "first"
	b := proc(5, 5, 99)
	b.Name = "second"

	st, events, diags := e.Reconcile(NewState(), snapAt(0, a, b))
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if len(diags) != 1 {
		t.Fatalf("diags = %v", diags)
	}
	var dup *DuplicateSampleError
	if !errors.As(diags[0], &dup) || dup.Discarded != 1 || dup.Identity != id(5, 5) {
		t.Fatalf("unexpected diagnostic %v", diags[0])
	}
	if v, _ := st.View(id(5, 5)); v.Name != "first" {
		t.Fatalf("kept %q, want first", v.Name)
	}
}

func TestReconcileLeavesPreviousStateUntouched(t *testing.T) {
	e := New(Options{})
	st1, _, _ := e.Reconcile(NewState(), snapAt(0, proc(1, 1, 0)))
	_, _, _ = e.Reconcile(st1, snapAt(1))
	if v, _ := st1.View(id(1, 1)); v.MissingTicks != 0 {
		t.Fatalf("previous state mutated: %+v", v)
	}
}

func TestReconcileOne(t *testing.T) {
	e := New(Options{MissingTicks: 2})
	p := id(3, 3)
	st, _, _ := e.Reconcile(NewState(), snapAt(0, proc(3, 3, 0)))

	s := proc(3, 3, 50)
	s.At = t0.Add(500 * time.Millisecond)
	st, events := e.ReconcileOne(st, p, &s)
	if len(events) != 1 || events[0].Kind != model.EventUpdated {
		t.Fatalf("events = %+v", events)
	}
	if v, _ := st.View(p); v.CPUPercent != 100 {
		t.Fatalf("cpu%% = %v, want 100", v.CPUPercent)
	}

	st, events = e.ReconcileOne(st, p, nil)
	if len(events) != 1 || events[0].Kind != model.EventEnded {
		t.Fatalf("events = %+v", events)
	}
	if v, _ := st.View(p); v.State != model.Gone {
		t.Fatalf("view = %+v", v)
	}
	if _, events = e.ReconcileOne(st, p, nil); len(events) != 0 {
		t.Fatal("ending twice must not emit")
	}
}

func TestSystemView(t *testing.T) {
	e := New(Options{})
	s1 := snapAt(0)
	s1.System = model.SystemSample{At: s1.At, Valid: true, CPUBusySeconds: 10, CPUTotalSeconds: 100, MemTotalBytes: 200, MemUsedBytes: 50, NetRxBytes: 1000}
	s2 := snapAt(2)
	s2.System = model.SystemSample{At: s2.At, Valid: true, CPUBusySeconds: 15, CPUTotalSeconds: 110, MemTotalBytes: 200, MemUsedBytes: 100, NetRxBytes: 3000}

	st, _, _ := e.Reconcile(NewState(), s1)
	st, _, _ = e.Reconcile(st, s2)
	sys := st.System()
	if sys.CPUPercent != 50 || sys.MemPercent != 50 || sys.NetRxBps != 1000 {
		t.Fatalf("system view = %+v", sys)
	}

	st, _, _ = e.Reconcile(st, snapAt(3))
	if st.System().CPUPercent != 50 {
		t.Fatal("invalid system sample should keep the previous view")
	}
}
