package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"sysmate/internal/model"
)

type fakeSource struct {
	procs   []RawProcess
	system  RawSystem
	sysErr  error
	err     error
	block   chan struct{}
	byPID   map[int32]RawProcess
	readErr error
}

func (f *fakeSource) ReadProcessTable(ctx context.Context) ([]RawProcess, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.procs, f.err
}

func (f *fakeSource) ReadSystemCounters(context.Context) (RawSystem, error) {
	return f.system, f.sysErr
}

func (f *fakeSource) ReadProcess(_ context.Context, pid int32) (RawProcess, error) {
	if f.readErr != nil {
		return RawProcess{}, f.readErr
	}
	rp, ok := f.byPID[pid]
	if !ok {
		return RawProcess{}, ErrProcessGone
	}
	return rp, nil
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSampler(src Source, timeout time.Duration) *Sampler {
	return New(src, Options{Timeout: timeout, ClockTicks: 100, Now: func() time.Time { return fixedNow }})
}

func TestSampleOrdersByIdentityAndConvertsTicks(t *testing.T) {
	src := &fakeSource{
		procs: []RawProcess{
			{PID: 300, CreateTime: 1, Name: "c", CPUSeconds: 2.5},
			{PID: 100, CreateTime: 9, Name: "b"},
			{PID: 100, CreateTime: 3, Name: "a", RSSBytes: 4096},
		},
		system: RawSystem{NumCPU: 4, MemTotalBytes: 10, MemUsedBytes: 5},
	}
	snap, err := newTestSampler(src, time.Second).Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(snap.Processes) != 3 {
		t.Fatalf("got %d samples", len(snap.Processes))
	}
	names := []string{snap.Processes[0].Name, snap.Processes[1].Name, snap.Processes[2].Name}
	if names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("unexpected order %v", names)
	}
	if snap.Processes[2].CPUTicks != 250 {
		t.Fatalf("cpu ticks = %d, want 250", snap.Processes[2].CPUTicks)
	}
	if !snap.At.Equal(fixedNow) || !snap.Processes[0].At.Equal(fixedNow) {
		t.Fatal("samples must carry the snapshot timestamp")
	}
	if !snap.System.Valid || snap.System.NumCPU != 4 {
		t.Fatalf("unexpected system sample %+v", snap.System)
	}
}

func TestSampleTimeout(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	defer close(src.block)

	_, err := newTestSampler(src, 20*time.Millisecond).Sample(context.Background())
	if !errors.Is(err, ErrSampleTimeout) {
		t.Fatalf("expected ErrSampleTimeout, got %v", err)
	}
}

func TestSampleSystemFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{
		procs:  []RawProcess{{PID: 1, CreateTime: 1}},
		sysErr: errors.New("no /proc/stat"),
	}
	snap, err := newTestSampler(src, time.Second).Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.System.Valid {
		t.Fatal("system sample should be marked invalid")
	}
	if len(snap.Processes) != 1 {
		t.Fatal("process samples should survive a system read failure")
	}
}

func TestSampleProcessTableError(t *testing.T) {
	src := &fakeSource{err: errors.New("permission denied")}
	_, err := newTestSampler(src, time.Second).Sample(context.Background())
	if err == nil || errors.Is(err, ErrSampleTimeout) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestSampleOneDetectsReuse(t *testing.T) {
	src := &fakeSource{byPID: map[int32]RawProcess{
		100: {PID: 100, CreateTime: 5},
	}}
	s := newTestSampler(src, time.Second)

	if _, err := s.SampleOne(context.Background(), model.ProcessIdentity{PID: 100, StartTime: 5}); err != nil {
		t.Fatalf("SampleOne same instance: %v", err)
	}
	_, err := s.SampleOne(context.Background(), model.ProcessIdentity{PID: 100, StartTime: 0})
	if !errors.Is(err, ErrProcessGone) {
		t.Fatalf("reused pid should be gone, got %v", err)
	}
	alive, err := s.Alive(context.Background(), model.ProcessIdentity{PID: 7, StartTime: 1})
	if err != nil || alive {
		t.Fatalf("Alive(missing) = %v, %v", alive, err)
	}
}

func TestAlivePropagatesReadErrors(t *testing.T) {
	src := &fakeSource{readErr: errors.New("io")}
	if _, err := newTestSampler(src, time.Second).Alive(context.Background(), model.ProcessIdentity{PID: 1}); err == nil {
		t.Fatal("expected error")
	}
}
