package delta

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"sysmate/internal/model"
)

// decodeTicks turns generated integers into raw samples drawn from a small
// pid/start-time space so that reuse and duplicates happen often.
func decodeTicks(raw [][]int64) [][]model.ResourceSample {
	out := make([][]model.ResourceSample, len(raw))
	for i, tick := range raw {
		for _, n := range tick {
			pid := int32(n%4) + 1
			start := (n / 4) % 3
			cpu := uint64(n / 12)
			out[i] = append(out[i], proc(pid, start, cpu))
		}
	}
	return out
}

func runTicks(e *Engine, ticks [][]model.ResourceSample, check func(State, []model.ChangeEvent) bool) bool {
	st := NewState()
	for i, samples := range ticks {
		var events []model.ChangeEvent
		st, events, _ = e.Reconcile(st, snapAt(i, samples...))
		if !check(st, events) {
			return false
		}
	}
	return true
}

func tickGen() gopter.Gen {
	return gen.SliceOf(gen.SliceOf(gen.Int64Range(0, 12*500)))
}

func TestReconcileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identities stay unique", prop.ForAll(
		func(raw [][]int64) bool {
			e := New(Options{MissingTicks: 2})
			return runTicks(e, decodeTicks(raw), func(st State, _ []model.ChangeEvent) bool {
				seen := make(map[model.ProcessIdentity]struct{})
				for _, v := range st.Views() {
					if _, dup := seen[v.Identity]; dup {
						return false
					}
					seen[v.Identity] = struct{}{}
				}
				return len(seen) == st.Len()
			})
		},
		tickGen(),
	))

	properties.Property("rates are never negative", prop.ForAll(
		func(raw [][]int64) bool {
			e := New(Options{})
			return runTicks(e, decodeTicks(raw), func(st State, _ []model.ChangeEvent) bool {
				for _, v := range st.Views() {
					if v.CPUPercent < 0 || v.DiskReadBps < 0 || v.DiskWriteBps < 0 || v.NetRxBps < 0 || v.NetTxBps < 0 {
						return false
					}
				}
				return true
			})
		},
		tickGen(),
	))

	properties.Property("each identity ends at most once per lifetime", prop.ForAll(
		func(raw [][]int64) bool {
			e := New(Options{MissingTicks: 2, GracePeriod: 1 << 62})
			ended := make(map[model.ProcessIdentity]int)
			appeared := make(map[model.ProcessIdentity]int)
			return runTicks(e, decodeTicks(raw), func(_ State, events []model.ChangeEvent) bool {
				for _, ev := range events {
					switch ev.Kind {
					case model.EventEnded:
						ended[ev.Process.Identity]++
					case model.EventAppeared:
						appeared[ev.Process.Identity]++
					}
					if ended[ev.Process.Identity] > appeared[ev.Process.Identity] {
						return false
					}
				}
				return true
			})
		},
		tickGen(),
	))

	properties.TestingRun(t)
}
