package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(8)
	w.Observe(StageFirstFragment, 500)
	w.Observe(StageFirstFragment, 700)
	w.Observe(StageFirstFragment, 900)
	w.ObserveIndicator("outcome_completed")
	w.ObserveIndicator("outcome_completed")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageFirstFragment {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageFirstFragment)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator counted twice", snap.Indicators)
	}
}

func TestTurnStageWindowWraps(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe(StagePersist, 1)
	w.Observe(StagePersist, 2)
	w.Observe(StagePersist, 3)

	snap := w.Snapshot()
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("Samples = %d, want 2 after wrap", snap.Stages[0].Samples)
	}
	if snap.Stages[0].AvgMS != 2.5 {
		t.Fatalf("AvgMS = %.2f, want 2.5", snap.Stages[0].AvgMS)
	}
}

func TestMetricsRecordTurn(t *testing.T) {
	m := NewMetricsWithRegistry("test", prometheus.NewRegistry())
	m.ObserveFirstFragment(120 * time.Millisecond)
	m.ObserveStream(time.Second, 7)
	m.IncTurnOutcome("completed")
	m.IncStoreError("save")

	if got := testutil.ToFloat64(m.StreamFragments); got != 7 {
		t.Fatalf("stream_fragments_total = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.TurnOutcomes.WithLabelValues("completed")); got != 1 {
		t.Fatalf("turn_outcomes_total{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreErrors.WithLabelValues("save")); got != 1 {
		t.Fatalf("store_errors_total{save} = %v, want 1", got)
	}

	snap := m.SnapshotTurnStages()
	if len(snap.Stages) != 2 {
		t.Fatalf("stages = %+v, want first_fragment and stream_total", snap.Stages)
	}

	var nilMetrics *Metrics
	nilMetrics.IncTurnOutcome("completed")
	if got := nilMetrics.SnapshotTurnStages(); len(got.Stages) != 0 {
		t.Fatalf("nil metrics snapshot = %+v", got)
	}
}
