package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe("synthesis", 500)
	w.Observe("synthesis", 700)
	w.Observe("synthesis", 900)
	w.ObserveIndicator("cache_hit")
	w.ObserveIndicator("cache_hit")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "synthesis" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "synthesis")
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
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "cache_hit" {
		t.Fatalf("Indicators[0].Name = %q", snap.Indicators[0].Name)
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestStageWindowWrapsRing(t *testing.T) {
	w := NewStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("generation", float64(100*i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %d, want window size 4", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", snap.Stages[0].LastMS)
	}
}

func TestStageWindowReset(t *testing.T) {
	w := NewStageWindow(4)
	w.Observe("recognition", 100)
	w.Reset()
	if snap := w.Snapshot(); len(snap.Stages) != 0 || len(snap.Indicators) != 0 {
		t.Fatal("Reset should clear all samples and indicators")
	}
}
