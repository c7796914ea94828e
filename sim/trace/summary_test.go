package trace

import (
	"math"
	"testing"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalTicks != 0 || summary.Episodes != 0 {
		t.Errorf("expected zero summary, got %+v", summary)
	}
	if summary.FinalKineticEnergy == nil {
		t.Error("expected non-nil final energy map")
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalTicks != 0 || summary.UnstableTicks != 0 {
		t.Errorf("expected 0 ticks, got %+v", summary)
	}
	if summary.MeanKineticEnergy != 0 || summary.MaxKineticEnergy != 0 {
		t.Error("expected 0 energy values")
	}
}

func TestSummarize_PopulatedTrace_CorrectAggregates(t *testing.T) {
	// GIVEN two episodes of ticks, one unstable tick
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelTicks})
	st.RecordTick(TickRecord{Tick: 1, Episode: 0, KineticEnergy: 1, StaticContacts: 2})
	st.RecordTick(TickRecord{Tick: 2, Episode: 0, KineticEnergy: 3, StaticContacts: 1, SelfContacts: 4})
	st.RecordReset(ResetRecord{Tick: 2, Episode: 1})
	st.RecordTick(TickRecord{Tick: 3, Episode: 1, KineticEnergy: 2})
	st.RecordTick(TickRecord{Tick: 4, Episode: 1, Unstable: true})

	// WHEN summarized
	summary := Summarize(st)

	// THEN aggregates skip the unstable tick
	if summary.TotalTicks != 4 {
		t.Errorf("expected 4 ticks, got %d", summary.TotalTicks)
	}
	if summary.Episodes != 2 {
		t.Errorf("expected 2 episodes, got %d", summary.Episodes)
	}
	if summary.UnstableTicks != 1 {
		t.Errorf("expected 1 unstable tick, got %d", summary.UnstableTicks)
	}
	if summary.TotalStaticContacts != 3 || summary.TotalSelfContacts != 4 {
		t.Errorf("unexpected contacts: %+v", summary)
	}
	if math.Abs(summary.MeanKineticEnergy-2) > 1e-12 {
		t.Errorf("expected mean energy 2, got %v", summary.MeanKineticEnergy)
	}
	if summary.MaxKineticEnergy != 3 {
		t.Errorf("expected max energy 3, got %v", summary.MaxKineticEnergy)
	}
	if summary.FinalKineticEnergy[0] != 3 {
		t.Errorf("expected episode 0 final energy 3, got %v", summary.FinalKineticEnergy[0])
	}
	if e, ok := summary.FinalKineticEnergy[1]; ok {
		t.Errorf("expected episode 1 to end unstable, got final energy %v", e)
	}
}
