package trace

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTicks          int
	Episodes            int
	UnstableTicks       int
	TotalStaticContacts int
	TotalSelfContacts   int
	MeanKineticEnergy   float64
	MaxKineticEnergy    float64
	// FinalKineticEnergy maps episode -> kinetic energy at its last tick.
	// Episodes whose last tick was unstable are absent.
	FinalKineticEnergy map[int]float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		FinalKineticEnergy: make(map[int]float64),
	}
	if st == nil {
		return summary
	}

	summary.TotalTicks = len(st.Ticks)
	summary.Episodes = len(st.Resets)
	if len(st.Ticks) == 0 {
		return summary
	}
	summary.Episodes++ // the first episode has no reset record

	energies := make([]float64, 0, len(st.Ticks))
	for _, r := range st.Ticks {
		if r.Unstable {
			summary.UnstableTicks++
			delete(summary.FinalKineticEnergy, r.Episode)
			continue
		}
		summary.TotalStaticContacts += r.StaticContacts
		summary.TotalSelfContacts += r.SelfContacts
		energies = append(energies, r.KineticEnergy)
		summary.FinalKineticEnergy[r.Episode] = r.KineticEnergy
	}
	if len(energies) > 0 {
		summary.MeanKineticEnergy = stat.Mean(energies, nil)
		summary.MaxKineticEnergy = floats.Max(energies)
	}
	return summary
}
