package trace

// TraceLevel controls the verbosity of tick tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTicks records one TickRecord per fixed tick and every reset.
	TraceLevelTicks TraceLevel = "ticks"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:  true,
	TraceLevelTicks: true,
	"":              true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level   TraceLevel `json:"level" msgpack:"level"`
	Backend string     `json:"backend" msgpack:"backend"` // backend that produced the records
}

// SimulationTrace collects tick records during a simulation.
type SimulationTrace struct {
	Config TraceConfig   `json:"config" msgpack:"config"`
	Ticks  []TickRecord  `json:"ticks" msgpack:"ticks"`
	Resets []ResetRecord `json:"resets" msgpack:"resets"`
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config: config,
		Ticks:  make([]TickRecord, 0),
		Resets: make([]ResetRecord, 0),
	}
}

// Enabled reports whether records should be collected. Safe on nil.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelTicks
}

// RecordTick appends a tick record.
func (st *SimulationTrace) RecordTick(record TickRecord) {
	st.Ticks = append(st.Ticks, record)
}

// RecordReset appends an episode boundary record.
func (st *SimulationTrace) RecordReset(record ResetRecord) {
	st.Resets = append(st.Resets, record)
}
