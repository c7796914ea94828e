// Package trace provides per-tick trace recording for cloth simulation runs.
// This package has no dependencies on sim/ or its sub-packages; it stores pure data types.
package trace

// TickRecord captures the observable outcome of one fixed tick.
type TickRecord struct {
	Tick           int64   `json:"tick" msgpack:"tick"`
	Episode        int     `json:"episode" msgpack:"episode"`
	KineticEnergy  float64 `json:"kinetic_energy" msgpack:"kinetic_energy"` // 0 when Unstable
	StaticContacts int     `json:"static_contacts" msgpack:"static_contacts"`
	SelfContacts   int     `json:"self_contacts" msgpack:"self_contacts"`
	Unstable       bool    `json:"unstable" msgpack:"unstable"` // the step produced non-finite node state
}

// ResetRecord captures an episode boundary (ResetToInitialState).
type ResetRecord struct {
	Tick    int64 `json:"tick" msgpack:"tick"`
	Episode int   `json:"episode" msgpack:"episode"` // the episode that starts after the reset
}
