package core

import "time"

// Verdict is the terminal outcome of one Spec for one monitoring
// run.  Immutable once emitted; exactly one Verdict per Spec per run.
type Verdict struct {
	Spec   string `json:"spec"`
	Topic  string `json:"topic"`
	Mode   Mode   `json:"mode"`
	Status Status `json:"status"`

	// Evidence records, per target, whether and when it matched.
	Evidence []TargetEvidence `json:"evidence,omitempty"`

	// Value is the final aggregated scalar for numeric modes.
	Value *float64 `json:"value,omitempty"`

	// Rate is the final arrival-rate estimate for frequency
	// targets.
	Rate *float64 `json:"rate,omitempty"`

	ActivatedAt time.Time `json:"activatedAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// TargetEvidence says what happened to one target.
type TargetEvidence struct {
	Index   int       `json:"index"`
	Kind    string    `json:"kind"`
	Matched bool      `json:"matched"`
	At      time.Time `json:"at,omitempty"`
}

// Snapshot is a heartbeat view of a non-terminal Evaluator: its
// status and current aggregate, emitted at the configured rate.
type Snapshot struct {
	Spec   string    `json:"spec"`
	Topic  string    `json:"topic"`
	Mode   Mode      `json:"mode"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`

	// Matched is the number of targets matched so far
	// (exists/absent modes).
	Matched int `json:"matched"`

	// Events is the number of events routed to this specification,
	// whatever the mode.
	Events int `json:"events"`

	// Count is the number of aggregated observations (numeric
	// modes).
	Count int      `json:"count"`
	Mean  *float64 `json:"mean,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Last  *float64 `json:"last,omitempty"`
	Rate  *float64 `json:"rate,omitempty"`
}
