package core

import "time"

// Aggregate is the running summary an Evaluator keeps for numeric
// and frequency targets.  Only these statistics are retained; the
// full event history is intentionally not buffered, so memory per
// specification is O(1).
type Aggregate struct {
	Count int       `json:"count"`
	Sum   float64   `json:"sum"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Last  float64   `json:"last"`
	First time.Time `json:"first"`
	End   time.Time `json:"end"`
}

// Observe folds one field value into the summary.
func (a *Aggregate) Observe(v float64, at time.Time) {
	if a.Count == 0 || v < a.Min {
		a.Min = v
	}
	if a.Count == 0 || v > a.Max {
		a.Max = v
	}
	a.Sum += v
	a.Last = v
	a.arrive(at)
}

// Arrival records an event arrival without a value.  Used by
// frequency targets, where only count and the first/last timestamps
// matter.
func (a *Aggregate) Arrival(at time.Time) {
	a.arrive(at)
}

func (a *Aggregate) arrive(at time.Time) {
	if a.Count == 0 || at.Before(a.First) {
		a.First = at
	}
	if a.Count == 0 || at.After(a.End) {
		a.End = at
	}
	a.Count++
}

// Mean returns the running mean.  False if nothing was observed.
func (a *Aggregate) Mean() (float64, bool) {
	if a.Count == 0 {
		return 0, false
	}
	return a.Sum / float64(a.Count), true
}

// Rate returns the arrival rate in events/second computed from the
// first and last timestamps.  Defined only for two or more arrivals.
func (a *Aggregate) Rate() (float64, bool) {
	if a.Count < 2 {
		return 0, false
	}
	span := a.End.Sub(a.First).Seconds()
	if span <= 0 {
		return 0, false
	}
	return float64(a.Count) / span, true
}

// LastValue returns the most recently observed value.
func (a *Aggregate) LastValue() (float64, bool) {
	if a.Count == 0 {
		return 0, false
	}
	return a.Last, true
}
