package core

import (
	"time"

	"github.com/rovalabs/rova/event"
)

// Evaluator is the per-Spec state machine:
//
//	PENDING -> ACTIVE -> {PASSED, FAILED, TIMED_OUT}
//
// An Evaluator has no clocks and no goroutines of its own.  All
// timing arrives through the timestamps on its inputs: events via
// HandleEvent, the timein deadline via Activate, the timeout
// deadline via Expire, and the run's stop signal via Finish or
// Abort.  The caller (the scheduler) must serialize these calls;
// given that, evaluation is deterministic.
//
// Each terminal transition returns the one Verdict for this Spec.
// Every call after that returns nil, so the caller can forward
// whatever non-nil Verdict it sees and get exactly-once emission.
type Evaluator struct {
	spec *Spec

	status      Status
	activatedAt time.Time

	// matched[i] is when target i first matched (zero if it
	// hasn't).
	matched []time.Time

	// cursor indexes the next target that must match under
	// temporal consistency.
	cursor int

	// outOfOrderAt is when an event first matched a target ahead
	// of the cursor while the cursor target was still unmatched.
	// Zero if no such event is pending.
	outOfOrderAt time.Time

	// seen counts every event routed here, whatever the mode.  The
	// run's message totals come from this, not the aggregate.
	seen int

	agg Aggregate
}

// NewEvaluator creates a PENDING Evaluator for a compiled Spec.
func NewEvaluator(spec *Spec) *Evaluator {
	return &Evaluator{
		spec:    spec,
		status:  Pending,
		matched: make([]time.Time, len(spec.Targets)),
	}
}

// Spec returns the Spec under evaluation.
func (e *Evaluator) Spec() *Spec {
	return e.spec
}

// Status returns the current status.
func (e *Evaluator) Status() Status {
	return e.status
}

// Terminal reports whether this Evaluator has produced its Verdict.
func (e *Evaluator) Terminal() bool {
	return e.status.Terminal()
}

// Activate transitions PENDING to ACTIVE.  Called when the timein
// deadline fires.
func (e *Evaluator) Activate(at time.Time) {
	if e.status != Pending {
		return
	}
	e.status = Active
	e.activatedAt = at
}

// HandleEvent consumes one event for this Spec's topic.
//
// While PENDING, events are not tested against targets; in numeric
// modes they still feed the aggregate when the Spec's Warmup flag is
// set.  Events for other topics are ignored.
func (e *Evaluator) HandleEvent(ev *event.Event) *Verdict {
	if e.Terminal() || ev.Topic != e.spec.Topic {
		return nil
	}
	e.seen++

	if e.status == Pending {
		if e.spec.Mode.Numeric() && e.spec.Warmup {
			e.observe(ev)
		}
		return nil
	}

	switch e.spec.Mode {
	case Exists:
		if e.spec.TemporalConsistency {
			return e.existsOrdered(ev)
		}
		return e.existsUnordered(ev)
	case Absent:
		return e.absent(ev)
	default:
		e.observe(ev)
		return nil
	}
}

// existsUnordered marks every not-yet-matched target the event
// satisfies.  Once all targets have matched at least once, the
// requirement has passed.
func (e *Evaluator) existsUnordered(ev *event.Event) *Verdict {
	all := true
	for i, t := range e.spec.Targets {
		if !e.matched[i].IsZero() {
			continue
		}
		if ok, _ := t.Match(ev, e.spec.Epsilon); ok {
			e.matched[i] = ev.At
		} else {
			all = false
		}
	}
	if all {
		return e.terminate(Passed, ev.At)
	}
	return nil
}

// existsOrdered only lets the target at the cursor match.  An event
// matching a target ahead of the cursor is ignored until the
// tolerance slack is exhausted, at which point the requirement has
// failed.
func (e *Evaluator) existsOrdered(ev *event.Event) *Verdict {
	cur := e.spec.Targets[e.cursor]
	if ok, _ := cur.Match(ev, e.spec.Epsilon); ok {
		if !e.outOfOrderAt.IsZero() && ev.At.Sub(e.outOfOrderAt) >= e.spec.Tolerance {
			return e.terminate(Failed, ev.At)
		}
		e.outOfOrderAt = time.Time{}
		e.matched[e.cursor] = ev.At
		e.cursor++
		if e.cursor == len(e.spec.Targets) {
			return e.terminate(Passed, ev.At)
		}
		return nil
	}

	for i := e.cursor + 1; i < len(e.spec.Targets); i++ {
		ok, _ := e.spec.Targets[i].Match(ev, e.spec.Epsilon)
		if !ok {
			continue
		}
		if e.outOfOrderAt.IsZero() {
			e.outOfOrderAt = ev.At
		}
		if ev.At.Sub(e.outOfOrderAt) >= e.spec.Tolerance {
			return e.terminate(Failed, ev.At)
		}
		break
	}
	return nil
}

// absent fails the moment any target is satisfied.
func (e *Evaluator) absent(ev *event.Event) *Verdict {
	for i, t := range e.spec.Targets {
		if ok, _ := t.Match(ev, e.spec.Epsilon); ok {
			e.matched[i] = ev.At
			return e.terminate(Failed, ev.At)
		}
	}
	return nil
}

// observe feeds the aggregate for numeric modes.  A missing field
// simply doesn't count.
func (e *Evaluator) observe(ev *event.Event) {
	t := e.spec.Targets[0]
	if t.Freq != nil {
		e.agg.Arrival(ev.At)
		return
	}
	if v, ok := ev.Number(t.Field); ok {
		e.agg.Observe(v, ev.At)
	}
}

// Expire concludes evaluation because the timeout deadline fired.
func (e *Evaluator) Expire(at time.Time) *Verdict {
	return e.conclude(at)
}

// Finish concludes evaluation because the run stopped gracefully
// (the target node went away).  For a Spec with no timeout this is
// the moment its verdict is computed.
func (e *Evaluator) Finish(at time.Time) *Verdict {
	return e.conclude(at)
}

// conclude renders the end-of-window verdict: numeric modes compare
// their aggregate, absent passes, and an incomplete exists times out
// (the requirement was never exercised, not actively violated).
func (e *Evaluator) conclude(at time.Time) *Verdict {
	if e.Terminal() {
		return nil
	}
	switch e.spec.Mode {
	case Exists:
		return e.terminate(TimedOut, at)
	case Absent:
		return e.terminate(Passed, at)
	default:
		return e.concludeNumeric(at)
	}
}

// Abort forces a terminal status: an incomplete requirement is
// TIMED_OUT, never left non-terminal.
func (e *Evaluator) Abort(at time.Time) *Verdict {
	if e.Terminal() {
		return nil
	}
	return e.terminate(TimedOut, at)
}

func (e *Evaluator) concludeNumeric(at time.Time) *Verdict {
	t := e.spec.Targets[0]

	if t.Freq != nil {
		rate, ok := e.agg.Rate()
		if !ok {
			// Not enough arrivals to estimate a rate: the
			// requirement was never exercised.
			return e.terminate(TimedOut, at)
		}
		if t.Freq.Min <= rate && rate <= t.Freq.Max {
			return e.terminate(Passed, at)
		}
		return e.terminate(Failed, at)
	}

	var v float64
	var ok bool
	switch e.spec.Mode {
	case Average:
		v, ok = e.agg.Mean()
	case Max:
		v = e.agg.Max
		ok = e.agg.Count > 0
	case Min:
		v = e.agg.Min
		ok = e.agg.Count > 0
	case Metric:
		v, ok = e.agg.LastValue()
	}
	if !ok {
		return e.terminate(TimedOut, at)
	}
	if e.spec.Comparator.Compare(v, t.Value, e.spec.Epsilon) {
		return e.terminate(Passed, at)
	}
	return e.terminate(Failed, at)
}

func (e *Evaluator) terminate(status Status, at time.Time) *Verdict {
	e.status = status

	v := &Verdict{
		Spec:        e.spec.Name,
		Topic:       e.spec.Topic,
		Mode:        e.spec.Mode,
		Status:      status,
		Evidence:    make([]TargetEvidence, len(e.spec.Targets)),
		ActivatedAt: e.activatedAt,
		EndedAt:     at,
	}

	for i, t := range e.spec.Targets {
		v.Evidence[i] = TargetEvidence{
			Index:   i,
			Kind:    t.Kind(),
			Matched: !e.matched[i].IsZero(),
			At:      e.matched[i],
		}
	}

	if e.spec.Mode.Numeric() {
		t := e.spec.Targets[0]
		if t.Freq != nil {
			if rate, ok := e.agg.Rate(); ok {
				v.Rate = &rate
			}
		} else {
			var val float64
			var ok bool
			switch e.spec.Mode {
			case Average:
				val, ok = e.agg.Mean()
			case Max:
				val = e.agg.Max
				ok = e.agg.Count > 0
			case Min:
				val = e.agg.Min
				ok = e.agg.Count > 0
			case Metric:
				val, ok = e.agg.LastValue()
			}
			if ok {
				v.Value = &val
			}
		}
	}

	return v
}

// Snapshot reports the Evaluator's current state for the heartbeat.
func (e *Evaluator) Snapshot(at time.Time) *Snapshot {
	s := &Snapshot{
		Spec:   e.spec.Name,
		Topic:  e.spec.Topic,
		Mode:   e.spec.Mode,
		Status: e.status,
		At:     at,
		Events: e.seen,
		Count:  e.agg.Count,
	}

	for _, m := range e.matched {
		if !m.IsZero() {
			s.Matched++
		}
	}

	if e.spec.Mode.Numeric() && e.agg.Count > 0 {
		if mean, ok := e.agg.Mean(); ok {
			s.Mean = &mean
		}
		min, max, last := e.agg.Min, e.agg.Max, e.agg.Last
		s.Min, s.Max, s.Last = &min, &max, &last
		if rate, ok := e.agg.Rate(); ok {
			s.Rate = &rate
		}
	}

	return s
}
