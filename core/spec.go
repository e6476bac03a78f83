package core

import (
	"fmt"
	"time"
)

// Spec is one compiled functional requirement: a topic, a mode, an
// ordered list of targets, and the mode's parameters.  A Spec is
// built once at configuration-compile time and is immutable for the
// monitoring run.
type Spec struct {
	// Name identifies this requirement in verdicts and reports.
	Name string `json:"name" yaml:"name"`

	// Topic is the single topic this requirement observes.
	Topic string `json:"topic" yaml:"topic"`

	Mode Mode `json:"mode" yaml:"mode"`

	// Targets is ordered.  Order matters only when
	// TemporalConsistency is set.
	Targets []*Target `json:"targets" yaml:"targets"`

	// TemporalConsistency requires targets to be satisfied in their
	// declared order.  Exists/absent only.
	TemporalConsistency bool `json:"temporalConsistency,omitempty" yaml:"temporalConsistency,omitempty"`

	// Tolerance is the time slack allowed for out-of-order matches
	// under TemporalConsistency.
	Tolerance time.Duration `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`

	// Epsilon is the absolute closeness bound for numeric equality.
	Epsilon float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`

	// Timein is the warm-up delay before active evaluation begins.
	Timein time.Duration `json:"timein,omitempty" yaml:"timein,omitempty"`

	// Timeout is the deadline, measured like Timein from the
	// monitoring start, by which the requirement must conclude.
	// Zero means unbounded: the verdict then comes at the run's
	// stop signal.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Comparator relates the aggregated value to the target value.
	// Numeric modes only.
	Comparator Comparator `json:"comparator,omitempty" yaml:"comparator,omitempty"`

	// Warmup, when set, lets events arriving during the timein
	// phase feed the aggregate in numeric modes.
	Warmup bool `json:"warmup,omitempty" yaml:"warmup,omitempty"`

	compiled bool
}

// Compile validates the Spec's field combinations and compiles any
// expr targets.  All authoring errors surface here, before
// monitoring starts, with a diagnostic naming the spec.
func (s *Spec) Compile() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("spec '%s' (topic '%s'): %s", s.Name, s.Topic, fmt.Sprintf(format, args...))
	}

	if s.Topic == "" {
		return fail("no topic")
	}
	mode, err := ParseMode(string(s.Mode))
	if err != nil {
		return fail("%s", err)
	}
	s.Mode = mode
	if len(s.Targets) == 0 {
		return fail("no targets")
	}
	if s.Tolerance < 0 || s.Timein < 0 || s.Timeout < 0 {
		return fail("negative duration")
	}
	if s.Timeout != 0 && s.Timeout <= s.Timein {
		return fail("timeout %v must exceed timein %v", s.Timeout, s.Timein)
	}

	switch s.Mode {
	case Exists, Absent:
		if s.Comparator != "" {
			return fail("comparator applies only to numeric modes")
		}
		for i, t := range s.Targets {
			switch t.Kind() {
			case "equality", "expr":
			default:
				return fail("target %d: %s target not allowed in %s mode", i, t.Kind(), s.Mode)
			}
		}
	default:
		if len(s.Targets) != 1 {
			return fail("%s mode takes exactly one target", s.Mode)
		}
		if s.TemporalConsistency {
			return fail("temporal_consistency applies only to exists/absent")
		}
		if s.Tolerance != 0 {
			return fail("tolerance applies only to exists/absent")
		}
		if _, err := ParseComparator(string(s.Comparator)); err != nil {
			return fail("%s", err)
		}
		if s.Comparator == "" {
			s.Comparator = Eq
		}
		t := s.Targets[0]
		switch t.Kind() {
		case "range":
			if !t.HasValue {
				return fail("range target has no value")
			}
		case "frequency":
			if s.Mode != Metric {
				return fail("frequency target allowed only in metric mode")
			}
			if t.Freq.Min > t.Freq.Max {
				return fail("frequency min %v exceeds max %v", t.Freq.Min, t.Freq.Max)
			}
		default:
			return fail("%s target not allowed in %s mode", t.Kind(), s.Mode)
		}
	}

	for i, t := range s.Targets {
		if err := t.compile(); err != nil {
			return fail("target %d: %s", i, err)
		}
	}

	s.compiled = true
	return nil
}

// Compiled reports whether Compile succeeded for this Spec.
func (s *Spec) Compiled() bool {
	return s.compiled
}
