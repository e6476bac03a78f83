package core

import (
	"errors"
	"math"
)

// Mode says what kind of requirement a Spec states about its topic.
type Mode string

const (
	// Exists requires every target condition to be matched by some
	// event within the active window.
	Exists Mode = "exists"

	// Absent requires that no target condition is ever matched
	// within the active window.
	Absent Mode = "absent"

	// Average compares the mean of an observed field against a
	// target value.
	Average Mode = "average"

	// Max compares the maximum of an observed field against a
	// target value.
	Max Mode = "max"

	// Min compares the minimum of an observed field against a
	// target value.
	Min Mode = "min"

	// Metric compares either the last observed value of a field or
	// the message arrival rate against a target.
	Metric Mode = "metric"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Exists, Absent, Average, Max, Min, Metric:
		return Mode(s), nil
	case "":
		return Exists, nil
	}
	return "", errors.New("unknown mode '" + s + "'")
}

// Numeric reports whether this mode aggregates field values and
// renders its verdict by comparison at the end of the window.
func (m Mode) Numeric() bool {
	switch m {
	case Average, Max, Min, Metric:
		return true
	}
	return false
}

// Comparator is the relation used by numeric modes to compare the
// aggregated value against the target.
type Comparator string

const (
	Eq Comparator = "="
	NE Comparator = "!="
	LT Comparator = "<"
	GT Comparator = ">"
	LE Comparator = "<="
	GE Comparator = ">="
)

// ParseComparator maps a configuration string to a Comparator.  The
// empty string parses as Eq, the configuration default.
func ParseComparator(s string) (Comparator, error) {
	switch Comparator(s) {
	case Eq, NE, LT, GT, LE, GE:
		return Comparator(s), nil
	case "":
		return Eq, nil
	}
	return "", errors.New("unknown comparator '" + s + "'")
}

// Compare applies the relation with value on the left and target on
// the right.  Eq and NE use eps as an absolute closeness bound.
func (c Comparator) Compare(value, target, eps float64) bool {
	switch c {
	case Eq:
		return math.Abs(value-target) <= eps
	case NE:
		return math.Abs(value-target) > eps
	case LT:
		return value < target
	case GT:
		return value > target
	case LE:
		return value <= target
	case GE:
		return value >= target
	}
	return false
}

// Status is the state of an Evaluator.
type Status string

const (
	Pending  Status = "PENDING"
	Active   Status = "ACTIVE"
	Passed   Status = "PASSED"
	Failed   Status = "FAILED"
	TimedOut Status = "TIMED_OUT"
)

// Terminal reports whether this status ends evaluation.
func (s Status) Terminal() bool {
	switch s {
	case Passed, Failed, TimedOut:
		return true
	}
	return false
}
