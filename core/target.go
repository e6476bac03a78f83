package core

import (
	"fmt"
	"math"

	"github.com/rovalabs/rova/event"
	"github.com/rovalabs/rova/expr"
)

// Target is one condition within a Spec.  Exactly one of the
// following shapes should be populated:
//
//	Equals: a conjunction of field-path equalities (exists/absent)
//	Expr:   an ECMAScript predicate over the event fields (exists/absent)
//	Field:  a field to aggregate, compared to Value (numeric modes)
//	Freq:   bounds on the arrival rate in events/second (metric mode)
//
// A Target must be compiled (via Spec.Compile) before use.
type Target struct {
	Equals map[string]interface{} `json:"equals,omitempty" yaml:"equals,omitempty"`

	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`

	Field    string  `json:"field,omitempty" yaml:"field,omitempty"`
	Value    float64 `json:"value,omitempty" yaml:"value,omitempty"`
	HasValue bool    `json:"-" yaml:"-"`

	Freq *FreqBounds `json:"freq,omitempty" yaml:"freq,omitempty"`

	pred *expr.Predicate
}

// FreqBounds is an inclusive band on arrival rate.
type FreqBounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Kind names the populated shape.
func (t *Target) Kind() string {
	switch {
	case len(t.Equals) > 0:
		return "equality"
	case t.Expr != "":
		return "expr"
	case t.Freq != nil:
		return "frequency"
	case t.Field != "":
		return "range"
	}
	return "empty"
}

func (t *Target) String() string {
	switch t.Kind() {
	case "equality":
		return fmt.Sprintf("equality%v", t.Equals)
	case "expr":
		return "expr(" + t.Expr + ")"
	case "frequency":
		return fmt.Sprintf("frequency[%v,%v]", t.Freq.Min, t.Freq.Max)
	case "range":
		return fmt.Sprintf("range(%s,%v)", t.Field, t.Value)
	}
	return "empty"
}

// compile prepares the target for matching.
func (t *Target) compile() error {
	if t.Expr != "" {
		p, err := expr.Compile(t.Expr)
		if err != nil {
			return err
		}
		t.pred = p
	}
	return nil
}

// Match tests an event against an equality or expr target.  A
// missing field means the condition is not satisfied; it is not an
// error.  eps is the absolute closeness bound for numeric fields.
func (t *Target) Match(ev *event.Event, eps float64) (bool, error) {
	if t.pred != nil {
		return t.pred.Eval(ev.Fields)
	}

	if len(t.Equals) == 0 {
		return false, fmt.Errorf("target %s is not matchable", t)
	}

	for path, want := range t.Equals {
		got, have := ev.Field(path)
		if !have {
			return false, nil
		}
		if !scalarEq(got, want, eps) {
			return false, nil
		}
	}
	return true, nil
}

// scalarEq compares a field value with an expected scalar.  Numbers
// compare within eps; everything else compares exactly.
func scalarEq(got, want interface{}, eps float64) bool {
	wantN, wantNum := event.AsNumber(want)
	if wantNum {
		gotN, gotNum := event.AsNumber(got)
		if !gotNum {
			return false
		}
		return math.Abs(gotN-wantN) <= eps
	}
	return got == want
}
