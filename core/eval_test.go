package core

import (
	"testing"
	"time"

	"github.com/rovalabs/rova/event"
)

var t0 = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func ev(topic string, offset time.Duration, fields map[string]interface{}) *event.Event {
	return event.New(topic, t0.Add(offset), fields)
}

func compiled(t *testing.T, s *Spec) *Spec {
	t.Helper()
	if err := s.Compile(); err != nil {
		t.Fatal(err)
	}
	return s
}

func poseSpec(ordered bool, tolerance time.Duration) *Spec {
	return &Spec{
		Name:  "pose-check",
		Topic: "turtle1/pose",
		Mode:  Exists,
		Targets: []*Target{
			{Equals: map[string]interface{}{"x": 10.0, "y": 5.5}},
			{Equals: map[string]interface{}{"x": 5.5, "y": 5.5}},
		},
		TemporalConsistency: ordered,
		Tolerance:           tolerance,
		Epsilon:             0.01,
	}
}

func TestExistsUnorderedAnyOrder(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(false, 0)))
	e.Activate(t0)

	// B then A still passes.
	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 5.5, "y": 5.5})); v != nil {
		t.Fatalf("early verdict %v", v)
	}
	v := e.HandleEvent(ev("turtle1/pose", 2*time.Second, map[string]interface{}{"x": 10.0, "y": 5.5}))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
	if !v.Evidence[0].Matched || !v.Evidence[1].Matched {
		t.Fatalf("evidence: %v", v.Evidence)
	}

	// Terminal evaluators stay quiet.
	if v := e.HandleEvent(ev("turtle1/pose", 3*time.Second, map[string]interface{}{"x": 10.0, "y": 5.5})); v != nil {
		t.Fatal("second verdict")
	}
}

func TestExistsOrderedWrongOrderFails(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(true, 0)))
	e.Activate(t0)

	// B first with zero tolerance: immediate failure.
	v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 5.5, "y": 5.5}))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
}

func TestExistsOrderedRightOrderPasses(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(true, 0)))
	e.Activate(t0)

	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 10.0, "y": 5.5})); v != nil {
		t.Fatalf("early verdict %v", v)
	}
	v := e.HandleEvent(ev("turtle1/pose", 2*time.Second, map[string]interface{}{"x": 5.5, "y": 5.5}))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
}

func TestExistsOrderedToleranceSlack(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(true, 2*time.Second)))
	e.Activate(t0)

	// Out of order, but the first target catches up within the
	// slack.
	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 5.5, "y": 5.5})); v != nil {
		t.Fatalf("slack should absorb the out-of-order match: %v", v)
	}
	if v := e.HandleEvent(ev("turtle1/pose", 2*time.Second, map[string]interface{}{"x": 10.0, "y": 5.5})); v != nil {
		t.Fatalf("early verdict %v", v)
	}
	v := e.HandleEvent(ev("turtle1/pose", 3*time.Second, map[string]interface{}{"x": 5.5, "y": 5.5}))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
}

func TestExistsOrderedToleranceExceeded(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(true, 2*time.Second)))
	e.Activate(t0)

	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 5.5, "y": 5.5})); v != nil {
		t.Fatalf("early verdict %v", v)
	}
	// Another out-of-order match past the slack.
	v := e.HandleEvent(ev("turtle1/pose", 4*time.Second, map[string]interface{}{"x": 5.5, "y": 5.5}))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
}

func TestExistsOrderedLateCatchUpAtTolerance(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(true, 2*time.Second)))
	e.Activate(t0)

	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 5.5, "y": 5.5})); v != nil {
		t.Fatalf("early verdict %v", v)
	}
	// The first target catching up exactly when the slack runs out
	// is already too late, same as another out-of-order match.
	v := e.HandleEvent(ev("turtle1/pose", 3*time.Second, map[string]interface{}{"x": 10.0, "y": 5.5}))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
}

func TestExistsTimeout(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(false, 0)))
	e.Activate(t0)

	e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 10.0, "y": 5.5}))

	v := e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != TimedOut {
		t.Fatalf("want TIMED_OUT, got %v", v)
	}
	if !v.Evidence[0].Matched || v.Evidence[1].Matched {
		t.Fatalf("evidence: %v", v.Evidence)
	}
}

func TestAbsent(t *testing.T) {
	spec := compiled(t, &Spec{
		Name:  "no-checkpoint",
		Topic: "turtle1/checkpoint",
		Mode:  Absent,
		Targets: []*Target{
			{Equals: map[string]interface{}{"data": "reached 1"}},
		},
	})

	e := NewEvaluator(spec)
	e.Activate(t0)

	if v := e.HandleEvent(ev("turtle1/checkpoint", time.Second, map[string]interface{}{"data": "reached 2"})); v != nil {
		t.Fatalf("non-matching event should not conclude: %v", v)
	}
	v := e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}

	// Same spec, but the forbidden event shows up.
	e = NewEvaluator(spec)
	e.Activate(t0)
	v = e.HandleEvent(ev("turtle1/checkpoint", 3*time.Second, map[string]interface{}{"data": "reached 1"}))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
	if !v.EndedAt.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("verdict should carry the event's timestamp: %v", v.EndedAt)
	}
}

func avgSpec(comp Comparator, target float64) *Spec {
	return &Spec{
		Name:       "cruise-speed",
		Topic:      "turtle1/cmd_vel",
		Mode:       Average,
		Targets:    []*Target{{Field: "linear.x", Value: target, HasValue: true}},
		Comparator: comp,
	}
}

func TestAverageMode(t *testing.T) {
	e := NewEvaluator(compiled(t, avgSpec(GE, 0.1)))
	e.Activate(t0)

	for i, x := range []float64{0.05, 0.2, 0.15} {
		if v := e.HandleEvent(ev("turtle1/cmd_vel", time.Duration(i)*time.Second, map[string]interface{}{"linear.x": x})); v != nil {
			t.Fatalf("early verdict %v", v)
		}
	}
	v := e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
	if v.Value == nil || *v.Value < 0.133 || 0.134 < *v.Value {
		t.Fatalf("mean: %v", v.Value)
	}

	e = NewEvaluator(compiled(t, avgSpec(GE, 0.1)))
	e.Activate(t0)
	for i, x := range []float64{0.05, 0.05} {
		e.HandleEvent(ev("turtle1/cmd_vel", time.Duration(i)*time.Second, map[string]interface{}{"linear.x": x}))
	}
	v = e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
}

func TestMinMaxModes(t *testing.T) {
	spec := compiled(t, &Spec{
		Name:       "top-speed",
		Topic:      "turtle1/cmd_vel",
		Mode:       Max,
		Targets:    []*Target{{Field: "linear.x", Value: 1.0, HasValue: true}},
		Comparator: LE,
	})
	e := NewEvaluator(spec)
	e.Activate(t0)
	for i, x := range []float64{0.4, 0.9, 0.7} {
		e.HandleEvent(ev("turtle1/cmd_vel", time.Duration(i)*time.Second, map[string]interface{}{"linear.x": x}))
	}
	v := e.Finish(t0.Add(5 * time.Second))
	if v == nil || v.Status != Passed || *v.Value != 0.9 {
		t.Fatalf("max: %v", v)
	}

	spec = compiled(t, &Spec{
		Name:       "floor-speed",
		Topic:      "turtle1/cmd_vel",
		Mode:       Min,
		Targets:    []*Target{{Field: "linear.x", Value: 0.5, HasValue: true}},
		Comparator: GE,
	})
	e = NewEvaluator(spec)
	e.Activate(t0)
	for i, x := range []float64{0.6, 0.4, 0.8} {
		e.HandleEvent(ev("turtle1/cmd_vel", time.Duration(i)*time.Second, map[string]interface{}{"linear.x": x}))
	}
	v = e.Finish(t0.Add(5 * time.Second))
	if v == nil || v.Status != Failed || *v.Value != 0.4 {
		t.Fatalf("min: %v", v)
	}
}

func freqSpec(min, max float64) *Spec {
	return &Spec{
		Name:    "pose-rate",
		Topic:   "turtle1/pose",
		Mode:    Metric,
		Targets: []*Target{{Freq: &FreqBounds{Min: min, Max: max}}},
	}
}

func TestMetricFrequency(t *testing.T) {
	// 600 events over 10 seconds: ~60/s.
	e := NewEvaluator(compiled(t, freqSpec(55, 65)))
	e.Activate(t0)
	for i := 0; i < 600; i++ {
		e.HandleEvent(ev("turtle1/pose", time.Duration(i)*(10*time.Second)/600, map[string]interface{}{"x": 1.0}))
	}
	v := e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
	if v.Rate == nil || *v.Rate < 55 || 65 < *v.Rate {
		t.Fatalf("rate: %v", v.Rate)
	}

	// 500 events over 10 seconds: ~50/s.
	e = NewEvaluator(compiled(t, freqSpec(55, 65)))
	e.Activate(t0)
	for i := 0; i < 500; i++ {
		e.HandleEvent(ev("turtle1/pose", time.Duration(i)*(10*time.Second)/500, map[string]interface{}{"x": 1.0}))
	}
	v = e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != Failed {
		t.Fatalf("want FAILED, got %v", v)
	}
}

func TestMetricLastValue(t *testing.T) {
	spec := compiled(t, &Spec{
		Name:       "final-x",
		Topic:      "turtle1/pose",
		Mode:       Metric,
		Targets:    []*Target{{Field: "x", Value: 5.5, HasValue: true}},
		Comparator: Eq,
		Epsilon:    0.01,
	})
	e := NewEvaluator(spec)
	e.Activate(t0)
	for i, x := range []float64{1.0, 3.0, 5.5} {
		e.HandleEvent(ev("turtle1/pose", time.Duration(i)*time.Second, map[string]interface{}{"x": x}))
	}
	v := e.Finish(t0.Add(5 * time.Second))
	if v == nil || v.Status != Passed || *v.Value != 5.5 {
		t.Fatalf("last: %v", v)
	}
}

func TestWarmupAggregation(t *testing.T) {
	with := compiled(t, &Spec{
		Name:       "warm",
		Topic:      "t",
		Mode:       Average,
		Targets:    []*Target{{Field: "v", Value: 1.0, HasValue: true}},
		Comparator: Eq,
		Timein:     5 * time.Second,
		Warmup:     true,
	})
	without := compiled(t, &Spec{
		Name:       "cold",
		Topic:      "t",
		Mode:       Average,
		Targets:    []*Target{{Field: "v", Value: 1.0, HasValue: true}},
		Comparator: Eq,
		Timein:     5 * time.Second,
	})

	for _, c := range []struct {
		spec *Spec
		want Status
	}{
		// Warm-up event 3.0 drags the mean off target.
		{with, Failed},
		// Without warmup the early event is discarded.
		{without, Passed},
	} {
		e := NewEvaluator(c.spec)
		e.HandleEvent(ev("t", time.Second, map[string]interface{}{"v": 3.0}))
		e.Activate(t0.Add(5 * time.Second))
		e.HandleEvent(ev("t", 6*time.Second, map[string]interface{}{"v": 1.0}))
		v := e.Expire(t0.Add(10 * time.Second))
		if v == nil || v.Status != c.want {
			t.Fatalf("%s: want %s, got %v", c.spec.Name, c.want, v)
		}
	}
}

func TestAbortForcesTimedOut(t *testing.T) {
	for _, spec := range []*Spec{
		poseSpec(false, 0),
		avgSpec(GE, 0.1),
		freqSpec(55, 65),
	} {
		e := NewEvaluator(compiled(t, spec))
		e.Activate(t0)
		e.HandleEvent(ev(spec.Topic, time.Second, map[string]interface{}{"linear.x": 0.2, "x": 10.0, "y": 5.5}))
		v := e.Abort(t0.Add(2 * time.Second))
		if v == nil || v.Status != TimedOut {
			t.Fatalf("%s: want TIMED_OUT, got %v", spec.Name, v)
		}
		if !e.Terminal() {
			t.Fatalf("%s: left non-terminal", spec.Name)
		}
		if v := e.Abort(t0.Add(3 * time.Second)); v != nil {
			t.Fatalf("%s: second verdict", spec.Name)
		}
	}
}

func TestFinishConcludesNumeric(t *testing.T) {
	// No timeout: the verdict comes at the run's stop signal.
	e := NewEvaluator(compiled(t, avgSpec(GE, 0.1)))
	e.Activate(t0)
	for i, x := range []float64{0.2, 0.3} {
		e.HandleEvent(ev("turtle1/cmd_vel", time.Duration(i)*time.Second, map[string]interface{}{"linear.x": x}))
	}
	v := e.Finish(t0.Add(30 * time.Second))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
}

func TestNumericNoDataTimesOut(t *testing.T) {
	e := NewEvaluator(compiled(t, avgSpec(GE, 0.1)))
	e.Activate(t0)
	v := e.Expire(t0.Add(10 * time.Second))
	if v == nil || v.Status != TimedOut {
		t.Fatalf("want TIMED_OUT, got %v", v)
	}
}

func TestWrongTopicIgnored(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(false, 0)))
	e.Activate(t0)
	if v := e.HandleEvent(ev("other/topic", time.Second, map[string]interface{}{"x": 10.0, "y": 5.5})); v != nil {
		t.Fatalf("wrong topic should be a no-op: %v", v)
	}
	if e.Status() != Active {
		t.Fatal("status changed")
	}
}

func TestMissingFieldIsNoMatch(t *testing.T) {
	e := NewEvaluator(compiled(t, poseSpec(false, 0)))
	e.Activate(t0)
	if v := e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 10.0})); v != nil {
		t.Fatalf("missing y should not match: %v", v)
	}
}

func TestExprTarget(t *testing.T) {
	spec := compiled(t, &Spec{
		Name:  "moving-forward",
		Topic: "turtle1/cmd_vel",
		Mode:  Exists,
		Targets: []*Target{
			{Expr: `msg["linear.x"] > 0.1 && msg["angular.z"] == 0`},
		},
	})
	e := NewEvaluator(spec)
	e.Activate(t0)

	if v := e.HandleEvent(ev("turtle1/cmd_vel", time.Second, map[string]interface{}{"linear.x": 0.05, "angular.z": 0.0})); v != nil {
		t.Fatalf("predicate should be false: %v", v)
	}
	v := e.HandleEvent(ev("turtle1/cmd_vel", 2*time.Second, map[string]interface{}{"linear.x": 0.2, "angular.z": 0.0}))
	if v == nil || v.Status != Passed {
		t.Fatalf("want PASSED, got %v", v)
	}
}

func TestSnapshot(t *testing.T) {
	e := NewEvaluator(compiled(t, avgSpec(GE, 0.1)))
	e.Activate(t0)
	e.HandleEvent(ev("turtle1/cmd_vel", time.Second, map[string]interface{}{"linear.x": 0.25}))
	e.HandleEvent(ev("turtle1/cmd_vel", 2*time.Second, map[string]interface{}{"linear.x": 0.75}))

	s := e.Snapshot(t0.Add(3 * time.Second))
	if s.Status != Active || s.Count != 2 || s.Events != 2 {
		t.Fatalf("snapshot: %+v", s)
	}
	if s.Mean == nil || *s.Mean != 0.5 {
		t.Fatalf("mean: %v", s.Mean)
	}
	if s.Rate == nil || *s.Rate != 2.0 {
		t.Fatalf("rate: %v", s.Rate)
	}
}

func TestSnapshotCountsNonNumericEvents(t *testing.T) {
	// Exists mode never aggregates, but the run's message totals
	// still need every routed event.
	e := NewEvaluator(compiled(t, poseSpec(false, 0)))
	e.Activate(t0)
	e.HandleEvent(ev("turtle1/pose", time.Second, map[string]interface{}{"x": 1.0, "y": 1.0}))
	e.HandleEvent(ev("turtle1/pose", 2*time.Second, map[string]interface{}{"x": 2.0, "y": 2.0}))
	e.HandleEvent(ev("other/topic", 3*time.Second, map[string]interface{}{"x": 3.0}))

	s := e.Snapshot(t0.Add(4 * time.Second))
	if s.Events != 2 {
		t.Fatalf("events %d", s.Events)
	}
	if s.Count != 0 {
		t.Fatalf("count %d", s.Count)
	}
}
