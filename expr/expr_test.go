package expr

import (
	"testing"
)

func TestCompileEval(t *testing.T) {
	p, err := Compile(`msg["linear.x"] > 0.1 && msg["linear.y"] == 0`)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.Eval(map[string]interface{}{
		"linear.x": 0.2,
		"linear.y": 0.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true")
	}

	ok, err = p.Eval(map[string]interface{}{
		"linear.x": 0.05,
		"linear.y": 0.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected false")
	}
}

func TestCompileError(t *testing.T) {
	if _, err := Compile(`msg[`); err == nil {
		t.Fatal("expected a compile error")
	}
	if _, err := Compile(""); err == nil {
		t.Fatal("expected an error for empty source")
	}
}

func TestEvalMissingField(t *testing.T) {
	p, err := Compile(`msg["nope"] > 1`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p.Eval(map[string]interface{}{"data": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("missing field should compare false")
	}
}

func TestEvalStrings(t *testing.T) {
	p, err := Compile(`msg["data"] == "reached 1"`)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := p.Eval(map[string]interface{}{"data": "reached 1"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true")
	}
}
