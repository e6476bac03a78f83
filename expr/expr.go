/* Copyright 2024 Rova Labs, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package expr compiles user-authored ECMAScript predicates used as
// target conditions.  A predicate sees the event's flat field map as
// 'msg' and should evaluate to a boolean.
//
// Example source:
//
//	msg["linear.x"] > 0.1 && msg["linear.y"] == 0
//
// Predicates are compiled once, at configuration-compile time, so an
// authoring error surfaces before monitoring starts.
package expr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// MaxEvalTime bounds a single predicate evaluation.  A predicate that
// loops forever should not stall its evaluator.
var MaxEvalTime = 100 * time.Millisecond

// Predicate is a compiled boolean expression over an event's fields.
type Predicate struct {
	// Src is the original source text, retained for diagnostics.
	Src string

	prog *goja.Program

	// A goja.Runtime is not safe for concurrent use.  Predicates
	// can be shared by an evaluator and the scheduler's snapshot
	// path, so evaluation is serialized here.
	sync.Mutex
	vm *goja.Runtime
}

// Compile compiles the given ECMAScript source into a Predicate.
func Compile(src string) (*Predicate, error) {
	if src == "" {
		return nil, errors.New("empty predicate source")
	}
	code := fmt.Sprintf("(function() {\nreturn (%s);\n}());\n", src)
	prog, err := goja.Compile("", code, true)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", src, err)
	}
	return &Predicate{
		Src:  src,
		prog: prog,
		vm:   goja.New(),
	}, nil
}

// Eval runs the predicate against the given field map.
func (p *Predicate) Eval(fields map[string]interface{}) (bool, error) {
	p.Lock()
	defer p.Unlock()

	if err := p.vm.Set("msg", fields); err != nil {
		return false, err
	}

	t := time.AfterFunc(MaxEvalTime, func() {
		p.vm.Interrupt("timeout")
	})
	defer t.Stop()

	v, err := p.vm.RunProgram(p.prog)
	if err != nil {
		p.vm.ClearInterrupt()
		return false, fmt.Errorf("predicate %q: %w", p.Src, err)
	}

	return v.ToBoolean(), nil
}
