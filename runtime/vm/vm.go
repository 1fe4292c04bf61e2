// Package vm executes compiled closures on a stack machine: one value
// stack and one frame stack per fiber, a tight fetch-execute loop, and
// cooperative fibers carrying their own error boundaries.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/invariant"
	"github.com/vrtbl/passerine/core/value"
)

// maxFrames bounds recursion depth; crossing it is an internal fault
// rather than a Go stack overflow.
const maxFrames = 1 << 14

// Opt configures a Machine.
type Opt func(*Machine)

// WithOut sets the sink the println primitive writes to. Defaults to
// standard output.
func WithOut(w io.Writer) Opt {
	return func(m *Machine) { m.out = w }
}

// WithBudget bounds execution to n opcodes; exhausting the budget raises a
// TimeoutError in the running fiber. Zero means unbounded.
func WithBudget(n int) Opt {
	return func(m *Machine) { m.budget = n }
}

// WithPrimitive registers an extra host primitive before the machine runs.
// Registering over a built-in name panics; the built-in set is part of the
// language.
func WithPrimitive(name string, p Primitive) Opt {
	return func(m *Machine) { m.register(name, p) }
}

// activationMode says why a fiber was entered, which decides what happens
// to its result or fault.
type activationMode int

const (
	modeCall activationMode = iota // plain fiber invocation
	modeTry                        // try boundary: result wraps into Result.Ok/Error
	modeArm                        // match arm probe: MatchError falls through
)

// activation is one entry of the machine's fiber chain.
type activation struct {
	fiber *value.Fiber
	mode  activationMode
	jump  int // modeArm: parent ip adjustment on success
}

// Machine is a single-threaded executor. A Machine is not safe for
// concurrent use; fibers are cooperative, not parallel.
type Machine struct {
	out    io.Writer
	prims  map[string]Primitive
	budget int
	steps  int

	active []activation

	// Root completion is signalled out of band so the dispatch loop stays
	// a single flat switch.
	rootResult value.Value
	rootDone   bool
}

// New creates a machine with the built-in primitives registered.
func New(opts ...Opt) *Machine {
	m := &Machine{
		out:   os.Stdout,
		prims: map[string]Primitive{},
	}
	registerBuiltins(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes a compiled top-level lambda to completion in a fresh root
// fiber and returns the final value, or the structured fault if one
// escaped every try.
func (m *Machine) Run(lambda *value.Lambda) (result value.Value, failure *diag.Diagnostic) {
	invariant.NotNil(lambda, "lambda")
	invariant.Precondition(len(lambda.Captures) == 0, "top-level lambda captures nothing")

	defer func() {
		if r := recover(); r != nil {
			result = nil
			failure = diag.New(diag.Internal, diag.Span{}, "machine invariant violated: %v", r)
		}
	}()

	root := value.NewFiber(&value.Closure{Lambda: lambda})
	m.active = m.active[:0]
	m.steps = 0
	m.rootResult = nil
	m.rootDone = false
	m.push(root, modeCall, 0)
	m.start(root, value.Unit{})
	return m.loop()
}

func (m *Machine) push(f *value.Fiber, mode activationMode, jump int) {
	m.active = append(m.active, activation{fiber: f, mode: mode, jump: jump})
}

func (m *Machine) current() *activation {
	invariant.Precondition(len(m.active) > 0, "fiber chain must not be empty")
	return &m.active[len(m.active)-1]
}

// start initializes a fresh fiber: one frame over its body closure, the
// locals region reserved with Units, and the start argument on top.
func (m *Machine) start(f *value.Fiber, arg value.Value) {
	body := f.Body
	f.Status = value.FiberRunning
	f.Frames = append(f.Frames[:0], value.Frame{Closure: body, IP: 0, Base: 0})
	f.Stack = f.Stack[:0]
	for i := 0; i < body.Lambda.Slots; i++ {
		f.Stack = append(f.Stack, value.Unit{})
	}
	f.Stack = append(f.Stack, arg)
}

// loop is the dispatch loop. It runs until the root fiber finishes or a
// fault escapes to the host.
func (m *Machine) loop() (value.Value, *diag.Diagnostic) {
	for {
		act := m.current()
		f := act.fiber
		frame := &f.Frames[len(f.Frames)-1]
		lambda := frame.Closure.Lambda

		invariant.InRange(frame.IP, 0, len(lambda.Code)-1, "instruction pointer")
		inst := lambda.Code[frame.IP]
		span := lambda.SpanAt(frame.IP)
		frame.IP++

		if m.budget > 0 {
			m.steps++
			if m.steps > m.budget {
				if v, d, done := m.fault(value.NewFault(diag.Timeout, span,
					"opcode budget exhausted")); done {
					return v, d
				}
				continue
			}
		}

		fault := m.execute(f, frame, inst, span)
		if fault == nil {
			if m.rootDone {
				return m.rootResult, nil
			}
			continue
		}
		if v, d, done := m.fault(fault); done {
			return v, d
		}
	}
}

// execute applies one instruction inside fiber f. A non-nil fault starts
// unwinding.
func (m *Machine) execute(f *value.Fiber, frame *value.Frame, inst value.Inst, span diag.Span) *value.Fault {
	lambda := frame.Closure.Lambda

	switch inst.Op {
	case value.OpCon:
		invariant.InRange(inst.A, 0, len(lambda.Consts)-1, "constant index")
		m.pushValue(f, lambda.Consts[inst.A])

	case value.OpNotInit:
		f.Stack[frame.Base+inst.A] = value.Unit{}

	case value.OpDel:
		m.popValue(f)

	case value.OpDup:
		m.pushValue(f, m.top(f))

	case value.OpSave:
		v := m.popValue(f)
		slot := frame.Base + inst.A
		invariant.InRange(slot, 0, len(f.Stack)-1, "local slot")
		if cell, ok := f.Stack[slot].(*value.Cell); ok {
			cell.Value = v
		} else {
			f.Stack[slot] = v
		}

	case value.OpLoad:
		slot := frame.Base + inst.A
		invariant.InRange(slot, 0, len(f.Stack)-1, "local slot")
		v := f.Stack[slot]
		if cell, ok := v.(*value.Cell); ok {
			v = cell.Value
		}
		m.pushValue(f, v)

	case value.OpHeap:
		slot := frame.Base + inst.A
		invariant.InRange(slot, 0, len(f.Stack)-1, "local slot")
		if _, already := f.Stack[slot].(*value.Cell); !already {
			f.Stack[slot] = value.NewCell(f.Stack[slot])
		}

	case value.OpSaveCap:
		invariant.InRange(inst.A, 0, len(frame.Closure.Cells)-1, "capture index")
		frame.Closure.Cells[inst.A].Value = m.popValue(f)

	case value.OpLoadCap:
		invariant.InRange(inst.A, 0, len(frame.Closure.Cells)-1, "capture index")
		m.pushValue(f, frame.Closure.Cells[inst.A].Value)

	case value.OpClosure:
		nested, ok := lambda.Consts[inst.A].(*value.Lambda)
		invariant.Precondition(ok, "closure constant must be a lambda")
		cells := make([]*value.Cell, len(nested.Captures))
		for i, site := range nested.Captures {
			if site.FromLocal {
				cell, isCell := f.Stack[frame.Base+site.Index].(*value.Cell)
				invariant.Precondition(isCell, "captured local %d must be lifted", site.Index)
				cells[i] = cell
			} else {
				invariant.InRange(site.Index, 0, len(frame.Closure.Cells)-1, "capture source")
				cells[i] = frame.Closure.Cells[site.Index]
			}
		}
		invariant.Postcondition(len(cells) == len(nested.Captures),
			"cells length matches capture descriptor")
		m.pushValue(f, &value.Closure{Lambda: nested, Cells: cells})

	case value.OpCall:
		arg := m.popValue(f)
		callee := m.popValue(f)
		return m.call(f, callee, arg, span)

	case value.OpReturn:
		result := m.popValue(f)
		f.Frames = f.Frames[:len(f.Frames)-1]
		if len(f.Frames) == 0 {
			return m.finishFiber(result)
		}
		f.Stack = f.Stack[:frame.Base]
		m.pushValue(f, result)

	case value.OpJump:
		frame.IP += inst.A

	case value.OpTuple:
		items := m.popN(f, inst.A)
		m.pushValue(f, value.Tuple(items))

	case value.OpList:
		items := m.popN(f, inst.A)
		m.pushValue(f, value.List(items))

	case value.OpRecord:
		items := m.popN(f, len(inst.Names))
		record := make(value.Record, len(items))
		for i, name := range inst.Names {
			record[name] = items[i]
		}
		m.pushValue(f, record)

	case value.OpLabel:
		m.pushValue(f, value.Label{Name: inst.Str, Inner: m.popValue(f)})

	case value.OpUnTuple:
		tuple, ok := m.top(f).(value.Tuple)
		if !ok || len(tuple) != inst.B {
			return matchFault(span, "value does not destructure as a %d-tuple", inst.B)
		}
		m.pushValue(f, tuple[inst.A])

	case value.OpListLen:
		list, ok := m.top(f).(value.List)
		if !ok {
			return matchFault(span, "value is not a list")
		}
		if inst.B == 1 && len(list) != inst.A {
			return matchFault(span, "list has %d elements, pattern needs exactly %d",
				len(list), inst.A)
		}
		if inst.B == 0 && len(list) < inst.A {
			return matchFault(span, "list has %d elements, pattern needs at least %d",
				len(list), inst.A)
		}

	case value.OpUnList:
		list, ok := m.top(f).(value.List)
		if !ok || inst.A >= len(list) {
			return matchFault(span, "list element %d is missing", inst.A)
		}
		m.pushValue(f, list[inst.A])

	case value.OpUnListTail:
		list, ok := m.top(f).(value.List)
		if !ok || inst.A > len(list) {
			return matchFault(span, "list tail from %d is missing", inst.A)
		}
		tail := make(value.List, len(list)-inst.A)
		copy(tail, list[inst.A:])
		m.pushValue(f, tail)

	case value.OpUnRecord:
		record, ok := m.top(f).(value.Record)
		if !ok {
			return matchFault(span, "value is not a record")
		}
		field, present := record[inst.Str]
		if !present {
			return matchFault(span, "record has no field %q", inst.Str)
		}
		m.pushValue(f, field)

	case value.OpUnLabel:
		v := m.popValue(f)
		label, ok := v.(value.Label)
		if !ok || label.Name != inst.Str {
			return matchFault(span, "value is not labelled %s", inst.Str)
		}
		m.pushValue(f, label.Inner)

	case value.OpMatchLit:
		v := m.popValue(f)
		if !value.Equal(v, lambda.Consts[inst.A]) {
			return matchFault(span, "value %s does not equal %s",
				value.Repr(v), value.Repr(lambda.Consts[inst.A]))
		}

	case value.OpGuard:
		v := m.popValue(f)
		truth, ok := value.Truthy(v)
		if !ok {
			return &value.Fault{
				Kind: diag.Type, Payload: v, Span: span,
				Message: fmt.Sprintf("guard must be a Boolean, got %s", v.Kind()),
			}
		}
		if !truth {
			return matchFault(span, "guard evaluated to false")
		}

	case value.OpArm:
		thunk, ok := m.popValue(f).(*value.Closure)
		invariant.Precondition(ok, "arm operand must be a closure")
		arm := value.NewFiber(thunk)
		m.push(arm, modeArm, inst.A)
		m.start(arm, value.Unit{})

	case value.OpFFI:
		arg := m.popValue(f)
		prim, known := m.prims[inst.Str]
		if !known {
			return m.unknownPrimitive(inst.Str, span)
		}
		result, fault := prim(m, arg, span)
		if fault != nil {
			return fault
		}
		m.pushValue(f, result)

	case value.OpFiberNew:
		body, ok := m.popValue(f).(*value.Closure)
		if !ok {
			return &value.Fault{
				Kind: diag.Type, Payload: value.Unit{}, Span: span,
				Message: "fiber needs a closure body",
			}
		}
		m.pushValue(f, value.NewFiber(body))

	case value.OpYield:
		return m.yield(m.popValue(f), span)

	case value.OpTry:
		thunk, ok := m.popValue(f).(*value.Closure)
		if !ok {
			return &value.Fault{
				Kind: diag.Type, Payload: value.Unit{}, Span: span,
				Message: "try needs a closure body",
			}
		}
		sub := value.NewFiber(thunk)
		m.push(sub, modeTry, 0)
		m.start(sub, value.Unit{})

	case value.OpError:
		payload := m.popValue(f)
		kind := diag.User
		message := value.Display(payload)
		if inst.A == 1 {
			kind = diag.Match
			message = fmt.Sprintf("no pattern matched %s", value.Repr(payload))
		}
		return &value.Fault{Kind: kind, Payload: payload, Message: message, Span: span}

	default:
		invariant.Invariant(false, "unknown opcode %d", inst.Op)
	}
	return nil
}

// call dispatches application: closures push a frame, fibers resume.
func (m *Machine) call(f *value.Fiber, callee, arg value.Value, span diag.Span) *value.Fault {
	switch target := callee.(type) {
	case *value.Closure:
		if len(f.Frames) >= maxFrames {
			return &value.Fault{
				Kind: diag.Internal, Payload: value.Unit{}, Span: span,
				Message: "frame stack overflow",
			}
		}
		base := len(f.Stack)
		f.Frames = append(f.Frames, value.Frame{Closure: target, IP: 0, Base: base})
		for i := 0; i < target.Lambda.Slots; i++ {
			f.Stack = append(f.Stack, value.Unit{})
		}
		f.Stack = append(f.Stack, arg)
		return nil

	case *value.Fiber:
		return m.callFiber(target, arg, span)

	default:
		return &value.Fault{
			Kind: diag.Type, Payload: callee, Span: span,
			Message: fmt.Sprintf("%s is not callable", callee.Kind()),
		}
	}
}

// callFiber starts a fresh fiber or resumes a suspended one, passing the
// argument through the mailbox. A finished fiber is never re-entered.
func (m *Machine) callFiber(target *value.Fiber, arg value.Value, span diag.Span) *value.Fault {
	switch target.Status {
	case value.FiberFresh:
		target.Mailbox = arg
		m.push(target, modeCall, 0)
		m.start(target, arg)
		return nil

	case value.FiberSuspended:
		target.Mailbox = arg
		target.Status = value.FiberRunning
		m.push(target, modeCall, 0)
		// The sent value becomes the result of the Yield the fiber
		// suspended on.
		target.Stack = append(target.Stack, arg)
		return nil

	case value.FiberFinished:
		return &value.Fault{
			Kind: diag.User, Payload: target.Mailbox, Span: span,
			Message: "fiber already finished",
		}

	case value.FiberErrored:
		return &value.Fault{
			Kind: diag.User, Payload: value.Unit{}, Span: span,
			Message: "fiber already errored",
		}

	default:
		return &value.Fault{
			Kind: diag.User, Payload: value.Unit{}, Span: span,
			Message: "fiber is already running",
		}
	}
}

// yield suspends the current fiber, surfacing v to its caller.
func (m *Machine) yield(v value.Value, span diag.Span) *value.Fault {
	if len(m.active) == 1 {
		return &value.Fault{
			Kind: diag.User, Payload: v, Span: span,
			Message: "cannot yield from the top level",
		}
	}
	act := m.current()
	if act.mode != modeCall {
		return &value.Fault{
			Kind: diag.User, Payload: v, Span: span,
			Message: "cannot yield across a try boundary",
		}
	}

	f := act.fiber
	f.Status = value.FiberSuspended
	f.Mailbox = v
	m.active = m.active[:len(m.active)-1]
	m.pushValue(m.current().fiber, v)
	return nil
}

// finishFiber handles a fiber running its bottom frame to completion.
// Returning a nil fault continues the loop; the root fiber's completion is
// surfaced through loop's return instead (see fault and loop).
func (m *Machine) finishFiber(result value.Value) *value.Fault {
	act := m.current()
	f := act.fiber
	f.Status = value.FiberFinished
	f.Mailbox = result
	f.Stack = f.Stack[:0]

	if len(m.active) == 1 {
		// Root completion: stash the result for loop to pick up.
		m.rootResult = result
		m.rootDone = true
		return nil
	}

	m.active = m.active[:len(m.active)-1]
	parent := m.current()
	switch act.mode {
	case modeTry:
		m.pushValue(parent.fiber, value.Label{Name: "Result.Ok", Inner: result})
	case modeArm:
		m.pushValue(parent.fiber, result)
		frame := &parent.fiber.Frames[len(parent.fiber.Frames)-1]
		frame.IP += act.jump
	default:
		m.pushValue(parent.fiber, result)
	}
	return nil
}

// fault unwinds the current fiber and propagates across the fiber chain.
// It reports (value, diagnostic, true) when the machine must stop.
func (m *Machine) fault(fault *value.Fault) (value.Value, *diag.Diagnostic, bool) {
	for {
		act := m.current()
		f := act.fiber
		f.Status = value.FiberErrored
		f.Fault = fault
		f.Frames = f.Frames[:0]
		f.Stack = f.Stack[:0]

		if len(m.active) == 1 {
			return nil, fault.Diagnostic(), true
		}

		m.active = m.active[:len(m.active)-1]
		parent := m.current()

		switch {
		case act.mode == modeTry && fault.Kind.Recoverable():
			m.pushValue(parent.fiber, value.Label{Name: "Result.Error", Inner: fault.Payload})
			return nil, nil, false

		case act.mode == modeArm && fault.Kind == diag.Match:
			// Fall through to the next arm: the parent continues at the
			// instruction after the Arm probe.
			return nil, nil, false
		}
		// Everything else keeps unwinding through the parent.
	}
}

func (m *Machine) pushValue(f *value.Fiber, v value.Value) {
	invariant.NotNil(v, "stack value")
	f.Stack = append(f.Stack, v)
}

func (m *Machine) popValue(f *value.Fiber) value.Value {
	invariant.Precondition(len(f.Stack) > 0, "value stack underflow")
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v
}

func (m *Machine) top(f *value.Fiber) value.Value {
	invariant.Precondition(len(f.Stack) > 0, "value stack underflow")
	return f.Stack[len(f.Stack)-1]
}

func (m *Machine) popN(f *value.Fiber, n int) []value.Value {
	invariant.InRange(n, 0, len(f.Stack), "composite width")
	items := make([]value.Value, n)
	copy(items, f.Stack[len(f.Stack)-n:])
	f.Stack = f.Stack[:len(f.Stack)-n]
	return items
}

func matchFault(span diag.Span, format string, args ...interface{}) *value.Fault {
	return value.NewFault(diag.Match, span, fmt.Sprintf(format, args...))
}
