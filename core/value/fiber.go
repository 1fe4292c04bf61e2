package value

import "github.com/vrtbl/passerine/core/diag"

// FiberStatus is the lifecycle of a fiber.
type FiberStatus int

const (
	FiberFresh FiberStatus = iota
	FiberRunning
	FiberSuspended
	FiberFinished
	FiberErrored
)

func (s FiberStatus) String() string {
	switch s {
	case FiberFresh:
		return "fresh"
	case FiberRunning:
		return "running"
	case FiberSuspended:
		return "suspended"
	case FiberFinished:
		return "finished"
	case FiberErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Frame is one activation record: the closure being executed, the
// instruction pointer into its lambda, and the base index of its region of
// the value stack. Locals live at Base+0 ... Base+Slots-1.
type Frame struct {
	Closure *Closure
	IP      int
	Base    int
}

// Fiber is a suspended or running computation with its own stacks, an error
// boundary, and a mailbox carrying the value most recently sent in or
// yielded out.
type Fiber struct {
	Body    *Closure
	Stack   []Value
	Frames  []Frame
	Status  FiberStatus
	Mailbox Value
	Fault   *Fault
}

func (*Fiber) Kind() Kind { return KindFiber }

// NewFiber wraps a closure into a fresh, not-yet-started fiber.
func NewFiber(body *Closure) *Fiber {
	return &Fiber{
		Body:    body,
		Status:  FiberFresh,
		Mailbox: Unit{},
	}
}

// Fault is a runtime error travelling up through a fiber: its taxonomy
// kind, the payload value surfaced to try, and the source span of the
// faulting instruction.
type Fault struct {
	Kind    diag.Kind
	Payload Value
	Message string
	Span    diag.Span
}

// NewFault builds a fault whose payload is the message as a string.
func NewFault(kind diag.Kind, span diag.Span, message string) *Fault {
	return &Fault{Kind: kind, Payload: String(message), Message: message, Span: span}
}

// Diagnostic converts the fault into the structured error object reported
// to the host when no try intercepts it.
func (f *Fault) Diagnostic() *diag.Diagnostic {
	return diag.New(f.Kind, f.Span, "%s", f.Message)
}

func (f *Fault) Error() string { return f.Diagnostic().Error() }
