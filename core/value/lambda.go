package value

import (
	"fmt"
	"strings"

	"github.com/vrtbl/passerine/core/diag"
)

// Op is a bytecode opcode.
type Op uint8

const (
	// Stack and locals
	OpCon     Op = iota // push Consts[A]
	OpNotInit           // reset slot base+A to Unit (frames reserve their locals at entry)
	OpDel               // pop and discard the top value
	OpDup               // duplicate the top value
	OpSave              // pop top; write to slot base+A (through a cell if lifted)
	OpLoad              // copy slot base+A to top (through a cell if lifted)
	OpHeap              // lift slot base+A into a fresh heap cell

	// Captured cells
	OpSaveCap // pop top; write into closure cell A
	OpLoadCap // push the value inside closure cell A

	// Closures and control
	OpClosure // pair Consts[A] with cells assembled per its capture descriptor; push
	OpCall    // pop argument, pop callee; begin a call
	OpReturn  // leave the current frame; result is top of caller stack
	OpJump    // ip += A (A may be negative; the loop back edge)

	// Composites
	OpTuple  // build a Tuple from the top A values
	OpList   // build a List from the top A values
	OpRecord // build a Record pairing Names with the top len(Names) values
	OpLabel  // wrap the top value in Label Str

	// Destructuring. Each raises MatchError on shape mismatch.
	OpUnTuple    // top is a Tuple of exactly B items; push item A
	OpUnList     // top is a List; push element A
	OpUnListTail // top is a List; push the tail from index A as a new List
	OpListLen    // top is a List of length ==A (B=1) or >=A (B=0); leave it
	OpUnRecord   // top is a Record with field Str; push the field value
	OpUnLabel    // top is Label Str; pop it, push the inner value
	OpMatchLit   // pop top; MatchError unless structurally equal to Consts[A]
	OpGuard      // pop top; MatchError if false, TypeError if not a Boolean

	// Match cascade: pop an arm thunk, run it in an isolated fiber. On
	// success push its value and jump A past the remaining arms; on
	// MatchError fall through to the next arm; re-raise anything else.
	OpArm

	// Primitives and fibers
	OpFFI      // pop argument, invoke primitive Str, push result
	OpFiberNew // wrap the top closure into a fresh fiber
	OpYield    // suspend the current fiber, surfacing the top value
	OpTry      // pop a thunk, run it in a fresh fiber; push Result.Ok / Result.Error
	OpError    // raise the top value as an exception in the current fiber
)

func (op Op) String() string {
	switch op {
	case OpCon:
		return "Con"
	case OpNotInit:
		return "NotInit"
	case OpDel:
		return "Del"
	case OpDup:
		return "Dup"
	case OpSave:
		return "Save"
	case OpLoad:
		return "Load"
	case OpHeap:
		return "Heap"
	case OpSaveCap:
		return "SaveCap"
	case OpLoadCap:
		return "LoadCap"
	case OpClosure:
		return "Closure"
	case OpCall:
		return "Call"
	case OpReturn:
		return "Return"
	case OpJump:
		return "Jump"
	case OpTuple:
		return "Tuple"
	case OpList:
		return "List"
	case OpRecord:
		return "Record"
	case OpLabel:
		return "Label"
	case OpUnTuple:
		return "UnTuple"
	case OpUnList:
		return "UnList"
	case OpUnListTail:
		return "UnListTail"
	case OpListLen:
		return "ListLen"
	case OpUnRecord:
		return "UnRecord"
	case OpUnLabel:
		return "UnLabel"
	case OpMatchLit:
		return "MatchLit"
	case OpGuard:
		return "Guard"
	case OpArm:
		return "Arm"
	case OpFFI:
		return "FFI"
	case OpFiberNew:
		return "FiberNew"
	case OpYield:
		return "Yield"
	case OpTry:
		return "Try"
	case OpError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Inst is one decoded instruction. Operand use depends on the opcode: A and
// B are indexes, counts or jump offsets; Str names a label, field or
// primitive; Names lists record fields in construction order.
type Inst struct {
	Op    Op
	A     int
	B     int
	Str   string
	Names []string
}

func (in Inst) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpCon, OpClosure, OpSave, OpLoad, OpHeap, OpSaveCap, OpLoadCap,
		OpJump, OpTuple, OpList, OpUnList, OpUnListTail, OpMatchLit, OpArm:
		fmt.Fprintf(&b, " %d", in.A)
	case OpUnTuple, OpListLen:
		fmt.Fprintf(&b, " %d %d", in.A, in.B)
	case OpLabel, OpUnLabel, OpUnRecord, OpFFI:
		fmt.Fprintf(&b, " %q", in.Str)
	case OpRecord:
		fmt.Fprintf(&b, " %v", in.Names)
	}
	return b.String()
}

// CaptureSite tells the machine where one captured cell of a closure is
// sourced when the owning frame executes OpClosure: from one of the frame's
// own (already lifted) local slots, or passed through from the frame's own
// captured cells.
type CaptureSite struct {
	FromLocal bool // true: Index is a local slot; false: a capture index
	Index     int
}

// Lambda is the immutable output of the bytecode generator for one function
// body: code, constants, capture descriptor, a span table mapping every
// instruction back to source, and the arity of the leading parameter
// pattern (zero for a () parameter and for match-arm thunks; try and fiber
// bodies take a discarded "_" parameter and have arity one).
type Lambda struct {
	Code     []Inst
	Consts   []Value
	Captures []CaptureSite
	Spans    []diag.Span // parallel to Code
	Slots    int         // local slots the frame must reserve, parameters included
	Arity    int
}

// SpanAt returns the source span of the instruction at ip, or the zero span
// when the table has no entry.
func (l *Lambda) SpanAt(ip int) diag.Span {
	if ip < 0 || ip >= len(l.Spans) {
		return diag.Span{}
	}
	return l.Spans[ip]
}

// Disassemble renders the code stream one instruction per line, nested
// lambdas inline. The form is for tests and the compile CLI stage, not a
// stable interchange format.
func (l *Lambda) Disassemble() string {
	var b strings.Builder
	l.disassemble(&b, "")
	return b.String()
}

func (l *Lambda) disassemble(b *strings.Builder, indent string) {
	fmt.Fprintf(b, "%slambda arity=%d slots=%d captures=%d\n",
		indent, l.Arity, l.Slots, len(l.Captures))
	for i, in := range l.Code {
		fmt.Fprintf(b, "%s%4d  %s\n", indent, i, in)
	}
	for i, c := range l.Consts {
		if nested, ok := c.(*Lambda); ok {
			fmt.Fprintf(b, "%sconst %d:\n", indent, i)
			nested.disassemble(b, indent+"  ")
		}
	}
}

// Lambdas sit in constant pools, so they satisfy Value. They are not
// first-class at the language level; user code only ever sees closures.
func (*Lambda) Kind() Kind { return KindClosure }
