package parser

import (
	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
)

// Node is one syntax tree node. The parser produces a surface tree that may
// still contain Binop, Annotation, Guard and Rest nodes; Desugar rewrites it
// into the canonical subset the bytecode generator consumes: Symbol, Label,
// Literal, Block, Tuple, List, Record, Call, Lambda, Assign, Match, FFI and
// Fiber.
//
// A node's span covers the union of its children's spans; delimiters such as
// a block's braces can extend it beyond that union.
type Node interface {
	Span() diag.Span
}

// Symbol is a name reference (or a binding, in pattern position).
type Symbol struct {
	Name string
	span diag.Span
}

func (n *Symbol) Span() diag.Span { return n.span }

// Label is a constructor name such as Some or Result.Error.
type Label struct {
	Name string
	span diag.Span
}

func (n *Label) Span() diag.Span { return n.span }

// Literal is a scalar constant: Unit, Bool, Int, Real or String.
type Literal struct {
	Value value.Value
	span  diag.Span
}

func (n *Literal) Span() diag.Span { return n.span }

// Block is a brace-delimited sequence of expressions; its value is the last
// one.
type Block struct {
	Exprs []Node
	span  diag.Span
}

func (n *Block) Span() diag.Span { return n.span }

// Tuple is a fixed-length sequence built by the comma operator.
type Tuple struct {
	Items []Node
	span  diag.Span
}

func (n *Tuple) Span() diag.Span { return n.span }

// List is a square-bracketed sequence.
type List struct {
	Items []Node
	span  diag.Span
}

func (n *List) Span() diag.Span { return n.span }

// RecordField is one name-value pair of a record, in source order.
type RecordField struct {
	Name  string
	Value Node
}

// Record is a braced field mapping: { a: 1, b: 2 }.
type Record struct {
	Fields []RecordField
	span   diag.Span
}

func (n *Record) Span() diag.Span { return n.span }

// Call is unary function application by juxtaposition; multi-argument
// application curries into nested calls.
type Call struct {
	Fun Node
	Arg Node
	span diag.Span
}

func (n *Call) Span() diag.Span { return n.span }

// Lambda is a one-parameter function literal. Multi-parameter surface
// lambdas desugar into nested single-parameter ones.
type Lambda struct {
	Param Pattern
	Body  Node
	span  diag.Span
}

func (n *Lambda) Span() diag.Span { return n.span }

// Assign binds a pattern to the value of an expression; its own value is
// Unit.
type Assign struct {
	Pattern Pattern
	Value   Node
	span    diag.Span
}

func (n *Assign) Span() diag.Span { return n.span }

// MatchArm is one pattern -> body pair.
type MatchArm struct {
	Pattern Pattern
	Body    Node
}

// Match scrutinizes a value against a sequence of arms; arms are tried in
// order and a destructure failure falls through to the next.
type Match struct {
	Scrutinee Node
	Arms      []MatchArm
	span      diag.Span
}

func (n *Match) Span() diag.Span { return n.span }

// FFI invokes a named primitive: magic "name" arg.
type FFI struct {
	Name string
	Arg  Node
	span diag.Span
}

func (n *FFI) Span() diag.Span { return n.span }

// Fiber wraps a block into a suspendable computation.
type Fiber struct {
	Body Node
	span diag.Span
}

func (n *Fiber) Span() diag.Span { return n.span }

// Binop is a surface infix application; Desugar rewrites every Binop into a
// primitive call, a label path, an Assign, a Lambda or a user-operator call
// chain.
type Binop struct {
	Op    string
	Left  Node
	Right Node
	span  diag.Span
}

func (n *Binop) Span() diag.Span { return n.span }

// Annotation is the surface p : t form. In pattern position both sides are
// patterns; in expression position the annotation erases.
type Annotation struct {
	Expr Node
	Type Node
	span diag.Span
}

func (n *Annotation) Span() diag.Span { return n.span }

// Guard is the surface p | cond form, meaningful only in pattern position.
type Guard struct {
	Expr Node
	Cond Node
	span diag.Span
}

func (n *Guard) Span() diag.Span { return n.span }

// Rest is the surface ..p list-tail marker, meaningful only inside a list
// pattern.
type Rest struct {
	Expr Node
	span diag.Span
}

func (n *Rest) Span() diag.Span { return n.span }
