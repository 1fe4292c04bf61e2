// Package value defines the runtime data model shared by the bytecode
// generator (constant pools) and the virtual machine (stack slots): tagged
// values, heap cells, compiled lambdas, closures and fibers.
package value

// Kind discriminates the runtime variants.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindLabel
	KindTuple
	KindList
	KindRecord
	KindClosure
	KindFiber

	// KindCell marks a heap cell occupying a lifted stack slot. Cells are a
	// machine detail and never surface to user code.
	KindCell
)

func (k Kind) String() string {
	switch k {
	case KindUnit:
		return "Unit"
	case KindBool:
		return "Boolean"
	case KindInt:
		return "Integer"
	case KindReal:
		return "Real"
	case KindString:
		return "String"
	case KindLabel:
		return "Label"
	case KindTuple:
		return "Tuple"
	case KindList:
		return "List"
	case KindRecord:
		return "Record"
	case KindClosure:
		return "Closure"
	case KindFiber:
		return "Fiber"
	case KindCell:
		return "Cell"
	default:
		return "Unknown"
	}
}

// Value is a runtime value. Implementations are exactly the Kind variants;
// user code never observes a partially-built value.
type Value interface {
	Kind() Kind
}

// Unit is the empty value, written ().
type Unit struct{}

func (Unit) Kind() Kind { return KindUnit }

// Bool is a boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Int is a 64-bit signed integer. Arithmetic wraps around at the primitive
// level.
type Int int64

func (Int) Kind() Kind { return KindInt }

// Real is a 64-bit IEEE-754 float.
type Real float64

func (Real) Kind() Kind { return KindReal }

// String is an immutable UTF-8 string.
type String string

func (String) Kind() Kind { return KindString }

// Label is a named wrapper around a value - the algebraic-constructor
// mechanism. Labels compare by name; re-labelling nests rather than stamps.
type Label struct {
	Name  string
	Inner Value
}

func (Label) Kind() Kind { return KindLabel }

// Tuple is a fixed-length ordered sequence. The zero-length tuple does not
// exist; the parser produces Unit for ().
type Tuple []Value

func (Tuple) Kind() Kind { return KindTuple }

// List is a variable-length sequence. Homogeneity is a language-level
// convention the machine does not enforce.
type List []Value

func (List) Kind() Kind { return KindList }

// Record is an unordered field-name to value mapping with unique keys.
type Record map[string]Value

func (Record) Kind() Kind { return KindRecord }

// Cell is a single-slot mutable heap container. A local is lifted into a
// cell when it first escapes its defining scope; the cell is then shared by
// the owning frame and every closure that captured it.
type Cell struct {
	Value Value
}

func (*Cell) Kind() Kind { return KindCell }

// NewCell allocates a cell holding v.
func NewCell(v Value) *Cell { return &Cell{Value: v} }

// Closure pairs a compiled lambda with the heap cells satisfying its capture
// descriptor. The cells slice always has exactly len(Lambda.Captures)
// entries.
type Closure struct {
	Lambda *Lambda
	Cells  []*Cell
}

func (*Closure) Kind() Kind { return KindClosure }

// Truthy reports whether v drives a guard or conditional. Only booleans
// carry truth; everything else is a type error at the point of use.
func Truthy(v Value) (bool, bool) {
	b, ok := v.(Bool)
	return bool(b), ok
}

// Equal is structural recursive equality. Values of distinct kinds compare
// false. Two closures are equal iff they reference the same lambda and
// identical captured cells; fibers are equal only to themselves.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Unit:
		return true
	case Bool:
		return x == b.(Bool)
	case Int:
		return x == b.(Int)
	case Real:
		return x == b.(Real)
	case String:
		return x == b.(String)
	case Label:
		y := b.(Label)
		return x.Name == y.Name && Equal(x.Inner, y.Inner)
	case Tuple:
		return equalSlices(x, b.(Tuple))
	case List:
		return equalSlices(x, b.(List))
	case Record:
		y := b.(Record)
		if len(x) != len(y) {
			return false
		}
		for name, xv := range x {
			yv, ok := y[name]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case *Closure:
		y, ok := b.(*Closure)
		if !ok || x.Lambda != y.Lambda || len(x.Cells) != len(y.Cells) {
			return false
		}
		for i := range x.Cells {
			if x.Cells[i] != y.Cells[i] {
				return false
			}
		}
		return true
	case *Fiber:
		y, ok := b.(*Fiber)
		return ok && x == y
	case *Cell:
		y, ok := b.(*Cell)
		return ok && x == y
	default:
		return false
	}
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
