// Package compiler translates the canonical tree into Lambda code objects:
// a linear opcode stream, a constant pool, and the capture descriptor that
// tells the machine how to assemble closure cells at runtime.
package compiler

import (
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/parser"
)

// Compile turns a desugared tree into the top-level lambda: a zero-argument
// code object whose result is the value of the last top-level statement.
func Compile(tree parser.Node) (*value.Lambda, *diag.Diagnostic) {
	g := newGenerator(nil)
	// Every lambda is entered with one argument on the stack; the
	// top level takes none, so drop the start value.
	g.emit(value.Inst{Op: value.OpDel}, tree.Span())
	if err := g.expression(tree); err != nil {
		return nil, err
	}
	g.emit(value.Inst{Op: value.OpReturn}, tree.Span())
	return g.finish(0), nil
}

// local is one stack slot bound to a name in the current scope.
type local struct {
	name     string
	slot     int
	lifted   bool // a Heap lift is already emitted for this slot
	captured bool // some nested closure demands this slot as a cell
}

// capture is one entry of this lambda's capture list: the name, and where
// the owning frame sources the cell from - one of its own lifted locals, or
// a pass-through of one of its own captured cells.
//
// Entries append at first demand and never reorder, so the LoadCap/SaveCap
// indexes emitted while compiling the body always equal the positions in
// the cells array the machine builds from the descriptor.
type capture struct {
	name      string
	fromLocal bool
	index     int
}

// generator compiles one lambda body. Nested lambdas get nested generators
// linked through enclosing, which is how non-local names resolve and become
// captures.
type generator struct {
	enclosing *generator

	code   []value.Inst
	spans  []diag.Span
	consts []value.Value

	locals   []local
	captures []capture

	matches int // counter for hidden match scrutinee slots
}

func newGenerator(enclosing *generator) *generator {
	return &generator{enclosing: enclosing}
}

func (g *generator) emit(inst value.Inst, span diag.Span) int {
	g.code = append(g.code, inst)
	g.spans = append(g.spans, span)
	return len(g.code) - 1
}

// patch rewrites the A operand of an already-emitted instruction; used for
// the forward jumps of match arms.
func (g *generator) patch(at int, a int) {
	g.code[at].A = a
}

func (g *generator) constant(v value.Value) int {
	g.consts = append(g.consts, v)
	return len(g.consts) - 1
}

func (g *generator) finish(arity int) *value.Lambda {
	sites := make([]value.CaptureSite, len(g.captures))
	for i, c := range g.captures {
		sites[i] = value.CaptureSite{FromLocal: c.fromLocal, Index: c.index}
	}
	return &value.Lambda{
		Code:     g.code,
		Consts:   g.consts,
		Captures: sites,
		Spans:    g.spans,
		Slots:    len(g.locals),
		Arity:    arity,
	}
}

// findLocal resolves a name in this scope only.
func (g *generator) findLocal(name string) (int, bool) {
	for i := len(g.locals) - 1; i >= 0; i-- {
		if g.locals[i].name == name {
			return g.locals[i].slot, true
		}
	}
	return 0, false
}

func (g *generator) declareLocal(name string) int {
	slot := len(g.locals)
	g.locals = append(g.locals, local{name: name, slot: slot})
	return slot
}

// resolveCapture walks outward looking for name. The owning frame's local
// is marked for heap lifting; every frame along the way records the
// pass-through in its own capture list.
func (g *generator) resolveCapture(name string) (int, bool) {
	for i, c := range g.captures {
		if c.name == name {
			return i, true
		}
	}
	if g.enclosing == nil {
		return 0, false
	}
	if slot, ok := g.enclosing.findLocal(name); ok {
		g.enclosing.markCaptured(slot)
		g.captures = append(g.captures, capture{name: name, fromLocal: true, index: slot})
		return len(g.captures) - 1, true
	}
	if index, ok := g.enclosing.resolveCapture(name); ok {
		g.captures = append(g.captures, capture{name: name, fromLocal: false, index: index})
		return len(g.captures) - 1, true
	}
	return 0, false
}

func (g *generator) markCaptured(slot int) {
	for i := range g.locals {
		if g.locals[i].slot == slot {
			g.locals[i].captured = true
			return
		}
	}
}

// bindable reports whether an assignment to name writes an existing
// binding (local or captured) rather than declaring a new local.
func (g *generator) bindable(name string) bool {
	if _, ok := g.findLocal(name); ok {
		return true
	}
	_, ok := g.resolveCapture(name)
	return ok
}

// visibleNames collects every name in scope, nearest first, for
// did-you-mean suggestions.
func (g *generator) visibleNames() []string {
	seen := map[string]bool{}
	var names []string
	for scope := g; scope != nil; scope = scope.enclosing {
		for _, l := range scope.locals {
			if !seen[l.name] {
				seen[l.name] = true
				names = append(names, l.name)
			}
		}
	}
	return names
}

// intrinsics are call heads the generator compiles into opcodes when the
// name has no binding in scope; a user binding of the same name shadows the
// form.
var intrinsics = map[string]bool{
	"yield": true,
	"error": true,
	"try":   true,
	"loop":  true,
}

func (g *generator) expression(n parser.Node) *diag.Diagnostic {
	switch x := n.(type) {
	case *parser.Literal:
		g.emit(value.Inst{Op: value.OpCon, A: g.constant(x.Value)}, x.Span())
		return nil

	case *parser.Symbol:
		return g.symbol(x)

	case *parser.Label:
		// A bare constructor is the label wrapping Unit.
		g.emit(value.Inst{Op: value.OpCon, A: g.constant(value.Unit{})}, x.Span())
		g.emit(value.Inst{Op: value.OpLabel, Str: x.Name}, x.Span())
		return nil

	case *parser.Block:
		return g.block(x)

	case *parser.Tuple:
		for _, item := range x.Items {
			if err := g.expression(item); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpTuple, A: len(x.Items)}, x.Span())
		return nil

	case *parser.List:
		for _, item := range x.Items {
			if err := g.expression(item); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpList, A: len(x.Items)}, x.Span())
		return nil

	case *parser.Record:
		names := make([]string, len(x.Fields))
		for i, field := range x.Fields {
			names[i] = field.Name
			if err := g.expression(field.Value); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpRecord, Names: names}, x.Span())
		return nil

	case *parser.Call:
		return g.call(x)

	case *parser.Lambda:
		lambda, err := g.nested(x.Param, x.Body, x.Span())
		if err != nil {
			return err
		}
		g.emitClosure(lambda, x.Span())
		return nil

	case *parser.Assign:
		return g.assign(x)

	case *parser.Match:
		return g.match(x)

	case *parser.FFI:
		if err := g.expression(x.Arg); err != nil {
			return err
		}
		g.emit(value.Inst{Op: value.OpFFI, Str: x.Name}, x.Span())
		return nil

	case *parser.Fiber:
		lambda, err := g.nested(discardPattern(x.Span()), x.Body, x.Span())
		if err != nil {
			return err
		}
		g.emitClosure(lambda, x.Span())
		g.emit(value.Inst{Op: value.OpFiberNew}, x.Span())
		return nil

	default:
		return diag.New(diag.Resolution, n.Span(),
			"cannot generate code for surface syntax; desugar first")
	}
}

// symbol resolves a name reference: a local load, a captured-cell load, or
// a resolution error with a nearest-name note.
func (g *generator) symbol(x *parser.Symbol) *diag.Diagnostic {
	if slot, ok := g.findLocal(x.Name); ok {
		g.emit(value.Inst{Op: value.OpLoad, A: slot}, x.Span())
		return nil
	}
	if index, ok := g.resolveCapture(x.Name); ok {
		g.emit(value.Inst{Op: value.OpLoadCap, A: index}, x.Span())
		return nil
	}

	err := diag.New(diag.Resolution, x.Span(), "name %q is not defined", x.Name)
	if intrinsics[x.Name] {
		return err.WithNote("%s is a built-in form; apply it to an argument", x.Name)
	}
	if matches := fuzzy.RankFindFold(x.Name, g.visibleNames()); len(matches) > 0 {
		sort.Sort(matches)
		err = err.WithNote("did you mean %q", matches[0].Target)
	}
	return err
}

func (g *generator) block(x *parser.Block) *diag.Diagnostic {
	for i, e := range x.Exprs {
		if err := g.expression(e); err != nil {
			return err
		}
		if i < len(x.Exprs)-1 {
			g.emit(value.Inst{Op: value.OpDel}, e.Span())
		}
	}
	return nil
}

// call compiles unary application, routing the intrinsic forms (yield,
// error, try, loop) when their head is unbound.
func (g *generator) call(x *parser.Call) *diag.Diagnostic {
	if head, ok := x.Fun.(*parser.Symbol); ok && intrinsics[head.Name] && !g.bindable(head.Name) {
		switch head.Name {
		case "yield":
			if err := g.expression(x.Arg); err != nil {
				return err
			}
			g.emit(value.Inst{Op: value.OpYield}, x.Span())
			return nil

		case "error":
			if err := g.expression(x.Arg); err != nil {
				return err
			}
			g.emit(value.Inst{Op: value.OpError}, x.Span())
			return nil

		case "try":
			lambda, err := g.nested(discardPattern(x.Arg.Span()), x.Arg, x.Span())
			if err != nil {
				return err
			}
			g.emitClosure(lambda, x.Span())
			g.emit(value.Inst{Op: value.OpTry}, x.Span())
			return nil

		case "loop":
			start := len(g.code)
			if err := g.expression(x.Arg); err != nil {
				return err
			}
			g.emit(value.Inst{Op: value.OpDel}, x.Arg.Span())
			at := g.emit(value.Inst{Op: value.OpJump}, x.Span())
			g.patch(at, start-at-1)
			return nil
		}
	}

	// A constructor head wraps its argument instead of calling it.
	if label, ok := x.Fun.(*parser.Label); ok {
		if err := g.expression(x.Arg); err != nil {
			return err
		}
		g.emit(value.Inst{Op: value.OpLabel, Str: label.Name}, x.Span())
		return nil
	}

	if err := g.expression(x.Fun); err != nil {
		return err
	}
	if err := g.expression(x.Arg); err != nil {
		return err
	}
	g.emit(value.Inst{Op: value.OpCall}, x.Span())
	return nil
}

// assign compiles p = e: reserve slots for the pattern's new names, compile
// the value, destructure it, and leave Unit as the assignment's value.
func (g *generator) assign(x *parser.Assign) *diag.Diagnostic {
	if err := g.reserve(x.Pattern); err != nil {
		return err
	}
	if err := g.expression(x.Value); err != nil {
		return err
	}
	if err := g.destructure(x.Pattern); err != nil {
		return err
	}
	g.emit(value.Inst{Op: value.OpCon, A: g.constant(value.Unit{})}, x.Span())
	return nil
}

// reserve declares a fresh local (pre-set to Unit by NotInit) for every
// pattern name with no existing binding; a name already bound here or in
// an enclosing scope stays an assignment target instead, which is how
// c = c + 1 writes the captured cell. Declaring before compiling the
// right-hand side is what lets f = x -> ... f x ... resolve its own name.
func (g *generator) reserve(p parser.Pattern) *diag.Diagnostic {
	for _, name := range parser.BoundNames(p) {
		if g.bindable(name) {
			continue
		}
		slot := g.declareLocal(name)
		g.emit(value.Inst{Op: value.OpNotInit, A: slot}, p.Span())
	}
	return nil
}

// declareFresh declares every pattern name as a new local regardless of
// outer bindings. Parameters and match-arm patterns always shadow; only
// assignment writes through to existing bindings.
func (g *generator) declareFresh(p parser.Pattern) {
	for _, name := range parser.BoundNames(p) {
		g.declareLocal(name)
	}
}

// destructure compiles pattern matching against the value on top of the
// stack, consuming it. Slots for every binding are already reserved, so a
// failing subpattern raises before any partial binding is observable
// outside the arm.
func (g *generator) destructure(p parser.Pattern) *diag.Diagnostic {
	switch x := p.(type) {
	case *parser.PatSymbol:
		if slot, ok := g.findLocal(x.Name); ok {
			g.emit(value.Inst{Op: value.OpSave, A: slot}, x.Span())
			return nil
		}
		if index, ok := g.resolveCapture(x.Name); ok {
			g.emit(value.Inst{Op: value.OpSaveCap, A: index}, x.Span())
			return nil
		}
		return diag.New(diag.Resolution, x.Span(),
			"binding %q has no reserved slot", x.Name)

	case *parser.PatDiscard:
		g.emit(value.Inst{Op: value.OpDel}, x.Span())
		return nil

	case *parser.PatLiteral:
		g.emit(value.Inst{Op: value.OpMatchLit, A: g.constant(x.Value)}, x.Span())
		return nil

	case *parser.PatLabel:
		g.emit(value.Inst{Op: value.OpUnLabel, Str: x.Name}, x.Span())
		return g.destructure(x.Inner)

	case *parser.PatTuple:
		for i, item := range x.Items {
			g.emit(value.Inst{Op: value.OpUnTuple, A: i, B: len(x.Items)}, item.Span())
			if err := g.destructure(item); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpDel}, x.Span())
		return nil

	case *parser.PatList:
		exact := 1
		if x.Rest != nil {
			exact = 0
		}
		g.emit(value.Inst{Op: value.OpListLen, A: len(x.Items), B: exact}, x.Span())
		for i, item := range x.Items {
			g.emit(value.Inst{Op: value.OpUnList, A: i}, item.Span())
			if err := g.destructure(item); err != nil {
				return err
			}
		}
		if x.Rest != nil {
			g.emit(value.Inst{Op: value.OpUnListTail, A: len(x.Items)}, x.Rest.Span())
			if err := g.destructure(x.Rest); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpDel}, x.Span())
		return nil

	case *parser.PatRecord:
		for _, field := range x.Fields {
			g.emit(value.Inst{Op: value.OpUnRecord, Str: field.Name}, field.Pattern.Span())
			if err := g.destructure(field.Pattern); err != nil {
				return err
			}
		}
		g.emit(value.Inst{Op: value.OpDel}, x.Span())
		return nil

	case *parser.PatAnnotation:
		g.emit(value.Inst{Op: value.OpDup}, x.Span())
		if err := g.destructure(x.Pattern); err != nil {
			return err
		}
		return g.destructure(x.Type)

	case *parser.PatGuard:
		if err := g.destructure(x.Pattern); err != nil {
			return err
		}
		if err := g.expression(x.Cond); err != nil {
			return err
		}
		g.emit(value.Inst{Op: value.OpGuard}, x.Cond.Span())
		return nil

	default:
		return diag.New(diag.Resolution, p.Span(), "unsupported pattern")
	}
}

// match compiles the arm cascade. The scrutinee lands in a hidden local
// that every arm thunk captures; each arm runs isolated so a destructure
// failure falls through while other errors abort the whole match.
func (g *generator) match(x *parser.Match) *diag.Diagnostic {
	hidden := fmt.Sprintf("#match%d", g.matches)
	g.matches++

	slot := g.declareLocal(hidden)
	g.emit(value.Inst{Op: value.OpNotInit, A: slot}, x.Span())
	if err := g.expression(x.Scrutinee); err != nil {
		return err
	}
	g.emit(value.Inst{Op: value.OpSave, A: slot}, x.Scrutinee.Span())

	var armJumps []int
	for _, arm := range x.Arms {
		lambda, err := g.armThunk(hidden, arm)
		if err != nil {
			return err
		}
		g.emitClosure(lambda, arm.Pattern.Span())
		armJumps = append(armJumps, g.emit(value.Inst{Op: value.OpArm}, arm.Pattern.Span()))
	}

	// Every arm fell through: re-raise the match failure with the
	// unmatched scrutinee as payload.
	g.emit(value.Inst{Op: value.OpLoad, A: slot}, x.Span())
	g.emit(value.Inst{Op: value.OpError, A: 1}, x.Span())

	end := len(g.code)
	for _, at := range armJumps {
		g.patch(at, end-at-1)
	}
	return nil
}

// armThunk compiles one match arm into a zero-argument lambda that loads
// the captured scrutinee, destructures the arm pattern, and runs the body.
func (g *generator) armThunk(hidden string, arm parser.MatchArm) (*value.Lambda, *diag.Diagnostic) {
	child := newGenerator(g)

	// Discard the start argument.
	child.emit(value.Inst{Op: value.OpDel}, arm.Pattern.Span())

	index, ok := child.resolveCapture(hidden)
	if !ok {
		return nil, diag.New(diag.Internal, arm.Pattern.Span(),
			"match scrutinee slot vanished during compilation")
	}
	child.emit(value.Inst{Op: value.OpLoadCap, A: index}, arm.Pattern.Span())

	child.declareFresh(arm.Pattern)
	if err := child.destructure(arm.Pattern); err != nil {
		return nil, err
	}
	if err := child.expression(arm.Body); err != nil {
		return nil, err
	}
	child.emit(value.Inst{Op: value.OpReturn}, arm.Body.Span())
	return child.finish(0), nil
}

// nested compiles a lambda body in a child generator and returns the
// finished code object.
func (g *generator) nested(param parser.Pattern, body parser.Node, span diag.Span) (*value.Lambda, *diag.Diagnostic) {
	child := newGenerator(g)

	// The parameter pattern's symbols occupy the leading local slots and
	// always shadow outer bindings.
	child.declareFresh(param)
	if err := child.destructure(param); err != nil {
		return nil, err
	}
	if err := child.expression(body); err != nil {
		return nil, err
	}
	child.emit(value.Inst{Op: value.OpReturn}, span)

	arity := 1
	if lit, ok := param.(*parser.PatLiteral); ok {
		if _, isUnit := lit.Value.(value.Unit); isUnit {
			arity = 0
		}
	}
	return child.finish(arity), nil
}

// emitClosure lifts every local the new closure captures, then emits the
// construction. Each Heap appears exactly once per slot per owning scope,
// before the first closure that needs the cell.
func (g *generator) emitClosure(lambda *value.Lambda, span diag.Span) {
	for _, site := range lambda.Captures {
		if !site.FromLocal {
			continue
		}
		for i := range g.locals {
			if g.locals[i].slot == site.Index && !g.locals[i].lifted {
				g.locals[i].lifted = true
				g.emit(value.Inst{Op: value.OpHeap, A: site.Index}, span)
			}
		}
	}
	g.emit(value.Inst{Op: value.OpClosure, A: g.constant(lambda)}, span)
}

func discardPattern(span diag.Span) parser.Pattern {
	return parser.NewPatDiscard(span)
}
