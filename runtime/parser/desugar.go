package parser

import (
	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
)

// primitiveOps maps the built-in infix operators onto the primitives they
// desugar to. Both operands travel as one 2-tuple argument.
var primitiveOps = map[string]string{
	"*":  "mul",
	"/":  "div",
	"%":  "rem",
	"+":  "add",
	"-":  "sub",
	"==": "equal",
	"!=": "not_equal",
	"<":  "less",
	"<=": "less_equal",
	">":  "greater",
	">=": "greater_equal",
	"&&": "and",
	"||": "or",
}

// Desugar rewrites a surface tree into the canonical subset: infix
// applications become primitive calls, lambdas curry, definition sugar
// unfolds, braces resolve to blocks or records, and single-expression
// blocks collapse.
func Desugar(n Node) (Node, *diag.Diagnostic) {
	return desugar(n)
}

func desugar(n Node) (Node, *diag.Diagnostic) {
	switch x := n.(type) {
	case *Symbol, *Label, *Literal:
		return n, nil

	case *Block:
		if rec, ok := recordFromBlock(x); ok {
			return desugar(rec)
		}
		if len(x.Exprs) == 0 {
			return &Literal{Value: value.Unit{}, span: x.span}, nil
		}
		if len(x.Exprs) == 1 {
			return desugar(x.Exprs[0])
		}
		out := &Block{span: x.span, Exprs: make([]Node, len(x.Exprs))}
		for i, e := range x.Exprs {
			d, err := desugar(e)
			if err != nil {
				return nil, err
			}
			out.Exprs[i] = d
		}
		return out, nil

	case *Tuple:
		if len(x.Items) == 0 {
			return &Literal{Value: value.Unit{}, span: x.span}, nil
		}
		out := &Tuple{span: x.span, Items: make([]Node, len(x.Items))}
		for i, item := range x.Items {
			d, err := desugar(item)
			if err != nil {
				return nil, err
			}
			out.Items[i] = d
		}
		return out, nil

	case *List:
		out := &List{span: x.span, Items: make([]Node, len(x.Items))}
		for i, item := range x.Items {
			d, err := desugar(item)
			if err != nil {
				return nil, err
			}
			out.Items[i] = d
		}
		return out, nil

	case *Record:
		out := &Record{span: x.span, Fields: make([]RecordField, len(x.Fields))}
		for i, field := range x.Fields {
			d, err := desugar(field.Value)
			if err != nil {
				return nil, err
			}
			out.Fields[i] = RecordField{Name: field.Name, Value: d}
		}
		return out, nil

	case *Call:
		fun, err := desugar(x.Fun)
		if err != nil {
			return nil, err
		}
		arg, err := desugar(x.Arg)
		if err != nil {
			return nil, err
		}
		return &Call{Fun: fun, Arg: arg, span: x.span}, nil

	case *Binop:
		return desugarBinop(x)

	case *Annotation:
		// Annotations erase in expression position; the language is
		// dynamically typed.
		return desugar(x.Expr)

	case *Guard:
		return nil, diag.New(diag.Syntax, x.Span(),
			"pattern guard | is only meaningful in a pattern")

	case *Rest:
		return nil, diag.New(diag.Syntax, x.Span(),
			"..rest is only meaningful inside a list pattern")

	case *Match:
		scrut, err := desugar(x.Scrutinee)
		if err != nil {
			return nil, err
		}
		out := &Match{Scrutinee: scrut, span: x.span, Arms: make([]MatchArm, len(x.Arms))}
		for i, arm := range x.Arms {
			body, err := desugar(arm.Body)
			if err != nil {
				return nil, err
			}
			out.Arms[i] = MatchArm{Pattern: arm.Pattern, Body: body}
		}
		return out, nil

	case *FFI:
		arg, err := desugar(x.Arg)
		if err != nil {
			return nil, err
		}
		return &FFI{Name: x.Name, Arg: arg, span: x.span}, nil

	case *Fiber:
		body, err := desugar(x.Body)
		if err != nil {
			return nil, err
		}
		return &Fiber{Body: body, span: x.span}, nil

	case *Lambda:
		body, err := desugar(x.Body)
		if err != nil {
			return nil, err
		}
		return &Lambda{Param: x.Param, Body: body, span: x.span}, nil

	case *Assign:
		val, err := desugar(x.Value)
		if err != nil {
			return nil, err
		}
		return &Assign{Pattern: x.Pattern, Value: val, span: x.span}, nil

	default:
		return nil, diag.New(diag.Syntax, n.Span(), "unexpected syntax node")
	}
}

func desugarBinop(x *Binop) (Node, *diag.Diagnostic) {
	switch x.Op {
	case ".":
		return desugarDot(x)
	case "=":
		return desugarAssign(x)
	case "->":
		return desugarLambda(x)
	}

	if prim, ok := primitiveOps[x.Op]; ok {
		left, err := desugar(x.Left)
		if err != nil {
			return nil, err
		}
		right, err := desugar(x.Right)
		if err != nil {
			return nil, err
		}
		return &FFI{
			Name: prim,
			Arg:  &Tuple{Items: []Node{left, right}, span: x.span},
			span: x.span,
		}, nil
	}

	// User-defined operators occupy a single lowest precedence class and
	// desugar to a curried call on the operator's name. Resolution decides
	// whether such a binding exists.
	left, err := desugar(x.Left)
	if err != nil {
		return nil, err
	}
	right, err := desugar(x.Right)
	if err != nil {
		return nil, err
	}
	head := &Symbol{Name: x.Op, span: x.span}
	return &Call{
		Fun:  &Call{Fun: head, Arg: left, span: x.Left.Span().Union(x.span)},
		Arg:  right,
		span: x.span,
	}, nil
}

// desugarDot resolves the tightest operator: a Label.Label path fuses into
// one dotted constructor name; anything else is record field access via the
// field primitive.
func desugarDot(x *Binop) (Node, *diag.Diagnostic) {
	if l, ok := x.Left.(*Label); ok {
		if r, ok := x.Right.(*Label); ok {
			return &Label{Name: l.Name + "." + r.Name, span: x.span}, nil
		}
	}

	field, ok := x.Right.(*Symbol)
	if !ok {
		return nil, diag.New(diag.Syntax, x.Right.Span(),
			"the right side of . must be a field name")
	}
	left, err := desugar(x.Left)
	if err != nil {
		return nil, err
	}
	return &FFI{
		Name: "field",
		Arg: &Tuple{
			Items: []Node{left, &Literal{Value: value.String(field.Name), span: field.span}},
			span:  x.span,
		},
		span: x.span,
	}, nil
}

// desugarAssign handles p = e, including the definition sugar
// f x y = e  ==>  f = x -> y -> e.
func desugarAssign(x *Binop) (Node, *diag.Diagnostic) {
	lhs := x.Left

	// Peel juxtaposed parameters off a definition head.
	var params []Node
	head := lhs
	for {
		call, ok := head.(*Call)
		if !ok {
			break
		}
		if _, isLabel := call.Fun.(*Label); isLabel {
			// Constructor application is a destructuring pattern, not a
			// definition head.
			break
		}
		params = append(params, call.Arg)
		head = call.Fun
	}

	body, err := desugar(x.Right)
	if err != nil {
		return nil, err
	}

	if _, isSymbol := head.(*Symbol); isSymbol && len(params) > 0 {
		// params were peeled inner-first; wrapping in that order nests the
		// last parameter innermost.
		for _, param := range params {
			pat, err := patternize(param)
			if err != nil {
				return nil, err
			}
			body = &Lambda{Param: pat, Body: body, span: param.Span().Union(body.Span())}
		}
		lhs = head
	}

	pattern, err := patternize(lhs)
	if err != nil {
		return nil, err
	}
	return &Assign{Pattern: pattern, Value: body, span: x.span}, nil
}

// desugarLambda handles p -> e, currying a b c -> e into nested
// single-parameter lambdas.
func desugarLambda(x *Binop) (Node, *diag.Diagnostic) {
	// Flatten a juxtaposed parameter chain.
	var params []Node
	head := x.Left
	for {
		call, ok := head.(*Call)
		if !ok {
			break
		}
		if _, isLabel := call.Fun.(*Label); isLabel {
			break
		}
		params = append(params, call.Arg)
		head = call.Fun
	}
	params = append(params, head)

	body, err := desugar(x.Right)
	if err != nil {
		return nil, err
	}

	// params run inner-first after the peel; wrap in that order so the
	// first surface parameter ends up outermost.
	for _, param := range params {
		pat, err := patternize(param)
		if err != nil {
			return nil, err
		}
		body = &Lambda{Param: pat, Body: body, span: x.span}
	}
	return body, nil
}

// recordFromBlock recognizes the braced record reading: a block whose
// single form is one name: value pair or a tuple of them.
func recordFromBlock(b *Block) (Node, bool) {
	if len(b.Exprs) != 1 {
		return nil, false
	}

	fieldOf := func(n Node) (RecordField, bool) {
		ann, ok := n.(*Annotation)
		if !ok {
			return RecordField{}, false
		}
		name, ok := ann.Expr.(*Symbol)
		if !ok {
			return RecordField{}, false
		}
		return RecordField{Name: name.Name, Value: ann.Type}, true
	}

	switch e := b.Exprs[0].(type) {
	case *Annotation:
		field, ok := fieldOf(e)
		if !ok {
			return nil, false
		}
		return &Record{Fields: []RecordField{field}, span: b.span}, true
	case *Tuple:
		fields := make([]RecordField, 0, len(e.Items))
		for _, item := range e.Items {
			field, ok := fieldOf(item)
			if !ok {
				return nil, false
			}
			fields = append(fields, field)
		}
		return &Record{Fields: fields, span: b.span}, true
	default:
		return nil, false
	}
}
