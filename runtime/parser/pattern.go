package parser

import (
	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
)

// Pattern is a structural predicate over one value. On success a pattern
// binds a well-defined set of names; on failure it binds nothing and the
// destructure raises a MatchError.
type Pattern interface {
	Span() diag.Span
}

// PatSymbol binds the matched value to a name.
type PatSymbol struct {
	Name string
	span diag.Span
}

func (p *PatSymbol) Span() diag.Span { return p.span }

// PatDiscard matches anything and binds nothing: _.
type PatDiscard struct {
	span diag.Span
}

func (p *PatDiscard) Span() diag.Span { return p.span }

// NewPatDiscard builds a discard pattern over a span; the generator uses it
// for the synthetic parameters of thunks.
func NewPatDiscard(span diag.Span) *PatDiscard {
	return &PatDiscard{span: span}
}

// PatLiteral matches a value structurally equal to a constant.
type PatLiteral struct {
	Value value.Value
	span  diag.Span
}

func (p *PatLiteral) Span() diag.Span { return p.span }

// PatLabel matches a labelled value of the given name and destructures the
// wrapped value.
type PatLabel struct {
	Name  string
	Inner Pattern
	span  diag.Span
}

func (p *PatLabel) Span() diag.Span { return p.span }

// PatTuple matches a tuple of exactly len(Items) components.
type PatTuple struct {
	Items []Pattern
	span  diag.Span
}

func (p *PatTuple) Span() diag.Span { return p.span }

// PatList matches a list: exactly len(Items) elements, or at least that
// many when Rest captures the remaining tail.
type PatList struct {
	Items []Pattern
	Rest  Pattern // nil unless the pattern ends with ..rest
	span  diag.Span
}

func (p *PatList) Span() diag.Span { return p.span }

// PatRecordField pairs a field name with its sub-pattern.
type PatRecordField struct {
	Name    string
	Pattern Pattern
}

// PatRecord matches a record carrying at least the named fields; a missing
// field is a match failure.
type PatRecord struct {
	Fields []PatRecordField
	span   diag.Span
}

func (p *PatRecord) Span() diag.Span { return p.span }

// PatAnnotation matches a value against both sides of p : t.
type PatAnnotation struct {
	Pattern Pattern
	Type    Pattern
	span    diag.Span
}

func (p *PatAnnotation) Span() diag.Span { return p.span }

// PatGuard matches its inner pattern, then evaluates the guard expression
// in the scope of the bindings; a false guard fails the match.
type PatGuard struct {
	Pattern Pattern
	Cond    Node
	span    diag.Span
}

func (p *PatGuard) Span() diag.Span { return p.span }

// patternize converts a surface tree in binding position into a Pattern.
// The expression grammar and the pattern grammar share one parser; this is
// where the "pattern where an expression is required" class of syntax
// errors (and its inverse) surfaces.
func patternize(n Node) (Pattern, *diag.Diagnostic) {
	switch x := n.(type) {
	case *Symbol:
		if x.Name == "_" {
			return &PatDiscard{span: x.span}, nil
		}
		return &PatSymbol{Name: x.Name, span: x.span}, nil

	case *Literal:
		return &PatLiteral{Value: x.Value, span: x.span}, nil

	case *Label:
		// A bare constructor matches the label wrapping Unit.
		return &PatLabel{
			Name:  x.Name,
			Inner: &PatLiteral{Value: value.Unit{}, span: x.span},
			span:  x.span,
		}, nil

	case *Call:
		label, ok := x.Fun.(*Label)
		if !ok {
			return nil, diag.New(diag.Syntax, x.Span(),
				"only a constructor can be applied in a pattern")
		}
		inner, err := patternize(x.Arg)
		if err != nil {
			return nil, err
		}
		return &PatLabel{Name: label.Name, Inner: inner, span: x.span}, nil

	case *Tuple:
		items := make([]Pattern, len(x.Items))
		for i, item := range x.Items {
			p, err := patternize(item)
			if err != nil {
				return nil, err
			}
			items[i] = p
		}
		return &PatTuple{Items: items, span: x.span}, nil

	case *List:
		pat := &PatList{span: x.span}
		for i, item := range x.Items {
			if rest, ok := item.(*Rest); ok {
				if i != len(x.Items)-1 {
					return nil, diag.New(diag.Syntax, rest.Span(),
						"..rest must be the last list pattern element")
				}
				p, err := patternize(rest.Expr)
				if err != nil {
					return nil, err
				}
				pat.Rest = p
				continue
			}
			p, err := patternize(item)
			if err != nil {
				return nil, err
			}
			pat.Items = append(pat.Items, p)
		}
		return pat, nil

	case *Record:
		pat := &PatRecord{span: x.span}
		for _, field := range x.Fields {
			p, err := patternize(field.Value)
			if err != nil {
				return nil, err
			}
			pat.Fields = append(pat.Fields, PatRecordField{Name: field.Name, Pattern: p})
		}
		return pat, nil

	case *Block:
		// A braced pattern region may parse as a block before record
		// detection has run; retry on the record reading.
		if rec, ok := recordFromBlock(x); ok {
			return patternize(rec)
		}
		if len(x.Exprs) == 1 {
			return patternize(x.Exprs[0])
		}
		return nil, diag.New(diag.Syntax, x.Span(), "block is not a pattern")

	case *Annotation:
		p, err := patternize(x.Expr)
		if err != nil {
			return nil, err
		}
		tp, err := patternize(x.Type)
		if err != nil {
			return nil, err
		}
		return &PatAnnotation{Pattern: p, Type: tp, span: x.span}, nil

	case *Guard:
		p, err := patternize(x.Expr)
		if err != nil {
			return nil, err
		}
		cond, err := desugar(x.Cond)
		if err != nil {
			return nil, err
		}
		return &PatGuard{Pattern: p, Cond: cond, span: x.span}, nil

	case *Rest:
		return nil, diag.New(diag.Syntax, x.Span(),
			"..rest is only meaningful inside a list pattern")

	default:
		return nil, diag.New(diag.Syntax, n.Span(),
			"expression is not a valid pattern")
	}
}

// boundNames collects the names a pattern binds, in binding order.
func boundNames(p Pattern, into []string) []string {
	switch x := p.(type) {
	case *PatSymbol:
		return append(into, x.Name)
	case *PatLabel:
		return boundNames(x.Inner, into)
	case *PatTuple:
		for _, item := range x.Items {
			into = boundNames(item, into)
		}
		return into
	case *PatList:
		for _, item := range x.Items {
			into = boundNames(item, into)
		}
		if x.Rest != nil {
			into = boundNames(x.Rest, into)
		}
		return into
	case *PatRecord:
		for _, field := range x.Fields {
			into = boundNames(field.Pattern, into)
		}
		return into
	case *PatAnnotation:
		into = boundNames(x.Pattern, into)
		return boundNames(x.Type, into)
	case *PatGuard:
		return boundNames(x.Pattern, into)
	default:
		return into
	}
}

// BoundNames returns the names a pattern binds, in binding order.
func BoundNames(p Pattern) []string {
	return boundNames(p, nil)
}
