// Package parser turns the token stream into a canonical syntax tree.
//
// The grammar is expression-oriented: a form is a run of atoms joined by
// juxtaposition (left-associative unary application), shaped further by a
// fixed infix precedence table. Parsing yields a surface tree; Desugar
// lowers it to the canonical subset the bytecode generator consumes.
package parser

import (
	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/lexer"
)

// Operator precedence, tightest binding first. Comma is handled separately
// because it builds tuples rather than applications.
const (
	precDot     = 100
	precFactor  = 90
	precTerm    = 80
	precCompare = 70
	precAnd     = 60
	precOr      = 50
	precGuard   = 40
	precAnnot   = 35
	precAssign  = 30
	precArrow   = 20
	precComma   = 10
	precUser    = 5
)

// opPrec returns the binding power and associativity for an infix operator.
// Unknown operators all land in the single lowest, left-associative class.
func opPrec(op string) (prec int, rightAssoc bool) {
	switch op {
	case ".":
		return precDot, false
	case "*", "/", "%":
		return precFactor, false
	case "+", "-":
		return precTerm, false
	case "==", "!=", "<", "<=", ">", ">=":
		return precCompare, false
	case "&&":
		return precAnd, false
	case "||":
		return precOr, false
	case "|":
		return precGuard, false
	case ":":
		return precAnnot, false
	case "=":
		return precAssign, true
	case "->":
		return precArrow, true
	case ",":
		return precComma, false
	default:
		return precUser, false
	}
}

// Parser consumes a token stream. Construct with NewParser.
type Parser struct {
	tokens []lexer.Token
	pos    int
	source string

	// noBrace counts contexts (a match scrutinee) in which application must
	// not absorb a brace atom, so the arms block stays with the match.
	noBrace int

	// openers tracks unclosed grouping tokens for span-carrying errors.
	openers []lexer.Token
}

// NewParser wraps an already-lexed token stream.
func NewParser(tokens []lexer.Token, sourceName string) *Parser {
	return &Parser{tokens: tokens, source: sourceName}
}

// Parse lexes and parses a whole source, producing the surface tree: a
// Block of the top-level forms.
func Parse(input string, opts ...lexer.LexerOpt) (Node, *diag.Diagnostic) {
	lx := lexer.NewLexer(input, opts...)
	tokens, err := lx.Tokens()
	if err != nil {
		return nil, err
	}
	sourceName := "main"
	if len(tokens) > 0 {
		sourceName = tokens[0].Span.Source
	}
	return NewParser(tokens, sourceName).Module()
}

// ParseDesugared is the common pipeline pairing: parse then lower to the
// canonical tree.
func ParseDesugared(input string, opts ...lexer.LexerOpt) (Node, *diag.Diagnostic) {
	tree, err := Parse(input, opts...)
	if err != nil {
		return nil, err
	}
	return Desugar(tree)
}

// Module parses the whole stream as separator-delimited top-level forms.
func (p *Parser) Module() (Node, *diag.Diagnostic) {
	exprs, err := p.forms(lexer.EOF)
	if err != nil {
		return nil, err
	}
	span := diag.NewSpan(p.source, 0, 0)
	for _, e := range exprs {
		span = span.Union(e.Span())
	}
	return &Block{Exprs: exprs, span: span}, nil
}

// forms parses expressions separated by SEP until the closing token type.
func (p *Parser) forms(until lexer.TokenType) ([]Node, *diag.Diagnostic) {
	var exprs []Node
	for {
		p.skipSeps()
		if p.peek().Type == until {
			return exprs, nil
		}
		if p.peek().Type == lexer.EOF {
			return nil, p.unbalanced()
		}

		expr, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)

		switch p.peek().Type {
		case lexer.SEP:
			continue
		case until:
			continue
		case lexer.EOF:
			continue
		default:
			return nil, diag.New(diag.Syntax, p.peek().Span,
				"unexpected token %q after expression", p.peek().Text)
		}
	}
}

// parseExpr implements precedence climbing above juxtaposition.
func (p *Parser) parseExpr(minPrec int) (Node, *diag.Diagnostic) {
	left, err := p.parseApply()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != lexer.OP {
			return left, nil
		}

		if tok.Text == "," {
			if minPrec > precComma {
				return left, nil
			}
			return p.parseTuple(left)
		}

		prec, rightAssoc := opPrec(tok.Text)
		if prec < minPrec {
			return left, nil
		}
		p.next()

		nextMin := prec + 1
		if rightAssoc {
			nextMin = prec
		}
		if tok.Text == "=" {
			// The right side of a binding reaches down to lambda level so
			// make = () -> { ... } binds the function, not the unit.
			nextMin = precArrow
		}
		right, err := p.parseExpr(nextMin)
		if err != nil {
			return nil, err
		}

		span := left.Span().Union(right.Span())
		switch tok.Text {
		case "|":
			left = &Guard{Expr: left, Cond: right, span: span}
		case ":":
			left = &Annotation{Expr: left, Type: right, span: span}
		default:
			left = &Binop{Op: tok.Text, Left: left, Right: right, span: span}
		}
	}
}

// parseTuple collects comma-joined items into one Tuple node.
func (p *Parser) parseTuple(first Node) (Node, *diag.Diagnostic) {
	items := []Node{first}
	span := first.Span()
	for p.peek().Type == lexer.OP && p.peek().Text == "," {
		p.next()
		item, err := p.parseExpr(precComma + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		span = span.Union(item.Span())
	}
	return &Tuple{Items: items, span: span}, nil
}

// parseApply parses a form: an atom followed by juxtaposed argument atoms.
// Dot chains bind tighter than application, so Result.Ok v applies the
// dotted constructor and point.x y applies the field.
func (p *Parser) parseApply() (Node, *diag.Diagnostic) {
	left, err := p.parseDotted()
	if err != nil {
		return nil, err
	}
	for p.startsAtom() {
		arg, err := p.parseDotted()
		if err != nil {
			return nil, err
		}
		left = &Call{Fun: left, Arg: arg, span: left.Span().Union(arg.Span())}
	}
	return left, nil
}

// parseDotted parses an atom and any trailing .name accesses. Two dotted
// constructor names fuse into a single labelled path.
func (p *Parser) parseDotted() (Node, *diag.Diagnostic) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == lexer.OP && p.peek().Text == "." {
		p.next()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		span := left.Span().Union(right.Span())
		if l, isLabel := left.(*Label); isLabel {
			if r, isLabel := right.(*Label); isLabel {
				left = &Label{Name: l.Name + "." + r.Name, span: span}
				continue
			}
		}
		left = &Binop{Op: ".", Left: left, Right: right, span: span}
	}
	return left, nil
}

// startsAtom reports whether the next token can begin an argument atom.
func (p *Parser) startsAtom() bool {
	switch p.peek().Type {
	case lexer.IDEN, lexer.LABEL, lexer.INT, lexer.REAL, lexer.STRING,
		lexer.LPAREN, lexer.LSQUARE:
		return true
	case lexer.LBRACE:
		return p.noBrace == 0
	default:
		return false
	}
}

func (p *Parser) parseAtom() (Node, *diag.Diagnostic) {
	tok := p.peek()
	switch tok.Type {
	case lexer.IDEN:
		switch tok.Text {
		case "match":
			return p.parseMatch()
		case "fiber":
			return p.parseFiber()
		case "magic":
			return p.parseMagic()
		case "true":
			p.next()
			return &Literal{Value: value.Bool(true), span: tok.Span}, nil
		case "false":
			p.next()
			return &Literal{Value: value.Bool(false), span: tok.Span}, nil
		}
		p.next()
		return &Symbol{Name: tok.Text, span: tok.Span}, nil

	case lexer.LABEL:
		p.next()
		return &Label{Name: tok.Text, span: tok.Span}, nil

	case lexer.INT:
		p.next()
		return &Literal{Value: value.Int(tok.Int), span: tok.Span}, nil

	case lexer.REAL:
		p.next()
		return &Literal{Value: value.Real(tok.Real), span: tok.Span}, nil

	case lexer.STRING:
		p.next()
		return &Literal{Value: value.String(tok.Str), span: tok.Span}, nil

	case lexer.LPAREN:
		return p.parseParens()

	case lexer.LSQUARE:
		return p.parseList()

	case lexer.LBRACE:
		return p.parseBraces()

	case lexer.OP:
		return nil, diag.New(diag.Syntax, tok.Span,
			"operator %q where an expression is required", tok.Text)

	case lexer.RPAREN, lexer.RSQUARE, lexer.RBRACE:
		return nil, diag.New(diag.Syntax, tok.Span,
			"unexpected closing %q", tok.Text)

	default:
		return nil, diag.New(diag.Syntax, tok.Span, "unexpected end of input")
	}
}

// parseParens parses (), a grouped expression, or a tuple.
func (p *Parser) parseParens() (Node, *diag.Diagnostic) {
	open := p.next()
	p.pushOpener(open)
	defer p.popOpener()

	// Grouping resets the brace restriction: a match scrutinee may contain
	// a parenthesized block.
	saved := p.noBrace
	p.noBrace = 0
	defer func() { p.noBrace = saved }()

	p.skipSeps()
	if p.peek().Type == lexer.RPAREN {
		closing := p.next()
		return &Literal{Value: value.Unit{}, span: open.Span.Union(closing.Span)}, nil
	}

	expr, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	p.skipSeps()
	if p.peek().Type != lexer.RPAREN {
		return nil, p.unbalanced()
	}
	p.next()
	return expr, nil
}

// parseList parses [ items ] with comma-separated elements; an element may
// carry the ..rest marker in pattern position.
func (p *Parser) parseList() (Node, *diag.Diagnostic) {
	open := p.next()
	p.pushOpener(open)
	defer p.popOpener()

	saved := p.noBrace
	p.noBrace = 0
	defer func() { p.noBrace = saved }()

	list := &List{}
	span := open.Span
	for {
		p.skipSeps()
		tok := p.peek()
		if tok.Type == lexer.RSQUARE {
			closing := p.next()
			list.span = span.Union(closing.Span)
			return list, nil
		}
		if tok.Type == lexer.EOF {
			return nil, p.unbalanced()
		}

		var item Node
		if tok.Type == lexer.OP && tok.Text == ".." {
			dots := p.next()
			inner, err := p.parseExpr(precComma + 1)
			if err != nil {
				return nil, err
			}
			item = &Rest{Expr: inner, span: dots.Span.Union(inner.Span())}
		} else {
			var err *diag.Diagnostic
			item, err = p.parseExpr(precComma + 1)
			if err != nil {
				return nil, err
			}
		}
		list.Items = append(list.Items, item)

		p.skipSeps()
		if p.peek().Type == lexer.OP && p.peek().Text == "," {
			p.next()
			continue
		}
		if p.peek().Type == lexer.EOF {
			return nil, p.unbalanced()
		}
		if p.peek().Type != lexer.RSQUARE {
			return nil, diag.New(diag.Syntax, p.peek().Span,
				"expected , or ] in list, got %q", p.peek().Text)
		}
	}
}

// parseBraces parses { forms } into a Block; Desugar may later read the
// block as a record.
func (p *Parser) parseBraces() (Node, *diag.Diagnostic) {
	open := p.next()
	p.pushOpener(open)
	defer p.popOpener()

	saved := p.noBrace
	p.noBrace = 0
	defer func() { p.noBrace = saved }()

	exprs, err := p.forms(lexer.RBRACE)
	if err != nil {
		return nil, err
	}
	closing := p.next()
	return &Block{Exprs: exprs, span: open.Span.Union(closing.Span)}, nil
}

// parseMatch parses match scrutinee { pattern -> body, ... }.
func (p *Parser) parseMatch() (Node, *diag.Diagnostic) {
	kw := p.next()

	p.noBrace++
	scrut, err := p.parseExpr(0)
	p.noBrace--
	if err != nil {
		return nil, err
	}

	if p.peek().Type != lexer.LBRACE {
		return nil, diag.New(diag.Syntax, p.peek().Span,
			"match needs a braced arm block")
	}
	open := p.next()
	p.pushOpener(open)
	defer p.popOpener()

	node := &Match{Scrutinee: scrut}
	for {
		p.skipSeps()
		tok := p.peek()
		if tok.Type == lexer.RBRACE {
			closing := p.next()
			node.span = kw.Span.Union(closing.Span)
			if len(node.Arms) == 0 {
				return nil, diag.New(diag.Syntax, node.span, "match needs at least one arm")
			}
			return node, nil
		}
		if tok.Type == lexer.EOF {
			return nil, p.unbalanced()
		}

		patExpr, err := p.parseExpr(precArrow + 1)
		if err != nil {
			return nil, err
		}
		if p.peek().Type != lexer.OP || p.peek().Text != "->" {
			return nil, diag.New(diag.Syntax, p.peek().Span,
				"match arm needs -> after its pattern")
		}
		p.next()

		body, err := p.parseExpr(precComma + 1)
		if err != nil {
			return nil, err
		}

		pattern, err := patternize(patExpr)
		if err != nil {
			return nil, err
		}
		node.Arms = append(node.Arms, MatchArm{Pattern: pattern, Body: body})

		p.skipSeps()
		if p.peek().Type == lexer.OP && p.peek().Text == "," {
			p.next()
		}
	}
}

// parseFiber parses fiber body, where the body is a single atom (usually a
// braced block).
func (p *Parser) parseFiber() (Node, *diag.Diagnostic) {
	kw := p.next()
	body, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return &Fiber{Body: body, span: kw.Span.Union(body.Span())}, nil
}

// parseMagic parses magic "name" arg.
func (p *Parser) parseMagic() (Node, *diag.Diagnostic) {
	kw := p.next()
	name := p.peek()
	if name.Type != lexer.STRING {
		return nil, diag.New(diag.Syntax, name.Span,
			"magic needs a quoted primitive name")
	}
	p.next()

	arg, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	return &FFI{Name: name.Str, Arg: arg, span: kw.Span.Union(arg.Span())}, nil
}

func (p *Parser) skipSeps() {
	for p.peek().Type == lexer.SEP {
		p.next()
	}
}

func (p *Parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		end := 0
		if len(p.tokens) > 0 {
			end = p.tokens[len(p.tokens)-1].Span.End()
		}
		return lexer.Token{Type: lexer.EOF, Span: diag.NewSpan(p.source, end, 0)}
	}
	return p.tokens[p.pos]
}

func (p *Parser) next() lexer.Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) pushOpener(tok lexer.Token) {
	p.openers = append(p.openers, tok)
}

func (p *Parser) popOpener() {
	if len(p.openers) > 0 {
		p.openers = p.openers[:len(p.openers)-1]
	}
}

// unbalanced builds the unbalanced-grouping diagnostic, pointing back at
// the innermost unclosed opener when one is on record.
func (p *Parser) unbalanced() *diag.Diagnostic {
	if len(p.openers) == 0 {
		return diag.New(diag.Syntax, p.peek().Span, "unexpected end of input")
	}
	open := p.openers[len(p.openers)-1]
	return diag.New(diag.Syntax, p.peek().Span,
		"unbalanced grouping: %q is never closed", open.Text).
		WithSecondary(open.Span)
}
