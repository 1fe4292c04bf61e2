// Package lexer turns UTF-8 source bytes into a spanned token stream.
//
// Whitespace other than newlines only delimits tokens. Newlines and
// semicolons become SEP tokens; consecutive separators collapse to one, and
// a separator immediately following an infix operator is discarded so an
// expression may continue on the next line after the operator.
package lexer

import (
	"strconv"
	"strings"

	"github.com/vrtbl/passerine/core/diag"
)

// LexerOpt represents a lexer configuration option.
type LexerOpt func(*Lexer)

// WithSourceName sets the source name stamped on every token span. The
// default is "main".
func WithSourceName(name string) LexerOpt {
	return func(l *Lexer) {
		l.source = name
	}
}

// Lexer scans one source string. The zero value is not usable; construct
// with NewLexer.
type Lexer struct {
	input    []byte
	source   string
	position int

	// lastType tracks the previously emitted token so separator collapsing
	// and the operator-continuation rule need no lookbehind buffer.
	lastType TokenType
	started  bool
}

// NewLexer creates a lexer over input with optional configuration.
func NewLexer(input string, opts ...LexerOpt) *Lexer {
	l := &Lexer{
		input:  []byte(input),
		source: "main",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Tokens scans the whole input. On a lexing fault it returns the tokens
// produced so far plus the diagnostic; the stage does not recover.
func (l *Lexer) Tokens() ([]Token, *diag.Diagnostic) {
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return tokens, err
		}
		if tok.Type == EOF {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

// NextToken returns the next token, skipping whitespace and comments and
// applying the separator rules.
func (l *Lexer) NextToken() (Token, *diag.Diagnostic) {
	for {
		if err := l.skipTrivia(); err != nil {
			return Token{}, err
		}
		if l.position >= len(l.input) {
			return Token{Type: EOF, Span: l.spanFrom(l.position)}, nil
		}

		ch := l.input[l.position]
		if ch == '\n' || ch == ';' {
			start := l.position
			l.position++
			// Collapse runs, drop leading separators, and drop a separator
			// continuing the line after an infix operator.
			if !l.started || l.lastType == SEP || l.lastType == OP {
				continue
			}
			return l.emit(Token{Type: SEP, Text: string(ch), Span: l.span(start)}), nil
		}

		switch {
		case isIdentStart(ch):
			return l.emit(l.lexName()), nil
		case isDigit(ch):
			return l.lexNumber()
		case ch == '"':
			return l.lexString()
		}

		if group, ok := groupTokens[ch]; ok {
			start := l.position
			l.position++
			return l.emit(Token{Type: group, Text: string(ch), Span: l.span(start)}), nil
		}

		if isOpChar(ch) {
			return l.emit(l.lexOperator()), nil
		}

		span := diag.NewSpan(l.source, l.position, 1)
		return Token{}, diag.New(diag.Lex, span, "stray byte %q in source", string(ch))
	}
}

// skipTrivia consumes whitespace (except newlines) and comments.
func (l *Lexer) skipTrivia() *diag.Diagnostic {
	for l.position < len(l.input) {
		ch := l.input[l.position]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.position++
		case l.startsLineComment():
			for l.position < len(l.input) && l.input[l.position] != '\n' {
				l.position++
			}
		case l.startsWith("-{"):
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// startsLineComment reports a "--" comment opener: "--" followed by a space,
// tab, line break, another '-', or the end of input. A "--" glued to other
// punctuation stays an operator run.
func (l *Lexer) startsLineComment() bool {
	if !l.startsWith("--") {
		return false
	}
	rest := l.position + 2
	if rest >= len(l.input) {
		return true
	}
	next := l.input[rest]
	return next == ' ' || next == '\t' || next == '\n' || next == '\r' || next == '-'
}

func (l *Lexer) startsWith(prefix string) bool {
	return strings.HasPrefix(string(l.input[l.position:]), prefix)
}

// skipBlockComment consumes a nestable -{ ... }- region.
func (l *Lexer) skipBlockComment() *diag.Diagnostic {
	start := l.position
	depth := 0
	for l.position < len(l.input) {
		switch {
		case l.startsWith("-{"):
			depth++
			l.position += 2
		case l.startsWith("}-"):
			depth--
			l.position += 2
			if depth == 0 {
				return nil
			}
		default:
			l.position++
		}
	}
	return diag.New(diag.Lex, l.spanFrom(start), "unterminated block comment")
}

// lexName reads an identifier or a constructor label.
func (l *Lexer) lexName() Token {
	start := l.position
	for l.position < len(l.input) && isIdentPart(l.input[l.position]) {
		l.position++
	}
	text := string(l.input[start:l.position])

	kind := IDEN
	if text[0] >= 'A' && text[0] <= 'Z' {
		kind = LABEL
	}
	return Token{Type: kind, Text: text, Span: l.span(start)}
}

// lexNumber reads a decimal integer, a decimal real, or a 0x hex integer.
func (l *Lexer) lexNumber() (Token, *diag.Diagnostic) {
	start := l.position

	if l.startsWith("0x") || l.startsWith("0X") {
		l.position += 2
		digits := l.position
		for l.position < len(l.input) && isHexDigit(l.input[l.position]) {
			l.position++
		}
		if l.position == digits {
			return Token{}, diag.New(diag.Lex, l.spanFrom(start), "hex literal has no digits")
		}
		text := string(l.input[start:l.position])
		n, err := strconv.ParseInt(text[2:], 16, 64)
		if err != nil {
			return Token{}, diag.New(diag.Lex, l.spanFrom(start), "hex literal %s out of range", text)
		}
		return l.emit(Token{Type: INT, Text: text, Span: l.span(start), Int: n}), nil
	}

	for l.position < len(l.input) && isDigit(l.input[l.position]) {
		l.position++
	}

	isReal := false
	if l.position+1 < len(l.input) && l.input[l.position] == '.' && isDigit(l.input[l.position+1]) {
		isReal = true
		l.position++
		for l.position < len(l.input) && isDigit(l.input[l.position]) {
			l.position++
		}
	}

	text := string(l.input[start:l.position])
	if isReal {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, diag.New(diag.Lex, l.spanFrom(start), "malformed real literal %s", text)
		}
		return l.emit(Token{Type: REAL, Text: text, Span: l.span(start), Real: f}), nil
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, diag.New(diag.Lex, l.spanFrom(start), "integer literal %s out of range", text)
	}
	return l.emit(Token{Type: INT, Text: text, Span: l.span(start), Int: n}), nil
}

// lexString reads a double-quoted literal, decoding escapes. Strings may
// span lines; only end-of-input leaves one unterminated.
func (l *Lexer) lexString() (Token, *diag.Diagnostic) {
	start := l.position
	l.position++ // opening quote

	var decoded strings.Builder
	for l.position < len(l.input) {
		ch := l.input[l.position]

		if ch == '"' {
			l.position++
			text := string(l.input[start:l.position])
			tok := Token{Type: STRING, Text: text, Span: l.span(start), Str: decoded.String()}
			return l.emit(tok), nil
		}

		if ch != '\\' {
			decoded.WriteByte(ch)
			l.position++
			continue
		}

		// Escape sequence
		escStart := l.position
		if l.position+1 >= len(l.input) {
			return Token{}, diag.New(diag.Lex, l.spanFrom(start), "unterminated string")
		}
		esc := l.input[l.position+1]
		l.position += 2
		switch esc {
		case '"':
			decoded.WriteByte('"')
		case '\\':
			decoded.WriteByte('\\')
		case 'n':
			decoded.WriteByte('\n')
		case 't':
			decoded.WriteByte('\t')
		case 'b':
			if l.position+1 >= len(l.input) ||
				!isHexDigit(l.input[l.position]) || !isHexDigit(l.input[l.position+1]) {
				return Token{}, diag.New(diag.Lex, l.spanFrom(escStart),
					"byte escape needs two hex digits")
			}
			b, _ := strconv.ParseUint(string(l.input[l.position:l.position+2]), 16, 8)
			decoded.WriteByte(byte(b))
			l.position += 2
		default:
			return Token{}, diag.New(diag.Lex, diag.NewSpan(l.source, escStart, 2),
				"unknown escape \\%s", string(esc))
		}
	}

	return Token{}, diag.New(diag.Lex, l.spanFrom(start), "unterminated string")
}

// lexOperator reads a maximal run of operator punctuation. A comma always
// stands alone so tuple items never glue to a neighbouring operator.
func (l *Lexer) lexOperator() Token {
	start := l.position
	if l.input[l.position] == ',' {
		l.position++
		return Token{Type: OP, Text: ",", Span: l.span(start)}
	}
	for l.position < len(l.input) && isOpChar(l.input[l.position]) && l.input[l.position] != ',' {
		l.position++
	}
	return Token{Type: OP, Text: string(l.input[start:l.position]), Span: l.span(start)}
}

// emit records the token type for the separator rules and passes it on.
func (l *Lexer) emit(tok Token) Token {
	l.lastType = tok.Type
	l.started = true
	return tok
}

func (l *Lexer) span(start int) diag.Span {
	return diag.NewSpan(l.source, start, l.position-start)
}

func (l *Lexer) spanFrom(start int) diag.Span {
	length := l.position - start
	if length <= 0 {
		length = 1
		if start >= len(l.input) && start > 0 {
			start = len(l.input) - 1
		}
	}
	return diag.NewSpan(l.source, start, length)
}

var groupTokens = map[byte]TokenType{
	'(': LPAREN,
	')': RPAREN,
	'[': LSQUARE,
	']': RSQUARE,
	'{': LBRACE,
	'}': RBRACE,
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// isOpChar reports ASCII punctuation that may appear in an operator run.
// Grouping markers, separators, quotes and the underscore are reserved.
func isOpChar(ch byte) bool {
	switch ch {
	case '!', '#', '$', '%', '&', '\'', '*', '+', ',', '-', '.', '/',
		':', '<', '=', '>', '?', '@', '\\', '^', '`', '|', '~':
		return true
	default:
		return false
	}
}
