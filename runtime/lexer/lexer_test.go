package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrtbl/passerine/core/diag"
)

// tokenExpectation describes one expected token: its type, raw text, and
// span offset/length.
type tokenExpectation struct {
	typ    TokenType
	text   string
	offset int
	length int
}

func assertTokens(t *testing.T, input string, expected []tokenExpectation) {
	t.Helper()
	tokens, err := NewLexer(input).Tokens()
	require.Nil(t, err, "unexpected lex error for %q", input)
	require.Len(t, tokens, len(expected), "token count for %q", input)

	for i, want := range expected {
		got := tokens[i]
		assert.Equal(t, want.typ, got.Type, "token %d type", i)
		assert.Equal(t, want.text, got.Text, "token %d text", i)
		assert.Equal(t, want.offset, got.Span.Offset, "token %d offset", i)
		assert.Equal(t, want.length, got.Span.Length, "token %d length", i)
	}
}

func TestIdentifiersAndLabels(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "lowercase_iden",
			input: "next",
			expected: []tokenExpectation{
				{IDEN, "next", 0, 4},
			},
		},
		{
			name:  "underscore_iden",
			input: "_tmp1",
			expected: []tokenExpectation{
				{IDEN, "_tmp1", 0, 5},
			},
		},
		{
			name:  "label",
			input: "Some",
			expected: []tokenExpectation{
				{LABEL, "Some", 0, 4},
			},
		},
		{
			name:  "label_application",
			input: "Some 1",
			expected: []tokenExpectation{
				{LABEL, "Some", 0, 4},
				{INT, "1", 5, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestNumericLiterals(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "integer",
			input: "123",
			expected: []tokenExpectation{
				{INT, "123", 0, 3},
			},
		},
		{
			name:  "real",
			input: "2.5",
			expected: []tokenExpectation{
				{REAL, "2.5", 0, 3},
			},
		},
		{
			name:  "hex",
			input: "0xff",
			expected: []tokenExpectation{
				{INT, "0xff", 0, 4},
			},
		},
		{
			name:  "dot_call_not_real",
			input: "1.x",
			expected: []tokenExpectation{
				{INT, "1", 0, 1},
				{OP, ".", 1, 1},
				{IDEN, "x", 2, 1},
			},
		},
		{
			name:  "negative_is_operator_plus_literal",
			input: "-5",
			expected: []tokenExpectation{
				{OP, "-", 0, 1},
				{INT, "5", 1, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestNumericDecodedValues(t *testing.T) {
	tokens, err := NewLexer("42 0x10 2.5").Tokens()
	require.Nil(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, int64(42), tokens[0].Int)
	assert.Equal(t, int64(16), tokens[1].Int)
	assert.Equal(t, 2.5, tokens[2].Real)
}

func TestStringLiterals(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		decoded string
	}{
		{"plain", `"pos"`, "pos"},
		{"escaped_quote", `"say \"hi\""`, `say "hi"`},
		{"backslash", `"a\\b"`, `a\b`},
		{"newline_tab", `"a\n\tb"`, "a\n\tb"},
		{"byte_escape", `"\b41"`, "A"},
		{"multiline", "\"a\nb\"", "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := NewLexer(tt.input).Tokens()
			require.Nil(t, err)
			require.Len(t, tokens, 1)
			assert.Equal(t, STRING, tokens[0].Type)
			assert.Equal(t, tt.decoded, tokens[0].Str)
			assert.Equal(t, tt.input, tokens[0].Text)
		})
	}
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "arithmetic",
			input: "3 + 2 * 5",
			expected: []tokenExpectation{
				{INT, "3", 0, 1},
				{OP, "+", 2, 1},
				{INT, "2", 4, 1},
				{OP, "*", 6, 1},
				{INT, "5", 8, 1},
			},
		},
		{
			name:  "maximal_run",
			input: "a ->= b",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{OP, "->=", 2, 3},
				{IDEN, "b", 6, 1},
			},
		},
		{
			name:  "comma_stands_alone",
			input: "a ,, b",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{OP, ",", 2, 1},
				{OP, ",", 3, 1},
				{IDEN, "b", 5, 1},
			},
		},
		{
			name:  "comparison",
			input: "n <= 0",
			expected: []tokenExpectation{
				{IDEN, "n", 0, 1},
				{OP, "<=", 2, 2},
				{INT, "0", 5, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestGrouping(t *testing.T) {
	assertTokens(t, "([{}])", []tokenExpectation{
		{LPAREN, "(", 0, 1},
		{LSQUARE, "[", 1, 1},
		{LBRACE, "{", 2, 1},
		{RBRACE, "}", 3, 1},
		{RSQUARE, "]", 4, 1},
		{RPAREN, ")", 5, 1},
	})
}

func TestSeparators(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "newline_sep",
			input: "a\nb",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{SEP, "\n", 1, 1},
				{IDEN, "b", 2, 1},
			},
		},
		{
			name:  "semicolon_sep",
			input: "a; b",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{SEP, ";", 1, 1},
				{IDEN, "b", 3, 1},
			},
		},
		{
			name:  "consecutive_seps_collapse",
			input: "a\n\n;\nb",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{SEP, "\n", 1, 1},
				{IDEN, "b", 5, 1},
			},
		},
		{
			name:  "leading_sep_dropped",
			input: "\n\na",
			expected: []tokenExpectation{
				{IDEN, "a", 2, 1},
			},
		},
		{
			name:  "sep_after_operator_discarded",
			input: "a +\nb",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{OP, "+", 2, 1},
				{IDEN, "b", 4, 1},
			},
		},
		{
			name:  "trailing_sep_kept",
			input: "a\n",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{SEP, "\n", 1, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "line_comment",
			input: "a -- trailing words\nb",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{SEP, "\n", 19, 1},
				{IDEN, "b", 20, 1},
			},
		},
		{
			name:  "block_comment",
			input: "a -{ hidden }- b",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{IDEN, "b", 15, 1},
			},
		},
		{
			name:  "nested_block_comment",
			input: "a -{ outer -{ inner }- outer }- b",
			expected: []tokenExpectation{
				{IDEN, "a", 0, 1},
				{IDEN, "b", 32, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"unterminated_string", `"never ends`, "unterminated string"},
		{"unknown_escape", `"\q"`, "unknown escape"},
		{"bad_byte_escape", `"\bzz"`, "byte escape needs two hex digits"},
		{"unterminated_block_comment", "-{ forever", "unterminated block comment"},
		{"hex_without_digits", "0x", "hex literal has no digits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLexer(tt.input).Tokens()
			require.NotNil(t, err)
			assert.Equal(t, diag.Lex, err.Kind)
			assert.Contains(t, err.Message, tt.message)
		})
	}
}

// TestSpansReconstructSource checks the quantified lexing invariant: token
// spans never overlap, appear in source order, and slicing each span out of
// the input reproduces the token text.
func TestSpansReconstructSource(t *testing.T) {
	input := "make = () -> {\n\tc = 0 -- start\n\t() -> { c = c + 1; c }\n}\n"
	tokens, err := NewLexer(input, WithSourceName("roundtrip")).Tokens()
	require.Nil(t, err)

	prevEnd := 0
	for i, tok := range tokens {
		assert.GreaterOrEqual(t, tok.Span.Offset, prevEnd, "token %d overlaps predecessor", i)
		assert.Equal(t, tok.Text, tok.Span.Text([]byte(input)), "token %d span slice", i)
		assert.Equal(t, "roundtrip", tok.Span.Source)
		prevEnd = tok.Span.End()
	}
}

// TestLexingIsIdempotent re-lexes the concatenated span substrings and
// expects the same token sequence back.
func TestLexingIsIdempotent(t *testing.T) {
	input := "(a, b) = (1, 2); a"
	first, err := NewLexer(input).Tokens()
	require.Nil(t, err)

	var rebuilt []byte
	prevEnd := 0
	for _, tok := range first {
		if tok.Span.Offset > prevEnd {
			rebuilt = append(rebuilt, ' ')
		}
		rebuilt = append(rebuilt, []byte(tok.Text)...)
		prevEnd = tok.Span.End()
	}

	second, err := NewLexer(string(rebuilt)).Tokens()
	require.Nil(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Type, second[i].Type, "token %d", i)
		assert.Equal(t, first[i].Text, second[i].Text, "token %d", i)
	}
}
