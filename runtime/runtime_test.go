package runtime_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime"
)

func TestStagesStopWhereTheirErrorIs(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind diag.Kind
	}{
		{"lex", `"unterminated`, diag.Lex},
		{"parse", "(1 + 2", diag.Syntax},
		{"resolve", "missing_name", diag.Resolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runtime.Run(tt.src)
			require.NotNil(t, err)
			assert.Equal(t, tt.kind, err.Kind)
		})
	}
}

func TestSourceNameFlowsIntoDiagnostics(t *testing.T) {
	_, err := runtime.Run("(", runtime.WithSourceName("broken.pn"))
	require.NotNil(t, err)
	assert.Equal(t, "broken.pn", err.Primary.Source)
}

func TestRunEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
	}{
		{
			"arithmetic_precedence",
			"3 + 2 * 5",
			"13",
		},
		{
			"closure_over_mutable_binding",
			"make = () -> { c = 0; () -> { c = c + 1; c } }\nnext = make ()\nnext (); next (); next ()",
			"3",
		},
		{
			"tuple_destructure_swap",
			"(a, b) = (1, 2); (a, b) = (b, a); a",
			"2",
		},
		{
			"match_with_guard",
			`match 7 { n | n < 0 -> "neg", 0 -> "zero", n -> "pos" }`,
			`"pos"`,
		},
		{
			"fiber_yield_sequence",
			"c = fiber { i = 0; loop { yield i; i = i + 1 } }\n(c (), c (), c ())",
			"(0, 1, 2)",
		},
		{
			"try_catches_error",
			`try { error "boom" }`,
			`Result.Error "boom"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runtime.Run(tt.src)
			require.Nil(t, err)
			assert.Equal(t, tt.expected, value.Repr(result))
		})
	}
}

func TestRunWritesThroughConfiguredSink(t *testing.T) {
	var out bytes.Buffer
	_, err := runtime.Run(`magic "println" "from the pipeline"`, runtime.WithOut(&out))
	require.Nil(t, err)
	assert.Equal(t, "from the pipeline\n", out.String())
}

func TestBudgetOption(t *testing.T) {
	_, err := runtime.Run("loop { 1 }", runtime.WithBudget(5_000))
	require.NotNil(t, err)
	assert.Equal(t, diag.Timeout, err.Kind)
}
