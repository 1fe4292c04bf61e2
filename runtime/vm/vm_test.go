package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/compiler"
	"github.com/vrtbl/passerine/runtime/parser"
)

// run compiles and executes a source string on a fresh machine.
func run(t *testing.T, src string, opts ...Opt) (value.Value, *diag.Diagnostic) {
	t.Helper()
	tree, err := parser.ParseDesugared(src)
	require.Nil(t, err, "parse error for %q", src)
	lambda, err := compiler.Compile(tree)
	require.Nil(t, err, "compile error for %q", src)
	return New(opts...).Run(lambda)
}

// runValue asserts successful execution and returns the result.
func runValue(t *testing.T, src string, opts ...Opt) value.Value {
	t.Helper()
	result, err := run(t, src, opts...)
	require.Nil(t, err, "runtime error for %q", src)
	require.NotNil(t, result)
	return result
}

// runFault asserts the program faults and returns the diagnostic.
func runFault(t *testing.T, src string, opts ...Opt) *diag.Diagnostic {
	t.Helper()
	_, err := run(t, src, opts...)
	require.NotNil(t, err, "expected a fault for %q", src)
	return err
}

func TestArithmeticPrecedence(t *testing.T) {
	assert.Equal(t, value.Int(13), runValue(t, "3 + 2 * 5"))
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected value.Value
	}{
		{"subtraction", "10 - 4", value.Int(6)},
		{"division", "9 / 2", value.Int(4)},
		{"remainder", "9 % 2", value.Int(1)},
		{"hex_literals", "0x10 + 1", value.Int(17)},
		{"reals", "1.5 * 2.0", value.Real(3)},
		{"wraparound", "0x7fffffffffffffff + 1", value.Int(-9223372036854775808)},
		{"comparison_true", "2 < 3", value.Bool(true)},
		{"comparison_false", "2 >= 3", value.Bool(false)},
		{"string_order", `"abc" < "abd"`, value.Bool(true)},
		{"logic", "true && (false || true)", value.Bool(true)},
		{"concat", `magic "concat" ("foo", "bar")`, value.String("foobar")},
		{"length", `magic "length" [1, 2, 3]`, value.Int(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, runValue(t, tt.src))
		})
	}
}

func TestBooleanLiterals(t *testing.T) {
	assert.Equal(t, value.Bool(true), runValue(t, "true"))
	assert.Equal(t, value.Bool(false), runValue(t, "false"))
	assert.Equal(t, value.Bool(true), runValue(t, "t = 1 == 1\nt"))
}

func TestClosureOverMutableBinding(t *testing.T) {
	result := runValue(t, `
make = () -> { c = 0; () -> { c = c + 1; c } }
next = make ()
next (); next (); next ()`)
	assert.Equal(t, value.Int(3), result)
}

func TestTwoCountersAreIndependent(t *testing.T) {
	result := runValue(t, `
make = () -> { c = 0; () -> { c = c + 1; c } }
a = make ()
b = make ()
a (); a (); (a (), b ())`)
	assert.Equal(t, value.Tuple{value.Int(3), value.Int(1)}, result)
}

func TestTupleDestructureSwap(t *testing.T) {
	result := runValue(t, "(a, b) = (1, 2); (a, b) = (b, a); a")
	assert.Equal(t, value.Int(2), result)
}

func TestListDestructure(t *testing.T) {
	result := runValue(t, "[h, ..tail] = [1, 2, 3]; (h, tail)")
	assert.Equal(t, value.Tuple{value.Int(1), value.List{value.Int(2), value.Int(3)}}, result)
}

func TestRecordDestructureAndAccess(t *testing.T) {
	assert.Equal(t, value.Int(3), runValue(t, "{x: a, y: b} = {x: 1, y: 2}; a + b"))
	assert.Equal(t, value.Int(3), runValue(t, "p = {x: 1, y: 2}; p.x + p.y"))
}

func TestMatchWithGuard(t *testing.T) {
	tests := []struct {
		name      string
		scrutinee string
		expected  string
	}{
		{"positive", "7", "pos"},
		{"zero", "0", "zero"},
		{"negative", "(0 - 5)", "neg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `match ` + tt.scrutinee + ` { n | n < 0 -> "neg", 0 -> "zero", n -> "pos" }`
			assert.Equal(t, value.String(tt.expected), runValue(t, src))
		})
	}
}

func TestMatchDestructuresConstructors(t *testing.T) {
	result := runValue(t, `
unwrap = v -> match v { Some x -> x, None -> 0 }
(unwrap (Some 9), unwrap None)`)
	assert.Equal(t, value.Tuple{value.Int(9), value.Int(0)}, result)
}

func TestMatchBindingsAreLocalToArm(t *testing.T) {
	// The first arm fails after its guard; its binding of n must not leak
	// into the arm that succeeds.
	result := runValue(t, `
n = 100
match 7 { n | n < 0 -> n, _ -> n }`)
	assert.Equal(t, value.Int(100), result)
}

func TestMatchFallthroughRaisesWhenExhausted(t *testing.T) {
	err := runFault(t, "match (Some 1) { None -> 0 }")
	assert.Equal(t, diag.Match, err.Kind)
	assert.Contains(t, err.Message, "Some 1")
}

func TestNonMatchErrorAbortsMatch(t *testing.T) {
	// A guard that is not a boolean is a type error, which must not read
	// as fall-through.
	err := runFault(t, "match 1 { n | 5 -> 2, _ -> 3 }")
	assert.Equal(t, diag.Type, err.Kind)
}

func TestFiberYieldSequence(t *testing.T) {
	result := runValue(t, `
c = fiber { i = 0; loop { yield i; i = i + 1 } }
(c (), c (), c ())`)
	assert.Equal(t, value.Tuple{value.Int(0), value.Int(1), value.Int(2)}, result)
}

func TestFiberReceivesSentValues(t *testing.T) {
	result := runValue(t, `
c = fiber { x = yield 1; yield (x + 10) }
first = c ()
(first, c 5)`)
	assert.Equal(t, value.Tuple{value.Int(1), value.Int(15)}, result)
}

func TestFinishedFiberIsNotReentered(t *testing.T) {
	err := runFault(t, "c = fiber { 1 }\nc ()\nc ()")
	assert.Equal(t, diag.User, err.Kind)
	assert.Contains(t, err.Message, "finished")
}

func TestFiberFinishValueIsCallResult(t *testing.T) {
	assert.Equal(t, value.Int(42), runValue(t, "c = fiber { 42 }\nc ()"))
}

func TestErrorInFiberPropagatesToCaller(t *testing.T) {
	err := runFault(t, `c = fiber { error "inside" }`+"\nc ()")
	assert.Equal(t, diag.User, err.Kind)
	assert.Contains(t, err.Message, "inside")
}

func TestTryCatchesUserError(t *testing.T) {
	result := runValue(t, `try { error "boom" }`)
	assert.Equal(t, `Result.Error "boom"`, value.Repr(result))
}

func TestTryWrapsSuccess(t *testing.T) {
	result := runValue(t, "try { 1 + 2 }")
	assert.Equal(t, "Result.Ok 3", value.Repr(result))
}

func TestTryCatchesMatchAndTypeErrors(t *testing.T) {
	result := runValue(t, "try { match 1 { 2 -> 3 } }")
	assert.Equal(t, "Result.Error 1", value.Repr(result),
		"the unmatched scrutinee is the payload")

	result = runValue(t, `try { 1 + "x" }`)
	label, ok := result.(value.Label)
	require.True(t, ok)
	assert.Equal(t, "Result.Error", label.Name)
}

func TestTryResultDestructures(t *testing.T) {
	result := runValue(t, `
r = try { error "boom" }
match r { Result.Ok v -> v, Result.Error e -> e }`)
	assert.Equal(t, value.String("boom"), result)
}

func TestUncaughtErrorReachesHost(t *testing.T) {
	err := runFault(t, `error "unhandled"`)
	assert.Equal(t, diag.User, err.Kind)
	assert.Contains(t, err.Message, "unhandled")
}

func TestPanicPrimitive(t *testing.T) {
	err := runFault(t, `magic "panic" "ouch"`)
	assert.Equal(t, diag.User, err.Kind)
	assert.Contains(t, err.Message, "ouch")
}

func TestIfPrimitiveSelectsThunk(t *testing.T) {
	result := runValue(t, `
t = () -> "yes"
f = () -> "no"
(magic "if" (1 < 2, t, f)) ()`)
	assert.Equal(t, value.String("yes"), result)
}

func TestPrintlnWritesToSink(t *testing.T) {
	var out bytes.Buffer
	result := runValue(t, `magic "println" "hello"`, WithOut(&out))
	assert.Equal(t, value.Unit{}, result)
	assert.Equal(t, "hello\n", out.String())

	out.Reset()
	runValue(t, `magic "println" (1, 2)`, WithOut(&out))
	assert.Equal(t, "(1, 2)\n", out.String())
}

func TestSelfReferenceThroughCell(t *testing.T) {
	result := runValue(t, `
fact = n -> (magic "if" (n == 0, () -> 1, () -> n * fact (n - 1))) ()
fact 5`)
	assert.Equal(t, value.Int(120), result)
}

func TestStructuralEquality(t *testing.T) {
	assert.Equal(t, value.Bool(true), runValue(t, "(1, [2], {a: 3}) == (1, [2], {a: 3})"))
	assert.Equal(t, value.Bool(false), runValue(t, "1 == 1.0"),
		"distinct kinds compare false")

	assert.Equal(t, value.Bool(true), runValue(t, "f = x -> x\ng = f\nf == g"))
	assert.Equal(t, value.Bool(false), runValue(t, "f = x -> x\ng = y -> y\nf == g"))
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"mixed_arithmetic", "1 + 2.5"},
		{"string_arithmetic", `1 + "x"`},
		{"calling_non_callable", "3 4"},
		{"unknown_primitive", `magic "nonsense" 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runFault(t, tt.src)
			assert.Equal(t, diag.Type, err.Kind)
		})
	}
}

func TestUnknownPrimitiveSuggests(t *testing.T) {
	err := runFault(t, `magic "printl" 1`)
	assert.Contains(t, err.Message, `"println"`)
}

func TestDivisionByZero(t *testing.T) {
	err := runFault(t, "1 / 0")
	assert.Equal(t, diag.User, err.Kind)
	assert.Contains(t, err.Message, "division by zero")
}

func TestBudgetRaisesTimeout(t *testing.T) {
	err := runFault(t, "loop { 1 }", WithBudget(10_000))
	assert.Equal(t, diag.Timeout, err.Kind)
}

func TestBudgetFaultIsNotCatchable(t *testing.T) {
	err := runFault(t, "try { loop { 1 } }", WithBudget(10_000))
	assert.Equal(t, diag.Timeout, err.Kind,
		"budget exhaustion unwinds through try")
}

func TestDeepRecursionFaultsInternally(t *testing.T) {
	err := runFault(t, "f = x -> f x\nf 1")
	assert.Equal(t, diag.Internal, err.Kind)
	assert.Contains(t, err.Message, "overflow")
}

func TestInternalFaultIsNotCatchable(t *testing.T) {
	err := runFault(t, "try { f = x -> f x\nf 1 }")
	assert.Equal(t, diag.Internal, err.Kind,
		"internal faults unwind through try")
}

func TestYieldOutsideFiberFaults(t *testing.T) {
	err := runFault(t, "yield 1")
	assert.Equal(t, diag.User, err.Kind)
}

func TestYieldAcrossTryBoundaryIsCaughtError(t *testing.T) {
	// A try body is its own fiber, so yielding inside one is a user error
	// the same try observes.
	result := runValue(t, "c = fiber { try { yield 1 } }\nc ()")
	assert.Equal(t, "Result.Error 1", value.Repr(result))
}

func TestHostPrimitiveRegistration(t *testing.T) {
	double := func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		n, ok := arg.(value.Int)
		if !ok {
			return nil, typeFault(span, arg, "double expects an Integer")
		}
		return n * 2, nil
	}
	result := runValue(t, `magic "double" 21`, WithPrimitive("double", double))
	assert.Equal(t, value.Int(42), result)
}

func TestFaultCarriesSpan(t *testing.T) {
	err := runFault(t, "xs = [1]\n[a, b] = xs\na")
	assert.Equal(t, diag.Match, err.Kind)
	assert.Equal(t, "main", err.Primary.Source)
	assert.Greater(t, err.Primary.Length, 0, "fault points at a real source region")
}

func TestStatementResultIsStackTop(t *testing.T) {
	// The value of the last top-level statement is the program result,
	// and intermediate statement results do not pile up.
	assert.Equal(t, value.Unit{}, runValue(t, "x = 1"))
	assert.Equal(t, value.Int(1), runValue(t, "x = 1\nx"))
	assert.Equal(t, value.Int(3), runValue(t, "1\n2\n3"))
}
