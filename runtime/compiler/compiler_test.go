package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/parser"
)

func compileSource(t *testing.T, src string) *value.Lambda {
	t.Helper()
	tree, err := parser.ParseDesugared(src)
	require.Nil(t, err, "parse error for %q", src)
	lambda, err := Compile(tree)
	require.Nil(t, err, "compile error for %q", src)
	return lambda
}

func compileError(t *testing.T, src string) *diag.Diagnostic {
	t.Helper()
	tree, err := parser.ParseDesugared(src)
	require.Nil(t, err, "parse error for %q", src)
	_, cerr := Compile(tree)
	require.NotNil(t, cerr, "expected compile error for %q", src)
	return cerr
}

// ops extracts the opcode sequence of a lambda.
func ops(l *value.Lambda) []value.Op {
	out := make([]value.Op, len(l.Code))
	for i, inst := range l.Code {
		out[i] = inst.Op
	}
	return out
}

// countOp counts occurrences of one opcode in a lambda's code.
func countOp(l *value.Lambda, op value.Op) int {
	n := 0
	for _, inst := range l.Code {
		if inst.Op == op {
			n++
		}
	}
	return n
}

// nestedLambdas returns every lambda reachable through constant pools,
// including the root.
func nestedLambdas(l *value.Lambda) []*value.Lambda {
	out := []*value.Lambda{l}
	for _, c := range l.Consts {
		if nested, ok := c.(*value.Lambda); ok {
			out = append(out, nestedLambdas(nested)...)
		}
	}
	return out
}

func TestLiteralCompilesToConstant(t *testing.T) {
	lambda := compileSource(t, "42")
	// The leading Del drops the start argument every lambda receives.
	assert.Equal(t, []value.Op{value.OpDel, value.OpCon, value.OpReturn}, ops(lambda))
	require.Len(t, lambda.Consts, 1)
	assert.Equal(t, value.Int(42), lambda.Consts[0])
}

func TestBlockPopsIntermediateResults(t *testing.T) {
	lambda := compileSource(t, "1\n2")
	assert.Equal(t, []value.Op{
		value.OpDel, value.OpCon, value.OpDel, value.OpCon, value.OpReturn,
	}, ops(lambda))
}

func TestAssignReservesSlotBeforeValue(t *testing.T) {
	lambda := compileSource(t, "x = 1")
	assert.Equal(t, []value.Op{
		value.OpDel, value.OpNotInit, value.OpCon, value.OpSave,
		value.OpCon, value.OpReturn,
	}, ops(lambda), "slot reservation precedes the value")
	assert.Equal(t, 1, lambda.Slots)
}

func TestInfixCompilesToPrimitiveCall(t *testing.T) {
	lambda := compileSource(t, "3 + 2 * 5")
	code := lambda.Code
	// 3, 2, 5 pushed; mul folds the inner pair; add folds the outer.
	assert.Equal(t, []value.Op{
		value.OpDel, value.OpCon, value.OpCon, value.OpCon,
		value.OpTuple, value.OpFFI, value.OpTuple, value.OpFFI, value.OpReturn,
	}, ops(lambda))
	assert.Equal(t, "mul", code[5].Str)
	assert.Equal(t, "add", code[7].Str)
}

func TestSelfReferenceCompiles(t *testing.T) {
	lambda := compileSource(t, "f = x -> f x\nf")

	all := nestedLambdas(lambda)
	require.Len(t, all, 2)
	inner := all[1]
	require.Len(t, inner.Captures, 1, "f captures itself")
	assert.True(t, inner.Captures[0].FromLocal)
	assert.Equal(t, 0, inner.Captures[0].Index)
}

func TestClosureCaptureProtocol(t *testing.T) {
	lambda := compileSource(t,
		"make = () -> { c = 0; () -> { c = c + 1; c } }\nmake")

	all := nestedLambdas(lambda)
	require.Len(t, all, 3, "top level, make body, counter body")
	makeBody, counter := all[1], all[2]

	// The counter captures c from make's frame.
	require.Len(t, counter.Captures, 1)
	assert.True(t, counter.Captures[0].FromLocal)
	assert.Equal(t, 0, counter.Captures[0].Index)

	// make lifts c exactly once, before constructing the counter closure.
	assert.Equal(t, 1, countOp(makeBody, value.OpHeap))
	heapAt, closureAt := -1, -1
	for i, inst := range makeBody.Code {
		switch inst.Op {
		case value.OpHeap:
			heapAt = i
		case value.OpClosure:
			closureAt = i
		}
	}
	require.GreaterOrEqual(t, heapAt, 0)
	require.GreaterOrEqual(t, closureAt, 0)
	assert.Less(t, heapAt, closureAt, "the lift precedes the closure construction")

	// Inside the counter, c reads and writes go through cell zero.
	assert.Equal(t, 1, countOp(counter, value.OpSaveCap))
	assert.GreaterOrEqual(t, countOp(counter, value.OpLoadCap), 1)
	for _, inst := range counter.Code {
		if inst.Op == value.OpSaveCap || inst.Op == value.OpLoadCap {
			assert.Equal(t, 0, inst.A)
		}
	}
}

func TestHeapLiftHappensOncePerSlot(t *testing.T) {
	lambda := compileSource(t,
		"x = 1\nf = () -> x\ng = () -> x\n(f, g)")
	assert.Equal(t, 1, countOp(lambda, value.OpHeap),
		"two closures over one local share a single lift")
}

func TestPassThroughCapture(t *testing.T) {
	// The innermost lambda reaches x two scopes up; the middle lambda
	// passes the cell through rather than owning it.
	lambda := compileSource(t, "x = 1\nouter = () -> () -> x\nouter")

	all := nestedLambdas(lambda)
	require.Len(t, all, 3)
	middle, innermost := all[1], all[2]

	require.Len(t, middle.Captures, 1)
	assert.True(t, middle.Captures[0].FromLocal, "middle sources from the top-level local")

	require.Len(t, innermost.Captures, 1)
	assert.False(t, innermost.Captures[0].FromLocal, "innermost passes through the middle's cell")
	assert.Equal(t, 0, innermost.Captures[0].Index)
}

func TestTupleDestructure(t *testing.T) {
	lambda := compileSource(t, "(a, b) = (1, 2)")
	code := ops(lambda)
	assert.Equal(t, []value.Op{
		value.OpDel,
		value.OpNotInit, value.OpNotInit,
		value.OpCon, value.OpCon, value.OpTuple,
		value.OpUnTuple, value.OpSave,
		value.OpUnTuple, value.OpSave,
		value.OpDel,
		value.OpCon, value.OpReturn,
	}, code)

	// The component extractions carry the index and the expected arity.
	assert.Equal(t, 0, lambda.Code[6].A)
	assert.Equal(t, 2, lambda.Code[6].B)
	assert.Equal(t, 1, lambda.Code[8].A)
}

func TestListDestructureWithRest(t *testing.T) {
	lambda := compileSource(t, "[x, ..rest] = [1, 2, 3]")
	assert.Equal(t, 1, countOp(lambda, value.OpListLen))
	assert.Equal(t, 1, countOp(lambda, value.OpUnList))
	assert.Equal(t, 1, countOp(lambda, value.OpUnListTail))

	for _, inst := range lambda.Code {
		if inst.Op == value.OpListLen {
			assert.Equal(t, 1, inst.A)
			assert.Equal(t, 0, inst.B, "rest pattern checks at-least length")
		}
	}
}

func TestMatchCompilesToArmCascade(t *testing.T) {
	lambda := compileSource(t, `match 7 { 0 -> "zero", n -> "n" }`)

	assert.Equal(t, 2, countOp(lambda, value.OpArm))

	// The fall-off path re-raises a match failure on the scrutinee.
	errorAt := -1
	for i, inst := range lambda.Code {
		if inst.Op == value.OpError {
			errorAt = i
			assert.Equal(t, 1, inst.A, "fall-off raises MatchError, not UserError")
		}
	}
	require.GreaterOrEqual(t, errorAt, 0)

	// Every Arm success jump lands one past the re-raise.
	for i, inst := range lambda.Code {
		if inst.Op == value.OpArm {
			assert.Equal(t, errorAt+1, i+1+inst.A, "arm %d jump target", i)
		}
	}
}

func TestMatchArmThunksCaptureScrutinee(t *testing.T) {
	lambda := compileSource(t, `match 7 { n -> n }`)
	all := nestedLambdas(lambda)
	require.Len(t, all, 2)
	arm := all[1]
	require.Len(t, arm.Captures, 1)
	assert.True(t, arm.Captures[0].FromLocal)
}

func TestIntrinsicForms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		op   value.Op
	}{
		{"yield", "fiber { yield 1 }", value.OpYield},
		{"error", `error "boom"`, value.OpError},
		{"try", `try { error "boom" }`, value.OpTry},
		{"fiber", "fiber { 1 }", value.OpFiberNew},
		{"magic", `magic "println" 1`, value.OpFFI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lambda := compileSource(t, tt.src)
			found := false
			for _, l := range nestedLambdas(lambda) {
				if countOp(l, tt.op) > 0 {
					found = true
				}
			}
			assert.True(t, found, "expected %s in compiled output", tt.op)
		})
	}
}

func TestLoopCompilesToBackwardJump(t *testing.T) {
	lambda := compileSource(t, "loop { 1 }")

	jumpAt := -1
	for i, inst := range lambda.Code {
		if inst.Op == value.OpJump {
			jumpAt = i
			assert.Negative(t, inst.A, "loop jumps backward")
			// The body starts right after the Del of the start argument.
			assert.Equal(t, 1, i+1+inst.A, "jump lands on the body start")
		}
	}
	require.GreaterOrEqual(t, jumpAt, 0)
}

func TestIntrinsicShadowedByBinding(t *testing.T) {
	lambda := compileSource(t, "loop = x -> x\nloop 1")
	assert.Equal(t, 0, countOp(lambda, value.OpJump),
		"a user binding of loop shadows the intrinsic form")
	assert.Equal(t, 1, countOp(lambda, value.OpCall))
}

func TestAssignmentToCapturedBindingWritesCell(t *testing.T) {
	lambda := compileSource(t, "c = 0\nbump = () -> { c = c + 1 }\nbump")
	all := nestedLambdas(lambda)
	require.Len(t, all, 2)
	assert.Equal(t, 1, countOp(all[1], value.OpSaveCap))
	assert.Equal(t, 0, countOp(all[1], value.OpNotInit),
		"writing an outer binding declares no new local")
}

func TestResolutionError(t *testing.T) {
	err := compileError(t, "next = 1\nnxt")
	assert.Equal(t, diag.Resolution, err.Kind)
	assert.Contains(t, err.Message, `"nxt"`)
	require.NotEmpty(t, err.Notes)
	assert.Contains(t, err.Notes[0], `"next"`)
}

func TestBareIntrinsicIsResolutionError(t *testing.T) {
	err := compileError(t, "yield")
	assert.Equal(t, diag.Resolution, err.Kind)
	require.NotEmpty(t, err.Notes)
	assert.Contains(t, err.Notes[0], "built-in form")
}

// TestCaptureIndexesMatchDescriptorOrder is the compile-time half of the
// capture ordering invariant: every LoadCap/SaveCap operand indexes into
// the lambda's own capture descriptor.
func TestCaptureIndexesMatchDescriptorOrder(t *testing.T) {
	lambda := compileSource(t, `
a = 1
b = 2
f = () -> { x = a + b; () -> x + a }
f`)

	for _, l := range nestedLambdas(lambda) {
		for _, inst := range l.Code {
			if inst.Op == value.OpLoadCap || inst.Op == value.OpSaveCap {
				assert.Less(t, inst.A, len(l.Captures),
					"capture operand within descriptor bounds")
			}
		}
		for _, site := range l.Captures {
			assert.GreaterOrEqual(t, site.Index, 0)
		}
	}
}

func TestSpanTableCoversCode(t *testing.T) {
	lambda := compileSource(t, "x = 1\nx + 2")
	for _, l := range nestedLambdas(lambda) {
		assert.Equal(t, len(l.Code), len(l.Spans), "span table parallels code")
	}
}
