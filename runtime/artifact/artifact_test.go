package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/compiler"
	"github.com/vrtbl/passerine/runtime/parser"
	"github.com/vrtbl/passerine/runtime/vm"
)

func compileSource(t *testing.T, src string) *value.Lambda {
	t.Helper()
	tree, err := parser.ParseDesugared(src)
	require.Nil(t, err)
	lambda, cerr := compiler.Compile(tree)
	require.Nil(t, cerr)
	return lambda
}

func TestRoundTripPreservesExecution(t *testing.T) {
	sources := []string{
		"3 + 2 * 5",
		"make = () -> { c = 0; () -> { c = c + 1; c } }\nnext = make ()\nnext (); next (); next ()",
		`match 7 { n | n < 0 -> "neg", 0 -> "zero", n -> "pos" }`,
		`try { error "boom" }`,
	}

	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			original := compileSource(t, src)

			data, err := Encode(original)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			want, werr := vm.New().Run(original)
			require.Nil(t, werr)
			got, gerr := vm.New().Run(decoded)
			require.Nil(t, gerr)
			assert.Equal(t, value.Repr(want), value.Repr(got))
		})
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	lambda := compileSource(t, "x = 1\nx + 2")
	first, err := Encode(lambda)
	require.NoError(t, err)
	second, err := Encode(lambda)
	require.NoError(t, err)
	assert.Equal(t, first, second, "canonical encoding is byte-stable")
}

func TestDecodeRejectsCorruptedPayload(t *testing.T) {
	data, err := Encode(compileSource(t, "1 + 2"))
	require.NoError(t, err)

	// Flip one byte near the end, inside the payload region.
	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-3] ^= 0xff

	_, err = Decode(corrupted)
	require.Error(t, err)
}

func TestDecodeRejectsWrongMajorVersion(t *testing.T) {
	lambda := compileSource(t, "1")
	root, err := lowerLambda(lambda)
	require.NoError(t, err)
	fingerprint, err := fingerprintOf(root)
	require.NoError(t, err)

	data, err := marshalCanonical(envelope{
		Version:     "v2.0.0",
		Fingerprint: fingerprint,
		Root:        *root,
	})
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an artifact"))
	require.Error(t, err)
}

func TestRuntimeValuesDoNotSerialize(t *testing.T) {
	lambda := &value.Lambda{
		Consts: []value.Value{&value.Closure{Lambda: &value.Lambda{}}},
	}
	_, err := Encode(lambda)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime-only")
}

func TestSpanTableSurvives(t *testing.T) {
	original := compileSource(t, "a = 1\na + 2")
	data, err := Encode(original)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Equal(t, len(original.Spans), len(decoded.Spans))
	for i := range original.Spans {
		assert.Equal(t, original.Spans[i], decoded.Spans[i], "span %d", i)
	}
}
