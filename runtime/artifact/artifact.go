// Package artifact serializes compiled lambdas for caching and transport.
//
// The wire form is deterministic CBOR wrapped in a small envelope carrying
// the format version and a blake2b fingerprint of the payload, so a cache
// can detect both stale formats and corrupted entries before handing the
// machine a half-valid code object. Closures, fibers and heap cells are
// runtime state and never serialize.
package artifact

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/mod/semver"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
)

// FormatVersion is the wire format version. Decoders accept payloads with
// the same major version only.
const FormatVersion = "v1.0.0"

// envelope is the outer wire structure.
type envelope struct {
	Version     string       `cbor:"version"`
	Fingerprint []byte       `cbor:"fingerprint"`
	Root        lambdaWire   `cbor:"root"`
}

type lambdaWire struct {
	Code     []instWire     `cbor:"code"`
	Consts   []constantWire `cbor:"consts"`
	Captures []captureWire  `cbor:"captures"`
	Spans    []spanWire     `cbor:"spans"`
	Slots    int            `cbor:"slots"`
	Arity    int            `cbor:"arity"`
}

type instWire struct {
	Op    uint8    `cbor:"op"`
	A     int      `cbor:"a,omitempty"`
	B     int      `cbor:"b,omitempty"`
	Str   string   `cbor:"str,omitempty"`
	Names []string `cbor:"names,omitempty"`
}

type captureWire struct {
	FromLocal bool `cbor:"local"`
	Index     int  `cbor:"index"`
}

type spanWire struct {
	Source string `cbor:"source"`
	Offset int    `cbor:"offset"`
	Length int    `cbor:"length"`
}

// constantWire is the tagged encoding of one constant-pool value.
type constantWire struct {
	Kind   string          `cbor:"kind"`
	Bool   bool            `cbor:"bool,omitempty"`
	Int    int64           `cbor:"int,omitempty"`
	Real   float64         `cbor:"real,omitempty"`
	Str    string          `cbor:"str,omitempty"`
	Items  []constantWire  `cbor:"items,omitempty"`
	Fields map[string]constantWire `cbor:"fields,omitempty"`
	Label  *constantWire   `cbor:"label,omitempty"`
	Lambda *lambdaWire     `cbor:"lambda,omitempty"`
}

// Encode serializes a compiled lambda into the fingerprinted envelope.
func Encode(lambda *value.Lambda) ([]byte, error) {
	root, err := lowerLambda(lambda)
	if err != nil {
		return nil, err
	}

	fingerprint, err := fingerprintOf(root)
	if err != nil {
		return nil, err
	}

	data, err := marshalCanonical(envelope{
		Version:     FormatVersion,
		Fingerprint: fingerprint,
		Root:        *root,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact encoding failed: %w", err)
	}
	return data, nil
}

// Decode verifies and reconstructs a lambda from its wire form.
func Decode(data []byte) (*value.Lambda, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("artifact is not valid CBOR: %w", err)
	}

	if !semver.IsValid(env.Version) {
		return nil, fmt.Errorf("artifact carries invalid format version %q", env.Version)
	}
	if semver.Major(env.Version) != semver.Major(FormatVersion) {
		return nil, fmt.Errorf("artifact format %s is incompatible with %s",
			env.Version, FormatVersion)
	}

	fingerprint, err := fingerprintOf(&env.Root)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(fingerprint, env.Fingerprint) {
		return nil, fmt.Errorf("artifact fingerprint mismatch: payload is corrupted")
	}

	return raiseLambda(&env.Root)
}

// fingerprintOf hashes the canonical encoding of the payload.
func fingerprintOf(root *lambdaWire) ([]byte, error) {
	payload, err := marshalCanonical(root)
	if err != nil {
		return nil, fmt.Errorf("artifact fingerprinting failed: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return sum[:], nil
}

// marshalCanonical encodes with deterministic options so fingerprints are
// byte-stable across runs.
func marshalCanonical(v interface{}) ([]byte, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(v)
}

func lowerLambda(lambda *value.Lambda) (*lambdaWire, error) {
	wire := &lambdaWire{
		Slots: lambda.Slots,
		Arity: lambda.Arity,
	}

	wire.Code = make([]instWire, len(lambda.Code))
	for i, inst := range lambda.Code {
		wire.Code[i] = instWire{
			Op: uint8(inst.Op), A: inst.A, B: inst.B,
			Str: inst.Str, Names: inst.Names,
		}
	}

	wire.Captures = make([]captureWire, len(lambda.Captures))
	for i, site := range lambda.Captures {
		wire.Captures[i] = captureWire{FromLocal: site.FromLocal, Index: site.Index}
	}

	wire.Spans = make([]spanWire, len(lambda.Spans))
	for i, span := range lambda.Spans {
		wire.Spans[i] = spanWire{Source: span.Source, Offset: span.Offset, Length: span.Length}
	}

	wire.Consts = make([]constantWire, len(lambda.Consts))
	for i, c := range lambda.Consts {
		lowered, err := lowerConstant(c)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		wire.Consts[i] = lowered
	}
	return wire, nil
}

func lowerConstant(v value.Value) (constantWire, error) {
	switch x := v.(type) {
	case value.Unit:
		return constantWire{Kind: "unit"}, nil
	case value.Bool:
		return constantWire{Kind: "bool", Bool: bool(x)}, nil
	case value.Int:
		return constantWire{Kind: "int", Int: int64(x)}, nil
	case value.Real:
		return constantWire{Kind: "real", Real: float64(x)}, nil
	case value.String:
		return constantWire{Kind: "string", Str: string(x)}, nil
	case value.Label:
		inner, err := lowerConstant(x.Inner)
		if err != nil {
			return constantWire{}, err
		}
		return constantWire{Kind: "label", Str: x.Name, Label: &inner}, nil
	case value.Tuple:
		items, err := lowerItems(x)
		return constantWire{Kind: "tuple", Items: items}, err
	case value.List:
		items, err := lowerItems(x)
		return constantWire{Kind: "list", Items: items}, err
	case value.Record:
		fields := make(map[string]constantWire, len(x))
		for name, fv := range x {
			lowered, err := lowerConstant(fv)
			if err != nil {
				return constantWire{}, err
			}
			fields[name] = lowered
		}
		return constantWire{Kind: "record", Fields: fields}, nil
	case *value.Lambda:
		nested, err := lowerLambda(x)
		if err != nil {
			return constantWire{}, err
		}
		return constantWire{Kind: "lambda", Lambda: nested}, nil
	default:
		return constantWire{}, fmt.Errorf("%s values are runtime-only and do not serialize",
			v.Kind())
	}
}

func lowerItems(items []value.Value) ([]constantWire, error) {
	out := make([]constantWire, len(items))
	for i, item := range items {
		lowered, err := lowerConstant(item)
		if err != nil {
			return nil, err
		}
		out[i] = lowered
	}
	return out, nil
}

func raiseLambda(wire *lambdaWire) (*value.Lambda, error) {
	lambda := &value.Lambda{
		Slots: wire.Slots,
		Arity: wire.Arity,
	}

	lambda.Code = make([]value.Inst, len(wire.Code))
	for i, inst := range wire.Code {
		lambda.Code[i] = value.Inst{
			Op: value.Op(inst.Op), A: inst.A, B: inst.B,
			Str: inst.Str, Names: inst.Names,
		}
	}

	lambda.Captures = make([]value.CaptureSite, len(wire.Captures))
	for i, site := range wire.Captures {
		lambda.Captures[i] = value.CaptureSite{FromLocal: site.FromLocal, Index: site.Index}
	}

	lambda.Spans = make([]diag.Span, len(wire.Spans))
	for i, span := range wire.Spans {
		lambda.Spans[i] = diag.NewSpan(span.Source, span.Offset, span.Length)
	}

	lambda.Consts = make([]value.Value, len(wire.Consts))
	for i := range wire.Consts {
		raised, err := raiseConstant(&wire.Consts[i])
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		lambda.Consts[i] = raised
	}
	return lambda, nil
}

func raiseConstant(wire *constantWire) (value.Value, error) {
	switch wire.Kind {
	case "unit":
		return value.Unit{}, nil
	case "bool":
		return value.Bool(wire.Bool), nil
	case "int":
		return value.Int(wire.Int), nil
	case "real":
		return value.Real(wire.Real), nil
	case "string":
		return value.String(wire.Str), nil
	case "label":
		if wire.Label == nil {
			return nil, fmt.Errorf("label constant %q has no inner value", wire.Str)
		}
		inner, err := raiseConstant(wire.Label)
		if err != nil {
			return nil, err
		}
		return value.Label{Name: wire.Str, Inner: inner}, nil
	case "tuple":
		items, err := raiseItems(wire.Items)
		return value.Tuple(items), err
	case "list":
		items, err := raiseItems(wire.Items)
		return value.List(items), err
	case "record":
		record := make(value.Record, len(wire.Fields))
		for name := range wire.Fields {
			field := wire.Fields[name]
			raised, err := raiseConstant(&field)
			if err != nil {
				return nil, err
			}
			record[name] = raised
		}
		return record, nil
	case "lambda":
		if wire.Lambda == nil {
			return nil, fmt.Errorf("lambda constant has no payload")
		}
		return raiseLambda(wire.Lambda)
	default:
		return nil, fmt.Errorf("unknown constant kind %q", wire.Kind)
	}
}

func raiseItems(wires []constantWire) ([]value.Value, error) {
	out := make([]value.Value, len(wires))
	for i := range wires {
		raised, err := raiseConstant(&wires[i])
		if err != nil {
			return nil, err
		}
		out[i] = raised
	}
	return out, nil
}
