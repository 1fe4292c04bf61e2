// Package runtime wires the execution pipeline together: lex, parse,
// desugar, compile, run. Each stage is callable on its own so tools (the
// CLI stage inspectors, the snippet harness) can stop anywhere; Run drives
// a source text all the way to its final value.
package runtime

import (
	"io"
	"os"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
	"github.com/vrtbl/passerine/runtime/compiler"
	"github.com/vrtbl/passerine/runtime/lexer"
	"github.com/vrtbl/passerine/runtime/parser"
	"github.com/vrtbl/passerine/runtime/vm"
)

// Opt configures a pipeline invocation.
type Opt func(*config)

type config struct {
	sourceName string
	out        io.Writer
	budget     int
	prims      map[string]vm.Primitive
}

func newConfig(opts []Opt) *config {
	c := &config{
		sourceName: "main",
		out:        os.Stdout,
		prims:      map[string]vm.Primitive{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithSourceName sets the name stamped on diagnostic spans. Defaults to
// "main".
func WithSourceName(name string) Opt {
	return func(c *config) { c.sourceName = name }
}

// WithOut sets the sink the println primitive writes to.
func WithOut(w io.Writer) Opt {
	return func(c *config) { c.out = w }
}

// WithBudget bounds execution to n opcodes; exhaustion raises a
// TimeoutError. Zero means unbounded.
func WithBudget(n int) Opt {
	return func(c *config) { c.budget = n }
}

// WithPrimitive registers an extra host primitive for the run.
func WithPrimitive(name string, p vm.Primitive) Opt {
	return func(c *config) { c.prims[name] = p }
}

// Lex scans a source into its token stream.
func Lex(source string, opts ...Opt) ([]lexer.Token, *diag.Diagnostic) {
	c := newConfig(opts)
	return lexer.NewLexer(source, lexer.WithSourceName(c.sourceName)).Tokens()
}

// Parse builds the surface tree.
func Parse(source string, opts ...Opt) (parser.Node, *diag.Diagnostic) {
	c := newConfig(opts)
	return parser.Parse(source, lexer.WithSourceName(c.sourceName))
}

// Desugar builds the canonical tree.
func Desugar(source string, opts ...Opt) (parser.Node, *diag.Diagnostic) {
	tree, err := Parse(source, opts...)
	if err != nil {
		return nil, err
	}
	return parser.Desugar(tree)
}

// Compile lowers a source to its top-level lambda.
func Compile(source string, opts ...Opt) (*value.Lambda, *diag.Diagnostic) {
	tree, err := Desugar(source, opts...)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(tree)
}

// Run executes a source to completion and returns the value of its last
// top-level statement.
func Run(source string, opts ...Opt) (value.Value, *diag.Diagnostic) {
	c := newConfig(opts)
	lambda, err := Compile(source, opts...)
	if err != nil {
		return nil, err
	}

	machineOpts := []vm.Opt{vm.WithOut(c.out)}
	if c.budget > 0 {
		machineOpts = append(machineOpts, vm.WithBudget(c.budget))
	}
	for name, p := range c.prims {
		machineOpts = append(machineOpts, vm.WithPrimitive(name, p))
	}
	return vm.New(machineOpts...).Run(lambda)
}
