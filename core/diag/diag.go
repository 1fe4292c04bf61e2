// Package diag defines source spans and the structured diagnostics emitted by
// every stage of the pipeline.
//
// A Diagnostic is the machine-readable error object; rendering it for humans
// is left to the caller (the CLI does a one-line form, editors may do more).
package diag

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Span is a half-open byte region of a named source.
type Span struct {
	Source string `json:"source"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// NewSpan builds a span over [offset, offset+length) in the given source.
func NewSpan(source string, offset, length int) Span {
	return Span{Source: source, Offset: offset, Length: length}
}

// End returns the byte offset one past the last byte of the span.
func (s Span) End() int { return s.Offset + s.Length }

// Union returns the smallest span covering both s and o.
// Both spans must belong to the same source.
func (s Span) Union(o Span) Span {
	if s.Length == 0 && s.Offset == 0 && s.Source == "" {
		return o
	}
	start := s.Offset
	if o.Offset < start {
		start = o.Offset
	}
	end := s.End()
	if o.End() > end {
		end = o.End()
	}
	return Span{Source: s.Source, Offset: start, Length: end - start}
}

// Text slices the span's region out of the source bytes.
func (s Span) Text(src []byte) string {
	if s.Offset < 0 || s.End() > len(src) {
		return ""
	}
	return string(src[s.Offset:s.End()])
}

func (s Span) String() string {
	return fmt.Sprintf("%s:%d+%d", s.Source, s.Offset, s.Length)
}

// Kind classifies a diagnostic per the error taxonomy.
type Kind int

const (
	Lex        Kind = iota // unterminated literal, bad escape, stray byte
	Syntax                 // unbalanced grouping, unexpected token, malformed pattern
	Resolution             // undeclared name, non-symbol in binding position
	Match                  // runtime pattern destructure failure
	Type                   // primitive argument kind mismatch
	User                   // value raised by error
	Timeout                // opcode budget exhausted
	Internal               // VM invariant violated; unrecoverable
)

func (k Kind) String() string {
	switch k {
	case Lex:
		return "LexError"
	case Syntax:
		return "SyntaxError"
	case Resolution:
		return "ResolutionError"
	case Match:
		return "MatchError"
	case Type:
		return "TypeError"
	case User:
		return "UserError"
	case Timeout:
		return "TimeoutError"
	case Internal:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// Recoverable reports whether a fiber may convert the error into a
// Result.Error value via try: exactly MatchError, TypeError and UserError.
// Timeout is a host-level budget mechanism and, like Internal faults, always
// halts the machine.
func (k Kind) Recoverable() bool {
	switch k {
	case Match, Type, User:
		return true
	default:
		return false
	}
}

// Diagnostic is a structured error against one or more source spans.
type Diagnostic struct {
	Kind      Kind   `json:"kind"`
	Message   string `json:"message"`
	Primary   Span   `json:"primary"`
	Secondary []Span `json:"secondary,omitempty"`

	// Notes carry optional follow-up lines, e.g. "did you mean ...".
	Notes []string `json:"notes,omitempty"`
}

// New builds a diagnostic of the given kind against a primary span.
func New(kind Kind, span Span, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Primary: span,
	}
}

// WithSecondary attaches an additional span and returns the diagnostic.
func (d *Diagnostic) WithSecondary(span Span) *Diagnostic {
	d.Secondary = append(d.Secondary, span)
	return d
}

// WithNote attaches a follow-up line and returns the diagnostic.
func (d *Diagnostic) WithNote(format string, args ...interface{}) *Diagnostic {
	d.Notes = append(d.Notes, fmt.Sprintf(format, args...))
	return d
}

// Error renders the one-line form: "name:offset+len: kind: message".
func (d *Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s", d.Primary, d.Kind, d.Message)
	for _, n := range d.Notes {
		b.WriteString("\n  note: ")
		b.WriteString(n)
	}
	return b.String()
}

// MarshalJSON encodes the kind by name rather than ordinal so the JSON form
// is stable across taxonomy growth.
func (d *Diagnostic) MarshalJSON() ([]byte, error) {
	type alias Diagnostic
	return json.Marshal(struct {
		Kind string `json:"kind"`
		*alias
	}{
		Kind:  d.Kind.String(),
		alias: (*alias)(d),
	})
}
