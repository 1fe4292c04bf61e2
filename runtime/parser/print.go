package parser

import (
	"fmt"
	"strings"

	"github.com/vrtbl/passerine/core/value"
)

// Print renders a tree back to parseable source. Reparsing (and
// desugaring) the output reproduces the tree modulo spans, which is the
// parser's round-trip contract.
func Print(n Node) string {
	var b strings.Builder
	writeNode(&b, n)
	return b.String()
}

// PrintModule renders a top-level Block as newline-separated forms rather
// than a braced block.
func PrintModule(n Node) string {
	block, ok := n.(*Block)
	if !ok {
		return Print(n)
	}
	parts := make([]string, len(block.Exprs))
	for i, e := range block.Exprs {
		parts[i] = Print(e)
	}
	return strings.Join(parts, "\n")
}

// PrintPattern renders a pattern back to its surface form.
func PrintPattern(p Pattern) string {
	var b strings.Builder
	writePattern(&b, p)
	return b.String()
}

func writeNode(b *strings.Builder, n Node) {
	switch x := n.(type) {
	case *Symbol:
		b.WriteString(x.Name)
	case *Label:
		b.WriteString(x.Name)
	case *Literal:
		b.WriteString(value.Repr(x.Value))
	case *Block:
		b.WriteString("{ ")
		for i, e := range x.Exprs {
			if i > 0 {
				b.WriteString("; ")
			}
			writeNode(b, e)
		}
		b.WriteString(" }")
	case *Tuple:
		b.WriteByte('(')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writeNode(b, item)
		}
		b.WriteByte(')')
	case *List:
		b.WriteByte('[')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writeNode(b, item)
		}
		b.WriteByte(']')
	case *Record:
		b.WriteByte('{')
		for i, field := range x.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(field.Name)
			b.WriteString(": ")
			writeNode(b, field.Value)
		}
		b.WriteByte('}')
	case *Call:
		writeCallee(b, x.Fun)
		b.WriteByte(' ')
		writeAtom(b, x.Arg)
	case *Lambda:
		b.WriteByte('(')
		writePattern(b, x.Param)
		b.WriteString(" -> ")
		writeNode(b, x.Body)
		b.WriteByte(')')
	case *Assign:
		writePattern(b, x.Pattern)
		b.WriteString(" = ")
		writeNode(b, x.Value)
	case *Match:
		b.WriteString("match ")
		writeAtom(b, x.Scrutinee)
		b.WriteString(" { ")
		for i, arm := range x.Arms {
			if i > 0 {
				b.WriteString(", ")
			}
			writePattern(b, arm.Pattern)
			b.WriteString(" -> ")
			writeNode(b, arm.Body)
		}
		b.WriteString(" }")
	case *FFI:
		fmt.Fprintf(b, "magic %q ", x.Name)
		writeAtom(b, x.Arg)
	case *Fiber:
		b.WriteString("fiber ")
		writeAtom(b, x.Body)
	case *Binop:
		b.WriteByte('(')
		writeNode(b, x.Left)
		b.WriteByte(' ')
		b.WriteString(x.Op)
		b.WriteByte(' ')
		writeNode(b, x.Right)
		b.WriteByte(')')
	case *Annotation:
		writeNode(b, x.Expr)
		b.WriteString(" : ")
		writeNode(b, x.Type)
	case *Guard:
		writeNode(b, x.Expr)
		b.WriteString(" | ")
		writeNode(b, x.Cond)
	case *Rest:
		b.WriteString("..")
		writeNode(b, x.Expr)
	default:
		b.WriteString("<?>")
	}
}

// writeCallee prints the function side of a call; a call chain stays bare
// so application remains left-associative on reparse.
func writeCallee(b *strings.Builder, n Node) {
	if _, ok := n.(*Call); ok {
		writeNode(b, n)
		return
	}
	writeAtom(b, n)
}

// writeAtom prints a node, parenthesizing anything juxtaposition would tear
// apart.
func writeAtom(b *strings.Builder, n Node) {
	switch n.(type) {
	case *Symbol, *Label, *Literal, *Tuple, *List, *Record, *Block:
		writeNode(b, n)
	default:
		b.WriteByte('(')
		writeNode(b, n)
		b.WriteByte(')')
	}
}

func writePattern(b *strings.Builder, p Pattern) {
	switch x := p.(type) {
	case *PatSymbol:
		b.WriteString(x.Name)
	case *PatDiscard:
		b.WriteByte('_')
	case *PatLiteral:
		b.WriteString(value.Repr(x.Value))
	case *PatLabel:
		b.WriteString(x.Name)
		if lit, ok := x.Inner.(*PatLiteral); ok {
			if _, isUnit := lit.Value.(value.Unit); isUnit {
				return
			}
		}
		b.WriteByte(' ')
		writePatternAtom(b, x.Inner)
	case *PatTuple:
		b.WriteByte('(')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writePattern(b, item)
		}
		b.WriteByte(')')
	case *PatList:
		b.WriteByte('[')
		for i, item := range x.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writePattern(b, item)
		}
		if x.Rest != nil {
			if len(x.Items) > 0 {
				b.WriteString(", ")
			}
			b.WriteString("..")
			writePattern(b, x.Rest)
		}
		b.WriteByte(']')
	case *PatRecord:
		b.WriteByte('{')
		for i, field := range x.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(field.Name)
			b.WriteString(": ")
			writePattern(b, field.Pattern)
		}
		b.WriteByte('}')
	case *PatAnnotation:
		writePattern(b, x.Pattern)
		b.WriteString(" : ")
		writePattern(b, x.Type)
	case *PatGuard:
		writePattern(b, x.Pattern)
		b.WriteString(" | ")
		writeNode(b, x.Cond)
	default:
		b.WriteString("<?>")
	}
}

// writePatternAtom parenthesizes constructor payloads that would otherwise
// absorb into the application chain.
func writePatternAtom(b *strings.Builder, p Pattern) {
	switch p.(type) {
	case *PatLabel, *PatAnnotation, *PatGuard:
		b.WriteByte('(')
		writePattern(b, p)
		b.WriteByte(')')
	default:
		writePattern(b, p)
	}
}
