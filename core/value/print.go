package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Repr renders the canonical printed form used for top-level results and
// the snippet protocol's expect comparison. Strings are quoted; reals
// always carry a decimal point so 2.0 and 2 stay distinct.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v, true)
	return b.String()
}

// Display renders the unquoted form used by the println primitive. Only a
// top-level string differs from Repr; nested strings stay quoted.
func Display(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return Repr(v)
}

func writeRepr(b *strings.Builder, v Value, topLevel bool) {
	switch x := v.(type) {
	case Unit:
		b.WriteString("()")
	case Bool:
		b.WriteString(strconv.FormatBool(bool(x)))
	case Int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case Real:
		s := strconv.FormatFloat(float64(x), 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		b.WriteString(s)
	case String:
		b.WriteString(strconv.Quote(string(x)))
	case Label:
		b.WriteString(x.Name)
		if _, bare := x.Inner.(Unit); bare {
			return
		}
		b.WriteByte(' ')
		if inner, nested := x.Inner.(Label); nested {
			// Parenthesize a labelled inner value so Some (Some 1) does
			// not read as a single dotted constructor.
			b.WriteByte('(')
			writeRepr(b, inner, false)
			b.WriteByte(')')
			return
		}
		writeRepr(b, x.Inner, false)
	case Tuple:
		b.WriteByte('(')
		for i, item := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, item, false)
		}
		b.WriteByte(')')
	case List:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, item, false)
		}
		b.WriteByte(']')
	case Record:
		names := make([]string, 0, len(x))
		for name := range x {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString(": ")
			writeRepr(b, x[name], false)
		}
		b.WriteByte('}')
	case *Closure:
		fmt.Fprintf(b, "<closure/%d>", x.Lambda.Arity)
	case *Fiber:
		fmt.Fprintf(b, "<fiber %s>", x.Status)
	case *Cell:
		// Cells never escape to user code; render through for debugging.
		writeRepr(b, x.Value, topLevel)
	default:
		fmt.Fprintf(b, "<%s>", v.Kind())
	}
}
