package vm

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/vrtbl/passerine/core/diag"
	"github.com/vrtbl/passerine/core/value"
)

// Primitive is one named host operation bridged into the language through
// the magic form. It takes the single argument value (binary primitives
// receive a 2-tuple) and may raise a fault.
type Primitive func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault)

// register installs a primitive; duplicate registration is a programming
// error.
func (m *Machine) register(name string, p Primitive) {
	if _, exists := m.prims[name]; exists {
		panic(fmt.Sprintf("primitive %q registered twice", name))
	}
	m.prims[name] = p
}

// unknownPrimitive builds the fault for an unregistered name, suggesting
// the closest registered primitive.
func (m *Machine) unknownPrimitive(name string, span diag.Span) *value.Fault {
	message := fmt.Sprintf("unknown primitive %q", name)
	names := make([]string, 0, len(m.prims))
	for known := range m.prims {
		names = append(names, known)
	}
	if matches := fuzzy.RankFindFold(name, names); len(matches) > 0 {
		sort.Sort(matches)
		message += fmt.Sprintf(" (did you mean %q)", matches[0].Target)
	}
	return &value.Fault{
		Kind:    diag.Type,
		Payload: value.String(name),
		Message: message,
		Span:    span,
	}
}

func typeFault(span diag.Span, payload value.Value, format string, args ...interface{}) *value.Fault {
	return &value.Fault{
		Kind:    diag.Type,
		Payload: payload,
		Message: fmt.Sprintf(format, args...),
		Span:    span,
	}
}

// pair splits the 2-tuple argument every binary primitive takes.
func pair(name string, arg value.Value, span diag.Span) (value.Value, value.Value, *value.Fault) {
	tuple, ok := arg.(value.Tuple)
	if !ok || len(tuple) != 2 {
		return nil, nil, typeFault(span, arg, "%s expects a pair, got %s", name, arg.Kind())
	}
	return tuple[0], tuple[1], nil
}

// arithmetic builds a numeric primitive over matching operand kinds.
// Integer arithmetic wraps around; there is no implicit int/real coercion.
func arithmetic(name string, ints func(a, b int64) (int64, *value.Fault), reals func(a, b float64) (float64, *value.Fault)) Primitive {
	return func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair(name, arg, span)
		if fault != nil {
			return nil, fault
		}
		switch x := a.(type) {
		case value.Int:
			y, ok := b.(value.Int)
			if !ok {
				return nil, typeFault(span, b, "%s expects two Integers, got %s and %s",
					name, a.Kind(), b.Kind())
			}
			n, fault := ints(int64(x), int64(y))
			if fault != nil {
				fault.Span = span
				return nil, fault
			}
			return value.Int(n), nil
		case value.Real:
			y, ok := b.(value.Real)
			if !ok {
				return nil, typeFault(span, b, "%s expects two Reals, got %s and %s",
					name, a.Kind(), b.Kind())
			}
			r, fault := reals(float64(x), float64(y))
			if fault != nil {
				fault.Span = span
				return nil, fault
			}
			return value.Real(r), nil
		default:
			return nil, typeFault(span, a, "%s expects numbers, got %s", name, a.Kind())
		}
	}
}

// comparison builds an ordering primitive over integers, reals and strings.
func comparison(name string, ints func(a, b int64) bool, reals func(a, b float64) bool, strs func(a, b string) bool) Primitive {
	return func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair(name, arg, span)
		if fault != nil {
			return nil, fault
		}
		switch x := a.(type) {
		case value.Int:
			if y, ok := b.(value.Int); ok {
				return value.Bool(ints(int64(x), int64(y))), nil
			}
		case value.Real:
			if y, ok := b.(value.Real); ok {
				return value.Bool(reals(float64(x), float64(y))), nil
			}
		case value.String:
			if y, ok := b.(value.String); ok {
				return value.Bool(strs(string(x), string(y))), nil
			}
		}
		return nil, typeFault(span, arg, "%s cannot order %s and %s", name, a.Kind(), b.Kind())
	}
}

// logical builds a boolean primitive. Both operands evaluate before the
// primitive runs; the surface operators are not short-circuiting.
func logical(name string, apply func(a, b bool) bool) Primitive {
	return func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair(name, arg, span)
		if fault != nil {
			return nil, fault
		}
		x, ok := a.(value.Bool)
		if !ok {
			return nil, typeFault(span, a, "%s expects Booleans, got %s", name, a.Kind())
		}
		y, ok := b.(value.Bool)
		if !ok {
			return nil, typeFault(span, b, "%s expects Booleans, got %s", name, b.Kind())
		}
		return value.Bool(apply(bool(x), bool(y))), nil
	}
}

func noFaultInt(f func(a, b int64) int64) func(a, b int64) (int64, *value.Fault) {
	return func(a, b int64) (int64, *value.Fault) { return f(a, b), nil }
}

func noFaultReal(f func(a, b float64) float64) func(a, b float64) (float64, *value.Fault) {
	return func(a, b float64) (float64, *value.Fault) { return f(a, b), nil }
}

func divFault() *value.Fault {
	return &value.Fault{
		Kind:    diag.User,
		Payload: value.String("division by zero"),
		Message: "division by zero",
	}
}

// registerBuiltins installs the language's primitive set.
func registerBuiltins(m *Machine) {
	m.register("add", arithmetic("add",
		noFaultInt(func(a, b int64) int64 { return a + b }),
		noFaultReal(func(a, b float64) float64 { return a + b })))
	m.register("sub", arithmetic("sub",
		noFaultInt(func(a, b int64) int64 { return a - b }),
		noFaultReal(func(a, b float64) float64 { return a - b })))
	m.register("mul", arithmetic("mul",
		noFaultInt(func(a, b int64) int64 { return a * b }),
		noFaultReal(func(a, b float64) float64 { return a * b })))
	m.register("div", arithmetic("div",
		func(a, b int64) (int64, *value.Fault) {
			if b == 0 {
				return 0, divFault()
			}
			return a / b, nil
		},
		func(a, b float64) (float64, *value.Fault) { return a / b, nil }))
	m.register("rem", arithmetic("rem",
		func(a, b int64) (int64, *value.Fault) {
			if b == 0 {
				return 0, divFault()
			}
			return a % b, nil
		},
		func(a, b float64) (float64, *value.Fault) {
			return math.Mod(a, b), nil
		}))

	m.register("equal", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair("equal", arg, span)
		if fault != nil {
			return nil, fault
		}
		return value.Bool(value.Equal(a, b)), nil
	})
	m.register("not_equal", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair("not_equal", arg, span)
		if fault != nil {
			return nil, fault
		}
		return value.Bool(!value.Equal(a, b)), nil
	})

	m.register("less", comparison("less",
		func(a, b int64) bool { return a < b },
		func(a, b float64) bool { return a < b },
		func(a, b string) bool { return a < b }))
	m.register("less_equal", comparison("less_equal",
		func(a, b int64) bool { return a <= b },
		func(a, b float64) bool { return a <= b },
		func(a, b string) bool { return a <= b }))
	m.register("greater", comparison("greater",
		func(a, b int64) bool { return a > b },
		func(a, b float64) bool { return a > b },
		func(a, b string) bool { return a > b }))
	m.register("greater_equal", comparison("greater_equal",
		func(a, b int64) bool { return a >= b },
		func(a, b float64) bool { return a >= b },
		func(a, b string) bool { return a >= b }))

	m.register("and", logical("and", func(a, b bool) bool { return a && b }))
	m.register("or", logical("or", func(a, b bool) bool { return a || b }))
	m.register("not", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		b, ok := arg.(value.Bool)
		if !ok {
			return nil, typeFault(span, arg, "not expects a Boolean, got %s", arg.Kind())
		}
		return value.Bool(!b), nil
	})

	m.register("concat", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		a, b, fault := pair("concat", arg, span)
		if fault != nil {
			return nil, fault
		}
		switch x := a.(type) {
		case value.String:
			if y, ok := b.(value.String); ok {
				return x + y, nil
			}
		case value.List:
			if y, ok := b.(value.List); ok {
				joined := make(value.List, 0, len(x)+len(y))
				joined = append(joined, x...)
				joined = append(joined, y...)
				return joined, nil
			}
		}
		return nil, typeFault(span, arg, "concat cannot join %s and %s", a.Kind(), b.Kind())
	})

	m.register("if", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		tuple, ok := arg.(value.Tuple)
		if !ok || len(tuple) != 3 {
			return nil, typeFault(span, arg, "if expects (condition, then, else)")
		}
		cond, ok := tuple[0].(value.Bool)
		if !ok {
			return nil, typeFault(span, tuple[0], "if condition must be a Boolean, got %s",
				tuple[0].Kind())
		}
		if cond {
			return tuple[1], nil
		}
		return tuple[2], nil
	})

	m.register("length", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		switch x := arg.(type) {
		case value.String:
			return value.Int(utf8.RuneCountInString(string(x))), nil
		case value.List:
			return value.Int(len(x)), nil
		case value.Tuple:
			return value.Int(len(x)), nil
		default:
			return nil, typeFault(span, arg, "length expects a String, List or Tuple, got %s",
				arg.Kind())
		}
	})

	m.register("field", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		subject, name, fault := pair("field", arg, span)
		if fault != nil {
			return nil, fault
		}
		record, ok := subject.(value.Record)
		if !ok {
			return nil, typeFault(span, subject, "field access needs a Record, got %s",
				subject.Kind())
		}
		key, ok := name.(value.String)
		if !ok {
			return nil, typeFault(span, name, "field name must be a String")
		}
		v, present := record[string(key)]
		if !present {
			return nil, typeFault(span, subject, "record has no field %q", string(key))
		}
		return v, nil
	})

	m.register("to_string", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		return value.String(value.Display(arg)), nil
	})

	m.register("println", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		fmt.Fprintln(m.out, value.Display(arg))
		return value.Unit{}, nil
	})

	m.register("panic", func(m *Machine, arg value.Value, span diag.Span) (value.Value, *value.Fault) {
		return nil, &value.Fault{
			Kind:    diag.User,
			Payload: arg,
			Message: value.Display(arg),
			Span:    span,
		}
	})
}
