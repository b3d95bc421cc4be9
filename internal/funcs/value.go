// Package funcs provides the built-in function library for endpoint rule
// evaluation: ARN parsing, partition resolution, S3 virtual-host bucket
// validation, and the registry that exposes them under their stable ids.
package funcs

/*
 * Tagged runtime values.
 *
 * Value is the currency between the evaluator and the function library:
 * strings, booleans, integers, arrays and records, plus an explicit None
 * for absent results. Functions signal "no result" (e.g. an unparseable
 * ARN) with None, never with an error; errors are reserved for misuse
 * (wrong arity, wrong types) and fatal configuration faults.
 */

// ValueKind discriminates Value variants.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueString
	ValueBool
	ValueInt
	ValueArray
	ValueRecord
)

// Value is a tagged union over the runtime value kinds.
type Value struct {
	Kind ValueKind
	Str  string
	Bool bool
	Int  int64
	Arr  []Value
	Rec  map[string]Value
}

// None returns the absent value.
func None() Value {
	return Value{Kind: ValueNone}
}

// String builds a string value.
func String(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

// Boolean builds a boolean value.
func Boolean(b bool) Value {
	return Value{Kind: ValueBool, Bool: b}
}

// Integer builds an integer value.
func Integer(i int64) Value {
	return Value{Kind: ValueInt, Int: i}
}

// Array builds an array value.
func Array(elems []Value) Value {
	return Value{Kind: ValueArray, Arr: elems}
}

// Record builds a record value.
func Record(fields map[string]Value) Value {
	return Value{Kind: ValueRecord, Rec: fields}
}

// IsNone reports whether the value is absent.
func (v Value) IsNone() bool {
	return v.Kind == ValueNone
}

// AsString returns the string payload if the value is a string.
func (v Value) AsString() (string, bool) {
	if v.Kind != ValueString {
		return "", false
	}
	return v.Str, true
}

// AsBool returns the boolean payload if the value is a boolean.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != ValueBool {
		return false, false
	}
	return v.Bool, true
}

// AsInt returns the integer payload if the value is an integer.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != ValueInt {
		return 0, false
	}
	return v.Int, true
}

// Truthy reports whether a condition holding this value passes: absent and
// boolean-false values fail, everything else passes.
func (v Value) Truthy() bool {
	if v.Kind == ValueNone {
		return false
	}
	if v.Kind == ValueBool {
		return v.Bool
	}
	return true
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueNone:
		return true
	case ValueString:
		return v.Str == o.Str
	case ValueBool:
		return v.Bool == o.Bool
	case ValueInt:
		return v.Int == o.Int
	case ValueArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(o.Arr[i]) {
				return false
			}
		}
		return true
	case ValueRecord:
		if len(v.Rec) != len(o.Rec) {
			return false
		}
		for k, ve := range v.Rec {
			oe, ok := o.Rec[k]
			if !ok || !ve.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
