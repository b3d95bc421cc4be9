// Package rules provides the endpoint rule-tree model: expressions,
// conditions, rules and endpoints, their JSON codec, and the S3Express
// canonicalization transform.
//
// The model is a set of tagged unions (kind enum + exhaustive switch)
// rather than interface polymorphism: every traversal must handle every
// variant, so adding a new expression or rule kind forces each call site
// to be revisited at compile time.
package rules

/*
 * Expression and condition model.
 *
 * Expressions are the values rule conditions compute over: literals
 * (strings with templates, booleans, integers, tuples, records),
 * references to parameter or condition bindings, and function calls.
 * A Condition is a function call plus an optional result binding that
 * later conditions and endpoint templates can reference.
 *
 * Values are immutable once built; transforms produce new nodes and reuse
 * untouched subtrees by structural sharing.
 */

// ExprKind discriminates Expression variants.
type ExprKind int

const (
	ExprLiteral ExprKind = iota
	ExprReference
	ExprFunction
)

// Expression is a tagged union over literals, references and function calls.
// Exactly one of the variant fields is meaningful, selected by Kind.
type Expression struct {
	Kind ExprKind
	Lit  Literal       // ExprLiteral
	Ref  string        // ExprReference
	Fn   *FunctionCall // ExprFunction
}

// FunctionCall invokes a function by its stable string id with
// already-ordered argument expressions.
type FunctionCall struct {
	ID   string
	Args []Expression
}

// Condition is a function call whose result optionally binds a variable
// for later reference. A condition passes when its function returns a
// present, non-false value.
type Condition struct {
	Fn     FunctionCall
	Assign string // optional result binding ("" = none)
}

// LiteralKind discriminates Literal variants.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitBool
	LitInt
	LitTuple
	LitRecord
)

// Literal is a tagged union over the literal value kinds a rule-set
// document can carry. String literals are templates; tuples and records
// preserve document order.
type Literal struct {
	Kind   LiteralKind
	Str    Template
	Bool   bool
	Int    int64
	Tuple  []Literal
	Record []Field
}

// Field is one ordered name/value entry of a record literal or of an
// endpoint properties map.
type Field struct {
	Name  string
	Value Literal
}

// Core expression function ids used by conditions. The aws.* builtin ids
// live in internal/funcs next to their implementations.
const (
	FnIte           = "ite"
	FnCoalesce      = "coalesce"
	FnSplit         = "split"
	FnGetAttr       = "getAttr"
	FnSubstring     = "substring"
	FnIsSet         = "isSet"
	FnNot           = "not"
	FnBooleanEquals = "booleanEquals"
	FnStringEquals  = "stringEquals"
)

// Ref builds a reference expression.
func Ref(name string) Expression {
	return Expression{Kind: ExprReference, Ref: name}
}

// Str builds a string-literal expression from template source text.
func Str(source string) Expression {
	return Expression{Kind: ExprLiteral, Lit: Literal{Kind: LitString, Str: NewTemplate(source)}}
}

// Bool builds a boolean-literal expression.
func Bool(b bool) Expression {
	return Expression{Kind: ExprLiteral, Lit: Literal{Kind: LitBool, Bool: b}}
}

// Int builds an integer-literal expression.
func Int(i int64) Expression {
	return Expression{Kind: ExprLiteral, Lit: Literal{Kind: LitInt, Int: i}}
}

// Call builds a function-call expression.
func Call(id string, args ...Expression) Expression {
	return Expression{Kind: ExprFunction, Fn: &FunctionCall{ID: id, Args: args}}
}

// StringLiteral returns the template of a string-literal expression.
// The second result is false for any other expression kind.
func (e Expression) StringLiteral() (Template, bool) {
	if e.Kind == ExprLiteral && e.Lit.Kind == LitString {
		return e.Lit.Str, true
	}
	return Template{}, false
}

// getField returns the value of the named field and whether it was present.
func getField(fields []Field, name string) (Literal, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Literal{}, false
}

// StaticString returns the literal text of a static (placeholder-free)
// string literal. Returns false for templates with references and for
// non-string literals.
func (l Literal) StaticString() (string, bool) {
	if l.Kind != LitString {
		return "", false
	}
	return l.Str.Static()
}
