// Package eval resolves endpoint rule sets against caller-supplied
// parameters: it walks the rule tree top to bottom, evaluates conditions
// through the function registry, and expands the first matching endpoint
// or error rule.
package eval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wayfinderhq/wayfinder/internal/funcs"
	"github.com/wayfinderhq/wayfinder/internal/rules"
	"github.com/wayfinderhq/wayfinder/internal/types"
)

/*
 * Rule-tree evaluation.
 *
 * Evaluation carries a scope stack: the bottom frame holds input parameters
 * (after defaults), and each rule pushes a frame for its condition bindings
 * so sibling rules never see each other's assignments.
 *
 * A condition passes when its function returns a present, non-false value;
 * an absent reference evaluates to the absent value rather than erroring, so
 * isSet probes stay cheap. Errors are reserved for malformed documents and
 * misuse of functions.
 */

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	URL        string
	Headers    map[string][]string
	Properties map[string]any
}

// RuleError is a rule-authored resolution failure: an error rule matched and
// produced this message. Distinct from evaluator faults so callers can tell
// "the rules rejected these inputs" from "the document is broken".
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

// Evaluator resolves rule sets using a fixed function registry. Safe for
// concurrent use; each Resolve call carries its own scope.
type Evaluator struct {
	registry *funcs.Registry
}

// NewEvaluator builds an evaluator over registry. A nil registry uses the
// default registry with the embedded partition table.
func NewEvaluator(registry *funcs.Registry) *Evaluator {
	if registry == nil {
		registry = funcs.NewRegistry(nil)
	}
	return &Evaluator{registry: registry}
}

type scope struct {
	frames []map[string]funcs.Value
}

func (s *scope) push() {
	s.frames = append(s.frames, make(map[string]funcs.Value))
}

func (s *scope) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

func (s *scope) bind(name string, v funcs.Value) {
	s.frames[len(s.frames)-1][name] = v
}

func (s *scope) lookup(name string) (funcs.Value, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true
		}
	}
	return funcs.Value{}, false
}

// Resolve evaluates rs against params. Returns the first matching endpoint,
// a *RuleError when an error rule matches, or types.ErrNoMatchingRule when
// the tree is exhausted without a match.
func (ev *Evaluator) Resolve(rs rules.RuleSet, params map[string]funcs.Value) (Resolved, error) {
	sc := &scope{}
	sc.push()
	if err := bindParameters(sc, rs, params); err != nil {
		return Resolved{}, err
	}

	resolved, matched, err := ev.evalRules(sc, rs.Rules, 0)
	if err != nil {
		return Resolved{}, err
	}
	if !matched {
		return Resolved{}, types.ErrNoMatchingRule
	}
	return resolved, nil
}

// bindParameters checks declared inputs and seeds the base scope frame:
// supplied values win, declared defaults fill gaps, required parameters
// without either are an error. Undeclared inputs are rejected.
func bindParameters(sc *scope, rs rules.RuleSet, params map[string]funcs.Value) error {
	for name := range params {
		if _, ok := rs.Parameter(name); !ok {
			return fmt.Errorf("%w: parameter %q is not declared", types.ErrUnboundReference, name)
		}
	}
	for _, decl := range rs.Parameters {
		if v, ok := params[decl.Name]; ok && !v.IsNone() {
			if err := checkParamType(decl, v); err != nil {
				return err
			}
			sc.bind(decl.Name, v)
			continue
		}
		if decl.Default != nil {
			v, err := defaultValue(*decl.Default)
			if err != nil {
				return fmt.Errorf("parameter %q: %w", decl.Name, err)
			}
			sc.bind(decl.Name, v)
			continue
		}
		if decl.Required {
			return fmt.Errorf("%w: required parameter %q not set", types.ErrUnboundReference, decl.Name)
		}
	}
	return nil
}

func checkParamType(decl rules.Parameter, v funcs.Value) error {
	ok := false
	switch decl.Type {
	case rules.ParamString:
		ok = v.Kind == funcs.ValueString
	case rules.ParamBoolean:
		ok = v.Kind == funcs.ValueBool
	case rules.ParamStringArray:
		ok = v.Kind == funcs.ValueArray
	}
	if !ok {
		return fmt.Errorf("%w: parameter %q has wrong type", types.ErrTypeMismatch, decl.Name)
	}
	return nil
}

func defaultValue(lit rules.Literal) (funcs.Value, error) {
	switch lit.Kind {
	case rules.LitString:
		s, ok := lit.StaticString()
		if !ok {
			return funcs.None(), fmt.Errorf("%w: default must be a static string", types.ErrMalformedRuleSet)
		}
		return funcs.String(s), nil
	case rules.LitBool:
		return funcs.Boolean(lit.Bool), nil
	case rules.LitInt:
		return funcs.Integer(lit.Int), nil
	case rules.LitTuple:
		elems := make([]funcs.Value, len(lit.Tuple))
		for i, e := range lit.Tuple {
			v, err := defaultValue(e)
			if err != nil {
				return funcs.None(), err
			}
			elems[i] = v
		}
		return funcs.Array(elems), nil
	case rules.LitRecord:
		rec := make(map[string]funcs.Value, len(lit.Record))
		for _, f := range lit.Record {
			v, err := defaultValue(f.Value)
			if err != nil {
				return funcs.None(), err
			}
			rec[f.Name] = v
		}
		return funcs.Record(rec), nil
	default:
		return funcs.None(), fmt.Errorf("%w: unsupported default literal", types.ErrMalformedRuleSet)
	}
}

// evalRules walks a rule list in order; the first rule whose conditions all
// pass decides the outcome.
func (ev *Evaluator) evalRules(sc *scope, list []rules.Rule, depth int) (Resolved, bool, error) {
	if depth > types.MaxRuleDepth {
		return Resolved{}, false, types.ErrRuleTooDeep
	}

	for i := range list {
		rule := &list[i]

		sc.push()
		pass, err := ev.evalConditions(sc, rule.Conditions)
		if err != nil {
			sc.pop()
			return Resolved{}, false, err
		}
		if !pass {
			sc.pop()
			continue
		}

		switch rule.Kind {
		case rules.RuleTree:
			resolved, matched, err := ev.evalRules(sc, rule.Rules, depth+1)
			sc.pop()
			if err != nil {
				return Resolved{}, false, err
			}
			if !matched {
				// A tree whose guard passed must terminate; documents
				// are authored with exhaustive inner rule lists.
				return Resolved{}, false, fmt.Errorf("%w: tree rule matched but no inner rule did", types.ErrNoMatchingRule)
			}
			return resolved, true, nil

		case rules.RuleEndpoint:
			resolved, err := ev.evalEndpoint(sc, rule.Endpoint)
			sc.pop()
			if err != nil {
				return Resolved{}, false, err
			}
			return resolved, true, nil

		case rules.RuleError:
			msg, err := ev.expandTemplate(sc, rule.Error)
			sc.pop()
			if err != nil {
				return Resolved{}, false, err
			}
			return Resolved{}, false, &RuleError{Message: msg}

		default:
			sc.pop()
			return Resolved{}, false, fmt.Errorf("%w: unknown rule kind %d", types.ErrMalformedRuleSet, rule.Kind)
		}
	}

	return Resolved{}, false, nil
}

func (ev *Evaluator) evalConditions(sc *scope, conditions []rules.Condition) (bool, error) {
	for _, cond := range conditions {
		v, err := ev.evalCall(sc, cond.Fn)
		if err != nil {
			return false, err
		}
		if !v.Truthy() {
			return false, nil
		}
		if cond.Assign != "" {
			sc.bind(cond.Assign, v)
		}
	}
	return true, nil
}

func (ev *Evaluator) evalEndpoint(sc *scope, ep rules.Endpoint) (Resolved, error) {
	urlValue, err := ev.evalExpression(sc, ep.URL)
	if err != nil {
		return Resolved{}, err
	}
	url, ok := urlValue.AsString()
	if !ok {
		return Resolved{}, fmt.Errorf("%w: endpoint url is not a string", types.ErrTypeMismatch)
	}

	var headers map[string][]string
	if len(ep.Headers) > 0 {
		headers = make(map[string][]string, len(ep.Headers))
		for _, h := range ep.Headers {
			values := make([]string, len(h.Values))
			for i, expr := range h.Values {
				v, err := ev.evalExpression(sc, expr)
				if err != nil {
					return Resolved{}, err
				}
				s, ok := v.AsString()
				if !ok {
					return Resolved{}, fmt.Errorf("%w: header %q value is not a string", types.ErrTypeMismatch, h.Name)
				}
				values[i] = s
			}
			headers[h.Name] = values
		}
	}

	var properties map[string]any
	if len(ep.Properties) > 0 {
		properties = make(map[string]any, len(ep.Properties))
		for _, f := range ep.Properties {
			v, err := ev.resolveLiteral(sc, f.Value)
			if err != nil {
				return Resolved{}, err
			}
			properties[f.Name] = v
		}
	}

	return Resolved{URL: url, Headers: headers, Properties: properties}, nil
}

// resolveLiteral lowers a document literal into plain Go data, expanding
// string templates against the current scope.
func (ev *Evaluator) resolveLiteral(sc *scope, lit rules.Literal) (any, error) {
	switch lit.Kind {
	case rules.LitString:
		return ev.expandTemplate(sc, lit.Str)
	case rules.LitBool:
		return lit.Bool, nil
	case rules.LitInt:
		return lit.Int, nil
	case rules.LitTuple:
		elems := make([]any, len(lit.Tuple))
		for i, e := range lit.Tuple {
			v, err := ev.resolveLiteral(sc, e)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		return elems, nil
	case rules.LitRecord:
		rec := make(map[string]any, len(lit.Record))
		for _, f := range lit.Record {
			v, err := ev.resolveLiteral(sc, f.Value)
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: unknown literal kind %d", types.ErrMalformedRuleSet, lit.Kind)
	}
}

func (ev *Evaluator) evalExpression(sc *scope, expr rules.Expression) (funcs.Value, error) {
	switch expr.Kind {
	case rules.ExprLiteral:
		return ev.evalLiteral(sc, expr.Lit)
	case rules.ExprReference:
		v, ok := sc.lookup(expr.Ref)
		if !ok {
			return funcs.None(), nil
		}
		return v, nil
	case rules.ExprFunction:
		return ev.evalCall(sc, *expr.Fn)
	default:
		return funcs.None(), fmt.Errorf("%w: unknown expression kind %d", types.ErrMalformedRuleSet, expr.Kind)
	}
}

func (ev *Evaluator) evalLiteral(sc *scope, lit rules.Literal) (funcs.Value, error) {
	switch lit.Kind {
	case rules.LitString:
		s, err := ev.expandTemplate(sc, lit.Str)
		if err != nil {
			return funcs.None(), err
		}
		return funcs.String(s), nil
	case rules.LitBool:
		return funcs.Boolean(lit.Bool), nil
	case rules.LitInt:
		return funcs.Integer(lit.Int), nil
	case rules.LitTuple:
		elems := make([]funcs.Value, len(lit.Tuple))
		for i, e := range lit.Tuple {
			v, err := ev.evalLiteral(sc, e)
			if err != nil {
				return funcs.None(), err
			}
			elems[i] = v
		}
		return funcs.Array(elems), nil
	case rules.LitRecord:
		rec := make(map[string]funcs.Value, len(lit.Record))
		for _, f := range lit.Record {
			v, err := ev.evalLiteral(sc, f.Value)
			if err != nil {
				return funcs.None(), err
			}
			rec[f.Name] = v
		}
		return funcs.Record(rec), nil
	default:
		return funcs.None(), fmt.Errorf("%w: unknown literal kind %d", types.ErrMalformedRuleSet, lit.Kind)
	}
}

// evalCall dispatches a function call: core expression functions are handled
// inline, everything else goes through the registry.
func (ev *Evaluator) evalCall(sc *scope, call rules.FunctionCall) (funcs.Value, error) {
	switch call.ID {
	case rules.FnIsSet:
		// isSet probes presence without evaluating past absence.
		if err := checkArity(call, 1); err != nil {
			return funcs.None(), err
		}
		v, err := ev.evalExpression(sc, call.Args[0])
		if err != nil {
			return funcs.None(), err
		}
		return funcs.Boolean(!v.IsNone()), nil
	}

	args := make([]funcs.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := ev.evalExpression(sc, a)
		if err != nil {
			return funcs.None(), err
		}
		args[i] = v
	}

	switch call.ID {
	case rules.FnNot:
		if err := checkArity(call, 1); err != nil {
			return funcs.None(), err
		}
		b, ok := args[0].AsBool()
		if !ok {
			return funcs.None(), fmt.Errorf("%w: not wants a boolean", types.ErrTypeMismatch)
		}
		return funcs.Boolean(!b), nil

	case rules.FnBooleanEquals:
		if err := checkArity(call, 2); err != nil {
			return funcs.None(), err
		}
		a, okA := args[0].AsBool()
		b, okB := args[1].AsBool()
		if !okA || !okB {
			return funcs.None(), fmt.Errorf("%w: booleanEquals wants booleans", types.ErrTypeMismatch)
		}
		return funcs.Boolean(a == b), nil

	case rules.FnStringEquals:
		if err := checkArity(call, 2); err != nil {
			return funcs.None(), err
		}
		a, okA := args[0].AsString()
		b, okB := args[1].AsString()
		if !okA || !okB {
			return funcs.None(), fmt.Errorf("%w: stringEquals wants strings", types.ErrTypeMismatch)
		}
		return funcs.Boolean(a == b), nil

	case rules.FnIte:
		if err := checkArity(call, 3); err != nil {
			return funcs.None(), err
		}
		cond, ok := args[0].AsBool()
		if !ok {
			return funcs.None(), fmt.Errorf("%w: ite wants a boolean condition", types.ErrTypeMismatch)
		}
		if cond {
			return args[1], nil
		}
		return args[2], nil

	case rules.FnCoalesce:
		if len(call.Args) == 0 {
			return funcs.None(), fmt.Errorf("%w: coalesce wants at least one argument", types.ErrArityMismatch)
		}
		for _, v := range args {
			if !v.IsNone() {
				return v, nil
			}
		}
		return funcs.None(), nil

	case rules.FnSplit:
		if err := checkArity(call, 3); err != nil {
			return funcs.None(), err
		}
		return evalSplit(args)

	case rules.FnGetAttr:
		if err := checkArity(call, 2); err != nil {
			return funcs.None(), err
		}
		path, ok := args[1].AsString()
		if !ok {
			return funcs.None(), fmt.Errorf("%w: getAttr path must be a string", types.ErrTypeMismatch)
		}
		return getAttr(args[0], path)

	case rules.FnSubstring:
		if err := checkArity(call, 4); err != nil {
			return funcs.None(), err
		}
		return evalSubstring(args)
	}

	return ev.registry.Call(call.ID, args)
}

func checkArity(call rules.FunctionCall, want int) error {
	if len(call.Args) != want {
		return fmt.Errorf("%w: %q wants %d arguments, got %d",
			types.ErrArityMismatch, call.ID, want, len(call.Args))
	}
	return nil
}

// evalSplit splits a string on a delimiter. A limit of zero means no limit;
// a positive limit caps the number of resulting segments.
func evalSplit(args []funcs.Value) (funcs.Value, error) {
	s, okS := args[0].AsString()
	delim, okD := args[1].AsString()
	limit, okL := args[2].AsInt()
	if !okS || !okD || !okL {
		return funcs.None(), fmt.Errorf("%w: split wants (string, string, int)", types.ErrTypeMismatch)
	}
	if delim == "" {
		return funcs.None(), fmt.Errorf("%w: split delimiter must be non-empty", types.ErrTypeMismatch)
	}
	var parts []string
	if limit <= 0 {
		parts = strings.Split(s, delim)
	} else {
		parts = strings.SplitN(s, delim, int(limit))
	}
	elems := make([]funcs.Value, len(parts))
	for i, p := range parts {
		elems[i] = funcs.String(p)
	}
	return funcs.Array(elems), nil
}

// evalSubstring extracts s[start:stop), or the mirrored range when reverse
// is set. Out-of-range indices and non-ASCII input yield the absent value.
func evalSubstring(args []funcs.Value) (funcs.Value, error) {
	s, okS := args[0].AsString()
	start, okA := args[1].AsInt()
	stop, okB := args[2].AsInt()
	reverse, okR := args[3].AsBool()
	if !okS || !okA || !okB || !okR {
		return funcs.None(), fmt.Errorf("%w: substring wants (string, int, int, bool)", types.ErrTypeMismatch)
	}
	if start >= stop || int64(len(s)) < stop || start < 0 {
		return funcs.None(), nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return funcs.None(), nil
		}
	}
	if !reverse {
		return funcs.String(s[start:stop]), nil
	}
	rStart := int64(len(s)) - stop
	rStop := int64(len(s)) - start
	return funcs.String(s[rStart:rStop]), nil
}

// getAttr walks a dotted path with optional [index] segments through
// records and arrays. Missing fields and out-of-range indices yield the
// absent value.
func getAttr(v funcs.Value, path string) (funcs.Value, error) {
	current := v
	for _, segment := range strings.Split(path, ".") {
		name := segment
		index := -1
		if open := strings.IndexByte(segment, '['); open >= 0 {
			if !strings.HasSuffix(segment, "]") {
				return funcs.None(), fmt.Errorf("%w: malformed getAttr path %q", types.ErrMalformedRuleSet, path)
			}
			idx, err := strconv.Atoi(segment[open+1 : len(segment)-1])
			if err != nil {
				return funcs.None(), fmt.Errorf("%w: malformed getAttr index in %q", types.ErrMalformedRuleSet, path)
			}
			name, index = segment[:open], idx
		}
		if name != "" {
			if current.Kind != funcs.ValueRecord {
				return funcs.None(), nil
			}
			field, ok := current.Rec[name]
			if !ok {
				return funcs.None(), nil
			}
			current = field
		}
		if index >= 0 {
			if current.Kind != funcs.ValueArray || index >= len(current.Arr) {
				return funcs.None(), nil
			}
			current = current.Arr[index]
		}
	}
	return current, nil
}

// expandTemplate fills template placeholders from the scope. Placeholders
// may use "name#path" to reach into record and array values.
func (ev *Evaluator) expandTemplate(sc *scope, t rules.Template) (string, error) {
	return t.Expand(func(ref string) (string, error) {
		name, path, hasPath := strings.Cut(ref, "#")
		v, ok := sc.lookup(name)
		if !ok {
			return "", fmt.Errorf("%w: %q", types.ErrUnboundReference, name)
		}
		if hasPath {
			attr, err := getAttr(v, path)
			if err != nil {
				return "", err
			}
			v = attr
		}
		return valueText(v, ref)
	})
}

func valueText(v funcs.Value, ref string) (string, error) {
	switch v.Kind {
	case funcs.ValueString:
		return v.Str, nil
	case funcs.ValueBool:
		return strconv.FormatBool(v.Bool), nil
	case funcs.ValueInt:
		return strconv.FormatInt(v.Int, 10), nil
	case funcs.ValueNone:
		return "", fmt.Errorf("%w: %q is not set", types.ErrUnboundReference, ref)
	default:
		return "", fmt.Errorf("%w: %q is not a scalar", types.ErrTypeMismatch, ref)
	}
}
