package rules

import (
	"log"
	"strings"

	"github.com/wayfinderhq/wayfinder/internal/funcs"
)

/*
 * Region unification.
 *
 * The same logical region shows up in three syntactic forms across S3
 * endpoint rules: the Region input parameter, bucketArn#region extracted
 * from a parsed bucket ARN, and hardcoded values such as us-east-1 in the
 * aws-global branches. Branches that resolve identically therefore look
 * different to the downstream compiler.
 *
 * The transform injects two computed bindings and rewrites references to
 * go through them:
 *
 *   _effective_std_region = ite(stringEquals(Region, "aws-global"),
 *                               "us-east-1", Region)
 *       injected once, right after the isSet(Region) probe.
 *
 *   _effective_arn_region = ite(coalesce(UseArnRegion, true),
 *                               bucketArn#region, Region)
 *       injected right after a successful bucketArn = aws.parseArn(...)
 *       binding; the subtree below that binding is "ARN scope".
 *
 * Inside ARN scope, aws.partition and isValidHostLabel calls over
 * bucketArn#region switch to _effective_arn_region, and URL or
 * signingRegion text referencing Region, bucketArn#region, or a literal
 * region collapses to the scope's effective variable. Error messages are
 * never rewritten. Scope state saves and restores around each tree rule,
 * so a sibling branch never inherits another branch's ARN scope.
 */

// Variable names for the unified region bindings.
const (
	varStdRegion = "_effective_std_region"
	varArnRegion = "_effective_arn_region"
)

// Parameter and property identifiers the unifier matches on.
const (
	idRegion        = "Region"
	idBucketArn     = "bucketArn"
	idUseArnRegion  = "UseArnRegion"
	idSigningRegion = "signingRegion"

	fnParseArn         = "aws.parseArn"
	fnPartition        = "aws.partition"
	fnIsValidHostLabel = "isValidHostLabel"
)

// UnifyRegions rewrites region references in the rule set into the unified
// _effective_std_region/_effective_arn_region form and returns the rewrite
// count. The input is never mutated; untouched subtrees are reused.
func UnifyRegions(rs RuleSet) (RuleSet, int) {
	u := &regionUnifier{knownRegion: funcs.DefaultPartitionTable().KnownRegion}

	out := rs
	rewritten := make([]Rule, len(rs.Rules))
	changed := false
	for i := range rs.Rules {
		r, ch := u.transformRule(rs.Rules[i])
		rewritten[i] = r
		changed = changed || ch
	}
	if changed {
		out.Rules = rewritten
	}

	log.Printf("unify: %d region references rewritten", u.rewritten)
	return out, u.rewritten
}

type regionUnifier struct {
	knownRegion func(string) bool

	inArnScope bool
	stdDefined bool
	rewritten  int
}

// targetVar picks the effective-region variable for the current scope.
func (u *regionUnifier) targetVar() string {
	if u.inArnScope {
		return varArnRegion
	}
	return varStdRegion
}

func (u *regionUnifier) transformRule(r Rule) (Rule, bool) {
	switch r.Kind {
	case RuleTree:
		// Scope state set by this branch must not leak into siblings.
		savedArn, savedStd := u.inArnScope, u.stdDefined
		defer func() {
			u.inArnScope, u.stdDefined = savedArn, savedStd
		}()

		conds, condsChanged := u.transformConditions(r.Conditions)
		children := make([]Rule, len(r.Rules))
		childChanged := false
		for i := range r.Rules {
			child, ch := u.transformRule(r.Rules[i])
			children[i] = child
			childChanged = childChanged || ch
		}
		if !condsChanged && !childChanged {
			return r, false
		}
		out := r
		out.Conditions = conds
		if childChanged {
			out.Rules = children
		}
		return out, true

	case RuleEndpoint:
		conds, condsChanged := u.transformConditions(r.Conditions)
		ep, epChanged := u.rewriteEndpoint(r.Endpoint)
		if !condsChanged && !epChanged {
			return r, false
		}
		out := r
		out.Conditions = conds
		out.Endpoint = ep
		return out, true

	case RuleError:
		// Conditions still unify, the message never does.
		conds, changed := u.transformConditions(r.Conditions)
		if !changed {
			return r, false
		}
		out := r
		out.Conditions = conds
		return out, true

	default:
		return r, false
	}
}

// transformConditions rewrites ARN-scope region references and injects the
// effective-region bindings right after the conditions that establish them.
func (u *regionUnifier) transformConditions(conds []Condition) ([]Condition, bool) {
	// An already-unified list carries the effective-region bindings; adopt
	// them instead of injecting duplicates, so a second pass is a no-op.
	for _, c := range conds {
		switch c.Assign {
		case varStdRegion:
			u.stdDefined = true
		case varArnRegion:
			u.inArnScope = true
		}
	}

	out := make([]Condition, 0, len(conds)+2)
	changed := false

	for _, cond := range conds {
		rewritten := cond
		if u.inArnScope {
			rewritten = u.rewriteArnRegionCondition(cond)
		}
		if rewritten.Assign != cond.Assign || !sameFunctionArgs(rewritten.Fn, cond.Fn) {
			changed = true
		}
		out = append(out, rewritten)

		switch {
		case !u.stdDefined && isIsSetRegion(rewritten):
			out = append(out, stdRegionCondition())
			u.stdDefined = true
			changed = true
		case !u.inArnScope && isBucketArnBinding(rewritten):
			out = append(out, arnRegionCondition())
			u.inArnScope = true
			changed = true
		}
	}

	if !changed {
		return conds, false
	}
	return out, true
}

// sameFunctionArgs is a cheap identity check: rewrites always replace the
// first argument expression, so comparing kind and reference suffices.
func sameFunctionArgs(a, b FunctionCall) bool {
	if a.ID != b.ID || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i].Kind != b.Args[i].Kind || a.Args[i].Ref != b.Args[i].Ref {
			return false
		}
	}
	return true
}

// rewriteArnRegionCondition switches aws.partition and isValidHostLabel
// calls over bucketArn#region to the _effective_arn_region binding.
func (u *regionUnifier) rewriteArnRegionCondition(cond Condition) Condition {
	if cond.Fn.ID != fnPartition && cond.Fn.ID != fnIsValidHostLabel {
		return cond
	}
	if len(cond.Fn.Args) == 0 || !isBucketArnRegionExpr(cond.Fn.Args[0]) {
		return cond
	}

	u.rewritten++
	args := make([]Expression, len(cond.Fn.Args))
	copy(args, cond.Fn.Args)
	args[0] = Ref(varArnRegion)
	return Condition{Fn: FunctionCall{ID: cond.Fn.ID, Args: args}, Assign: cond.Assign}
}

// isIsSetRegion matches a bare isSet(Region) probe with no binding.
func isIsSetRegion(cond Condition) bool {
	if cond.Assign != "" || cond.Fn.ID != FnIsSet || len(cond.Fn.Args) != 1 {
		return false
	}
	arg := cond.Fn.Args[0]
	return arg.Kind == ExprReference && arg.Ref == idRegion
}

// isBucketArnBinding matches bucketArn = aws.parseArn(...).
func isBucketArnBinding(cond Condition) bool {
	return cond.Assign == idBucketArn && cond.Fn.ID == fnParseArn
}

// isBucketArnRegionExpr matches getAttr(bucketArn, "region").
func isBucketArnRegionExpr(e Expression) bool {
	if e.Kind != ExprFunction || e.Fn == nil || e.Fn.ID != FnGetAttr || len(e.Fn.Args) != 2 {
		return false
	}
	target := e.Fn.Args[0]
	if target.Kind != ExprReference || target.Ref != idBucketArn {
		return false
	}
	path, ok := e.Fn.Args[1].StringLiteral()
	if !ok {
		return false
	}
	static, ok := path.Static()
	return ok && static == "region"
}

// stdRegionCondition creates:
// _effective_std_region = ite(stringEquals(Region, "aws-global"), "us-east-1", Region).
func stdRegionCondition() Condition {
	isGlobal := Call(FnStringEquals, Ref(idRegion), Str("aws-global"))
	return Condition{
		Fn:     FunctionCall{ID: FnIte, Args: []Expression{isGlobal, Str("us-east-1"), Ref(idRegion)}},
		Assign: varStdRegion,
	}
}

// arnRegionCondition creates:
// _effective_arn_region = ite(coalesce(UseArnRegion, true), bucketArn#region, Region).
// Only injected after bucketArn bound, so the getAttr cannot miss.
func arnRegionCondition() Condition {
	useArn := Call(FnCoalesce, Ref(idUseArnRegion), Bool(true))
	arnRegion := Call(FnGetAttr, Ref(idBucketArn), Str("region"))
	return Condition{
		Fn:     FunctionCall{ID: FnIte, Args: []Expression{useArn, arnRegion, Ref(idRegion)}},
		Assign: varArnRegion,
	}
}

func (u *regionUnifier) rewriteEndpoint(ep Endpoint) (Endpoint, bool) {
	url, urlChanged := u.rewriteExpression(ep.URL)

	headers := ep.Headers
	headersChanged := false
	if len(ep.Headers) > 0 {
		rewritten := make([]Header, len(ep.Headers))
		for i, h := range ep.Headers {
			values := make([]Expression, len(h.Values))
			for j, v := range h.Values {
				nv, ch := u.rewriteExpression(v)
				values[j] = nv
				headersChanged = headersChanged || ch
			}
			rewritten[i] = Header{Name: h.Name, Values: values}
		}
		if headersChanged {
			headers = rewritten
		}
	}

	props := ep.Properties
	propsChanged := false
	if len(ep.Properties) > 0 {
		rewritten := make([]Field, len(ep.Properties))
		for i, f := range ep.Properties {
			nv, ch := u.rewriteField(f)
			rewritten[i] = nv
			propsChanged = propsChanged || ch
		}
		if propsChanged {
			props = rewritten
		}
	}

	if !urlChanged && !headersChanged && !propsChanged {
		return ep, false
	}
	return Endpoint{URL: url, Headers: headers, Properties: props}, true
}

// rewriteExpression unifies region references in string-literal expressions.
// References and function calls pass through.
func (u *regionUnifier) rewriteExpression(e Expression) (Expression, bool) {
	t, ok := e.StringLiteral()
	if !ok {
		return e, false
	}
	source, changed := u.rewriteTemplateSource(t.Source())
	if !changed {
		return e, false
	}
	return Str(source), true
}

// rewriteField recurses into a record field, diverting signingRegion values
// to their dedicated rewrite.
func (u *regionUnifier) rewriteField(f Field) (Field, bool) {
	if f.Name == idSigningRegion && u.stdDefined {
		v, changed := u.rewriteSigningRegion(f.Value)
		return Field{Name: f.Name, Value: v}, changed
	}
	v, changed := u.rewriteLiteral(f.Value)
	return Field{Name: f.Name, Value: v}, changed
}

func (u *regionUnifier) rewriteLiteral(lit Literal) (Literal, bool) {
	switch lit.Kind {
	case LitString:
		source, changed := u.rewriteTemplateSource(lit.Str.Source())
		if !changed {
			return lit, false
		}
		return Literal{Kind: LitString, Str: NewTemplate(source)}, true
	case LitTuple:
		elems := make([]Literal, len(lit.Tuple))
		changed := false
		for i, e := range lit.Tuple {
			ne, ch := u.rewriteLiteral(e)
			elems[i] = ne
			changed = changed || ch
		}
		if !changed {
			return lit, false
		}
		return Literal{Kind: LitTuple, Tuple: elems}, true
	case LitRecord:
		fields := make([]Field, len(lit.Record))
		changed := false
		for i, f := range lit.Record {
			nf, ch := u.rewriteField(f)
			fields[i] = nf
			changed = changed || ch
		}
		if !changed {
			return lit, false
		}
		return Literal{Kind: LitRecord, Record: fields}, true
	default:
		return lit, false
	}
}

// rewriteSigningRegion collapses a signingRegion value to the effective
// variable: whole-value {Region} or {bucketArn#region} placeholders, and
// static values naming a known region or aws-global.
func (u *regionUnifier) rewriteSigningRegion(lit Literal) (Literal, bool) {
	if lit.Kind != LitString {
		return u.rewriteLiteral(lit)
	}

	source := lit.Str.Source()
	if source == "{"+idRegion+"}" || source == "{"+idBucketArn+"#region}" {
		u.rewritten++
		return Literal{Kind: LitString, Str: NewTemplate("{" + u.targetVar() + "}")}, true
	}

	if static, ok := lit.Str.Static(); ok {
		if static == "aws-global" || u.knownRegion(static) {
			u.rewritten++
			return Literal{Kind: LitString, Str: NewTemplate("{" + u.targetVar() + "}")}, true
		}
		return lit, false
	}

	return u.rewriteLiteral(lit)
}

// rewriteTemplateSource unifies region fragments in template text. More
// specific patterns replace first so ".us-east-1." never half-matches.
func (u *regionUnifier) rewriteTemplateSource(s string) (string, bool) {
	target := u.targetVar()
	out := s
	changed := false

	if u.stdDefined {
		if strings.Contains(out, ".us-east-1.") {
			out = strings.ReplaceAll(out, ".us-east-1.", ".{"+target+"}.")
			changed = true
		}
		if strings.Contains(out, ".{"+idRegion+"}.") {
			out = strings.ReplaceAll(out, ".{"+idRegion+"}.", ".{"+target+"}.")
			changed = true
		}
		if strings.Contains(out, "{"+idRegion+"}") {
			out = strings.ReplaceAll(out, "{"+idRegion+"}", "{"+target+"}")
			changed = true
		}
	}
	if u.inArnScope && strings.Contains(out, "{"+idBucketArn+"#region}") {
		out = strings.ReplaceAll(out, "{"+idBucketArn+"#region}", "{"+varArnRegion+"}")
		changed = true
	}

	if changed {
		u.rewritten++
	}
	return out, changed
}
