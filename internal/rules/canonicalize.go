package rules

import (
	"log"
	"regexp"
	"strings"
)

/*
 * S3Express rule-tree canonicalization.
 *
 * Pre-processing transform for the downstream decision-diagram compiler.
 * S3Express branches differ only superficially (FIPS/dualstack URL
 * fragments, auth scheme names, bucket-length-dependent substring offsets)
 * even though they resolve the same endpoints. Rewriting those branches
 * into one branchless template lets the compiler share structure across
 * all variants instead of treating each as a distinct result.
 *
 * Transformations:
 *   1. AZ extraction: substring(Bucket, N, M) assigned to
 *      s3expressAvailabilityZoneId becomes split(Bucket, "--")[1],
 *      position-independent and identical across all branches.
 *   2. URL variants: s3express[-fips]-{az}[.dualstack].{region} hostnames
 *      collapse to s3express{_s3e_fips}-{az}{_s3e_ds}.{region}, with two
 *      appended ITE conditions computing the suffix variables.
 *   3. Auth schemes: static "sigv4"/"sigv4-s3express" names become the
 *      shared "{_s3e_auth}" template with an appended ITE condition on
 *      DisableS3ExpressSessionAuth.
 *
 * The transform is purely structural: it never changes which endpoint a
 * given input resolves to, only the representation. Rules that match no
 * known pattern pass through untouched with their original backing arrays
 * (structural sharing), so re-running the transform is a no-op.
 *
 * Delimiter-probe conditions (s3expressAvailabilityZoneDelim) are left
 * alone: they sit inside a fallback structure whose short-circuit order a
 * rewrite would break.
 */

// Variable names for the computed suffixes.
const (
	varFips = "_s3e_fips"
	varDS   = "_s3e_ds"
	varAuth = "_s3e_auth"
)

// Suffix values used in the URI templates.
const (
	fipsSuffix  = "-fips"
	dsSuffix    = ".dualstack"
	emptySuffix = ""
)

// Auth scheme values used with S3Express.
const (
	authSigV4          = "sigv4"
	authSigV4S3Express = "sigv4-s3express"
)

// Parameter and property identifiers.
const (
	idBucket                      = "Bucket"
	idAZID                        = "s3expressAvailabilityZoneId"
	idUseFIPS                     = "UseFIPS"
	idUseDualStack                = "UseDualStack"
	idDisableS3ExpressSessionAuth = "DisableS3ExpressSessionAuth"
	idAuthSchemes                 = "authSchemes"
	idName                        = "name"
	idBackend                     = "backend"
)

// URL patterns, most specific first. Control-plane (no AZ) patterns are
// tried before bucket patterns, and FIPS+dualstack before the narrower
// permutations; RE2 has no negative lookahead, so the non-dualstack
// patterns instead reject matches whose region suffix starts with the
// literal "dualstack" (see matchesDualStack). Compiled once at startup.
type urlPattern struct {
	re        *regexp.Regexp
	bucket    bool // has an AZ capture group
	dualStack bool // pattern consumes the .dualstack fragment itself
}

var urlPatterns = []urlPattern{
	// Control plane: https://s3express-control[-fips][.dualstack].{region}...
	{re: regexp.MustCompile(`(s3express-control)-fips\.dualstack\.(.+)$`), dualStack: true},
	{re: regexp.MustCompile(`(s3express-control)-fips\.(.+)$`)},
	{re: regexp.MustCompile(`(s3express-control)\.dualstack\.(.+)$`), dualStack: true},
	{re: regexp.MustCompile(`(s3express-control)\.(.+)$`)},
	// Bucket: https://{Bucket}.s3express[-fips]-{az}[.dualstack].{region}...
	{re: regexp.MustCompile(`(s3express)-fips-([^.]+)\.dualstack\.(.+)$`), bucket: true, dualStack: true},
	{re: regexp.MustCompile(`(s3express)-fips-([^.]+)\.(.+)$`), bucket: true},
	{re: regexp.MustCompile(`(s3express)-([^.]+)\.dualstack\.(.+)$`), bucket: true, dualStack: true},
	{re: regexp.MustCompile(`(s3express)-([^.]+)\.(.+)$`), bucket: true},
}

// Canonical AZ extraction: split(Bucket, "--", 0)[1]. Depends only on
// Bucket, which is constant for a given input, so every branch computes
// the identical expression.
func canonicalAZExpression() FunctionCall {
	split := Call(FnSplit, Ref(idBucket), Str("--"), Int(0))
	return FunctionCall{ID: FnGetAttr, Args: []Expression{split, Str("[1]")}}
}

// CanonicalizeStats reports transform telemetry: how many candidate
// S3Express endpoints were inspected and how many were actually rewritten.
// Observability only; never used for control flow.
type CanonicalizeStats struct {
	Total     int
	Rewritten int
}

// Canonicalize rewrites S3Express branches of the rule set into canonical
// form. The input is never mutated; unrewritten subtrees are reused.
func Canonicalize(rs RuleSet) (RuleSet, CanonicalizeStats) {
	c := &canonicalizer{}

	out := rs
	rewritten := make([]Rule, len(rs.Rules))
	changed := false
	for i := range rs.Rules {
		r, ch := c.transformRule(rs.Rules[i])
		rewritten[i] = r
		changed = changed || ch
	}
	if changed {
		out.Rules = rewritten
	}

	log.Printf("canonicalize: %d/%d S3Express endpoints rewritten", c.rewritten, c.total)
	return out, CanonicalizeStats{Total: c.total, Rewritten: c.rewritten}
}

type canonicalizer struct {
	total     int
	rewritten int
}

// transformRule rewrites one rule, reporting whether anything changed.
// Error rules pass through unchanged.
func (c *canonicalizer) transformRule(r Rule) (Rule, bool) {
	switch r.Kind {
	case RuleTree:
		conds, condsChanged := c.transformConditions(r.Conditions)
		children := make([]Rule, len(r.Rules))
		childChanged := false
		for i := range r.Rules {
			child, ch := c.transformRule(r.Rules[i])
			children[i] = child
			childChanged = childChanged || ch
		}
		if !condsChanged && !childChanged {
			return r, false
		}
		out := r
		if condsChanged {
			out.Conditions = conds
		}
		if childChanged {
			out.Rules = children
		}
		return out, true
	case RuleEndpoint:
		return c.rewriteEndpointRule(r)
	case RuleError:
		return r, false
	default:
		return r, false
	}
}

func (c *canonicalizer) transformConditions(conds []Condition) ([]Condition, bool) {
	out := make([]Condition, len(conds))
	changed := false
	for i, cond := range conds {
		out[i] = c.transformCondition(cond)
		if out[i].Fn.ID != cond.Fn.ID {
			changed = true
		}
	}
	if !changed {
		return conds, false
	}
	return out, true
}

// transformCondition canonicalizes AZ extraction: any substring over the
// Bucket reference assigned to s3expressAvailabilityZoneId is replaced by
// split(Bucket, "--")[1], regardless of the original numeric offsets.
func (c *canonicalizer) transformCondition(cond Condition) Condition {
	if cond.Assign != idAZID || cond.Fn.ID != FnSubstring {
		return cond
	}
	if !isSubstringOnBucket(cond.Fn) {
		return cond
	}
	return Condition{Fn: canonicalAZExpression(), Assign: cond.Assign}
}

func isSubstringOnBucket(fn FunctionCall) bool {
	if len(fn.Args) == 0 {
		return false
	}
	target := fn.Args[0]
	return target.Kind == ExprReference && target.Ref == idBucket
}

// rewriteEndpointRule canonicalizes S3Express endpoint rules. An endpoint
// qualifies when its static URL text contains "s3express" or its backend
// property equals "S3Express" (case-insensitive). Everything else passes
// through untouched.
func (c *canonicalizer) rewriteEndpointRule(r Rule) (Rule, bool) {
	ep := r.Endpoint

	// Only statically-known string URLs are candidates; dynamic URL
	// expressions are never partially rewritten.
	urlTemplate, ok := ep.URL.StringLiteral()
	if !ok {
		return r, false
	}
	url := urlTemplate.Source()

	// Already-canonical URLs carry the suffix placeholders. A second pass
	// must leave them alone: the bucket pattern would otherwise re-match a
	// rewritten control-plane hostname and corrupt it.
	if strings.Contains(url, "{"+varFips+"}") || strings.Contains(url, "{"+varDS+"}") {
		return r, false
	}

	// contains("s3express") is broad and could in theory hit path or query
	// components, but matchURL validates the hostname shape before any
	// rewriting happens.
	isS3ExpressURL := strings.Contains(url, "s3express")
	isS3ExpressBackend := hasS3ExpressBackend(ep)

	if !isS3ExpressURL && !isS3ExpressBackend {
		return r, false
	}

	c.total++

	// Custom/override endpoint tagged with backend=S3Express but a foreign
	// URL: canonicalize only the auth scheme, leave the URL alone.
	if isS3ExpressBackend && !isS3ExpressURL {
		newProps, changed := canonicalizeAuthSchemes(ep.Properties)
		if !changed {
			return r, false
		}
		c.rewritten++

		conditions := appendConditions(r.Conditions, authIteCondition())
		out := r
		out.Conditions = conditions
		out.Endpoint = Endpoint{URL: ep.URL, Headers: ep.Headers, Properties: newProps}
		return out, true
	}

	match := matchURL(url)
	if match == nil {
		// Candidate URL that fits none of the known hostname shapes:
		// counted, logged, left unrewritten. Not an error.
		log.Printf("canonicalize: s3express URL matched no known pattern: %s", url)
		return r, false
	}

	c.rewritten++

	// Control plane always signs with sigv4; only bucket endpoints vary
	// their auth scheme with DisableS3ExpressSessionAuth.
	newProps := ep.Properties
	if match.bucket {
		newProps, _ = canonicalizeAuthSchemes(ep.Properties)
	}

	// Original conditions first, injected ITE bindings appended after:
	// existing evaluation order and short-circuiting must be preserved.
	conditions := appendConditions(r.Conditions,
		iteAssign(varFips, Ref(idUseFIPS), fipsSuffix, emptySuffix),
		iteAssign(varDS, Ref(idUseDualStack), dsSuffix, emptySuffix),
		authIteCondition(),
	)

	out := r
	out.Conditions = conditions
	out.Endpoint = Endpoint{URL: Str(match.rewriteURL()), Headers: ep.Headers, Properties: newProps}
	return out, true
}

// appendConditions copies conds and appends extra, leaving the original
// backing array untouched.
func appendConditions(conds []Condition, extra ...Condition) []Condition {
	out := make([]Condition, 0, len(conds)+len(extra))
	out = append(out, conds...)
	out = append(out, extra...)
	return out
}

// iteAssign creates: {varName} = ite(cond, trueVal, falseVal).
func iteAssign(varName string, cond Expression, trueVal, falseVal string) Condition {
	return Condition{
		Fn:     FunctionCall{ID: FnIte, Args: []Expression{cond, Str(trueVal), Str(falseVal)}},
		Assign: varName,
	}
}

// authIteCondition creates:
// _s3e_auth = ite(coalesce(DisableS3ExpressSessionAuth, false), "sigv4", "sigv4-s3express").
func authIteCondition() Condition {
	disabled := Call(FnCoalesce, Ref(idDisableS3ExpressSessionAuth), Bool(false))
	return iteAssign(varAuth, disabled, authSigV4, authSigV4S3Express)
}

// hasS3ExpressBackend checks for the backend = "S3Express" property.
func hasS3ExpressBackend(ep Endpoint) bool {
	backend, ok := ep.Property(idBackend)
	if !ok {
		return false
	}
	s, ok := backend.StaticString()
	return ok && strings.EqualFold(s, "S3Express")
}

// canonicalizeAuthSchemes rewrites authSchemes[].name entries whose static
// value is "sigv4" or "sigv4-s3express" to the shared "{_s3e_auth}"
// template. Record field order is preserved. When nothing needed
// rewriting, the original slice is returned with changed=false so callers
// can cheaply detect the no-op.
func canonicalizeAuthSchemes(props []Field) ([]Field, bool) {
	schemes, ok := getField(props, idAuthSchemes)
	if !ok || schemes.Kind != LitTuple || len(schemes.Tuple) == 0 {
		return props, false
	}

	newSchemes := make([]Literal, len(schemes.Tuple))
	changed := false
	for i, scheme := range schemes.Tuple {
		newSchemes[i] = scheme
		if scheme.Kind != LitRecord {
			// Schemes are always records today; pass anything else through.
			continue
		}
		name, ok := getField(scheme.Record, idName)
		if !ok {
			continue
		}
		// Only static string names we recognize are rewritten.
		s, ok := name.StaticString()
		if !ok || (s != authSigV4 && s != authSigV4S3Express) {
			continue
		}

		record := make([]Field, len(scheme.Record))
		copy(record, scheme.Record)
		for j := range record {
			if record[j].Name == idName {
				record[j].Value = Literal{Kind: LitString, Str: NewTemplate("{" + varAuth + "}")}
			}
		}
		newSchemes[i] = Literal{Kind: LitRecord, Record: record}
		changed = true
	}

	if !changed {
		return props, false
	}

	newProps := make([]Field, len(props))
	copy(newProps, props)
	for i := range newProps {
		if newProps[i].Name == idAuthSchemes {
			newProps[i].Value = Literal{Kind: LitTuple, Tuple: newSchemes}
		}
	}
	return newProps, true
}

// urlMatch is the decomposition of a matched S3Express URL.
type urlMatch struct {
	prefix       string // everything before the match, preserved verbatim
	service      string // "s3express" or "s3express-control"
	az           string // bucket patterns only; may itself be a placeholder
	regionSuffix string // everything after the variant fragments
	bucket       bool
}

// rewriteURL rebuilds the URL with the FIPS/dualstack fragments replaced
// by the ITE-assigned placeholder variables.
func (m *urlMatch) rewriteURL() string {
	if m.bucket {
		return m.prefix + m.service + "{" + varFips + "}-" + m.az + "{" + varDS + "}." + m.regionSuffix
	}
	return m.prefix + m.service + "{" + varFips + "}{" + varDS + "}." + m.regionSuffix
}

// matchURL tries the eight hostname patterns in most-specific-first order
// and returns the decomposition of the first hit, or nil.
func matchURL(url string) *urlMatch {
	for _, p := range urlPatterns {
		loc := p.re.FindStringSubmatchIndex(url)
		if loc == nil {
			continue
		}
		groups := p.re.FindStringSubmatch(url)
		m := &urlMatch{
			prefix:  url[:loc[0]],
			service: groups[1],
			bucket:  p.bucket,
		}
		if p.bucket {
			m.az = groups[2]
			m.regionSuffix = groups[3]
		} else {
			m.regionSuffix = groups[2]
		}
		// Non-dualstack patterns must not swallow dualstack URLs: the
		// original patterns used a (?!dualstack) lookahead here.
		if !p.dualStack && strings.HasPrefix(m.regionSuffix, "dualstack") {
			continue
		}
		return m
	}
	return nil
}
