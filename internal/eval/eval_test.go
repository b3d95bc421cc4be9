package eval

import (
	"errors"
	"reflect"
	"testing"

	"github.com/wayfinderhq/wayfinder/internal/funcs"
	"github.com/wayfinderhq/wayfinder/internal/rules"
	"github.com/wayfinderhq/wayfinder/internal/types"
)

func boolLit(b bool) *rules.Literal {
	return &rules.Literal{Kind: rules.LitBool, Bool: b}
}

func cond(id string, args ...rules.Expression) rules.Condition {
	return rules.Condition{Fn: rules.FunctionCall{ID: id, Args: args}}
}

func assign(name, id string, args ...rules.Expression) rules.Condition {
	return rules.Condition{Fn: rules.FunctionCall{ID: id, Args: args}, Assign: name}
}

func TestResolve_EndpointRule(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Region", Type: rules.ParamString, Required: true},
			{Name: "UseFIPS", Type: rules.ParamBoolean, Default: boolLit(false)},
		},
		Rules: []rules.Rule{
			{
				Kind:       rules.RuleEndpoint,
				Conditions: []rules.Condition{cond(rules.FnBooleanEquals, rules.Ref("UseFIPS"), rules.Bool(true))},
				Endpoint:   rules.Endpoint{URL: rules.Str("https://service-fips.{Region}.amazonaws.com")},
			},
			{
				Kind:     rules.RuleEndpoint,
				Endpoint: rules.Endpoint{URL: rules.Str("https://service.{Region}.amazonaws.com")},
			},
		},
	}

	ev := NewEvaluator(nil)

	tests := []struct {
		name     string
		params   map[string]funcs.Value
		expected string
	}{
		{
			name:     "default fips off",
			params:   map[string]funcs.Value{"Region": funcs.String("us-east-1")},
			expected: "https://service.us-east-1.amazonaws.com",
		},
		{
			name: "fips on",
			params: map[string]funcs.Value{
				"Region":  funcs.String("us-east-1"),
				"UseFIPS": funcs.Boolean(true),
			},
			expected: "https://service-fips.us-east-1.amazonaws.com",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := ev.Resolve(rs, tc.params)
			if err != nil {
				t.Fatalf("Resolve() error = %v, want nil", err)
			}
			if resolved.URL != tc.expected {
				t.Errorf("URL = %q, want %q", resolved.URL, tc.expected)
			}
		})
	}
}

func TestResolve_ParameterErrors(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Region", Type: rules.ParamString, Required: true},
		},
		Rules: []rules.Rule{
			{Kind: rules.RuleEndpoint, Endpoint: rules.Endpoint{URL: rules.Str("https://example.com")}},
		},
	}

	ev := NewEvaluator(nil)

	tests := []struct {
		name    string
		params  map[string]funcs.Value
		wantErr error
	}{
		{
			name:    "required parameter missing",
			params:  nil,
			wantErr: types.ErrUnboundReference,
		},
		{
			name: "undeclared parameter",
			params: map[string]funcs.Value{
				"Region":  funcs.String("us-east-1"),
				"Unknown": funcs.String("x"),
			},
			wantErr: types.ErrUnboundReference,
		},
		{
			name:    "wrong parameter type",
			params:  map[string]funcs.Value{"Region": funcs.Boolean(true)},
			wantErr: types.ErrTypeMismatch,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ev.Resolve(rs, tc.params)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestResolve_ErrorRule(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Region", Type: rules.ParamString, Required: true},
		},
		Rules: []rules.Rule{
			{
				Kind:       rules.RuleError,
				Conditions: []rules.Condition{cond(rules.FnStringEquals, rules.Ref("Region"), rules.Str("forbidden"))},
				Error:      rules.NewTemplate("region {Region} is not supported"),
			},
			{
				Kind:     rules.RuleEndpoint,
				Endpoint: rules.Endpoint{URL: rules.Str("https://service.{Region}.amazonaws.com")},
			},
		},
	}

	ev := NewEvaluator(nil)

	_, err := ev.Resolve(rs, map[string]funcs.Value{"Region": funcs.String("forbidden")})
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("Resolve() error = %v, want *RuleError", err)
	}
	if ruleErr.Message != "region forbidden is not supported" {
		t.Errorf("Message = %q, want expanded template", ruleErr.Message)
	}
}

func TestResolve_NoMatchingRule(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "UseFIPS", Type: rules.ParamBoolean, Default: boolLit(false)},
		},
		Rules: []rules.Rule{
			{
				Kind:       rules.RuleEndpoint,
				Conditions: []rules.Condition{cond(rules.FnBooleanEquals, rules.Ref("UseFIPS"), rules.Bool(true))},
				Endpoint:   rules.Endpoint{URL: rules.Str("https://fips.example.com")},
			},
		},
	}

	ev := NewEvaluator(nil)
	_, err := ev.Resolve(rs, nil)
	if !errors.Is(err, types.ErrNoMatchingRule) {
		t.Errorf("Resolve() error = %v, want ErrNoMatchingRule", err)
	}
}

func TestResolve_ConditionBindingScope(t *testing.T) {
	// A binding made inside one rule's conditions must not leak to siblings.
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Bucket", Type: rules.ParamString, Required: true},
		},
		Rules: []rules.Rule{
			{
				Kind: rules.RuleEndpoint,
				Conditions: []rules.Condition{
					assign("part", rules.FnSplit, rules.Ref("Bucket"), rules.Str("--"), rules.Int(0)),
					cond(rules.FnStringEquals, rules.Call(rules.FnGetAttr, rules.Ref("part"), rules.Str("[0]")), rules.Str("never")),
				},
				Endpoint: rules.Endpoint{URL: rules.Str("https://unreachable.example.com")},
			},
			{
				Kind:       rules.RuleEndpoint,
				Conditions: []rules.Condition{cond(rules.FnIsSet, rules.Ref("part"))},
				Endpoint:   rules.Endpoint{URL: rules.Str("https://leaked.example.com")},
			},
			{
				Kind:     rules.RuleEndpoint,
				Endpoint: rules.Endpoint{URL: rules.Str("https://clean.example.com")},
			},
		},
	}

	ev := NewEvaluator(nil)
	resolved, err := ev.Resolve(rs, map[string]funcs.Value{"Bucket": funcs.String("a--b")})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}
	if resolved.URL != "https://clean.example.com" {
		t.Errorf("URL = %q, want the clean endpoint", resolved.URL)
	}
}

func TestResolve_Builtins(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Region", Type: rules.ParamString, Required: true},
		},
		Rules: []rules.Rule{
			{
				Kind: rules.RuleEndpoint,
				Conditions: []rules.Condition{
					assign("partitionResult", "aws.partition", rules.Ref("Region")),
				},
				Endpoint: rules.Endpoint{URL: rules.Str("https://service.{Region}.{partitionResult#dnsSuffix}")},
			},
		},
	}

	ev := NewEvaluator(nil)

	tests := []struct {
		name     string
		region   string
		expected string
	}{
		{name: "aws partition", region: "us-east-1", expected: "https://service.us-east-1.amazonaws.com"},
		{name: "cn partition", region: "cn-north-1", expected: "https://service.cn-north-1.amazonaws.com.cn"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := ev.Resolve(rs, map[string]funcs.Value{"Region": funcs.String(tc.region)})
			if err != nil {
				t.Fatalf("Resolve() error = %v, want nil", err)
			}
			if resolved.URL != tc.expected {
				t.Errorf("URL = %q, want %q", resolved.URL, tc.expected)
			}
		})
	}
}

func TestResolve_HeadersAndProperties(t *testing.T) {
	rs := rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Region", Type: rules.ParamString, Required: true},
		},
		Rules: []rules.Rule{
			{
				Kind: rules.RuleEndpoint,
				Endpoint: rules.Endpoint{
					URL: rules.Str("https://service.{Region}.amazonaws.com"),
					Headers: []rules.Header{
						{Name: "x-amz-region-set", Values: []rules.Expression{rules.Str("{Region}")}},
					},
					Properties: []rules.Field{
						{Name: "authSchemes", Value: rules.Literal{Kind: rules.LitTuple, Tuple: []rules.Literal{
							{Kind: rules.LitRecord, Record: []rules.Field{
								{Name: "name", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate("sigv4")}},
								{Name: "signingRegion", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate("{Region}")}},
							}},
						}}},
					},
				},
			},
		},
	}

	ev := NewEvaluator(nil)
	resolved, err := ev.Resolve(rs, map[string]funcs.Value{"Region": funcs.String("eu-west-1")})
	if err != nil {
		t.Fatalf("Resolve() error = %v, want nil", err)
	}

	wantHeaders := map[string][]string{"x-amz-region-set": {"eu-west-1"}}
	if !reflect.DeepEqual(resolved.Headers, wantHeaders) {
		t.Errorf("Headers = %v, want %v", resolved.Headers, wantHeaders)
	}

	wantProps := map[string]any{
		"authSchemes": []any{
			map[string]any{"name": "sigv4", "signingRegion": "eu-west-1"},
		},
	}
	if !reflect.DeepEqual(resolved.Properties, wantProps) {
		t.Errorf("Properties = %v, want %v", resolved.Properties, wantProps)
	}
}

// s3expressRuleSet builds a rule set in the shape service teams author by
// hand: one endpoint rule per FIPS/dualstack permutation, duplicated across
// session-auth-on and session-auth-off subtrees.
func s3expressRuleSet() rules.RuleSet {
	endpoint := func(conds []rules.Condition, url, authName string) rules.Rule {
		return rules.Rule{
			Kind:       rules.RuleEndpoint,
			Conditions: conds,
			Endpoint: rules.Endpoint{
				URL: rules.Str(url),
				Properties: []rules.Field{
					{Name: "backend", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate("S3Express")}},
					{Name: "authSchemes", Value: rules.Literal{Kind: rules.LitTuple, Tuple: []rules.Literal{
						{Kind: rules.LitRecord, Record: []rules.Field{
							{Name: "name", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate(authName)}},
							{Name: "signingName", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate("s3express")}},
							{Name: "signingRegion", Value: rules.Literal{Kind: rules.LitString, Str: rules.NewTemplate("us-west-2")}},
						}},
					}}},
				},
			},
		}
	}

	variants := func(authName string) []rules.Rule {
		az := "{s3expressAvailabilityZoneId}"
		return []rules.Rule{
			endpoint(
				[]rules.Condition{
					cond(rules.FnBooleanEquals, rules.Ref("UseFIPS"), rules.Bool(true)),
					cond(rules.FnBooleanEquals, rules.Ref("UseDualStack"), rules.Bool(true)),
				},
				"https://{Bucket}.s3express-fips-"+az+".dualstack.us-west-2.amazonaws.com", authName),
			endpoint(
				[]rules.Condition{cond(rules.FnBooleanEquals, rules.Ref("UseFIPS"), rules.Bool(true))},
				"https://{Bucket}.s3express-fips-"+az+".us-west-2.amazonaws.com", authName),
			endpoint(
				[]rules.Condition{cond(rules.FnBooleanEquals, rules.Ref("UseDualStack"), rules.Bool(true))},
				"https://{Bucket}.s3express-"+az+".dualstack.us-west-2.amazonaws.com", authName),
			endpoint(nil, "https://{Bucket}.s3express-"+az+".us-west-2.amazonaws.com", authName),
		}
	}

	return rules.RuleSet{
		Version: "1.0",
		Parameters: []rules.Parameter{
			{Name: "Bucket", Type: rules.ParamString, Required: true},
			{Name: "UseFIPS", Type: rules.ParamBoolean, Default: boolLit(false)},
			{Name: "UseDualStack", Type: rules.ParamBoolean, Default: boolLit(false)},
			{Name: "DisableS3ExpressSessionAuth", Type: rules.ParamBoolean},
		},
		Rules: []rules.Rule{
			{
				Kind: rules.RuleTree,
				Conditions: []rules.Condition{
					assign("s3expressAvailabilityZoneId", rules.FnSubstring,
						rules.Ref("Bucket"), rules.Int(10), rules.Int(18), rules.Bool(false)),
				},
				Rules: []rules.Rule{
					{
						Kind: rules.RuleTree,
						Conditions: []rules.Condition{
							cond(rules.FnIsSet, rules.Ref("DisableS3ExpressSessionAuth")),
							cond(rules.FnBooleanEquals, rules.Ref("DisableS3ExpressSessionAuth"), rules.Bool(true)),
						},
						Rules: variants("sigv4"),
					},
					{
						Kind:  rules.RuleTree,
						Rules: variants("sigv4-s3express"),
					},
				},
			},
			{
				Kind:  rules.RuleError,
				Error: rules.NewTemplate("Invalid S3Express bucket name: {Bucket}"),
			},
		},
	}
}

// Canonicalization must never change which endpoint resolves or what it
// looks like; only the document representation may differ.
func TestResolve_CanonicalizationEquivalence(t *testing.T) {
	original := s3expressRuleSet()
	canonical, stats := rules.Canonicalize(original)
	if stats.Rewritten == 0 {
		t.Fatal("Canonicalize() rewrote nothing, test rule set is broken")
	}

	ev := NewEvaluator(nil)
	bucket := "mybucket--usw2-az1--x-s3"

	for _, fips := range []bool{false, true} {
		for _, dualStack := range []bool{false, true} {
			for _, disableAuth := range []*bool{nil, ptr(false), ptr(true)} {
				params := map[string]funcs.Value{
					"Bucket":       funcs.String(bucket),
					"UseFIPS":      funcs.Boolean(fips),
					"UseDualStack": funcs.Boolean(dualStack),
				}
				if disableAuth != nil {
					params["DisableS3ExpressSessionAuth"] = funcs.Boolean(*disableAuth)
				}

				want, errWant := ev.Resolve(original, params)
				got, errGot := ev.Resolve(canonical, params)

				if (errWant == nil) != (errGot == nil) {
					t.Fatalf("params %v: errors diverge: original %v, canonical %v", params, errWant, errGot)
				}
				if errWant != nil {
					continue
				}
				if got.URL != want.URL {
					t.Errorf("params %v: URL = %q, want %q", params, got.URL, want.URL)
				}
				if !reflect.DeepEqual(got.Properties, want.Properties) {
					t.Errorf("params %v: Properties = %v, want %v", params, got.Properties, want.Properties)
				}
				if !reflect.DeepEqual(got.Headers, want.Headers) {
					t.Errorf("params %v: Headers = %v, want %v", params, got.Headers, want.Headers)
				}
			}
		}
	}
}

// Resolving twice-canonicalized documents matches once-canonicalized ones.
func TestResolve_CanonicalizationIdempotent(t *testing.T) {
	once, _ := rules.Canonicalize(s3expressRuleSet())
	twice, stats := rules.Canonicalize(once)
	if stats.Rewritten != 0 {
		t.Fatalf("second Canonicalize() rewrote %d endpoints, want 0", stats.Rewritten)
	}

	ev := NewEvaluator(nil)
	params := map[string]funcs.Value{
		"Bucket":  funcs.String("mybucket--usw2-az1--x-s3"),
		"UseFIPS": funcs.Boolean(true),
	}

	want, err := ev.Resolve(once, params)
	if err != nil {
		t.Fatalf("Resolve(once) error = %v, want nil", err)
	}
	got, err := ev.Resolve(twice, params)
	if err != nil {
		t.Fatalf("Resolve(twice) error = %v, want nil", err)
	}
	if got.URL != want.URL {
		t.Errorf("URL = %q, want %q", got.URL, want.URL)
	}
}

func ptr(b bool) *bool {
	return &b
}
