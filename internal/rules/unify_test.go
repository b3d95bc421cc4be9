package rules

import (
	"reflect"
	"testing"
)

func isSetRegionCond() Condition {
	return Condition{Fn: FunctionCall{ID: FnIsSet, Args: []Expression{Ref("Region")}}}
}

func bucketArnCond() Condition {
	return Condition{
		Fn:     FunctionCall{ID: "aws.parseArn", Args: []Expression{Ref("Bucket")}},
		Assign: "bucketArn",
	}
}

func bucketArnRegionExpr() Expression {
	return Call(FnGetAttr, Ref("bucketArn"), Str("region"))
}

func TestUnifyRegions_StdRegionBinding(t *testing.T) {
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind:       RuleTree,
			Conditions: []Condition{isSetRegionCond()},
			Rules: []Rule{
				s3endpoint("https://service.{Region}.amazonaws.com", nil, nil),
			},
		}},
	}

	out, n := UnifyRegions(rs)
	if n == 0 {
		t.Fatal("rewritten = 0, want region reference unified")
	}

	conds := out.Rules[0].Conditions
	if len(conds) != 2 {
		t.Fatalf("len(Conditions) = %d, want isSet + injected binding", len(conds))
	}
	std := conds[1]
	if std.Assign != "_effective_std_region" || std.Fn.ID != FnIte {
		t.Fatalf("Conditions[1] = %+v, want _effective_std_region ite binding", std)
	}
	isGlobal := std.Fn.Args[0]
	if isGlobal.Kind != ExprFunction || isGlobal.Fn.ID != FnStringEquals {
		t.Fatalf("ite condition = %+v, want stringEquals call", isGlobal)
	}
	if isGlobal.Fn.Args[0].Ref != "Region" {
		t.Errorf("stringEquals target = %+v, want ref Region", isGlobal.Fn.Args[0])
	}
	if s, _ := isGlobal.Fn.Args[1].Lit.StaticString(); s != "aws-global" {
		t.Errorf("stringEquals value = %q, want aws-global", s)
	}
	if s, _ := std.Fn.Args[1].Lit.StaticString(); s != "us-east-1" {
		t.Errorf("ite true branch = %q, want us-east-1", s)
	}
	if std.Fn.Args[2].Ref != "Region" {
		t.Errorf("ite false branch = %+v, want ref Region", std.Fn.Args[2])
	}

	tmpl, _ := out.Rules[0].Rules[0].Endpoint.URL.StringLiteral()
	want := "https://service.{_effective_std_region}.amazonaws.com"
	if tmpl.Source() != want {
		t.Errorf("URL = %q, want %q", tmpl.Source(), want)
	}
}

func TestUnifyRegions_GlobalLiteralURL(t *testing.T) {
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind:       RuleTree,
			Conditions: []Condition{isSetRegionCond()},
			Rules: []Rule{
				s3endpoint("https://service.us-east-1.amazonaws.com", nil, nil),
			},
		}},
	}

	out, _ := UnifyRegions(rs)
	tmpl, _ := out.Rules[0].Rules[0].Endpoint.URL.StringLiteral()
	want := "https://service.{_effective_std_region}.amazonaws.com"
	if tmpl.Source() != want {
		t.Errorf("URL = %q, want %q", tmpl.Source(), want)
	}
}

func TestUnifyRegions_ArnScope(t *testing.T) {
	partitionCond := Condition{
		Fn:     FunctionCall{ID: "aws.partition", Args: []Expression{bucketArnRegionExpr()}},
		Assign: "partitionResult",
	}
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind:       RuleTree,
			Conditions: []Condition{isSetRegionCond(), bucketArnCond(), partitionCond},
			Rules: []Rule{
				s3endpoint("https://bucket.s3.{bucketArn#region}.amazonaws.com", nil, nil),
			},
		}},
	}

	out, _ := UnifyRegions(rs)
	conds := out.Rules[0].Conditions
	if len(conds) != 5 {
		t.Fatalf("len(Conditions) = %d, want two injected bindings", len(conds))
	}

	arn := conds[3]
	if arn.Assign != "_effective_arn_region" || arn.Fn.ID != FnIte {
		t.Fatalf("Conditions[3] = %+v, want _effective_arn_region ite binding", arn)
	}
	useArn := arn.Fn.Args[0]
	if useArn.Kind != ExprFunction || useArn.Fn.ID != FnCoalesce {
		t.Fatalf("ite condition = %+v, want coalesce call", useArn)
	}
	if useArn.Fn.Args[0].Ref != "UseArnRegion" {
		t.Errorf("coalesce target = %+v, want ref UseArnRegion", useArn.Fn.Args[0])
	}
	if arnRegion := arn.Fn.Args[1]; arnRegion.Kind != ExprFunction || arnRegion.Fn.ID != FnGetAttr {
		t.Errorf("ite true branch = %+v, want bucketArn#region getAttr", arnRegion)
	}
	if arn.Fn.Args[2].Ref != "Region" {
		t.Errorf("ite false branch = %+v, want ref Region", arn.Fn.Args[2])
	}

	// The partition call now goes through the unified binding.
	rewritten := conds[4]
	if rewritten.Fn.ID != "aws.partition" || rewritten.Assign != "partitionResult" {
		t.Fatalf("Conditions[4] = %+v, want the partition condition", rewritten)
	}
	if rewritten.Fn.Args[0].Kind != ExprReference || rewritten.Fn.Args[0].Ref != "_effective_arn_region" {
		t.Errorf("partition argument = %+v, want ref _effective_arn_region", rewritten.Fn.Args[0])
	}

	tmpl, _ := out.Rules[0].Rules[0].Endpoint.URL.StringLiteral()
	want := "https://bucket.s3.{_effective_arn_region}.amazonaws.com"
	if tmpl.Source() != want {
		t.Errorf("URL = %q, want %q", tmpl.Source(), want)
	}
}

func TestUnifyRegions_ArnScopeDoesNotLeakToSiblings(t *testing.T) {
	partitionCond := Condition{
		Fn:     FunctionCall{ID: "aws.partition", Args: []Expression{bucketArnRegionExpr()}},
		Assign: "partitionResult",
	}
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{
			{
				Kind:       RuleTree,
				Conditions: []Condition{bucketArnCond()},
				Rules: []Rule{
					{Kind: RuleEndpoint, Endpoint: Endpoint{URL: Str("https://example.com")}},
				},
			},
			{
				Kind:       RuleTree,
				Conditions: []Condition{partitionCond},
				Rules: []Rule{
					s3endpoint("https://bucket.s3.{bucketArn#region}.amazonaws.com", nil, nil),
				},
			},
		},
	}

	out, _ := UnifyRegions(rs)

	// The sibling tree never bound bucketArn, so nothing in it unifies.
	sibling := out.Rules[1]
	if !reflect.DeepEqual(sibling.Conditions[0], partitionCond) {
		t.Errorf("sibling condition rewritten outside ARN scope: %+v", sibling.Conditions[0])
	}
	tmpl, _ := sibling.Rules[0].Endpoint.URL.StringLiteral()
	if tmpl.Source() != "https://bucket.s3.{bucketArn#region}.amazonaws.com" {
		t.Errorf("sibling URL = %q, want untouched", tmpl.Source())
	}
}

func TestUnifyRegions_SigningRegion(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{
			name:     "region placeholder",
			value:    "{Region}",
			expected: "{_effective_std_region}",
		},
		{
			name:     "static known region",
			value:    "us-east-1",
			expected: "{_effective_std_region}",
		},
		{
			name:     "static aws-global",
			value:    "aws-global",
			expected: "{_effective_std_region}",
		},
		{
			name:     "static unknown value stays",
			value:    "not-a-region",
			expected: "not-a-region",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			props := []Field{
				{Name: "authSchemes", Value: Literal{Kind: LitTuple, Tuple: []Literal{
					{Kind: LitRecord, Record: []Field{
						{Name: "name", Value: Literal{Kind: LitString, Str: NewTemplate("sigv4")}},
						{Name: "signingRegion", Value: Literal{Kind: LitString, Str: NewTemplate(tc.value)}},
					}},
				}}},
			}
			rs := RuleSet{
				Version: "1.0",
				Rules: []Rule{{
					Kind:       RuleTree,
					Conditions: []Condition{isSetRegionCond()},
					Rules: []Rule{
						s3endpoint("https://example.com", nil, props),
					},
				}},
			}

			out, _ := UnifyRegions(rs)
			schemes, _ := out.Rules[0].Rules[0].Endpoint.Property("authSchemes")
			signing, _ := getField(schemes.Tuple[0].Record, "signingRegion")
			if signing.Str.Source() != tc.expected {
				t.Errorf("signingRegion = %q, want %q", signing.Str.Source(), tc.expected)
			}
		})
	}
}

func TestUnifyRegions_ErrorMessageUntouched(t *testing.T) {
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind:       RuleError,
			Conditions: []Condition{isSetRegionCond()},
			Error:      NewTemplate("region {Region} is not supported"),
		}},
	}

	out, _ := UnifyRegions(rs)
	if out.Rules[0].Error.Source() != "region {Region} is not supported" {
		t.Errorf("error message = %q, want untouched", out.Rules[0].Error.Source())
	}
	// The binding is still injected for the conditions themselves.
	conds := out.Rules[0].Conditions
	if len(conds) != 2 || conds[1].Assign != "_effective_std_region" {
		t.Errorf("Conditions = %+v, want injected binding after isSet", conds)
	}
}

func TestUnifyRegions_NoOpSharesInput(t *testing.T) {
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind: RuleTree,
			Rules: []Rule{
				s3endpoint("https://static.example.com", nil, nil),
			},
		}},
	}

	out, n := UnifyRegions(rs)
	if n != 0 {
		t.Fatalf("rewritten = %d, want 0", n)
	}
	if &out.Rules[0] != &rs.Rules[0] {
		t.Error("untouched rule set was copied instead of shared")
	}
}

func TestUnifyRegions_Idempotent(t *testing.T) {
	partitionCond := Condition{
		Fn:     FunctionCall{ID: "aws.partition", Args: []Expression{bucketArnRegionExpr()}},
		Assign: "partitionResult",
	}
	rs := RuleSet{
		Version: "1.0",
		Rules: []Rule{{
			Kind:       RuleTree,
			Conditions: []Condition{isSetRegionCond(), bucketArnCond(), partitionCond},
			Rules: []Rule{
				s3endpoint("https://bucket.s3.{bucketArn#region}.amazonaws.com", nil,
					authSchemeProps("sigv4")),
				s3endpoint("https://service.us-east-1.amazonaws.com", nil, nil),
			},
		}},
	}

	once, first := UnifyRegions(rs)
	if first == 0 {
		t.Fatal("first pass rewrote nothing")
	}

	twice, second := UnifyRegions(once)
	if second != 0 {
		t.Errorf("second pass rewrote %d references, want 0", second)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Error("second unification changed the document")
	}
}
