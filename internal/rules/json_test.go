package rules

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/wayfinderhq/wayfinder/internal/types"
)

const sampleDocument = `{
	"version": "1.0",
	"parameters": {
		"Region": {
			"type": "String",
			"required": true,
			"builtIn": "AWS::Region",
			"documentation": "The AWS region."
		},
		"UseFIPS": {
			"type": "Boolean",
			"required": true,
			"default": false
		},
		"Bucket": {
			"type": "String"
		}
	},
	"rules": [
		{
			"type": "tree",
			"conditions": [
				{"fn": "isSet", "argv": [{"ref": "Bucket"}]},
				{
					"fn": "substring",
					"argv": [{"ref": "Bucket"}, 6, 14, true],
					"assign": "s3expressAvailabilityZoneId"
				}
			],
			"rules": [
				{
					"type": "endpoint",
					"conditions": [
						{"fn": "booleanEquals", "argv": [{"ref": "UseFIPS"}, true]}
					],
					"endpoint": {
						"url": "https://{Bucket}.s3express-fips-usw2-az1.{Region}.amazonaws.com",
						"properties": {
							"backend": "S3Express",
							"authSchemes": [
								{
									"name": "sigv4-s3express",
									"signingName": "s3express",
									"signingRegion": "{Region}"
								}
							]
						},
						"headers": {
							"x-amz-region-set": ["{Region}"]
						}
					}
				},
				{
					"type": "endpoint",
					"conditions": [],
					"endpoint": {
						"url": "https://{Bucket}.s3express-usw2-az1.{Region}.amazonaws.com"
					}
				}
			]
		},
		{
			"type": "error",
			"conditions": [],
			"error": "Invalid bucket: {Bucket}"
		}
	]
}`

func TestDecodeRuleSet(t *testing.T) {
	rs, err := DecodeRuleSet([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("DecodeRuleSet() error = %v, want nil", err)
	}

	if rs.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", rs.Version)
	}

	if len(rs.Parameters) != 3 {
		t.Fatalf("len(Parameters) = %d, want 3", len(rs.Parameters))
	}
	region := rs.Parameters[0]
	if region.Name != "Region" || region.Type != ParamString || !region.Required {
		t.Errorf("Parameters[0] = %+v, want required String Region", region)
	}
	if region.BuiltIn != "AWS::Region" {
		t.Errorf("BuiltIn = %q, want AWS::Region", region.BuiltIn)
	}
	fips := rs.Parameters[1]
	if fips.Type != ParamBoolean || fips.Default == nil || fips.Default.Kind != LitBool || fips.Default.Bool {
		t.Errorf("Parameters[1] = %+v, want Boolean with default false", fips)
	}

	if len(rs.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(rs.Rules))
	}
	tree := rs.Rules[0]
	if tree.Kind != RuleTree || len(tree.Rules) != 2 {
		t.Fatalf("Rules[0] = kind %d with %d children, want tree with 2", tree.Kind, len(tree.Rules))
	}
	if len(tree.Conditions) != 2 {
		t.Fatalf("len(Conditions) = %d, want 2", len(tree.Conditions))
	}
	azCond := tree.Conditions[1]
	if azCond.Fn.ID != FnSubstring || azCond.Assign != "s3expressAvailabilityZoneId" {
		t.Errorf("Conditions[1] = %+v, want substring assigned to s3expressAvailabilityZoneId", azCond)
	}
	if len(azCond.Fn.Args) != 4 {
		t.Fatalf("len(Args) = %d, want 4", len(azCond.Fn.Args))
	}
	if azCond.Fn.Args[0].Kind != ExprReference || azCond.Fn.Args[0].Ref != "Bucket" {
		t.Errorf("Args[0] = %+v, want ref Bucket", azCond.Fn.Args[0])
	}
	if azCond.Fn.Args[1].Lit.Int != 6 || azCond.Fn.Args[2].Lit.Int != 14 {
		t.Errorf("substring offsets = %d, %d, want 6, 14", azCond.Fn.Args[1].Lit.Int, azCond.Fn.Args[2].Lit.Int)
	}

	endpoint := tree.Rules[0]
	if endpoint.Kind != RuleEndpoint {
		t.Fatalf("Rules[0].Rules[0] kind = %d, want endpoint", endpoint.Kind)
	}
	tmpl, ok := endpoint.Endpoint.URL.StringLiteral()
	if !ok || tmpl.Source() != "https://{Bucket}.s3express-fips-usw2-az1.{Region}.amazonaws.com" {
		t.Errorf("URL = %v, want the fips template", endpoint.Endpoint.URL)
	}

	// Property and record order must survive decoding.
	if endpoint.Endpoint.Properties[0].Name != "backend" || endpoint.Endpoint.Properties[1].Name != "authSchemes" {
		t.Errorf("property order = %v, want backend then authSchemes", endpoint.Endpoint.Properties)
	}
	scheme := endpoint.Endpoint.Properties[1].Value.Tuple[0]
	wantFields := []string{"name", "signingName", "signingRegion"}
	for i, f := range scheme.Record {
		if f.Name != wantFields[i] {
			t.Errorf("scheme field %d = %q, want %q", i, f.Name, wantFields[i])
		}
	}

	if len(endpoint.Endpoint.Headers) != 1 || endpoint.Endpoint.Headers[0].Name != "x-amz-region-set" {
		t.Errorf("Headers = %v, want x-amz-region-set", endpoint.Endpoint.Headers)
	}

	errRule := rs.Rules[1]
	if errRule.Kind != RuleError || errRule.Error.Source() != "Invalid bucket: {Bucket}" {
		t.Errorf("Rules[1] = %+v, want error rule", errRule)
	}
}

func TestDecodeRuleSet_KindInference(t *testing.T) {
	// Documents may omit "type"; the body key decides the rule kind.
	doc := `{
		"version": "1.0",
		"parameters": {},
		"rules": [
			{"conditions": [], "rules": [
				{"conditions": [], "endpoint": {"url": "https://example.com"}}
			]},
			{"conditions": [], "error": "nope"}
		]
	}`
	rs, err := DecodeRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeRuleSet() error = %v, want nil", err)
	}
	if rs.Rules[0].Kind != RuleTree {
		t.Errorf("Rules[0].Kind = %d, want tree", rs.Rules[0].Kind)
	}
	if rs.Rules[0].Rules[0].Kind != RuleEndpoint {
		t.Errorf("nested kind = %d, want endpoint", rs.Rules[0].Rules[0].Kind)
	}
	if rs.Rules[1].Kind != RuleError {
		t.Errorf("Rules[1].Kind = %d, want error", rs.Rules[1].Kind)
	}
}

func TestDecodeRuleSet_Malformed(t *testing.T) {
	deep := strings.Repeat(`{"type":"tree","conditions":[],"rules":[`, types.MaxRuleDepth+2) +
		`{"conditions":[],"error":"bottom"}` +
		strings.Repeat(`]}`, types.MaxRuleDepth+2)

	tests := []struct {
		name string
		doc  string
	}{
		{name: "not json", doc: `{{{`},
		{name: "not an object", doc: `[1,2,3]`},
		{name: "missing rules", doc: `{"version":"1.0","parameters":{}}`},
		{name: "unknown parameter type", doc: `{"version":"1.0","parameters":{"X":{"type":"Float"}},"rules":[]}`},
		{name: "rule without body", doc: `{"version":"1.0","parameters":{},"rules":[{"conditions":[]}]}`},
		{name: "null literal", doc: `{"version":"1.0","parameters":{},"rules":[{"conditions":[{"fn":"isSet","argv":[null]}],"error":"x"}]}`},
		{name: "non-integer number", doc: `{"version":"1.0","parameters":{},"rules":[{"conditions":[{"fn":"substring","argv":[{"ref":"B"},1.5,2,false]}],"error":"x"}]}`},
		{name: "nesting too deep", doc: `{"version":"1.0","parameters":{},"rules":[` + deep + `]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRuleSet([]byte(tc.doc))
			if !errors.Is(err, types.ErrMalformedRuleSet) {
				t.Errorf("DecodeRuleSet() error = %v, want ErrMalformedRuleSet", err)
			}
		})
	}
}

func TestDecodeRuleSet_Oversize(t *testing.T) {
	doc := make([]byte, types.MaxDocumentSize+1)
	_, err := DecodeRuleSet(doc)
	if !errors.Is(err, types.ErrMalformedRuleSet) {
		t.Errorf("DecodeRuleSet() error = %v, want ErrMalformedRuleSet", err)
	}
}

func TestEncodeRuleSet_RoundTrip(t *testing.T) {
	first, err := DecodeRuleSet([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("DecodeRuleSet() error = %v, want nil", err)
	}

	encoded, err := EncodeRuleSet(first)
	if err != nil {
		t.Fatalf("EncodeRuleSet() error = %v, want nil", err)
	}

	second, err := DecodeRuleSet(encoded)
	if err != nil {
		t.Fatalf("DecodeRuleSet(encoded) error = %v, want nil", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip diverged:\nfirst:  %+v\nsecond: %+v", first, second)
	}

	// Encoding must be stable: a second pass yields identical bytes.
	again, err := EncodeRuleSet(second)
	if err != nil {
		t.Fatalf("EncodeRuleSet() error = %v, want nil", err)
	}
	if string(encoded) != string(again) {
		t.Error("encoding is not byte-stable across round trips")
	}
}

func TestEncodeRuleSet_PreservesRecordOrder(t *testing.T) {
	doc := `{
		"version": "1.0",
		"parameters": {},
		"rules": [
			{"conditions": [], "endpoint": {
				"url": "https://example.com",
				"properties": {"zebra": "1", "alpha": "2", "middle": "3"}
			}}
		]
	}`
	rs, err := DecodeRuleSet([]byte(doc))
	if err != nil {
		t.Fatalf("DecodeRuleSet() error = %v, want nil", err)
	}

	encoded, err := EncodeRuleSet(rs)
	if err != nil {
		t.Fatalf("EncodeRuleSet() error = %v, want nil", err)
	}

	zebra := strings.Index(string(encoded), `"zebra"`)
	alpha := strings.Index(string(encoded), `"alpha"`)
	middle := strings.Index(string(encoded), `"middle"`)
	if zebra < 0 || alpha < 0 || middle < 0 || !(zebra < alpha && alpha < middle) {
		t.Errorf("property order not preserved in %s", encoded)
	}
}
