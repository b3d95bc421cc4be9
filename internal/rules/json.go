package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wayfinderhq/wayfinder/internal/types"
)

/*
 * Rule-set JSON codec.
 *
 * Decodes and encodes the rule-set document format:
 *
 *   {
 *     "version": "1.0",
 *     "parameters": {"Region": {"type": "String", "required": true}},
 *     "rules": [
 *       {"type": "tree", "conditions": [...], "rules": [...]},
 *       {"type": "endpoint", "conditions": [...],
 *        "endpoint": {"url": "...", "properties": {...}, "headers": {...}}},
 *       {"type": "error", "conditions": [...], "error": "..."}
 *     ]
 *   }
 *
 * Record literals and endpoint properties are order-sensitive (authSchemes
 * entries keep their field order through canonicalization), so objects are
 * decoded with a token-level parser that preserves member order instead of
 * Go maps. Encoding mirrors the parser and writes members back in the same
 * order, making decode/encode round trips stable.
 */

// jsonKind discriminates parsed JSON values.
type jsonKind int

const (
	jsonObject jsonKind = iota
	jsonArray
	jsonString
	jsonNumber
	jsonBool
	jsonNull
)

// jsonValue is an order-preserving parsed JSON value.
type jsonValue struct {
	kind jsonKind
	obj  []jsonMember
	arr  []jsonValue
	str  string
	num  json.Number
	b    bool
}

type jsonMember struct {
	key string
	val jsonValue
}

func (v jsonValue) member(key string) (jsonValue, bool) {
	for _, m := range v.obj {
		if m.key == key {
			return m.val, true
		}
	}
	return jsonValue{}, false
}

// DecodeRuleSet parses a rule-set document.
// All decode failures wrap types.ErrMalformedRuleSet.
func DecodeRuleSet(data []byte) (RuleSet, error) {
	if len(data) > types.MaxDocumentSize {
		return RuleSet{}, fmt.Errorf("%w: document exceeds %d bytes", types.ErrMalformedRuleSet, types.MaxDocumentSize)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	root, err := parseValue(dec)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", types.ErrMalformedRuleSet, err)
	}
	rs, err := decodeRuleSet(root)
	if err != nil {
		return RuleSet{}, fmt.Errorf("%w: %v", types.ErrMalformedRuleSet, err)
	}
	return rs, nil
}

// parseValue reads one JSON value from dec, preserving object member order.
func parseValue(dec *json.Decoder) (jsonValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return jsonValue{}, err
	}
	return parseFromToken(dec, tok)
}

func parseFromToken(dec *json.Decoder, tok json.Token) (jsonValue, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			v := jsonValue{kind: jsonObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return jsonValue{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return jsonValue{}, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return jsonValue{}, err
				}
				v.obj = append(v.obj, jsonMember{key: key, val: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return jsonValue{}, err
			}
			return v, nil
		case '[':
			v := jsonValue{kind: jsonArray}
			for dec.More() {
				elem, err := parseValue(dec)
				if err != nil {
					return jsonValue{}, err
				}
				v.arr = append(v.arr, elem)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return jsonValue{}, err
			}
			return v, nil
		default:
			return jsonValue{}, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return jsonValue{kind: jsonString, str: t}, nil
	case json.Number:
		return jsonValue{kind: jsonNumber, num: t}, nil
	case bool:
		return jsonValue{kind: jsonBool, b: t}, nil
	case nil:
		return jsonValue{kind: jsonNull}, nil
	default:
		return jsonValue{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeRuleSet(v jsonValue) (RuleSet, error) {
	if v.kind != jsonObject {
		return RuleSet{}, fmt.Errorf("rule set document is not an object")
	}

	rs := RuleSet{}
	if ver, ok := v.member("version"); ok && ver.kind == jsonString {
		rs.Version = ver.str
	}

	if params, ok := v.member("parameters"); ok {
		if params.kind != jsonObject {
			return RuleSet{}, fmt.Errorf("parameters is not an object")
		}
		for _, m := range params.obj {
			p, err := decodeParameter(m.key, m.val)
			if err != nil {
				return RuleSet{}, err
			}
			rs.Parameters = append(rs.Parameters, p)
		}
	}

	rulesVal, ok := v.member("rules")
	if !ok || rulesVal.kind != jsonArray {
		return RuleSet{}, fmt.Errorf("rules is missing or not an array")
	}
	for i, rv := range rulesVal.arr {
		r, err := decodeRule(rv, 1)
		if err != nil {
			return RuleSet{}, fmt.Errorf("rules[%d]: %v", i, err)
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

func decodeParameter(name string, v jsonValue) (Parameter, error) {
	if v.kind != jsonObject {
		return Parameter{}, fmt.Errorf("parameter %s is not an object", name)
	}
	p := Parameter{Name: name}

	typVal, ok := v.member("type")
	if !ok || typVal.kind != jsonString {
		return Parameter{}, fmt.Errorf("parameter %s has no type", name)
	}
	switch strings.ToLower(typVal.str) {
	case "string":
		p.Type = ParamString
	case "boolean":
		p.Type = ParamBoolean
	case "stringarray":
		p.Type = ParamStringArray
	default:
		return Parameter{}, fmt.Errorf("parameter %s has unknown type %q", name, typVal.str)
	}

	if req, ok := v.member("required"); ok && req.kind == jsonBool {
		p.Required = req.b
	}
	if bi, ok := v.member("builtIn"); ok && bi.kind == jsonString {
		p.BuiltIn = bi.str
	}
	if doc, ok := v.member("documentation"); ok && doc.kind == jsonString {
		p.Documentation = doc.str
	}
	if def, ok := v.member("default"); ok {
		lit, err := decodeLiteral(def)
		if err != nil {
			return Parameter{}, fmt.Errorf("parameter %s default: %v", name, err)
		}
		p.Default = &lit
	}
	return p, nil
}

func decodeRule(v jsonValue, depth int) (Rule, error) {
	if depth > types.MaxRuleDepth {
		return Rule{}, types.ErrRuleTooDeep
	}
	if v.kind != jsonObject {
		return Rule{}, fmt.Errorf("rule is not an object")
	}

	r := Rule{}
	if doc, ok := v.member("documentation"); ok && doc.kind == jsonString {
		r.Documentation = doc.str
	}
	if conds, ok := v.member("conditions"); ok {
		if conds.kind != jsonArray {
			return Rule{}, fmt.Errorf("conditions is not an array")
		}
		for i, cv := range conds.arr {
			c, err := decodeCondition(cv)
			if err != nil {
				return Rule{}, fmt.Errorf("conditions[%d]: %v", i, err)
			}
			r.Conditions = append(r.Conditions, c)
		}
	}

	// "type" is authoritative when present; otherwise the rule kind is
	// inferred from which body key exists.
	kind := ""
	if tv, ok := v.member("type"); ok && tv.kind == jsonString {
		kind = tv.str
	}

	if nested, ok := v.member("rules"); ok && (kind == "" || kind == "tree") {
		if nested.kind != jsonArray {
			return Rule{}, fmt.Errorf("rules is not an array")
		}
		r.Kind = RuleTree
		for i, rv := range nested.arr {
			child, err := decodeRule(rv, depth+1)
			if err != nil {
				return Rule{}, fmt.Errorf("rules[%d]: %v", i, err)
			}
			r.Rules = append(r.Rules, child)
		}
		return r, nil
	}
	if ep, ok := v.member("endpoint"); ok && (kind == "" || kind == "endpoint") {
		r.Kind = RuleEndpoint
		endpoint, err := decodeEndpoint(ep)
		if err != nil {
			return Rule{}, err
		}
		r.Endpoint = endpoint
		return r, nil
	}
	if ev, ok := v.member("error"); ok && (kind == "" || kind == "error") {
		if ev.kind != jsonString {
			return Rule{}, fmt.Errorf("error is not a string")
		}
		r.Kind = RuleError
		r.Error = NewTemplate(ev.str)
		return r, nil
	}
	return Rule{}, fmt.Errorf("rule has no rules, endpoint, or error body (type=%q)", kind)
}

func decodeCondition(v jsonValue) (Condition, error) {
	fn, err := decodeFunctionCall(v)
	if err != nil {
		return Condition{}, err
	}
	c := Condition{Fn: *fn}
	if as, ok := v.member("assign"); ok {
		if as.kind != jsonString {
			return Condition{}, fmt.Errorf("assign is not a string")
		}
		c.Assign = as.str
	}
	return c, nil
}

func decodeFunctionCall(v jsonValue) (*FunctionCall, error) {
	if v.kind != jsonObject {
		return nil, fmt.Errorf("function call is not an object")
	}
	idVal, ok := v.member("fn")
	if !ok || idVal.kind != jsonString {
		return nil, fmt.Errorf("function call has no fn id")
	}
	fc := &FunctionCall{ID: idVal.str}
	if argv, ok := v.member("argv"); ok {
		if argv.kind != jsonArray {
			return nil, fmt.Errorf("argv is not an array")
		}
		for i, av := range argv.arr {
			arg, err := decodeExpression(av)
			if err != nil {
				return nil, fmt.Errorf("argv[%d]: %v", i, err)
			}
			fc.Args = append(fc.Args, arg)
		}
	}
	return fc, nil
}

// decodeExpression maps a JSON value to an expression: objects with "ref"
// are references, objects with "fn" are nested calls, everything else is a
// literal.
func decodeExpression(v jsonValue) (Expression, error) {
	if v.kind == jsonObject {
		if ref, ok := v.member("ref"); ok {
			if ref.kind != jsonString {
				return Expression{}, fmt.Errorf("ref is not a string")
			}
			return Ref(ref.str), nil
		}
		if _, ok := v.member("fn"); ok {
			fc, err := decodeFunctionCall(v)
			if err != nil {
				return Expression{}, err
			}
			return Expression{Kind: ExprFunction, Fn: fc}, nil
		}
	}
	lit, err := decodeLiteral(v)
	if err != nil {
		return Expression{}, err
	}
	return Expression{Kind: ExprLiteral, Lit: lit}, nil
}

func decodeLiteral(v jsonValue) (Literal, error) {
	switch v.kind {
	case jsonString:
		return Literal{Kind: LitString, Str: NewTemplate(v.str)}, nil
	case jsonBool:
		return Literal{Kind: LitBool, Bool: v.b}, nil
	case jsonNumber:
		i, err := v.num.Int64()
		if err != nil {
			return Literal{}, fmt.Errorf("non-integer number literal %s", v.num)
		}
		return Literal{Kind: LitInt, Int: i}, nil
	case jsonArray:
		lit := Literal{Kind: LitTuple}
		for i, ev := range v.arr {
			elem, err := decodeLiteral(ev)
			if err != nil {
				return Literal{}, fmt.Errorf("[%d]: %v", i, err)
			}
			lit.Tuple = append(lit.Tuple, elem)
		}
		return lit, nil
	case jsonObject:
		lit := Literal{Kind: LitRecord}
		for _, m := range v.obj {
			val, err := decodeLiteral(m.val)
			if err != nil {
				return Literal{}, fmt.Errorf("%s: %v", m.key, err)
			}
			lit.Record = append(lit.Record, Field{Name: m.key, Value: val})
		}
		return lit, nil
	default:
		return Literal{}, fmt.Errorf("null is not a valid literal")
	}
}

func decodeEndpoint(v jsonValue) (Endpoint, error) {
	if v.kind != jsonObject {
		return Endpoint{}, fmt.Errorf("endpoint is not an object")
	}
	urlVal, ok := v.member("url")
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint has no url")
	}
	url, err := decodeExpression(urlVal)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint url: %v", err)
	}
	ep := Endpoint{URL: url}

	if props, ok := v.member("properties"); ok {
		if props.kind != jsonObject {
			return Endpoint{}, fmt.Errorf("endpoint properties is not an object")
		}
		for _, m := range props.obj {
			lit, err := decodeLiteral(m.val)
			if err != nil {
				return Endpoint{}, fmt.Errorf("endpoint property %s: %v", m.key, err)
			}
			ep.Properties = append(ep.Properties, Field{Name: m.key, Value: lit})
		}
	}

	if headers, ok := v.member("headers"); ok {
		if headers.kind != jsonObject {
			return Endpoint{}, fmt.Errorf("endpoint headers is not an object")
		}
		for _, m := range headers.obj {
			if m.val.kind != jsonArray {
				return Endpoint{}, fmt.Errorf("endpoint header %s is not an array", m.key)
			}
			h := Header{Name: m.key}
			for i, hv := range m.val.arr {
				expr, err := decodeExpression(hv)
				if err != nil {
					return Endpoint{}, fmt.Errorf("endpoint header %s[%d]: %v", m.key, i, err)
				}
				h.Values = append(h.Values, expr)
			}
			ep.Headers = append(ep.Headers, h)
		}
	}
	return ep, nil
}

// EncodeRuleSet serializes a rule set back to its JSON document form.
// Member order mirrors the decoded order, so decode/encode round trips are
// byte-stable modulo whitespace.
func EncodeRuleSet(rs RuleSet) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	writeKey(&b, "version")
	writeString(&b, rs.Version)

	b.WriteByte(',')
	writeKey(&b, "parameters")
	b.WriteByte('{')
	for i, p := range rs.Parameters {
		if i > 0 {
			b.WriteByte(',')
		}
		writeKey(&b, p.Name)
		encodeParameter(&b, p)
	}
	b.WriteByte('}')

	b.WriteByte(',')
	writeKey(&b, "rules")
	b.WriteByte('[')
	for i := range rs.Rules {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeRule(&b, rs.Rules[i])
	}
	b.WriteByte(']')
	b.WriteByte('}')
	return b.Bytes(), nil
}

func encodeParameter(b *bytes.Buffer, p Parameter) {
	b.WriteByte('{')
	writeKey(b, "type")
	switch p.Type {
	case ParamString:
		writeString(b, "String")
	case ParamBoolean:
		writeString(b, "Boolean")
	case ParamStringArray:
		writeString(b, "StringArray")
	}
	if p.Required {
		b.WriteByte(',')
		writeKey(b, "required")
		b.WriteString("true")
	}
	if p.BuiltIn != "" {
		b.WriteByte(',')
		writeKey(b, "builtIn")
		writeString(b, p.BuiltIn)
	}
	if p.Default != nil {
		b.WriteByte(',')
		writeKey(b, "default")
		encodeLiteral(b, *p.Default)
	}
	if p.Documentation != "" {
		b.WriteByte(',')
		writeKey(b, "documentation")
		writeString(b, p.Documentation)
	}
	b.WriteByte('}')
}

func encodeRule(b *bytes.Buffer, r Rule) {
	b.WriteByte('{')
	switch r.Kind {
	case RuleTree:
		writeKey(b, "type")
		writeString(b, "tree")
	case RuleEndpoint:
		writeKey(b, "type")
		writeString(b, "endpoint")
	case RuleError:
		writeKey(b, "type")
		writeString(b, "error")
	}
	if r.Documentation != "" {
		b.WriteByte(',')
		writeKey(b, "documentation")
		writeString(b, r.Documentation)
	}
	b.WriteByte(',')
	writeKey(b, "conditions")
	b.WriteByte('[')
	for i := range r.Conditions {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeCondition(b, r.Conditions[i])
	}
	b.WriteByte(']')

	switch r.Kind {
	case RuleTree:
		b.WriteByte(',')
		writeKey(b, "rules")
		b.WriteByte('[')
		for i := range r.Rules {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeRule(b, r.Rules[i])
		}
		b.WriteByte(']')
	case RuleEndpoint:
		b.WriteByte(',')
		writeKey(b, "endpoint")
		encodeEndpoint(b, r.Endpoint)
	case RuleError:
		b.WriteByte(',')
		writeKey(b, "error")
		writeString(b, r.Error.Source())
	}
	b.WriteByte('}')
}

func encodeCondition(b *bytes.Buffer, c Condition) {
	b.WriteByte('{')
	writeKey(b, "fn")
	writeString(b, c.Fn.ID)
	b.WriteByte(',')
	writeKey(b, "argv")
	b.WriteByte('[')
	for i := range c.Fn.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeExpression(b, c.Fn.Args[i])
	}
	b.WriteByte(']')
	if c.Assign != "" {
		b.WriteByte(',')
		writeKey(b, "assign")
		writeString(b, c.Assign)
	}
	b.WriteByte('}')
}

func encodeExpression(b *bytes.Buffer, e Expression) {
	switch e.Kind {
	case ExprReference:
		b.WriteByte('{')
		writeKey(b, "ref")
		writeString(b, e.Ref)
		b.WriteByte('}')
	case ExprFunction:
		b.WriteByte('{')
		writeKey(b, "fn")
		writeString(b, e.Fn.ID)
		b.WriteByte(',')
		writeKey(b, "argv")
		b.WriteByte('[')
		for i := range e.Fn.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeExpression(b, e.Fn.Args[i])
		}
		b.WriteByte(']')
		b.WriteByte('}')
	case ExprLiteral:
		encodeLiteral(b, e.Lit)
	}
}

func encodeLiteral(b *bytes.Buffer, l Literal) {
	switch l.Kind {
	case LitString:
		writeString(b, l.Str.Source())
	case LitBool:
		b.WriteString(strconv.FormatBool(l.Bool))
	case LitInt:
		b.WriteString(strconv.FormatInt(l.Int, 10))
	case LitTuple:
		b.WriteByte('[')
		for i := range l.Tuple {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeLiteral(b, l.Tuple[i])
		}
		b.WriteByte(']')
	case LitRecord:
		b.WriteByte('{')
		for i, f := range l.Record {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, f.Name)
			encodeLiteral(b, f.Value)
		}
		b.WriteByte('}')
	}
}

func encodeEndpoint(b *bytes.Buffer, ep Endpoint) {
	b.WriteByte('{')
	writeKey(b, "url")
	encodeExpression(b, ep.URL)
	if len(ep.Properties) > 0 {
		b.WriteByte(',')
		writeKey(b, "properties")
		b.WriteByte('{')
		for i, f := range ep.Properties {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, f.Name)
			encodeLiteral(b, f.Value)
		}
		b.WriteByte('}')
	}
	if len(ep.Headers) > 0 {
		b.WriteByte(',')
		writeKey(b, "headers")
		b.WriteByte('{')
		for i, h := range ep.Headers {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, h.Name)
			b.WriteByte('[')
			for j := range h.Values {
				if j > 0 {
					b.WriteByte(',')
				}
				encodeExpression(b, h.Values[j])
			}
			b.WriteByte(']')
		}
		b.WriteByte('}')
	}
	b.WriteByte('}')
}

// writeString writes a JSON-escaped string.
func writeString(b *bytes.Buffer, s string) {
	escaped, _ := json.Marshal(s)
	b.Write(escaped)
}

// writeKey writes an object key followed by ':'.
func writeKey(b *bytes.Buffer, key string) {
	writeString(b, key)
	b.WriteByte(':')
}
