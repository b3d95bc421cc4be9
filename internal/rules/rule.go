package rules

/*
 * Rule-tree model.
 *
 * A RuleSet is an ordered list of rules evaluated top to bottom. Tree rules
 * guard nested rule lists with conditions, endpoint rules produce the
 * resolved endpoint, error rules terminate resolution with a message.
 *
 * Rule trees are immutable: transforms never mutate input nodes, they build
 * new ones and keep untouched subtrees by structural sharing.
 */

// RuleKind discriminates Rule variants.
type RuleKind int

const (
	RuleTree RuleKind = iota
	RuleEndpoint
	RuleError
)

// Rule is a tagged union over tree, endpoint and error rules.
// Conditions apply to every kind; the remaining fields are selected by Kind.
type Rule struct {
	Kind          RuleKind
	Conditions    []Condition
	Rules         []Rule   // RuleTree: nested rules, evaluated in order
	Endpoint      Endpoint // RuleEndpoint
	Error         Template // RuleError: message template
	Documentation string
}

// Endpoint describes a resolved endpoint: a URL expression, header value
// expressions, and structured properties such as authSchemes and backend.
type Endpoint struct {
	URL        Expression
	Headers    []Header
	Properties []Field // ordered identifier -> literal
}

// Header is one ordered header name with its value expressions.
type Header struct {
	Name   string
	Values []Expression
}

// Property returns the named endpoint property and whether it was present.
func (e Endpoint) Property(name string) (Literal, bool) {
	return getField(e.Properties, name)
}

// RuleSet is a complete rule-tree document: parameter declarations plus the
// top-level rule list.
type RuleSet struct {
	Version    string
	Parameters []Parameter
	Rules      []Rule
}

// ParamType enumerates rule-set parameter types.
type ParamType int

const (
	ParamString ParamType = iota
	ParamBoolean
	ParamStringArray
)

// Parameter declares one rule-set input: its type, whether callers must
// supply it, and an optional default applied when absent.
type Parameter struct {
	Name          string
	Type          ParamType
	Required      bool
	Default       *Literal // nil = no default
	BuiltIn       string   // provenance marker (e.g. "AWS::Region"), informational
	Documentation string
}

// Parameter returns the declared parameter with the given name.
func (rs RuleSet) Parameter(name string) (Parameter, bool) {
	for _, p := range rs.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}
