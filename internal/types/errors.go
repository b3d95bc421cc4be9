package types

import "errors"

// Sentinel errors for Wayfinder operations.
var (
	// ErrNoPartitions indicates the partition table is empty or corrupted and
	// not even the `aws` fallback could be matched. This is a fatal
	// configuration error; resolution must abort rather than guess.
	ErrNoPartitions = errors.New("no partitions configured")

	// ErrUnknownFunction indicates a condition references a function id that
	// is not registered in the function library.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrArityMismatch indicates a function was invoked with the wrong
	// number of arguments.
	ErrArityMismatch = errors.New("function arity mismatch")

	// ErrTypeMismatch indicates a function argument had an unexpected type.
	ErrTypeMismatch = errors.New("function argument type mismatch")

	// ErrUnboundReference indicates an expression referenced a name with no
	// parameter value and no prior condition binding.
	ErrUnboundReference = errors.New("unbound reference")

	// ErrNoMatchingRule indicates evaluation exhausted the rule tree without
	// reaching an endpoint or error rule.
	ErrNoMatchingRule = errors.New("no rule matched the given parameters")

	// ErrRuleTooDeep indicates a rule tree exceeds MaxRuleDepth.
	ErrRuleTooDeep = errors.New("rule tree exceeds maximum depth")

	// ErrMalformedRuleSet indicates a rule-set document failed to decode.
	ErrMalformedRuleSet = errors.New("malformed rule set document")

	// ErrRuleSetNotFound indicates a registry lookup by id found no row.
	ErrRuleSetNotFound = errors.New("rule set not found")
)
