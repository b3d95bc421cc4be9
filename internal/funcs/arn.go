package funcs

import "strings"

/*
 * ARN parsing.
 *
 * Decomposes "arn:partition:service:region:account-id:resource" into its
 * five components. Malformed input is an absent result, never an error:
 * callers probe arbitrary strings and "no ARN" is the expected outcome.
 *
 * Invariants enforced at construction: partition, service and resource are
 * non-empty; region and account id may be empty strings. No Arn value can
 * exist that violates them.
 */

const arnPrefix = "arn:"

// Arn is a parsed Amazon Resource Name. Immutable once built; construct
// only via ParseArn or NewArn.
type Arn struct {
	Partition string
	Service   string
	Region    string
	AccountID string
	Resource  []string
}

// NewArn builds an Arn, enforcing the non-emptiness invariants.
// The second result is false when the components cannot form a valid ARN.
func NewArn(partition, service, region, accountID string, resource []string) (Arn, bool) {
	if partition == "" || service == "" || len(resource) == 0 {
		return Arn{}, false
	}
	return Arn{
		Partition: partition,
		Service:   service,
		Region:    region,
		AccountID: accountID,
		Resource:  resource,
	}, true
}

// ParseArn parses text into an Arn. Returns false for any malformed input.
func ParseArn(text string) (Arn, bool) {
	// Shortest valid ARN is "arn:a:b:::c" style; anything under 8 bytes or
	// without the literal prefix cannot be one.
	if len(text) < 8 || !strings.HasPrefix(text, arnPrefix) {
		return Arn{}, false
	}

	// Exactly four more ':' delimiters after "arn:" yield the five pieces;
	// the resource remainder keeps any further ':' for segment splitting.
	parts := strings.SplitN(text[len(arnPrefix):], ":", 5)
	if len(parts) != 5 {
		return Arn{}, false
	}
	partition, service, region, accountID, remainder := parts[0], parts[1], parts[2], parts[3], parts[4]
	if remainder == "" {
		return Arn{}, false
	}

	return NewArn(partition, service, region, accountID, splitResource(remainder))
}

// splitResource splits the resource remainder on every ':' or '/',
// preserving empty segments (including a trailing one) and dropping the
// delimiters themselves.
func splitResource(s string) []string {
	segments := make([]string, 0, 2)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' || s[i] == '/' {
			segments = append(segments, s[start:i])
			start = i + 1
		}
	}
	return append(segments, s[start:])
}

// String renders the ARN with ':' joining resource segments. The rendered
// form is stable under re-parsing at the component level, though not
// byte-identical for resources that used '/' delimiters.
func (a Arn) String() string {
	return arnPrefix + a.Partition + ":" + a.Service + ":" + a.Region + ":" + a.AccountID + ":" +
		strings.Join(a.Resource, ":")
}

// toValue converts the ARN into the record shape the evaluator consumes.
func (a Arn) toValue() Value {
	resource := make([]Value, len(a.Resource))
	for i, seg := range a.Resource {
		resource[i] = String(seg)
	}
	return Record(map[string]Value{
		"partition":  String(a.Partition),
		"service":    String(a.Service),
		"region":     String(a.Region),
		"accountId":  String(a.AccountID),
		"resourceId": Array(resource),
	})
}
