// Package types provides domain models shared across Wayfinder components.
//
// Zero-dependency design: types.go and errors.go use only the standard
// library. ID utilities in ids.go import uuid but are isolated so embedding
// callers can take the error taxonomy without the dependency.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RuleSetID represents a UUIDv7 rule-set identifier.
// String alias enables type safety while maintaining JSON string serialization.
type RuleSetID string

// Document represents a raw rule-set document as stored in the registry.
// json.RawMessage wrapper preserves original bytes; decoding into the typed
// rule model happens at the rules package boundary.
type Document json.RawMessage

// MarshalJSON implements json.Marshaler.
// Delegates to json.RawMessage to preserve original document bytes unchanged.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(d).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
// Delegates to json.RawMessage to capture raw bytes without parsing.
func (d *Document) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(d).UnmarshalJSON(data)
}

// Value implements driver.Valuer. Documents are stored as TEXT so both
// drivers keep string affinity on the column.
func (d Document) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner.
func (d *Document) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case string:
		*d = Document(v)
	case []byte:
		*d = Document(append([]byte(nil), v...))
	default:
		return fmt.Errorf("cannot scan %T into Document", src)
	}
	return nil
}

// Resource limits enforced when decoding and evaluating rule trees.
const (
	// MaxRuleDepth bounds recursive traversal of nested tree rules.
	// Production rule sets nest well under 16 levels; deeper trees indicate
	// a malformed or adversarial document.
	MaxRuleDepth = 64

	// MaxDocumentSize limits rule-set documents accepted by the registry.
	// The largest known production rule set (S3) is under 2MB.
	MaxDocumentSize = 8 * 1024 * 1024
)
