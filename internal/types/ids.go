package types

import (
	"time"

	"github.com/google/uuid"
)

// NewRuleSetID generates a UUIDv7 rule-set identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleSetID() RuleSetID {
	return RuleSetID(uuid.Must(uuid.NewV7()).String())
}

// ParseRuleSetID validates and converts a string to RuleSetID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the registry.
func ParseRuleSetID(s string) (RuleSetID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RuleSetID(s), nil
}

// RuleSetIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Enables time-based queries without a registry lookup.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func RuleSetIDTime(id RuleSetID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
