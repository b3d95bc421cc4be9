package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wayfinderhq/wayfinder/internal/types"
)

/*
 * Rule-set document store.
 *
 * Persists each imported rule set alongside its canonicalized form and the
 * transform telemetry (candidate and rewritten endpoint counts), so operators
 * can audit what a canonicalization pass actually did. Documents are stored
 * as JSON text; the store never inspects them.
 */

// RuleSetRecord is one stored rule-set document.
type RuleSetRecord struct {
	RuleSetID          string         `db:"rule_set_id"`
	Service            string         `db:"service"`
	Document           types.Document `db:"document"`
	CanonicalDocument  types.Document `db:"canonical_document"`
	EndpointsTotal     int            `db:"endpoints_total"`
	EndpointsRewritten int            `db:"endpoints_rewritten"`
	CreatedAt          string         `db:"created_at"` // RFC3339 UTC
}

// Store provides rule-set persistence over a migrated database.
type Store struct {
	q *Queries
}

// NewStore loads the embedded named queries and wraps db.
func NewStore(db *sqlx.DB) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{q: q}, nil
}

// Save inserts a rule-set record. A zero RuleSetID gets a fresh id; a zero
// CreatedAt is stamped from the timestamp embedded in the UUIDv7 id, so id
// ordering and created_at ordering always agree.
func (s *Store) Save(rec *RuleSetRecord) error {
	if rec.RuleSetID == "" {
		rec.RuleSetID = string(types.NewRuleSetID())
	}
	if rec.CreatedAt == "" {
		ts := types.RuleSetIDTime(types.RuleSetID(rec.RuleSetID))
		if ts.IsZero() {
			ts = time.Now()
		}
		rec.CreatedAt = ts.UTC().Format(time.RFC3339)
	}
	_, err := s.q.Exec("insert-rule-set",
		rec.RuleSetID, rec.Service, rec.Document, rec.CanonicalDocument,
		rec.EndpointsTotal, rec.EndpointsRewritten, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save rule set %s: %w", rec.RuleSetID, err)
	}
	return nil
}

// Get retrieves a rule set by id.
func (s *Store) Get(id types.RuleSetID) (RuleSetRecord, error) {
	var rec RuleSetRecord
	err := s.q.Get("get-rule-set", &rec, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return RuleSetRecord{}, fmt.Errorf("%w: %s", types.ErrRuleSetNotFound, id)
	}
	if err != nil {
		return RuleSetRecord{}, fmt.Errorf("failed to get rule set %s: %w", id, err)
	}
	return rec, nil
}

// GetLatest retrieves the most recently imported rule set for a service.
func (s *Store) GetLatest(service string) (RuleSetRecord, error) {
	var rec RuleSetRecord
	err := s.q.Get("get-latest-rule-set", &rec, service)
	if errors.Is(err, sql.ErrNoRows) {
		return RuleSetRecord{}, fmt.Errorf("%w: service %s", types.ErrRuleSetNotFound, service)
	}
	if err != nil {
		return RuleSetRecord{}, fmt.Errorf("failed to get latest rule set for %s: %w", service, err)
	}
	return rec, nil
}

// List returns up to limit rule sets, newest first. A non-empty service
// filters to that service.
func (s *Store) List(service string, limit int) ([]RuleSetRecord, error) {
	var recs []RuleSetRecord
	var err error
	if service != "" {
		err = s.q.Select("list-rule-sets-by-service", &recs, service, limit)
	} else {
		err = s.q.Select("list-rule-sets", &recs, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	return recs, nil
}
