package funcs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/wayfinderhq/wayfinder/internal/types"
)

/*
 * Partition resolution.
 *
 * Maps an AWS region name to its partition (aws, aws-cn, aws-us-gov, ...)
 * and that partition's DNS outputs. Resolution order:
 *
 *   1. exact region membership
 *   2. regionRegex match, first partition wins in table order
 *   3. fall back to the partition named "aws"
 *
 * The table ships embedded but callers may load a replacement from disk.
 * A PartitionTable is immutable after construction, so a single value may
 * be shared across goroutines without locking.
 */

//go:embed partitions.json
var embeddedPartitions []byte

var (
	defaultTableOnce sync.Once
	defaultTable     *PartitionTable
)

// PartitionOutputs carries the DNS and capability outputs of a partition.
type PartitionOutputs struct {
	Name                 string `json:"name"`
	DnsSuffix            string `json:"dnsSuffix"`
	DualStackDnsSuffix   string `json:"dualStackDnsSuffix"`
	SupportsFIPS         bool   `json:"supportsFIPS"`
	SupportsDualStack    bool   `json:"supportsDualStack"`
	ImplicitGlobalRegion string `json:"implicitGlobalRegion"`
}

// Partition is one entry of the partition table.
type Partition struct {
	ID          string              `json:"id"`
	RegionRegex string              `json:"regionRegex"`
	Regions     map[string]struct{} `json:"regions"`
	Outputs     PartitionOutputs    `json:"outputs"`

	compiled *regexp.Regexp
}

// PartitionMatch is the result of resolving a region. Inferred is true when
// the region was not an exact member and matched only via regionRegex.
type PartitionMatch struct {
	Outputs  PartitionOutputs
	ID       string
	Inferred bool
}

// PartitionTable resolves regions against an ordered partition list. Order
// matters twice over: regex matching takes the first hit, and the "aws"
// partition must come first so the fallback stays cheap to find.
type PartitionTable struct {
	partitions []Partition
	regions    map[string]*Partition
}

type partitionsDocument struct {
	Version    string      `json:"version"`
	Partitions []Partition `json:"partitions"`
}

// NewPartitionTable builds a table from partitions, compiling every region
// regex and indexing exact region names. Partition order is preserved.
func NewPartitionTable(partitions []Partition) (*PartitionTable, error) {
	t := &PartitionTable{
		partitions: make([]Partition, len(partitions)),
		regions:    make(map[string]*Partition),
	}
	copy(t.partitions, partitions)
	for i := range t.partitions {
		p := &t.partitions[i]
		if p.ID == "" {
			return nil, fmt.Errorf("partition %d: missing id", i)
		}
		if p.RegionRegex != "" {
			// regionRegex matches the whole region string. Anchor at compile
			// time so an unanchored pattern in an operator-supplied table
			// cannot substring-match an unrelated region.
			compiled, err := regexp.Compile(`\A(?:` + p.RegionRegex + `)\z`)
			if err != nil {
				return nil, fmt.Errorf("partition %q: region regex: %w", p.ID, err)
			}
			p.compiled = compiled
		}
		for region := range p.Regions {
			t.regions[region] = p
		}
	}
	return t, nil
}

// DefaultPartitionTable returns the table built from the embedded
// partition data. The table is built once and shared.
func DefaultPartitionTable() *PartitionTable {
	defaultTableOnce.Do(func() {
		table, err := parsePartitions(embeddedPartitions)
		if err != nil {
			// The embedded document is validated by tests; failing to load
			// it means the binary itself is broken.
			panic(fmt.Sprintf("funcs: embedded partitions: %v", err))
		}
		defaultTable = table
	})
	return defaultTable
}

// LoadPartitionsFile reads a partition table from path. Intended for
// trusted operator overrides of the embedded data.
func LoadPartitionsFile(path string) (*PartitionTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}
	table, err := parsePartitions(raw)
	if err != nil {
		return nil, fmt.Errorf("parse partitions %q: %w", path, err)
	}
	return table, nil
}

func parsePartitions(raw []byte) (*PartitionTable, error) {
	var doc partitionsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Partitions) == 0 {
		return nil, types.ErrNoPartitions
	}
	return NewPartitionTable(doc.Partitions)
}

// Resolve maps region to its partition. An unknown region that matches no
// regex falls back to the "aws" partition with Inferred left false; the
// error is types.ErrNoPartitions only when the table holds no partitions.
func (t *PartitionTable) Resolve(region string) (PartitionMatch, error) {
	if len(t.partitions) == 0 {
		return PartitionMatch{}, types.ErrNoPartitions
	}

	if p, ok := t.regions[region]; ok {
		return PartitionMatch{Outputs: p.Outputs, ID: p.ID}, nil
	}

	for i := range t.partitions {
		p := &t.partitions[i]
		if p.compiled != nil && p.compiled.MatchString(region) {
			return PartitionMatch{Outputs: p.Outputs, ID: p.ID, Inferred: true}, nil
		}
	}

	for i := range t.partitions {
		p := &t.partitions[i]
		if p.ID == "aws" {
			return PartitionMatch{Outputs: p.Outputs, ID: p.ID}, nil
		}
	}

	// A table without an "aws" partition cannot satisfy the fallback;
	// treat it the same as an empty table.
	return PartitionMatch{}, types.ErrNoPartitions
}

// KnownRegion reports whether region is an exact member of any partition or
// matches a partition's regionRegex. Unlike Resolve it never falls back, so
// a made-up name stays unknown.
func (t *PartitionTable) KnownRegion(region string) bool {
	if _, ok := t.regions[region]; ok {
		return true
	}
	for i := range t.partitions {
		p := &t.partitions[i]
		if p.compiled != nil && p.compiled.MatchString(region) {
			return true
		}
	}
	return false
}

// toValue converts the match into the record shape the evaluator consumes.
// The name field carries the matched partition's id, not outputs.name, and
// inferred reports whether the region matched only via regionRegex.
func (m PartitionMatch) toValue() Value {
	return Record(map[string]Value{
		"name":                 String(m.ID),
		"inferred":             Boolean(m.Inferred),
		"dnsSuffix":            String(m.Outputs.DnsSuffix),
		"dualStackDnsSuffix":   String(m.Outputs.DualStackDnsSuffix),
		"supportsFIPS":         Boolean(m.Outputs.SupportsFIPS),
		"supportsDualStack":    Boolean(m.Outputs.SupportsDualStack),
		"implicitGlobalRegion": String(m.Outputs.ImplicitGlobalRegion),
	})
}
