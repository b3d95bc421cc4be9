package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wayfinderhq/wayfinder/internal/core/db"
	"github.com/wayfinderhq/wayfinder/internal/eval"
	"github.com/wayfinderhq/wayfinder/internal/funcs"
	"github.com/wayfinderhq/wayfinder/internal/rules"
	"github.com/wayfinderhq/wayfinder/internal/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve an endpoint from a rule set and parameters",
	Long: `Resolve evaluates a rule-set document against the given parameters and
prints the resolved endpoint. The document comes from a file (--rule-set),
from the registry by id (--id), or as the latest import for a service
(--service).`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().String("rule-set", "", "rule-set document file")
	resolveCmd.Flags().String("id", "", "registry rule-set id")
	resolveCmd.Flags().String("service", "", "resolve against the latest stored rule set for this service")
	resolveCmd.Flags().Bool("canonical", true, "use the canonical document when loading from the registry")
	resolveCmd.Flags().StringArrayP("param", "p", nil, "parameter as name=value (repeatable)")
	resolveCmd.Flags().String("partitions-file", "", "partition table override file")
}

func runResolve(cmd *cobra.Command, args []string) error {
	raw, err := loadRuleSetDocument(cmd)
	if err != nil {
		return err
	}

	rs, err := rules.DecodeRuleSet(raw)
	if err != nil {
		return fmt.Errorf("failed to decode rule set: %w", err)
	}

	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(rs, pairs)
	if err != nil {
		return err
	}

	table, err := partitionTable(cmd)
	if err != nil {
		return err
	}

	ev := eval.NewEvaluator(funcs.NewRegistry(table))
	resolved, err := ev.Resolve(rs, params)
	var ruleErr *eval.RuleError
	if errors.As(err, &ruleErr) {
		return fmt.Errorf("rules rejected the parameters: %s", ruleErr.Message)
	}
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	out, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// loadRuleSetDocument picks the document source: exactly one of --rule-set,
// --id, or --service must be given.
func loadRuleSetDocument(cmd *cobra.Command) ([]byte, error) {
	file, _ := cmd.Flags().GetString("rule-set")
	id, _ := cmd.Flags().GetString("id")
	service, _ := cmd.Flags().GetString("service")

	given := 0
	for _, v := range []string{file, id, service} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return nil, fmt.Errorf("exactly one of --rule-set, --id, or --service required")
	}

	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule set: %w", err)
		}
		return raw, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	registry, err := db.NewStore(database)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule-set store: %w", err)
	}

	var rec db.RuleSetRecord
	if id != "" {
		ruleSetID, err := types.ParseRuleSetID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid rule-set id: %w", err)
		}
		rec, err = registry.Get(ruleSetID)
		if err != nil {
			return nil, err
		}
	} else {
		rec, err = registry.GetLatest(service)
		if err != nil {
			return nil, err
		}
	}

	if canonical, _ := cmd.Flags().GetBool("canonical"); canonical && len(rec.CanonicalDocument) > 0 {
		return []byte(rec.CanonicalDocument), nil
	}
	return []byte(rec.Document), nil
}

// parseParams converts name=value pairs into typed values using the rule
// set's parameter declarations.
func parseParams(rs rules.RuleSet, pairs []string) (map[string]funcs.Value, error) {
	params := make(map[string]funcs.Value, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", pair)
		}
		decl, ok := rs.Parameter(name)
		if !ok {
			return nil, fmt.Errorf("parameter %q is not declared by the rule set", name)
		}
		switch decl.Type {
		case rules.ParamString:
			params[name] = funcs.String(value)
		case rules.ParamBoolean:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("parameter %q wants a boolean: %w", name, err)
			}
			params[name] = funcs.Boolean(b)
		case rules.ParamStringArray:
			var elems []funcs.Value
			for _, s := range strings.Split(value, ",") {
				elems = append(elems, funcs.String(s))
			}
			params[name] = funcs.Array(elems)
		}
	}
	return params, nil
}

// partitionTable builds the partition table: flag override first, then the
// configured file, then the embedded default.
func partitionTable(cmd *cobra.Command) (*funcs.PartitionTable, error) {
	path, _ := cmd.Flags().GetString("partitions-file")
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.PartitionsFile
	}
	if path == "" {
		return funcs.DefaultPartitionTable(), nil
	}
	table, err := funcs.LoadPartitionsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load partitions: %w", err)
	}
	return table, nil
}
