package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wayfinderhq/wayfinder/internal/core/db"
	"github.com/wayfinderhq/wayfinder/internal/types"
)

var rulesetsCmd = &cobra.Command{
	Use:   "rulesets",
	Short: "Inspect the rule-set registry",
}

var rulesetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rule sets, newest first",
	RunE:  runRulesetsList,
}

var rulesetsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored rule-set document",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesetsShow,
}

func init() {
	rootCmd.AddCommand(rulesetsCmd)
	rulesetsCmd.AddCommand(rulesetsListCmd)
	rulesetsCmd.AddCommand(rulesetsShowCmd)
	rulesetsListCmd.Flags().String("service", "", "filter by service")
	rulesetsListCmd.Flags().Int("limit", 0, "maximum rows (default from config)")
	rulesetsShowCmd.Flags().Bool("canonical", false, "print the canonical document instead of the original")
}

func openStore() (*db.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	registry, err := db.NewStore(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to open rule-set store: %w", err)
	}
	return registry, func() { database.Close() }, nil
}

func runRulesetsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.ListLimit
	}
	service, _ := cmd.Flags().GetString("service")

	registry, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	recs, err := registry.List(service, limit)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-16s  %-20s  %s\n", "RULE SET ID", "SERVICE", "CREATED", "REWRITTEN")
	for _, rec := range recs {
		fmt.Printf("%-36s  %-16s  %-20s  %d/%d\n",
			rec.RuleSetID, rec.Service, rec.CreatedAt, rec.EndpointsRewritten, rec.EndpointsTotal)
	}
	return nil
}

func parseRuleSetIDArg(s string) (types.RuleSetID, error) {
	id, err := types.ParseRuleSetID(s)
	if err != nil {
		return "", fmt.Errorf("invalid rule-set id: %w", err)
	}
	return id, nil
}

func runRulesetsShow(cmd *cobra.Command, args []string) error {
	registry, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	id, err := parseRuleSetIDArg(args[0])
	if err != nil {
		return err
	}
	rec, err := registry.Get(id)
	if err != nil {
		return err
	}

	if canonical, _ := cmd.Flags().GetBool("canonical"); canonical {
		fmt.Println(string(rec.CanonicalDocument))
		return nil
	}
	fmt.Println(string(rec.Document))
	return nil
}
