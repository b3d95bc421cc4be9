package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/wayfinderhq/wayfinder/internal/core/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("status", false, "show migration status instead of applying")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if status, _ := cmd.Flags().GetBool("status"); status {
		statuses, err := db.MigrateStatus(database)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		fmt.Printf("%-32s  %-8s  %s\n", "MIGRATION", "APPLIED", "APPLIED AT")
		for _, s := range statuses {
			fmt.Printf("%-32s  %-8t  %s\n", s.ID, s.Applied, s.AppliedAt)
		}
		return nil
	}

	if err := db.MigrateUp(database); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("migrations applied")
	return nil
}
