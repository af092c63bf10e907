package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/adapters/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(c *cobra.Command, args []string) error {
	store, err := storage.NewPostgresStore(viper.GetString("database_url"))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
