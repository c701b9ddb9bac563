package cli

import (
	"log"

	"cvpay-svc/config"
	"cvpay-svc/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables if they do not exist",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return database.Migrate(cmd.Context(), db, logger)
}
