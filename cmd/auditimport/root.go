package main

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/auditimport/internal/config"
	"github.com/JonMunkholm/auditimport/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "auditimport",
		Short:         "Bulk import of audit observations from CSV and Excel files",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd(), newMigrateCmd(), newDetectCmd(), newTemplatesCmd())
	return cmd
}

// loadConfig loads and validates configuration, then sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
