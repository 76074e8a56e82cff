package main

import (
	"errors"
	"fmt"

	"contact-center/internal/routing"
	"contact-center/internal/store"
	"contact-center/pkg/logger"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage the agent roster",
}

var agentsImportCmd = &cobra.Command{
	Use:   "import [roster.yaml]",
	Short: "Upsert agents from a YAML roster into Postgres (defaults to AGENTS_FILE)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAgentsImport,
}

func init() {
	agentsCmd.AddCommand(agentsImportCmd)
}

func runAgentsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.UsesPostgres() {
		return errors.New("agents import: STORAGE_DRIVER must be postgres")
	}
	path := cfg.Storage.AgentsFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("agents import: roster path required (argument or AGENTS_FILE)")
	}

	agents, err := routing.LoadRoster(path)
	if err != nil {
		return err
	}

	db, err := openPostgres(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.NewPostgres(db).PutAgents(cmd.Context(), agents); err != nil {
		return fmt.Errorf("agents import: %w", err)
	}
	logger.New(cfg.App.Env).Info("agents imported", "count", len(agents), "path", path)
	return nil
}
