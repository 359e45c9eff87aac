package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/loadflow/internal/config"
	"github.com/rpattn/loadflow/internal/logger"
)

// app is the state every subcommand shares once flags are parsed.
type app struct {
	cfg config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "loadflow",
		Short:        "Map, validate, submit, enrich and deliver freight load files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", ".", "config file or directory holding config.yaml")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit logs as JSON")
	flags.Bool("log-source", false, "include source locations in logs")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newFieldsCmd(a),
		newSuggestCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.SetupLogger(level, logJSON, logSource).Error("failed to load config", "error", err)
		return err
	}

	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		level = cfg.Log.Level
	}
	a.cfg = cfg
	a.log = logger.SetupLogger(level, logJSON || cfg.Log.JSON, logSource)
	cmd.SetContext(logger.ContextWithLogger(cmd.Context(), a.log))
	return nil
}
