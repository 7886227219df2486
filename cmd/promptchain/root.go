package main

import (
	"fmt"

	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli carries state shared by the subcommands
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.AppConfig
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "promptchain",
		Short:         "Run chains of prompt and code steps over input rows",
		Long:          `promptchain runs ordered chains of model prompts and sandboxed code steps once per input row, streaming partial output as it is produced.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAppConfig(c.configPath)
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}

			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}

			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", fmt.Sprintf("Application config file (default $%s)", config.EnvConfigPath))
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(c),
		newServeCmd(c),
		newRunsCmd(c),
		newSchemaCmd(c),
		newChainsCmd(c),
	)
	return root
}
