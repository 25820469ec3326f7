package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"dopple/internal/app"
	"dopple/internal/config"
	"dopple/internal/pkg/logger"
)

type commandContext struct {
	configPath string
	jsonOut    bool
	verbose    bool
}

// open loads configuration and wires the orchestrator. Logs go to stderr so
// stdout stays parseable.
func (c *commandContext) open(ctx context.Context, stderr io.Writer) (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	logCfg := logger.DefaultConfig()
	logCfg.ServiceName = "dopplectl"
	logCfg.Format = "text"
	logCfg.Output = stderr
	if !c.verbose {
		logCfg.Level = "warn"
	}
	return app.New(ctx, cfg, logger.New(logCfg))
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "dopplectl",
		Short:         "Operate the dopple persona pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Configuration file path (default $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&cc.jsonOut, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&cc.verbose, "verbose", "v", false, "Log at info level")

	rootCmd.AddCommand(newPassCommand(cc))
	rootCmd.AddCommand(newInspectCommand(cc))
	rootCmd.AddCommand(newDriveAuthCommand())

	return rootCmd
}
