// Package cli is the turbine-fleet command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/logger"
)

const defaultConfigPath = "config.yaml"

const rootShortDescription = `Wind turbine fleet ingestion and threshold queries`
const rootLongDescription = `turbine-fleet simulates a fleet of wind turbines.

It writes synthetic measurements for every turbine into a latest-value store on a
fixed schedule and answers threshold queries over the latest values.
`

type rootCommand struct {
	cmd        *cobra.Command
	ctx        context.Context
	configPath string
	logLevel   string
	config     *config.Config
}

// NewRootCommand builds the command tree
func NewRootCommand(ctx context.Context) *cobra.Command {
	root := &rootCommand{ctx: ctx}
	root.cmd = &cobra.Command{
		Use:           "turbine-fleet",
		Short:         rootShortDescription,
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Close()
		},
	}

	flags := root.cmd.PersistentFlags()
	flags.StringVarP(&root.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	flags.StringVar(&root.logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")

	root.cmd.AddCommand(
		serveCommand(root),
		ingestCommand(root),
		queryCommand(root),
		validateCommand(root),
	)
	return root.cmd
}

// Execute runs the command line and exits non-zero on error
func Execute() {
	ctx := context.Background()
	if err := NewRootCommand(ctx).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init loads the configuration and the logger. A missing default config file falls back
// to the built-in defaults; an explicitly named one must exist.
func (r *rootCommand) init(cmd *cobra.Command) error {
	path := r.configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	r.configPath = path

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Logger.Level = r.logLevel
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	r.config = cfg
	return nil
}
