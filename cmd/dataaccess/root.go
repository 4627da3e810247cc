package main

import (
	"github.com/Sternrassler/dataaccess/pkg/config"
	"github.com/Sternrassler/dataaccess/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	configPath string
	env        string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "dataaccess",
		Short:         "Resilient access to a pooled database and a paginated upstream API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			v := viper.New()
			if opts.env != "" {
				v.Set("environment", opts.env)
			}
			cfg, err := config.Load(v, opts.configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.LoggingConfig())
			opts.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./dataaccess.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.env, "env", "", "environment: development or production")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newFetchCmd(opts),
		newAuthorizeCmd(opts),
		newMigrateCmd(opts),
	)

	return rootCmd
}
