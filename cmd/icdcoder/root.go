package main

import (
	"github.com/spf13/cobra"

	"icdcoder/internal/config"
	"icdcoder/internal/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "icdcoder",
		Short:         "Retrieve and rank ICD-10 codes for free-text symptoms",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file (optional; uses ~/.config/icdcoder/config.yaml if not provided)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")

	root.AddCommand(
		serveCmd(opts),
		searchCmd(opts),
		ingestCmd(opts),
		tuiCmd(opts),
		evalCmd(opts),
	)
	return root
}

// load reads the config and installs the process logger.
func (o *rootOptions) load() (*config.AppConfig, logger.Logger, error) {
	var cfg *config.AppConfig
	var err error
	if o.configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(o.configPath)
	}
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Log.JSON = true
	}
	lcfg := logger.DefaultConfig()
	lcfg.Level = cfg.Log.Level
	lcfg.JSON = cfg.Log.JSON
	logger.Init(lcfg)
	return cfg, logger.NewLogger(lcfg), nil
}
