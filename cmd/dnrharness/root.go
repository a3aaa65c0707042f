package main

import (
	"github.com/spf13/cobra"

	"dnrharness/internal/config"
	"dnrharness/internal/logger"
	"dnrharness/pkg/api"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logWriters []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "dnrharness",
		Short:        "Run declarativeNetRequest scenarios against a Chrome extension",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&opts.logWriters, "log", nil, "log writers (console, file)")

	cmd.AddCommand(
		newRunCmd(opts),
		newListCmd(opts),
		newHistoryCmd(opts),
		newSweepCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// load 读取配置并应用全局参数，不做校验
func (o *rootOptions) load() (*config.Config, error) {
	c, err := config.Read(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		c.Log.Level = o.logLevel
	}
	if o.logWriters != nil {
		c.Log.Writer = o.logWriters
	}
	return c, nil
}

func newLogger(c *config.Config) logger.Logger {
	return logger.New(logger.Options{Level: c.Log.Level, Writer: c.Log.Writer, File: c.Log.File})
}

// newService 依赖注入点，测试替换
var newService = func(c *config.Config, l logger.Logger) api.Service {
	return api.NewService(c, l)
}
