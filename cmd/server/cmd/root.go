package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/garbage-api/internal/config"
	"github.com/Brownie44l1/garbage-api/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	logFile    string

	cfg       *config.Config
	logCloser io.Closer
)

var RootCmd = &cobra.Command{
	Use:          "garbage-api",
	Short:        "Garbage type classification API server.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd.Context(), configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-format") {
			cfg.Log.Format = logFormat
		}
		if flags.Changed("log-file") {
			cfg.Log.File = logFile
		}
		logCloser, err = logger.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
		if err != nil {
			return err
		}

		root := projectRoot()
		cfg.Model.Path = resolve(root, cfg.Model.Path)
		cfg.Model.ClassesPath = resolve(root, cfg.Model.ClassesPath)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a TOML config file; environment variables override it")
	RootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "set log level to debug, info, warn or error")
	RootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "json", "set log format to json or text")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append json logs to this file")
	RootCmd.DisableAutoGenTag = true

	RootCmd.AddCommand(
		serveCmd,
		predictCmd,
		versionCmd,
	)
}

// projectRoot is the working directory, or the repository root when the
// binary is started from cmd/server.
func projectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		slog.Warn("failed to get working directory", slog.Any("error", err))
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
