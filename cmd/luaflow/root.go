package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
)

var (
	// Global flags
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "luaflow",
	Short: "Run Lua scripts inside scheme driven message channels",
	Long: `luaflow hosts lua channels: Lua scripts that receive and emit compact
binary messages described by a scheme.

  luaflow check service.yaml         # Validate a service file and its scripts
  luaflow run service.yaml --watch   # Run the channels, reload changed scripts
  luaflow dump-scheme yaml://a.yaml  # Print a scheme and its message layout`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

func newLogger(w io.Writer) (loggingpkg.ServiceLogger, error) {
	level := loggingpkg.LevelTrace
	if logLevel != "trace" {
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", logLevel)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch logFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", logFormat)
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}
