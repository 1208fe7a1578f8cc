package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/luaflow/internal/runtime"
	configpkg "github.com/drblury/luaflow/internal/runtime/config"
	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run the channels of a service file",
	Long: `Open the channels of a service file in order and keep them running until
interrupted. With --watch, a channel is reopened when one of its file://
scripts changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runWatch bool

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runWatch, "watch", false, "reopen channels when their scripts change")
}

func runRun(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	conf, err := configpkg.LoadServiceFile(args[0])
	if err != nil {
		return err
	}
	svc, err := runtimepkg.NewService(conf, log, runtimepkg.ServiceDependencies{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runWatch {
		w, err := newScriptWatcher(conf, svc, log)
		if err != nil {
			return err
		}
		defer w.Close()
		go w.run(ctx)
	}

	log.Info("Starting luaflow", loggingpkg.LogFields{"file": args[0], "channels": len(conf.Channels)})
	return svc.Start(ctx)
}

// reloader is the part of the service the script watcher drives.
type reloader interface {
	Reload(ctx context.Context, name string) error
}
