package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/luaflow/internal/runtime"
	configpkg "github.com/drblury/luaflow/internal/runtime/config"
	loggingpkg "github.com/drblury/luaflow/internal/runtime/logging"
	"github.com/drblury/luaflow/internal/runtime/script"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Validate service files without running them",
	Long: `Validate luaflow service files.

Checks:
  - YAML syntax is valid and every channel config validates
  - Lua code and preload snippets compile
  - Schemes load and child channels can be built`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		if err := checkFile(out, path); err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func checkFile(out io.Writer, path string) error {
	conf, err := configpkg.LoadServiceFile(path)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	for _, c := range conf.Channels {
		for i, code := range c.Preload {
			if err := script.Compile(code); err != nil {
				return fmt.Errorf("channel %s preload %d: %w", c.Name, i, err)
			}
		}
		if err := script.Compile(c.Code); err != nil {
			return fmt.Errorf("channel %s: %w", c.Name, err)
		}
	}

	svc, err := runtimepkg.NewService(conf, loggingpkg.NopLogger(), runtimepkg.ServiceDependencies{})
	if err != nil {
		return err
	}
	for _, l := range svc.Channels() {
		line := fmt.Sprintf("     %s (%s)", l.Name(), l.Variant())
		if child := l.ChildChannel(); child != nil {
			line += " child " + child.Name()
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
