package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drblury/luaflow/internal/runtime/scheme"
)

var dumpSchemeCmd = &cobra.Command{
	Use:   "dump-scheme URL",
	Short: "Print a scheme",
	Long: `Load a scheme from yaml://path, yamls://<inline yaml> or a bare path and
print it as YAML. With --layout, print the wire layout of every message.`,
	Args: cobra.ExactArgs(1),
	RunE: runDumpScheme,
}

var dumpLayout bool

func init() {
	rootCmd.AddCommand(dumpSchemeCmd)

	dumpSchemeCmd.Flags().BoolVar(&dumpLayout, "layout", false, "print field offsets and sizes")
}

func runDumpScheme(cmd *cobra.Command, args []string) error {
	s, err := scheme.Load(args[0])
	if err != nil {
		return err
	}
	if dumpLayout {
		return writeLayout(cmd.OutOrStdout(), s)
	}
	data, err := s.Dump()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func writeLayout(out io.Writer, s *scheme.Scheme) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, m := range s.Messages {
		fmt.Fprintf(tw, "%s\tid=%d\tsize=%d\n", m.Name, m.MsgID, m.Size)
		for _, f := range m.Fields {
			presence := ""
			if f.Optional {
				presence = fmt.Sprintf("pmap bit %d", f.PMapIndex)
			}
			fmt.Fprintf(tw, "  %s\t%s\toffset=%d\tsize=%d\t%s\n", f.Name, f.TypeName(), f.Offset, f.Size, presence)
		}
	}
	return tw.Flush()
}
