package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pawrelay/internal/ingest"
	logx "pawrelay/pkg/logx"
)

func newScanCommand() *cobra.Command {
	var maxSize int64
	cmd := &cobra.Command{
		Use:   "scan <file>...",
		Short: "Print the avatar id found in each cache data file",
		Long: `Runs the matcher over each file and prints one id per line. Files without
an id are skipped silently; unreadable files are reported on stderr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := ingest.New(nil, nil, logx.Nop())
			w.MaxFileSize = maxSize
			failed := 0
			for _, p := range args {
				id, ok, err := w.Process(p)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", p, err)
					failed++
					continue
				}
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be read", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "read at most this many bytes per file (0 reads everything)")
	return cmd
}
