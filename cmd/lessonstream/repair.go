package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/lessonstream/internal/lesson/repair"
)

func newRepairCommand() *cobra.Command {
	var noLibrary bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Read malformed model output on stdin and print the repaired JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			var opts []repair.Option
			if noLibrary {
				opts = append(opts, repair.WithoutLibrary())
			}
			res, err := repair.New(nil, opts...).Repair(string(raw))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "repaired at stage %s\n", res.Stage)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noLibrary, "no-library", false, "skip the third-party repair stage")
	return cmd
}
