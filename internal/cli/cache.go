package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manages the analysis cache and precomputed store",
	}

	var track string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drops cached analyses, stems and rendered variants",
		Long:  `Without --track every entry is dropped; with --track only the entries of that track.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if track != "" {
				if err := a.orchestrator.InvalidateTrack(cmd.Context(), track); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared cache entries for %s\n", track)
				return nil
			}
			if err := a.orchestrator.ClearCaches(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all cache entries")
			return nil
		},
	}
	clearCmd.Flags().StringVar(&track, "track", "", "only clear entries of this track reference")

	cmd.AddCommand(clearCmd)
	return cmd
}
