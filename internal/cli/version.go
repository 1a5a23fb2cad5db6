package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmueller/speakerscribe/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// The version needs no config; a broken config file must not hide it.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Resolve()
			fmt.Fprintf(cmd.OutOrStdout(), "speakerscribe v%s\n", info)
			if info.Date != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", info.Date)
			}
			return nil
		},
	}
}
