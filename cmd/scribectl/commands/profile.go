package commands

import (
	"fmt"

	"ex-scribe/internal/printer"

	"github.com/spf13/cobra"
)

func newProfileCommand(options *globalOptions) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the resolved connection profile",
		Long: `Print the connection settings after applying flags to the profile file.
With --save the resolved settings are written back to the profile file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:    %s\n", options.profilePath)
			fmt.Fprintf(out, "server:  %s\n", options.profile.Server)
			fmt.Fprintf(out, "agent:   %s\n", options.profile.Agent)
			fmt.Fprintf(out, "timeout: %s\n", options.profile.Timeout)

			if !save {
				return nil
			}
			if err := options.profile.Save(options.profilePath); err != nil {
				return printer.Error(cmd.ErrOrStderr(), "cannot save profile", err)
			}
			printer.Success(out, "saved %s", options.profilePath)

			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the resolved settings to the profile file")

	return cmd
}
