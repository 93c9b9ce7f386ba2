package commands

import (
	"fmt"

	"ex-scribe/internal/printer"
	"ex-scribe/internal/tui"

	"github.com/spf13/cobra"
)

func newPromptCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <input...>",
		Short: "Stream a completion from the selected agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, err = options.client.Prompt(cmd.Context(), agent, joinArgs(args), func(delta string) {
				fmt.Fprint(out, delta)
			})
			fmt.Fprintln(out)
			if err != nil {
				return requestFailed(cmd, "prompt failed", err)
			}

			return nil
		},
	}
}

func newTUICommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open an interactive transcript view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}
			if _, err := options.client.History(cmd.Context(), agent); err != nil {
				return requestFailed(cmd, "cannot open agent", err)
			}

			if err := tui.Run(cmd.Context(), options.client, agent); err != nil {
				return printer.Error(cmd.ErrOrStderr(), "tui stopped", err)
			}

			return nil
		},
	}
}
