package commands

import (
	"fmt"
	"strconv"
	"strings"

	"ex-scribe/internal/client"
	"ex-scribe/internal/printer"
	"ex-scribe/pkg/scribe"

	"github.com/spf13/cobra"
)

func newAgentsCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agents, err := options.client.Agents(cmd.Context())
			if err != nil {
				return requestFailed(cmd, "cannot list agents", err)
			}

			printer.Agents(cmd.OutOrStdout(), agents, options.profile.Agent)
			return nil
		},
	}
}

func newHistoryCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the cached transcript of the selected agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}

			transcript, err := options.client.History(cmd.Context(), agent)
			if err != nil {
				return requestFailed(cmd, "cannot read history", err)
			}

			printer.Transcript(cmd.OutOrStdout(), agent, transcript)
			return nil
		},
	}
}

func newAppendCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <role> <content...>",
		Short: "Queue appending a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}
			role, err := scribe.ParseRole(args[0])
			if err != nil {
				return printer.Error(cmd.ErrOrStderr(), "invalid role", err, "use user, assistant or system")
			}

			ack, err := options.client.Append(cmd.Context(), agent, scribe.NewMessage(role, joinArgs(args[1:])))
			if err != nil {
				return requestFailed(cmd, "cannot append message", err)
			}

			printAck(cmd, ack)
			return nil
		},
	}
}

func newEditCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <index> <content...>",
		Short: "Queue replacing the content of a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}
			index, err := parseIndex(args[0])
			if err != nil {
				return printer.Error(cmd.ErrOrStderr(), "invalid index", err)
			}

			ack, err := options.client.Modify(cmd.Context(), agent, index, joinArgs(args[1:]))
			if err != nil {
				return requestFailed(cmd, "cannot edit message", err)
			}

			printAck(cmd, ack)
			return nil
		},
	}
}

func newDeleteCommand(options *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index>",
		Short: "Queue removing a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := options.requireAgent(cmd)
			if err != nil {
				return err
			}
			index, err := parseIndex(args[0])
			if err != nil {
				return printer.Error(cmd.ErrOrStderr(), "invalid index", err)
			}

			ack, err := options.client.Remove(cmd.Context(), agent, index)
			if err != nil {
				return requestFailed(cmd, "cannot delete message", err)
			}

			printAck(cmd, ack)
			return nil
		},
	}
}

func printAck(cmd *cobra.Command, ack client.Ack) {
	printer.Success(cmd.OutOrStdout(), "%s", ack.Status)
	if ack.Warning != "" {
		printer.Warning(cmd.OutOrStdout(), "%s in cache; the edit is still queued", ack.Warning)
	}
}

func parseIndex(raw string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse index %q: %w", raw, err)
	}
	if index < 0 {
		return 0, fmt.Errorf("parse index %q: must be >= 0", raw)
	}

	return index, nil
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
