// Package commands implements the scribectl command tree.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ex-scribe/internal/client"
	"ex-scribe/internal/printer"

	"github.com/spf13/cobra"
)

var versionInfo = "dev"

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(version string, commit string) {
	versionInfo = fmt.Sprintf("%s (commit: %s)", version, commit)
}

// Execute runs the command tree until completion or an interrupt.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCommand().ExecuteContext(ctx)
}

type globalOptions struct {
	profilePath string
	server      string
	agent       string
	timeout     time.Duration

	profile client.Profile
	client  *client.Client
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	options := &globalOptions{}

	root := &cobra.Command{
		Use:   "scribectl",
		Short: "Inspect and edit scribe agent transcripts",
		Long: `scribectl talks to the scribe web frontend. It lists agents, prints
cached transcripts, queues edits and streams prompts.

Connection settings come from a YAML profile (see the profile command) and
can be overridden per invocation with flags.`,
		Version:       versionInfo,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return options.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&options.profilePath, "profile", "", "profile path (default $"+client.ProfileEnv+" or the user config dir)")
	flags.StringVar(&options.server, "server", "", "server base URL")
	flags.StringVarP(&options.agent, "agent", "a", "", "agent id")
	flags.DurationVar(&options.timeout, "timeout", 0, "request timeout")

	root.AddCommand(
		newAgentsCommand(options),
		newHistoryCommand(options),
		newAppendCommand(options),
		newEditCommand(options),
		newDeleteCommand(options),
		newPromptCommand(options),
		newTUICommand(options),
		newProfileCommand(options),
	)

	return root
}

func (o *globalOptions) resolve(cmd *cobra.Command) error {
	path := o.profilePath
	if path == "" {
		resolved, err := client.DefaultProfilePath()
		if err != nil {
			return printer.Error(cmd.ErrOrStderr(), "cannot locate profile", err, "pass --profile explicitly")
		}
		path = resolved
	}
	o.profilePath = path

	profile, err := client.LoadProfile(path)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid profile", err)
	}
	if o.server != "" {
		profile.Server = o.server
	}
	if o.agent != "" {
		profile.Agent = o.agent
	}
	if o.timeout > 0 {
		profile.Timeout = o.timeout
	}
	if err := profile.Validate(); err != nil {
		return printer.Error(cmd.ErrOrStderr(), "invalid connection settings", err)
	}
	o.profile = profile

	scribeClient, err := client.FromProfile(profile)
	if err != nil {
		return printer.Error(cmd.ErrOrStderr(), "cannot create client", err)
	}
	o.client = scribeClient

	return nil
}

func (o *globalOptions) requireAgent(cmd *cobra.Command) (string, error) {
	agent := strings.TrimSpace(o.profile.Agent)
	if agent == "" {
		return "", printer.Error(cmd.ErrOrStderr(), "no agent selected", nil,
			"pass --agent or set agent in the profile",
			"run scribectl agents to list agents",
		)
	}

	return agent, nil
}

func requestFailed(cmd *cobra.Command, title string, err error) error {
	if client.IsNotFound(err) {
		return printer.Error(cmd.ErrOrStderr(), title, err, "run scribectl agents and scribectl history to check ids and indexes")
	}

	return printer.Error(cmd.ErrOrStderr(), title, err)
}
