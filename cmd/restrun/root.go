package main

import (
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/config"
)

type globalFlags struct {
	configDir string
	logLevel  string
	verbose   bool
	noColor   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "restrun",
		Short: "Run stored API requests and collections with scripts and OAuth2",
		Long: heredoc.Doc(`
			restrun executes HTTP requests kept in a local project store.

			Each request is resolved against the active environment, gets an
			OAuth2 token when it needs one, runs its pre-request script, is sent
			and then checked by its test script. Whole projects run as
			collections with aggregated test results.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir := strings.TrimSpace(g.configDir); dir != "" {
				return os.Setenv(config.EnvConfigDir, dir)
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configDir, "config-dir", "", "Directory holding settings, the database and history (env: "+config.EnvConfigDir+")")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides settings)")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "Print script console output and response bodies")
	flags.BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newLoadCmd(g),
		newEnvCmd(g),
		newProjectsCmd(g),
		newRunCmd(g),
		newSendCmd(g),
		newOAuthCmd(g),
		newHistoryCmd(g),
		newVersionCmd(),
	)
	return cmd
}
