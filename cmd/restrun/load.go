package main

import (
	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/report"
	"github.com/unkn0wn-root/restrun/internal/workspace"
)

func newLoadCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load <workspace.yaml>",
		Short: "Import projects, requests and environments from a workspace file",
		Long: heredoc.Doc(`
			Load writes a YAML workspace into the local store. Loading the same
			file again updates entities in place; requests removed from a
			project are deleted. OAuth2 tokens already obtained for a request
			are kept when the file does not carry one.
		`),
		Example: heredoc.Doc(`
			$ restrun load api.yaml
			$ restrun --config-dir ./.restrun load api.yaml
		`),
		Args: cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ws, err := workspace.Load(args[0])
			if err != nil {
				return err
			}
			sum, err := workspace.Apply(cmd.Context(), a.store, ws)
			if err != nil {
				return err
			}
			a.log.Info("workspace loaded", "path", args[0], "projects", len(sum.Projects), "environments", len(sum.Environments))
			a.console.Loaded(sum)
			return nil
		}),
	}
}

func newProjectsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "projects",
		Aliases: []string{"ls"},
		Short:   "List stored projects",
		Args:    cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			projects, err := a.store.Projects(ctx)
			if err != nil {
				return err
			}
			rows := make([]report.ProjectRow, 0, len(projects))
			for _, p := range projects {
				reqs, err := a.store.ListProjectRequests(ctx, p.ID)
				if err != nil {
					return err
				}
				rows = append(rows, report.ProjectRow{Project: p, Requests: len(reqs)})
			}
			a.console.Projects(rows)
			return nil
		}),
	}
}
