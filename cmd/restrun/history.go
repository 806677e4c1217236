package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/history"
	"github.com/unkn0wn-root/restrun/internal/report"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		project string
		request string
		run     string
		search  string
		limit   int
		wipe    bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past executions, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if a.history == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "History is disabled in settings")
				return nil
			}
			if wipe {
				if err := a.history.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
				return nil
			}

			if err := a.history.Load(); err != nil {
				return err
			}
			var entries []history.Entry
			switch {
			case strings.TrimSpace(run) != "":
				entries = a.history.ByRun(strings.TrimSpace(run))
			case strings.TrimSpace(project) != "":
				p, err := a.store.Project(cmd.Context(), project)
				if err != nil {
					return err
				}
				entries = a.history.ByProject(p.ID)
			case strings.TrimSpace(request) != "":
				entries = a.history.ByRequest(request)
			default:
				entries = a.history.Entries()
			}
			if project != "" && request != "" {
				entries = filterRequest(entries, request)
			}
			if strings.TrimSpace(search) != "" {
				entries = filterSearch(entries, a.history.Search(search))
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			if asJSON {
				if entries == nil {
					entries = []history.Entry{}
				}
				return report.WriteJSON(cmd.OutOrStdout(), entries)
			}
			a.console.History(entries)
			return nil
		}),
	}
	flags := cmd.Flags()
	flags.StringVarP(&project, "project", "p", "", "Only executions of this project (id or name)")
	flags.StringVarP(&request, "request", "r", "", "Only executions of this request (id or name)")
	flags.StringVar(&run, "run", "", "Only executions of one collection run")
	flags.StringVarP(&search, "search", "s", "", "Only executions whose name, method or URL contain these words")
	flags.IntVarP(&limit, "limit", "n", 20, "Maximum number of entries (0 for all)")
	flags.BoolVar(&wipe, "clear", false, "Delete all history")
	flags.BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func filterRequest(entries []history.Entry, ref string) []history.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.RequestID == ref || strings.EqualFold(e.RequestName, ref) {
			out = append(out, e)
		}
	}
	return out
}

// filterSearch keeps the entries that also appear in matched.
func filterSearch(entries, matched []history.Entry) []history.Entry {
	ids := make(map[string]struct{}, len(matched))
	for _, e := range matched {
		ids[e.ID] = struct{}{}
	}
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := ids[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}
