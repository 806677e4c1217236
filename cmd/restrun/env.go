package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/store"
	"github.com/unkn0wn-root/restrun/internal/vars"
)

func newEnvCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage environments and the active environment",
		Long: heredoc.Doc(`
			Environments hold the variables that {{name}} placeholders resolve
			to. At most one environment is active; scripts read and write it
			through pm.environment and their writes are saved.
		`),
	}
	cmd.AddCommand(
		newEnvListCmd(g),
		newEnvUseCmd(g),
		newEnvClearCmd(g),
		newEnvShowCmd(g),
		newEnvImportCmd(g),
		newEnvSetCmd(g),
		newEnvUnsetCmd(g),
	)
	return cmd
}

func newEnvListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List environments",
		Args:    cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			envs, err := a.store.Environments(cmd.Context())
			if err != nil {
				return err
			}
			active := ""
			if env, ok := a.env.Environment(); ok {
				active = env.ID
			}
			a.console.Environments(envs, active)
			return nil
		}),
	}
}

func newEnvUseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Make an environment active",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			env, err := a.store.EnvironmentByName(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.store.SetActiveEnvironment(ctx, env.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active environment: %s\n", env.Name)
			return nil
		}),
	}
}

func newEnvClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Deactivate the active environment",
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.store.ClearActiveEnvironment(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No active environment")
			return nil
		}),
	}
}

func newEnvShowCmd(g *globalFlags) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Print the variables of an environment (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			var env restfile.Environment
			if len(args) == 1 {
				found, err := a.store.EnvironmentByName(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				env = found
			} else {
				active, ok := a.env.Environment()
				if !ok {
					return errdef.New(errdef.CodeConfig, "no active environment; pass a name or run `restrun env use <name>`")
				}
				env = active
			}
			a.console.Variables(env, reveal)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secret looking values instead of masking them")
	return cmd
}

func newEnvImportCmd(g *globalFlags) *cobra.Command {
	var activate string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import environments from a .env, JSON or YAML file",
		Long: heredoc.Doc(`
			JSON and YAML files map environment names to variables:

			  {"dev": {"base": "http://localhost:8080"}}

			A dotenv file holds one environment named after the file
			(.env.staging becomes "staging") or after its workspace key.
			Existing environments with the same name are replaced.
		`),
		Args: cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			set, err := vars.LoadEnvironmentFile(args[0])
			if err != nil {
				return err
			}
			names, err := importEnvironments(ctx, a.store, set)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d environments: %s\n", len(names), strings.Join(names, ", "))

			if activate = strings.TrimSpace(activate); activate != "" {
				env, err := a.store.EnvironmentByName(ctx, activate)
				if err != nil {
					return err
				}
				if err := a.store.SetActiveEnvironment(ctx, env.ID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Active environment: %s\n", env.Name)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&activate, "use", "", "Activate this environment after importing")
	return cmd
}

func importEnvironments(ctx context.Context, st *store.Store, set vars.EnvironmentSet) ([]string, error) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		env := restfile.Environment{Name: name, Variables: set[name]}
		if existing, err := st.EnvironmentByName(ctx, name); err == nil {
			env.ID = existing.ID
		}
		if err := st.SaveEnvironment(ctx, env); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func newEnvSetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "set <key=value>...",
		Short:   "Set variables on the active environment",
		Example: "  restrun env set token=abc base=http://localhost:8080",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if _, ok := a.env.Environment(); !ok {
				return errdef.New(errdef.CodeConfig, "no active environment")
			}
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				key = strings.TrimSpace(key)
				if !ok || key == "" {
					return errdef.New(errdef.CodeConfig, "expected key=value, got %q", arg)
				}
				if err := a.env.Store(cmd.Context(), key, value); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newEnvUnsetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>...",
		Short: "Remove variables from the active environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if _, ok := a.env.Environment(); !ok {
				return errdef.New(errdef.CodeConfig, "no active environment")
			}
			for _, key := range args {
				if err := a.env.Delete(cmd.Context(), strings.TrimSpace(key)); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}
