package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/report"
	"github.com/unkn0wn-root/restrun/internal/runner"
)

const (
	formatConsole = "console"
	formatJSON    = "json"
	formatJUnit   = "junit"
)

type outputFlags struct {
	format string
	file   string
}

func (o *outputFlags) register(cmd *cobra.Command, formats ...string) {
	cmd.Flags().StringVarP(&o.format, "format", "f", formatConsole, "Output format: "+strings.Join(formats, ", "))
	cmd.Flags().StringVarP(&o.file, "output", "o", "", "Write the report to a file instead of stdout")
}

func (o *outputFlags) validate(formats ...string) error {
	o.format = strings.ToLower(strings.TrimSpace(o.format))
	for _, f := range formats {
		if o.format == f {
			return nil
		}
	}
	return errdef.New(errdef.CodeConfig, "unknown format %q (want %s)", o.format, strings.Join(formats, ", "))
}

// writer returns where the report goes and a function closing it.
func (o *outputFlags) writer(cmd *cobra.Command) (io.Writer, func() error, error) {
	if o.file == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(o.file)
	if err != nil {
		return nil, nil, errdef.Wrap(errdef.CodeFilesystem, err, "create report %s", o.file)
	}
	return f, f.Close, nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		out   outputFlags
		delay time.Duration
	)
	formats := []string{formatConsole, formatJSON, formatJUnit}
	cmd := &cobra.Command{
		Use:   "run <project>",
		Short: "Run every request of a project in order",
		Long: heredoc.Doc(`
			Run executes the requests of a project one after another against
			the active environment. A failing request never stops the run.
			The command exits with status 1 when a request got no response,
			hit a fatal script error or had a failing test.

			Interrupting a run lets the request in flight finish and reports
			the partial results.
		`),
		Example: heredoc.Doc(`
			$ restrun run users
			$ restrun run users --delay 250ms
			$ restrun run users --format junit --output report.xml
		`),
		Args: cobra.ExactArgs(1),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if err := out.validate(formats...); err != nil {
				return err
			}
			if !cmd.Flags().Changed("delay") {
				delay = a.settings.Runner.Delay.Std()
			}
			ctx := cmd.Context()
			project, err := a.store.Project(ctx, args[0])
			if err != nil {
				return err
			}

			live := out.format == formatConsole && out.file == ""
			opts := runner.Options{Delay: delay}
			if live {
				envName := ""
				if env, ok := a.env.Environment(); ok {
					envName = env.Name
				}
				a.console.RunHeader(project.Name, envName)
				opts.OnResult = func(_, _ int, res runner.RequestRunResult) {
					a.console.RequestLine(res)
				}
			}

			result, err := a.runner(opts).Run(ctx, project.ID)
			if err != nil {
				return err
			}

			if live {
				a.console.Summary(result)
			} else if err := writeCollection(cmd, &out, result); err != nil {
				return err
			}

			switch {
			case result.Cancelled:
				return &exitCodeError{code: exitCancelled}
			case !result.Succeeded():
				return &exitCodeError{code: exitFailed}
			}
			return nil
		}),
	}
	out.register(cmd, formats...)
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between requests (defaults to the runner.delay setting)")
	return cmd
}

func writeCollection(cmd *cobra.Command, out *outputFlags, result *runner.CollectionRunResult) error {
	w, closeFn, err := out.writer(cmd)
	if err != nil {
		return err
	}
	switch out.format {
	case formatJSON:
		err = report.CollectionJSON(w, result)
	case formatJUnit:
		err = report.CollectionJUnit(w, result)
	default:
		report.NewConsole(report.WithWriter(w), report.WithNoColor(true)).Collection(result)
	}
	if cerr := closeFn(); err == nil {
		err = cerr
	}
	if err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write report")
	}
	if out.file != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", out.file)
	}
	return nil
}

func newSendCmd(g *globalFlags) *cobra.Command {
	var out outputFlags
	formats := []string{formatConsole, formatJSON}
	cmd := &cobra.Command{
		Use:   "send <project> <request>",
		Short: "Execute a single request of a project",
		Long: heredoc.Doc(`
			Send runs one request, looked up by id or by name, through the same
			pipeline a collection run uses. Use --verbose to print the
			response body and script console output.
		`),
		Args: cobra.ExactArgs(2),
		RunE: withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			if err := out.validate(formats...); err != nil {
				return err
			}
			res, err := a.runner(runner.Options{}).Send(cmd.Context(), args[0], args[1])
			if err != nil && res.RequestName == "" {
				return err
			}

			w, closeFn, werr := out.writer(cmd)
			if werr != nil {
				return werr
			}
			if out.format == formatJSON {
				werr = report.RequestJSON(w, res)
			} else if out.file != "" {
				report.NewConsole(report.WithWriter(w), report.WithNoColor(true)).Request(res)
			} else {
				a.console.Request(res)
			}
			if cerr := closeFn(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				return errdef.Wrap(errdef.CodeFilesystem, werr, "write report")
			}
			if !res.Success {
				return &exitCodeError{code: exitFailed}
			}
			return nil
		}),
	}
	out.register(cmd, formats...)
	return cmd
}
