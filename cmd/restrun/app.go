package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/config"
	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/history"
	"github.com/unkn0wn-root/restrun/internal/httpclient"
	"github.com/unkn0wn-root/restrun/internal/oauth"
	"github.com/unkn0wn-root/restrun/internal/report"
	"github.com/unkn0wn-root/restrun/internal/runner"
	"github.com/unkn0wn-root/restrun/internal/scripts"
	"github.com/unkn0wn-root/restrun/internal/store"
	"github.com/unkn0wn-root/restrun/internal/telemetry"
	"github.com/unkn0wn-root/restrun/internal/vars"
)

// app holds everything a command needs for one process.
type app struct {
	settings  config.Settings
	log       *slog.Logger
	store     *store.Store
	history   *history.Store
	env       *vars.Active
	client    *httpclient.Client
	oauth     *oauth.Manager
	telemetry telemetry.Instrumenter
	console   *report.Console
}

func withApp(g *globalFlags, fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, g)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func openApp(cmd *cobra.Command, g *globalFlags) (*app, error) {
	ctx := cmd.Context()
	settings, _, err := config.LoadSettings()
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeConfig, err, "load settings")
	}
	if lvl := strings.TrimSpace(g.logLevel); lvl != "" {
		settings.Log.Level = lvl
	}
	log, err := settings.Log.Logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeConfig, err, "log level %q", settings.Log.Level)
	}

	st, err := store.Open(ctx, config.DBPath())
	if err != nil {
		return nil, err
	}
	a := &app{
		settings:  settings,
		log:       log,
		store:     st,
		env:       vars.NewActive(st),
		telemetry: telemetry.Noop(),
		console: report.NewConsole(
			report.WithWriter(cmd.OutOrStdout()),
			report.WithVerbose(g.verbose),
			report.WithNoColor(g.noColor),
		),
	}
	if !settings.History.Disabled {
		a.history = history.NewStore(config.HistoryPath(), settings.History.MaxEntries)
	}

	env, ok, err := st.ActiveEnvironment(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if ok {
		a.env.Activate(env)
	}

	a.client = httpclient.NewClient(httpclient.Options{
		Timeout:            settings.HTTP.Timeout.Std(),
		FollowRedirects:    settings.HTTP.FollowRedirects,
		InsecureSkipVerify: settings.HTTP.Insecure,
		ProxyURL:           settings.HTTP.Proxy,
		MaxBodyBytes:       settings.HTTP.MaxBodyBytes,
	})
	tcfg := telemetryConfig(settings.Telemetry, os.Getenv)
	if instr, err := telemetry.New(tcfg); err != nil {
		log.Warn("telemetry disabled", "endpoint", tcfg.Endpoint, "error", err)
	} else {
		a.telemetry = instr
		a.client.SetTelemetry(instr)
	}

	tokenClient, err := a.client.HTTPClient()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.oauth = oauth.NewManager(tokenClient, log)
	return a, nil
}

// telemetryConfig layers RESTRUN_OTEL_* variables over the file settings.
func telemetryConfig(s config.TelemetrySettings, getenv func(string) string) telemetry.Config {
	base := telemetry.Config{
		Endpoint:    strings.TrimSpace(s.Endpoint),
		Insecure:    s.Insecure,
		ServiceName: strings.TrimSpace(s.Service),
		Version:     version,
		Headers:     s.Headers,
	}
	return base.Merge(telemetry.ConfigFromEnv(getenv))
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.log.Warn("telemetry shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", "error", err)
	}
}

func (a *app) runner(opts runner.Options) *runner.Runner {
	popts := runner.PipelineOptions{
		Transport: a.client,
		Scripts: scripts.NewRunner(scripts.Options{
			Timeout: a.settings.Scripts.Timeout.Std(),
			Logger:  a.log,
		}),
		OAuth:  a.oauth,
		Env:    a.env,
		Auth:   a.store,
		Logger: a.log,
	}
	if a.history != nil {
		popts.History = a.history
	}
	opts.Telemetry = a.telemetry
	opts.Logger = a.log
	return runner.NewRunner(a.store, runner.NewPipeline(popts), opts)
}
