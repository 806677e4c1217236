package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/restrun/internal/errdef"
	"github.com/unkn0wn-root/restrun/internal/oauth"
	"github.com/unkn0wn-root/restrun/internal/restfile"
	"github.com/unkn0wn-root/restrun/internal/runner"
)

func newOAuthCmd(g *globalFlags) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Obtain or refresh OAuth2 tokens for stored requests",
		Long: heredoc.Doc(`
			Requests with OAuth2 auth get their token automatically while
			running when the grant needs no user: client credentials and
			password. The authorization code grant needs a browser step first.
			Every command here saves the new token onto the request.
		`),
	}
	cmd.PersistentFlags().BoolVar(&showToken, "show-token", false, "Print the access token")

	step := func(use, short string, build func(cmd *cobra.Command) runner.TokenStep) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " <project> <request>",
			Short: short,
			Args:  cobra.ExactArgs(2),
		}
		sub.RunE = withApp(g, func(cmd *cobra.Command, a *app, args []string) error {
			fn := build(cmd)
			tok, err := a.runner(runner.Options{}).Authorize(cmd.Context(), args[0], args[1], fn)
			if err != nil {
				return err
			}
			a.console.Token(args[1], tok, showToken)
			return nil
		})
		return sub
	}

	var (
		noBrowser bool
		timeout   time.Duration
	)
	authorize := step("authorize", "Run the browser authorization code flow", func(cmd *cobra.Command) runner.TokenStep {
		return func(ctx context.Context, m *oauth.Machine) (restfile.Token, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return m.Authorize(ctx, func(link string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to authorize:\n  %s\n", link)
				if noBrowser {
					return nil
				}
				return oauth.OpenBrowser(link)
			})
		}
	})
	authorize.Long = heredoc.Doc(`
		Authorize listens on the request's loopback redirect URL (a free port
		on 127.0.0.1 when none is set), opens the authorization URL and
		exchanges the returned code. PKCE is used when the request enables it.
	`)
	authorize.Flags().BoolVar(&noBrowser, "no-browser", false, "Only print the authorization URL")
	authorize.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the redirect")

	var code string
	exchange := step("exchange", "Exchange an authorization code obtained elsewhere", func(*cobra.Command) runner.TokenStep {
		return func(ctx context.Context, m *oauth.Machine) (restfile.Token, error) {
			if strings.TrimSpace(code) == "" {
				return restfile.Token{}, errdef.New(errdef.CodeOAuth, "--code is required")
			}
			return m.Exchange(ctx, code)
		}
	})
	exchange.Long = heredoc.Doc(`
		Exchange trades a code that was captured outside restrun. No PKCE
		verifier is sent, so clients that require PKCE must use authorize.
	`)
	exchange.Flags().StringVar(&code, "code", "", "Authorization code returned to the redirect URL")

	refresh := step("refresh", "Refresh the stored token with its refresh token", func(*cobra.Command) runner.TokenStep {
		return func(ctx context.Context, m *oauth.Machine) (restfile.Token, error) {
			return m.Refresh(ctx)
		}
	})

	fetch := step("fetch", "Request a new token with the client credentials or password grant", func(*cobra.Command) runner.TokenStep {
		return func(ctx context.Context, m *oauth.Machine) (restfile.Token, error) {
			return m.Acquire(ctx)
		}
	})

	cmd.AddCommand(authorize, exchange, refresh, fetch)
	return cmd
}
