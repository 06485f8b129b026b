package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/perkline/perkline/internal/query"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/token"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "perkline",
		Short:         "Command line client for the Perkline loyalty API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newGetCommand(),
		newTokenCommand(),
		newValidateCommand(),
		newSignOutCommand(),
	)

	return root
}

// withApp builds the shared collaborators for a single command run and
// releases them afterwards.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}()

		return fn(ctx, cmd, a, args)
	}
}

func newGetCommand() *cobra.Command {
	var (
		params  map[string]string
		noCache bool
		refetch bool
		list    bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Read a resource, using the response cache",
		Long: `Read a resource from the loyalty API and print the response.

Responses are cached in memory for the life of a single process only, so
each invocation starts with an empty cache and reaches the network. The
--no-cache, --refetch and --ttl flags shape that in-process cache.`,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			q := query.NewQuery(a.client, query.Options[request.Body]{
				Endpoint:  args[0],
				Params:    params,
				SkipCache: noCache,
				TTL:       ttl,
				Global:    true,
			})
			defer q.Close()

			fetch := q.Activate
			if refetch {
				fetch = q.Refetch
			}

			body, err := fetch(ctx)
			if err != nil {
				return reportedError{err: err}
			}

			if list {
				return printList(cmd.OutOrStdout(), body)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), body.String())
			return err
		}),
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "query parameter, repeatable (key=value)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&refetch, "refetch", false, "fetch from the network and refresh the cached response")
	cmd.Flags().BoolVar(&list, "list", false, "print the response as a list, one item per line")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time to keep the response cached (default from CACHE_TTL)")

	return cmd
}

func printList(w io.Writer, body request.Body) error {
	items, err := query.NormalizeList[json.RawMessage](body)
	if err != nil {
		return err
	}

	for _, item := range items {
		if _, err := fmt.Fprintln(w, string(item)); err != nil {
			return err
		}
	}

	return nil
}

func newTokenCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Show the QR token for the signed-in customer, issuing one when needed",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			get := a.tokens.Get
			if refresh {
				get = a.tokens.Refresh
			}

			tok, err := get(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), a.client.Translate(err))
				return reportedError{err: err}
			}

			return writeJSON(cmd.OutOrStdout(), tok)
		}),
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "issue a new token even if the current one is still valid")

	return cmd
}

func newValidateCommand() *cobra.Command {
	var ids token.Identifiers

	cmd := &cobra.Command{
		Use:   "validate <scanned-token>",
		Short: "Validate and redeem a scanned customer token",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			result, err := a.validator.Validate(ctx, args[0], ids)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Message)
				return reportedError{err: err}
			}

			return writeJSON(cmd.OutOrStdout(), result)
		}),
	}

	cmd.Flags().StringVar(&ids.PartnerID, "partner", "", "partner identifier (default from the access token)")
	cmd.Flags().StringVar(&ids.StoreID, "store", "", "store identifier (default from the access token)")

	return cmd
}

func newSignOutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sign-out",
		Short: "Remove the stored QR token",
		Long: `Remove the QR token persisted by the "token" command, so the next
"token" run issues a new one. Cached responses are never shared between
runs, so there is nothing further to clear on disk.`,
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			if err := a.client.InvalidateAll(ctx); err != nil {
				return fmt.Errorf("cache clear failed: %w", err)
			}

			if err := a.tokens.Revoke(ctx); err != nil {
				return err
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return err
		}),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
