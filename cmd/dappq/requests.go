package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kapetan-io/dappq"
	"github.com/kapetan-io/dappq/transport"
	"github.com/spf13/cobra"
)

// requestCommands returns the commands which call the presentation API of a running daemon
func requestCommands(w io.Writer, flags *FlagParams) []*cobra.Command {
	current := &cobra.Command{
		Use:   "current",
		Short: "Show the request currently presented to the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				var resp transport.CurrentResponse
				if err := c.RequestsCurrent(ctx, &resp); err != nil {
					return err
				}
				if !resp.Found {
					return writeJSON(w, struct{}{})
				}
				return writeJSON(w, resp.Record)
			})
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				var resp transport.StatsResponse
				if err := c.RequestsStats(ctx, &resp); err != nil {
					return err
				}
				return writeJSON(w, resp)
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a queued request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				var resp transport.Record
				if err := c.RequestsGet(ctx, args[0], &resp); err != nil {
					return err
				}
				return writeJSON(w, resp)
			})
		},
	}

	handled := &cobra.Command{
		Use:   "handled <id>",
		Short: "Retire a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsHandled(ctx, args[0])
			})
		},
	}

	deferred := &cobra.Command{
		Use:   "deferred <id>",
		Short: "Step away from a request, leaving it queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsDeferred(ctx, args[0])
			})
		},
	}

	respond := &cobra.Command{
		Use:   "respond [flags] <id>",
		Short: "Send a response to the peer which sent the request and retire it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsRespond(ctx, &transport.RespondRequest{
					ID:      args[0],
					Payload: json.RawMessage(flags.Payload),
				})
			})
		},
	}
	respond.Flags().StringVar(&flags.Payload, "payload", "", "JSON response payload")

	add := &cobra.Command{
		Use:   "add [flags]",
		Short: "Queue an internal request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				var resp transport.AddResponse
				if err := c.RequestsAdd(ctx, &transport.AddRequest{
					Kind:     flags.Kind,
					Payload:  json.RawMessage(flags.Payload),
					Priority: flags.Priority,
				}, &resp); err != nil {
					return err
				}
				return writeJSON(w, resp)
			})
		},
	}
	add.Flags().StringVar(&flags.Kind, "kind", dappq.KindInternal, "Request kind")
	add.Flags().StringVar(&flags.Payload, "payload", "", "JSON request payload")
	add.Flags().BoolVar(&flags.Priority, "priority", false, "Interrupt the current request")

	pause := &cobra.Command{
		Use:   "pause",
		Short: "Stop presenting external requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsPause(ctx)
			})
		},
	}

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume presenting external requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsResume(ctx)
			})
		},
	}

	removeAll := &cobra.Command{
		Use:   "remove-all",
		Short: "Drop every queued request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), flags, func(ctx context.Context, c *dappq.Client) error {
				return c.RequestsRemoveAll(ctx)
			})
		},
	}

	return []*cobra.Command{current, stats, get, handled, deferred, respond, add, pause, resume, removeAll}
}

func withClient(ctx context.Context, flags *FlagParams, fn func(context.Context, *dappq.Client) error) error {
	c, err := dappq.NewClient(dappq.ClientOptions{Endpoint: flags.Endpoint})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()
	return fn(ctx, c)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
