package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev-build"

type FlagParams struct {
	ConfigFile string
	EnvFiles   []string
	Endpoint   string
	Timeout    time.Duration
	Kind       string
	Payload    string
	Priority   bool
}

func main() {
	if err := Start(context.Background(), os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Start runs the dappq command line with the provided args, output is written to w
func Start(ctx context.Context, args []string, w io.Writer) error {
	root := newRootCommand(w)
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.ExecuteContext(ctx)
}

func newRootCommand(w io.Writer) *cobra.Command {
	var flags FlagParams

	root := &cobra.Command{
		Use:   "dappq",
		Short: "Coordinate incoming dApp interaction requests",
		Long: `dappq queues interaction requests from connected dApp peers and the wallet's own
flows, and presents them to the user one at a time.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.Endpoint, "endpoint",
		"http://localhost:2319", "The dappq daemon endpoint")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout",
		30*time.Second, "Request timeout")

	server := &cobra.Command{
		Use:   "server",
		Short: "Start the dappq daemon",
		Long: `Start the dappq daemon.

Configuration can be provided via a config file, .env files or DAPPQ_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context(), w, flags)
		},
	}
	server.Flags().StringVar(&flags.ConfigFile, "config", "", "YAML config file")
	server.Flags().StringSliceVar(&flags.EnvFiles, "env-file", nil, ".env files to load")
	root.AddCommand(server)

	root.AddCommand(requestCommands(w, &flags)...)
	return root
}
