package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "modeldrop: %s\n", err)
		os.Exit(1)
	}
}

// newRootCmd runs the server when invoked without a subcommand.
func newRootCmd() *cobra.Command {
	var opts serveOptions

	root := &cobra.Command{
		Use:   "modeldrop",
		Short: "Upload, list and share 3D model files",
		Long: `modeldrop stores 3D model files in an S3-compatible bucket, serves
list/delete/signed-URL endpoints for them and pushes live notifications to
websocket clients whenever a model is uploaded.

All settings are read from MD_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	opts.register(root)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	opts.register(serve)

	root.AddCommand(serve, checkConfigCmd(), versionCmd())
	return root
}
