// Package main implements the webbridge CLI.
//
// "webbridge serve" runs the host side of the bridge: it answers the host
// API channels over stdio or NATS and optionally exposes the admin HTTP API.
// "webbridge call" and "webbridge notify" talk to that admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML or TOML config file for serve
	configPath string
	// serverURL is the base URL of the admin HTTP API
	serverURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webbridge",
		Short: "Request/reply bridge between a host and its webview peers",
		Long: `webbridge correlates requests and replies between a host process and a
peer over a message channel, and answers the host API (files, workspace,
state, HTTP) on the host's behalf.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "admin API URL")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newNotifyCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "webbridge by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
