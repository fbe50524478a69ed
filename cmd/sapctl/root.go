package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultRelayURL = "http://localhost:8080"
	passwordEnv     = "SAPCTL_PASSWORD"
	relayURLEnv     = "SAPCTL_RELAY_URL"
)

// globalOptions は全サブコマンドで共通のフラグです。
type globalOptions struct {
	relayURL string
	stateDir string
	timeout  time.Duration
	verbose  bool
}

// NewRootCmd は sapctl のルートコマンドを作成します。
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "sapctl",
		Short: "sapctl - SAP relay client",
		Long: `sapctl logs in to the SAP relay and calls its mutation operations.
The session token is kept in the state directory between invocations.`,
		SilenceUsage: true,
	}

	relayURL := os.Getenv(relayURLEnv)
	if relayURL == "" {
		relayURL = defaultRelayURL
	}

	cmd.PersistentFlags().StringVar(&opts.relayURL, "relay-url", relayURL, "relay base URL (env "+relayURLEnv+")")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", defaultStateDir(), "directory holding the session files")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log session events to stderr")

	cmd.AddCommand(NewLoginCmd(opts))
	cmd.AddCommand(NewStatusCmd(opts))
	cmd.AddCommand(NewLogoutCmd(opts))
	cmd.AddCommand(NewPostCmd(opts))

	return cmd
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".sapctl"
	}
	return filepath.Join(dir, "sapctl")
}
