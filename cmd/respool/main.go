// respool runs and inspects bounded resource pools.
//
// The daemon ("respool serve") builds the pools listed in its config file,
// serves them over JSON-RPC on a Unix socket (and optionally TCP) and over
// an HTTP API. The other subcommands talk to a running daemon.
//
// Usage:
//
//	respool serve                     Start the daemon
//	respool rpc <method> [params]     Execute an RPC method
//	respool tui                       Launch the interactive TUI
//	respool bench                     Exercise an in-process buffer pool
//	respool version                   Print version information
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/go-i2p/respool/lib/config"
	"github.com/go-i2p/respool/version"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	dataDir    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".respool", "config.toml")
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "respool",
		Short: "respool - bounded resource pools with RPC and HTTP control",
		Long: `respool keeps named pools of reusable resources (TCP connections,
scratch buffers) within configured bounds, recycling idle and expired
entries in the background.

Run "respool serve" to start the daemon; the rpc and tui subcommands
connect to it over its control socket.`,
		Version:      version.Full(),
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath(), "path to configuration file (.toml, .yaml)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newRPCCmd(opts),
		newTUICmd(opts),
		newBenchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// logger returns the text logger used by the command line tools.
func (o *globalOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file and applies command line overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", o.configPath, err)
	}
	if o.dataDir != "" {
		cfg.Daemon.DataDir = o.dataDir
	}
	return cfg, nil
}
