package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-i2p/respool/lib/config"
	"github.com/go-i2p/respool/lib/rpc"
)

// connectFlags selects how a client reaches the daemon.
type connectFlags struct {
	socket   string
	address  string
	authFile string
	timeout  time.Duration
}

func (f *connectFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.socket, "socket", "", "RPC Unix socket (default from config)")
	fs.StringVar(&f.address, "address", "", "RPC TCP address; takes precedence over --socket")
	fs.StringVar(&f.authFile, "auth-file", "", "RPC auth token file (default from config)")
	fs.DurationVar(&f.timeout, "timeout", rpc.DefaultClientTimeout, "request timeout")
}

// clientConfig fills unset flags from cfg.
func (f *connectFlags) clientConfig(cfg *config.Config) rpc.ClientConfig {
	cc := rpc.ClientConfig{
		UnixSocketPath: f.socket,
		TCPAddress:     f.address,
		AuthFile:       f.authFile,
		Timeout:        f.timeout,
	}
	if cc.TCPAddress != "" {
		cc.UnixSocketPath = ""
	} else if cc.UnixSocketPath == "" {
		cc.UnixSocketPath = cfg.DataPath(cfg.RPC.Socket)
	}
	if cc.AuthFile == "" {
		cc.AuthFile = cfg.DataPath(cfg.RPC.AuthFile)
	}
	return cc
}

func newRPCCmd(opts *globalOptions) *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "rpc <method> [params]",
		Short: "Execute an RPC method against the daemon",
		Long: `Calls a JSON-RPC method and prints the result as JSON.

params is either a JSON value or a bare pool name, which is sent as
{"name": "<pool>"}.

Methods:
  ping, status, pools.list
  pools.stats [name], pools.resources <name>, pools.reap <name>
  pools.resize {"name": ..., "min_size": ..., "max_size": ...}
  pools.unregister <name>`,
		Example: `  respool rpc status
  respool rpc pools.stats db
  respool rpc pools.resize '{"name":"db","min_size":2,"max_size":8}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			var params any
			if len(args) == 2 {
				params = rpcParams(args[1])
			}

			client, err := rpc.NewClient(flags.clientConfig(cfg))
			if err != nil {
				return fmt.Errorf("connecting to daemon (is respool serve running?): %w", err)
			}
			defer client.Close()

			var result json.RawMessage
			if err := client.Call(cmd.Context(), args[0], params, &result); err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	flags.register(cmd)
	return cmd
}

// rpcParams turns a command line argument into call params.
func rpcParams(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return rpc.PoolParams{Name: arg}
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}
