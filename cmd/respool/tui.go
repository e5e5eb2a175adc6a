package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/go-i2p/respool/lib/tui"
)

func newTUICmd(opts *globalOptions) *cobra.Command {
	var (
		flags   connectFlags
		refresh time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			cc := flags.clientConfig(cfg)

			app, err := tui.New(tui.Config{
				RPCSocketPath:   cc.UnixSocketPath,
				RPCAddress:      cc.TCPAddress,
				RPCAuthFile:     cc.AuthFile,
				RefreshInterval: refresh,
			})
			if err != nil {
				return fmt.Errorf("connecting to daemon (is respool serve running?): %w", err)
			}
			defer app.Close()

			p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running TUI: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&refresh, "refresh", 2*time.Second, "refresh interval")
	return cmd
}
