package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-gracelock/v1/config"
	"github.com/mirkobrombin/go-gracelock/v1/core"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/presets"
)

// app carries what every command needs once the configuration is loaded.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:   "gracelock",
		Short: "Cell locks and grace windows for the production tracker",
		Long: `gracelock edits tracker rows the way the dashboard does. Every committed
cell stays editable for a grace window (five minutes by default) and is
locked for good once the window runs out.

Settings come from $XDG_CONFIG_HOME/gracelock/config.yaml and GRACELOCK_*
environment variables, e.g. GRACELOCK_STORE_DRIVER=sqlite.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(a.v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.Logger(cmd.ErrOrStderr())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/gracelock/config.yaml)")
	pf.String("user", "", "email of the acting user")
	pf.Int("tier", int(identity.TierViewer), "permission tier of the acting user (0 admin, 1 editor, 2 operator, 3 viewer)")
	_ = a.v.BindPFlag("identity.email", pf.Lookup("user"))
	_ = a.v.BindPFlag("identity.tier", pf.Lookup("tier"))

	root.AddCommand(
		newServeCmd(a),
		newEditCmd(a),
		newLocksCmd(a),
		newAuditCmd(a),
		newImportCmd(a),
		newUnitsCmd(a),
	)
	return root
}

// session opens the configured backends and a tracker for the acting
// user. The returned close function releases both.
func (a *app) session(ctx context.Context, opts ...core.Option) (*presets.Stack, *core.Tracker, func(), error) {
	stack, err := presets.FromConfig(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open backends: %w", err)
	}
	tr, err := stack.Tracker(stack.Identity(), opts...)
	if err != nil {
		_ = stack.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		tr.Unmount()
		if err := stack.Close(); err != nil {
			a.logger.Warn("gracelock: closing backends failed", "error", err)
		}
	}
	return stack, tr, closeFn, nil
}
