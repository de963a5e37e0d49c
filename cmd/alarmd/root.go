package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"alarmd/internal/alarm"
	"alarmd/internal/app"
	"alarmd/internal/config"
	"alarmd/internal/engine"
	"alarmd/internal/recurrence"
	"alarmd/internal/storage"
	"alarmd/internal/store"
	logx "alarmd/pkg/logx"
)

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	configPath string
	jsonOut    bool
	now        func() time.Time
}

func newRootCmd() *cobra.Command {
	c := &cli{now: time.Now}
	root := &cobra.Command{
		Use:   "alarmd",
		Short: "Alarm scheduling daemon and store editor",
		Long: `alarmd keeps user alarms armed as local notifications.

"alarmd run" starts the daemon. Every other command edits the alarm store
directly; a running daemon watching a file store picks the change up and
reconciles its armed events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "./alarmd.yaml", "config file (JSON or YAML)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		c.runCmd(),
		c.listCmd(),
		c.showCmd(),
		c.previewCmd(),
		c.addCmd(),
		c.instanceCmd(),
		c.enableCmd(true),
		c.enableCmd(false),
		c.renameCmd(),
		c.rescheduleCmd(),
		c.settingsCmd(),
		c.deleteCmd(),
		c.debugCmd(),
	)
	return root
}

func (c *cli) runCmd() *cobra.Command {
	var override string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.NewApp(ctx, c.configPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}
			if override != "" {
				r, err := alarm.ParseRule(override)
				if err == nil {
					err = a.Engine().SetDebugOverride(ctx, r)
				}
				if err != nil && !errors.Is(err, alarm.ErrScheduling) {
					stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = a.Stop(stopCtx, app.StopFatalError)
					return fmt.Errorf("--debug-override: %w", err)
				}
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			stopErr := a.Stop(stopCtx, reason)
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().StringVar(&override, "debug-override", "", "replace every repeat rule (e.g. every:10s) until the next config reload")
	return cmd
}

// env is an opened store for the offline commands.
type env struct {
	cfg     *config.Config
	engCfg  engine.Config
	backend storage.Store
	store   *store.Store
}

func (c *cli) open(ctx context.Context) (*env, error) {
	m := config.NewConfigManager(c.configPath)
	cfg, err := m.Load(ctx)
	if err != nil {
		return nil, err
	}
	engCfg, err := app.MapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := app.MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole("warn")
	backend, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	st := store.New(backend, store.Options{Check: recurrence.Check(engCfg.Location), Now: c.now}, log)
	if err := st.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return &env{cfg: cfg, engCfg: engCfg, backend: backend, store: st}, nil
}

func (e *env) Close() error { return e.backend.Close() }

func (e *env) resolveOptions() recurrence.Options {
	return recurrence.Options{Location: e.engCfg.Location, Override: e.engCfg.Override}
}

// withEnv opens the store around fn.
func (c *cli) withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
