package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
)

func (c *cli) debugCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "debug",
		Short: "Control the debug recurrence override",
		Long: `The debug override replaces every trigger's repeat rule, which makes
repeating alarms fire quickly while testing. It is stored as
engine.debug_override in the config file; a running daemon reloads it.`,
	}

	set := &cobra.Command{
		Use:   "override <rule>",
		Short: "Set the override (e.g. every:10s, minutely)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := alarm.ParseRule(args[0])
			if err != nil {
				return err
			}
			if r.IsNone() {
				return alarm.Invalid("override", "use \"debug clear\" to drop the override")
			}
			if err := config.SetDebugOverride(c.configPath, r.String()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "debug override: %s\n", r)
			return err
		},
	}

	clr := &cobra.Command{
		Use:   "clear",
		Short: "Remove the override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.SetDebugOverride(c.configPath, ""); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "debug override cleared")
			return err
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configured override",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(c.configPath).Load(cmd.Context())
			if err != nil {
				return err
			}
			v := cfg.Engine.DebugOverride
			if v == "" {
				v = "none"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}

	root.AddCommand(set, clr, show)
	return root
}
