package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"alarmd/internal/alarm"
	"alarmd/internal/engine"
	"alarmd/internal/store"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List alarms with their next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEnv(cmd, func(_ context.Context, e *env) error {
				alarms := store.SortedByName(e.store.List())
				rows := make([]listRow, 0, len(alarms))
				now := c.now()
				for _, a := range alarms {
					row := listRow{Alarm: a}
					if a.Enabled {
						if occ, err := engine.Preview(a, now, 1, e.resolveOptions()); err == nil && len(occ) > 0 {
							row.Next = occ[0].At
						}
					}
					rows = append(rows, row)
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				return writeList(cmd.OutOrStdout(), rows, e.engCfg.Location)
			})
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one alarm and its upcoming fire times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(_ context.Context, e *env) error {
				a, err := e.store.Get(args[0])
				if err != nil {
					return err
				}
				var occ []engine.Occurrence
				if a.Enabled {
					if occ, err = engine.Preview(a, c.now(), n, e.resolveOptions()); err != nil {
						return err
					}
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), showView{Alarm: a, Upcoming: occ})
				}
				return writeShow(cmd.OutOrStdout(), a, occ, e.engCfg.Location)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 3, "upcoming fire times to show")
	return cmd
}

func (c *cli) previewCmd() *cobra.Command {
	var (
		n        int
		override string
	)
	cmd := &cobra.Command{
		Use:   "preview <id>",
		Short: "Preview upcoming fire times, optionally under a debug override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(_ context.Context, e *env) error {
				a, err := e.store.Get(args[0])
				if err != nil {
					return err
				}
				opt := e.resolveOptions()
				if override != "" {
					if opt.Override, err = alarm.ParseRule(override); err != nil {
						return err
					}
				}
				occ, err := engine.Preview(a, c.now(), n, opt)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), occ)
				}
				return writeOccurrences(cmd.OutOrStdout(), occ, e.engCfg.Location)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 5, "fire times to list")
	cmd.Flags().StringVar(&override, "override", "", "rule applied in place of every repeat rule")
	return cmd
}

// settingsFlags are shared by add and settings.
type settingsFlags struct {
	repeat   string
	ringtone string
	snooze   bool
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repeat, "repeat", "none", "none, daily, weekly, hourly, minutely or every:<N>s")
	cmd.Flags().StringVar(&f.ringtone, "ringtone", alarm.RingtoneDefault, "Default, Ringtone1, Ringtone2 or Ringtone3")
	cmd.Flags().BoolVar(&f.snooze, "snooze", false, "allow snoozing")
}

func (f *settingsFlags) settings() (alarm.RingSettings, error) {
	r, err := alarm.ParseRule(f.repeat)
	if err != nil {
		return alarm.RingSettings{}, err
	}
	return alarm.RingSettings{Repeat: r, Ringtone: f.ringtone, Snooze: f.snooze}, nil
}

func (c *cli) addCmd() *cobra.Command {
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an alarm",
	}
	add.AddCommand(c.addSingleCmd(), c.addEventCmd())
	return add
}

func (c *cli) addSingleCmd() *cobra.Command {
	var (
		name, date, tod, desc, days string
		disabled                    bool
		sf                          settingsFlags
	)
	cmd := &cobra.Command{
		Use:   "single",
		Short: "Create an alarm with one date and time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sf.settings()
			if err != nil {
				return err
			}
			wd, err := alarm.ParseWeekdays(days)
			if err != nil {
				return err
			}
			a := alarm.NewSingle(name, date, tod, s)
			a.Description = desc
			a.Days = wd
			a.Enabled = !disabled
			return c.create(cmd, a)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "alarm name")
	cmd.Flags().StringVar(&date, "date", "", "date: YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&tod, "time", "", "time of day: HH:MM[:SS] or RFC 3339")
	cmd.Flags().StringVar(&desc, "description", "", "free text")
	cmd.Flags().StringVar(&days, "days", "", "weekday selection, e.g. MO,WE,FR")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the alarm disabled")
	sf.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func (c *cli) addEventCmd() *cobra.Command {
	var (
		name, desc string
		instances  []string
		disabled   bool
		sf         settingsFlags
	)
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create an alarm with several dated instances",
		Example: `  alarmd add event --name Meds \
    --instance "2026-10-15 08:00 daily" --instance "2026-10-15 20:00 daily"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sf.settings()
			if err != nil {
				return err
			}
			var ins []alarm.Instance
			for _, raw := range instances {
				in, err := parseInstance(raw)
				if err != nil {
					return err
				}
				ins = append(ins, in)
			}
			a := alarm.NewEvent(name, s, ins...)
			a.Description = desc
			a.Enabled = !disabled
			return c.create(cmd, a)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "alarm name")
	cmd.Flags().StringVar(&desc, "description", "", "free text")
	cmd.Flags().StringArrayVar(&instances, "instance", nil, `instance as "DATE TIME [RULE]" (repeatable)`)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the alarm disabled")
	sf.register(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// parseInstance reads "DATE TIME [RULE]".
func parseInstance(raw string) (alarm.Instance, error) {
	f := strings.Fields(raw)
	if len(f) < 2 || len(f) > 3 {
		return alarm.Instance{}, alarm.Invalid("instance", "want \"DATE TIME [RULE]\", got %q", raw)
	}
	in := alarm.Instance{Date: f[0], Time: f[1]}
	if len(f) == 3 {
		r, err := alarm.ParseRule(f[2])
		if err != nil {
			return alarm.Instance{}, err
		}
		in.Repeat = r
	}
	return in, nil
}

func (c *cli) create(cmd *cobra.Command, a alarm.Alarm) error {
	return c.withEnv(cmd, func(ctx context.Context, e *env) error {
		created, err := e.store.Create(ctx, a)
		if err != nil {
			return err
		}
		return c.printAlarm(cmd, created)
	})
}

func (c *cli) printAlarm(cmd *cobra.Command, a alarm.Alarm) error {
	if c.jsonOut {
		return writeJSON(cmd.OutOrStdout(), a)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), a.ID)
	return err
}

// update wraps store.Update for the single-field edit commands.
func (c *cli) update(cmd *cobra.Command, id string, fn func(*alarm.Alarm) error) error {
	return c.withEnv(cmd, func(ctx context.Context, e *env) error {
		a, err := e.store.Update(ctx, id, fn)
		if err != nil {
			return err
		}
		return c.printAlarm(cmd, a)
	})
}

func (c *cli) instanceCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "instance",
		Short: "Edit the instances of an event alarm",
	}

	var addFl, updFl instanceFlags
	add := &cobra.Command{
		Use:   "add <alarm-id>",
		Short: "Append an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := alarm.Instance{Date: addFl.date, Time: addFl.tod, Description: addFl.desc}
			r, err := alarm.ParseRule(addFl.repeat)
			if err != nil {
				return err
			}
			in.Repeat = r
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				_, added, err := e.store.AddInstance(ctx, args[0], in)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), added)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), added.ID)
				return err
			})
		},
	}
	addFl.register(add, true)
	_ = add.MarkFlagRequired("time")

	upd := &cobra.Command{
		Use:   "update <alarm-id> <instance-id>",
		Short: "Change an instance; only the given flags are applied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			var rule alarm.Rule
			if fl.Changed("repeat") {
				r, err := alarm.ParseRule(updFl.repeat)
				if err != nil {
					return err
				}
				rule = r
			}
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				a, err := e.store.UpdateInstance(ctx, args[0], args[1], func(in *alarm.Instance) error {
					if fl.Changed("date") {
						in.Date = updFl.date
					}
					if fl.Changed("time") {
						in.Time = updFl.tod
					}
					if fl.Changed("description") {
						in.Description = updFl.desc
					}
					if fl.Changed("repeat") {
						in.Repeat = rule
					}
					return nil
				})
				if err != nil {
					return err
				}
				return c.printAlarm(cmd, a)
			})
		},
	}
	updFl.register(upd, false)

	rm := &cobra.Command{
		Use:   "remove <alarm-id> <instance-id>",
		Short: "Drop an instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				a, err := e.store.RemoveInstance(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.printAlarm(cmd, a)
			})
		},
	}

	root.AddCommand(add, upd, rm)
	return root
}

type instanceFlags struct {
	date, tod, desc, repeat string
}

func (f *instanceFlags) register(cmd *cobra.Command, withDefault bool) {
	def := ""
	if withDefault {
		def = "none"
	}
	cmd.Flags().StringVar(&f.date, "date", "", "date: YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&f.tod, "time", "", "time of day: HH:MM[:SS] or RFC 3339")
	cmd.Flags().StringVar(&f.desc, "description", "", "free text")
	cmd.Flags().StringVar(&f.repeat, "repeat", def, "none, daily, weekly, hourly, minutely or every:<N>s")
}

func (c *cli) enableCmd(enabled bool) *cobra.Command {
	use, short := "enable", "Enable an alarm"
	if !enabled {
		use, short = "disable", "Disable an alarm"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, args[0], func(a *alarm.Alarm) error {
				a.Enabled = enabled
				return nil
			})
		},
	}
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an alarm",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, args[0], func(a *alarm.Alarm) error {
				a.Name = args[1]
				return nil
			})
		},
	}
}

func (c *cli) rescheduleCmd() *cobra.Command {
	var date, tod string
	cmd := &cobra.Command{
		Use:   "reschedule <id>",
		Short: "Move a single alarm to a new date and time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, args[0], func(a *alarm.Alarm) error {
				if a.Kind != alarm.KindSingle || a.Single == nil {
					return alarm.Invalid("kind", "alarm %q is not a single alarm; use instance update", a.ID)
				}
				a.Single.Date = strings.TrimSpace(date)
				a.Single.Time = strings.TrimSpace(tod)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date: YYYY-MM-DD or RFC 3339")
	cmd.Flags().StringVar(&tod, "time", "", "time of day: HH:MM[:SS] or RFC 3339")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	var sf settingsFlags
	cmd := &cobra.Command{
		Use:   "settings <id>",
		Short: "Change ring settings; only the given flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			var rule alarm.Rule
			if fl.Changed("repeat") {
				r, err := alarm.ParseRule(sf.repeat)
				if err != nil {
					return err
				}
				rule = r
			}
			return c.update(cmd, args[0], func(a *alarm.Alarm) error {
				if fl.Changed("repeat") {
					a.Settings.Repeat = rule
				}
				if fl.Changed("ringtone") {
					a.Settings.Ringtone = sf.ringtone
				}
				if fl.Changed("snooze") {
					a.Settings.Snooze = sf.snooze
				}
				return nil
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an alarm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEnv(cmd, func(ctx context.Context, e *env) error {
				removed, err := e.store.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return &alarm.NotFoundError{AlarmID: args[0]}
				}
				return nil
			})
		},
	}
}
