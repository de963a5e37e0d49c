package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/engine"
)

const stamp = "Mon 2006-01-02 15:04:05"

type listRow struct {
	alarm.Alarm
	Next time.Time `json:"next,omitempty"`
}

type showView struct {
	alarm.Alarm
	Upcoming []engine.Occurrence `json:"upcoming,omitempty"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeList(w io.Writer, rows []listRow, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tENABLED\tREPEAT\tNEXT")
	for _, r := range rows {
		next := "-"
		if !r.Next.IsZero() {
			next = r.Next.In(loc).Format(stamp)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n", r.ID, r.Name, r.Kind, r.Enabled, repeatOf(r.Alarm), next)
	}
	return tw.Flush()
}

func repeatOf(a alarm.Alarm) string {
	if a.Kind != alarm.KindEvent {
		return a.Settings.Repeat.String()
	}
	seen := map[string]bool{}
	var rules []string
	for _, in := range a.Instances {
		s := in.Repeat.String()
		if !seen[s] {
			seen[s] = true
			rules = append(rules, s)
		}
	}
	if len(rules) == 0 {
		return "-"
	}
	return strings.Join(rules, ",")
}

func writeShow(w io.Writer, a alarm.Alarm, occ []engine.Occurrence, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", a.ID)
	fmt.Fprintf(tw, "name:\t%s\n", a.Name)
	if a.Description != "" {
		fmt.Fprintf(tw, "description:\t%s\n", a.Description)
	}
	fmt.Fprintf(tw, "kind:\t%s\n", a.Kind)
	fmt.Fprintf(tw, "enabled:\t%t\n", a.Enabled)
	fmt.Fprintf(tw, "ringtone:\t%s\n", a.Settings.Ringtone)
	fmt.Fprintf(tw, "snooze:\t%t\n", a.Settings.Snooze)
	if len(a.Days) > 0 {
		days := make([]string, len(a.Days))
		for i, d := range a.Days {
			days[i] = string(d)
		}
		fmt.Fprintf(tw, "days:\t%s\n", strings.Join(days, ","))
	}
	if a.Single != nil {
		fmt.Fprintf(tw, "when:\t%s %s\n", a.Single.Date, a.Single.Time)
		fmt.Fprintf(tw, "repeat:\t%s\n", a.Settings.Repeat)
	}
	for _, in := range a.Instances {
		fmt.Fprintf(tw, "instance %s:\t%s %s (%s) %s\n", in.ID, in.Date, in.Time, in.Repeat, in.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(occ) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return writeOccurrences(w, occ, loc)
}

func writeOccurrences(w io.Writer, occ []engine.Occurrence, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tINSTANCE")
	for _, o := range occ {
		inst := o.InstanceID
		if inst == "" {
			inst = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\n", o.At.In(loc).Format(stamp), inst)
	}
	return tw.Flush()
}
