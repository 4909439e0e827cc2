package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/xtxerr/rigwatch/internal/client"
	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/httpapi"
	"github.com/xtxerr/rigwatch/internal/storage/config"
)

// CLI runs commands against one daemon.
type CLI struct {
	client *client.Client
	out    io.Writer
	json   bool
}

type command struct {
	name  string
	usage string
	help  string
	run   func(c *CLI, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"stats", "stats [machines]", "row counts and sizes per resolution, or per machine", (*CLI).stats},
		{"health", "health", "daemon health and job status", (*CLI).health},
		{"retention", "retention [set raw=N hourly=N daily=N]", "show or change retention windows (days, 0 = keep forever)", (*CLI).retention},
		{"cleanup", "cleanup <resolution> <older-than> [machine]", "delete rows older than an age, e.g. cleanup raw 3d", (*CLI).cleanup},
		{"reaggregate", "reaggregate <machine> <start> <end> [resolution]", "recompute summaries over [start, end)", (*CLI).reaggregate},
		{"machines", "machines [active]", "list registered machines", (*CLI).machines},
		{"activate", "activate <machine>", "mark a machine active", (*CLI).activate},
		{"deactivate", "deactivate <machine>", "mark a machine inactive", (*CLI).deactivate},
		{"flush", "flush", "write all queued samples now", (*CLI).flush},
	}
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// Exec runs one command line.
func (c *CLI) Exec(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(c, ctx, args[1:])
}

// =============================================================================
// Administration
// =============================================================================

func (c *CLI) stats(ctx context.Context, args []string) error {
	perMachine := len(args) == 1 && args[0] == "machines"
	if len(args) > 0 && !perMachine {
		return fmt.Errorf("usage: stats [machines]")
	}

	stats, err := c.client.Stats(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(stats)
	}

	if perMachine {
		t := c.table("Machine", "Resolution", "Rows", "Size (est.)", "Oldest")
		for _, u := range stats.Usage {
			t.Append([]string{
				u.MachineID,
				u.Tier.String(),
				strconv.FormatInt(u.Rows, 10),
				config.FormatBytes(u.EstimatedBytes),
				formatAge(u.OldestAge(stats.GeneratedAt)),
			})
		}
		t.Render()
		return nil
	}

	fmt.Fprintf(c.out, "uptime %s, %d machines live, %d watchers\n\n",
		stats.Uptime.Round(time.Second), stats.Live.Machines, stats.Live.Watchers)

	t := c.table("Resolution", "Rows", "Size (est.)", "Oldest")
	for _, tot := range stats.Totals {
		t.Append([]string{
			tot.Tier.String(),
			strconv.FormatInt(tot.Rows, 10),
			config.FormatBytes(tot.EstimatedBytes),
			formatAge(tot.OldestAge),
		})
	}
	t.Render()
	return nil
}

func (c *CLI) health(ctx context.Context, _ []string) error {
	h, err := c.client.Health(ctx)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(h)
	}

	fmt.Fprintf(c.out, "status %s, store %s, queue %d (%.0f%%), backpressure %s\n\n",
		h.Status, h.Store, h.BufferCount, h.BufferUsage*100, h.Backpressure)

	t := c.table("Job", "Runs", "Failures", "Last run", "Next run", "Last error")
	for _, j := range h.Jobs {
		t.Append([]string{
			j.Job,
			strconv.FormatInt(j.Runs, 10),
			strconv.FormatInt(j.Failures, 10),
			formatTime(j.LastRun),
			formatTime(j.NextRun),
			j.LastError,
		})
	}
	t.Render()
	return nil
}

func (c *CLI) retention(ctx context.Context, args []string) error {
	cfg, err := c.client.Retention(ctx)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		if args[0] != "set" || len(args) == 1 {
			return fmt.Errorf("usage: retention [set raw=N hourly=N daily=N]")
		}
		for _, kv := range args[1:] {
			key, val, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("expected key=days, got %q", kv)
			}
			days, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "raw":
				cfg.RawDays = days
			case "hourly":
				cfg.HourlyDays = days
			case "daily":
				cfg.DailyDays = days
			default:
				return fmt.Errorf("unknown resolution %q", key)
			}
		}
		if cfg, err = c.client.SetRetention(ctx, cfg); err != nil {
			return err
		}
	}

	if c.json {
		return c.printJSON(cfg)
	}
	t := c.table("Resolution", "Days")
	t.Append([]string{"raw", formatDays(cfg.RawDays)})
	t.Append([]string{"hourly", formatDays(cfg.HourlyDays)})
	t.Append([]string{"daily", formatDays(cfg.DailyDays)})
	t.Render()
	return nil
}

func (c *CLI) cleanup(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: cleanup <resolution> <older-than> [machine]")
	}
	machine := ""
	if len(args) == 3 {
		machine = args[2]
	}
	res, err := c.client.Cleanup(ctx, args[0], args[1], machine)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(res)
	}
	if res.Skipped {
		fmt.Fprintf(c.out, "%s: skipped\n", res.Tier)
		return nil
	}
	fmt.Fprintf(c.out, "%s: deleted %d rows before %s\n",
		res.Tier, res.Deleted, formatTime(time.UnixMilli(res.CutoffMs)))
	return nil
}

func (c *CLI) reaggregate(ctx context.Context, args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("usage: reaggregate <machine> <start> <end> [resolution]")
	}
	start, err := httpapi.ParseTime(args[1])
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := httpapi.ParseTime(args[2])
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	resolution := ""
	if len(args) == 4 {
		resolution = args[3]
	}

	results, err := c.client.Reaggregate(ctx, args[0], start, end, resolution)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(results)
	}
	t := c.table("Resolution", "From", "To", "Buckets", "Summaries")
	for _, r := range results {
		t.Append([]string{
			r.Tier.String(),
			formatTime(time.UnixMilli(r.FromMs)),
			formatTime(time.UnixMilli(r.ToMs)),
			strconv.Itoa(r.Buckets),
			strconv.Itoa(r.Summaries),
		})
	}
	t.Render()
	return nil
}

func (c *CLI) flush(ctx context.Context, _ []string) error {
	n, err := c.client.Flush(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "flushed %d samples\n", n)
	return nil
}

// =============================================================================
// Machines
// =============================================================================

func (c *CLI) machines(ctx context.Context, args []string) error {
	activeOnly := len(args) > 0 && args[0] == "active"
	list, err := c.client.Machines(ctx, activeOnly)
	if err != nil {
		return err
	}
	if c.json {
		return c.printJSON(list)
	}
	t := c.table("Machine", "Hostname", "Address", "Active", "Online", "Last contact")
	for _, m := range list {
		t.Append([]string{
			m.ID,
			m.Hostname,
			m.Address,
			strconv.FormatBool(m.Active),
			strconv.FormatBool(m.Online),
			formatTime(m.LastContact),
		})
	}
	t.Render()
	return nil
}

func (c *CLI) activate(ctx context.Context, args []string) error {
	return c.setActive(ctx, args, true)
}

func (c *CLI) deactivate(ctx context.Context, args []string) error {
	return c.setActive(ctx, args, false)
}

func (c *CLI) setActive(ctx context.Context, args []string, active bool) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one machine id")
	}
	m, err := c.client.SetActive(ctx, args[0], active)
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("machine %q is not registered", args[0])
		}
		return err
	}
	fmt.Fprintf(c.out, "%s active=%t\n", m.ID, m.Active)
	return nil
}

// =============================================================================
// Output
// =============================================================================

func (c *CLI) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(c.out)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetBorder(false)
	t.SetAutoWrapText(false)
	return t
}

func (c *CLI) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatAge(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d >= 48*time.Hour {
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	}
	return d.Round(time.Minute).String()
}

func formatDays(n int) string {
	if n == 0 {
		return "forever"
	}
	return strconv.Itoa(n)
}
