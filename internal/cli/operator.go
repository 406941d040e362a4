package cli

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/api"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ============================================================================
// status
// ============================================================================

func buildStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			c := opts.client()
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			diag, err := c.Diagnostics(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, map[string]any{"status": st, "diagnostics": diag})
			}

			rows := [][]string{
				{"Uptime", orDash(st.Uptime)},
				{"Active jobs", strconv.Itoa(st.ActiveJobs)},
				{"Workers online", strconv.Itoa(st.WorkersOnline)},
				{"Data dir", diag.DataDir},
				{"ffprobe", ffprobeState(diag.FFprobePath, diag.FFprobeFound)},
				{"Scan", scanState(st.Scan)},
			}
			statuses := make([]string, 0, len(st.Items))
			for s := range st.Items {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				rows = append(rows, []string{"Items " + s, strconv.Itoa(st.Items[types.ItemStatus(s)])})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
			return nil
		},
	}
}

func ffprobeState(path string, found bool) string {
	if !found {
		return "not found"
	}
	return path
}

func scanState(s types.ScanStatus) string {
	switch {
	case s.Active:
		return fmt.Sprintf("scanning %s (%d/%d)", s.EntryName, s.Done, s.Total)
	case s.FinishedAt != nil:
		return fmt.Sprintf("idle, last %s finished %s", s.EntryName, formatAgo(s.FinishedAt))
	}
	return "idle"
}

// ============================================================================
// entries
// ============================================================================

func buildEntriesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Manage library root folders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			entries, err := opts.client().ListEntries(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.ID, e.Name, e.Path, orDash(e.Args), formatAgo(e.LastScanAt)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Path", "Args", "Last scan"}, rows))
			return nil
		},
	})

	var name, extra string
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a root folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			e, err := opts.client().AddEntry(ctx, api.AddEntryRequest{Path: args[0], Name: name, Args: extra})
			if err != nil {
				return err
			}
			return printResult(cmd, opts, e, "Added entry %s (%s)", e.ID, e.Path)
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (default: folder name)")
	add.Flags().StringVar(&extra, "args", "", "extra HandBrakeCLI arguments for this entry")
	cmd.AddCommand(add)

	var patch struct{ name, path, args string }
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an entry's name, path or arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p store.EntryPatch
			if cmd.Flags().Changed("name") {
				p.Name = &patch.name
			}
			if cmd.Flags().Changed("path") {
				p.Path = &patch.path
			}
			if cmd.Flags().Changed("args") {
				p.Args = &patch.args
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			e, err := opts.client().UpdateEntry(ctx, args[0], p)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, e, "Updated entry %s", e.ID)
		},
	}
	update.Flags().StringVar(&patch.name, "name", "", "display name")
	update.Flags().StringVar(&patch.path, "path", "", "root folder")
	update.Flags().StringVar(&patch.args, "args", "", "extra HandBrakeCLI arguments")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an entry and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := opts.client().DeleteEntry(ctx, args[0]); err != nil {
				return err
			}
			return printResult(cmd, opts, api.OKResponse{OK: true}, "Removed entry %s", args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "scan <id>",
		Short: "Start a background scan of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			st, err := opts.client().ScanEntry(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd, opts, st, "Scan of %s started", st.EntryName)
		},
	})

	return cmd
}

// ============================================================================
// items
// ============================================================================

func buildItemsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and opt in media files",
	}

	var filter struct{ entry, status, sort string }
	list := &cobra.Command{
		Use:   "list",
		Short: "List items, best savings first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			items, err := opts.client().ListItems(ctx, store.ItemFilter{
				EntryID: filter.entry,
				Status:  types.ItemStatus(filter.status),
				Sort:    filter.sort,
			})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No items")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					it.ID,
					itemStatus(it),
					formatBytes(it.Ratio.SavingsBytes),
					formatPct(it.Ratio.SavingsPct * 100),
					formatBytes(it.SizeBytes),
					formatHeight(it.Height),
					truncate(it.Path, 60),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Status", "Savings", "%", "Size", "Res", "Path"}, rows, 3, 4, 5))
			return nil
		},
	}
	list.Flags().StringVar(&filter.entry, "entry", "", "only items of this entry")
	list.Flags().StringVar(&filter.status, "status", "", "only items with this status")
	list.Flags().StringVar(&filter.sort, "sort", "", "savings (default), size or path")
	cmd.AddCommand(list)

	itemCommand := func(use, short, done string, call func(cmd *cobra.Command, c *api.Client, id string) (types.Item, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				it, err := call(cmd, opts.client(), args[0])
				if err != nil {
					return err
				}
				return printResult(cmd, opts, it, "%s %s (%s)", done, it.ID, it.Status)
			},
		}
	}
	cmd.AddCommand(itemCommand("ready", "Opt an item in for transcoding", "Ready",
		func(cmd *cobra.Command, c *api.Client, id string) (types.Item, error) {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			return c.SetReady(ctx, id, true)
		}))
	cmd.AddCommand(itemCommand("unready", "Opt an item out", "Unready",
		func(cmd *cobra.Command, c *api.Client, id string) (types.Item, error) {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			return c.SetReady(ctx, id, false)
		}))
	cmd.AddCommand(itemCommand("reset", "Clear an item's error and status", "Reset",
		func(cmd *cobra.Command, c *api.Client, id string) (types.Item, error) {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			return c.ResetItem(ctx, id)
		}))

	cmd.AddCommand(&cobra.Command{
		Use:   "path <id> <path>",
		Short: "Re-point an item after moving its file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			it, err := opts.client().SetItemPath(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(cmd, opts, it, "Item %s now at %s", it.ID, it.Path)
		},
	})

	var cancelActive bool
	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := opts.client().DeleteItem(ctx, args[0], cancelActive); err != nil {
				return err
			}
			return printResult(cmd, opts, api.OKResponse{OK: true}, "Removed item %s", args[0])
		},
	}
	rm.Flags().BoolVar(&cancelActive, "cancel-active", false, "request cancellation of the item's running job")
	cmd.AddCommand(rm)

	return cmd
}

func itemStatus(it types.Item) string {
	if it.Missing {
		return string(it.Status) + " (missing)"
	}
	return string(it.Status)
}

func formatHeight(h int) string {
	if h <= 0 {
		return "-"
	}
	return strconv.Itoa(h) + "p"
}

// ============================================================================
// jobs
// ============================================================================

func buildJobsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel transcode jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs in live state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			jobs, err := opts.client().ListJobs(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID,
					jobStatus(j.Job),
					formatPct(j.Progress.Pct),
					orDash(j.WorkerName),
					truncate(j.ItemPath, 50),
					formatAgo(&j.ClaimedAt),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Status", "Progress", "Worker", "Item", "Claimed"}, rows, 3))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a job, live or archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			j, err := opts.client().GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd, j)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Ask the worker running a job to stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			j, err := opts.client().CancelJob(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(cmd, opts, j, "Cancellation requested for %s (%s)", j.ID, j.Status)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel-all",
		Short: "Ask every running job to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			n, err := opts.client().CancelAll(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, api.CancelResponse{OK: true, CancelRequested: n}, "Cancellation requested for %d jobs", n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a finished job (an active one is cancelled instead)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := opts.client().DeleteJob(ctx, args[0]); err != nil {
				return err
			}
			return printResult(cmd, opts, api.OKResponse{OK: true}, "Removed job %s", args[0])
		},
	})

	var maxAge time.Duration
	var keep int
	archive := &cobra.Command{
		Use:   "archive",
		Short: "Move old finished jobs into the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var keepPtr *int
			if cmd.Flags().Changed("keep") {
				keepPtr = &keep
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			n, err := opts.client().ArchiveJobs(ctx, maxAge, keepPtr)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, api.ArchiveResponse{Archived: n}, "Archived %d jobs", n)
		},
	}
	archive.Flags().DurationVar(&maxAge, "max-age", 0, "archive jobs finished longer ago than this (default: server setting)")
	archive.Flags().IntVar(&keep, "keep", 0, "always keep the newest N finished jobs (default: server setting)")
	cmd.AddCommand(archive)

	var itemID string
	var limit int
	archived := &cobra.Command{
		Use:   "archived",
		Short: "List archived jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			jobs, err := opts.client().ArchivedJobs(ctx, itemID, limit)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{j.ID, string(j.Status), j.ItemID, formatBytes(j.OutputSizeBytes), formatAgo(j.FinishedAt), truncate(j.Error, 40)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Status", "Item", "Output", "Finished", "Error"}, rows, 4))
			return nil
		},
	}
	archived.Flags().StringVar(&itemID, "item", "", "only jobs of this item")
	archived.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(archived)

	return cmd
}

func jobStatus(j types.Job) string {
	if j.CancelRequested && !j.Status.IsTerminal() {
		return string(j.Status) + " (cancelling)"
	}
	return string(j.Status)
}

func formatPct(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

// ============================================================================
// workers
// ============================================================================

func buildWorkersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect registered workers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			workers, err := opts.client().ListWorkers(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, workers)
			}
			if len(workers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workers")
				return nil
			}
			rows := make([][]string, 0, len(workers))
			for _, w := range workers {
				online := "offline"
				if w.Online {
					online = "online"
				}
				hours := "any time"
				if len(w.WorkHours) > 0 {
					hours = workHours(w.WorkHours)
				}
				rows = append(rows, []string{w.ID, w.Name, online, hours, formatAgo(&w.LastHeartbeatAt)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "State", "Work hours", "Last seen"}, rows))
			return nil
		},
	})

	var cancelActive bool
	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Forget a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			if err := opts.client().DeleteWorker(ctx, args[0], cancelActive); err != nil {
				return err
			}
			return printResult(cmd, opts, api.OKResponse{OK: true}, "Removed worker %s", args[0])
		},
	}
	rm.Flags().BoolVar(&cancelActive, "cancel-active", false, "request cancellation of the worker's running job")
	cmd.AddCommand(rm)

	return cmd
}

func workHours(windows []types.WorkWindow) string {
	out := ""
	for i, w := range windows {
		if i > 0 {
			out += ", "
		}
		out += w.Start + "-" + w.End
	}
	return out
}

// ============================================================================
// config, targets
// ============================================================================

func buildConfigCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change server-side settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			cfg, err := opts.client().Config(ctx)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd, cfg)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, [][]string{
				{"Baseline args", cfg.BaselineArgs},
				{"ffprobe path", orDash(cfg.FFprobePath)},
			}))
			fmt.Fprint(cmd.OutOrStdout(), renderTargets(cfg))
			return nil
		},
	})

	var baseline, ffprobe string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change baseline arguments or the ffprobe path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p store.ConfigPatch
			if cmd.Flags().Changed("baseline-args") {
				p.BaselineArgs = &baseline
			}
			if cmd.Flags().Changed("ffprobe-path") {
				p.FFprobePath = &ffprobe
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			cfg, err := opts.client().UpdateConfig(ctx, p)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, cfg, "Config updated")
		},
	}
	set.Flags().StringVar(&baseline, "baseline-args", "", "HandBrakeCLI arguments applied to every job")
	set.Flags().StringVar(&ffprobe, "ffprobe-path", "", "ffprobe binary used by scans")
	cmd.AddCommand(set)

	return cmd
}

func renderTargets(cfg types.Config) string {
	heights := make([]int, 0, len(cfg.TargetMbPerMinByHeight))
	for h := range cfg.TargetMbPerMinByHeight {
		heights = append(heights, h)
	}
	sort.Ints(heights)
	rows := make([][]string, 0, len(heights))
	for _, h := range heights {
		rows = append(rows, []string{
			formatHeight(h),
			strconv.FormatFloat(cfg.TargetMbPerMinByHeight[h], 'f', 1, 64),
			strconv.Itoa(len(cfg.TargetSamplesByHeight[h])),
		})
	}
	return renderTable([]string{"Height", "MB/min", "Samples"}, rows, 2, 3)
}

func buildTargetsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Tune the MB-per-minute targets used for ranking",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <height> <mb-per-min>",
		Short: "Record a measured MB-per-minute sample for a height",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("height must be an integer: %w", err)
			}
			mbPerMin, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("mb-per-min must be a number: %w", err)
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			s, err := opts.client().AddTargetSample(ctx, height, mbPerMin)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, s, "%dp target is now %.1f MB/min (%d samples)", s.Height, s.Avg, s.Count)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all samples and restore default targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			cfg, err := opts.client().ClearTargetSamples(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, cfg, "Targets reset to defaults")
		},
	})

	return cmd
}
