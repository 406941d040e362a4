// ============================================================================
// Spacesaver CLI - Command Line Interface
// ============================================================================
//
// Command Structure:
//   spacesaver                      # Root command
//   ├── server run [--with-worker]  # Start the server (HTTP API + gRPC)
//   ├── worker run                  # Start a transcode worker
//   ├── status                      # Server summary
//   ├── entries list|add|update|rm|scan
//   ├── items list|ready|unready|reset|path|rm
//   ├── jobs list|show|cancel|cancel-all|rm|archive|archived
//   ├── workers list|rm
//   ├── config show|set
//   └── targets add|clear
//
// run commands read the YAML config given by --config. Every other command
// talks to a running server's HTTP API at --server and prints tables, or
// JSON with --json.
//
// Signal Handling:
//   SIGINT and SIGTERM cancel the run context. The server stops accepting
//   requests, waits for a running scan, snapshots state and releases its
//   lock. A worker fails its current job as cancelled and exits.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/api"
)

// Version is reported by --version.
var Version = "0.1.0"

const requestTimeout = 30 * time.Second

type options struct {
	configFile string
	serverURL  string
	jsonOut    bool
}

func (o *options) client() *api.Client {
	return api.NewClient(o.serverURL)
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "spacesaver",
		Short: "Media Spacesaver: reclaim disk space by re-encoding oversized video",
		Long: `Media Spacesaver ranks the video files of your library by how much space
a re-encode would reclaim and hands them to transcode workers.

- one server owns the library state (HTTP API + gRPC worker protocol)
- workers claim opted-in items inside their work hours
- finished encodes replace the original after verification`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "spacesaver.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8856", "server HTTP address")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(buildServerCommand(opts))
	rootCmd.AddCommand(buildWorkerCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildEntriesCommand(opts))
	rootCmd.AddCommand(buildItemsCommand(opts))
	rootCmd.AddCommand(buildJobsCommand(opts))
	rootCmd.AddCommand(buildWorkersCommand(opts))
	rootCmd.AddCommand(buildConfigCommand(opts))
	rootCmd.AddCommand(buildTargetsCommand(opts))

	return rootCmd
}

// ============================================================================
// Output helpers
// ============================================================================

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints v as JSON with --json, otherwise the message.
func printResult(cmd *cobra.Command, opts *options, v any, format string, args ...any) error {
	if opts.jsonOut {
		return writeJSON(cmd, v)
	}
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	return nil
}

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render() + "\n"
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

func formatAgo(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}
