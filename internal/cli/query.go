package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thebtf/vectorcache/internal/search"
)

// NewStatusCmd creates the 'status' command.
func NewStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var health struct {
				Status  string  `json:"status"`
				Version string  `json:"version"`
				Error   string  `json:"error,omitempty"`
				Uptime  float64 `json:"uptime_seconds"`
			}
			if err := opts.client().Do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
				return fmt.Errorf("worker at %s: %w", opts.WorkerURL, err)
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), health)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:  %s\n", health.Status)
			fmt.Fprintf(out, "Version: %s\n", health.Version)
			fmt.Fprintf(out, "Uptime:  %.0fs\n", health.Uptime)
			if health.Error != "" {
				fmt.Fprintf(out, "Error:   %s\n", health.Error)
			}
			return nil
		},
	}
}

// NewSearchCmd creates the 'search' command.
func NewSearchCmd(opts *Options) *cobra.Command {
	var (
		limit     int
		threshold float64
		full      bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search cached tool responses",
		Example: `  vcctl search "gmail messages about invoices"
  vcctl search "id:6f1c..." --json
  vcctl search "recent drive files" --limit 5 --full`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			params := url.Values{}
			params.Set("q", strings.Join(args, " "))
			params.Set("limit", strconv.Itoa(limit))
			if cmd.Flags().Changed("threshold") {
				params.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))
			}
			if full {
				params.Set("format", "full")
			}

			var resp search.Response
			if err := opts.client().Do(ctx, http.MethodGet, "/api/search?"+params.Encode(), nil, &resp); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printResults(cmd, &resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity score")
	cmd.Flags().BoolVar(&full, "full", false, "Return full result payloads")
	return cmd
}

func printResults(cmd *cobra.Command, resp *search.Response) {
	out := cmd.OutOrStdout()
	if resp.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", resp.Error)
	}
	fmt.Fprintf(out, "%d result(s) [%s] in %.1fms\n", resp.TotalResults, resp.QueryType, resp.ProcessingTimeMs)
	for _, r := range resp.Results {
		fmt.Fprintf(out, "  %.3f  %-10s %-32s %s  %s\n", r.Score, r.Service, r.ToolName, r.Timestamp, r.ID)
	}
}

// NewFetchCmd creates the 'fetch' command.
func NewFetchCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <id>",
		Short: "Fetch a cached response by point id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var out map[string]any
			if err := opts.client().Do(ctx, http.MethodGet, "/api/fetch/"+url.PathEscape(args[0]), nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// NewAnalyticsCmd creates the 'analytics' command.
func NewAnalyticsCmd(opts *Options) *cobra.Command {
	var start, end, groupBy string

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Count cached responses by tool, service or day",
		Example: `  vcctl analytics
  vcctl analytics --group-by service --start 2026-10-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			params := url.Values{}
			params.Set("group_by", groupBy)
			if start != "" {
				params.Set("start_date", start)
			}
			if end != "" {
				params.Set("end_date", end)
			}

			var a search.Analytics
			if err := opts.client().Do(ctx, http.MethodGet, "/api/analytics?"+params.Encode(), nil, &a); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), a)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d (by %s)\n", a.Total, a.GroupBy)
			for _, k := range a.Keys() {
				fmt.Fprintf(out, "  %6d  %s\n", a.Groups[k].Count, k)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Start date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "End date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&groupBy, "group-by", "tool_name", "Grouping: tool_name, service or date")
	return cmd
}

// NewResourceCmd creates the 'resource' command.
func NewResourceCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "resource <qdrant-uri>",
		Short: "Read a qdrant:// resource",
		Example: `  vcctl resource qdrant://collections/list
  vcctl resource qdrant://status`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var out map[string]any
			path := "/api/resources?uri=" + url.QueryEscape(args[0])
			if err := opts.client().Do(ctx, http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
