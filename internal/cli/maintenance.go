package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/thebtf/vectorcache/internal/storage"
)

// NewCleanupCmd creates the 'cleanup' command.
func NewCleanupCmd(opts *Options) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete cached responses older than the retention window",
		Example: `  vcctl cleanup
  vcctl cleanup --days 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			body := map[string]int{"days_old": days}
			var res storage.CleanupResult
			if err := opts.client().Do(ctx, http.MethodPost, "/api/cleanup", body, &res); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cleanup %s: deleted %d of %d scanned", res.Status, res.PointsDeleted, res.PointsScanned)
			if res.CutoffDate != "" {
				fmt.Fprintf(out, " (before %s)", res.CutoffDate)
			}
			fmt.Fprintln(out)
			if res.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Age in days; 0 uses the configured retention")
	return cmd
}

// NewReindexCmd creates the 'reindex' command.
func NewReindexCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild payload indexes in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			if err := opts.client().Do(ctx, http.MethodPost, "/api/reindex", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Reindex scheduled")
			return nil
		},
	}
}

// NewClearCacheCmd creates the 'clear-cache' command.
func NewClearCacheCmd(opts *Options) *cobra.Command {
	var viewsOnly, yes bool

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !viewsOnly && !yes {
				return fmt.Errorf("refusing to delete all cached responses without --yes")
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			path := "/api/cache"
			if viewsOnly {
				path += "?scope=views"
			}
			var res storage.ClearResult
			if err := opts.client().Do(ctx, http.MethodDelete, path, nil, &res); err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if viewsOnly {
				fmt.Fprintln(cmd.OutOrStdout(), "Cached views cleared")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Clear %s: deleted %d points from %s\n", res.Status, res.PointsDeleted, res.Collection)
			return nil
		},
	}

	cmd.Flags().BoolVar(&viewsOnly, "views", false, "Only drop cached dashboard views")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting all points")
	return cmd
}
