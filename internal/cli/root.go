// Package cli implements the vcctl commands. Every command talks to a
// running worker over its HTTP API.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/vectorcache/pkg/hooks"
)

// Options are the flags shared by every command.
type Options struct {
	WorkerURL string
	Timeout   time.Duration
	JSON      bool
}

// NewRootCmd builds the vcctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "vcctl",
		Short: "Inspect and maintain the vectorcache worker",
		Long: `vcctl queries a running vectorcache worker: health, semantic search,
analytics, qdrant:// resources and maintenance.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := fmt.Sprintf("http://127.0.0.1:%d", hooks.GetWorkerPort())
	root.PersistentFlags().StringVar(&opts.WorkerURL, "worker", defaultURL, "Worker base URL")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", hooks.RequestTimeout, "Request timeout")
	root.PersistentFlags().BoolVarP(&opts.JSON, "json", "j", false, "Output raw JSON")

	root.AddCommand(
		NewStatusCmd(opts),
		NewSearchCmd(opts),
		NewFetchCmd(opts),
		NewAnalyticsCmd(opts),
		NewResourceCmd(opts),
		NewCleanupCmd(opts),
		NewReindexCmd(opts),
		NewClearCacheCmd(opts),
	)
	return root
}

func (o *Options) client() *hooks.Client {
	return hooks.NewClient(o.WorkerURL)
}

func (o *Options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
