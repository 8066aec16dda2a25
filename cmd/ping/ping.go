// Package ping implements a connectivity check against the context broker.
package ping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/ngsild"
)

// Command creates the ping command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the context broker is reachable",
		Long:  "Requests the broker version document and prints it. Exits non-zero when the broker cannot be reached.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return Run(ctx, cmd.OutOrStdout(), settings, build)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the broker")
	return cmd
}

// Run pings the configured broker and writes its version document to out.
func Run(ctx context.Context, out io.Writer, settings *conf.Settings, build *buildinfo.Context) error {
	client, err := ngsild.NewClient(ngsild.Config{
		BaseURL:   settings.Broker.URL,
		Timeout:   settings.Broker.Timeout,
		UserAgent: build.UserAgent("digitlab"),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	_, info, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("context broker %s is not reachable: %w", client.BaseURL(), err)
	}

	fmt.Fprintf(out, "Context broker %s is reachable\n", client.BaseURL())
	if len(info) == 0 {
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}
