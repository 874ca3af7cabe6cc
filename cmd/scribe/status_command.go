package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"scribe/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the node serving the configured API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func renderStatus(out io.Writer, status api.NodeStatus) {
	fmt.Fprintf(out, "Running:   %s (pid %d)\n", yesNo(status.Running), status.PID)
	storeLine := status.StoreBackend + " reachable"
	if !status.StoreReachable {
		storeLine = status.StoreBackend + " unreachable: " + status.StoreError
	}
	fmt.Fprintf(out, "Store:     %s\n", storeLine)
	fmt.Fprintf(out, "Queues:    %d proposals, %d reviews\n", status.Queues.Proposals, status.Queues.Reviews)

	wf := status.Workflow
	if wf == nil {
		fmt.Fprintln(out, "Workflow:  not running on this node")
		return
	}
	fmt.Fprintf(out, "Workflow:  %d workers, %d in flight, %d pending, %d executed\n", wf.Workers, wf.InFlight, wf.Pending, wf.Executed)
	if wf.LastItem != nil {
		fmt.Fprintf(out, "Last item: %s\n", wf.LastItem.Key)
	}
	if wf.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", wf.LastError)
	}

	if len(wf.Jobs) > 0 {
		rows := make([][]string, 0, len(wf.Jobs))
		for _, job := range wf.Jobs {
			rows = append(rows, []string{job.Name, strconv.Itoa(job.IntervalSeconds) + "s", strconv.Itoa(job.Runs), job.LastRun, job.NextRun, job.LastError})
		}
		fmt.Fprintln(out, renderTable([]column{
			col("Job"), num("Interval"), num("Runs"), col("Last run"), col("Next run"), col("Last error"),
		}, rows))
	}
	if len(wf.Health) > 0 {
		rows := make([][]string, 0, len(wf.Health))
		for _, h := range wf.Health {
			rows = append(rows, []string{h.Name, yesNo(h.Ready), strings.TrimSpace(h.Detail)})
		}
		fmt.Fprintln(out, renderTable([]column{col("Dependency"), col("Ready"), col("Detail")}, rows))
	}
}
