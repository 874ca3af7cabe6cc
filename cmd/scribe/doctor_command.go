package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"scribe/internal/node"
	"scribe/internal/objectstore"
	"scribe/internal/preflight"
)

// unreachable reports the error that prevented opening a store.
type unreachable struct{ err error }

func (u unreachable) Ping(context.Context) error { return u.err }

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity of every dependency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := cmd.Context()

			var targets preflight.Targets
			store, err := node.OpenStore(runCtx, cfg)
			if err != nil {
				targets.Store = unreachable{err: err}
			} else {
				defer store.Close()
				targets.Store = store
			}
			var objects objectstore.Store
			if cfg.S3.Bucket != "" {
				if objects, err = node.OpenObjects(runCtx, cfg); err == nil {
					targets.Objects = objects
				}
			}

			results := preflight.RunAll(runCtx, cfg, targets)
			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					status := "ok"
					if !r.Passed {
						status = "FAIL"
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{col("Check"), col("Status"), col("Detail")}, rows))
			}
			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}
