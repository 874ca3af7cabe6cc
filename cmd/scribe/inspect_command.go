package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"scribe/internal/cms"
	"scribe/internal/coord"
	"scribe/internal/node"
	"scribe/internal/refcache"
	"scribe/internal/tasks"
	"scribe/internal/workitem"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Read coordination state directly from the shared store",
	}
	cmd.AddCommand(newInspectQueuesCommand(ctx))
	cmd.AddCommand(newInspectCacheCommand(ctx))
	cmd.AddCommand(newInspectItemsCommand(ctx))
	return cmd
}

func withStore(ctx *commandContext, cmd *cobra.Command, fn func(coord.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := node.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

type queueDepth struct {
	Queue string `json:"queue"`
	Depth int64  `json:"depth"`
}

func newInspectQueuesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show proposal and review queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, cmd, func(store coord.Store) error {
				var depths []queueDepth
				for _, name := range []string{coord.ProposalQueue, coord.ReviewQueue} {
					n, err := store.QueueLen(cmd.Context(), name)
					if err != nil {
						return fmt.Errorf("queue %s: %w", name, err)
					}
					depths = append(depths, queueDepth{Queue: name, Depth: n})
				}
				if jsonOut {
					return writeJSON(cmd, depths)
				}
				rows := make([][]string, 0, len(depths))
				for _, d := range depths {
					rows = append(rows, []string{d.Queue, strconv.FormatInt(d.Depth, 10)})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{col("Queue"), num("Depth")}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

type cacheSummary struct {
	Collection string `json:"collection"`
	Entities   int    `json:"entities"`
	FetchedAt  string `json:"fetchedAt,omitempty"`
}

func newInspectCacheCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Summarize the reference cache snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, cmd, func(store coord.Store) error {
				cache := refcache.New(store)
				var summaries []cacheSummary
				for _, collection := range []string{cms.CollectionHeroes, cms.CollectionItems} {
					summary := cacheSummary{Collection: collection}
					snap, err := cache.Snapshot(cmd.Context(), collection)
					switch {
					case errors.Is(err, refcache.ErrNoSnapshot):
					case err != nil:
						return fmt.Errorf("snapshot %s: %w", collection, err)
					default:
						summary.Entities = len(snap.Nodes)
						summary.FetchedAt = snap.FetchedAt.Local().Format(time.DateTime)
					}
					summaries = append(summaries, summary)
				}
				if jsonOut {
					return writeJSON(cmd, summaries)
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					fetched := s.FetchedAt
					if fetched == "" {
						fetched = "never"
					}
					rows = append(rows, []string{s.Collection, strconv.Itoa(s.Entities), fetched})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{col("Collection"), num("Entities"), col("Fetched")}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

type itemState struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Entity   string `json:"entity,omitempty"`
	Attempts int    `json:"attempts"`
	Missing  int    `json:"missingReferencePasses"`
	Lease    string `json:"lease,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

func newInspectItemsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var kinds []string
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List pending work items with attempt counters and leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(kinds) == 0 {
				kinds = cfg.Tasks.Enabled
			}
			registry, err := tasks.DefaultRegistry().Restrict(kinds)
			if err != nil {
				return err
			}
			objects, err := node.OpenObjects(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return withStore(ctx, cmd, func(store coord.Store) error {
				var states []itemState
				for _, kind := range registry.Kinds() {
					listed, err := objects.List(cmd.Context(), kind.Prefix()+"/")
					if err != nil {
						return fmt.Errorf("list %s: %w", kind.Prefix(), err)
					}
					for _, obj := range listed {
						if workitem.IsFolderMarker(obj.Key) {
							continue
						}
						state, err := describeItem(cmd, store, kind, obj.Key)
						if err != nil {
							return err
						}
						states = append(states, state)
					}
				}
				if jsonOut {
					return writeJSON(cmd, states)
				}
				if len(states) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending work items")
					return nil
				}
				rows := make([][]string, 0, len(states))
				for _, s := range states {
					rows = append(rows, []string{s.Key, s.Kind, s.Entity, strconv.Itoa(s.Attempts), strconv.Itoa(s.Missing), s.Lease, s.Problem})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
					col("Key"), col("Kind"), col("Entity"), num("Attempts"), num("Missing ref"), num("Lease"), col("Problem"),
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Restrict to these task kinds (defaults to tasks.enabled)")
	return cmd
}

func describeItem(cmd *cobra.Command, store coord.Store, kind workitem.Kind, key string) (itemState, error) {
	ctx := cmd.Context()
	state := itemState{Key: key, Kind: string(kind)}
	if item, err := workitem.Parse(kind, key); err != nil {
		state.Problem = "malformed key"
	} else {
		state.Entity = item.Entity()
	}
	var err error
	if state.Attempts, err = store.Attempts(ctx, key); err != nil {
		return state, fmt.Errorf("attempts %s: %w", key, err)
	}
	if state.Missing, err = store.Attempts(ctx, coord.MissingRefPrefix+key); err != nil {
		return state, fmt.Errorf("missing reference count %s: %w", key, err)
	}
	ttl, held, err := store.LockTTL(ctx, key)
	if err != nil {
		return state, fmt.Errorf("lease %s: %w", key, err)
	}
	if held {
		state.Lease = ttl.Round(time.Second).String()
	}
	return state, nil
}
