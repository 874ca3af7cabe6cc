package preflight

import (
	"context"
	"path/filepath"

	"scribe/internal/config"
	"scribe/internal/objectstore"
	"scribe/internal/workitem"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is satisfied by every coordination store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Targets are the live dependencies RunAll checks. Nil fields are reported
// as not configured.
type Targets struct {
	Store   Pinger
	Objects objectstore.Store
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("Log directory", cfg.Logging.Dir))
	if cfg.Store.Backend == config.BackendSQLite {
		results = append(results, CheckDirectoryAccess("SQLite directory", filepath.Dir(cfg.Store.SQLitePath)))
	}
	results = append(results, CheckStore(ctx, cfg.Store.Backend, targets.Store))
	results = append(results, CheckObjectStore(ctx, targets.Objects, workitem.KindStory.Prefix()+"/"))
	results = append(results, CheckLLM(cfg.LLM))
	results = append(results, CheckCMS(ctx, cfg.CMS))
	results = append(results, CheckDiscord(cfg.Discord))

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
