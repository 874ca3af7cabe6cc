package testsupport

import (
	"testing"

	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/coord/memstore"
	"scribe/internal/coord/sqlitestore"
)

// MustOpenStore opens the configured coordination store for tests and
// registers cleanup. Only the memory and sqlite backends are supported.
func MustOpenStore(t testing.TB, cfg *config.Config) coord.Store {
	t.Helper()

	var store coord.Store
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlitestore.Open(cfg.Store.SQLitePath)
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		store = s
	case config.BackendMemory:
		store = memstore.New()
	default:
		t.Fatalf("unsupported test backend %q", cfg.Store.Backend)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
