package testsupport

import (
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults to the in-memory store and an ephemeral API port, then applies
// any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Store.Backend = config.BackendMemory
	cfgVal.Store.SQLitePath = filepath.Join(base, "coord.db")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.S3.Bucket = "scribe-test"
	cfgVal.Discord.ChannelID = "test-channel"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the coordination store backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Backend = backend
	}
}

// WithLLMServer points the enrichment client at a fake endpoint.
func WithLLMServer(srv *FakeLLM) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = srv.URL()
	}
}

// WithCMSServer points the content backend client at a fake site.
func WithCMSServer(srv *FakeCMS) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.CMS.SiteURL = srv.URL()
		b.cfg.CMS.Username = "scribe"
		b.cfg.CMS.Password = "secret"
	}
}

// WithAPIToken requires a bearer token on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithTasks restricts the enabled work item kinds.
func WithTasks(kinds ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tasks.Enabled = kinds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Logging.Dir)
}
