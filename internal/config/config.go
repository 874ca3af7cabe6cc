package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Store selects and tunes the coordination store backend.
type Store struct {
	Backend    string `toml:"backend"`
	KeyPrefix  string `toml:"key_prefix"`
	SQLitePath string `toml:"sqlite_path"`
}

// Redis contains connection settings for the redis coordination backend.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// S3 contains settings for the object store holding uploaded screenshots.
type S3 struct {
	Bucket            string `toml:"bucket"`
	Region            string `toml:"region"`
	Endpoint          string `toml:"endpoint"`
	UsePathStyle      bool   `toml:"use_path_style"`
	PresignTTLSeconds int    `toml:"presign_ttl_seconds"`
	// Static keys; leave empty to use the default AWS credential chain.
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// LLM contains settings for the vision enrichment service.
type LLM struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	MaxTokens         int    `toml:"max_tokens"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RateLimitAttempts int    `toml:"rate_limit_attempts"`
	RateLimitMaxDelay int    `toml:"rate_limit_max_delay"`
}

// CMS contains settings for the content backend.
type CMS struct {
	SiteURL        string `toml:"site_url"`
	RESTNamespace  string `toml:"rest_namespace"`
	GraphQLPath    string `toml:"graphql_path"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PageSize       int    `toml:"page_size"`
}

// Discord contains settings for the human approval channel.
type Discord struct {
	Token     string `toml:"token"`
	ChannelID string `toml:"channel_id"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Evictions      bool   `toml:"evictions"`
	Commits        bool   `toml:"commits"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains coordination timings. All values are seconds unless noted.
type Workflow struct {
	LockTTL              int `toml:"lock_ttl"`
	MaxAttempts          int `toml:"max_attempts"`
	RetryDelay           int `toml:"retry_delay"`
	ApprovalTimeout      int `toml:"approval_timeout"`
	ApprovalPollInterval int `toml:"approval_poll_interval"`
	VerdictTTL           int `toml:"verdict_ttl"`
	VoteWindow           int `toml:"vote_window"`
	NotifierPollInterval int `toml:"notifier_poll_interval"`
	ScanInterval         int `toml:"scan_interval"`
	ScanInitialDelay     int `toml:"scan_initial_delay"`
	ScanStagger          int `toml:"scan_stagger"`
	RefreshInterval      int `toml:"refresh_interval"`
	ReviewPollInterval   int `toml:"review_poll_interval"`
	Workers              int `toml:"workers"`
	// MissingReferenceCap bounds discovery passes for assets whose entity is
	// absent from the reference cache. Zero disables eviction.
	MissingReferenceCap int `toml:"missing_reference_cap"`
}

// Tasks selects which work item kinds this node scans for.
type Tasks struct {
	Enabled []string `toml:"enabled"`
}

// API contains settings for the status and upload HTTP server.
type API struct {
	Bind string `toml:"bind"`
	// Token, when set, is required as a bearer token on every request.
	Token          string `toml:"token"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Dir    string `toml:"dir"`
}

// Config encapsulates all configuration values for Scribe.
//
// Configuration sections by subsystem:
//   - Store, Redis: coordination store backend and connection
//   - S3: screenshot object store
//   - LLM: vision enrichment service
//   - CMS: content backend REST and GraphQL endpoints
//   - Discord: approval channel
//   - Notifications: ntfy push notification settings
//   - Workflow: lease, retry, approval and scan timings
//   - Tasks: enabled work item kinds
//   - API: status and upload server
//   - Logging: log format, level, and directory
type Config struct {
	Store         Store         `toml:"store"`
	Redis         Redis         `toml:"redis"`
	S3            S3            `toml:"s3"`
	LLM           LLM           `toml:"llm"`
	CMS           CMS           `toml:"cms"`
	Discord       Discord       `toml:"discord"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Tasks         Tasks         `toml:"tasks"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment fallbacks applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates directories the configured backends write to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Logging.Dir}
	if c.Store.Backend == BackendSQLite {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockTTLDuration is the lease duration applied to every work item lock.
func (w Workflow) LockTTLDuration() time.Duration { return seconds(w.LockTTL) }

// RetryDelayDuration is the pause before a failed item is re-attempted.
func (w Workflow) RetryDelayDuration() time.Duration { return seconds(w.RetryDelay) }

// ApprovalTimeoutDuration bounds how long an executor waits for a verdict.
func (w Workflow) ApprovalTimeoutDuration() time.Duration { return seconds(w.ApprovalTimeout) }

// ApprovalPollDuration is the verdict polling cadence.
func (w Workflow) ApprovalPollDuration() time.Duration { return seconds(w.ApprovalPollInterval) }

// VerdictTTLDuration is how long a written verdict survives unread.
func (w Workflow) VerdictTTLDuration() time.Duration { return seconds(w.VerdictTTL) }

// VoteWindowDuration bounds how long the notifier waits for a first reaction.
func (w Workflow) VoteWindowDuration() time.Duration { return seconds(w.VoteWindow) }

// NotifierPollDuration is the proposal queue polling cadence.
func (w Workflow) NotifierPollDuration() time.Duration { return seconds(w.NotifierPollInterval) }

// ScanIntervalDuration is the discovery period per prefix.
func (w Workflow) ScanIntervalDuration() time.Duration { return seconds(w.ScanInterval) }

// ScanOffset returns the initial delay for the nth prefix scanner.
func (w Workflow) ScanOffset(index int) time.Duration {
	if index < 0 {
		index = 0
	}
	return seconds(w.ScanInitialDelay + index*w.ScanStagger)
}

// RefreshIntervalDuration is the reference cache refresh period.
func (w Workflow) RefreshIntervalDuration() time.Duration { return seconds(w.RefreshInterval) }

// ReviewPollDuration is the review queue polling cadence.
func (w Workflow) ReviewPollDuration() time.Duration { return seconds(w.ReviewPollInterval) }

// PresignTTL returns how long presigned object URLs remain valid.
func (s S3) PresignTTL() time.Duration { return seconds(s.PresignTTLSeconds) }

// Timeout returns the per-request LLM HTTP timeout.
func (l LLM) Timeout() time.Duration { return seconds(l.TimeoutSeconds) }

// Timeout returns the per-request CMS HTTP timeout.
func (c CMS) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// KindEnabled reports whether the named work item kind should be scanned.
// An empty list enables every kind.
func (t Tasks) KindEnabled(kind string) bool {
	if len(t.Enabled) == 0 {
		return true
	}
	for _, candidate := range t.Enabled {
		if strings.EqualFold(strings.TrimSpace(candidate), kind) {
			return true
		}
	}
	return false
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	masked.Redis.Password = mask(masked.Redis.Password)
	masked.S3.SecretAccessKey = mask(masked.S3.SecretAccessKey)
	masked.LLM.APIKey = mask(masked.LLM.APIKey)
	masked.CMS.Password = mask(masked.CMS.Password)
	masked.Discord.Token = mask(masked.Discord.Token)
	masked.API.Token = mask(masked.API.Token)
	return toml.Marshal(masked)
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
