package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is internally consistent. Credential
// presence is checked by preflight so that inspection commands still work on a
// partially configured host.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateCMS(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.API.MaxUploadBytes <= 0 {
		return errors.New("api.max_upload_bytes must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set when store.backend is redis")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set when store.backend is sqlite")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want redis, sqlite, or memory)", c.Store.Backend)
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be non-negative")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		return fmt.Errorf("llm.base_url: %w", err)
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm.max_tokens must be positive")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.RateLimitAttempts <= 0 {
		return errors.New("llm.rate_limit_attempts must be positive")
	}
	if c.LLM.RateLimitMaxDelay <= 0 {
		return errors.New("llm.rate_limit_max_delay must be positive")
	}
	return nil
}

func (c *Config) validateCMS() error {
	if c.CMS.SiteURL != "" {
		parsed, err := url.Parse(c.CMS.SiteURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("cms.site_url must be an absolute URL, got %q", c.CMS.SiteURL)
		}
	}
	if c.CMS.TimeoutSeconds <= 0 {
		return errors.New("cms.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	positive := []struct {
		name  string
		value int
	}{
		{"workflow.lock_ttl", w.LockTTL},
		{"workflow.max_attempts", w.MaxAttempts},
		{"workflow.approval_timeout", w.ApprovalTimeout},
		{"workflow.approval_poll_interval", w.ApprovalPollInterval},
		{"workflow.verdict_ttl", w.VerdictTTL},
		{"workflow.vote_window", w.VoteWindow},
		{"workflow.notifier_poll_interval", w.NotifierPollInterval},
		{"workflow.scan_interval", w.ScanInterval},
		{"workflow.refresh_interval", w.RefreshInterval},
		{"workflow.review_poll_interval", w.ReviewPollInterval},
		{"workflow.workers", w.Workers},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("%s must be positive", field.name)
		}
	}
	if w.RetryDelay < 0 || w.ScanInitialDelay < 0 || w.ScanStagger < 0 || w.MissingReferenceCap < 0 {
		return errors.New("workflow delays and caps must be non-negative")
	}
	// A lease that expires while the executor still waits for a verdict lets
	// discovery start a second run of the same item.
	if w.LockTTL <= w.ApprovalTimeout+w.VoteWindow {
		return fmt.Errorf("workflow.lock_ttl (%ds) must exceed approval_timeout + vote_window (%ds)", w.LockTTL, w.ApprovalTimeout+w.VoteWindow)
	}
	if w.ApprovalPollInterval > w.ApprovalTimeout {
		return errors.New("workflow.approval_poll_interval must not exceed approval_timeout")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
