package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeS3()
	c.normalizeLLM()
	c.normalizeCMS()
	c.normalizeDiscord()
	c.normalizeAPI()
	return c.normalizeLogging()
}

func (c *Config) normalizeStore() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = defaultSQLitePath
	}
	var err error
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Password == "" {
		c.Redis.Password = lookupEnv("SCRIBE_REDIS_PASSWORD")
	}
}

func (c *Config) normalizeS3() {
	c.S3.Bucket = strings.TrimSpace(c.S3.Bucket)
	if c.S3.Bucket == "" {
		c.S3.Bucket = lookupEnv("SCRIBE_S3_BUCKET", "AWS_S3_BUCKET")
	}
	c.S3.Region = strings.TrimSpace(c.S3.Region)
	if c.S3.Region == "" {
		c.S3.Region = lookupEnv("AWS_REGION")
	}
	if c.S3.Region == "" {
		c.S3.Region = defaultS3Region
	}
	c.S3.Endpoint = strings.TrimSpace(c.S3.Endpoint)
	if c.S3.PresignTTLSeconds <= 0 {
		c.S3.PresignTTLSeconds = defaultPresignTTLSeconds
	}
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = lookupEnv("SCRIBE_LLM_API_KEY", "OPENAI_API_KEY")
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		c.API.Token = lookupEnv("SCRIBE_API_TOKEN")
	}
}

func (c *Config) normalizeCMS() {
	c.CMS.SiteURL = strings.TrimRight(strings.TrimSpace(c.CMS.SiteURL), "/")
	if c.CMS.SiteURL == "" {
		c.CMS.SiteURL = strings.TrimRight(lookupEnv("SCRIBE_CMS_SITE", "WORDPRESS_SITE"), "/")
	}
	if c.CMS.Password == "" {
		c.CMS.Password = lookupEnv("SCRIBE_CMS_PASSWORD")
	}
	c.CMS.RESTNamespace = strings.Trim(strings.TrimSpace(c.CMS.RESTNamespace), "/")
	if c.CMS.RESTNamespace == "" {
		c.CMS.RESTNamespace = defaultCMSRESTNamespace
	}
	c.CMS.GraphQLPath = strings.Trim(strings.TrimSpace(c.CMS.GraphQLPath), "/")
	if c.CMS.GraphQLPath == "" {
		c.CMS.GraphQLPath = defaultCMSGraphQLPath
	}
	if c.CMS.PageSize <= 0 {
		c.CMS.PageSize = defaultCMSPageSize
	}
}

func (c *Config) normalizeDiscord() {
	if c.Discord.Token == "" {
		c.Discord.Token = lookupEnv("SCRIBE_DISCORD_TOKEN", "DISCORD_TOKEN")
	}
	c.Discord.ChannelID = strings.TrimSpace(c.Discord.ChannelID)
	if c.Discord.ChannelID == "" {
		c.Discord.ChannelID = lookupEnv("SCRIBE_DISCORD_CHANNEL_ID", "DISCORD_CHANNEL_ID")
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func lookupEnv(names ...string) string {
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
