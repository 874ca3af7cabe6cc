package config

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

const (
	defaultConfigPath               = "~/.config/scribe/config.toml"
	defaultStoreBackend             = BackendRedis
	defaultSQLitePath               = "~/.local/share/scribe/coord.db"
	defaultRedisAddr                = "localhost:6379"
	defaultS3Region                 = "us-east-1"
	defaultPresignTTLSeconds        = 3600
	defaultLLMBaseURL               = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel                 = "gpt-4o"
	defaultLLMMaxTokens             = 1000
	defaultLLMTimeoutSeconds        = 120
	defaultLLMRateLimitAttempts     = 10
	defaultLLMRateLimitMaxDelay     = 600
	defaultCMSRESTNamespace         = "wp-json/heavenhold/v1"
	defaultCMSGraphQLPath           = "graphql"
	defaultCMSTimeoutSeconds        = 30
	defaultCMSPageSize              = 100
	defaultNotifyRequestTimeout     = 10
	defaultWorkflowLockTTL          = 600
	defaultWorkflowMaxAttempts      = 3
	defaultWorkflowRetryDelay       = 180
	defaultWorkflowApprovalTimeout  = 100
	defaultWorkflowApprovalPoll     = 1
	defaultWorkflowVerdictTTL       = 60
	defaultWorkflowVoteWindow       = 60
	defaultWorkflowNotifierPoll     = 10
	defaultWorkflowScanInterval     = 120
	defaultWorkflowScanInitialDelay = 40
	defaultWorkflowScanStagger      = 10
	defaultWorkflowRefreshInterval  = 600
	defaultWorkflowReviewPoll       = 10
	defaultWorkflowWorkers          = 4
	defaultWorkflowMissingRefCap    = 30
	defaultAPIBind                  = "127.0.0.1:7410"
	defaultAPIMaxUploadBytes        = 20 << 20
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogDir                   = "~/.local/share/scribe/logs"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Store: Store{
			Backend:    defaultStoreBackend,
			SQLitePath: defaultSQLitePath,
		},
		Redis: Redis{
			Addr: defaultRedisAddr,
		},
		S3: S3{
			Region:            defaultS3Region,
			PresignTTLSeconds: defaultPresignTTLSeconds,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			MaxTokens:         defaultLLMMaxTokens,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RateLimitAttempts: defaultLLMRateLimitAttempts,
			RateLimitMaxDelay: defaultLLMRateLimitMaxDelay,
		},
		CMS: CMS{
			RESTNamespace:  defaultCMSRESTNamespace,
			GraphQLPath:    defaultCMSGraphQLPath,
			TimeoutSeconds: defaultCMSTimeoutSeconds,
			PageSize:       defaultCMSPageSize,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Evictions:      true,
			Commits:        false,
			Errors:         true,
		},
		Workflow: Workflow{
			LockTTL:              defaultWorkflowLockTTL,
			MaxAttempts:          defaultWorkflowMaxAttempts,
			RetryDelay:           defaultWorkflowRetryDelay,
			ApprovalTimeout:      defaultWorkflowApprovalTimeout,
			ApprovalPollInterval: defaultWorkflowApprovalPoll,
			VerdictTTL:           defaultWorkflowVerdictTTL,
			VoteWindow:           defaultWorkflowVoteWindow,
			NotifierPollInterval: defaultWorkflowNotifierPoll,
			ScanInterval:         defaultWorkflowScanInterval,
			ScanInitialDelay:     defaultWorkflowScanInitialDelay,
			ScanStagger:          defaultWorkflowScanStagger,
			RefreshInterval:      defaultWorkflowRefreshInterval,
			ReviewPollInterval:   defaultWorkflowReviewPoll,
			Workers:              defaultWorkflowWorkers,
			MissingReferenceCap:  defaultWorkflowMissingRefCap,
		},
		API: API{
			Bind:           defaultAPIBind,
			MaxUploadBytes: defaultAPIMaxUploadBytes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
			Dir:    defaultLogDir,
		},
	}
}
