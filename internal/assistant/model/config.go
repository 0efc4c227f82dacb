package model

// ================ Config ================
type ConversationConfig struct {
	FollowUpTTL string `envconfig:"CONVERSATION_FOLLOWUP_TTL" default:"120s"`
	History     struct {
		MaxMessages int `envconfig:"CONVERSATION_HISTORY_MAX_MESSAGES" default:"8"`
	}
	Recap struct {
		MaxLines int `envconfig:"CONVERSATION_RECAP_MAX_LINES" default:"12"`
	}
}

type ProviderModelConfig struct {
	Model       string  `envconfig:"RESPONSE_MODEL" default:"gemini-2.0-flash"`
	MaxTokens   int     `envconfig:"RESPONSE_MAX_TOKENS" default:"1000"`
	Temperature float32 `envconfig:"RESPONSE_TEMPERATURE" default:"0.4"`
	Timeout     string  `envconfig:"RESPONSE_TIMEOUT" default:"20s"`
}

type OrchestratorConfig struct {
	LocalTimezone string `envconfig:"ORCHESTRATOR_LOCAL_TZ" default:"Asia/Singapore"`
}

type DispatcherConfig struct {
	AggregateTimeout string `envconfig:"DISPATCH_AGGREGATE_TIMEOUT" default:"10s"`
	// Tokens reserved per turn before the provider reports actual usage.
	EstimatedTokens int `envconfig:"DISPATCH_ESTIMATED_TOKENS" default:"600"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `envconfig:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"20"`
	TokensPerMinute   int `envconfig:"RATE_LIMIT_TOKENS_PER_MINUTE" default:"20000"`
}

type DirectoryCacheConfig struct {
	TTL string `envconfig:"DEVICE_CACHE_TTL" default:"5m"`
}
