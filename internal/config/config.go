package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            string
	Environment     string
	SupabaseURL     string
	SupabaseKey     string
	SupabaseDBURL   string
	SupabaseJWKSURL string // Constructed from SupabaseURL + /auth/v1/.well-known/jwks.json
	CORSOrigins     string
	TablePrefix     string

	// Redis / KV
	RedisURL string

	// Streaming session (C11)
	WSPort string

	// LLM provider (C5)
	AnthropicAPIKey string
	ReasoningModel  string
	ExecutionModel  string
	SimpleTools     []string
	MaxTokens       int
	Temperature     float64
	RequestTimeout  time.Duration

	EnablePromptCaching     bool
	ExtendedThinking        bool
	ExtendedThinkingBudget  int

	EmergencyFallbackEnabled      bool
	EmergencyFallbackEndpoint     string
	EmergencyFallbackAPIKeyName   string
	EmergencyFallbackModel        string
	RecoveryDelaySeconds          int

	// Fast LLM path for touchstone/fingerprint (C7/C8)
	AnalysisEnabled      bool
	AnalysisEndpoint     string
	AnalysisModel        string
	AnalysisAPIKeyName   string
	AnalysisContextPairs int

	// Tool loop circuit breaker (C5)
	MaxIterations      int
	ToolLoaderToolName string

	// Retrieval tuning (C4)
	MaxMemories            int
	MaxLinkTraversalDepth  int
	MinImportanceScore     float64
	SimilarityThreshold    float64

	// Domain-knowledge buffering
	MessageBatchSize int
	BlockCacheTTL    time.Duration

	// Session cache loader (C13)
	SessionSummaryCount int

	// Embedding & reranker client (C2)
	EmbeddingServiceURL string
	RerankerServiceURL  string

	// Debug flags
	Debug bool // Set from DEBUG; no component in this repository reads it
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)
	supabaseURL := getEnv("SUPABASE_URL", "")

	// Construct JWKS URL from Supabase URL
	jwksURL := supabaseURL + "/auth/v1/.well-known/jwks.json"

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     env,
		SupabaseURL:     supabaseURL,
		SupabaseKey:     getEnv("SUPABASE_KEY", ""),
		SupabaseDBURL:   getEnv("SUPABASE_DB_URL", ""),
		SupabaseJWKSURL: jwksURL,
		CORSOrigins:     getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:     tablePrefix,

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		WSPort:   getEnv("WS_PORT", "8081"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ReasoningModel:  getEnv("REASONING_MODEL", "claude-sonnet-4-5-20250929"),
		ExecutionModel:  getEnv("EXECUTION_MODEL", "claude-haiku-4-5-20251001"),
		SimpleTools:     splitCSV(getEnv("SIMPLE_TOOLS", "web_search,get_weather")),
		MaxTokens:       getEnvInt("MAX_TOKENS", 4096),
		Temperature:     getEnvFloat("TEMPERATURE", 1.0),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT_SECONDS", 60) * time.Second,

		EnablePromptCaching:    getEnvBool("ENABLE_PROMPT_CACHING", true),
		ExtendedThinking:       getEnvBool("EXTENDED_THINKING", false),
		ExtendedThinkingBudget: getEnvInt("EXTENDED_THINKING_BUDGET", 2048),

		EmergencyFallbackEnabled:    getEnvBool("EMERGENCY_FALLBACK_ENABLED", false),
		EmergencyFallbackEndpoint:   getEnv("EMERGENCY_FALLBACK_ENDPOINT", ""),
		EmergencyFallbackAPIKeyName: getEnv("EMERGENCY_FALLBACK_API_KEY_NAME", "EMERGENCY_FALLBACK_API_KEY"),
		EmergencyFallbackModel:      getEnv("EMERGENCY_FALLBACK_MODEL", "gpt-4o-mini"),
		RecoveryDelaySeconds:        getEnvInt("RECOVERY_DELAY_SECONDS", 60),

		AnalysisEnabled:      getEnvBool("ANALYSIS_ENABLED", true),
		AnalysisEndpoint:     getEnv("ANALYSIS_ENDPOINT", ""),
		AnalysisModel:        getEnv("ANALYSIS_MODEL", "claude-haiku-4-5-20251001"),
		AnalysisAPIKeyName:   getEnv("ANALYSIS_API_KEY_NAME", "ANTHROPIC_API_KEY"),
		AnalysisContextPairs: getEnvInt("ANALYSIS_CONTEXT_PAIRS", 6),

		MaxIterations:      getEnvInt("MAX_ITERATIONS", 8),
		ToolLoaderToolName: getEnv("TOOL_LOADER_TOOL_NAME", "load_tool"),

		MaxMemories:           getEnvInt("MAX_MEMORIES", 20),
		MaxLinkTraversalDepth: getEnvInt("MAX_LINK_TRAVERSAL_DEPTH", 2),
		MinImportanceScore:    getEnvFloat("MIN_IMPORTANCE_SCORE", 0.3),
		SimilarityThreshold:   getEnvFloat("SIMILARITY_THRESHOLD", 0.7),

		MessageBatchSize: getEnvInt("MESSAGE_BATCH_SIZE", 10),
		BlockCacheTTL:    getEnvDuration("BLOCK_CACHE_TTL_SECONDS", 300) * time.Second,

		SessionSummaryCount: getEnvInt("SESSION_SUMMARY_COUNT", 5),

		EmbeddingServiceURL: getEnv("EMBEDDING_SERVICE_URL", "http://localhost:9000"),
		RerankerServiceURL:  getEnv("RERANKER_SERVICE_URL", ""),

		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	case "dev":
		return "dev_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds))
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
