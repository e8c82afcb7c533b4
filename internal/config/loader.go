package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration in layers: defaults, then an optional YAML file
// (ORION_CONFIG or ./orion.yaml), then environment variables. The returned
// snapshot is immutable; live mutation goes through Store.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	path := strings.TrimSpace(os.Getenv("ORION_CONFIG"))
	if path == "" {
		if _, err := os.Stat("orion.yaml"); err == nil {
			path = "orion.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	coerceAliases(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Server.Host, "ORION_HOST")
	setInt(&cfg.Server.Port, "ORION_PORT")
	setStr(&cfg.Server.LogLevel, "LOG_LEVEL")
	setStr(&cfg.Server.LogPath, "LOG_PATH")
	setBool(&cfg.MockMode, "ORION_MOCK_MODE")

	setInt(&cfg.Retrieval.DocsTopK, "RETR_DOCS_TOP_K")
	setInt(&cfg.Retrieval.SectionsTopKPerDoc, "RETR_SECTIONS_TOP_K_PER_DOC")
	setInt(&cfg.Retrieval.MaxTotalSections, "RETR_MAX_TOTAL_SECTIONS")
	setInt(&cfg.Retrieval.ChunkTopK, "RETR_CHUNK_TOP_K")
	setInt(&cfg.Retrieval.TopKPerDoc, "RETR_TOPK_PER_DOC")
	setInt(&cfg.Retrieval.MinDocs, "RETR_MIN_DOCS")
	setInt(&cfg.Retrieval.MaxResults, "RETR_MAX_RESULTS")
	setBool(&cfg.Retrieval.EnableSectionCosine, "RETR_ENABLE_SECTION_COSINE")
	setBool(&cfg.Retrieval.EnableRerank, "RETR_ENABLE_RERANK")
	setFloat(&cfg.Retrieval.RerankScoreThreshold, "RETR_RERANK_SCORE_THRESHOLD")
	setStr(&cfg.Retrieval.RerankModel, "RETR_RERANK_MODEL")
	setInt(&cfg.Retrieval.RerankTopN, "RETR_RERANK_TOP_N")
	setStr(&cfg.Retrieval.RerankAPIBase, "RETR_RERANK_API_BASE")
	setStr(&cfg.Retrieval.RerankAPIKey, "RETR_RERANK_API_KEY")
	setBool(&cfg.Retrieval.ChunksEnabled, "RETR_CHUNKS_ENABLED")
	setBool(&cfg.Retrieval.EnableFilters, "RETR_ENABLE_FILTERS")
	setBool(&cfg.Retrieval.EnableBM25, "RETR_ENABLE_BM25")
	setInt(&cfg.Retrieval.BM25TopK, "RETR_BM25_TOP_K")
	setFloat(&cfg.Retrieval.BM25Alpha, "RETR_BM25_ALPHA")
	setInt(&cfg.Retrieval.RRFK, "RETR_RRF_K")

	setStr(&cfg.Orchestrator.DefaultModel, "ORCH_DEFAULT_MODEL")
	setInt(&cfg.Orchestrator.PromptTokenBudget, "ORCH_PROMPT_TOKEN_BUDGET")
	setInt(&cfg.Orchestrator.ContextTokenBudget, "ORCH_CONTEXT_TOKEN_BUDGET")
	setInt(&cfg.Orchestrator.MaxToolSteps, "ORCH_MAX_TOOL_STEPS")
	setInt(&cfg.Orchestrator.WindowRadius, "ORCH_WINDOW_RADIUS")
	setInt(&cfg.Orchestrator.WindowInitial, "ORCH_WINDOW_INITIAL")
	setInt(&cfg.Orchestrator.WindowStep, "ORCH_WINDOW_STEP")
	setInt(&cfg.Orchestrator.WindowMax, "ORCH_WINDOW_MAX")
	setInt(&cfg.Orchestrator.MaxChunkWindow, "ORCH_MAX_CHUNK_WINDOW")
	setStr(&cfg.Orchestrator.DefaultUserID, "ORCH_DEFAULT_USER_ID")
	setStr(&cfg.Orchestrator.DefaultTenantID, "ORCH_DEFAULT_TENANT_ID")
	setStr(&cfg.Orchestrator.RuntimeURL, "LLM_RUNTIME_URL")
	setStr(&cfg.Orchestrator.RuntimeAPIKey, "LLM_RUNTIME_API_KEY")
	if cfg.Orchestrator.RuntimeAPIKey == "" {
		setStr(&cfg.Orchestrator.RuntimeAPIKey, "OPENROUTER_API_KEY")
	}
	setBool(&cfg.Orchestrator.MockMode, "ORCH_MOCK_MODE")

	setStr(&cfg.Safety.PolicyMode, "SAFETY_POLICY_MODE")
	if v := strings.TrimSpace(os.Getenv("SAFETY_BLOCKLIST")); v != "" {
		cfg.Safety.Blocklist = splitCSV(v)
	}
	setBool(&cfg.Safety.EnablePIISanitize, "SAFETY_ENABLE_PII_SANITIZE")
	setStr(&cfg.Safety.PolicyID, "SAFETY_POLICY_ID")
	setBool(&cfg.Safety.LLMEnabled, "SAFETY_LLM_ENABLED")
	setStr(&cfg.Safety.LLMModel, "SAFETY_LLM_MODEL")
	setStr(&cfg.Safety.LLMBaseURL, "SAFETY_LLM_BASE_URL")
	setStr(&cfg.Safety.LLMAPIKey, "SAFETY_LLM_API_KEY")
	setFloat(&cfg.Safety.LLMTimeoutSeconds, "SAFETY_LLM_TIMEOUT")
	setBool(&cfg.Safety.LLMFailOpen, "SAFETY_LLM_FAIL_OPEN")

	setInt(&cfg.Proxy.MaxWindowRadius, "MCP_MAX_WINDOW_RADIUS")
	setInt(&cfg.Proxy.MaxChunkWindow, "MCP_MAX_CHUNK_WINDOW")
	setInt(&cfg.Proxy.MaxTextBytes, "MCP_MAX_TEXT_BYTES")
	setInt(&cfg.Proxy.MaxPagesPerCall, "MCP_MAX_PAGES_PER_CALL")
	setInt(&cfg.Proxy.RateLimitCalls, "MCP_RATE_LIMIT_CALLS")
	setInt(&cfg.Proxy.RateLimitTokens, "MCP_RATE_LIMIT_TOKENS")
	setInt(&cfg.Proxy.RateLimitPeriodS, "MCP_RATE_LIMIT_PERIOD_SECONDS")
	setStr(&cfg.Proxy.RateLimitBackend, "MCP_RATE_LIMIT_BACKEND")
	setStr(&cfg.Proxy.RedisAddr, "REDIS_ADDR")

	setStr(&cfg.Embedding.APIBase, "EMBEDDING_API_BASE")
	setStr(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	setStr(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	setInt(&cfg.Embedding.MaxAttempts, "EMBEDDING_MAX_ATTEMPTS")
	setFloat(&cfg.Embedding.RetryDelaySeconds, "EMBEDDING_RETRY_DELAY_SECONDS")
	setBool(&cfg.Embedding.MockMode, "EMBEDDING_MOCK_MODE")

	setStr(&cfg.Qdrant.URL, "QDRANT_URL")
	setStr(&cfg.Qdrant.DocsCollection, "QDRANT_DOCS_COLLECTION")
	setStr(&cfg.Qdrant.SectionsCollection, "QDRANT_SECTIONS_COLLECTION")
	setStr(&cfg.Qdrant.ChunksCollection, "QDRANT_CHUNKS_COLLECTION")

	setStr(&cfg.Database.ConnectionString, "DATABASE_URL")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	setStr(&cfg.Kafka.TelemetryTopic, "KAFKA_TELEMETRY_TOPIC")

	setBool(&cfg.OTel.Enabled, "OTEL_ENABLED")
	setStr(&cfg.OTel.Endpoint, "OTEL_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "OTEL_INSECURE")
	setStr(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
}

// coerceAliases folds legacy window knobs into the per-side radius. The old
// shape was (initial, step, max) plus a total-size cap; the radius model keeps
// only the per-side maximum: R = (total-1)/2 for total-size aliases, and
// window_max wins over window_radius when explicitly set.
func coerceAliases(cfg *Config) {
	if cfg.Orchestrator.WindowMax > 0 {
		cfg.Orchestrator.WindowRadius = cfg.Orchestrator.WindowMax
	}
	if cfg.Orchestrator.MaxChunkWindow > 0 {
		cfg.Orchestrator.WindowRadius = (cfg.Orchestrator.MaxChunkWindow - 1) / 2
	}
	if cfg.Proxy.MaxChunkWindow > 0 {
		cfg.Proxy.MaxWindowRadius = (cfg.Proxy.MaxChunkWindow - 1) / 2
	}
	if cfg.Orchestrator.WindowRadius < 1 {
		cfg.Orchestrator.WindowRadius = 1
	}
	if cfg.Proxy.MaxWindowRadius < 1 {
		cfg.Proxy.MaxWindowRadius = 1
	}
	cfg.Orchestrator.WindowInitial = 0
	cfg.Orchestrator.WindowStep = 0
	cfg.Orchestrator.WindowMax = 0
	cfg.Orchestrator.MaxChunkWindow = 0
	cfg.Proxy.MaxChunkWindow = 0
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
