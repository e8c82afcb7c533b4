package config

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
}

// RetrievalConfig carries the hierarchical search knobs. The subset carried by
// retriever.Query may be overridden per query; knobs a query leaves unset fall
// back to these defaults at call time.
type RetrievalConfig struct {
	DocsTopK             int     `yaml:"docs_top_k"`
	SectionsTopKPerDoc   int     `yaml:"sections_top_k_per_doc"`
	MaxTotalSections     int     `yaml:"max_total_sections"`
	ChunkTopK            int     `yaml:"chunk_top_k"`
	TopKPerDoc           int     `yaml:"topk_per_doc"`
	MinDocs              int     `yaml:"min_docs"`
	MaxResults           int     `yaml:"max_results"`
	MinScore             float64 `yaml:"min_score"`
	EnableSectionCosine  bool    `yaml:"enable_section_cosine"`
	EnableRerank         bool    `yaml:"enable_rerank"`
	RerankScoreThreshold float64 `yaml:"rerank_score_threshold"`
	RerankModel          string  `yaml:"rerank_model"`
	RerankTopN           int     `yaml:"rerank_top_n"`
	RerankAPIBase        string  `yaml:"rerank_api_base"`
	RerankAPIKey         string  `yaml:"rerank_api_key"`
	ChunksEnabled        bool    `yaml:"chunks_enabled"`
	EnableFilters        bool    `yaml:"enable_filters"`
	EnableBM25           bool    `yaml:"enable_bm25"`
	BM25TopK             int     `yaml:"bm25_top_k"`
	BM25Alpha            float64 `yaml:"bm25_alpha"`
	RRFK                 int     `yaml:"rrf_k"`
}

// OrchestratorConfig bounds the assistant loop.
type OrchestratorConfig struct {
	DefaultModel       string `yaml:"default_model"`
	PromptTokenBudget  int    `yaml:"prompt_token_budget"`
	ContextTokenBudget int    `yaml:"context_token_budget"`
	MaxToolSteps       int    `yaml:"max_tool_steps"`
	WindowRadius       int    `yaml:"window_radius"`
	DefaultUserID      string `yaml:"default_user_id"`
	DefaultTenantID    string `yaml:"default_tenant_id"`
	RuntimeURL         string `yaml:"runtime_url"`
	RuntimeAPIKey      string `yaml:"runtime_api_key"`
	MockMode           bool   `yaml:"mock_mode"`

	// Legacy knobs, coerced into WindowRadius at load time.
	WindowInitial  int `yaml:"window_initial,omitempty"`
	WindowStep     int `yaml:"window_step,omitempty"`
	WindowMax      int `yaml:"window_max,omitempty"`
	MaxChunkWindow int `yaml:"max_chunk_window,omitempty"`
}

// SafetyConfig drives the policy evaluator and the optional LLM safeguard.
type SafetyConfig struct {
	PolicyMode        string   `yaml:"policy_mode"` // strict | balanced | relaxed
	Blocklist         []string `yaml:"blocklist"`
	EnablePIISanitize bool     `yaml:"enable_pii_sanitize"`
	PolicyID          string   `yaml:"policy_id"`
	LLMEnabled        bool     `yaml:"safety_llm_enabled"`
	LLMModel          string   `yaml:"safety_llm_model"`
	LLMBaseURL        string   `yaml:"safety_llm_base_url"`
	LLMAPIKey         string   `yaml:"safety_llm_api_key"`
	LLMTimeoutSeconds float64  `yaml:"safety_llm_timeout"`
	LLMFailOpen       bool     `yaml:"safety_llm_fail_open"`
}

// ProxyConfig bounds the tool proxy.
type ProxyConfig struct {
	MaxWindowRadius  int    `yaml:"max_window_radius"`
	MaxTextBytes     int    `yaml:"max_text_bytes"`
	MaxPagesPerCall  int    `yaml:"max_pages_per_call"`
	RateLimitCalls   int    `yaml:"rate_limit_calls"`
	RateLimitTokens  int    `yaml:"rate_limit_tokens"`
	RateLimitPeriodS int    `yaml:"rate_limit_period_seconds"`
	RateLimitBackend string `yaml:"rate_limit_backend"` // memory | redis
	RedisAddr        string `yaml:"redis_addr"`

	// Legacy alias: total window size, coerced to MaxWindowRadius.
	MaxChunkWindow int `yaml:"max_chunk_window,omitempty"`
}

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	APIBase           string  `yaml:"api_base"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	MaxAttempts       int     `yaml:"max_attempts"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	MockMode          bool    `yaml:"mock_mode"`
}

// QdrantConfig names the vector collections and the endpoint.
type QdrantConfig struct {
	URL                string `yaml:"url"`
	DocsCollection     string `yaml:"docs_collection"`
	SectionsCollection string `yaml:"sections_collection"`
	ChunksCollection   string `yaml:"chunks_collection"`
}

// DatabaseConfig points at the document catalog.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// KafkaConfig configures the optional telemetry event publisher.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	TelemetryTopic string   `yaml:"telemetry_topic"`
}

// TelemetryConfig controls OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Safety       SafetyConfig       `yaml:"safety"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Qdrant       QdrantConfig       `yaml:"qdrant"`
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	OTel         TelemetryConfig    `yaml:"otel"`
	MockMode     bool               `yaml:"mock_mode"`
}

// Defaults returns the baseline configuration before file and env layers.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8070, LogLevel: "info"},
		Retrieval: RetrievalConfig{
			DocsTopK:            5,
			SectionsTopKPerDoc:  10,
			MaxTotalSections:    24,
			ChunkTopK:           20,
			MinDocs:             5,
			MaxResults:          5,
			EnableSectionCosine: true,
			RerankModel:         "gpt-4o-mini",
			RerankTopN:          5,
			BM25TopK:            20,
			BM25Alpha:           0.4,
			RRFK:                60,
		},
		Orchestrator: OrchestratorConfig{
			DefaultModel:       "gpt-4o-mini",
			PromptTokenBudget:  4096,
			ContextTokenBudget: 4096,
			MaxToolSteps:       4,
			WindowRadius:       2,
			DefaultUserID:      "anonymous",
			DefaultTenantID:    "observer_tenant",
			MockMode:           true,
		},
		Safety: SafetyConfig{
			PolicyMode:        "balanced",
			Blocklist:         []string{"hack", "breach", "exploit"},
			EnablePIISanitize: true,
			PolicyID:          "policy_default_v1",
			LLMModel:          "openai/gpt-oss-safeguard-20b",
			LLMTimeoutSeconds: 15,
			LLMFailOpen:       true,
		},
		Proxy: ProxyConfig{
			MaxWindowRadius:  2,
			MaxTextBytes:     20480,
			MaxPagesPerCall:  5,
			RateLimitCalls:   10,
			RateLimitTokens:  2000,
			RateLimitPeriodS: 60,
			RateLimitBackend: "memory",
		},
		Embedding: EmbeddingConfig{
			Model:             "baai/bge-m3",
			Dimensions:        8,
			MaxAttempts:       2,
			RetryDelaySeconds: 1,
		},
		Qdrant: QdrantConfig{
			DocsCollection:     "orion_docs",
			SectionsCollection: "orion_sections",
			ChunksCollection:   "orion_chunks",
		},
		OTel:     TelemetryConfig{ServiceName: "orion"},
		MockMode: true,
	}
}
