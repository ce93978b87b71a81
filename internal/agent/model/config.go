package model

// ================ Config ================

// ModelConfig selects and tunes the chat model provider.
type ModelConfig struct {
	Provider    string  `envconfig:"MODEL_PROVIDER" default:"gemini"`
	Model       string  `envconfig:"MODEL_NAME" default:"gemini-2.5-flash"`
	APIKey      string  `envconfig:"MODEL_API_KEY"`
	BaseURL     string  `envconfig:"MODEL_BASE_URL"`
	MaxTokens   int     `envconfig:"MODEL_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"MODEL_TEMPERATURE" default:"0.4"`
}

// SummaryConfig optionally routes summarization to a cheaper model.
type SummaryConfig struct {
	Model       string  `envconfig:"SUMMARY_MODEL"`
	MaxTokens   int     `envconfig:"SUMMARY_MAX_TOKENS" default:"600"`
	Temperature float32 `envconfig:"SUMMARY_TEMPERATURE" default:"0.1"`
}

// MemoryConfig controls history loading for the memory manager.
type MemoryConfig struct {
	// HistoryLimit is the number of persisted messages loaded per turn.
	HistoryLimit int `envconfig:"MEMORY_HISTORY_LIMIT" default:"200"`
}

// ToolsConfig controls the execute_tools node.
type ToolsConfig struct {
	Parallel    bool `envconfig:"TOOLS_PARALLEL" default:"false"`
	Parallelism int  `envconfig:"TOOLS_PARALLELISM" default:"4"`
}

// RetrievalConfig configures query embeddings for retrieve_context.
type RetrievalConfig struct {
	EmbeddingModel string `envconfig:"RETRIEVAL_EMBEDDING_MODEL"`
	DocumentsPath  string `envconfig:"RETRIEVAL_DOCUMENTS_PATH"`
}

// PromptConfig customises the default system prompt.
type PromptConfig struct {
	AssistantName string `envconfig:"PROMPT_ASSISTANT_NAME" default:"Chative"`
	Persona       string `envconfig:"PROMPT_PERSONA" default:"a helpful, concise assistant"`
}
