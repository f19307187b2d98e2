package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir string `json:"project_dir"`
	ResultsDir string `json:"results_dir"`
	DataDir    string `json:"data_dir"`

	// LLM backends
	LLMProvider    string `json:"llm_provider"` // deepseek or openai
	DeepSeekModel  string `json:"deepseek_model"`
	OpenAIModel    string `json:"openai_model"`
	BackendURL     string `json:"backend_url"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key"`

	// Deliberation
	DeliberationAgents    []string `json:"deliberation_agents"`
	MaxDeliberationRounds int      `json:"max_deliberation_rounds"`
	ConvergenceThreshold  float64  `json:"convergence_threshold"`
	MinConfidence         float64  `json:"min_confidence"`
	CallTimeoutSeconds    int      `json:"call_timeout_seconds"`
	MaxConcurrentCalls    int      `json:"max_concurrent_calls"`
	EnableParallelCalls   bool     `json:"enable_parallel_calls"`

	// Consensus
	ConsensusMethod string `json:"consensus_method"`

	// RLHF
	MinFeedbackSamples int     `json:"min_feedback_samples"`
	TrainEpochs        int     `json:"train_epochs"`
	LearningRate       float64 `json:"learning_rate"`

	// Evolution
	MaxGenerations  int     `json:"max_generations"`
	PlateauPatience int     `json:"plateau_patience"`
	PlateauEpsilon  float64 `json:"plateau_epsilon"`

	// External services
	BacktestServiceURL string `json:"backtest_service_url"`

	Debug        bool `json:"debug"`
	CacheEnabled bool `json:"cache_enabled"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	return DefaultConfigWithRoot(currentDir)
}

func DefaultConfigWithRoot(root string) *Config {
	cfg := &Config{
		ProjectDir: root,
		ResultsDir: filepath.Join(root, "results"),
		DataDir:    filepath.Join(root, "data"),

		LLMProvider:   "deepseek",
		DeepSeekModel: "deepseek-chat",
		OpenAIModel:   "gpt-4o-mini",
		BackendURL:    "",

		DeliberationAgents:    []string{"deepseek", "qwen", "perplexity"},
		MaxDeliberationRounds: 3,
		ConvergenceThreshold:  0.75,
		MinConfidence:         0.6,
		CallTimeoutSeconds:    120,
		MaxConcurrentCalls:    8,
		EnableParallelCalls:   true,

		ConsensusMethod: "weighted_voting",

		MinFeedbackSamples: 10,
		TrainEpochs:        50,
		LearningRate:       0.01,

		MaxGenerations:  5,
		PlateauPatience: 2,
		PlateauEpsilon:  0.01,

		BacktestServiceURL: "http://localhost:8085",

		Debug:        false,
		CacheEnabled: true,
	}

	// Load environment variables from .env file when present.
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QUORUM_LLM_PROVIDER"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.DeepSeekAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("QUORUM_BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("QUORUM_BACKTEST_URL"); v != "" {
		c.BacktestServiceURL = v
	}
	if v := os.Getenv("QUORUM_AGENTS"); v != "" {
		parts := strings.Split(v, ",")
		agents := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				agents = append(agents, p)
			}
		}
		if len(agents) > 0 {
			c.DeliberationAgents = agents
		}
	}
	if v := os.Getenv("QUORUM_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxDeliberationRounds = n
		}
	}
	if v := os.Getenv("QUORUM_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

func (c *Config) Validate() error {
	if c.MaxDeliberationRounds < 1 {
		return fmt.Errorf("max_deliberation_rounds must be >= 1, got %d", c.MaxDeliberationRounds)
	}
	if c.ConvergenceThreshold < 0 || c.ConvergenceThreshold > 1 {
		return fmt.Errorf("convergence_threshold must be in [0,1], got %f", c.ConvergenceThreshold)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %f", c.MinConfidence)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max_concurrent_calls must be >= 1, got %d", c.MaxConcurrentCalls)
	}
	if c.MinFeedbackSamples < 1 {
		return fmt.Errorf("min_feedback_samples must be >= 1, got %d", c.MinFeedbackSamples)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.ResultsDir, c.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
