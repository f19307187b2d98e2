package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/quantmesh/QuorumGo/internal/config"
)

// Asker issues a single prompt to a named agent persona.
type Asker interface {
	Ask(ctx context.Context, agentID, prompt string) (string, error)
}

// FuncAsker adapts a plain function to the Asker interface.
type FuncAsker func(ctx context.Context, agentID, prompt string) (string, error)

func (f FuncAsker) Ask(ctx context.Context, agentID, prompt string) (string, error) {
	return f(ctx, agentID, prompt)
}

// Personas assigned to the default agent roster. Unknown agents fall back
// to a generic analyst framing.
var defaultPersonas = map[string]string{
	"deepseek":   "You are a quantitative analyst focused on technical signals and statistical edges.",
	"qwen":       "You are a risk-focused analyst who stress-tests every proposal for downside scenarios.",
	"perplexity": "You are a macro researcher who weighs market regime and cross-asset context.",
}

const genericPersona = "You are an experienced trading analyst. Answer precisely and commit to a position."

// ModelPool maps agent personas onto eino chat models. All agents share the
// configured provider's model unless one is registered explicitly.
type ModelPool struct {
	mu           sync.RWMutex
	models       map[string]model.BaseChatModel
	personas     map[string]string
	defaultModel model.BaseChatModel
	logger       *logrus.Logger
}

// NewModelPool builds the pool for the configured provider.
func NewModelPool(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ModelPool, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var (
		cm  model.BaseChatModel
		err error
	)
	switch cfg.LLMProvider {
	case "openai":
		cm, err = newOpenAIModel(ctx, cfg)
	default:
		cm, err = newDeepSeekModel(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	personas := make(map[string]string, len(defaultPersonas))
	for k, v := range defaultPersonas {
		personas[k] = v
	}

	return &ModelPool{
		models:       make(map[string]model.BaseChatModel),
		personas:     personas,
		defaultModel: cm,
		logger:       logger,
	}, nil
}

func newDeepSeekModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if cfg.DeepSeekAPIKey == "" {
		return nil, fmt.Errorf("deepseek api key is required")
	}
	return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		APIKey:    cfg.DeepSeekAPIKey,
		Model:     cfg.DeepSeekModel,
		MaxTokens: 2000,
	})
}

func newOpenAIModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	maxTokens := 2000
	mc := &openai.ChatModelConfig{
		APIKey:    cfg.OpenAIAPIKey,
		Model:     cfg.OpenAIModel,
		MaxTokens: &maxTokens,
	}
	if cfg.BackendURL != "" {
		mc.BaseURL = cfg.BackendURL
	}
	return openai.NewChatModel(ctx, mc)
}

// Register binds an agent to a dedicated model and persona.
func (p *ModelPool) Register(agentID string, cm model.BaseChatModel, persona string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cm != nil {
		p.models[agentID] = cm
	}
	if persona != "" {
		p.personas[agentID] = persona
	}
}

// Ask sends the prompt to the agent's model under its persona and returns
// the reply text.
func (p *ModelPool) Ask(ctx context.Context, agentID, prompt string) (string, error) {
	p.mu.RLock()
	cm, ok := p.models[agentID]
	if !ok {
		cm = p.defaultModel
	}
	persona, ok := p.personas[agentID]
	if !ok {
		persona = genericPersona
	}
	p.mu.RUnlock()

	messages := []*schema.Message{
		{Role: schema.System, Content: persona},
		{Role: schema.User, Content: prompt},
	}

	reply, err := cm.Generate(ctx, messages)
	if err != nil {
		p.logger.WithError(err).WithField("agent", agentID).Warn("chat model call failed")
		return "", fmt.Errorf("ask %s: %w", agentID, err)
	}
	return reply.Content, nil
}
