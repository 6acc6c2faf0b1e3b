package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/wilhg/agentsim/pkg/adapters/llm"
	"github.com/wilhg/agentsim/pkg/errmodel"
)

const (
	defaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 1024
)

type clientWrapper struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature *float64
}

func (c *clientWrapper) Name() string { return "anthropic" }

func (c *clientWrapper) Generate(ctx context.Context, messages []llm.Message, opts map[string]any) (llm.GenerateResult, error) {
	model := c.model
	if v, ok := opts[llm.OptModel].(string); ok && v != "" {
		model = v
	}
	sys, turns := llm.SplitSystem(messages)
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  make([]sdk.MessageParam, 0, len(turns)),
	}
	if sys != "" {
		params.System = []sdk.TextBlockParam{{Text: sys}}
	}
	if t := llm.Temperature(opts, c.temperature); t != nil {
		params.Temperature = sdk.Float(*t)
	}
	for _, m := range turns {
		if m.Role == llm.RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			continue
		}
		params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.GenerateResult{}, errmodel.Model("anthropic_generate", "messages call failed", map[string]any{"model": model}, err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return llm.GenerateResult{
		Text:         b.String(),
		PromptTokens: int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Model:        model,
	}, nil
}

// Factory builds the Anthropic provider. cfg keys: api_key, model, max_tokens, temperature.
func Factory(ctx context.Context, cfg map[string]any) (llm.LLM, error) { // nolint: revive
	_ = ctx
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key; set ANTHROPIC_API_KEY or cfg.api_key")
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}
	maxTokens := int64(defaultMaxTokens)
	switch v := cfg["max_tokens"].(type) {
	case int:
		maxTokens = int64(v)
	case float64:
		maxTokens = int64(v)
	}
	w := &clientWrapper{client: sdk.NewClient(option.WithAPIKey(apiKey)), model: model, maxTokens: maxTokens}
	if t, ok := llm.Float(cfg, llm.OptTemperature); ok {
		w.temperature = &t
	}
	return w, nil
}

func init() {
	_ = llm.Register("anthropic", Factory)
}
