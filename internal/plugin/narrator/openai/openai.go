package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fableforge/chronicle/internal/config"
	"github.com/fableforge/chronicle/internal/narrative"
	registrynarrator "github.com/fableforge/chronicle/internal/registry/narrator"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemInstruction = "You are the memory chronicler of a narrative " +
	"role-play world. Answer with a single JSON object and nothing else."

func init() {
	registrynarrator.Register(registrynarrator.Plugin{
		Name:   "openai",
		Loader: load,
	})
}

func load(ctx context.Context) (registrynarrator.Narrator, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai narrator: CHRONICLE_OPENAI_API_KEY is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	client := openai.NewClient(opts...)
	return &Narrator{
		client:    &client,
		modelName: cfg.NarratorModelName,
		maxTokens: int64(cfg.NarratorMaxTokens),
	}, nil
}

type Narrator struct {
	client    *openai.Client
	modelName string
	maxTokens int64
}

func (n *Narrator) ModelName() string {
	return n.modelName
}

func (n *Narrator) Generate(ctx context.Context, prompt string) (narrative.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:     n.modelName,
		MaxTokens: openai.Int(n.maxTokens),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemInstruction),
			openai.UserMessage(prompt),
		},
	}
	completion, err := n.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return narrative.Result{}, fmt.Errorf("openai narrator: %w", err)
	}
	if len(completion.Choices) == 0 {
		return narrative.Result{}, fmt.Errorf("openai narrator: empty completion")
	}
	content := completion.Choices[0].Message.Content
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return narrative.Structured(json.RawMessage(trimmed)), nil
	}
	return narrative.RawText(content), nil
}

var _ registrynarrator.Narrator = (*Narrator)(nil)
