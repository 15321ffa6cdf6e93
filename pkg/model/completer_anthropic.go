package model

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

const anthropicMaxTokens = 8192

// AnthropicCompleter implements agentsession.Completer for Anthropic Claude
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter creates a new Anthropic completion backend
func NewAnthropicCompleter(apiKey, model string) *AnthropicCompleter {
	return &AnthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name
func (c *AnthropicCompleter) Provider() string {
	return "anthropic"
}

// Complete makes a single completion call against the message history
func (c *AnthropicCompleter) Complete(ctx context.Context, system string, history []agentsession.Message) (agentsession.Message, error) {
	messages := []anthropic.MessageParam{}

	for _, msg := range history {
		text := msg.Text()
		if text == "" {
			continue
		}

		switch msg.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(text),
			))
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(text),
				},
			})
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  messages,
		MaxTokens: anthropicMaxTokens,
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return agentsession.Message{}, err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}

	return agentsession.TextMessage("assistant", content), nil
}
