package model

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xiaozhch5/openclaw/pkg/agentsession"
)

// OpenAICompleter implements agentsession.Completer for OpenAI
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates a new OpenAI completion backend
func NewOpenAICompleter(apiKey, model string) *OpenAICompleter {
	return &OpenAICompleter{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name
func (c *OpenAICompleter) Provider() string {
	return "openai"
}

// Complete makes a single completion call against the message history
func (c *OpenAICompleter) Complete(ctx context.Context, system string, history []agentsession.Message) (agentsession.Message, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, msg := range history {
		text := msg.Text()
		if text == "" {
			continue
		}

		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(text))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(text))
		}
	}

	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	if err != nil {
		return agentsession.Message{}, err
	}

	if len(response.Choices) == 0 {
		return agentsession.Message{}, fmt.Errorf("no response choices returned")
	}

	return agentsession.TextMessage("assistant", response.Choices[0].Message.Content), nil
}
