// Package ai generates post text through the OpenAI chat-completions API.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You write short, engaging social media captions with relevant hashtags. " +
	"Respond with the caption text only, no preamble."

type Client struct {
	client openai.Client
	model  string
}

func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{client: openai.NewClient(opts...), model: model}
}

// Generate runs a single-shot completion for the composed prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", domain.E("generate", domain.KindServer, fmt.Errorf("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return domain.E("generate", domain.KindAuth, err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return domain.E("generate", domain.KindRateLimit, err)
		case apierr.StatusCode >= 400 && apierr.StatusCode < 500:
			return domain.E("generate", domain.KindValidation, err)
		case apierr.StatusCode >= 500:
			return domain.E("generate", domain.KindServer, err)
		}
	}
	return domain.E("generate", domain.KindNetwork, err)
}
