package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/neurobridge-ale/internal/platform/logger"
)

const defaultOpenAIModel = "gpt-4o-mini"

type openAIClient struct {
	client  *openai.Client
	model   string
	maxTok  int
	timeout time.Duration
	log     *logger.Logger
}

func newOpenAI(cfg Config, log *logger.Logger) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		maxTok:  cfg.MaxTokens,
		timeout: cfg.Timeout,
		log:     log.With("client", "OpenAIClient", "model", model),
	}
}

func (c *openAIClient) Provider() string { return ProviderOpenAI }
func (c *openAIClient) Model() string    { return c.model }

func (c *openAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               c.model,
		Messages:            msgs,
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		perr := &ProviderError{Provider: ProviderOpenAI, Err: err}
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		switch {
		case errors.As(err, &apiErr):
			perr.StatusCode = apiErr.HTTPStatusCode
		case errors.As(err, &reqErr):
			perr.StatusCode = reqErr.HTTPStatusCode
		}
		return Response{}, perr
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Response{}, &ProviderError{Provider: ProviderOpenAI, Err: ErrEmptyResponse}
	}
	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
