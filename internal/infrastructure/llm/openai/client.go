package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/bme3412/clarity/internal/core/domain"
	"github.com/bme3412/clarity/internal/infrastructure/resilience"
)

// Client adapts the OpenAI chat completions API to the generation port.
// Non-streaming calls run through the resilience executor; streaming calls
// are issued once and cancelled by request context, since a half-consumed
// stream cannot be retried transparently.
type Client struct {
	api      openai.Client
	model    string
	executor *resilience.Executor
}

type Options struct {
	APIKey   string
	BaseURL  string
	Model    string
	Executor *resilience.Executor
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "openai init", fmt.Errorf("api key is required"))
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &Client{
		api:      openai.NewClient(requestOpts...),
		model:    model,
		executor: opts.Executor,
	}, nil
}

func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResult, error) {
	params := c.buildParams(req)

	var result *domain.CompletionResult
	call := func(ctx context.Context) error {
		completion, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		result = &domain.CompletionResult{
			Text: strings.TrimSpace(completion.Choices[0].Message.Content),
			Usage: domain.TokenUsage{
				PromptTokens:     completion.Usage.PromptTokens,
				CompletionTokens: completion.Usage.CompletionTokens,
			},
		}
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai.complete", call, classifyOpenAIError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai complete", err)
	}
	return result, nil
}

func (c *Client) CompleteStream(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamDelta, error) {
	params := c.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan domain.StreamDelta, 8)

	go func() {
		defer close(out)

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case out <- domain.StreamDelta{Content: content}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- domain.StreamDelta{Err: wrapTemporaryIfNeeded("openai stream", err)}:
			case <-ctx.Done():
			}
			return
		}

		usage := &domain.TokenUsage{
			PromptTokens:     acc.Usage.PromptTokens,
			CompletionTokens: acc.Usage.CompletionTokens,
		}
		select {
		case out <- domain.StreamDelta{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func (c *Client) buildParams(req domain.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, turn := range req.Messages {
		switch strings.ToLower(turn.Role) {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}
