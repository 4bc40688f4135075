package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client for OpenAI-compatible endpoints, including
// the Gemini API's OpenAI compatibility layer.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for apiKey against baseURL.
// The SDK's own retries are disabled: failed calls surface immediately so
// the caller can move to the next model.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key must not be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger,
	}, nil
}

// OpenAIDialer returns a Dialer producing OpenAIClients for baseURL.
func OpenAIDialer(baseURL string, timeout time.Duration, logger *slog.Logger) Dialer {
	return func(apiKey string) (Client, error) {
		return NewOpenAIClient(apiKey, baseURL, timeout, logger)
	}
}

// CreateSession starts a chat bound to model. The history is kept on the
// session and sent with every request.
func (c *OpenAIClient) CreateSession(model string, cfg GenerationConfig, history []Message) (Session, error) {
	if model == "" {
		return nil, fmt.Errorf("model must not be empty")
	}
	s := &openAISession{
		client: c,
		model:  model,
		cfg:    cfg,
	}
	if cfg.SystemInstruction != "" {
		s.history = append(s.history, openai.SystemMessage(cfg.SystemInstruction))
	}
	for _, m := range history {
		switch m.Role {
		case RoleModel:
			s.history = append(s.history, openai.AssistantMessage(m.Payload.Text()))
		default:
			s.history = append(s.history, userMessage(m.Payload))
		}
	}
	c.logger.Debug("created chat session", "model", model, "history", len(history))
	return s, nil
}

// GenerateOnce runs a single-shot completion with no session state.
func (c *OpenAIClient) GenerateOnce(ctx context.Context, model, prompt string) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}
	return c.complete(ctx, model, params)
}

func (c *OpenAIClient) complete(ctx context.Context, model string, params openai.ChatCompletionNewParams) (Reply, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		classified := classifyAPIError(model, err)
		c.logger.Warn("completion failed",
			"model", model,
			"kind", classified.Kind,
			"status", classified.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return Reply{}, classified
	}

	reply := Reply{
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) > 0 {
		reply.Text = resp.Choices[0].Message.Content
	}
	c.logger.Debug("completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", reply.Usage.InputTokens,
		"output_tokens", reply.Usage.OutputTokens)
	return reply, nil
}

// classifyAPIError maps SDK errors onto backend.Error. This is the only
// place where error text is inspected.
func classifyAPIError(model string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindOther, Model: model, Err: err}
	}

	status := 0
	msg := err.Error()
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		// the full error text embeds the request URL; match on the API message only
		if apiErr.Message != "" {
			msg = apiErr.Message
		}
	}
	return &Error{
		Kind:       Classify(status, msg),
		Model:      model,
		StatusCode: status,
		Err:        err,
	}
}

type openAISession struct {
	client  *OpenAIClient
	model   string
	cfg     GenerationConfig
	history []openai.ChatCompletionMessageParamUnion
}

func (s *openAISession) Model() string { return s.model }

// Send appends the payload as a user turn. The turn and the reply join the
// history only when the call succeeds.
func (s *openAISession) Send(ctx context.Context, p Payload) (Reply, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	user := userMessage(p)
	msgs = append(msgs, user)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.model),
		Messages: msgs,
	}
	params.Temperature = openai.Float(s.cfg.Temperature)
	if s.cfg.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.cfg.MaxOutputTokens))
	}

	reply, err := s.client.complete(ctx, s.model, params)
	if err != nil {
		return Reply{}, err
	}
	s.history = append(s.history, user, openai.AssistantMessage(reply.Text))
	return reply, nil
}

// userMessage converts a payload into a user message, multipart when it
// carries media.
func userMessage(p Payload) openai.ChatCompletionMessageParamUnion {
	if p.IsPlainText() {
		return openai.UserMessage(p.Text())
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	for _, seg := range p.Segments {
		if seg.Media != nil {
			dataURI := fmt.Sprintf("data:%s;base64,%s", seg.Media.MIMEType, seg.Media.Data)
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURI,
			}))
			continue
		}
		parts = append(parts, openai.TextContentPart(seg.Text))
	}
	return openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfArrayOfContentParts: parts,
			},
		},
	}
}
