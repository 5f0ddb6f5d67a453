package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts OpenAI's chat completions API to the Provider
// contract.
type OpenAIProvider struct {
	client *openai.Client
	base   BaseProvider
}

// NewOpenAIProvider creates a new OpenAI provider. An empty apiKey yields a
// provider whose calls always fail, matching the teacher's "configured but
// unusable" placeholder pattern for optional providers.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{base: NewBaseProvider("openai", 3, time.Second)}
	if apiKey != "" {
		client := openai.NewClient(apiKey)
		p.client = client
	}
	return p
}

func (p *OpenAIProvider) Name() string       { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) GenerateText(ctx context.Context, req Request) (*Response, error) {
	return p.complete(ctx, req)
}

func (p *OpenAIProvider) GenerateWithTools(ctx context.Context, req Request) (*Response, error) {
	return p.complete(ctx, req)
}

func (p *OpenAIProvider) complete(ctx context.Context, req Request) (*Response, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	messages := convertToOpenAIMessages(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToOpenAITools(req.Tools)
	}

	var result openai.ChatCompletionResponse
	err := p.base.Retry(ctx, IsRetryable, func() error {
		resp, callErr := p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return NewProviderError("openai", req.Model, callErr)
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return &Response{}, nil
	}

	choice := result.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

func convertToOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    tr.Content,
						ToolCallID: tr.ToolCallID,
					})
				}
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}
	return result
}

func convertToOpenAITools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
