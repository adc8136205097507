package llm

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/openloop-dev/openloop/pkg/models"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates a client. baseURL is optional; empty means the
// official endpoint.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...)}
}

// Stream runs a streaming completion, invoking emit per fragment and
// assembling the final result from the accumulated stream.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, emit func(Chunk)) (*Result, error) {
	params := buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text         string
		finishReason string
		usage        models.Usage
		calls        = map[int]*toolCallAccumulator{}
	)

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = models.Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:      int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			text += choice.Delta.Content
			emit(TextChunk{Text: choice.Delta.Content})
		}
		if thinking := reasoningDelta(choice.Delta); thinking != "" {
			emit(ThinkingChunk{Text: thinking})
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := int(tc.Index)
			acc, ok := calls[idx]
			if !ok {
				acc = &toolCallAccumulator{}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.arguments += tc.Function.Arguments
			emit(ToolCallChunk{
				Index:             idx,
				ID:                tc.ID,
				Name:              tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
			emit(FinishChunk{Reason: choice.FinishReason})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("streaming completion failed: %w", err)
	}

	return &Result{
		Text:         text,
		ToolCalls:    assembleToolCalls(calls),
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// Complete runs a single non-streaming completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Result, error) {
	resp, err := c.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}
	choice := resp.Choices[0]

	result := &Result{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: models.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

type toolCallAccumulator struct {
	id        string
	name      string
	arguments string
}

func assembleToolCalls(calls map[int]*toolCallAccumulator) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(calls))
	for _, idx := range indexes {
		acc := calls[idx]
		out = append(out, ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.arguments})
	}
	return out
}

func buildParams(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertMessage(m))
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	for _, d := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  shared.FunctionParameters(d.Schema),
			},
		})
	}
	return params
}

func convertMessage(m Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content)
		}
		assistant := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			assistant.Content.OfString = openai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
	case RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID)
	case RoleSystem:
		return openai.SystemMessage(m.Content)
	default:
		return openai.UserMessage(m.Content)
	}
}

// reasoningDelta extracts provider-specific reasoning text from the delta's
// undocumented extra fields. OpenAI-compatible reasoning models ship it as
// reasoning_content or reasoning.
func reasoningDelta(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, key := range []string{"reasoning_content", "reasoning"} {
		field, ok := delta.JSON.ExtraFields[key]
		if !ok {
			continue
		}
		if s, err := strconv.Unquote(field.Raw()); err == nil && s != "" {
			return s
		}
	}
	return ""
}
