package cascade

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicWire speaks the native Messages API via
// github.com/anthropics/anthropic-sdk-go for endpoints declared with the
// anthropic wire format, adapting the response into the same internal
// Message shape so the executor never sees the difference.
type AnthropicWire struct{}

// NewAnthropicWire returns a stateless AnthropicWire adapter.
func NewAnthropicWire() *AnthropicWire { return &AnthropicWire{} }

const anthropicMaxTokens = 4096

// Call implements WireAdapter against endpoint using the Anthropic SDK.
// providerOnly has no Anthropic analogue and is ignored.
func (w *AnthropicWire) Call(ctx context.Context, endpoint ModelEndpoint, model string, messages []Message, tools []ToolSpec, toolChoiceRequired bool, providerOnly []string) (Message, error) {
	opts := []option.RequestOption{option.WithAPIKey(endpoint.APIKey)}
	if endpoint.URL != "" {
		opts = append(opts, option.WithBaseURL(endpoint.URL))
	}
	client := anthropic.NewClient(opts...)

	var system string
	var converted []anthropic.MessageParam
	toolResults := map[string]string{}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != nil {
				system = *m.Content
			}
		case RoleTool:
			if m.Content != nil {
				toolResults[m.ToolCallID] = *m.Content
			}
		case RoleUser:
			content := ""
			if m.Content != nil {
				content = *m.Content
			}
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		case RoleAssistant:
			content := ""
			if m.Content != nil {
				content = *m.Content
			}
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(anthropicMaxTokens),
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		var atools []anthropic.ToolUnionParam
		for _, t := range tools {
			atools = append(atools, anthropic.ToolUnionParamOfTool(
				anthropic.ToolInputSchemaParam{Properties: t.Function.Parameters["properties"]},
				t.Function.Name,
			))
		}
		params.Tools = atools
		if toolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAny: &anthropic.ToolChoiceAnyParam{},
			}
		}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return Message{}, fmt.Errorf("provider error: %w", err)
	}
	return convertAnthropicResponse(resp)
}

func convertAnthropicResponse(resp *anthropic.Message) (Message, error) {
	if resp == nil || len(resp.Content) == 0 {
		return Message{}, fmt.Errorf("empty response from anthropic")
	}
	out := Message{Role: RoleAssistant}
	var textParts string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			textParts += b.Text
		case anthropic.ToolUseBlock:
			args, err := b.Input.MarshalJSON()
			if err != nil {
				return Message{}, err
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   b.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      b.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if textParts != "" {
		out.Content = &textParts
	}
	return out, nil
}
