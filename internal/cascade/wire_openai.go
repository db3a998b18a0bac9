package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIWire speaks a strict subset of the OpenAI chat-completions
// contract against arbitrary endpoints. Each Call builds an
// *openai.Client scoped to the resolved ModelEndpoint, injecting the
// endpoint's extra headers through a custom http.RoundTripper.
type OpenAIWire struct{}

// NewOpenAIWire returns a stateless OpenAIWire adapter; each Call builds a
// short-lived client scoped to the endpoint's credentials and headers.
func NewOpenAIWire() *OpenAIWire { return &OpenAIWire{} }

type headerRoundTripper struct {
	headers map[string]string
	base    http.RoundTripper
}

func (h headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

func (w *OpenAIWire) clientFor(endpoint ModelEndpoint) *openai.Client {
	cfg := openai.DefaultConfig(endpoint.APIKey)
	if endpoint.URL != "" {
		cfg.BaseURL = endpoint.URL
	}
	if len(endpoint.ExtraHeaders) > 0 {
		base := http.DefaultTransport
		cfg.HTTPClient = &http.Client{Transport: headerRoundTripper{headers: endpoint.ExtraHeaders, base: base}}
	}
	return openai.NewClientWithConfig(cfg)
}

// Call implements WireAdapter against endpoint using go-openai.
func (w *OpenAIWire) Call(ctx context.Context, endpoint ModelEndpoint, model string, messages []Message, tools []ToolSpec, toolChoiceRequired bool, providerOnly []string) (Message, error) {
	client := w.clientFor(endpoint)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(messages),
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
		if toolChoiceRequired {
			req.ToolChoice = "required"
		}
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("provider error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("provider returned zero choices")
	}
	return convertResponseMessage(resp.Choices[0].Message), nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{Role: string(m.Role)}
		if m.Content != nil {
			om.Content = *m.Content
		}
		if m.ToolCallID != "" {
			om.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func convertTools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := json.RawMessage(mustMarshal(t.Function.Parameters))
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertResponseMessage(m openai.ChatCompletionMessage) Message {
	out := Message{Role: Role(m.Role)}
	if m.Content != "" {
		c := m.Content
		out.Content = &c
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func mustMarshal(v map[string]any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
