package cascade

import (
	"context"
	"strings"
)

// VerifyResult reports whether a model answered the probe request, and
// whether it needed the tool_choice field omitted to do so.
type VerifyResult struct {
	Valid        bool
	Error        string
	NoToolChoice bool
}

var probeTool = ToolSpec{
	Type: "function",
	Function: ToolFunctionSpec{
		Name:        "test",
		Description: "Trivial probe tool used to verify model tool-call support.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false},
	},
}

// VerifyModel sends a one-token probe request with a trivial "test" tool.
// On a tool_choice-unsupported error it retries without tool_choice, and
// on success of the retry reports NoToolChoice: true for future use.
func (c *Client) VerifyModel(ctx context.Context, endpointID, modelID, providerHint string) VerifyResult {
	endpoint, ok := c.currentConfig().Endpoints[endpointID]
	if !ok {
		return VerifyResult{Valid: false, Error: "unknown endpoint"}
	}
	adapter, ok := c.wire[endpoint.WireFormat]
	if !ok {
		return VerifyResult{Valid: false, Error: "unknown wire format"}
	}

	probe := []Message{NewTextMessage(RoleUser, "respond with the test tool")}
	var providerOnly []string
	if providerHint != "" {
		providerOnly = []string{providerHint}
	}

	_, err := adapter.Call(ctx, endpoint, modelID, probe, []ToolSpec{probeTool}, true, providerOnly)
	if err == nil {
		return VerifyResult{Valid: true}
	}

	if isToolChoiceUnsupported(err.Error()) {
		_, retryErr := adapter.Call(ctx, endpoint, modelID, probe, []ToolSpec{probeTool}, false, providerOnly)
		if retryErr == nil {
			return VerifyResult{Valid: true, NoToolChoice: true}
		}
		return VerifyResult{Valid: false, Error: retryErr.Error()}
	}
	return VerifyResult{Valid: false, Error: err.Error()}
}

// isToolChoiceUnsupported matches the provider error patterns seen when a
// model rejects tool_choice: "tool_choice", "tool choice", or both "tool"
// and "not supported", all case-insensitive.
func isToolChoiceUnsupported(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "tool_choice") || strings.Contains(lower, "tool choice") {
		return true
	}
	return strings.Contains(lower, "tool") && strings.Contains(lower, "not supported")
}
