// Package cascade implements the model-cascade client: an OpenAI-compatible
// chat-completions client that cascades through an ordered list of
// (endpoint, model, provider-hint) triples, skips recently-failing entries
// with exponential back-off, and falls back to a best-health ordering when
// the cascade is exhausted.
package cascade

import (
	"fmt"

	"github.com/haasonsaas/actionforge/internal/action"
)

// Role is one of the four conversation roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallFunction is the {name, arguments} pair inside a ToolCall.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a structured request from the model to execute a named
// action; arguments are a JSON string parsed by the caller.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Message is one entry in the Conversation. Assistant messages may carry
// ToolCalls; tool messages carry ToolCallID and stringified Content.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewTextMessage builds a message with plain string content.
func NewTextMessage(role Role, content string) Message {
	c := content
	return Message{Role: role, Content: &c}
}

// NewToolMessage builds a tool-response message for a given tool_call_id.
func NewToolMessage(toolCallID, content string) Message {
	c := content
	return Message{Role: RoleTool, Content: &c, ToolCallID: toolCallID}
}

// ToolFunctionSpec is the {name, description, parameters} body of a tool.
type ToolFunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolSpec is one entry of the wire "tools" array.
type ToolSpec struct {
	Type     string           `json:"type"`
	Function ToolFunctionSpec `json:"function"`
}

// respondToolName is the synthetic tool name single-schema mode wraps a
// caller-supplied output schema under.
const respondToolName = "respond"

// SchemaToTool wraps a Schema as the single tool named "respond", so
// schema-shaped requests reuse the same tool-call response path.
func SchemaToTool(schema action.Schema) ToolSpec {
	return ToolSpec{
		Type: "function",
		Function: ToolFunctionSpec{
			Name:        respondToolName,
			Description: "Produce the structured response.",
			Parameters:  schema.ToJSONSchema(),
		},
	}
}

// ProviderHint carries an OpenRouter-style "provider: {only: [...]}" wire hint.
type ProviderHint struct {
	Only []string `json:"only,omitempty"`
}

// Tier groups cascade entries by intelligence level.
type Tier = action.Intelligence

// Entry is one (endpoint, model, provider-hint) triple attempted in turn
// for a single model call.
type Entry struct {
	EndpointID   string
	ModelID      string
	ProviderHint string
	NoToolChoice bool
}

// Key is the health-counter key for this entry's triple.
func (e Entry) Key() string {
	return fmt.Sprintf("%s|%s|%s", e.EndpointID, e.ModelID, e.ProviderHint)
}

// Config maps tier to the ordered cascade entries for that tier, plus the
// map of endpoint-id to resolved ModelEndpoint. Hot-swappable via
// Client.UpdateConfig.
type Config struct {
	Tiers     map[Tier][]Entry
	Endpoints map[string]ModelEndpoint
}

// ModelEndpoint resolves an endpoint-id to connection details. Credential
// per endpoint; never mutated during a request.
type ModelEndpoint struct {
	URL          string
	APIKey       string
	ExtraHeaders map[string]string
	WireFormat   WireFormat
}

// WireFormat selects which protocol adapter speaks to this endpoint:
// OpenAI-compatible chat completions, or the native Anthropic Messages
// API.
type WireFormat string

const (
	WireOpenAI    WireFormat = "openai"
	WireAnthropic WireFormat = "anthropic"
)

// orderedTiersFrom returns the requested tier followed by every lower
// tier, the order the primary pass walks.
func orderedTiersFrom(requested Tier) []Tier {
	switch requested {
	case action.IntelligenceHigh:
		return []Tier{action.IntelligenceHigh, action.IntelligenceMedium, action.IntelligenceLow}
	case action.IntelligenceMedium:
		return []Tier{action.IntelligenceMedium, action.IntelligenceLow}
	default:
		return []Tier{action.IntelligenceLow}
	}
}
