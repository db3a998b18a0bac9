package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/cascade"
	"github.com/haasonsaas/actionforge/internal/template"
)

// runSingleRoundTrip handles an LLM step with an output_schema: build
// context, resolve the system prompt, render the user message, insert the
// external-state message, call the cascade with a single-tool-shape
// request, and parse the tool-call arguments into the step result.
func (e *Executor) runSingleRoundTrip(ctx context.Context, act action.Action, idx int, step action.Step, params map[string]any, prevResult any) (any, error) {
	tctx := buildTemplateContext(params, prevResult, nil)

	resolved, err := template.ResolveSystemPrompt(ctx, step.SystemPrompt, metaPromptGenerator{e: e})
	if err != nil {
		return nil, action.NewProviderError("failed to resolve system prompt", err)
	}
	systemPrompt, err := template.Render(resolved, tctx)
	if err != nil {
		return nil, fmt.Errorf("step %d: render system prompt: %w", idx, err)
	}

	userMessage, err := template.Render(step.Message, tctx)
	if err != nil {
		return nil, fmt.Errorf("step %d: render user message: %w", idx, err)
	}

	messages := []cascade.Message{
		cascade.NewTextMessage(cascade.RoleSystem, systemPrompt),
		cascade.NewTextMessage(cascade.RoleUser, userMessage),
	}
	messages = insertExternalStateMessage(messages, e.collaborator.FormatForChat())

	resp, err := e.cascade.Generate(ctx, cascade.Request{
		Messages:     messages,
		Intelligence: step.Intelligence,
		Schema:       step.OutputSchema,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) == 0 {
		return nil, action.NewProviderError("output_schema step received no tool call", nil)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &result); err != nil {
		return nil, action.NewParseError(resp.ToolCalls[0].Function.Name, err)
	}
	return result, nil
}

// insertExternalStateMessage inserts a synthetic user-role message
// carrying the collaborator's current state immediately before the last
// user message, or appends it if there is none. An empty state string is
// a no-op.
func insertExternalStateMessage(messages []cascade.Message, state string) []cascade.Message {
	if state == "" {
		return messages
	}
	synthetic := cascade.NewTextMessage(cascade.RoleUser, state)

	lastUserIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == cascade.RoleUser {
			lastUserIdx = i
			break
		}
	}
	if lastUserIdx == -1 {
		return append(messages, synthetic)
	}

	out := make([]cascade.Message, 0, len(messages)+1)
	out = append(out, messages[:lastUserIdx]...)
	out = append(out, synthetic)
	out = append(out, messages[lastUserIdx:]...)
	return out
}
