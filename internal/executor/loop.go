package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/cascade"
	"github.com/haasonsaas/actionforge/internal/template"
)

const (
	justificationField = "justification"
	instructionsField  = "instructions"
)

// runMultiTurnLoop drives the model through repeated tool calls until the
// stop action fires or the iteration budget is exhausted.
func (e *Executor) runMultiTurnLoop(ctx context.Context, act action.Action, idx int, step action.Step, params map[string]any, prevResult any) (any, error) {
	tc := step.ToolChoice

	tools, err := e.compileTools(tc.AvailableActions)
	if err != nil {
		return nil, err
	}
	availableTools := renderAvailableTools(tc.AvailableActions, e.registry, tc.StopAction)
	decisionGuide := renderDecisionGuide(tc.AvailableActions, e.registry)

	promptCtx := buildTemplateContext(params, prevResult, template.Context{
		"available_tools": availableTools,
		"decision_guide":  decisionGuide,
	})

	resolved, err := template.ResolveSystemPrompt(ctx, step.SystemPrompt, metaPromptGenerator{e: e})
	if err != nil {
		return nil, action.NewProviderError("failed to resolve system prompt", err)
	}
	systemPrompt, err := template.Render(resolved, promptCtx)
	if err != nil {
		return nil, fmt.Errorf("step %d: render system prompt: %w", idx, err)
	}
	userMessage, err := template.Render(step.Message, promptCtx)
	if err != nil {
		return nil, fmt.Errorf("step %d: render user message: %w", idx, err)
	}

	conversation := []cascade.Message{
		cascade.NewTextMessage(cascade.RoleSystem, systemPrompt),
		cascade.NewTextMessage(cascade.RoleUser, userMessage),
	}

	for iteration := 1; iteration <= tc.MaxIterations; iteration++ {
		view := insertExternalStateMessage(append([]cascade.Message(nil), conversation...), e.collaborator.FormatForChat())

		resp, err := e.cascade.Generate(ctx, cascade.Request{
			Messages:     view,
			Intelligence: step.Intelligence,
			Tools:        tools,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) == 0 {
			conversation = append(conversation, resp)
			conversation = append(conversation, cascade.NewTextMessage(cascade.RoleUser,
				"You must call one of the available tools to proceed."))
			conversation = pruneConversation(conversation, e.pruneThreshold)
			continue
		}

		conversation = append(conversation, resp)

		stopResult, stopped, err := e.runToolCallBurst(ctx, resp.ToolCalls, tc, &conversation)
		if err != nil {
			return nil, err
		}
		if stopped {
			e.metrics.RecordLoopIterations(act.Name, iteration)
			return stopResult, nil
		}

		conversation = pruneConversation(conversation, e.pruneThreshold)
	}

	e.metrics.RecordLoopIterations(act.Name, tc.MaxIterations)
	return e.exhaustIterations(ctx, tc, conversation)
}

// runToolCallBurst executes the tool calls of one assistant message in
// order, appending a matched tool-response message for each, and stopping
// early on the first malformed-arguments, not-found, or error result so
// the model sees its failure next turn before any later call runs.
// Returns (unwrapped stop result, true) if the stop action fired.
func (e *Executor) runToolCallBurst(ctx context.Context, calls []cascade.ToolCall, tc *action.ToolChoice, conversation *[]cascade.Message) (any, bool, error) {
	for _, call := range calls {
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			*conversation = append(*conversation, cascade.NewToolMessage(call.ID,
				mustJSON(map[string]any{"error": fmt.Sprintf("malformed arguments: %v", err)})))
			return nil, false, nil
		}

		targetName := call.Function.Name
		target, err := e.registry.Get(targetName)
		if err != nil {
			*conversation = append(*conversation, cascade.NewToolMessage(call.ID,
				mustJSON(map[string]any{"error": fmt.Sprintf("unknown action %q", targetName)})))
			return nil, false, nil
		}

		projected := projectArgs(target.InputSchema, args)
		isStop := targetName == tc.StopAction
		if isStop {
			projected["messages"] = serializeConversation(*conversation)
		}

		stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		result, execErr := e.Execute(stepCtx, targetName, projected)
		cancel()

		if execErr == nil {
			if isStop {
				return action.NewStopResult(result).Unwrap(), true, nil
			}
			*conversation = append(*conversation, cascade.NewToolMessage(call.ID, mustJSON(result)))
			continue
		}

		if action.IsKind(execErr, action.KindValidation) {
			var details []string
			if ae, ok := execErr.(*action.Error); ok {
				details = ae.Details
			}
			*conversation = append(*conversation, cascade.NewToolMessage(call.ID,
				mustJSON(map[string]any{"error": "Validation failed", "details": details})))
			return nil, false, nil
		}

		*conversation = append(*conversation, cascade.NewToolMessage(call.ID,
			mustJSON(map[string]any{"error": execErr.Error()})))
		return nil, false, nil
	}
	return nil, false, nil
}

// exhaustIterations synthesizes and executes the final stop-action call
// once iterations run out, returning its unwrapped result.
func (e *Executor) exhaustIterations(ctx context.Context, tc *action.ToolChoice, conversation []cascade.Message) (any, error) {
	target, err := e.registry.Get(tc.StopAction)
	if err != nil {
		return nil, err
	}

	cannedParams := projectArgs(target.InputSchema, map[string]any{
		"response": "Unable to complete the requested task within the allotted iterations.",
		"success":  false,
	})
	cannedParams["messages"] = serializeConversation(conversation)

	result, err := e.Execute(ctx, tc.StopAction, cannedParams)
	if err != nil {
		return nil, err
	}
	return action.NewStopResult(result).Unwrap(), nil
}

// compileTools builds the wire tool list: each action becomes
// {type:"function", function:{name, description, parameters}} where
// parameters augments the action's schema with required justification and
// instructions string fields.
func (e *Executor) compileTools(availableActions []string) ([]cascade.ToolSpec, error) {
	tools := make([]cascade.ToolSpec, 0, len(availableActions))
	for _, name := range availableActions {
		act, err := e.registry.Get(name)
		if err != nil {
			return nil, err
		}
		params := act.InputSchema.ToJSONSchema()
		props, _ := params["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		props[justificationField] = map[string]any{"type": "string", "description": "Why this tool call is being made."}
		props[instructionsField] = map[string]any{"type": "string", "description": "Specific instructions for this invocation."}
		params["properties"] = props

		required, _ := params["required"].([]string)
		required = append(required, justificationField, instructionsField)
		params["required"] = required

		tools = append(tools, cascade.ToolSpec{
			Type: "function",
			Function: cascade.ToolFunctionSpec{
				Name:        act.Name,
				Description: act.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// renderAvailableTools builds the "available_tools" prompt-decoration
// variable: a numbered list of "name [STOP?]: description" lines with a
// per-tool Requires footer listing required fields.
func renderAvailableTools(names []string, reg *action.Registry, stopAction string) string {
	var b strings.Builder
	for i, name := range names {
		act, err := reg.Get(name)
		if err != nil {
			continue
		}
		marker := ""
		if name == stopAction {
			marker = " [STOP]"
		}
		fmt.Fprintf(&b, "%d. %s%s: %s\n", i+1, act.Name, marker, act.Description)
		if len(act.InputSchema.Required) > 0 {
			fmt.Fprintf(&b, "   Requires: %s\n", strings.Join(act.InputSchema.Required, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderDecisionGuide builds the "decision_guide" prompt-decoration
// variable from each available action's examples.
func renderDecisionGuide(names []string, reg *action.Registry) string {
	var b strings.Builder
	for _, name := range names {
		act, err := reg.Get(name)
		if err != nil {
			continue
		}
		for _, example := range act.Examples {
			fmt.Fprintf(&b, "- %q → %s\n", example, act.Name)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// projectArgs keeps only the keys the target schema declares, dropping
// the justification/instructions decoration and anything else the model
// invented.
func projectArgs(schema action.Schema, args map[string]any) map[string]any {
	out := make(map[string]any, len(schema.Properties))
	for key := range schema.Properties {
		if v, ok := args[key]; ok {
			out[key] = v
		}
	}
	return out
}

// pruneConversation collapses intermediate messages once the conversation
// exceeds threshold, keeping the system message, the first user message,
// and the tail.
func pruneConversation(conversation []cascade.Message, threshold int) []cascade.Message {
	if len(conversation) <= threshold || threshold <= 0 {
		return conversation
	}
	const tailSize = 4
	if len(conversation) < 2+tailSize {
		return conversation
	}
	out := make([]cascade.Message, 0, 2+tailSize)
	out = append(out, conversation[0], conversation[1])
	out = append(out, conversation[len(conversation)-tailSize:]...)
	return out
}

// serializeConversation renders the conversation into the plain JSON value
// shape fed to the stop action as its "messages" parameter.
func serializeConversation(conversation []cascade.Message) []map[string]any {
	out := make([]map[string]any, 0, len(conversation))
	for _, m := range conversation {
		entry := map[string]any{"role": string(m.Role)}
		if m.Content != nil {
			entry["content"] = *m.Content
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": tc.Type,
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": tc.Function.Arguments,
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
