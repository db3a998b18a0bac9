package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/cascade"
	"github.com/haasonsaas/actionforge/internal/health"
)

// scriptedWire plays back a fixed sequence of assistant messages, one per
// model call, recording every request it sees.
type scriptedWire struct {
	mu     sync.Mutex
	script []cascade.Message
	calls  []wireCall
}

type wireCall struct {
	messages []cascade.Message
	tools    []cascade.ToolSpec
	required bool
}

func (s *scriptedWire) Call(ctx context.Context, endpoint cascade.ModelEndpoint, model string, messages []cascade.Message, tools []cascade.ToolSpec, toolChoiceRequired bool, providerOnly []string) (cascade.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, wireCall{messages: messages, tools: tools, required: toolChoiceRequired})
	if len(s.script) == 0 {
		return cascade.Message{}, errors.New("model script exhausted")
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next, nil
}

func (s *scriptedWire) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedWire) call(i int) wireCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func toolCallMsg(id, name, args string) cascade.Message {
	return cascade.Message{
		Role: cascade.RoleAssistant,
		ToolCalls: []cascade.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: cascade.ToolCallFunction{Name: name, Arguments: args},
		}},
	}
}

func assistantText(content string) cascade.Message {
	return cascade.NewTextMessage(cascade.RoleAssistant, content)
}

// chatAction is the stop action of every test loop: it captures its params
// for inspection and returns them so unwrapping yields the response field.
func chatAction(capture *map[string]any) action.Action {
	return action.Action{
		Name:        "chat",
		Description: "Reply to the user and finish.",
		Examples:    []string{"hi", "thanks"},
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"response": {Type: action.TypeString, Description: "Final answer."},
				"success":  {Type: action.TypeBoolean},
				"messages": {Type: action.TypeArray},
			},
			Required: []string{"response"},
		},
		Steps: []action.Step{{
			Kind: action.StepProcedure,
			Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
				if capture != nil {
					*capture = params
				}
				return params, nil
			},
		}},
	}
}

func pingAction(count *int32) action.Action {
	return action.Action{
		Name:        "ping",
		Description: "Returns pong.",
		Examples:    []string{"are you there"},
		InputSchema: action.Schema{Properties: map[string]action.Property{}},
		Steps: []action.Step{{
			Kind: action.StepProcedure,
			Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
				if count != nil {
					atomic.AddInt32(count, 1)
				}
				return map[string]any{"pong": true}, nil
			},
		}},
	}
}

func fillAction() action.Action {
	return action.Action{
		Name:        "fill",
		Description: "Fills a form element.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"element_id": {Type: action.TypeNumber},
			},
			Required: []string{"element_id"},
		},
		Steps: []action.Step{{
			Kind: action.StepProcedure,
			Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
				return map[string]any{"filled": true}, nil
			},
		}},
	}
}

func routerAction(available []string, maxIterations int) action.Action {
	return action.Action{
		Name:        "router",
		Description: "Routes the user's request to the right tool.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"user_message": {Type: action.TypeString},
			},
			Required: []string{"user_message"},
		},
		Steps: []action.Step{{
			Kind:         action.StepLLM,
			SystemPrompt: action.SystemPromptSpec{Literal: "Route the request.\n{{available_tools}}\n{{decision_guide}}"},
			Message:      "{{user_message}}",
			Intelligence: action.IntelligenceLow,
			ToolChoice: &action.ToolChoice{
				AvailableActions: available,
				StopAction:       "chat",
				MaxIterations:    maxIterations,
			},
		}},
	}
}

func newTestExecutor(t *testing.T, reg *action.Registry, wire *scriptedWire, mutate func(*Deps)) *Executor {
	t.Helper()
	cfg := cascade.Config{
		Tiers: map[cascade.Tier][]cascade.Entry{
			action.IntelligenceLow: {{EndpointID: "stub", ModelID: "stub-model"}},
		},
		Endpoints: map[string]cascade.ModelEndpoint{
			"stub": {URL: "http://stub.invalid", WireFormat: cascade.WireOpenAI},
		},
	}
	client := cascade.NewClient(cfg, health.New(nil), map[cascade.WireFormat]cascade.WireAdapter{cascade.WireOpenAI: wire}, nil)
	deps := Deps{
		Registry:  reg,
		Validator: action.NewValidator(),
		Cascade:   client,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return New(deps)
}

func mustFreeze(t *testing.T, b *action.Builder) *action.Registry {
	t.Helper()
	reg, err := b.Freeze()
	if err != nil {
		t.Fatalf("Freeze returned error: %v", err)
	}
	return reg
}

func TestPlainResponse(t *testing.T) {
	var chatParams map[string]any
	reg := mustFreeze(t, action.NewBuilder().
		Add(chatAction(&chatParams)).
		Add(pingAction(nil)).
		Add(routerAction([]string{"ping", "chat"}, 4)))
	wire := &scriptedWire{script: []cascade.Message{
		toolCallMsg("1", "chat", `{"response":"hi","success":true,"justification":"greeting","instructions":"reply"}`),
	}}
	exec := newTestExecutor(t, reg, wire, nil)

	result, err := exec.Execute(context.Background(), "router", map[string]any{"user_message": "hi"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result != "hi" {
		t.Errorf("result = %v, want unwrapped response string", result)
	}
	if wire.callCount() != 1 {
		t.Errorf("model calls = %d, want exactly 1", wire.callCount())
	}
}

func TestOneHopTool(t *testing.T) {
	var pings int32
	var chatParams map[string]any
	reg := mustFreeze(t, action.NewBuilder().
		Add(chatAction(&chatParams)).
		Add(pingAction(&pings)).
		Add(routerAction([]string{"ping", "chat"}, 4)))
	wire := &scriptedWire{script: []cascade.Message{
		toolCallMsg("1", "ping", `{"justification":"check","instructions":"go"}`),
		toolCallMsg("2", "chat", `{"response":"done","justification":"finished","instructions":"reply"}`),
	}}
	exec := newTestExecutor(t, reg, wire, nil)

	result, err := exec.Execute(context.Background(), "router", map[string]any{"user_message": "ping it"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %v, want %q", result, "done")
	}
	if wire.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", wire.callCount())
	}
	if atomic.LoadInt32(&pings) != 1 {
		t.Errorf("ping executions = %d, want 1", pings)
	}

	// The stop action sees the full persisted conversation.
	messages, ok := chatParams["messages"].([]map[string]any)
	if !ok {
		t.Fatalf("expected serialized messages param, got %T", chatParams["messages"])
	}
	wantRoles := []string{"system", "user", "assistant", "tool", "assistant"}
	if len(messages) != len(wantRoles) {
		t.Fatalf("conversation length = %d, want %d: %+v", len(messages), len(wantRoles), messages)
	}
	for i, want := range wantRoles {
		if messages[i]["role"] != want {
			t.Errorf("message %d role = %v, want %s", i, messages[i]["role"], want)
		}
	}
	if messages[3]["tool_call_id"] != "1" {
		t.Errorf("tool response should pair with tool call 1, got %v", messages[3]["tool_call_id"])
	}
}

func TestValidationFeedback(t *testing.T) {
	var chatParams map[string]any
	reg := mustFreeze(t, action.NewBuilder().
		Add(chatAction(&chatParams)).
		Add(fillAction()).
		Add(routerAction([]string{"fill", "chat"}, 4)))
	wire := &scriptedWire{script: []cascade.Message{
		toolCallMsg("1", "fill", `{"element_id":"abc","justification":"fill it","instructions":"go"}`),
		toolCallMsg("2", "chat", `{"response":"fixed","justification":"done","instructions":"reply"}`),
	}}
	exec := newTestExecutor(t, reg, wire, nil)

	result, err := exec.Execute(context.Background(), "router", map[string]any{"user_message": "fill the form"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result != "fixed" {
		t.Errorf("result = %v, want %q", result, "fixed")
	}
	if wire.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", wire.callCount())
	}

	messages := chatParams["messages"].([]map[string]any)
	var feedback string
	for _, m := range messages {
		if m["role"] == "tool" {
			feedback, _ = m["content"].(string)
		}
	}
	if feedback == "" {
		t.Fatal("expected a tool feedback message in the conversation")
	}
	if !strings.Contains(feedback, "Validation failed") || !strings.Contains(feedback, "element_id") {
		t.Errorf("validation feedback missing detail: %q", feedback)
	}
}

func TestIterationExhaustion(t *testing.T) {
	var pings int32
	var chatParams map[string]any
	reg := mustFreeze(t, action.NewBuilder().
		Add(chatAction(&chatParams)).
		Add(pingAction(&pings)).
		Add(routerAction([]string{"ping", "chat"}, 2)))
	wire := &scriptedWire{script: []cascade.Message{
		toolCallMsg("1", "ping", `{"justification":"again","instructions":"go"}`),
		toolCallMsg("2", "ping", `{"justification":"again","instructions":"go"}`),
	}}
	exec := newTestExecutor(t, reg, wire, nil)

	result, err := exec.Execute(context.Background(), "router", map[string]any{"user_message": "loop forever"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result != "Unable to complete the requested task within the allotted iterations." {
		t.Errorf("result = %v, want the canned exhaustion response", result)
	}
	if wire.callCount() != 2 {
		t.Errorf("model calls = %d, want exactly max_iterations", wire.callCount())
	}
	if atomic.LoadInt32(&pings) != 2 {
		t.Errorf("ping executions = %d, want 2", pings)
	}
	if success, ok := chatParams["success"].(bool); !ok || success {
		t.Errorf("synthetic stop call should carry success=false, got %v", chatParams["success"])
	}
	if _, ok := chatParams["messages"].([]map[string]any); !ok {
		t.Error("synthetic stop call should carry the serialized conversation")
	}
}

func TestValidationPrecedesSteps(t *testing.T) {
	var pings int32
	reg := mustFreeze(t, action.NewBuilder().
		Add(chatAction(nil)).
		Add(pingAction(&pings)).
		Add(routerAction([]string{"ping", "chat"}, 2)))
	wire := &scriptedWire{}
	exec := newTestExecutor(t, reg, wire, nil)

	_, err := exec.Execute(context.Background(), "router", map[string]any{})
	if !action.IsKind(err, action.KindValidation) {
		t.Fatalf("expected Validation error, got %v", err)
	}
	if wire.callCount() != 0 {
		t.Error("no step may run when input validation fails")
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	reg := mustFreeze(t, action.NewBuilder().Add(pingAction(nil)))
	exec := newTestExecutor(t, reg, &scriptedWire{}, nil)

	_, err := exec.Execute(context.Background(), "ghost", map[string]any{})
	if !action.IsKind(err, action.KindNotFound) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestStepLinearity(t *testing.T) {
	var order []string
	mkStep := func(name string, result any, fail bool) action.Step {
		return action.Step{
			Kind: action.StepProcedure,
			Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
				order = append(order, name)
				if fail {
					return nil, errors.New(name + " failed")
				}
				return result, nil
			},
		}
	}

	var sawPrev any
	chain := action.Action{
		Name:        "chain",
		InputSchema: action.Schema{Properties: map[string]action.Property{}},
		Steps: []action.Step{
			mkStep("one", map[string]any{"a": 1}, false),
			{
				Kind: action.StepProcedure,
				Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
					order = append(order, "two")
					sawPrev = prevResult
					return nil, errors.New("two failed")
				},
			},
			mkStep("three", "never", false),
		},
	}
	reg := mustFreeze(t, action.NewBuilder().Add(chain))
	exec := newTestExecutor(t, reg, &scriptedWire{}, nil)

	_, err := exec.Execute(context.Background(), "chain", map[string]any{})
	if err == nil {
		t.Fatal("expected failure from step two")
	}
	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Errorf("step order = %v, want [one two]", order)
	}
	prev, ok := sawPrev.(map[string]any)
	if !ok || prev["a"] != 1 {
		t.Errorf("step two prev_result = %v, want step one's return", sawPrev)
	}
}

func TestSubActionStep(t *testing.T) {
	var pings int32
	outer := action.Action{
		Name:        "outer",
		InputSchema: action.Schema{Properties: map[string]action.Property{}},
		Steps: []action.Step{{
			Kind:      action.StepSubAction,
			SubAction: "ping",
			ParamMap: func(params map[string]any, prevResult any) map[string]any {
				return map[string]any{}
			},
		}},
	}
	reg := mustFreeze(t, action.NewBuilder().Add(pingAction(&pings)).Add(outer))
	exec := newTestExecutor(t, reg, &scriptedWire{}, nil)

	result, err := exec.Execute(context.Background(), "outer", map[string]any{})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["pong"] != true {
		t.Errorf("result = %v, want ping's return", result)
	}
	if atomic.LoadInt32(&pings) != 1 {
		t.Errorf("ping executions = %d, want 1", pings)
	}
}

func TestProcedureTimeout(t *testing.T) {
	slow := action.Action{
		Name:        "slow",
		InputSchema: action.Schema{Properties: map[string]action.Property{}},
		Steps: []action.Step{{
			Kind: action.StepProcedure,
			Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					return "late", nil
				}
			},
		}},
	}
	reg := mustFreeze(t, action.NewBuilder().Add(slow))
	exec := newTestExecutor(t, reg, &scriptedWire{}, func(d *Deps) {
		d.StepTimeout = 20 * time.Millisecond
	})

	_, err := exec.Execute(context.Background(), "slow", map[string]any{})
	if !action.IsKind(err, action.KindTimeout) {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}
