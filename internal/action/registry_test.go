package action

import (
	"context"
	"strings"
	"testing"
)

func noopProcedure(ctx context.Context, params map[string]any, prevResult any) (any, error) {
	return nil, nil
}

func procedureAction(name string) Action {
	return Action{
		Name:        name,
		Description: name,
		InputSchema: Schema{Properties: map[string]Property{}},
		Steps:       []Step{{Kind: StepProcedure, Procedure: noopProcedure}},
	}
}

func TestFreezeAndLookup(t *testing.T) {
	reg, err := NewBuilder().
		Add(procedureAction("ping")).
		Add(procedureAction("pong")).
		Freeze()
	if err != nil {
		t.Fatalf("Freeze returned error: %v", err)
	}

	if !reg.Has("ping") || !reg.Has("pong") {
		t.Error("expected registered actions to resolve")
	}
	if reg.Has("absent") {
		t.Error("unregistered name should not resolve")
	}

	a, err := reg.Get("ping")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if a.Name != "ping" {
		t.Errorf("Get returned wrong action: %q", a.Name)
	}

	if _, err := reg.Get("absent"); !IsKind(err, KindNotFound) {
		t.Errorf("missing action should yield NotFound, got %v", err)
	}

	if len(reg.Names()) != 2 {
		t.Errorf("Names() = %v, want 2 entries", reg.Names())
	}
}

func TestFreezeRejectsEmptyName(t *testing.T) {
	_, err := NewBuilder().Add(procedureAction("")).Freeze()
	if err == nil {
		t.Error("expected error for empty action name")
	}
}

func TestFreezeRejectsZeroSteps(t *testing.T) {
	_, err := NewBuilder().Add(Action{Name: "empty"}).Freeze()
	if err == nil || !strings.Contains(err.Error(), "zero steps") {
		t.Errorf("expected zero-steps error, got %v", err)
	}
}

func TestFreezeRejectsNilProcedure(t *testing.T) {
	_, err := NewBuilder().Add(Action{
		Name:  "broken",
		Steps: []Step{{Kind: StepProcedure}},
	}).Freeze()
	if err == nil {
		t.Error("expected error for nil procedure")
	}
}

func TestFreezeRejectsDanglingSubAction(t *testing.T) {
	_, err := NewBuilder().Add(Action{
		Name:  "caller",
		Steps: []Step{{Kind: StepSubAction, SubAction: "missing"}},
	}).Freeze()
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("expected dangling sub-action error, got %v", err)
	}
}

func TestFreezeRejectsDualOutputMode(t *testing.T) {
	stop := procedureAction("stop")
	_, err := NewBuilder().Add(stop).Add(Action{
		Name: "dual",
		Steps: []Step{{
			Kind:         StepLLM,
			OutputSchema: &Schema{},
			ToolChoice:   &ToolChoice{AvailableActions: []string{"stop"}, StopAction: "stop", MaxIterations: 1},
		}},
	}).Freeze()
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("expected dual-output-mode error, got %v", err)
	}
}

func TestFreezeRejectsNeitherOutputMode(t *testing.T) {
	_, err := NewBuilder().Add(Action{
		Name:  "neither",
		Steps: []Step{{Kind: StepLLM}},
	}).Freeze()
	if err == nil {
		t.Error("expected error for LLM step with neither output mode")
	}
}

func TestFreezeRejectsBadToolChoice(t *testing.T) {
	tests := []struct {
		name string
		tc   ToolChoice
		want string
	}{
		{
			name: "stop action not available",
			tc:   ToolChoice{AvailableActions: []string{"work"}, StopAction: "stop", MaxIterations: 3},
			want: "stop_action",
		},
		{
			name: "dangling available action",
			tc:   ToolChoice{AvailableActions: []string{"ghost", "stop"}, StopAction: "stop", MaxIterations: 3},
			want: "ghost",
		},
		{
			name: "zero max iterations",
			tc:   ToolChoice{AvailableActions: []string{"stop"}, StopAction: "stop", MaxIterations: 0},
			want: "max_iterations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := tt.tc
			_, err := NewBuilder().
				Add(procedureAction("work")).
				Add(procedureAction("stop")).
				Add(Action{
					Name:  "loop",
					Steps: []Step{{Kind: StepLLM, ToolChoice: &tc}},
				}).Freeze()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestStopResultUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"string passes through", "done", "done"},
		{"message field preferred", map[string]any{"message": "msg", "response": "resp"}, "msg"},
		{"response field fallback", map[string]any{"response": "resp"}, "resp"},
		{"other maps serialize", map[string]any{"pong": true}, `{"pong":true}`},
		{"numbers serialize", 7, "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewStopResult(tt.value).Unwrap(); got != tt.expected {
				t.Errorf("Unwrap() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	verr := NewValidationError("act", []string{"field x is required"})
	if !IsKind(verr, KindValidation) {
		t.Error("expected KindValidation")
	}
	if !strings.Contains(verr.Error(), "field x is required") {
		t.Errorf("details missing from message: %v", verr)
	}

	if !IsKind(NewNotFoundError("ghost"), KindNotFound) {
		t.Error("expected KindNotFound")
	}
	if !IsKind(NewTimeoutError("act", 2, context.DeadlineExceeded), KindTimeout) {
		t.Error("expected KindTimeout")
	}
	if !IsKind(NewProviderError("all failed", nil), KindProviderError) {
		t.Error("expected KindProviderError")
	}
	if !IsKind(NewParseError("tool", nil), KindParseError) {
		t.Error("expected KindParseError")
	}
	if IsKind(context.Canceled, KindTimeout) {
		t.Error("plain errors should not match any kind")
	}
}

func TestKindRecoverable(t *testing.T) {
	recoverable := []Kind{KindValidation, KindNotFound, KindParseError}
	for _, k := range recoverable {
		if !k.Recoverable() {
			t.Errorf("kind %s should be recoverable", k)
		}
	}
	fatal := []Kind{KindTimeout, KindProviderError, KindStopExhausted}
	for _, k := range fatal {
		if k.Recoverable() {
			t.Errorf("kind %s should not be recoverable", k)
		}
	}
}
