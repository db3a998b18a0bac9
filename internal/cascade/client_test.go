package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/health"
)

// fakeWire is a scriptable WireAdapter: fail decides per-model whether a
// call errors, and every call is recorded.
type fakeWire struct {
	mu    sync.Mutex
	fail  map[string]bool
	reply func(model string) Message
	calls []fakeCall
}

type fakeCall struct {
	model              string
	toolChoiceRequired bool
	tools              []ToolSpec
	messages           []Message
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		fail: map[string]bool{},
		reply: func(model string) Message {
			return NewTextMessage(RoleAssistant, "reply from "+model)
		},
	}
}

func (f *fakeWire) Call(ctx context.Context, endpoint ModelEndpoint, model string, messages []Message, tools []ToolSpec, toolChoiceRequired bool, providerOnly []string) (Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{model: model, toolChoiceRequired: toolChoiceRequired, tools: tools, messages: messages})
	failing := f.fail[model]
	reply := f.reply
	f.mu.Unlock()

	if failing {
		return Message{}, errors.New("503 from provider")
	}
	return reply(model), nil
}

func (f *fakeWire) setFail(model string, failing bool) {
	f.mu.Lock()
	f.fail[model] = failing
	f.mu.Unlock()
}

func (f *fakeWire) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.model
	}
	return out
}

func testConfig(entries ...Entry) Config {
	return Config{
		Tiers:     map[Tier][]Entry{action.IntelligenceLow: entries},
		Endpoints: map[string]ModelEndpoint{"ep": {URL: "http://test.invalid", WireFormat: WireOpenAI}},
	}
}

func newTestClient(fake *fakeWire, entries ...Entry) (*Client, *health.Counter) {
	counter := health.New(nil)
	client := NewClient(testConfig(entries...), counter, map[WireFormat]WireAdapter{WireOpenAI: fake}, nil)
	return client, counter
}

func textRequest() Request {
	return Request{
		Intelligence: action.IntelligenceLow,
		Messages:     []Message{NewTextMessage(RoleUser, "hello")},
	}
}

func TestCascadeOrderingAndRecovery(t *testing.T) {
	fake := newFakeWire()
	fake.setFail("m-a", true)
	entryA := Entry{EndpointID: "ep", ModelID: "m-a"}
	entryB := Entry{EndpointID: "ep", ModelID: "m-b"}
	client, counter := newTestClient(fake, entryA, entryB)
	ctx := context.Background()

	// First call: A fails, cascade falls over to B.
	msg, err := client.Generate(ctx, textRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if msg.Content == nil || *msg.Content != "reply from m-b" {
		t.Fatalf("expected B's reply, got %+v", msg)
	}
	statsA := counter.GetStats(entryA.Key(), time.Now())
	if statsA[health.MetricError].Total != 1 {
		t.Errorf("A error total = %d, want 1", statsA[health.MetricError].Total)
	}
	statsB := counter.GetStats(entryB.Key(), time.Now())
	if statsB[health.MetricSuccess].Total != 1 || statsB[health.MetricError].Total != 0 {
		t.Errorf("B counters = %+v, want one success and no errors", statsB)
	}

	// Second call: A is skipped (errors=1 > skips=0) without a wire call.
	before := len(fake.models())
	if _, err := client.Generate(ctx, textRequest()); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	newModels := fake.models()[before:]
	for _, m := range newModels {
		if m == "m-a" {
			t.Error("A should have been skipped on the second call")
		}
	}
	statsA = counter.GetStats(entryA.Key(), time.Now())
	if statsA[health.MetricSkip].Total != 1 {
		t.Errorf("A skip total = %d, want 1", statsA[health.MetricSkip].Total)
	}

	// Third call: skips caught up with errors, A is retried and now
	// succeeds, resetting its counters.
	fake.setFail("m-a", false)
	msg, err = client.Generate(ctx, textRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if *msg.Content != "reply from m-a" {
		t.Errorf("expected A's reply after recovery, got %q", *msg.Content)
	}
	statsA = counter.GetStats(entryA.Key(), time.Now())
	if statsA[health.MetricError].Total != 0 || statsA[health.MetricSkip].Total != 0 {
		t.Errorf("A counters should reset on success, got %+v", statsA)
	}
	if statsA[health.MetricSuccess].Total != 1 {
		t.Errorf("A success total = %d, want 1", statsA[health.MetricSuccess].Total)
	}
}

func TestBackoffDamping(t *testing.T) {
	fake := newFakeWire()
	entryA := Entry{EndpointID: "ep", ModelID: "m-a"}
	entryB := Entry{EndpointID: "ep", ModelID: "m-b"}
	client, counter := newTestClient(fake, entryA, entryB)
	ctx := context.Background()

	// Seed A with three errors: it must be skipped on exactly the next
	// three calls, one skip increment each, then attempted again.
	for i := 0; i < 3; i++ {
		counter.Increment(entryA.Key(), health.MetricError, 1, time.Now())
	}

	for call := 1; call <= 3; call++ {
		if _, err := client.Generate(ctx, textRequest()); err != nil {
			t.Fatalf("call %d: %v", call, err)
		}
		skips := counter.GetStats(entryA.Key(), time.Now())[health.MetricSkip].Total
		if skips != int64(call) {
			t.Errorf("after call %d: A skips = %d, want %d", call, skips, call)
		}
	}
	for _, m := range fake.models() {
		if m == "m-a" {
			t.Fatal("A should not have been attempted while skips < errors")
		}
	}

	// skips == errors: A is attempted again.
	if _, err := client.Generate(ctx, textRequest()); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	attempted := false
	for _, m := range fake.models() {
		if m == "m-a" {
			attempted = true
		}
	}
	if !attempted {
		t.Error("A should be attempted once skips == errors")
	}
}

func TestFallbackPassOrdersByRecentErrors(t *testing.T) {
	fake := newFakeWire()
	entryA := Entry{EndpointID: "ep", ModelID: "m-a"}
	entryB := Entry{EndpointID: "ep", ModelID: "m-b"}
	client, counter := newTestClient(fake, entryA, entryB)
	ctx := context.Background()

	// Both entries are gated out of the primary pass, with A the less
	// healthy of the two.
	for i := 0; i < 5; i++ {
		counter.Increment(entryA.Key(), health.MetricError, 1, time.Now())
	}
	counter.Increment(entryB.Key(), health.MetricError, 1, time.Now())

	msg, err := client.Generate(ctx, textRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if *msg.Content != "reply from m-b" {
		t.Errorf("fallback should try the healthiest entry first, got %q", *msg.Content)
	}
	models := fake.models()
	if len(models) == 0 || models[0] != "m-b" {
		t.Errorf("first attempted model = %v, want m-b first", models)
	}
}

func TestGenerateExhaustionReturnsProviderError(t *testing.T) {
	fake := newFakeWire()
	fake.setFail("m-a", true)
	client, _ := newTestClient(fake, Entry{EndpointID: "ep", ModelID: "m-a"})

	_, err := client.Generate(context.Background(), textRequest())
	if !action.IsKind(err, action.KindProviderError) {
		t.Fatalf("expected ProviderError after both passes, got %v", err)
	}
}

func TestSingleSchemaMode(t *testing.T) {
	fake := newFakeWire()
	fake.reply = func(model string) Message {
		return Message{Role: RoleAssistant, ToolCalls: []ToolCall{{
			ID:       "1",
			Type:     "function",
			Function: ToolCallFunction{Name: respondToolName, Arguments: `{"answer":"42"}`},
		}}}
	}
	client, _ := newTestClient(fake, Entry{EndpointID: "ep", ModelID: "m-a"})

	schema := action.Schema{Properties: map[string]action.Property{
		"answer": {Type: action.TypeString},
	}}
	msg, err := client.Generate(context.Background(), Request{
		Intelligence: action.IntelligenceLow,
		Messages:     []Message{NewTextMessage(RoleUser, "question")},
		Schema:       &schema,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != respondToolName {
		t.Fatalf("expected respond tool call, got %+v", msg)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	call := fake.calls[0]
	if len(call.tools) != 1 || call.tools[0].Function.Name != respondToolName {
		t.Errorf("schema should be wrapped as a single respond tool, got %+v", call.tools)
	}
	if !call.toolChoiceRequired {
		t.Error("tool_choice should be required when the entry allows it")
	}
}

func TestNoToolChoiceEntryOmitsRequirement(t *testing.T) {
	fake := newFakeWire()
	client, _ := newTestClient(fake, Entry{EndpointID: "ep", ModelID: "m-a", NoToolChoice: true})

	req := textRequest()
	req.Tools = []ToolSpec{{Type: "function", Function: ToolFunctionSpec{Name: "x", Parameters: map[string]any{}}}}
	if _, err := client.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.calls[0].toolChoiceRequired {
		t.Error("entries marked no_tool_choice must not require tool_choice")
	}
}

func TestMalformedResponsesRejected(t *testing.T) {
	tests := []struct {
		name  string
		reply Message
	}{
		{"empty message", Message{Role: RoleAssistant}},
		{"tool call without function name", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Type: "function"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeWire()
			fake.reply = func(string) Message { return tt.reply }
			client, _ := newTestClient(fake, Entry{EndpointID: "ep", ModelID: "m-a"})

			_, err := client.Generate(context.Background(), textRequest())
			if !action.IsKind(err, action.KindProviderError) {
				t.Errorf("expected ProviderError for %s, got %v", tt.name, err)
			}
		})
	}
}

func TestUpdateConfigSwapsEntries(t *testing.T) {
	fake := newFakeWire()
	client, _ := newTestClient(fake, Entry{EndpointID: "ep", ModelID: "m-old"})
	ctx := context.Background()

	msg, err := client.Generate(ctx, textRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if *msg.Content != "reply from m-old" {
		t.Fatalf("expected old entry, got %q", *msg.Content)
	}

	client.UpdateConfig(testConfig(Entry{EndpointID: "ep", ModelID: "m-new"}))
	msg, err = client.Generate(ctx, textRequest())
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if *msg.Content != "reply from m-new" {
		t.Errorf("expected swapped entry, got %q", *msg.Content)
	}
}

func TestTierWalkStartsAtRequestedLevel(t *testing.T) {
	fake := newFakeWire()
	counter := health.New(nil)
	cfg := Config{
		Tiers: map[Tier][]Entry{
			action.IntelligenceHigh:   {{EndpointID: "ep", ModelID: "m-high"}},
			action.IntelligenceMedium: {{EndpointID: "ep", ModelID: "m-med"}},
			action.IntelligenceLow:    {{EndpointID: "ep", ModelID: "m-low"}},
		},
		Endpoints: map[string]ModelEndpoint{"ep": {URL: "http://test.invalid", WireFormat: WireOpenAI}},
	}
	client := NewClient(cfg, counter, map[WireFormat]WireAdapter{WireOpenAI: fake}, nil)

	fake.setFail("m-med", true)
	msg, err := client.Generate(context.Background(), Request{
		Intelligence: action.IntelligenceMedium,
		Messages:     []Message{NewTextMessage(RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if *msg.Content != "reply from m-low" {
		t.Errorf("medium request should fall through to low, got %q", *msg.Content)
	}
	for _, m := range fake.models() {
		if m == "m-high" {
			t.Error("a MEDIUM request must not touch the HIGH tier")
		}
	}
}
