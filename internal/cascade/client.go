package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/backoff"
	"github.com/haasonsaas/actionforge/internal/health"
	"github.com/haasonsaas/actionforge/internal/observability"
)

// LLMTimeout is the per-model-call budget.
const LLMTimeout = 40 * time.Second

// sameEntryAttempts bounds the same-entry retries call() performs before
// the caller moves on to the next cascade entry. Separate from the
// entry-to-entry fallover in primaryPass/fallbackPass.
const sameEntryAttempts = 2

// Client cascades model calls across configured endpoints, consulting the
// health counter to skip entries that have been failing.
type Client struct {
	mu      sync.RWMutex
	config  Config
	health  *health.Counter
	log     *observability.Logger
	metrics *observability.Metrics
	wire    map[WireFormat]WireAdapter
	now     func() time.Time
}

// WireAdapter speaks one concrete wire protocol to a resolved endpoint.
// A single non-streaming call per invocation; the cascade handles retries
// and fallover above this interface.
type WireAdapter interface {
	Call(ctx context.Context, endpoint ModelEndpoint, model string, messages []Message, tools []ToolSpec, toolChoiceRequired bool, providerOnly []string) (Message, error)
}

// NewClient builds a cascade Client. log defaults to a standard observability.Logger if nil.
func NewClient(cfg Config, counter *health.Counter, wire map[WireFormat]WireAdapter, log *observability.Logger) *Client {
	if log == nil {
		log = observability.NewLogger(observability.LogConfig{})
	}
	return &Client{config: cfg, health: counter, wire: wire, log: log, metrics: observability.NewMetrics(), now: time.Now}
}

// UpdateConfig swaps the cascade configuration. In-flight Generate calls
// finish against the configuration they started with.
func (c *Client) UpdateConfig(cfg Config) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
}

func (c *Client) currentConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Request is the cascade's input: either Tools or Schema is set, never both.
type Request struct {
	Messages     []Message
	Intelligence action.Intelligence
	Tools        []ToolSpec
	Schema       *action.Schema
}

// toolSet resolves the wire tools array, applying single-schema mode.
func (r Request) toolSet() []ToolSpec {
	if r.Schema != nil {
		return []ToolSpec{SchemaToTool(*r.Schema)}
	}
	return r.Tools
}

// Generate drives the primary pass, then the fallback pass, returning the
// first successful model's assistant message.
func (c *Client) Generate(ctx context.Context, req Request) (Message, error) {
	tools := req.toolSet()
	cfg := c.currentConfig()

	msg, err := c.primaryPass(ctx, cfg, req.Intelligence, req.Messages, tools)
	if err == nil {
		return msg, nil
	}
	c.log.Warn(ctx, "cascade primary pass exhausted, attempting fallback", "error", err)

	msg, fallbackErr := c.fallbackPass(ctx, cfg, req.Messages, tools)
	if fallbackErr == nil {
		return msg, nil
	}
	return Message{}, action.NewProviderError("all cascade entries failed in both passes", errors.Join(err, fallbackErr))
}

// primaryPass walks the requested tier and all lower tiers in order,
// applying the skip/back-off gate at each entry: an entry with more
// errors than skips is skipped once per call until skips catch up, so a
// repeatedly-failing entry is retried with multiplicatively widening gaps.
func (c *Client) primaryPass(ctx context.Context, cfg Config, intelligence action.Intelligence, messages []Message, tools []ToolSpec) (Message, error) {
	var lastErr error
	for _, tier := range orderedTiersFrom(intelligence) {
		for _, entry := range cfg.Tiers[tier] {
			stats := c.health.GetStats(entry.Key(), c.now())
			errCount := stats[health.MetricError].Total
			skipCount := stats[health.MetricSkip].Total
			if errCount > 0 && skipCount < errCount {
				c.health.Increment(entry.Key(), health.MetricSkip, 1, c.now())
				continue
			}

			msg, err := c.call(ctx, cfg, entry, messages, tools)
			if err != nil {
				lastErr = err
				c.health.Increment(entry.Key(), health.MetricError, 1, c.now())
				continue
			}
			c.recordSuccess(entry)
			return msg, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no cascade entries configured for tier %s or below", intelligence)
	}
	return Message{}, lastErr
}

// fallbackPass takes the entire configured model set across all tiers,
// orders by errors in the last hour ascending, and retries each once
// ignoring the skip gate. This is the recovery path when the primary
// cascade has locked itself out.
func (c *Client) fallbackPass(ctx context.Context, cfg Config, messages []Message, tools []ToolSpec) (Message, error) {
	all := allEntries(cfg)
	sort.SliceStable(all, func(i, j int) bool {
		si := c.health.GetStats(all[i].Key(), c.now())[health.MetricError].LastHour
		sj := c.health.GetStats(all[j].Key(), c.now())[health.MetricError].LastHour
		return si < sj
	})

	var lastErr error
	for _, entry := range all {
		msg, err := c.call(ctx, cfg, entry, messages, tools)
		if err != nil {
			lastErr = err
			c.health.Increment(entry.Key(), health.MetricError, 1, c.now())
			continue
		}
		c.recordSuccess(entry)
		return msg, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no cascade entries configured")
	}
	return Message{}, lastErr
}

// recordSuccess clears a triple's error/skip history and records the
// success, so a recovered entry is attempted immediately on future calls.
func (c *Client) recordSuccess(entry Entry) {
	c.health.Reset(entry.Key())
	c.health.Increment(entry.Key(), health.MetricSuccess, 1, c.now())
}

func allEntries(cfg Config) []Entry {
	var all []Entry
	seen := make(map[string]bool)
	for _, tier := range []Tier{action.IntelligenceHigh, action.IntelligenceMedium, action.IntelligenceLow} {
		for _, e := range cfg.Tiers[tier] {
			if seen[e.Key()] {
				continue
			}
			seen[e.Key()] = true
			all = append(all, e)
		}
	}
	return all
}

// call resolves the endpoint, dispatches to the right wire adapter with a
// per-call LLMTimeout, retries transient failures against the same entry
// with exponential backoff, and validates the response shape.
func (c *Client) call(ctx context.Context, cfg Config, entry Entry, messages []Message, tools []ToolSpec) (Message, error) {
	endpoint, ok := cfg.Endpoints[entry.EndpointID]
	if !ok {
		return Message{}, fmt.Errorf("cascade entry references unknown endpoint %q", entry.EndpointID)
	}
	adapter, ok := c.wire[endpoint.WireFormat]
	if !ok {
		return Message{}, fmt.Errorf("no wire adapter registered for format %q", endpoint.WireFormat)
	}

	var providerOnly []string
	if entry.ProviderHint != "" {
		providerOnly = []string{entry.ProviderHint}
	}

	callStart := c.now()
	result, err := backoff.RetryWithBackoff(ctx, backoff.AggressivePolicy(), sameEntryAttempts,
		func(attempt int) (Message, error) {
			callCtx, cancel := context.WithTimeout(ctx, LLMTimeout)
			defer cancel()

			msg, err := adapter.Call(callCtx, endpoint, entry.ModelID, messages, tools, !entry.NoToolChoice && len(tools) > 0, providerOnly)
			if err != nil {
				return Message{}, err
			}
			if msg.Content == nil && len(msg.ToolCalls) == 0 {
				return Message{}, fmt.Errorf("empty response from model %q", entry.ModelID)
			}
			if len(msg.ToolCalls) > 0 && msg.ToolCalls[0].Function.Name == "" {
				return Message{}, fmt.Errorf("tool call from model %q missing function name", entry.ModelID)
			}
			return msg, nil
		})

	provider := string(endpoint.WireFormat)
	if entry.ProviderHint != "" {
		provider = entry.ProviderHint
	}
	if err != nil {
		c.metrics.RecordLLMRequest(provider, entry.ModelID, "error", c.now().Sub(callStart).Seconds(), 0, 0)
		if result.LastError != nil {
			return Message{}, result.LastError
		}
		return Message{}, err
	}
	c.metrics.RecordLLMRequest(provider, entry.ModelID, "success", c.now().Sub(callStart).Seconds(), 0, 0)
	return result.Value, nil
}
