// Package executor runs declarative actions to completion: it validates
// parameters, walks an action's step list, renders prompt templates,
// drives the model-calling conversation, dispatches tool calls to nested
// actions, feeds validation errors back to the model, enforces iteration
// and time budgets, and unwraps stop-action results.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/actionforge/internal/action"
	"github.com/haasonsaas/actionforge/internal/cascade"
	"github.com/haasonsaas/actionforge/internal/observability"
	"github.com/haasonsaas/actionforge/internal/template"
)

// StepTimeout is the default per-step budget, applied to procedural and
// LLM steps alike.
const StepTimeout = 20 * time.Second

// PruneThreshold is the default conversation length past which a
// multi-turn loop collapses intermediate messages.
const PruneThreshold = 12

// Deps wires the Executor's collaborators. Registry and Cascade are
// required; Collaborator, Log, and Metrics default to no-ops when nil.
type Deps struct {
	Registry       *action.Registry
	Validator      *action.Validator
	Cascade        *cascade.Client
	Collaborator   Collaborator
	Log            *observability.Logger
	Metrics        *Metrics
	StepTimeout    time.Duration
	PruneThreshold int
}

// Executor executes one action to completion.
type Executor struct {
	registry       *action.Registry
	validator      *action.Validator
	cascade        *cascade.Client
	collaborator   Collaborator
	log            *observability.Logger
	metrics        *Metrics
	stepTimeout    time.Duration
	pruneThreshold int
}

// New builds an Executor from Deps, applying documented defaults.
func New(deps Deps) *Executor {
	if deps.Collaborator == nil {
		deps.Collaborator = NoopCollaborator{}
	}
	if deps.Log == nil {
		deps.Log = observability.NewLogger(observability.LogConfig{})
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.StepTimeout == 0 {
		deps.StepTimeout = StepTimeout
	}
	if deps.PruneThreshold == 0 {
		deps.PruneThreshold = PruneThreshold
	}
	return &Executor{
		registry:       deps.Registry,
		validator:      deps.Validator,
		cascade:        deps.Cascade,
		collaborator:   deps.Collaborator,
		log:            deps.Log,
		metrics:        deps.Metrics,
		stepTimeout:    deps.StepTimeout,
		pruneThreshold: deps.PruneThreshold,
	}
}

// Execute runs actionName to completion: validate(params) then walk the
// step list, threading each step's result as the next step's prev_result.
func (e *Executor) Execute(ctx context.Context, actionName string, params map[string]any) (any, error) {
	act, err := e.registry.Get(actionName)
	if err != nil {
		return nil, err
	}

	if err := e.validator.Validate(act.Name, act.InputSchema, params); err != nil {
		e.metrics.RecordError(act.Name, "validation")
		return nil, err
	}

	var result any
	for idx, step := range act.Steps {
		stepStart := time.Now()
		result, err = e.executeStep(ctx, act, idx, step, params, result)
		e.metrics.RecordStep(act.Name, idx, time.Since(stepStart), err == nil)
		if err != nil {
			if ae, ok := err.(*action.Error); ok {
				ae.ActionName = act.Name
				ae.StepIndex = idx
			}
			e.log.Error(ctx, "step failed", "action", act.Name, "step", idx, "error", err)
			return nil, err
		}
	}
	return result, nil
}

// executeStep dispatches one step of act per its Kind, applying the
// per-step timeout to procedural and LLM steps alike.
func (e *Executor) executeStep(ctx context.Context, act action.Action, idx int, step action.Step, params map[string]any, prevResult any) (any, error) {
	switch step.Kind {
	case action.StepProcedure:
		stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
		result, err := step.Procedure(stepCtx, params, prevResult)
		if err != nil {
			if stepCtx.Err() != nil {
				return nil, action.NewTimeoutError(act.Name, idx, err)
			}
			return nil, err
		}
		return result, nil

	case action.StepSubAction:
		mapped := params
		if step.ParamMap != nil {
			mapped = step.ParamMap(params, prevResult)
		}
		return e.Execute(ctx, step.SubAction, mapped)

	case action.StepLLM:
		if step.HasOutputSchema() {
			stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
			defer cancel()
			result, err := e.runSingleRoundTrip(stepCtx, act, idx, step, params, prevResult)
			if err != nil && stepCtx.Err() != nil {
				return nil, action.NewTimeoutError(act.Name, idx, err)
			}
			return result, err
		}
		// The loop's budget is the iteration count times the per-call
		// model timeout, not the single-step timeout.
		loopCtx, cancel := context.WithTimeout(ctx, time.Duration(step.ToolChoice.MaxIterations)*cascade.LLMTimeout)
		defer cancel()
		result, err := e.runMultiTurnLoop(loopCtx, act, idx, step, params, prevResult)
		if err != nil && loopCtx.Err() != nil {
			return nil, action.NewTimeoutError(act.Name, idx, err)
		}
		return result, err

	default:
		return nil, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// buildTemplateContext merges an action's input parameters and the
// previous step's result fields into one mustache context; extra carries
// executor-injected variables such as available_tools and decision_guide.
func buildTemplateContext(params map[string]any, prevResult any, extra template.Context) template.Context {
	ctx := make(template.Context, len(params)+4)
	for k, v := range params {
		ctx[k] = v
	}
	if m, ok := prevResult.(map[string]any); ok {
		for k, v := range m {
			ctx[k] = v
		}
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

type metaPromptGenerator struct {
	e *Executor
}

func (g metaPromptGenerator) GenerateText(ctx context.Context, systemPrompt, userMessage string, intelligence action.Intelligence) (string, error) {
	req := cascade.Request{
		Intelligence: intelligence,
		Messages: []cascade.Message{
			cascade.NewTextMessage(cascade.RoleSystem, systemPrompt),
			cascade.NewTextMessage(cascade.RoleUser, userMessage),
		},
	}
	msg, err := g.e.cascade.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if msg.Content != nil {
		return *msg.Content, nil
	}
	return "", nil
}
