// Package actionset provides the orchestrator's compiled-in action set.
// action.Step's Procedure and ParamMap fields are Go closures, so actions
// are registered here in Go rather than loaded from a directory of
// declarative files, then frozen once at startup by cmd/orchestrator.
package actionset

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/actionforge/internal/action"
)

// Build assembles the registry: a "research" action that runs an
// LLM-driven multi-turn tool loop over two sub-actions ("search" and
// "summarize"), terminated by the "respond" stop action.
func Build() (*action.Registry, error) {
	b := action.NewBuilder()

	b.Add(action.Action{
		Name:        "search",
		Description: "Looks up a topic in the local knowledge base.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"query": {Type: action.TypeString, Description: "What to search for."},
			},
			Required: []string{"query"},
		},
		Steps: []action.Step{
			{
				Kind: action.StepProcedure,
				Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
					query, _ := params["query"].(string)
					return fmt.Sprintf("3 results found for %q", strings.TrimSpace(query)), nil
				},
			},
		},
	})

	b.Add(action.Action{
		Name:        "summarize",
		Description: "Summarizes text passed in via the 'text' parameter.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"text": {Type: action.TypeString, Description: "Text to summarize."},
			},
			Required: []string{"text"},
		},
		Steps: []action.Step{
			{
				Kind: action.StepLLM,
				SystemPrompt: action.SystemPromptSpec{
					Literal: "Summarize the user's text in one sentence.",
				},
				Message:      "{{text}}",
				Intelligence: action.IntelligenceLow,
				OutputSchema: &action.Schema{
					Properties: map[string]action.Property{
						"summary": {Type: action.TypeString},
					},
					Required: []string{"summary"},
				},
			},
		},
	})

	b.Add(action.Action{
		Name:        "respond",
		Description: "Terminates the research loop with a final answer.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"response": {Type: action.TypeString, Description: "The final answer to return to the caller."},
				"success":  {Type: action.TypeBoolean, Description: "Whether the task completed."},
				"messages": {Type: action.TypeArray, Description: "The conversation that led here. Filled in by the executor."},
			},
			Required: []string{"response"},
		},
		Steps: []action.Step{
			{
				Kind: action.StepProcedure,
				Procedure: func(ctx context.Context, params map[string]any, prevResult any) (any, error) {
					return params, nil
				},
			},
		},
	})

	b.Add(action.Action{
		Name:        "research",
		Description: "Answers a question by searching and summarizing in a loop, then responding.",
		InputSchema: action.Schema{
			Properties: map[string]action.Property{
				"question": {Type: action.TypeString, Description: "The question to research."},
			},
			Required: []string{"question"},
		},
		Steps: []action.Step{
			{
				Kind: action.StepLLM,
				SystemPrompt: action.SystemPromptSpec{
					Literal: "You answer questions by calling search and summarize as needed, then call respond with your final answer.",
				},
				Message:      "{{question}}",
				Intelligence: action.IntelligenceMedium,
				ToolChoice: &action.ToolChoice{
					AvailableActions: []string{"search", "summarize", "respond"},
					StopAction:       "respond",
					MaxIterations:    8,
				},
			},
		},
	})

	return b.Freeze()
}
