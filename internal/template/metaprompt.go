package template

import (
	"context"
	"fmt"

	"github.com/haasonsaas/actionforge/internal/action"
)

// Generator resolves a single-round-trip LLM call to a string, the
// capability the meta-prompt resolver needs from the cascade client. The
// executor supplies a Generator backed by its cascade.Client; the
// template package itself has no cascade dependency, only this interface.
type Generator interface {
	GenerateText(ctx context.Context, systemPrompt, userMessage string, intelligence action.Intelligence) (string, error)
}

// MaxMetaPromptDepth bounds SystemPromptSpec recursion.
const MaxMetaPromptDepth = 8

// ResolveSystemPrompt follows the SystemPromptSpec recursion to a plain
// string, calling gen once per Generated level. Recursion terminates when
// the spec is a Literal.
func ResolveSystemPrompt(ctx context.Context, spec action.SystemPromptSpec, gen Generator) (string, error) {
	return resolveDepth(ctx, spec, gen, 0)
}

func resolveDepth(ctx context.Context, spec action.SystemPromptSpec, gen Generator, depth int) (string, error) {
	if spec.IsLiteral() {
		return spec.Literal, nil
	}
	if depth >= MaxMetaPromptDepth {
		return "", fmt.Errorf("meta-prompt recursion exceeded depth %d", MaxMetaPromptDepth)
	}
	mp := spec.Generated
	innerSystem, err := resolveDepth(ctx, mp.SystemPrompt, gen, depth+1)
	if err != nil {
		return "", err
	}
	return gen.GenerateText(ctx, innerSystem, mp.Message, mp.Intelligence)
}
