package action

import "fmt"

// Registry is a process-wide read-only mapping from action name to Action
// value. It is built once via Builder and then frozen into a plain map no
// caller can mutate, so lookups after startup need no synchronization.
type Registry struct {
	actions map[string]Action
}

// Builder accumulates actions before Freeze() validates cross-references
// and produces an immutable Registry.
type Builder struct {
	actions map[string]Action
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{actions: make(map[string]Action)}
}

// Add registers an action declaration. Duplicate names are an error at
// Freeze time, not at Add time, so callers can union multiple sources
// before validating.
func (b *Builder) Add(a Action) *Builder {
	b.actions[a.Name] = a
	return b
}

// Freeze validates every cross-reference invariant of the action set and
// returns the immutable Registry, or the first validation error found:
// sub-action and available_actions names must resolve, LLM steps must set
// exactly one output mode, stop_action must be available, and
// max_iterations must be at least 1.
func (b *Builder) Freeze() (*Registry, error) {
	for name, a := range b.actions {
		if name == "" {
			return nil, fmt.Errorf("action registered with empty name")
		}
		if len(a.Steps) == 0 {
			return nil, fmt.Errorf("action %q declares zero steps", name)
		}
		for i, step := range a.Steps {
			if err := validateStep(b.actions, name, i, step); err != nil {
				return nil, err
			}
		}
	}
	out := make(map[string]Action, len(b.actions))
	for k, v := range b.actions {
		out[k] = v
	}
	return &Registry{actions: out}, nil
}

func validateStep(all map[string]Action, ownerName string, idx int, step Step) error {
	switch step.Kind {
	case StepSubAction:
		if _, ok := all[step.SubAction]; !ok {
			return fmt.Errorf("action %q step %d: sub-action %q not in registry", ownerName, idx, step.SubAction)
		}
	case StepLLM:
		hasSchema := step.OutputSchema != nil
		hasChoice := step.ToolChoice != nil
		if hasSchema == hasChoice {
			return fmt.Errorf("action %q step %d: LLM step must set exactly one of output_schema or tool_choice", ownerName, idx)
		}
		if hasChoice {
			tc := step.ToolChoice
			if tc.MaxIterations < 1 {
				return fmt.Errorf("action %q step %d: max_iterations must be >= 1", ownerName, idx)
			}
			found := false
			for _, name := range tc.AvailableActions {
				if _, ok := all[name]; !ok {
					return fmt.Errorf("action %q step %d: available_actions entry %q not in registry", ownerName, idx, name)
				}
				if name == tc.StopAction {
					found = true
				}
			}
			if !found {
				return fmt.Errorf("action %q step %d: stop_action %q must be in available_actions", ownerName, idx, tc.StopAction)
			}
		}
	case StepProcedure:
		if step.Procedure == nil {
			return fmt.Errorf("action %q step %d: procedure step has nil function", ownerName, idx)
		}
	default:
		return fmt.Errorf("action %q step %d: unknown step kind %q", ownerName, idx, step.Kind)
	}
	return nil
}

// Get looks up an action by exact name. Absence is reported as a NotFound
// error rather than a bare bool, since callers propagate it directly.
func (r *Registry) Get(name string) (Action, error) {
	a, ok := r.actions[name]
	if !ok {
		return Action{}, NewNotFoundError(name)
	}
	return a, nil
}

// Has reports whether name resolves without constructing an error.
func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// Names returns every registered action name, for static validation tooling.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}
