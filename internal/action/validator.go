package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks action input parameters against their declared Schema
// before the first step of an action runs. Compiled schemas are cached so
// repeated invocations of the same action do not re-compile the schema
// object every call.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator. Compilation is lazy and
// memoized per action name.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks params against the action's input schema, returning an
// aggregated *action.Error of KindValidation if anything fails, or nil.
func (v *Validator) Validate(actionName string, schema Schema, params map[string]any) error {
	compiled, err := v.compiled(actionName, schema)
	if err != nil {
		// A schema that fails to compile is an authoring bug, not a user
		// input problem, but the caller still needs a typed Error.
		return NewValidationError(actionName, []string{fmt.Sprintf("schema compile error: %v", err)})
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return NewValidationError(actionName, []string{fmt.Sprintf("params not serializable: %v", err)})
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return NewValidationError(actionName, []string{err.Error()})
	}

	if err := compiled.Validate(doc); err != nil {
		return NewValidationError(actionName, flattenValidationError(err))
	}
	return nil
}

func (v *Validator) compiled(actionName string, schema Schema) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if c, ok := v.cache[actionName]; ok {
		v.mu.RUnlock()
		return c, nil
	}
	v.mu.RUnlock()

	raw, err := json.Marshal(schema.ToJSONSchema())
	if err != nil {
		return nil, err
	}
	resourceName := actionName + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[actionName] = compiled
	v.mu.Unlock()
	return compiled, nil
}

// flattenValidationError turns a jsonschema.ValidationError tree into a
// flat list of human-readable reasons, one per leaf cause.
func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var messages []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			messages = append(messages, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return messages
}
