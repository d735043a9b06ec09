// Package tools executes the function calls a completion may request.
//
// The registry is fixed at construction: add_to_list and list_items, both
// backed by a task list. Every tool validates its arguments before touching
// the list, so a rejected call has no side effect.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"chat-agent/internal/domain"
	"chat-agent/internal/integrations/todoist"
)

// ValidationError reports a call that cannot be executed as requested:
// unknown function, malformed arguments or a missing required field.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tools: invalid call to %q: %s", e.Tool, e.Reason)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TaskList is the side-effect backend. *todoist.Client satisfies it.
type TaskList interface {
	AddTask(ctx context.Context, t todoist.NewTask) (todoist.Task, error)
	ListTasks(ctx context.Context) ([]todoist.Task, error)
}

type handlerFunc func(ctx context.Context, call domain.ToolCall) (string, error)

type tool struct {
	spec     domain.ToolSpec
	validate func(call domain.ToolCall) error
	run      handlerFunc
}

// Dispatcher maps function names to tool handlers.
type Dispatcher struct {
	tools map[string]tool
}

// NewDispatcher registers the list tools against list.
func NewDispatcher(list TaskList) (*Dispatcher, error) {
	if list == nil {
		return nil, errors.New("tools: task list must not be nil")
	}
	d := &Dispatcher{tools: make(map[string]tool)}
	d.register(addToListSpec, validateAddToList, addToList(list))
	d.register(listItemsSpec, validateListItems, listItems(list))
	return d, nil
}

func (d *Dispatcher) register(spec domain.ToolSpec, validate func(domain.ToolCall) error, run handlerFunc) {
	d.tools[spec.Name] = tool{spec: spec, validate: validate, run: run}
}

// Specs returns the advertised tools sorted by name.
func (d *Dispatcher) Specs() []domain.ToolSpec {
	out := make([]domain.ToolSpec, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks that call names a registered tool and carries usable
// arguments, without running it. Callers executing several calls validate
// all of them first so that a rejected call leaves no partial side effects.
func (d *Dispatcher) Validate(call domain.ToolCall) error {
	t, err := d.lookup(call)
	if err != nil {
		return err
	}
	return t.validate(call)
}

// Dispatch runs the tool named by call and returns its confirmation text.
func (d *Dispatcher) Dispatch(ctx context.Context, call domain.ToolCall) (string, error) {
	t, err := d.lookup(call)
	if err != nil {
		return "", err
	}
	return t.run(ctx, call)
}

func (d *Dispatcher) lookup(call domain.ToolCall) (tool, error) {
	name := call.Function.Name
	t, ok := d.tools[name]
	if !ok {
		return tool{}, &ValidationError{Tool: name, Reason: "unknown tool"}
	}
	return t, nil
}

// GenerateSchema derives an inline JSON schema for a tool's argument struct.
func GenerateSchema[T any]() []byte {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("tools: marshal schema for %T: %v", v, err))
	}
	return b
}

func decodeArgs(call domain.ToolCall, dst any) error {
	raw := call.Function.Arguments
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return &ValidationError{Tool: call.Function.Name, Reason: "arguments are not a JSON object"}
	}
	return nil
}
