package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"

	"github.com/tpr-labs/nriy/internal/execution"
)

var (
	ErrDuplicate = errors.New("registry: name already registered")
	ErrSealed    = errors.New("registry: sealed")
)

// Target is the part of a Temporal worker (or test environment) that units
// are installed on.
type Target interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

type NotFoundError struct {
	Kind  string
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	known := "none"
	if len(e.Known) > 0 {
		known = strings.Join(e.Known, ", ")
	}
	return fmt.Sprintf("%s %q not found (known: %s)", e.Kind, e.Name, known)
}

func (e *NotFoundError) Unwrap() error {
	return execution.ErrNotFound
}

type Names struct {
	Activities []string `json:"activities"`
	Workflows  []string `json:"stages"`
}

type Registry struct {
	mu         sync.RWMutex
	activities map[string]Activity
	workflows  map[string]Workflow
	sealed     bool
}

func New() *Registry {
	return &Registry{
		activities: map[string]Activity{},
		workflows:  map[string]Workflow{},
	}
}

func (r *Registry) RegisterActivity(a Activity) error {
	if strings.TrimSpace(a.name) == "" {
		return errors.New("registry: activity name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register activity %q", ErrSealed, a.name)
	}
	if _, exists := r.activities[a.name]; exists {
		return fmt.Errorf("%w: activity %q", ErrDuplicate, a.name)
	}
	r.activities[a.name] = a
	return nil
}

func (r *Registry) RegisterWorkflow(w Workflow) error {
	if strings.TrimSpace(w.name) == "" {
		return errors.New("registry: workflow name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register workflow %q", ErrSealed, w.name)
	}
	if _, exists := r.workflows[w.name]; exists {
		return fmt.Errorf("%w: workflow %q", ErrDuplicate, w.name)
	}
	r.workflows[w.name] = w
	return nil
}

// Seal freezes the registry. Dispatch only happens against a sealed table.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *Registry) ResolveActivity(name string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[name]
	if !ok {
		return Activity{}, &NotFoundError{Kind: "activity", Name: name, Known: sortedKeys(r.activities)}
	}
	return a, nil
}

func (r *Registry) ResolveWorkflow(name string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[name]
	if !ok {
		return Workflow{}, &NotFoundError{Kind: "stage", Name: name, Known: sortedKeys(r.workflows)}
	}
	return w, nil
}

func (r *Registry) Names() Names {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Names{
		Activities: sortedKeys(r.activities),
		Workflows:  sortedKeys(r.workflows),
	}
}

// Install registers every unit under its explicit name and seals the registry.
func (r *Registry) Install(target Target) {
	r.Seal()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range sortedKeys(r.workflows) {
		target.RegisterWorkflowWithOptions(r.workflows[name].fn, workflow.RegisterOptions{Name: name})
	}
	for _, name := range sortedKeys(r.activities) {
		target.RegisterActivityWithOptions(r.activities[name].fn, activity.RegisterOptions{Name: name})
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type validator interface {
	Validate() error
}

func decode[In any](op string, payload json.RawMessage) (In, error) {
	var in In
	if len(strings.TrimSpace(string(payload))) == 0 {
		return in, execution.Validation(op, "request body is required")
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return in, execution.Validation(op, "decode input: %v", err)
	}
	if v, ok := any(&in).(validator); ok {
		if err := v.Validate(); err != nil {
			if errors.Is(err, execution.ErrValidation) {
				return in, err
			}
			return in, execution.Validation(op, "%v", err)
		}
	}
	return in, nil
}

// Activity is a named unit of external work with its declared timeout and
// retry policy.
type Activity struct {
	name    string
	options execution.Options
	fn      any
	decode  func(payload json.RawMessage) (any, error)
	call    func(ctx context.Context, input any) (any, error)
}

// NewActivity builds an activity from a typed function. Errors returned by fn
// are converted to Temporal application errors so their kind survives
// serialization.
func NewActivity[In, Out any](name string, options execution.Options, fn func(context.Context, In) (Out, error)) Activity {
	return Activity{
		name:    name,
		options: options,
		fn: func(ctx context.Context, in In) (Out, error) {
			out, err := fn(ctx, in)
			return out, execution.ToApplicationError(err)
		},
		decode: func(payload json.RawMessage) (any, error) {
			return decode[In](name, payload)
		},
		call: func(ctx context.Context, input any) (any, error) {
			in, ok := input.(In)
			if !ok {
				return nil, execution.Validation(name, "unexpected input type %T", input)
			}
			return fn(ctx, in)
		},
	}
}

func (a Activity) Name() string {
	return a.name
}

func (a Activity) Options() execution.Options {
	return a.options
}

func (a Activity) Decode(payload json.RawMessage) (any, error) {
	return a.decode(payload)
}

// Invoke decodes payload once and runs the activity in-process under its
// declared options.
func (a Activity) Invoke(ctx context.Context, exec execution.Executor, payload json.RawMessage) (any, error) {
	input, err := a.decode(payload)
	if err != nil {
		return nil, err
	}
	return execution.Call(ctx, exec, a.name, a.options, func(ctx context.Context) (any, error) {
		return a.call(ctx, input)
	})
}

// Workflow is a named orchestration stage.
type Workflow struct {
	name   string
	fn     any
	decode func(payload json.RawMessage) (any, error)
}

func NewWorkflow[In, Out any](name string, fn func(workflow.Context, In) (Out, error)) Workflow {
	return Workflow{
		name: name,
		fn:   fn,
		decode: func(payload json.RawMessage) (any, error) {
			return decode[In](name, payload)
		},
	}
}

func (w Workflow) Name() string {
	return w.name
}

// Decode parses and validates a stage input from its JSON form.
func (w Workflow) Decode(payload json.RawMessage) (any, error) {
	return w.decode(payload)
}

func (w Workflow) Func() any {
	return w.fn
}
