// Package taskforge task registry.
// Maps task_type → {callable, queue, doc, parameters[]}. Registration
// takes an explicit parameter spec rather than reflecting it out of a
// Go function signature — Go strips parameter names at compile time,
// so there is nothing for reflect to recover them from. reflect.TypeOf
// is used only in Register, to check that the callable is a func of
// two parameters; Invoke calls the func directly.
package taskforge

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Parameter is one formal parameter of a registered task, as described
// by its owner at registration time. UI hint inference and required
// resolution run against this caller-supplied descriptor, not against
// a reflected signature.
type Parameter struct {
	Name          string
	Type          *TypeDescriptor
	Default       interface{}
	HasDefault    bool
	Control       ControlHint
	ExcludeFromUI bool
	ExplicitHints map[string]interface{} // overlays inferred hints, explicit wins per-key
}

// Required reports whether the caller must supply this parameter: no
// default and not excluded from UI.
func (p Parameter) Required() bool {
	return !p.HasDefault && !p.ExcludeFromUI
}

// resolvedControl applies rule 6: explicit "control" hint wins over
// the inferred one.
func (p Parameter) resolvedControl() ControlHint {
	if v, ok := p.ExplicitHints["control"]; ok {
		if c, ok := v.(ControlHint); ok {
			return c
		}
		if s, ok := v.(string); ok {
			return ControlHint(s)
		}
	}
	return InferControl(p.Name, p.Type)
}

// TaskFunc is the shape every registered task handler must satisfy:
// it receives a context and its validated parameter map, and returns a
// result payload or an error. Handlers that need typed parameters
// decode params themselves; the registry's job ends at arity/shape
// validation.
type TaskFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// TaskSpec is what a caller passes to Register: the callable plus the
// parameter descriptors the decorator would otherwise have inferred.
type TaskSpec struct {
	Name       string
	Queue      string
	Doc        string
	Func       TaskFunc
	Parameters []Parameter
}

// TaskDescriptor is the registry's stored, queryable record for a
// task_type — the structure the API surfaces for UI generation.
type TaskDescriptor struct {
	Name       string
	Queue      string
	Doc        string
	Parameters []Parameter
	fn         TaskFunc
}

// Invoke runs the task's underlying function. params should already
// have passed ValidateParameters.
func (d *TaskDescriptor) Invoke(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return d.fn(ctx, params)
}

// TaskRegistry maps task_type to its callable, queue, doc, and
// parameter descriptors. Written only at startup, read-only after.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*TaskDescriptor
}

// NewTaskRegistry constructs an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*TaskDescriptor)}
}

// Register is the Go equivalent of the `@task(name, queue)` decorator:
// called once per task type at process startup (typically from an
// init() in the package housing the handler, discovered via
// AutoDiscover). reflect.TypeOf is used only to sanity-check that fn
// has the (context.Context, map[string]interface{}) signature the
// registry expects to call later — it cannot and does not attempt to
// recover parameter names from fn itself.
func (r *TaskRegistry) Register(spec TaskSpec) error {
	if spec.Name == "" {
		return NewValidationError("task registration requires a name", nil)
	}
	if spec.Func == nil {
		return NewValidationError("task registration requires a callable", map[string]interface{}{"name": spec.Name})
	}

	fnType := reflect.TypeOf(spec.Func)
	if fnType.Kind() != reflect.Func || fnType.NumIn() != 2 {
		return NewValidationError("task callable must take (context.Context, map[string]interface{})", map[string]interface{}{"name": spec.Name})
	}

	params := make([]Parameter, len(spec.Parameters))
	for i, p := range spec.Parameters {
		if IsReservedParameterName(p.Name) {
			p.ExcludeFromUI = true
		}
		if p.Control == "" {
			p.Control = p.resolvedControl()
		}
		params[i] = p
	}

	desc := &TaskDescriptor{
		Name:       spec.Name,
		Queue:      spec.Queue,
		Doc:        spec.Doc,
		Parameters: params,
		fn:         spec.Func,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[spec.Name]; exists {
		return NewConflictError(fmt.Sprintf("task type %q is already registered", spec.Name))
	}
	r.tasks[spec.Name] = desc
	return nil
}

// Resolve looks up a task_type's descriptor.
func (r *TaskRegistry) Resolve(taskType string) (*TaskDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tasks[taskType]
	return d, ok
}

// GetFunction returns the callable registered for taskType.
func (r *TaskRegistry) GetFunction(taskType string) (TaskFunc, bool) {
	d, ok := r.Resolve(taskType)
	if !ok {
		return nil, false
	}
	return d.fn, true
}

// GetParameters returns the parameter descriptors for taskType.
func (r *TaskRegistry) GetParameters(taskType string) ([]Parameter, bool) {
	d, ok := r.Resolve(taskType)
	if !ok {
		return nil, false
	}
	return d.Parameters, true
}

// ListAll returns every registered task descriptor.
func (r *TaskRegistry) ListAll() []*TaskDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TaskDescriptor, 0, len(r.tasks))
	for _, d := range r.tasks {
		out = append(out, d)
	}
	return out
}

// AutoDiscoverer is implemented by a package that wants its task
// registrations forced to run at startup — the Go analogue of
// transitively importing every module in a package tree to trigger
// decorator side effects. Each discoverable package exposes a Register
// function satisfying this signature and lists it in the slice passed
// to AutoDiscover.
type AutoDiscoverer func(*TaskRegistry) error

// AutoDiscover runs each discoverer against r, stopping at the first
// error so a broken registration cannot partially populate the registry.
func (r *TaskRegistry) AutoDiscover(discoverers ...AutoDiscoverer) error {
	for _, discover := range discoverers {
		if err := discover(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateParameters asserts every required parameter of taskType has
// a value in params. Unknown keys pass through untouched — they reach
// the callable as-is. Missing required parameters fail with a
// validation *Error (ParameterValidationError.AsValidation) whose
// details carry every missing name, not just the first.
func (r *TaskRegistry) ValidateParameters(taskType string, params map[string]interface{}) error {
	desc, ok := r.Resolve(taskType)
	if !ok {
		return NewNotFoundError(fmt.Sprintf("task type %q is not registered", taskType))
	}

	var missing []string
	for _, p := range desc.Parameters {
		if !p.Required() {
			continue
		}
		if _, present := params[p.Name]; !present {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return (&ParameterValidationError{TaskType: taskType, Missing: missing}).AsValidation()
	}
	return nil
}
