package worker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alpex29/infinitic"
)

// MethodDivider separates a service name from a method name.
const MethodDivider = "::"

// Registry maps task names to tasks. It is built at startup and passed to
// the executor; it is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]Task),
	}
}

// Register registers task under name. Registering a name twice replaces
// the task.
func (r *Registry) Register(name string, task Task) error {
	if name == "" || strings.Contains(name, MethodDivider) {
		return fmt.Errorf("%w: %q", infinitic.ErrInvalidTaskName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
	return nil
}

// RegisterService registers every method of a service. Method m is
// resolved by the name "service::m".
func (r *Registry) RegisterService(service string, methods map[string]Task) error {
	if service == "" || strings.Contains(service, MethodDivider) {
		return fmt.Errorf("%w: %q", infinitic.ErrInvalidTaskName, service)
	}
	for method := range methods {
		if method == "" || strings.Contains(method, MethodDivider) {
			return fmt.Errorf("%w: method %q of %q", infinitic.ErrInvalidTaskName, method, service)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for method, task := range methods {
		r.tasks[service+MethodDivider+method] = task
	}
	return nil
}

// Resolve returns the task registered under name. A name may use the
// method divider at most once.
func (r *Registry) Resolve(name string) (Task, error) {
	if strings.Count(name, MethodDivider) > 1 {
		return nil, fmt.Errorf("%w: %q", infinitic.ErrMultipleDividers, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", infinitic.ErrTaskNotRegistered, name)
	}
	return task, nil
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
