package generator

import (
	"fmt"
	"sort"
	"strings"

	"rstdocs/internal/ast"
)

// DirectiveFunc renders one Directive node into a Markdown fragment.
type DirectiveFunc func(ctx *Context, n *ast.Node) (string, error)

// RoleFunc renders one InterpretedText node into an inline fragment.
type RoleFunc func(ctx *Context, n *ast.Node) (string, error)

// Registry maps directive and role names to their generators. Names are
// case-insensitive.
type Registry struct {
	directives map[string]DirectiveFunc
	roles      map[string]RoleFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		directives: make(map[string]DirectiveFunc),
		roles:      make(map[string]RoleFunc),
	}
}

// RegisterDirective binds name to fn, replacing any previous binding.
func (r *Registry) RegisterDirective(name string, fn DirectiveFunc) {
	r.directives[strings.ToLower(name)] = fn
}

// RegisterRole binds name to fn, replacing any previous binding.
func (r *Registry) RegisterRole(name string, fn RoleFunc) {
	r.roles[strings.ToLower(name)] = fn
}

// Directive looks up the generator for a directive name.
func (r *Registry) Directive(name string) (DirectiveFunc, bool) {
	fn, ok := r.directives[strings.ToLower(name)]
	return fn, ok
}

// Role looks up the generator for a role name.
func (r *Registry) Role(name string) (RoleFunc, bool) {
	fn, ok := r.roles[strings.ToLower(name)]
	return fn, ok
}

// Directives returns the registered directive names, sorted.
func (r *Registry) Directives() []string { return sortedNames(r.directives) }

// Roles returns the registered role names, sorted.
func (r *Registry) Roles() []string { return sortedNames(r.roles) }

func sortedNames[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UnsupportedError lists used names that have no registered generator.
type UnsupportedError struct {
	Directives []string
	Roles      []string
}

func (e *UnsupportedError) Error() string {
	var parts []string
	if len(e.Directives) > 0 {
		parts = append(parts, fmt.Sprintf("directives [%s]", strings.Join(e.Directives, ", ")))
	}
	if len(e.Roles) > 0 {
		parts = append(parts, fmt.Sprintf("roles [%s]", strings.Join(e.Roles, ", ")))
	}
	return fmt.Sprintf("unsupported directives:%d roles:%d: %s",
		len(e.Directives), len(e.Roles), strings.Join(parts, "; "))
}

// Validate compares the corpus-wide used names against the registry.
// It returns an *UnsupportedError naming every unregistered directive
// and role, or nil when generation can proceed.
func (r *Registry) Validate(directives, roles []string) error {
	missingDirs := make(map[string]struct{})
	for _, d := range directives {
		if _, ok := r.Directive(d); !ok {
			missingDirs[strings.ToLower(d)] = struct{}{}
		}
	}
	missingRoles := make(map[string]struct{})
	for _, role := range roles {
		if _, ok := r.Role(role); !ok {
			missingRoles[strings.ToLower(role)] = struct{}{}
		}
	}
	if len(missingDirs) == 0 && len(missingRoles) == 0 {
		return nil
	}
	return &UnsupportedError{
		Directives: setToSorted(missingDirs),
		Roles:      setToSorted(missingRoles),
	}
}

func setToSorted(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	return sortedNames(m)
}

// DefaultRegistry returns a registry with every built-in directive and
// role.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerDirectives(r)
	registerRoles(r)
	return r
}
