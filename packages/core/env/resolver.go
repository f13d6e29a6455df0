package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Func produces the value of a {{name()}} call.
type Func func() string

// UnresolvedError lists placeholders that had no value.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return "unresolved variables: " + strings.Join(e.Names, ", ")
}

// Resolver expands {{name}} placeholders. A name is looked up among the
// variables; {{$NAME}} reads the process environment; {{name()}} calls a
// registered function. Resolver is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]string
	funcs     map[string]Func
	lookupEnv func(string) (string, bool)
}

// NewResolver returns a Resolver with the default functions: uuid,
// timestamp, timestampMs and now.
func NewResolver() *Resolver {
	r := &Resolver{
		variables: make(map[string]string),
		funcs:     make(map[string]Func),
		lookupEnv: os.LookupEnv,
	}
	r.Register("uuid", uuid.NewString)
	r.Register("timestamp", func() string { return strconv.FormatInt(time.Now().Unix(), 10) })
	r.Register("timestampMs", func() string { return strconv.FormatInt(time.Now().UnixMilli(), 10) })
	r.Register("now", func() string { return time.Now().UTC().Format(time.RFC3339) })
	return r
}

// Register adds or replaces a function.
func (r *Resolver) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// SetVariables merges vars into the resolver; later calls win.
func (r *Resolver) SetVariables(vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

// Lookup resolves one placeholder expression, without the braces.
func (r *Resolver) Lookup(expr string) (string, bool) {
	expr = strings.TrimSpace(expr)

	if name, ok := strings.CutPrefix(expr, "$"); ok {
		v, set := r.lookupEnv(name)
		return v, set
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if name, ok := strings.CutSuffix(expr, "()"); ok {
		fn, found := r.funcs[name]
		if !found {
			return "", false
		}
		return fn(), true
	}

	v, ok := r.variables[expr]
	return v, ok
}

// Resolve expands every placeholder in input. Unresolved placeholders are
// left in place and reported together in an *UnresolvedError.
func (r *Resolver) Resolve(input string) (string, error) {
	var missing []string
	out := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := match[2 : len(match)-2]
		if v, ok := r.Lookup(expr); ok {
			return v
		}
		missing = append(missing, strings.TrimSpace(expr))
		return match
	})
	if len(missing) > 0 {
		return out, &UnresolvedError{Names: dedupe(missing)}
	}
	return out, nil
}

// ResolveAll expands every value of values. Unresolved names across all
// values are reported together.
func (r *Resolver) ResolveAll(values map[string]string) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	result := make(map[string]string, len(values))
	var missing []string
	for k, v := range values {
		resolved, err := r.Resolve(v)
		if ue, ok := err.(*UnresolvedError); ok {
			missing = append(missing, ue.Names...)
		}
		result[k] = resolved
	}
	if len(missing) > 0 {
		return result, &UnresolvedError{Names: dedupe(missing)}
	}
	return result, nil
}

// ParseAssignments turns ["k=v", ...] into a map, as passed with --var.
func ParseAssignments(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid variable %q: expected name=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i == 0 || n != names[i-1] {
			out = append(out, n)
		}
	}
	return out
}
