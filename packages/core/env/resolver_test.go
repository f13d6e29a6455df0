package env

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(env map[string]string) *Resolver {
	r := NewResolver()
	r.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return r
}

func TestResolve(t *testing.T) {
	r := newTestResolver(map[string]string{"API_TOKEN": "t0k", "EMPTY": ""})
	r.SetVariables(map[string]string{"host": "api.local", "version": "v2"})
	r.Register("fixed", func() string { return "F" })

	tests := []struct {
		name     string
		input    string
		expected string
		missing  []string
	}{
		{"no placeholders", "hello world", "hello world", nil},
		{"variable", "http://{{host}}/x", "http://api.local/x", nil},
		{"whitespace in braces", "{{ host }}", "api.local", nil},
		{"several", "{{host}}/{{version}}", "api.local/v2", nil},
		{"environment", "Bearer {{$API_TOKEN}}", "Bearer t0k", nil},
		{"set but empty environment", "[{{$EMPTY}}]", "[]", nil},
		{"function", "{{fixed()}}", "F", nil},
		{"unknown variable", "{{nope}}/{{host}}", "{{nope}}/api.local", []string{"nope"}},
		{"unknown env", "{{$MISSING}}", "{{$MISSING}}", []string{"$MISSING"}},
		{"unknown function", "{{nope()}}", "{{nope()}}", []string{"nope()"}},
		{"missing reported once", "{{a}}{{b}}{{a}}", "{{a}}{{b}}{{a}}", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.input)
			assert.Equal(t, tt.expected, got)
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}
			var ue *UnresolvedError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.missing, ue.Names)
		})
	}
}

func TestResolveDefaultFunctions(t *testing.T) {
	r := NewResolver()

	id, err := r.Resolve("{{uuid()}}")
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)

	for _, expr := range []string{"{{timestamp()}}", "{{timestampMs()}}", "{{now()}}"} {
		got, err := r.Resolve(expr)
		require.NoError(t, err, expr)
		assert.NotEqual(t, expr, got)
	}
}

func TestResolveAll(t *testing.T) {
	r := newTestResolver(nil)
	r.SetVariable("token", "abc")

	got, err := r.ResolveAll(map[string]string{
		"Authorization": "Bearer {{token}}",
		"X-Trace":       "{{trace}}",
		"X-Span":        "{{span}}",
	})
	assert.Equal(t, "Bearer abc", got["Authorization"])

	var ue *UnresolvedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, []string{"span", "trace"}, ue.Names)
	assert.EqualError(t, err, "unresolved variables: span, trace")

	none, err := r.ResolveAll(nil)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestSetVariablesLaterWins(t *testing.T) {
	r := newTestResolver(nil)
	r.SetVariables(map[string]string{"a": "1"})
	r.SetVariables(map[string]string{"a": "2"})

	got, err := r.Resolve("{{a}}")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"host=api.local", "empty=", "q=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"host": "api.local", "empty": "", "q": "a=b"}, got)

	_, err = ParseAssignments([]string{"novalue"})
	assert.Error(t, err)

	_, err = ParseAssignments([]string{"=x"})
	assert.Error(t, err)
}
