package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"identical maps", map[string]any{"a": 1}, map[string]any{"a": 1}, true},
		{"int vs float", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"key order independent",
			map[string]any{"a": 1, "b": 2},
			map[string]any{"b": 2, "a": 1},
			true},
		{"nested equal",
			map[string]any{"a": map[string]any{"x": []any{1, 2}}},
			map[string]any{"a": map[string]any{"x": []any{1, 2}}},
			true},
		{"different value", map[string]any{"a": 1}, map[string]any{"a": 2}, false},
		{"missing key", map[string]any{"a": 1}, map[string]any{}, false},
		{"array order matters", []any{1, 2}, []any{2, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, jsonEqual(tt.a, tt.b))
		})
	}
}

func TestComputeChangeSummary(t *testing.T) {
	old := map[string]any{"name": "Acme CRM", "version": "1.0", "legacy": true}
	new_ := map[string]any{"name": "Acme CRM", "version": "2.0", "vendor": "Acme Corp"}

	summary := computeChangeSummary(old, new_)
	assert.Equal(t, []string{"vendor"}, summary["added"])
	assert.Equal(t, []string{"legacy"}, summary["removed"])
	assert.Equal(t, []string{"version"}, summary["updated"])
}

func TestComputeChangeSummary_NoChange(t *testing.T) {
	props := map[string]any{"name": "Ruth", "age": 30}
	assert.Nil(t, computeChangeSummary(props, map[string]any{"age": 30.0, "name": "Ruth"}))
	assert.Nil(t, computeChangeSummary(nil, nil))
}

func TestMergeProperties(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2, "c": 3}
	delta := map[string]any{"b": 20, "c": nil, "d": 4}

	merged := mergeProperties(base, delta)

	assert.Equal(t, map[string]any{"a": 1, "b": 20, "d": 4}, merged)
	// inputs untouched
	assert.Equal(t, 2, base["b"])
	assert.Contains(t, base, "c")
}

func TestGraphObjectHelpers(t *testing.T) {
	obj := &GraphObject{}
	assert.True(t, obj.IsHead())
	assert.False(t, obj.IsDeleted())
}

func TestPGTextArray(t *testing.T) {
	assert.Equal(t, "{}", pgTextArray(nil))
	assert.Equal(t, "{foo,bar}", pgTextArray([]string{"foo", "bar"}))
	assert.Equal(t, `{"bar baz,qux"}`, pgTextArray([]string{"bar baz,qux"}))
	assert.Equal(t, `{"with\"quote"}`, pgTextArray([]string{`with"quote`}))
}
