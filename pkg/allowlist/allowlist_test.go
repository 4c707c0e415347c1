package allowlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllows(t *testing.T) {
	list, err := New([]string{"kubernetes-expert", "data-*", "acme/**", " "})
	require.NoError(t, err)

	tests := []struct {
		name    string
		allowed bool
	}{
		{"kubernetes-expert", true},
		{"kubernetes", false},
		{"data-engineer", true},
		{"data-engineer/extra", false},
		{"acme/tools/lint", true},
		{"other/acme", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, list.Allows(tt.name))
		})
	}

	assert.Equal(t, []string{"kubernetes-expert", "data-*", "acme/**"}, list.Entries())
}

func TestEmptyAllowsEverything(t *testing.T) {
	list, err := New(nil)
	require.NoError(t, err)
	assert.True(t, list.Empty())
	assert.True(t, list.Allows("anything"))

	var nilList *List
	assert.True(t, nilList.Allows("anything"))
}

func TestInvalidPattern(t *testing.T) {
	_, err := New([]string{"bad[pattern"})
	assert.Error(t, err)
}
