package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tax, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "nas-opgaven", tax.Name)
	require.Len(t, tax.Tasks, TaskCount)
	for i, id := range tax.IDs() {
		assert.Equal(t, i+1, id)
	}
	assert.Equal(t, "1", tax.Keys()[0])
	assert.Equal(t, "21", tax.Keys()[20])

	task, ok := tax.Task(2)
	require.True(t, ok)
	assert.Equal(t, "Wateroverlast", task.Name)
	_, ok = tax.Task(22)
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	tax, err := Default()
	require.NoError(t, err)

	out := tax.Render()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, TaskCount)
	assert.True(t, strings.HasPrefix(lines[3], "4. Hitte: "))
}

func buildYAML(ids []int) string {
	var b strings.Builder
	b.WriteString("name: test\ntasks:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "  - id: %d\n    name: Task %d\n    description: Description %d\n", id, id, id)
	}
	return b.String()
}

func TestParse_Validation(t *testing.T) {
	full := make([]int, 0, 21)
	for i := 1; i <= 21; i++ {
		full = append(full, i)
	}

	tests := []struct {
		name    string
		ids     []int
		wantErr string
	}{
		{"valid", full, ""},
		{"too few", full[:20], "taxonomy: validate"},
		{"out of range", append(append([]int{}, full[:20]...), 22), "taxonomy: validate"},
		{"duplicate", append(append([]int{}, full[:20]...), 3), "duplicate task id 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(buildYAML(tt.ids)))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("tasks: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taxonomy: decode")
}

func TestLoad(t *testing.T) {
	tax, err := Load("")
	require.NoError(t, err)
	assert.Len(t, tax.Tasks, TaskCount)

	ids := make([]int, 0, 21)
	for i := 21; i >= 1; i-- {
		ids = append(ids, i)
	}
	path := filepath.Join(t.TempDir(), "tax.yaml")
	require.NoError(t, os.WriteFile(path, []byte(buildYAML(ids)), 0o644))

	tax, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 21, tax.IDs()[0])

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
