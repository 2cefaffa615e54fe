package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWithin(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing dir", dir, false},
		{"new file", filepath.Join(dir, "take.jsonl"), false},
		{"new nested file", filepath.Join(dir, "a", "b", "take.jsonl"), false},
		{"dot dot", filepath.Join(dir, "..", "take.jsonl"), true},
		{"sibling prefix", dir + "-other/take.jsonl", true},
		{"root", "/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWithin(tt.path, dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWithin_SymlinkedParent(t *testing.T) {
	t.Parallel()
	safe := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(safe, "escape")
	require.NoError(t, os.Symlink(outside, link))

	assert.Error(t, ValidateWithin(filepath.Join(link, "take.jsonl"), safe))
	assert.NoError(t, ValidateWithin(filepath.Join(link, "take.jsonl"), outside))
}

func TestValidateOutputPath(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateOutputPath(filepath.Join(t.TempDir(), "out.jsonl")))
	assert.NoError(t, ValidateOutputPath("out.jsonl"))
	assert.Error(t, ValidateOutputPath("/proc/self/out.jsonl"))
}
