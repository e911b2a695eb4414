package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureDirCreatesNestedPath(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "graph", "nested")

	require.NoError(t, EnsureDir(target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureDir(root))
	require.NoError(t, EnsureDir(root))
}
