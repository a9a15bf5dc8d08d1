package node

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/msrun/internal/envvars"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestLocal_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	n := NewLocal(Config{})
	path := filepath.Join(t.TempDir(), "old.trx")

	ok, err := n.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("<TestRun/>"), 0o644))
	ok, err = n.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, n.Delete(ctx, path))
	ok, err = n.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting a missing file is not an error
	assert.NoError(t, n.Delete(ctx, path))
}

func TestLocal_DeleteNonEmptyDirFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inner"), 0o755))

	assert.Error(t, NewLocal(Config{}).Delete(context.Background(), dir))
}

func TestLocal_Environment(t *testing.T) {
	t.Setenv("MSRUN_NODE_TEST", "yes")

	env, err := NewLocal(Config{}).Environment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "yes", env["MSRUN_NODE_TEST"])
}

func TestLocal_Launch(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("in workspace\n"), 0o644))
	n := NewLocal(Config{})

	tests := []struct {
		name     string
		script   string
		wantCode int
		wantOut  string
	}{
		{"success", `echo "$GREETING"; cat marker.txt`, 0, "hello\nin workspace\n"},
		{"failure", "echo failing >&2; exit 3", 3, "failing\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := n.Launch(context.Background(), Proc{
				Args:   []string{"/bin/sh", "-c", tt.script},
				Env:    envvars.EnvVars{"GREETING": "hello", "PATH": os.Getenv("PATH")},
				Dir:    dir,
				Stdout: &out,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestLocal_LaunchMissingExecutable(t *testing.T) {
	code, err := NewLocal(Config{}).Launch(context.Background(), Proc{
		Args: []string{"msrun-definitely-not-installed.exe"},
	})
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestLocal_LaunchCanceled(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal(Config{}).Launch(ctx, Proc{Args: []string{"/bin/sh", "-c", "sleep 5"}})
	assert.ErrorIs(t, err, context.Canceled)
}
