package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/msrun/internal/node"
)

const sampleConfig = `registry: /srv/msrun/installations.yaml
nodes:
  - name: win-agent
    type: ssh
    os: windows
    target: builder@win-agent:2222
    toolLocations:
      VS2019: 'C:\VS\MSTest.exe'
    pathMappings:
      - from: /opt/vs
        to: 'D:\vs'
run:
  tool: VS2019
  testFiles: Tests.dll
  resultFile: results.trx
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRead_ExplicitPath(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	v := New()
	used, err := Read(v, path)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "/srv/msrun/installations.yaml", cfg.RegistryPath())
	assert.Equal(t, "VS2019", cfg.Run.ToolName)
	assert.Equal(t, "Tests.dll", cfg.Run.TestFiles)
	assert.Equal(t, "results.trx", cfg.Run.ResultFile)

	n, err := cfg.Node("win-agent")
	require.NoError(t, err)
	assert.Equal(t, node.TypeSSH, n.Type)
	assert.Equal(t, "builder@win-agent:2222", n.Target)
	require.Len(t, n.PathMappings, 1)
	assert.Equal(t, `D:\vs`, n.PathMappings[0].To)

	home, err := node.NewSSH(n).TranslateToolHome(testContext(t), "VS2019", "/opt/vs/mstest")
	require.NoError(t, err)
	assert.Equal(t, `C:\VS\MSTest.exe`, home)
}

func TestRead_ExplicitPathMissing(t *testing.T) {
	_, err := Read(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestRead_SearchesHome(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "run:\n  resultFile: from-home.trx\n")
	t.Setenv("MSRUN_HOME", home)

	v := New()
	used, err := Read(v, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "msrun.yaml"), used)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "from-home.trx", cfg.Run.ResultFile)
}

func TestRead_NoConfigFile(t *testing.T) {
	t.Setenv("MSRUN_HOME", t.TempDir())
	chdir(t, t.TempDir())

	v := New()
	used, err := Read(v, "")
	require.NoError(t, err)
	assert.Empty(t, used)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Empty(t, cfg.Nodes)
	assert.Equal(t, filepath.Join(os.Getenv("MSRUN_HOME"), "installations.yaml"), cfg.RegistryPath())
}

func TestDecode_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MSRUN_RUN_CATEGORIES", "Smoke")
	path := writeConfig(t, t.TempDir(), sampleConfig)

	v := New()
	_, err := Read(v, path)
	require.NoError(t, err)

	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "Smoke", cfg.Run.Categories)
}

func TestDecode_NodeWithoutName(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "nodes:\n  - type: local\n")

	v := New()
	_, err := Read(v, path)
	require.NoError(t, err)

	_, err = Decode(v)
	assert.ErrorContains(t, err, "name is required")
}

func TestConfig_Node(t *testing.T) {
	cfg := &Config{Nodes: []node.Config{{Name: "agent", Type: node.TypeSSH, Target: "agent"}}}

	n, err := cfg.Node("")
	require.NoError(t, err)
	assert.Equal(t, node.TypeLocal, n.Type)

	n, err = cfg.Node("local")
	require.NoError(t, err)
	assert.Equal(t, node.TypeLocal, n.Name)

	_, err = cfg.Node("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// chdir is a Go 1.21-compatible stand-in for testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}

// testContext is a Go 1.21-compatible stand-in for testing.T.Context (Go 1.24+).
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
