package envvars_test

import (
	"testing"

	"github.com/sourceplane/msrun/internal/envvars"
	"github.com/stretchr/testify/assert"
)

func TestReplaceMacro(t *testing.T) {
	vars := map[string]string{
		"CONFIG":      "Release",
		"BUILD_ID":    "42",
		"dotted.name": "x",
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no reference", "/nologo", "/nologo"},
		{"simple", "bin/$CONFIG/Tests.dll", "bin/Release/Tests.dll"},
		{"braced", "${CONFIG}_${BUILD_ID}", "Release_42"},
		{"braced with dot", "${dotted.name}", "x"},
		{"unknown kept", "$MISSING/${ALSO_MISSING}", "$MISSING/${ALSO_MISSING}"},
		{"dollar alone", "cost $ 5", "cost $ 5"},
		{"adjacent", "$BUILD_ID$BUILD_ID", "4242"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, envvars.ReplaceMacro(tt.input, envvars.MapLookup(vars)))
		})
	}
}

func TestReplaceMacro_TwoPasses(t *testing.T) {
	env := envvars.EnvVars{"CONFIG": "Debug", "SHARED": "from-env"}
	vars := map[string]string{"FILTER": "Smoke", "SHARED": "from-vars"}

	in := "/detail:$CONFIG /x:$FILTER /y:$SHARED"
	out := envvars.ReplaceMacro(env.Expand(in), envvars.MapLookup(vars))

	// The environment pass resolves SHARED first, so the variables pass has
	// nothing left to override there.
	assert.Equal(t, "/detail:Debug /x:Smoke /y:from-env", out)

	onlyVars := envvars.ReplaceMacro(envvars.EnvVars{}.Expand("$SHARED"), envvars.MapLookup(vars))
	assert.Equal(t, "from-vars", onlyVars)
}

func TestEnvVars_LookupIgnoresCase(t *testing.T) {
	env := envvars.EnvVars{"ProgramFiles": `C:\Program Files`}

	v, ok := env.Lookup("PROGRAMFILES")
	assert.True(t, ok)
	assert.Equal(t, `C:\Program Files`, v)

	_, ok = env.Lookup("missing")
	assert.False(t, ok)
}

func TestEnvVars_ExpandPath(t *testing.T) {
	env := envvars.EnvVars{
		"VSINSTALLDIR": `C:\VS`,
		"TOOLS":        "/opt/tools",
	}

	assert.Equal(t, `C:\VS\Common7\IDE\mstest.exe`, env.ExpandPath(`%VSINSTALLDIR%\Common7\IDE\mstest.exe`))
	assert.Equal(t, "/opt/tools/mstest", env.ExpandPath("$TOOLS/mstest"))
	assert.Equal(t, `%UNKNOWN%\mstest.exe`, env.ExpandPath(`%UNKNOWN%\mstest.exe`))
	assert.Equal(t, "/opt/tools/mstest", env.Expand("${TOOLS}/mstest"))
	assert.Equal(t, `%VSINSTALLDIR%`, env.Expand(`%VSINSTALLDIR%`))
}

func TestFromEnvironAndSlice(t *testing.T) {
	env := envvars.FromEnviron([]string{"B=2", "A=1", "EMPTY=", "broken", "=skip", "EQ=a=b"})

	assert.Equal(t, envvars.EnvVars{"A": "1", "B": "2", "EMPTY": "", "EQ": "a=b"}, env)
	assert.Equal(t, []string{"A=1", "B=2", "EMPTY=", "EQ=a=b"}, env.Slice())
}

func TestOverlay(t *testing.T) {
	base := envvars.EnvVars{"Path": "/usr/bin", "HOME": "/root"}
	out := base.Overlay(map[string]string{"PATH": "/opt/bin", "WORKSPACE": "/ws"})

	assert.Equal(t, envvars.EnvVars{"PATH": "/opt/bin", "HOME": "/root", "WORKSPACE": "/ws"}, out)
	assert.Equal(t, "/usr/bin", base["Path"], "overlay must not modify the receiver")
}
