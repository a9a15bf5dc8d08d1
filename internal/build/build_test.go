package build_test

import (
	"bytes"
	"testing"

	"github.com/sourceplane/msrun/internal/build"
	"github.com/sourceplane/msrun/internal/envvars"
	"github.com/stretchr/testify/assert"
)

func TestBuild_Expand(t *testing.T) {
	b := &build.Build{
		Env:       envvars.EnvVars{"CONFIG": "Release", "BOTH": "env"},
		Variables: map[string]string{"SUITE": "Nightly", "BOTH": "var"},
	}

	assert.Equal(t, "bin/Release/Nightly.dll", b.Expand("bin/$CONFIG/${SUITE}.dll"))
	assert.Equal(t, "env", b.Expand("$BOTH"))
	assert.Equal(t, "$NOPE", b.Expand("$NOPE"))
}

func TestBuild_Path(t *testing.T) {
	tests := []struct {
		name      string
		workspace string
		p         string
		unix      bool
		want      string
	}{
		{"unix relative", "/ws", "out.trx", true, "/ws/out.trx"},
		{"unix trailing slash", "/ws/", "results/out.trx", true, "/ws/results/out.trx"},
		{"unix absolute", "/ws", "/tmp/out.trx", true, "/tmp/out.trx"},
		{"windows relative", `C:\ws`, "out.trx", false, `C:\ws\out.trx`},
		{"windows trailing sep", `C:\ws\`, "out.trx", false, `C:\ws\out.trx`},
		{"windows absolute drive", `C:\ws`, `D:\r\out.trx`, false, `D:\r\out.trx`},
		{"windows unc", `C:\ws`, `\\share\out.trx`, false, `\\share\out.trx`},
		{"no workspace", "", "out.trx", true, "out.trx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &build.Build{Workspace: tt.workspace}
			assert.Equal(t, tt.want, b.Path(tt.p, tt.unix))
		})
	}
}

func TestListener(t *testing.T) {
	var buf bytes.Buffer
	l := build.NewListener(&buf)

	l.Printf("Path To MSTest.exe: %s", "mstest.exe")
	l.FatalError("Result file name was not specified")
	_, _ = l.Writer().Write([]byte("raw output\n"))

	out := buf.String()
	assert.Contains(t, out, "Path To MSTest.exe: mstest.exe")
	assert.Contains(t, out, "ERRO")
	assert.Contains(t, out, "Result file name was not specified")
	assert.Contains(t, out, "raw output\n")
}
