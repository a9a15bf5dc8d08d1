package node

import (
	"context"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	n, err := New(Config{Name: "agent"})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, n)
	assert.Equal(t, "agent", n.Name())

	n, err = New(Config{Name: "win", Type: "SSH", Target: "builder@win01", OS: "windows"})
	require.NoError(t, err)
	assert.IsType(t, &SSH{}, n)
	assert.False(t, n.IsUnix())

	_, err = New(Config{Name: "bad", Type: "ssh"})
	assert.ErrorIs(t, err, ErrNoTarget)

	_, err = New(Config{Name: "bad", Type: "winrm"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestConfig_IsUnix(t *testing.T) {
	assert.True(t, Config{Type: TypeSSH}.isUnix())
	assert.False(t, Config{Type: TypeSSH, OS: "Windows"}.isUnix())
	assert.True(t, Config{OS: OSUnix}.isUnix())
}

func TestTranslateToolHome(t *testing.T) {
	cfg := Config{
		Name: "win01",
		OS:   OSWindows,
		ToolLocations: map[string]string{
			"vs2019": `D:\VS2019\Common7\IDE\MSTest.exe`,
		},
		PathMappings: []PathMapping{
			{From: "", To: "ignored"},
			{From: "/mnt/tools", To: `T:\tools`},
			{From: "/mnt", To: `M:`},
		},
	}
	n := NewLocal(cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		home string
		want string
	}{
		{"pinned location wins", "vs2019", "/mnt/tools/vs/mstest.exe", `D:\VS2019\Common7\IDE\MSTest.exe`},
		{"first mapping applies", "vs2017", "/mnt/tools/vs2017/mstest.exe", `T:\tools\vs2017\mstest.exe`},
		{"shorter mapping", "vs2015", "/mnt/other/mstest.exe", `M:\other\mstest.exe`},
		{"untouched", "vs2015", `C:\VS\mstest.exe`, `C:\VS\mstest.exe`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.TranslateToolHome(ctx, tt.tool, tt.home)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateToolHome_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal(Config{}).TranslateToolHome(ctx, "t", "/x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseTarget(t *testing.T) {
	t.Setenv("USER", "fallback")

	tests := []struct {
		target, defaultUser string
		wantUser, wantHost  string
	}{
		{"host", "", "fallback", "host:22"},
		{"host", "builder", "builder", "host:22"},
		{"ci@host:2222", "builder", "ci", "host:2222"},
		{"10.0.0.5:22", "", "fallback", "10.0.0.5:22"},
	}
	for _, tt := range tests {
		user, host, err := parseTarget(tt.target, tt.defaultUser)
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.wantUser, user, tt.target)
		assert.Equal(t, tt.wantHost, host, tt.target)
	}

	_, _, err := parseTarget("a@b@c", "")
	assert.Error(t, err)
}

func TestWinQuote(t *testing.T) {
	assert.Equal(t, "/noisolation", winQuote("/noisolation"))
	assert.Equal(t, `"C:\Program Files\x.exe"`, winQuote(`C:\Program Files\x.exe`))
	assert.Equal(t, `"a""b"`, winQuote(`a"b`))
	assert.Equal(t, `""`, winQuote(""))
}

func TestSSH_RemoteCommand(t *testing.T) {
	p := Proc{
		Args: []string{"/opt/mstest", "/resultsfile:out file.trx"},
		Dir:  "/work space",
	}

	unix := NewSSH(Config{Target: "h"})
	words, err := shellquote.Split(unix.remoteCommand(p, []string{"BUILD_ID=7"}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cd", "/work space", "&&", "exec", "env", "BUILD_ID=7", "/opt/mstest", "/resultsfile:out file.trx",
	}, words)

	win := NewSSH(Config{Target: "h", OS: OSWindows})
	p = Proc{
		Args: []string{"cmd.exe", "/C", `C:\VS\mstest.exe`, "/noisolation", "&&", "exit", "%%ERRORLEVEL%%"},
		Dir:  `C:\ws`,
	}
	assert.Equal(t,
		`cd /d C:\ws && set "BUILD_ID=7" && cmd.exe /C C:\VS\mstest.exe /noisolation && exit %%ERRORLEVEL%%`,
		win.remoteCommand(p, []string{"BUILD_ID=7"}))
}
