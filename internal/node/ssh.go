package node

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sourceplane/msrun/internal/envvars"
)

const defaultSSHPort = 22

var targetRegexp = regexp.MustCompile("^([^@]+@)?([^@]+)$")

// SSH is a remote node reached over SSH. The connection is opened on first
// use and reused until Close.
type SSH struct {
	cfg Config

	mu     sync.Mutex
	client *ssh.Client
	env    envvars.EnvVars
}

// NewSSH creates an SSH node without connecting.
func NewSSH(cfg Config) *SSH {
	return &SSH{cfg: cfg}
}

func (n *SSH) Name() string { return n.cfg.Name }

func (n *SSH) IsUnix() bool { return n.cfg.isUnix() }

// Close closes the underlying connection, if any.
func (n *SSH) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		return nil
	}
	err := n.client.Close()
	n.client = nil
	return err
}

func (n *SSH) Environment(ctx context.Context) (envvars.EnvVars, error) {
	n.mu.Lock()
	cached := n.env
	n.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	cmd := "env"
	if !n.IsUnix() {
		cmd = "set"
	}
	var out bytes.Buffer
	code, err := n.run(ctx, cmd, &out)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("%s: %q exited with %d", n.cfg.Name, cmd, code)
	}

	var lines []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	env := envvars.FromEnviron(lines)

	n.mu.Lock()
	n.env = env
	n.mu.Unlock()
	return env, nil
}

func (n *SSH) TranslateToolHome(ctx context.Context, tool, home string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return n.cfg.translateToolHome(tool, home), nil
}

func (n *SSH) Exists(ctx context.Context, path string) (bool, error) {
	var cmd string
	if n.IsUnix() {
		cmd = "test -e " + shellquote.Join(path)
	} else {
		cmd = "if exist " + winQuote(path) + " (exit 0) else (exit 1)"
	}

	code, err := n.run(ctx, cmd, io.Discard)
	if err != nil {
		return false, err
	}
	switch code {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("%s: existence check for %s exited with %d", n.cfg.Name, path, code)
	}
}

func (n *SSH) Delete(ctx context.Context, path string) error {
	var cmd string
	if n.IsUnix() {
		cmd = "rm -f " + shellquote.Join(path)
	} else {
		cmd = "del /f /q " + winQuote(path)
	}

	var out bytes.Buffer
	code, err := n.run(ctx, cmd, &out)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s: deleting %s exited with %d: %s", n.cfg.Name, path, code, strings.TrimSpace(out.String()))
	}
	return nil
}

// Launch runs p on the remote node. Only variables whose value differs from
// the node's own environment are exported to the process.
func (n *SSH) Launch(ctx context.Context, p Proc) (int, error) {
	if len(p.Args) == 0 {
		return -1, errors.New("empty command")
	}

	base, err := n.Environment(ctx)
	if err != nil {
		return -1, fmt.Errorf("failed to read environment of %s: %w", n.cfg.Name, err)
	}
	var exports []string
	for _, kv := range p.Env.Slice() {
		k, v, _ := strings.Cut(kv, "=")
		if cur, ok := base.Lookup(k); ok && cur == v {
			continue
		}
		exports = append(exports, k+"="+v)
	}

	return n.run(ctx, n.remoteCommand(p, exports), p.Stdout)
}

func (n *SSH) remoteCommand(p Proc, exports []string) string {
	var parts []string
	if n.IsUnix() {
		if p.Dir != "" {
			parts = append(parts, "cd "+shellquote.Join(p.Dir)+" &&")
		}
		parts = append(parts, "exec")
		if len(exports) > 0 {
			parts = append(parts, "env", shellquote.Join(exports...))
		}
		parts = append(parts, shellquote.Join(p.Args...))
		return strings.Join(parts, " ")
	}

	if p.Dir != "" {
		parts = append(parts, "cd /d "+winQuote(p.Dir))
	}
	for _, kv := range exports {
		parts = append(parts, `set "`+kv+`"`)
	}
	quoted := make([]string, len(p.Args))
	for i, a := range p.Args {
		// Operators of the exit code wrapper must reach cmd.exe unquoted.
		if a == "&&" {
			quoted[i] = a
			continue
		}
		quoted[i] = winQuote(a)
	}
	parts = append(parts, strings.Join(quoted, " "))
	return strings.Join(parts, " && ")
}

// run executes command in a new session, streaming combined output to w.
func (n *SSH) run(ctx context.Context, command string, w io.Writer) (int, error) {
	client, err := n.connect(ctx)
	if err != nil {
		return -1, err
	}

	session, err := client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to open session on %s: %w", n.cfg.Name, err)
	}
	defer session.Close()

	if w == nil {
		w = io.Discard
	}
	out := &lockedWriter{w: w}
	session.Stdout = out
	session.Stderr = out

	if err := session.Start(command); err != nil {
		return -1, fmt.Errorf("failed to start command on %s: %w", n.cfg.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		return -1, ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		if err != nil {
			return -1, fmt.Errorf("command on %s failed: %w", n.cfg.Name, err)
		}
		return 0, nil
	}
}

func (n *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}

	user, hostPort, err := parseTarget(n.cfg.Target, n.cfg.User)
	if err != nil {
		return nil, err
	}
	auth, err := authMethods(n.cfg)
	if err != nil {
		return nil, err
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if n.cfg.KnownHosts != "" {
		if hostKeyCallback, err = knownhosts.New(n.cfg.KnownHosts); err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", n.cfg.KnownHosts, err)
		}
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", hostPort, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", hostPort, err)
	}
	n.client = ssh.NewClient(c, chans, reqs)
	return n.client, nil
}

// parseTarget splits "[user@]host[:port]", filling in the port and falling
// back to defaultUser, then $USER, for the user name.
func parseTarget(target, defaultUser string) (user, hostPort string, err error) {
	m := targetRegexp.FindStringSubmatch(target)
	if m == nil {
		return "", "", fmt.Errorf("couldn't parse %q as \"[user@]hostname[:port]\"", target)
	}

	user = defaultUser
	if m[1] != "" {
		user = m[1][:len(m[1])-1]
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	if _, _, err := net.SplitHostPort(m[2]); err != nil {
		return user, net.JoinHostPort(m[2], strconv.Itoa(defaultSSHPort)), nil
	}
	return user, m[2], nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		k, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key %s: %w", cfg.KeyFile, err)
		}
		s, err := ssh.ParsePrivateKey(k)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(s))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if a, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(a).Signers))
		}
	}

	return methods, nil
}

func winQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"&|<>^()") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
