package claude

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tempfiles"
)

// seedLocator returns a Locator whose persisted record already holds the
// given invocation, so Resolve never runs discovery or verification.
func seedLocator(t *testing.T, invocation string) *Locator {
	t.Helper()
	dir := t.TempDir()
	store := newRecordStore(dir)
	require.NoError(t, store.store(invocation, time.Now()))
	return NewLocator(WithCacheDir(dir))
}

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestBuildFlags(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		streaming bool
		skipPerms bool
		expected  []string
	}{
		{
			name:     "minimal request",
			req:      Request{Prompt: "Hello"},
			expected: []string{"--print"},
		},
		{
			name:     "structured output",
			req:      Request{Prompt: "Hello", Structured: true},
			expected: []string{"--print", "--output-format", "json"},
		},
		{
			name:      "streaming overrides structured",
			req:       Request{Prompt: "Hello", Structured: true},
			streaming: true,
			expected:  []string{"--print", "--output-format", "stream-json", "--verbose"},
		},
		{
			name:     "with model",
			req:      Request{Prompt: "Hello", Model: "opus"},
			expected: []string{"--print", "--model", "opus"},
		},
		{
			name:     "with session resume",
			req:      Request{Prompt: "Continue", SessionID: "sess-123"},
			expected: []string{"--print", "--resume", "sess-123"},
		},
		{
			name:      "with skip permissions",
			req:       Request{Prompt: "Hello"},
			skipPerms: true,
			expected:  []string{"--print", "--dangerously-skip-permissions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(nil, tempfiles.NewService(), ExecutorConfig{SkipPermissions: tt.skipPerms})
			require.Equal(t, tt.expected, e.buildFlags(tt.req, tt.streaming))
		})
	}
}

func TestComposeCommandLine_PromptAtBoundary_UsesDirectArgument(t *testing.T) {
	tmpDir := t.TempDir()
	e := NewExecutor(nil, &tempfiles.Service{Dir: tmpDir}, ExecutorConfig{})

	prompt := strings.Repeat("a", MaxDirectPromptBytes)
	cmdline, cleanup, err := e.composeCommandLine("claude", Request{Prompt: prompt}, false)
	require.NoError(t, err)
	defer cleanup()

	require.True(t, strings.HasPrefix(cmdline, "claude --print -- '"))
	require.Contains(t, cmdline, prompt)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "direct strategy must not create temp files")
}

func TestComposeCommandLine_PromptOverBoundary_UsesPipedInput(t *testing.T) {
	tmpDir := t.TempDir()
	e := NewExecutor(nil, &tempfiles.Service{Dir: tmpDir}, ExecutorConfig{})

	prompt := strings.Repeat("a", MaxDirectPromptBytes+1)
	cmdline, cleanup, err := e.composeCommandLine("claude", Request{Prompt: prompt}, false)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(cmdline, "cat '"))
	require.Contains(t, cmdline, "| claude --print")

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "piped strategy writes exactly one temp file")

	content, err := os.ReadFile(filepath.Join(tmpDir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, prompt, string(content))

	cleanup()
	entries, err = os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "cleanup removes the executor-owned temp file")
}

func TestComposeCommandLine_PromptFile_ForcesPipedInput(t *testing.T) {
	tmpDir := t.TempDir()
	e := NewExecutor(nil, &tempfiles.Service{Dir: tmpDir}, ExecutorConfig{})

	file := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(file, []byte("small"), 0o600))

	cmdline, cleanup, err := e.composeCommandLine("claude", Request{PromptFile: file}, false)
	require.NoError(t, err)
	defer cleanup()

	require.True(t, strings.HasPrefix(cmdline, "cat '"+file+"'"))

	// Caller-provided files are never removed by the executor.
	cleanup()
	_, statErr := os.Stat(file)
	require.NoError(t, statErr)
}

func TestComposeCommandLine_DockerInvocation_MountsPromptFile(t *testing.T) {
	tmpDir := t.TempDir()
	e := NewExecutor(nil, &tempfiles.Service{Dir: tmpDir}, ExecutorConfig{})

	prompt := strings.Repeat("a", MaxDirectPromptBytes+1)
	cmdline, cleanup, err := e.composeCommandLine("docker run --rm -i my/claude", Request{Prompt: prompt}, false)
	require.NoError(t, err)
	defer cleanup()

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	file := filepath.Join(tmpDir, entries[0].Name())

	require.Contains(t, cmdline, "-v "+file+":"+file+":ro")
	require.Contains(t, cmdline, "--rm -i my/claude")
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "plain", in: "hello", expected: "'hello'"},
		{name: "spaces", in: "hello world", expected: "'hello world'"},
		{name: "single quote", in: "it's", expected: `'it'\''s'`},
		{name: "empty", in: "", expected: "''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, shellQuote(tt.in))
		})
	}
}

// TestShellQuote_SurvivesShell round-trips arbitrary prompts through a real
// shell and checks they arrive verbatim.
func TestShellQuote_SurvivesShell(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[ -~\n\t]{0,200}`).Draw(t, "prompt")
		cmd := exec.Command("sh", "-c", "printf %s "+shellQuote(s))
		out, err := cmd.Output()
		if err != nil {
			t.Fatalf("shell rejected quoted string %q: %v", s, err)
		}
		if string(out) != s {
			t.Fatalf("round-trip mismatch: in %q out %q", s, string(out))
		}
	})
}

func TestSpliceFlags(t *testing.T) {
	tests := []struct {
		name       string
		invocation string
		flags      string
		expected   string
	}{
		{
			name:       "plain binary appends",
			invocation: "/usr/bin/claude",
			flags:      "--print --model opus",
			expected:   "/usr/bin/claude --print --model opus",
		},
		{
			name:       "docker invocation appends",
			invocation: "docker run --rm -i img",
			flags:      "--print",
			expected:   "docker run --rm -i img --print",
		},
		{
			name:       "aliased shell wrapper splices inside",
			invocation: "zsh -i -c claude",
			flags:      "--print",
			expected:   "zsh -i -c 'claude --print'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, spliceFlags(tt.invocation, tt.flags))
		})
	}
}

func TestExecute_SmallPrompt_PassesPromptAsArgument(t *testing.T) {
	script := writeScript(t, `printf '%s\n' "$@"`)
	e := NewExecutor(seedLocator(t, script), tempfiles.NewService(), ExecutorConfig{})

	res, err := e.Execute(context.Background(), Request{Prompt: "hello world"})
	require.NoError(t, err)
	require.Contains(t, res.Output, "--print")
	require.Contains(t, res.Output, "hello world")
}

func TestExecute_LargePrompt_PipesThroughStdin(t *testing.T) {
	script := writeScript(t, `cat`)
	tmpDir := t.TempDir()
	e := NewExecutor(seedLocator(t, script), &tempfiles.Service{Dir: tmpDir}, ExecutorConfig{})

	prompt := strings.Repeat("x", MaxDirectPromptBytes+1)
	res, err := e.Execute(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)
	require.Equal(t, prompt, res.Output)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp file removed after synchronous execution")
}

func TestExecute_Timeout_ReturnsErrTimeout(t *testing.T) {
	e := NewExecutor(seedLocator(t, "sleep 5 && echo"), tempfiles.NewService(), ExecutorConfig{
		Timeout: 100 * time.Millisecond,
	})

	_, err := e.Execute(context.Background(), Request{Prompt: "hi"})
	require.ErrorIs(t, err, ErrTimeout)
	require.Contains(t, err.Error(), "100ms")
}

func TestExecute_NonZeroExit_ReturnsCliErrorWithStderr(t *testing.T) {
	script := writeScript(t, `echo "partial" ; echo "boom" >&2 ; exit 3`)
	e := NewExecutor(seedLocator(t, script), tempfiles.NewService(), ExecutorConfig{})

	_, err := e.Execute(context.Background(), Request{Prompt: "hi"})
	var cliErr *CliError
	require.ErrorAs(t, err, &cliErr)
	require.Equal(t, 3, cliErr.ExitCode)
	require.Contains(t, cliErr.Stderr, "boom")
	require.Contains(t, cliErr.Stdout, "partial")
}

func TestExecute_OutputOverLimit_Truncates(t *testing.T) {
	script := writeScript(t, `printf '%01000d' 7`)
	e := NewExecutor(seedLocator(t, script), tempfiles.NewService(), ExecutorConfig{
		MaxOutputBytes: 64,
	})

	res, err := e.Execute(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, res.Output, 64)
}

func TestStrategyName(t *testing.T) {
	require.Equal(t, "direct-argument", strategyName(Request{Prompt: strings.Repeat("a", MaxDirectPromptBytes)}))
	require.Equal(t, "piped-input", strategyName(Request{Prompt: strings.Repeat("a", MaxDirectPromptBytes+1)}))
	require.Equal(t, "piped-input", strategyName(Request{PromptFile: "/tmp/p.txt"}))
}

// TestStrategySelection_BoundaryProperty checks the strategy flips exactly
// at the size boundary for arbitrary prompt lengths.
func TestStrategySelection_BoundaryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, MaxDirectPromptBytes*2).Draw(t, "promptLen")
		req := Request{Prompt: strings.Repeat("a", n)}
		want := "direct-argument"
		if n > MaxDirectPromptBytes {
			want = "piped-input"
		}
		if got := strategyName(req); got != want {
			t.Fatalf("prompt of %d bytes: got %s want %s", n, got, want)
		}
	})
}

func TestBoundedBuffer_StopsAtLimit(t *testing.T) {
	b := newBoundedBuffer(5)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.False(t, b.Truncated())

	// Writes past the limit still report full success so the process
	// keeps running instead of dying on a pipe error.
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, b.Truncated())
	require.Equal(t, "abcde", b.String())
}
