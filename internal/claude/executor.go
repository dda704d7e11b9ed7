package claude

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/config"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tempfiles"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tracing"
)

// MaxDirectPromptBytes is the strategy boundary: prompts above this size are
// delivered through a temp-file pipeline instead of a shell argument, which
// sidesteps OS argument-length limits and shell-escaping pitfalls.
const MaxDirectPromptBytes = 50 * 1024

// Request describes one invocation of the claude CLI.
type Request struct {
	Prompt string
	Model  string

	// SessionID resumes a native session when non-empty (--resume).
	SessionID string

	// Structured requests machine-parseable output (--output-format json).
	// Streaming executions always use stream-json regardless of this field.
	Structured bool

	// PromptFile points at an already-written prompt file and forces the
	// piped-input strategy. The caller owns the file's lifecycle.
	PromptFile string
}

// Result is the outcome of a synchronous execution.
type Result struct {
	Output   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExecutorConfig holds execution settings.
type ExecutorConfig struct {
	Timeout         time.Duration
	MaxOutputBytes  int
	WorkDir         string
	SkipPermissions bool

	// CommandFactory overrides exec.CommandContext for tests.
	CommandFactory CommandFactoryFunc
}

// Executor builds and runs OS-level claude invocations, synchronous or
// streaming. One invocation spawns one process; there is no pooling.
type Executor struct {
	locator        *Locator
	tmp            *tempfiles.Service
	timeout        time.Duration
	maxOutput      int
	workDir        string
	skipPerms      bool
	commandFactory CommandFactoryFunc
}

// NewExecutor creates an Executor. Zero-value config fields fall back to
// the package defaults.
func NewExecutor(locator *Locator, tmp *tempfiles.Service, cfg ExecutorConfig) *Executor {
	e := &Executor{
		locator:        locator,
		tmp:            tmp,
		timeout:        cfg.Timeout,
		maxOutput:      cfg.MaxOutputBytes,
		workDir:        cfg.WorkDir,
		skipPerms:      cfg.SkipPermissions,
		commandFactory: cfg.CommandFactory,
	}
	if e.timeout <= 0 {
		e.timeout = config.DefaultTimeout
	}
	if e.maxOutput <= 0 {
		e.maxOutput = config.DefaultMaxOutputBytes
	}
	if e.commandFactory == nil {
		e.commandFactory = exec.CommandContext
	}
	return e
}

// Execute runs a synchronous invocation and returns its captured output.
// Timeouts surface as ErrTimeout; other failures as *CliError.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "claude.execute",
		attribute.String("model", req.Model),
		attribute.Bool("resume", req.SessionID != ""),
		attribute.Int("prompt_bytes", len(req.Prompt)),
	)
	defer span.End()

	invocation, err := e.locator.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	cmdline, cleanup, err := e.composeCommandLine(invocation, req, false)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// #nosec G204 -- cmdline is composed from the verified invocation and escaped prompt
	cmd := e.commandFactory(cctx, "sh", "-c", cmdline)
	cmd.Dir = e.workDir
	// Orphaned grandchildren holding the output pipes must not stall the
	// timeout path indefinitely.
	cmd.WaitDelay = time.Second

	stdout := newBoundedBuffer(e.maxOutput)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	log.Debug(log.CatExec, "running claude", "strategy", strategyName(req), "model", req.Model, "resume", req.SessionID != "")

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		tracing.RecordError(span, ErrTimeout)
		return nil, fmt.Errorf("execution exceeded %s: %w", e.timeout, ErrTimeout)
	}
	if runErr != nil {
		cliErr := &CliError{
			Op:       "execute",
			ExitCode: exitCode(runErr),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      runErr,
		}
		tracing.RecordError(span, cliErr)
		return nil, cliErr
	}

	if stderr.Len() > 0 {
		// Non-empty stderr on success is diagnostic noise, not a failure.
		log.Warn(log.CatExec, "claude wrote to stderr on success", "stderr", strings.TrimSpace(stderr.String()))
	}
	if stdout.Truncated() {
		log.Warn(log.CatExec, "claude output truncated", "limit", e.maxOutput)
	}

	return &Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}

// IsFileInputSupported pipes a trivial string through the executable's help
// invocation and reports whether stdin piping appears functional. Advisory
// only: every failure path returns false rather than an error.
func (e *Executor) IsFileInputSupported(ctx context.Context) bool {
	invocation, err := e.locator.Resolve(ctx)
	if err != nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	cmd := e.commandFactory(pctx, "sh", "-c", "echo test | "+invocation+" --help")
	if err := cmd.Run(); err != nil {
		log.Debug(log.CatExec, "stdin probe failed", "error", err)
		return false
	}
	return true
}

// composeCommandLine picks the delivery strategy and returns the full shell
// command line plus a cleanup func for any executor-owned temp file.
func (e *Executor) composeCommandLine(invocation string, req Request, streaming bool) (string, func(), error) {
	flags := strings.Join(e.buildFlags(req, streaming), " ")
	cleanup := func() {}

	file := req.PromptFile
	if file == "" && len(req.Prompt) > MaxDirectPromptBytes {
		created, err := e.tmp.Create(req.Prompt)
		if err != nil {
			return "", cleanup, err
		}
		file = created
		cleanup = e.tmp.CleanupFunc(created)
	}

	if file != "" {
		return pipedCommand(invocation, flags, file), cleanup, nil
	}
	return directCommand(invocation, flags, req.Prompt), cleanup, nil
}

// buildFlags constructs the CLI flags for an invocation.
func (e *Executor) buildFlags(req Request, streaming bool) []string {
	flags := []string{"--print"}
	if req.Model != "" {
		flags = append(flags, "--model", req.Model)
	}
	if req.SessionID != "" {
		flags = append(flags, "--resume", req.SessionID)
	}
	switch {
	case streaming:
		flags = append(flags, "--output-format", "stream-json", "--verbose")
	case req.Structured:
		flags = append(flags, "--output-format", "json")
	}
	if e.skipPerms {
		flags = append(flags, "--dangerously-skip-permissions")
	}
	return flags
}

// directCommand passes the shell-escaped prompt as a literal argument.
func directCommand(invocation, flags, prompt string) string {
	return spliceFlags(invocation, flags+" -- "+shellQuote(prompt))
}

// pipedCommand streams the prompt file into the invocation. Containerized
// invocations get the file mounted read-only so the in-container process
// can see it.
func pipedCommand(invocation, flags, file string) string {
	if strings.HasPrefix(invocation, "docker run ") {
		mounted := "docker run -v " + file + ":" + file + ":ro " + strings.TrimPrefix(invocation, "docker run ")
		return "cat " + shellQuote(file) + " | " + spliceFlags(mounted, flags)
	}
	return "cat " + shellQuote(file) + " | " + spliceFlags(invocation, flags)
}

// shellWrapperRe matches invocations of the form "zsh -i -c claude" that
// came from an aliased-shell lookup.
var shellWrapperRe = regexp.MustCompile(`^(\S+)((?:\s+-\S+)*)\s+-c\s+(.+)$`)

// spliceFlags appends flags to an invocation, reaching inside aliased-shell
// wrapper forms so the flags land on the wrapped command rather than the
// shell itself.
func spliceFlags(invocation, flags string) string {
	if m := shellWrapperRe.FindStringSubmatch(invocation); m != nil {
		inner := strings.Trim(m[3], `'"`)
		return m[1] + m[2] + " -c " + shellQuote(inner+" "+flags)
	}
	return invocation + " " + flags
}

// shellQuote wraps s in single quotes, escaping embedded single quotes so
// the prompt survives the shell verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// strategyName reports which delivery strategy a request will use.
func strategyName(req Request) string {
	if req.PromptFile != "" || len(req.Prompt) > MaxDirectPromptBytes {
		return "piped-input"
	}
	return "direct-argument"
}

// exitCode extracts the process exit code from a run error.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// boundedBuffer captures at most max bytes, dropping the rest.
type boundedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.truncated = true
		b.buf.Write(p[:remaining])
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string { return b.buf.String() }

func (b *boundedBuffer) Truncated() bool { return b.truncated }
