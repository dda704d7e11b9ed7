package claude

import (
	"fmt"
	"strings"
)

// ErrTimeout is returned when a claude process exceeds its configured timeout.
var ErrTimeout = fmt.Errorf("claude process timed out")

// DiscoveryError is returned when no working claude executable is found.
// The message enumerates every attempted strategy and how to fix each one.
type DiscoveryError struct {
	// Attempted lists the strategies that were tried, in order.
	Attempted []string
}

func (e *DiscoveryError) Error() string {
	var sb strings.Builder
	sb.WriteString("claude executable not found; tried:\n")
	for _, a := range e.Attempted {
		sb.WriteString("  - ")
		sb.WriteString(a)
		sb.WriteString("\n")
	}
	sb.WriteString("remediation:\n")
	sb.WriteString("  - install the CLI: npm install -g @anthropic-ai/claude-code\n")
	sb.WriteString("  - or set CLAUDE_PATH / CLAUDE_CLI_PATH to the binary\n")
	sb.WriteString("  - or set CLAUDE_DOCKER_IMAGE to run it containerized\n")
	sb.WriteString("  - or set claude.path in the config file")
	return sb.String()
}

// CliError is returned when a claude invocation fails to spawn or exits
// non-zero. It carries captured output for diagnostics.
type CliError struct {
	Op       string // "execute", "stream", "verify"
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CliError) Error() string {
	msg := fmt.Sprintf("claude %s failed (exit %d)", e.Op, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CliError) Unwrap() error {
	return e.Err
}
