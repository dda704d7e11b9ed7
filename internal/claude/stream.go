package claude

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tracing"
)

// ExecuteStreaming spawns the process and returns its stdout as a live byte
// stream. Stderr is drained and logged without terminating the stream.
// When the piped-input strategy is in play, the temp file is removed exactly
// once whether the stream ends normally, errors, or the consumer closes it
// early.
func (e *Executor) ExecuteStreaming(ctx context.Context, req Request) (io.ReadCloser, error) {
	ctx, span := tracing.StartSpan(ctx, "claude.execute_streaming",
		attribute.String("model", req.Model),
		attribute.Bool("resume", req.SessionID != ""),
	)
	defer span.End()

	invocation, err := e.locator.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	cmdline, cleanup, err := e.composeCommandLine(invocation, req, true)
	if err != nil {
		return nil, err
	}

	// The stream has no timeout; the consumer reads until the process
	// finishes or it stops caring. Context cancellation still kills it.
	// #nosec G204 -- cmdline is composed from the verified invocation and escaped prompt
	cmd := e.commandFactory(ctx, "sh", "-c", cmdline)
	cmd.Dir = e.workDir
	cmd.WaitDelay = time.Second

	// Explicit pipes instead of StdoutPipe/StderrPipe: Wait must not own
	// the read ends, or reaping the process would close them underneath a
	// consumer that has not finished draining, losing the buffered tail of
	// the stream.
	outR, outW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, &CliError{Op: "stream", ExitCode: -1, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		cleanup()
		return nil, &CliError{Op: "stream", ExitCode: -1, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		cleanup()
		return nil, &CliError{Op: "stream", ExitCode: -1, Err: err}
	}

	// The child holds its own copies now. With ours closed, the read ends
	// see EOF only once every writer is gone, grandchildren included.
	outW.Close()
	errW.Close()

	log.Debug(log.CatExec, "streaming claude started", "pid", cmd.Process.Pid, "strategy", strategyName(req))

	go drainStderr(errR)
	go func() {
		// Reap the process and release the temp file on both the normal
		// and the error exit path, even if the consumer abandoned the
		// stream. Wait holds no pipe ends, so reaping here cannot race
		// the consumer's reads.
		if waitErr := cmd.Wait(); waitErr != nil {
			log.Debug(log.CatExec, "streaming claude exited", "error", waitErr)
		}
		cleanup()
	}()

	return &streamReader{r: outR, cmd: cmd, cleanup: cleanup}, nil
}

// drainStderr logs stderr lines; they never terminate the stream.
func drainStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Warn(log.CatExec, "STDERR", "line", scanner.Text())
	}
}

// streamReader wraps the process stdout and ties temp-file cleanup to every
// exit path of the stream: EOF, read error, and consumer Close.
type streamReader struct {
	r       io.ReadCloser
	cmd     *exec.Cmd
	cleanup func()
}

func (s *streamReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil {
		// EOF and hard errors both release the temp file; cleanup is
		// idempotent so the reaper goroutine firing too is harmless.
		s.cleanup()
	}
	return n, err
}

func (s *streamReader) Close() error {
	err := s.r.Close()
	// The consumer stopped caring; nothing will read the process output
	// again. Killing an already-exited process is a harmless error.
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cleanup()
	return err
}
