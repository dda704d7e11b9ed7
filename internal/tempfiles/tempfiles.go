// Package tempfiles writes prompt payloads to temporary files and guarantees
// their removal exactly once across every exit path of a consumer.
package tempfiles

import (
	"fmt"
	"os"
	"sync"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
)

// Service creates and removes temporary prompt files.
type Service struct {
	// Dir overrides the OS temp directory when non-empty. Tests use this.
	Dir string
}

// NewService returns a Service writing under the OS temp directory.
func NewService() *Service {
	return &Service{}
}

// Create writes content to a fresh temp file and returns its path.
func (s *Service) Create(content string) (string, error) {
	f, err := os.CreateTemp(s.Dir, "claude-wrapper-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	log.Debug(log.CatExec, "temp file created", "path", f.Name(), "bytes", len(content))
	return f.Name(), nil
}

// Cleanup removes the file at path. Missing files are not an error.
func (s *Service) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn(log.CatExec, "temp file cleanup failed", "path", path, "error", err)
		return
	}
	log.Debug(log.CatExec, "temp file removed", "path", path)
}

// CleanupFunc returns an idempotent cleanup closure for path. The returned
// function may be registered on several exit paths (stream end, stream
// error, consumer close) and removes the file exactly once.
func (s *Service) CleanupFunc(path string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.Cleanup(path) })
	}
}
