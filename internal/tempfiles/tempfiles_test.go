package tempfiles

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreate_WritesContent(t *testing.T) {
	s := &Service{Dir: t.TempDir()}

	path, err := s.Create("the prompt body")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "claude-wrapper-prompt-"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "the prompt body", string(data))
}

func TestCreate_UniquePaths(t *testing.T) {
	s := &Service{Dir: t.TempDir()}

	a, err := s.Create("a")
	require.NoError(t, err)
	b, err := s.Create("b")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCleanup_RemovesFile(t *testing.T) {
	s := &Service{Dir: t.TempDir()}
	path, err := s.Create("x")
	require.NoError(t, err)

	s.Cleanup(path)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCleanup_MissingFileIsNotAnError(t *testing.T) {
	s := &Service{Dir: t.TempDir()}
	require.NotPanics(t, func() {
		s.Cleanup(filepath.Join(s.Dir, "never-existed.txt"))
		s.Cleanup("")
	})
}

func TestCleanupFunc_RemovesExactlyOnce(t *testing.T) {
	s := &Service{Dir: t.TempDir()}
	path, err := s.Create("x")
	require.NoError(t, err)

	cleanup := s.CleanupFunc(path)

	cleanup()
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	// Recreate the path; a second call must not touch it.
	require.NoError(t, os.WriteFile(path, []byte("y"), 0o600))
	cleanup()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "y", string(data))
}

func TestCleanupFunc_ConcurrentCallsAreSafe(t *testing.T) {
	s := &Service{Dir: t.TempDir()}
	path, err := s.Create("x")
	require.NoError(t, err)

	cleanup := s.CleanupFunc(path)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleanup()
		}()
	}
	wg.Wait()

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}
