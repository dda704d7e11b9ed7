package claude

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/cachemanager"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/config"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
)

// Environment variables consulted during discovery, in the order tried.
const (
	EnvClaudePath  = "CLAUDE_PATH"
	EnvClaudeCLI   = "CLAUDE_CLI_PATH"
	EnvDockerImage = "CLAUDE_DOCKER_IMAGE"
	EnvDockerCmd   = "CLAUDE_DOCKER_CMD"
)

// verifyTimeout bounds a single --version identity probe.
const verifyTimeout = 15 * time.Second

// memoryCacheKey is the single key used in the in-process invocation cache.
const memoryCacheKey = "claude-invocation"

// CommandFactoryFunc creates an exec.Cmd. Tests inject this to avoid
// spawning real processes.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Locator discovers a runnable claude invocation across heterogeneous
// install methods and caches the result for 24 hours.
type Locator struct {
	configPath     string // explicit override from config (claude.path)
	dockerImage    string // from config (claude.docker_image)
	store          *recordStore
	memory         cachemanager.CacheManager[string, string]
	readThrough    *cachemanager.ReadThroughCache[string, string, struct{}]
	commandFactory CommandFactoryFunc
	now            func() time.Time
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithConfigPath sets the explicit invocation override from configuration.
func WithConfigPath(path string) LocatorOption {
	return func(l *Locator) { l.configPath = path }
}

// WithDockerImage sets the containerized-runtime image from configuration.
func WithDockerImage(image string) LocatorOption {
	return func(l *Locator) { l.dockerImage = image }
}

// WithCacheDir overrides the persisted record directory. Tests use this.
func WithCacheDir(dir string) LocatorOption {
	return func(l *Locator) { l.store = newRecordStore(dir) }
}

// WithCommandFactory sets a custom command factory for testing.
func WithCommandFactory(fn CommandFactoryFunc) LocatorOption {
	return func(l *Locator) { l.commandFactory = fn }
}

// WithClock overrides the time source. Tests use this to age the cache.
func WithClock(now func() time.Time) LocatorOption {
	return func(l *Locator) { l.now = now }
}

// NewLocator creates a Locator with the given options.
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		store:          newRecordStore(config.Dir()),
		commandFactory: exec.CommandContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.memory = cachemanager.NewInMemoryCacheManager[string, string](
		"claude-locator", pathRecordTTL, cachemanager.DefaultCleanupInterval)
	l.readThrough = cachemanager.NewReadThroughCache[string, string, struct{}](
		l.memory,
		func(ctx context.Context, _ struct{}) (string, error) { return l.resolve(ctx) },
		false,
	)
	return l
}

// Resolve returns a verified claude invocation string. Results are served
// from the in-process cache, then the persisted 24h record, then a full
// discovery pass. Discovery failure is not retried internally; a later call
// runs discovery again.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	return l.readThrough.Get(ctx, memoryCacheKey, struct{}{}, pathRecordTTL)
}

// Invalidate drops the in-process cache entry, forcing the next Resolve to
// consult the persisted record or re-discover.
func (l *Locator) Invalidate(ctx context.Context) {
	_ = l.memory.Delete(ctx, memoryCacheKey)
}

// resolve checks the persisted record, then runs the discovery order.
func (l *Locator) resolve(ctx context.Context) (string, error) {
	now := l.now()
	if rec, ok := l.store.load(now); ok {
		log.Debug(log.CatLocator, "using cached invocation", "invocation", rec.Path)
		return rec.Path, nil
	}

	invocation, attempted := l.discover(ctx)
	if invocation == "" {
		return "", &DiscoveryError{Attempted: attempted}
	}

	if err := l.store.store(invocation, now); err != nil {
		// A write failure only costs a re-discovery on restart.
		log.Warn(log.CatLocator, "failed to persist path record", "error", err)
	}
	log.Info(log.CatLocator, "claude executable discovered", "invocation", invocation)
	return invocation, nil
}

// discover runs the resolution order, stopping at the first candidate that
// passes identity verification. It returns the winning invocation and the
// list of attempted strategies (for DiscoveryError).
func (l *Locator) discover(ctx context.Context) (string, []string) {
	var attempted []string
	try := func(strategy, candidate string) bool {
		if candidate == "" {
			return false
		}
		attempted = append(attempted, fmt.Sprintf("%s (%s)", strategy, candidate))
		if l.verify(ctx, candidate) {
			log.Debug(log.CatLocator, "candidate verified", "strategy", strategy, "invocation", candidate)
			return true
		}
		log.Debug(log.CatLocator, "candidate rejected", "strategy", strategy, "invocation", candidate)
		return false
	}

	// 1. Explicit environment overrides.
	if c := os.Getenv(EnvClaudePath); try(EnvClaudePath+" env var", c) {
		return c, attempted
	}
	if c := os.Getenv(EnvClaudeCLI); try(EnvClaudeCLI+" env var", c) {
		return c, attempted
	}

	// 2. Explicit configuration override.
	if try("claude.path config value", l.configPath) {
		return l.configPath, attempted
	}

	// 3. Shell-based resolution.
	if c := l.loginShellLookup(ctx); try("login shell alias lookup", c) {
		return c, attempted
	}
	if path, err := exec.LookPath("claude"); err == nil && try("PATH lookup", path) {
		return path, attempted
	} else if err != nil {
		attempted = append(attempted, "PATH lookup (claude not on PATH)")
	}
	if c := l.dockerInvocation(); try("docker run probe", c) {
		return c, attempted
	}
	if runtime.GOOS == "windows" {
		if c := l.whereLookup(ctx); try("where.exe lookup", c) {
			return c, attempted
		}
	}

	// 4. Final pass over environment-derived fallbacks, each independently
	// verified. These catch values that exist but failed earlier for
	// transient reasons, plus the secondary docker override.
	if c := os.Getenv(EnvClaudePath); try(EnvClaudePath+" fallback", c) {
		return c, attempted
	}
	if img := os.Getenv(EnvDockerImage); img != "" {
		c := "docker run --rm -i " + img
		if try(EnvDockerImage+" fallback", c) {
			return c, attempted
		}
	}
	if c := os.Getenv(EnvDockerCmd); try(EnvDockerCmd+" fallback", c) {
		return c, attempted
	}

	return "", attempted
}

// verify runs the candidate with --version and checks stdout+stderr for the
// vendor identity marker. A candidate that cannot prove it is the claude
// CLI is rejected.
func (l *Locator) verify(ctx context.Context, invocation string) bool {
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	cmd := l.commandFactory(vctx, "sh", "-c", invocation+" --version")
	out, err := cmd.CombinedOutput()
	if err != nil && len(out) == 0 {
		// Retry with --help; some wrapper scripts reject --version.
		cmd = l.commandFactory(vctx, "sh", "-c", invocation+" --help")
		out, err = cmd.CombinedOutput()
		if err != nil && len(out) == 0 {
			return false
		}
	}
	marker := strings.ToLower(string(out))
	return strings.Contains(marker, "claude") || strings.Contains(marker, "anthropic")
}

// loginShellLookup resolves claude through an interactive login shell so
// user aliases and rc-file PATH entries are honored.
func (l *Locator) loginShellLookup(ctx context.Context) string {
	if runtime.GOOS == "windows" {
		return ""
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	// Interactive shells can block in rc files waiting on a tty; bound the
	// probe like every other discovery step.
	lctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	cmd := l.commandFactory(lctx, shell, "-i", "-l", "-c", "which claude")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	// Interactive shells may print rc-file noise before the path.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" || strings.Contains(last, "not found") {
		return ""
	}
	return last
}

// dockerInvocation builds a containerized-run invocation from config or env.
func (l *Locator) dockerInvocation() string {
	image := l.dockerImage
	if image == "" {
		image = os.Getenv(EnvDockerImage)
	}
	if image == "" {
		return ""
	}
	return "docker run --rm -i " + image
}

// whereLookup is the OS-specific lookup on Windows.
func (l *Locator) whereLookup(ctx context.Context) string {
	wctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	cmd := l.commandFactory(wctx, "where", "claude")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[0])
}
