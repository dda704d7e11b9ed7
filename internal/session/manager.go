// Package session avoids re-transmitting large system prompts by reusing
// the claude CLI's own native conversation sessions, keyed by a fingerprint
// of the system-prompt text.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/cachemanager"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/claude"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/envelope"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/flags"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tempfiles"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/tracing"
)

// fingerprintSeparator joins system-message contents before hashing.
// Byte-identical concatenations must map to the same fingerprint.
const fingerprintSeparator = "\n\n"

// Executor is the slice of the command executor this package needs.
type Executor interface {
	Execute(ctx context.Context, req claude.Request) (*claude.Result, error)
	ExecuteStreaming(ctx context.Context, req claude.Request) (io.ReadCloser, error)
}

// Entry records one ACTIVE native session. Its NativeSessionID is never
// mutated after creation, only reused.
type Entry struct {
	Fingerprint     string
	NativeSessionID string
	SystemPrompt    string
	LastUsedAt      time.Time
}

// CreationError is returned when structured output from the session-seeding
// invocation lacked a native session identifier. Creation cannot proceed
// silently without one.
type CreationError struct {
	Fingerprint string
	Output      string
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("session creation for fingerprint %s returned no native session id", e.Fingerprint)
}

// RunRequest is one conversation to execute.
type RunRequest struct {
	Messages []envelope.ChatMessage
	Model    string
}

// Manager owns the fingerprint table. Entries live for the process
// lifetime; there is no eviction. Concurrent first-use requests for the
// same fingerprint may each create a native session; the race is tolerated
// and the table keeps whichever entry landed last.
type Manager struct {
	exec  Executor
	tmp   *tempfiles.Service
	reg   *flags.Registry
	table cachemanager.CacheManager[string, Entry]
}

// NewManager creates a Manager around the given executor. reg may be nil,
// which disables session reuse entirely.
func NewManager(exec Executor, tmp *tempfiles.Service, reg *flags.Registry) *Manager {
	return &Manager{
		exec: exec,
		tmp:  tmp,
		reg:  reg,
		table: cachemanager.NewInMemoryCacheManager[string, Entry](
			"session-fingerprints", cachemanager.NoExpiration, cachemanager.DefaultCleanupInterval),
	}
}

// Fingerprint hashes the concatenated system-prompt text.
func Fingerprint(systemPrompts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(systemPrompts, fingerprintSeparator)))
	return hex.EncodeToString(sum[:])
}

// Run executes a conversation synchronously, creating or resuming a native
// session when system messages are present.
func (m *Manager) Run(ctx context.Context, req RunRequest) (*claude.Result, error) {
	execReq, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.exec.Execute(ctx, execReq)
}

// RunStreaming is Run with a live byte stream result. The fingerprint,
// lookup, create, and resume logic is identical; only the final executor
// call differs.
func (m *Manager) RunStreaming(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	execReq, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return m.exec.ExecuteStreaming(ctx, execReq)
}

// prepare partitions the conversation and rewrites it against a native
// session when one exists or can be created.
func (m *Manager) prepare(ctx context.Context, req RunRequest) (claude.Request, error) {
	system, rest := partition(req.Messages)

	// No system messages, or reuse switched off: plain one-shot, no
	// session consulted or created.
	if len(system) == 0 || !m.reg.Enabled(flags.FlagSessionReuse) {
		return claude.Request{
			Prompt:     BuildPrompt(req.Messages),
			Model:      req.Model,
			Structured: true,
		}, nil
	}

	fp := Fingerprint(system)
	entry, ok := m.table.Get(ctx, fp)
	if !ok {
		// createSession records the entry with a fresh LastUsedAt itself.
		created, err := m.createSession(ctx, fp, system, req.Model)
		if err != nil {
			return claude.Request{}, err
		}
		entry = created
	} else {
		log.Debug(log.CatSession, "resuming native session", "fingerprint", fp, "sessionID", entry.NativeSessionID)
		entry.LastUsedAt = time.Now()
		m.table.Set(ctx, fp, entry, cachemanager.NoExpiration)
	}

	// System messages are stripped; the native session already holds them.
	return claude.Request{
		Prompt:     BuildPrompt(rest),
		Model:      req.Model,
		SessionID:  entry.NativeSessionID,
		Structured: true,
	}, nil
}

// createSession seeds a native session with the joined system prompt using
// one structured, piped-input invocation, then records the ACTIVE entry.
func (m *Manager) createSession(ctx context.Context, fp string, system []string, model string) (Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "session.create",
		attribute.String(tracing.AttrFingerprint, fp),
		attribute.String(tracing.AttrModel, model),
	)
	defer span.End()

	joined := strings.Join(system, fingerprintSeparator)
	log.Info(log.CatSession, "creating native session", "fingerprint", fp, "promptBytes", len(joined))

	file, err := m.tmp.Create(joined)
	if err != nil {
		tracing.RecordError(span, err)
		return Entry{}, err
	}
	defer m.tmp.Cleanup(file)

	res, err := m.exec.Execute(ctx, claude.Request{
		PromptFile: file,
		Model:      model,
		Structured: true,
	})
	if err != nil {
		tracing.RecordError(span, err)
		return Entry{}, err
	}

	sessionID := claude.ExtractSessionID([]byte(res.Output))
	if sessionID == "" {
		err := &CreationError{Fingerprint: fp, Output: res.Output}
		tracing.RecordError(span, err)
		return Entry{}, err
	}

	entry := Entry{
		Fingerprint:     fp,
		NativeSessionID: sessionID,
		SystemPrompt:    joined,
		LastUsedAt:      time.Now(),
	}
	m.table.Set(ctx, fp, entry, cachemanager.NoExpiration)
	log.Info(log.CatSession, "native session active", "fingerprint", fp, "sessionID", sessionID)
	return entry, nil
}

// partition splits a conversation into system-message contents and the rest.
func partition(messages []envelope.ChatMessage) ([]string, []envelope.ChatMessage) {
	var system []string
	var rest []envelope.ChatMessage
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
		} else {
			rest = append(rest, msg)
		}
	}
	return system, rest
}

// BuildPrompt flattens conversation turns into the CLI's prompt format.
func BuildPrompt(messages []envelope.ChatMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		switch msg.Role {
		case "assistant":
			sb.WriteString("Assistant: ")
		case "system":
			sb.WriteString("System: ")
		default:
			sb.WriteString("Human: ")
		}
		sb.WriteString(msg.Content)
	}
	return sb.String()
}
