package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/averno/clerk/internal/tracing"
	"github.com/averno/clerk/pkg/provider"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Message represents a single transcript turn. Tool-call requests and
// tool results are turns of their own so resolution can replay them
// after a restart.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []provider.ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// TranscriptEntry represents a message with its session id
type TranscriptEntry struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

// Manager persists conversation transcripts as per-session JSONL files
type Manager struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// New creates a new transcript manager
func New(sessionsDir string) (*Manager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".clerk", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Transcript manager initialized")
	m.updateActiveSessionsMetric()

	return m, nil
}

// validateSessionID validates the session id. Any non-empty string is
// accepted; path safety is handled by encodeSessionID.
func (m *Manager) validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	return nil
}

// encodeSessionID maps an arbitrary session id onto a filesystem-safe
// file name. Separators and control bytes are percent-encoded so an id
// like "user/42" stays a single file inside the sessions directory and
// round-trips through ListSessions.
func encodeSessionID(sessionID string) string {
	return url.QueryEscape(sessionID)
}

func decodeSessionID(name string) string {
	decoded, err := url.QueryUnescape(name)
	if err != nil {
		return name
	}
	return decoded
}

func (m *Manager) sessionPath(sessionID string) string {
	return filepath.Join(m.sessionsDir, encodeSessionID(sessionID)+".jsonl")
}

func (m *Manager) updateActiveSessionsMetric() {
	sessions, err := m.ListSessions()
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (m *Manager) getWriteLock(sessionID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.writeLocks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	m.writeLocks[sessionID] = lock
	return lock
}

func (m *Manager) releaseWriteLock(sessionID string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.writeLocks, sessionID)
}

// AppendMessage appends a message to a session transcript
func (m *Manager) AppendMessage(sessionID string, message Message) error {
	return m.AppendMessageWithContext(context.Background(), sessionID, message)
}

// AppendMessageWithContext appends a message with tracing context.
func (m *Manager) AppendMessageWithContext(ctx context.Context, sessionID string, message Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.session",
		"session.append_message",
		attribute.String("session_id", sessionID),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", sessionID).Logger()
	start := time.Now()
	defer func() {
		observability.RecordTranscriptSave(time.Since(start))
	}()

	if err := m.validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if message.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	// An assistant turn may carry only tool calls, a tool turn always
	// carries its result payload.
	if message.Content == "" && len(message.ToolCalls) == 0 {
		return fmt.Errorf("message content cannot be empty")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	lock := m.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := m.sessionPath(sessionID)
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	entry := TranscriptEntry{
		SessionID: sessionID,
		Message:   message,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if created {
		m.updateActiveSessionsMetric()
	}

	logger.Debug().
		Str("role", message.Role).
		Msg("Message appended")

	return nil
}

// LoadSession loads all messages from a session transcript
func (m *Manager) LoadSession(sessionID string) ([]TranscriptEntry, error) {
	return m.LoadSessionWithContext(context.Background(), sessionID)
}

// LoadSessionWithContext loads all messages with tracing context.
// Malformed lines are skipped, not fatal.
func (m *Manager) LoadSessionWithContext(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"clerk.session",
		"session.load",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_id", sessionID).Logger()
	start := time.Now()
	defer func() {
		observability.RecordTranscriptLoad(time.Since(start))
	}()

	if err := m.validateSessionID(sessionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	path := m.sessionPath(sessionID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug().Msg("Session does not exist")
		return []TranscriptEntry{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var entries []TranscriptEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" {
			continue
		}

		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		if entry.Message.Role == "" {
			logger.Warn().
				Int("line", lineNum).
				Msg("Invalid entry, skipping")
			continue
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().
		Int("messages", len(entries)).
		Msg("Session loaded")

	return entries, nil
}

// DeleteSession deletes a session transcript
func (m *Manager) DeleteSession(sessionID string) error {
	if err := m.validateSessionID(sessionID); err != nil {
		return err
	}

	lock := m.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := m.sessionPath(sessionID)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	m.releaseWriteLock(sessionID)
	m.updateActiveSessionsMetric()

	log.Info().Str("session_id", sessionID).Msg("Session deleted")

	return nil
}

// ListSessions lists all sessions with a transcript on disk
func (m *Manager) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessions = append(sessions, decodeSessionID(strings.TrimSuffix(name, ".jsonl")))
	}

	return sessions, nil
}

// Prune deletes transcripts whose last modification is older than maxAge.
// Returns the number of sessions removed.
func (m *Manager) Prune(maxAge time.Duration) (int, error) {
	sessions, err := m.ListSessions()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, sessionID := range sessions {
		info, err := os.Stat(m.sessionPath(sessionID))
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := m.DeleteSession(sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to prune session")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Pruned stale sessions")
	}

	return removed, nil
}

// Close closes the transcript manager
func (m *Manager) Close() error {
	m.locksMu.Lock()
	m.writeLocks = make(map[string]*sync.Mutex)
	m.locksMu.Unlock()
	return nil
}
