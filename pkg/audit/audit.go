// Package audit provides the append-only decision trail for the Temporal
// Decision Core.
//
// Every edge evaluation the gate performs — accepted or rejected — is
// recorded as an immutable EdgeLog entry so that any edge in the graph can
// later be explained: which events were compared, what the circuits
// scored, and why the gate decided the way it did.
//
// Features:
//   - Immutable append-only JSONL log, one entry per line
//   - Tamper-evident hash chaining: each entry carries a BLAKE2b digest of
//     the previous entry, so any rewrite of history breaks the chain
//   - Synchronous writes by default — an edge is never created without its
//     audit entry having been durably handed to the sink first
//   - Optional AsyncSink wrapper for callers who accept best-effort logging
//   - Reader with filtered queries and decision reporting
//
// Example Usage:
//
//	logger, err := audit.NewLogger(audit.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	err = logger.LogEdgeAction(ctx, &audit.EdgeLog{
//		EdgeID:       "edge-42",
//		Action:       audit.ActionCreated,
//		Rationale:    decision.Rationale,
//		Confidence:   decision.Confidence,
//		ActorAgentID: "agent-7",
//	})
//
//	// Later: why does edge-42 exist?
//	reader := audit.NewReader(config.LogPath)
//	result, _ := reader.Query(audit.Query{EdgeID: "edge-42"})
//	for _, entry := range result.Entries {
//		fmt.Println(entry.Rationale)
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Think of the audit trail as the guest book next to the doormen from the
// gate package:
//
//  1. Every time the doormen decide about a pair of visitors — yes OR
//     no — a line goes into the book. Rejections are written down too,
//     because "we turned them away" is just as important as "we let
//     them in".
//  2. Nobody can tear out a page: every line contains a fingerprint of
//     the line before it, so a missing or edited line is immediately
//     obvious.
//  3. The book is written BEFORE the visitors walk in. If the pen runs
//     out of ink, the visitors wait outside.
//
// Thread Safety:
//
//	Logger and AsyncSink are safe for concurrent use from multiple
//	goroutines.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Action classifies the outcome an EdgeLog records.
type Action string

const (
	// ActionCreated records an accepted evaluation that materialized an
	// edge in the graph.
	ActionCreated Action = "CREATED"

	// ActionRejected records an evaluation the gate turned down,
	// including window vetoes. No edge exists for these entries.
	ActionRejected Action = "REJECTED"
)

// ErrSinkClosed is returned when logging against a closed sink.
var ErrSinkClosed = errors.New("audit sink is closed")

// EdgeLog is one immutable entry in the decision trail.
//
// Entries are written exactly once and never updated. The PrevHash field
// chains each entry to its predecessor: hashing the previous entry's JSON
// line must reproduce it, so truncation or in-place edits are detectable
// by Reader.VerifyChain.
type EdgeLog struct {
	// Unique entry identifier, assigned by the sink.
	ID string `json:"id"`

	// EdgeID is the graph edge this entry explains. Rejected evaluations
	// never created an edge; for those the id names the edge that would
	// have been created, or is empty when the caller had not allocated
	// one.
	EdgeID string `json:"edgeId"`

	Action Action `json:"action"`

	// Rationale is the gate's human-readable explanation, carried
	// verbatim from the decision.
	Rationale string `json:"rationale"`

	Confidence float64 `json:"confidence"`

	// SourceEventID / TargetEventID identify the evaluated pair.
	SourceEventID string `json:"sourceEventId,omitempty"`
	TargetEventID string `json:"targetEventId,omitempty"`

	// ActorAgentID is the agent on whose behalf the evaluation ran.
	ActorAgentID string `json:"actorAgentId,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// PrevHash is the hex BLAKE2b-256 digest of the previous entry's
	// serialized line. The first entry carries an empty PrevHash.
	PrevHash string `json:"prevHash"`
}

// Sink receives completed edge decisions.
//
// The facade calls LogEdgeAction before reporting an evaluation result to
// its caller and treats a sink error as an evaluation failure: audit is
// load-bearing, not advisory. Implementations that cannot honor that
// contract should be wrapped in AsyncSink rather than silently dropping
// errors.
type Sink interface {
	LogEdgeAction(ctx context.Context, entry *EdgeLog) error
	Close() error
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether audit logging is active. A disabled
	// logger accepts and discards entries.
	Enabled bool

	// LogPath is the path to the JSONL audit log file.
	LogPath string

	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// DefaultConfig returns sensible defaults for decision logging.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		LogPath:    "./logs/decisions.log",
		SyncWrites: true,
	}
}

// Logger is the standard file-backed Sink: append-only JSONL with hash
// chaining.
//
// File permissions follow the usual audit posture: 0640 for the log file,
// 0750 for its directory, so the trail is not world-readable.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	prevHash string
	closed   bool
}

var _ Sink = (*Logger)(nil)

// NewLogger creates a file-backed decision logger.
//
// The log directory is created if missing and the file is opened in
// append mode. If a previous log exists, the hash chain resumes from its
// last entry so restarts do not break verification. A disabled config
// yields a no-op logger.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	prevHash, err := lastEntryHash(config.LogPath)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}

	return &Logger{
		writer:   file,
		file:     file,
		config:   config,
		prevHash: prevHash,
	}, nil
}

// NewLoggerWithWriter creates a logger over a custom writer (for testing).
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{
		writer: writer,
		config: config,
	}
}

// LogEdgeAction appends one decision entry to the trail.
//
// Timestamp and ID are assigned if unset (id format:
// audit-{nanoseconds}-{sequence}); PrevHash is always overwritten with
// the running chain digest. The entry is serialized as a single JSON line
// and, when SyncWrites is on, fsynced before return.
//
// Cancellation is observed before the write: a canceled context means no
// entry lands.
func (l *Logger) LogEdgeAction(ctx context.Context, entry *EdgeLog) error {
	if !l.config.Enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrSinkClosed
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		l.sequence++
		entry.ID = fmt.Sprintf("audit-%d-%d", entry.Timestamp.UnixNano(), l.sequence)
	}
	entry.PrevHash = l.prevHash

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}

	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}

	l.prevHash = hashLine(data)
	return nil
}

// Close closes the logger. Further writes return ErrSinkClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// hashLine digests one serialized entry line for chain linkage.
func hashLine(line []byte) string {
	sum := blake2b.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// lastEntryHash scans an existing log and returns the digest of its final
// line, or "" for a missing or empty log.
func lastEntryHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading existing audit log: %w", err)
	}

	var last []byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				last = data[start:i]
			}
			start = i + 1
		}
	}
	if start < len(data) {
		last = data[start:]
	}
	if len(last) == 0 {
		return "", nil
	}
	return hashLine(last), nil
}
