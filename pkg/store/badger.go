package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixEvent     = byte(0x01) // event:eventID -> Event
	prefixEdge      = byte(0x02) // edge:edgeID -> Edge
	prefixEdgeIndex = byte(0x03) // edgeidx:eventID:edgeID -> empty
	prefixTimeIndex = byte(0x04) // timeidx:unixNano(be64):eventID -> empty
)

// BadgerStore is a persistent Store implementation backed by BadgerDB.
//
// Key structure:
//   - Events:     0x01 + eventID -> JSON(Event)
//   - Edges:      0x02 + edgeID -> JSON(Edge)
//   - Edge index: 0x03 + eventID + 0x00 + edgeID -> empty (both endpoints)
//   - Time index: 0x04 + bigEndian(unixNano) + 0x00 + eventID -> empty
//
// The time index keeps GetEventsInRange an ordered prefix scan instead of a
// full-table sort. Duplicate detection runs inside a single Badger
// transaction, so insert-or-fail stays atomic under concurrent recorders.
//
// Example:
//
//	s, err := store.NewBadgerStore("./data/tdcore")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests
	// that want persistent-store semantics without I/O.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but durable.
	SyncWrites bool
}

// NewBadgerStore opens a persistent store in dataDir with default options.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerStoreWithOptions opens a store with custom configuration.
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Memory-constrained defaults; the decision core is a sidecar, not the
	// main tenant of its host.
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory creates an in-memory BadgerDB store for testing.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func eventKey(id EventID) []byte {
	return append([]byte{prefixEvent}, []byte(id)...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, []byte(id)...)
}

// edgeIndexKey format: prefix + eventID + 0x00 + edgeID
func edgeIndexKey(eventID EventID, edgeID EdgeID) []byte {
	key := make([]byte, 0, 1+len(eventID)+1+len(edgeID))
	key = append(key, prefixEdgeIndex)
	key = append(key, []byte(eventID)...)
	key = append(key, 0x00)
	key = append(key, []byte(edgeID)...)
	return key
}

func edgeIndexPrefix(eventID EventID) []byte {
	key := make([]byte, 0, 1+len(eventID)+1)
	key = append(key, prefixEdgeIndex)
	key = append(key, []byte(eventID)...)
	key = append(key, 0x00)
	return key
}

// timeIndexKey format: prefix + bigEndian(unixNano) + 0x00 + eventID.
// Big-endian encoding keeps Badger's lexicographic iteration in
// chronological order.
func timeIndexKey(ts time.Time, eventID EventID) []byte {
	key := make([]byte, 0, 1+8+1+len(eventID))
	key = append(key, prefixTimeIndex)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	key = append(key, buf[:]...)
	key = append(key, 0x00)
	key = append(key, []byte(eventID)...)
	return key
}

// extractEdgeIDFromIndexKey extracts the edgeID from an edge index key.
func extractEdgeIDFromIndexKey(key []byte) EdgeID {
	for i := 1; i < len(key); i++ {
		if key[i] == 0x00 {
			return EdgeID(key[i+1:])
		}
	}
	return ""
}

// extractEventIDFromTimeKey extracts the eventID from a time index key.
func extractEventIDFromTimeKey(key []byte) EventID {
	// prefix (1) + timestamp (8) + separator (1)
	if len(key) <= 10 {
		return ""
	}
	return EventID(key[10:])
}

// ============================================================================
// Serialization helpers
// ============================================================================

// serializableEvent is the JSON-stored form of an Event. Timestamps are
// kept at nanosecond precision; the gate's gap arithmetic is millisecond
// resolution and must not lose it to second-rounding.
type serializableEvent struct {
	ID            string            `json:"id"`
	Timestamp     int64             `json:"timestamp"` // unix nanos
	Salience      float64           `json:"salience"`
	SourceAgentID string            `json:"sourceAgentId"`
	Context       map[string]string `json:"context,omitempty"`
}

type serializableEdge struct {
	ID              string  `json:"id"`
	SourceEventID   string  `json:"sourceEventId"`
	TargetEventID   string  `json:"targetEventId"`
	Confidence      float64 `json:"confidence"`
	Rationale       string  `json:"rationale"`
	CreatedAt       int64   `json:"createdAt"` // unix nanos
	PromoterScore   float64 `json:"promoterScore"`
	SuppressorScore float64 `json:"suppressorScore"`
	WindowSizeMs    float64 `json:"windowSizeMs"`
}

func encodeEvent(e *Event) ([]byte, error) {
	return json.Marshal(serializableEvent{
		ID:            string(e.ID),
		Timestamp:     e.Timestamp.UnixNano(),
		Salience:      e.Salience,
		SourceAgentID: e.SourceAgentID,
		Context:       e.Context,
	})
}

func decodeEvent(data []byte) (*Event, error) {
	var se serializableEvent
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, err
	}
	return &Event{
		ID:            EventID(se.ID),
		Timestamp:     time.Unix(0, se.Timestamp),
		Salience:      se.Salience,
		SourceAgentID: se.SourceAgentID,
		Context:       se.Context,
	}, nil
}

func encodeEdge(e *Edge) ([]byte, error) {
	return json.Marshal(serializableEdge{
		ID:              string(e.ID),
		SourceEventID:   string(e.SourceEventID),
		TargetEventID:   string(e.TargetEventID),
		Confidence:      e.Confidence,
		Rationale:       e.Rationale,
		CreatedAt:       e.CreatedAt.UnixNano(),
		PromoterScore:   e.PromoterScore,
		SuppressorScore: e.SuppressorScore,
		WindowSizeMs:    e.WindowSizeMs,
	})
}

func decodeEdge(data []byte) (*Edge, error) {
	var se serializableEdge
	if err := json.Unmarshal(data, &se); err != nil {
		return nil, err
	}
	return &Edge{
		ID:              EdgeID(se.ID),
		SourceEventID:   EventID(se.SourceEventID),
		TargetEventID:   EventID(se.TargetEventID),
		Confidence:      se.Confidence,
		Rationale:       se.Rationale,
		CreatedAt:       time.Unix(0, se.CreatedAt),
		PromoterScore:   se.PromoterScore,
		SuppressorScore: se.SuppressorScore,
		WindowSizeMs:    se.WindowSizeMs,
	}, nil
}

// ============================================================================
// Event operations
// ============================================================================

// RecordEvent stores a new immutable event. The existence check and the
// write share one Badger transaction, so duplicates fail atomically.
func (b *BadgerStore) RecordEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return ErrInvalidData
	}
	if event.ID == "" {
		return ErrInvalidID
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := eventKey(event.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeEvent(event)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(timeIndexKey(event.Timestamp, event.ID), []byte{})
	})
}

// GetEvent retrieves an event by id. Absent ids return (nil, nil).
func (b *BadgerStore) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	var event *Event
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			event, decodeErr = decodeEvent(val)
			return decodeErr
		})
	})
	return event, err
}

// GetEventsInRange scans the time index between the inclusive bounds and
// returns events in ascending timestamp order.
func (b *BadgerStore) GetEventsInRange(ctx context.Context, start, end time.Time) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixTimeIndex}
		it := txn.NewIterator(opts)
		defer it.Close()

		startNano := start.UnixNano()
		endNano := end.UnixNano()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if len(key) < 9 {
				continue
			}
			nanos := int64(binary.BigEndian.Uint64(key[1:9]))
			if nanos < startNano {
				continue
			}
			if nanos > endNano {
				break // index is chronologically ordered
			}

			eventID := extractEventIDFromTimeKey(key)
			item, err := txn.Get(eventKey(eventID))
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				event, decodeErr := decodeEvent(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, event)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// ============================================================================
// Edge operations
// ============================================================================

// CreateEdge stores a new accepted edge and indexes both endpoints.
func (b *BadgerStore) CreateEdge(ctx context.Context, edge *Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" || edge.SourceEventID == "" || edge.TargetEventID == "" {
		return ErrInvalidID
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := edgeKey(edge.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		// Both endpoints must exist
		if _, err := txn.Get(eventKey(edge.SourceEventID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrInvalidData
			}
			return err
		}
		if _, err := txn.Get(eventKey(edge.TargetEventID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrInvalidData
			}
			return err
		}

		data, err := encodeEdge(edge)
		if err != nil {
			return fmt.Errorf("failed to encode edge: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(edgeIndexKey(edge.SourceEventID, edge.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(edgeIndexKey(edge.TargetEventID, edge.ID), []byte{})
	})
}

// GetEdge retrieves an edge by id. Absent ids return (nil, nil).
func (b *BadgerStore) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decodeErr error
			edge, decodeErr = decodeEdge(val)
			return decodeErr
		})
	})
	return edge, err
}

// GetEdgesForEvent returns all edges touching the event, ordered by
// ascending CreatedAt.
func (b *BadgerStore) GetEdgesForEvent(ctx context.Context, id EventID) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	var out []*Edge
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = edgeIndexPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			edgeID := extractEdgeIDFromIndexKey(it.Item().Key())
			item, err := txn.Get(edgeKey(edgeID))
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				edge, decodeErr := decodeEdge(val)
				if decodeErr != nil {
					return decodeErr
				}
				out = append(out, edge)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortEdgesByCreatedAt(out)
	return out, nil
}

// ============================================================================
// Stats and lifecycle
// ============================================================================

// EventCount returns the number of stored events.
func (b *BadgerStore) EventCount(ctx context.Context) (int64, error) {
	return b.countPrefix(ctx, prefixEvent)
}

// EdgeCount returns the number of stored edges.
func (b *BadgerStore) EdgeCount(ctx context.Context) (int64, error) {
	return b.countPrefix(ctx, prefixEdge)
}

func (b *BadgerStore) countPrefix(ctx context.Context, prefix byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the underlying BadgerDB.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
