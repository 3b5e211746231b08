package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when an event with the same id already exists.
var ErrDuplicate = errors.New("event already exists")

// ErrNotFound is returned when no event matches the requested id.
var ErrNotFound = errors.New("event not found")

// Record is the storable form of a canonical event. Payload and Metadata are
// JSON documents; timestamps are UTC at the store's native precision.
type Record struct {
	ID            string
	Type          string
	Source        string
	Priority      string
	CorrelationID string
	BatchID       string
	OccurredAt    time.Time
	ProcessedAt   time.Time
	Payload       []byte
	Metadata      []byte

	// Seq is assigned by the store on insert. Zero until saved.
	Seq int64
}

// EventStore defines the interface for storing and retrieving event records.
type EventStore interface {
	// SaveEvent inserts the record and populates rec.Seq.
	// Returns ErrDuplicate if the id already exists.
	SaveEvent(ctx context.Context, rec *Record) error

	// GetEvent returns the record with the given id or ErrNotFound.
	GetEvent(ctx context.Context, id string) (*Record, error)

	// ListEvents returns records of eventType (all types when empty) with
	// seq > afterSeq, in seq order.
	ListEvents(ctx context.Context, eventType string, afterSeq int64, limit int) ([]*Record, error)
}
