package postgres

import (
	"fmt"

	"github.com/landale/eventpipe/internal/core/storage"
)

// jsonParam passes a JSON document as text so jsonb columns accept it.
// Empty documents become SQL NULL.
func jsonParam(doc []byte) interface{} {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecordRow scans a database row into a Record.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanRecordRow(row scanner) (*storage.Record, error) {
	var rec storage.Record
	var payload, metadata []byte

	err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Source,
		&rec.Priority,
		&rec.CorrelationID,
		&rec.BatchID,
		&rec.OccurredAt,
		&rec.ProcessedAt,
		&payload,
		&metadata,
		&rec.Seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	rec.Payload = payload
	if len(metadata) > 0 {
		rec.Metadata = metadata
	}
	rec.OccurredAt = rec.OccurredAt.UTC()
	rec.ProcessedAt = rec.ProcessedAt.UTC()

	return &rec, nil
}
