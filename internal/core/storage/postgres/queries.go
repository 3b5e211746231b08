package postgres

// SQL queries for event record storage

const (
	// querySaveEvent inserts a record keyed by event id.
	// RETURNING seq gives the store-assigned sequence for cursor reads.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	querySaveEvent = `
		INSERT INTO events (
			id, type, source, priority, correlation_id, batch_id,
			occurred_at, processed_at, payload, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING seq
	`

	queryGetEvent = `
		SELECT
			id, type, source, priority, correlation_id, batch_id,
			occurred_at, processed_at, payload, metadata, seq
		FROM events
		WHERE id = $1
	`

	// queryListEventsAfter reads every type in strict seq order.
	queryListEventsAfter = `
		SELECT
			id, type, source, priority, correlation_id, batch_id,
			occurred_at, processed_at, payload, metadata, seq
		FROM events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`

	queryListEventsByTypeAfter = `
		SELECT
			id, type, source, priority, correlation_id, batch_id,
			occurred_at, processed_at, payload, metadata, seq
		FROM events
		WHERE type = $1
		  AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`
)
