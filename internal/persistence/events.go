package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/clawboard/internal/shared"
	"github.com/google/uuid"
)

// EventRecord is one immutable row of the project event log.
type EventRecord struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
	TraceID     string    `json:"trace_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// InsertEvent appends an event and returns the stored record.
func (s *Store) InsertEvent(ctx context.Context, projectID, eventType, payloadJSON string) (*EventRecord, error) {
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	traceID := shared.TraceID(ctx)
	if traceID == "-" {
		traceID = ""
	}
	ev := &EventRecord{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Type:        eventType,
		PayloadJSON: payloadJSON,
		TraceID:     traceID,
		CreatedAt:   nowUTC(),
	}
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO events (id, project_id, type, payload_json, trace_id, created_at)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), ?);
		`, ev.ID, ev.ProjectID, ev.Type, ev.PayloadJSON, ev.TraceID, ev.CreatedAt)
		if err != nil {
			return err
		}
		ev.Seq, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// ListEvents returns a project's events with seq > afterSeq, oldest first.
// A non-positive limit returns every remaining event.
func (s *Store) ListEvents(ctx context.Context, projectID string, afterSeq int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, project_id, type, payload_json, COALESCE(trace_id, ''), created_at
		FROM events
		WHERE project_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?;
	`, projectID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.ProjectID, &ev.Type, &ev.PayloadJSON, &ev.TraceID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
