// Package events persists domain events and fans them out on the bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/clawboard/internal/bus"
	"github.com/basket/clawboard/internal/persistence"
)

// Type is a tag from the closed event vocabulary.
type Type string

const (
	SessionStarted          Type = "SESSION_STARTED"
	RoundStarted            Type = "ROUND_STARTED"
	AgentResponse           Type = "AGENT_RESPONSE"
	RoundEnded              Type = "ROUND_ENDED"
	CEOReviewCompleted      Type = "CEO_REVIEW_COMPLETED"
	SessionCompleted        Type = "SESSION_COMPLETED"
	SessionFailed           Type = "SESSION_FAILED"
	MemoGenerationStarted   Type = "MEMO_GENERATION_STARTED"
	MemoGenerationCompleted Type = "MEMO_GENERATION_COMPLETED"
	MemoGenerationFailed    Type = "MEMO_GENERATION_FAILED"
	AutoExecutionTriggered  Type = "AUTO_EXECUTION_TRIGGERED"
	TaskStarted             Type = "TASK_STARTED"
	TaskCompleted           Type = "TASK_COMPLETED"
	TaskFailed              Type = "TASK_FAILED"
	ExecutionBatchStarted   Type = "EXECUTION_BATCH_STARTED"
	ExecutionBatchCompleted Type = "EXECUTION_BATCH_COMPLETED"
	ExecutionBatchFailed    Type = "EXECUTION_BATCH_FAILED"
)

var vocabulary = map[Type]struct{}{
	SessionStarted: {}, RoundStarted: {}, AgentResponse: {}, RoundEnded: {},
	CEOReviewCompleted: {}, SessionCompleted: {}, SessionFailed: {},
	MemoGenerationStarted: {}, MemoGenerationCompleted: {}, MemoGenerationFailed: {},
	AutoExecutionTriggered: {}, TaskStarted: {}, TaskCompleted: {}, TaskFailed: {},
	ExecutionBatchStarted: {}, ExecutionBatchCompleted: {}, ExecutionBatchFailed: {},
}

// Valid reports whether t belongs to the vocabulary.
func (t Type) Valid() bool {
	_, ok := vocabulary[t]
	return ok
}

// Payload is the JSON object carried by an event.
type Payload map[string]any

// Envelope is what observers receive on the project channel.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Recorder is the storage side of the emitter.
type Recorder interface {
	InsertEvent(ctx context.Context, projectID, eventType, payloadJSON string) (*persistence.EventRecord, error)
}

// Emitter writes each event to the store, then publishes the envelope on the
// project's bus topic. Publication is best-effort; persistence is not.
type Emitter struct {
	store  Recorder
	bus    *bus.Bus
	logger *slog.Logger
}

func NewEmitter(store Recorder, b *bus.Bus, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: store, bus: b, logger: logger}
}

// Emit persists one event and publishes it.
func (e *Emitter) Emit(ctx context.Context, projectID string, t Type, payload Payload) (*Envelope, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if payload == nil {
		payload = Payload{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	rec, err := e.store.InsertEvent(ctx, projectID, string(t), string(raw))
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", t, err)
	}
	env := &Envelope{
		ID:        rec.ID,
		Type:      t,
		Payload:   json.RawMessage(raw),
		CreatedAt: rec.CreatedAt,
	}
	if e.bus != nil {
		e.bus.Publish(bus.ProjectTopic(projectID), *env)
	}
	e.logger.DebugContext(ctx, "event emitted", "project_id", projectID, "type", string(t), "event_id", rec.ID)
	return env, nil
}

// EmitBestEffort emits and logs a failure instead of returning it. Used on paths
// that are already reporting an earlier error.
func (e *Emitter) EmitBestEffort(ctx context.Context, projectID string, t Type, payload Payload) {
	if _, err := e.Emit(ctx, projectID, t, payload); err != nil {
		e.logger.ErrorContext(ctx, "event emit failed", "project_id", projectID, "type", string(t), "error", err)
	}
}
