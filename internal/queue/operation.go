// Package queue implements the ordered log of mutations awaiting remote
// application. Operations are appended while the backend is unreachable and
// replayed in FIFO order on reconnect.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
)

// Kind enumerates the supported pending mutations.
type Kind string

const (
	// KindCreate queues a note insert.
	KindCreate Kind = "create"
	// KindUpdate queues a note patch.
	KindUpdate Kind = "update"
	// KindDelete queues a note removal.
	KindDelete Kind = "delete"
)

// ErrUnknownKind indicates a persisted operation names a kind this build
// does not understand.
var ErrUnknownKind = errors.New("queue: unknown operation kind")

// DeletePayload carries the target of a queued delete.
type DeletePayload struct {
	ID string `json:"id"`
}

// Operation records one pending mutation as a tagged variant: exactly one of
// Create, Update, or Delete is set, matching Kind. The persisted JSON layout
// is {id, operation, data, timestamp}.
type Operation struct {
	ID         string
	Kind       Kind
	Create     *notes.CreateInput
	Update     *notes.UpdateInput
	Delete     *DeletePayload
	EnqueuedAt time.Time
}

type operationEnvelope struct {
	ID        string          `json:"id"`
	Operation Kind            `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// NoteID returns the identifier of the note the operation targets.
func (op Operation) NoteID() string {
	switch op.Kind {
	case KindCreate:
		if op.Create != nil {
			return op.Create.ID
		}
	case KindUpdate:
		if op.Update != nil {
			return op.Update.ID
		}
	case KindDelete:
		if op.Delete != nil {
			return op.Delete.ID
		}
	}
	return ""
}

// MarshalJSON encodes the operation into the persisted envelope layout.
func (op Operation) MarshalJSON() ([]byte, error) {
	var payload any
	switch op.Kind {
	case KindCreate:
		payload = op.Create
	case KindUpdate:
		payload = op.Update
	case KindDelete:
		payload = op.Delete
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, op.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationEnvelope{
		ID:        op.ID,
		Operation: op.Kind,
		Data:      data,
		Timestamp: op.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes the persisted envelope back into the tagged variant.
func (op *Operation) UnmarshalJSON(raw []byte) error {
	var envelope operationEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}

	decoded := Operation{ID: envelope.ID, Kind: envelope.Operation}
	switch envelope.Operation {
	case KindCreate:
		decoded.Create = &notes.CreateInput{}
		if err := json.Unmarshal(envelope.Data, decoded.Create); err != nil {
			return err
		}
	case KindUpdate:
		decoded.Update = &notes.UpdateInput{}
		if err := json.Unmarshal(envelope.Data, decoded.Update); err != nil {
			return err
		}
	case KindDelete:
		decoded.Delete = &DeletePayload{}
		if err := json.Unmarshal(envelope.Data, decoded.Delete); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, envelope.Operation)
	}

	if envelope.Timestamp != "" {
		enqueuedAt, err := time.Parse(time.RFC3339Nano, envelope.Timestamp)
		if err != nil {
			return fmt.Errorf("queue: invalid timestamp %q: %w", envelope.Timestamp, err)
		}
		decoded.EnqueuedAt = enqueuedAt
	}

	*op = decoded
	return nil
}
