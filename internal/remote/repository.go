// Package remote defines the hosted note backend capability consumed by the
// sync engine and store, plus the HTTP client that implements it.
package remote

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
)

// Filter narrows a GetAll call. Zero value fetches everything.
type Filter struct {
	ParentID *string
	Archived *bool
	Favorite *bool
	Tag      string
}

// SearchResult is one remote search hit.
type SearchResult struct {
	NoteID  string  `json:"note_id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Repository is the remote CRUD and search capability. Implementations must
// surface failures as errors rather than silent empty results so callers can
// distinguish "no data" from "unreachable".
type Repository interface {
	Ping(ctx context.Context) error
	GetAll(ctx context.Context, filter Filter) ([]notes.Note, error)
	Create(ctx context.Context, input notes.CreateInput) (notes.Note, error)
	Update(ctx context.Context, input notes.UpdateInput) (notes.Note, error)
	Delete(ctx context.Context, noteID string) error
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// OperationError reports a repository call the backend rejected. It wraps
// notes.ErrRemoteOperation so callers can classify it with errors.Is.
type OperationError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("remote %s failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Unwrap ties the error into the shared taxonomy.
func (e *OperationError) Unwrap() error {
	return notes.ErrRemoteOperation
}
