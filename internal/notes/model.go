package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncState tracks a single note's position in the sync lifecycle.
type SyncState string

const (
	// SyncStateSynced marks a note confirmed by the remote store.
	SyncStateSynced SyncState = "synced"
	// SyncStatePending marks a note with a queued mutation awaiting replay.
	SyncStatePending SyncState = "pending"
	// SyncStateSyncing marks a note whose mutation is being applied remotely.
	SyncStateSyncing SyncState = "syncing"
	// SyncStateError marks a note whose last remote call failed.
	SyncStateError SyncState = "error"
	// SyncStateOffline marks a note mutated while the remote was unreachable.
	SyncStateOffline SyncState = "offline"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 512

	// MaxHierarchyDepth bounds how deep the note forest may grow.
	MaxHierarchyDepth = 10
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidTitle indicates that a note title is empty or exceeds the length bound.
	ErrInvalidTitle = errors.New("notes: invalid title")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Note models one content record in the flat collection. The mirror persisted
// to the local cache uses the same JSON shape as the live entity.
type Note struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	ParentID   string     `json:"parent_id,omitempty"`
	Position   int        `json:"position"`
	Archived   bool       `json:"archived"`
	Favorite   bool       `json:"favorite"`
	Tags       []string   `json:"tags,omitempty"`
	Stats      Stats      `json:"stats"`
	SyncState  SyncState  `json:"sync_status"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// Clone returns a copy safe for handing to callers outside the store.
func (n Note) Clone() Note {
	copied := n
	if n.Tags != nil {
		copied.Tags = append([]string(nil), n.Tags...)
	}
	if n.LastSyncAt != nil {
		at := *n.LastSyncAt
		copied.LastSyncAt = &at
	}
	return copied
}

// CreateInput carries the fields accepted when creating a note. ID is
// optional: offline creates supply a client-generated identifier so that
// queued follow-up operations can reference the note before the remote store
// confirms it.
type CreateInput struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	ParentID string   `json:"parent_id,omitempty"`
	Position *int     `json:"position,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Favorite bool     `json:"favorite"`
}

// Normalize trims free-text fields and validates the input.
func (input *CreateInput) Normalize() error {
	input.ID = strings.TrimSpace(input.ID)
	input.Title = strings.TrimSpace(input.Title)
	input.ParentID = strings.TrimSpace(input.ParentID)
	if input.Title == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTitle)
	}
	if len(input.Title) > maxTitleLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
	}
	input.Tags = normalizeTags(input.Tags)
	return nil
}

// UpdateInput carries a partial patch for an existing note. Nil pointers
// leave the corresponding field untouched.
type UpdateInput struct {
	ID       string    `json:"id"`
	Title    *string   `json:"title,omitempty"`
	Content  *string   `json:"content,omitempty"`
	ParentID *string   `json:"parent_id,omitempty"`
	Position *int      `json:"position,omitempty"`
	Archived *bool     `json:"archived,omitempty"`
	Favorite *bool     `json:"favorite,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

// Normalize trims and validates the patch.
func (input *UpdateInput) Normalize() error {
	input.ID = strings.TrimSpace(input.ID)
	if input.ID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if trimmed == "" {
			return fmt.Errorf("%w: empty", ErrInvalidTitle)
		}
		if len(trimmed) > maxTitleLength {
			return fmt.Errorf("%w: exceeds %d characters", ErrInvalidTitle, maxTitleLength)
		}
		input.Title = &trimmed
	}
	if input.ParentID != nil {
		trimmed := strings.TrimSpace(*input.ParentID)
		input.ParentID = &trimmed
	}
	if input.Tags != nil {
		normalized := normalizeTags(*input.Tags)
		input.Tags = &normalized
	}
	return nil
}

// Apply folds the patch into the note without touching sync metadata.
func (input UpdateInput) Apply(note *Note) {
	if input.Title != nil {
		note.Title = *input.Title
	}
	if input.Content != nil {
		note.Content = *input.Content
		note.Stats = ComputeStats(*input.Content)
	}
	if input.ParentID != nil {
		note.ParentID = *input.ParentID
	}
	if input.Position != nil {
		note.Position = *input.Position
	}
	if input.Archived != nil {
		note.Archived = *input.Archived
	}
	if input.Favorite != nil {
		note.Favorite = *input.Favorite
	}
	if input.Tags != nil {
		note.Tags = append([]string(nil), (*input.Tags)...)
	}
}

func normalizeTags(rawTags []string) []string {
	if len(rawTags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(rawTags))
	normalized := make([]string, 0, len(rawTags))
	for _, tag := range rawTags {
		trimmed := strings.ToLower(strings.TrimSpace(tag))
		if trimmed == "" {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
