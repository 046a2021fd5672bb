package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/queue"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	"go.uber.org/zap"
)

// FilterOptions narrows the local collection. Nil pointers match everything.
type FilterOptions struct {
	Archived *bool
	Favorite *bool
	Tag      string
	ParentID *string
}

// CreateNote validates the input, applies the optimistic insert, and either
// calls the repository (online) or queues the mutation (offline). The
// optimistic record stays visible even when the remote call fails.
func (s *Store) CreateNote(ctx context.Context, input notes.CreateInput) (notes.Note, error) {
	if err := input.Normalize(); err != nil {
		return notes.Note{}, err
	}

	if input.ID == "" {
		id, err := s.newID(opCreateNote)
		if err != nil {
			return notes.Note{}, err
		}
		input.ID = id
	}

	s.mu.Lock()
	if input.ParentID != "" {
		if err := s.validateParentLocked(input.ParentID); err != nil {
			s.mu.Unlock()
			return notes.Note{}, err
		}
	}
	if input.Position == nil {
		position := s.nextSiblingPositionLocked(input.ParentID)
		input.Position = &position
	}

	now := s.clock().UTC()
	note := notes.Note{
		ID:        input.ID,
		Title:     input.Title,
		Content:   input.Content,
		ParentID:  input.ParentID,
		Position:  *input.Position,
		Favorite:  input.Favorite,
		Tags:      append([]string(nil), input.Tags...),
		Stats:     notes.ComputeStats(input.Content),
		SyncState: notes.SyncStatePending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.collection[note.ID] = note
	s.mu.Unlock()

	resultNote, actionErr := s.reconcileCreate(ctx, note, input)
	s.finalizeMutation(resultNote.ID)
	return resultNote, actionErr
}

func (s *Store) reconcileCreate(ctx context.Context, optimistic notes.Note, input notes.CreateInput) (notes.Note, error) {
	if !s.online() {
		if err := s.enqueue(queue.Operation{Kind: queue.KindCreate, Create: &input}); err != nil {
			return optimistic, err
		}
		return optimistic, nil
	}

	confirmed, err := s.repository.Create(ctx, input)
	if err != nil {
		s.logError(opCreateNote, "repository_failed", err, zap.String("note_id", optimistic.ID))
		return s.markNoteState(optimistic.ID, notes.SyncStateError), err
	}
	return s.acceptRemoteNote(optimistic.ID, confirmed), nil
}

// UpdateNote applies a partial patch. Reparenting patches are validated
// against the hierarchy rules before any state changes.
func (s *Store) UpdateNote(ctx context.Context, input notes.UpdateInput) (notes.Note, error) {
	if err := input.Normalize(); err != nil {
		return notes.Note{}, err
	}

	s.mu.Lock()
	existing, exists := s.collection[input.ID]
	if !exists {
		s.mu.Unlock()
		return notes.Note{}, fmt.Errorf("%w: %s", notes.ErrNoteNotFound, input.ID)
	}
	if input.ParentID != nil && *input.ParentID != existing.ParentID {
		flat := make([]notes.Note, 0, len(s.collection))
		for _, note := range s.collection {
			flat = append(flat, note)
		}
		if err := notes.ValidateMove(flat, input.ID, *input.ParentID, s.maxDepth); err != nil {
			s.mu.Unlock()
			return notes.Note{}, err
		}
	}

	updated := existing.Clone()
	input.Apply(&updated)
	updated.UpdatedAt = s.clock().UTC()
	updated.Version = existing.Version + 1
	updated.SyncState = notes.SyncStatePending
	s.collection[updated.ID] = updated
	s.mu.Unlock()

	resultNote, actionErr := s.reconcileUpdate(ctx, updated, input)
	s.finalizeMutation(resultNote.ID)
	return resultNote, actionErr
}

func (s *Store) reconcileUpdate(ctx context.Context, optimistic notes.Note, input notes.UpdateInput) (notes.Note, error) {
	if !s.online() {
		if err := s.enqueue(queue.Operation{Kind: queue.KindUpdate, Update: &input}); err != nil {
			return optimistic, err
		}
		return optimistic, nil
	}

	confirmed, err := s.repository.Update(ctx, input)
	if err != nil {
		s.logError(opUpdateNote, "repository_failed", err, zap.String("note_id", optimistic.ID))
		return s.markNoteState(optimistic.ID, notes.SyncStateError), err
	}
	return s.acceptRemoteNote(optimistic.ID, confirmed), nil
}

// DeleteNote removes the note optimistically; the remote removal happens
// directly when online or on the next drain when offline. Children of a
// deleted note are adopted as roots by the next tree rebuild.
func (s *Store) DeleteNote(ctx context.Context, noteID string) error {
	noteID = strings.TrimSpace(noteID)

	s.mu.Lock()
	if _, exists := s.collection[noteID]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", notes.ErrNoteNotFound, noteID)
	}
	delete(s.collection, noteID)
	if s.selectedID == noteID {
		s.selectedID = ""
	}
	s.mu.Unlock()

	var actionErr error
	if s.online() {
		if err := s.repository.Delete(ctx, noteID); err != nil {
			s.logError(opDeleteNote, "repository_failed", err, zap.String("note_id", noteID))
			actionErr = err
		}
	} else {
		actionErr = s.enqueue(queue.Operation{Kind: queue.KindDelete, Delete: &queue.DeletePayload{ID: noteID}})
	}

	s.finalizeMutation(noteID)
	return actionErr
}

// DuplicateNote copies a note next to the original and runs it through the
// create pipeline.
func (s *Store) DuplicateNote(ctx context.Context, noteID string) (notes.Note, error) {
	s.mu.Lock()
	original, exists := s.collection[noteID]
	if !exists {
		s.mu.Unlock()
		return notes.Note{}, fmt.Errorf("%w: %s", notes.ErrNoteNotFound, noteID)
	}
	duplicatePosition := original.Position + 1
	input := notes.CreateInput{
		Title:    original.Title + " (copy)",
		Content:  original.Content,
		ParentID: original.ParentID,
		Position: &duplicatePosition,
		Tags:     append([]string(nil), original.Tags...),
		Favorite: original.Favorite,
	}
	s.mu.Unlock()

	return s.CreateNote(ctx, input)
}

// MoveNote reparents a note and places it at the given sibling position. The
// hierarchy rules are checked before any mutation, so a rejected move leaves
// the collection unchanged.
func (s *Store) MoveNote(ctx context.Context, noteID, newParentID string, position int) (notes.Note, error) {
	parentID := strings.TrimSpace(newParentID)
	return s.UpdateNote(ctx, notes.UpdateInput{
		ID:       noteID,
		ParentID: &parentID,
		Position: &position,
	})
}

// ReorderNotes assigns ascending positions to the given sibling group, one
// independent update per note. There is no multi-record transaction: a
// failing member leaves the others applied, and the returned error names the
// subset to re-issue.
func (s *Store) ReorderNotes(ctx context.Context, parentID string, orderedIDs []string) error {
	parent := strings.TrimSpace(parentID)
	var failures []error
	for index, noteID := range orderedIDs {
		position := index
		input := notes.UpdateInput{ID: noteID, ParentID: &parent, Position: &position}
		if _, err := s.UpdateNote(ctx, input); err != nil {
			failures = append(failures, fmt.Errorf("note %s: %w", noteID, err))
		}
	}
	return errors.Join(failures...)
}

// ToggleFavorite flips the favorite flag.
func (s *Store) ToggleFavorite(ctx context.Context, noteID string) (notes.Note, error) {
	s.mu.Lock()
	note, exists := s.collection[noteID]
	if !exists {
		s.mu.Unlock()
		return notes.Note{}, fmt.Errorf("%w: %s", notes.ErrNoteNotFound, noteID)
	}
	flipped := !note.Favorite
	s.mu.Unlock()
	return s.UpdateNote(ctx, notes.UpdateInput{ID: noteID, Favorite: &flipped})
}

// ToggleArchive flips the archived flag. Archiving removes the note from
// the tree traversal but keeps it in the flat collection.
func (s *Store) ToggleArchive(ctx context.Context, noteID string) (notes.Note, error) {
	s.mu.Lock()
	note, exists := s.collection[noteID]
	if !exists {
		s.mu.Unlock()
		return notes.Note{}, fmt.Errorf("%w: %s", notes.ErrNoteNotFound, noteID)
	}
	flipped := !note.Archived
	s.mu.Unlock()
	return s.UpdateNote(ctx, notes.UpdateInput{ID: noteID, Archived: &flipped})
}

// SelectNote records the caller's current selection and mirrors it as a UI
// preference. An empty identifier clears the selection.
func (s *Store) SelectNote(noteID string) error {
	noteID = strings.TrimSpace(noteID)
	s.mu.Lock()
	if noteID != "" {
		if _, exists := s.collection[noteID]; !exists {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", notes.ErrNoteNotFound, noteID)
		}
	}
	s.selectedID = noteID
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Set(cache.KeySelectedNote, noteID)
	}
	return nil
}

// SelectedNote returns the current selection, if any.
func (s *Store) SelectedNote() (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, exists := s.collection[s.selectedID]
	if !exists {
		return notes.Note{}, false
	}
	return note.Clone(), true
}

// Search queries the remote store when online and falls back to a local
// substring match when offline or when the remote call fails, so search
// always produces an answer from the data at hand.
func (s *Store) Search(ctx context.Context, searchQuery string) ([]remote.SearchResult, error) {
	trimmed := strings.TrimSpace(searchQuery)
	if trimmed == "" {
		return nil, nil
	}

	if s.online() {
		results, err := s.repository.Search(ctx, trimmed)
		if err == nil {
			return results, nil
		}
		s.logError(opSearchNotes, "remote_search_failed", err, zap.String("query", trimmed))
	}
	return s.searchLocal(trimmed), nil
}

func (s *Store) searchLocal(searchQuery string) []remote.SearchResult {
	needle := strings.ToLower(searchQuery)
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]remote.SearchResult, 0)
	for _, note := range s.collection {
		haystack := strings.ToLower(note.Title + "\n" + note.Content + "\n" + strings.Join(note.Tags, " "))
		if !strings.Contains(haystack, needle) {
			continue
		}
		results = append(results, remote.SearchResult{
			NoteID:  note.ID,
			Title:   note.Title,
			Snippet: snippetAround(note.Content, needle),
		})
	}
	return results
}

// Filter returns the notes matching the options, ordered like Snapshot.
func (s *Store) Filter(opts FilterOptions) []notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]notes.Note, 0)
	for _, note := range s.snapshotLocked() {
		if opts.Archived != nil && note.Archived != *opts.Archived {
			continue
		}
		if opts.Favorite != nil && note.Favorite != *opts.Favorite {
			continue
		}
		if opts.ParentID != nil && note.ParentID != *opts.ParentID {
			continue
		}
		if opts.Tag != "" && !containsTag(note.Tags, opts.Tag) {
			continue
		}
		matched = append(matched, note)
	}
	return matched
}

// enqueue appends an offline operation with a fresh identifier.
func (s *Store) enqueue(op queue.Operation) error {
	operationID, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("queue.id_generation_failed: %w", err)
	}
	op.ID = operationID
	op.EnqueuedAt = s.clock().UTC()
	s.queue.Enqueue(op)
	return nil
}

// acceptRemoteNote reconciles the optimistic record with the authoritative
// response, replacing client-generated identifiers and timestamps.
func (s *Store) acceptRemoteNote(optimisticID string, confirmed notes.Note) notes.Note {
	syncedAt := s.clock().UTC()
	confirmed.SyncState = notes.SyncStateSynced
	confirmed.LastSyncAt = &syncedAt
	confirmed.Stats = notes.ComputeStats(confirmed.Content)

	s.mu.Lock()
	if confirmed.ID != optimisticID {
		delete(s.collection, optimisticID)
		if s.selectedID == optimisticID {
			s.selectedID = confirmed.ID
		}
	}
	s.collection[confirmed.ID] = confirmed
	s.mu.Unlock()
	return confirmed.Clone()
}

func (s *Store) markNoteState(noteID string, state notes.SyncState) notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, exists := s.collection[noteID]
	if !exists {
		return notes.Note{}
	}
	note.SyncState = state
	s.collection[noteID] = note
	return note.Clone()
}

// validateParentLocked checks that a create under parentID keeps the new
// note within the depth bound.
func (s *Store) validateParentLocked(parentID string) error {
	parent, exists := s.collection[parentID]
	if !exists {
		return fmt.Errorf("%w: parent %s does not exist", notes.ErrHierarchy, parentID)
	}
	depth := 1
	current := parent
	for current.ParentID != "" && depth <= s.maxDepth {
		next, found := s.collection[current.ParentID]
		if !found {
			break
		}
		current = next
		depth++
	}
	if depth > s.maxDepth {
		return fmt.Errorf("%w: create exceeds depth limit %d", notes.ErrHierarchy, s.maxDepth)
	}
	return nil
}

func (s *Store) nextSiblingPositionLocked(parentID string) int {
	next := 0
	for _, note := range s.collection {
		if note.ParentID != parentID {
			continue
		}
		if note.Position >= next {
			next = note.Position + 1
		}
	}
	return next
}

func containsTag(tags []string, wanted string) bool {
	wanted = strings.ToLower(strings.TrimSpace(wanted))
	for _, tag := range tags {
		if tag == wanted {
			return true
		}
	}
	return false
}

func snippetAround(content, needle string) string {
	const snippetRadius = 40
	lowered := strings.ToLower(content)
	index := strings.Index(lowered, needle)
	if index < 0 {
		if len(content) <= 2*snippetRadius {
			return content
		}
		return content[:2*snippetRadius]
	}
	start := index - snippetRadius
	if start < 0 {
		start = 0
	}
	end := index + len(needle) + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}
