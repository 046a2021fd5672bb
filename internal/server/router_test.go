package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/store"
	"github.com/gin-gonic/gin"
)

type fakeRepository struct {
	mu          stdsync.Mutex
	stored      map[string]notes.Note
	failCreates int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{stored: make(map[string]notes.Note)}
}

func (r *fakeRepository) Ping(ctx context.Context) error { return nil }

func (r *fakeRepository) GetAll(ctx context.Context, filter remote.Filter) ([]notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	collection := make([]notes.Note, 0, len(r.stored))
	for _, note := range r.stored {
		collection = append(collection, note)
	}
	return collection, nil
}

func (r *fakeRepository) Create(ctx context.Context, input notes.CreateInput) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreates > 0 {
		r.failCreates--
		return notes.Note{}, &remote.OperationError{Operation: "POST /notes", StatusCode: http.StatusServiceUnavailable}
	}
	note := notes.Note{
		ID:       input.ID,
		Title:    input.Title,
		Content:  input.Content,
		ParentID: input.ParentID,
		Version:  1,
	}
	if input.Position != nil {
		note.Position = *input.Position
	}
	r.stored[note.ID] = note
	return note, nil
}

func (r *fakeRepository) Update(ctx context.Context, input notes.UpdateInput) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	note, exists := r.stored[input.ID]
	if !exists {
		return notes.Note{}, &remote.OperationError{Operation: "PATCH /notes", StatusCode: http.StatusNotFound}
	}
	input.Apply(&note)
	note.Version++
	r.stored[note.ID] = note
	return note, nil
}

func (r *fakeRepository) Delete(ctx context.Context, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stored, noteID)
	return nil
}

func (r *fakeRepository) Search(ctx context.Context, query string) ([]remote.SearchResult, error) {
	return []remote.SearchResult{{NoteID: "r1", Title: "remote match", Snippet: query}}, nil
}

type apiFixture struct {
	handler    http.Handler
	store      *store.Store
	repository *fakeRepository
}

type countingIDs struct {
	mu   stdsync.Mutex
	next int
}

func (p *countingIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("note-%d", p.next), nil
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repository := newFakeRepository()
	noteStore, err := store.New(store.Config{
		Repository: repository,
		Cache:      cache.NewMemoryCache(),
		IDProvider: &countingIDs{},
	})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{Store: noteStore})
	if err != nil {
		t.Fatalf("handler construction failed: %v", err)
	}
	return &apiFixture{handler: handler, store: noteStore, repository: repository}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f *apiFixture) createNote(t *testing.T, payload map[string]any) notes.Note {
	t.Helper()
	response := f.do(t, http.MethodPost, "/notes", payload)
	if response.Code != http.StatusOK {
		t.Fatalf("create returned %d: %s", response.Code, response.Body.String())
	}
	var created notes.Note
	if err := json.Unmarshal(response.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func TestCreateNoteEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)

	created := fixture.createNote(t, map[string]any{"title": "hello", "content": "world"})
	if created.ID == "" {
		t.Fatalf("expected assigned identifier")
	}
	if created.SyncState != notes.SyncStateSynced {
		t.Fatalf("online create must come back synced, got %s", created.SyncState)
	}
}

func TestCreateNoteRejectsMalformedBody(t *testing.T) {
	fixture := newAPIFixture(t)
	request := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCreateNoteBlankTitleRejected(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodPost, "/notes", map[string]any{"title": "   "})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", response.Code, response.Body.String())
	}
}

func TestRemoteRejectionPreservesLocalNote(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.repository.failCreates = 1

	response := fixture.do(t, http.MethodPost, "/notes", map[string]any{"title": "doomed"})
	if response.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Error          string     `json:"error"`
		LocalPreserved bool       `json:"local_preserved"`
		Note           notes.Note `json:"note"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.LocalPreserved || payload.Note.ID == "" {
		t.Fatalf("rejection must carry the preserved note: %+v", payload)
	}
	if _, exists := fixture.store.Note(payload.Note.ID); !exists {
		t.Fatalf("optimistic note must survive the rejection")
	}
}

func TestUpdateUnknownNoteReturns404(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodPatch, "/notes/missing", map[string]any{"content": "x"})
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}

func TestMoveUnderDescendantReturns422(t *testing.T) {
	fixture := newAPIFixture(t)
	parent := fixture.createNote(t, map[string]any{"title": "parent"})
	child := fixture.createNote(t, map[string]any{"title": "child", "parent_id": parent.ID})

	response := fixture.do(t, http.MethodPost, "/notes/"+parent.ID+"/move", map[string]any{
		"parent_id": child.ID,
		"position":  0,
	})
	if response.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", response.Code, response.Body.String())
	}
}

func TestDeleteNoteEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	note := fixture.createNote(t, map[string]any{"title": "doomed"})

	response := fixture.do(t, http.MethodDelete, "/notes/"+note.ID, nil)
	if response.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", response.Code)
	}
	if _, exists := fixture.store.Note(note.ID); exists {
		t.Fatalf("note must be removed")
	}
}

func TestDeleteUnknownNoteReturns404(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodDelete, "/notes/missing", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}

func TestDuplicateNoteEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	note := fixture.createNote(t, map[string]any{"title": "original"})

	response := fixture.do(t, http.MethodPost, "/notes/"+note.ID+"/duplicate", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	var copied notes.Note
	if err := json.Unmarshal(response.Body.Bytes(), &copied); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if copied.Title != "original (copy)" {
		t.Fatalf("unexpected duplicate title %q", copied.Title)
	}
}

func TestReorderRequiresOrderedIDs(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodPost, "/notes/reorder", map[string]any{"ordered_ids": []string{}})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestNoteTreeEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	parent := fixture.createNote(t, map[string]any{"title": "parent"})
	fixture.createNote(t, map[string]any{"title": "child", "parent_id": parent.ID})

	response := fixture.do(t, http.MethodGet, "/notes/tree", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var forest []notes.TreeNode
	if err := json.Unmarshal(response.Body.Bytes(), &forest); err != nil {
		t.Fatalf("decode tree: %v", err)
	}
	if len(forest) != 1 || len(forest[0].Children) != 1 {
		t.Fatalf("expected one root with one child, got %s", response.Body.String())
	}
}

func TestListNotesFiltersByFavorite(t *testing.T) {
	fixture := newAPIFixture(t)
	fixture.createNote(t, map[string]any{"title": "plain"})
	fixture.createNote(t, map[string]any{"title": "starred", "favorite": true})

	response := fixture.do(t, http.MethodGet, "/notes?favorite=true", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var listed []notes.Note
	if err := json.Unmarshal(response.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].Title != "starred" {
		t.Fatalf("unexpected filtered notes: %+v", listed)
	}
}

func TestSearchEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodGet, "/search?q=milk", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var results []remote.SearchResult
	if err := json.Unmarshal(response.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].NoteID != "r1" {
		t.Fatalf("unexpected search results: %+v", results)
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodGet, "/sync/status", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}
	var report store.StatusReport
	if err := json.Unmarshal(response.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !report.Online || report.QueueLength != 0 {
		t.Fatalf("unexpected status report: %+v", report)
	}
}

func TestForceSyncEndpoint(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodPost, "/sync/force", nil)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", response.Code)
	}
	var payload struct {
		Started bool `json:"started"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.Started {
		t.Fatalf("expected force sync to start a cycle")
	}
}

func TestAbandonUnknownOperationReturns404(t *testing.T) {
	fixture := newAPIFixture(t)
	response := fixture.do(t, http.MethodPost, "/queue/missing/abandon", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}
