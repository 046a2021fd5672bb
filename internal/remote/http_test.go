package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
)

func newTestRepository(t *testing.T, handler http.Handler) *HTTPRepository {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	repository, err := NewHTTPRepository(HTTPRepositoryConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repository
}

func TestNewHTTPRepositoryRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPRepository(HTTPRepositoryConfig{BaseURL: "  "}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestPingHealthyBackend(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := repository.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestPingServerErrorIsConnectivityFailure(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := repository.Ping(context.Background())
	if !errors.Is(err, notes.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestPingUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	repository, err := NewHTTPRepository(HTTPRepositoryConfig{BaseURL: baseURL})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	if err := repository.Ping(context.Background()); !errors.Is(err, notes.ErrConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestCreateSendsClientIDAndDecodesResponse(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var input notes.CreateInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if input.ID != "client-1" {
			t.Errorf("client-generated id must be forwarded, got %q", input.ID)
		}
		json.NewEncoder(w).Encode(notes.Note{ID: input.ID, Title: input.Title, Version: 1})
	}))

	created, err := repository.Create(context.Background(), notes.CreateInput{ID: "client-1", Title: "hello"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created.ID != "client-1" || created.Version != 1 {
		t.Fatalf("unexpected created note: %+v", created)
	}
}

func TestRejectionCarriesStatusAndUnwrapsToRemoteOperation(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "title conflict", http.StatusConflict)
	}))

	_, err := repository.Create(context.Background(), notes.CreateInput{Title: "dup"})
	if !errors.Is(err, notes.ErrRemoteOperation) {
		t.Fatalf("expected remote operation error, got %v", err)
	}
	var operationError *OperationError
	if !errors.As(err, &operationError) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if operationError.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status %d", operationError.StatusCode)
	}
	if operationError.Body != "title conflict" {
		t.Fatalf("unexpected body %q", operationError.Body)
	}
}

func TestGetAllEncodesFilter(t *testing.T) {
	archived := false
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("archived"); got != "false" {
			t.Errorf("unexpected archived filter %q", got)
		}
		json.NewEncoder(w).Encode([]notes.Note{{ID: "n1"}})
	}))

	collection, err := repository.GetAll(context.Background(), Filter{Archived: &archived})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(collection) != 1 || collection[0].ID != "n1" {
		t.Fatalf("unexpected collection: %+v", collection)
	}
}

func TestDeleteNotFoundSurfacesStatus(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	err := repository.Delete(context.Background(), "missing")
	var operationError *OperationError
	if !errors.As(err, &operationError) || operationError.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 operation error, got %v", err)
	}
}

func TestSearchEscapesQuery(t *testing.T) {
	repository := newTestRepository(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "oat milk & eggs" {
			t.Errorf("unexpected query %q", got)
		}
		json.NewEncoder(w).Encode([]SearchResult{{NoteID: "n1", Title: "groceries"}})
	}))

	results, err := repository.Search(context.Background(), "oat milk & eggs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].NoteID != "n1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}
