package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	stdsync "sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/connectivity"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	enginesync "github.com/MarcoPoloResearchLab/driftnotes/internal/sync"
)

type manualClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(by time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(by)
	c.mu.Unlock()
}

type sequentialIDs struct {
	mu   stdsync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type stubProber struct {
	mu  stdsync.Mutex
	err error
}

func (p *stubProber) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubProber) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type stubRepository struct {
	mu            stdsync.Mutex
	stored        map[string]notes.Note
	pingErr       error
	failCreates   int
	failUpdates   int
	searchErr     error
	searchResults []remote.SearchResult
	createCalls   int
	updateCalls   int
	deleteCalls   int
	getAllCalls   int
}

func newStubRepository() *stubRepository {
	return &stubRepository{stored: make(map[string]notes.Note)}
}

func (r *stubRepository) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingErr
}

func (r *stubRepository) GetAll(ctx context.Context, filter remote.Filter) ([]notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getAllCalls++
	collection := make([]notes.Note, 0, len(r.stored))
	for _, note := range r.stored {
		collection = append(collection, note)
	}
	return collection, nil
}

func (r *stubRepository) Create(ctx context.Context, input notes.CreateInput) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.failCreates > 0 {
		r.failCreates--
		return notes.Note{}, &remote.OperationError{Operation: "POST /notes", StatusCode: http.StatusServiceUnavailable}
	}
	note := notes.Note{
		ID:       input.ID,
		Title:    input.Title,
		Content:  input.Content,
		ParentID: input.ParentID,
		Favorite: input.Favorite,
		Tags:     append([]string(nil), input.Tags...),
		Version:  1,
	}
	if input.Position != nil {
		note.Position = *input.Position
	}
	r.stored[note.ID] = note
	return note, nil
}

func (r *stubRepository) Update(ctx context.Context, input notes.UpdateInput) (notes.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.failUpdates > 0 {
		r.failUpdates--
		return notes.Note{}, &remote.OperationError{Operation: "PATCH /notes", StatusCode: http.StatusServiceUnavailable}
	}
	note, exists := r.stored[input.ID]
	if !exists {
		return notes.Note{}, &remote.OperationError{Operation: "PATCH /notes", StatusCode: http.StatusNotFound}
	}
	input.Apply(&note)
	note.Version++
	r.stored[note.ID] = note
	return note, nil
}

func (r *stubRepository) Delete(ctx context.Context, noteID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	if _, exists := r.stored[noteID]; !exists {
		return &remote.OperationError{Operation: "DELETE /notes", StatusCode: http.StatusNotFound}
	}
	delete(r.stored, noteID)
	return nil
}

func (r *stubRepository) Search(ctx context.Context, query string) ([]remote.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	return r.searchResults, nil
}

func (r *stubRepository) setPingErr(err error) {
	r.mu.Lock()
	r.pingErr = err
	r.mu.Unlock()
}

type storeFixture struct {
	store      *Store
	repository *stubRepository
	prober     *stubProber
	monitor    *connectivity.Monitor
	mirror     *cache.MemoryCache
	scheduler  *enginesync.ManualScheduler
	clock      *manualClock
	ids        *sequentialIDs
}

func newStoreFixture(t *testing.T, startOnline bool) *storeFixture {
	t.Helper()
	fixture := &storeFixture{
		repository: newStubRepository(),
		prober:     &stubProber{},
		mirror:     cache.NewMemoryCache(),
		scheduler:  enginesync.NewManualScheduler(),
		clock:      &manualClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		ids:        &sequentialIDs{},
	}
	if !startOnline {
		unreachable := errors.New("unreachable")
		fixture.prober.setErr(unreachable)
		fixture.repository.setPingErr(unreachable)
	}
	fixture.monitor = connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:        fixture.prober,
		ProbeTimeout:  time.Second,
		ProbeInterval: time.Hour,
		DebounceDelay: 0,
		Clock:         fixture.clock.Now,
	})

	built, err := New(Config{
		Repository: fixture.repository,
		Cache:      fixture.mirror,
		Monitor:    fixture.monitor,
		Scheduler:  fixture.scheduler,
		IDProvider: fixture.ids,
		Clock:      fixture.clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	fixture.store = built
	t.Cleanup(built.Close)

	// Publish the initial connectivity observation.
	fixture.monitor.CheckNow(context.Background())
	return fixture
}

// goOnline flips the probe to healthy and publishes the transition, which
// starts the reconnect drain when operations are queued.
func (f *storeFixture) goOnline() {
	f.prober.setErr(nil)
	f.repository.setPingErr(nil)
	f.clock.advance(time.Minute)
	f.monitor.CheckNow(context.Background())
}

func (f *storeFixture) goOffline() {
	unreachable := errors.New("unreachable")
	f.prober.setErr(unreachable)
	f.repository.setPingErr(unreachable)
	f.clock.advance(time.Minute)
	f.monitor.CheckNow(context.Background())
}

func (f *storeFixture) mustCreate(t *testing.T, input notes.CreateInput) notes.Note {
	t.Helper()
	note, err := f.store.CreateNote(context.Background(), input)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return note
}

func waitEvent(t *testing.T, stream <-chan Event, eventType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-stream:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}
