// Package store owns the authoritative in-memory note collection and wires
// the connectivity monitor, offline queue, and sync engine into one
// consistent snapshot with a defined action surface. External callers only
// read via snapshots and mutate via actions; no concurrent direct writers
// exist.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/connectivity"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/queue"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	enginesync "github.com/MarcoPoloResearchLab/driftnotes/internal/sync"
	"go.uber.org/zap"
)

var (
	errMissingRepository = errors.New("remote repository is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opCreateNote   = "store.create_note"
	opUpdateNote   = "store.update_note"
	opDeleteNote   = "store.delete_note"
	opSearchNotes  = "store.search_notes"
	opApplyRemote  = "store.apply_remote_collection"
	opPersistState = "store.persist_mirror"
)

// Config captures the dependencies for a notes store.
type Config struct {
	Repository remote.Repository
	Cache      cache.Cache
	// Monitor is optional; without it the store treats the remote as online
	// and never queues.
	Monitor    *connectivity.Monitor
	Scheduler  enginesync.Scheduler
	IDProvider notes.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger

	MaxDepth         int
	RetryBaseDelay   time.Duration
	RetryMaxAttempts int
	SyncInterval     time.Duration
}

// StatusReport is the combined sync status surface exposed to presentation
// layers, polled via SyncStatus or subscribed via Subscribe.
type StatusReport struct {
	State        enginesync.State `json:"state"`
	LastSyncAt   *time.Time       `json:"last_sync_at,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	QueueLength  int              `json:"queue_length"`
	PendingNotes int              `json:"pending_notes"`
	Online       bool             `json:"online"`
	Quality      string           `json:"quality"`
}

// Store is the single owner of the note collection, the derived tree, and
// the selection. All mutations run through its action surface and complete
// their optimistic step atomically under one lock.
type Store struct {
	repository remote.Repository
	cache      cache.Cache
	monitor    *connectivity.Monitor
	queue      *queue.Queue
	engine     *enginesync.Engine
	dispatcher *eventDispatcher
	idProvider notes.IDProvider
	clock      func() time.Time
	logger     *zap.Logger
	maxDepth   int

	mu         stdsync.Mutex
	collection map[string]notes.Note
	tree       []*notes.TreeNode
	selectedID string

	cancelMonitor func()
	closeOnce     stdsync.Once
}

// New validates the configuration, builds the offline queue and sync engine,
// and returns a store ready for Load and Start.
func New(cfg Config) (*Store, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = notes.MaxHierarchyDepth
	}

	store := &Store{
		repository: cfg.Repository,
		cache:      cfg.Cache,
		monitor:    cfg.Monitor,
		dispatcher: newEventDispatcher(),
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
		maxDepth:   maxDepth,
		collection: make(map[string]notes.Note),
	}

	store.queue = queue.New(queue.QueueConfig{Cache: cfg.Cache, Logger: logger})

	var online func() bool
	if cfg.Monitor != nil {
		online = cfg.Monitor.Online
	}
	engine, err := enginesync.NewEngine(enginesync.EngineConfig{
		Repository:   cfg.Repository,
		Queue:        store.queue,
		Scheduler:    cfg.Scheduler,
		Online:       online,
		OnCollection: store.applyRemoteCollection,
		BaseDelay:    cfg.RetryBaseDelay,
		MaxAttempts:  cfg.RetryMaxAttempts,
		SyncInterval: cfg.SyncInterval,
		Logger:       logger,
		Clock:        clock,
	})
	if err != nil {
		return nil, err
	}
	store.engine = engine

	if cfg.Monitor != nil {
		store.cancelMonitor = cfg.Monitor.Subscribe(store.onConnectivityChange)
	}

	return store, nil
}

// Load restores the persisted mirrors: note collection, offline queue, and
// selection. Notes with queued operations come back flagged pending. A
// missing or unreadable mirror starts empty; local persistence is best
// effort and never blocks operation.
func (s *Store) Load() {
	s.queue.Load()
	pending := s.queue.PendingNoteIDs()

	var restored []notes.Note
	if s.cache != nil && s.cache.Get(cache.KeyNoteCollection, &restored) {
		s.mu.Lock()
		for _, note := range restored {
			if _, queued := pending[note.ID]; queued {
				note.SyncState = notes.SyncStatePending
			}
			s.collection[note.ID] = note
		}
		s.rebuildTreeLocked()
		s.mu.Unlock()
		s.logger.Info("note collection restored", zap.Int("notes", len(restored)))
	}

	var selected string
	if s.cache != nil && s.cache.Get(cache.KeySelectedNote, &selected) {
		s.mu.Lock()
		if _, exists := s.collection[selected]; exists {
			s.selectedID = selected
		}
		s.mu.Unlock()
	}
}

// Start runs the connectivity monitor loop and arms the periodic sync timer.
func (s *Store) Start(ctx context.Context) {
	if s.monitor != nil {
		go s.monitor.Run(ctx)
	}
	s.engine.Start()
}

// Close tears down the monitor subscription and cancels the engine timers.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.cancelMonitor != nil {
			s.cancelMonitor()
		}
		if s.monitor != nil {
			s.monitor.Stop()
		}
		s.engine.Stop()
	})
}

// Subscribe registers a change-event listener.
func (s *Store) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return s.dispatcher.Subscribe(ctx)
}

// Snapshot returns the flat collection ordered by most recent update,
// cloned so callers cannot mutate store internals.
func (s *Store) Snapshot() []notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Note returns one note by identifier.
func (s *Store) Note(noteID string) (notes.Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, exists := s.collection[noteID]
	if !exists {
		return notes.Note{}, false
	}
	return note.Clone(), true
}

// Tree returns the current materialized forest. The returned nodes are a
// derived read-only view; they are replaced wholesale on the next rebuild.
func (s *Store) Tree() []*notes.TreeNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// QueueLength reports the number of pending offline operations.
func (s *Store) QueueLength() int {
	return s.queue.Len()
}

// PendingOperations returns the queued operations in FIFO order.
func (s *Store) PendingOperations() []queue.Operation {
	return s.queue.Operations()
}

// SyncStatus assembles the combined status surface.
func (s *Store) SyncStatus() StatusReport {
	engineStatus := s.engine.Status()
	report := StatusReport{
		State:        engineStatus.State,
		LastSyncAt:   engineStatus.LastSyncAt,
		QueueLength:  s.queue.Len(),
		PendingNotes: len(s.queue.PendingNoteIDs()),
		Quality:      string(connectivity.QualityOffline),
	}
	if engineStatus.LastError != nil {
		report.LastError = engineStatus.LastError.Error()
	}
	if s.monitor != nil {
		status := s.monitor.Status()
		report.Online = status.Online
		report.Quality = string(status.Quality)
	} else {
		report.Online = true
		report.Quality = string(connectivity.QualityGood)
	}
	return report
}

// ForceSync resets the retry budget and runs a sync cycle now.
func (s *Store) ForceSync(ctx context.Context) bool {
	return s.engine.ForceSync(ctx)
}

// TriggerSync runs a sync cycle unless one is already in flight.
func (s *Store) TriggerSync(ctx context.Context, trigger string) bool {
	return s.engine.TriggerSync(ctx, trigger)
}

// AbandonOperation permanently drops a queued operation, the explicit user
// action for abandoning a mutation that exhausted its retries. The affected
// note is flagged with an error state since its local divergence will no
// longer reach the remote store.
func (s *Store) AbandonOperation(operationID string) bool {
	var affectedNoteID string
	for _, op := range s.queue.Operations() {
		if op.ID == operationID {
			affectedNoteID = op.NoteID()
			break
		}
	}
	if !s.queue.Remove(operationID) {
		return false
	}
	if affectedNoteID != "" {
		s.mu.Lock()
		if note, exists := s.collection[affectedNoteID]; exists {
			note.SyncState = notes.SyncStateError
			s.collection[affectedNoteID] = note
		}
		s.mu.Unlock()
		s.finalizeMutation(affectedNoteID)
	}
	return true
}

// online reports whether actions should call the repository directly.
// Without a monitor the store assumes connectivity.
func (s *Store) online() bool {
	if s.monitor == nil {
		return true
	}
	return s.monitor.Online()
}

// onConnectivityChange reacts to a published monitor transition: going
// online with queued work starts a drain cycle.
func (s *Store) onConnectivityChange(status connectivity.Status) {
	s.dispatcher.Publish(Event{Type: EventConnectivity, Timestamp: s.clock().UTC()})
	if status.Online && s.queue.Len() > 0 {
		s.engine.TriggerSync(context.Background(), enginesync.TriggerReconnect)
	}
}

// applyRemoteCollection replaces local state with the authoritative remote
// collection at the end of a successful sync cycle.
func (s *Store) applyRemoteCollection(collection []notes.Note, syncedAt time.Time) {
	s.mu.Lock()
	replaced := make(map[string]notes.Note, len(collection))
	for _, note := range collection {
		note.SyncState = notes.SyncStateSynced
		at := syncedAt
		note.LastSyncAt = &at
		note.Stats = notes.ComputeStats(note.Content)
		replaced[note.ID] = note
	}
	s.collection = replaced
	if _, exists := s.collection[s.selectedID]; !exists {
		s.selectedID = ""
	}
	s.rebuildTreeLocked()
	s.mu.Unlock()

	s.persistMirror()
	if s.cache != nil {
		s.cache.Set(cache.KeyLastSync, syncedAt.UTC().Format(time.RFC3339Nano))
	}
	s.dispatcher.Publish(Event{Type: EventSyncStatus, Timestamp: syncedAt})
	s.dispatcher.Publish(Event{Type: EventNoteChanged, Timestamp: syncedAt})
	s.logger.Info("collection replaced from remote", zap.Int("notes", len(collection)))
}

// finalizeMutation is the shared tail of every action: rebuild the tree,
// persist the mirror, and publish the change.
func (s *Store) finalizeMutation(changedIDs ...string) {
	s.mu.Lock()
	s.rebuildTreeLocked()
	s.mu.Unlock()
	s.persistMirror()
	s.dispatcher.Publish(Event{
		Type:      EventNoteChanged,
		NoteIDs:   changedIDs,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Store) rebuildTreeLocked() {
	flat := make([]notes.Note, 0, len(s.collection))
	for _, note := range s.collection {
		flat = append(flat, note)
	}
	s.tree = notes.BuildTree(flat)
}

func (s *Store) snapshotLocked() []notes.Note {
	flat := make([]notes.Note, 0, len(s.collection))
	for _, note := range s.collection {
		flat = append(flat, note.Clone())
	}
	sort.SliceStable(flat, func(i, j int) bool {
		if !flat[i].UpdatedAt.Equal(flat[j].UpdatedAt) {
			return flat[i].UpdatedAt.After(flat[j].UpdatedAt)
		}
		return flat[i].ID < flat[j].ID
	})
	return flat
}

func (s *Store) persistMirror() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	flat := s.snapshotLocked()
	s.mu.Unlock()
	if !s.cache.Set(cache.KeyNoteCollection, flat) {
		s.logError(opPersistState, "mirror_write_failed", notes.ErrStorage)
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes store error", attrs...)
}

func (s *Store) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", fmt.Errorf("%s.id_generation_failed: %w", operation, err)
	}
	return id, nil
}
