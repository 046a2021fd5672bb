package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/queue"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	"go.uber.org/zap"
)

// State is the whole-engine sync status, distinct from the per-note state.
type State string

const (
	// StateSynced means the engine is idle and the last cycle succeeded.
	StateSynced State = "synced"
	// StateSyncing means a cycle is in flight. It doubles as the mutex that
	// prevents two cycles from running concurrently.
	StateSyncing State = "syncing"
	// StateError means the last cycle failed and a retry is pending or the
	// retry budget is exhausted.
	StateError State = "error"
)

const (
	defaultBaseDelay    = 2 * time.Second
	defaultMaxAttempts  = 5
	defaultSyncInterval = 5 * time.Minute

	opRunCycle = "sync.run_cycle"

	// TriggerReconnect marks a cycle started by a connectivity transition.
	TriggerReconnect = "reconnect"
	// TriggerPeriodic marks a cycle started by the repeating interval timer.
	TriggerPeriodic = "periodic"
	// TriggerRetry marks a cycle started by the backoff timer.
	TriggerRetry = "retry"
	// TriggerManual marks an explicit force-sync requested by the user.
	TriggerManual = "manual"
)

var (
	errMissingRepository = errors.New("remote repository is required")
	errMissingQueue      = errors.New("offline queue is required")
)

// EngineStatus is the engine's externally visible status surface.
type EngineStatus struct {
	State      State
	LastSyncAt *time.Time
	LastError  error
	Attempt    int
}

// EngineConfig captures the dependencies for a sync engine.
type EngineConfig struct {
	Repository remote.Repository
	Queue      *queue.Queue
	Scheduler  Scheduler
	// Online reports current connectivity; a nil hook assumes online.
	Online func() bool
	// OnCollection receives the authoritative collection after a successful
	// cycle so the owner can replace local state, rebuild the tree, and
	// persist the mirror.
	OnCollection func(collection []notes.Note, syncedAt time.Time)
	BaseDelay    time.Duration
	MaxAttempts  int
	SyncInterval time.Duration
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Engine runs the sync cycle state machine. A cycle is reachability check,
// queue drain, authoritative refetch, then hand-off to the owner; any failed
// step moves the engine to StateError and schedules an exponential-backoff
// retry.
type Engine struct {
	repository   remote.Repository
	queue        *queue.Queue
	scheduler    Scheduler
	online       func() bool
	onCollection func([]notes.Note, time.Time)
	baseDelay    time.Duration
	maxAttempts  int
	syncInterval time.Duration
	logger       *zap.Logger
	clock        func() time.Time

	mu             sync.Mutex
	state          State
	attempt        int
	lastSyncAt     *time.Time
	lastError      error
	cancelRetry    CancelFunc
	cancelPeriodic CancelFunc
}

// NewEngine validates the configuration and returns an idle engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	syncInterval := cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		repository:   cfg.Repository,
		queue:        cfg.Queue,
		scheduler:    scheduler,
		online:       cfg.Online,
		onCollection: cfg.OnCollection,
		baseDelay:    baseDelay,
		maxAttempts:  maxAttempts,
		syncInterval: syncInterval,
		logger:       logger,
		clock:        clock,
		state:        StateSynced,
	}, nil
}

// Start arms the periodic sync timer. The timer fires independently of the
// retry timer and both are canceled on Stop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.cancelPeriodic == nil {
		e.cancelPeriodic = e.scheduler.Repeat(e.syncInterval, func() {
			e.TriggerSync(context.Background(), TriggerPeriodic)
		})
	}
	e.mu.Unlock()
}

// Stop cancels the periodic and retry timers. An in-flight cycle runs to
// completion or failure; there is no mid-cycle cancellation.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancelPeriodic != nil {
		e.cancelPeriodic()
		e.cancelPeriodic = nil
	}
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	e.mu.Unlock()
}

// Status returns the engine's current status surface.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := EngineStatus{
		State:     e.state,
		LastError: e.lastError,
		Attempt:   e.attempt,
	}
	if e.lastSyncAt != nil {
		at := *e.lastSyncAt
		status.LastSyncAt = &at
	}
	return status
}

// TriggerSync runs one sync cycle. It is a no-op while another cycle is in
// flight or while the monitor reports offline; it reports whether a cycle
// ran. A manual trigger supersedes any pending retry timer.
func (e *Engine) TriggerSync(ctx context.Context, trigger string) bool {
	if e.online != nil && !e.online() {
		e.logger.Debug("sync skipped while offline", zap.String("trigger", trigger))
		return false
	}

	e.mu.Lock()
	if e.state == StateSyncing {
		e.mu.Unlock()
		return false
	}
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	e.state = StateSyncing
	e.mu.Unlock()

	e.runCycle(ctx, trigger)
	return true
}

// ForceSync resets the retry budget and runs a cycle immediately. This is
// the explicit user action that recovers from retry exhaustion.
func (e *Engine) ForceSync(ctx context.Context) bool {
	e.mu.Lock()
	e.attempt = 0
	if e.cancelRetry != nil {
		e.cancelRetry()
		e.cancelRetry = nil
	}
	e.mu.Unlock()
	return e.TriggerSync(ctx, TriggerManual)
}

func (e *Engine) runCycle(ctx context.Context, trigger string) {
	e.logger.Info("sync cycle started",
		zap.String("trigger", trigger),
		zap.Int("pending", e.queue.Len()))

	if err := e.repository.Ping(ctx); err != nil {
		e.fail(trigger, "reachability_check_failed", err)
		return
	}

	drained := e.queue.Drain(ctx, e.applyOperation)
	if drained.Err != nil {
		e.fail(trigger, "queue_drain_failed", drained.Err)
		return
	}

	collection, err := e.repository.GetAll(ctx, remote.Filter{})
	if err != nil {
		e.fail(trigger, "refetch_failed", err)
		return
	}

	syncedAt := e.clock().UTC()
	if e.onCollection != nil {
		e.onCollection(collection, syncedAt)
	}

	e.mu.Lock()
	e.state = StateSynced
	e.attempt = 0
	e.lastError = nil
	e.lastSyncAt = &syncedAt
	e.mu.Unlock()

	e.logger.Info("sync cycle completed",
		zap.String("trigger", trigger),
		zap.Int("applied", drained.Applied),
		zap.Int("notes", len(collection)))
}

// applyOperation replays one queued mutation against the repository by kind.
func (e *Engine) applyOperation(ctx context.Context, op queue.Operation) error {
	switch op.Kind {
	case queue.KindCreate:
		if op.Create == nil {
			return fmt.Errorf("%w: create payload missing", queue.ErrUnknownKind)
		}
		_, err := e.repository.Create(ctx, *op.Create)
		return err
	case queue.KindUpdate:
		if op.Update == nil {
			return fmt.Errorf("%w: update payload missing", queue.ErrUnknownKind)
		}
		_, err := e.repository.Update(ctx, *op.Update)
		return err
	case queue.KindDelete:
		if op.Delete == nil {
			return fmt.Errorf("%w: delete payload missing", queue.ErrUnknownKind)
		}
		err := e.repository.Delete(ctx, op.Delete.ID)
		if isNotFound(err) {
			// The note is already gone remotely; the delete is settled.
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %q", queue.ErrUnknownKind, op.Kind)
	}
}

// fail records the failed cycle and arms the backoff timer. The retry delay
// grows as baseDelay x 2^attempt; once attempts pass the cap the engine
// stays in StateError with the queue intact until ForceSync resets it.
func (e *Engine) fail(trigger, reason string, cause error) {
	e.mu.Lock()
	e.state = StateError
	e.attempt++
	attempt := e.attempt

	if attempt > e.maxAttempts {
		e.lastError = fmt.Errorf("%w: %d attempts: %v", notes.ErrRetryExhausted, attempt-1, cause)
		e.mu.Unlock()
		e.logger.Error("sync retries exhausted",
			zap.String("trigger", trigger),
			zap.String("reason", reason),
			zap.Int("attempts", attempt-1),
			zap.Error(cause))
		return
	}

	e.lastError = cause
	delay := e.baseDelay * (1 << attempt)
	e.cancelRetry = e.scheduler.AfterFunc(delay, func() {
		e.TriggerSync(context.Background(), TriggerRetry)
	})
	e.mu.Unlock()

	e.logger.Warn("sync cycle failed",
		zap.String("trigger", trigger),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay),
		zap.Error(cause))
}

func isNotFound(err error) bool {
	var operationError *remote.OperationError
	if errors.As(err, &operationError) {
		return operationError.StatusCode == http.StatusNotFound
	}
	return false
}
