package store

import (
	"context"
	"sync"
	"time"
)

const (
	// EventNoteChanged reports that one or more notes mutated.
	EventNoteChanged = "note-change"
	// EventSyncStatus reports an engine status change.
	EventSyncStatus = "sync-status"
	// EventConnectivity reports an online/offline transition.
	EventConnectivity = "connectivity"
)

// Event is one store change notification delivered to subscribers.
type Event struct {
	Type      string
	NoteIDs   []string
	Timestamp time.Time
}

type eventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan Event
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		subscribers: make(map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener whose stream receives events until the
// context ends or the cleanup func runs. Slow listeners drop events rather
// than block the store.
func (d *eventDispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *eventDispatcher) Publish(event Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*eventSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *eventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *eventDispatcher) registerSubscriber(subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *eventDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
