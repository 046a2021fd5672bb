// Package cache provides the durable key-value persistence capability used
// to mirror the note collection, the offline queue, and sync metadata. The
// mirror is best-effort: implementations never return errors, they degrade to
// boolean failure so the in-memory collection keeps working when local
// persistence is unavailable.
package cache

// Well-known cache keys. The values stored under these keys mirror the live
// entities; they are a backup, not the source of truth.
const (
	KeyNoteCollection = "notes.collection"
	KeyOfflineQueue   = "notes.queue"
	KeyLastSync       = "notes.last_sync"
	KeySelectedNote   = "notes.selected"
)

// Cache is the opaque get/set/remove capability. Get unmarshals the stored
// value into target and reports whether the key was present and decodable;
// when it reports false the target is left untouched, so callers preload it
// with their default. Set and Remove report success and never propagate the
// underlying failure.
type Cache interface {
	Get(key string, target any) bool
	Set(key string, value any) bool
	Remove(key string) bool
}
