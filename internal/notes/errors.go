// Package notes defines the core note entity, the hierarchy rules, and the
// shared error taxonomy the rest of the system classifies failures with.
package notes

import "errors"

var (
	// ErrConnectivity indicates the remote backend could not be reached at
	// all: the request never produced a usable response.
	ErrConnectivity = errors.New("notes: remote unreachable")
	// ErrRemoteOperation indicates the backend answered and rejected the
	// operation.
	ErrRemoteOperation = errors.New("notes: remote operation rejected")
	// ErrStorage indicates a local persistence failure. Local writes are best
	// effort, so this usually surfaces as a log entry rather than an action
	// error.
	ErrStorage = errors.New("notes: local storage failure")
	// ErrHierarchy indicates a create or move that would violate the tree
	// rules: a cycle, a missing parent, or the depth bound.
	ErrHierarchy = errors.New("notes: hierarchy violation")
	// ErrRetryExhausted indicates the sync engine spent its retry budget and
	// stopped scheduling further attempts until an explicit force sync.
	ErrRetryExhausted = errors.New("notes: sync retries exhausted")
	// ErrNoteNotFound indicates the referenced note is absent from the local
	// collection.
	ErrNoteNotFound = errors.New("notes: note not found")
)
