package core

// EventKind is a notification the core emits to watchers.
type EventKind int

const (
	// EventSpaceMessage carries an add, update or remove for a space user.
	EventSpaceMessage EventKind = iota
	// EventWatching confirms the watcher is attached to a space.
	EventWatching
	// EventUnwatched confirms the watcher left a space.
	EventUnwatched
	// EventError notifies the watcher about a domain error.
	EventError
)

// Event is queued on a client and written out on the next flush.
type Event struct {
	Kind    EventKind
	Space   string
	Message *SubMessage
	Error   *CoreError
}
