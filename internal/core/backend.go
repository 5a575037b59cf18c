package core

import "context"

// BackendConnection is the ordered upstream link to the canonical state owner.
// Spaces only write to it; inbound mutations come back through Hub.ApplyRemote.
type BackendConnection interface {
	Write(ctx context.Context, msg *BackMessage) error
}

// SpaceTracker is implemented by links that need to know which spaces have a
// local instance, typically to replay existing users when a space is created.
type SpaceTracker interface {
	WatchSpace(ctx context.Context, space string) error
	UnwatchSpace(ctx context.Context, space string) error
}

// DiscardBackend accepts every write and forwards nothing.
type DiscardBackend struct{}

func (DiscardBackend) Write(context.Context, *BackMessage) error { return nil }

// RemoteApplier accepts backend-originated messages. Hub implements it.
type RemoteApplier interface {
	ApplyRemote(ctx context.Context, msg SpaceMessage) error
}

var _ RemoteApplier = (*Hub)(nil)
