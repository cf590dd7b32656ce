package watcher

import (
	"context"
)

// Watcher defines the interface for watcher implementations.
// Watchers are long-running background tasks that poll chain state and feed
// the mutation handlers.
//
//go:generate mockgen -source=watcher.go -destination=../mocks/watcher.go -package=mocks -mock_names=Watcher=MockWatcher
type Watcher interface {
	// Start begins the watcher's main loop
	// This is a blocking call that runs until the context is canceled
	Start(ctx context.Context) error

	// Stop gracefully stops the watcher
	// This should wait for the in-progress cycle to complete
	Stop(ctx context.Context) error

	// Name returns the watcher's name for logging and identification
	Name() string
}
