package registers

import (
	"context"

	"github.com/wave-collector/pkg/acquisition"
)

// Agent is the top-level lifecycle of one acquisition station.
type Agent interface {
	Start() error                       // start the core and its collector
	Shutdown(ctx context.Context) error // stop the core, then close every sink
	Stats() acquisition.Stats
}

// WindowSink consumes windows emitted by the acquisition core.
type WindowSink interface {
	Handle(w acquisition.Window)
	Close() error
}
