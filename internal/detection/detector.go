// Package detection contains the tracking-oracle contract and its two
// client implementations: an HTTP tracking server and a managed Python
// worker subprocess. The oracle owns track id continuity; everything
// downstream only interprets the ids it hands out.
package detection

import (
	"context"

	"lintas/internal/counting"
)

// Result is one oracle round trip: the tracked detections for a frame
// and, when the oracle rendered one, an annotated JPEG of that frame.
type Result struct {
	Detections      []counting.Detection
	Annotated       []byte
	InferenceTimeMs float64
}

// Tracker is the detection oracle. Implementations must keep track ids
// stable across consecutive frames of the same stream.
type Tracker interface {
	// Start brings the oracle up and blocks until it is ready to accept
	// frames or the context is cancelled.
	Start(ctx context.Context) error

	// Track runs one JPEG frame through the oracle. confThreshold is the
	// confidence floor handed to the model for this frame.
	Track(frame []byte, confThreshold float64) (*Result, error)

	// Healthy reports whether the oracle can currently serve frames.
	Healthy() bool

	// Stop releases the oracle. Safe to call more than once.
	Stop() error
}
