package worker

import (
	"lintas/internal/config"
	"lintas/internal/counting"
)

// FrameInput is one frame handed to the worker. Settings, when present,
// replace the worker's settings wholesale at the start of the cycle
// that processes this frame.
type FrameInput struct {
	JPEG     []byte
	Width    int
	Height   int
	Seq      uint64
	Settings *config.Settings
}

// Result is one message emitted by the worker. The concrete types are
// ReadyResult, FatalResult, FrameResult and DataUpdateResult; consumers
// switch on them.
type Result interface {
	isResult()
}

// ReadyResult is emitted exactly once, after the oracle initialized and
// before the first frame is processed.
type ReadyResult struct{}

// FatalResult is emitted exactly once when the worker dies: either the
// oracle failed to initialize or a cycle failed mid-run. No further
// frames are processed after it.
type FatalResult struct {
	Message string
}

// FrameResult carries the annotated frame for one processed cycle.
// Unlike the other results it may be dropped when the consumer lags.
type FrameResult struct {
	Seq  uint64
	JPEG []byte
}

// DataUpdateResult carries a counts snapshot plus the crossings counted
// in the cycle that produced it. Emitted only on cycles that counted
// something.
type DataUpdateResult struct {
	Counts    counting.Counts
	NewEvents []counting.CountEvent
}

func (ReadyResult) isResult()      {}
func (FatalResult) isResult()      {}
func (FrameResult) isResult()      {}
func (DataUpdateResult) isResult() {}
