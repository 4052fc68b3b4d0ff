// Package worker runs the counting pipeline: one goroutine that owns
// every piece of counting state, fed by a bounded frame queue and
// drained through a result channel. Frames go in, annotated frames and
// count updates come out.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"lintas/internal/config"
	"lintas/internal/counting"
	"lintas/internal/detection"
	"lintas/internal/overlay"
)

const (
	// frameQueueCap bounds the ingestion queue; the producer evicts the
	// oldest frame when it is full.
	frameQueueCap = 5
	// resultBufferCap buffers results toward the bridge. Frame results
	// are dropped when it fills; the other kinds block until delivered.
	resultBufferCap = 16
	// dequeuePoll bounds how long an idle cycle waits before re-checking
	// the stop signal.
	dequeuePoll = 50 * time.Millisecond
)

// Worker lifecycle states.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

// Stats describes pipeline progress. Returned by value.
type Stats struct {
	FramesEnqueued  uint64
	FramesDropped   uint64
	FramesProcessed uint64
	FramesEmitted   uint64
	ResultsDropped  uint64
	DetectionsSeen  uint64
	Rejections      uint64
	EventsCounted   uint64
	ActiveTracks    int
	LastInferenceMs float64
}

// Worker owns the counting state machine. Exactly one goroutine runs
// Run; EnqueueFrame may be called from any goroutine.
type Worker struct {
	tracker  detection.Tracker
	settings *config.Settings

	frameQ  chan FrameInput
	results chan Result

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	state    atomic.Value

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a worker around the given oracle. Settings may be nil to
// start from defaults; later frames can carry replacements.
func New(tracker detection.Tracker, s *config.Settings) *Worker {
	if s == nil {
		s = config.Default()
	}
	w := &Worker{
		tracker:  tracker,
		settings: s,
		frameQ:   make(chan FrameInput, frameQueueCap),
		results:  make(chan Result, resultBufferCap),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.state.Store(StateIdle)
	return w
}

// Results returns the channel the worker emits on. It is closed when
// Run exits.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Done is closed when Run has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns the current lifecycle state.
func (w *Worker) State() string {
	return w.state.Load().(string)
}

// GetStats returns a copy of the pipeline stats.
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

// EnqueueFrame offers a frame to the worker. When the queue is full the
// oldest queued frame is evicted so the pipeline always sees the
// freshest input.
func (w *Worker) EnqueueFrame(in FrameInput) {
	for {
		select {
		case w.frameQ <- in:
			w.statsMu.Lock()
			w.stats.FramesEnqueued++
			w.statsMu.Unlock()
			return
		default:
		}
		select {
		case <-w.frameQ:
			w.statsMu.Lock()
			w.stats.FramesDropped++
			w.statsMu.Unlock()
		default:
		}
	}
}

// Stop signals the worker to exit. It does not wait; use Done for that.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run executes the pipeline until Stop, context cancellation or a fatal
// error. It emits ReadyResult once the oracle is up; a failure before
// that emits a single FatalResult and the loop never starts.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer close(w.results)
	defer w.state.Store(StateStopped)

	if err := w.tracker.Start(ctx); err != nil {
		w.emitFatal(fmt.Errorf("oracle initialization failed: %w", err))
		return
	}
	defer w.tracker.Stop()

	// The timestamp anchor is fixed for the whole run: the operator's
	// start timestamp when one parses, otherwise now.
	anchor, ok := counting.AnchorTime(w.settings.StartTimestamp)
	if !ok {
		anchor = time.Now()
	}

	store := counting.NewTrackStore()
	counter := counting.NewLineCounter(store, w.settings, anchor)

	w.emitGuaranteed(ReadyResult{})
	w.state.Store(StateRunning)
	log.Printf("[Worker] ready, processing frames")

	frameNum := 0
	for {
		select {
		case <-w.stopCh:
			log.Printf("[Worker] stop requested after %d frames", frameNum)
			return
		case <-ctx.Done():
			log.Printf("[Worker] context cancelled after %d frames", frameNum)
			return
		case in := <-w.frameQ:
			frameNum++
			if err := w.processFrame(in, frameNum, store, counter); err != nil {
				w.emitFatal(fmt.Errorf("frame %d: %w", frameNum, err))
				return
			}
		case <-time.After(dequeuePoll):
		}
	}
}

// processFrame runs one full cycle: settings swap, line rescale, oracle
// round trip, validation, track bookkeeping, crossing checks, reaping,
// rendering, emission.
func (w *Worker) processFrame(in FrameInput, frameNum int, store *counting.TrackStore, counter *counting.LineCounter) error {
	if in.Settings != nil {
		w.settings = in.Settings
	}
	s := w.settings

	width, height := in.Width, in.Height
	if width <= 0 || height <= 0 {
		width, height = config.ReferenceWidth, config.ReferenceHeight
	}
	lines := counting.ComputeLines(s, width, height)

	result, err := w.tracker.Track(in.JPEG, s.ConfidenceThreshold)
	if err != nil {
		return fmt.Errorf("tracking failed: %w", err)
	}

	filter := counting.NewFilter(s)
	var newEvents []counting.CountEvent
	valid := make([]counting.Detection, 0, len(result.Detections))

	var seen, rejected, counted uint64
	for _, det := range result.Detections {
		det.Class = s.NormalizeClass(det.Class)
		seen++

		if ok, _ := filter.Validate(det, width, height); !ok {
			rejected++
			continue
		}
		valid = append(valid, det)

		if _, known := store.Get(det.TrackID); known {
			store.Upsert(det.TrackID, det.Box, frameNum, s.MinMovementThreshold)
			track, _ := store.Get(det.TrackID)
			if !track.ValidMovement(s) {
				store.Remove(det.TrackID)
				continue
			}
		}

		if event, ok := counter.Observe(det, lines, frameNum, s); ok {
			newEvents = append(newEvents, event)
			counted++
			log.Printf("[Worker] counted %s %s (track %d)", event.Class, event.Direction, event.TrackID)
		}
	}

	if removed := store.Reap(frameNum, s.MaxInactiveFrames); len(removed) > 0 {
		log.Printf("[Worker] reaped %d stale tracks", len(removed))
	}

	counts := counter.Counts()
	inTotal, outTotal := counts.Totals()

	jpeg := in.JPEG
	drawBoxes := true
	if len(result.Annotated) > 0 {
		jpeg = result.Annotated
		drawBoxes = false
	}
	annotated := overlay.Render(overlay.Frame{
		JPEG:       jpeg,
		Detections: valid,
		DrawBoxes:  drawBoxes,
		Lines:      lines,
		InTotal:    inTotal,
		OutTotal:   outTotal,
	})

	w.emitFrame(FrameResult{Seq: in.Seq, JPEG: annotated})

	if len(newEvents) > 0 {
		w.emitGuaranteed(DataUpdateResult{Counts: counts, NewEvents: newEvents})
	}

	w.statsMu.Lock()
	w.stats.FramesProcessed++
	w.stats.DetectionsSeen += seen
	w.stats.Rejections += rejected
	w.stats.EventsCounted += counted
	w.stats.ActiveTracks = store.Len()
	w.stats.LastInferenceMs = result.InferenceTimeMs
	w.statsMu.Unlock()

	return nil
}

// emitGuaranteed delivers ready, fatal and data results: it blocks
// until the consumer takes the message, giving up only on stop.
func (w *Worker) emitGuaranteed(r Result) {
	select {
	case w.results <- r:
	case <-w.stopCh:
	}
}

// emitFrame delivers annotated frames best-effort.
func (w *Worker) emitFrame(r FrameResult) {
	select {
	case w.results <- r:
		w.statsMu.Lock()
		w.stats.FramesEmitted++
		w.statsMu.Unlock()
	default:
		w.statsMu.Lock()
		w.stats.ResultsDropped++
		w.statsMu.Unlock()
	}
}

func (w *Worker) emitFatal(err error) {
	log.Printf("[Worker] fatal: %v", err)
	w.emitGuaranteed(FatalResult{Message: err.Error()})
}
