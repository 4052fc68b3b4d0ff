package worker

import (
	"log"

	"lintas/internal/bus"
)

// Bridge pumps worker results onto the event bus, translating the
// result union into bus events for the websocket hub, the MJPEG stream,
// the persistence writer and the notifier.
type Bridge struct {
	worker   *Worker
	eventBus *bus.Bus
}

// NewBridge wires a worker to an event bus.
func NewBridge(w *Worker, b *bus.Bus) *Bridge {
	return &Bridge{worker: w, eventBus: b}
}

// Run consumes results until the worker's channel closes. It publishes
// a final stopped status unless the worker died with a fatal error,
// which already published a failure.
func (br *Bridge) Run() {
	failed := false
	for r := range br.worker.Results() {
		switch v := r.(type) {
		case ReadyResult:
			br.eventBus.Publish(bus.NewStatusEvent(bus.StatusRunning, ""))
		case FatalResult:
			failed = true
			log.Printf("[Bridge] worker failed: %s", v.Message)
			br.eventBus.Publish(bus.NewStatusEvent(bus.StatusFailed, v.Message))
		case FrameResult:
			br.eventBus.Publish(bus.NewFrameEvent(int(v.Seq), v.JPEG))
		case DataUpdateResult:
			br.eventBus.Publish(bus.NewCountsEvent(v.Counts, v.NewEvents))
		}
	}
	if !failed {
		br.eventBus.Publish(bus.NewStatusEvent(bus.StatusStopped, ""))
	}
}
