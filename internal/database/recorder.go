package database

import (
	"log"

	"lintas/internal/bus"
)

// Recorder persists pipeline output as it is published. Subscribe it to
// the event bus; counted crossings become count_events rows, counts
// snapshots refresh the session totals and a terminal status closes the
// session row.
type Recorder struct {
	store     *Store
	sessionID string
}

// NewRecorder returns a recorder writing into the given session.
func NewRecorder(store *Store, sessionID string) *Recorder {
	return &Recorder{store: store, sessionID: sessionID}
}

// OnPipelineEvent implements bus.Handler.
func (r *Recorder) OnPipelineEvent(event *bus.Event) {
	switch event.Kind {
	case bus.KindCounts:
		for i := range event.NewEvents {
			ev := &event.NewEvents[i]
			rec := &CountEventRecord{
				SessionID: r.sessionID,
				TrackID:   ev.TrackID,
				Class:     ev.Class,
				Direction: string(ev.Direction),
				CountedAt: ev.Timestamp,
			}
			if err := r.store.SaveCountEvent(rec); err != nil {
				log.Printf("[Recorder] failed to save count event: %v", err)
			}
		}
		in, out := event.Counts.Totals()
		if err := r.store.UpdateSessionTotals(r.sessionID, in, out); err != nil {
			log.Printf("[Recorder] failed to update session totals: %v", err)
		}
	case bus.KindStatus:
		if event.Status != bus.StatusStopped && event.Status != bus.StatusFailed {
			return
		}
		if err := r.store.EndSession(r.sessionID, event.Status); err != nil {
			log.Printf("[Recorder] failed to end session: %v", err)
		}
	}
}

var _ bus.Handler = (*Recorder)(nil)
