package ws

import (
	"encoding/base64"
	"time"

	"lintas/internal/counting"
)

// CountUpdateMessage broadcasts the cumulative totals plus the
// crossings counted since the previous update.
type CountUpdateMessage struct {
	Type      string                `json:"type"` // "count_update"
	Timestamp time.Time             `json:"timestamp"`
	InTotal   int                   `json:"in_total"`
	OutTotal  int                   `json:"out_total"`
	Counts    counting.Counts       `json:"counts"`
	NewEvents []counting.CountEvent `json:"new_events,omitempty"`
}

// NewCountUpdateMessage creates a count update message.
func NewCountUpdateMessage(counts counting.Counts, newEvents []counting.CountEvent) *CountUpdateMessage {
	in, out := counts.Totals()
	return &CountUpdateMessage{
		Type:      "count_update",
		Timestamp: time.Now(),
		InTotal:   in,
		OutTotal:  out,
		Counts:    counts,
		NewEvents: newEvents,
	}
}

// FrameMessage carries one annotated JPEG for browser-side rendering.
type FrameMessage struct {
	Type      string    `json:"type"` // "frame"
	Timestamp time.Time `json:"timestamp"`
	Seq       int       `json:"seq"`
	Frame     string    `json:"frame"` // base64 encoded JPEG
}

// NewFrameMessage creates a frame message.
func NewFrameMessage(seq int, jpeg []byte) *FrameMessage {
	return &FrameMessage{
		Type:      "frame",
		Timestamp: time.Now(),
		Seq:       seq,
		Frame:     base64.StdEncoding.EncodeToString(jpeg),
	}
}

// StatusMessage reports a worker lifecycle transition.
type StatusMessage struct {
	Type      string    `json:"type"` // "status"
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// NewStatusMessage creates a status message.
func NewStatusMessage(status, errMsg string) *StatusMessage {
	return &StatusMessage{
		Type:      "status",
		Timestamp: time.Now(),
		Status:    status,
		Error:     errMsg,
	}
}
