package counting

import (
	"math"
	"time"

	"lintas/internal/config"
)

// Lines is the pair of scan-lines for one frame, in that frame's pixel
// coordinates. Positions are derived each cycle by scaling the
// configured reference-resolution anchor to the actual frame size.
type Lines struct {
	Orientation string
	Line1       float64
	Line2       float64
}

// ComputeLines scales the configured line geometry to the given frame.
func ComputeLines(s *config.Settings, frameW, frameH int) Lines {
	offset := float64(s.LineOffset) * float64(frameH) / config.ReferenceHeight

	if s.LineOrientation == config.OrientationVertical {
		line1 := float64(s.Line1X) * float64(frameW) / config.ReferenceWidth
		return Lines{Orientation: s.LineOrientation, Line1: line1, Line2: line1 + offset}
	}

	line1 := float64(s.Line1Y) * float64(frameH) / config.ReferenceHeight
	return Lines{Orientation: s.LineOrientation, Line1: line1, Line2: line1 + offset}
}

// TriggerPoint is the single coordinate used for crossing tests: the
// bbox bottom edge for horizontal lines (the wheels reach the line),
// the horizontal center for vertical ones.
func (l Lines) TriggerPoint(b BBox) float64 {
	if l.Orientation == config.OrientationVertical {
		return (b.X1 + b.X2) / 2
	}
	return b.Y2
}

// AnchorTime parses the optional wall-clock anchor for timestamp
// synthesis ("2006-01-02 15:04:05"). The second return is false when
// the value was absent or unparseable and the current time was used.
func AnchorTime(startTimestamp string) (time.Time, bool) {
	if startTimestamp != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", startTimestamp, time.Local); err == nil {
			return t, true
		}
	}
	return time.Now(), false
}

// LineCounter drives the per-track crossing state machine. A track is
// born on first line contact (line 1 checked first on ties), crosses
// exactly once, and is terminal afterwards: re-crossings of a counted
// id never produce another event, which is what defeats double counts
// on line jitter.
type LineCounter struct {
	store  *TrackStore
	counts Counts
	anchor time.Time
}

// NewLineCounter builds a counter over the store. Counts start zeroed
// for every canonical class.
func NewLineCounter(store *TrackStore, s *config.Settings, anchor time.Time) *LineCounter {
	return &LineCounter{
		store:  store,
		counts: NewCounts(s.CountClasses),
		anchor: anchor,
	}
}

// Observe advances the state machine for one validated detection.
// Returns the count event when this observation completed a crossing.
func (c *LineCounter) Observe(det Detection, lines Lines, frame int, s *config.Settings) (CountEvent, bool) {
	tolerance := float64(s.DetectionTolerance)
	trigger := lines.TriggerPoint(det.Box)

	if t, ok := c.store.Get(det.TrackID); ok {
		if t.Counted {
			return CountEvent{}, false
		}

		var dir Direction
		switch {
		case t.Line == 1 && math.Abs(trigger-lines.Line2) < tolerance:
			dir = DirectionIn
		case t.Line == 2 && math.Abs(trigger-lines.Line1) < tolerance:
			dir = DirectionOut
		default:
			return CountEvent{}, false
		}

		t.Counted = true
		if t.Class != UnknownClass {
			cc := c.counts[t.Class]
			if dir == DirectionIn {
				cc.In++
			} else {
				cc.Out++
			}
			c.counts[t.Class] = cc
		}

		return CountEvent{
			Timestamp: c.timestamp(frame, s.TimestampFPS),
			TrackID:   det.TrackID,
			Class:     t.Class,
			Direction: dir,
		}, true
	}

	// Unseen id: a track only begins life on line contact.
	class := det.Class
	if !s.IsCountClass(class) {
		class = UnknownClass
	}
	switch {
	case math.Abs(trigger-lines.Line1) < tolerance:
		c.store.Create(det.TrackID, det.Box, class, 1, frame)
	case math.Abs(trigger-lines.Line2) < tolerance:
		c.store.Create(det.TrackID, det.Box, class, 2, frame)
	}
	return CountEvent{}, false
}

// Counts returns a copy of the totals.
func (c *LineCounter) Counts() Counts {
	return c.counts.Clone()
}

// timestamp synthesizes the event time: anchor + frame/fps seconds.
func (c *LineCounter) timestamp(frame int, fps float64) time.Time {
	return c.anchor.Add(time.Duration(float64(frame) / fps * float64(time.Second)))
}
