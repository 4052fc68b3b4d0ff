// Package counting implements the line-crossing vehicle counting core:
// detection validation, per-track movement state, and the crossing
// state machine. All mutable state in this package is owned by the
// single worker goroutine; nothing here locks.
package counting

import (
	"math"
	"time"
)

// BBox is an axis-aligned bounding box in frame-pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Center returns the box midpoint.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Width returns the box width in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// AspectRatio returns width/height, or 0 for a degenerate box.
func (b BBox) AspectRatio() float64 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Point is a position in frame-pixel coordinates.
type Point struct {
	X, Y float64
}

// Dist returns the Euclidean distance to q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Detection is one oracle output for one object in one frame. TrackID
// is assigned by the oracle and stable across frames for one physical
// object; this package never reassigns or merges ids.
type Detection struct {
	TrackID    int     `json:"track_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Direction of a counted crossing relative to the line pair.
type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// UnknownClass buckets detections whose class is not in the canonical
// count list. Unknown crossings are still counted (the track goes
// terminal) but never increment a class bucket.
const UnknownClass = "Unknown"

// ClassCount holds the two directional totals for one vehicle class.
type ClassCount struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// Counts maps vehicle class to directional totals. Entries only ever
// increase within a run.
type Counts map[string]ClassCount

// NewCounts returns a zeroed table for the given classes, so every
// bucket is present from the first snapshot on.
func NewCounts(classes []string) Counts {
	c := make(Counts, len(classes))
	for _, name := range classes {
		c[name] = ClassCount{}
	}
	return c
}

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Total returns the sum of all buckets in both directions.
func (c Counts) Total() int {
	in, out := c.Totals()
	return in + out
}

// Totals returns the directional sums across all classes.
func (c Counts) Totals() (in, out int) {
	for _, v := range c {
		in += v.In
		out += v.Out
	}
	return in, out
}

// CountEvent records one counted crossing. Emitted exactly once per
// track; the timestamp is synthesized from the run anchor and the
// frame number.
type CountEvent struct {
	Timestamp time.Time `json:"timestamp"`
	TrackID   int       `json:"track_id"`
	Class     string    `json:"class"`
	Direction Direction `json:"direction"`
}
