package counting

import (
	"lintas/internal/config"
)

const (
	// historyLimit caps the per-track position history.
	historyLimit = 30

	// movementWarmupFrames is how long a track must exist before its
	// moving flag is recomputed. Half a second at the nominal 30 fps.
	movementWarmupFrames = 15

	// staleNotMovingFrames evicts non-moving tracks well before the
	// configured inactivity limit; a stationary "vehicle" is far more
	// likely a misdetected fixed object than slow traffic.
	staleNotMovingFrames = 30
)

// Track is the per-object continuity state. A track is created the
// first time a valid detection touches one of the counting lines and
// belongs to that initial line for its whole life.
type Track struct {
	ID              int
	Class           string
	Line            int // 1 or 2, the line the track initialized on
	Counted         bool
	FirstSeen       int
	LastSeen        int
	History         []Point
	TotalDistance   float64
	Moving          bool
	ValidDetections int
}

// FramesTracked returns how many frames the track has existed.
func (t *Track) FramesTracked() int {
	return t.LastSeen - t.FirstSeen
}

// ValidMovement reports whether the track's motion pattern is
// vehicle-like. Disabled validation always passes; young tracks pass
// on grace; established tracks must average at least the configured
// per-frame displacement.
func (t *Track) ValidMovement(s *config.Settings) bool {
	if !s.EnableMovementValidation {
		return true
	}
	frames := t.FramesTracked()
	if frames < s.MinTrackingFrames {
		return true
	}
	return t.TotalDistance/float64(frames) >= s.MinMovementThreshold
}

// TrackStore owns the track-id → state mapping. It is mutated only by
// the worker goroutine; accessors that cross that boundary must copy.
type TrackStore struct {
	tracks map[int]*Track
}

// NewTrackStore returns an empty store.
func NewTrackStore() *TrackStore {
	return &TrackStore{tracks: make(map[int]*Track)}
}

// Get returns the track for id if one exists.
func (s *TrackStore) Get(id int) (*Track, bool) {
	t, ok := s.tracks[id]
	return t, ok
}

// Len returns the number of live tracks.
func (s *TrackStore) Len() int {
	return len(s.tracks)
}

// Create initializes a new track with a single-point history. Creation
// happens only on first line contact, which is the counter's call to
// make; the store just records it.
func (s *TrackStore) Create(id int, box BBox, class string, line, frame int) *Track {
	t := &Track{
		ID:        id,
		Class:     class,
		Line:      line,
		FirstSeen: frame,
		LastSeen:  frame,
		History:   []Point{box.Center()},
	}
	s.tracks[id] = t
	return t
}

// Upsert updates an existing track with a fresh observation: appends
// the center to the history (capped), accumulates travelled distance,
// and past the warmup window recomputes the moving flag against
// minMovement. Unknown ids are a no-op, by contract.
func (s *TrackStore) Upsert(id int, box BBox, frame int, minMovement float64) {
	t, ok := s.tracks[id]
	if !ok {
		return
	}

	center := box.Center()
	if n := len(t.History); n > 0 {
		t.TotalDistance += t.History[n-1].Dist(center)
	}
	t.History = append(t.History, center)
	if len(t.History) > historyLimit {
		t.History = t.History[len(t.History)-historyLimit:]
	}

	t.LastSeen = frame
	t.ValidDetections++

	if frames := t.FramesTracked(); frames > movementWarmupFrames {
		t.Moving = t.TotalDistance/float64(frames) > minMovement
	}
}

// Remove deletes the track. Other components address tracks only by id
// through this store, so no dangling references survive.
func (s *TrackStore) Remove(id int) {
	delete(s.tracks, id)
}

// Reap evicts stale tracks: anything inactive longer than maxInactive
// frames, and non-moving tracks after a much shorter window. Collects
// first, deletes second, so the map is never mutated mid-iteration.
// Returns the removed ids.
func (s *TrackStore) Reap(frame, maxInactive int) []int {
	var stale []int
	for id, t := range s.tracks {
		inactive := frame - t.LastSeen
		switch {
		case inactive > maxInactive:
			stale = append(stale, id)
		case inactive > staleNotMovingFrames && !t.Moving:
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(s.tracks, id)
	}
	return stale
}
