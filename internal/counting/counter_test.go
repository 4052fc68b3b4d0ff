package counting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintas/internal/config"
)

// scenarioSettings puts line 1 at y=300 and line 2 at y=350 on a
// 960x720 frame (scale factor 1), tolerance 25.
func scenarioSettings() *config.Settings {
	s := config.Default()
	s.LineOrientation = config.OrientationHorizontal
	s.Line1Y = 300
	s.LineOffset = 50
	s.DetectionTolerance = 25
	return s
}

// detAtBottom returns a Gol 1 detection whose bbox bottom edge sits at y.
func detAtBottom(id int, y float64) Detection {
	return Detection{TrackID: id, Class: "Gol 1", Confidence: 0.9, Box: BBox{X1: 400, Y1: y - 80, X2: 560, Y2: y}}
}

func TestComputeLines(t *testing.T) {
	t.Parallel()

	t.Run("horizontal scales by height", func(t *testing.T) {
		s := scenarioSettings()
		l := ComputeLines(s, 960, 720)
		assert.InDelta(t, 300.0, l.Line1, 1e-9)
		assert.InDelta(t, 350.0, l.Line2, 1e-9)

		l = ComputeLines(s, 1920, 1440)
		assert.InDelta(t, 600.0, l.Line1, 1e-9)
		assert.InDelta(t, 700.0, l.Line2, 1e-9)
	})

	t.Run("vertical scales anchor by width", func(t *testing.T) {
		s := scenarioSettings()
		s.LineOrientation = config.OrientationVertical
		s.Line1X = 300
		l := ComputeLines(s, 1920, 1440)
		assert.InDelta(t, 600.0, l.Line1, 1e-9)
	})
}

func TestTriggerPoint(t *testing.T) {
	t.Parallel()

	box := BBox{X1: 100, Y1: 200, X2: 300, Y2: 400}
	horiz := Lines{Orientation: config.OrientationHorizontal}
	vert := Lines{Orientation: config.OrientationVertical}

	assert.InDelta(t, 400.0, horiz.TriggerPoint(box), 1e-9, "bottom edge for horizontal lines")
	assert.InDelta(t, 200.0, vert.TriggerPoint(box), 1e-9, "center x for vertical lines")
}

func TestHorizontalCrossingScenario(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	samples := []float64{268, 301, 310, 352}
	var events []CountEvent
	for frame, y := range samples {
		d := detAtBottom(1, y)
		store.Upsert(d.TrackID, d.Box, frame, s.MinMovementThreshold)
		if ev, ok := counter.Observe(d, lines, frame, s); ok {
			events = append(events, ev)
		}

		switch frame {
		case 0:
			// 268 is 32px from line 1: outside tolerance, no track yet.
			assert.Equal(t, 0, store.Len())
		case 1:
			tr, ok := store.Get(1)
			require.True(t, ok, "301 is on line 1")
			assert.Equal(t, 1, tr.Line)
			assert.False(t, tr.Counted)
		case 2:
			tr, _ := store.Get(1)
			assert.False(t, tr.Counted, "310 is 40px short of line 2")
		}
	}

	require.Len(t, events, 1)
	assert.Equal(t, DirectionIn, events[0].Direction)
	assert.Equal(t, "Gol 1", events[0].Class)
	assert.Equal(t, 1, events[0].TrackID)

	tr, _ := store.Get(1)
	assert.True(t, tr.Counted)
	assert.Equal(t, ClassCount{In: 1}, counter.Counts()["Gol 1"])
}

func TestToleranceBand(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	// 298 is within 25px of line 1: the track initializes on first
	// sight. 330 is within 25px of line 2: that completes the crossing.
	_, ok := counter.Observe(detAtBottom(1, 298), lines, 0, s)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len())

	ev, ok := counter.Observe(detAtBottom(1, 330), lines, 1, s)
	require.True(t, ok)
	assert.Equal(t, DirectionIn, ev.Direction)

	// Exactly at the tolerance boundary is outside the band.
	_, ok = counter.Observe(detAtBottom(2, 325), lines, 2, s)
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len(), "325 is 25px from both lines, no init")
}

func TestOutDirection(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	// First sighting lands on line 2: track starts there, no skipping
	// straight to counted.
	_, ok := counter.Observe(detAtBottom(5, 352), lines, 0, s)
	assert.False(t, ok)
	tr, _ := store.Get(5)
	require.NotNil(t, tr)
	assert.Equal(t, 2, tr.Line)

	ev, ok := counter.Observe(detAtBottom(5, 299), lines, 8, s)
	require.True(t, ok)
	assert.Equal(t, DirectionOut, ev.Direction)
	assert.Equal(t, ClassCount{Out: 1}, counter.Counts()["Gol 1"])
}

func TestLine1WinsInitializationTie(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	s.LineOffset = 10 // lines at 300 and 310, both within 25px of 305
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	counter.Observe(detAtBottom(1, 305), lines, 0, s)
	tr, ok := store.Get(1)
	require.True(t, ok)
	assert.Equal(t, 1, tr.Line)
}

func TestCountedIsTerminal(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	counter.Observe(detAtBottom(1, 301), lines, 0, s)
	_, ok := counter.Observe(detAtBottom(1, 352), lines, 1, s)
	require.True(t, ok)

	// Wander back and forth over both lines: nothing more fires.
	for frame, y := range []float64{352, 301, 349, 300, 352} {
		_, ok := counter.Observe(detAtBottom(1, y), lines, 2+frame, s)
		assert.False(t, ok)
	}
	assert.Equal(t, ClassCount{In: 1}, counter.Counts()["Gol 1"])
}

func TestIdenticalReplayCountsOnce(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	stream := []float64{268, 301, 310, 330, 352}
	total := 0
	frame := 0
	for pass := 0; pass < 2; pass++ {
		for _, y := range stream {
			d := detAtBottom(42, y)
			store.Upsert(d.TrackID, d.Box, frame, s.MinMovementThreshold)
			if _, ok := counter.Observe(d, lines, frame, s); ok {
				total++
			}
			frame++
		}
	}

	assert.Equal(t, 1, total)
	assert.Equal(t, 1, counter.Counts().Total())
}

func TestUnknownClassCountsWithoutBucket(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	d := detAtBottom(9, 301)
	d.Class = "sedan" // not a canonical count class
	counter.Observe(d, lines, 0, s)

	d = detAtBottom(9, 352)
	d.Class = "sedan"
	ev, ok := counter.Observe(d, lines, 5, s)
	require.True(t, ok)
	assert.Equal(t, UnknownClass, ev.Class)
	assert.Equal(t, 0, counter.Counts().Total(), "unknown crossings never touch the buckets")

	tr, _ := store.Get(9)
	assert.True(t, tr.Counted)
}

func TestVerticalCrossing(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	s.LineOrientation = config.OrientationVertical
	s.Line1X = 300
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	center := func(id int, x float64) Detection {
		return Detection{TrackID: id, Class: "Motor", Confidence: 0.9, Box: BBox{X1: x - 40, Y1: 400, X2: x + 40, Y2: 500}}
	}

	counter.Observe(center(3, 302), lines, 0, s)
	tr, ok := store.Get(3)
	require.True(t, ok)
	assert.Equal(t, 1, tr.Line)

	ev, ok := counter.Observe(center(3, 351), lines, 4, s)
	require.True(t, ok)
	assert.Equal(t, DirectionIn, ev.Direction)
	assert.Equal(t, ClassCount{In: 1}, counter.Counts()["Motor"])
}

func TestFarFromLinesNoTrack(t *testing.T) {
	t.Parallel()

	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, time.Now())
	lines := ComputeLines(s, 960, 720)

	counter.Observe(detAtBottom(1, 500), lines, 0, s)
	assert.Equal(t, 0, store.Len())
}

func TestTimestampSynthesis(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)
	s := scenarioSettings()
	store := NewTrackStore()
	counter := NewLineCounter(store, s, anchor)
	lines := ComputeLines(s, 960, 720)

	counter.Observe(detAtBottom(1, 301), lines, 60, s)
	ev, ok := counter.Observe(detAtBottom(1, 352), lines, 90, s)
	require.True(t, ok)

	// 90 frames at the nominal 30 fps is three seconds past the anchor.
	assert.Equal(t, anchor.Add(3*time.Second), ev.Timestamp)
}

func TestAnchorTime(t *testing.T) {
	t.Parallel()

	at, ok := AnchorTime("2024-06-01 07:30:00")
	assert.True(t, ok)
	assert.Equal(t, 2024, at.Year())
	assert.Equal(t, 7, at.Hour())

	_, ok = AnchorTime("yesterday-ish")
	assert.False(t, ok)

	_, ok = AnchorTime("")
	assert.False(t, ok)
}
