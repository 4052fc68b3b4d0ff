package counting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintas/internal/config"
)

func boxAt(x, y float64) BBox {
	return BBox{X1: x - 50, Y1: y - 25, X2: x + 50, Y2: y + 25}
}

func TestUpsertUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	s := NewTrackStore()
	s.Upsert(99, boxAt(100, 100), 5, 0.3)
	assert.Equal(t, 0, s.Len())
}

func TestCreateAndUpsert(t *testing.T) {
	t.Parallel()

	s := NewTrackStore()
	s.Create(7, boxAt(100, 100), "Gol 1", 1, 10)

	tr, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, "Gol 1", tr.Class)
	assert.Equal(t, 1, tr.Line)
	assert.False(t, tr.Counted)
	assert.Equal(t, 10, tr.FirstSeen)
	assert.Equal(t, 10, tr.LastSeen)
	assert.Len(t, tr.History, 1)

	// Two observations 10px apart accumulate 20px of travel.
	s.Upsert(7, boxAt(110, 100), 11, 0.3)
	s.Upsert(7, boxAt(120, 100), 12, 0.3)

	assert.Equal(t, 12, tr.LastSeen)
	assert.Equal(t, 2, tr.ValidDetections)
	assert.InDelta(t, 20.0, tr.TotalDistance, 1e-9)
	assert.Len(t, tr.History, 3)
}

func TestHistoryCapped(t *testing.T) {
	t.Parallel()

	s := NewTrackStore()
	s.Create(1, boxAt(0, 100), "Motor", 1, 0)
	for i := 1; i <= 50; i++ {
		s.Upsert(1, boxAt(float64(i), 100), i, 0.3)
	}

	tr, _ := s.Get(1)
	assert.Len(t, tr.History, 30)
	// Oldest entries dropped, newest kept.
	assert.InDelta(t, 50.0, tr.History[len(tr.History)-1].X, 1e-9)
	assert.InDelta(t, 21.0, tr.History[0].X, 1e-9)
}

func TestMovingFlagAfterWarmup(t *testing.T) {
	t.Parallel()

	t.Run("steady motion marks moving", func(t *testing.T) {
		s := NewTrackStore()
		s.Create(1, boxAt(0, 100), "Gol 1", 1, 0)
		// 2px per frame for 20 frames: well above the 0.3 threshold.
		for i := 1; i <= 20; i++ {
			s.Upsert(1, boxAt(float64(i*2), 100), i, 0.3)
		}
		tr, _ := s.Get(1)
		assert.True(t, tr.Moving)
	})

	t.Run("static object stays non-moving", func(t *testing.T) {
		s := NewTrackStore()
		s.Create(2, boxAt(100, 100), "Gol 1", 1, 0)
		for i := 1; i <= 20; i++ {
			s.Upsert(2, boxAt(100, 100), i, 0.3)
		}
		tr, _ := s.Get(2)
		assert.False(t, tr.Moving)
	})

	t.Run("no verdict inside warmup window", func(t *testing.T) {
		s := NewTrackStore()
		s.Create(3, boxAt(0, 100), "Gol 1", 1, 0)
		for i := 1; i <= 10; i++ {
			s.Upsert(3, boxAt(float64(i*5), 100), i, 0.3)
		}
		tr, _ := s.Get(3)
		assert.False(t, tr.Moving, "moving stays false until 15 frames tracked")
	})
}

func TestValidMovement(t *testing.T) {
	t.Parallel()

	cfg := config.Default() // min_tracking_frames 15, threshold 0.3

	t.Run("disabled validation always passes", func(t *testing.T) {
		off := cfg.Clone()
		off.EnableMovementValidation = false
		tr := &Track{FirstSeen: 0, LastSeen: 100, TotalDistance: 0}
		assert.True(t, tr.ValidMovement(off))
	})

	t.Run("grace period passes", func(t *testing.T) {
		tr := &Track{FirstSeen: 0, LastSeen: 10, TotalDistance: 0}
		assert.True(t, tr.ValidMovement(cfg))
	})

	t.Run("established static track fails", func(t *testing.T) {
		// 20 frames, 2px total: 0.1 px/frame average.
		tr := &Track{FirstSeen: 0, LastSeen: 20, TotalDistance: 2}
		assert.False(t, tr.ValidMovement(cfg))
	})

	t.Run("established moving track passes", func(t *testing.T) {
		tr := &Track{FirstSeen: 0, LastSeen: 20, TotalDistance: 30}
		assert.True(t, tr.ValidMovement(cfg))
	})
}

func TestReap(t *testing.T) {
	t.Parallel()

	t.Run("inactivity past the limit", func(t *testing.T) {
		s := NewTrackStore()
		tr := s.Create(1, boxAt(100, 100), "Gol 1", 1, 90)
		tr.LastSeen = 100
		tr.Moving = true

		removed := s.Reap(162, 60) // 62 frames inactive
		assert.Equal(t, []int{1}, removed)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("moving track within the limit survives", func(t *testing.T) {
		s := NewTrackStore()
		tr := s.Create(1, boxAt(100, 100), "Gol 1", 1, 40)
		tr.LastSeen = 100
		tr.Moving = true

		removed := s.Reap(160, 60) // exactly 60: not past the limit
		assert.Empty(t, removed)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("non-moving track evicted early", func(t *testing.T) {
		s := NewTrackStore()
		tr := s.Create(1, boxAt(100, 100), "Gol 1", 1, 0)
		tr.LastSeen = 100

		removed := s.Reap(131, 60) // 31 inactive, not moving
		assert.Equal(t, []int{1}, removed)
	})

	t.Run("non-moving track at the early boundary survives", func(t *testing.T) {
		s := NewTrackStore()
		tr := s.Create(1, boxAt(100, 100), "Gol 1", 1, 0)
		tr.LastSeen = 100

		removed := s.Reap(130, 60) // exactly 30 inactive
		assert.Empty(t, removed)
	})

	t.Run("collects then deletes across many tracks", func(t *testing.T) {
		s := NewTrackStore()
		for id := 1; id <= 10; id++ {
			tr := s.Create(id, boxAt(100, 100), "Gol 1", 1, 0)
			tr.Moving = id%2 == 0
			tr.LastSeen = 100
		}

		// 40 frames inactive: the five non-moving tracks go, the
		// moving ones stay.
		removed := s.Reap(140, 60)
		assert.Len(t, removed, 5)
		assert.Equal(t, 5, s.Len())
		for id := 2; id <= 10; id += 2 {
			_, ok := s.Get(id)
			assert.True(t, ok)
		}
	})
}
