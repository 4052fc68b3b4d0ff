package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lintas/internal/bus"
	"lintas/internal/counting"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "lintas.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	created, err := store.CreateSession("rtsp://gate-cam/stream")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := store.GetSession(created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rtsp://gate-cam/stream", got.Source)
	assert.Equal(t, SessionRunning, got.Status)
	assert.Zero(t, got.InTotal)
	assert.Zero(t, got.OutTotal)
	assert.Nil(t, got.EndedAt)
	assert.WithinDuration(t, created.StartedAt, got.StartedAt, time.Second)

	require.NoError(t, store.UpdateSessionTotals(created.ID, 7, 3))
	require.NoError(t, store.EndSession(created.ID, SessionStopped))

	got, err = store.GetSession(created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SessionStopped, got.Status)
	assert.Equal(t, 7, got.InTotal)
	assert.Equal(t, 3, got.OutTotal)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.EndedAt, 5*time.Second)
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	got, err := store.GetSession("no-such-session")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecentSessionsOrderAndLimit(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	first, err := store.CreateSession("video1.mp4")
	require.NoError(t, err)
	// started_at resolution is well below a millisecond, but keep the
	// ordering unambiguous.
	time.Sleep(5 * time.Millisecond)
	second, err := store.CreateSession("video2.mp4")
	require.NoError(t, err)

	sessions, err := store.RecentSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)

	sessions, err = store.RecentSessions(1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID)
}

func TestSaveAndListCountEvents(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	session, err := store.CreateSession("video.mp4")
	require.NoError(t, err)
	other, err := store.CreateSession("other.mp4")
	require.NoError(t, err)

	base := time.Date(2024, 4, 2, 8, 30, 0, 0, time.UTC)
	for i, class := range []string{"Gol 1", "Gol 2", "Motor"} {
		err := store.SaveCountEvent(&CountEventRecord{
			SessionID: session.ID,
			TrackID:   i + 1,
			Class:     class,
			Direction: "In",
			CountedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveCountEvent(&CountEventRecord{
		SessionID: other.ID,
		TrackID:   9,
		Class:     "Gol 5",
		Direction: "Out",
		CountedAt: base.Add(time.Hour),
	}))

	events, err := store.ListCountEvents(session.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Motor", events[0].Class)
	assert.Equal(t, "Gol 2", events[1].Class)
	assert.Equal(t, "Gol 1", events[2].Class)
	assert.Equal(t, session.ID, events[0].SessionID)
	assert.WithinDuration(t, base.Add(2*time.Minute), events[0].CountedAt, time.Second)

	since := base.Add(30 * time.Second)
	events, err = store.ListCountEvents(session.ID, &since, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = store.ListCountEvents(session.ID, nil, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Motor", events[0].Class)

	events, err = store.ListCountEvents("", nil, 0)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestSaveCountEventIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	session, err := store.CreateSession("video.mp4")
	require.NoError(t, err)

	event := &CountEventRecord{
		SessionID: session.ID,
		TrackID:   4,
		Class:     "Gol 3",
		Direction: "Out",
		CountedAt: time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveCountEvent(event))
	require.NotEmpty(t, event.ID)
	require.NoError(t, store.SaveCountEvent(event))

	events, err := store.ListCountEvents(session.ID, nil, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCountsByClass(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	session, err := store.CreateSession("video.mp4")
	require.NoError(t, err)
	other, err := store.CreateSession("other.mp4")
	require.NoError(t, err)

	base := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	rows := []struct {
		session   string
		class     string
		direction string
	}{
		{session.ID, "Gol 1", "In"},
		{session.ID, "Gol 1", "In"},
		{session.ID, "Gol 1", "Out"},
		{session.ID, "Motor", "In"},
		{other.ID, "Motor", "Out"},
	}
	for i, row := range rows {
		err := store.SaveCountEvent(&CountEventRecord{
			SessionID: row.session,
			TrackID:   i + 1,
			Class:     row.class,
			Direction: row.direction,
			CountedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	totals, err := store.CountsByClass(session.ID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, ClassTotal{Class: "Gol 1", In: 2, Out: 1}, totals[0])
	assert.Equal(t, ClassTotal{Class: "Motor", In: 1, Out: 0}, totals[1])

	totals, err = store.CountsByClass("")
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, ClassTotal{Class: "Motor", In: 1, Out: 1}, totals[1])
}

func TestDeleteOldEvents(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	session, err := store.CreateSession("video.mp4")
	require.NoError(t, err)

	base := time.Date(2024, 4, 2, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := store.SaveCountEvent(&CountEventRecord{
			SessionID: session.ID,
			TrackID:   i + 1,
			Class:     "Gol 1",
			Direction: "In",
			CountedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	deleted, err := store.DeleteOldEvents(base.Add(90 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	events, err := store.ListCountEvents(session.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.WithinDuration(t, base.Add(2*time.Hour), events[0].CountedAt, time.Second)
}

func TestRecorderPersistsPipelineEvents(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	session, err := store.CreateSession("rtsp://gate-cam/stream")
	require.NoError(t, err)

	eventBus := bus.New()
	defer eventBus.Close()
	unsubscribe := eventBus.Subscribe(NewRecorder(store, session.ID))
	defer unsubscribe()

	counts := counting.Counts{
		"Gol 1": {In: 1, Out: 0},
		"Motor": {In: 0, Out: 1},
	}
	stamp := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)
	eventBus.Publish(bus.NewCountsEvent(counts, []counting.CountEvent{
		{Timestamp: stamp, TrackID: 3, Class: "Gol 1", Direction: counting.DirectionIn},
		{Timestamp: stamp.Add(time.Second), TrackID: 5, Class: "Motor", Direction: counting.DirectionOut},
	}))

	events, err := store.ListCountEvents(session.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Motor", events[0].Class)
	assert.Equal(t, "Out", events[0].Direction)
	assert.Equal(t, 5, events[0].TrackID)
	assert.Equal(t, "Gol 1", events[1].Class)

	got, err := store.GetSession(session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.InTotal)
	assert.Equal(t, 1, got.OutTotal)
	assert.Equal(t, SessionRunning, got.Status)

	// A plain running status must not close the session.
	eventBus.Publish(bus.NewStatusEvent(bus.StatusRunning, ""))
	got, err = store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EndedAt)

	eventBus.Publish(bus.NewStatusEvent(bus.StatusFailed, "tracking failed: oracle gone"))
	got, err = store.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionFailed, got.Status)
	require.NotNil(t, got.EndedAt)
}
