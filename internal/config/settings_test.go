package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSurvivesValidate(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Validate()

	assert.Equal(t, 0.5, s.ConfidenceThreshold)
	assert.Equal(t, 50, s.LineOffset)
	assert.Equal(t, 25, s.DetectionTolerance)
	assert.Equal(t, OrientationHorizontal, s.LineOrientation)
	assert.Equal(t, 60, s.MaxInactiveFrames)
	assert.Equal(t, 30.0, s.TimestampFPS)
	assert.Len(t, s.CountClasses, 6)
}

func TestValidateClampsRanges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Settings)
		check  func(*testing.T, *Settings)
	}{
		{
			name:   "confidence too low",
			mutate: func(s *Settings) { s.ConfidenceThreshold = 0.01 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 0.1, s.ConfidenceThreshold) },
		},
		{
			name:   "confidence too high",
			mutate: func(s *Settings) { s.ConfidenceThreshold = 3.0 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 1.0, s.ConfidenceThreshold) },
		},
		{
			name:   "line offset",
			mutate: func(s *Settings) { s.LineOffset = 500 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 200, s.LineOffset) },
		},
		{
			name:   "size ratio",
			mutate: func(s *Settings) { s.MaxObjectSizeRatio = 0.95 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 0.8, s.MaxObjectSizeRatio) },
		},
		{
			name:   "movement threshold",
			mutate: func(s *Settings) { s.MinMovementThreshold = 9 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 2.0, s.MinMovementThreshold) },
		},
		{
			name:   "tracking frames",
			mutate: func(s *Settings) { s.MinTrackingFrames = 1 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 5, s.MinTrackingFrames) },
		},
		{
			name:   "roi margins",
			mutate: func(s *Settings) { s.ROIMarginX = 0.9; s.ROIMarginYBottom = 0.1 },
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 0.4, s.ROIMarginX)
				assert.Equal(t, 0.6, s.ROIMarginYBottom)
			},
		},
		{
			name:   "bad orientation resets",
			mutate: func(s *Settings) { s.LineOrientation = "Diagonal" },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, OrientationHorizontal, s.LineOrientation) },
		},
		{
			name:   "per-class confidence clamped",
			mutate: func(s *Settings) { s.ClassConfidence["Motor"] = 7 },
			check:  func(t *testing.T, s *Settings) { assert.Equal(t, 1.0, s.ClassConfidence["Motor"]) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(s)
			s.Validate()
			tc.check(t, s)
		})
	}
}

func TestValidateRestoresMissingTables(t *testing.T) {
	t.Parallel()

	s := &Settings{}
	s.Validate()

	assert.NotEmpty(t, s.ClassConfidence)
	assert.NotEmpty(t, s.ClassRules)
	assert.NotEmpty(t, s.BuildingClasses)
	assert.NotEmpty(t, s.CountClasses)
	assert.NotEmpty(t, s.ClassAliases)
}

func TestNormalizeClass(t *testing.T) {
	t.Parallel()

	s := Default()
	assert.Equal(t, "Gol 1", s.NormalizeClass("Gol I"))
	assert.Equal(t, "Gol 5", s.NormalizeClass("Gol V"))
	assert.Equal(t, "Gol 2", s.NormalizeClass("Gol 2"))
	assert.Equal(t, "Motor", s.NormalizeClass("Motor"))
	assert.Equal(t, "bus", s.NormalizeClass("bus"))
}

func TestConfidenceForFallsBack(t *testing.T) {
	t.Parallel()

	s := Default()
	s.ConfidenceThreshold = 0.42
	assert.Equal(t, 0.4, s.ConfidenceFor("Motor"))
	assert.Equal(t, 0.42, s.ConfidenceFor("unheard-of"))
}

func TestLoadMergesOverDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"confidence_threshold": 0.25, "line_offset": 80}`), 0644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.25, s.ConfidenceThreshold)
	assert.Equal(t, 80, s.LineOffset)
	// untouched keys keep defaults
	assert.Equal(t, OrientationHorizontal, s.LineOrientation)
	assert.Equal(t, 0.3, s.ROIMarginYTop)
	assert.NotEmpty(t, s.ClassRules)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default().ConfidenceThreshold, s.ConfidenceThreshold)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	s := Default()
	s.ConfidenceThreshold = 0.33
	s.LineOrientation = OrientationVertical
	require.NoError(t, s.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.33, got.ConfidenceThreshold)
	assert.Equal(t, OrientationVertical, got.LineOrientation)
}

func TestApplyProfile(t *testing.T) {
	t.Parallel()

	s := Default()
	s.Line1Y = 123
	s.LineOrientation = OrientationVertical

	require.NoError(t, s.ApplyProfile(ProfileSpeed))
	assert.Equal(t, 0.20, s.ConfidenceThreshold)
	assert.Equal(t, 40, s.DetectionTolerance)
	assert.Equal(t, 0.18, s.ClassConfidence["Motor"])
	// calibrated geometry is preserved
	assert.Equal(t, 123, s.Line1Y)
	assert.Equal(t, OrientationVertical, s.LineOrientation)

	require.NoError(t, s.ApplyProfile(ProfileAccuracy))
	assert.Equal(t, 0.35, s.ConfidenceThreshold)
	assert.Equal(t, 25, s.DetectionTolerance)

	assert.Error(t, s.ApplyProfile("turbo"))
}

func TestCloneIsolation(t *testing.T) {
	t.Parallel()

	s := Default()
	c := s.Clone()
	c.ClassConfidence["Motor"] = 0.99
	c.ClassAliases["X"] = "Y"
	c.BuildingClasses[0] = "changed"

	assert.Equal(t, 0.4, s.ClassConfidence["Motor"])
	_, ok := s.ClassAliases["X"]
	assert.False(t, ok)
	assert.Equal(t, "house", s.BuildingClasses[0])
}
