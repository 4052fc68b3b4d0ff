package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Reference resolution for line coordinates. Line anchors are configured
// against this size and rescaled to the actual frame each cycle.
const (
	ReferenceWidth  = 960
	ReferenceHeight = 720
)

// Line orientations
const (
	OrientationHorizontal = "Horizontal"
	OrientationVertical   = "Vertical"
)

// ClassRule bounds the plausible geometry of one vehicle class.
// Size ratios are bbox area / frame area, aspect is width / height.
type ClassRule struct {
	MinSizeRatio float64 `json:"min_size_ratio"`
	MaxSizeRatio float64 `json:"max_size_ratio"`
	MinAspect    float64 `json:"min_aspect"`
	MaxAspect    float64 `json:"max_aspect"`
}

// Settings is the counting pipeline configuration. The worker holds one
// immutable snapshot per cycle; updates arrive as a whole replacement
// snapshot attached to a frame, never as a partial merge mid-cycle.
type Settings struct {
	// Detection
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	ClassConfidence     map[string]float64 `json:"class_confidence"`

	// Counting lines (reference-resolution coordinates)
	LineOrientation    string `json:"line_orientation"`
	LineOffset         int    `json:"line_offset"`
	Line1X             int    `json:"line1_x"`
	Line1Y             int    `json:"line1_y"`
	DetectionTolerance int    `json:"detection_tolerance"`

	// Region of interest
	EnableROIFilter  bool    `json:"enable_roi_filter"`
	ROIMarginX       float64 `json:"roi_margin_x"`
	ROIMarginYTop    float64 `json:"roi_margin_y_top"`
	ROIMarginYBottom float64 `json:"roi_margin_y_bottom"`

	// Plausibility
	MaxObjectSizeRatio float64              `json:"max_object_size_ratio"`
	BuildingClasses    []string             `json:"building_classes"`
	ClassRules         map[string]ClassRule `json:"class_rules"`

	// Movement validation
	EnableMovementValidation bool    `json:"enable_movement_validation"`
	MinMovementThreshold     float64 `json:"min_movement_threshold"`
	MinTrackingFrames        int     `json:"min_tracking_frames"`

	// Track lifecycle
	MaxInactiveFrames int `json:"max_inactive_frames"`

	// Timestamp synthesis
	TimestampFPS   float64 `json:"timestamp_fps"`
	StartTimestamp string  `json:"start_timestamp_user,omitempty"`

	// Class naming. CountClasses is the canonical golongan list; aliases
	// map oracle naming variants onto it before any table lookup.
	CountClasses []string          `json:"count_classes"`
	ClassAliases map[string]string `json:"class_aliases"`
}

// Default returns the baseline settings. Values mirror the tuning the
// counting model ships with; every table is keyed by canonical class
// names only, variants are handled through ClassAliases.
func Default() *Settings {
	return &Settings{
		ConfidenceThreshold: 0.5,
		ClassConfidence: map[string]float64{
			"Motor": 0.4,
			"Gol 1": 0.5,
			"Gol 2": 0.5,
			"Gol 3": 0.5,
			"Gol 4": 0.6,
			"Gol 5": 0.6,
		},

		LineOrientation:    OrientationHorizontal,
		LineOffset:         50,
		Line1X:             ReferenceWidth/2 - 25,
		Line1Y:             ReferenceHeight/2 - 25,
		DetectionTolerance: 25,

		EnableROIFilter:  true,
		ROIMarginX:       0.1,
		ROIMarginYTop:    0.3,
		ROIMarginYBottom: 0.9,

		MaxObjectSizeRatio: 0.3,
		BuildingClasses: []string{
			"house", "building", "wall", "fence", "structure", "person", "people",
		},
		ClassRules: map[string]ClassRule{
			"Motor": {MinSizeRatio: 0.005, MaxSizeRatio: 0.15, MinAspect: 0.8, MaxAspect: 2.5},
			"Gol 1": {MinSizeRatio: 0.01, MaxSizeRatio: 0.25, MinAspect: 1.2, MaxAspect: 2.8},
			"Gol 2": {MinSizeRatio: 0.015, MaxSizeRatio: 0.30, MinAspect: 1.2, MaxAspect: 2.8},
			"Gol 3": {MinSizeRatio: 0.02, MaxSizeRatio: 0.35, MinAspect: 1.2, MaxAspect: 2.8},
			"Gol 4": {MinSizeRatio: 0.03, MaxSizeRatio: 0.50, MinAspect: 1.5, MaxAspect: 4.0},
			"Gol 5": {MinSizeRatio: 0.04, MaxSizeRatio: 0.60, MinAspect: 1.5, MaxAspect: 5.0},
		},

		EnableMovementValidation: true,
		MinMovementThreshold:     0.3,
		MinTrackingFrames:        15,

		MaxInactiveFrames: 60,

		TimestampFPS: 30,

		CountClasses: []string{"Gol 1", "Gol 2", "Gol 3", "Gol 4", "Gol 5", "Motor"},
		ClassAliases: map[string]string{
			"Gol I":   "Gol 1",
			"Gol II":  "Gol 2",
			"Gol III": "Gol 3",
			"Gol IV":  "Gol 4",
			"Gol V":   "Gol 5",
		},
	}
}

// Validate clamps out-of-range values instead of rejecting them and
// fills in any missing tables from the defaults. Malformed input
// degrades to something safe, it never errors.
func (s *Settings) Validate() {
	s.ConfidenceThreshold = clampFloat(s.ConfidenceThreshold, 0.1, 1.0)
	s.LineOffset = clampInt(s.LineOffset, 10, 200)
	s.DetectionTolerance = clampInt(s.DetectionTolerance, 5, 100)
	s.MaxObjectSizeRatio = clampFloat(s.MaxObjectSizeRatio, 0.1, 0.8)
	s.MinMovementThreshold = clampFloat(s.MinMovementThreshold, 0.1, 2.0)
	s.MinTrackingFrames = clampInt(s.MinTrackingFrames, 5, 60)
	s.MaxInactiveFrames = clampInt(s.MaxInactiveFrames, 20, 300)
	s.TimestampFPS = clampFloat(s.TimestampFPS, 1, 120)

	s.ROIMarginX = clampFloat(s.ROIMarginX, 0.0, 0.4)
	s.ROIMarginYTop = clampFloat(s.ROIMarginYTop, 0.0, 0.5)
	s.ROIMarginYBottom = clampFloat(s.ROIMarginYBottom, 0.6, 1.0)

	if s.LineOrientation != OrientationHorizontal && s.LineOrientation != OrientationVertical {
		s.LineOrientation = OrientationHorizontal
	}

	def := Default()
	if len(s.ClassConfidence) == 0 {
		s.ClassConfidence = def.ClassConfidence
	} else {
		for name, conf := range s.ClassConfidence {
			s.ClassConfidence[name] = clampFloat(conf, 0.1, 1.0)
		}
	}
	if len(s.ClassRules) == 0 {
		s.ClassRules = def.ClassRules
	}
	if len(s.BuildingClasses) == 0 {
		s.BuildingClasses = def.BuildingClasses
	}
	if len(s.CountClasses) == 0 {
		s.CountClasses = def.CountClasses
	}
	if s.ClassAliases == nil {
		s.ClassAliases = def.ClassAliases
	}
}

// NormalizeClass maps an oracle class name onto the canonical naming
// scheme. Unmapped names pass through unchanged.
func (s *Settings) NormalizeClass(name string) string {
	if canonical, ok := s.ClassAliases[name]; ok {
		return canonical
	}
	return name
}

// IsCountClass reports whether name is one of the canonical count
// buckets. Assumes name has already been normalized.
func (s *Settings) IsCountClass(name string) bool {
	for _, c := range s.CountClasses {
		if c == name {
			return true
		}
	}
	return false
}

// ConfidenceFor returns the detection confidence floor for a class,
// falling back to the global threshold for unknown classes.
func (s *Settings) ConfidenceFor(class string) float64 {
	if conf, ok := s.ClassConfidence[class]; ok {
		return conf
	}
	return s.ConfidenceThreshold
}

// RuleFor looks up the geometry rule for a class. The second return is
// false when no rule exists, in which case the check passes trivially.
func (s *Settings) RuleFor(class string) (ClassRule, bool) {
	rule, ok := s.ClassRules[class]
	return rule, ok
}

// Clone returns a deep copy. Snapshots cross goroutine boundaries
// (frame source → worker, API reads), so shared map state is never
// handed out.
func (s *Settings) Clone() *Settings {
	c := *s
	c.ClassConfidence = make(map[string]float64, len(s.ClassConfidence))
	for k, v := range s.ClassConfidence {
		c.ClassConfidence[k] = v
	}
	c.ClassRules = make(map[string]ClassRule, len(s.ClassRules))
	for k, v := range s.ClassRules {
		c.ClassRules[k] = v
	}
	c.ClassAliases = make(map[string]string, len(s.ClassAliases))
	for k, v := range s.ClassAliases {
		c.ClassAliases[k] = v
	}
	c.BuildingClasses = append([]string(nil), s.BuildingClasses...)
	c.CountClasses = append([]string(nil), s.CountClasses...)
	return &c
}

// Load reads a settings file, merging it over the defaults so missing
// keys keep their default values, then validates the result. A missing
// file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.Validate()
	return s, nil
}

// Save writes the settings as indented JSON.
func (s *Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
