package config

import "fmt"

// Tuning profiles: named overlays for common deployment conditions.
// Speed favors fast vehicles on wide roads, accuracy favors low false
// positives, balanced sits between.
const (
	ProfileSpeed    = "speed"
	ProfileAccuracy = "accuracy"
	ProfileBalanced = "balanced"
)

// Profiles lists the available profile names.
func Profiles() []string {
	return []string{ProfileSpeed, ProfileBalanced, ProfileAccuracy}
}

// ApplyProfile overlays a named profile on the settings and validates
// the result. Geometry (line placement, orientation) is left alone so a
// calibrated installation keeps its lines across profile switches.
func (s *Settings) ApplyProfile(name string) error {
	switch name {
	case ProfileSpeed:
		s.ConfidenceThreshold = 0.20
		s.DetectionTolerance = 40
		s.LineOffset = 60
		s.ROIMarginX = 0.05
		s.ROIMarginYTop = 0.25
		s.ROIMarginYBottom = 0.95
		s.MaxObjectSizeRatio = 0.35
		s.MinMovementThreshold = 0.5
		s.MinTrackingFrames = 12
		s.ClassConfidence = map[string]float64{
			"Motor": 0.18,
			"Gol 1": 0.20,
			"Gol 2": 0.22,
			"Gol 3": 0.24,
			"Gol 4": 0.22,
			"Gol 5": 0.20,
		}
	case ProfileBalanced:
		s.ConfidenceThreshold = 0.23
		s.DetectionTolerance = 30
		s.LineOffset = 60
		s.ROIMarginX = 0.05
		s.ROIMarginYTop = 0.25
		s.ROIMarginYBottom = 0.95
		s.MaxObjectSizeRatio = 0.35
		s.MinMovementThreshold = 0.5
		s.MinTrackingFrames = 12
		s.ClassConfidence = map[string]float64{
			"Motor": 0.20,
			"Gol 1": 0.23,
			"Gol 2": 0.25,
			"Gol 3": 0.27,
			"Gol 4": 0.25,
			"Gol 5": 0.23,
		}
	case ProfileAccuracy:
		s.ConfidenceThreshold = 0.35
		s.DetectionTolerance = 25
		s.LineOffset = 60
		s.ROIMarginX = 0.05
		s.ROIMarginYTop = 0.25
		s.ROIMarginYBottom = 0.95
		s.MaxObjectSizeRatio = 0.35
		s.MinMovementThreshold = 0.5
		s.MinTrackingFrames = 12
		s.ClassConfidence = map[string]float64{
			"Motor": 0.30,
			"Gol 1": 0.35,
			"Gol 2": 0.37,
			"Gol 3": 0.40,
			"Gol 4": 0.35,
			"Gol 5": 0.33,
		}
	default:
		return fmt.Errorf("unknown profile %q", name)
	}
	s.Validate()
	return nil
}
