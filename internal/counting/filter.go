package counting

import (
	"fmt"
	"strings"

	"lintas/internal/config"
)

// Geometry floors applied to every detection regardless of class.
// Anything under half a percent of the frame is noise at counting
// distance, and no vehicle silhouette is taller than 2:1 or longer
// than 5:1.
const (
	minObjectSizeRatio = 0.005
	minAspectRatio     = 0.5
	maxAspectRatio     = 5.0
)

// Filter rejects implausible detections before they reach the track
// store. Stages run in order and the first rejection wins: class
// blacklist, general plausibility (ROI, size, aspect), then per-class
// confidence and geometry rules.
type Filter struct {
	settings *config.Settings
}

// NewFilter builds a filter over one settings snapshot.
func NewFilter(s *config.Settings) *Filter {
	return &Filter{settings: s}
}

// Validate checks one detection against the chain. The reason string
// is diagnostic only; it is logged but never crosses the worker
// boundary.
func (f *Filter) Validate(det Detection, frameW, frameH int) (bool, string) {
	if f.isBlacklisted(det.Class) {
		return false, fmt.Sprintf("blacklisted class %s", det.Class)
	}
	if ok, reason := f.checkPlausibility(det, frameW, frameH); !ok {
		return false, reason
	}
	if ok, reason := f.checkClassRules(det, frameW, frameH); !ok {
		return false, reason
	}
	return true, "valid"
}

// isBlacklisted matches the class name against the configured
// blacklist by case-insensitive substring, so "person" also catches
// "person_sitting" style labels.
func (f *Filter) isBlacklisted(class string) bool {
	lower := strings.ToLower(class)
	for _, b := range f.settings.BuildingClasses {
		if strings.Contains(lower, strings.ToLower(b)) {
			return true
		}
	}
	return false
}

func (f *Filter) checkPlausibility(det Detection, frameW, frameH int) (bool, string) {
	if f.settings.EnableROIFilter && !f.inROI(det.Box, frameW, frameH) {
		return false, "outside ROI"
	}

	sizeRatio := det.Box.Area() / (float64(frameW) * float64(frameH))
	if sizeRatio > f.settings.MaxObjectSizeRatio {
		return false, fmt.Sprintf("too large (size ratio %.3f)", sizeRatio)
	}
	if sizeRatio < minObjectSizeRatio {
		return false, fmt.Sprintf("too small (size ratio %.3f)", sizeRatio)
	}

	aspect := det.Box.AspectRatio()
	if aspect < minAspectRatio || aspect > maxAspectRatio {
		return false, fmt.Sprintf("implausible aspect ratio %.2f", aspect)
	}
	return true, ""
}

// inROI checks that the detection's center lies inside the configured
// fractional margins of the frame.
func (f *Filter) inROI(box BBox, frameW, frameH int) bool {
	w, h := float64(frameW), float64(frameH)
	c := box.Center()

	xMin := w * f.settings.ROIMarginX
	xMax := w * (1.0 - f.settings.ROIMarginX)
	yMin := h * f.settings.ROIMarginYTop
	yMax := h * f.settings.ROIMarginYBottom

	return c.X >= xMin && c.X <= xMax && c.Y >= yMin && c.Y <= yMax
}

func (f *Filter) checkClassRules(det Detection, frameW, frameH int) (bool, string) {
	required := f.settings.ConfidenceFor(det.Class)
	if det.Confidence < required {
		return false, fmt.Sprintf("confidence %.2f below %.2f", det.Confidence, required)
	}

	rule, ok := f.settings.RuleFor(det.Class)
	if !ok {
		// No geometry rule for this class, nothing further to check.
		return true, ""
	}

	sizeRatio := det.Box.Area() / (float64(frameW) * float64(frameH))
	if sizeRatio < rule.MinSizeRatio || sizeRatio > rule.MaxSizeRatio {
		return false, fmt.Sprintf("size ratio %.3f outside %g-%g for %s",
			sizeRatio, rule.MinSizeRatio, rule.MaxSizeRatio, det.Class)
	}

	aspect := det.Box.AspectRatio()
	if aspect < rule.MinAspect || aspect > rule.MaxAspect {
		return false, fmt.Sprintf("aspect ratio %.2f outside %g-%g for %s",
			aspect, rule.MinAspect, rule.MaxAspect, det.Class)
	}
	return true, ""
}
