package models

// Status is the position of a Leaf in the processing lifecycle.
type Status int

const (
	Uploaded Status = iota
	Classified
	Calibrated
	Uncalibrated
	LeafSegmented
	LesionSegmented
	Partitioned
	Measured
)

var statusNames = [...]string{
	Uploaded:        "uploaded",
	Classified:      "classified",
	Calibrated:      "calibrated",
	Uncalibrated:    "uncalibrated",
	LeafSegmented:   "leaf_segmented",
	LesionSegmented: "lesion_segmented",
	Partitioned:     "partitioned",
	Measured:        "measured",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// LeafReady reports whether classification, calibration and leaf
// segmentation have completed, which is what a lesion rerun requires.
func (s Status) LeafReady() bool {
	return s >= LeafSegmented
}
