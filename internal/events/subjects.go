package events

const (
	SubjectCalibrationCompleted = "safety.calibration.completed"

	StreamName   = "SAFETY_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

func SubjectIndexComputed(intersectionID string) string {
	return "safety.index." + intersectionID + ".computed"
}

func SubjectPluginFailed(plugin string) string {
	return "safety.plugin." + plugin + ".failed"
}
