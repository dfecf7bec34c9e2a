package leads

// Classify recomputes Missing, Status and Stage from the tracked fields alone.
// It never looks at the previous Status/Stage, so calling it twice is a no-op.
func Classify(s Snapshot) Snapshot {
	out := s.Clone()
	missing := make([]Field, 0, len(TrackedFields))
	for _, f := range TrackedFields {
		if !s.Has(f) {
			missing = append(missing, f)
		}
	}
	out.Missing = missing
	out.Status, out.Stage = StatusFor(len(TrackedFields) - len(missing))
	return out
}

// StatusFor maps a count of completed tracked fields to its status and stage.
func StatusFor(completed int) (Status, Stage) {
	switch {
	case completed >= 3:
		return StatusQualified, StagePostQualification
	case completed == 2:
		return StatusQualifying, StageQualification
	default:
		return StatusNew, StagePrequalification
	}
}
