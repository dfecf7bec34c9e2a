package leads

// Update is a partial lead. Every non-nil field replaces the snapshot's value.
type Update struct {
	Intent            *Intent            `json:"intent,omitempty"`
	Rooms             *int               `json:"rooms,omitempty"`
	Budget            *int64             `json:"budget,omitempty"`
	Neighborhood      *string            `json:"neighborhood,omitempty"`
	QualificationData *QualificationData `json:"qualification_data,omitempty"`
	PropertyID        *string            `json:"property_id,omitempty"`
}

// IsZero reports whether the update carries no fields.
func (u Update) IsZero() bool {
	return u.Intent == nil && u.Rooms == nil && u.Budget == nil && u.Neighborhood == nil &&
		u.QualificationData == nil && u.PropertyID == nil
}

// Apply shallow-merges u into s and reclassifies. The lead id is never changed.
func Apply(s Snapshot, u Update) Snapshot {
	out := s.Clone()
	if u.Intent != nil {
		out.Intent = ptr(*u.Intent)
	}
	if u.Rooms != nil {
		out.Rooms = ptr(*u.Rooms)
	}
	if u.Budget != nil {
		out.Budget = ptr(*u.Budget)
	}
	if u.Neighborhood != nil {
		out.Neighborhood = ptr(*u.Neighborhood)
	}
	if u.QualificationData != nil {
		out.QualificationData = Snapshot{QualificationData: *u.QualificationData}.Clone().QualificationData
	}
	if u.PropertyID != nil {
		out.PropertyID = ptr(*u.PropertyID)
	}
	return Classify(out)
}

// FillUnset copies tracked fields from other into s only where s has none yet.
func FillUnset(s, other Snapshot) Snapshot {
	out := s.Clone()
	src := other.Clone()
	if out.Intent == nil {
		out.Intent = src.Intent
	}
	if out.Rooms == nil {
		out.Rooms = src.Rooms
	}
	if out.Budget == nil {
		out.Budget = src.Budget
	}
	if out.Neighborhood == nil {
		out.Neighborhood = src.Neighborhood
	}
	return Classify(out)
}
