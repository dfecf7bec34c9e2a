package leads

// Intent is what the lead wants to do with a property.
type Intent string

const (
	IntentRental Intent = "rental"
	IntentSale   Intent = "sale"
)

// Status is the qualification progress shown in the back-office panel.
type Status string

const (
	StatusNew        Status = "NUEVO"
	StatusQualifying Status = "CALIFICANDO"
	StatusQualified  Status = "CALIFICADO"
)

// Stage is the conversation stage that drives which questions the bot asks.
type Stage string

const (
	StagePrequalification  Stage = "PREQUALIFICATION"
	StageQualification     Stage = "QUALIFICATION"
	StagePostQualification Stage = "POST_QUALIFICATION"
)

// Field names a tracked qualification field.
type Field string

const (
	FieldIntent       Field = "intent"
	FieldRooms        Field = "rooms"
	FieldBudget       Field = "budget"
	FieldNeighborhood Field = "neighborhood"
)

// TrackedFields lists every field qualification depends on, in reporting order.
var TrackedFields = []Field{FieldIntent, FieldRooms, FieldBudget, FieldNeighborhood}

// QualificationData holds confirmation flags set by the conversation flow.
// Nothing derives them from message text yet; they default to false.
type QualificationData struct {
	PropertyConfirmed  bool  `json:"property_confirmed"`
	BuyerConfirmed     bool  `json:"buyer_confirmed"`
	MotiveConfirmed    bool  `json:"motive_confirmed"`
	TimelineConfirmed  bool  `json:"timeline_confirmed"`
	FinancingConfirmed bool  `json:"financing_confirmed"`
	ReadyToClose       bool  `json:"ready_to_close"`
	DecisionMaker      bool  `json:"decision_maker"`
	NeedsToSell        *bool `json:"needs_to_sell,omitempty"`
	HasPreapproval     *bool `json:"has_preapproval,omitempty"`
}

// Snapshot is the qualification state of one lead. A nil tracked field is unresolved.
// Snapshots are treated as values: helpers in this package return fresh copies.
type Snapshot struct {
	LeadID            string            `json:"lead_id"`
	Intent            *Intent           `json:"intent"`
	Rooms             *int              `json:"rooms"`
	Budget            *int64            `json:"budget"`
	Neighborhood      *string           `json:"neighborhood"`
	Status            Status            `json:"status"`
	Stage             Stage             `json:"stage"`
	Missing           []Field           `json:"missing"`
	QualificationData QualificationData `json:"qualification_data"`
	PropertyID        *string           `json:"property_id"`
}

// New returns the default snapshot for a lead that has not said anything useful yet.
func New(leadID string) Snapshot {
	return Classify(Snapshot{LeadID: leadID})
}

// Has reports whether the given tracked field is populated.
func (s Snapshot) Has(f Field) bool {
	switch f {
	case FieldIntent:
		return s.Intent != nil
	case FieldRooms:
		return s.Rooms != nil
	case FieldBudget:
		return s.Budget != nil
	case FieldNeighborhood:
		return s.Neighborhood != nil
	}
	return false
}

// Completed counts the populated tracked fields.
func (s Snapshot) Completed() int {
	n := 0
	for _, f := range TrackedFields {
		if s.Has(f) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never share pointers with a stored snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Intent != nil {
		out.Intent = ptr(*s.Intent)
	}
	if s.Rooms != nil {
		out.Rooms = ptr(*s.Rooms)
	}
	if s.Budget != nil {
		out.Budget = ptr(*s.Budget)
	}
	if s.Neighborhood != nil {
		out.Neighborhood = ptr(*s.Neighborhood)
	}
	if s.PropertyID != nil {
		out.PropertyID = ptr(*s.PropertyID)
	}
	if s.Missing != nil {
		out.Missing = append(make([]Field, 0, len(s.Missing)), s.Missing...)
	}
	qd := s.QualificationData
	if qd.NeedsToSell != nil {
		qd.NeedsToSell = ptr(*qd.NeedsToSell)
	}
	if qd.HasPreapproval != nil {
		qd.HasPreapproval = ptr(*qd.HasPreapproval)
	}
	out.QualificationData = qd
	return out
}

func ptr[T any](v T) *T {
	return &v
}
