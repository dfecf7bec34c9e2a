package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/realestate-lead-bot/internal/leads"
)

var (
	// ErrInvalidInput is returned when a message arrives without a phone number or text.
	ErrInvalidInput = errors.New("conversation: phone_number and message are required")

	// ErrResponderUnavailable wraps every failure of the external responder.
	ErrResponderUnavailable = errors.New("conversation: external responder unavailable")
)

// DefaultSessionTTL is how long a session may sit idle before the sweep removes it.
const DefaultSessionTTL = time.Hour

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a session's history. Turns are never modified once appended.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the conversation state kept per phone number.
type Session struct {
	PhoneNumber  string         `json:"phone_number"`
	Messages     []Turn         `json:"messages"`
	Lead         leads.Snapshot `json:"lead"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// SessionUpdate replaces top-level session fields. Nil fields are left untouched.
type SessionUpdate struct {
	Messages *[]Turn
	Lead     *leads.Snapshot
}

// Store maps phone numbers to sessions.
//
// Get creates a default session on a miss. Every mutating call bumps LastActivity.
// Implementations must be safe for concurrent use and must return copies, so a caller
// never observes a half-written session.
type Store interface {
	Get(ctx context.Context, phone string) (Session, error)
	Upsert(ctx context.Context, phone string, update SessionUpdate) (Session, error)
	AppendTurn(ctx context.Context, phone string, role Role, content string) (Session, error)
	MergeLead(ctx context.Context, phone string, update leads.Update) (Session, error)
	// RecordExchange appends a user turn and the assistant reply and replaces the lead
	// in one write. On error the stored session is left as it was.
	RecordExchange(ctx context.Context, phone, text, reply string, lead leads.Snapshot) (Session, error)
	Clear(ctx context.Context, phone string) error
	List(ctx context.Context) ([]Session, error)
	// EvictIdle removes sessions idle for longer than maxIdle and reports how many were
	// removed and how many remain.
	EvictIdle(ctx context.Context, maxIdle time.Duration) (evicted int, remaining int, err error)
}

func newSession(phone string, now time.Time) Session {
	return Session{
		PhoneNumber:  phone,
		Messages:     []Turn{},
		Lead:         leads.New(phone),
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (s Session) clone() Session {
	out := s
	out.Messages = make([]Turn, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Lead = s.Lead.Clone()
	return out
}

func (s *Session) applyUpdate(update SessionUpdate, now time.Time) {
	if update.Messages != nil {
		s.Messages = append(make([]Turn, 0, len(*update.Messages)), *update.Messages...)
	}
	if update.Lead != nil {
		lead := update.Lead.Clone()
		lead.LeadID = s.PhoneNumber
		s.Lead = leads.Classify(lead)
	}
	s.LastActivity = now
}

func (s *Session) appendTurn(role Role, content string, now time.Time) {
	ts := now
	// Keep history non-decreasing even if the wall clock steps back.
	if n := len(s.Messages); n > 0 && s.Messages[n-1].Timestamp.After(ts) {
		ts = s.Messages[n-1].Timestamp
	}
	s.Messages = append(s.Messages, Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	})
	s.LastActivity = now
}

func (s *Session) recordExchange(text, reply string, lead leads.Snapshot, now time.Time) {
	s.appendTurn(RoleUser, text, now)
	s.appendTurn(RoleAssistant, reply, now)
	s.applyUpdate(SessionUpdate{Lead: &lead}, now)
}

func (s *Session) mergeLead(update leads.Update, now time.Time) {
	s.Lead = leads.Apply(s.Lead, update)
	s.Lead.LeadID = s.PhoneNumber
	s.LastActivity = now
}

func (s Session) idleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
