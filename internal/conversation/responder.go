package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
	"github.com/wolfman30/realestate-lead-bot/internal/messaging"
)

const maxResponderBody = 64 << 10

// Responder is the downstream conversational engine. Both calls are best-effort: the
// orchestrator bounds them with a timeout and recovers from any error.
type Responder interface {
	Reply(ctx context.Context, phone, text string) (string, error)
	// LeadInfo returns the responder's view of the lead, or nil when it has none.
	LeadInfo(ctx context.Context, phone string) (*leads.Snapshot, error)
}

// ResponderConfig describes how to reach the external responder.
type ResponderConfig struct {
	URL         string
	LeadInfoURL string
	Timeout     time.Duration
}

// HTTPResponder posts form-encoded {From, Body} webhooks and reads the reply from the
// <Message> element of the TwiML response.
type HTTPResponder struct {
	url         string
	leadInfoURL string
	http        *http.Client
	tracer      trace.Tracer
}

// NewHTTPResponder validates the configuration and returns a ready-to-use client.
func NewHTTPResponder(cfg ResponderConfig) (*HTTPResponder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("conversation: responder URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResponder{
		url:         strings.TrimSpace(cfg.URL),
		leadInfoURL: strings.TrimSpace(cfg.LeadInfoURL),
		http:        &http.Client{Timeout: timeout},
		tracer:      otel.Tracer("inmobot.internal.conversation.responder"),
	}, nil
}

func (r *HTTPResponder) Reply(ctx context.Context, phone, text string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "conversation.responder.reply")
	defer span.End()

	form := url.Values{}
	form.Set("From", phone)
	form.Set("Body", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrResponderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := r.do(req)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	reply, ok := messaging.ExtractTwiMLMessage(string(body))
	if !ok {
		err := fmt.Errorf("%w: response has no message", ErrResponderUnavailable)
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Int("inmobot.responder.reply_len", len(reply)))
	return reply, nil
}

// remoteLead is the lead-info payload the responder exposes per phone number.
type remoteLead struct {
	Intent       string   `json:"intent"`
	Rooms        *int     `json:"rooms"`
	Budget       *float64 `json:"budget"`
	Neighborhood string   `json:"neighborhood"`
}

type leadInfoEnvelope struct {
	LeadInfo *remoteLead `json:"leadInfo"`
}

func (r *HTTPResponder) LeadInfo(ctx context.Context, phone string) (*leads.Snapshot, error) {
	if r.leadInfoURL == "" {
		return nil, nil
	}
	ctx, span := r.tracer.Start(ctx, "conversation.responder.lead_info")
	defer span.End()

	u, err := url.Parse(r.leadInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: lead info url: %v", ErrResponderUnavailable, err)
	}
	q := u.Query()
	q.Set("phone_number", phone)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrResponderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := r.do(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var env leadInfoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decode lead info: %v", ErrResponderUnavailable, err)
	}
	if env.LeadInfo == nil {
		return nil, nil
	}
	snapshot := env.LeadInfo.toSnapshot(phone)
	return &snapshot, nil
}

func (r *HTTPResponder) do(req *http.Request) ([]byte, error) {
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponderBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrResponderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrResponderUnavailable, resp.StatusCode)
	}
	return body, nil
}

// toSnapshot keeps only values this service would also accept from message text.
func (l remoteLead) toSnapshot(phone string) leads.Snapshot {
	s := leads.Snapshot{LeadID: phone}
	switch intent := leads.Intent(strings.ToLower(strings.TrimSpace(l.Intent))); intent {
	case leads.IntentRental, leads.IntentSale:
		s.Intent = &intent
	default:
		if v, ok := leads.MatchIntent(l.Intent); ok {
			s.Intent = &v
		}
	}
	if l.Rooms != nil && *l.Rooms > 0 {
		rooms := *l.Rooms
		s.Rooms = &rooms
	}
	if l.Budget != nil && *l.Budget >= 1 && *l.Budget < math.MaxInt64 {
		budget := int64(math.Floor(*l.Budget))
		s.Budget = &budget
	}
	if name, ok := leads.MatchNeighborhood(l.Neighborhood); ok {
		s.Neighborhood = &name
	}
	return leads.Classify(s)
}
