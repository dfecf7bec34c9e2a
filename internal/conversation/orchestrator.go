package conversation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
	"github.com/wolfman30/realestate-lead-bot/internal/messaging"
	"github.com/wolfman30/realestate-lead-bot/internal/observability/metrics"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

const (
	ReplySourceResponder = "responder"
	ReplySourceFallback  = "fallback"

	defaultResponderTimeout = 5 * time.Second
	lockStripes             = 64
)

// OrchestratorConfig carries the optional collaborators of an Orchestrator.
type OrchestratorConfig struct {
	Responder        Responder
	ResponderTimeout time.Duration
	PhoneRegion      string
	Metrics          *metrics.BotMetrics
	Logger           *logging.Logger
}

// Result is what one inbound message produces.
type Result struct {
	Reply  string
	Source string
	Rule   FallbackRule
	Lead   leads.Snapshot
}

// LeadSummary is the listing view of a session's lead.
type LeadSummary struct {
	LeadID    string       `json:"lead_id"`
	Status    leads.Status `json:"status"`
	Stage     leads.Stage  `json:"stage"`
	CreatedAt time.Time    `json:"created_at"`
}

// Orchestrator turns inbound messages into replies and lead updates. It is the only
// entry point the HTTP layer uses.
type Orchestrator struct {
	store     Store
	responder Responder
	timeout   time.Duration
	region    string
	metrics   *metrics.BotMetrics
	logger    *logging.Logger
	tracer    trace.Tracer
	locks     [lockStripes]sync.Mutex
}

func NewOrchestrator(store Store, cfg OrchestratorConfig) *Orchestrator {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.ResponderTimeout
	if timeout <= 0 {
		timeout = defaultResponderTimeout
	}
	region := cfg.PhoneRegion
	if region == "" {
		region = messaging.DefaultRegion
	}
	return &Orchestrator{
		store:     store,
		responder: cfg.Responder,
		timeout:   timeout,
		region:    region,
		metrics:   cfg.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("inmobot.internal.conversation.orchestrator"),
	}
}

// PhoneKey returns the store key for a raw phone identifier.
func (o *Orchestrator) PhoneKey(raw string) string {
	return messaging.NormalizePhone(raw, o.region)
}

func lockStripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % lockStripes
}

// lock serializes session reads and writes for one phone number. It is never held
// across a responder call.
func (o *Orchestrator) lock(key string) func() {
	mu := &o.locks[lockStripe(key)]
	mu.Lock()
	return mu.Unlock
}

// HandleMessage processes one inbound message. Only ErrInvalidInput and store failures
// are returned; responder problems degrade to the local fallback reply. A failed write
// leaves the session as it was.
func (o *Orchestrator) HandleMessage(ctx context.Context, phone, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	key := o.PhoneKey(phone)
	if key == "" || text == "" {
		return nil, ErrInvalidInput
	}

	ctx, span := o.tracer.Start(ctx, "conversation.handle_message")
	defer span.End()

	result := o.reply(ctx, key, text)
	var remote *leads.Snapshot
	if result.Source == ReplySourceResponder {
		remote = o.remoteLead(ctx, key)
	}

	unlock := o.lock(key)
	defer unlock()

	sess, err := o.store.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	lead := leads.Extract(text, sess.Lead)
	if remote != nil {
		lead = leads.FillUnset(lead, *remote)
	}

	updated, err := o.store.RecordExchange(ctx, key, text, result.Reply, lead)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result.Lead = updated.Lead
	o.metrics.ObserveMessage(result.Source)
	o.metrics.ObserveStatusTransition(string(sess.Lead.Status), string(updated.Lead.Status))
	span.SetAttributes(
		attribute.String("inmobot.reply_source", result.Source),
		attribute.String("inmobot.lead_status", string(updated.Lead.Status)),
	)
	o.logger.Info("bot message handled",
		"phone_last4", logging.PhoneLast4(key),
		"source", result.Source,
		"rule", string(result.Rule),
		"status", string(updated.Lead.Status),
		"missing", len(updated.Lead.Missing),
	)
	return result, nil
}

func (o *Orchestrator) reply(ctx context.Context, phone, text string) *Result {
	if o.responder != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		start := time.Now()
		reply, err := o.responder.Reply(callCtx, phone, text)
		cancel()
		if err == nil && strings.TrimSpace(reply) != "" {
			o.metrics.ObserveResponderLatency("ok", time.Since(start).Seconds())
			return &Result{Reply: reply, Source: ReplySourceResponder}
		}
		o.metrics.ObserveResponderLatency("error", time.Since(start).Seconds())
		o.logger.Warn("responder unavailable, using fallback reply",
			"error", err,
			"phone_last4", logging.PhoneLast4(phone),
		)
	}
	reply, rule := FallbackReply(text)
	return &Result{Reply: reply, Source: ReplySourceFallback, Rule: rule}
}

func (o *Orchestrator) remoteLead(ctx context.Context, phone string) *leads.Snapshot {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	remote, err := o.responder.LeadInfo(callCtx, phone)
	if err != nil {
		o.logger.Warn("responder lead info unavailable", "error", err, "phone_last4", logging.PhoneLast4(phone))
		return nil
	}
	return remote
}

// History returns the session for phone, creating an empty one if none exists.
func (o *Orchestrator) History(ctx context.Context, phone string) (Session, error) {
	key := o.PhoneKey(phone)
	if key == "" {
		return Session{}, ErrInvalidInput
	}
	return o.store.Get(ctx, key)
}

// Clear drops the session for phone. Clearing an unknown phone is not an error.
func (o *Orchestrator) Clear(ctx context.Context, phone string) error {
	key := o.PhoneKey(phone)
	if key == "" {
		return ErrInvalidInput
	}
	unlock := o.lock(key)
	defer unlock()
	if err := o.store.Clear(ctx, key); err != nil {
		return err
	}
	o.logger.Info("bot session cleared", "phone_last4", logging.PhoneLast4(key))
	return nil
}

// UpdateLead applies an explicit lead-info update such as a confirmed property.
func (o *Orchestrator) UpdateLead(ctx context.Context, phone string, update leads.Update) (leads.Snapshot, error) {
	key := o.PhoneKey(phone)
	if key == "" || update.IsZero() {
		return leads.Snapshot{}, ErrInvalidInput
	}
	unlock := o.lock(key)
	defer unlock()
	sess, err := o.store.MergeLead(ctx, key, update)
	if err != nil {
		return leads.Snapshot{}, err
	}
	return sess.Lead, nil
}

// ListLeads summarizes every live session.
func (o *Orchestrator) ListLeads(ctx context.Context) ([]LeadSummary, error) {
	sessions, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: list leads: %w", err)
	}
	out := make([]LeadSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, LeadSummary{
			LeadID:    sess.Lead.LeadID,
			Status:    sess.Lead.Status,
			Stage:     sess.Lead.Stage,
			CreatedAt: sess.CreatedAt,
		})
	}
	return out, nil
}
