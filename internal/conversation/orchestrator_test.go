package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
	"github.com/wolfman30/realestate-lead-bot/internal/observability/metrics"
)

type stubResponder struct {
	mu       sync.Mutex
	reply    string
	err      error
	block    bool
	lead     *leads.Snapshot
	leadErr  error
	calls    int
	lastText string
}

func (s *stubResponder) Reply(ctx context.Context, _ string, text string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.lastText = text
	block, reply, err := s.block, s.reply, s.err
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %v", ErrResponderUnavailable, ctx.Err())
	}
	return reply, err
}

func (s *stubResponder) LeadInfo(context.Context, string) (*leads.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leadErr != nil {
		return nil, s.leadErr
	}
	if s.lead == nil {
		return nil, nil
	}
	lead := s.lead.Clone()
	return &lead, nil
}

const testPhone = "+5491122334455"

func newTestOrchestrator(t *testing.T, responder Responder) (*Orchestrator, *MemoryStore, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := NewMemoryStore()
	o := NewOrchestrator(store, OrchestratorConfig{
		Responder:        responder,
		ResponderTimeout: 50 * time.Millisecond,
		Metrics:          metrics.NewBotMetrics(reg),
	})
	return o, store, reg
}

func messagesBySource(t *testing.T, reg *prometheus.Registry, source string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "inmobot_bot_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "source" && label.GetValue() == source {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestOrchestrator_RejectsInvalidInputWithoutMutation(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	cases := []struct{ phone, text string }{
		{"", "hola"},
		{"   ", "hola"},
		{testPhone, ""},
		{testPhone, "   \n"},
	}
	for _, c := range cases {
		_, err := o.HandleMessage(ctx, c.phone, c.text)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestOrchestrator_GreetingOnFreshSession(t *testing.T) {
	o, _, reg := newTestOrchestrator(t, nil)
	ctx := context.Background()

	res, err := o.HandleMessage(ctx, testPhone, "Hola buenas")
	require.NoError(t, err)
	assert.Equal(t, replyAskIntent, res.Reply)
	assert.Equal(t, ReplySourceFallback, res.Source)
	assert.Equal(t, RuleGreeting, res.Rule)
	assert.Equal(t, leads.New(o.PhoneKey(testPhone)), res.Lead)
	assert.Equal(t, leads.StatusNew, res.Lead.Status)

	sess, err := o.History(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "Hola buenas", sess.Messages[0].Content)
	assert.Equal(t, RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, replyAskIntent, sess.Messages[1].Content)
	assert.Equal(t, float64(1), messagesBySource(t, reg, ReplySourceFallback))
}

func TestOrchestrator_IntentAndNeighborhoodQualify(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	res, err := o.HandleMessage(context.Background(), testPhone, "Quiero alquilar en Palermo")
	require.NoError(t, err)
	require.NotNil(t, res.Lead.Intent)
	require.NotNil(t, res.Lead.Neighborhood)
	assert.Equal(t, leads.IntentRental, *res.Lead.Intent)
	assert.Equal(t, "Palermo", *res.Lead.Neighborhood)
	assert.Equal(t, 2, res.Lead.Completed())
	assert.Equal(t, leads.StatusQualifying, res.Lead.Status)
	assert.Equal(t, leads.StageQualification, res.Lead.Stage)
	assert.Equal(t, []leads.Field{leads.FieldRooms, leads.FieldBudget}, res.Lead.Missing)
}

func TestOrchestrator_SequentialMessagesReachQualified(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var res *Result
	for _, text := range []string{"busco 2 ambientes", "mi presupuesto es 200k", "en Palermo", "quiero alquilar"} {
		var err error
		res, err = o.HandleMessage(ctx, testPhone, text)
		require.NoError(t, err)
	}

	lead := res.Lead
	require.NotNil(t, lead.Rooms)
	require.NotNil(t, lead.Budget)
	require.NotNil(t, lead.Neighborhood)
	require.NotNil(t, lead.Intent)
	assert.Equal(t, 2, *lead.Rooms)
	assert.Equal(t, int64(200000), *lead.Budget)
	assert.Equal(t, "Palermo", *lead.Neighborhood)
	assert.Equal(t, leads.IntentRental, *lead.Intent)
	assert.Equal(t, 4, lead.Completed())
	assert.Equal(t, leads.StatusQualified, lead.Status)
	assert.Equal(t, leads.StagePostQualification, lead.Stage)
	assert.NotNil(t, lead.Missing)
	assert.Empty(t, lead.Missing)

	sess, err := o.History(ctx, testPhone)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 8)
	assert.Equal(t, lead, sess.Lead)
}

func TestOrchestrator_FieldsAreFirstWriteWins(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, testPhone, "Quiero alquilar en Palermo, 2 ambientes, 150k")
	require.NoError(t, err)
	res, err := o.HandleMessage(ctx, testPhone, "Mejor comprar en Belgrano, 4 dormitorios, 3m")
	require.NoError(t, err)

	assert.Equal(t, leads.IntentRental, *res.Lead.Intent)
	assert.Equal(t, "Palermo", *res.Lead.Neighborhood)
	assert.Equal(t, 2, *res.Lead.Rooms)
	assert.Equal(t, int64(150000), *res.Lead.Budget)
}

func TestOrchestrator_ClearThenFreshSession(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, testPhone, "Quiero alquilar en Palermo")
	require.NoError(t, err)
	require.NoError(t, o.Clear(ctx, testPhone))
	require.NoError(t, o.Clear(ctx, testPhone))

	sess, err := o.History(ctx, testPhone)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
	assert.Equal(t, leads.New(o.PhoneKey(testPhone)), sess.Lead)

	assert.ErrorIs(t, o.Clear(ctx, " "), ErrInvalidInput)
	_, err = o.History(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrchestrator_UsesResponderAndItsLeadInfo(t *testing.T) {
	budget := int64(300000)
	sale := leads.IntentSale
	responder := &stubResponder{
		reply: "¡Hola! Te ayudo con eso.",
		lead:  &leads.Snapshot{Intent: &sale, Budget: &budget},
	}
	o, _, reg := newTestOrchestrator(t, responder)

	res, err := o.HandleMessage(context.Background(), testPhone, "Quiero alquilar en Palermo")
	require.NoError(t, err)
	assert.Equal(t, "¡Hola! Te ayudo con eso.", res.Reply)
	assert.Equal(t, ReplySourceResponder, res.Source)
	assert.Equal(t, "Quiero alquilar en Palermo", responder.lastText)

	// Text wins for intent; the responder fills the budget nobody set yet.
	assert.Equal(t, leads.IntentRental, *res.Lead.Intent)
	assert.Equal(t, int64(300000), *res.Lead.Budget)
	assert.Equal(t, leads.StatusQualified, res.Lead.Status)
	assert.Equal(t, o.PhoneKey(testPhone), res.Lead.LeadID)
	assert.Equal(t, float64(1), messagesBySource(t, reg, ReplySourceResponder))
}

func TestOrchestrator_ResponderFailuresFallBack(t *testing.T) {
	tests := []struct {
		name      string
		responder *stubResponder
	}{
		{"error", &stubResponder{err: ErrResponderUnavailable}},
		{"timeout", &stubResponder{block: true}},
		{"blank reply", &stubResponder{reply: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _, reg := newTestOrchestrator(t, tt.responder)

			start := time.Now()
			res, err := o.HandleMessage(context.Background(), testPhone, "Quiero alquilar en Palermo")
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, ReplySourceFallback, res.Source)
			assert.Equal(t, RuleNeighborhood, res.Rule)
			assert.Equal(t, leads.StatusQualifying, res.Lead.Status)
			assert.Equal(t, float64(1), messagesBySource(t, reg, ReplySourceFallback))

			sess, err := o.History(context.Background(), testPhone)
			require.NoError(t, err)
			assert.Len(t, sess.Messages, 2)
		})
	}
}

func TestOrchestrator_LeadInfoErrorIsIgnored(t *testing.T) {
	responder := &stubResponder{reply: "ok", leadErr: errors.New("lead info down")}
	o, _, _ := newTestOrchestrator(t, responder)

	res, err := o.HandleMessage(context.Background(), testPhone, "busco 3 ambientes")
	require.NoError(t, err)
	assert.Equal(t, ReplySourceResponder, res.Source)
	assert.Equal(t, 3, *res.Lead.Rooms)
	assert.Equal(t, 1, res.Lead.Completed())
}

func TestOrchestrator_SamePhoneMessagesDoNotInterleave(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.HandleMessage(ctx, testPhone, fmt.Sprintf("mensaje %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := o.History(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2*n)
	for i := 0; i < len(sess.Messages); i += 2 {
		assert.Equal(t, RoleUser, sess.Messages[i].Role)
		assert.Equal(t, RoleAssistant, sess.Messages[i+1].Role)
	}
}

func TestOrchestrator_UpdateLead(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	propertyID := "prop-9"
	lead, err := o.UpdateLead(ctx, testPhone, leads.Update{
		PropertyID:        &propertyID,
		QualificationData: &leads.QualificationData{BuyerConfirmed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "prop-9", *lead.PropertyID)
	assert.True(t, lead.QualificationData.BuyerConfirmed)
	assert.Equal(t, leads.StatusNew, lead.Status)

	_, err = o.UpdateLead(ctx, testPhone, leads.Update{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrchestrator_ListLeads(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, "+5491122334401", "Hola")
	require.NoError(t, err)
	_, err = o.HandleMessage(ctx, "+5491122334402", "Quiero alquilar en Palermo")
	require.NoError(t, err)

	summaries, err := o.ListLeads(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	byID := map[string]LeadSummary{}
	for _, s := range summaries {
		byID[s.LeadID] = s
	}
	assert.Equal(t, leads.StatusNew, byID[o.PhoneKey("+5491122334401")].Status)
	assert.Equal(t, leads.StatusQualifying, byID[o.PhoneKey("+5491122334402")].Status)
	assert.False(t, byID[o.PhoneKey("+5491122334402")].CreatedAt.IsZero())
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Get(context.Context, string) (Session, error) {
	return Session{}, errors.New("backend down")
}

func TestOrchestrator_StoreErrorsPropagate(t *testing.T) {
	o := NewOrchestrator(failingStore{NewMemoryStore()}, OrchestratorConfig{})

	_, err := o.HandleMessage(context.Background(), testPhone, "hola")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidInput))
}

type failingExchangeStore struct {
	*MemoryStore
	fail bool
}

func (s *failingExchangeStore) RecordExchange(ctx context.Context, phone, text, reply string, lead leads.Snapshot) (Session, error) {
	if s.fail {
		return Session{}, errors.New("write conflict")
	}
	return s.MemoryStore.RecordExchange(ctx, phone, text, reply, lead)
}

func TestOrchestrator_FailedWriteLeavesSessionUntouched(t *testing.T) {
	store := &failingExchangeStore{MemoryStore: NewMemoryStore()}
	o := NewOrchestrator(store, OrchestratorConfig{})
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, testPhone, "Hola")
	require.NoError(t, err)
	before, err := o.History(ctx, testPhone)
	require.NoError(t, err)

	store.fail = true
	_, err = o.HandleMessage(ctx, testPhone, "quiero alquilar")
	require.Error(t, err)

	after, err := o.History(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, after.Messages, 2)
	assert.Nil(t, after.Lead.Intent)

	store.fail = false
	res, err := o.HandleMessage(ctx, testPhone, "quiero alquilar")
	require.NoError(t, err)
	require.NotNil(t, res.Lead.Intent)
	after, err = o.History(ctx, testPhone)
	require.NoError(t, err)
	assert.Len(t, after.Messages, 4)
}

// gatedResponder holds replies for one phone until the gate is closed.
type gatedResponder struct {
	slowPhone string
	started   chan struct{}
	gate      chan struct{}
}

func (g *gatedResponder) Reply(ctx context.Context, phone, _ string) (string, error) {
	if phone != g.slowPhone {
		return "rápido", nil
	}
	close(g.started)
	select {
	case <-g.gate:
		return "lento", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedResponder) LeadInfo(context.Context, string) (*leads.Snapshot, error) {
	return nil, nil
}

func TestOrchestrator_SlowResponderDoesNotBlockSharedStripe(t *testing.T) {
	keys := NewOrchestrator(NewMemoryStore(), OrchestratorConfig{})
	seen := map[uint32]string{}
	var slowPhone, fastPhone string
	for i := 0; i < 100 && fastPhone == ""; i++ {
		phone := fmt.Sprintf("+54911223344%02d", i)
		stripe := lockStripe(keys.PhoneKey(phone))
		if other, ok := seen[stripe]; ok {
			slowPhone, fastPhone = other, phone
			break
		}
		seen[stripe] = phone
	}
	require.NotEmpty(t, fastPhone)

	responder := &gatedResponder{
		slowPhone: keys.PhoneKey(slowPhone),
		started:   make(chan struct{}),
		gate:      make(chan struct{}),
	}
	o := NewOrchestrator(NewMemoryStore(), OrchestratorConfig{
		Responder:        responder,
		ResponderTimeout: 5 * time.Second,
	})
	ctx := context.Background()

	slowDone := make(chan error, 1)
	go func() {
		_, err := o.HandleMessage(ctx, slowPhone, "hola")
		slowDone <- err
	}()
	<-responder.started

	fastDone := make(chan *Result, 1)
	go func() {
		res, err := o.HandleMessage(ctx, fastPhone, "hola")
		assert.NoError(t, err)
		fastDone <- res
	}()

	select {
	case res := <-fastDone:
		require.NotNil(t, res)
		assert.Equal(t, "rápido", res.Reply)
	case <-time.After(2 * time.Second):
		t.Fatal("message for another phone waited on a slow responder call")
	}

	close(responder.gate)
	require.NoError(t, <-slowDone)
	sess, err := o.History(ctx, slowPhone)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "lento", sess.Messages[1].Content)
}
