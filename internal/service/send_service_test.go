package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/provider"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/service"
)

// --- Mock repositories ---

type mockCampaignRepo struct {
	campaigns     map[int]*model.Campaign
	statusUpdates []string
	sentMarks     []int
}

func (m *mockCampaignRepo) Create(c *model.Campaign) error { return nil }

func (m *mockCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (m *mockCampaignRepo) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *mockCampaignRepo) UpdateStatus(campaignID int, status string) error {
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockCampaignRepo) MarkSent(campaignID int, sentAt time.Time, recipientCount int) error {
	m.sentMarks = append(m.sentMarks, recipientCount)
	return nil
}

type mockSubscriberRepo struct {
	active []model.Subscriber
	lists  map[int][]model.Subscriber
}

func (m *mockSubscriberRepo) Create(s *model.Subscriber) error { return nil }

func (m *mockSubscriberRepo) GetByID(id int) (*model.Subscriber, error) {
	for _, s := range m.active {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *mockSubscriberRepo) ListActive() ([]model.Subscriber, error) {
	var out []model.Subscriber
	for _, s := range m.active {
		if s.Status == model.SubscriberStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSubscriberRepo) ListActiveInList(listID int) ([]model.Subscriber, error) {
	return m.lists[listID], nil
}

func (m *mockSubscriberRepo) UnsubscribeByEmail(email string) (bool, error) { return false, nil }
func (m *mockSubscriberRepo) UnsubscribeByToken(token string) (bool, error) { return false, nil }

type recordedBatch struct {
	Ref      repository.LogRef
	Outcomes []repository.RecipientOutcome
}

type mockDeliveryRepo struct {
	recorded []recordedBatch
	logged   map[string]bool
}

func (m *mockDeliveryRepo) RecordInitialLogs(ref repository.LogRef, outcomes []repository.RecipientOutcome) error {
	m.recorded = append(m.recorded, recordedBatch{ref, outcomes})
	return nil
}

func (m *mockDeliveryRepo) FindByProviderMessageID(string) (*model.DeliveryLog, error) {
	return nil, nil
}

func (m *mockDeliveryRepo) FindByBroadcastAndEmail(string, string) (*model.DeliveryLog, error) {
	return nil, nil
}

func (m *mockDeliveryRepo) UpdateStatus(int, string, string) error { return nil }

func (m *mockDeliveryRepo) RecordClickEvent(int, int, string) error { return nil }

func (m *mockDeliveryRepo) GetStats(campaignID int) (*repository.CampaignStats, error) {
	return repository.ComputeStats(map[string]int{}), nil
}

func (m *mockDeliveryRepo) LoggedEmails(ref repository.LogRef) (map[string]bool, error) {
	if m.logged == nil {
		return map[string]bool{}, nil
	}
	return m.logged, nil
}

func (m *mockDeliveryRepo) allOutcomes() []repository.RecipientOutcome {
	var out []repository.RecipientOutcome
	for _, b := range m.recorded {
		out = append(out, b.Outcomes...)
	}
	return out
}

type mockSequenceRepo struct {
	steps map[int]*model.SequenceStep
}

func (m *mockSequenceRepo) GetSequence(id int) (*model.Sequence, error) { return nil, nil }
func (m *mockSequenceRepo) ListSteps(int) ([]model.SequenceStep, error) { return nil, nil }
func (m *mockSequenceRepo) GetStep(int, int) (*model.SequenceStep, error) {
	return nil, nil
}
func (m *mockSequenceRepo) GetStepByID(stepID int) (*model.SequenceStep, error) {
	return m.steps[stepID], nil
}
func (m *mockSequenceRepo) CreateStep(*model.SequenceStep) error       { return nil }
func (m *mockSequenceRepo) UpdateStep(*model.SequenceStep) error       { return nil }
func (m *mockSequenceRepo) DeleteStep(int) error                       { return nil }
func (m *mockSequenceRepo) RenumberSteps(int, []int) error             { return nil }

type mockProvider struct {
	batchCalls     [][]provider.Message
	broadcastCalls []provider.Broadcast
	batchErr       error
	perEmailErrs   map[string]string
	broadcastErr   error
	broadcastCount int
}

func (m *mockProvider) SendBatch(ctx context.Context, messages []provider.Message) ([]provider.SendResult, error) {
	m.batchCalls = append(m.batchCalls, messages)
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	results := make([]provider.SendResult, len(messages))
	for i, msg := range messages {
		results[i] = provider.SendResult{
			Email:     msg.To[0],
			MessageID: fmt.Sprintf("em_%d", i),
			Err:       m.perEmailErrs[msg.To[0]],
		}
	}
	return results, nil
}

func (m *mockProvider) SendBroadcast(ctx context.Context, b provider.Broadcast) (*provider.BroadcastResult, error) {
	m.broadcastCalls = append(m.broadcastCalls, b)
	if m.broadcastErr != nil {
		return nil, m.broadcastErr
	}
	return &provider.BroadcastResult{BroadcastID: "bc_1", RecipientCount: m.broadcastCount}, nil
}

// --- Helpers ---

func subscriber(id int, email string) model.Subscriber {
	return model.Subscriber{
		ID:               id,
		Email:            email,
		Status:           model.SubscriberStatusActive,
		UnsubscribeToken: fmt.Sprintf("tok-%d", id),
	}
}

type fixture struct {
	svc       *service.SendService
	campaigns *mockCampaignRepo
	subs      *mockSubscriberRepo
	delivery  *mockDeliveryRepo
	sequences *mockSequenceRepo
	provider  *mockProvider
}

func newFixture(cfg service.SendConfig) *fixture {
	f := &fixture{
		campaigns: &mockCampaignRepo{campaigns: map[int]*model.Campaign{}},
		subs:      &mockSubscriberRepo{lists: map[int][]model.Subscriber{}},
		delivery:  &mockDeliveryRepo{},
		sequences: &mockSequenceRepo{steps: map[int]*model.SequenceStep{}},
		provider:  &mockProvider{},
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = "Test <test@example.com>"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://news.example.com"
	}
	f.svc = &service.SendService{
		CampaignRepo:   f.campaigns,
		SubscriberRepo: f.subs,
		DeliveryRepo:   f.delivery,
		SequenceRepo:   f.sequences,
		Provider:       f.provider,
		Renderer:       &service.TemplateRenderer{},
		Config:         cfg,
	}
	return f
}

func draftCampaign(id int) *model.Campaign {
	return &model.Campaign{
		ID:      id,
		Subject: "Hello",
		Content: "<p>Hi {email}</p><a href=\"{unsubscribe_url}\">bye</a>",
		Status:  model.CampaignStatusDraft,
	}
}

// --- Tests ---

func TestSendCampaignNotFound(t *testing.T) {
	f := newFixture(service.SendConfig{})
	_, err := f.svc.SendCampaign(context.Background(), 42)

	var notFound *appErrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Empty(t, f.provider.batchCalls)
}

func TestSendCampaignAlreadySent(t *testing.T) {
	f := newFixture(service.SendConfig{})
	c := draftCampaign(1)
	c.Status = model.CampaignStatusSent
	f.campaigns.campaigns[1] = c
	f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}

	_, err := f.svc.SendCampaign(context.Background(), 1)

	var validation *appErrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, f.provider.batchCalls)
	assert.Empty(t, f.delivery.recorded)
	assert.Empty(t, f.campaigns.statusUpdates)
}

func TestSendCampaignNoActiveSubscribers(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.campaigns.campaigns[1] = draftCampaign(1)

	_, err := f.svc.SendCampaign(context.Background(), 1)

	var validation *appErrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "No active subscribers", validation.Message)
	// Precondition failure: status untouched.
	assert.Empty(t, f.campaigns.statusUpdates)
	assert.Empty(t, f.campaigns.sentMarks)
}

func TestSendCampaignAllActiveSubscribers(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.subs.active = []model.Subscriber{
		subscriber(1, "a@example.com"),
		subscriber(2, "b@example.com"),
		subscriber(3, "c@example.com"),
	}

	result, err := f.svc.SendCampaign(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Sent)
	assert.Equal(t, 3, result.Total)
	require.Len(t, f.delivery.allOutcomes(), 3)
	require.Len(t, f.campaigns.sentMarks, 1)
	assert.Equal(t, 3, f.campaigns.sentMarks[0])
}

func TestSendCampaignScopedToContactList(t *testing.T) {
	f := newFixture(service.SendConfig{})
	c := draftCampaign(1)
	listID := 7
	c.ContactListID = &listID
	f.campaigns.campaigns[1] = c
	f.subs.active = []model.Subscriber{
		subscriber(1, "a@example.com"),
		subscriber(2, "b@example.com"),
		subscriber(3, "c@example.com"),
	}
	f.subs.lists[7] = []model.Subscriber{subscriber(2, "b@example.com")}

	result, err := f.svc.SendCampaign(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	outcomes := f.delivery.allOutcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "b@example.com", outcomes[0].Subscriber.Email)
}

func TestSendCampaignPartialPerRecipientFailure(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.subs.active = []model.Subscriber{
		subscriber(1, "a@example.com"),
		subscriber(2, "b@example.com"),
	}
	f.provider.perEmailErrs = map[string]string{"b@example.com": "rejected"}

	result, err := f.svc.SendCampaign(context.Background(), 1)
	require.NoError(t, err)

	// Batch call succeeded overall: campaign is sent, the per-recipient
	// failure is visible only in the ledger.
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 2, result.Total)
	require.Len(t, f.campaigns.sentMarks, 1)

	outcomes := f.delivery.allOutcomes()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		if o.Subscriber.Email == "b@example.com" {
			assert.Equal(t, "rejected", o.Err)
			assert.Nil(t, o.ProviderMessageID)
		} else {
			assert.Empty(t, o.Err)
			assert.NotNil(t, o.ProviderMessageID)
		}
	}
}

func TestSendCampaignBatchFailure(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}
	f.provider.batchErr = errors.New("provider down")

	_, err := f.svc.SendCampaign(context.Background(), 1)

	var providerErr *appErrors.ProviderError
	require.ErrorAs(t, err, &providerErr)
	// Logs still written, campaign marked failed.
	outcomes := f.delivery.allOutcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "provider down", outcomes[0].Err)
	assert.Equal(t, []string{model.CampaignStatusFailed}, f.campaigns.statusUpdates)
}

func TestSendCampaignResumesAfterPartialRun(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.subs.active = []model.Subscriber{
		subscriber(1, "a@example.com"),
		subscriber(2, "b@example.com"),
	}
	f.delivery.logged = map[string]bool{"a@example.com": true}

	result, err := f.svc.SendCampaign(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 2, result.Total)
	// Only the unlogged recipient went to the provider.
	require.Len(t, f.provider.batchCalls, 1)
	require.Len(t, f.provider.batchCalls[0], 1)
	assert.Equal(t, "b@example.com", f.provider.batchCalls[0][0].To[0])
}

func TestStrategySelection(t *testing.T) {
	cases := []struct {
		name          string
		enabled       bool
		audienceID    string
		wantBroadcast bool
	}{
		{"flag off", false, "aud_1", false},
		{"flag on with audience", true, "aud_1", true},
		{"flag on without audience falls back", true, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(service.SendConfig{
				BroadcastEnabled: tc.enabled,
				AudienceID:       tc.audienceID,
			})
			f.campaigns.campaigns[1] = draftCampaign(1)
			f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}
			f.provider.broadcastCount = 1

			_, err := f.svc.SendCampaign(context.Background(), 1)
			require.NoError(t, err)

			if tc.wantBroadcast {
				assert.Len(t, f.provider.broadcastCalls, 1)
				assert.Empty(t, f.provider.batchCalls)
			} else {
				assert.Len(t, f.provider.batchCalls, 1)
				assert.Empty(t, f.provider.broadcastCalls)
			}
		})
	}
}

func TestBroadcastFailureMarksCampaignFailed(t *testing.T) {
	f := newFixture(service.SendConfig{BroadcastEnabled: true, AudienceID: "aud_1"})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.provider.broadcastErr = errors.New("audience not found")

	_, err := f.svc.SendCampaign(context.Background(), 1)

	var providerErr *appErrors.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, []string{model.CampaignStatusFailed}, f.campaigns.statusUpdates)
	assert.Empty(t, f.campaigns.sentMarks)
}

func TestBroadcastSuccessSeedsLedger(t *testing.T) {
	f := newFixture(service.SendConfig{BroadcastEnabled: true, AudienceID: "aud_1"})
	f.campaigns.campaigns[1] = draftCampaign(1)
	f.subs.active = []model.Subscriber{
		subscriber(1, "a@example.com"),
		subscriber(2, "b@example.com"),
	}
	f.provider.broadcastCount = 2

	result, err := f.svc.SendCampaign(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 2, result.Total)
	require.Len(t, f.campaigns.sentMarks, 1)
	assert.Equal(t, 2, f.campaigns.sentMarks[0])

	outcomes := f.delivery.allOutcomes()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NotNil(t, o.BroadcastID)
		assert.Equal(t, "bc_1", *o.BroadcastID)
		assert.Nil(t, o.ProviderMessageID)
	}
}

func TestSendSequenceStepRecordsLog(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.sequences.steps[5] = &model.SequenceStep{ID: 5, SequenceID: 1, Subject: "Step", Content: "<p>hey {email}</p>"}
	f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}

	err := f.svc.SendSequenceStep(context.Background(), 5, 1)
	require.NoError(t, err)

	require.Len(t, f.delivery.recorded, 1)
	batch := f.delivery.recorded[0]
	require.NotNil(t, batch.Ref.SequenceStepID)
	assert.Equal(t, 5, *batch.Ref.SequenceStepID)
	require.Len(t, batch.Outcomes, 1)
	assert.NotNil(t, batch.Outcomes[0].ProviderMessageID)
}

func TestSendSequenceStepSkipsNonActiveSubscriber(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.sequences.steps[5] = &model.SequenceStep{ID: 5, SequenceID: 1, Subject: "Step", Content: "x"}

	err := f.svc.SendSequenceStep(context.Background(), 5, 99)
	require.NoError(t, err)
	assert.Empty(t, f.delivery.recorded)
	assert.Empty(t, f.provider.batchCalls)
}

func TestSendSequenceStepSkipsAlreadyLogged(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.sequences.steps[5] = &model.SequenceStep{ID: 5, SequenceID: 1, Subject: "Step", Content: "x"}
	f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}
	f.delivery.logged = map[string]bool{"a@example.com": true}

	err := f.svc.SendSequenceStep(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Empty(t, f.delivery.recorded)
	assert.Empty(t, f.provider.batchCalls)
}

func TestSendSequenceStepRecordsProviderFailure(t *testing.T) {
	f := newFixture(service.SendConfig{})
	f.sequences.steps[5] = &model.SequenceStep{ID: 5, SequenceID: 1, Subject: "Step", Content: "x"}
	f.subs.active = []model.Subscriber{subscriber(1, "a@example.com")}
	f.provider.batchErr = errors.New("provider down")

	// Failure lands on the ledger instead of bubbling up, so the queue
	// does not redeliver an already-logged attempt.
	err := f.svc.SendSequenceStep(context.Background(), 5, 1)
	require.NoError(t, err)

	outcomes := f.delivery.allOutcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "provider down", outcomes[0].Err)
}
