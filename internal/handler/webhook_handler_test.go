package handler_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/newsletter-backend/internal/handler"
	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/webhook"
)

const testSecret = "testsecret"

// --- Mock repositories ---

type statusUpdate struct {
	LogID        int
	Status       string
	ErrorMessage string
}

type clickRecord struct {
	LogID        int
	SubscriberID int
	URL          string
}

type mockLogs struct {
	byProviderID map[string]*model.DeliveryLog
	byBroadcast  map[string]*model.DeliveryLog // key: broadcastID + "|" + email
	updates      []statusUpdate
	clicks       []clickRecord
	clickErr     error
}

func (m *mockLogs) FindByProviderMessageID(id string) (*model.DeliveryLog, error) {
	return m.byProviderID[id], nil
}

func (m *mockLogs) FindByBroadcastAndEmail(broadcastID, email string) (*model.DeliveryLog, error) {
	return m.byBroadcast[broadcastID+"|"+email], nil
}

func (m *mockLogs) UpdateStatus(logID int, status, errorMessage string) error {
	m.updates = append(m.updates, statusUpdate{logID, status, errorMessage})
	return nil
}

func (m *mockLogs) RecordClickEvent(logID, subscriberID int, url string) error {
	if m.clickErr != nil {
		return m.clickErr
	}
	m.clicks = append(m.clicks, clickRecord{logID, subscriberID, url})
	return nil
}

func (m *mockLogs) RecordInitialLogs(ref repository.LogRef, outcomes []repository.RecipientOutcome) error {
	return nil
}

func (m *mockLogs) GetStats(campaignID int) (*repository.CampaignStats, error) {
	return repository.ComputeStats(map[string]int{}), nil
}

func (m *mockLogs) LoggedEmails(ref repository.LogRef) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type mockSubscribers struct {
	unsubscribed []string
	active       map[string]bool
}

func (m *mockSubscribers) Create(s *model.Subscriber) error               { return nil }
func (m *mockSubscribers) GetByID(id int) (*model.Subscriber, error)      { return nil, nil }
func (m *mockSubscribers) ListActive() ([]model.Subscriber, error)        { return nil, nil }
func (m *mockSubscribers) ListActiveInList(int) ([]model.Subscriber, error) {
	return nil, nil
}
func (m *mockSubscribers) UnsubscribeByToken(token string) (bool, error) { return false, nil }

func (m *mockSubscribers) UnsubscribeByEmail(email string) (bool, error) {
	m.unsubscribed = append(m.unsubscribed, email)
	return m.active[email], nil
}

// --- Helpers ---

func newHandler(logs *mockLogs, subs *mockSubscribers) *handler.WebhookHandler {
	return &handler.WebhookHandler{
		Verifier:        webhook.NewVerifier(testSecret),
		Logs:            logs,
		Subscribers:     subs,
		UnsubscribeHost: "unsubscribe.example.net",
	}
}

func signedRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader([]byte(body)))
	ts := fmt.Sprint(time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("msg_test." + ts + "." + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("svix-id", "msg_test")
	req.Header.Set("svix-timestamp", ts)
	req.Header.Set("svix-signature", "v1,"+sig)
	return req
}

func serve(h *handler.WebhookHandler, req *http.Request) *http.Response {
	w := httptest.NewRecorder()
	h.HandleEmailEvent(w, req)
	return w.Result()
}

func logForProvider(id int, subscriberID int) *model.DeliveryLog {
	return &model.DeliveryLog{ID: id, SubscriberID: subscriberID, Status: model.DeliveryStatusSent}
}

// --- Tests ---

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := newHandler(&mockLogs{}, &mockSubscribers{})
	req := httptest.NewRequest("POST", "/webhooks/email", bytes.NewReader([]byte(`{}`)))

	resp := serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	h := newHandler(&mockLogs{}, &mockSubscribers{})
	resp := serve(h, signedRequest(t, `{not json`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookUnknownMessageIsNoOp(t *testing.T) {
	logs := &mockLogs{}
	h := newHandler(logs, &mockSubscribers{})

	resp := serve(h, signedRequest(t, `{"type":"email.delivered","data":{"email_id":"missing"}}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, logs.updates)
	assert.Empty(t, logs.clicks)
}

func TestWebhookUnknownTypeIsIgnored(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	resp := serve(h, signedRequest(t, `{"type":"email.something_new","data":{"email_id":"em_1"}}`))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, logs.updates)
}

func TestWebhookDeliveredIsIdempotent(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.delivered","data":{"email_id":"em_1"}}`
	resp := serve(h, signedRequest(t, body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = serve(h, signedRequest(t, body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, logs.updates, 2)
	for _, u := range logs.updates {
		assert.Equal(t, statusUpdate{10, model.DeliveryStatusDelivered, ""}, u)
	}
}

func TestWebhookResolvesByBroadcastAndEmail(t *testing.T) {
	logs := &mockLogs{byBroadcast: map[string]*model.DeliveryLog{
		"bc_1|alice@example.com": logForProvider(22, 5),
	}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.opened","data":{"broadcast_id":"bc_1","to":["alice@example.com"]}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, logs.updates, 1)
	assert.Equal(t, statusUpdate{22, model.DeliveryStatusOpened, ""}, logs.updates[0])
}

func TestWebhookClickedRecordsClickEvent(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.clicked","data":{"email_id":"em_1","click":{"link":"https://blog.example.com/post"}}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, logs.clicks, 1)
	assert.Equal(t, clickRecord{10, 3, "https://blog.example.com/post"}, logs.clicks[0])
	require.Len(t, logs.updates, 1)
	assert.Equal(t, model.DeliveryStatusClicked, logs.updates[0].Status)
}

func TestWebhookClickedOnUnsubscribeHostSkipsClickEvent(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.clicked","data":{"email_id":"em_1","click":{"link":"https://unsubscribe.example.net/abc"}}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, logs.clicks)
	// Status still becomes clicked.
	require.Len(t, logs.updates, 1)
	assert.Equal(t, model.DeliveryStatusClicked, logs.updates[0].Status)
}

func TestWebhookClickRecordingFailureIsSwallowed(t *testing.T) {
	logs := &mockLogs{
		byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)},
		clickErr:     fmt.Errorf("click_events table on fire"),
	}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.clicked","data":{"email_id":"em_1","click":{"link":"https://blog.example.com/a"}}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, logs.updates, 1)
	assert.Equal(t, model.DeliveryStatusClicked, logs.updates[0].Status)
}

func TestWebhookBouncedCapturesMessage(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.bounced","data":{"email_id":"em_1","bounce":{"message":"mailbox full"}}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, logs.updates, 1)
	assert.Equal(t, statusUpdate{10, model.DeliveryStatusBounced, "mailbox full"}, logs.updates[0])
}

func TestWebhookComplainedMapsToFailed(t *testing.T) {
	logs := &mockLogs{byProviderID: map[string]*model.DeliveryLog{"em_1": logForProvider(10, 3)}}
	h := newHandler(logs, &mockSubscribers{})

	body := `{"type":"email.complained","data":{"email_id":"em_1"}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, logs.updates, 1)
	assert.Equal(t, statusUpdate{10, model.DeliveryStatusFailed, webhook.ComplaintMessage}, logs.updates[0])
}

func TestWebhookContactUpdatedUnsubscribes(t *testing.T) {
	subs := &mockSubscribers{active: map[string]bool{"Bob@Example.com": true}}
	h := newHandler(&mockLogs{}, subs)

	body := `{"type":"contact.updated","data":{"email":"Bob@Example.com","unsubscribed":true}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, subs.unsubscribed, 1)
	assert.Equal(t, "Bob@Example.com", subs.unsubscribed[0])
}

func TestWebhookContactUpdatedWithoutUnsubscribeIsNoOp(t *testing.T) {
	subs := &mockSubscribers{}
	h := newHandler(&mockLogs{}, subs)

	body := `{"type":"contact.updated","data":{"email":"bob@example.com","unsubscribed":false}}`
	resp := serve(h, signedRequest(t, body))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, subs.unsubscribed)
}
