// internal/handler/webhook_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/webhook"
)

// WebhookHandler routes verified provider events onto the delivery ledger.
// It is stateless per invocation: correctness under concurrent or duplicate
// deliveries rests on idempotent status updates and immutable lookup keys,
// not on locks.
type WebhookHandler struct {
	Verifier    *webhook.Verifier
	Logs        repository.DeliveryLogRepositoryInterface
	Subscribers repository.SubscriberRepositoryInterface

	// Hostname of the provider's managed unsubscribe links. Clicks on
	// those are not click events; the unsubscribe itself arrives as a
	// separate contact.updated event.
	UnsubscribeHost string
}

// HandleEmailEvent implements POST /webhooks/email.
//
// Providers retry on any non-2xx, so everything past signature and JSON
// checks answers 200, including events that match nothing in the ledger.
func (h *WebhookHandler) HandleEmailEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	id := r.Header.Get("svix-id")
	timestamp := r.Header.Get("svix-timestamp")
	signature := r.Header.Get("svix-signature")
	if !h.Verifier.Verify(payload, id, timestamp, signature) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event webhook.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON")
		return
	}

	kind := webhook.ParseKind(event.Type)
	switch kind {
	case webhook.KindContactUpdated:
		h.handleContactUpdated(w, event)
	case webhook.KindDelivered, webhook.KindOpened, webhook.KindClicked, webhook.KindBounced, webhook.KindComplained:
		h.handleDeliveryEvent(w, kind, event)
	default:
		// Unrecognized types are acknowledged without state change.
		writeAck(w)
	}
}

func (h *WebhookHandler) handleContactUpdated(w http.ResponseWriter, event webhook.Event) {
	if !event.Data.Unsubscribed || event.Data.Email == "" {
		writeAck(w)
		return
	}
	updated, err := h.Subscribers.UnsubscribeByEmail(event.Data.Email)
	if err != nil {
		log.WithError(err).WithField("email", event.Data.Email).Error("failed to unsubscribe contact")
		writeError(w, http.StatusInternalServerError, "failed to update subscriber")
		return
	}
	if !updated {
		log.WithField("email", event.Data.Email).Info("contact.updated for non-active subscriber, ignoring")
	}
	writeAck(w)
}

func (h *WebhookHandler) handleDeliveryEvent(w http.ResponseWriter, kind webhook.Kind, event webhook.Event) {
	delivery, err := h.resolveLog(event)
	if err != nil {
		log.WithError(err).Error("delivery log lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if delivery == nil {
		// Unknown message: acknowledge so the provider stops retrying.
		writeAck(w)
		return
	}

	status, ok := kind.DeliveryStatus()
	if !ok {
		writeAck(w)
		return
	}

	errorMessage := ""
	switch kind {
	case webhook.KindBounced:
		if event.Data.Bounce != nil {
			errorMessage = event.Data.Bounce.Message
		}
	case webhook.KindComplained:
		errorMessage = webhook.ComplaintMessage
	}

	if kind == webhook.KindClicked && event.Data.Click != nil && event.Data.Click.Link != "" {
		h.recordClick(delivery.ID, delivery.SubscriberID, event.Data.Click.Link)
	}

	if err := h.Logs.UpdateStatus(delivery.ID, status, errorMessage); err != nil {
		log.WithError(err).WithField("delivery_log_id", delivery.ID).Error("failed to update delivery status")
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	writeAck(w)
}

// resolveLog tries the transactional key first, then the broadcast
// composite key. Both keys are immutable provider identifiers.
func (h *WebhookHandler) resolveLog(event webhook.Event) (*model.DeliveryLog, error) {
	if event.Data.EmailID != "" {
		found, err := h.Logs.FindByProviderMessageID(event.Data.EmailID)
		if err != nil || found != nil {
			return found, err
		}
	}
	if event.Data.BroadcastID != "" && len(event.Data.To) > 0 {
		return h.Logs.FindByBroadcastAndEmail(event.Data.BroadcastID, event.Data.To[0])
	}
	return nil, nil
}

// recordClick appends a click event unless the link points at the provider's
// managed unsubscribe page. Failures here are logged and swallowed: click
// bookkeeping must never fail the webhook acknowledgment.
func (h *WebhookHandler) recordClick(logID, subscriberID int, link string) {
	parsed, err := url.Parse(link)
	if err != nil {
		log.WithError(err).WithField("link", link).Warn("unparseable click link, skipping click event")
		return
	}
	if parsed.Hostname() == h.UnsubscribeHost {
		return
	}
	if err := h.Logs.RecordClickEvent(logID, subscriberID, link); err != nil {
		log.WithError(err).WithField("delivery_log_id", logID).Error("failed to record click event")
	}
}
