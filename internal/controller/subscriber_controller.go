package controller

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/repository"
)

type SubscriberController struct {
	SubscriberRepo repository.SubscriberRepositoryInterface
}

// CreateSubscriber registers a subscriber with a fresh unsubscribe token.
func (c *SubscriberController) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "valid email is required"})
		return
	}
	status := body.Status
	if status == "" {
		status = model.SubscriberStatusActive
	}
	if status != model.SubscriberStatusActive && status != model.SubscriberStatusPending {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "status must be active or pending"})
		return
	}

	subscriber := &model.Subscriber{
		Email:            email,
		Status:           status,
		UnsubscribeToken: uuid.NewString(),
	}
	if err := c.SubscriberRepo.Create(subscriber); err != nil {
		log.WithError(err).WithField("email", email).Error("failed to create subscriber")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to create subscriber"})
		return
	}
	writeJSON(w, http.StatusOK, subscriber)
}
