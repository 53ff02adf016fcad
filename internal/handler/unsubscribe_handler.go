package handler

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/quillhq/newsletter-backend/internal/repository"
)

// UnsubscribeHandler serves the one-click unsubscribe links embedded in
// rendered emails. The token is the only credential; no session needed.
type UnsubscribeHandler struct {
	Subscribers repository.SubscriberRepositoryInterface
}

func (h *UnsubscribeHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	updated, err := h.Subscribers.UnsubscribeByToken(token)
	if err != nil {
		log.WithError(err).Error("unsubscribe by token failed")
		http.Error(w, "something went wrong", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !updated {
		// Unknown token or already unsubscribed; either way the outcome
		// the visitor wants is true.
		w.Write([]byte("You are unsubscribed.\n"))
		return
	}
	w.Write([]byte("You have been unsubscribed.\n"))
}
