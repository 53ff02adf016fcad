package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/service"
)

type SequenceController struct {
	SequenceService *service.SequenceService
}

// AddStep creates a step and answers with its post-sort position so the
// editor can redirect to wherever the timing placed it.
func (c *SequenceController) AddStep(w http.ResponseWriter, r *http.Request) {
	sequenceID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid sequence id"})
		return
	}
	var in service.StepInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}

	step, position, err := c.SequenceService.AddStep(sequenceID, in)
	if err != nil {
		c.fail(w, err, "add sequence step")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step": step, "position": position})
}

func (c *SequenceController) EditStep(w http.ResponseWriter, r *http.Request) {
	sequenceID, stepNumber, err := stepParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid path parameters"})
		return
	}
	var in service.StepInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}

	step, position, err := c.SequenceService.EditStep(sequenceID, stepNumber, in)
	if err != nil {
		c.fail(w, err, "edit sequence step")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"step": step, "position": position})
}

func (c *SequenceController) DeleteStep(w http.ResponseWriter, r *http.Request) {
	sequenceID, stepNumber, err := stepParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid path parameters"})
		return
	}

	if err := c.SequenceService.DeleteStep(sequenceID, stepNumber); err != nil {
		c.fail(w, err, "delete sequence step")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DispatchStep fans a due step out to the send queue. The caller (the cron
// trigger) decides when a step is due.
func (c *SequenceController) DispatchStep(w http.ResponseWriter, r *http.Request) {
	sequenceID, stepNumber, err := stepParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid path parameters"})
		return
	}

	queued, err := c.SequenceService.DispatchStep(sequenceID, stepNumber)
	if err != nil {
		c.fail(w, err, "dispatch sequence step")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": queued})
}

func stepParams(r *http.Request) (sequenceID, stepNumber int, err error) {
	sequenceID, err = strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, 0, err
	}
	stepNumber, err = strconv.Atoi(chi.URLParam(r, "step"))
	return sequenceID, stepNumber, err
}

func (c *SequenceController) fail(w http.ResponseWriter, err error, op string) {
	status := appErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("operation", op).Error("request failed")
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
