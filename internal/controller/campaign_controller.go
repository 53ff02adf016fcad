// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/service"
)

type CampaignController struct {
	CampaignRepo repository.CampaignRepositoryInterface
	DeliveryRepo repository.DeliveryLogRepositoryInterface
	SendService  *service.SendService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subject       string `json:"subject"`
		Content       string `json:"content"`
		ContactListID *int   `json:"contact_list_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if body.Subject == "" || body.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "subject and content are required"})
		return
	}

	campaign := &model.Campaign{
		Subject:       body.Subject,
		Content:       body.Content,
		ContactListID: body.ContactListID,
	}
	if err := c.CampaignRepo.Create(campaign); err != nil {
		c.fail(w, err, "create campaign")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := c.CampaignRepo.ListCampaigns(offset, pageSize, status)
	if err != nil {
		c.fail(w, err, "list campaigns")
		return
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, http.StatusOK, map[string]any{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": totalPages,
		},
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid campaign id"})
		return
	}
	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		c.fail(w, err, "get campaign")
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// SendCampaign implements POST /campaigns/{id}/send.
func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid campaign id"})
		return
	}

	result, err := c.SendService.SendCampaign(r.Context(), id)
	if err != nil {
		c.fail(w, err, fmt.Sprintf("send campaign %d", id))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":  result.Sent,
		"total": result.Total,
		"stats": result.Stats,
	})
}

// GetCampaignStats implements GET /campaigns/{id}/stats. Rates come back as
// percentage strings for direct display.
func (c *CampaignController) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid campaign id"})
		return
	}

	campaign, err := c.CampaignRepo.GetByID(id)
	if err != nil {
		c.fail(w, err, "get campaign")
		return
	}
	stats, err := c.DeliveryRepo.GetStats(id)
	if err != nil {
		c.fail(w, err, "get campaign stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaign":  campaign,
		"stats":     stats,
		"openRate":  formatRate(stats.OpenRate),
		"clickRate": formatRate(stats.ClickRate),
	})
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

func campaignID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

// fail is the handler boundary: it logs with context and maps the error
// taxonomy onto a status code.
func (c *CampaignController) fail(w http.ResponseWriter, err error, op string) {
	status := appErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("operation", op).Error("request failed")
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
