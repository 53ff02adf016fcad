package repository

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(campaignID int, status string) error
	MarkSent(campaignID int, sentAt time.Time, recipientCount int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	query := `
        INSERT INTO campaigns (subject, content, status, contact_list_id, recipient_count, created_at)
        VALUES ($1, $2, $3, $4, 0, $5)
        RETURNING id
    `
	return r.DB.QueryRow(query, c.Subject, c.Content, c.Status, c.ContactListID, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `
        SELECT id, subject, content, status, contact_list_id, sent_at, recipient_count, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	err := r.DB.QueryRow(query, id).Scan(
		&c.ID, &c.Subject, &c.Content, &c.Status, &c.ContactListID,
		&c.SentAt, &c.RecipientCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT id, subject, content, status, contact_list_id, sent_at, recipient_count, created_at, updated_at FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.Subject, &c.Content, &c.Status, &c.ContactListID,
			&c.SentAt, &c.RecipientCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) UpdateStatus(campaignID int, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	_, err := r.DB.Exec(query, status, time.Now(), campaignID)
	return err
}

// MarkSent stamps sent_at and the provider-reported recipient count in one
// update so a crash cannot leave a sent campaign without its count.
func (r *CampaignRepository) MarkSent(campaignID int, sentAt time.Time, recipientCount int) error {
	query := `UPDATE campaigns SET status=$1, sent_at=$2, recipient_count=$3, updated_at=NOW() WHERE id=$4`
	_, err := r.DB.Exec(query, model.CampaignStatusSent, sentAt, recipientCount, campaignID)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
