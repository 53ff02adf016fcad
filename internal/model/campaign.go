package model

import "time"

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSent      = "sent"
	CampaignStatusFailed    = "failed"
)

type Campaign struct {
	ID             int        `db:"id" json:"id"`
	Subject        string     `db:"subject" json:"subject"`
	Content        string     `db:"content" json:"content"`
	Status         string     `db:"status" json:"status"`
	ContactListID  *int       `db:"contact_list_id" json:"contact_list_id,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	RecipientCount int        `db:"recipient_count" json:"recipient_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
