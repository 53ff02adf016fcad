package model

import "time"

// Closed status set for a delivery log. A row is created in status "sent"
// (or "failed" when the provider rejected that recipient) and afterwards
// only moves between these values via webhook events.
const (
	DeliveryStatusSent      = "sent"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusOpened    = "opened"
	DeliveryStatusClicked   = "clicked"
	DeliveryStatusBounced   = "bounced"
	DeliveryStatusFailed    = "failed"
)

// DeliveryLog is one row per (campaign-or-sequence-step, subscriber) send
// attempt. Exactly one of CampaignID / SequenceStepID is set.
type DeliveryLog struct {
	ID                int        `db:"id" json:"id"`
	CampaignID        *int       `db:"campaign_id" json:"campaign_id,omitempty"`
	SequenceStepID    *int       `db:"sequence_step_id" json:"sequence_step_id,omitempty"`
	SubscriberID      int        `db:"subscriber_id" json:"subscriber_id"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	BroadcastID       *string    `db:"broadcast_id" json:"broadcast_id,omitempty"`
	Email             string     `db:"email" json:"email"`
	Status            string     `db:"status" json:"status"`
	ErrorMessage      string     `db:"error_message" json:"error_message,omitempty"`
	SentAt            time.Time  `db:"sent_at" json:"sent_at"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt         *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
}
