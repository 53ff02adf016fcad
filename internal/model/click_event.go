package model

import "time"

// ClickEvent is append-only: every click webhook that carries a link writes
// a new row, replays included. Counting clicks means counting rows.
type ClickEvent struct {
	ID            int       `db:"id" json:"id"`
	DeliveryLogID int       `db:"delivery_log_id" json:"delivery_log_id"`
	SubscriberID  int       `db:"subscriber_id" json:"subscriber_id"`
	ClickedURL    string    `db:"clicked_url" json:"clicked_url"`
	ClickedAt     time.Time `db:"clicked_at" json:"clicked_at"`
}
