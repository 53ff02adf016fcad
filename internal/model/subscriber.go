package model

import "time"

const (
	SubscriberStatusPending      = "pending"
	SubscriberStatusActive       = "active"
	SubscriberStatusUnsubscribed = "unsubscribed"
)

type Subscriber struct {
	ID               int        `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	Status           string     `db:"status" json:"status"`
	UnsubscribeToken string     `db:"unsubscribe_token" json:"-"`
	UnsubscribedAt   *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}
