package model

import "time"

type ContactList struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ContactListMember struct {
	ContactListID int `db:"contact_list_id" json:"contact_list_id"`
	SubscriberID  int `db:"subscriber_id" json:"subscriber_id"`
}
