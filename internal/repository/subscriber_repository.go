package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/quillhq/newsletter-backend/internal/model"
)

type SubscriberRepositoryInterface interface {
	Create(s *model.Subscriber) error
	GetByID(id int) (*model.Subscriber, error)
	ListActive() ([]model.Subscriber, error)
	ListActiveInList(contactListID int) ([]model.Subscriber, error)
	UnsubscribeByEmail(email string) (bool, error)
	UnsubscribeByToken(token string) (bool, error)
}

type SubscriberRepository struct {
	DB *sql.DB
}

func (r *SubscriberRepository) Create(s *model.Subscriber) error {
	s.CreatedAt = time.Now()
	if s.Status == "" {
		s.Status = model.SubscriberStatusPending
	}
	s.Email = strings.ToLower(s.Email)
	query := `
        INSERT INTO subscribers (email, status, unsubscribe_token, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `
	return r.DB.QueryRow(query, s.Email, s.Status, s.UnsubscribeToken, s.CreatedAt).Scan(&s.ID)
}

// GetByID fetches a subscriber by ID; nil when not found.
func (r *SubscriberRepository) GetByID(id int) (*model.Subscriber, error) {
	query := `
        SELECT id, email, status, unsubscribe_token, unsubscribed_at, created_at
        FROM subscribers
        WHERE id = $1
    `
	var s model.Subscriber
	err := r.DB.QueryRow(query, id).Scan(&s.ID, &s.Email, &s.Status, &s.UnsubscribeToken, &s.UnsubscribedAt, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SubscriberRepository) ListActive() ([]model.Subscriber, error) {
	query := `
        SELECT id, email, status, unsubscribe_token, unsubscribed_at, created_at
        FROM subscribers
        WHERE status = 'active'
        ORDER BY id
    `
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

// ListActiveInList scopes the audience to a contact list; only members that
// are still active subscribers come back.
func (r *SubscriberRepository) ListActiveInList(contactListID int) ([]model.Subscriber, error) {
	query := `
        SELECT s.id, s.email, s.status, s.unsubscribe_token, s.unsubscribed_at, s.created_at
        FROM subscribers s
        INNER JOIN contact_list_members m ON m.subscriber_id = s.id
        WHERE m.contact_list_id = $1 AND s.status = 'active'
        ORDER BY s.id
    `
	rows, err := r.DB.Query(query, contactListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscribers(rows)
}

// UnsubscribeByEmail flips an active subscriber to unsubscribed. Returns
// false when no active row matched, which callers treat as a no-op.
func (r *SubscriberRepository) UnsubscribeByEmail(email string) (bool, error) {
	query := `
        UPDATE subscribers
        SET status='unsubscribed', unsubscribed_at=$1
        WHERE LOWER(email)=$2 AND status='active'
    `
	res, err := r.DB.Exec(query, time.Now(), strings.ToLower(email))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SubscriberRepository) UnsubscribeByToken(token string) (bool, error) {
	query := `
        UPDATE subscribers
        SET status='unsubscribed', unsubscribed_at=$1
        WHERE unsubscribe_token=$2 AND status='active'
    `
	res, err := r.DB.Exec(query, time.Now(), token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSubscribers(rows *sql.Rows) ([]model.Subscriber, error) {
	subscribers := []model.Subscriber{}
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.Status, &s.UnsubscribeToken, &s.UnsubscribedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
