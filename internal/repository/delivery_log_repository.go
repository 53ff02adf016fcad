package repository

import (
	"database/sql"
	"time"

	"github.com/quillhq/newsletter-backend/internal/model"
)

// LogRef says what a batch of delivery logs belongs to: a campaign send or
// one sequence step. Exactly one field is set.
type LogRef struct {
	CampaignID     *int
	SequenceStepID *int
}

// RecipientOutcome is the per-recipient result of a provider batch call.
// A failed recipient has Err set and no provider message id.
type RecipientOutcome struct {
	Subscriber        model.Subscriber
	ProviderMessageID *string
	BroadcastID       *string
	Err               string
}

// CampaignStats aggregates delivery log counts for one campaign.
// Reached counts logs the provider confirmed got to an inbox.
type CampaignStats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Reached   int            `json:"reached"`
	OpenRate  float64        `json:"open_rate"`
	ClickRate float64        `json:"click_rate"`
}

type DeliveryLogRepositoryInterface interface {
	RecordInitialLogs(ref LogRef, outcomes []RecipientOutcome) error
	FindByProviderMessageID(providerMessageID string) (*model.DeliveryLog, error)
	FindByBroadcastAndEmail(broadcastID, email string) (*model.DeliveryLog, error)
	UpdateStatus(logID int, status, errorMessage string) error
	RecordClickEvent(logID, subscriberID int, url string) error
	GetStats(campaignID int) (*CampaignStats, error)
	LoggedEmails(ref LogRef) (map[string]bool, error)
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

// RecordInitialLogs writes one row per recipient regardless of individual
// success: failed sends keep the error message and a NULL provider id so the
// campaign's per-recipient picture stays complete.
func (r *DeliveryLogRepository) RecordInitialLogs(ref LogRef, outcomes []RecipientOutcome) error {
	query := `
        INSERT INTO delivery_logs
        (campaign_id, sequence_step_id, subscriber_id, provider_message_id, broadcast_id, email, status, error_message, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	now := time.Now()
	for _, o := range outcomes {
		status := model.DeliveryStatusSent
		if o.Err != "" {
			status = model.DeliveryStatusFailed
		}
		_, err := r.DB.Exec(query,
			ref.CampaignID, ref.SequenceStepID, o.Subscriber.ID,
			o.ProviderMessageID, o.BroadcastID, o.Subscriber.Email,
			status, o.Err, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *DeliveryLogRepository) FindByProviderMessageID(providerMessageID string) (*model.DeliveryLog, error) {
	query := selectDeliveryLog + ` WHERE provider_message_id=$1`
	return r.scanOne(r.DB.QueryRow(query, providerMessageID))
}

func (r *DeliveryLogRepository) FindByBroadcastAndEmail(broadcastID, email string) (*model.DeliveryLog, error) {
	query := selectDeliveryLog + ` WHERE broadcast_id=$1 AND email=$2`
	return r.scanOne(r.DB.QueryRow(query, broadcastID, email))
}

const selectDeliveryLog = `
        SELECT id, campaign_id, sequence_step_id, subscriber_id, provider_message_id, broadcast_id,
               email, status, error_message, sent_at, delivered_at, opened_at, clicked_at
        FROM delivery_logs`

func (r *DeliveryLogRepository) scanOne(row *sql.Row) (*model.DeliveryLog, error) {
	var l model.DeliveryLog
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.SequenceStepID, &l.SubscriberID, &l.ProviderMessageID, &l.BroadcastID,
		&l.Email, &l.Status, &l.ErrorMessage, &l.SentAt, &l.DeliveredAt, &l.OpenedAt, &l.ClickedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

// UpdateStatus applies last-event-wins semantics: the current status is
// overwritten unconditionally and the matching *_at column stamped. Replayed
// events land on the same value, so the update is idempotent for status.
func (r *DeliveryLogRepository) UpdateStatus(logID int, status, errorMessage string) error {
	query := `UPDATE delivery_logs SET status=$1, error_message=$2`
	switch status {
	case model.DeliveryStatusDelivered:
		query += `, delivered_at=NOW()`
	case model.DeliveryStatusOpened:
		query += `, opened_at=NOW()`
	case model.DeliveryStatusClicked:
		query += `, clicked_at=NOW()`
	}
	query += ` WHERE id=$3`
	_, err := r.DB.Exec(query, status, errorMessage, logID)
	return err
}

// RecordClickEvent is append-only on purpose: every click is a fact, not a
// flag, so replays and repeat clicks each get their own row.
func (r *DeliveryLogRepository) RecordClickEvent(logID, subscriberID int, url string) error {
	query := `
        INSERT INTO click_events (delivery_log_id, subscriber_id, clicked_url, clicked_at)
        VALUES ($1, $2, $3, $4)
    `
	_, err := r.DB.Exec(query, logID, subscriberID, url, time.Now())
	return err
}

func (r *DeliveryLogRepository) GetStats(campaignID int) (*CampaignStats, error) {
	query := `SELECT status, COUNT(*) FROM delivery_logs WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{
		model.DeliveryStatusSent:      0,
		model.DeliveryStatusDelivered: 0,
		model.DeliveryStatusOpened:    0,
		model.DeliveryStatusClicked:   0,
		model.DeliveryStatusBounced:   0,
		model.DeliveryStatusFailed:    0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		if _, ok := counts[status]; ok {
			counts[status] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ComputeStats(counts), nil
}

// ComputeStats derives the engagement rates from raw per-status counts.
// Zero denominators yield a 0 rate, not an error.
func ComputeStats(counts map[string]int) *CampaignStats {
	stats := &CampaignStats{ByStatus: counts}
	for _, c := range counts {
		stats.Total += c
	}
	opened := counts[model.DeliveryStatusOpened]
	clicked := counts[model.DeliveryStatusClicked]
	stats.Reached = counts[model.DeliveryStatusDelivered] + opened + clicked
	if stats.Reached > 0 {
		stats.OpenRate = float64(opened+clicked) / float64(stats.Reached)
	}
	if opened+clicked > 0 {
		stats.ClickRate = float64(clicked) / float64(opened+clicked)
	}
	return stats
}

// LoggedEmails returns the set of recipient emails that already have a log
// row for the given campaign or step. The orchestrator uses it to make a
// retried send skip recipients from an earlier partial run.
func (r *DeliveryLogRepository) LoggedEmails(ref LogRef) (map[string]bool, error) {
	var rows *sql.Rows
	var err error
	switch {
	case ref.CampaignID != nil:
		rows, err = r.DB.Query(`SELECT email FROM delivery_logs WHERE campaign_id=$1`, *ref.CampaignID)
	case ref.SequenceStepID != nil:
		rows, err = r.DB.Query(`SELECT email FROM delivery_logs WHERE sequence_step_id=$1`, *ref.SequenceStepID)
	default:
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := map[string]bool{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails[email] = true
	}
	return emails, rows.Err()
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
