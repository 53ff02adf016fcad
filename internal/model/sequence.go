package model

import "time"

type Sequence struct {
	ID              int       `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Status          string    `db:"status" json:"status"`
	DefaultSendTime string    `db:"default_send_time" json:"default_send_time"` // "HH:MM"
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// SequenceStep is one timed email inside a drip sequence. DelayMinutes is
// only legal on the first step and means "minutes after enrollment"; every
// other step is scheduled by (DelayDays, DelayTime).
type SequenceStep struct {
	ID           int       `db:"id" json:"id"`
	SequenceID   int       `db:"sequence_id" json:"sequence_id"`
	StepNumber   int       `db:"step_number" json:"step_number"`
	Subject      string    `db:"subject" json:"subject"`
	Content      string    `db:"content" json:"content"`
	DelayDays    int       `db:"delay_days" json:"delay_days"`
	DelayTime    *string   `db:"delay_time" json:"delay_time,omitempty"` // "HH:MM"
	DelayMinutes *int      `db:"delay_minutes" json:"delay_minutes,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
