package repository

import (
	"database/sql"
	"time"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
)

type SequenceRepositoryInterface interface {
	GetSequence(id int) (*model.Sequence, error)
	ListSteps(sequenceID int) ([]model.SequenceStep, error)
	GetStep(sequenceID, stepNumber int) (*model.SequenceStep, error)
	GetStepByID(stepID int) (*model.SequenceStep, error)
	CreateStep(s *model.SequenceStep) error
	UpdateStep(s *model.SequenceStep) error
	DeleteStep(stepID int) error
	RenumberSteps(sequenceID int, orderedStepIDs []int) error
}

type SequenceRepository struct {
	DB *sql.DB
}

func (r *SequenceRepository) GetSequence(id int) (*model.Sequence, error) {
	query := `SELECT id, name, status, default_send_time, created_at FROM sequences WHERE id=$1`
	var s model.Sequence
	err := r.DB.QueryRow(query, id).Scan(&s.ID, &s.Name, &s.Status, &s.DefaultSendTime, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewSequenceNotFound(id)
		}
		return nil, err
	}
	return &s, nil
}

func (r *SequenceRepository) ListSteps(sequenceID int) ([]model.SequenceStep, error) {
	query := `
        SELECT id, sequence_id, step_number, subject, content, delay_days, delay_time, delay_minutes, created_at
        FROM sequence_steps
        WHERE sequence_id=$1
        ORDER BY step_number
    `
	rows, err := r.DB.Query(query, sequenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.SequenceStep{}
	for rows.Next() {
		var s model.SequenceStep
		if err := rows.Scan(&s.ID, &s.SequenceID, &s.StepNumber, &s.Subject, &s.Content,
			&s.DelayDays, &s.DelayTime, &s.DelayMinutes, &s.CreatedAt); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *SequenceRepository) GetStep(sequenceID, stepNumber int) (*model.SequenceStep, error) {
	query := `
        SELECT id, sequence_id, step_number, subject, content, delay_days, delay_time, delay_minutes, created_at
        FROM sequence_steps
        WHERE sequence_id=$1 AND step_number=$2
    `
	var s model.SequenceStep
	err := r.DB.QueryRow(query, sequenceID, stepNumber).Scan(
		&s.ID, &s.SequenceID, &s.StepNumber, &s.Subject, &s.Content,
		&s.DelayDays, &s.DelayTime, &s.DelayMinutes, &s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewStepNotFound(stepNumber)
		}
		return nil, err
	}
	return &s, nil
}

// GetStepByID fetches a step by its row id; nil when not found. Used by the
// worker, which receives step ids in queue jobs.
func (r *SequenceRepository) GetStepByID(stepID int) (*model.SequenceStep, error) {
	query := `
        SELECT id, sequence_id, step_number, subject, content, delay_days, delay_time, delay_minutes, created_at
        FROM sequence_steps
        WHERE id=$1
    `
	var s model.SequenceStep
	err := r.DB.QueryRow(query, stepID).Scan(
		&s.ID, &s.SequenceID, &s.StepNumber, &s.Subject, &s.Content,
		&s.DelayDays, &s.DelayTime, &s.DelayMinutes, &s.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SequenceRepository) CreateStep(s *model.SequenceStep) error {
	s.CreatedAt = time.Now()
	query := `
        INSERT INTO sequence_steps (sequence_id, step_number, subject, content, delay_days, delay_time, delay_minutes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRow(query, s.SequenceID, s.StepNumber, s.Subject, s.Content,
		s.DelayDays, s.DelayTime, s.DelayMinutes, s.CreatedAt).Scan(&s.ID)
}

func (r *SequenceRepository) UpdateStep(s *model.SequenceStep) error {
	query := `
        UPDATE sequence_steps
        SET subject=$1, content=$2, delay_days=$3, delay_time=$4, delay_minutes=$5
        WHERE id=$6
    `
	_, err := r.DB.Exec(query, s.Subject, s.Content, s.DelayDays, s.DelayTime, s.DelayMinutes, s.ID)
	return err
}

func (r *SequenceRepository) DeleteStep(stepID int) error {
	_, err := r.DB.Exec(`DELETE FROM sequence_steps WHERE id=$1`, stepID)
	return err
}

// RenumberSteps rewrites step_number so position i in orderedStepIDs becomes
// step i+1. Step identity (the row id) never changes across a re-sort.
func (r *SequenceRepository) RenumberSteps(sequenceID int, orderedStepIDs []int) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	for i, stepID := range orderedStepIDs {
		if _, err := tx.Exec(
			`UPDATE sequence_steps SET step_number=$1 WHERE id=$2 AND sequence_id=$3`,
			i+1, stepID, sequenceID,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

var _ SequenceRepositoryInterface = (*SequenceRepository)(nil)
