// internal/service/sequence_service.go
package service

import (
	"sort"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/queue"
	"github.com/quillhq/newsletter-backend/internal/repository"
)

// SortSteps produces the total order of a sequence's steps and a mapping
// from each step's pre-sort position to its post-sort position, so an
// editor can be redirected to a step's new slot after a timing change.
//
// Ordering key, left to right: a step carrying delay_minutes (legal only on
// the first step, "minutes after enrollment") sorts before every days-based
// step; otherwise (delay_days, delay_time-or-default) compared with the
// time as a zero-padded HH:MM string. Ties keep their pre-sort relative
// order: reorders depend on the sort being stable.
func SortSteps(steps []model.SequenceStep, defaultTime string) (ordered []model.SequenceStep, positions []int) {
	idx := make([]int, len(steps))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return stepLess(steps[idx[a]], steps[idx[b]], defaultTime)
	})

	ordered = make([]model.SequenceStep, len(steps))
	positions = make([]int, len(steps))
	for post, pre := range idx {
		ordered[post] = steps[pre]
		positions[pre] = post
	}
	return ordered, positions
}

func stepLess(a, b model.SequenceStep, defaultTime string) bool {
	aMinutes := a.DelayMinutes != nil
	bMinutes := b.DelayMinutes != nil
	if aMinutes != bMinutes {
		return aMinutes
	}
	if aMinutes {
		return *a.DelayMinutes < *b.DelayMinutes
	}
	if a.DelayDays != b.DelayDays {
		return a.DelayDays < b.DelayDays
	}
	return stepTime(a, defaultTime) < stepTime(b, defaultTime)
}

func stepTime(s model.SequenceStep, defaultTime string) string {
	t := defaultTime
	if s.DelayTime != nil && *s.DelayTime != "" {
		t = *s.DelayTime
	}
	return padTime(t)
}

// padTime normalizes "9:00" to "09:00" so lexicographic comparison matches
// chronological order.
func padTime(t string) string {
	if len(t) == 4 {
		return "0" + t
	}
	return t
}

// StepInput is the editable surface of a sequence step.
type StepInput struct {
	Subject      string  `json:"subject"`
	Content      string  `json:"content"`
	DelayDays    int     `json:"delay_days"`
	DelayTime    *string `json:"delay_time,omitempty"`
	DelayMinutes *int    `json:"delay_minutes,omitempty"`
}

// SequenceJob is what the dispatch endpoint enqueues and the worker
// consumes, one per (step, subscriber).
type SequenceJob struct {
	SequenceStepID int `json:"sequence_step_id"`
	SubscriberID   int `json:"subscriber_id"`
}

type SequenceService struct {
	SequenceRepo   repository.SequenceRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	Queue          queue.Publisher
}

// AddStep creates a step and re-sorts the whole sequence: the new step's
// timing can place it anywhere among its siblings. Returns the step and its
// 1-based position after sorting.
func (s *SequenceService) AddStep(sequenceID int, in StepInput) (*model.SequenceStep, int, error) {
	sequence, err := s.SequenceRepo.GetSequence(sequenceID)
	if err != nil {
		return nil, 0, err
	}
	steps, err := s.SequenceRepo.ListSteps(sequenceID)
	if err != nil {
		return nil, 0, err
	}
	if err := validateDelayMinutes(in, steps, 0); err != nil {
		return nil, 0, err
	}

	step := &model.SequenceStep{
		SequenceID:   sequenceID,
		StepNumber:   len(steps) + 1,
		Subject:      in.Subject,
		Content:      in.Content,
		DelayDays:    in.DelayDays,
		DelayTime:    in.DelayTime,
		DelayMinutes: in.DelayMinutes,
	}
	if err := s.SequenceRepo.CreateStep(step); err != nil {
		return nil, 0, err
	}

	position, err := s.resort(sequence, append(steps, *step), len(steps))
	if err != nil {
		return nil, 0, err
	}
	step.StepNumber = position
	return step, position, nil
}

// EditStep updates a step's content or timing and re-sorts all steps, since
// a timing edit can move the step past siblings. Returns the step's new
// 1-based position for editor redirection.
func (s *SequenceService) EditStep(sequenceID, stepNumber int, in StepInput) (*model.SequenceStep, int, error) {
	sequence, err := s.SequenceRepo.GetSequence(sequenceID)
	if err != nil {
		return nil, 0, err
	}
	step, err := s.SequenceRepo.GetStep(sequenceID, stepNumber)
	if err != nil {
		return nil, 0, err
	}
	steps, err := s.SequenceRepo.ListSteps(sequenceID)
	if err != nil {
		return nil, 0, err
	}
	if err := validateDelayMinutes(in, steps, step.ID); err != nil {
		return nil, 0, err
	}

	step.Subject = in.Subject
	step.Content = in.Content
	step.DelayDays = in.DelayDays
	step.DelayTime = in.DelayTime
	step.DelayMinutes = in.DelayMinutes
	if err := s.SequenceRepo.UpdateStep(step); err != nil {
		return nil, 0, err
	}

	preIdx := -1
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = *step
			preIdx = i
			break
		}
	}

	position, err := s.resort(sequence, steps, preIdx)
	if err != nil {
		return nil, 0, err
	}
	step.StepNumber = position
	return step, position, nil
}

// DeleteStep removes a step without re-sorting: remaining steps keep their
// relative order and only their numbers shift down.
func (s *SequenceService) DeleteStep(sequenceID, stepNumber int) error {
	step, err := s.SequenceRepo.GetStep(sequenceID, stepNumber)
	if err != nil {
		return err
	}
	if err := s.SequenceRepo.DeleteStep(step.ID); err != nil {
		return err
	}

	remaining, err := s.SequenceRepo.ListSteps(sequenceID)
	if err != nil {
		return err
	}
	ids := make([]int, len(remaining))
	for i, st := range remaining {
		ids[i] = st.ID
	}
	return s.SequenceRepo.RenumberSteps(sequenceID, ids)
}

// DispatchStep enqueues one send job per active subscriber for a due step.
// The decision that the step is due belongs to the external cron trigger;
// this only fans the step out. Safe to invoke repeatedly: the worker skips
// pairs that already have a delivery log.
func (s *SequenceService) DispatchStep(sequenceID, stepNumber int) (int, error) {
	step, err := s.SequenceRepo.GetStep(sequenceID, stepNumber)
	if err != nil {
		return 0, err
	}
	subscribers, err := s.SubscriberRepo.ListActive()
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, sub := range subscribers {
		job := SequenceJob{SequenceStepID: step.ID, SubscriberID: sub.ID}
		if err := s.Queue.Publish(queue.TopicSequenceSends, job); err != nil {
			log.WithError(err).WithField("subscriber_id", sub.ID).Error("failed to enqueue sequence send")
			continue
		}
		queued++
	}
	return queued, nil
}

// resort rewrites step numbers from a fresh total order and reports the
// 1-based post-sort position of the step at preIdx.
func (s *SequenceService) resort(sequence *model.Sequence, steps []model.SequenceStep, preIdx int) (int, error) {
	ordered, positions := SortSteps(steps, sequence.DefaultSendTime)
	ids := make([]int, len(ordered))
	for i, st := range ordered {
		ids[i] = st.ID
	}
	if err := s.SequenceRepo.RenumberSteps(sequence.ID, ids); err != nil {
		return 0, err
	}
	return positions[preIdx] + 1, nil
}

// validateDelayMinutes enforces that delay_minutes only ever lives on one
// step: the near-immediate first send of the sequence.
func validateDelayMinutes(in StepInput, steps []model.SequenceStep, editingStepID int) error {
	if in.DelayMinutes == nil {
		return nil
	}
	for _, st := range steps {
		if st.ID != editingStepID && st.DelayMinutes != nil {
			return appErrors.NewValidation("delay_minutes is only allowed on the first step")
		}
	}
	return nil
}
