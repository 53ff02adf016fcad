// internal/service/send_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	appErrors "github.com/quillhq/newsletter-backend/internal/errors"
	"github.com/quillhq/newsletter-backend/internal/model"
	"github.com/quillhq/newsletter-backend/internal/provider"
	"github.com/quillhq/newsletter-backend/internal/repository"
)

// SendConfig is the injected configuration that picks the send strategy.
// It is read once per call; nothing in the send path touches the
// environment directly.
type SendConfig struct {
	BroadcastEnabled bool
	AudienceID       string
	FromAddress      string
	PublicBaseURL    string
}

type SendService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	SubscriberRepo repository.SubscriberRepositoryInterface
	DeliveryRepo   repository.DeliveryLogRepositoryInterface
	SequenceRepo   repository.SequenceRepositoryInterface
	Provider       provider.EmailProvider
	Renderer       Renderer
	Config         SendConfig
}

type SendCampaignResult struct {
	Sent  int                       `json:"sent"`
	Total int                       `json:"total"`
	Stats *repository.CampaignStats `json:"stats"`
}

// DeliveryResult is what a strategy reports back: how many recipients the
// provider accepted out of how many were in scope.
type DeliveryResult struct {
	Sent  int
	Total int
}

// SendStrategy is the one contract both send paths implement.
type SendStrategy interface {
	Deliver(ctx context.Context, c *model.Campaign) (*DeliveryResult, error)
}

// Strategy resolves the send path from injected configuration: Broadcast
// only when the flag is on AND an audience is configured; a flag without an
// audience falls back to Transactional.
func (s *SendService) Strategy() SendStrategy {
	if s.Config.BroadcastEnabled && s.Config.AudienceID != "" {
		return &broadcastStrategy{s}
	}
	return &transactionalStrategy{s}
}

// SendCampaign runs one campaign send end to end. There is no transaction
// around send, log recording and the status update; the whole operation is
// instead resumable and keyed by campaign id, so a retried call skips
// recipients that already have a delivery log row.
func (s *SendService) SendCampaign(ctx context.Context, campaignID int) (*SendCampaignResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == model.CampaignStatusSent {
		return nil, appErrors.NewValidation("campaign already sent")
	}

	result, err := s.Strategy().Deliver(ctx, campaign)
	if err != nil {
		var validation *appErrors.ValidationError
		if errors.As(err, &validation) {
			// Precondition failures (empty recipient set) leave the
			// campaign status untouched.
			return nil, err
		}
		if statusErr := s.CampaignRepo.UpdateStatus(campaignID, model.CampaignStatusFailed); statusErr != nil {
			log.WithError(statusErr).WithField("campaign_id", campaignID).Error("failed to mark campaign failed")
		}
		return nil, err
	}

	if err := s.CampaignRepo.MarkSent(campaignID, time.Now(), result.Total); err != nil {
		return nil, err
	}

	stats, err := s.DeliveryRepo.GetStats(campaignID)
	if err != nil {
		return nil, err
	}

	return &SendCampaignResult{Sent: result.Sent, Total: result.Total, Stats: stats}, nil
}

// SendSequenceStep delivers one sequence step to one subscriber. It is safe
// to invoke repeatedly for the same pair: a pair that already has a log row
// is a no-op. Provider failures are recorded on the ledger rather than
// returned, so the queue does not redeliver an already-logged attempt.
func (s *SendService) SendSequenceStep(ctx context.Context, stepID, subscriberID int) error {
	step, err := s.SequenceRepo.GetStepByID(stepID)
	if err != nil {
		return err
	}
	if step == nil {
		return appErrors.NewStepNotFound(stepID)
	}

	subscriber, err := s.SubscriberRepo.GetByID(subscriberID)
	if err != nil {
		return err
	}
	if subscriber == nil || subscriber.Status != model.SubscriberStatusActive {
		log.WithFields(log.Fields{"subscriber_id": subscriberID, "sequence_step_id": stepID}).
			Info("skipping sequence send for non-active subscriber")
		return nil
	}

	ref := repository.LogRef{SequenceStepID: &step.ID}
	logged, err := s.DeliveryRepo.LoggedEmails(ref)
	if err != nil {
		return err
	}
	if logged[subscriber.Email] {
		return nil
	}

	outcome := repository.RecipientOutcome{Subscriber: *subscriber}
	html, err := s.Renderer.Render(step.Subject, step.Content, *subscriber, s.unsubscribeURL(*subscriber))
	if err != nil {
		outcome.Err = err.Error()
	} else {
		results, err := s.Provider.SendBatch(ctx, []provider.Message{{
			From:    s.Config.FromAddress,
			To:      []string{subscriber.Email},
			Subject: step.Subject,
			HTML:    html,
		}})
		switch {
		case err != nil:
			outcome.Err = err.Error()
		case len(results) > 0 && results[0].Err != "":
			outcome.Err = results[0].Err
		case len(results) > 0:
			outcome.ProviderMessageID = &results[0].MessageID
		}
	}

	return s.DeliveryRepo.RecordInitialLogs(ref, []repository.RecipientOutcome{outcome})
}

func (s *SendService) unsubscribeURL(subscriber model.Subscriber) string {
	return fmt.Sprintf("%s/unsubscribe?token=%s", s.Config.PublicBaseURL, subscriber.UnsubscribeToken)
}

func (s *SendService) resolveRecipients(campaign *model.Campaign) ([]model.Subscriber, error) {
	if campaign.ContactListID != nil {
		return s.SubscriberRepo.ListActiveInList(*campaign.ContactListID)
	}
	return s.SubscriberRepo.ListActive()
}

// transactionalStrategy sends per-recipient emails through the provider's
// batch call and records one delivery log per recipient, failures included.
type transactionalStrategy struct {
	svc *SendService
}

func (t *transactionalStrategy) Deliver(ctx context.Context, c *model.Campaign) (*DeliveryResult, error) {
	s := t.svc
	recipients, err := s.resolveRecipients(c)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, appErrors.NewValidation("No active subscribers")
	}

	ref := repository.LogRef{CampaignID: &c.ID}
	logged, err := s.DeliveryRepo.LoggedEmails(ref)
	if err != nil {
		return nil, err
	}

	var pending []model.Subscriber
	skipped := 0
	for _, sub := range recipients {
		if logged[sub.Email] {
			skipped++
			continue
		}
		pending = append(pending, sub)
	}
	if len(pending) == 0 {
		return &DeliveryResult{Sent: skipped, Total: len(recipients)}, nil
	}

	// Render per recipient. A recipient whose render fails still gets a
	// (failed) log row; the batch goes on without them.
	outcomes := make([]repository.RecipientOutcome, len(pending))
	var messages []provider.Message
	batched := make([]int, 0, len(pending)) // outcome index per message
	for i, sub := range pending {
		outcomes[i] = repository.RecipientOutcome{Subscriber: sub}
		html, err := s.Renderer.Render(c.Subject, c.Content, sub, s.unsubscribeURL(sub))
		if err != nil {
			outcomes[i].Err = err.Error()
			continue
		}
		messages = append(messages, provider.Message{
			From:    s.Config.FromAddress,
			To:      []string{sub.Email},
			Subject: c.Subject,
			HTML:    html,
		})
		batched = append(batched, i)
	}

	var batchErr error
	if len(messages) > 0 {
		results, err := s.Provider.SendBatch(ctx, messages)
		if err != nil {
			batchErr = appErrors.NewProvider("batch send", err)
			for _, i := range batched {
				outcomes[i].Err = err.Error()
			}
		} else {
			byEmail := make(map[string]provider.SendResult, len(results))
			for _, r := range results {
				byEmail[r.Email] = r
			}
			for _, i := range batched {
				r, ok := byEmail[outcomes[i].Subscriber.Email]
				switch {
				case !ok:
					outcomes[i].Err = "no result returned for recipient"
				case r.Err != "":
					outcomes[i].Err = r.Err
				default:
					id := r.MessageID
					outcomes[i].ProviderMessageID = &id
				}
			}
		}
	}

	// One row per recipient regardless of individual outcome.
	if err := s.DeliveryRepo.RecordInitialLogs(ref, outcomes); err != nil {
		return nil, err
	}
	if batchErr != nil {
		return nil, batchErr
	}

	sent := skipped
	for _, o := range outcomes {
		if o.Err == "" {
			sent++
		}
	}
	return &DeliveryResult{Sent: sent, Total: len(recipients)}, nil
}

// broadcastStrategy hands the whole campaign to the provider's one-to-many
// send. Per-recipient detail is opaque to the provider call, so logs are
// written with the broadcast id and later resolved by (broadcast_id, email)
// when webhook events arrive.
type broadcastStrategy struct {
	svc *SendService
}

func (b *broadcastStrategy) Deliver(ctx context.Context, c *model.Campaign) (*DeliveryResult, error) {
	s := b.svc
	result, err := s.Provider.SendBroadcast(ctx, provider.Broadcast{
		AudienceID: s.Config.AudienceID,
		From:       s.Config.FromAddress,
		Subject:    c.Subject,
		HTML:       c.Content,
	})
	if err != nil {
		return nil, appErrors.NewProvider("broadcast send", err)
	}

	// Seed the ledger so webhook events can resolve (broadcast_id, email).
	recipients, err := s.resolveRecipients(c)
	if err != nil {
		return nil, err
	}
	ref := repository.LogRef{CampaignID: &c.ID}
	logged, err := s.DeliveryRepo.LoggedEmails(ref)
	if err != nil {
		return nil, err
	}
	outcomes := make([]repository.RecipientOutcome, 0, len(recipients))
	for _, sub := range recipients {
		if logged[sub.Email] {
			continue
		}
		id := result.BroadcastID
		outcomes = append(outcomes, repository.RecipientOutcome{Subscriber: sub, BroadcastID: &id})
	}
	if len(outcomes) > 0 {
		if err := s.DeliveryRepo.RecordInitialLogs(ref, outcomes); err != nil {
			return nil, err
		}
	}

	return &DeliveryResult{Sent: result.RecipientCount, Total: result.RecipientCount}, nil
}
