// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/quillhq/newsletter-backend/internal/config"
	"github.com/quillhq/newsletter-backend/internal/db"
	"github.com/quillhq/newsletter-backend/internal/provider"
	"github.com/quillhq/newsletter-backend/internal/queue"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/service"
)

const maxRetries = 3

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL must be set; without a broker the server handles sequence sends itself")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}

	sendService := &service.SendService{
		CampaignRepo:   &repository.CampaignRepository{DB: conn},
		SubscriberRepo: &repository.SubscriberRepository{DB: conn},
		DeliveryRepo:   &repository.DeliveryLogRepository{DB: conn},
		SequenceRepo:   &repository.SequenceRepository{DB: conn},
		Provider:       provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey),
		Renderer:       &service.TemplateRenderer{},
		Config: service.SendConfig{
			BroadcastEnabled: cfg.BroadcastEnabled,
			AudienceID:       cfg.BroadcastAudienceID,
			FromAddress:      cfg.FromAddress,
			PublicBaseURL:    cfg.PublicBaseURL,
		},
	}

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("failed to connect to AMQP broker: %v", err)
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatalf("failed to open a channel: %v", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(queue.TopicSequenceSends, true, false, false, false, nil)
	if err != nil {
		log.Fatalf("failed to declare queue: %v", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("failed to register consumer: %v", err)
	}

	log.Info("worker running, waiting for sequence send jobs")
	for d := range msgs {
		var job service.SequenceJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.WithError(err).Warn("invalid job payload, dropping")
			d.Ack(false)
			continue
		}

		err := sendService.SendSequenceStep(context.Background(), job.SequenceStepID, job.SubscriberID)
		if err != nil {
			retries := retryCountFrom(d.Headers)
			log.WithError(err).WithFields(log.Fields{
				"sequence_step_id": job.SequenceStepID,
				"subscriber_id":    job.SubscriberID,
				"retries":          retries,
			}).Error("sequence send failed")

			// A plain Nack requeue would redeliver the message with its
			// original headers, so the counter has to travel on a fresh
			// publish.
			if retries < maxRetries {
				if pubErr := republish(ch, d, retries+1); pubErr != nil {
					log.WithError(pubErr).Error("failed to requeue job")
					d.Nack(false, true)
					continue
				}
			} else {
				log.WithFields(log.Fields{
					"sequence_step_id": job.SequenceStepID,
					"subscriber_id":    job.SubscriberID,
				}).Error("dropping job after max retries")
			}
		}

		d.Ack(false)
	}
}

// retryCountFrom reads the x-retry-count header. AMQP tables carry numbers
// in whatever width the publisher used; anything unreadable counts as zero.
func retryCountFrom(headers amqp.Table) int32 {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

func republish(ch *amqp.Channel, d amqp.Delivery, retries int32) error {
	return ch.Publish("", queue.TopicSequenceSends, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        d.Body,
		Headers:     amqp.Table{"x-retry-count": retries},
	})
}
