// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/quillhq/newsletter-backend/internal/config"
	"github.com/quillhq/newsletter-backend/internal/controller"
	"github.com/quillhq/newsletter-backend/internal/db"
	"github.com/quillhq/newsletter-backend/internal/handler"
	"github.com/quillhq/newsletter-backend/internal/provider"
	"github.com/quillhq/newsletter-backend/internal/queue"
	"github.com/quillhq/newsletter-backend/internal/repository"
	"github.com/quillhq/newsletter-backend/internal/service"
	"github.com/quillhq/newsletter-backend/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	deliveryRepo := &repository.DeliveryLogRepository{DB: conn}
	sequenceRepo := &repository.SequenceRepository{DB: conn}

	sendService := &service.SendService{
		CampaignRepo:   campaignRepo,
		SubscriberRepo: subscriberRepo,
		DeliveryRepo:   deliveryRepo,
		SequenceRepo:   sequenceRepo,
		Provider:       provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey),
		Renderer:       &service.TemplateRenderer{},
		Config: service.SendConfig{
			BroadcastEnabled: cfg.BroadcastEnabled,
			AudienceID:       cfg.BroadcastAudienceID,
			FromAddress:      cfg.FromAddress,
			PublicBaseURL:    cfg.PublicBaseURL,
		},
	}

	// With a broker, dispatched jobs go to cmd/worker. Without one, an
	// in-process queue delivers them on this process's goroutines.
	var publisher queue.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := queue.DialAMQP(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("failed to connect to AMQP broker: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	} else {
		log.Info("AMQP_URL not set, handling sequence sends in-process")
		inProcess := queue.NewInMemoryQueue()
		inProcess.Subscribe(queue.TopicSequenceSends, func(payload any) error {
			job, ok := payload.(service.SequenceJob)
			if !ok {
				return fmt.Errorf("unexpected payload type %T", payload)
			}
			return sendService.SendSequenceStep(context.Background(), job.SequenceStepID, job.SubscriberID)
		})
		publisher = inProcess
	}

	sequenceService := &service.SequenceService{
		SequenceRepo:   sequenceRepo,
		SubscriberRepo: subscriberRepo,
		Queue:          publisher,
	}

	campaignController := &controller.CampaignController{
		CampaignRepo: campaignRepo,
		DeliveryRepo: deliveryRepo,
		SendService:  sendService,
	}
	sequenceController := &controller.SequenceController{
		SequenceService: sequenceService,
	}
	subscriberController := &controller.SubscriberController{
		SubscriberRepo: subscriberRepo,
	}

	webhookHandler := &handler.WebhookHandler{
		Verifier:        webhook.NewVerifier(cfg.WebhookSecret),
		Logs:            deliveryRepo,
		Subscribers:     subscriberRepo,
		UnsubscribeHost: cfg.UnsubscribeHost,
	}
	unsubscribeHandler := &handler.UnsubscribeHandler{
		Subscribers: subscriberRepo,
	}

	r := chi.NewRouter()

	// Public surface: signature- and token-protected on their own.
	r.Post("/webhooks/email", webhookHandler.HandleEmailEvent)
	r.Get("/unsubscribe", unsubscribeHandler.Unsubscribe)

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(controller.RequireBearer(cfg.APIToken))

		r.Post("/campaigns", campaignController.CreateCampaign)
		r.Get("/campaigns", campaignController.ListCampaigns)
		r.Get("/campaigns/{id}", campaignController.GetCampaign)
		r.Post("/campaigns/{id}/send", campaignController.SendCampaign)
		r.Get("/campaigns/{id}/stats", campaignController.GetCampaignStats)

		r.Post("/subscribers", subscriberController.CreateSubscriber)

		r.Post("/sequences/{id}/steps", sequenceController.AddStep)
		r.Put("/sequences/{id}/steps/{step}", sequenceController.EditStep)
		r.Delete("/sequences/{id}/steps/{step}", sequenceController.DeleteStep)
		r.Post("/sequences/{id}/steps/{step}/dispatch", sequenceController.DispatchStep)
	})

	log.Infof("server running on %s", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
