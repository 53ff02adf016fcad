package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// TopicSequenceSends carries {sequence_step_id, subscriber_id} jobs from
// the dispatch endpoint to the worker.
const TopicSequenceSends = "sequence_sends"

// Publisher is the producer side of the queue. The server only ever
// publishes; consuming happens in cmd/worker.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Queue adds in-process subscription on top of Publisher, used when no
// broker is configured and in tests.
type Queue interface {
	Publisher
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue dispatches published payloads to in-process handlers with
// retry and exponential backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
	}
}

type jobPayload struct {
	payload    any
	retryCount int
	maxRetries int
}

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := jobPayload{payload: payload, maxRetries: 3}
	for _, handler := range handlers {
		go q.processJob(handler, job)
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(payload any) error, job jobPayload) {
	for job.retryCount <= job.maxRetries {
		err := handler(job.payload)
		if err == nil {
			return
		}

		job.retryCount++
		log.WithError(err).Warnf("job failed (attempt %d/%d)", job.retryCount, job.maxRetries)
		if job.retryCount > job.maxRetries {
			log.Errorf("job permanently failed after %d attempts: %+v", job.maxRetries, job.payload)
			return
		}

		time.Sleep(time.Duration(job.retryCount*500) * time.Millisecond)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// AMQPPublisher publishes JSON payloads onto durable RabbitMQ queues.
type AMQPPublisher struct {
	channel *amqp.Channel
	conn    *amqp.Connection
}

func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{channel: ch, conn: conn}, nil
}

func (p *AMQPPublisher) Publish(topic string, payload any) error {
	if _, err := p.channel.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.channel.Publish("", topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.channel.Close()
	return p.conn.Close()
}

var _ Publisher = (*AMQPPublisher)(nil)
var _ Queue = (*InMemoryQueue)(nil)
