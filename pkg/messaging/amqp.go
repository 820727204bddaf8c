package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"callinsight-server/pkg/config"
	"callinsight-server/pkg/metrics"
)

// AnalysisEvent is published after each pipeline run reaches a terminal
// state. Downstream consumers (reporting, alerting) key on CallID.
type AnalysisEvent struct {
	CallID           string             `json:"call_id"`
	Status           string             `json:"status"`
	OverallScore     *float64           `json:"overall_score,omitempty"`
	FlagCount        int                `json:"flag_count"`
	SpeakerSentiment map[string]float64 `json:"speaker_sentiment,omitempty"`
	Error            string             `json:"error,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// Publisher emits analysis events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishAnalysisEvent(ctx context.Context, event AnalysisEvent) error
	Close() error
}

// AMQPPublisher publishes analysis events to a durable AMQP queue.
type AMQPPublisher struct {
	logger *logrus.Entry
	config config.MessagingConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher connects to the broker and declares the event queue.
func NewAMQPPublisher(logger *logrus.Logger, cfg config.MessagingConfig) (*AMQPPublisher, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AMQP_URL is required")
	}

	p := &AMQPPublisher{
		logger: logger.WithField("component", "amqp_publisher"),
		config: cfg,
	}

	if err := p.connect(); err != nil {
		metrics.RecordAMQPConnectionError()
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"queue":    cfg.QueueName,
		"exchange": cfg.ExchangeName,
	}).Info("AMQP publisher connected")

	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.DialConfig(p.config.AMQPURL, amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		p.config.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue %s: %w", p.config.QueueName, err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

// PublishAnalysisEvent publishes one event with bounded retry. A dropped
// connection is re-established between attempts.
func (p *AMQPPublisher) PublishAnalysisEvent(ctx context.Context, event AnalysisEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.config.PublishRetries)),
		ctx,
	)

	err = backoff.Retry(func() error {
		return p.publish(body)
	}, policy)

	if err != nil {
		metrics.RecordAMQPPublish("error")
		p.logger.WithError(err).WithField("call_id", event.CallID).Error("Failed to publish analysis event")
		return err
	}

	metrics.RecordAMQPPublish("success")
	p.logger.WithFields(logrus.Fields{
		"call_id": event.CallID,
		"status":  event.Status,
	}).Debug("Published analysis event")
	return nil
}

func (p *AMQPPublisher) publish(body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.conn == nil || p.conn.IsClosed() {
		metrics.RecordAMQPConnectionError()
		if err := p.connect(); err != nil {
			return err
		}
	}

	err := p.channel.Publish(
		p.config.ExchangeName,
		p.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		// Force a reconnect on the next attempt
		p.channel = nil
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
