package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// LogDeliverer writes notifications to the service log. Used when no
// notification backend is configured.
type LogDeliverer struct {
	logger *zap.Logger
}

func NewLogDeliverer(logger *zap.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger.Named("notification")}
}

func (d *LogDeliverer) Deliver(_ context.Context, n Notification) error {
	d.logger.Info(n.Text,
		zap.String("recipient_user_id", n.RecipientUserID),
		zap.Time("created_at", n.CreatedAt))
	return nil
}

// HTTPDeliverer posts notifications to the notification service.
type HTTPDeliverer struct {
	client *resty.Client
}

func NewHTTPDeliverer(baseURL string, timeout time.Duration) *HTTPDeliverer {
	return &HTTPDeliverer{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (d *HTTPDeliverer) Deliver(ctx context.Context, n Notification) error {
	req := d.client.R().
		SetContext(ctx).
		SetBody(n)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Post("/api/notifications")
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification service returned %d", resp.StatusCode())
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDeliverer publishes notifications as JSON, keyed by recipient so that a
// user's notifications stay ordered within a partition.
type KafkaDeliverer struct {
	writer MessageWriter
}

func NewKafkaDeliverer(writer MessageWriter) *KafkaDeliverer {
	return &KafkaDeliverer{writer: writer}
}

// NewKafkaWriter builds the writer used by KafkaDeliverer.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

func (d *KafkaDeliverer) Deliver(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.RecipientUserID),
		Value: data,
		Time:  n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
