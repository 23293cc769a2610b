package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Nbruchi/amazon-server/internal/config"
	"github.com/Nbruchi/amazon-server/internal/metrics"
	"github.com/Nbruchi/amazon-server/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	EventOrderConfirmation = "order_confirmation"
	EventWelcome           = "welcome"
	EventOTP               = "otp"
)

// Event is the wire format published to the notification topic. The consumer
// side (email rendering and delivery) lives outside this service.
type Event struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	UserID    int64           `json:"user_id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Order     *models.Order   `json:"order,omitempty"`
	OTP       string          `json:"otp,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type KafkaDispatcher struct {
	writer *kafka.Writer
}

func NewKafkaDispatcher(cfg *config.KafkaConfig) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.NotificationTopic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

func (d *KafkaDispatcher) publish(ctx context.Context, event Event) error {
	event.EventID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.UserID, 10)),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish notification event: %w", err)
	}

	return nil
}

func (d *KafkaDispatcher) OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error {
	return d.publish(ctx, Event{
		Type:   EventOrderConfirmation,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Order:  order,
	})
}

func (d *KafkaDispatcher) Welcome(ctx context.Context, user *models.User) error {
	return d.publish(ctx, Event{
		Type:   EventWelcome,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
}

func (d *KafkaDispatcher) OTP(ctx context.Context, user *models.User, code string) error {
	return d.publish(ctx, Event{
		Type:   EventOTP,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		OTP:    code,
	})
}

// BestEffort runs a dispatch call outside any transactional boundary. A
// failure is logged and counted, never returned to the caller.
func BestEffort(kind string, fn func() error) {
	if err := fn(); err != nil {
		metrics.NotificationFailures.WithLabelValues(kind).Inc()
		slog.Error("notification dispatch failed", "kind", kind, "err", err)
	}
}
