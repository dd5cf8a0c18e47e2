package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-backend/internal/models"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageSent is the record published for every persisted message.
type MessageSent struct {
	MessageID    string    `json:"messageId"`
	ChatID       string    `json:"chatId"`
	SenderID     string    `json:"senderId"`
	Participants []string  `json:"participants"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Publisher hands persisted messages to downstream consumers.
type Publisher interface {
	PublishMessage(ctx context.Context, chat *models.Chat, msg *models.Message) error
	Close() error
}

type Nop struct{}

func (Nop) PublishMessage(context.Context, *models.Chat, *models.Message) error { return nil }
func (Nop) Close() error                                                       { return nil }

// Kafka publishes MessageSent records keyed by chat id, so a chat's
// messages stay ordered within one partition.
type Kafka struct {
	writer *kafkago.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func encodeMessage(chat *models.Chat, msg *models.Message) ([]byte, error) {
	return json.Marshal(MessageSent{
		MessageID:    msg.ID,
		ChatID:       msg.ChatID,
		SenderID:     msg.SenderID,
		Participants: chat.Participants,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
	})
}

func (k *Kafka) PublishMessage(ctx context.Context, chat *models.Chat, msg *models.Message) error {
	b, err := encodeMessage(chat, msg)
	if err != nil {
		return fmt.Errorf("encode message event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(msg.ChatID),
		Value: b,
		Time:  msg.CreatedAt,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
