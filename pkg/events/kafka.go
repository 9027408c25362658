package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeRoomCreated     EventType = "room_created"
	EventTypeRoomClosed      EventType = "room_closed"
	EventTypeRoomDeleted     EventType = "room_deleted"
	EventTypeUserJoined      EventType = "user_joined"
	EventTypeUserLeft        EventType = "user_left"
	EventTypeTrackStarted    EventType = "track_started"
	EventTypePlaybackToggled EventType = "playback_toggled"
	EventTypeMessageSent     EventType = "message_sent"
)

type Event struct {
	Type      EventType       `json:"type"`
	RoomCode  string          `json:"room_code"`
	UserID    uint            `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// KafkaClient publishes room events. Consumption happens in external
// services (analytics), so the client is write-only.
type KafkaClient struct {
	writer *kafka.Writer
}

func NewKafkaClient(brokers []string, topic string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KafkaClient{writer: writer}
}

func newEvent(eventType EventType, roomCode string, userID uint, payload interface{}) (Event, error) {
	event := Event{
		Type:      eventType,
		RoomCode:  roomCode,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		event.Payload = raw
	}

	return event, nil
}

// PublishRoomEvent writes one room lifecycle or playback event. Callers
// treat failures as non-fatal; the database is the source of truth.
func (k *KafkaClient) PublishRoomEvent(ctx context.Context, eventType EventType, roomCode string, userID uint, payload interface{}) error {
	event, err := newEvent(eventType, roomCode, userID, payload)
	if err != nil {
		return err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(uuid.New().String()),
		Value: eventJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Event payload types
type TrackStartedPayload struct {
	TrackID   uint   `json:"track_id"`
	TrackName string `json:"track_name"`
}

type PlaybackToggledPayload struct {
	Action   string  `json:"action"`
	Position float64 `json:"position"`
}
