package models

import "time"

// EventType names a tracked learning event.
type EventType string

const (
	EventTestCompleted EventType = "test_completed"
	EventTopicViewed   EventType = "topic_viewed"
	EventQuestionAsked EventType = "question_asked"
)

// Event is one analytics record emitted after a reply is sent.
type Event struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      EventType `json:"type"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventSummary aggregates event counts by type.
type EventSummary struct {
	Type  EventType `json:"type"`
	Count int64     `json:"count"`
}

// TopicCount aggregates how often a topic was viewed.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}
