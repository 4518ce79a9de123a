package types

import "time"

// Message senders.
const (
	SenderChild = "child"
	SenderToy   = "toy"
)

// Message is one turn of a conversation between a child and the toy.
type Message struct {
	Sender    string    `json:"sender"` // SenderChild or SenderToy
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationEnded  = "ended"
)

// Conversation is the persisted record of one session's exchange. Messages are
// stored with the conversation; the knowledge graph is derived from them after
// the conversation ends and never blocks saving them.
type Conversation struct {
	ID           string    `json:"id"`
	ChildID      string    `json:"childId"`
	ToyID        string    `json:"toyId,omitempty"`
	Type         string    `json:"type"` // currently always "conversation"
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt,omitempty"`
	LastActivity time.Time `json:"lastActivityAt"`
	MessageCount int       `json:"messageCount"`
	Messages     []Message `json:"messages,omitempty"`
	EndReason    string    `json:"endReason,omitempty"`
	Flagged      bool      `json:"flagged,omitempty"`
}

// Child is the profile document extraction reads for prompt calibration.
type Child struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AgeLevel string `json:"ageLevel"` // preschool, elementary, ...
}

// DefaultAgeLevel is assumed when a child profile carries no age level.
const DefaultAgeLevel = "elementary"
