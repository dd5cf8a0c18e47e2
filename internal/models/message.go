package models

import "time"

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Sender    *User     `json:"sender,omitempty"`
	Content   string    `json:"content"`
	ReadBy    []string  `json:"readBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsReadBy reports whether userID is in the message's read set.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ReadMark records a newly applied read receipt.
type ReadMark struct {
	MessageID string
	ChatID    string
	UserID    string
}
