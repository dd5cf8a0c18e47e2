package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

type Chat struct {
	ID            string     `json:"id"`
	Participants  []string   `json:"participants"`
	IsGroup       bool       `json:"isGroup"`
	GroupName     string     `json:"groupName,omitempty"`
	GroupAdmin    string     `json:"groupAdmin,omitempty"`
	LastMessageID string     `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ChatView is a chat with its participants and last message resolved.
type ChatView struct {
	Chat
	Users       []User   `json:"users"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

type CreateChatRequest struct {
	UserIDs   []string `json:"userIds"`
	GroupName string   `json:"groupName"`
}

// HasParticipant reports whether userID is a member of the chat.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Validate checks the participant-count invariants.
func (c *Chat) Validate() error {
	if c.IsGroup {
		if len(c.Participants) <= 2 {
			return errors.New("group chat needs more than two participants")
		}
		if strings.TrimSpace(c.GroupName) == "" {
			return errors.New("group chat needs a name")
		}
		return nil
	}
	if len(c.Participants) != 2 {
		return errors.New("direct chat needs exactly two participants")
	}
	if c.Participants[0] == c.Participants[1] {
		return errors.New("direct chat needs two distinct participants")
	}
	return nil
}

// NormalizeIDs trims, deduplicates and sorts ids.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DirectKey is the canonical signature of a two-person chat: the sorted ids
// joined by "-". It is independent of argument order.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}
