package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectKey(t *testing.T) {
	assert.Equal(t, "u1-u2", DirectKey("u1", "u2"))
	assert.Equal(t, "u1-u2", DirectKey("u2", "u1"))
}

func TestNormalizeIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeIDs([]string{" c", "a", "", "b", "a"}))
	assert.Empty(t, NormalizeIDs(nil))
}

func TestChatValidate(t *testing.T) {
	tests := []struct {
		name    string
		chat    Chat
		wantErr bool
	}{
		{name: "direct", chat: Chat{Participants: []string{"a", "b"}}},
		{name: "direct with one member", chat: Chat{Participants: []string{"a"}}, wantErr: true},
		{name: "direct with self", chat: Chat{Participants: []string{"a", "a"}}, wantErr: true},
		{name: "direct with three", chat: Chat{Participants: []string{"a", "b", "c"}}, wantErr: true},
		{name: "group", chat: Chat{IsGroup: true, GroupName: "team", Participants: []string{"a", "b", "c"}}},
		{name: "group without name", chat: Chat{IsGroup: true, GroupName: " ", Participants: []string{"a", "b", "c"}}, wantErr: true},
		{name: "group of two", chat: Chat{IsGroup: true, GroupName: "pair", Participants: []string{"a", "b"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chat.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageIsReadBy(t *testing.T) {
	m := Message{ReadBy: []string{"u1"}}
	assert.True(t, m.IsReadBy("u1"))
	assert.False(t, m.IsReadBy("u2"))
}
