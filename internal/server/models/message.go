package models

import (
	"time"

	"github.com/dmitrijs2005/circle/internal/protocol"
)

// Message is a stored message. Content is the encrypted transport form;
// the server never sees plaintext.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	MessageType    string
	CreatedAt      time.Time
	EditedAt       *time.Time
	ExpiresAt      *time.Time
	DeletedAt      *time.Time
	ReadBy         []string
}

// Wire converts the message to its protocol form. clientID is echoed back
// to the sender so it can reconcile its optimistic copy.
func (m *Message) Wire(clientID string) protocol.Message {
	readBy := m.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return protocol.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientID:       clientID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
		ExpiresAt:      m.ExpiresAt,
		DeletedAt:      m.DeletedAt,
		ReadBy:         readBy,
	}
}
