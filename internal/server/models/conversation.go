package models

import "time"

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Conversation struct {
	ID           string
	Name         string
	Type         string
	CreatedBy    string
	CreatedAt    time.Time
	Participants []Participant
}

type Participant struct {
	ConversationID string
	UserID         string
	UserName       string
	Role           string
	JoinedAt       time.Time
}

// HasUser reports whether userID takes part in the conversation.
func (c *Conversation) HasUser(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
