// Package protocol defines the JSON text frames exchanged over the
// real-time channel. Every frame is an object whose "type" field names its
// variant, e.g.
//
//	{"type":"SendMessage","conversationId":"c1","content":"...","messageType":"text"}
//
// The same package is used by the client session and the server relay.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the discriminator carried in the "type" field.
type Type string

const (
	TypeAuthenticate    Type = "Authenticate"
	TypeAuthResult      Type = "AuthResult"
	TypeSendMessage     Type = "SendMessage"
	TypeMessageReceived Type = "MessageReceived"
	TypeMessageRead     Type = "MessageRead"
	TypeTypingStart     Type = "TypingStart"
	TypeTypingStop      Type = "TypingStop"
	TypeUserOnline      Type = "UserOnline"
	TypeUserOffline     Type = "UserOffline"
	TypeError           Type = "Error"
	TypePing            Type = "Ping"
	TypePong            Type = "Pong"
)

// CloseNormal is the only close code that does not trigger a reconnect.
const CloseNormal = 1000

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown frame type")
)

// Frame is implemented by every frame variant.
type Frame interface {
	FrameType() Type
}

// Authenticate is the first frame a client sends after the socket opens.
type Authenticate struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

// SendMessage carries already encrypted content. ClientID is the sender's
// temporary id and is echoed back in the confirmed Message.
type SendMessage struct {
	ConversationID   string `json:"conversationId"`
	Content          string `json:"content"`
	MessageType      string `json:"messageType"`
	ClientID         string `json:"clientId,omitempty"`
	ExpiresInMinutes int    `json:"expiresInMinutes,omitempty"`
}

type MessageReceived struct {
	Message Message `json:"message"`
}

// MessageRead travels both ways: clients send messageId+conversationId,
// the server broadcasts messageId+userId.
type MessageRead struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type TypingStart struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type TypingStop struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

type Error struct {
	Message string `json:"message"`
}

type Ping struct{}

type Pong struct{}

// Message is a server-confirmed message as delivered to clients. Content is
// the transport-encoded envelope; the server never sees plaintext.
type Message struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	SenderID       string              `json:"senderId,omitempty"`
	ClientID       string              `json:"clientId,omitempty"`
	Content        string              `json:"content"`
	MessageType    string              `json:"messageType"`
	CreatedAt      time.Time           `json:"createdAt"`
	EditedAt       *time.Time          `json:"editedAt,omitempty"`
	ExpiresAt      *time.Time          `json:"expiresAt,omitempty"`
	DeletedAt      *time.Time          `json:"deletedAt,omitempty"`
	ReadBy         []string            `json:"readBy"`
	Reactions      map[string][]string `json:"reactions,omitempty"`
}

func (Authenticate) FrameType() Type    { return TypeAuthenticate }
func (AuthResult) FrameType() Type      { return TypeAuthResult }
func (SendMessage) FrameType() Type     { return TypeSendMessage }
func (MessageReceived) FrameType() Type { return TypeMessageReceived }
func (MessageRead) FrameType() Type     { return TypeMessageRead }
func (TypingStart) FrameType() Type     { return TypeTypingStart }
func (TypingStop) FrameType() Type      { return TypeTypingStop }
func (UserOnline) FrameType() Type      { return TypeUserOnline }
func (UserOffline) FrameType() Type     { return TypeUserOffline }
func (Error) FrameType() Type           { return TypeError }
func (Ping) FrameType() Type            { return TypePing }
func (Pong) FrameType() Type            { return TypePong }

// Encode marshals f and prepends its "type" field.
func Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %T does not encode to an object", ErrMalformed, f)
	}
	head, err := json.Marshal(f.FrameType())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(head)+10)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}

// Decode parses a frame and returns a pointer to the concrete variant, e.g.
// *AuthResult.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var f Frame
	switch head.Type {
	case TypeAuthenticate:
		f = &Authenticate{}
	case TypeAuthResult:
		f = &AuthResult{}
	case TypeSendMessage:
		f = &SendMessage{}
	case TypeMessageReceived:
		f = &MessageReceived{}
	case TypeMessageRead:
		f = &MessageRead{}
	case TypeTypingStart:
		f = &TypingStart{}
	case TypeTypingStop:
		f = &TypingStop{}
	case TypeUserOnline:
		f = &UserOnline{}
	case TypeUserOffline:
		f = &UserOffline{}
	case TypeError:
		f = &Error{}
	case TypePing:
		return &Ping{}, nil
	case TypePong:
		return &Pong{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return f, nil
}
