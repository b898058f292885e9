package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PutsTypeFirst(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{"authenticate", Authenticate{Token: "t"}, `{"type":"Authenticate","token":"t"}`},
		{"auth failed keeps success=false", AuthResult{Success: false, Message: "invalid token"}, `{"type":"AuthResult","success":false,"message":"invalid token"}`},
		{"ping has no body", Ping{}, `{"type":"Ping"}`},
		{"pointer frame", &TypingStop{ConversationID: "c1"}, `{"type":"TypingStop","conversationId":"c1"}`},
		{"read receipt", MessageRead{MessageID: "m1", UserID: "u2"}, `{"type":"MessageRead","messageId":"m1","userId":"u2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
			assert.Contains(t, string(got), `{"type":`)
		})
	}
}

func TestDecode_AllVariants(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	frames := []Frame{
		&Authenticate{Token: "tok"},
		&AuthResult{Success: true, UserID: "u1"},
		&SendMessage{ConversationID: "c1", Content: "enc", MessageType: "text", ClientID: "tmp-1"},
		&MessageReceived{Message: Message{ID: "m1", ConversationID: "c1", Content: "enc", MessageType: "text", CreatedAt: created, ReadBy: []string{"u1"}}},
		&MessageRead{MessageID: "m1", ConversationID: "c1"},
		&TypingStart{ConversationID: "c1", UserID: "u2"},
		&TypingStop{ConversationID: "c1", UserID: "u2"},
		&UserOnline{UserID: "u3"},
		&UserOffline{UserID: "u3"},
		&Error{Message: "boom"},
		&Ping{},
		&Pong{},
	}

	for _, f := range frames {
		t.Run(string(f.FrameType()), func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestDecode_MessageKeyMeansDifferentThingsPerType(t *testing.T) {
	f, err := Decode([]byte(`{"type":"Error","message":"not authenticated"}`))
	require.NoError(t, err)
	assert.Equal(t, "not authenticated", f.(*Error).Message)

	f, err = Decode([]byte(`{"type":"MessageReceived","message":{"id":"m1","conversationId":"c1","content":"x","messageType":"text","createdAt":"2025-01-01T00:00:00Z","readBy":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", f.(*MessageReceived).Message.ID)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"no type", `{"token":"x"}`, ErrMalformed},
		{"unknown type", `{"type":"Teleport"}`, ErrUnknownType},
		{"wrong field type", `{"type":"AuthResult","success":"yes"}`, ErrMalformed},
		{"string message for MessageReceived", `{"type":"MessageReceived","message":"hi"}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
