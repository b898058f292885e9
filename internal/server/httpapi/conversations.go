package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/protocol"
)

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	userID := userIDFromContext(r.Context())
	c, err := s.messaging.CreateConversation(r.Context(), userID, req.Name, req.Type, req.ParticipantIdentifiers)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversation(c))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.messaging.ListConversations(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	out := make([]dto.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversation(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	msgs, err := s.messaging.History(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"), limit, q.Get("before"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	out := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Wire(""))
	}
	writeJSON(w, http.StatusOK, out)
}

// queryInt parses an optional non-negative integer parameter.
func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad number %q", common.ErrInvalidRequest, v)
	}
	return n, nil
}
