package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/stream"
	"github.com/freelancehub/convo/internal/viewmodel"
)

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrNotParticipant):
		code = http.StatusForbidden
	case errors.Is(err, chat.ErrEmptyText),
		errors.Is(err, chat.ErrSameParticipant),
		errors.Is(err, chat.ErrMissingUser):
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// loadForParticipant fetches the conversation and rejects callers who are not
// in it. Outsiders get 403, not the conversation's existence.
func (s *Server) loadForParticipant(r *http.Request) (*chat.Conversation, error) {
	conv, err := s.dir.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(UserID(r.Context())) {
		return nil, chat.ErrNotParticipant
	}
	return conv, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	convs, err := s.db.ConversationCount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	msgs, err := s.db.MessageCount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.writeError(w, err)
		return
	}
	failed, err := s.db.FailedOutbox()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"userId":        UserID(r.Context()),
		"conversations": convs,
		"messages":      msgs,
		"pendingOutbox": len(pending),
		"failedOutbox":  len(failed),
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	convs, err := s.db.ListConversationsForUser(userID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.Other(userID))
	}
	profiles, err := s.db.ProfilesByID(ids)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := viewmodel.BuildList(convs, profiles, userID)
	items = viewmodel.Filter(items, r.URL.Query().Get("q"))
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleGetOrCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	conv, err := s.dir.GetOrCreate(r.Context(), UserID(r.Context()), req.PeerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, err := s.loadForParticipant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	var msgs []chat.Message
	if before > 0 {
		msgs, err = s.stream.History(r.Context(), conv.ID, before, limit)
	} else {
		msgs, err = s.db.ListMessages(conv.ID, limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{"messages": msgs}
	if r.URL.Query().Get("buckets") == "1" {
		resp["buckets"] = stream.GroupByDate(msgs, time.Now(), time.Local)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiverID string `json:"receiverId"`
		Text       string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	clientMsgID, err := s.stream.Send(r.Context(), UserID(r.Context()), req.ReceiverID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"clientMsgId":    clientMsgID,
		"conversationId": chat.PairID(UserID(r.Context()), req.ReceiverID),
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conv, err := s.loadForParticipant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	userID := UserID(r.Context())
	if len(req.MessageIDs) == 0 {
		err = s.stream.MarkThreadRead(r.Context(), conv.ID, userID)
	} else {
		err = s.stream.MarkRead(r.Context(), conv.ID, userID, req.MessageIDs)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	conv, err := s.loadForParticipant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.stream.MarkDelivered(r.Context(), conv.ID, UserID(r.Context()), req.MessageIDs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleGetProfile serves a profile from the local cache, falling back to an
// on-demand fetch from the remote directory on a cache miss.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	p, err := s.db.GetProfile(userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if p == nil && s.profiles.Enabled() {
		p, err = s.profiles.Fetch(r.Context(), userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if p != nil {
			if err := s.db.UpsertProfile(p); err != nil {
				s.logger.Warn("failed to cache fetched profile", zap.Error(err))
			}
		}
	}
	if p == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown user"})
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	conv, err := s.loadForParticipant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.typing.SetTyping(r.Context(), conv.ID, UserID(r.Context()), req.Typing); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
