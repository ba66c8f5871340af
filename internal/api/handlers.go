package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-taskchat/internal/auth"
	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/server"
	"github.com/npezzotti/go-taskchat/internal/types"
)

type SystemMessageRequest struct {
	Content     string `json:"content"`
	RecipientId string `json:"recipientId,omitempty"`
}

type SystemMessageResponse struct {
	Message   types.Message `json:"message"`
	Delivered *bool         `json:"delivered,omitempty"`
}

type MessagesResponse struct {
	Messages []types.Message `json:"messages"`
}

func (s *TaskChatApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *TaskChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// serveWs verifies the credential before upgrading. A rejected credential
// never gets a socket.
func (s *TaskChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, err := s.verify(r.Context(), token)
	if err != nil {
		s.log.Printf("ws handshake rejected: %v", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.allowedOrigins) == 0 {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(userId, conn, s.cs, s.log)
	if !s.cs.RegisterClient(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *TaskChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	taskId := strings.TrimSpace(r.PathValue("taskId"))
	if taskId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.GetMessagesParams{TaskId: taskId}

	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		before, err := time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			errResp := NewValidationError("before must be an RFC 3339 timestamp")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.Before = before
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			errResp := NewValidationError("limit must be a positive integer")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		params.Limit = limit
	}

	if !s.access.CanAccess(r.Context(), userId, taskId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	records, err := s.db.GetMessages(r.Context(), params)
	if err != nil {
		s.log.Printf("get messages for task %q: %v", taskId, err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := MessagesResponse{Messages: make([]types.Message, 0, len(records))}
	for _, record := range records {
		resp.Messages = append(resp.Messages, record.ToMessage())
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *TaskChatApp) createSystemMessage(w http.ResponseWriter, r *http.Request) {
	taskId := strings.TrimSpace(r.PathValue("taskId"))

	var req SystemMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var (
		msg       types.Message
		delivered *bool
		err       error
	)
	if recipientId := strings.TrimSpace(req.RecipientId); recipientId != "" {
		var ok bool
		msg, ok, err = s.cs.SendSystemMessageTo(r.Context(), taskId, recipientId, req.Content)
		delivered = &ok
	} else {
		msg, err = s.cs.SendSystemMessage(r.Context(), taskId, req.Content)
	}

	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, server.ErrEmptyContent), errors.Is(err, server.ErrMissingTaskId):
			errResp = NewValidationError(err.Error())
		case errors.Is(err, server.ErrServerClosed):
			errResp = NewServiceUnavailableError(err)
		default:
			s.log.Printf("create system message for task %q: %v", taskId, err)
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, SystemMessageResponse{Message: msg, Delivered: delivered})
}

// getPresence returns the last recorded presence of a user. Any
// authenticated caller may read it.
func (s *TaskChatApp) getPresence(w http.ResponseWriter, r *http.Request) {
	userId := strings.TrimSpace(r.PathValue("userId"))
	if userId == "" {
		errResp := NewValidationError("userId is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	record, err := s.presence.GetPresence(r.Context(), userId)
	if errors.Is(err, database.ErrNotFound) {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if err != nil {
		s.log.Printf("get presence for %q: %v", userId, err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, record.ToPresence())
}
