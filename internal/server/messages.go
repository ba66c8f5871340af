package server

import (
	"time"

	"github.com/npezzotti/go-taskchat/internal/types"
)

const (
	EventJoinTaskRoom    = "join_task_room"
	EventLeaveTaskRoom   = "leave_task_room"
	EventSendMessage     = "send_message"
	EventTypingIndicator = "typing_indicator"
	EventMarkRead        = "mark_read"
	EventMessageReceived = "message_received"
	EventUserPresence    = "user_presence"
	EventMessagesRead    = "messages_read"
	EventError           = "error"
)

// ServerMessage is an outbound frame. A single instance may be queued to
// many clients, so it must not be modified once queued.
type ServerMessage struct {
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	TaskId     string    `json:"taskId,omitempty"`
	UserId     string    `json:"userId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SkipClient *Client   `json:"-"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type PresencePayload struct {
	UserId        string  `json:"userId"`
	IsOnline      bool    `json:"isOnline"`
	CurrentTaskId *string `json:"currentTaskId,omitempty"`
}

type RoomPayload struct {
	TaskId  string   `json:"taskId"`
	Members []string `json:"members,omitempty"`
}

type TypingPayload struct {
	TaskId   string `json:"taskId"`
	UserId   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	UserName string `json:"userName,omitempty"`
}

type MessagesReadPayload struct {
	TaskId string    `json:"taskId"`
	UserId string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
	Count  int       `json:"count"`
}

func newFrame(eventType, taskId, userId string, payload any) *ServerMessage {
	return &ServerMessage{
		Type:      eventType,
		Payload:   payload,
		TaskId:    taskId,
		UserId:    userId,
		Timestamp: Now(),
	}
}

func JoinAck(taskId string, members []string) *ServerMessage {
	return newFrame(EventJoinTaskRoom, taskId, "", RoomPayload{TaskId: taskId, Members: members})
}

func LeaveAck(taskId string) *ServerMessage {
	return newFrame(EventLeaveTaskRoom, taskId, "", RoomPayload{TaskId: taskId})
}

func UserPresence(taskId, userId string, online bool, currentTaskId string) *ServerMessage {
	p := PresencePayload{UserId: userId, IsOnline: online}
	if currentTaskId != "" {
		p.CurrentTaskId = &currentTaskId
	}

	return newFrame(EventUserPresence, taskId, userId, p)
}

func MessageReceived(msg types.Message) *ServerMessage {
	return newFrame(EventMessageReceived, msg.TaskId, msg.SenderId, msg)
}

func TypingIndicator(p TypingPayload) *ServerMessage {
	return newFrame(EventTypingIndicator, p.TaskId, p.UserId, p)
}

func MessagesRead(p MessagesReadPayload) *ServerMessage {
	return newFrame(EventMessagesRead, p.TaskId, p.UserId, p)
}

func errFrame(taskId, reason string) *ServerMessage {
	return newFrame(EventError, taskId, "", ErrorPayload{Error: reason})
}

func ErrInvalidMessage(reason string) *ServerMessage {
	if reason == "" {
		reason = "invalid message format"
	}
	return errFrame("", reason)
}

func ErrAccessDenied(taskId string) *ServerMessage {
	return errFrame(taskId, "access denied")
}

func ErrNotInRoom(taskId string) *ServerMessage {
	return errFrame(taskId, "not a member of this task room")
}

func ErrInternalError(taskId string) *ServerMessage {
	return errFrame(taskId, "internal server error")
}

func ErrServiceUnavailable(taskId string) *ServerMessage {
	return errFrame(taskId, "service unavailable")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
