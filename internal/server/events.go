package server

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/npezzotti/go-taskchat/internal/types"
)

const maxContentLength = 4000

var (
	errMalformedFrame     = errors.New("invalid message format")
	errTaskIdRequired     = errors.New("taskId is required")
	errContentRequired    = errors.New("content is required")
	errContentTooLong     = fmt.Errorf("content exceeds %d characters", maxContentLength)
	errInvalidMessageType = errors.New("messageType must be text, image or file")
	errFileUrlRequired    = errors.New("fileUrl is required for image and file messages")
)

// ClientMessage is the inbound frame envelope.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	TaskId  string          `json:"taskId"`
}

// Event is one of JoinTaskRoom, LeaveTaskRoom, SendMessage, TypingIndicatorEvent
// or MarkRead.
type Event interface {
	Type() string
	Task() string
}

type JoinTaskRoom struct {
	TaskId string `json:"taskId"`
}

type LeaveTaskRoom struct {
	TaskId string `json:"taskId"`
}

type SendMessage struct {
	TaskId      string            `json:"taskId"`
	Content     string            `json:"content"`
	MessageType types.MessageType `json:"messageType"`
	FileUrl     string            `json:"fileUrl"`
}

type TypingIndicatorEvent struct {
	TaskId   string `json:"taskId"`
	IsTyping bool   `json:"isTyping"`
	UserName string `json:"userName"`
}

type MarkRead struct {
	TaskId string `json:"taskId"`
}

func (e *JoinTaskRoom) Type() string         { return EventJoinTaskRoom }
func (e *LeaveTaskRoom) Type() string        { return EventLeaveTaskRoom }
func (e *SendMessage) Type() string          { return EventSendMessage }
func (e *TypingIndicatorEvent) Type() string { return EventTypingIndicator }
func (e *MarkRead) Type() string             { return EventMarkRead }

func (e *JoinTaskRoom) Task() string         { return e.TaskId }
func (e *LeaveTaskRoom) Task() string        { return e.TaskId }
func (e *SendMessage) Task() string          { return e.TaskId }
func (e *TypingIndicatorEvent) Task() string { return e.TaskId }
func (e *MarkRead) Task() string             { return e.TaskId }

// ParseEvent decodes and validates an inbound frame. The returned error
// text is safe to send back to the client.
func ParseEvent(raw []byte) (Event, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errMalformedFrame
	}

	var ev Event
	switch msg.Type {
	case EventJoinTaskRoom:
		ev = &JoinTaskRoom{}
	case EventLeaveTaskRoom:
		ev = &LeaveTaskRoom{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventTypingIndicator:
		ev = &TypingIndicatorEvent{}
	case EventMarkRead:
		ev = &MarkRead{}
	case "":
		return nil, errMalformedFrame
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}

	if hasPayload(msg.Payload) {
		if err := json.Unmarshal(msg.Payload, ev); err != nil {
			return nil, errMalformedFrame
		}
	}

	if err := validate(ev, strings.TrimSpace(msg.TaskId)); err != nil {
		return nil, err
	}

	return ev, nil
}

func hasPayload(p json.RawMessage) bool {
	p = bytes.TrimSpace(p)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// validate normalizes ev in place. frameTaskId is used when the payload
// omits the task id.
func validate(ev Event, frameTaskId string) error {
	switch e := ev.(type) {
	case *JoinTaskRoom:
		e.TaskId = taskIdOr(e.TaskId, frameTaskId)
		if e.TaskId == "" {
			return errTaskIdRequired
		}
	case *LeaveTaskRoom:
		e.TaskId = taskIdOr(e.TaskId, frameTaskId)
		if e.TaskId == "" {
			return errTaskIdRequired
		}
	case *TypingIndicatorEvent:
		e.TaskId = taskIdOr(e.TaskId, frameTaskId)
		if e.TaskId == "" {
			return errTaskIdRequired
		}
	case *MarkRead:
		e.TaskId = taskIdOr(e.TaskId, frameTaskId)
		if e.TaskId == "" {
			return errTaskIdRequired
		}
	case *SendMessage:
		return validateSendMessage(e)
	}

	return nil
}

// validateSendMessage requires the task id inside the payload.
func validateSendMessage(e *SendMessage) error {
	e.TaskId = strings.TrimSpace(e.TaskId)
	if e.TaskId == "" {
		return errTaskIdRequired
	}

	if strings.TrimSpace(e.Content) == "" {
		return errContentRequired
	}
	if utf8.RuneCountInString(e.Content) > maxContentLength {
		return errContentTooLong
	}

	if e.MessageType == "" {
		e.MessageType = types.MessageTypeText
	}
	if !e.MessageType.Valid() {
		return errInvalidMessageType
	}

	e.FileUrl = strings.TrimSpace(e.FileUrl)
	if e.MessageType != types.MessageTypeText && e.FileUrl == "" {
		return errFileUrlRequired
	}

	return nil
}

func taskIdOr(taskId, fallback string) string {
	if taskId = strings.TrimSpace(taskId); taskId != "" {
		return taskId
	}
	return fallback
}
