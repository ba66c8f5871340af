package database

import (
	"database/sql"
	"time"

	"github.com/npezzotti/go-taskchat/internal/types"
)

type Message struct {
	Id              string
	TaskId          string
	SenderId        string
	MessageType     string
	Content         string
	FileUrl         sql.NullString
	CreatedAt       time.Time
	ReadAt          sql.NullTime
	IsSystemMessage bool
}

type Presence struct {
	UserId        string
	IsOnline      bool
	LastSeen      time.Time
	CurrentTaskId sql.NullString
}

type CreateMessageParams struct {
	TaskId          string
	SenderId        string
	MessageType     string
	Content         string
	FileUrl         string
	IsSystemMessage bool
	CreatedAt       time.Time
}

type GetMessagesParams struct {
	TaskId string
	// Before bounds the page to messages created strictly before it. Zero means no bound.
	Before time.Time
	Limit  int
}

// ToMessage converts a stored row into its wire representation.
func (m Message) ToMessage() types.Message {
	msg := types.Message{
		Id:              m.Id,
		TaskId:          m.TaskId,
		SenderId:        m.SenderId,
		MessageType:     types.MessageType(m.MessageType),
		Content:         m.Content,
		CreatedAt:       m.CreatedAt.UTC(),
		IsSystemMessage: m.IsSystemMessage,
	}
	if m.FileUrl.Valid {
		msg.FileUrl = m.FileUrl.String
	}
	if m.ReadAt.Valid {
		readAt := m.ReadAt.Time.UTC()
		msg.ReadAt = &readAt
	}

	return msg
}

func (p Presence) ToPresence() types.Presence {
	presence := types.Presence{
		UserId:   p.UserId,
		IsOnline: p.IsOnline,
		LastSeen: p.LastSeen.UTC(),
	}
	if p.CurrentTaskId.Valid {
		taskId := p.CurrentTaskId.String
		presence.CurrentTaskId = &taskId
	}

	return presence
}
