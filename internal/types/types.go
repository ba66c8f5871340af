package types

import (
	"time"
)

// SystemSenderId is the sender recorded for messages injected by the server.
const SystemSenderId = "system"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

type Message struct {
	Id              string      `json:"id"`
	TaskId          string      `json:"taskId"`
	SenderId        string      `json:"senderId"`
	MessageType     MessageType `json:"messageType"`
	Content         string      `json:"content"`
	FileUrl         string      `json:"fileUrl,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	ReadAt          *time.Time  `json:"readAt,omitempty"`
	IsSystemMessage bool        `json:"isSystemMessage"`
}

type Presence struct {
	UserId        string    `json:"userId"`
	IsOnline      bool      `json:"isOnline"`
	LastSeen      time.Time `json:"lastSeen"`
	CurrentTaskId *string   `json:"currentTaskId,omitempty"`
}
