package database

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type TaskChatRepository interface {
	Ping() error
	IsTaskCreator(ctx context.Context, taskId, userId string) (bool, error)
	IsAcceptedParticipant(ctx context.Context, taskId, userId string) (bool, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	MarkMessagesRead(ctx context.Context, taskId, readerId string, readAt time.Time) (int, error)
	GetMessages(ctx context.Context, params GetMessagesParams) ([]Message, error)
	UpsertPresence(ctx context.Context, p Presence) error
	GetPresence(ctx context.Context, userId string) (Presence, error)
}
