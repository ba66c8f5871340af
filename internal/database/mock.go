package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockTaskChatRepository struct {
	mock.Mock
}

func (m *MockTaskChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockTaskChatRepository) IsTaskCreator(ctx context.Context, taskId, userId string) (bool, error) {
	args := m.Called(ctx, taskId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockTaskChatRepository) IsAcceptedParticipant(ctx context.Context, taskId, userId string) (bool, error) {
	args := m.Called(ctx, taskId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockTaskChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockTaskChatRepository) MarkMessagesRead(ctx context.Context, taskId, readerId string, readAt time.Time) (int, error) {
	args := m.Called(ctx, taskId, readerId, readAt)
	return args.Int(0), args.Error(1)
}
func (m *MockTaskChatRepository) GetMessages(ctx context.Context, params GetMessagesParams) ([]Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockTaskChatRepository) UpsertPresence(ctx context.Context, p Presence) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}
func (m *MockTaskChatRepository) GetPresence(ctx context.Context, userId string) (Presence, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(Presence), args.Error(1)
}
