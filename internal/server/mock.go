package server

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAccessChecker struct {
	mock.Mock
}

func (m *MockAccessChecker) CanAccess(ctx context.Context, userId, taskId string) bool {
	args := m.Called(ctx, userId, taskId)
	return args.Bool(0)
}

type MockPresenceTracker struct {
	mock.Mock
}

func (m *MockPresenceTracker) Connected(userId string) {
	m.Called(userId)
}

func (m *MockPresenceTracker) Joined(userId, taskId string) {
	m.Called(userId, taskId)
}

func (m *MockPresenceTracker) Left(userId, taskId string) {
	m.Called(userId, taskId)
}

func (m *MockPresenceTracker) Disconnected(userId string) {
	m.Called(userId)
}
