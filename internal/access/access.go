// Package access decides whether a user may join a task's chat room.
package access

import (
	"context"
	"log"
)

type TaskStore interface {
	IsTaskCreator(ctx context.Context, taskId, userId string) (bool, error)
	IsAcceptedParticipant(ctx context.Context, taskId, userId string) (bool, error)
}

type Authorizer struct {
	store TaskStore
	log   *log.Logger
}

func NewAuthorizer(store TaskStore, logger *log.Logger) *Authorizer {
	return &Authorizer{
		store: store,
		log:   logger,
	}
}

// CanAccess grants access to the task creator or an accepted participant.
// Lookup errors deny access.
func (a *Authorizer) CanAccess(ctx context.Context, userId, taskId string) bool {
	if userId == "" || taskId == "" {
		return false
	}

	isCreator, err := a.store.IsTaskCreator(ctx, taskId, userId)
	if err != nil {
		a.log.Printf("access check: task creator lookup for task %q: %v", taskId, err)
		return false
	}
	if isCreator {
		return true
	}

	isParticipant, err := a.store.IsAcceptedParticipant(ctx, taskId, userId)
	if err != nil {
		a.log.Printf("access check: participant lookup for task %q: %v", taskId, err)
		return false
	}

	return isParticipant
}
