package server

import (
	"context"

	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/stats"
)

// handleEvent runs on the client's read goroutine.
func (c *Client) handleEvent(ev Event) {
	switch e := ev.(type) {
	case *JoinTaskRoom:
		c.joinRoom(e)
	case *LeaveTaskRoom:
		c.leaveRoom(e)
	case *SendMessage:
		c.sendChatMessage(e)
	case *TypingIndicatorEvent:
		c.sendTyping(e)
	case *MarkRead:
		c.markRead(e)
	}
}

// joinRoom authorizes in the background so a slow lookup does not hold up
// the connection's later frames.
func (c *Client) joinRoom(e *JoinTaskRoom) {
	ticket := c.nextTicket(e.TaskId)
	go c.chatServer.authorizeJoin(c, e.TaskId, ticket)
}

func (c *Client) leaveRoom(e *LeaveTaskRoom) {
	c.nextTicket(e.TaskId)
	if !c.chatServer.leave(&leaveReq{client: c, taskId: e.TaskId}) {
		c.queueMessage(ErrServiceUnavailable(e.TaskId))
	}
}

func (c *Client) sendChatMessage(e *SendMessage) {
	if !c.inRoom(e.TaskId) {
		c.queueMessage(ErrNotInRoom(e.TaskId))
		return
	}

	cs := c.chatServer
	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()

	record, err := cs.db.CreateMessage(ctx, database.CreateMessageParams{
		TaskId:      e.TaskId,
		SenderId:    c.userId,
		MessageType: string(e.MessageType),
		Content:     e.Content,
		FileUrl:     e.FileUrl,
		CreatedAt:   Now(),
	})
	if err != nil {
		c.log.Printf("create message in task %q: %v", e.TaskId, err)
		c.queueMessage(ErrInternalError(e.TaskId))
		return
	}

	cs.stats.Incr(stats.NumMessagesSent)
	if !cs.broadcast(MessageReceived(record.ToMessage())) {
		c.queueMessage(ErrServiceUnavailable(e.TaskId))
	}
}

func (c *Client) sendTyping(e *TypingIndicatorEvent) {
	if !c.inRoom(e.TaskId) {
		c.queueMessage(ErrNotInRoom(e.TaskId))
		return
	}

	msg := TypingIndicator(TypingPayload{
		TaskId:   e.TaskId,
		UserId:   c.userId,
		IsTyping: e.IsTyping,
		UserName: e.UserName,
	})
	msg.SkipClient = c
	c.chatServer.broadcast(msg)
}

func (c *Client) markRead(e *MarkRead) {
	if !c.inRoom(e.TaskId) {
		c.queueMessage(ErrNotInRoom(e.TaskId))
		return
	}

	cs := c.chatServer
	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()

	readAt := Now()
	n, err := cs.db.MarkMessagesRead(ctx, e.TaskId, c.userId, readAt)
	if err != nil {
		c.log.Printf("mark messages read in task %q: %v", e.TaskId, err)
		c.queueMessage(ErrInternalError(e.TaskId))
		return
	}

	payload := MessagesReadPayload{TaskId: e.TaskId, UserId: c.userId, ReadAt: readAt, Count: n}
	c.queueMessage(MessagesRead(payload))

	if n > 0 {
		msg := MessagesRead(payload)
		msg.SkipClient = c
		cs.broadcast(msg)
	}
}
