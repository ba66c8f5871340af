package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

const (
	taskCreatorQuery = "SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1 AND creator_id = $2)"

	acceptedParticipantQuery = "SELECT EXISTS (SELECT 1 FROM task_participants " +
		"WHERE task_id = $1 AND user_id = $2 AND status = 'accepted')"

	createMessageQuery = "INSERT INTO task_messages " +
		"(id, task_id, sender_id, message_type, content, file_url, is_system_message, created_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) " +
		"RETURNING id, task_id, sender_id, message_type, content, file_url, created_at, read_at, is_system_message"

	markMessagesReadQuery = "UPDATE task_messages SET read_at = $3 " +
		"WHERE task_id = $1 AND sender_id <> $2 AND read_at IS NULL"

	getMessagesQuery = "SELECT id, task_id, sender_id, message_type, content, file_url, created_at, read_at, is_system_message " +
		"FROM task_messages WHERE task_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2) " +
		"ORDER BY created_at DESC LIMIT $3"

	upsertPresenceQuery = "INSERT INTO user_presence (user_id, is_online, last_seen, current_task_id) " +
		"VALUES ($1, $2, $3, $4) " +
		"ON CONFLICT (user_id) DO UPDATE SET is_online = EXCLUDED.is_online, " +
		"last_seen = EXCLUDED.last_seen, current_task_id = EXCLUDED.current_task_id"

	getPresenceQuery = "SELECT user_id, is_online, last_seen, current_task_id FROM user_presence " +
		"WHERE user_id = $1 LIMIT 1"
)

func (db *PgTaskChatRepository) IsTaskCreator(ctx context.Context, taskId, userId string) (bool, error) {
	var exists bool
	if err := db.conn.QueryRowContext(ctx, taskCreatorQuery, taskId, userId).Scan(&exists); err != nil {
		return false, fmt.Errorf("query task creator: %w", err)
	}

	return exists, nil
}

func (db *PgTaskChatRepository) IsAcceptedParticipant(ctx context.Context, taskId, userId string) (bool, error) {
	var exists bool
	if err := db.conn.QueryRowContext(ctx, acceptedParticipantQuery, taskId, userId).Scan(&exists); err != nil {
		return false, fmt.Errorf("query task participant: %w", err)
	}

	return exists, nil
}

func (db *PgTaskChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := db.conn.QueryRowContext(ctx,
		createMessageQuery,
		uuid.NewString(),
		params.TaskId,
		params.SenderId,
		params.MessageType,
		params.Content,
		sql.NullString{String: params.FileUrl, Valid: params.FileUrl != ""},
		params.IsSystemMessage,
		createdAt,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (db *PgTaskChatRepository) MarkMessagesRead(ctx context.Context, taskId, readerId string, readAt time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, markMessagesReadQuery, taskId, readerId, readAt)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return int(n), nil
}

func (db *PgTaskChatRepository) GetMessages(ctx context.Context, params GetMessagesParams) ([]Message, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	before := sql.NullTime{Time: params.Before, Valid: !params.Before.IsZero()}

	rows, err := db.conn.QueryContext(ctx, getMessagesQuery, params.TaskId, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func (db *PgTaskChatRepository) UpsertPresence(ctx context.Context, p Presence) error {
	_, err := db.conn.ExecContext(ctx,
		upsertPresenceQuery,
		p.UserId,
		p.IsOnline,
		p.LastSeen,
		p.CurrentTaskId,
	)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}

	return nil
}

func (db *PgTaskChatRepository) GetPresence(ctx context.Context, userId string) (Presence, error) {
	var p Presence
	err := db.conn.QueryRowContext(ctx, getPresenceQuery, userId).Scan(
		&p.UserId,
		&p.IsOnline,
		&p.LastSeen,
		&p.CurrentTaskId,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Presence{}, ErrNotFound
	}
	if err != nil {
		return Presence{}, fmt.Errorf("query presence: %w", err)
	}

	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.TaskId,
		&msg.SenderId,
		&msg.MessageType,
		&msg.Content,
		&msg.FileUrl,
		&msg.CreatedAt,
		&msg.ReadAt,
		&msg.IsSystemMessage,
	)

	return msg, err
}
