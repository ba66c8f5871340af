package presence

import (
	"database/sql"
	"testing"
	"time"

	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/stretchr/testify/assert"
)

func Test_presenceFields(t *testing.T) {
	lastSeen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("with current task", func(t *testing.T) {
		fields := presenceFields(database.Presence{
			UserId:        "a",
			IsOnline:      true,
			LastSeen:      lastSeen,
			CurrentTaskId: sql.NullString{String: "t1", Valid: true},
		})

		assert.Equal(t, map[string]any{
			"user_id":         "a",
			"is_online":       "true",
			"last_seen":       "2024-05-01T12:00:00Z",
			"current_task_id": "t1",
		}, fields)
	})

	t.Run("cleared current task", func(t *testing.T) {
		fields := presenceFields(database.Presence{UserId: "a", LastSeen: lastSeen})
		assert.Equal(t, "false", fields["is_online"])
		assert.Equal(t, "", fields["current_task_id"])
	})
}

func Test_presenceKey(t *testing.T) {
	assert.Equal(t, "presence:user-1", presenceKey("user-1"))
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore("not a url")
	assert.Error(t, err)
}

func Test_parsePresence(t *testing.T) {
	tcases := []struct {
		name     string
		fields   map[string]string
		expected database.Presence
		wantErr  bool
	}{
		{
			name: "online in a task",
			fields: map[string]string{
				"user_id":         "a",
				"is_online":       "true",
				"last_seen":       "2024-05-01T12:00:00Z",
				"current_task_id": "t1",
			},
			expected: database.Presence{
				UserId:        "a",
				IsOnline:      true,
				LastSeen:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
				CurrentTaskId: sql.NullString{String: "t1", Valid: true},
			},
		},
		{
			name: "offline without a task",
			fields: map[string]string{
				"user_id":         "a",
				"is_online":       "false",
				"last_seen":       "2024-05-01T12:00:00.5Z",
				"current_task_id": "",
			},
			expected: database.Presence{
				UserId:   "a",
				LastSeen: time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC),
			},
		},
		{
			name:    "bad is_online",
			fields:  map[string]string{"is_online": "maybe", "last_seen": "2024-05-01T12:00:00Z"},
			wantErr: true,
		},
		{
			name:    "bad last_seen",
			fields:  map[string]string{"is_online": "true", "last_seen": "yesterday"},
			wantErr: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := parsePresence(tc.fields)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}
