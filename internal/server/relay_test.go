package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/stats"
	"github.com/npezzotti/go-taskchat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeAccess grants explicit (user, task) pairs. A non-nil hold blocks the
// next check until it is closed.
type fakeAccess struct {
	mu     sync.Mutex
	grants map[string]bool
	hold   chan struct{}
}

func (f *fakeAccess) grant(userId, taskId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[userId+"/"+taskId] = true
}

func (f *fakeAccess) holdNext(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = ch
}

func (f *fakeAccess) CanAccess(ctx context.Context, userId, taskId string) bool {
	f.mu.Lock()
	hold := f.hold
	f.hold = nil
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return false
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[userId+"/"+taskId]
}

type recordingPresence struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresence) record(ev string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPresence) count(ev string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.events {
		if e == ev {
			n++
		}
	}
	return n
}

func (p *recordingPresence) Connected(userId string)      { p.record("connected:" + userId) }
func (p *recordingPresence) Joined(userId, taskId string) { p.record("joined:" + userId + ":" + taskId) }
func (p *recordingPresence) Left(userId, taskId string)   { p.record("left:" + userId + ":" + taskId) }
func (p *recordingPresence) Disconnected(userId string)   { p.record("disconnected:" + userId) }

// gaugeStats keeps Incr minus Decr per metric.
type gaugeStats struct {
	mu     sync.Mutex
	gauges map[string]int
}

func (s *gaugeStats) Incr(name string) { s.add(name, 1) }
func (s *gaugeStats) Decr(name string) { s.add(name, -1) }
func (s *gaugeStats) RegisterMetric(string) {}

func (s *gaugeStats) add(name string, d int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges[name] += d
}

func (s *gaugeStats) get(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gauges[name]
}

type wireFrame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	TaskId  string         `json:"taskId"`
	UserId  string         `json:"userId"`
}

type relayHarness struct {
	cs       *ChatServer
	srv      *httptest.Server
	db       *database.MockTaskChatRepository
	access   *fakeAccess
	presence *recordingPresence
	stats    *gaugeStats
}

// newRelayHarness serves the relay over a real websocket. The test trusts
// the "user" query parameter in place of token verification.
func newRelayHarness(t *testing.T) *relayHarness {
	h := &relayHarness{
		db:       &database.MockTaskChatRepository{},
		access:   &fakeAccess{grants: make(map[string]bool)},
		presence: &recordingPresence{},
		stats:    &gaugeStats{gauges: make(map[string]int)},
	}

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, h.db, h.access, h.presence, h.stats)
	require.NoError(t, err)
	cs.SetOperationTimeout(2 * time.Second)
	h.cs = cs
	go cs.Run()

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := NewClient(r.URL.Query().Get("user"), conn, cs, logger)
		if !cs.RegisterClient(c) {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
		h.srv.Close()
	})

	return h
}

func (h *relayHarness) dial(t *testing.T, userId string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?user=" + userId
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial as %q", userId)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, eventType string, payload map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}))
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestRelay_TaskRoomScenarios(t *testing.T) {
	h := newRelayHarness(t)
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// A is the task creator and joins first
	h.access.grant("a", "t1")
	connA := h.dial(t, "a")
	sendFrame(t, connA, EventJoinTaskRoom, map[string]any{"taskId": "t1"})

	ack := readFrame(t, connA)
	assert.Equal(t, EventJoinTaskRoom, ack.Type)
	assert.Equal(t, []any{"a"}, ack.Payload["members"])
	assert.Eventually(t, func() bool { return h.presence.count("joined:a:t1") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.stats.get(stats.NumActiveRooms))

	// B is not a participant yet
	connB := h.dial(t, "b")
	sendFrame(t, connB, EventJoinTaskRoom, map[string]any{"taskId": "t1"})

	denied := readFrame(t, connB)
	assert.Equal(t, EventError, denied.Type)
	assert.Equal(t, "access denied", denied.Payload["error"])
	assert.Equal(t, 1, h.stats.get(stats.NumJoinDenied))

	// B is accepted as a participant
	h.access.grant("b", "t1")
	sendFrame(t, connB, EventJoinTaskRoom, map[string]any{"taskId": "t1"})

	ack = readFrame(t, connB)
	assert.Equal(t, EventJoinTaskRoom, ack.Type)
	assert.Equal(t, []any{"a", "b"}, ack.Payload["members"])

	online := readFrame(t, connA)
	assert.Equal(t, EventUserPresence, online.Type)
	assert.Equal(t, map[string]any{"userId": "b", "isOnline": true, "currentTaskId": "t1"}, online.Payload)

	// chat messages are echoed to the sender
	h.db.On("CreateMessage", mock.Anything, mock.MatchedBy(func(p database.CreateMessageParams) bool {
		return p.TaskId == "t1" && p.SenderId == "a" && p.Content == "hello" && p.MessageType == "text" &&
			!p.IsSystemMessage
	})).Return(database.Message{
		Id:          "m1",
		TaskId:      "t1",
		SenderId:    "a",
		MessageType: "text",
		Content:     "hello",
		CreatedAt:   createdAt,
	}, nil).Once()

	sendFrame(t, connA, EventSendMessage, map[string]any{"taskId": "t1", "content": "hello"})
	for _, conn := range []*websocket.Conn{connA, connB} {
		got := readFrame(t, conn)
		assert.Equal(t, EventMessageReceived, got.Type)
		assert.Equal(t, "m1", got.Payload["id"])
		assert.Equal(t, "hello", got.Payload["content"])
		assert.Equal(t, "a", got.Payload["senderId"])
	}
	h.db.AssertExpectations(t)

	// typing is not echoed to the sender
	sendFrame(t, connB, EventTypingIndicator, map[string]any{"taskId": "t1", "isTyping": true, "userId": "x"})
	typing := readFrame(t, connA)
	assert.Equal(t, EventTypingIndicator, typing.Type)
	assert.Equal(t, "b", typing.Payload["userId"], "expected user id to come from the connection")
	assert.Equal(t, true, typing.Payload["isTyping"])

	require.NoError(t, connB.WriteMessage(websocket.TextMessage, []byte("not json")))
	malformed := readFrame(t, connB)
	assert.Equal(t, EventError, malformed.Type, "expected B's next frame to be the parse error, not its own typing")
	assert.Equal(t, "invalid message format", malformed.Payload["error"])

	// A disconnects, B stays
	connA.Close()
	offline := readFrame(t, connB)
	assert.Equal(t, EventUserPresence, offline.Type)
	assert.Equal(t, map[string]any{"userId": "a", "isOnline": false}, offline.Payload)
	assert.Eventually(t, func() bool { return h.presence.count("disconnected:a") == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.stats.get(stats.NumActiveRooms), "expected room to survive with B present")

	// B leaves and the room goes away
	sendFrame(t, connB, EventLeaveTaskRoom, map[string]any{"taskId": "t1"})
	assert.Equal(t, EventLeaveTaskRoom, readFrame(t, connB).Type)
	assert.Equal(t, 0, h.stats.get(stats.NumActiveRooms))
	assert.Equal(t, 1, h.presence.count("left:b:t1"))
	assert.Equal(t, 1, h.presence.count("disconnected:a"), "expected exactly one offline update")
}

func TestRelay_SendThenLeaveKeepsOrder(t *testing.T) {
	h := newRelayHarness(t)
	h.access.grant("a", "t1")
	h.access.grant("b", "t1")
	connA := h.dial(t, "a")
	connB := h.dial(t, "b")

	sendFrame(t, connB, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	require.Equal(t, EventJoinTaskRoom, readFrame(t, connB).Type)
	sendFrame(t, connA, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	require.Equal(t, EventJoinTaskRoom, readFrame(t, connA).Type)
	require.Equal(t, EventUserPresence, readFrame(t, connB).Type)

	h.db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{
		Id: "m1", TaskId: "t1", SenderId: "a", MessageType: "text", Content: "bye",
	}, nil).Once()

	sendFrame(t, connA, EventSendMessage, map[string]any{"taskId": "t1", "content": "bye"})
	sendFrame(t, connA, EventLeaveTaskRoom, map[string]any{"taskId": "t1"})

	echo := readFrame(t, connA)
	assert.Equal(t, EventMessageReceived, echo.Type, "expected the echo before the leave ack")
	assert.Equal(t, "m1", echo.Payload["id"])
	assert.Equal(t, EventLeaveTaskRoom, readFrame(t, connA).Type)

	assert.Equal(t, EventMessageReceived, readFrame(t, connB).Type)
	left := readFrame(t, connB)
	assert.Equal(t, EventUserPresence, left.Type)
	assert.Equal(t, map[string]any{"userId": "a", "isOnline": true}, left.Payload)
	h.db.AssertExpectations(t)
}

func TestRelay_SendMessageRequiresMembership(t *testing.T) {
	h := newRelayHarness(t)
	h.access.grant("a", "t1")
	conn := h.dial(t, "a")

	sendFrame(t, conn, EventSendMessage, map[string]any{"taskId": "t1", "content": "hello"})
	got := readFrame(t, conn)
	assert.Equal(t, EventError, got.Type)
	assert.Equal(t, "not a member of this task room", got.Payload["error"])

	sendFrame(t, conn, EventSendMessage, map[string]any{"taskId": "t1", "content": ""})
	got = readFrame(t, conn)
	assert.Equal(t, "content is required", got.Payload["error"])

	sendFrame(t, conn, "rename_task", nil)
	got = readFrame(t, conn)
	assert.Equal(t, `unknown event type "rename_task"`, got.Payload["error"])

	h.db.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestRelay_PersistenceFailure(t *testing.T) {
	h := newRelayHarness(t)
	h.access.grant("a", "t1")
	conn := h.dial(t, "a")

	sendFrame(t, conn, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	require.Equal(t, EventJoinTaskRoom, readFrame(t, conn).Type)

	h.db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{}, errors.New("db down")).Once()
	sendFrame(t, conn, EventSendMessage, map[string]any{"taskId": "t1", "content": "hello"})

	got := readFrame(t, conn)
	assert.Equal(t, EventError, got.Type)
	assert.Equal(t, "internal server error", got.Payload["error"])
	assert.Equal(t, 0, h.stats.get(stats.NumMessagesSent))
}

func TestRelay_MarkRead(t *testing.T) {
	h := newRelayHarness(t)
	h.access.grant("a", "t1")
	h.access.grant("b", "t1")
	connA := h.dial(t, "a")
	connB := h.dial(t, "b")

	sendFrame(t, connA, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	require.Equal(t, EventJoinTaskRoom, readFrame(t, connA).Type)
	sendFrame(t, connB, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	require.Equal(t, EventJoinTaskRoom, readFrame(t, connB).Type)
	require.Equal(t, EventUserPresence, readFrame(t, connA).Type)

	h.db.On("MarkMessagesRead", mock.Anything, "t1", "b", mock.AnythingOfType("time.Time")).Return(3, nil).Once()
	sendFrame(t, connB, EventMarkRead, map[string]any{"taskId": "t1"})

	for _, conn := range []*websocket.Conn{connB, connA} {
		got := readFrame(t, conn)
		assert.Equal(t, EventMessagesRead, got.Type)
		assert.Equal(t, "b", got.Payload["userId"])
		assert.Equal(t, float64(3), got.Payload["count"])
	}
	h.db.AssertExpectations(t)
}

func TestRelay_LeaveBeforeSlowJoin(t *testing.T) {
	h := newRelayHarness(t)
	h.access.grant("a", "t1")
	conn := h.dial(t, "a")

	release := make(chan struct{})
	h.access.holdNext(release)

	sendFrame(t, conn, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	sendFrame(t, conn, EventLeaveTaskRoom, map[string]any{"taskId": "t1"})
	assert.Equal(t, EventLeaveTaskRoom, readFrame(t, conn).Type, "expected leave to be acknowledged while join is pending")
	close(release)

	// the late join is discarded; a fresh join and leave still work
	sendFrame(t, conn, EventJoinTaskRoom, map[string]any{"taskId": "t1"})
	ack := readFrame(t, conn)
	assert.Equal(t, EventJoinTaskRoom, ack.Type)
	assert.Equal(t, []any{"a"}, ack.Payload["members"])

	sendFrame(t, conn, EventLeaveTaskRoom, map[string]any{"taskId": "t1"})
	assert.Equal(t, EventLeaveTaskRoom, readFrame(t, conn).Type)
	assert.Equal(t, 0, h.stats.get(stats.NumActiveRooms), "expected no room left behind")
	assert.Equal(t, 1, h.presence.count("joined:a:t1"))
}

func TestRelay_MultipleConnectionsPerUser(t *testing.T) {
	h := newRelayHarness(t)
	first := h.dial(t, "a")
	assert.Eventually(t, func() bool { return h.presence.count("connected:a") == 1 }, time.Second, 10*time.Millisecond)
	second := h.dial(t, "a")
	assert.Eventually(t, func() bool { return h.presence.count("connected:a") == 2 }, time.Second, 10*time.Millisecond)

	h.db.On("CreateMessage", mock.Anything, mock.Anything).Return(database.Message{
		Id: "m1", TaskId: "t1", SenderId: "system", MessageType: "text", Content: "ping", IsSystemMessage: true,
	}, nil).Once()

	_, delivered, err := h.cs.SendSystemMessageTo(context.Background(), "t1", "a", "ping")
	require.NoError(t, err)
	assert.True(t, delivered)

	got := readFrame(t, second)
	assert.Equal(t, EventMessageReceived, got.Type, "expected delivery to the latest connection")
	assert.Equal(t, true, got.Payload["isSystemMessage"])

	first.Close()
	assert.Eventually(t, func() bool { return h.presence.count("disconnected:a") == 1 }, time.Second, 10*time.Millisecond)
	c, ok := h.cs.Lookup("a")
	require.True(t, ok, "expected second connection to remain registered")
	assert.Equal(t, "a", c.UserId())
	assert.Equal(t, 1, h.stats.get(stats.NumActiveClients))
}
