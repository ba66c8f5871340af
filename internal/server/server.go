package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/npezzotti/go-taskchat/internal/stats"
	"github.com/npezzotti/go-taskchat/internal/types"
)

const (
	defaultOpTimeout = 10 * time.Second
	requestQueueSize = 256
)

var (
	ErrServerClosed      = errors.New("chat server closed")
	ErrEmptyContent      = errors.New("content is required")
	ErrMissingTaskId     = errors.New("taskId is required")
	errMissingDependency = errors.New("chat server requires a repository, access checker and presence tracker")
)

type AccessChecker interface {
	CanAccess(ctx context.Context, userId, taskId string) bool
}

type PresenceTracker interface {
	Connected(userId string)
	Joined(userId, taskId string)
	Left(userId, taskId string)
	Disconnected(userId string)
}

type joinReq struct {
	client *Client
	taskId string
	ticket uint64
}

type leaveReq struct {
	client *Client
	taskId string
}

type lookupReq struct {
	userId string
	result chan *Client
}

// hubRequest is one unit of work for the Run loop. Exactly one field is
// set. All requests share a single queue so that a connection's frames are
// applied in the order its read pump submitted them.
type hubRequest struct {
	register   *Client
	deregister *Client
	join       *joinReq
	leave      *leaveReq
	broadcast  *ServerMessage
	lookup     *lookupReq
}

// ChatServer owns the connection registry and the rooms. Both are only
// touched by the Run goroutine; everything else sends it requests.
type ChatServer struct {
	log       *log.Logger
	db        database.TaskChatRepository
	access    AccessChecker
	presence  PresenceTracker
	stats     stats.StatsProvider
	opTimeout time.Duration
	clients   map[*Client]struct{}
	userMap   map[string][]*Client
	rooms     map[string]*Room
	requests  chan hubRequest
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func NewChatServer(logger *log.Logger, db database.TaskChatRepository, access AccessChecker,
	presence PresenceTracker, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil || access == nil || presence == nil {
		return nil, errMissingDependency
	}

	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.NumMessagesSent)
	su.RegisterMetric(stats.NumJoinDenied)

	return &ChatServer{
		log:       logger,
		db:        db,
		access:    access,
		presence:  presence,
		stats:     su,
		opTimeout: defaultOpTimeout,
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[string][]*Client),
		rooms:     make(map[string]*Room),
		requests:  make(chan hubRequest, requestQueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// SetOperationTimeout bounds authorization and persistence calls.
func (cs *ChatServer) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		cs.opTimeout = d
	}
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case req := <-cs.requests:
			cs.handleRequest(req)
		case <-cs.stop:
			cs.log.Println("shutting down chat server")
			cs.drainRequests()
			for c := range cs.clients {
				cs.removeClient(c)
			}
			return
		}
	}
}

func (cs *ChatServer) handleRequest(req hubRequest) {
	switch {
	case req.register != nil:
		cs.addClient(req.register)
	case req.deregister != nil:
		cs.removeClient(req.deregister)
	case req.join != nil:
		cs.handleJoin(req.join)
	case req.leave != nil:
		cs.handleLeave(req.leave)
	case req.broadcast != nil:
		cs.handleBroadcast(req.broadcast)
	case req.lookup != nil:
		req.lookup.result <- cs.lookupClient(req.lookup.userId)
	}
}

// drainRequests applies whatever was queued before the stop.
func (cs *ChatServer) drainRequests() {
	for {
		select {
		case req := <-cs.requests:
			cs.handleRequest(req)
		default:
			return
		}
	}
}

// Shutdown disconnects every client and waits for Run to return.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.stopOnce.Do(func() { close(cs.stop) })

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit queues req for the Run goroutine. It reports false once the
// server is done.
func (cs *ChatServer) submit(req hubRequest) bool {
	select {
	case <-cs.done:
		return false
	default:
	}

	select {
	case cs.requests <- req:
		return true
	case <-cs.done:
		return false
	}
}

// RegisterClient adds an authenticated client to the registry.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	return cs.submit(hubRequest{register: c})
}

func (cs *ChatServer) deregister(c *Client) bool {
	return cs.submit(hubRequest{deregister: c})
}

func (cs *ChatServer) join(req *joinReq) bool {
	return cs.submit(hubRequest{join: req})
}

func (cs *ChatServer) leave(req *leaveReq) bool {
	return cs.submit(hubRequest{leave: req})
}

func (cs *ChatServer) broadcast(msg *ServerMessage) bool {
	return cs.submit(hubRequest{broadcast: msg})
}

// Lookup returns the most recently registered live connection for userId.
func (cs *ChatServer) Lookup(userId string) (*Client, bool) {
	req := &lookupReq{userId: userId, result: make(chan *Client, 1)}
	if !cs.submit(hubRequest{lookup: req}) {
		return nil, false
	}

	select {
	case c := <-req.result:
		return c, c != nil
	case <-cs.done:
		return nil, false
	}
}

// NotifyUser delivers msg to one user's latest connection.
func (cs *ChatServer) NotifyUser(userId string, msg *ServerMessage) bool {
	c, ok := cs.Lookup(userId)
	if !ok {
		return false
	}

	return c.queueMessage(msg)
}

// SendSystemMessage persists a server-authored message and broadcasts it
// to the task room. No membership check applies.
func (cs *ChatServer) SendSystemMessage(ctx context.Context, taskId, content string) (types.Message, error) {
	msg, err := cs.createSystemMessage(ctx, taskId, content)
	if err != nil {
		return types.Message{}, err
	}

	if !cs.broadcast(MessageReceived(msg)) {
		return msg, ErrServerClosed
	}

	return msg, nil
}

// SendSystemMessageTo persists a system message in taskId and delivers it
// to recipientId only. delivered is false when the user has no connection.
func (cs *ChatServer) SendSystemMessageTo(ctx context.Context, taskId, recipientId, content string) (msg types.Message, delivered bool, err error) {
	msg, err = cs.createSystemMessage(ctx, taskId, content)
	if err != nil {
		return types.Message{}, false, err
	}

	return msg, cs.NotifyUser(recipientId, MessageReceived(msg)), nil
}

func (cs *ChatServer) createSystemMessage(ctx context.Context, taskId, content string) (types.Message, error) {
	taskId = strings.TrimSpace(taskId)
	if taskId == "" {
		return types.Message{}, ErrMissingTaskId
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyContent
	}

	record, err := cs.db.CreateMessage(ctx, database.CreateMessageParams{
		TaskId:          taskId,
		SenderId:        types.SystemSenderId,
		MessageType:     string(types.MessageTypeText),
		Content:         content,
		IsSystemMessage: true,
		CreatedAt:       Now(),
	})
	if err != nil {
		return types.Message{}, err
	}

	cs.stats.Incr(stats.NumMessagesSent)
	return record.ToMessage(), nil
}

// authorizeJoin runs on its own goroutine and hands a granted join to Run.
func (cs *ChatServer) authorizeJoin(c *Client, taskId string, ticket uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
	defer cancel()

	if !cs.access.CanAccess(ctx, c.userId, taskId) {
		cs.log.Printf("join denied: user %q task %q", c.userId, taskId)
		cs.stats.Incr(stats.NumJoinDenied)
		c.queueMessage(ErrAccessDenied(taskId))
		return
	}

	if !cs.join(&joinReq{client: c, taskId: taskId, ticket: ticket}) {
		c.queueMessage(ErrServiceUnavailable(taskId))
	}
}

func (cs *ChatServer) addClient(c *Client) {
	if _, ok := cs.clients[c]; ok {
		return
	}

	cs.clients[c] = struct{}{}
	cs.userMap[c.userId] = append(cs.userMap[c.userId], c)
	cs.stats.Incr(stats.NumActiveClients)
	cs.presence.Connected(c.userId)
	cs.log.Printf("registered client %q for user %q", c.id, c.userId)
}

// removeClient leaves every room the client holds, then drops it from the
// registry and closes it.
func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	stillOnline := len(cs.userMap[c.userId]) > 1
	for _, taskId := range c.roomIds() {
		c.delRoom(taskId)
		room, ok := cs.rooms[taskId]
		if !ok || !room.removeMember(c) {
			continue
		}

		if !room.hasUser(c.userId) {
			cs.presence.Left(c.userId, taskId)
			room.broadcast(UserPresence(taskId, c.userId, stillOnline, ""))
		}
		cs.deleteRoomIfEmpty(room)
	}

	delete(cs.clients, c)
	cs.removeFromUserMap(c)
	cs.stats.Decr(stats.NumActiveClients)
	cs.presence.Disconnected(c.userId)
	c.stopClient()
	cs.log.Printf("deregistered client %q for user %q", c.id, c.userId)
}

func (cs *ChatServer) removeFromUserMap(c *Client) {
	conns := cs.userMap[c.userId]
	for i, other := range conns {
		if other == c {
			conns = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(conns) == 0 {
		delete(cs.userMap, c.userId)
		return
	}
	cs.userMap[c.userId] = conns
}

func (cs *ChatServer) lookupClient(userId string) *Client {
	conns := cs.userMap[userId]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (cs *ChatServer) handleJoin(req *joinReq) {
	c := req.client
	if _, ok := cs.clients[c]; !ok {
		cs.log.Printf("discarding join of task %q: client %q is gone", req.taskId, c.id)
		return
	}
	if !c.isLatestTicket(req.taskId, req.ticket) {
		cs.log.Printf("discarding stale join of task %q for client %q", req.taskId, c.id)
		return
	}

	room, ok := cs.rooms[req.taskId]
	if !ok {
		room = newRoom(req.taskId, cs.log)
		cs.rooms[req.taskId] = room
		cs.stats.Incr(stats.NumActiveRooms)
	}

	firstForUser := !room.hasUser(c.userId)
	added := room.addMember(c)
	c.addRoom(req.taskId)
	cs.presence.Joined(c.userId, req.taskId)

	c.queueMessage(JoinAck(req.taskId, room.memberIds()))

	if added && firstForUser {
		msg := UserPresence(req.taskId, c.userId, true, req.taskId)
		msg.SkipClient = c
		room.broadcast(msg)
	}
}

// handleLeave is a no-op for non-members but always acknowledges.
func (cs *ChatServer) handleLeave(req *leaveReq) {
	c := req.client
	room, ok := cs.rooms[req.taskId]
	if ok && room.removeMember(c) {
		c.delRoom(req.taskId)

		if !room.hasUser(c.userId) {
			cs.presence.Left(c.userId, req.taskId)
			room.broadcast(UserPresence(req.taskId, c.userId, true, ""))
		}
		cs.deleteRoomIfEmpty(room)
	}

	c.queueMessage(LeaveAck(req.taskId))
}

func (cs *ChatServer) deleteRoomIfEmpty(r *Room) {
	if !r.isEmpty() {
		return
	}

	delete(cs.rooms, r.taskId)
	cs.stats.Decr(stats.NumActiveRooms)
	cs.log.Printf("deleted empty room %q", r.taskId)
}

func (cs *ChatServer) handleBroadcast(msg *ServerMessage) {
	room, ok := cs.rooms[msg.TaskId]
	if !ok {
		cs.log.Printf("no active room %q for %q frame", msg.TaskId, msg.Type)
		return
	}

	room.broadcast(msg)
}
