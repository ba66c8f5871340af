// Package presence persists each user's last known online state and the
// task room they are currently active in.
package presence

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-taskchat/internal/database"
)

const (
	defaultWriteTimeout = 5 * time.Second
	updateQueueSize     = 512
)

// Store persists presence rows. GetPresence returns database.ErrNotFound
// for a user that was never recorded.
type Store interface {
	UpsertPresence(ctx context.Context, p database.Presence) error
	GetPresence(ctx context.Context, userId string) (database.Presence, error)
}

type updateKind int

const (
	connected updateKind = iota
	joined
	left
	disconnected
)

type update struct {
	kind   updateKind
	userId string
	taskId string
}

type userState struct {
	conns       int
	currentTask string
}

// Tracker applies presence side effects in the order they are reported.
// All per-user state is owned by the Run goroutine.
type Tracker struct {
	store        Store
	log          *log.Logger
	updates      chan update
	users        map[string]*userState
	writeTimeout time.Duration
	now          func() time.Time
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

func NewTracker(store Store, logger *log.Logger) *Tracker {
	return &Tracker{
		store:        store,
		log:          logger,
		updates:      make(chan update, updateQueueSize),
		users:        make(map[string]*userState),
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (t *Tracker) Run() {
	defer close(t.done)

	for {
		select {
		case u := <-t.updates:
			t.apply(u)
		case <-t.stop:
			// flush what was queued before the stop
			for {
				select {
				case u := <-t.updates:
					t.apply(u)
				default:
					return
				}
			}
		}
	}
}

// Stop flushes queued updates and waits for Run to return.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Tracker) Connected(userId string) {
	t.enqueue(update{kind: connected, userId: userId})
}

func (t *Tracker) Joined(userId, taskId string) {
	t.enqueue(update{kind: joined, userId: userId, taskId: taskId})
}

func (t *Tracker) Left(userId, taskId string) {
	t.enqueue(update{kind: left, userId: userId, taskId: taskId})
}

func (t *Tracker) Disconnected(userId string) {
	t.enqueue(update{kind: disconnected, userId: userId})
}

// enqueue never blocks. Callers run on the chat server loop, so a
// stalled store costs presence updates, never room traffic.
func (t *Tracker) enqueue(u update) {
	select {
	case <-t.stop:
		t.log.Printf("presence tracker stopped, dropping update for %q", u.userId)
		return
	default:
	}

	select {
	case t.updates <- u:
	default:
		t.log.Printf("presence queue full, dropping update for %q", u.userId)
	}
}

func (t *Tracker) apply(u update) {
	st, ok := t.users[u.userId]
	if !ok {
		st = &userState{}
		t.users[u.userId] = st
	}

	online := true
	switch u.kind {
	case connected:
		st.conns++
	case joined:
		st.currentTask = u.taskId
	case left:
		if st.currentTask == u.taskId {
			st.currentTask = ""
		}
		online = st.conns > 0
		if !online {
			delete(t.users, u.userId)
		}
	case disconnected:
		st.conns--
		if st.conns <= 0 {
			delete(t.users, u.userId)
			st.currentTask = ""
			online = false
		}
	}

	t.write(database.Presence{
		UserId:        u.userId,
		IsOnline:      online,
		LastSeen:      t.now(),
		CurrentTaskId: sql.NullString{String: st.currentTask, Valid: st.currentTask != ""},
	})
}

func (t *Tracker) write(p database.Presence) {
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()

	if err := t.store.UpsertPresence(ctx, p); err != nil {
		t.log.Printf("upsert presence for %q: %v", p.UserId, err)
	}
}
