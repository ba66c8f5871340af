package server

import (
	"log"
	"slices"
)

// Room is the live fan-out list for one task. It is owned by the
// ChatServer Run goroutine and is never accessed concurrently.
type Room struct {
	taskId  string
	members map[*Client]struct{}
	log     *log.Logger
}

func newRoom(taskId string, l *log.Logger) *Room {
	return &Room{
		taskId:  taskId,
		members: make(map[*Client]struct{}),
		log:     l,
	}
}

func (r *Room) addMember(c *Client) bool {
	if _, ok := r.members[c]; ok {
		return false
	}

	r.members[c] = struct{}{}
	r.log.Printf("added client %q (user %q) to room %q", c.id, c.userId, r.taskId)
	return true
}

func (r *Room) removeMember(c *Client) bool {
	if _, ok := r.members[c]; !ok {
		return false
	}

	delete(r.members, c)
	r.log.Printf("removed client %q (user %q) from room %q", c.id, c.userId, r.taskId)
	return true
}

func (r *Room) hasMember(c *Client) bool {
	_, ok := r.members[c]
	return ok
}

// hasUser reports whether any connection of userId is still a member.
func (r *Room) hasUser(userId string) bool {
	for c := range r.members {
		if c.userId == userId {
			return true
		}
	}
	return false
}

func (r *Room) isEmpty() bool {
	return len(r.members) == 0
}

// memberIds returns the distinct user ids in the room, sorted.
func (r *Room) memberIds() []string {
	ids := make([]string, 0, len(r.members))
	for c := range r.members {
		if !slices.Contains(ids, c.userId) {
			ids = append(ids, c.userId)
		}
	}
	slices.Sort(ids)
	return ids
}

// broadcast queues msg to every member except msg.SkipClient. Members
// whose queue is full or whose connection has closed are skipped.
func (r *Room) broadcast(msg *ServerMessage) {
	for c := range r.members {
		if c == msg.SkipClient {
			continue
		}

		c.queueMessage(msg)
	}
}
