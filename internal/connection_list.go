package internal

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"github.com/dmreichard/PantsMUD/internal/session"
)

// The server uses a shared list of connections across all protocol frontends
// so that the max_connections limit applies to the process as a whole.
var globalConnectionList = &connectionList{
	connections: list.New(),
	RWMutex:     sync.RWMutex{},
}

// A concurrency-safe wrapper around container/list for maintaining a
// collection of connected clients.
type connectionList struct {
	connections *list.List
	sync.RWMutex
}

func (cl *connectionList) add(c *session.Conn) {
	cl.Lock()
	cl.connections.PushBack(c)
	cl.Unlock()
}

func (cl *connectionList) remove(c *session.Conn) {
	cl.Lock()
	defer cl.Unlock()

	for elem := cl.connections.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*session.Conn).ID() == c.ID() {
			cl.connections.Remove(elem)
			break
		}
	}
}

func (cl *connectionList) has(id uuid.UUID) bool {
	cl.RLock()
	defer cl.RUnlock()

	for elem := cl.connections.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*session.Conn).ID() == id {
			return true
		}
	}
	return false
}

func (cl *connectionList) len() int {
	cl.RLock()
	defer cl.RUnlock()
	return cl.connections.Len()
}
