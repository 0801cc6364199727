package coordinator

import (
	"slices"
	"sync"
)

// connectionRegistry maps user ids to their live connections. A user may
// hold several connections; the most recently authenticated one is primary.
type connectionRegistry struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	userConns map[int][]*Client
}

func newConnectionRegistry() *connectionRegistry {
	return &connectionRegistry{
		clients:   make(map[*Client]struct{}),
		userConns: make(map[int][]*Client),
	}
}

func (r *connectionRegistry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c] = struct{}{}
}

// bind associates an authenticated connection with its user. The newest
// binding becomes the primary connection.
func (r *connectionRegistry) bind(c *Client, userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}
	if slices.Contains(r.userConns[userId], c) {
		return
	}

	r.userConns[userId] = append(r.userConns[userId], c)
}

// remove drops the connection and reports how many connections remain bound
// to the same user.
func (r *connectionRegistry) remove(c *Client) (remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, c)

	userId := c.user.Id
	conns := r.userConns[userId]
	for i, conn := range conns {
		if conn == c {
			conns = slices.Delete(conns, i, i+1)
			break
		}
	}

	if len(conns) == 0 {
		delete(r.userConns, userId)
	} else {
		r.userConns[userId] = conns
	}

	return len(conns)
}

func (r *connectionRegistry) primary(userId int) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.userConns[userId]
	if len(conns) == 0 {
		return nil, false
	}

	return conns[len(conns)-1], true
}

func (r *connectionRegistry) connectionsOf(userId int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.userConns[userId])
}

func (r *connectionRegistry) connected(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.userConns[userId]) > 0
}

func (r *connectionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

// send queues the event on every connection of the user. Events sent to a
// single connection are delivered in enqueue order.
func (r *connectionRegistry) send(userId int, msg *ServerMessage) {
	for _, c := range r.connectionsOf(userId) {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

func (r *connectionRegistry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}

	return clients
}
