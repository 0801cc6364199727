package coordinator

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sparkchat/internal/types"
)

const (
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

type Client struct {
	conn        *websocket.Conn
	cd          *Coordinator
	log         *log.Logger
	user        types.User
	send        chan *ServerMessage
	sendTimeout time.Duration
	// authed is set once the authenticate frame is accepted; only the Read
	// goroutine touches it
	authed   bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cd *Coordinator, l *log.Logger) *Client {
	return &Client{
		conn:        conn,
		cd:          cd,
		log:         l,
		user:        user,
		send:        make(chan *ServerMessage, cd.cfg.SendQueueSize),
		sendTimeout: cd.cfg.SendTimeout,
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	if msg.Authenticate != nil {
		c.cd.handleAuthenticate(c, msg)
		return
	}

	if !c.authed {
		c.queueMessage(ErrFrame(msg.Id, NewAuthRequiredError()))
		return
	}

	switch {
	case msg.StartSearch != nil:
		if err := c.cd.StartSearch(c.user.Id); err != nil {
			c.queueMessage(errFrameFor(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.EndSearch != nil:
		if err := c.cd.EndSearch(c.user.Id); err != nil {
			c.queueMessage(errFrameFor(msg.Id, err))
			return
		}
		c.queueMessage(NoErrOK(msg.Id, nil))
	case msg.AcceptMatch != nil:
		c.vote(msg, msg.AcceptMatch.MatchId, true)
	case msg.RejectMatch != nil:
		c.vote(msg, msg.RejectMatch.MatchId, false)
	case msg.Publish != nil:
		c.cd.routeSessionMessage(msg.Publish.SessionId, msg)
	case msg.Typing != nil:
		c.cd.routeSessionMessage(msg.Typing.SessionId, msg)
	case msg.StopTyping != nil:
		c.cd.routeSessionMessage(msg.StopTyping.SessionId, msg)
	case msg.ReadAll != nil:
		c.cd.routeSessionMessage(msg.ReadAll.SessionId, msg)
	case msg.Join != nil:
		c.cd.routeSessionMessage(msg.Join.SessionId, msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) vote(msg *ClientMessage, matchId string, accept bool) {
	if err := c.cd.Vote(matchId, c.user.Id, accept); err != nil {
		c.queueMessage(errFrameFor(msg.Id, err))
		return
	}
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func errFrameFor(id int, err error) *ServerMessage {
	if cerr, ok := err.(*Error); ok {
		return ErrFrame(id, cerr)
	}
	return ErrFrame(id, NewInternalError(err))
}

// queueMessage enqueues an outbound frame. Droppable frames (typing) are
// discarded when the queue is full; anything else closes the connection as a
// slow consumer.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		if msg.droppable {
			return true
		}
		c.log.Printf("slow consumer, closing connection for user %d", c.user.Id)
		c.stopClient()
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.cd.clientDisconnected(c)
	c.stopClient()
}
