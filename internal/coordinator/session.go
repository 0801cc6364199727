package coordinator

import (
	"log"
	"strings"

	"sparkchat/internal/types"
)

type endReq struct {
	actorId int
	reply   chan error
}

type publishReq struct {
	senderId int
	content  string
	reply    chan publishResult
}

type publishResult struct {
	msg types.Message
	err error
}

type exitReq struct {
	done chan struct{}
}

// session is the in-memory actor for one active chat. A single goroutine
// serialises the message path, so persistence order and fan-out order agree.
type session struct {
	id         int
	externalId string
	userA      int
	userB      int
	stype      types.ChatPreference
	active     bool
	cd         *Coordinator
	log        *log.Logger

	msgChan chan *ClientMessage
	pubChan chan publishReq
	endChan chan endReq
	exit    chan exitReq
	done    chan struct{}
}

func (s *session) hasParticipant(userId int) bool {
	return s.userA == userId || s.userB == userId
}

func (s *session) partner(userId int) int {
	if s.userA == userId {
		return s.userB
	}
	return s.userA
}

func (s *session) start() {
	s.log.Printf("starting session %q", s.externalId)

	for {
		select {
		case msg := <-s.msgChan:
			switch {
			case msg.Publish != nil:
				s.handlePublish(msg)
			case msg.Typing != nil:
				s.handleTyping(msg, true)
			case msg.StopTyping != nil:
				s.handleTyping(msg, false)
			case msg.ReadAll != nil:
				s.handleReadAll(msg)
			case msg.Join != nil:
				s.handleJoin(msg)
			}
		case req := <-s.pubChan:
			msg, err := s.publish(req.senderId, req.content)
			req.reply <- publishResult{msg: msg, err: err}
		case req := <-s.endChan:
			err := s.handleEnd(req.actorId)
			req.reply <- err
			if err == nil {
				s.cd.removeSession(s.externalId)
				close(s.done)
				return
			}
		case e := <-s.exit:
			s.log.Printf("session %q is exiting", s.externalId)
			if e.done != nil {
				close(e.done)
			}
			close(s.done)
			return
		}
	}
}

// handlePublish persists the message, acks the sender and fans the event out
// to both participants in FIFO order.
func (s *session) handlePublish(msg *ClientMessage) {
	if _, err := s.publish(msg.UserId, msg.Publish.Content); err != nil {
		msg.client.queueMessage(errFrameFor(msg.Id, err))
		return
	}

	msg.client.queueMessage(NoErrAccepted(msg.Id))
}

// publish is the single message path shared by the websocket and HTTP
// surfaces: validate, persist, then fan out to both participants.
func (s *session) publish(senderId int, content string) (types.Message, error) {
	if !s.active {
		return types.Message{}, NewSessionNotActiveError()
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return types.Message{}, NewInvalidContentError("content is empty")
	}
	if len(content) > s.cd.cfg.MaxContentBytes {
		return types.Message{}, NewInvalidContentError("content too large")
	}

	created := s.cd.clock.Now()
	dbMsg, err := s.cd.db.CreateMessage(s.id, senderId, content, created)
	if err != nil {
		s.log.Println("CreateMessage:", err)
		return types.Message{}, NewStorageFailureError(err)
	}

	wire := types.Message{
		Id:        dbMsg.Id,
		SessionId: s.externalId,
		SenderId:  dbMsg.SenderId,
		Content:   dbMsg.Content,
		ReadBy:    dbMsg.ReadBy,
		CreatedAt: dbMsg.CreatedAt,
	}

	event := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: created},
		Message:     &wire,
	}

	s.cd.registry.send(s.userA, event)
	s.cd.registry.send(s.userB, event)

	return wire, nil
}

// handleTyping relays a typing indicator to the other participant. Typing
// events are droppable and never persisted.
func (s *session) handleTyping(msg *ClientMessage, typing bool) {
	if !s.active {
		return
	}

	event := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		droppable:   true,
	}

	indicator := &TypingEvent{SessionId: s.externalId, UserId: msg.UserId}
	if typing {
		event.Typing = indicator
	} else {
		event.StopTyping = indicator
	}

	s.cd.registry.send(s.partner(msg.UserId), event)
}

func (s *session) handleReadAll(msg *ClientMessage) {
	lastRead, err := s.cd.db.MarkMessagesRead(s.id, msg.UserId)
	if err != nil {
		s.log.Println("MarkMessagesRead:", err)
		msg.client.queueMessage(ErrFrame(msg.Id, NewStorageFailureError(err)))
		return
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))

	// notify the other participant only after persistence
	s.cd.registry.send(s.partner(msg.UserId), &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		ReadAll: &ReadAllEvent{
			SessionId:     s.externalId,
			ReaderId:      msg.UserId,
			UpToMessageId: lastRead,
		},
	})
}

func (s *session) handleJoin(msg *ClientMessage) {
	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{
		"session_id":   s.externalId,
		"type":         string(s.stype),
		"participants": []int{s.userA, s.userB},
		"active":       s.active,
	}))
}

// handleEnd marks the session inactive, moves both participants out of the
// chat and notifies the other participant.
func (s *session) handleEnd(actorId int) error {
	if !s.hasParticipant(actorId) {
		return NewNotAParticipantError()
	}
	if !s.active {
		return NewSessionNotActiveError()
	}

	if err := s.cd.db.SetSessionActive(s.id, false); err != nil {
		s.log.Println("SetSessionActive:", err)
		return NewStorageFailureError(err)
	}

	s.active = false
	s.cd.sessionEnded(s, actorId)

	return nil
}
