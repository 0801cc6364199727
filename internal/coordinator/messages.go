package coordinator

import (
	"net/http"
	"time"

	"sparkchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame received from a client. Exactly one of the
// operation pointers is set.
type ClientMessage struct {
	BaseMessage
	Authenticate *Authenticate `json:"authenticate,omitempty"`
	StartSearch  *StartSearch  `json:"start_search,omitempty"`
	EndSearch    *EndSearch    `json:"end_search,omitempty"`
	AcceptMatch  *MatchVote    `json:"accept_match,omitempty"`
	RejectMatch  *MatchVote    `json:"reject_match,omitempty"`
	Publish      *Publish      `json:"send_message,omitempty"`
	Typing       *TypingReq    `json:"typing,omitempty"`
	StopTyping   *TypingReq    `json:"stop_typing,omitempty"`
	ReadAll      *ReadAllReq   `json:"read_all,omitempty"`
	Join         *Join         `json:"join_session,omitempty"`

	UserId int     `json:"-"`
	client *Client `json:"-"`
}

type Authenticate struct {
	UserId int `json:"user_id"`
}

type StartSearch struct{}

type EndSearch struct{}

type MatchVote struct {
	MatchId string `json:"match_id"`
}

type Publish struct {
	SessionId string `json:"session_id"`
	Content   string `json:"content"`
}

type TypingReq struct {
	SessionId string `json:"session_id"`
}

type ReadAllReq struct {
	SessionId string `json:"session_id"`
}

type Join struct {
	SessionId string `json:"session_id"`
}

// ServerMessage is a frame sent to a client: either a response to a client
// frame (Id echoes the request) or a directed event.
type ServerMessage struct {
	BaseMessage
	Response       *Response       `json:"response,omitempty"`
	AuthOk         *AuthOk         `json:"auth_ok,omitempty"`
	AuthError      *AuthError      `json:"auth_error,omitempty"`
	MatchFound     *MatchFound     `json:"match_found,omitempty"`
	MatchConfirmed *MatchConfirmed `json:"match_confirmed,omitempty"`
	MatchRejected  *MatchOutcome   `json:"match_rejected,omitempty"`
	MatchExpired   *MatchOutcome   `json:"match_expired,omitempty"`
	Message        *types.Message  `json:"message,omitempty"`
	Typing         *TypingEvent    `json:"typing,omitempty"`
	StopTyping     *TypingEvent    `json:"stop_typing,omitempty"`
	ReadAll        *ReadAllEvent   `json:"read_all,omitempty"`
	SessionEnded   *SessionEnded   `json:"session_ended,omitempty"`
	Error          *Error          `json:"error,omitempty"`

	// droppable frames may be discarded when the client's send queue is full
	droppable  bool    `json:"-"`
	SkipClient *Client `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type AuthOk struct {
	User types.PublicProfile `json:"user"`
}

type AuthError struct {
	Reason string `json:"reason"`
}

type MatchFound struct {
	MatchId    string              `json:"match_id"`
	Partner    types.PublicProfile `json:"partner"`
	PromptUser int                 `json:"prompt_user"`
}

type MatchConfirmed struct {
	SessionId string              `json:"session_id"`
	Partner   types.PublicProfile `json:"partner"`
}

type MatchOutcome struct {
	MatchId string `json:"match_id"`
}

type TypingEvent struct {
	SessionId string `json:"session_id"`
	UserId    int    `json:"user_id"`
}

type ReadAllEvent struct {
	SessionId     string `json:"session_id"`
	ReaderId      int    `json:"reader_id"`
	UpToMessageId int    `json:"up_to_message_id"`
}

type SessionEnded struct {
	SessionId string `json:"session_id"`
	By        int    `json:"by"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

// ErrFrame wraps a coordinator error in a server frame.
func ErrFrame(id int, err *Error) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Error: err,
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
