package database

import (
	"time"

	"sparkchat/internal/types"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Interests    []string
	Preference   types.ChatPreference
	Online       bool
	Status       types.Status
	LastActive   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Session struct {
	Id            int
	ExternalId    string
	UserAId       int
	UserBId       int
	Type          types.ChatPreference
	Active        bool
	Archived      bool
	LastMessageId int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether the account takes part in the session.
func (s Session) HasParticipant(accountId int) bool {
	return s.UserAId == accountId || s.UserBId == accountId
}

// Partner returns the other participant's account id.
func (s Session) Partner(accountId int) int {
	if s.UserAId == accountId {
		return s.UserBId
	}
	return s.UserAId
}

type Message struct {
	Id        int
	SessionId int
	SenderId  int
	Content   string
	ReadBy    []int
	Edited    bool
	EditedAt  *time.Time
	Deleted   bool
	Reactions []types.Reaction
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Interests    []string
	Preference   types.ChatPreference
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateSessionParams struct {
	ExternalId string
	UserAId    int
	UserBId    int
	Type       types.ChatPreference
}

// SessionFilter narrows ListSessionsForUser.
type SessionFilter string

const (
	SessionFilterAll      SessionFilter = "all"
	SessionFilterActive   SessionFilter = "active"
	SessionFilterArchived SessionFilter = "archived"
)
