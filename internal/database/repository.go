package database

import (
	"time"

	"sparkchat/internal/types"
)

type SparkChatRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	UpdateChatPreference(accountId int, pref types.ChatPreference) error
	UpdateInterests(accountId int, interests []string) error
	UpdatePresence(accountId int, online bool, status types.Status, lastActive time.Time) error

	CreateSession(params CreateSessionParams) (Session, error)
	GetSessionByExternalId(externalId string) (Session, error)
	SetSessionActive(sessionId int, active bool) error
	SetSessionArchived(sessionId int, archived bool) error
	FindActiveSessionBetween(accountA, accountB int) (Session, error)
	GetSessionForMessage(messageId int) (Session, error)
	ListSessionsForUser(accountId int, filter SessionFilter) ([]Session, error)

	CreateMessage(sessionId, senderId int, content string, createdAt time.Time) (Message, error)
	MarkMessagesRead(sessionId, readerId int) (int, error)
	EditMessage(messageId, senderId int, content string) (Message, error)
	DeleteMessage(messageId, senderId int) error
	SearchMessages(sessionId int, substring string, limit int) ([]Message, error)
	GetMessages(sessionId, page, limit int) ([]Message, error)
	AddReaction(messageId, reactorId int, emoji string) error

	BlockUser(blockerId, blockedId int) error
	UnblockUser(blockerId, blockedId int) error
	IsBlocked(accountA, accountB int) (bool, error)
}
