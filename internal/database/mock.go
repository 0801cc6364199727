package database

import (
	"time"

	"github.com/stretchr/testify/mock"

	"sparkchat/internal/types"
)

type MockSparkChatRepository struct {
	mock.Mock
}

func (m *MockSparkChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockSparkChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSparkChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSparkChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSparkChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockSparkChatRepository) UpdateChatPreference(accountId int, pref types.ChatPreference) error {
	args := m.Called(accountId, pref)
	return args.Error(0)
}
func (m *MockSparkChatRepository) UpdateInterests(accountId int, interests []string) error {
	args := m.Called(accountId, interests)
	return args.Error(0)
}
func (m *MockSparkChatRepository) UpdatePresence(accountId int, online bool, status types.Status, lastActive time.Time) error {
	args := m.Called(accountId, online, status, lastActive)
	return args.Error(0)
}
func (m *MockSparkChatRepository) CreateSession(params CreateSessionParams) (Session, error) {
	args := m.Called(params)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockSparkChatRepository) GetSessionByExternalId(externalId string) (Session, error) {
	args := m.Called(externalId)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockSparkChatRepository) SetSessionActive(sessionId int, active bool) error {
	args := m.Called(sessionId, active)
	return args.Error(0)
}
func (m *MockSparkChatRepository) SetSessionArchived(sessionId int, archived bool) error {
	args := m.Called(sessionId, archived)
	return args.Error(0)
}
func (m *MockSparkChatRepository) FindActiveSessionBetween(accountA, accountB int) (Session, error) {
	args := m.Called(accountA, accountB)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockSparkChatRepository) GetSessionForMessage(messageId int) (Session, error) {
	args := m.Called(messageId)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockSparkChatRepository) ListSessionsForUser(accountId int, filter SessionFilter) ([]Session, error) {
	args := m.Called(accountId, filter)
	return args.Get(0).([]Session), args.Error(1)
}
func (m *MockSparkChatRepository) CreateMessage(sessionId, senderId int, content string, createdAt time.Time) (Message, error) {
	args := m.Called(sessionId, senderId, content, createdAt)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSparkChatRepository) MarkMessagesRead(sessionId, readerId int) (int, error) {
	args := m.Called(sessionId, readerId)
	return args.Int(0), args.Error(1)
}
func (m *MockSparkChatRepository) EditMessage(messageId, senderId int, content string) (Message, error) {
	args := m.Called(messageId, senderId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockSparkChatRepository) DeleteMessage(messageId, senderId int) error {
	args := m.Called(messageId, senderId)
	return args.Error(0)
}
func (m *MockSparkChatRepository) SearchMessages(sessionId int, substring string, limit int) ([]Message, error) {
	args := m.Called(sessionId, substring, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockSparkChatRepository) GetMessages(sessionId, page, limit int) ([]Message, error) {
	args := m.Called(sessionId, page, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockSparkChatRepository) AddReaction(messageId, reactorId int, emoji string) error {
	args := m.Called(messageId, reactorId, emoji)
	return args.Error(0)
}
func (m *MockSparkChatRepository) BlockUser(blockerId, blockedId int) error {
	args := m.Called(blockerId, blockedId)
	return args.Error(0)
}
func (m *MockSparkChatRepository) UnblockUser(blockerId, blockedId int) error {
	args := m.Called(blockerId, blockedId)
	return args.Error(0)
}
func (m *MockSparkChatRepository) IsBlocked(accountA, accountB int) (bool, error) {
	args := m.Called(accountA, accountB)
	return args.Bool(0), args.Error(1)
}
