package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"sparkchat/internal/types"
)

const messageColumns = "m.id, m.session_id, m.sender_id, m.content, m.edited, m.edited_at, m.deleted, m.created_at, " +
	"COALESCE((SELECT array_agg(r.account_id) FROM message_reads r WHERE r.message_id = m.id), '{}')"

func (db *PgSparkChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, interests, chat_preference, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id, username, email, interests, chat_preference",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		pq.Array(params.Interests),
		params.Preference,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		pq.Array(&u.Interests),
		&u.Preference,
	)

	return u, err
}

func (db *PgSparkChatRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email, interests, chat_preference",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		pq.Array(&u.Interests),
		&u.Preference,
	)

	return u, err
}

func (db *PgSparkChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, interests, chat_preference, online, status, created_at, updated_at "+
			"FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		pq.Array(&user.Interests),
		&user.Preference,
		&user.Online,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgSparkChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, interests, chat_preference FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		pq.Array(&user.Interests),
		&user.Preference,
	)

	return user, err
}

func (db *PgSparkChatRepository) UpdateChatPreference(accountId int, pref types.ChatPreference) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET chat_preference = $2, updated_at = $3 WHERE id = $1",
		accountId,
		pref,
		time.Now().UTC(),
	)

	return err
}

func (db *PgSparkChatRepository) UpdateInterests(accountId int, interests []string) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET interests = $2, updated_at = $3 WHERE id = $1",
		accountId,
		pq.Array(interests),
		time.Now().UTC(),
	)

	return err
}

func (db *PgSparkChatRepository) UpdatePresence(accountId int, online bool, status types.Status, lastActive time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET online = $2, status = $3, last_active = $4, updated_at = $4 WHERE id = $1",
		accountId,
		online,
		status,
		lastActive,
	)

	return err
}

func (db *PgSparkChatRepository) CreateSession(params CreateSessionParams) (Session, error) {
	res := db.conn.QueryRow(
		"INSERT INTO sessions (external_id, user_a, user_b, type, active, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, TRUE, $5, $5) "+
			"RETURNING id, external_id, user_a, user_b, type, active, archived, last_message_id, created_at, updated_at",
		params.ExternalId,
		params.UserAId,
		params.UserBId,
		params.Type,
		time.Now().UTC(),
	)

	return scanSessionRow(res)
}

func (db *PgSparkChatRepository) GetSessionByExternalId(externalId string) (Session, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, user_a, user_b, type, active, archived, last_message_id, created_at, updated_at "+
			"FROM sessions WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanSessionRow(row)
}

func (db *PgSparkChatRepository) SetSessionActive(sessionId int, active bool) error {
	_, err := db.conn.Exec(
		"UPDATE sessions SET active = $2, updated_at = $3 WHERE id = $1",
		sessionId,
		active,
		time.Now().UTC(),
	)

	return err
}

func (db *PgSparkChatRepository) SetSessionArchived(sessionId int, archived bool) error {
	_, err := db.conn.Exec(
		"UPDATE sessions SET archived = $2, updated_at = $3 WHERE id = $1",
		sessionId,
		archived,
		time.Now().UTC(),
	)

	return err
}

func (db *PgSparkChatRepository) FindActiveSessionBetween(accountA, accountB int) (Session, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, user_a, user_b, type, active, archived, last_message_id, created_at, updated_at "+
			"FROM sessions WHERE active AND LEAST(user_a, user_b) = LEAST($1, $2) "+
			"AND GREATEST(user_a, user_b) = GREATEST($1, $2) LIMIT 1",
		accountA,
		accountB,
	)

	return scanSessionRow(row)
}

func (db *PgSparkChatRepository) GetSessionForMessage(messageId int) (Session, error) {
	row := db.conn.QueryRow(
		"SELECT s.id, s.external_id, s.user_a, s.user_b, s.type, s.active, s.archived, s.last_message_id, s.created_at, s.updated_at "+
			"FROM sessions s JOIN messages m ON m.session_id = s.id WHERE m.id = $1 LIMIT 1",
		messageId,
	)

	return scanSessionRow(row)
}

func (db *PgSparkChatRepository) ListSessionsForUser(accountId int, filter SessionFilter) ([]Session, error) {
	query := "SELECT id, external_id, user_a, user_b, type, active, archived, last_message_id, created_at, updated_at " +
		"FROM sessions WHERE (user_a = $1 OR user_b = $1)"
	switch filter {
	case SessionFilterActive:
		query += " AND active AND NOT archived"
	case SessionFilterArchived:
		query += " AND archived"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.conn.Query(query, accountId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (db *PgSparkChatRepository) CreateMessage(sessionId, senderId int, content string, createdAt time.Time) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO messages (session_id, sender_id, content, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, session_id, sender_id, content, created_at",
		sessionId,
		senderId,
		content,
		createdAt,
	)

	var msg Message
	err = res.Scan(
		&msg.Id,
		&msg.SessionId,
		&msg.SenderId,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	// the sender has read their own message
	_, err = tx.Exec(
		"INSERT INTO message_reads (message_id, account_id) VALUES ($1, $2)",
		msg.Id,
		senderId,
	)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE sessions SET last_message_id = $2, updated_at = $3 WHERE id = $1",
		sessionId,
		msg.Id,
		createdAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	msg.ReadBy = []int{senderId}
	return msg, nil
}

func (db *PgSparkChatRepository) MarkMessagesRead(sessionId, readerId int) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"INSERT INTO message_reads (message_id, account_id) "+
			"SELECT m.id, $2 FROM messages m WHERE m.session_id = $1 AND m.sender_id != $2 "+
			"ON CONFLICT DO NOTHING",
		sessionId,
		readerId,
	)
	if err != nil {
		return 0, err
	}

	var lastRead sql.NullInt64
	err = tx.QueryRow(
		"SELECT MAX(id) FROM messages WHERE session_id = $1 AND sender_id != $2",
		sessionId,
		readerId,
	).Scan(&lastRead)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return int(lastRead.Int64), nil
}

func (db *PgSparkChatRepository) EditMessage(messageId, senderId int, content string) (Message, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"UPDATE messages SET content = $3, edited = TRUE, edited_at = $4, updated_at = $4 "+
			"WHERE id = $1 AND sender_id = $2 AND NOT deleted "+
			"RETURNING id, session_id, sender_id, content, edited, edited_at, created_at",
		messageId,
		senderId,
		content,
		now,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.SessionId,
		&msg.SenderId,
		&msg.Content,
		&msg.Edited,
		&msg.EditedAt,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgSparkChatRepository) DeleteMessage(messageId, senderId int) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET deleted = TRUE, content = '', updated_at = $3 WHERE id = $1 AND sender_id = $2",
		messageId,
		senderId,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgSparkChatRepository) SearchMessages(sessionId int, substring string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m "+
			"WHERE m.session_id = $1 AND NOT m.deleted AND m.content ILIKE '%' || $2 || '%' "+
			"ORDER BY m.id DESC LIMIT $3",
		sessionId,
		substring,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.collectMessages(rows)
}

func (db *PgSparkChatRepository) GetMessages(sessionId, page, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}

	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages m "+
			"WHERE m.session_id = $1 ORDER BY m.id ASC OFFSET $2 LIMIT $3",
		sessionId,
		(page-1)*limit,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return db.collectMessages(rows)
}

func (db *PgSparkChatRepository) AddReaction(messageId, reactorId int, emoji string) error {
	_, err := db.conn.Exec(
		"INSERT INTO reactions (message_id, account_id, emoji) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		messageId,
		reactorId,
		emoji,
	)

	return err
}

func (db *PgSparkChatRepository) BlockUser(blockerId, blockedId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		blockerId,
		blockedId,
	)

	return err
}

func (db *PgSparkChatRepository) UnblockUser(blockerId, blockedId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2",
		blockerId,
		blockedId,
	)

	return err
}

func (db *PgSparkChatRepository) IsBlocked(accountA, accountB int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM blocks WHERE (blocker_id = $1 AND blocked_id = $2) "+
			"OR (blocker_id = $2 AND blocked_id = $1))",
		accountA,
		accountB,
	)

	var blocked bool
	err := row.Scan(&blocked)

	return blocked, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (Session, error) {
	var s Session
	err := row.Scan(
		&s.Id,
		&s.ExternalId,
		&s.UserAId,
		&s.UserBId,
		&s.Type,
		&s.Active,
		&s.Archived,
		&s.LastMessageId,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	return s, err
}

func (db *PgSparkChatRepository) collectMessages(rows *sql.Rows) ([]Message, error) {
	var (
		messages []Message
		ids      []int64
	)

	for rows.Next() {
		var (
			msg      Message
			editedAt sql.NullTime
			readBy   []int64
		)
		err := rows.Scan(
			&msg.Id,
			&msg.SessionId,
			&msg.SenderId,
			&msg.Content,
			&msg.Edited,
			&editedAt,
			&msg.Deleted,
			&msg.CreatedAt,
			pq.Array(&readBy),
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if editedAt.Valid {
			t := editedAt.Time
			msg.EditedAt = &t
		}
		msg.ReadBy = make([]int, len(readBy))
		for i, id := range readBy {
			msg.ReadBy[i] = int(id)
		}

		messages = append(messages, msg)
		ids = append(ids, int64(msg.Id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.attachReactions(messages, ids); err != nil {
		return nil, err
	}

	return messages, nil
}

func (db *PgSparkChatRepository) attachReactions(messages []Message, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	rows, err := db.conn.Query(
		"SELECT message_id, account_id, emoji FROM reactions WHERE message_id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	byId := make(map[int]*Message, len(messages))
	for i := range messages {
		byId[messages[i].Id] = &messages[i]
	}

	for rows.Next() {
		var (
			messageId, accountId int
			emoji                string
		)
		if err := rows.Scan(&messageId, &accountId, &emoji); err != nil {
			return err
		}

		if msg, ok := byId[messageId]; ok {
			msg.Reactions = append(msg.Reactions, types.Reaction{Emoji: emoji, ReactorId: accountId})
		}
	}

	return rows.Err()
}
