package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"sparkchat/internal/database"
	"sparkchat/internal/types"
)

func authedRequest(method, target, body string, userId int) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}

	return r.WithContext(WithUserId(r.Context(), userId))
}

func TestCreateAccount(t *testing.T) {
	t.Run("creates the account", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		defer db.AssertExpectations(t)

		db.On("CreateAccount", mock.MatchedBy(func(params database.CreateAccountParams) bool {
			return params.Username == "u1" && params.EmailAddress == "u1@example.com" &&
				params.PasswordHash != "" &&
				assert.ObjectsAreEqual([]string{"music", "art"}, params.Interests) &&
				params.Preference == types.PrefFriendship
		})).Return(database.User{
			Id:           1,
			Username:     "u1",
			EmailAddress: "u1@example.com",
			Interests:    []string{"music", "art"},
			Preference:   types.PrefFriendship,
		}, nil).Once()

		app := newTestApp(t, db)

		body := `{"email":"u1@example.com","username":"u1","password":"secret","interests":[" Music ","ART"],"chat_preference":"friendship"}`
		r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		app.createAccount(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var user types.User
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&user))
		assert.Equal(t, 1, user.Id)
		assert.Equal(t, []string{"music", "art"}, user.Interests)
	})

	t.Run("missing fields", func(t *testing.T) {
		app := newTestApp(t, &database.MockSparkChatRepository{})

		r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"email":"u1@example.com"}`))
		w := httptest.NewRecorder()

		app.createAccount(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid preference", func(t *testing.T) {
		app := newTestApp(t, &database.MockSparkChatRepository{})

		body := `{"email":"u1@example.com","username":"u1","password":"secret","chat_preference":"romance"}`
		r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()

		app.createAccount(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLogin(t *testing.T) {
	hash, err := hashPassword("secret")
	assert.NoError(t, err)

	t.Run("sets the token cookie", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetAccountByEmail", "u1@example.com").Return(database.User{
			Id:           1,
			Username:     "u1",
			EmailAddress: "u1@example.com",
			PasswordHash: hash,
		}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"u1@example.com","password":"secret"}`))
		w := httptest.NewRecorder()

		app.login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		cookies := w.Result().Cookies()
		assert.Len(t, cookies, 1, "expected a token cookie")
		assert.Equal(t, tokenCookieKey, cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)

		userId, err := app.extractUserIdFromToken(cookies[0].Value)
		assert.NoError(t, err)
		assert.Equal(t, 1, userId, "expected the token to carry the user id")
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetAccountByEmail", "u1@example.com").Return(database.User{
			Id:           1,
			PasswordHash: hash,
		}, nil).Once()

		app := newTestApp(t, db)

		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"u1@example.com","password":"wrong"}`))
		w := httptest.NewRecorder()

		app.login(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetAccountByEmail", "nope@example.com").Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"nope@example.com","password":"secret"}`))
		w := httptest.NewRecorder()

		app.login(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestMe(t *testing.T) {
	db := &database.MockSparkChatRepository{}
	db.On("GetAccountById", 1).Return(database.User{
		Id:         1,
		Username:   "u1",
		Interests:  []string{"music"},
		Preference: types.PrefFriendship,
	}, nil).Once()
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)

	r := authedRequest(http.MethodGet, "/api/auth/me", "", 1)
	w := httptest.NewRecorder()

	app.me(w, r)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp, "user")
	assert.Equal(t, string(types.StatusOffline), resp["status"], "expected the coordinator status")
}

func TestUpdateProfile(t *testing.T) {
	t.Run("normalizes interests", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("UpdateInterests", 1, []string{"music", "art"}).Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPut, "/api/auth/profile", `{"interests":[" Music ","ART","music"]}`, 1)
		w := httptest.NewRecorder()

		app.updateProfile(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects an empty set", func(t *testing.T) {
		app := newTestApp(t, &database.MockSparkChatRepository{})

		r := authedRequest(http.MethodPut, "/api/auth/profile", `{"interests":["  ",""]}`, 1)
		w := httptest.NewRecorder()

		app.updateProfile(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUpdateChatPreference(t *testing.T) {
	t.Run("updates", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("UpdateChatPreference", 1, types.PrefDating).Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPut, "/api/auth/chat-preference", `{"chat_preference":"dating"}`, 1)
		w := httptest.NewRecorder()

		app.updateChatPreference(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects unknown values", func(t *testing.T) {
		app := newTestApp(t, &database.MockSparkChatRepository{})

		r := authedRequest(http.MethodPut, "/api/auth/chat-preference", `{"chat_preference":"casual"}`, 1)
		w := httptest.NewRecorder()

		app.updateChatPreference(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetMessages(t *testing.T) {
	session := database.Session{Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true}

	t.Run("clamps the page size", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Once()
		db.On("GetMessages", 10, 1, 100).Return([]database.Message{}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/sess-1/messages?limit=1000", "", 1)
		r.SetPathValue("id", "sess-1")
		w := httptest.NewRecorder()

		app.getMessages(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects a non-participant", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/sess-1/messages", "", 3)
		r.SetPathValue("id", "sess-1")
		w := httptest.NewRecorder()

		app.getMessages(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("rejects invalid pagination", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/sess-1/messages?page=0", "", 1)
		r.SetPathValue("id", "sess-1")
		w := httptest.NewRecorder()

		app.getMessages(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "missing").Return(database.Session{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/missing/messages", "", 1)
		r.SetPathValue("id", "missing")
		w := httptest.NewRecorder()

		app.getMessages(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSearchMessages(t *testing.T) {
	session := database.Session{Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true}

	t.Run("requires a query", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/sess-1/messages/search", "", 1)
		r.SetPathValue("id", "sess-1")
		w := httptest.NewRecorder()

		app.searchMessages(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("searches", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Once()
		db.On("SearchMessages", 10, "hello", 100).Return([]database.Message{
			{Id: 100, SenderId: 1, Content: "hello there"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodGet, "/api/chats/sess-1/messages/search?q=hello", "", 1)
		r.SetPathValue("id", "sess-1")
		w := httptest.NewRecorder()

		app.searchMessages(w, r)
		assert.Equal(t, http.StatusOK, w.Code)

		var messages []types.Message
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&messages))
		assert.Len(t, messages, 1)
		assert.Equal(t, "sess-1", messages[0].SessionId)
	})
}

func TestPostMessage(t *testing.T) {
	db := &database.MockSparkChatRepository{}
	db.On("GetSessionByExternalId", "sess-1").Return(database.Session{
		Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true,
	}, nil).Once()
	db.On("CreateMessage", 10, 1, "hello", mock.Anything).Return(database.Message{
		Id:       100,
		SenderId: 1,
		Content:  "hello",
		ReadBy:   []int{1},
	}, nil).Once()
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)

	r := authedRequest(http.MethodPost, "/api/chats/sess-1/messages", `{"content":"hello"}`, 1)
	r.SetPathValue("id", "sess-1")
	w := httptest.NewRecorder()

	app.postMessage(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)

	var msg types.Message
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
	assert.Equal(t, 100, msg.Id)
	assert.Equal(t, "sess-1", msg.SessionId)
}

func TestEditMessage(t *testing.T) {
	session := database.Session{Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true}

	t.Run("edits an owned message", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionForMessage", 100).Return(session, nil).Once()
		db.On("EditMessage", 100, 1, "updated").Return(database.Message{
			Id:       100,
			SenderId: 1,
			Content:  "updated",
			Edited:   true,
		}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPut, "/api/messages/100", `{"content":"updated"}`, 1)
		r.SetPathValue("id", "100")
		w := httptest.NewRecorder()

		app.editMessage(w, r)
		assert.Equal(t, http.StatusOK, w.Code)

		var msg types.Message
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&msg))
		assert.True(t, msg.Edited)
	})

	t.Run("forbidden for someone else's message", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionForMessage", 100).Return(session, nil).Once()
		db.On("EditMessage", 100, 2, "updated").Return(database.Message{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPut, "/api/messages/100", `{"content":"updated"}`, 2)
		r.SetPathValue("id", "100")
		w := httptest.NewRecorder()

		app.editMessage(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown message", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionForMessage", 100).Return(database.Session{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPut, "/api/messages/100", `{"content":"updated"}`, 1)
		r.SetPathValue("id", "100")
		w := httptest.NewRecorder()

		app.editMessage(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAddReaction(t *testing.T) {
	session := database.Session{Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true}

	t.Run("adds a reaction", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionForMessage", 100).Return(session, nil).Once()
		db.On("AddReaction", 100, 1, "🔥").Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPost, "/api/messages/100/reactions", `{"emoji":"🔥"}`, 1)
		r.SetPathValue("id", "100")
		w := httptest.NewRecorder()

		app.addReaction(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("rejects a non-participant", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("GetSessionForMessage", 100).Return(session, nil).Once()

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPost, "/api/messages/100/reactions", `{"emoji":"🔥"}`, 3)
		r.SetPathValue("id", "100")
		w := httptest.NewRecorder()

		app.addReaction(w, r)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestBlockUser(t *testing.T) {
	t.Run("blocks", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("BlockUser", 1, 2).Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPost, "/api/chat/block/2", "", 1)
		r.SetPathValue("userId", "2")
		w := httptest.NewRecorder()

		app.blockUser(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("cannot block yourself", func(t *testing.T) {
		app := newTestApp(t, &database.MockSparkChatRepository{})

		r := authedRequest(http.MethodPost, "/api/chat/block/1", "", 1)
		r.SetPathValue("userId", "1")
		w := httptest.NewRecorder()

		app.blockUser(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unblocks", func(t *testing.T) {
		db := &database.MockSparkChatRepository{}
		db.On("UnblockUser", 1, 2).Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)

		r := authedRequest(http.MethodPost, "/api/chat/unblock/2", "", 1)
		r.SetPathValue("userId", "2")
		w := httptest.NewRecorder()

		app.unblockUser(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestArchiveSession(t *testing.T) {
	session := database.Session{Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Active: true}

	db := &database.MockSparkChatRepository{}
	db.On("GetSessionByExternalId", "sess-1").Return(session, nil).Twice()
	db.On("SetSessionArchived", 10, true).Return(nil).Once()
	db.On("SetSessionArchived", 10, false).Return(nil).Once()
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)

	r := authedRequest(http.MethodPut, "/api/chats/sess-1/archive", "", 1)
	r.SetPathValue("id", "sess-1")
	w := httptest.NewRecorder()
	app.archiveSession(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	r = authedRequest(http.MethodPut, "/api/chats/sess-1/unarchive", "", 1)
	r.SetPathValue("id", "sess-1")
	w = httptest.NewRecorder()
	app.unarchiveSession(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreateSessionHandler(t *testing.T) {
	db := &database.MockSparkChatRepository{}
	db.On("IsBlocked", 1, 2).Return(false, nil).Once()
	db.On("FindActiveSessionBetween", 1, 2).Return(database.Session{}, sql.ErrNoRows).Once()
	db.On("CreateSession", mock.Anything).Return(database.Session{
		Id: 10, ExternalId: "sess-1", UserAId: 1, UserBId: 2, Type: types.PrefFriendship, Active: true,
	}, nil).Once()
	db.On("GetAccountById", 1).Return(database.User{Id: 1, Username: "u1"}, nil).Once()
	db.On("GetAccountById", 2).Return(database.User{Id: 2, Username: "u2"}, nil).Once()
	defer db.AssertExpectations(t)

	app := newTestApp(t, db)

	r := authedRequest(http.MethodPost, "/api/chat/create-session", `{"user_id":2,"type":"friendship"}`, 1)
	w := httptest.NewRecorder()

	app.createSession(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)

	var sess types.Session
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&sess))
	assert.Equal(t, "sess-1", sess.ExternalId)
	assert.Len(t, sess.Participants, 2)
}

func TestStartSearchHandler(t *testing.T) {
	// the coordinator has no state for the user, so the search is refused
	app := newTestApp(t, &database.MockSparkChatRepository{})

	r := authedRequest(http.MethodPost, "/api/chat/start-search", "", 1)
	w := httptest.NewRecorder()

	app.startSearch(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var errResp ApiError
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "AuthRequired", errResp.Code, "expected the stable error code")
}
