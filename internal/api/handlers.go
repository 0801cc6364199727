package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"sparkchat/internal/coordinator"
	"sparkchat/internal/database"
	"sparkchat/internal/types"
)

type RegisterRequest struct {
	Email      string   `json:"email"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	Interests  []string `json:"interests"`
	Preference string   `json:"chat_preference"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	Interests []string `json:"interests"`
}

type UpdateChatPreferenceRequest struct {
	Preference string `json:"chat_preference"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type AddReactionRequest struct {
	Emoji string `json:"emoji"`
}

type CreateSessionRequest struct {
	UserId int    `json:"user_id"`
	Type   string `json:"type"`
}

func (s *SparkChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SparkChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *SparkChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pref := types.ChatPreference(req.Preference)
	if req.Preference == "" {
		pref = types.PrefFriendship
	}
	if !pref.Valid() {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		Interests:    types.NormalizeInterests(req.Interests),
		Preference:   pref,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		Interests:    newUser.Interests,
		Preference:   newUser.Preference,
	})
}

func (s *SparkChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Email == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := types.User{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		Interests:    dbUser.Interests,
		Preference:   dbUser.Preference,
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *SparkChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

func (s *SparkChatApp) me(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"user": types.User{
			Id:           user.Id,
			Username:     user.Username,
			EmailAddress: user.EmailAddress,
			Interests:    user.Interests,
			Preference:   user.Preference,
			CreatedAt:    user.CreatedAt,
			UpdatedAt:    user.UpdatedAt,
		},
		"status": s.cd.Status(userId),
	})
}

func (s *SparkChatApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	interests := types.NormalizeInterests(req.Interests)
	if len(interests) == 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.db.UpdateInterests(userId, interests); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{"interests": interests})
}

func (s *SparkChatApp) updateChatPreference(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req UpdateChatPreferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	pref := types.ChatPreference(req.Preference)
	if !pref.Valid() {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.db.UpdateChatPreference(userId, pref); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{"chat_preference": pref})
}

func (s *SparkChatApp) listSessions(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	filter := database.SessionFilter(r.URL.Query().Get("filter"))
	switch filter {
	case database.SessionFilterActive, database.SessionFilterArchived, database.SessionFilterAll:
	case "":
		filter = database.SessionFilterActive
	default:
		s.writeError(w, NewBadRequestError())
		return
	}

	dbSessions, err := s.db.ListSessionsForUser(userId, filter)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	sessions := make([]types.Session, 0, len(dbSessions))
	for _, dbSess := range dbSessions {
		apiSess, err := s.toApiSession(dbSess)
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}
		sessions = append(sessions, apiSess)
	}

	s.writeJson(w, http.StatusOK, sessions)
}

func (s *SparkChatApp) getSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbSess, errResp := s.participantSession(r.PathValue("id"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	apiSess, err := s.toApiSession(dbSess)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, apiSess)
}

func (s *SparkChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbSess, errResp := s.participantSession(r.PathValue("id"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	page, limit, errResp := s.pagination(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.GetMessages(dbSess.Id, page, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, s.toApiMessages(messages, dbSess.ExternalId))
}

func (s *SparkChatApp) searchMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbSess, errResp := s.participantSession(r.PathValue("id"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	limit := s.pageSizeMax
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = min(parsed, s.pageSizeMax)
	}

	messages, err := s.db.SearchMessages(dbSess.Id, q, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, s.toApiMessages(messages, dbSess.ExternalId))
}

func (s *SparkChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.cd.PublishMessage(r.PathValue("id"), userId, req.Content)
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *SparkChatApp) endSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.cd.EndSession(r.PathValue("id"), userId); err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SparkChatApp) archiveSession(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, true)
}

func (s *SparkChatApp) unarchiveSession(w http.ResponseWriter, r *http.Request) {
	s.setArchived(w, r, false)
}

func (s *SparkChatApp) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.cd.SetArchived(r.PathValue("id"), userId, archived); err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SparkChatApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	messageId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Content == "" || len(req.Content) > s.maxContentBytes {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbSess, err := s.db.GetSessionForMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	msg, err := s.db.EditMessage(messageId, userId, req.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the message exists but belongs to someone else
			s.writeError(w, NewForbiddenError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, s.toApiMessages([]database.Message{msg}, dbSess.ExternalId)[0])
}

func (s *SparkChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	messageId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if err := s.db.DeleteMessage(messageId, userId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SparkChatApp) addReaction(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	messageId, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	var req AddReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.Emoji == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbSess, err := s.db.GetSessionForMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !dbSess.HasParticipant(userId) {
		s.writeError(w, NewForbiddenError())
		return
	}

	if err := s.db.AddReaction(messageId, userId, req.Emoji); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SparkChatApp) blockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, true)
}

func (s *SparkChatApp) unblockUser(w http.ResponseWriter, r *http.Request) {
	s.setBlocked(w, r, false)
}

func (s *SparkChatApp) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	blockedId, err := strconv.Atoi(r.PathValue("userId"))
	if err != nil || blockedId == userId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if blocked {
		err = s.db.BlockUser(userId, blockedId)
	} else {
		err = s.db.UnblockUser(userId, blockedId)
	}
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SparkChatApp) createSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	stype := types.ChatPreference(req.Type)
	if !stype.Valid() {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbSess, err := s.cd.CreateSession(userId, req.UserId, stype)
	if err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	apiSess, err := s.toApiSession(dbSess)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, apiSess)
}

func (s *SparkChatApp) startSearch(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.cd.StartSearch(userId); err != nil {
		s.writeError(w, fromCoordinatorError(err))
		return
	}

	s.writeJson(w, http.StatusAccepted, map[string]any{"status": types.StatusSearching})
}

func (s *SparkChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := coordinator.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		Interests:    types.NormalizeInterests(user.Interests),
		Preference:   user.Preference,
	}, conn, s.cd, s.log)

	s.cd.RegisterClient(client)
	go client.Write()
	go client.Read()
}

// participantSession resolves a session by external id and enforces that the
// caller takes part in it.
func (s *SparkChatApp) participantSession(externalId string, userId int) (database.Session, *ApiError) {
	dbSess, err := s.db.GetSessionByExternalId(externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Session{}, NewNotFoundError()
		}
		return database.Session{}, NewInternalServerError(err)
	}

	if !dbSess.HasParticipant(userId) {
		return database.Session{}, NewForbiddenError()
	}

	return dbSess, nil
}

func (s *SparkChatApp) pagination(r *http.Request) (page, limit int, errResp *ApiError) {
	page, limit = 1, 20

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		parsed, err := strconv.Atoi(pageStr)
		if err != nil || parsed <= 0 {
			return 0, 0, NewBadRequestError()
		}
		page = parsed
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return 0, 0, NewBadRequestError()
		}
		limit = min(parsed, s.pageSizeMax)
	}

	return page, limit, nil
}

func (s *SparkChatApp) toApiSession(dbSess database.Session) (types.Session, error) {
	participants := make([]types.PublicProfile, 0, 2)
	for _, accountId := range []int{dbSess.UserAId, dbSess.UserBId} {
		account, err := s.db.GetAccountById(accountId)
		if err != nil {
			return types.Session{}, err
		}
		participants = append(participants, types.PublicProfile{
			Id:        account.Id,
			Username:  account.Username,
			Interests: account.Interests,
		})
	}

	return types.Session{
		Id:            dbSess.Id,
		ExternalId:    dbSess.ExternalId,
		Participants:  participants,
		Type:          dbSess.Type,
		Active:        dbSess.Active,
		Archived:      dbSess.Archived,
		LastMessageId: dbSess.LastMessageId,
		CreatedAt:     dbSess.CreatedAt,
		UpdatedAt:     dbSess.UpdatedAt,
	}, nil
}

func (s *SparkChatApp) toApiMessages(messages []database.Message, externalId string) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, types.Message{
			Id:        msg.Id,
			SessionId: externalId,
			SenderId:  msg.SenderId,
			Content:   msg.Content,
			ReadBy:    msg.ReadBy,
			Edited:    msg.Edited,
			EditedAt:  msg.EditedAt,
			Deleted:   msg.Deleted,
			Reactions: msg.Reactions,
			CreatedAt: msg.CreatedAt,
		})
	}

	return out
}
