package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"sparkchat/internal/database"
	"sparkchat/internal/stats"
	"sparkchat/internal/types"
)

const (
	metricActiveClients  = "NumActiveClients"
	metricSearching      = "NumSearching"
	metricPendingMatches = "NumPendingMatches"
	metricActiveSessions = "NumActiveSessions"
)

type Config struct {
	TickInterval    time.Duration
	BallotTTL       time.Duration
	SendQueueSize   int
	SendTimeout     time.Duration
	MaxContentBytes int
}

func DefaultConfig() Config {
	return Config{
		TickInterval:    3 * time.Second,
		BallotTTL:       120 * time.Second,
		SendQueueSize:   256,
		SendTimeout:     5 * time.Second,
		MaxContentBytes: 4096,
	}
}

// Coordinator owns the matchmaking and session state: who is online, who is
// searching, open ballots and active session actors. It is constructed once
// per process (or per test scenario) with an injected clock and repository.
type Coordinator struct {
	log      *log.Logger
	db       database.SparkChatRepository
	presence *database.PresenceStore
	stats    stats.StatsProvider
	clock    Clock
	cfg      Config

	registry *connectionRegistry
	states   *UserStateIndex
	pool     *SearchPool
	pending  *PendingMatchTable
	matcher  *Matcher

	sessionsMu sync.RWMutex
	sessions   map[string]*session

	genSessionId func() (string, error)
	genMatchId   func() string
}

func NewCoordinator(logger *log.Logger, db database.SparkChatRepository, presence *database.PresenceStore, su stats.StatsProvider, clock Clock, cfg Config) (*Coordinator, error) {
	cd := &Coordinator{
		log:          logger,
		db:           db,
		presence:     presence,
		stats:        su,
		clock:        clock,
		cfg:          cfg,
		registry:     newConnectionRegistry(),
		states:       NewUserStateIndex(),
		pool:         NewSearchPool(),
		sessions:     make(map[string]*session),
		genSessionId: shortid.Generate,
		genMatchId:   uuid.NewString,
	}

	cd.pending = NewPendingMatchTable(clock, cfg.BallotTTL)
	cd.pending.SetExpiryHandler(cd.ballotExpired)
	cd.matcher = NewMatcher(logger, clock, cd.pool, cfg.TickInterval, cd.proposeMatch, cd.pairEligible)

	if su != nil {
		su.RegisterMetric(metricActiveClients)
		su.RegisterMetric(metricSearching)
		su.RegisterMetric(metricPendingMatches)
		su.RegisterMetric(metricActiveSessions)
	}

	return cd, nil
}

func (cd *Coordinator) Start() {
	go cd.matcher.Run()
}

func (cd *Coordinator) Shutdown(ctx context.Context) error {
	cd.matcher.Stop()

	cd.sessionsMu.RLock()
	sessions := make([]*session, 0, len(cd.sessions))
	for _, s := range cd.sessions {
		sessions = append(sessions, s)
	}
	cd.sessionsMu.RUnlock()

	for _, s := range sessions {
		cd.log.Printf("shutting down session %q", s.externalId)
		e := exitReq{done: make(chan struct{})}
		select {
		case s.exit <- e:
			select {
			case <-e.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, c := range cd.registry.all() {
		c.stopClient()
	}

	return nil
}

// RegisterClient tracks a freshly upgraded connection. The connection stays
// unbound until its authenticate frame arrives.
func (cd *Coordinator) RegisterClient(c *Client) {
	cd.registry.add(c)
	cd.incr(metricActiveClients)
}

func (cd *Coordinator) handleAuthenticate(c *Client, msg *ClientMessage) {
	if msg.Authenticate.UserId != c.user.Id {
		c.queueMessage(&ServerMessage{
			BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
			AuthError:   &AuthError{Reason: "identity mismatch"},
		})
		return
	}

	if !c.authed {
		cd.states.Upsert(c.user)
		cd.registry.bind(c, c.user.Id)
		c.authed = true

		if cd.states.Status(c.user.Id) == types.StatusOffline {
			if err := cd.states.Transition(c.user.Id, types.StatusOffline, types.StatusOnline); err != nil {
				cd.log.Printf("authenticate transition for user %d: %v", c.user.Id, err)
			} else {
				cd.mirrorPresence(c.user.Id, true, types.StatusOnline)
			}
		}
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		AuthOk:      &AuthOk{User: c.user.Public()},
	})
}

// StartSearch moves the user into the search pool and kicks the matcher.
func (cd *Coordinator) StartSearch(userId int) error {
	state, ok := cd.states.Get(userId)
	if !ok {
		return NewAuthRequiredError()
	}

	interests := types.NormalizeInterests(state.Profile.Interests)
	if len(interests) == 0 {
		return NewInvalidContentError("at least one interest is required to search")
	}
	if !state.Profile.Preference.Valid() {
		return NewInvalidContentError("chat preference is not set")
	}

	// a chat must be ended before searching again
	if state.Status == types.StatusInChat {
		return NewAlreadyInSessionError()
	}

	if err := cd.states.Transition(userId, types.StatusOnline, types.StatusSearching); err != nil {
		return err
	}

	cd.pool.Add(&SearchEntry{
		UserId:     userId,
		Interests:  interests,
		Preference: state.Profile.Preference,
		EnqueuedAt: cd.clock.Now(),
	})
	cd.incr(metricSearching)
	cd.mirrorPresence(userId, true, types.StatusSearching)
	cd.matcher.Kick()

	return nil
}

func (cd *Coordinator) EndSearch(userId int) error {
	if err := cd.states.Transition(userId, types.StatusSearching, types.StatusOnline); err != nil {
		return err
	}

	cd.pool.Remove(userId)
	cd.decr(metricSearching)
	cd.mirrorPresence(userId, true, types.StatusOnline)

	return nil
}

// pairEligible rejects candidate pairs where either user blocked the other.
func (cd *Coordinator) pairEligible(a, b int) bool {
	blocked, err := cd.db.IsBlocked(a, b)
	if err != nil {
		cd.log.Printf("IsBlocked(%d, %d): %v", a, b, err)
		return false
	}

	return !blocked
}

// proposeMatch is the matcher handoff: both users move into Pending and a
// ballot opens in one atomic step per user. On partial failure the first
// user is rolled back to Searching.
func (cd *Coordinator) proposeMatch(a, b SearchEntry) error {
	matchId := cd.genMatchId()

	if err := cd.states.BeginPending(a.UserId, matchId); err != nil {
		return err
	}
	if err := cd.states.BeginPending(b.UserId, matchId); err != nil {
		cd.states.RollbackPending(a.UserId, matchId)
		return err
	}

	cd.pool.Remove(a.UserId)
	cd.pool.Remove(b.UserId)
	cd.decr(metricSearching)
	cd.decr(metricSearching)

	cd.pending.Create(matchId, a.UserId, b.UserId, a.Preference)
	cd.incr(metricPendingMatches)

	cd.mirrorPresence(a.UserId, true, types.StatusPending)
	cd.mirrorPresence(b.UserId, true, types.StatusPending)

	cd.notifyMatchFound(matchId, a.UserId, b.UserId)
	cd.notifyMatchFound(matchId, b.UserId, a.UserId)

	return nil
}

func (cd *Coordinator) notifyMatchFound(matchId string, userId, partnerId int) {
	partner, _ := cd.states.Get(partnerId)
	cd.registry.send(userId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		MatchFound: &MatchFound{
			MatchId:    matchId,
			Partner:    partner.Profile.Public(),
			PromptUser: userId,
		},
	})
}

// Vote records an accept or reject on a ballot and applies the outcome.
func (cd *Coordinator) Vote(matchId string, userId int, accept bool) error {
	b, ok := cd.pending.Get(matchId)
	if !ok {
		return NewMatchExpiredError()
	}

	outcome, decided, err := cd.pending.Vote(matchId, userId, accept)
	if decided {
		switch outcome {
		case OutcomeAccepted:
			cd.ballotAccepted(b)
		case OutcomeRejected, OutcomeExpired:
			cd.ballotDecided(b, outcome)
		}
	}

	return err
}

// ballotExpired runs on the ballot timer goroutine.
func (cd *Coordinator) ballotExpired(b *Ballot) {
	cd.log.Printf("ballot %q expired", b.Id)
	cd.ballotDecided(b, OutcomeExpired)
}

// ballotAccepted opens the session and moves both users into the chat.
func (cd *Coordinator) ballotAccepted(b *Ballot) {
	cd.decr(metricPendingMatches)

	s, err := cd.openSession(b.UserA, b.UserB, b.Preference)
	if err != nil {
		// rollback per the matchmaking recovery policy: both users return
		// to the search pool
		cd.log.Printf("open session for ballot %q: %v", b.Id, err)
		cd.rollbackToSearching(b)
		return
	}

	for _, userId := range []int{b.UserA, b.UserB} {
		if err := cd.states.ResolvePending(userId, b.Id, types.StatusInChat, s.externalId); err != nil {
			cd.log.Printf("resolve pending for user %d: %v", userId, err)
			continue
		}
		cd.mirrorPresence(userId, true, types.StatusInChat)
	}

	for _, userId := range []int{b.UserA, b.UserB} {
		partner, _ := cd.states.Get(s.partner(userId))
		cd.registry.send(userId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			MatchConfirmed: &MatchConfirmed{
				SessionId: s.externalId,
				Partner:   partner.Profile.Public(),
			},
		})
	}
}

// ballotDecided handles rejected and expired outcomes: both users return to
// Online (or Offline when their connections are gone) and each
// still-connected user is notified.
func (cd *Coordinator) ballotDecided(b *Ballot, outcome BallotOutcome) {
	cd.decr(metricPendingMatches)

	for _, userId := range []int{b.UserA, b.UserB} {
		if err := cd.states.ResolvePending(userId, b.Id, types.StatusOnline, ""); err != nil {
			cd.log.Printf("resolve pending for user %d: %v", userId, err)
			continue
		}

		connected := cd.registry.connected(userId)
		if !connected {
			if err := cd.states.Transition(userId, types.StatusOnline, types.StatusOffline); err == nil {
				cd.mirrorPresence(userId, false, types.StatusOffline)
			}
			continue
		}

		cd.mirrorPresence(userId, true, types.StatusOnline)

		event := &ServerMessage{BaseMessage: BaseMessage{Timestamp: Now()}}
		if outcome == OutcomeRejected {
			event.MatchRejected = &MatchOutcome{MatchId: b.Id}
		} else {
			event.MatchExpired = &MatchOutcome{MatchId: b.Id}
		}
		cd.registry.send(userId, event)
	}
}

func (cd *Coordinator) rollbackToSearching(b *Ballot) {
	for _, userId := range []int{b.UserA, b.UserB} {
		cd.states.RollbackPending(userId, b.Id)

		state, ok := cd.states.Get(userId)
		if !ok || state.Status != types.StatusSearching {
			continue
		}

		cd.pool.Add(&SearchEntry{
			UserId:     userId,
			Interests:  state.Profile.Interests,
			Preference: b.Preference,
			EnqueuedAt: cd.clock.Now(),
		})
		cd.incr(metricSearching)
		cd.mirrorPresence(userId, true, types.StatusSearching)
	}
}

// openSession creates the durable record and starts the session actor. An
// existing active session between the pair is reused.
func (cd *Coordinator) openSession(userA, userB int, stype types.ChatPreference) (*session, error) {
	existing, err := cd.db.FindActiveSessionBetween(userA, userB)
	if err == nil {
		return cd.ensureSessionActor(existing), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, NewStorageFailureError(err)
	}

	return cd.createSession(userA, userB, stype)
}

// createSession writes a fresh session record and starts its actor.
func (cd *Coordinator) createSession(userA, userB int, stype types.ChatPreference) (*session, error) {
	externalId, err := cd.genSessionId()
	if err != nil {
		return nil, NewInternalError(err)
	}

	dbSess, err := cd.db.CreateSession(database.CreateSessionParams{
		ExternalId: externalId,
		UserAId:    userA,
		UserBId:    userB,
		Type:       stype,
	})
	if err != nil {
		return nil, NewStorageFailureError(err)
	}

	return cd.ensureSessionActor(dbSess), nil
}

// ensureSessionActor returns the live actor for a session, starting one if
// needed.
func (cd *Coordinator) ensureSessionActor(dbSess database.Session) *session {
	cd.sessionsMu.Lock()
	defer cd.sessionsMu.Unlock()

	if s, ok := cd.sessions[dbSess.ExternalId]; ok {
		return s
	}

	s := &session{
		id:         dbSess.Id,
		externalId: dbSess.ExternalId,
		userA:      dbSess.UserAId,
		userB:      dbSess.UserBId,
		stype:      dbSess.Type,
		active:     dbSess.Active,
		cd:         cd,
		log:        cd.log,
		msgChan:    make(chan *ClientMessage, 256),
		pubChan:    make(chan publishReq),
		endChan:    make(chan endReq),
		exit:       make(chan exitReq),
		done:       make(chan struct{}),
	}

	cd.sessions[s.externalId] = s
	cd.incr(metricActiveSessions)
	go s.start()

	return s
}

func (cd *Coordinator) getSession(externalId string) (*session, bool) {
	cd.sessionsMu.RLock()
	defer cd.sessionsMu.RUnlock()

	s, ok := cd.sessions[externalId]
	return s, ok
}

func (cd *Coordinator) removeSession(externalId string) {
	cd.sessionsMu.Lock()
	defer cd.sessionsMu.Unlock()

	if _, ok := cd.sessions[externalId]; ok {
		delete(cd.sessions, externalId)
	}
}

// getOrLoadSession resolves an active session actor, loading the record from
// the repository when the actor is not in memory.
func (cd *Coordinator) getOrLoadSession(externalId string) (*session, *Error) {
	if s, ok := cd.getSession(externalId); ok {
		return s, nil
	}

	dbSess, err := cd.db.GetSessionByExternalId(externalId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewSessionNotFoundError()
	}
	if err != nil {
		return nil, NewStorageFailureError(err)
	}
	if !dbSess.Active {
		return nil, NewSessionNotActiveError()
	}

	return cd.ensureSessionActor(dbSess), nil
}

// routeSessionMessage forwards a client frame into the session actor.
func (cd *Coordinator) routeSessionMessage(externalId string, msg *ClientMessage) {
	s, cerr := cd.getOrLoadSession(externalId)
	if cerr != nil {
		msg.client.queueMessage(ErrFrame(msg.Id, cerr))
		return
	}

	if !s.hasParticipant(msg.UserId) {
		msg.client.queueMessage(ErrFrame(msg.Id, NewNotAParticipantError()))
		return
	}

	select {
	case s.msgChan <- msg:
	case <-s.done:
		msg.client.queueMessage(ErrFrame(msg.Id, NewSessionNotActiveError()))
	default:
		cd.log.Printf("msgChan full for session %q", s.externalId)
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// CreateSession opens an explicit session between two users (HTTP surface).
// An existing active session between the pair is returned instead of a new
// one. No status transitions happen here; only ballot decisions move users
// into InChat.
func (cd *Coordinator) CreateSession(userA, userB int, stype types.ChatPreference) (database.Session, error) {
	if userA == userB {
		return database.Session{}, NewInvalidContentError("cannot open a session with yourself")
	}

	blocked, err := cd.db.IsBlocked(userA, userB)
	if err != nil {
		return database.Session{}, NewStorageFailureError(err)
	}
	if blocked {
		return database.Session{}, NewNotAParticipantError()
	}

	existing, err := cd.db.FindActiveSessionBetween(userA, userB)
	if err == nil {
		return sessionRecord(cd.ensureSessionActor(existing)), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.Session{}, NewStorageFailureError(err)
	}

	// no session between this pair yet: refuse while either user is still
	// in another active chat
	for _, userId := range []int{userA, userB} {
		if cd.states.Status(userId) == types.StatusInChat {
			return database.Session{}, NewAlreadyInSessionError()
		}
	}

	s, cerr := cd.createSession(userA, userB, stype)
	if cerr != nil {
		return database.Session{}, cerr
	}

	return sessionRecord(s), nil
}

func sessionRecord(s *session) database.Session {
	return database.Session{
		Id:         s.id,
		ExternalId: s.externalId,
		UserAId:    s.userA,
		UserBId:    s.userB,
		Type:       s.stype,
		Active:     s.active,
	}
}

// EndSession routes an end request into the session actor.
func (cd *Coordinator) EndSession(externalId string, actorId int) error {
	s, cerr := cd.getOrLoadSession(externalId)
	if cerr != nil {
		return cerr
	}

	req := endReq{actorId: actorId, reply: make(chan error, 1)}
	select {
	case s.endChan <- req:
		return <-req.reply
	case <-s.done:
		return NewSessionNotActiveError()
	}
}

// SetArchived flips the archived flag for a participant. Archiving carries
// no live session state, so after the participant check it is a plain
// repository write; it still goes through the coordinator so the HTTP
// surface never mutates sessions behind it.
func (cd *Coordinator) SetArchived(externalId string, actorId int, archived bool) error {
	dbSess, err := cd.db.GetSessionByExternalId(externalId)
	if errors.Is(err, sql.ErrNoRows) {
		return NewSessionNotFoundError()
	}
	if err != nil {
		return NewStorageFailureError(err)
	}

	if !dbSess.HasParticipant(actorId) {
		return NewNotAParticipantError()
	}

	if err := cd.db.SetSessionArchived(dbSess.Id, archived); err != nil {
		return NewStorageFailureError(err)
	}

	return nil
}

// sessionEnded is called from the session actor once the record is marked
// inactive.
func (cd *Coordinator) sessionEnded(s *session, actorId int) {
	cd.decr(metricActiveSessions)

	for _, userId := range []int{s.userA, s.userB} {
		if err := cd.states.LeaveChat(userId); err != nil {
			// the user was not InChat for this session (explicit sessions,
			// or already disconnected); nothing to move
			continue
		}
		cd.mirrorPresence(userId, cd.registry.connected(userId), types.StatusOnline)
	}

	cd.registry.send(s.partner(actorId), &ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		SessionEnded: &SessionEnded{SessionId: s.externalId, By: actorId},
	})
}

// PublishMessage is the synchronous message path for the HTTP surface. It
// goes through the session actor so ordering matches the websocket path.
func (cd *Coordinator) PublishMessage(externalId string, senderId int, content string) (types.Message, error) {
	s, cerr := cd.getOrLoadSession(externalId)
	if cerr != nil {
		return types.Message{}, cerr
	}
	if !s.hasParticipant(senderId) {
		return types.Message{}, NewNotAParticipantError()
	}

	req := publishReq{senderId: senderId, content: content, reply: make(chan publishResult, 1)}
	select {
	case s.pubChan <- req:
		res := <-req.reply
		if res.err != nil {
			return types.Message{}, res.err
		}
		return res.msg, nil
	case <-s.done:
		return types.Message{}, NewSessionNotActiveError()
	}
}

// Status reports the coordinator's view of a user.
func (cd *Coordinator) Status(userId int) types.Status {
	return cd.states.Status(userId)
}

func (cd *Coordinator) clientDisconnected(c *Client) {
	remaining := cd.registry.remove(c)
	cd.decr(metricActiveClients)

	if !c.authed || remaining > 0 {
		return
	}

	userId := c.user.Id
	switch cd.states.Status(userId) {
	case types.StatusSearching:
		if err := cd.EndSearch(userId); err != nil {
			cd.log.Printf("end search on disconnect for user %d: %v", userId, err)
		}
	case types.StatusPending:
		// disconnect mid-ballot counts as a reject
		if matchId, ok := cd.pending.BallotFor(userId); ok {
			if err := cd.Vote(matchId, userId, false); err != nil {
				cd.log.Printf("reject on disconnect for user %d: %v", userId, err)
			}
		}
	case types.StatusInChat:
		state, _ := cd.states.Get(userId)
		if state.SessionId != "" {
			if err := cd.EndSession(state.SessionId, userId); err != nil {
				cd.log.Printf("end session on disconnect for user %d: %v", userId, err)
			}
		}
	}

	if err := cd.states.Transition(userId, types.StatusOnline, types.StatusOffline); err == nil {
		cd.mirrorPresence(userId, false, types.StatusOffline)
	}
}

// mirrorPresence records the durable presence row and the redis cache entry.
// Failures are logged; presence is advisory and retried on the next change.
func (cd *Coordinator) mirrorPresence(userId int, online bool, status types.Status) {
	cd.states.Touch(userId, cd.clock.Now())

	if err := cd.db.UpdatePresence(userId, online, status, cd.clock.Now()); err != nil {
		cd.log.Printf("UpdatePresence for user %d: %v", userId, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var err error
	if online {
		err = cd.presence.SetOnline(ctx, userId, status)
	} else {
		err = cd.presence.SetOffline(ctx, userId)
	}
	if err != nil {
		cd.log.Printf("presence cache for user %d: %v", userId, err)
	}
}

func (cd *Coordinator) incr(name string) {
	if cd.stats != nil {
		cd.stats.Incr(name)
	}
}

func (cd *Coordinator) decr(name string) {
	if cd.stats != nil {
		cd.stats.Decr(name)
	}
}
