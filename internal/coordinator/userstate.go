package coordinator

import (
	"sync"
	"time"

	"sparkchat/internal/types"
)

// UserState is a point-in-time snapshot of a user's coordinator state.
type UserState struct {
	Profile    types.User
	Status     types.Status
	SessionId  string
	MatchId    string
	LastActive time.Time
}

type userEntry struct {
	mu         sync.Mutex
	profile    types.User
	status     types.Status
	sessionId  string
	matchId    string
	lastActive time.Time
}

// UserStateIndex is the authoritative in-memory status store. Operations on
// the same user are serialised by the entry mutex; transitions are validated
// against the legal transition table.
type UserStateIndex struct {
	mu    sync.RWMutex
	users map[int]*userEntry
}

func NewUserStateIndex() *UserStateIndex {
	return &UserStateIndex{
		users: make(map[int]*userEntry),
	}
}

var legalTransitions = map[types.Status]map[types.Status]struct{}{
	types.StatusOffline: {
		types.StatusOnline: {},
	},
	types.StatusOnline: {
		types.StatusOffline:   {},
		types.StatusSearching: {},
	},
	types.StatusSearching: {
		types.StatusOnline:  {},
		types.StatusPending: {},
	},
	types.StatusPending: {
		types.StatusOnline: {},
		types.StatusInChat: {},
	},
	types.StatusInChat: {
		types.StatusOnline: {},
	},
}

func (idx *UserStateIndex) entry(userId int) *userEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.users[userId]
	if !ok {
		e = &userEntry{status: types.StatusOffline}
		idx.users[userId] = e
	}

	return e
}

// Upsert stores the user's profile, creating the entry if needed. Status is
// untouched.
func (idx *UserStateIndex) Upsert(user types.User) {
	e := idx.entry(user.Id)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.profile = user
}

func (idx *UserStateIndex) Get(userId int) (UserState, bool) {
	idx.mu.RLock()
	e, ok := idx.users[userId]
	idx.mu.RUnlock()
	if !ok {
		return UserState{Status: types.StatusOffline}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return UserState{
		Profile:    e.profile,
		Status:     e.status,
		SessionId:  e.sessionId,
		MatchId:    e.matchId,
		LastActive: e.lastActive,
	}, true
}

func (idx *UserStateIndex) Status(userId int) types.Status {
	state, _ := idx.Get(userId)
	return state.Status
}

// Transition moves the user from one status to another. It fails with
// InvalidState when the current status differs from the expected one or the
// transition is not in the legal table.
func (idx *UserStateIndex) Transition(userId int, from, to types.Status) error {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.transitionLocked(from, to)
}

func (e *userEntry) transitionLocked(from, to types.Status) error {
	if e.status != from {
		return NewInvalidStateError(string(e.status))
	}
	if _, ok := legalTransitions[from][to]; !ok {
		return NewInvalidStateError(string(e.status))
	}

	e.status = to
	return nil
}

// BeginPending atomically moves a Searching user into Pending and records
// the ballot id, guaranteeing the one-ballot-per-user invariant.
func (idx *UserStateIndex) BeginPending(userId int, matchId string) error {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matchId != "" {
		return NewInvalidStateError(string(e.status))
	}
	if err := e.transitionLocked(types.StatusSearching, types.StatusPending); err != nil {
		return err
	}

	e.matchId = matchId
	return nil
}

// ResolvePending moves a Pending user out of the given ballot. When to is
// InChat the session id is recorded; otherwise the user returns to Online.
func (idx *UserStateIndex) ResolvePending(userId int, matchId string, to types.Status, sessionId string) error {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matchId != matchId {
		return NewInvalidStateError(string(e.status))
	}
	if err := e.transitionLocked(types.StatusPending, to); err != nil {
		return err
	}

	e.matchId = ""
	e.sessionId = sessionId
	return nil
}

// RollbackPending undoes an unpublished move into Pending, restoring the
// user to Searching. It is not an observable transition; it exists for the
// matchmaking handoff failure path.
func (idx *UserStateIndex) RollbackPending(userId int, matchId string) {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matchId != matchId || e.status != types.StatusPending {
		return
	}

	e.status = types.StatusSearching
	e.matchId = ""
}

// LeaveChat moves an InChat user back to Online and clears the session id.
func (idx *UserStateIndex) LeaveChat(userId int) error {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.transitionLocked(types.StatusInChat, types.StatusOnline); err != nil {
		return err
	}

	e.sessionId = ""
	return nil
}

func (idx *UserStateIndex) Touch(userId int, at time.Time) {
	e := idx.entry(userId)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastActive = at
}
