package coordinator

import (
	"log"
	"time"
)

// Matcher periodically pairs compatible searchers. A single goroutine runs
// ticks, so ticks never overlap. start-search kicks an immediate tick to cut
// first-match latency.
type Matcher struct {
	log      *log.Logger
	clock    Clock
	pool     *SearchPool
	interval time.Duration

	// propose hands a compatible pair off to the ballot table. An error
	// leaves both users searching; they re-enter the next tick.
	propose func(a, b SearchEntry) error
	// eligible filters candidate pairs (blocked users). Nil allows all.
	eligible func(a, b int) bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewMatcher(logger *log.Logger, clock Clock, pool *SearchPool, interval time.Duration, propose func(a, b SearchEntry) error, eligible func(a, b int) bool) *Matcher {
	return &Matcher{
		log:      logger,
		clock:    clock,
		pool:     pool,
		interval: interval,
		propose:  propose,
		eligible: eligible,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *Matcher) Run() {
	ticker := m.clock.NewTicker(m.interval)
	defer func() {
		ticker.Stop()
		close(m.done)
	}()

	for {
		select {
		case <-ticker.C():
			m.tick()
		case <-m.kick:
			m.tick()
		case <-m.stop:
			return
		}
	}
}

// Kick schedules an immediate tick. Non-blocking; a pending kick absorbs
// further ones.
func (m *Matcher) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Matcher) Stop() {
	close(m.stop)
	<-m.done
}

// tick runs one matching pass: oldest searcher first, candidates ranked by
// shared interest count, ties broken by older enqueue instant then lower id.
func (m *Matcher) tick() {
	entries := m.pool.Snapshot()
	if len(entries) < 2 {
		return
	}

	byId := make(map[int]*SearchEntry, len(entries))
	for i := range entries {
		byId[entries[i].UserId] = &entries[i]
	}

	paired := make(map[int]struct{})
	for i := range entries {
		a := &entries[i]
		if _, ok := paired[a.UserId]; ok {
			continue
		}

		best := m.bestCandidate(a, byId, paired)
		if best == nil {
			continue
		}

		if err := m.propose(*a, *best); err != nil {
			m.log.Printf("matcher: propose (%d, %d): %v", a.UserId, best.UserId, err)
			continue
		}

		paired[a.UserId] = struct{}{}
		paired[best.UserId] = struct{}{}
	}
}

func (m *Matcher) bestCandidate(a *SearchEntry, byId map[int]*SearchEntry, paired map[int]struct{}) *SearchEntry {
	var (
		best       *SearchEntry
		bestCommon int
	)

	for _, id := range m.pool.CandidatesFor(a) {
		if _, ok := paired[id]; ok {
			continue
		}

		b, ok := byId[id]
		if !ok {
			// joined the pool after the snapshot; it gets picked up next tick
			continue
		}

		if m.eligible != nil && !m.eligible(a.UserId, id) {
			continue
		}

		common := CommonInterests(a, b)
		if common < 1 {
			continue
		}

		if best == nil || common > bestCommon ||
			(common == bestCommon && b.EnqueuedAt.Before(best.EnqueuedAt)) ||
			(common == bestCommon && b.EnqueuedAt.Equal(best.EnqueuedAt) && b.UserId < best.UserId) {
			best = b
			bestCommon = common
		}
	}

	return best
}
