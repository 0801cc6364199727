package coordinator

import (
	"sort"
	"sync"
	"time"

	"sparkchat/internal/types"
)

type SearchEntry struct {
	UserId     int
	Interests  []string
	Preference types.ChatPreference
	EnqueuedAt time.Time
}

// SearchPool holds the set of searching users with an inverted index from
// interest tag to user ids for fast compatibility scans.
type SearchPool struct {
	mu         sync.RWMutex
	entries    map[int]*SearchEntry
	byInterest map[string]map[int]struct{}
}

func NewSearchPool() *SearchPool {
	return &SearchPool{
		entries:    make(map[int]*SearchEntry),
		byInterest: make(map[string]map[int]struct{}),
	}
}

func (p *SearchPool) Add(entry *SearchEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[entry.UserId]; ok {
		return
	}

	p.entries[entry.UserId] = entry
	for _, tag := range entry.Interests {
		if p.byInterest[tag] == nil {
			p.byInterest[tag] = make(map[int]struct{})
		}
		p.byInterest[tag][entry.UserId] = struct{}{}
	}
}

func (p *SearchPool) Remove(userId int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[userId]
	if !ok {
		return
	}

	delete(p.entries, userId)
	for _, tag := range entry.Interests {
		if ids, ok := p.byInterest[tag]; ok {
			delete(ids, userId)
			if len(ids) == 0 {
				delete(p.byInterest, tag)
			}
		}
	}
}

func (p *SearchPool) Contains(userId int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.entries[userId]
	return ok
}

func (p *SearchPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.entries)
}

// CandidatesFor returns ids of searchers that share at least one interest
// with the entry and have the same chat preference. The entry's own user is
// excluded.
func (p *SearchPool) CandidatesFor(entry *SearchEntry) []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[int]struct{})
	var candidates []int
	for _, tag := range entry.Interests {
		for id := range p.byInterest[tag] {
			if id == entry.UserId {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			other := p.entries[id]
			if other == nil || other.Preference != entry.Preference {
				continue
			}
			seen[id] = struct{}{}
			candidates = append(candidates, id)
		}
	}

	return candidates
}

func (p *SearchPool) Get(userId int) (*SearchEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[userId]
	return entry, ok
}

// Snapshot returns a copy of all entries in ascending enqueue order, oldest
// searcher first.
func (p *SearchPool) Snapshot() []SearchEntry {
	p.mu.RLock()
	entries := make([]SearchEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, *entry)
	}
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].UserId < entries[j].UserId
		}
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})

	return entries
}

// CommonInterests counts shared tags between two entries.
func CommonInterests(a, b *SearchEntry) int {
	tags := make(map[string]struct{}, len(a.Interests))
	for _, tag := range a.Interests {
		tags[tag] = struct{}{}
	}

	var n int
	for _, tag := range b.Interests {
		if _, ok := tags[tag]; ok {
			n++
		}
	}

	return n
}
