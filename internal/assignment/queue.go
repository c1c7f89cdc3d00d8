package assignment

import (
	"sort"
	"sync"
	"time"

	"github.com/velora-app/velora/internal/model"
)

// Entry is a chat awaiting operator assignment. At most one live entry
// exists per chat; the queue enforces this.
type Entry struct {
	ChatID              string
	Tier                model.Tier
	RequiredSkills      []string
	PreferredOperatorID string
	ExcludedOperatorIDs []string
	LifetimeValue       int64
	EnqueuedAt          time.Time
	Attempts            int
	Reassignment        bool
}

// Score computes the entry's current numeric priority. The wait term
// makes scores rise the longer an entry sits queued, so ordering is
// always evaluated against a clock reading.
func (e *Entry) Score(now time.Time) int {
	waitMinutes := int(now.Sub(e.EnqueuedAt).Minutes())
	if waitMinutes < 0 {
		waitMinutes = 0
	}
	return PriorityScore(e.Tier, waitMinutes, e.LifetimeValue, e.Reassignment)
}

// Queue is the single-owner ordered set of pending chats. External
// readers only ever observe snapshots.
type Queue struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make(map[string]*Entry)}
}

// Enqueue adds an entry, idempotently per chat. If the chat is already
// queued, a reassignment re-enqueue bumps the existing entry's attempt
// counter and priority floor instead of duplicating it. Returns true
// when a new entry was added.
func (q *Queue) Enqueue(entry Entry) bool {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.entries[entry.ChatID]; ok {
		if entry.Reassignment {
			existing.Attempts = entry.Attempts
			existing.Reassignment = true
		}
		return false
	}
	q.entries[entry.ChatID] = &entry
	return true
}

// Remove deletes a chat's entry, if present.
func (q *Queue) Remove(chatID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[chatID]; !ok {
		return false
	}
	delete(q.entries, chatID)
	return true
}

// Contains reports whether the chat has a live entry.
func (q *Queue) Contains(chatID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[chatID]
	return ok
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// PopBest removes and returns the highest-priority entry: numeric
// score descending, ties broken by enqueue time ascending (FIFO among
// equals). Returns nil when the queue is empty.
func (q *Queue) PopBest(now time.Time) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := q.orderedLocked(now)
	if len(ordered) == 0 {
		return nil
	}
	best := ordered[0]
	delete(q.entries, best.ChatID)
	return best
}

// Snapshot returns a copy of all entries ordered by current priority.
func (q *Queue) Snapshot(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := q.orderedLocked(now)
	snapshot := make([]Entry, len(ordered))
	for i, e := range ordered {
		snapshot[i] = *e
	}
	return snapshot
}

func (q *Queue) orderedLocked(now time.Time) []*Entry {
	ordered := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		ordered = append(ordered, e)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := ordered[i].Score(now), ordered[j].Score(now)
		if si != sj {
			return si > sj
		}
		return ordered[i].EnqueuedAt.Before(ordered[j].EnqueuedAt)
	})
	return ordered
}

// Stats summarizes the queue for dashboards.
type Stats struct {
	Total              int
	ByPriorityBand     map[PriorityBand]int
	AverageWaitMinutes float64
	OldestWaitMinutes  float64
}

// QueueStats computes the dashboard summary from a snapshot.
func (q *Queue) QueueStats(now time.Time) Stats {
	entries := q.Snapshot(now)

	stats := Stats{
		Total:          len(entries),
		ByPriorityBand: make(map[PriorityBand]int),
	}
	if len(entries) == 0 {
		return stats
	}

	totalWait := 0.0
	for i := range entries {
		wait := now.Sub(entries[i].EnqueuedAt).Minutes()
		if wait < 0 {
			wait = 0
		}
		totalWait += wait
		if wait > stats.OldestWaitMinutes {
			stats.OldestWaitMinutes = wait
		}
		stats.ByPriorityBand[Band(entries[i].Score(now))]++
	}
	stats.AverageWaitMinutes = totalWait / float64(len(entries))
	return stats
}
