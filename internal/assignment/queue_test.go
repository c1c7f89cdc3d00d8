package assignment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora-app/velora/internal/model"
)

func TestQueue_EnqueueIdempotentPerChat(t *testing.T) {
	q := NewQueue()

	assert.True(t, q.Enqueue(Entry{ChatID: "chat_a", Tier: model.TierBasic}))
	assert.False(t, q.Enqueue(Entry{ChatID: "chat_a", Tier: model.TierBasic}))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_ReenqueueBumpsAttempts(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	q.Enqueue(Entry{ChatID: "chat_a", Tier: model.TierBasic, EnqueuedAt: now})
	added := q.Enqueue(Entry{
		ChatID:       "chat_a",
		Tier:         model.TierBasic,
		EnqueuedAt:   now,
		Attempts:     2,
		Reassignment: true,
	})

	assert.False(t, added)
	require.Equal(t, 1, q.Len())

	entry := q.PopBest(now)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Attempts)
	assert.True(t, entry.Reassignment)
}

func TestQueue_PopBestByScore(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	q.Enqueue(Entry{ChatID: "chat_basic", Tier: model.TierBasic, EnqueuedAt: now})
	q.Enqueue(Entry{ChatID: "chat_vip", Tier: model.TierVIP, EnqueuedAt: now})
	q.Enqueue(Entry{ChatID: "chat_gold", Tier: model.TierGold, EnqueuedAt: now})

	assert.Equal(t, "chat_vip", q.PopBest(now).ChatID)
	assert.Equal(t, "chat_gold", q.PopBest(now).ChatID)
	assert.Equal(t, "chat_basic", q.PopBest(now).ChatID)
	assert.Nil(t, q.PopBest(now))
}

// Equal scores dequeue in enqueue order: three same-tier chats enqueued
// at t, t+1s, t+2s come out oldest first.
func TestQueue_EqualScoresAreFIFO(t *testing.T) {
	q := NewQueue()
	base := time.Now().UTC()

	q.Enqueue(Entry{ChatID: "chat_2", Tier: model.TierSilver, EnqueuedAt: base.Add(2 * time.Second)})
	q.Enqueue(Entry{ChatID: "chat_0", Tier: model.TierSilver, EnqueuedAt: base})
	q.Enqueue(Entry{ChatID: "chat_1", Tier: model.TierSilver, EnqueuedAt: base.Add(time.Second)})

	now := base.Add(3 * time.Second)
	assert.Equal(t, "chat_0", q.PopBest(now).ChatID)
	assert.Equal(t, "chat_1", q.PopBest(now).ChatID)
	assert.Equal(t, "chat_2", q.PopBest(now).ChatID)
}

// Waiting raises priority: a basic chat queued long enough overtakes a
// fresh gold arrival even though the gold tier base is higher.
func TestQueue_WaitTimePromotes(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	q.Enqueue(Entry{ChatID: "chat_stale", Tier: model.TierBasic, EnqueuedAt: now.Add(-45 * time.Minute)})
	q.Enqueue(Entry{ChatID: "chat_fresh", Tier: model.TierGold, EnqueuedAt: now})

	// stale basic: 10 + 45 = 55 > fresh gold: 40.
	assert.Equal(t, "chat_stale", q.PopBest(now).ChatID)
}

func TestQueue_ReassignmentOutranksFreshArrivals(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	q.Enqueue(Entry{ChatID: "chat_fresh_vip", Tier: model.TierVIP, EnqueuedAt: now})
	q.Enqueue(Entry{ChatID: "chat_churned", Tier: model.TierBasic, EnqueuedAt: now, Reassignment: true})

	// Reassignment floor 200 beats a fresh VIP's 110.
	assert.Equal(t, "chat_churned", q.PopBest(now).ChatID)
}

func TestQueue_RemoveAndContains(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Entry{ChatID: "chat_a", Tier: model.TierBasic})

	assert.True(t, q.Contains("chat_a"))
	assert.True(t, q.Remove("chat_a"))
	assert.False(t, q.Contains("chat_a"))
	assert.False(t, q.Remove("chat_a"))
}

func TestQueue_SnapshotDoesNotDrain(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()
	q.Enqueue(Entry{ChatID: "chat_a", Tier: model.TierVIP, EnqueuedAt: now})
	q.Enqueue(Entry{ChatID: "chat_b", Tier: model.TierBasic, EnqueuedAt: now})

	snapshot := q.Snapshot(now)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "chat_a", snapshot[0].ChatID)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_Stats(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	// basic at 10 minutes wait: 10+10=20, low band.
	q.Enqueue(Entry{ChatID: "chat_low", Tier: model.TierBasic, EnqueuedAt: now.Add(-10 * time.Minute)})
	// vip fresh: 110, normal band.
	q.Enqueue(Entry{ChatID: "chat_normal", Tier: model.TierVIP, EnqueuedAt: now})
	// reassignment floor: 200, high band.
	q.Enqueue(Entry{ChatID: "chat_high", Tier: model.TierBasic, EnqueuedAt: now, Reassignment: true})

	stats := q.QueueStats(now)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByPriorityBand[BandLow])
	assert.Equal(t, 1, stats.ByPriorityBand[BandNormal])
	assert.Equal(t, 1, stats.ByPriorityBand[BandHigh])
	assert.InDelta(t, 10.0/3, stats.AverageWaitMinutes, 0.1)
	assert.InDelta(t, 10, stats.OldestWaitMinutes, 0.1)
}

func TestQueue_StatsEmpty(t *testing.T) {
	q := NewQueue()
	stats := q.QueueStats(time.Now().UTC())
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.ByPriorityBand)
}
