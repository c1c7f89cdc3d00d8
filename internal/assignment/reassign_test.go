package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/model"
)

func TestReassign_BelowCeilingRequeues(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedOperator(t, "op_a", func(op *model.Operator) { op.CurrentChats = 1 })
	f.seedChat(t, "chat_a", "usr_a", model.StatusActive, "op_a", 0)

	result, err := f.escalator.Reassign(context.Background(), "chat_a", "operator idle")
	require.NoError(t, err)
	assert.Equal(t, ReassignResult{Reassigned: true, Attempts: 1}, result)

	chat := f.chat(t, "chat_a")
	assert.Equal(t, model.StatusQueued, chat.Status)
	assert.Empty(t, chat.OperatorID)
	assert.Equal(t, 1, chat.AssignmentCount)

	// The prior operator's capacity is freed.
	assert.Zero(t, f.operator(t, "op_a").CurrentChats)

	entry := f.queue.PopBest(time.Now().UTC())
	require.NotNil(t, entry)
	assert.True(t, entry.Reassignment)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, []string{"op_a"}, entry.ExcludedOperatorIDs)
}

func TestReassign_PriorOperatorNotReassigned(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedOperator(t, "op_prior", func(op *model.Operator) { op.CurrentChats = 1 })
	f.seedChat(t, "chat_a", "usr_a", model.StatusActive, "op_prior", 0)

	_, err := f.escalator.Reassign(context.Background(), "chat_a", "operator idle")
	require.NoError(t, err)

	// The only candidate is the operator the chat just left.
	result, err := f.engine.ProcessQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, result.Assigned)
	assert.True(t, f.queue.Contains("chat_a"))
}

func TestReassign_IdleChat(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedOperator(t, "op_a", func(op *model.Operator) { op.CurrentChats = 1 })
	f.seedChat(t, "chat_a", "usr_a", model.StatusIdle, "op_a", 0)

	result, err := f.escalator.Reassign(context.Background(), "chat_a", "idle timeout")
	require.NoError(t, err)
	assert.True(t, result.Reassigned)
	assert.Equal(t, model.StatusQueued, f.chat(t, "chat_a").Status)
}

func TestReassign_UnassignedChatRejected(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedChat(t, "chat_a", "usr_a", model.StatusQueued, "", 0)

	_, err := f.escalator.Reassign(context.Background(), "chat_a", "admin")
	require.Error(t, err)
}

func TestReassign_TerminalChatRejected(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedChat(t, "chat_a", "usr_a", model.StatusEscalated, "", 3)

	_, err := f.escalator.Reassign(context.Background(), "chat_a", "admin")
	var notFound *fault.ChatNotFoundError
	require.ErrorAs(t, err, &notFound)
}

// Full ceiling walk: three reassignments each requeue the chat, the
// fourth trigger escalates it, and it never re-enters the queue.
func TestReassign_FourthTriggerEscalates(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierVIP, 0)
	f.seedOperator(t, "op_a", nil)
	f.seedOperator(t, "op_b", nil)
	f.seedChat(t, "chat_a", "usr_a", model.StatusUnqueued, "", 0)

	ctx := context.Background()
	require.NoError(t, f.engine.Enqueue(ctx, EnqueueRequest{ChatID: "chat_a"}))

	for attempt := 1; attempt <= 3; attempt++ {
		result, err := f.engine.ProcessQueue(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 1, result.Assigned, "pass %d", attempt)

		reassign, err := f.escalator.Reassign(ctx, "chat_a", "operator idle")
		require.NoError(t, err)
		assert.True(t, reassign.Reassigned, "trigger %d", attempt)
		assert.Equal(t, attempt, reassign.Attempts)
	}

	// Fourth assignment still happens.
	result, err := f.engine.ProcessQueue(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.Assigned)

	// Fourth trigger crosses the ceiling.
	reassign, err := f.escalator.Reassign(ctx, "chat_a", "operator idle")
	require.NoError(t, err)
	assert.Equal(t, ReassignResult{Escalated: true, Attempts: 3}, reassign)

	chat := f.chat(t, "chat_a")
	assert.Equal(t, model.StatusEscalated, chat.Status)
	assert.Empty(t, chat.OperatorID)

	// Never re-enqueued: the queue is empty and stats exclude the chat.
	assert.False(t, f.queue.Contains("chat_a"))
	assert.Zero(t, f.engine.QueueStats().Total)

	// Both operators end with their capacity released.
	assert.Zero(t, f.operator(t, "op_a").CurrentChats)
	assert.Zero(t, f.operator(t, "op_b").CurrentChats)

	// Escalation is persisted for admin review.
	open, err := f.st.ListOpenEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "chat_a", open[0].ChatID)
	assert.Equal(t, 3, open[0].Attempts)
	assert.Contains(t, open[0].Reason, "exceeded max reassignments")

	// Admins are notified with urgent priority.
	published := f.sink.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "chat_escalated", published[0].Type)
	assert.Equal(t, "urgent", published[0].Priority)
	assert.Equal(t, "chat_a", published[0].Metadata["chat_id"])
}

func TestReassign_EscalatedChatStaysOut(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedOperator(t, "op_a", func(op *model.Operator) { op.CurrentChats = 1 })
	f.seedChat(t, "chat_a", "usr_a", model.StatusActive, "op_a", 3)

	result, err := f.escalator.Reassign(context.Background(), "chat_a", "operator idle")
	require.NoError(t, err)
	assert.True(t, result.Escalated)

	// Further triggers see a terminal chat.
	_, err = f.escalator.Reassign(context.Background(), "chat_a", "operator idle")
	var notFound *fault.ChatNotFoundError
	require.ErrorAs(t, err, &notFound)

	// Queue processing never resurrects it.
	processed, err := f.engine.ProcessQueue(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, processed.Processed)
}

func TestResolveEscalation_ReturnsChatToQueue(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "usr_a", model.TierBasic, 0)
	f.seedOperator(t, "op_a", func(op *model.Operator) { op.CurrentChats = 1 })
	f.seedChat(t, "chat_a", "usr_a", model.StatusActive, "op_a", 3)

	ctx := context.Background()
	_, err := f.escalator.Reassign(ctx, "chat_a", "operator idle")
	require.NoError(t, err)

	open, err := f.st.ListOpenEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, f.escalator.ResolveEscalation(ctx, open[0].ID))

	// The chat re-enters assignment with a clean slate.
	chat := f.chat(t, "chat_a")
	assert.Equal(t, model.StatusQueued, chat.Status)
	assert.Zero(t, chat.AssignmentCount)
	assert.True(t, f.queue.Contains("chat_a"))

	stillOpen, err := f.st.ListOpenEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, stillOpen)

	// Resolving twice fails.
	require.Error(t, f.escalator.ResolveEscalation(ctx, open[0].ID))
}
