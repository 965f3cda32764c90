package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
)

func TestSubscriptionTransitions(t *testing.T) {
	repl, store, _ := newTestRig(t)
	ctx := context.Background()
	store.putFollower(&domain.CopyFollower{
		ID: 10, MasterAccountID: 1, FollowerAccountID: 2,
		Status: domain.SubscriptionActive,
	})

	// Resuming an active subscription is a wrong-state transition.
	err := repl.ResumeSubscription(ctx, 10)
	assert.ErrorIs(t, err, ports.ErrSubscriptionInactive)

	require.NoError(t, repl.PauseSubscription(ctx, 10))
	sub, err := store.FindFollowerByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPaused, sub.Status)

	// A paused subscription cannot be paused again.
	err = repl.PauseSubscription(ctx, 10)
	assert.ErrorIs(t, err, ports.ErrSubscriptionInactive)

	require.NoError(t, repl.ResumeSubscription(ctx, 10))
	sub, err = store.FindFollowerByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)

	require.NoError(t, repl.StopSubscription(ctx, 10))
	sub, err = store.FindFollowerByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStopped, sub.Status)

	// STOPPED is terminal: stop is idempotent, pause and resume are refused.
	require.NoError(t, repl.StopSubscription(ctx, 10))
	assert.ErrorIs(t, repl.PauseSubscription(ctx, 10), ports.ErrSubscriptionInactive)
	assert.ErrorIs(t, repl.ResumeSubscription(ctx, 10), ports.ErrSubscriptionInactive)

	err = repl.PauseSubscription(ctx, 999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestPausedSubscriptionNotReplicated(t *testing.T) {
	repl, store, _ := newTestRig(t)
	ctx := context.Background()
	masterTrade := seedMasterAndFollowers(t, store)

	require.NoError(t, repl.PauseSubscription(ctx, 11))

	results := repl.ReplicateOpen(ctx, masterTrade)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].FollowerAccountID)
	assert.Equal(t, ResultOpened, results[0].Status)

	open, err := store.FindOpenByAccount(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, open)
}
