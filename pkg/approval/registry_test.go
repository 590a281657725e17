package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/pkg/approval"
	"github.com/oncallops/incident-core/pkg/types"
)

func samplePlan() []types.ResolutionAction {
	return []types.ResolutionAction{{Kind: "restart_pod", Confidence: 0.8, Risk: types.RiskMedium}}
}

func TestRegistry_ApproveWakesWaiter(t *testing.T) {
	reg := approval.New(approval.NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	req, err := reg.Request(ctx, "inc-1", samplePlan(), 5*time.Second)
	require.NoError(t, err)

	result := make(chan types.ApprovalStatus, 1)
	go func() {
		status, err := reg.Wait(ctx, req.ID, 5*time.Second)
		require.NoError(t, err)
		result <- status
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Approve(ctx, req.ID, "looks fine"))

	select {
	case status := <-result:
		assert.Equal(t, types.ApprovalApproved, status)
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake on Approve")
	}
}

func TestRegistry_RejectWakesWaiter(t *testing.T) {
	reg := approval.New(approval.NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	req, err := reg.Request(ctx, "inc-1", samplePlan(), 5*time.Second)
	require.NoError(t, err)

	go func() { _ = reg.Reject(ctx, req.ID, "no") }()

	status, err := reg.Wait(ctx, req.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalRejected, status)
}

func TestRegistry_WaitExpiresOnTimeout(t *testing.T) {
	reg := approval.New(approval.NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	req, err := reg.Request(ctx, "inc-1", samplePlan(), 20*time.Millisecond)
	require.NoError(t, err)

	status, err := reg.Wait(ctx, req.ID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalExpired, status)
}

// TestRegistry_DecisionIsOneShot covers the one-shot, monotonic invariant:
// once a request leaves pending, a second decision is rejected rather than
// silently overwriting the first.
func TestRegistry_DecisionIsOneShot(t *testing.T) {
	reg := approval.New(approval.NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	req, err := reg.Request(ctx, "inc-1", samplePlan(), 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, reg.Approve(ctx, req.ID, "first"))
	err = reg.Reject(ctx, req.ID, "second")
	assert.Error(t, err)

	got, ok, err := reg.Get(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.ApprovalApproved, got.Status)
}

func TestRegistry_ListOnlyReturnsPending(t *testing.T) {
	reg := approval.New(approval.NewMemoryStore(), nil, time.Hour)
	ctx := context.Background()

	pending, err := reg.Request(ctx, "inc-1", samplePlan(), 5*time.Second)
	require.NoError(t, err)
	decided, err := reg.Request(ctx, "inc-2", samplePlan(), 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, reg.Approve(ctx, decided.ID, ""))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)
}

func TestRedisStore_RoundTripsThroughMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := approval.NewRedisStore(client, "test")
	reg := approval.New(store, nil, time.Hour)
	ctx := context.Background()

	req, err := reg.Request(ctx, "inc-1", samplePlan(), 5*time.Second)
	require.NoError(t, err)

	pending, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, reg.Approve(ctx, req.ID, "ok"))

	got, ok, err := reg.Get(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.ApprovalApproved, got.Status)

	pending, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
