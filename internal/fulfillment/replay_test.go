package fulfillment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/commerce-ledger/internal/domain"
)

func completedThroughLog(t *testing.T) *harness {
	t.Helper()
	o := newOrder(1, domain.OrderStatusProcessing)
	h := newHarness(okProvisioner(), o)
	ctx := context.Background()

	require.NoError(t, h.machine.Created(ctx, nil, &o, ActorCheckout))
	_, err := h.machine.Attempt(ctx, 1)
	require.NoError(t, err)
	return h
}

func TestReplay_IsNoOpForConsistentOrder(t *testing.T) {
	h := completedThroughLog(t)
	liveRuns := len(h.exec.kinds())
	r := NewReplayer(fakeTx{}, h.orders, h.events, h.exec)

	res, err := r.Replay(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, domain.OrderStatusCompleted, res.Order.Status)
	assert.Equal(t, []Effect{{Kind: EffectIssueInvoice}, {Kind: EffectNotify, Template: domain.TemplateOrderCompleted}}, res.Suppressed)
	assert.Len(t, h.exec.kinds(), liveRuns, "replay must not run effects")
	assert.Len(t, h.events.events, 2, "replay must not append events")
}

func TestReplay_RepairsDriftedStatus(t *testing.T) {
	h := completedThroughLog(t)
	drifted := h.orders.get(1)
	drifted.Status = domain.OrderStatusProcessing
	drifted.ProviderReference = nil
	h.orders.orders[1] = drifted
	r := NewReplayer(fakeTx{}, h.orders, h.events, h.exec)

	res, err := r.Replay(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	stored := h.orders.get(1)
	assert.Equal(t, domain.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.ProviderReference)
	assert.Equal(t, "prv_1", *stored.ProviderReference)

	again, err := r.Replay(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, again.Changed)
}

func TestReplay_RejectsIllegalLog(t *testing.T) {
	h := completedThroughLog(t)
	h.events.events[1].ToStatus = domain.OrderStatusAwaitingPayment
	r := NewReplayer(fakeTx{}, h.orders, h.events, h.exec)

	_, err := r.Replay(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestReplay_UnknownOrder(t *testing.T) {
	h := newHarness(okProvisioner())
	r := NewReplayer(fakeTx{}, h.orders, h.events, h.exec)

	_, err := r.Replay(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
