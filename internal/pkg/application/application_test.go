package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/crossarb/internal/pkg/application"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

var (
	self      = gethcommon.HexToAddress("0xa99")
	plaintiff = gethcommon.HexToAddress("0xaaa1")
	errDown   = errors.New("proxy unavailable")
)

type proxy struct {
	fail       error
	params     []registry.Params
	items      []uint64
	disputable map[uint64]time.Time
}

func (p *proxy) RegisterDisputeParams(_ context.Context, caller gethcommon.Address, params registry.Params) error {
	if caller != self {
		return protocol.ErrUnauthorized
	}

	p.params = append(p.params, params)

	return nil
}

func (p *proxy) RegisterItemDisputeParams(_ context.Context, _ gethcommon.Address, itemID uint64, params registry.Params) error {
	p.items = append(p.items, itemID)
	p.params = append(p.params, params)

	return nil
}

func (p *proxy) SetDisputable(_ context.Context, _ gethcommon.Address, itemID uint64, deadline time.Time) error {
	if p.fail != nil {
		return p.fail
	}

	if p.disputable == nil {
		p.disputable = map[uint64]time.Time{}
	}

	p.disputable[itemID] = deadline

	return nil
}

func newApplication(t *testing.T) (*application.Application, *proxy, *time.Time) {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	p := &proxy{}

	a := application.New(self, p, common.DiscardLogger())
	a.Now = func() time.Time {
		return now
	}

	return a, p, &now
}

func TestRegistrationsGoThroughProxy(t *testing.T) {
	t.Parallel()

	a, p, _ := newApplication(t)
	ctx := context.Background()

	require.NoError(t, a.RegisterDisputeParams(ctx, registry.Params{MetaEvidence: "ipfs/X"}))
	require.NoError(t, a.RegisterItemDisputeParams(ctx, 4, registry.Params{MetaEvidence: "ipfs/Y"}))

	assert.Equal(t, self, a.Address())
	assert.Len(t, p.params, 2)
	assert.Equal(t, []uint64{4}, p.items)
}

func TestListAndDispute(t *testing.T) {
	t.Parallel()

	a, p, now := newApplication(t)
	ctx := context.Background()
	deadline := now.Add(time.Hour)

	require.NoError(t, a.List(ctx, 1, deadline))
	assert.Equal(t, deadline, p.disputable[1])

	require.NoError(t, a.NotifyDisputeRequest(ctx, 1, plaintiff))
	require.ErrorIs(t, a.NotifyDisputeRequest(ctx, 1, plaintiff), application.ErrNotDisputable)
	require.ErrorIs(t, a.List(ctx, 1, deadline), application.ErrItemExists)

	item, err := a.Item(1)
	require.NoError(t, err)
	assert.Equal(t, application.ItemDisputed, item.Status)
	assert.Equal(t, plaintiff, item.Plaintiff)
	assert.Equal(t, 1, item.Disputes)

	require.NoError(t, a.Rule(ctx, 1, protocol.Defendant))
	require.ErrorIs(t, a.Rule(ctx, 1, protocol.Plaintiff), application.ErrNotDisputed)

	item, err = a.Item(1)
	require.NoError(t, err)
	assert.Equal(t, application.ItemResolved, item.Status)
	assert.Equal(t, protocol.Defendant, item.Ruling)
}

func TestCancelReopensItem(t *testing.T) {
	t.Parallel()

	a, _, now := newApplication(t)
	ctx := context.Background()

	require.NoError(t, a.List(ctx, 1, now.Add(time.Hour)))
	require.ErrorIs(t, a.CancelDispute(ctx, 1), application.ErrNotDisputed)
	require.NoError(t, a.NotifyDisputeRequest(ctx, 1, plaintiff))
	require.NoError(t, a.CancelDispute(ctx, 1))

	item, err := a.Item(1)
	require.NoError(t, err)
	assert.Equal(t, application.ItemOpen, item.Status)
	assert.Equal(t, gethcommon.Address{}, item.Plaintiff)

	require.NoError(t, a.NotifyDisputeRequest(ctx, 1, plaintiff))

	item, err = a.Item(1)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Disputes)
}

func TestVetoes(t *testing.T) {
	t.Parallel()

	a, _, now := newApplication(t)
	ctx := context.Background()

	require.ErrorIs(t, a.NotifyDisputeRequest(ctx, 9, plaintiff), application.ErrUnknownItem)

	require.NoError(t, a.List(ctx, 1, now.Add(time.Hour)))
	require.NoError(t, a.List(ctx, 2, now.Add(time.Hour)))
	require.NoError(t, a.Close(2))
	require.ErrorIs(t, a.Close(2), protocol.ErrWrongStatus)
	require.ErrorIs(t, a.NotifyDisputeRequest(ctx, 2, plaintiff), application.ErrNotDisputable)

	*now = now.Add(time.Hour + time.Second)
	require.ErrorIs(t, a.NotifyDisputeRequest(ctx, 1, plaintiff), application.ErrNotDisputable)
}

func TestListRollsBackWhenProxyFails(t *testing.T) {
	t.Parallel()

	a, p, now := newApplication(t)
	ctx := context.Background()

	p.fail = errDown
	require.ErrorIs(t, a.List(ctx, 1, now.Add(time.Hour)), errDown)

	_, err := a.Item(1)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	p.fail = nil
	require.NoError(t, a.List(ctx, 1, now.Add(time.Hour)))
	require.NoError(t, a.Close(1))

	p.fail = errDown
	require.ErrorIs(t, a.List(ctx, 1, now.Add(2*time.Hour)), errDown)

	item, err := a.Item(1)
	require.NoError(t, err)
	assert.Equal(t, application.ItemClosed, item.Status)
	assert.Equal(t, now.Add(time.Hour), item.Deadline)
}
