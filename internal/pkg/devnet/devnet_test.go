package devnet_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/crossarb/internal/pkg/application"
	"github.com/vreid/crossarb/internal/pkg/arbitrator"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/devnet"
	"github.com/vreid/crossarb/internal/pkg/foreign"
	"github.com/vreid/crossarb/internal/pkg/home"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

var (
	app       = gethcommon.HexToAddress("0xa99")
	plaintiff = gethcommon.HexToAddress("0xaaa1")
	dave      = gethcommon.HexToAddress("0xdddd")
)

type harness struct {
	*devnet.Network

	toHome    *relay.Queue
	toForeign *relay.Queue
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		toHome:    relay.NewQueue(),
		toForeign: relay.NewQueue(),
		now:       time.Unix(1_700_000_000, 0),
	}

	network, err := devnet.Open(devnet.Config{
		Foreign:     protocol.Endpoint{Chain: 1, Address: gethcommon.HexToAddress("0x2002")},
		Home:        protocol.Endpoint{Chain: 100, Address: gethcommon.HexToAddress("0x1001")},
		Application: app,
		Governor:    gethcommon.HexToAddress("0x9000"),
		Secret:      "devnet-secret",
		Parameters: foreign.Parameters{
			FeeDepositTimeout: time.Hour,
			Multipliers: foreign.Multipliers{
				Shared: 10000,
				Winner: 5000,
				Loser:  20000,
			},
		},
		Arbitrator: arbitrator.Config{
			Address:      gethcommon.HexToAddress("0xa4b"),
			FeePerJuror:  big.NewInt(100),
			AppealFee:    big.NewInt(100),
			MaxJurors:    3,
			AppealPeriod: time.Hour,
		},
	}, t.TempDir(), h.toHome, h.toForeign, common.DiscardLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = network.Shutdown()
	})

	h.Network = network
	h.SetClock(func() time.Time {
		return h.now
	})

	h.toHome.Connect(network.Home.Inbox())
	h.toForeign.Connect(network.Foreign.Inbox())

	return h
}

// settle delivers messages both ways until the bridge is quiet.
func (h *harness) settle(t *testing.T) {
	t.Helper()

	ctx := context.Background()

	for h.toHome.Len()+h.toForeign.Len() > 0 {
		require.NoError(t, h.toHome.DeliverAll(ctx))
		require.NoError(t, h.toForeign.DeliverAll(ctx))
	}
}

// listed registers application params and lists item 1 for a day.
func (h *harness) listed(t *testing.T, extraData []byte) gethcommon.Hash {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, h.Application.RegisterDisputeParams(ctx, registry.Params{MetaEvidence: "ipfs/X", ExtraData: extraData}))
	require.NoError(t, h.Application.List(ctx, 1, h.now.Add(24*time.Hour)))
	h.settle(t)

	return protocol.ArbitrationID(app, 1)
}

// requested files a dispute request and relays the home decision back.
func (h *harness) requested(t *testing.T, payment int64) {
	t.Helper()

	ctx := context.Background()

	_, err := h.Foreign.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(payment))
	require.NoError(t, err)
	h.settle(t)

	_, err = h.Home.RelayPending(ctx)
	require.NoError(t, err)
	h.settle(t)
}

func (h *harness) homeStatus(t *testing.T) home.ItemStatus {
	t.Helper()

	item, err := h.Home.Item(app, 1)
	require.NoError(t, err)

	return item.Status
}

func (h *harness) foreignStatus(t *testing.T, id gethcommon.Hash) foreign.Status {
	t.Helper()

	arbitration, err := h.Foreign.Arbitration(id)
	require.NoError(t, err)

	return arbitration.Status
}

func (h *harness) appItem(t *testing.T) application.Item {
	t.Helper()

	item, err := h.Application.Item(1)
	require.NoError(t, err)

	return item
}

func TestDisputeRuledByArbitrator(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.listed(t, nil)

	deadline, found, err := h.Foreign.Disputable(app, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, h.now.Add(24*time.Hour).Unix(), deadline.Unix())

	h.requested(t, 100)
	assert.Equal(t, home.StatusAccepted, h.homeStatus(t))
	assert.Equal(t, foreign.StatusDepositPending, h.foreignStatus(t, id))
	assert.Equal(t, application.ItemDisputed, h.appItem(t).Status)

	status, err := h.Foreign.FundDefendant(ctx, id, dave, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusOngoing, status)
	h.settle(t)
	assert.Equal(t, home.StatusOngoing, h.homeStatus(t))

	require.NoError(t, h.Arbitrator.GiveRuling(ctx, 0, protocol.Plaintiff))
	h.now = h.now.Add(time.Hour)
	require.NoError(t, h.Arbitrator.ExecuteRuling(ctx, 0))
	h.settle(t)

	assert.Equal(t, foreign.StatusRuled, h.foreignStatus(t, id))
	assert.Equal(t, home.StatusRuled, h.homeStatus(t))

	item := h.appItem(t)
	assert.Equal(t, application.ItemResolved, item.Status)
	assert.Equal(t, protocol.Plaintiff, item.Ruling)

	amount, err := h.Foreign.BatchWithdraw(ctx, id, plaintiff, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())
}

func TestVetoRefundsPlaintiff(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.listed(t, nil)

	require.NoError(t, h.Application.Close(1))

	h.requested(t, 120)

	assert.Equal(t, home.StatusRegistered, h.homeStatus(t))

	_, err := h.Foreign.Arbitration(id)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	balance, err := h.Foreign.Balance(plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "120", balance.String())
	assert.Equal(t, application.ItemClosed, h.appItem(t).Status)
}

func TestDefendantDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.listed(t, nil)

	h.requested(t, 100)

	h.now = h.now.Add(time.Hour + time.Second)
	require.NoError(t, h.Foreign.ClaimPlaintiffWin(ctx, id))
	h.settle(t)

	assert.Equal(t, home.StatusRuled, h.homeStatus(t))

	item := h.appItem(t)
	assert.Equal(t, application.ItemResolved, item.Status)
	assert.Equal(t, protocol.Plaintiff, item.Ruling)
}

func TestCreationFailureReopensItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.listed(t, arbitrator.ExtraData(5))

	h.requested(t, 500)

	status, err := h.Foreign.FundDefendant(ctx, id, dave, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusFailed, status)
	h.settle(t)

	assert.Equal(t, home.StatusRegistered, h.homeStatus(t))
	assert.Equal(t, application.ItemOpen, h.appItem(t).Status)

	for _, addr := range []gethcommon.Address{plaintiff, dave} {
		balance, err := h.Foreign.Balance(addr)
		require.NoError(t, err)
		assert.Equal(t, "500", balance.String())
	}

	require.NoError(t, h.Application.List(ctx, 1, h.now.Add(time.Hour)))
	h.settle(t)
	assert.Equal(t, home.StatusPossible, h.homeStatus(t))

	_, found, err := h.Foreign.Disputable(app, 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSingleActiveArbitration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.listed(t, nil)

	h.requested(t, 100)

	_, err := h.Foreign.RequestDispute(ctx, app, 1, dave, big.NewInt(100))
	require.ErrorIs(t, err, foreign.ErrAlreadyRequested)
}

func TestDuplicateAndReorderedMessages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.listed(t, nil)

	h.requested(t, 100)

	_, err := h.Foreign.FundDefendant(ctx, id, dave, big.NewInt(100))
	require.NoError(t, err)

	require.NoError(t, h.Arbitrator.GiveRuling(ctx, 0, protocol.Defendant))
	h.now = h.now.Add(time.Hour)
	require.NoError(t, h.Arbitrator.ExecuteRuling(ctx, 0))

	// dispute_created and ruling are both in flight; deliver them backwards
	// and twice over.
	pending := h.toHome.Drop()
	require.Len(t, pending, 2)

	inbox := h.Home.Inbox()

	require.NoError(t, inbox.Deliver(ctx, pending[1]))
	require.NoError(t, inbox.Deliver(ctx, pending[1]))
	require.ErrorIs(t, inbox.Deliver(ctx, pending[0]), protocol.ErrWrongStatus)

	item, err := h.Home.Item(app, 1)
	require.NoError(t, err)
	assert.Equal(t, home.StatusRuled, item.Status)
	assert.Equal(t, protocol.Defendant, item.Ruling)
	assert.Equal(t, 1, h.appItem(t).Disputes)
}

func TestRelayedParamsArriveOutOfOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.Application.RegisterItemDisputeParams(ctx, 1, registry.Params{MetaEvidence: "ipfs/A"}))
	require.NoError(t, h.Application.RegisterItemDisputeParams(ctx, 10, registry.Params{MetaEvidence: "ipfs/B", ExtraData: arbitrator.ExtraData(2)}))

	pending := h.toForeign.Drop()
	require.Len(t, pending, 2)

	inbox := h.Foreign.Inbox()
	require.NoError(t, inbox.Deliver(ctx, pending[1]))
	require.NoError(t, inbox.Deliver(ctx, pending[0]))

	cost, err := h.Foreign.ArbitrationCost(ctx, app, 5)
	require.NoError(t, err)
	assert.Equal(t, "100", cost.String())

	cost, err = h.Foreign.ArbitrationCost(ctx, app, 12)
	require.NoError(t, err)
	assert.Equal(t, "200", cost.String())
}

func TestRelistingOvertakesRejection(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id := h.listed(t, nil)

	require.NoError(t, h.Application.Close(1))

	_, err := h.Foreign.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(120))
	require.NoError(t, err)
	h.settle(t)
	assert.Equal(t, home.StatusRejected, h.homeStatus(t))

	_, err = h.Home.RelayPending(ctx)
	require.NoError(t, err)

	relisted := h.now.Add(48 * time.Hour)
	require.NoError(t, h.Application.List(ctx, 1, relisted))
	assert.Equal(t, home.StatusPossible, h.homeStatus(t))

	// the new listing reaches the foreign proxy before the rejection
	pending := h.toForeign.Drop()
	require.Len(t, pending, 2)
	require.Equal(t, relay.KindDisputeRejected, pending[0].Kind)

	inbox := h.Foreign.Inbox()
	require.NoError(t, inbox.Deliver(ctx, pending[1]))
	require.NoError(t, inbox.Deliver(ctx, pending[0]))

	balance, err := h.Foreign.Balance(plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "120", balance.String())

	deadline, found, err := h.Foreign.Disputable(app, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, relisted.Unix(), deadline.Unix())

	h.requested(t, 100)

	assert.Equal(t, home.StatusAccepted, h.homeStatus(t))
	assert.Equal(t, foreign.StatusDepositPending, h.foreignStatus(t, id))
	assert.Equal(t, application.ItemDisputed, h.appItem(t).Status)
}
