package foreign_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/crossarb/internal/pkg/arbitrator"
	"github.com/vreid/crossarb/internal/pkg/common"
	"github.com/vreid/crossarb/internal/pkg/foreign"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
	"github.com/vreid/crossarb/internal/pkg/relay"
)

var (
	homeProxy    = protocol.Endpoint{Chain: 100, Address: gethcommon.HexToAddress("0x1001")}
	foreignProxy = protocol.Endpoint{Chain: 1, Address: gethcommon.HexToAddress("0x2002")}
	homeCall     = relay.Call{Sender: homeProxy.Address, SourceChain: homeProxy.Chain}

	app       = gethcommon.HexToAddress("0xa99")
	governor  = gethcommon.HexToAddress("0x9000")
	plaintiff = gethcommon.HexToAddress("0xaaa1")
	dave      = gethcommon.HexToAddress("0xdddd")
	alice     = gethcommon.HexToAddress("0xa11ce")
	bob       = gethcommon.HexToAddress("0xb0b")
	carol     = gethcommon.HexToAddress("0xca401")
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *foreign.ForeignService
	court *arbitrator.Centralized
	queue *relay.Queue
	clock *clock
}

func newFixture(t *testing.T, linked bool) *fixture {
	t.Helper()

	db, err := common.OpenDatabase(t.TempDir(), "foreign", foreign.Buckets)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Shutdown()
	})

	signer, err := relay.NewSigner("bridge-secret")
	require.NoError(t, err)

	c := &clock{now: time.Unix(1_700_000_000, 0)}
	court := arbitrator.NewCentralized(arbitrator.Config{
		Address:      gethcommon.HexToAddress("0xa4b"),
		FeePerJuror:  big.NewInt(100),
		AppealFee:    big.NewInt(100),
		MaxJurors:    3,
		AppealPeriod: time.Hour,
	}, common.DiscardLogger())
	court.Now = c.Now

	queue := relay.NewQueue()

	svc, err := foreign.New(foreign.Config{
		Self:     foreignProxy,
		Governor: governor,
		Parameters: foreign.Parameters{
			FeeDepositTimeout: time.Hour,
			Multipliers: foreign.Multipliers{
				Shared: 10000,
				Winner: 5000,
				Loser:  20000,
			},
		},
	}, db.DB, court, queue, signer, common.DiscardLogger())
	require.NoError(t, err)

	svc.Now = c.Now
	court.Bind(svc)

	if linked {
		require.NoError(t, svc.SetCounterparty(homeProxy))
	}

	return &fixture{svc: svc, court: court, queue: queue, clock: c}
}

func (f *fixture) setup(t *testing.T, itemID uint64, extraData []byte) gethcommon.Hash {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, f.svc.ReceiveParams(ctx, homeCall, relay.ParamsRegistered{
		Application: app,
		Mode:        registry.ModeApplication,
		Params:      registry.Params{MetaEvidence: "ipfs/X", ExtraData: extraData},
	}))
	require.NoError(t, f.svc.ReceiveItemDisputable(ctx, homeCall, app, itemID, 1, f.clock.now.Add(24*time.Hour)))

	return protocol.ArbitrationID(app, itemID)
}

// ongoing brings item 1 to a created dispute: plaintiff and dave paid 100
// each.
func (f *fixture) ongoing(t *testing.T) gethcommon.Hash {
	t.Helper()

	ctx := context.Background()
	id := f.setup(t, 1, []byte{0x00})

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, f.svc.ReceiveDisputeAccepted(ctx, homeCall, app, 1))

	status, err := f.svc.FundDefendant(ctx, id, dave, big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, foreign.StatusOngoing, status)

	return id
}

func (f *fixture) lastKind(t *testing.T) relay.Kind {
	t.Helper()

	pending := f.queue.Pending()
	require.NotEmpty(t, pending)

	return pending[len(pending)-1].Kind
}

func balance(t *testing.T, svc *foreign.ForeignService, addr gethcommon.Address) string {
	t.Helper()

	amount, err := svc.Balance(addr)
	require.NoError(t, err)

	return amount.String()
}

func TestRelayNeedsCounterparty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.ErrorIs(t, err, protocol.ErrNotConfigured)

	err = f.svc.ReceiveItemDisputable(ctx, homeCall, app, 1, 1, f.clock.now.Add(time.Hour))
	require.ErrorIs(t, err, protocol.ErrNotConfigured)

	require.NoError(t, f.svc.SetCounterparty(homeProxy))
	require.ErrorIs(t, f.svc.SetCounterparty(homeProxy), protocol.ErrAlreadyConfigured)

	peer, err := f.svc.Counterparty()
	require.NoError(t, err)
	assert.Equal(t, homeProxy, peer)
}

func TestRelayAuthentication(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	forged := relay.Call{Sender: gethcommon.HexToAddress("0xbad"), SourceChain: homeProxy.Chain}
	err := f.svc.ReceiveItemDisputable(ctx, forged, app, 1, 1, f.clock.now.Add(time.Hour))
	require.ErrorIs(t, err, protocol.ErrUnauthorized)

	wrongChain := relay.Call{Sender: homeProxy.Address, SourceChain: 5}
	err = f.svc.ReceiveDisputeAccepted(ctx, wrongChain, app, 1)
	require.ErrorIs(t, err, protocol.ErrUnauthorized)
}

func TestRequestDispute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.ErrorIs(t, err, foreign.ErrNotDisputable)

	id := f.setup(t, 1, nil)

	cost, err := f.svc.ArbitrationCost(ctx, app, 1)
	require.NoError(t, err)
	assert.Equal(t, "100", cost.String())

	_, err = f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(99))
	require.ErrorIs(t, err, protocol.ErrInsufficientPayment)

	got, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(130))
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "30", balance(t, f.svc, plaintiff))

	_, err = f.svc.RequestDispute(ctx, app, 1, alice, big.NewInt(100))
	require.ErrorIs(t, err, foreign.ErrAlreadyRequested)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusRequested, arbitration.Status)
	assert.Equal(t, plaintiff, arbitration.Plaintiff)
	assert.Equal(t, "ipfs/X", arbitration.Params.MetaEvidence)
	require.Len(t, arbitration.Rounds, 1)
	assert.Equal(t, "100", arbitration.Rounds[0].Paid(protocol.Plaintiff).String())

	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, relay.KindDisputeRequest, f.lastKind(t))

	var payload relay.DisputeRequest
	require.NoError(t, f.queue.Pending()[0].Decode(&payload))
	assert.Equal(t, plaintiff, payload.Plaintiff)
	assert.Equal(t, homeProxy, f.queue.Pending()[0].Target)
}

func TestRejectionRefundsAndResets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, nil)

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)

	require.NoError(t, f.svc.ReceiveDisputeRejected(ctx, homeCall, app, 1, "deadline passed"))
	assert.Equal(t, "100", balance(t, f.svc, plaintiff))

	_, err = f.svc.Arbitration(id)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	require.ErrorIs(t, f.svc.ReceiveDisputeRejected(ctx, homeCall, app, 1, ""), protocol.ErrNotFound)

	_, found, err := f.svc.Disputable(app, 1)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.ErrorIs(t, err, foreign.ErrNotDisputable)

	// a repeated delivery of the consumed listing does not reopen the item
	require.NoError(t, f.svc.ReceiveItemDisputable(ctx, homeCall, app, 1, 1, f.clock.now.Add(time.Hour)))

	_, err = f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.ErrorIs(t, err, foreign.ErrNotDisputable)

	require.NoError(t, f.svc.ReceiveItemDisputable(ctx, homeCall, app, 1, 2, f.clock.now.Add(time.Hour)))

	_, err = f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)
}

func TestLateRejectionKeepsNewerListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, nil)

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)

	// home rejected, relisted and the new listing overtook the rejection
	relisted := f.clock.now.Add(48 * time.Hour)
	require.NoError(t, f.svc.ReceiveItemDisputable(ctx, homeCall, app, 1, 2, relisted))
	require.NoError(t, f.svc.ReceiveDisputeRejected(ctx, homeCall, app, 1, "item withdrawn"))

	deadline, found, err := f.svc.Disputable(app, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, relisted.Unix(), deadline.Unix())

	// an older listing arriving last is ignored
	require.NoError(t, f.svc.ReceiveItemDisputable(ctx, homeCall, app, 1, 1, f.clock.now.Add(time.Hour)))

	deadline, _, err = f.svc.Disputable(app, 1)
	require.NoError(t, err)
	assert.Equal(t, relisted.Unix(), deadline.Unix())

	got, err := f.svc.RequestDispute(ctx, app, 1, alice, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), arbitration.Cycle)
	assert.Equal(t, alice, arbitration.Plaintiff)
}

func TestRequestAfterListingDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	f.setup(t, 1, nil)
	f.setup(t, 2, nil)

	f.clock.advance(24 * time.Hour)

	_, err := f.svc.RequestDispute(ctx, app, 2, plaintiff, big.NewInt(100))
	require.NoError(t, err)

	f.clock.advance(time.Second)

	_, err = f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.ErrorIs(t, err, protocol.ErrDeadlinePassed)

	_, err = f.svc.Arbitration(protocol.ArbitrationID(app, 1))
	require.ErrorIs(t, err, protocol.ErrNotFound)
	assert.Equal(t, 1, f.queue.Len())
	assert.Equal(t, "0", balance(t, f.svc, plaintiff))
}

func TestDefendantCrowdfundingCreatesDispute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, nil)

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)

	_, err = f.svc.FundDefendant(ctx, id, bob, big.NewInt(60))
	require.ErrorIs(t, err, protocol.ErrWrongStatus)

	require.NoError(t, f.svc.ReceiveDisputeAccepted(ctx, homeCall, app, 1))
	require.ErrorIs(t, f.svc.ReceiveDisputeAccepted(ctx, homeCall, app, 1), protocol.ErrWrongStatus)

	_, err = f.svc.FundDefendant(ctx, id, bob, big.NewInt(0))
	require.ErrorIs(t, err, protocol.ErrInsufficientPayment)

	status, err := f.svc.FundDefendant(ctx, id, bob, big.NewInt(60))
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusDepositPending, status)

	status, err = f.svc.FundDefendant(ctx, id, carol, big.NewInt(70))
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusOngoing, status)
	assert.Equal(t, "30", balance(t, f.svc, carol))

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusOngoing, arbitration.Status)
	assert.Equal(t, carol, arbitration.Defendant)
	assert.Equal(t, f.court.Address(), arbitration.Arbitrator)
	require.Len(t, arbitration.Rounds, 2)
	assert.Equal(t, "100", arbitration.Rounds[0].FeeRewards.String())
	assert.Equal(t, "40", arbitration.Rounds[0].Contribution(carol, protocol.Defendant).String())

	byDispute, err := f.svc.ArbitrationIDByDispute(f.court.Address(), arbitration.ArbitratorDisputeID)
	require.NoError(t, err)
	assert.Equal(t, id, byDispute)

	dispute, err := f.court.Dispute(arbitration.ArbitratorDisputeID)
	require.NoError(t, err)
	assert.Equal(t, "100", dispute.Fees.String())

	assert.Equal(t, relay.KindDisputeCreated, f.lastKind(t))
}

func TestDepositDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, nil)

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, f.svc.ReceiveDisputeAccepted(ctx, homeCall, app, 1))

	f.clock.advance(time.Hour)

	_, err = f.svc.FundDefendant(ctx, id, bob, big.NewInt(30))
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.ClaimPlaintiffWin(ctx, id), protocol.ErrDeadlineNotPassed)

	f.clock.advance(time.Second)

	_, err = f.svc.FundDefendant(ctx, id, bob, big.NewInt(70))
	require.ErrorIs(t, err, protocol.ErrDeadlinePassed)

	total, err := f.svc.TotalWithdrawable(id, plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "0", total.String())

	require.NoError(t, f.svc.ClaimPlaintiffWin(ctx, id))

	_, err = f.svc.FundDefendant(ctx, id, bob, big.NewInt(70))
	require.ErrorIs(t, err, protocol.ErrWrongStatus)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusRuled, arbitration.Status)
	assert.Equal(t, protocol.Plaintiff, arbitration.Ruling)
	assert.Equal(t, relay.KindRuling, f.lastKind(t))

	total, err = f.svc.TotalWithdrawable(id, plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "100", total.String())

	amount, err := f.svc.Withdraw(ctx, id, plaintiff, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())

	amount, err = f.svc.Withdraw(ctx, id, plaintiff, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", amount.String())

	amount, err = f.svc.Withdraw(ctx, id, bob, 0)
	require.NoError(t, err)
	assert.Equal(t, "30", amount.String())

	_, err = f.svc.Withdraw(ctx, id, bob, 1)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	assert.Equal(t, "100", balance(t, f.svc, plaintiff))
	assert.Equal(t, "30", balance(t, f.svc, bob))
}

func TestCreationFailureRefundsBoth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, arbitrator.ExtraData(5))

	_, err := f.svc.RequestDispute(ctx, app, 1, plaintiff, big.NewInt(500))
	require.NoError(t, err)
	require.NoError(t, f.svc.ReceiveDisputeAccepted(ctx, homeCall, app, 1))

	status, err := f.svc.FundDefendant(ctx, id, bob, big.NewInt(600))
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusFailed, status)

	assert.Equal(t, "500", balance(t, f.svc, plaintiff))
	assert.Equal(t, "600", balance(t, f.svc, bob))

	_, err = f.svc.Arbitration(id)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	_, found, err := f.svc.Disputable(app, 1)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, relay.KindDisputeFailed, f.lastKind(t))
}

func TestAppealOverrideWhenOneSideFunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.ongoing(t)

	_, err := f.svc.FundAppeal(ctx, id, protocol.Plaintiff, alice, big.NewInt(10))
	require.ErrorIs(t, err, foreign.ErrAppealPeriodClosed)

	require.NoError(t, f.court.GiveRuling(ctx, 0, protocol.Defendant))

	fee, err := f.svc.AppealFee(ctx, id, protocol.Defendant)
	require.NoError(t, err)
	assert.Equal(t, "150", fee.Required.String())
	assert.Equal(t, uint64(5000), fee.Multiplier)
	assert.Equal(t, f.clock.now.Add(time.Hour), fee.Deadline)

	fee, err = f.svc.AppealFee(ctx, id, protocol.Plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "300", fee.Required.String())
	assert.Equal(t, f.clock.now.Add(30*time.Minute), fee.Deadline)

	f.clock.advance(10 * time.Minute)

	receipt, err := f.svc.FundAppeal(ctx, id, protocol.Plaintiff, alice, big.NewInt(150))
	require.NoError(t, err)
	assert.False(t, receipt.Completed)

	receipt, err = f.svc.FundAppeal(ctx, id, protocol.Defendant, bob, big.NewInt(200))
	require.NoError(t, err)
	assert.True(t, receipt.Completed)
	assert.Equal(t, "50", receipt.Remainder.String())

	_, err = f.svc.FundAppeal(ctx, id, protocol.Defendant, carol, big.NewInt(10))
	require.ErrorIs(t, err, foreign.ErrAlreadyFunded)

	f.clock.advance(30 * time.Minute)

	_, err = f.svc.FundAppeal(ctx, id, protocol.Plaintiff, alice, big.NewInt(150))
	require.ErrorIs(t, err, foreign.ErrLoserWindowClosed)

	f.clock.advance(20 * time.Minute)

	require.ErrorIs(t, f.svc.Rule(ctx, gethcommon.HexToAddress("0xbad"), 0, protocol.Plaintiff), protocol.ErrUnauthorized)
	require.ErrorIs(t, f.svc.Rule(ctx, f.court.Address(), 0, protocol.Party(3)), protocol.ErrInvalidRuling)
	require.NoError(t, f.svc.Rule(ctx, f.court.Address(), 0, protocol.Plaintiff))
	require.ErrorIs(t, f.svc.Rule(ctx, f.court.Address(), 0, protocol.Plaintiff), protocol.ErrWrongStatus)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, protocol.Defendant, arbitration.Ruling)
	require.Len(t, arbitration.Rounds, 2)

	var ruling relay.Ruling
	pending := f.queue.Pending()
	require.NoError(t, pending[len(pending)-1].Decode(&ruling))
	assert.Equal(t, protocol.Defendant, ruling.Ruling)

	amount, err := f.svc.BatchWithdraw(ctx, id, bob, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "150", amount.String())
	assert.Equal(t, "200", balance(t, f.svc, bob))

	amount, err = f.svc.BatchWithdraw(ctx, id, alice, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "150", amount.String())

	amount, err = f.svc.Withdraw(ctx, id, dave, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())

	amount, err = f.svc.Withdraw(ctx, id, plaintiff, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", amount.String())
}

func TestFullyFundedAppealOpensNextRound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.ongoing(t)

	require.NoError(t, f.court.GiveRuling(ctx, 0, protocol.Defendant))
	f.clock.advance(10 * time.Minute)

	_, err := f.svc.FundAppeal(ctx, id, protocol.PartyNone, alice, big.NewInt(300))
	require.ErrorIs(t, err, protocol.ErrUnknownParty)

	_, err = f.svc.FundAppeal(ctx, id, protocol.Plaintiff, alice, big.NewInt(300))
	require.NoError(t, err)

	_, err = f.svc.FundAppeal(ctx, id, protocol.Defendant, bob, big.NewInt(150))
	require.NoError(t, err)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	require.Len(t, arbitration.Rounds, 3)
	assert.Equal(t, "350", arbitration.Rounds[1].FeeRewards.String())

	dispute, err := f.court.Dispute(0)
	require.NoError(t, err)
	assert.Equal(t, arbitrator.StatusWaiting, dispute.Status)
	assert.Equal(t, 1, dispute.Appeals)
	assert.Equal(t, "200", dispute.Fees.String())

	require.NoError(t, f.court.GiveRuling(ctx, 0, protocol.Plaintiff))

	fee, err := f.svc.AppealFee(ctx, id, protocol.Plaintiff)
	require.NoError(t, err)
	assert.Equal(t, "150", fee.Required.String())
	assert.Equal(t, "0", fee.Paid.String())

	f.clock.advance(time.Hour)
	require.NoError(t, f.court.ExecuteRuling(ctx, 0))

	arbitration, err = f.svc.Arbitration(id)
	require.NoError(t, err)
	assert.Equal(t, foreign.StatusRuled, arbitration.Status)
	assert.Equal(t, protocol.Plaintiff, arbitration.Ruling)

	_, err = f.svc.AppealFee(ctx, id, protocol.Plaintiff)
	require.ErrorIs(t, err, protocol.ErrWrongStatus)

	total, err := f.svc.TotalWithdrawable(id, alice)
	require.NoError(t, err)
	assert.Equal(t, "350", total.String())

	total, err = f.svc.TotalWithdrawable(id, bob)
	require.NoError(t, err)
	assert.Equal(t, "0", total.String())

	amount, err := f.svc.Withdraw(ctx, id, plaintiff, 0)
	require.NoError(t, err)
	assert.Equal(t, "100", amount.String())

	amount, err = f.svc.Withdraw(ctx, id, dave, 0)
	require.NoError(t, err)
	assert.Equal(t, "0", amount.String())
}

func TestAppealWithoutCurrentRuling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.ongoing(t)

	require.NoError(t, f.court.GiveRuling(ctx, 0, protocol.PartyNone))

	for _, party := range []protocol.Party{protocol.Plaintiff, protocol.Defendant} {
		fee, err := f.svc.AppealFee(ctx, id, party)
		require.NoError(t, err)
		assert.Equal(t, uint64(10000), fee.Multiplier)
		assert.Equal(t, "200", fee.Required.String())
		assert.Equal(t, f.clock.now.Add(time.Hour), fee.Deadline)
	}

	// no loser window: both sides may fund in the second half
	f.clock.advance(40 * time.Minute)

	receipt, err := f.svc.FundAppeal(ctx, id, protocol.Plaintiff, alice, big.NewInt(200))
	require.NoError(t, err)
	assert.True(t, receipt.Completed)

	receipt, err = f.svc.FundAppeal(ctx, id, protocol.Defendant, bob, big.NewInt(200))
	require.NoError(t, err)
	assert.True(t, receipt.Completed)

	arbitration, err := f.svc.Arbitration(id)
	require.NoError(t, err)
	require.Len(t, arbitration.Rounds, 3)
	assert.Equal(t, "300", arbitration.Rounds[1].FeeRewards.String())

	dispute, err := f.court.Dispute(0)
	require.NoError(t, err)
	assert.Equal(t, 1, dispute.Appeals)
}

func TestWithdrawBeforeRuling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	id := f.ongoing(t)

	_, err := f.svc.Withdraw(context.Background(), id, dave, 0)
	require.ErrorIs(t, err, protocol.ErrWrongStatus)

	_, err = f.svc.BatchWithdraw(context.Background(), id, dave, 0, 0)
	require.ErrorIs(t, err, protocol.ErrWrongStatus)
}

func TestEvidence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	id := f.setup(t, 1, nil)

	require.ErrorIs(t, f.svc.SubmitEvidence(ctx, id, alice, "ipfs/E0"), protocol.ErrNotFound)

	id = f.ongoing(t)

	require.NoError(t, f.svc.SubmitEvidence(ctx, id, alice, "ipfs/E1"))
	require.NoError(t, f.svc.SubmitEvidence(ctx, id, bob, "ipfs/E2"))

	evidence, err := f.svc.Evidence(id)
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, "ipfs/E1", evidence[0].URI)
	assert.Equal(t, bob, evidence[1].Submitter)

	other, err := f.svc.Evidence(protocol.ArbitrationID(app, 2))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGovernance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)

	multipliers := foreign.Multipliers{Shared: 1, Winner: 2, Loser: 3}

	require.ErrorIs(t, f.svc.ChangeMultipliers(alice, multipliers), protocol.ErrUnauthorized)
	require.NoError(t, f.svc.ChangeMultipliers(governor, multipliers))
	require.NoError(t, f.svc.ChangeFeeDepositTimeout(governor, 2*time.Hour))

	parameters, err := f.svc.Parameters()
	require.NoError(t, err)
	assert.Equal(t, multipliers, parameters.Multipliers)
	assert.Equal(t, 2*time.Hour, parameters.FeeDepositTimeout)
}

func TestItemLevelParamsInAnyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	for _, reg := range []struct {
		item  uint64
		extra []byte
	}{
		{item: 20, extra: arbitrator.ExtraData(3)},
		{item: 10, extra: arbitrator.ExtraData(2)},
	} {
		require.NoError(t, f.svc.ReceiveParams(ctx, homeCall, relay.ParamsRegistered{
			Application: app,
			Mode:        registry.ModeItem,
			ItemID:      reg.item,
			Params:      registry.Params{MetaEvidence: "ipfs/I", ExtraData: reg.extra},
		}))
	}

	cost, err := f.svc.ArbitrationCost(ctx, app, 15)
	require.NoError(t, err)
	assert.Equal(t, "200", cost.String())

	cost, err = f.svc.ArbitrationCost(ctx, app, 25)
	require.NoError(t, err)
	assert.Equal(t, "300", cost.String())

	_, err = f.svc.ArbitrationCost(ctx, app, 5)
	require.ErrorIs(t, err, protocol.ErrNotFound)

	err = f.svc.ReceiveParams(ctx, homeCall, relay.ParamsRegistered{
		Application: app,
		Mode:        registry.ModeApplication,
		Params:      registry.Params{MetaEvidence: "ipfs/X"},
	})
	require.ErrorIs(t, err, protocol.ErrWrongStatus)
}
