package foreign

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vreid/crossarb/internal/pkg/ledger"
	"github.com/vreid/crossarb/internal/pkg/protocol"
	"github.com/vreid/crossarb/internal/pkg/registry"
)

var (
	ErrAlreadyRequested   = fmt.Errorf("%w: foreign: arbitration already requested", protocol.ErrWrongStatus)
	ErrNotDisputable      = fmt.Errorf("%w: foreign: item not marked disputable", protocol.ErrWrongStatus)
	ErrAlreadyFunded      = fmt.Errorf("%w: foreign: side already fully funded this round", protocol.ErrWrongStatus)
	ErrAppealPeriodClosed = fmt.Errorf("%w: foreign: appeal period not open", protocol.ErrDeadlinePassed)
	ErrLoserWindowClosed  = fmt.Errorf("%w: foreign: losing side's half of the appeal period is over", protocol.ErrDeadlinePassed)
	ErrUnknownDispute     = fmt.Errorf("%w: foreign: dispute not owned by caller", protocol.ErrUnauthorized)
	ErrUnknownArbitration = fmt.Errorf("%w: foreign: arbitration", protocol.ErrNotFound)
	ErrUnknownRound       = fmt.Errorf("%w: foreign: round", protocol.ErrNotFound)
	ErrMissingParams      = fmt.Errorf("%w: foreign: dispute params", protocol.ErrNotFound)
	ErrNotGovernor        = fmt.Errorf("%w: foreign: governor only", protocol.ErrUnauthorized)
	ErrUnknownKind        = fmt.Errorf("%w: foreign: unexpected relay message", protocol.ErrUnauthorized)
)

type Status string

const (
	StatusNone           Status = "none"
	StatusRequested      Status = "requested"
	StatusDepositPending Status = "deposit_pending"
	StatusOngoing        Status = "ongoing"
	StatusRuled          Status = "ruled"
	// StatusFailed is reported when dispute creation fails; the arbitration
	// is reset right away, so it is never stored.
	StatusFailed Status = "failed"
)

// Arbitration is the escrow and lifecycle of one (application, item) pair.
type Arbitration struct {
	ID                  common.Hash     `json:"id"`
	Application         common.Address  `json:"application"`
	ItemID              uint64          `json:"item_id"`
	Status              Status          `json:"status"`
	Plaintiff           common.Address  `json:"plaintiff"`
	Defendant           common.Address  `json:"defendant"`
	Params              registry.Params `json:"params"`
	Cycle               uint64          `json:"cycle"`
	RequestedAt         time.Time       `json:"requested_at"`
	AcceptedAt          time.Time       `json:"accepted_at"`
	Arbitrator          common.Address  `json:"arbitrator"`
	ArbitratorDisputeID uint64          `json:"arbitrator_dispute_id"`
	Ruling              protocol.Party  `json:"ruling"`
	Rounds              []*ledger.Round `json:"rounds"`
}

func (a *Arbitration) lastRound() *ledger.Round {
	return a.Rounds[len(a.Rounds)-1]
}

// Multipliers are appeal stake surcharges in basis points of the appeal cost.
type Multipliers struct {
	Shared uint64 `json:"shared"`
	Winner uint64 `json:"winner"`
	Loser  uint64 `json:"loser"`
}

// Parameters can be changed by the governor after deployment.
type Parameters struct {
	FeeDepositTimeout time.Duration `json:"fee_deposit_timeout"`
	Multipliers       Multipliers   `json:"multipliers"`
}

type Config struct {
	Self     protocol.Endpoint
	Governor common.Address
	GasLimit uint64
	Parameters
}

// Arbitrator is the external arbitration service. Implementations must not
// call back into the proxy while one of these methods is running.
type Arbitrator interface {
	Address() common.Address
	ArbitrationCost(ctx context.Context, extraData []byte) (*big.Int, error)
	CreateDispute(ctx context.Context, choices uint64, extraData []byte, value *big.Int) (uint64, error)
	AppealCost(ctx context.Context, disputeID uint64, extraData []byte) (*big.Int, error)
	Appeal(ctx context.Context, disputeID uint64, extraData []byte, value *big.Int) error
	CurrentRuling(ctx context.Context, disputeID uint64) (protocol.Party, error)
	AppealPeriod(ctx context.Context, disputeID uint64) (time.Time, time.Time, error)
}

// AppealFee describes what a side still has to pay in the current round.
type AppealFee struct {
	Party      protocol.Party `json:"party"`
	AppealCost *big.Int       `json:"appeal_cost"`
	Multiplier uint64         `json:"multiplier"`
	Required   *big.Int       `json:"required"`
	Paid       *big.Int       `json:"paid"`
	FullyPaid  bool           `json:"fully_paid"`
	Deadline   time.Time      `json:"deadline"`
}

// disputable is the latest listing relayed for an item. Cycle grows with
// every listing on the home chain; Closed is set once the request it let
// through was reset.
type disputable struct {
	Cycle    uint64 `json:"cycle"`
	Deadline int64  `json:"deadline"`
	Closed   bool   `json:"closed,omitempty"`
}

func (d disputable) open() bool {
	return d.Cycle > 0 && !d.Closed
}
